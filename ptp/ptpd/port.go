/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

/*
Package ptpd implements an IEEE 1588-2008 ordinary clock with a single port.

The Port owns everything: datasets, foreign master table, timers, delay
measurements and the clock servo. It is driven by a single goroutine calling
RunOnce (or Run), which fires due timers, polls the Transport and runs the
handler of the current state for every event.
*/
package ptpd

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	log "github.com/sirupsen/logrus"

	"github.com/ordinaryclock/ptpd/ptp/bmc"
	ptp "github.com/ordinaryclock/ptpd/ptp/protocol"
	"github.com/ordinaryclock/ptpd/ptp/ptpd/stats"
	"github.com/ordinaryclock/ptpd/servo"
)

// runOnceTimeout is the longest Run waits for a packet between checks of the context
const runOnceTimeout = 100 * time.Millisecond

// maxDrain is how many ready packets are processed in one iteration after the first one
const maxDrain = 16

// Status is a snapshot of the port state
type Status struct {
	State               string        `json:"state"`
	PortIdentity        string        `json:"port_identity"`
	ParentPortIdentity  string        `json:"parent_port_identity"`
	GrandmasterIdentity string        `json:"grandmaster_identity"`
	StepsRemoved        uint16        `json:"steps_removed"`
	MeanPathDelay       time.Duration `json:"mean_path_delay"`
	OffsetFromMaster    time.Duration `json:"offset_from_master"`
	ObservedDrift       float64       `json:"observed_drift"`
	ServoState          string        `json:"servo_state"`
	DelayMechanism      string        `json:"delay_mechanism"`
}

// Option customizes the Port
type Option func(*Port)

// WithClock makes the port run its timers off clk
func WithClock(clk clock.Clock) Option {
	return func(p *Port) {
		p.clk = clk
	}
}

// WithStats makes the port report its counters to s
func WithStats(s StatsServer) Option {
	return func(p *Port) {
		p.stats = s
	}
}

// Port is a PTP ordinary clock port
type Port struct {
	cfg   *Config
	ts    TimeSource
	tr    Transport
	clk   clock.Clock
	stats StatsServer

	portIdentity ptp.PortIdentity
	state        ptp.PortState
	handlers     map[ptp.PortState]*stateHandler

	datasets
	// parent is the port we synchronize to, nil unless UNCALIBRATED or SLAVE
	parent  *ptp.PortIdentity
	foreign *bmc.ForeignMasterTable
	servo   *servo.PiServo
	meas    *measurements
	timers  *timers
	backoff *faultBackoff

	announceSeq  uint16
	syncSeq      uint16
	delayReqSeq  uint16
	pdelayReqSeq uint16

	transportErrors int
	delayValid      bool
	peerDelay       time.Duration
	peerDelayValid  bool
	// offset computed in UNCALIBRATED, applied on entering SLAVE
	pending    time.Duration
	hasPending bool

	startReq atomic.Bool
	stopReq  atomic.Bool

	statusMu sync.Mutex
	status   Status
}

// NewPort creates the port of the clock with given identity and runs it through INITIALIZING
func NewPort(cfg *Config, clockID ptp.ClockIdentity, ts TimeSource, tr Transport, opts ...Option) (*Port, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	p := &Port{
		cfg:          cfg,
		ts:           ts,
		tr:           tr,
		clk:          clock.New(),
		portIdentity: ptp.PortIdentity{ClockIdentity: clockID, PortNumber: 1},
		backoff:      newFaultBackoff(cfg.Backoff),
		meas:         newMeasurements(cfg.InboundLatency, cfg.OutboundLatency),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.stats == nil {
		p.stats = NewStats()
	}
	p.timers = newTimers(p.clk)
	p.handlers = newHandlers()
	p.foreign = bmc.NewForeignMasterTable(cfg.MaxForeignRecords, cfg.ForeignMasterThreshold, cfg.announceReceiptTimeout())
	p.defaultDS = newDefaultDS(cfg, p.portIdentity)
	p.servo = newServo(cfg, ts)

	p.changeState(ptp.PortStateInitializing)
	p.updateStatus()
	return p, nil
}

func newServo(cfg *Config, ts TimeSource) *servo.PiServo {
	sc := servo.DefaultServoConfig()
	sc.StepThreshold = cfg.Servo.StepThreshold.Nanoseconds()
	sc.FirstStepThreshold = cfg.Servo.FirstStepThreshold.Nanoseconds()
	pi := servo.NewPiServo(sc, &servo.PiServoCfg{
		Ap:           cfg.Servo.Ap,
		Ai:           cfg.Servo.Ai,
		SDelay:       cfg.Servo.SDelay,
		SOffset:      cfg.Servo.SOffset,
		NoResetClock: cfg.Servo.NoResetClock,
	}, 0)
	maxFreq := cfg.Servo.MaxFreqPPB
	if maxFreq == 0 {
		maxFreq = ts.MaxFreqPPB()
	}
	pi.SetMaxFreq(maxFreq)
	if cfg.Servo.SpikeFilter {
		servo.NewPiServoFilter(pi, servo.DefaultPiServoFilterCfg())
	}
	return pi
}

// PortIdentity returns identity of the port
func (p *Port) PortIdentity() ptp.PortIdentity {
	return p.portIdentity
}

// Start requests DISABLED port to reinitialize. Safe to call from any goroutine.
func (p *Port) Start() {
	p.startReq.Store(true)
}

// Stop requests the port to go DISABLED. Safe to call from any goroutine.
func (p *Port) Stop() {
	p.stopReq.Store(true)
}

// Status returns the snapshot taken at the end of the last iteration. Safe to call from any goroutine.
func (p *Port) Status() Status {
	p.statusMu.Lock()
	defer p.statusMu.Unlock()
	return p.status
}

// Stats returns all the counters reported by the port
func (p *Port) Stats() map[string]int64 {
	return p.stats.GetCounters()
}

// Run runs the port until ctx is cancelled
func (p *Port) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			log.Debug("cancelled port loop")
			return ctx.Err()
		default:
		}
		p.RunOnce(runOnceTimeout)
	}
}

// RunOnce runs one iteration of the event loop: fires due timers,
// waits up to timeout for a packet and processes all packets ready
func (p *Port) RunOnce(timeout time.Duration) {
	if p.stopReq.Swap(false) {
		p.changeState(ptp.PortStateDisabled)
	}
	if p.startReq.Swap(false) && p.state == ptp.PortStateDisabled {
		p.changeState(ptp.PortStateInitializing)
	}

	for i := 0; i < int(timerCount); i++ {
		id, ok := p.timers.expired(p.clk.Now())
		if !ok {
			break
		}
		p.dispatchTimer(id)
	}

	wait := timeout
	if next, ok := p.timers.next(); ok {
		if d := next.Sub(p.clk.Now()); d < wait {
			wait = d
		}
	}
	if wait < 0 {
		wait = 0
	}
	got := p.receive(wait)
	for i := 0; got && i < maxDrain; i++ {
		got = p.receive(0)
	}
	p.updateStatus()
}

// State returns current port state. Only safe from the goroutine running the port.
func (p *Port) State() ptp.PortState {
	return p.state
}

// changeState runs entry actions until the state settles
func (p *Port) changeState(next ptp.PortState) {
	for next != p.state {
		if p.state == 0 {
			log.Infof("port %s starts in %s", p.portIdentity, next)
		} else {
			log.Infof("port state %s -> %s", p.state, next)
		}
		p.state = next
		p.timers.stopAll()
		p.stats.UpdateCounterBy(stats.StateChanges, 1)
		p.stats.SetCounter(stats.PortState, int64(next))
		next = p.handlers[next].enter(p)
	}
}

func (p *Port) dispatchTimer(id timerID) {
	h := p.handlers[p.state]
	if h.timer == nil {
		log.Debugf("timer %s ignored in %s", id, p.state)
		return
	}
	p.changeState(h.timer(p, id))
}

// receive polls the transport once, returns true if a packet was processed
func (p *Port) receive(wait time.Duration) bool {
	pkt, err := p.tr.Poll(wait)
	if err != nil {
		p.changeState(p.fault(&TransportError{Op: "poll", Err: err}))
		return false
	}
	if pkt == nil {
		return false
	}
	p.transportErrors = 0
	p.handlePacket(pkt)
	return true
}

// fault classifies err and returns the state the port should move to.
// DISABLED is left only by Start, so errors there are logged and nothing else.
func (p *Port) fault(err error) ptp.PortState {
	if p.state == ptp.PortStateDisabled {
		log.Debugf("port is disabled, ignoring: %v", err)
		return p.state
	}
	var clockErr *ClockAccessError
	var trErr *TransportError
	switch {
	case errors.As(err, &clockErr):
		log.Errorf("%v", err)
		p.stats.UpdateCounterBy(stats.ClockErrors, 1)
		return ptp.PortStateFaulty
	case errors.As(err, &trErr):
		p.transportErrors++
		p.stats.UpdateCounterBy(stats.TransportErrors, 1)
		if p.transportErrors > p.cfg.MaxTransportErrors {
			log.Errorf("%v, %d consecutive transport errors", err, p.transportErrors)
			return ptp.PortStateFaulty
		}
		log.Warningf("%v", err)
		return p.state
	}
	log.Errorf("unexpected error: %v", err)
	return p.state
}

// applySample feeds the servo with an offset from master and adjusts the clock
func (p *Port) applySample(offset time.Duration) error {
	p.current.OffsetFromMaster = offset
	freqAdj, state := p.servo.Sample(offset.Nanoseconds())
	p.stats.SetCounter(stats.ServoState, int64(state))
	p.stats.SetCounter(stats.OffsetFromMasterNS, p.servo.LastOffset())
	p.stats.SetCounter(stats.ObservedDriftPPB, int64(p.servo.ObservedDrift()))
	p.stats.SetCounter(stats.ServoSpikes, int64(p.servo.SkippedCount()))
	delay, _ := p.pathDelay()
	log.Infof("offset %10d servo %s freq %+7.0f path delay %10d", offset.Nanoseconds(), state, -freqAdj, delay.Nanoseconds())

	switch state {
	case servo.StateJump:
		if p.cfg.Servo.NoAdjust {
			return nil
		}
		log.Infof("stepping clock by %v", -offset)
		if err := p.ts.Step(ptp.TimeInternalFromDuration(-offset)); err != nil {
			return &ClockAccessError{Op: "step", Err: err}
		}
		p.stats.UpdateCounterBy(stats.ClockSteps, 1)
		p.meas.reset()
	case servo.StateLocked, servo.StateFilter:
		if p.cfg.Servo.NoAdjust {
			return nil
		}
		clamped, err := p.ts.AdjFreqPPB(-freqAdj)
		if err != nil {
			return &ClockAccessError{Op: "adjust frequency", Err: err}
		}
		if clamped {
			log.Warningf("frequency adjustment %+.0f ppb was clamped", -freqAdj)
			p.stats.UpdateCounterBy(stats.ClockFreqClamped, 1)
		}
	}
	return nil
}

// updateStatus refreshes the snapshot returned by Status
func (p *Port) updateStatus() {
	delay, _ := p.pathDelay()
	s := Status{
		State:            p.state.String(),
		PortIdentity:     p.portIdentity.String(),
		StepsRemoved:     p.current.StepsRemoved,
		MeanPathDelay:    delay,
		OffsetFromMaster: p.current.OffsetFromMaster,
		ObservedDrift:    p.servo.ObservedDrift(),
		ServoState:       p.servo.State().String(),
		DelayMechanism:   p.cfg.DelayMechanism.String(),
	}
	if p.state != ptp.PortStateInitializing && p.state != ptp.PortStateFaulty && p.state != ptp.PortStateDisabled {
		s.ParentPortIdentity = p.parentDS.ParentPortIdentity.String()
		s.GrandmasterIdentity = p.parentDS.GrandmasterIdentity.String()
	}
	p.stats.SetCounter(stats.MeanPathDelayNS, delay.Nanoseconds())
	p.stats.SetCounter(stats.ForeignMasters, int64(p.foreign.Len()))
	p.stats.SetCounter(stats.QualifiedForeignMasters, int64(len(p.foreign.Qualified(p.clk.Now()))))

	p.statusMu.Lock()
	p.status = s
	p.statusMu.Unlock()
}
