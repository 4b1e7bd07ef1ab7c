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

package ptpd

import (
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ordinaryclock/ptpd/ptp/bmc"
	ptp "github.com/ordinaryclock/ptpd/ptp/protocol"
	"github.com/ordinaryclock/ptpd/ptp/ptpd/stats"
)

// stateHandler is what the port does in a state. Every function returns the next state,
// returning the current state means staying in it. Nil timer or message means the event is ignored.
type stateHandler struct {
	enter   func(p *Port) ptp.PortState
	timer   func(p *Port, id timerID) ptp.PortState
	message func(p *Port, msg ptp.Packet, rx ptp.TimeInternal) ptp.PortState
}

func newHandlers() map[ptp.PortState]*stateHandler {
	return map[ptp.PortState]*stateHandler{
		ptp.PortStateInitializing: {
			enter: (*Port).enterInitializing,
		},
		ptp.PortStateFaulty: {
			enter: (*Port).enterFaulty,
			timer: (*Port).timerFaulty,
		},
		ptp.PortStateDisabled: {
			enter: (*Port).enterDisabled,
		},
		ptp.PortStateListening: {
			enter:   (*Port).enterListening,
			timer:   (*Port).timerListening,
			message: (*Port).messageListening,
		},
		ptp.PortStatePreMaster: {
			enter:   (*Port).enterPreMaster,
			timer:   (*Port).timerPreMaster,
			message: (*Port).messageMaster,
		},
		ptp.PortStateMaster: {
			enter:   (*Port).enterMaster,
			timer:   (*Port).timerMaster,
			message: (*Port).messageMaster,
		},
		ptp.PortStatePassive: {
			enter:   (*Port).enterPassive,
			timer:   (*Port).timerPassive,
			message: (*Port).messageListening,
		},
		ptp.PortStateUncalibrated: {
			enter:   (*Port).enterUncalibrated,
			timer:   (*Port).timerSlave,
			message: (*Port).messageSlave,
		},
		ptp.PortStateSlave: {
			enter:   (*Port).enterSlave,
			timer:   (*Port).timerSlave,
			message: (*Port).messageSlave,
		},
	}
}

func (p *Port) isParent(id ptp.PortIdentity) bool {
	return p.parent != nil && *p.parent == id
}

func (p *Port) startAnnounceReceipt() {
	p.timers.start(timerAnnounceReceipt, p.cfg.announceReceiptTimeout())
}

func (p *Port) startPDelay() {
	if p.cfg.DelayMechanism == ptp.DelayMechanismP2P {
		p.timers.start(timerPDelayReqInterval, p.cfg.LogMinPDelayReqInterval.Duration())
	}
}

// startDelayReq arms Delay_Req timer randomly within twice the minimal interval
func (p *Port) startDelayReq() {
	if p.cfg.DelayMechanism != ptp.DelayMechanismE2E {
		return
	}
	p.timers.start(timerDelayReqInterval, p.jitter(2*p.cfg.LogMinDelayReqInterval.Duration()))
}

// jitter returns random duration within [0, d) with millisecond resolution
func (p *Port) jitter(d time.Duration) time.Duration {
	ms := d.Milliseconds()
	if ms <= 0 {
		return 0
	}
	return time.Duration(p.ts.Random(uint32(ms))) * time.Millisecond
}

func (p *Port) enterInitializing() ptp.PortState {
	if _, err := p.ts.Now(); err != nil {
		return p.fault(&ClockAccessError{Op: "read", Err: err})
	}
	p.servo.Reset()
	p.meas.reset()
	p.foreign.Clear()
	p.foreign.SetWindow(p.cfg.announceReceiptTimeout())
	p.parent = nil
	p.hasPending = false
	p.delayValid = false
	p.peerDelayValid = false
	p.peerDelay = 0
	p.transportErrors = 0
	p.defaultDS = newDefaultDS(p.cfg, p.portIdentity)
	p.updateMaster(p.cfg)
	return ptp.PortStateListening
}

func (p *Port) enterFaulty() ptp.PortState {
	p.transportErrors = 0
	wait := p.backoff.wait()
	log.Warningf("port is faulty, reinitializing in %v", wait)
	p.timers.start(timerFaultRecovery, wait)
	return ptp.PortStateFaulty
}

func (p *Port) timerFaulty(id timerID) ptp.PortState {
	if id != timerFaultRecovery {
		return p.state
	}
	return ptp.PortStateInitializing
}

func (p *Port) enterDisabled() ptp.PortState {
	p.parent = nil
	return ptp.PortStateDisabled
}

func (p *Port) enterListening() ptp.PortState {
	p.parent = nil
	p.updateMaster(p.cfg)
	p.startAnnounceReceipt()
	p.startPDelay()
	return ptp.PortStateListening
}

func (p *Port) timerListening(id timerID) ptp.PortState {
	switch id {
	case timerAnnounceReceipt:
		p.startAnnounceReceipt()
		p.stats.UpdateCounterBy(stats.AnnounceTimeouts, 1)
		now := p.clk.Now()
		p.foreign.Sweep(now)
		if len(p.foreign.Qualified(now)) > 0 {
			return p.runBMC()
		}
		if p.cfg.SlaveOnly {
			log.Debug("no qualified master, waiting")
			return p.state
		}
		log.Info("no qualified master, assuming master role")
		return ptp.PortStateMaster
	case timerPDelayReqInterval:
		return p.pdelayTimer()
	}
	return p.state
}

// messageListening serves LISTENING and PASSIVE, where we only watch masters
func (p *Port) messageListening(msg ptp.Packet, rx ptp.TimeInternal) ptp.PortState {
	if next, ok := p.commonMessage(msg, rx); ok {
		return next
	}
	return p.state
}

func (p *Port) enterPreMaster() ptp.PortState {
	qualification := time.Duration(p.current.StepsRemoved+1) * p.cfg.LogAnnounceInterval.Duration()
	p.parent = nil
	p.updateMaster(p.cfg)
	p.timers.start(timerQualification, qualification)
	p.startPDelay()
	return ptp.PortStatePreMaster
}

func (p *Port) timerPreMaster(id timerID) ptp.PortState {
	switch id {
	case timerQualification:
		return ptp.PortStateMaster
	case timerPDelayReqInterval:
		return p.pdelayTimer()
	}
	return p.state
}

func (p *Port) enterMaster() ptp.PortState {
	p.parent = nil
	p.updateMaster(p.cfg)
	p.backoff.reset()
	p.timers.start(timerAnnounceInterval, p.jitter(p.cfg.LogAnnounceInterval.Duration()))
	p.timers.start(timerSyncInterval, p.jitter(p.cfg.LogSyncInterval.Duration()))
	p.startPDelay()
	return ptp.PortStateMaster
}

func (p *Port) timerMaster(id timerID) ptp.PortState {
	var err error
	switch id {
	case timerAnnounceInterval:
		p.timers.start(timerAnnounceInterval, p.cfg.LogAnnounceInterval.Duration())
		err = p.sendAnnounce()
	case timerSyncInterval:
		p.timers.start(timerSyncInterval, p.cfg.LogSyncInterval.Duration())
		err = p.sendSync()
	case timerPDelayReqInterval:
		return p.pdelayTimer()
	}
	if err != nil {
		return p.fault(err)
	}
	return p.state
}

// messageMaster serves MASTER and PRE_MASTER
func (p *Port) messageMaster(msg ptp.Packet, rx ptp.TimeInternal) ptp.PortState {
	if next, ok := p.commonMessage(msg, rx); ok {
		return next
	}
	if req, ok := msg.(*ptp.SyncDelayReq); ok && req.MessageType() == ptp.MessageDelayReq {
		if p.cfg.DelayMechanism != ptp.DelayMechanismE2E {
			return p.state
		}
		if err := p.sendDelayResp(req, rx); err != nil {
			return p.fault(err)
		}
	}
	return p.state
}

func (p *Port) enterPassive() ptp.PortState {
	p.parent = nil
	p.startAnnounceReceipt()
	p.startPDelay()
	return ptp.PortStatePassive
}

func (p *Port) timerPassive(id timerID) ptp.PortState {
	switch id {
	case timerAnnounceReceipt:
		p.startAnnounceReceipt()
		p.stats.UpdateCounterBy(stats.AnnounceTimeouts, 1)
		p.foreign.Sweep(p.clk.Now())
		return p.runBMC()
	case timerPDelayReqInterval:
		return p.pdelayTimer()
	}
	return p.state
}

func (p *Port) enterUncalibrated() ptp.PortState {
	p.meas.reset()
	p.hasPending = false
	p.delayValid = false
	p.startAnnounceReceipt()
	p.timers.start(timerSyncReceipt, p.cfg.syncReceiptTimeout())
	p.startDelayReq()
	p.startPDelay()
	return ptp.PortStateUncalibrated
}

func (p *Port) enterSlave() ptp.PortState {
	p.servo.Reset()
	p.backoff.reset()
	p.startAnnounceReceipt()
	p.timers.start(timerSyncReceipt, p.cfg.syncReceiptTimeout())
	p.startDelayReq()
	p.startPDelay()
	if p.hasPending {
		p.hasPending = false
		if err := p.applySample(p.pending); err != nil {
			return p.fault(err)
		}
	}
	return ptp.PortStateSlave
}

// timerSlave serves UNCALIBRATED and SLAVE
func (p *Port) timerSlave(id timerID) ptp.PortState {
	switch id {
	case timerAnnounceReceipt:
		p.stats.UpdateCounterBy(stats.AnnounceTimeouts, 1)
		now := p.clk.Now()
		if p.parent != nil {
			log.Warningf("announce receipt timeout, lost parent %s", p.parent)
			p.foreign.Remove(*p.parent)
			p.parent = nil
		}
		p.foreign.Sweep(now)
		if len(p.foreign.Qualified(now)) == 0 {
			return ptp.PortStateListening
		}
		next := p.runBMC()
		if next == p.state {
			p.startAnnounceReceipt()
		}
		return next
	case timerSyncReceipt:
		p.timers.start(timerSyncReceipt, p.cfg.syncReceiptTimeout())
		p.stats.UpdateCounterBy(stats.SyncTimeouts, 1)
		log.Warningf("no Sync from parent for %v, holding frequency", p.cfg.syncReceiptTimeout())
	case timerDelayReqInterval:
		p.startDelayReq()
		if err := p.sendDelayReq(); err != nil {
			return p.fault(err)
		}
	case timerPDelayReqInterval:
		return p.pdelayTimer()
	}
	return p.state
}

// messageSlave serves UNCALIBRATED and SLAVE
func (p *Port) messageSlave(msg ptp.Packet, rx ptp.TimeInternal) ptp.PortState {
	if next, ok := p.commonMessage(msg, rx); ok {
		return next
	}
	switch v := msg.(type) {
	case *ptp.SyncDelayReq:
		if v.MessageType() != ptp.MessageSync {
			return p.state
		}
		if !p.fromParent(v.Head()) {
			return p.state
		}
		p.timers.start(timerSyncReceipt, p.cfg.syncReceiptTimeout())
		if p.meas.addSync(v, rx) {
			return p.onSync()
		}
	case *ptp.FollowUp:
		if !p.fromParent(v.Head()) {
			return p.state
		}
		if err := p.meas.addFollowUp(v); err != nil {
			p.stale(err)
			return p.state
		}
		return p.onSync()
	case *ptp.DelayResp:
		if !p.fromParent(v.Head()) || p.cfg.DelayMechanism != ptp.DelayMechanismE2E {
			return p.state
		}
		return p.onDelayResp(v)
	}
	return p.state
}

func (p *Port) fromParent(h *ptp.Header) bool {
	if p.isParent(h.SourcePortIdentity) {
		return true
	}
	log.Debugf("ignoring %s from %s, not our parent", h.MessageType(), h.SourcePortIdentity)
	p.stats.UpdateCounterBy(stats.RxForeign, 1)
	return false
}

// stale drops a sample which can't be used, counting mismatched and out of range ones
func (p *Port) stale(err error) {
	if errors.Is(err, ErrStaleExchange) || errors.Is(err, ptp.ErrOutOfRange) {
		log.Warningf("%v", err)
		p.stats.UpdateCounterBy(stats.RxStale, 1)
		return
	}
	log.Debugf("%v", err)
}

// pathDelay returns current delay estimate to the master and whether it's usable
func (p *Port) pathDelay() (time.Duration, bool) {
	switch p.cfg.DelayMechanism {
	case ptp.DelayMechanismE2E:
		return p.current.MeanPathDelay, p.delayValid
	case ptp.DelayMechanismP2P:
		return p.peerDelay, p.peerDelayValid
	}
	return 0, true
}

// onSync processes the latest complete Sync
func (p *Port) onSync() ptp.PortState {
	delay, ok := p.pathDelay()
	if !ok {
		return p.state
	}
	offset, err := p.meas.offset(delay)
	if err != nil {
		p.stale(err)
		return p.state
	}
	return p.newOffset(offset)
}

// newOffset feeds offset to the servo in SLAVE, and gets us there from UNCALIBRATED
func (p *Port) newOffset(offset time.Duration) ptp.PortState {
	if p.state == ptp.PortStateUncalibrated {
		p.pending = offset
		p.hasPending = true
		return ptp.PortStateSlave
	}
	if err := p.applySample(offset); err != nil {
		return p.fault(err)
	}
	return p.state
}

func (p *Port) onDelayResp(r *ptp.DelayResp) ptp.PortState {
	sample, err := p.meas.addDelayResp(r, p.portIdentity)
	if err != nil {
		p.stale(err)
		return p.state
	}
	delay := time.Duration(p.servo.FilterDelay(sample.Delay.Nanoseconds()))
	if delay < 0 {
		log.Warningf("negative mean path delay %v", delay)
	}
	p.current.MeanPathDelay = delay
	p.delayValid = true
	if p.state != ptp.PortStateUncalibrated {
		return p.state
	}
	offset, err := p.meas.offset(delay)
	if err != nil {
		p.stale(err)
		return p.state
	}
	return p.newOffset(offset)
}

// commonMessage handles what every operational state handles the same way.
// Returns false if the message is left to the state.
func (p *Port) commonMessage(msg ptp.Packet, rx ptp.TimeInternal) (ptp.PortState, bool) {
	switch v := msg.(type) {
	case *ptp.Announce:
		return p.onAnnounce(v), true
	case *ptp.PDelayReq:
		if p.cfg.DelayMechanism != ptp.DelayMechanismP2P {
			return p.state, true
		}
		if err := p.sendPDelayResp(v, rx); err != nil {
			return p.fault(err), true
		}
		return p.state, true
	case *ptp.PDelayResp:
		if p.cfg.DelayMechanism != ptp.DelayMechanismP2P {
			return p.state, true
		}
		complete, err := p.meas.addPDelayResp(v, p.portIdentity, rx)
		if err != nil {
			p.stale(err)
			return p.state, true
		}
		if complete {
			p.onPeerDelay()
		}
		return p.state, true
	case *ptp.PDelayRespFollowUp:
		if p.cfg.DelayMechanism != ptp.DelayMechanismP2P {
			return p.state, true
		}
		if err := p.meas.addPDelayRespFollowUp(v, p.portIdentity); err != nil {
			p.stale(err)
			return p.state, true
		}
		p.onPeerDelay()
		return p.state, true
	}
	return p.state, false
}

func (p *Port) onPeerDelay() {
	d, err := p.meas.peerDelay()
	if err != nil {
		p.stale(err)
		return
	}
	p.peerDelay = time.Duration(p.servo.FilterDelay(d.Nanoseconds()))
	p.peerDelayValid = true
	log.Debugf("peer delay %v", p.peerDelay)
}

func (p *Port) pdelayTimer() ptp.PortState {
	p.timers.start(timerPDelayReqInterval, p.cfg.LogMinPDelayReqInterval.Duration())
	if err := p.sendPDelayReq(); err != nil {
		return p.fault(err)
	}
	return p.state
}

// onAnnounce records the Announce and reruns the BMC
func (p *Port) onAnnounce(a *ptp.Announce) ptp.PortState {
	now := p.clk.Now()
	p.foreign.Observe(a, p.portIdentity, now)
	if p.isParent(a.SourcePortIdentity) || p.state == ptp.PortStateListening || p.state == ptp.PortStatePassive {
		p.startAnnounceReceipt()
	}
	if len(p.foreign.Qualified(now)) == 0 {
		return p.state
	}
	return p.runBMC()
}

// runBMC runs the state decision over qualified foreign masters and maps the recommendation to a state
func (p *Port) runBMC() ptp.PortState {
	rec := bmc.StateDecision(p.defaultDS, p.foreign.Qualified(p.clk.Now()), p.cfg.SlaveOnly)
	switch rec.Role {
	case bmc.RoleMaster:
		if p.state == ptp.PortStateMaster || p.state == ptp.PortStatePreMaster {
			return p.state
		}
		return ptp.PortStatePreMaster
	case bmc.RolePassive:
		return ptp.PortStatePassive
	case bmc.RoleSlave:
		return p.follow(rec.Best)
	}
	return p.state
}

// follow makes best our parent
func (p *Port) follow(best *bmc.ForeignRecord) ptp.PortState {
	same := p.isParent(best.Sender)
	sender := best.Sender
	p.parent = &sender
	p.updateSlave(&best.Announce)
	if same && (p.state == ptp.PortStateSlave || p.state == ptp.PortStateUncalibrated) {
		return p.state
	}
	log.Infof("new parent %s, grandmaster %s", best.Sender, best.Announce.GrandmasterIdentity)
	if p.state == ptp.PortStateUncalibrated {
		p.meas.reset()
		p.hasPending = false
		p.delayValid = false
		p.startAnnounceReceipt()
		return p.state
	}
	return ptp.PortStateUncalibrated
}
