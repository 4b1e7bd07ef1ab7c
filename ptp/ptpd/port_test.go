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
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	log "github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
	gomock "go.uber.org/mock/gomock"

	ptp "github.com/ordinaryclock/ptpd/ptp/protocol"
	"github.com/ordinaryclock/ptpd/ptp/ptpd/stats"
	"github.com/ordinaryclock/ptpd/servo"
)

// harness drives a Port over mocked clock and transport
type harness struct {
	t     *testing.T
	clk   *clock.Mock
	ts    *MockTimeSource
	tr    *MockTransport
	stats *Stats
	port  *Port

	inbox   []*Packet
	sent    []ptp.Packet
	lastTX  ptp.TimeInternal
	nowErr  error
	pollErr error
}

func newHarness(t *testing.T, cfg *Config) *harness {
	ctrl := gomock.NewController(t)
	h := &harness{
		t:     t,
		clk:   clock.NewMock(),
		ts:    NewMockTimeSource(ctrl),
		tr:    NewMockTransport(ctrl),
		stats: NewStats(),
	}
	// zero timestamps mean absent, keep away from the epoch
	h.clk.Set(time.Unix(1700000000, 0))

	h.ts.EXPECT().MaxFreqPPB().Return(500000.0).AnyTimes()
	h.ts.EXPECT().Random(gomock.Any()).Return(uint32(0)).AnyTimes()
	h.ts.EXPECT().Now().DoAndReturn(func() (ptp.TimeInternal, error) {
		if h.nowErr != nil {
			return ptp.TimeInternal{}, h.nowErr
		}
		return ptp.TimeInternalFromTime(h.clk.Now()), nil
	}).AnyTimes()
	h.tr.EXPECT().Poll(gomock.Any()).DoAndReturn(func(_ time.Duration) (*Packet, error) {
		if h.pollErr != nil {
			return nil, h.pollErr
		}
		if len(h.inbox) == 0 {
			return nil, nil
		}
		pkt := h.inbox[0]
		h.inbox = h.inbox[1:]
		return pkt, nil
	}).AnyTimes()
	h.tr.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(func(ch Channel, b []byte) (ptp.TimeInternal, error) {
		msg, err := ptp.DecodePacket(b)
		require.NoError(t, err)
		require.Equal(t, ChannelFor(msg.MessageType()), ch)
		h.sent = append(h.sent, msg)
		h.lastTX = ptp.TimeInternalFromTime(h.clk.Now())
		return h.lastTX, nil
	}).AnyTimes()

	var err error
	h.port, err = NewPort(cfg, testSlave.ClockIdentity, h.ts, h.tr, WithClock(h.clk), WithStats(h.stats))
	require.NoError(t, err)
	return h
}

// deliver queues msg as if it was received at rx
func (h *harness) deliver(msg ptp.Packet, rx ptp.TimeInternal) {
	b, err := ptp.Bytes(msg)
	require.NoError(h.t, err)
	h.inbox = append(h.inbox, &Packet{Channel: ChannelFor(msg.MessageType()), Data: b, RXTimestamp: rx})
}

func (h *harness) now() ptp.TimeInternal {
	return ptp.TimeInternalFromTime(h.clk.Now())
}

// advance moves the clock and runs one iteration
func (h *harness) advance(d time.Duration) {
	h.clk.Add(d)
	h.port.RunOnce(0)
}

func (h *harness) sentTypes() []ptp.MessageType {
	res := []ptp.MessageType{}
	for _, m := range h.sent {
		res = append(res, m.MessageType())
	}
	return res
}

func (h *harness) counter(key string) int64 {
	return h.stats.GetCounters()[key]
}

func announce(seq uint16, from ptp.PortIdentity, class ptp.ClockClass, priority1 uint8) *ptp.Announce {
	a := &ptp.Announce{
		Header: ptp.NewHeader(ptp.MessageAnnounce, 0, from, 1),
		AnnounceBody: ptp.AnnounceBody{
			CurrentUTCOffset:     37,
			GrandmasterPriority1: priority1,
			GrandmasterClockQuality: ptp.ClockQuality{
				ClockClass:              class,
				ClockAccuracy:           ptp.ClockAccuracyNanosecond100,
				OffsetScaledLogVariance: 0x4e5d,
			},
			GrandmasterPriority2: 128,
			GrandmasterIdentity:  from.ClockIdentity,
			TimeSource:           ptp.TimeSourceGNSS,
		},
	}
	a.SequenceID = seq
	return a
}

// qualify makes testMaster a qualified foreign master
func (h *harness) qualify(class ptp.ClockClass, priority1 uint8) {
	h.deliver(announce(0, testMaster, class, priority1), h.now())
	h.deliver(announce(1, testMaster, class, priority1), h.now())
	h.port.RunOnce(0)
}

// syncTo runs two-step Sync and Delay_Req exchanges where the slave is offset from the master over a symmetric 50.2us path
func (h *harness) syncTo(seq uint16, offset time.Duration) {
	const delay = 50200 * time.Nanosecond
	t1 := h.now()
	t2 := t1.Add(ptp.TimeInternalFromDuration(delay + offset))
	h.deliver(syncMsg(seq, true, ptp.TimeInternal{}), t2)
	h.deliver(followUp(seq, t1), ptp.TimeInternal{})
	h.port.RunOnce(0)

	// Delay_Req goes out when its timer fires
	h.sent = nil
	h.advance(time.Millisecond)
	require.Contains(h.t, h.sentTypes(), ptp.MessageDelayReq)
	var req ptp.Packet
	for _, m := range h.sent {
		if m.MessageType() == ptp.MessageDelayReq {
			req = m
		}
	}
	t4 := h.lastTX.Add(ptp.TimeInternalFromDuration(delay - offset))
	h.deliver(delayResp(req.Head().SequenceID, testSlave, t4), ptp.TimeInternal{})
	h.port.RunOnce(0)
}

func TestPortHandlersCoverAllStates(t *testing.T) {
	handlers := newHandlers()
	for _, s := range ptp.PortStates() {
		h, ok := handlers[s]
		require.True(t, ok, "no handler for %s", s)
		require.NotNil(t, h.enter, "no entry action for %s", s)
	}
}

func TestNewPortListening(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	require.Equal(t, ptp.PortStateListening, h.port.State())
	require.Equal(t, testSlave, h.port.PortIdentity())

	st := h.port.Status()
	require.Equal(t, "LISTENING", st.State)
	require.Equal(t, testSlave.String(), st.PortIdentity)
	require.Equal(t, "E2E", st.DelayMechanism)
	require.Equal(t, int64(ptp.PortStateListening), h.counter(stats.PortState))
}

func TestNewPortLogsInitialState(t *testing.T) {
	hook := logtest.NewGlobal()
	defer hook.Reset()
	level := log.GetLevel()
	defer log.SetLevel(level)
	log.SetLevel(log.InfoLevel)

	newHarness(t, DefaultConfig())
	var msgs []string
	for _, e := range hook.AllEntries() {
		msgs = append(msgs, e.Message)
	}
	require.Contains(t, msgs, "port "+testSlave.String()+" starts in INITIALIZING")
	require.Contains(t, msgs, "port state INITIALIZING -> LISTENING")
	for _, m := range msgs {
		require.NotContains(t, m, "UNKNOWN")
		require.NotContains(t, m, "UNSUPPORTED")
	}
}

func TestNewPortInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxForeignRecords = 0
	_, err := NewPort(cfg, testSlave.ClockIdentity, nil, nil)
	require.Error(t, err)
}

func TestPortBecomesMaster(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	h.advance(5 * time.Second)
	require.Equal(t, ptp.PortStateListening, h.port.State())

	h.advance(time.Second)
	require.Equal(t, ptp.PortStateMaster, h.port.State())
	require.Equal(t, int64(1), h.counter(stats.AnnounceTimeouts))

	h.advance(time.Millisecond)
	require.Equal(t, []ptp.MessageType{ptp.MessageAnnounce, ptp.MessageSync, ptp.MessageFollowUp}, h.sentTypes())

	a := h.sent[0].(*ptp.Announce)
	require.Equal(t, testSlave, a.SourcePortIdentity)
	require.Equal(t, testSlave.ClockIdentity, a.GrandmasterIdentity)
	require.Equal(t, uint8(128), a.GrandmasterPriority1)
	require.Equal(t, ptp.ClockClassDefault, a.GrandmasterClockQuality.ClockClass)
	require.Equal(t, uint16(0), a.StepsRemoved)

	s := h.sent[1].(*ptp.SyncDelayReq)
	require.NotZero(t, s.FlagField&ptp.FlagTwoStep)
	f := h.sent[2].(*ptp.FollowUp)
	require.Equal(t, s.SequenceID, f.SequenceID)
	require.Equal(t, h.now().Timestamp(), f.PreciseOriginTimestamp)

	// next Sync a second later has the next sequence id
	h.sent = nil
	h.advance(time.Second)
	require.Equal(t, []ptp.MessageType{ptp.MessageSync, ptp.MessageFollowUp}, h.sentTypes())
	require.Equal(t, s.SequenceID+1, h.sent[0].Head().SequenceID)
	require.Equal(t, int64(2), h.counter(stats.PortStatsTxPrefix+"sync"))
}

func TestPortOneStepMaster(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TwoStep = false
	h := newHarness(t, cfg)
	h.advance(6 * time.Second)
	h.sent = nil
	h.advance(time.Second)
	require.Equal(t, []ptp.MessageType{ptp.MessageAnnounce, ptp.MessageSync}, h.sentTypes())
	s := h.sent[1].(*ptp.SyncDelayReq)
	require.Zero(t, s.FlagField&ptp.FlagTwoStep)
	require.Equal(t, h.now().Timestamp(), s.OriginTimestamp)
}

func TestPortSlaveOnlyStaysListening(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SlaveOnly = true
	h := newHarness(t, cfg)
	h.advance(6 * time.Second)
	require.Equal(t, ptp.PortStateListening, h.port.State())
	h.advance(6 * time.Second)
	require.Equal(t, ptp.PortStateListening, h.port.State())
	require.Empty(t, h.sent)
}

func TestPortFollowsBetterMaster(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	h.deliver(announce(0, testMaster, ptp.ClockClassPrimaryReference, 1), h.now())
	h.port.RunOnce(0)
	// single Announce doesn't qualify the master
	require.Equal(t, ptp.PortStateListening, h.port.State())

	h.deliver(announce(1, testMaster, ptp.ClockClassPrimaryReference, 1), h.now())
	h.port.RunOnce(0)
	require.Equal(t, ptp.PortStateUncalibrated, h.port.State())

	st := h.port.Status()
	require.Equal(t, testMaster.String(), st.ParentPortIdentity)
	require.Equal(t, testMaster.ClockIdentity.String(), st.GrandmasterIdentity)
	require.Equal(t, uint16(1), st.StepsRemoved)
	require.Equal(t, ptp.TimeSourceGNSS, h.port.timeProps.TimeSource)
	require.Equal(t, int64(2), h.counter(stats.PortStatsRxPrefix+"announce"))
}

func TestPortSynchronizes(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.qualify(ptp.ClockClassPrimaryReference, 1)
	require.Equal(t, ptp.PortStateUncalibrated, h.port.State())

	var adj float64
	h.ts.EXPECT().AdjFreqPPB(gomock.Any()).DoAndReturn(func(ppb float64) (bool, error) {
		adj = ppb
		return false, nil
	})
	h.syncTo(0, -100*time.Nanosecond)
	require.Equal(t, ptp.PortStateSlave, h.port.State())
	// the clock is behind so it has to run faster
	require.InDelta(t, 10.1, adj, 0.001)

	st := h.port.Status()
	require.Equal(t, "SLAVE", st.State)
	require.Equal(t, -100*time.Nanosecond, st.OffsetFromMaster)
	require.Equal(t, 50200*time.Nanosecond, st.MeanPathDelay)
	require.Equal(t, "LOCKED", st.ServoState)
	require.Equal(t, int64(50200), h.counter(stats.MeanPathDelayNS))
	require.Equal(t, int64(-100), h.counter(stats.OffsetFromMasterNS))
}

func TestPortStepsClock(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.qualify(ptp.ClockClassPrimaryReference, 1)

	h.ts.EXPECT().Step(ptp.TimeInternalFromDuration(-time.Millisecond)).Return(nil)
	h.syncTo(0, time.Millisecond)
	require.Equal(t, ptp.PortStateSlave, h.port.State())
	require.Equal(t, int64(1), h.counter(stats.ClockSteps))
	require.Equal(t, "JUMP", h.port.Status().ServoState)
}

func TestPortNoAdjust(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Servo.NoAdjust = true
	h := newHarness(t, cfg)
	h.qualify(ptp.ClockClassPrimaryReference, 1)

	// neither Step nor AdjFreqPPB are expected
	h.syncTo(0, time.Millisecond)
	require.Equal(t, ptp.PortStateSlave, h.port.State())
	require.Equal(t, time.Millisecond, h.port.Status().OffsetFromMaster)
}

func TestPortStepFailureIsFaulty(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.qualify(ptp.ClockClassPrimaryReference, 1)

	h.ts.EXPECT().Step(gomock.Any()).Return(errors.New("permission denied"))
	h.syncTo(0, time.Millisecond)
	require.Equal(t, ptp.PortStateFaulty, h.port.State())
	require.Equal(t, int64(1), h.counter(stats.ClockErrors))
}

func TestPortLosesMaster(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.qualify(ptp.ClockClassPrimaryReference, 1)
	require.Equal(t, ptp.PortStateUncalibrated, h.port.State())

	h.advance(3 * time.Second)
	require.Equal(t, ptp.PortStateUncalibrated, h.port.State())
	require.Equal(t, int64(1), h.counter(stats.SyncTimeouts))

	h.advance(3 * time.Second)
	require.Equal(t, ptp.PortStateListening, h.port.State())
	require.Equal(t, 0, h.port.foreign.Len())
	// we are our own parent again
	require.Equal(t, testSlave.String(), h.port.Status().ParentPortIdentity)
}

func TestPortSlaveLosesMaster(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.qualify(ptp.ClockClassPrimaryReference, 1)
	h.ts.EXPECT().AdjFreqPPB(gomock.Any()).Return(false, nil).AnyTimes()
	h.syncTo(0, -100*time.Nanosecond)
	require.Equal(t, ptp.PortStateSlave, h.port.State())
	require.Equal(t, testMaster.String(), h.port.Status().ParentPortIdentity)

	// neither Announce nor Sync from now on
	h.advance(3 * time.Second)
	require.Equal(t, ptp.PortStateSlave, h.port.State())
	h.advance(3 * time.Second)
	require.Equal(t, ptp.PortStateListening, h.port.State())
	require.Equal(t, 0, h.port.foreign.Len())
	require.Equal(t, int64(1), h.counter(stats.AnnounceTimeouts))
	require.Equal(t, testSlave.String(), h.port.Status().ParentPortIdentity)
}

func TestPortServoSpikes(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Servo.NoAdjust = true
	h := newHarness(t, cfg)
	pi := servo.NewPiServo(servo.DefaultServoConfig(), &servo.PiServoCfg{Ap: 10, Ai: 1000}, 0)
	servo.NewPiServoFilter(pi, &servo.PiServoFilterCfg{
		MinOffsetLocked:   1000,
		MaxSkipCount:      5,
		OffsetStdevFactor: 3,
		RingSize:          1,
	})
	h.port.servo = pi

	require.NoError(t, h.port.applySample(100*time.Nanosecond))
	require.Equal(t, int64(0), h.counter(stats.ServoSpikes))
	require.NoError(t, h.port.applySample(5*time.Microsecond))
	require.NoError(t, h.port.applySample(5*time.Microsecond))
	require.Equal(t, int64(2), h.counter(stats.ServoSpikes))
	require.Equal(t, int64(servo.StateFilter), h.counter(stats.ServoState))

	// the offset filter averages with the previous sample, it takes two to settle
	require.NoError(t, h.port.applySample(150*time.Nanosecond))
	require.Equal(t, int64(3), h.counter(stats.ServoSpikes))
	require.NoError(t, h.port.applySample(150*time.Nanosecond))
	require.Equal(t, int64(0), h.counter(stats.ServoSpikes))
	require.Equal(t, int64(servo.StateLocked), h.counter(stats.ServoState))
}

func TestPortIgnoresNonParent(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.qualify(ptp.ClockClassPrimaryReference, 1)

	other := ptp.PortIdentity{ClockIdentity: 0x0102030405060708, PortNumber: 1}
	s := syncMsg(5, false, h.now())
	s.SourcePortIdentity = other
	h.deliver(s, h.now())
	h.port.RunOnce(0)
	require.Equal(t, ptp.PortStateUncalibrated, h.port.State())
	require.Equal(t, int64(1), h.counter(stats.RxForeign))
}

func TestPortStaleDelayResp(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.qualify(ptp.ClockClassPrimaryReference, 1)

	h.deliver(delayResp(42, testSlave, h.now()), ptp.TimeInternal{})
	h.port.RunOnce(0)
	require.Equal(t, ptp.PortStateUncalibrated, h.port.State())
	require.Equal(t, int64(1), h.counter(stats.RxStale))
}

func TestPortMasterAnswersDelayReq(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.advance(6 * time.Second)
	require.Equal(t, ptp.PortStateMaster, h.port.State())
	h.sent = nil

	req := &ptp.SyncDelayReq{
		Header: ptp.NewHeader(ptp.MessageDelayReq, 0, testMaster, 0x7f),
	}
	req.SequenceID = 17
	req.CorrectionField = ptp.NewCorrection(250)
	rx := h.now()
	h.deliver(req, rx)
	h.port.RunOnce(0)

	require.Equal(t, []ptp.MessageType{ptp.MessageDelayResp}, h.sentTypes())
	resp := h.sent[0].(*ptp.DelayResp)
	require.Equal(t, uint16(17), resp.SequenceID)
	require.Equal(t, ptp.NewCorrection(250), resp.CorrectionField)
	require.Equal(t, testMaster, resp.RequestingPortIdentity)
	require.Equal(t, rx.Timestamp(), resp.ReceiveTimestamp)
	require.Equal(t, testSlave, resp.SourcePortIdentity)
}

func TestPortMasterYieldsToBetterMaster(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.advance(6 * time.Second)
	require.Equal(t, ptp.PortStateMaster, h.port.State())

	h.qualify(ptp.ClockClassPrimaryReference, 1)
	require.Equal(t, ptp.PortStateUncalibrated, h.port.State())
}

func TestPortWorseMasterPreMaster(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.qualify(ptp.ClockClassDefault, 200)
	require.Equal(t, ptp.PortStatePreMaster, h.port.State())

	h.advance(time.Second)
	require.Equal(t, ptp.PortStatePreMaster, h.port.State())
	h.advance(time.Second)
	require.Equal(t, ptp.PortStateMaster, h.port.State())
}

func TestPortPassive(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ClockQuality.ClockClass = ptp.ClockClassPrimaryReference
	h := newHarness(t, cfg)
	h.qualify(ptp.ClockClassPrimaryReference, 1)
	require.Equal(t, ptp.PortStatePassive, h.port.State())
	require.Nil(t, h.port.parent)
}

func TestPortDropsUnwantedPackets(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	h.inbox = append(h.inbox, &Packet{Channel: ChannelGeneral, Data: []byte{1, 2, 3}})
	looped := announce(0, testSlave, ptp.ClockClassPrimaryReference, 1)
	h.deliver(looped, h.now())
	otherDomain := announce(0, testMaster, ptp.ClockClassPrimaryReference, 1)
	otherDomain.DomainNumber = 4
	h.deliver(otherDomain, h.now())
	h.port.RunOnce(0)

	require.Equal(t, int64(2), h.counter(stats.RxMalformed))
	require.Equal(t, int64(1), h.counter(stats.RxLooped))
	require.Equal(t, 0, h.port.foreign.Len())
}

func TestPortFaultyRecovers(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.nowErr = errors.New("no clock")
	h.port.changeState(ptp.PortStateInitializing)
	require.Equal(t, ptp.PortStateFaulty, h.port.State())
	require.Equal(t, int64(1), h.counter(stats.ClockErrors))

	h.nowErr = nil
	for i := 0; i < 4; i++ {
		h.advance(time.Second)
		require.Equal(t, ptp.PortStateFaulty, h.port.State())
	}
	h.advance(time.Second)
	require.Equal(t, ptp.PortStateListening, h.port.State())
}

func TestPortTransportErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxTransportErrors = 2
	h := newHarness(t, cfg)
	h.pollErr = errors.New("network is down")

	h.port.RunOnce(0)
	h.port.RunOnce(0)
	require.Equal(t, ptp.PortStateListening, h.port.State())
	h.port.RunOnce(0)
	require.Equal(t, ptp.PortStateFaulty, h.port.State())
	require.Equal(t, int64(3), h.counter(stats.TransportErrors))
}

func TestPortStopStart(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.port.Stop()
	h.port.RunOnce(0)
	require.Equal(t, ptp.PortStateDisabled, h.port.State())
	require.Equal(t, "DISABLED", h.port.Status().State)

	// timers don't run while disabled
	h.advance(10 * time.Second)
	require.Equal(t, ptp.PortStateDisabled, h.port.State())

	h.port.Start()
	h.port.RunOnce(0)
	require.Equal(t, ptp.PortStateListening, h.port.State())
}

func TestPortDisabledIgnoresTransportErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxTransportErrors = 2
	h := newHarness(t, cfg)
	h.port.Stop()
	h.port.RunOnce(0)
	require.Equal(t, ptp.PortStateDisabled, h.port.State())

	h.sent = nil
	h.pollErr = errors.New("network is down")
	for i := 0; i < 5; i++ {
		h.port.RunOnce(0)
		require.Equal(t, ptp.PortStateDisabled, h.port.State())
	}
	// no fault recovery behind our back
	h.advance(200 * time.Second)
	require.Equal(t, ptp.PortStateDisabled, h.port.State())
	require.Empty(t, h.sent)
	require.Equal(t, int64(0), h.counter(stats.TransportErrors))

	h.pollErr = nil
	h.port.Start()
	h.port.RunOnce(0)
	require.Equal(t, ptp.PortStateListening, h.port.State())
}

func TestPortPeerDelayResponder(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DelayMechanism = ptp.DelayMechanismP2P
	h := newHarness(t, cfg)

	req := &ptp.PDelayReq{
		Header: ptp.NewHeader(ptp.MessagePDelayReq, 0, testMaster, 0x7f),
	}
	req.SequenceID = 9
	req.CorrectionField = ptp.NewCorrection(40)
	rx := h.now()
	h.deliver(req, rx)
	h.port.RunOnce(0)

	require.Equal(t, []ptp.MessageType{ptp.MessagePDelayResp, ptp.MessagePDelayRespFollowUp}, h.sentTypes())
	resp := h.sent[0].(*ptp.PDelayResp)
	require.Equal(t, uint16(9), resp.SequenceID)
	require.Equal(t, rx.Timestamp(), resp.RequestReceiptTimestamp)
	require.Equal(t, testMaster, resp.RequestingPortIdentity)
	require.NotZero(t, resp.FlagField&ptp.FlagTwoStep)
	fu := h.sent[1].(*ptp.PDelayRespFollowUp)
	require.Equal(t, uint16(9), fu.SequenceID)
	require.Equal(t, ptp.NewCorrection(40), fu.CorrectionField)
	require.Equal(t, h.lastTX.Timestamp(), fu.ResponseOriginTimestamp)
}

func TestPortPeerDelayRequester(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DelayMechanism = ptp.DelayMechanismP2P
	h := newHarness(t, cfg)

	h.advance(2 * time.Second)
	require.Equal(t, []ptp.MessageType{ptp.MessagePDelayReq}, h.sentTypes())
	req := h.sent[0]
	t1 := h.lastTX

	resp := &ptp.PDelayResp{
		Header: ptp.NewHeader(ptp.MessagePDelayResp, 0, testMaster, 0x7f),
		PDelayRespBody: ptp.PDelayRespBody{
			RequestReceiptTimestamp: ti(500, 0).Timestamp(),
			RequestingPortIdentity:  testSlave,
		},
	}
	resp.SequenceID = req.Head().SequenceID
	resp.FlagField = ptp.FlagTwoStep
	h.deliver(resp, t1.Add(ti(0, 7000)))
	fu := &ptp.PDelayRespFollowUp{
		Header: ptp.NewHeader(ptp.MessagePDelayRespFollowUp, 0, testMaster, 0x7f),
		PDelayRespFollowUpBody: ptp.PDelayRespFollowUpBody{
			ResponseOriginTimestamp: ti(500, 5000).Timestamp(),
			RequestingPortIdentity:  testSlave,
		},
	}
	fu.SequenceID = req.Head().SequenceID
	h.deliver(fu, ptp.TimeInternal{})
	h.port.RunOnce(0)

	// (7000 - 5000) / 2
	require.Equal(t, 1000*time.Nanosecond, h.port.Status().MeanPathDelay)
}
