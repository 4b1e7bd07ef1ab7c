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
	"fmt"
	"time"

	ptp "github.com/ordinaryclock/ptpd/ptp/protocol"
)

// E2EExchange is raw data of one Sync and one Delay_Req/Delay_Resp exchange with the master
type E2EExchange struct {
	T1 ptp.TimeInternal // departure time of Sync from master
	T2 ptp.TimeInternal // arrival time of Sync here
	T3 ptp.TimeInternal // departure time of Delay_Req from here
	T4 ptp.TimeInternal // arrival time of Delay_Req on master
	C1 ptp.TimeInternal // correctionField of Sync and Follow_Up
	C2 ptp.TimeInternal // correctionField of Delay_Resp
}

func (x *E2EExchange) complete() bool {
	return !x.T1.IsZero() && !x.T2.IsZero() && !x.T3.IsZero() && !x.T4.IsZero()
}

// P2PExchange is raw data of one Pdelay_Req/Pdelay_Resp/Pdelay_Resp_Follow_Up exchange with the peer
type P2PExchange struct {
	T1 ptp.TimeInternal // departure time of Pdelay_Req from here
	T2 ptp.TimeInternal // arrival time of Pdelay_Req on peer, zero for one-step responders
	T3 ptp.TimeInternal // departure time of Pdelay_Resp from peer, zero for one-step responders
	T4 ptp.TimeInternal // arrival time of Pdelay_Resp here
	C  ptp.TimeInternal // correctionField of Pdelay_Resp and Pdelay_Resp_Follow_Up
}

// Sample is a computed offset from master and mean path delay
type Sample struct {
	Offset time.Duration
	Delay  time.Duration
}

// ComputeE2E calculates offset and mean path delay from a complete exchange.
// Negative delays are returned as is. Results which don't fit time.Duration are rejected with ptp.ErrOutOfRange.
func ComputeE2E(x E2EExchange) (Sample, error) {
	if !x.complete() {
		return Sample{}, errIncompleteExchange
	}
	masterToSlave := x.T2.Sub(x.T1).Sub(x.C1)
	slaveToMaster := x.T4.Sub(x.T3).Sub(x.C2)
	delay := masterToSlave.Add(slaveToMaster).Half()
	offset, err := masterToSlave.Sub(delay).CheckedDuration()
	if err != nil {
		return Sample{}, fmt.Errorf("offset from master: %w", err)
	}
	d, err := delay.CheckedDuration()
	if err != nil {
		return Sample{}, fmt.Errorf("mean path delay: %w", err)
	}
	return Sample{Offset: offset, Delay: d}, nil
}

// ComputeOffset calculates offset from master of a Sync given the current path delay
func ComputeOffset(t1, t2, c1 ptp.TimeInternal, delay time.Duration) (time.Duration, error) {
	offset, err := t2.Sub(t1).Sub(c1).Sub(ptp.TimeInternalFromDuration(delay)).CheckedDuration()
	if err != nil {
		return 0, fmt.Errorf("offset from master: %w", err)
	}
	return offset, nil
}

// ComputeP2P calculates peer path delay from a complete exchange
func ComputeP2P(x P2PExchange) (time.Duration, error) {
	if x.T1.IsZero() || x.T4.IsZero() {
		return 0, errIncompleteExchange
	}
	turnaround := x.T3.Sub(x.T2)
	d, err := x.T4.Sub(x.T1).Sub(turnaround).Sub(x.C).Half().CheckedDuration()
	if err != nil {
		return 0, fmt.Errorf("peer delay: %w", err)
	}
	return d, nil
}

// syncData is what we know about a Sync from our parent
type syncData struct {
	seq          uint16
	t1           ptp.TimeInternal
	t2           ptp.TimeInternal
	c1           ptp.TimeInternal
	waitFollowUp bool
}

func (s *syncData) complete() bool {
	return !s.t2.IsZero() && !s.t1.IsZero() && !s.waitFollowUp
}

// measurements pairs requests with responses and keeps the latest complete Sync
type measurements struct {
	inbound  ptp.TimeInternal
	outbound ptp.TimeInternal

	sync     syncData
	lastSync syncData

	delayReqSeq     uint16
	delayReqT3      ptp.TimeInternal
	delayReqPending bool

	pdelay        P2PExchange
	pdelaySeq     uint16
	pdelayPending bool
	pdelayWaitFU  bool
}

func newMeasurements(inbound, outbound time.Duration) *measurements {
	return &measurements{
		inbound:  ptp.TimeInternalFromDuration(inbound),
		outbound: ptp.TimeInternalFromDuration(outbound),
	}
}

// rx corrects RX timestamp for inbound latency
func (m *measurements) rx(ts ptp.TimeInternal) ptp.TimeInternal {
	return ts.Sub(m.inbound)
}

// tx corrects TX timestamp for outbound latency
func (m *measurements) tx(ts ptp.TimeInternal) ptp.TimeInternal {
	return ts.Add(m.outbound)
}

// reset forgets all exchanges in flight
func (m *measurements) reset() {
	m.sync = syncData{}
	m.lastSync = syncData{}
	m.delayReqPending = false
	m.delayReqT3 = ptp.TimeInternal{}
	m.pdelay = P2PExchange{}
	m.pdelayPending = false
	m.pdelayWaitFU = false
}

// addSync stores Sync received at t2. Returns true if the Sync is complete, which is the case for one-step masters.
func (m *measurements) addSync(s *ptp.SyncDelayReq, t2 ptp.TimeInternal) bool {
	twoStep := s.FlagField&ptp.FlagTwoStep != 0
	m.sync = syncData{
		seq:          s.SequenceID,
		t2:           t2,
		c1:           s.CorrectionField.TimeInternal(),
		waitFollowUp: twoStep,
	}
	if !twoStep {
		m.sync.t1 = ptp.TimeInternalFromTimestamp(s.OriginTimestamp)
		m.lastSync = m.sync
		return true
	}
	return false
}

// addFollowUp completes the two-step Sync with the same sequence id
func (m *measurements) addFollowUp(f *ptp.FollowUp) error {
	if !m.sync.waitFollowUp || m.sync.seq != f.SequenceID {
		return fmt.Errorf("%w: Follow_Up %d doesn't match Sync %d", ErrStaleExchange, f.SequenceID, m.sync.seq)
	}
	m.sync.t1 = ptp.TimeInternalFromTimestamp(f.PreciseOriginTimestamp)
	m.sync.c1 = m.sync.c1.Add(f.CorrectionField.TimeInternal())
	m.sync.waitFollowUp = false
	m.lastSync = m.sync
	return nil
}

// offset calculates offset from master using the latest complete Sync
func (m *measurements) offset(delay time.Duration) (time.Duration, error) {
	if !m.lastSync.complete() {
		return 0, errIncompleteExchange
	}
	return ComputeOffset(m.lastSync.t1, m.lastSync.t2, m.lastSync.c1, delay)
}

// sentDelayReq remembers Delay_Req sent at t3
func (m *measurements) sentDelayReq(seq uint16, t3 ptp.TimeInternal) {
	m.delayReqSeq = seq
	m.delayReqT3 = t3
	m.delayReqPending = true
}

// addDelayResp matches Delay_Resp to our last Delay_Req and computes the exchange with the latest Sync
func (m *measurements) addDelayResp(r *ptp.DelayResp, us ptp.PortIdentity) (Sample, error) {
	if r.RequestingPortIdentity != us {
		return Sample{}, fmt.Errorf("%w: Delay_Resp is for %s", ErrStaleExchange, r.RequestingPortIdentity)
	}
	if !m.delayReqPending || r.SequenceID != m.delayReqSeq {
		return Sample{}, fmt.Errorf("%w: Delay_Resp %d doesn't match Delay_Req %d", ErrStaleExchange, r.SequenceID, m.delayReqSeq)
	}
	m.delayReqPending = false
	if !m.lastSync.complete() {
		return Sample{}, errIncompleteExchange
	}
	return ComputeE2E(E2EExchange{
		T1: m.lastSync.t1,
		T2: m.lastSync.t2,
		T3: m.delayReqT3,
		T4: ptp.TimeInternalFromTimestamp(r.ReceiveTimestamp),
		C1: m.lastSync.c1,
		C2: r.CorrectionField.TimeInternal(),
	})
}

// sentPDelayReq remembers Pdelay_Req sent at t1
func (m *measurements) sentPDelayReq(seq uint16, t1 ptp.TimeInternal) {
	m.pdelay = P2PExchange{T1: t1}
	m.pdelaySeq = seq
	m.pdelayPending = true
	m.pdelayWaitFU = false
}

// addPDelayResp matches Pdelay_Resp received at t4 to our last Pdelay_Req.
// Returns true if the exchange is complete, which is the case for one-step responders.
func (m *measurements) addPDelayResp(r *ptp.PDelayResp, us ptp.PortIdentity, t4 ptp.TimeInternal) (bool, error) {
	if r.RequestingPortIdentity != us {
		return false, fmt.Errorf("%w: Pdelay_Resp is for %s", ErrStaleExchange, r.RequestingPortIdentity)
	}
	if !m.pdelayPending || m.pdelayWaitFU || r.SequenceID != m.pdelaySeq {
		return false, fmt.Errorf("%w: Pdelay_Resp %d doesn't match Pdelay_Req %d", ErrStaleExchange, r.SequenceID, m.pdelaySeq)
	}
	m.pdelay.T4 = t4
	m.pdelay.C = r.CorrectionField.TimeInternal()
	if r.FlagField&ptp.FlagTwoStep != 0 {
		m.pdelay.T2 = ptp.TimeInternalFromTimestamp(r.RequestReceiptTimestamp)
		m.pdelayWaitFU = true
		return false, nil
	}
	m.pdelayPending = false
	return true, nil
}

// addPDelayRespFollowUp completes two-step peer delay exchange
func (m *measurements) addPDelayRespFollowUp(f *ptp.PDelayRespFollowUp, us ptp.PortIdentity) error {
	if f.RequestingPortIdentity != us {
		return fmt.Errorf("%w: Pdelay_Resp_Follow_Up is for %s", ErrStaleExchange, f.RequestingPortIdentity)
	}
	if !m.pdelayWaitFU || f.SequenceID != m.pdelaySeq {
		return fmt.Errorf("%w: Pdelay_Resp_Follow_Up %d doesn't match Pdelay_Req %d", ErrStaleExchange, f.SequenceID, m.pdelaySeq)
	}
	m.pdelay.T3 = ptp.TimeInternalFromTimestamp(f.ResponseOriginTimestamp)
	m.pdelay.C = m.pdelay.C.Add(f.CorrectionField.TimeInternal())
	m.pdelayPending = false
	m.pdelayWaitFU = false
	return nil
}

// peerDelay computes the last complete peer delay exchange
func (m *measurements) peerDelay() (time.Duration, error) {
	return ComputeP2P(m.pdelay)
}
