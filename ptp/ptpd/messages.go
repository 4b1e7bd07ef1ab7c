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
	"fmt"
	"strings"

	"github.com/fatih/color"
	log "github.com/sirupsen/logrus"

	ptp "github.com/ordinaryclock/ptpd/ptp/protocol"
	"github.com/ordinaryclock/ptpd/ptp/ptpd/stats"
)

// logMessageIntervalNone is logMessageInterval of messages not sent periodically
const logMessageIntervalNone ptp.LogInterval = 0x7f

func msgStatsName(t ptp.MessageType) string {
	return strings.ToLower(t.String())
}

func logSent(msg ptp.Packet, format string, v ...interface{}) {
	h := msg.Head()
	log.Debugf(color.GreenString("-> %s seq=%d (%s)", msg.MessageType(), h.SequenceID, fmt.Sprintf(format, v...)))
}

func logReceived(msg ptp.Packet, format string, v ...interface{}) {
	h := msg.Head()
	log.Debugf(color.BlueString("<- %s seq=%d from %s (%s)", msg.MessageType(), h.SequenceID, h.SourcePortIdentity, fmt.Sprintf(format, v...)))
}

func (p *Port) header(t ptp.MessageType, interval ptp.LogInterval) ptp.Header {
	return ptp.NewHeader(t, p.cfg.DomainNumber, p.portIdentity, interval)
}

// send transmits the message and returns its TX timestamp corrected for outbound latency
func (p *Port) send(msg ptp.Packet) (ptp.TimeInternal, error) {
	b, err := ptp.Bytes(msg)
	if err != nil {
		return ptp.TimeInternal{}, fmt.Errorf("encoding %s: %w", msg.MessageType(), err)
	}
	txts, err := p.tr.Send(ChannelFor(msg.MessageType()), b)
	if err != nil {
		return ptp.TimeInternal{}, &TransportError{Op: "send " + msg.MessageType().String(), Err: err}
	}
	p.transportErrors = 0
	p.stats.UpdateCounterBy(stats.PortStatsTxPrefix+msgStatsName(msg.MessageType()), 1)
	if !txts.IsZero() {
		txts = p.meas.tx(txts)
	}
	logSent(msg, "tx=%s", txts)
	return txts, nil
}

func (p *Port) sendAnnounce() error {
	now, err := p.ts.Now()
	if err != nil {
		return &ClockAccessError{Op: "read", Err: err}
	}
	a := &ptp.Announce{
		Header:       p.header(ptp.MessageAnnounce, p.cfg.LogAnnounceInterval),
		AnnounceBody: p.announceBody(now.Timestamp()),
	}
	a.FlagField = p.timeProps.Flags
	a.SequenceID = p.announceSeq
	p.announceSeq++
	_, err = p.send(a)
	return err
}

// sendSync sends Sync, followed by Follow_Up in two-step mode
func (p *Port) sendSync() error {
	s := &ptp.SyncDelayReq{
		Header: p.header(ptp.MessageSync, p.cfg.LogSyncInterval),
	}
	s.SequenceID = p.syncSeq
	p.syncSeq++
	if !p.cfg.TwoStep {
		now, err := p.ts.Now()
		if err != nil {
			return &ClockAccessError{Op: "read", Err: err}
		}
		s.OriginTimestamp = p.meas.tx(now).Timestamp()
		_, err = p.send(s)
		return err
	}

	s.FlagField |= ptp.FlagTwoStep
	t1, err := p.send(s)
	if err != nil {
		return err
	}
	f := &ptp.FollowUp{
		Header: p.header(ptp.MessageFollowUp, p.cfg.LogSyncInterval),
		FollowUpBody: ptp.FollowUpBody{
			PreciseOriginTimestamp: t1.Timestamp(),
		},
	}
	f.SequenceID = s.SequenceID
	_, err = p.send(f)
	return err
}

func (p *Port) sendDelayReq() error {
	r := &ptp.SyncDelayReq{
		Header: p.header(ptp.MessageDelayReq, logMessageIntervalNone),
	}
	seq := p.delayReqSeq
	r.SequenceID = seq
	p.delayReqSeq++
	t3, err := p.send(r)
	if err != nil {
		return err
	}
	p.meas.sentDelayReq(seq, t3)
	return nil
}

// sendDelayResp answers Delay_Req received at rx
func (p *Port) sendDelayResp(req *ptp.SyncDelayReq, rx ptp.TimeInternal) error {
	r := &ptp.DelayResp{
		Header: p.header(ptp.MessageDelayResp, p.cfg.LogMinDelayReqInterval),
		DelayRespBody: ptp.DelayRespBody{
			ReceiveTimestamp:       rx.Timestamp(),
			RequestingPortIdentity: req.SourcePortIdentity,
		},
	}
	r.SequenceID = req.SequenceID
	r.CorrectionField = req.CorrectionField
	_, err := p.send(r)
	return err
}

func (p *Port) sendPDelayReq() error {
	r := &ptp.PDelayReq{
		Header: p.header(ptp.MessagePDelayReq, logMessageIntervalNone),
	}
	seq := p.pdelayReqSeq
	r.SequenceID = seq
	p.pdelayReqSeq++
	t1, err := p.send(r)
	if err != nil {
		return err
	}
	p.meas.sentPDelayReq(seq, t1)
	return nil
}

// sendPDelayResp answers Pdelay_Req received at rx, always two-step
func (p *Port) sendPDelayResp(req *ptp.PDelayReq, rx ptp.TimeInternal) error {
	r := &ptp.PDelayResp{
		Header: p.header(ptp.MessagePDelayResp, logMessageIntervalNone),
		PDelayRespBody: ptp.PDelayRespBody{
			RequestReceiptTimestamp: rx.Timestamp(),
			RequestingPortIdentity:  req.SourcePortIdentity,
		},
	}
	r.SequenceID = req.SequenceID
	r.FlagField |= ptp.FlagTwoStep
	t3, err := p.send(r)
	if err != nil {
		return err
	}
	f := &ptp.PDelayRespFollowUp{
		Header: p.header(ptp.MessagePDelayRespFollowUp, logMessageIntervalNone),
		PDelayRespFollowUpBody: ptp.PDelayRespFollowUpBody{
			ResponseOriginTimestamp: t3.Timestamp(),
			RequestingPortIdentity:  req.SourcePortIdentity,
		},
	}
	f.SequenceID = req.SequenceID
	f.CorrectionField = req.CorrectionField
	_, err = p.send(f)
	return err
}

// handlePacket decodes the packet, filters what isn't for us and runs the message handler of the current state
func (p *Port) handlePacket(pkt *Packet) {
	msg, err := ptp.DecodePacket(pkt.Data)
	if err != nil {
		if errors.Is(err, ptp.ErrUnsupported) {
			log.Debugf("dropping %v", err)
			p.stats.UpdateCounterBy(stats.RxUnsupported, 1)
			return
		}
		log.Debugf("dropping %d bytes from %s channel: %v", len(pkt.Data), pkt.Channel, err)
		p.stats.UpdateCounterBy(stats.RxMalformed, 1)
		return
	}
	h := msg.Head()
	if h.DomainNumber != p.cfg.DomainNumber {
		log.Debugf("dropping %s from domain %d", msg.MessageType(), h.DomainNumber)
		p.stats.UpdateCounterBy(stats.RxMalformed, 1)
		return
	}
	if h.SourcePortIdentity.ClockIdentity == p.portIdentity.ClockIdentity {
		p.stats.UpdateCounterBy(stats.RxLooped, 1)
		return
	}
	p.stats.UpdateCounterBy(stats.PortStatsRxPrefix+msgStatsName(msg.MessageType()), 1)

	rx := pkt.RXTimestamp
	if !rx.IsZero() {
		rx = p.meas.rx(rx)
	}
	logReceived(msg, "rx=%s", rx)
	handler := p.handlers[p.state].message
	if handler == nil {
		return
	}
	p.changeState(handler(p, msg, rx))
}
