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

package transport

import (
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	ptp "github.com/ordinaryclock/ptpd/ptp/protocol"
	"github.com/ordinaryclock/ptpd/ptp/ptpd"
)

// busQueueSize is how many packets an endpoint holds before it starts dropping
const busQueueSize = 256

// Stamper is the clock an endpoint timestamps event messages with
type Stamper interface {
	Now() (ptp.TimeInternal, error)
}

// Bus is an in-memory segment. Everything sent by one endpoint is received by all the others.
type Bus struct {
	mu      sync.Mutex
	delay   time.Duration
	members []*Endpoint
}

// NewBus creates a segment with given one way delay for event messages
func NewBus(delay time.Duration) *Bus {
	return &Bus{delay: delay}
}

// SetDelay changes one way delay of the segment
func (b *Bus) SetDelay(delay time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.delay = delay
}

// Join attaches a new endpoint which timestamps with clk
func (b *Bus) Join(clk Stamper) *Endpoint {
	e := &Endpoint{
		bus:   b,
		clk:   clk,
		queue: make(chan *ptpd.Packet, busQueueSize),
		done:  make(chan struct{}),
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.members = append(b.members, e)
	return e
}

func (b *Bus) leave(e *Endpoint) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, m := range b.members {
		if m == e {
			b.members = append(b.members[:i], b.members[i+1:]...)
			return
		}
	}
}

// deliver hands a copy of data to every member except the sender.
// RX timestamp is the receiver's clock shifted by the segment delay.
func (b *Bus) deliver(from *Endpoint, ch ptpd.Channel, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, m := range b.members {
		if m == from {
			continue
		}
		pkt := &ptpd.Packet{Channel: ch, Data: append([]byte(nil), data...)}
		if ch == ptpd.ChannelEvent {
			rx, err := m.clk.Now()
			if err != nil {
				log.Errorf("timestamping received packet: %v", err)
				continue
			}
			pkt.RXTimestamp = rx.Add(ptp.TimeInternalFromDuration(b.delay))
		}
		select {
		case m.queue <- pkt:
		default:
			m.dropped.Add(1)
			log.Debugf("bus endpoint queue is full, dropping %s packet", ch)
		}
	}
}

// Endpoint is a member of the Bus, it implements ptpd.Transport
type Endpoint struct {
	bus     *Bus
	clk     Stamper
	queue   chan *ptpd.Packet
	done    chan struct{}
	once    sync.Once
	dropped atomic.Int64
}

// Send delivers b to all the other endpoints
func (e *Endpoint) Send(ch ptpd.Channel, b []byte) (ptp.TimeInternal, error) {
	select {
	case <-e.done:
		return ptp.TimeInternal{}, ErrClosed
	default:
	}
	var tx ptp.TimeInternal
	if ch == ptpd.ChannelEvent {
		var err error
		if tx, err = e.clk.Now(); err != nil {
			return ptp.TimeInternal{}, err
		}
	}
	e.bus.deliver(e, ch, b)
	return tx, nil
}

// Poll waits up to timeout for a packet
func (e *Endpoint) Poll(timeout time.Duration) (*ptpd.Packet, error) {
	select {
	case pkt := <-e.queue:
		return pkt, nil
	case <-e.done:
		return nil, ErrClosed
	default:
	}
	if timeout <= 0 {
		return nil, nil
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case pkt := <-e.queue:
		return pkt, nil
	case <-e.done:
		return nil, ErrClosed
	case <-timer.C:
		return nil, nil
	}
}

// Dropped returns number of packets lost because the queue was full
func (e *Endpoint) Dropped() int64 {
	return e.dropped.Load()
}

// Close detaches the endpoint from the bus
func (e *Endpoint) Close() error {
	e.once.Do(func() {
		close(e.done)
		e.bus.leave(e)
	})
	return nil
}
