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

//go:generate mockgen -source=adapters.go -destination=mock_ptpd.go -package=ptpd

import (
	"fmt"
	"time"

	ptp "github.com/ordinaryclock/ptpd/ptp/protocol"
)

// Channel is the kind of UDP port a message travels through
type Channel uint8

// Event messages need precise timestamps, general ones don't
const (
	ChannelEvent Channel = iota
	ChannelGeneral
)

func (c Channel) String() string {
	switch c {
	case ChannelEvent:
		return "event"
	case ChannelGeneral:
		return "general"
	}
	return fmt.Sprintf("UNKNOWN(%d)", c)
}

// Port returns the UDP port of the channel
func (c Channel) Port() int {
	if c == ChannelEvent {
		return ptp.PortEvent
	}
	return ptp.PortGeneral
}

// ChannelFor returns the channel a message type is sent through
func ChannelFor(m ptp.MessageType) Channel {
	if m.Event() {
		return ChannelEvent
	}
	return ChannelGeneral
}

// Packet is a message received by the Transport
type Packet struct {
	Channel     Channel
	Data        []byte
	RXTimestamp ptp.TimeInternal
}

// TimeSource is the clock being disciplined, either system time or a PHC
type TimeSource interface {
	// Now reads the clock
	Now() (ptp.TimeInternal, error)
	// Set steps the clock to the absolute time. The port never calls it:
	// a servo jump is applied as a relative Step of the measured offset.
	Set(t ptp.TimeInternal) error
	// Step shifts the clock by delta
	Step(delta ptp.TimeInternal) error
	// AdjFreqPPB sets frequency trim, reports whether the value had to be clamped
	AdjFreqPPB(ppb float64) (bool, error)
	// MaxFreqPPB returns the largest supported trim
	MaxFreqPPB() float64
	// Random returns a pseudo random number in [0, max)
	Random(max uint32) uint32
}

// Transport sends and receives raw PTP messages
type Transport interface {
	// Send transmits b and returns its TX timestamp
	Send(ch Channel, b []byte) (ptp.TimeInternal, error)
	// Poll waits up to timeout for a message, nil packet means timeout
	Poll(timeout time.Duration) (*Packet, error)
	Close() error
}

// StatsServer is where the port reports its counters
type StatsServer interface {
	// SetCounter sets gauges like port state or offset
	SetCounter(key string, val int64)
	// UpdateCounterBy counts events like received messages
	UpdateCounterBy(key string, count int64)
	GetCounters() map[string]int64
}
