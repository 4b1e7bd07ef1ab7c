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
	"testing"
	"time"

	refclock "github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/ordinaryclock/ptpd/clock"
	ptp "github.com/ordinaryclock/ptpd/ptp/protocol"
	"github.com/ordinaryclock/ptpd/ptp/ptpd"
)

func newRef() *refclock.Mock {
	ref := refclock.NewMock()
	ref.Set(time.Unix(1700000000, 0))
	return ref
}

func TestBusEventTimestamps(t *testing.T) {
	ref := newRef()
	bus := NewBus(30 * time.Microsecond)
	a := bus.Join(clock.NewSim(ref, 0, 0, 1))
	b := bus.Join(clock.NewSim(ref, time.Millisecond, 0, 2))
	c := bus.Join(clock.NewSim(ref, -time.Millisecond, 0, 3))

	tx, err := a.Send(ptpd.ChannelEvent, []byte{1, 2, 3})
	require.NoError(t, err)
	require.Equal(t, ptp.TimeInternalFromTime(ref.Now()), tx)

	pkt, err := b.Poll(0)
	require.NoError(t, err)
	require.NotNil(t, pkt)
	require.Equal(t, ptpd.ChannelEvent, pkt.Channel)
	require.Equal(t, []byte{1, 2, 3}, pkt.Data)
	require.Equal(t, 1030*time.Microsecond, pkt.RXTimestamp.Sub(tx).Duration())

	pkt, err = c.Poll(0)
	require.NoError(t, err)
	require.NotNil(t, pkt)
	require.Equal(t, -970*time.Microsecond, pkt.RXTimestamp.Sub(tx).Duration())

	// sender doesn't hear itself
	pkt, err = a.Poll(0)
	require.NoError(t, err)
	require.Nil(t, pkt)
}

func TestBusGeneralMessages(t *testing.T) {
	ref := newRef()
	bus := NewBus(0)
	a := bus.Join(clock.NewSim(ref, 0, 0, 1))
	b := bus.Join(clock.NewSim(ref, 0, 0, 2))

	data := []byte{9, 8, 7}
	tx, err := a.Send(ptpd.ChannelGeneral, data)
	require.NoError(t, err)
	require.True(t, tx.IsZero())
	// sender is free to reuse the buffer
	data[0] = 0

	pkt, err := b.Poll(time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, ptpd.ChannelGeneral, pkt.Channel)
	require.Equal(t, []byte{9, 8, 7}, pkt.Data)
	require.True(t, pkt.RXTimestamp.IsZero())
}

func TestBusPollTimeout(t *testing.T) {
	bus := NewBus(0)
	a := bus.Join(clock.NewSim(newRef(), 0, 0, 1))
	start := time.Now()
	pkt, err := a.Poll(5 * time.Millisecond)
	require.NoError(t, err)
	require.Nil(t, pkt)
	require.GreaterOrEqual(t, time.Since(start), 5*time.Millisecond)
}

func TestBusClose(t *testing.T) {
	ref := newRef()
	bus := NewBus(0)
	a := bus.Join(clock.NewSim(ref, 0, 0, 1))
	b := bus.Join(clock.NewSim(ref, 0, 0, 2))

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
	_, err := b.Send(ptpd.ChannelGeneral, []byte{1})
	require.ErrorIs(t, err, ErrClosed)
	_, err = b.Poll(0)
	require.ErrorIs(t, err, ErrClosed)

	_, err = a.Send(ptpd.ChannelGeneral, []byte{1})
	require.NoError(t, err)
	require.Len(t, b.queue, 0)
}

func TestBusQueueOverflow(t *testing.T) {
	ref := newRef()
	bus := NewBus(0)
	a := bus.Join(clock.NewSim(ref, 0, 0, 1))
	b := bus.Join(clock.NewSim(ref, 0, 0, 2))
	for i := 0; i < busQueueSize+3; i++ {
		_, err := a.Send(ptpd.ChannelGeneral, []byte{byte(i)})
		require.NoError(t, err)
	}
	require.Equal(t, int64(3), b.Dropped())
	require.Equal(t, int64(0), a.Dropped())
}

func TestBusSetDelay(t *testing.T) {
	ref := newRef()
	bus := NewBus(0)
	a := bus.Join(clock.NewSim(ref, 0, 0, 1))
	b := bus.Join(clock.NewSim(ref, 0, 0, 2))
	bus.SetDelay(time.Millisecond)

	tx, err := a.Send(ptpd.ChannelEvent, []byte{1})
	require.NoError(t, err)
	pkt, err := b.Poll(0)
	require.NoError(t, err)
	require.Equal(t, time.Millisecond, pkt.RXTimestamp.Sub(tx).Duration())
}
