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

package protocol

import (
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSdoIDAndMsgType(t *testing.T) {
	sdoIDAndMsgType := NewSdoIDAndMsgType(MessageAnnounce, 3)
	require.Equal(t, MessageAnnounce, sdoIDAndMsgType.MsgType())
}

func TestProbeMsgType(t *testing.T) {
	tests := []struct {
		in      []byte
		want    MessageType
		wantErr bool
	}{
		{in: []byte{}, wantErr: true},
		{in: []byte{0x0}, want: MessageSync},
		{in: []byte{0xB}, want: MessageAnnounce},
		{in: []byte{0x19}, want: MessageDelayResp},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("ProbeMsgType in=%v", tt.in), func(t *testing.T) {
			got, err := ProbeMsgType(tt.in)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrMalformed)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestMessageTypeString(t *testing.T) {
	require.Equal(t, "SYNC", MessageSync.String())
	require.Equal(t, "DELAY_REQ", MessageDelayReq.String())
	require.Equal(t, "PDELAY_REQ", MessagePDelayReq.String())
	require.Equal(t, "PDELAY_RESP", MessagePDelayResp.String())
	require.Equal(t, "FOLLOW_UP", MessageFollowUp.String())
	require.Equal(t, "DELAY_RESP", MessageDelayResp.String())
	require.Equal(t, "PDELAY_RESP_FOLLOW_UP", MessagePDelayRespFollowUp.String())
	require.Equal(t, "ANNOUNCE", MessageAnnounce.String())
	require.Equal(t, "UNKNOWN(5)", MessageType(5).String())
}

func TestMessageTypeEvent(t *testing.T) {
	require.True(t, MessageSync.Event())
	require.True(t, MessageDelayReq.Event())
	require.True(t, MessagePDelayReq.Event())
	require.True(t, MessagePDelayResp.Event())
	require.False(t, MessageFollowUp.Event())
	require.False(t, MessageDelayResp.Event())
	require.False(t, MessageAnnounce.Event())
}

func TestPortStateString(t *testing.T) {
	require.Equal(t, "INITIALIZING", PortStateInitializing.String())
	require.Equal(t, "FAULTY", PortStateFaulty.String())
	require.Equal(t, "DISABLED", PortStateDisabled.String())
	require.Equal(t, "LISTENING", PortStateListening.String())
	require.Equal(t, "PRE_MASTER", PortStatePreMaster.String())
	require.Equal(t, "MASTER", PortStateMaster.String())
	require.Equal(t, "PASSIVE", PortStatePassive.String())
	require.Equal(t, "UNCALIBRATED", PortStateUncalibrated.String())
	require.Equal(t, "SLAVE", PortStateSlave.String())
	require.Equal(t, "UNKNOWN", PortState(42).String())
	require.Len(t, PortStates(), len(PortStateToString))
}

func TestPortIdentityString(t *testing.T) {
	pi := PortIdentity{}
	require.Equal(t, "000000.0000.000000-0", pi.String())
	pi = PortIdentity{
		ClockIdentity: 5212879185253000328,
		PortNumber:    1,
	}
	require.Equal(t, "4857dd.fffe.086488-1", pi.String())
}

func TestPortIdentityCompare(t *testing.T) {
	a := PortIdentity{ClockIdentity: 1, PortNumber: 2}
	b := PortIdentity{ClockIdentity: 1, PortNumber: 3}
	c := PortIdentity{ClockIdentity: 2, PortNumber: 1}
	require.Equal(t, 0, a.Compare(a))
	require.Equal(t, -1, a.Compare(b))
	require.Equal(t, 1, b.Compare(a))
	require.Equal(t, -1, b.Compare(c))
	require.True(t, a.Less(c))
	require.False(t, c.Less(a))
}

func TestClockIdentity(t *testing.T) {
	mac, err := net.ParseMAC("48:57:dd:08:64:88")
	require.NoError(t, err)
	ci, err := NewClockIdentity(mac)
	require.NoError(t, err)
	require.Equal(t, ClockIdentity(5212879185253000328), ci)
	require.Equal(t, mac, ci.MAC())

	parsed, err := ParseClockIdentity(ci.String())
	require.NoError(t, err)
	require.Equal(t, ci, parsed)

	_, err = ParseClockIdentity("4857dd.fffe")
	require.Error(t, err)

	_, err = NewClockIdentity(net.HardwareAddr{1, 2, 3})
	require.Error(t, err)

	eui64 := net.HardwareAddr{1, 2, 3, 4, 5, 6, 7, 8}
	ci, err = NewClockIdentity(eui64)
	require.NoError(t, err)
	require.Equal(t, ClockIdentity(0x0102030405060708), ci)
}

func TestCorrection(t *testing.T) {
	c := NewCorrection(50)
	require.Equal(t, int64(50), c.Nanoseconds())
	require.Equal(t, "Correction(50.000ns)", c.String())
	require.Equal(t, TimeInternal{Seconds: 0, Nanoseconds: 50}, c.TimeInternal())

	c = NewCorrection(-1500)
	require.Equal(t, int64(-1500), c.Nanoseconds())

	c = Correction(0x7fffffffffffffff)
	require.True(t, c.TooBig())
	require.Equal(t, int64(0), c.Nanoseconds())
	require.Equal(t, "Correction(Too big)", c.String())

	// 2.5ns is 0000 0000 0002 8000
	require.Equal(t, "Correction(2.500ns)", Correction(0x28000).String())
}

func TestTimestamp(t *testing.T) {
	require.True(t, Timestamp{}.Empty())
	require.True(t, NewTimestamp(time.Time{}).Empty())
	require.Equal(t, time.Time{}, Timestamp{}.Time())

	now := time.Unix(1653574589, 806327000)
	ts := NewTimestamp(now)
	require.Equal(t, uint64(1653574589), ts.Seconds)
	require.Equal(t, uint32(806327000), ts.Nanoseconds)
	require.True(t, now.Equal(ts.Time()))
	require.Equal(t, "Timestamp(1653574589.806327000)", ts.String())
}

func TestLogInterval(t *testing.T) {
	require.Equal(t, time.Second, LogInterval(0).Duration())
	require.Equal(t, 2*time.Second, LogInterval(1).Duration())
	require.Equal(t, 250*time.Millisecond, LogInterval(-2).Duration())

	li, err := NewLogInterval(8 * time.Second)
	require.NoError(t, err)
	require.Equal(t, LogInterval(3), li)

	li, err = NewLogInterval(125 * time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, LogInterval(-3), li)
}

func TestClockAccuracyFromOffset(t *testing.T) {
	require.Equal(t, ClockAccuracyNanosecond25, ClockAccuracyFromOffset(-10*time.Nanosecond))
	require.Equal(t, ClockAccuracyMicrosecond1, ClockAccuracyFromOffset(time.Microsecond))
	require.Equal(t, ClockAccuracyMillisecond100, ClockAccuracyFromOffset(42*time.Millisecond))
	require.Equal(t, ClockAccuracySecondGreater10, ClockAccuracyFromOffset(time.Minute))
}

func TestClockClassMasterCapable(t *testing.T) {
	require.True(t, ClockClassPrimaryReference.MasterCapable())
	require.False(t, ClockClassDefault.MasterCapable())
	require.False(t, ClockClassSlaveOnly.MasterCapable())
}

func TestDelayMechanism(t *testing.T) {
	d, err := DelayMechanismFromString("p2p")
	require.NoError(t, err)
	require.Equal(t, DelayMechanismP2P, d)
	require.Equal(t, "P2P", d.String())

	var m DelayMechanism
	require.NoError(t, m.UnmarshalText([]byte("E2E")))
	require.Equal(t, DelayMechanismE2E, m)
	require.Error(t, m.UnmarshalText([]byte("nope")))

	txt, err := m.MarshalText()
	require.NoError(t, err)
	require.Equal(t, "E2E", string(txt))
}
