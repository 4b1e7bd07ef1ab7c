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
	"encoding/binary"
	"fmt"
	"math"
	"net"
	"strconv"
	"strings"
	"time"
)

// 2 ** 16
const twoPow16 = 65536

// MessageType is type for Message Types
type MessageType uint8

// As per Table 19 Values of messageType field
const (
	MessageSync               MessageType = 0x0
	MessageDelayReq           MessageType = 0x1
	MessagePDelayReq          MessageType = 0x2
	MessagePDelayResp         MessageType = 0x3
	MessageFollowUp           MessageType = 0x8
	MessageDelayResp          MessageType = 0x9
	MessagePDelayRespFollowUp MessageType = 0xA
	MessageAnnounce           MessageType = 0xB
	MessageSignaling          MessageType = 0xC
	MessageManagement         MessageType = 0xD
)

// MessageTypeToString is a map from MessageType to string
var MessageTypeToString = map[MessageType]string{
	MessageSync:               "SYNC",
	MessageDelayReq:           "DELAY_REQ",
	MessagePDelayReq:          "PDELAY_REQ",
	MessagePDelayResp:         "PDELAY_RESP",
	MessageFollowUp:           "FOLLOW_UP",
	MessageDelayResp:          "DELAY_RESP",
	MessagePDelayRespFollowUp: "PDELAY_RESP_FOLLOW_UP",
	MessageAnnounce:           "ANNOUNCE",
	MessageSignaling:          "SIGNALING",
	MessageManagement:         "MANAGEMENT",
}

func (m MessageType) String() string {
	if s, ok := MessageTypeToString[m]; ok {
		return s
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint8(m))
}

// Event reports whether messages of this type are timestamped and travel over the event channel
func (m MessageType) Event() bool {
	return m <= MessagePDelayResp
}

// controlField values as per Table 23, kept for compatibility with 1588-2002 nodes
func (m MessageType) controlField() uint8 {
	switch m {
	case MessageSync:
		return 0
	case MessageDelayReq:
		return 1
	case MessageFollowUp:
		return 2
	case MessageDelayResp:
		return 3
	case MessageManagement:
		return 4
	}
	return 5
}

// SdoIDAndMsgType is a uint8 where first 4 bites contain SdoID (transportSpecific) and last 4 bits MessageType
type SdoIDAndMsgType uint8

// MsgType extracts MessageType from SdoIDAndMsgType
func (m SdoIDAndMsgType) MsgType() MessageType {
	return MessageType(m & 0xf)
}

// NewSdoIDAndMsgType builds new SdoIDAndMsgType from MessageType and flags
func NewSdoIDAndMsgType(msgType MessageType, sdoID uint8) SdoIDAndMsgType {
	return SdoIDAndMsgType(sdoID<<4 | uint8(msgType))
}

// ProbeMsgType reads first 8 bits of data and returns MessageType
func ProbeMsgType(data []byte) (MessageType, error) {
	if len(data) < 1 {
		return 0, fmt.Errorf("%w: not enough data to probe message type", ErrMalformed)
	}
	return SdoIDAndMsgType(data[0]).MsgType(), nil
}

/*
Correction is the value of the correction measured in nanoseconds and multiplied by 2**16.
For example, 2.5 ns is represented as 0000 0000 0002 8000 base 16.
A value of one in all bits, except the most significant, indicates the correction is too big to be represented.
*/
type Correction int64

const correctionTooBig = Correction(math.MaxInt64)

// Nanoseconds decodes Correction to nanoseconds, dropping sub-nanosecond fraction
func (c Correction) Nanoseconds() int64 {
	if c.TooBig() {
		return 0
	}
	return int64(c) >> 16
}

// TimeInternal converts Correction to TimeInternal
func (c Correction) TimeInternal() TimeInternal {
	return TimeInternalFromNanoseconds(c.Nanoseconds())
}

// TooBig means correction is too big to be represented
func (c Correction) TooBig() bool {
	return c == correctionTooBig
}

func (c Correction) String() string {
	if c.TooBig() {
		return "Correction(Too big)"
	}
	return fmt.Sprintf("Correction(%.3fns)", float64(c)/twoPow16)
}

// NewCorrection returns Correction built from nanoseconds
func NewCorrection(ns int64) Correction {
	if ns > math.MaxInt64>>16 || ns < math.MinInt64>>16 {
		return correctionTooBig
	}
	return Correction(ns << 16)
}

// ClockIdentity uniquely identifies a clock, usually derived from a MAC address
type ClockIdentity uint64

// String formats ClockIdentity same way ptp4l pmc client does
func (c ClockIdentity) String() string {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(c))
	return fmt.Sprintf("%02x%02x%02x.%02x%02x.%02x%02x%02x", b[0], b[1], b[2], b[3], b[4], b[5], b[6], b[7])
}

// MAC turns ClockIdentity into the EUI-48 MAC address it was based upon
func (c ClockIdentity) MAC() net.HardwareAddr {
	return net.HardwareAddr{byte(c >> 56), byte(c >> 48), byte(c >> 40), byte(c >> 16), byte(c >> 8), byte(c)}
}

// NewClockIdentity creates new ClockIdentity from MAC address
func NewClockIdentity(mac net.HardwareAddr) (ClockIdentity, error) {
	var b [8]byte
	switch len(mac) {
	case 6: // EUI-48
		copy(b[0:3], mac[0:3])
		b[3], b[4] = 0xFF, 0xFE
		copy(b[5:8], mac[3:6])
	case 8: // EUI-64
		copy(b[:], mac)
	default:
		return 0, fmt.Errorf("unsupported MAC %v, must be either EUI48 or EUI64", mac)
	}
	return ClockIdentity(binary.BigEndian.Uint64(b[:])), nil
}

// ParseClockIdentity parses ClockIdentity in the form produced by String
func ParseClockIdentity(s string) (ClockIdentity, error) {
	hex := strings.ReplaceAll(s, ".", "")
	if len(hex) != 16 {
		return 0, fmt.Errorf("malformed clock identity %q", s)
	}
	v, err := strconv.ParseUint(hex, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed clock identity %q: %w", s, err)
	}
	return ClockIdentity(v), nil
}

// PortIdentity identifies a PTP port
type PortIdentity struct {
	ClockIdentity ClockIdentity
	PortNumber    uint16
}

// String formats PortIdentity same way ptp4l pmc client does
func (p PortIdentity) String() string {
	return fmt.Sprintf("%s-%d", p.ClockIdentity, p.PortNumber)
}

// Compare returns -1, 0 or 1. Port identities sort by clock identity, then by port number.
func (p PortIdentity) Compare(q PortIdentity) int {
	switch {
	case p.ClockIdentity < q.ClockIdentity:
		return -1
	case p.ClockIdentity > q.ClockIdentity:
		return 1
	case p.PortNumber < q.PortNumber:
		return -1
	case p.PortNumber > q.PortNumber:
		return 1
	}
	return 0
}

// Less reports whether p sorts before q
func (p PortIdentity) Less(q PortIdentity) bool { return p.Compare(q) < 0 }

// maxSeconds is the largest value of the 48-bit secondsField
const maxSeconds = 1<<48 - 1

/*
Timestamp represents a positive time with respect to the epoch.
Seconds is a 48 bit unsigned integer on the wire, Nanoseconds is always less than 10**9.
*/
type Timestamp struct {
	Seconds     uint64
	Nanoseconds uint32
}

// Empty timestamp
func (t Timestamp) Empty() bool {
	return t.Seconds == 0 && t.Nanoseconds == 0
}

// Time turns Timestamp into time.Time
func (t Timestamp) Time() time.Time {
	if t.Empty() {
		return time.Time{}
	}
	return time.Unix(int64(t.Seconds), int64(t.Nanoseconds))
}

func (t Timestamp) String() string {
	if t.Empty() {
		return "Timestamp(empty)"
	}
	return fmt.Sprintf("Timestamp(%d.%09d)", t.Seconds, t.Nanoseconds)
}

// NewTimestamp creates Timestamp from time.Time
func NewTimestamp(t time.Time) Timestamp {
	if t.IsZero() {
		return Timestamp{}
	}
	return Timestamp{Seconds: uint64(t.Unix()) & maxSeconds, Nanoseconds: uint32(t.Nanosecond())}
}

func (t Timestamp) put(b []byte) {
	s := t.Seconds & maxSeconds
	binary.BigEndian.PutUint16(b[0:], uint16(s>>32))
	binary.BigEndian.PutUint32(b[2:], uint32(s))
	binary.BigEndian.PutUint32(b[6:], t.Nanoseconds)
}

func readTimestamp(b []byte) Timestamp {
	return Timestamp{
		Seconds:     uint64(binary.BigEndian.Uint16(b[0:]))<<32 | uint64(binary.BigEndian.Uint32(b[2:])),
		Nanoseconds: binary.BigEndian.Uint32(b[6:]),
	}
}

// ClockClass represents a PTP clock class
type ClockClass uint8

// Notable clock classes, Table 5 clockClass specifications
const (
	ClockClassPrimaryReference ClockClass = 6
	ClockClassHoldover         ClockClass = 7
	ClockClassARB              ClockClass = 13
	ClockClassDefault          ClockClass = 248
	ClockClassSlaveOnly        ClockClass = 255
)

// MasterCapable reports whether a clock of this class may become grandmaster of a domain
func (c ClockClass) MasterCapable() bool {
	return c <= 127
}

// ClockAccuracy represents a PTP clock accuracy bucket
type ClockAccuracy uint8

// Table 6 clockAccuracy enumeration
const (
	ClockAccuracyNanosecond25       ClockAccuracy = 0x20
	ClockAccuracyNanosecond100      ClockAccuracy = 0x21
	ClockAccuracyNanosecond250      ClockAccuracy = 0x22
	ClockAccuracyMicrosecond1       ClockAccuracy = 0x23
	ClockAccuracyMicrosecond2point5 ClockAccuracy = 0x24
	ClockAccuracyMicrosecond10      ClockAccuracy = 0x25
	ClockAccuracyMicrosecond25      ClockAccuracy = 0x26
	ClockAccuracyMicrosecond100     ClockAccuracy = 0x27
	ClockAccuracyMicrosecond250     ClockAccuracy = 0x28
	ClockAccuracyMillisecond1       ClockAccuracy = 0x29
	ClockAccuracyMillisecond2point5 ClockAccuracy = 0x2A
	ClockAccuracyMillisecond10      ClockAccuracy = 0x2B
	ClockAccuracyMillisecond25      ClockAccuracy = 0x2C
	ClockAccuracyMillisecond100     ClockAccuracy = 0x2D
	ClockAccuracyMillisecond250     ClockAccuracy = 0x2E
	ClockAccuracySecond1            ClockAccuracy = 0x2F
	ClockAccuracySecond10           ClockAccuracy = 0x30
	ClockAccuracySecondGreater10    ClockAccuracy = 0x31
	ClockAccuracyUnknown            ClockAccuracy = 0xFE
)

var accuracyBounds = []struct {
	bound time.Duration
	acc   ClockAccuracy
}{
	{25 * time.Nanosecond, ClockAccuracyNanosecond25},
	{100 * time.Nanosecond, ClockAccuracyNanosecond100},
	{250 * time.Nanosecond, ClockAccuracyNanosecond250},
	{time.Microsecond, ClockAccuracyMicrosecond1},
	{2500 * time.Nanosecond, ClockAccuracyMicrosecond2point5},
	{10 * time.Microsecond, ClockAccuracyMicrosecond10},
	{25 * time.Microsecond, ClockAccuracyMicrosecond25},
	{100 * time.Microsecond, ClockAccuracyMicrosecond100},
	{250 * time.Microsecond, ClockAccuracyMicrosecond250},
	{time.Millisecond, ClockAccuracyMillisecond1},
	{2500 * time.Microsecond, ClockAccuracyMillisecond2point5},
	{10 * time.Millisecond, ClockAccuracyMillisecond10},
	{25 * time.Millisecond, ClockAccuracyMillisecond25},
	{100 * time.Millisecond, ClockAccuracyMillisecond100},
	{250 * time.Millisecond, ClockAccuracyMillisecond250},
	{time.Second, ClockAccuracySecond1},
	{10 * time.Second, ClockAccuracySecond10},
}

// ClockAccuracyFromOffset returns the finest accuracy bucket covering the offset
func ClockAccuracyFromOffset(offset time.Duration) ClockAccuracy {
	if offset < 0 {
		offset = -offset
	}
	for _, b := range accuracyBounds {
		if offset <= b.bound {
			return b.acc
		}
	}
	return ClockAccuracySecondGreater10
}

// ClockQuality represents the quality of a clock
type ClockQuality struct {
	ClockClass              ClockClass    `json:"clock_class" yaml:"clockclass"`
	ClockAccuracy           ClockAccuracy `json:"clock_accuracy" yaml:"clockaccuracy"`
	OffsetScaledLogVariance uint16        `json:"offset_scaled_log_variance" yaml:"offsetscaledlogvariance"`
}

// TimeSource indicates the immediate source of time used by the grandmaster
type TimeSource uint8

// Table 7 timeSource enumeration
const (
	TimeSourceAtomicClock        TimeSource = 0x10
	TimeSourceGNSS               TimeSource = 0x20
	TimeSourceTerrestrialRadio   TimeSource = 0x30
	TimeSourcePTP                TimeSource = 0x40
	TimeSourceNTP                TimeSource = 0x50
	TimeSourceHandSet            TimeSource = 0x60
	TimeSourceOther              TimeSource = 0x90
	TimeSourceInternalOscillator TimeSource = 0xA0
)

// TimeSourceToString is a map from TimeSource to string
var TimeSourceToString = map[TimeSource]string{
	TimeSourceAtomicClock:        "ATOMIC_CLOCK",
	TimeSourceGNSS:               "GNSS",
	TimeSourceTerrestrialRadio:   "TERRESTRIAL_RADIO",
	TimeSourcePTP:                "PTP",
	TimeSourceNTP:                "NTP",
	TimeSourceHandSet:            "HAND_SET",
	TimeSourceOther:              "OTHER",
	TimeSourceInternalOscillator: "INTERNAL_OSCILLATOR",
}

func (t TimeSource) String() string {
	return TimeSourceToString[t]
}

// LogInterval is the logarithm, to base 2, of a period in seconds
type LogInterval int8

// Duration returns LogInterval as time.Duration
func (i LogInterval) Duration() time.Duration {
	return time.Duration(math.Pow(2, float64(i)) * float64(time.Second))
}

// NewLogInterval returns new LogInterval from time.Duration
func NewLogInterval(d time.Duration) (LogInterval, error) {
	li := int(math.Round(math.Log2(d.Seconds())))
	if li > math.MaxInt8 || li < math.MinInt8 {
		return 0, fmt.Errorf("logInterval %d is out of range", li)
	}
	return LogInterval(li), nil
}

// PortState is a enum describing one of possible states of port state machines
type PortState uint8

// Table 8 PTP state enumeration
const (
	PortStateInitializing PortState = iota + 1
	PortStateFaulty
	PortStateDisabled
	PortStateListening
	PortStatePreMaster
	PortStateMaster
	PortStatePassive
	PortStateUncalibrated
	PortStateSlave
)

// PortStateToString is a map from PortState to string
var PortStateToString = map[PortState]string{
	PortStateInitializing: "INITIALIZING",
	PortStateFaulty:       "FAULTY",
	PortStateDisabled:     "DISABLED",
	PortStateListening:    "LISTENING",
	PortStatePreMaster:    "PRE_MASTER",
	PortStateMaster:       "MASTER",
	PortStatePassive:      "PASSIVE",
	PortStateUncalibrated: "UNCALIBRATED",
	PortStateSlave:        "SLAVE",
}

func (ps PortState) String() string {
	if s, ok := PortStateToString[ps]; ok {
		return s
	}
	return "UNKNOWN"
}

// PortStates lists all valid port states
func PortStates() []PortState {
	return []PortState{
		PortStateInitializing,
		PortStateFaulty,
		PortStateDisabled,
		PortStateListening,
		PortStatePreMaster,
		PortStateMaster,
		PortStatePassive,
		PortStateUncalibrated,
		PortStateSlave,
	}
}

// DelayMechanism is the path delay measurement mechanism of a port
type DelayMechanism uint8

// Table 9 delayMechanism enumeration
const (
	DelayMechanismE2E      DelayMechanism = 0x01
	DelayMechanismP2P      DelayMechanism = 0x02
	DelayMechanismDisabled DelayMechanism = 0xFE
)

// DelayMechanismToString is a map from DelayMechanism to string
var DelayMechanismToString = map[DelayMechanism]string{
	DelayMechanismE2E:      "E2E",
	DelayMechanismP2P:      "P2P",
	DelayMechanismDisabled: "DISABLED",
}

func (d DelayMechanism) String() string {
	return DelayMechanismToString[d]
}

// DelayMechanismFromString parses DelayMechanism name
func DelayMechanismFromString(s string) (DelayMechanism, error) {
	for k, v := range DelayMechanismToString {
		if strings.EqualFold(v, s) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown delay mechanism %q", s)
}

// MarshalText implements encoding.TextMarshaler
func (d DelayMechanism) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (d *DelayMechanism) UnmarshalText(b []byte) error {
	v, err := DelayMechanismFromString(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// UnmarshalYAML allows using E2E/P2P in yaml.v2 config files
func (d *DelayMechanism) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(s))
}

// MarshalYAML implements yaml.Marshaler
func (d DelayMechanism) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}
