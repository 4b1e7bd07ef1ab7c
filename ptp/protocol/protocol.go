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

// all references are given for IEEE 1588-2008 Standard

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
)

// Version is what version of PTP protocol we implement
const Version uint8 = 2

// UDP port numbers.
// The UDP destination port of a PTP event message shall be 319.
// The UDP destination port of a PTP general message shall be 320.
const (
	PortEvent   = 319
	PortGeneral = 320
)

// Multicast groups of Annex D
var (
	// DefaultMulticastIP carries all messages except peer delay ones
	DefaultMulticastIP = net.IPv4(224, 0, 1, 129)
	// PeerMulticastIP carries Pdelay_Req, Pdelay_Resp and Pdelay_Resp_Follow_Up
	PeerMulticastIP = net.IPv4(224, 0, 0, 107)
)

// wire sizes
const (
	HeaderSize             = 34
	timestampSize          = 10
	portIdentitySize       = 10
	AnnounceSize           = HeaderSize + 30
	SyncDelayReqSize       = HeaderSize + timestampSize
	FollowUpSize           = HeaderSize + timestampSize
	DelayRespSize          = HeaderSize + timestampSize + portIdentitySize
	PDelayReqSize          = HeaderSize + timestampSize + 10
	PDelayRespSize         = HeaderSize + timestampSize + portIdentitySize
	PDelayRespFollowUpSize = HeaderSize + timestampSize + portIdentitySize
)

// ErrMalformed is returned when bytes can't be decoded to a PTP message
var ErrMalformed = errors.New("malformed PTP message")

// ErrUnsupported is returned for well-formed messages this implementation doesn't process
var ErrUnsupported = errors.New("unsupported PTP message")

// Header Table 18 Common message header
type Header struct {
	SdoIDAndMsgType     SdoIDAndMsgType
	Version             uint8
	MessageLength       uint16
	DomainNumber        uint8
	MinorSdoID          uint8
	FlagField           uint16
	CorrectionField     Correction
	MessageTypeSpecific uint32
	SourcePortIdentity  PortIdentity
	SequenceID          uint16
	ControlField        uint8
	LogMessageInterval  LogInterval
}

// MessageType returns MessageType
func (h *Header) MessageType() MessageType {
	return h.SdoIDAndMsgType.MsgType()
}

// SetSequence populates sequence field
func (h *Header) SetSequence(sequence uint16) {
	h.SequenceID = sequence
}

// Head returns the header itself, allowing generic access to header fields of any Packet
func (h *Header) Head() *Header {
	return h
}

// flags used in FlagField as per Table 20 Values of flagField
const (
	// first octet
	FlagAlternateMaster  uint16 = 1 << (8 + 0)
	FlagTwoStep          uint16 = 1 << (8 + 1)
	FlagUnicast          uint16 = 1 << (8 + 2)
	FlagProfileSpecific1 uint16 = 1 << (8 + 5)
	FlagProfileSpecific2 uint16 = 1 << (8 + 6)
	// second octet
	FlagLeap61                uint16 = 1 << 0
	FlagLeap59                uint16 = 1 << 1
	FlagCurrentUtcOffsetValid uint16 = 1 << 2
	FlagPTPTimescale          uint16 = 1 << 3
	FlagTimeTraceable         uint16 = 1 << 4
	FlagFrequencyTraceable    uint16 = 1 << 5
)

// NewHeader returns a header for a message of given type with the fields derived from it filled in
func NewHeader(msgType MessageType, domain uint8, source PortIdentity, interval LogInterval) Header {
	return Header{
		SdoIDAndMsgType:    NewSdoIDAndMsgType(msgType, 0),
		Version:            Version,
		DomainNumber:       domain,
		SourcePortIdentity: source,
		ControlField:       msgType.controlField(),
		LogMessageInterval: interval,
	}
}

func (h *Header) marshalTo(b []byte, length int) {
	h.MessageLength = uint16(length)
	b[0] = byte(h.SdoIDAndMsgType)
	b[1] = h.Version
	binary.BigEndian.PutUint16(b[2:], h.MessageLength)
	b[4] = h.DomainNumber
	b[5] = h.MinorSdoID
	binary.BigEndian.PutUint16(b[6:], h.FlagField)
	binary.BigEndian.PutUint64(b[8:], uint64(h.CorrectionField))
	binary.BigEndian.PutUint32(b[16:], h.MessageTypeSpecific)
	putPortIdentity(b[20:], h.SourcePortIdentity)
	binary.BigEndian.PutUint16(b[30:], h.SequenceID)
	b[32] = h.ControlField
	b[33] = byte(h.LogMessageInterval)
}

func (h *Header) unmarshal(b []byte, want int) error {
	if len(b) < HeaderSize {
		return fmt.Errorf("%w: %d bytes is shorter than header", ErrMalformed, len(b))
	}
	h.SdoIDAndMsgType = SdoIDAndMsgType(b[0])
	h.Version = b[1]
	h.MessageLength = binary.BigEndian.Uint16(b[2:])
	h.DomainNumber = b[4]
	h.MinorSdoID = b[5]
	h.FlagField = binary.BigEndian.Uint16(b[6:])
	h.CorrectionField = Correction(binary.BigEndian.Uint64(b[8:]))
	h.MessageTypeSpecific = binary.BigEndian.Uint32(b[16:])
	h.SourcePortIdentity = readPortIdentity(b[20:])
	h.SequenceID = binary.BigEndian.Uint16(b[30:])
	h.ControlField = b[32]
	h.LogMessageInterval = LogInterval(int8(b[33]))

	if h.Version&0x0f != Version {
		return fmt.Errorf("%w: unsupported version %d", ErrMalformed, h.Version&0x0f)
	}
	if int(h.MessageLength) > len(b) {
		return fmt.Errorf("%w: messageLength %d exceeds %d received bytes", ErrMalformed, h.MessageLength, len(b))
	}
	if int(h.MessageLength) < want {
		return fmt.Errorf("%w: %s needs %d bytes, messageLength is %d", ErrMalformed, h.MessageType(), want, h.MessageLength)
	}
	return nil
}

func putPortIdentity(b []byte, p PortIdentity) {
	binary.BigEndian.PutUint64(b[0:], uint64(p.ClockIdentity))
	binary.BigEndian.PutUint16(b[8:], p.PortNumber)
}

func readPortIdentity(b []byte) PortIdentity {
	return PortIdentity{
		ClockIdentity: ClockIdentity(binary.BigEndian.Uint64(b[0:])),
		PortNumber:    binary.BigEndian.Uint16(b[8:]),
	}
}

// Packet is an interface to abstract all different packets
type Packet interface {
	MessageType() MessageType
	SetSequence(uint16)
	Head() *Header
	MarshalBinary() ([]byte, error)
	UnmarshalBinary([]byte) error
}

// AnnounceBody Table 25 Announce message fields
type AnnounceBody struct {
	OriginTimestamp         Timestamp
	CurrentUTCOffset        int16
	GrandmasterPriority1    uint8
	GrandmasterClockQuality ClockQuality
	GrandmasterPriority2    uint8
	GrandmasterIdentity     ClockIdentity
	StepsRemoved            uint16
	TimeSource              TimeSource
}

// Announce is a full Announce packet
type Announce struct {
	Header
	AnnounceBody
}

// MarshalBinary converts Announce to []byte
func (p *Announce) MarshalBinary() ([]byte, error) {
	b := make([]byte, AnnounceSize)
	p.Header.marshalTo(b, AnnounceSize)
	p.OriginTimestamp.put(b[34:])
	binary.BigEndian.PutUint16(b[44:], uint16(p.CurrentUTCOffset))
	b[47] = p.GrandmasterPriority1
	b[48] = byte(p.GrandmasterClockQuality.ClockClass)
	b[49] = byte(p.GrandmasterClockQuality.ClockAccuracy)
	binary.BigEndian.PutUint16(b[50:], p.GrandmasterClockQuality.OffsetScaledLogVariance)
	b[52] = p.GrandmasterPriority2
	binary.BigEndian.PutUint64(b[53:], uint64(p.GrandmasterIdentity))
	binary.BigEndian.PutUint16(b[61:], p.StepsRemoved)
	b[63] = byte(p.TimeSource)
	return b, nil
}

// UnmarshalBinary parses []byte into Announce
func (p *Announce) UnmarshalBinary(b []byte) error {
	if err := p.Header.unmarshal(b, AnnounceSize); err != nil {
		return err
	}
	p.OriginTimestamp = readTimestamp(b[34:])
	p.CurrentUTCOffset = int16(binary.BigEndian.Uint16(b[44:]))
	p.GrandmasterPriority1 = b[47]
	p.GrandmasterClockQuality = ClockQuality{
		ClockClass:              ClockClass(b[48]),
		ClockAccuracy:           ClockAccuracy(b[49]),
		OffsetScaledLogVariance: binary.BigEndian.Uint16(b[50:]),
	}
	p.GrandmasterPriority2 = b[52]
	p.GrandmasterIdentity = ClockIdentity(binary.BigEndian.Uint64(b[53:]))
	p.StepsRemoved = binary.BigEndian.Uint16(b[61:])
	p.TimeSource = TimeSource(b[63])
	return nil
}

// SyncDelayReqBody Table 26 Sync and Delay_Req message fields
type SyncDelayReqBody struct {
	OriginTimestamp Timestamp
}

// SyncDelayReq is a full Sync/Delay_Req packet
type SyncDelayReq struct {
	Header
	SyncDelayReqBody
}

// MarshalBinary converts Sync/Delay_Req to []byte
func (p *SyncDelayReq) MarshalBinary() ([]byte, error) {
	b := make([]byte, SyncDelayReqSize)
	p.Header.marshalTo(b, SyncDelayReqSize)
	p.OriginTimestamp.put(b[34:])
	return b, nil
}

// UnmarshalBinary parses []byte into Sync/Delay_Req
func (p *SyncDelayReq) UnmarshalBinary(b []byte) error {
	if err := p.Header.unmarshal(b, SyncDelayReqSize); err != nil {
		return err
	}
	p.OriginTimestamp = readTimestamp(b[34:])
	return nil
}

// FollowUpBody Table 27 Follow_Up message fields
type FollowUpBody struct {
	PreciseOriginTimestamp Timestamp
}

// FollowUp is a full Follow_Up packet
type FollowUp struct {
	Header
	FollowUpBody
}

// MarshalBinary converts Follow_Up to []byte
func (p *FollowUp) MarshalBinary() ([]byte, error) {
	b := make([]byte, FollowUpSize)
	p.Header.marshalTo(b, FollowUpSize)
	p.PreciseOriginTimestamp.put(b[34:])
	return b, nil
}

// UnmarshalBinary parses []byte into Follow_Up
func (p *FollowUp) UnmarshalBinary(b []byte) error {
	if err := p.Header.unmarshal(b, FollowUpSize); err != nil {
		return err
	}
	p.PreciseOriginTimestamp = readTimestamp(b[34:])
	return nil
}

// DelayRespBody Table 28 Delay_Resp message fields
type DelayRespBody struct {
	ReceiveTimestamp       Timestamp
	RequestingPortIdentity PortIdentity
}

// DelayResp is a full Delay_Resp packet
type DelayResp struct {
	Header
	DelayRespBody
}

// MarshalBinary converts Delay_Resp to []byte
func (p *DelayResp) MarshalBinary() ([]byte, error) {
	b := make([]byte, DelayRespSize)
	p.Header.marshalTo(b, DelayRespSize)
	p.ReceiveTimestamp.put(b[34:])
	putPortIdentity(b[44:], p.RequestingPortIdentity)
	return b, nil
}

// UnmarshalBinary parses []byte into Delay_Resp
func (p *DelayResp) UnmarshalBinary(b []byte) error {
	if err := p.Header.unmarshal(b, DelayRespSize); err != nil {
		return err
	}
	p.ReceiveTimestamp = readTimestamp(b[34:])
	p.RequestingPortIdentity = readPortIdentity(b[44:])
	return nil
}

// PDelayReqBody Table 29 Pdelay_Req message fields
type PDelayReqBody struct {
	OriginTimestamp Timestamp
}

// PDelayReq is a full Pdelay_Req packet
type PDelayReq struct {
	Header
	PDelayReqBody
}

// MarshalBinary converts Pdelay_Req to []byte, the 10 reserved bytes are zeroed
func (p *PDelayReq) MarshalBinary() ([]byte, error) {
	b := make([]byte, PDelayReqSize)
	p.Header.marshalTo(b, PDelayReqSize)
	p.OriginTimestamp.put(b[34:])
	return b, nil
}

// UnmarshalBinary parses []byte into Pdelay_Req
func (p *PDelayReq) UnmarshalBinary(b []byte) error {
	if err := p.Header.unmarshal(b, PDelayReqSize); err != nil {
		return err
	}
	p.OriginTimestamp = readTimestamp(b[34:])
	return nil
}

// PDelayRespBody Table 30 Pdelay_Resp message fields
type PDelayRespBody struct {
	RequestReceiptTimestamp Timestamp
	RequestingPortIdentity  PortIdentity
}

// PDelayResp is a full Pdelay_Resp packet
type PDelayResp struct {
	Header
	PDelayRespBody
}

// MarshalBinary converts Pdelay_Resp to []byte
func (p *PDelayResp) MarshalBinary() ([]byte, error) {
	b := make([]byte, PDelayRespSize)
	p.Header.marshalTo(b, PDelayRespSize)
	p.RequestReceiptTimestamp.put(b[34:])
	putPortIdentity(b[44:], p.RequestingPortIdentity)
	return b, nil
}

// UnmarshalBinary parses []byte into Pdelay_Resp
func (p *PDelayResp) UnmarshalBinary(b []byte) error {
	if err := p.Header.unmarshal(b, PDelayRespSize); err != nil {
		return err
	}
	p.RequestReceiptTimestamp = readTimestamp(b[34:])
	p.RequestingPortIdentity = readPortIdentity(b[44:])
	return nil
}

// PDelayRespFollowUpBody Table 31 Pdelay_Resp_Follow_Up message fields
type PDelayRespFollowUpBody struct {
	ResponseOriginTimestamp Timestamp
	RequestingPortIdentity  PortIdentity
}

// PDelayRespFollowUp is a full Pdelay_Resp_Follow_Up packet
type PDelayRespFollowUp struct {
	Header
	PDelayRespFollowUpBody
}

// MarshalBinary converts Pdelay_Resp_Follow_Up to []byte
func (p *PDelayRespFollowUp) MarshalBinary() ([]byte, error) {
	b := make([]byte, PDelayRespFollowUpSize)
	p.Header.marshalTo(b, PDelayRespFollowUpSize)
	p.ResponseOriginTimestamp.put(b[34:])
	putPortIdentity(b[44:], p.RequestingPortIdentity)
	return b, nil
}

// UnmarshalBinary parses []byte into Pdelay_Resp_Follow_Up
func (p *PDelayRespFollowUp) UnmarshalBinary(b []byte) error {
	if err := p.Header.unmarshal(b, PDelayRespFollowUpSize); err != nil {
		return err
	}
	p.ResponseOriginTimestamp = readTimestamp(b[34:])
	p.RequestingPortIdentity = readPortIdentity(b[44:])
	return nil
}

// Bytes converts any packet to []byte
func Bytes(p Packet) ([]byte, error) {
	return p.MarshalBinary()
}

// FromBytes parses []byte into any packet
func FromBytes(rawBytes []byte, p Packet) error {
	return p.UnmarshalBinary(rawBytes)
}

// DecodePacket provides single entry point to try and decode any []byte to PTPv2 packet.
// Resulting Packet user can then either switch based on MessageType(), or just with type switch.
// Signaling and Management messages are validated and reported as ErrUnsupported.
func DecodePacket(b []byte) (Packet, error) {
	msgType, err := ProbeMsgType(b)
	if err != nil {
		return nil, err
	}
	var p Packet
	switch msgType {
	case MessageSync, MessageDelayReq:
		p = &SyncDelayReq{}
	case MessagePDelayReq:
		p = &PDelayReq{}
	case MessagePDelayResp:
		p = &PDelayResp{}
	case MessageFollowUp:
		p = &FollowUp{}
	case MessageDelayResp:
		p = &DelayResp{}
	case MessagePDelayRespFollowUp:
		p = &PDelayRespFollowUp{}
	case MessageAnnounce:
		p = &Announce{}
	case MessageSignaling, MessageManagement:
		h := &Header{}
		if err := h.unmarshal(b, HeaderSize); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, msgType)
	default:
		return nil, fmt.Errorf("%w: unknown message type %d", ErrMalformed, msgType)
	}

	if err := FromBytes(b, p); err != nil {
		return nil, err
	}
	return p, nil
}
