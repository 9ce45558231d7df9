// Package ptp implements the IEEE 1588-2008 ordinary-clock master role
// this sender uses to anchor Buffered Audio playback: Sync/Follow_Up
// emission and Delay_Req/Delay_Resp handling on the standard privileged
// event/general UDP ports, with no support for (and no attempt to
// interoperate with) the nonstandard 76-byte "AirPlay PTP" header some
// receivers use.
package ptp

import (
	"encoding/binary"
	"errors"
)

// Standard ports for the PTP event and general message classes.
const (
	EventPort   = 319
	GeneralPort = 320
)

// Message types, the low nibble of the header's first byte.
const (
	MsgSync      = 0x0
	MsgDelayReq  = 0x1
	MsgFollowUp  = 0x8
	MsgDelayResp = 0x9
	MsgAnnounce  = 0xB
)

// headerSize is the standard IEEE 1588 common header length, not the
// "44-byte" figure spec.md quotes for a full Sync/Delay_Req datagram
// (header + 10-byte timestamp body).
const headerSize = 34

const twoStepFlag = 0x0002

// ClockIdentity is the 8-byte EUI-64-derived clock identifier advertised
// in Announce and used as the source port identity on every message this
// master emits.
type ClockIdentity [8]byte

// PortIdentity names one PTP port: a clock identity plus a port number.
type PortIdentity struct {
	Clock  ClockIdentity
	Number uint16
}

// Header is the common 34-byte IEEE 1588 message header.
type Header struct {
	MessageType        uint8
	VersionPTP         uint8
	MessageLength      uint16
	DomainNumber       uint8
	Flags              uint16
	CorrectionField    int64
	SourcePortIdentity PortIdentity
	SequenceID         uint16
	ControlField       uint8
	LogMessageInterval int8
}

func (h Header) marshalInto(buf []byte) {
	buf[0] = 0x10 | (h.MessageType & 0x0F) // transportSpecific=1 (IEEE 802.3 not used; 0x1 per HAP master observations)
	buf[1] = 0x02                          // versionPTP = 2
	binary.BigEndian.PutUint16(buf[2:4], h.MessageLength)
	buf[4] = h.DomainNumber
	buf[5] = 0
	binary.BigEndian.PutUint16(buf[6:8], h.Flags)
	binary.BigEndian.PutUint64(buf[8:16], uint64(h.CorrectionField))
	// bytes 16:20 reserved
	copy(buf[20:28], h.SourcePortIdentity.Clock[:])
	binary.BigEndian.PutUint16(buf[28:30], h.SourcePortIdentity.Number)
	binary.BigEndian.PutUint16(buf[30:32], h.SequenceID)
	buf[32] = h.ControlField
	buf[33] = byte(h.LogMessageInterval)
}

// MarshalBinary encodes the 34-byte common header.
func (h Header) MarshalBinary() ([]byte, error) {
	buf := make([]byte, headerSize)
	h.marshalInto(buf)
	return buf, nil
}

// UnmarshalBinary decodes a 34-byte common header.
func (h *Header) UnmarshalBinary(b []byte) error {
	if len(b) < headerSize {
		return errShortHeader
	}
	h.MessageType = b[0] & 0x0F
	h.VersionPTP = b[1] & 0x0F
	h.MessageLength = binary.BigEndian.Uint16(b[2:4])
	h.DomainNumber = b[4]
	h.Flags = binary.BigEndian.Uint16(b[6:8])
	h.CorrectionField = int64(binary.BigEndian.Uint64(b[8:16]))
	copy(h.SourcePortIdentity.Clock[:], b[20:28])
	h.SourcePortIdentity.Number = binary.BigEndian.Uint16(b[28:30])
	h.SequenceID = binary.BigEndian.Uint16(b[30:32])
	h.ControlField = b[32]
	h.LogMessageInterval = int8(b[33])
	return nil
}

// Timestamp is PTP's 10-byte wire timestamp: a 48-bit (6-byte) seconds
// field and a 32-bit nanoseconds field.
type Timestamp struct {
	Seconds     uint64 // low 48 bits significant
	Nanoseconds uint32
}

func (ts Timestamp) marshalInto(buf []byte) {
	buf[0] = byte(ts.Seconds >> 40)
	buf[1] = byte(ts.Seconds >> 32)
	buf[2] = byte(ts.Seconds >> 24)
	buf[3] = byte(ts.Seconds >> 16)
	buf[4] = byte(ts.Seconds >> 8)
	buf[5] = byte(ts.Seconds)
	binary.BigEndian.PutUint32(buf[6:10], ts.Nanoseconds)
}

func parseTimestamp(buf []byte) Timestamp {
	sec := uint64(buf[0])<<40 | uint64(buf[1])<<32 | uint64(buf[2])<<24 |
		uint64(buf[3])<<16 | uint64(buf[4])<<8 | uint64(buf[5])
	return Timestamp{Seconds: sec, Nanoseconds: binary.BigEndian.Uint32(buf[6:10])}
}

// syncMessage builds a two-step Sync: header + a zeroed origin timestamp
// (the real origin time is carried by the paired Follow_Up instead).
func syncMessage(domain uint8, source PortIdentity, seq uint16) []byte {
	buf := make([]byte, headerSize+10)
	Header{
		MessageType:        MsgSync,
		MessageLength:      uint16(len(buf)),
		DomainNumber:       domain,
		Flags:              twoStepFlag,
		SourcePortIdentity: source,
		SequenceID:         seq,
		ControlField:       0x00,
		LogMessageInterval: 0,
	}.marshalInto(buf)
	return buf
}

func followUpMessage(domain uint8, source PortIdentity, seq uint16, origin Timestamp) []byte {
	buf := make([]byte, headerSize+10)
	Header{
		MessageType:        MsgFollowUp,
		MessageLength:      uint16(len(buf)),
		DomainNumber:       domain,
		SourcePortIdentity: source,
		SequenceID:         seq,
		ControlField:       0x02,
		LogMessageInterval: 0,
	}.marshalInto(buf)
	origin.marshalInto(buf[headerSize:])
	return buf
}

func delayRespMessage(domain uint8, source PortIdentity, seq uint16, recv Timestamp, requestor PortIdentity) []byte {
	buf := make([]byte, headerSize+10+10)
	Header{
		MessageType:        MsgDelayResp,
		MessageLength:      uint16(len(buf)),
		DomainNumber:       domain,
		SourcePortIdentity: source,
		SequenceID:         seq,
		ControlField:       0x03,
		LogMessageInterval: 0x7F,
	}.marshalInto(buf)
	recv.marshalInto(buf[headerSize:])
	copy(buf[headerSize+10:headerSize+18], requestor.Clock[:])
	binary.BigEndian.PutUint16(buf[headerSize+18:headerSize+20], requestor.Number)
	return buf
}

func announceMessage(domain uint8, source PortIdentity, seq uint16, clockID ClockIdentity) []byte {
	const bodyLen = 10 + 2 + 1 + 1 + 4 + 1 + 8 + 2 + 1
	buf := make([]byte, headerSize+bodyLen)
	Header{
		MessageType:        MsgAnnounce,
		MessageLength:      uint16(len(buf)),
		DomainNumber:       domain,
		SourcePortIdentity: source,
		SequenceID:         seq,
		ControlField:       0x05,
		LogMessageInterval: 1,
	}.marshalInto(buf)

	body := buf[headerSize:]
	// body[0:10] origin timestamp left zero (unused by Announce receivers)
	// body[10:12] currentUtcOffset and body[12] reserved left zero
	body[13] = 0                    // grandmasterPriority1
	body[14] = 0xFE                 // grandmasterClockQuality.clockClass (default, not locked to a reference)
	body[15] = 0xFF                 // clockAccuracy (unknown)
	binary.BigEndian.PutUint16(body[16:18], 0xFFFF) // offsetScaledLogVariance (unknown)
	body[18] = 0                                    // grandmasterPriority2
	copy(body[19:27], clockID[:])
	binary.BigEndian.PutUint16(body[27:29], 0) // stepsRemoved
	body[29] = 0xA0                            // timeSource: internal oscillator
	return buf
}

var errShortHeader = errors.New("ptp: message shorter than the common header")
