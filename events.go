package osdp

import (
	"fmt"

	"golang.org/x/crypto/cryptobyte"
)

// Card data formats for EventCardRead.
const (
	CardFormatUnspecified uint8 = iota
	CardFormatWiegand
	CardFormatASCII
)

// Status report types for EventStatus.
const (
	StatusReportLocal uint8 = iota // tamper and power status
	StatusReportInput
	StatusReportOutput
)

// Event is a call for action sent from a PD to a CP.
//
// A PD queues events with NotifyEvent; they ride to the CP inside poll
// replies and are handed to the CP's event callback in arrival order.
type Event interface {
	fmt.Stringer

	// replyCode is the wire code the event travels under.
	replyCode() uint8

	// encodePayload appends the event's wire payload.
	encodePayload(b *cryptobyte.Builder)
}

// EventCardRead reports a card read.
type EventCardRead struct {
	ReaderNo uint8
	Format   uint8
	// Bits is the significant bit count for Wiegand formats; for ASCII
	// formats it is zero and len(Data) carries the length.
	Bits uint16
	Data []byte
}

func (e EventCardRead) replyCode() uint8 { return replyRaw }

func (e EventCardRead) encodePayload(b *cryptobyte.Builder) {
	b.AddUint8(e.ReaderNo)
	b.AddUint8(e.Format)
	addUint16LE(b, e.Bits)
	b.AddBytes(e.Data)
}

func (e EventCardRead) String() string {
	return fmt.Sprintf("CardRead{reader:%d format:%d bits:%d}", e.ReaderNo, e.Format, e.Bits)
}

// EventKeypress reports keys entered on the PD's keypad.
type EventKeypress struct {
	ReaderNo uint8
	Keys     []byte
}

func (e EventKeypress) replyCode() uint8 { return replyKeypad }

func (e EventKeypress) encodePayload(b *cryptobyte.Builder) {
	b.AddUint8(e.ReaderNo)
	b.AddUint8(uint8(len(e.Keys)))
	b.AddBytes(e.Keys)
}

func (e EventKeypress) String() string {
	return fmt.Sprintf("Keypress{reader:%d keys:%d}", e.ReaderNo, len(e.Keys))
}

// EventStatus reports tamper, power or input/output status changes.
type EventStatus struct {
	Type uint8
	// Tamper and Power are meaningful for StatusReportLocal.
	Tamper uint8
	Power  uint8
}

func (e EventStatus) replyCode() uint8 { return replyLocalStat }

func (e EventStatus) encodePayload(b *cryptobyte.Builder) {
	b.AddUint8(e.Type)
	b.AddUint8(e.Tamper)
	b.AddUint8(e.Power)
}

func (e EventStatus) String() string {
	return fmt.Sprintf("Status{type:%d tamper:%d power:%d}", e.Type, e.Tamper, e.Power)
}

// EventMfgReply is a vendor defined event.
type EventMfgReply struct {
	// VendorCode is the 24-bit IEEE OUI of the vendor.
	VendorCode uint32
	Command    uint8
	Data       []byte
}

func (e EventMfgReply) replyCode() uint8 { return replyMfg }

func (e EventMfgReply) encodePayload(b *cryptobyte.Builder) {
	b.AddBytes([]byte{uint8(e.VendorCode), uint8(e.VendorCode >> 8), uint8(e.VendorCode >> 16)})
	b.AddUint8(e.Command)
	b.AddBytes(e.Data)
}

func (e EventMfgReply) String() string {
	return fmt.Sprintf("MfgReply{vendor:%06x command:%d len:%d}", e.VendorCode, e.Command, len(e.Data))
}

// decodeEvent parses an event payload into its typed representation.
func decodeEvent(code uint8, data []byte) (Event, error) {
	s := cryptobyte.String(data)
	switch code {
	case replyRaw:
		var e EventCardRead
		if !s.ReadUint8(&e.ReaderNo) || !s.ReadUint8(&e.Format) ||
			!readUint16LE(&s, &e.Bits) {
			return nil, errFrameMalformed
		}
		e.Data = append([]byte(nil), s...)
		return e, nil
	case replyKeypad:
		var e EventKeypress
		var n uint8
		if !s.ReadUint8(&e.ReaderNo) || !s.ReadUint8(&n) {
			return nil, errFrameMalformed
		}
		e.Keys = make([]byte, n)
		if !s.CopyBytes(e.Keys) || !s.Empty() {
			return nil, errFrameMalformed
		}
		return e, nil
	case replyLocalStat:
		var e EventStatus
		if !s.ReadUint8(&e.Type) || !s.ReadUint8(&e.Tamper) ||
			!s.ReadUint8(&e.Power) || !s.Empty() {
			return nil, errFrameMalformed
		}
		return e, nil
	case replyMfg:
		var e EventMfgReply
		var vendor [3]byte
		if !s.CopyBytes(vendor[:]) || !s.ReadUint8(&e.Command) {
			return nil, errFrameMalformed
		}
		e.VendorCode = uint32(vendor[0]) | uint32(vendor[1])<<8 | uint32(vendor[2])<<16
		e.Data = append([]byte(nil), s...)
		return e, nil
	default:
		return nil, errFrameMalformed
	}
}

// encodeEvent serializes an event to its full frame payload.
func encodeEvent(e Event) ([]byte, error) {
	var b cryptobyte.Builder
	b.AddUint8(e.replyCode())
	e.encodePayload(&b)
	return b.Bytes()
}
