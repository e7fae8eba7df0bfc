package osdp

import (
	"fmt"

	"golang.org/x/crypto/cryptobyte"
)

// CP to PD command codes.
const (
	cmdPoll         uint8 = 0x60
	cmdID           uint8 = 0x61
	cmdCap          uint8 = 0x62
	cmdLocalStatus  uint8 = 0x64
	cmdOutput       uint8 = 0x68
	cmdLED          uint8 = 0x69
	cmdBuzzer       uint8 = 0x6a
	cmdText         uint8 = 0x6b
	cmdComSet       uint8 = 0x6e
	cmdKeySet       uint8 = 0x75
	cmdChallenge    uint8 = 0x76
	cmdSCrypt       uint8 = 0x77
	cmdFileTransfer uint8 = 0x7c
	cmdMfg          uint8 = 0x80
)

// PD to CP reply codes.
const (
	replyAck       uint8 = 0x40
	replyNak       uint8 = 0x41
	replyPdID      uint8 = 0x45
	replyPdCap     uint8 = 0x46
	replyLocalStat uint8 = 0x48
	replyRaw       uint8 = 0x50
	replyKeypad    uint8 = 0x53
	replyCom       uint8 = 0x54
	replyCCrypt    uint8 = 0x76
	replyRMacI     uint8 = 0x78
	replyFTStat    uint8 = 0x7a
	replyMfg       uint8 = 0x90
)

// NAK reason codes.
const (
	nakMsgCheck   uint8 = 0x01 // checksum/CRC mismatch reported by PD
	nakCmdLength  uint8 = 0x02 // command length error
	nakCmdUnknown uint8 = 0x03 // unknown command code
	nakSeqNum     uint8 = 0x04 // sequence number error
	nakSecCond    uint8 = 0x05 // secure channel required or failed
	nakRecord     uint8 = 0x06 // unable to process record
)

// Command is a call for action sent from a CP to a PD.
//
// Applications submit commands with ControlPanel.SendCommand and receive
// them in the PD's command callback. Exactly one command is in flight per
// PD at a time; additional commands queue in submission order.
type Command interface {
	fmt.Stringer

	// commandCode is the wire code the command travels under.
	commandCode() uint8

	// encodePayload appends the command's wire payload.
	encodePayload(b *cryptobyte.Builder)
}

// CommandOutput controls one of the PD's output pins.
type CommandOutput struct {
	OutputNo    uint8
	ControlCode uint8
	// Timer is the control duration in units of 100ms; 0 means permanent.
	Timer uint16
}

func (c CommandOutput) commandCode() uint8 { return cmdOutput }

func (c CommandOutput) encodePayload(b *cryptobyte.Builder) {
	b.AddUint8(c.OutputNo)
	b.AddUint8(c.ControlCode)
	addUint16LE(b, c.Timer)
}

func (c CommandOutput) String() string {
	return fmt.Sprintf("Output{no:%d control:%d timer:%d}", c.OutputNo, c.ControlCode, c.Timer)
}

// CommandLED controls a reader LED.
type CommandLED struct {
	ReaderNo uint8
	LEDNo    uint8
	OnColor  uint8
	OffColor uint8
	// On/off cycle times in units of 100ms.
	OnTime  uint8
	OffTime uint8
	// Timer is the total duration in units of 100ms; 0 means forever.
	Timer uint16
}

func (c CommandLED) commandCode() uint8 { return cmdLED }

func (c CommandLED) encodePayload(b *cryptobyte.Builder) {
	b.AddUint8(c.ReaderNo)
	b.AddUint8(c.LEDNo)
	b.AddUint8(c.OnColor)
	b.AddUint8(c.OffColor)
	b.AddUint8(c.OnTime)
	b.AddUint8(c.OffTime)
	addUint16LE(b, c.Timer)
}

func (c CommandLED) String() string {
	return fmt.Sprintf("LED{reader:%d led:%d colors:%d/%d}", c.ReaderNo, c.LEDNo, c.OnColor, c.OffColor)
}

// CommandBuzzer controls the PD's audible output.
type CommandBuzzer struct {
	ReaderNo uint8
	ToneCode uint8
	// On/off cycle times in units of 100ms.
	OnTime  uint8
	OffTime uint8
	// RepCount is the number of cycles; 0 means forever.
	RepCount uint8
}

func (c CommandBuzzer) commandCode() uint8 { return cmdBuzzer }

func (c CommandBuzzer) encodePayload(b *cryptobyte.Builder) {
	b.AddUint8(c.ReaderNo)
	b.AddUint8(c.ToneCode)
	b.AddUint8(c.OnTime)
	b.AddUint8(c.OffTime)
	b.AddUint8(c.RepCount)
}

func (c CommandBuzzer) String() string {
	return fmt.Sprintf("Buzzer{reader:%d tone:%d rep:%d}", c.ReaderNo, c.ToneCode, c.RepCount)
}

// CommandText writes text to the PD's display.
type CommandText struct {
	ReaderNo uint8
	// TempTime is how long the text stays up, in seconds; 0 is permanent.
	TempTime  uint8
	OffsetRow uint8
	OffsetCol uint8
	Text      string
}

func (c CommandText) commandCode() uint8 { return cmdText }

func (c CommandText) encodePayload(b *cryptobyte.Builder) {
	b.AddUint8(c.ReaderNo)
	b.AddUint8(c.TempTime)
	b.AddUint8(c.OffsetRow)
	b.AddUint8(c.OffsetCol)
	b.AddUint8(uint8(len(c.Text)))
	b.AddBytes([]byte(c.Text))
}

func (c CommandText) String() string {
	return fmt.Sprintf("Text{reader:%d text:%q}", c.ReaderNo, c.Text)
}

// CommandComSet changes the PD's communication parameters. The PD grants
// (or adjusts) the requested values in its reply.
type CommandComSet struct {
	Address  uint8
	BaudRate uint32
}

func (c CommandComSet) commandCode() uint8 { return cmdComSet }

func (c CommandComSet) encodePayload(b *cryptobyte.Builder) {
	b.AddUint8(c.Address)
	addUint32LE(b, c.BaudRate)
}

func (c CommandComSet) String() string {
	return fmt.Sprintf("ComSet{address:%d baud:%d}", c.Address, c.BaudRate)
}

// CommandKeySet pushes a new secure channel base key to the PD. Only valid
// over an active secure channel.
type CommandKeySet struct {
	Key [SCBKLen]byte
}

func (c CommandKeySet) commandCode() uint8 { return cmdKeySet }

func (c CommandKeySet) encodePayload(b *cryptobyte.Builder) {
	b.AddUint8(1) // key type: SCBK
	b.AddUint8(SCBKLen)
	b.AddBytes(c.Key[:])
}

func (c CommandKeySet) String() string { return "KeySet{}" }

// CommandMfg is a vendor defined command.
type CommandMfg struct {
	// VendorCode is the 24-bit IEEE OUI of the vendor.
	VendorCode uint32
	Command    uint8
	Data       []byte
}

func (c CommandMfg) commandCode() uint8 { return cmdMfg }

func (c CommandMfg) encodePayload(b *cryptobyte.Builder) {
	b.AddBytes([]byte{uint8(c.VendorCode), uint8(c.VendorCode >> 8), uint8(c.VendorCode >> 16)})
	b.AddUint8(c.Command)
	b.AddBytes(c.Data)
}

func (c CommandMfg) String() string {
	return fmt.Sprintf("Mfg{vendor:%06x command:%d len:%d}", c.VendorCode, c.Command, len(c.Data))
}

// CommandFileTx asks a PD to accept a file transfer. The CP must have a
// FileOps handler registered for the PD; the transfer itself is sequenced
// by the engine. The PD's command callback sees this command when the
// transfer begins.
type CommandFileTx struct {
	// ID is the pre-agreed file identifier.
	ID int32
	// Flags are reserved for vendor use.
	Flags uint32
}

func (c CommandFileTx) commandCode() uint8 { return cmdFileTransfer }

func (c CommandFileTx) encodePayload(b *cryptobyte.Builder) {
	b.AddUint8(fileOpStart)
	addUint32LE(b, uint32(c.ID))
	addUint32LE(b, c.Flags)
	addUint32LE(b, 0) // size, filled by the engine
}

func (c CommandFileTx) String() string {
	return fmt.Sprintf("FileTx{id:%d flags:%#x}", c.ID, c.Flags)
}

// decodeCommand parses a command payload into its typed representation.
// Poll, challenge and file fragment frames are handled by the engine and
// never reach this point.
func decodeCommand(code uint8, data []byte) (Command, error) {
	s := cryptobyte.String(data)
	switch code {
	case cmdOutput:
		var c CommandOutput
		if !s.ReadUint8(&c.OutputNo) || !s.ReadUint8(&c.ControlCode) ||
			!readUint16LE(&s, &c.Timer) || !s.Empty() {
			return nil, errFrameMalformed
		}
		return c, nil
	case cmdLED:
		var c CommandLED
		if !s.ReadUint8(&c.ReaderNo) || !s.ReadUint8(&c.LEDNo) ||
			!s.ReadUint8(&c.OnColor) || !s.ReadUint8(&c.OffColor) ||
			!s.ReadUint8(&c.OnTime) || !s.ReadUint8(&c.OffTime) ||
			!readUint16LE(&s, &c.Timer) || !s.Empty() {
			return nil, errFrameMalformed
		}
		return c, nil
	case cmdBuzzer:
		var c CommandBuzzer
		if !s.ReadUint8(&c.ReaderNo) || !s.ReadUint8(&c.ToneCode) ||
			!s.ReadUint8(&c.OnTime) || !s.ReadUint8(&c.OffTime) ||
			!s.ReadUint8(&c.RepCount) || !s.Empty() {
			return nil, errFrameMalformed
		}
		return c, nil
	case cmdText:
		var c CommandText
		var n uint8
		if !s.ReadUint8(&c.ReaderNo) || !s.ReadUint8(&c.TempTime) ||
			!s.ReadUint8(&c.OffsetRow) || !s.ReadUint8(&c.OffsetCol) ||
			!s.ReadUint8(&n) {
			return nil, errFrameMalformed
		}
		text := make([]byte, n)
		if !s.CopyBytes(text) || !s.Empty() {
			return nil, errFrameMalformed
		}
		c.Text = string(text)
		return c, nil
	case cmdComSet:
		var c CommandComSet
		if !s.ReadUint8(&c.Address) || !readUint32LE(&s, &c.BaudRate) || !s.Empty() {
			return nil, errFrameMalformed
		}
		return c, nil
	case cmdKeySet:
		var c CommandKeySet
		var keyType, keyLen uint8
		if !s.ReadUint8(&keyType) || !s.ReadUint8(&keyLen) ||
			keyLen != SCBKLen || !s.CopyBytes(c.Key[:]) || !s.Empty() {
			return nil, errFrameMalformed
		}
		return c, nil
	case cmdMfg:
		var c CommandMfg
		var vendor [3]byte
		if !s.CopyBytes(vendor[:]) || !s.ReadUint8(&c.Command) {
			return nil, errFrameMalformed
		}
		c.VendorCode = uint32(vendor[0]) | uint32(vendor[1])<<8 | uint32(vendor[2])<<16
		c.Data = append([]byte(nil), s...)
		return c, nil
	default:
		return nil, errFrameMalformed
	}
}

// encodeCommand serializes a command to its full frame payload (code
// followed by the command data).
func encodeCommand(c Command) ([]byte, error) {
	var b cryptobyte.Builder
	b.AddUint8(c.commandCode())
	c.encodePayload(&b)
	return b.Bytes()
}
