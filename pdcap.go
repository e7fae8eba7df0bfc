package osdp

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/cryptobyte"
)

// CapFunction identifies a PD capability function code.
type CapFunction uint8

// Capability function codes from the OSDP specification.
const (
	CapContactStatusMonitoring CapFunction = iota + 1
	CapOutputControl
	CapCardDataFormat
	CapLedControl
	CapAudibleOutput
	CapTextOutput
	CapTimeKeeping
	CapCheckCharacterSupport
	CapCommunicationSecurity
	CapReceiveBufferSize
	CapLargestCombinedMessage
	CapSmartCardSupport
	CapReaders
	CapBiometrics
)

var capFunctionNames = map[CapFunction]string{
	CapContactStatusMonitoring: "ContactStatusMonitoring",
	CapOutputControl:           "OutputControl",
	CapCardDataFormat:          "CardDataFormat",
	CapLedControl:              "LedControl",
	CapAudibleOutput:           "AudibleOutput",
	CapTextOutput:              "TextOutput",
	CapTimeKeeping:             "TimeKeeping",
	CapCheckCharacterSupport:   "CheckCharacterSupport",
	CapCommunicationSecurity:   "CommunicationSecurity",
	CapReceiveBufferSize:       "ReceiveBufferSize",
	CapLargestCombinedMessage:  "LargestCombinedMessage",
	CapSmartCardSupport:        "SmartCardSupport",
	CapReaders:                 "Readers",
	CapBiometrics:              "Biometrics",
}

func (c CapFunction) String() string {
	if name, ok := capFunctionNames[c]; ok {
		return name
	}
	return "CapFunction(" + strconv.Itoa(int(c)) + ")"
}

// PdCapability is one entry of a PD's capability report: a function code
// with its compliance level and the number of such units present.
type PdCapability struct {
	Function   CapFunction
	Compliance uint8
	NumItems   uint8
}

func (c PdCapability) String() string {
	return fmt.Sprintf("%s:%d,%d", c.Function, c.Compliance, c.NumItems)
}

// ParsePdCapability parses "Name:compliance,numItems", the format used by
// osdpctl config files and printed by String.
func ParsePdCapability(s string) (PdCapability, error) {
	name, rest, ok := strings.Cut(s, ":")
	if !ok {
		return PdCapability{}, fmt.Errorf("osdp: invalid capability %q", s)
	}
	var c PdCapability
	for fc, n := range capFunctionNames {
		if n == name {
			c.Function = fc
			break
		}
	}
	if c.Function == 0 {
		return PdCapability{}, fmt.Errorf("osdp: unknown capability %q", name)
	}
	comp, items, ok := strings.Cut(rest, ",")
	if !ok {
		return PdCapability{}, fmt.Errorf("osdp: invalid capability %q", s)
	}
	cv, err := strconv.ParseUint(strings.TrimSpace(comp), 10, 8)
	if err != nil {
		return PdCapability{}, fmt.Errorf("osdp: invalid capability %q: %w", s, err)
	}
	iv, err := strconv.ParseUint(strings.TrimSpace(items), 10, 8)
	if err != nil {
		return PdCapability{}, fmt.Errorf("osdp: invalid capability %q: %w", s, err)
	}
	c.Compliance, c.NumItems = uint8(cv), uint8(iv)
	return c, nil
}

func (c PdCapability) encode(b *cryptobyte.Builder) {
	b.AddUint8(uint8(c.Function))
	b.AddUint8(c.Compliance)
	b.AddUint8(c.NumItems)
}

// decodePdCapabilities parses a capability report: a sequence of three byte
// entries.
func decodePdCapabilities(data []byte) ([]PdCapability, error) {
	if len(data)%3 != 0 {
		return nil, errFrameMalformed
	}
	var caps []PdCapability
	s := cryptobyte.String(data)
	for !s.Empty() {
		var c PdCapability
		var fc uint8
		if !s.ReadUint8(&fc) || !s.ReadUint8(&c.Compliance) || !s.ReadUint8(&c.NumItems) {
			return nil, errFrameMalformed
		}
		c.Function = CapFunction(fc)
		caps = append(caps, c)
	}
	return caps, nil
}
