package osdp

import (
	"fmt"

	"github.com/rs/zerolog"
)

// supportedBaudRates are the line speeds the protocol allows.
var supportedBaudRates = []int{9600, 19200, 38400, 57600, 115200, 230400}

// maxPdCount is the number of addressable devices on one multi-drop bus.
const maxPdCount = 126

// SCBKLen is the size of a secure channel base key.
const SCBKLen = 16

// PdInfo describes one PD: to a ControlPanel, a device it talks to on the
// bus; to a PeripheralDevice, the device it is going to be. Immutable once
// built; owned by the device context it is given to.
type PdInfo struct {
	name     string
	address  uint8
	baudRate int
	flags    Flag
	id       PdID
	caps     []PdCapability
	channel  Channel
	scbk     *[SCBKLen]byte
	logger   zerolog.Logger
}

// PdInfoBuilder assembles a PdInfo. Address, baud rate and channel are
// mandatory; everything else has usable defaults.
type PdInfoBuilder struct {
	info PdInfo
	err  error
}

// NewPdInfoBuilder returns a builder with a no-op logger and no key
// material (which puts a PD into install mode unless a key is set).
func NewPdInfoBuilder() *PdInfoBuilder {
	return &PdInfoBuilder{
		info: PdInfo{
			address:  0xff, // invalid until set
			baudRate: 0,
			logger:   zerolog.Nop(),
		},
	}
}

func (b *PdInfoBuilder) fail(format string, args ...any) *PdInfoBuilder {
	if b.err == nil {
		b.err = fmt.Errorf("%w: "+format, append([]any{ErrSetup}, args...)...)
	}
	return b
}

// Name sets a human readable name for the PD, used in log messages.
// Defaults to "pd-<address>".
func (b *PdInfoBuilder) Name(name string) *PdInfoBuilder {
	b.info.name = name
	return b
}

// Address sets the 7-bit PD address. 0x7F is reserved for broadcast, so
// valid addresses are 0 through 126.
func (b *PdInfoBuilder) Address(addr int) *PdInfoBuilder {
	if addr < 0 || addr >= int(BroadcastAddress) {
		return b.fail("invalid address %d", addr)
	}
	b.info.address = uint8(addr)
	return b
}

// BaudRate sets the line speed; one of 9600, 19200, 38400, 57600, 115200
// or 230400.
func (b *PdInfoBuilder) BaudRate(baud int) *PdInfoBuilder {
	for _, r := range supportedBaudRates {
		if baud == r {
			b.info.baudRate = baud
			return b
		}
	}
	return b.fail("unsupported baud rate %d", baud)
}

// Flag adds setup flags for this PD.
func (b *PdInfoBuilder) Flag(f Flag) *PdInfoBuilder {
	b.info.flags |= f
	return b
}

// ID sets the static identity the PD reports. Ignored in CP mode.
func (b *PdInfoBuilder) ID(id PdID) *PdInfoBuilder {
	b.info.id = id
	return b
}

// Capability adds one capability report entry.
func (b *PdInfoBuilder) Capability(c PdCapability) *PdInfoBuilder {
	b.info.caps = append(b.info.caps, c)
	return b
}

// Channel sets the transport this PD is reached through.
func (b *PdInfoBuilder) Channel(c Channel) *PdInfoBuilder {
	b.info.channel = c
	return b
}

// SecureChannelKey sets the 16 byte SCBK. Without a key the PD can only be
// reached in install mode using the default key.
func (b *PdInfoBuilder) SecureChannelKey(key []byte) *PdInfoBuilder {
	if len(key) != SCBKLen {
		return b.fail("scbk must be %d bytes, got %d", SCBKLen, len(key))
	}
	var k [SCBKLen]byte
	copy(k[:], key)
	b.info.scbk = &k
	return b
}

// Logger sets the logging sink for the device context this PdInfo creates.
// Defaults to a no-op logger.
func (b *PdInfoBuilder) Logger(l zerolog.Logger) *PdInfoBuilder {
	b.info.logger = l
	return b
}

// Build finalizes the PdInfo. It returns ErrSetup if any builder call was
// given invalid input or a mandatory field is missing.
func (b *PdInfoBuilder) Build() (*PdInfo, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.info.address == 0xff {
		return nil, fmt.Errorf("%w: address not set", ErrSetup)
	}
	if b.info.baudRate == 0 {
		return nil, fmt.Errorf("%w: baud rate not set", ErrSetup)
	}
	if b.info.channel == nil {
		return nil, fmt.Errorf("%w: channel not set", ErrSetup)
	}
	if b.info.flags&FlagEnforceSecure != 0 && b.info.scbk == nil {
		return nil, fmt.Errorf("%w: EnforceSecure requires a secure channel key", ErrSetup)
	}
	info := b.info
	if info.name == "" {
		info.name = fmt.Sprintf("pd-%d", info.address)
	}
	info.caps = append([]PdCapability(nil), b.info.caps...)
	return &info, nil
}

// Name returns the PD's configured name.
func (p *PdInfo) Name() string { return p.name }

// Address returns the PD's bus address.
func (p *PdInfo) Address() int { return int(p.address) }
