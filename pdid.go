package osdp

import (
	"fmt"

	"golang.org/x/crypto/cryptobyte"
)

// pdIDReportLen is the wire size of a PD identity report.
const pdIDReportLen = 12

// PdID is the static identity a PD reports to its CP.
type PdID struct {
	// Version is the vendor assigned hardware version.
	Version uint8
	// Model is the vendor assigned model number.
	Model uint8
	// VendorCode is the 24-bit IEEE OUI of the vendor.
	VendorCode uint32
	// SerialNumber of this unit.
	SerialNumber uint32
	// Firmware version triplet.
	FirmwareMajor, FirmwareMinor, FirmwareBuild uint8
}

// PdIDFromNumber builds a throwaway identity from a single number, useful
// for tests and examples where only the serial number matters.
func PdIDFromNumber(n uint32) PdID {
	return PdID{
		Version:       1,
		Model:         1,
		VendorCode:    0x0000cafe,
		SerialNumber:  n,
		FirmwareMajor: 1,
	}
}

func (id PdID) String() string {
	return fmt.Sprintf("PdID{vendor:%06x model:%d version:%d serial:%08x fw:%d.%d.%d}",
		id.VendorCode, id.Model, id.Version, id.SerialNumber,
		id.FirmwareMajor, id.FirmwareMinor, id.FirmwareBuild)
}

// encode appends the identity report wire format.
func (id PdID) encode(b *cryptobyte.Builder) {
	b.AddBytes([]byte{
		uint8(id.VendorCode), uint8(id.VendorCode >> 8), uint8(id.VendorCode >> 16),
		id.Model,
		id.Version,
	})
	b.AddBytes([]byte{
		uint8(id.SerialNumber), uint8(id.SerialNumber >> 8),
		uint8(id.SerialNumber >> 16), uint8(id.SerialNumber >> 24),
	})
	b.AddBytes([]byte{id.FirmwareMajor, id.FirmwareMinor, id.FirmwareBuild})
}

// decodePdID parses an identity report.
func decodePdID(data []byte) (PdID, error) {
	var (
		id     PdID
		vendor [3]byte
		serial [4]byte
		fw     [3]byte
		s      = cryptobyte.String(data)
	)
	if !s.CopyBytes(vendor[:]) ||
		!s.ReadUint8(&id.Model) ||
		!s.ReadUint8(&id.Version) ||
		!s.CopyBytes(serial[:]) ||
		!s.CopyBytes(fw[:]) ||
		!s.Empty() {
		return PdID{}, errFrameMalformed
	}
	id.VendorCode = uint32(vendor[0]) | uint32(vendor[1])<<8 | uint32(vendor[2])<<16
	id.SerialNumber = uint32(serial[0]) | uint32(serial[1])<<8 |
		uint32(serial[2])<<16 | uint32(serial[3])<<24
	id.FirmwareMajor, id.FirmwareMinor, id.FirmwareBuild = fw[0], fw[1], fw[2]
	return id, nil
}
