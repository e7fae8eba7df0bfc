package osdp

import "golang.org/x/crypto/cryptobyte"

// Little-endian helpers over cryptobyte, which is big-endian by itself.
// OSDP multi-byte payload fields are little-endian on the wire.

func addUint16LE(b *cryptobyte.Builder, v uint16) {
	b.AddBytes([]byte{uint8(v), uint8(v >> 8)})
}

func addUint32LE(b *cryptobyte.Builder, v uint32) {
	b.AddBytes([]byte{uint8(v), uint8(v >> 8), uint8(v >> 16), uint8(v >> 24)})
}

func readUint16LE(s *cryptobyte.String, v *uint16) bool {
	var raw [2]byte
	if !s.CopyBytes(raw[:]) {
		return false
	}
	*v = uint16(raw[0]) | uint16(raw[1])<<8
	return true
}

func readUint32LE(s *cryptobyte.String, v *uint32) bool {
	var raw [4]byte
	if !s.CopyBytes(raw[:]) {
		return false
	}
	*v = uint32(raw[0]) | uint32(raw[1])<<8 | uint32(raw[2])<<16 | uint32(raw[3])<<24
	return true
}
