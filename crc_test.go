package osdp

import "testing"

func TestCRC16(t *testing.T) {
	cases := []struct {
		data string
		want uint16
	}{
		{"", 0x1d0f},
		{"123456789", 0xe5cc},
	}
	for _, c := range cases {
		if got := crc16([]byte(c.data)); got != c.want {
			t.Errorf("crc16(%q) = %#04x, want %#04x", c.data, got, c.want)
		}
	}
}

// Appending the CRC big-endian to a message must leave a zero residue.
func TestCRC16Residue(t *testing.T) {
	msgs := [][]byte{
		{},
		{0x00},
		{0xff, 0xff, 0xff},
		[]byte("osdp secure channel"),
		{0x53, 0x65, 0x09, 0x00, 0x04, 0x60},
	}
	for _, m := range msgs {
		c := crc16(m)
		full := append(append([]byte{}, m...), byte(c>>8), byte(c))
		if got := crc16(full); got != 0 {
			t.Errorf("residue for % x = %#04x, want 0", m, got)
		}
	}
}

func TestCRC16DetectsCorruption(t *testing.T) {
	msg := []byte{0x53, 0x65, 0x09, 0x00, 0x04, 0x60, 0x12, 0x34}
	want := crc16(msg)
	for i := range msg {
		tampered := append([]byte{}, msg...)
		tampered[i] ^= 0x01
		if crc16(tampered) == want {
			t.Errorf("single-bit flip at byte %d not detected", i)
		}
	}
}

func TestChecksum8(t *testing.T) {
	cases := []struct {
		data []byte
		want uint8
	}{
		{nil, 0},
		{[]byte{0x01}, 0xff},
		{[]byte{0x01, 0x02, 0x03}, 0xfa},
		{[]byte{0xff}, 0x01},
		{[]byte{0x80, 0x80}, 0x00},
	}
	for _, c := range cases {
		if got := checksum8(c.data); got != c.want {
			t.Errorf("checksum8(% x) = %#02x, want %#02x", c.data, got, c.want)
		}
	}
	// Message plus checksum must sum to zero mod 256.
	msg := []byte("peripheral")
	sum := checksum8(msg)
	var total uint8
	for _, b := range msg {
		total += b
	}
	if total+sum != 0 {
		t.Errorf("message plus checksum sums to %#02x, want 0", total+sum)
	}
}
