package osdp

import (
	"reflect"
	"testing"

	"golang.org/x/crypto/cryptobyte"
)

func TestPdCapabilityString(t *testing.T) {
	c := PdCapability{Function: CapCommunicationSecurity, Compliance: 1, NumItems: 1}
	if got := c.String(); got != "CommunicationSecurity:1,1" {
		t.Errorf("String() = %q", got)
	}
}

func TestParsePdCapability(t *testing.T) {
	cases := []struct {
		in   string
		want PdCapability
	}{
		{"OutputControl:1,4", PdCapability{CapOutputControl, 1, 4}},
		{"ReceiveBufferSize:0,1", PdCapability{CapReceiveBufferSize, 0, 1}},
		{"Readers: 1, 2", PdCapability{CapReaders, 1, 2}},
	}
	for _, c := range cases {
		got, err := ParsePdCapability(c.in)
		if err != nil {
			t.Errorf("ParsePdCapability(%q): %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("ParsePdCapability(%q) = %+v, want %+v", c.in, got, c.want)
		}
	}
	for _, bad := range []string{"", "OutputControl", "Bogus:1,1", "Readers:1", "Readers:x,y", "Readers:300,1"} {
		if _, err := ParsePdCapability(bad); err == nil {
			t.Errorf("ParsePdCapability(%q) accepted", bad)
		}
	}
}

func TestParsePdCapabilityRoundTrip(t *testing.T) {
	for fc := range capFunctionNames {
		want := PdCapability{Function: fc, Compliance: 2, NumItems: 3}
		got, err := ParsePdCapability(want.String())
		if err != nil {
			t.Fatalf("%v: %v", want, err)
		}
		if got != want {
			t.Errorf("round trip %v: got %v", want, got)
		}
	}
}

func TestCapabilityReportCodec(t *testing.T) {
	want := []PdCapability{
		{CapCommunicationSecurity, 1, 1},
		{CapReceiveBufferSize, 0x00, 0x01}, // 256 byte receive buffer
		{CapOutputControl, 1, 4},
	}
	var b cryptobyte.Builder
	for _, c := range want {
		c.encode(&b)
	}
	raw, err := b.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	got, err := decodePdCapabilities(raw)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %+v, want %+v", got, want)
	}

	if _, err := decodePdCapabilities(raw[:len(raw)-1]); err == nil {
		t.Error("report with trailing partial entry accepted")
	}
}

func TestPdIDCodec(t *testing.T) {
	want := PdID{
		Version: 2, Model: 9,
		VendorCode:   0x00cafe,
		SerialNumber: 0xdeadbeef,
		FirmwareMajor: 1, FirmwareMinor: 4, FirmwareBuild: 7,
	}
	var b cryptobyte.Builder
	want.encode(&b)
	raw, err := b.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	if len(raw) != pdIDReportLen {
		t.Fatalf("report is %d bytes, want %d", len(raw), pdIDReportLen)
	}
	got, err := decodePdID(raw)
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if _, err := decodePdID(raw[:11]); err == nil {
		t.Error("truncated identity report accepted")
	}
}

func TestPdIDFromNumber(t *testing.T) {
	id := PdIDFromNumber(0x1234)
	if id.SerialNumber != 0x1234 || id.VendorCode == 0 {
		t.Errorf("PdIDFromNumber gave %v", id)
	}
}
