package osdp

import (
	"reflect"
	"testing"
)

func TestCommandRoundTrip(t *testing.T) {
	cases := []Command{
		CommandOutput{OutputNo: 2, ControlCode: 1, Timer: 300},
		CommandLED{ReaderNo: 0, LEDNo: 1, OnColor: 2, OffColor: 0, OnTime: 5, OffTime: 5, Timer: 100},
		CommandBuzzer{ReaderNo: 0, ToneCode: 2, OnTime: 1, OffTime: 1, RepCount: 3},
		CommandText{ReaderNo: 0, TempTime: 10, OffsetRow: 1, OffsetCol: 2, Text: "access granted"},
		CommandText{Text: ""},
		CommandComSet{Address: 42, BaudRate: 115200},
		CommandKeySet{Key: [SCBKLen]byte{0xde, 0xad, 0xbe, 0xef}},
		CommandMfg{VendorCode: 0x00a5b6, Command: 7, Data: []byte{1, 2, 3}},
		CommandMfg{VendorCode: 0xfedcba, Command: 0},
	}
	for _, want := range cases {
		raw, err := encodeCommand(want)
		if err != nil {
			t.Fatalf("encode %v: %v", want, err)
		}
		if raw[0] != want.commandCode() {
			t.Fatalf("%v encoded under code %#02x", want, raw[0])
		}
		got, err := decodeCommand(raw[0], raw[1:])
		if err != nil {
			t.Fatalf("decode %v: %v", want, err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("round trip: got %#v, want %#v", got, want)
		}
	}
}

func TestCommandDecodeRejectsTruncation(t *testing.T) {
	cmds := []Command{
		CommandOutput{OutputNo: 1, Timer: 10},
		CommandLED{ReaderNo: 1},
		CommandText{Text: "hi"},
		CommandKeySet{},
	}
	for _, c := range cmds {
		raw, _ := encodeCommand(c)
		if _, err := decodeCommand(raw[0], raw[1:len(raw)-1]); err == nil {
			t.Errorf("%v: truncated payload accepted", c)
		}
	}
}

func TestCommandDecodeUnknownCode(t *testing.T) {
	if _, err := decodeCommand(0xef, nil); err == nil {
		t.Fatal("unknown command code accepted")
	}
}

func TestEventRoundTrip(t *testing.T) {
	cases := []Event{
		EventCardRead{ReaderNo: 0, Format: CardFormatWiegand, Bits: 26, Data: []byte{0x25, 0x81, 0x16, 0x40}},
		EventCardRead{ReaderNo: 1, Format: CardFormatASCII, Data: []byte("0012345")},
		EventKeypress{ReaderNo: 0, Keys: []byte{'1', '2', '3', '4', '#'}},
		EventStatus{Type: StatusReportLocal, Tamper: 1, Power: 0},
		EventMfgReply{VendorCode: 0x030201, Command: 9, Data: []byte{0xaa}},
	}
	for _, want := range cases {
		raw, err := encodeEvent(want)
		if err != nil {
			t.Fatalf("encode %v: %v", want, err)
		}
		if raw[0] != want.replyCode() {
			t.Fatalf("%v encoded under code %#02x", want, raw[0])
		}
		got, err := decodeEvent(raw[0], raw[1:])
		if err != nil {
			t.Fatalf("decode %v: %v", want, err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("round trip: got %#v, want %#v", got, want)
		}
	}
}

func TestEventDecodeRejectsGarbage(t *testing.T) {
	if _, err := decodeEvent(replyKeypad, []byte{0, 9, 'a'}); err == nil {
		t.Fatal("keypress with short key data accepted")
	}
	if _, err := decodeEvent(replyLocalStat, []byte{0}); err == nil {
		t.Fatal("truncated status accepted")
	}
	if _, err := decodeEvent(0x00, nil); err == nil {
		t.Fatal("unknown reply code accepted")
	}
}
