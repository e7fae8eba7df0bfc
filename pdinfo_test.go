package osdp

import (
	"errors"
	"strings"
	"testing"
)

func TestPdInfoBuilder(t *testing.T) {
	ch, _ := newMemoryChannelPair()
	info, err := NewPdInfoBuilder().
		Name("door-1").
		Address(101).
		BaudRate(115200).
		Flag(FlagInstallMode).
		Channel(ch).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if info.Name() != "door-1" || info.Address() != 101 {
		t.Errorf("got name %q address %d", info.Name(), info.Address())
	}
}

func TestPdInfoBuilderDefaultName(t *testing.T) {
	ch, _ := newMemoryChannelPair()
	info, err := NewPdInfoBuilder().Address(3).BaudRate(9600).Channel(ch).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if info.Name() != "pd-3" {
		t.Errorf("default name = %q", info.Name())
	}
}

func TestPdInfoBuilderAddressRange(t *testing.T) {
	ch, _ := newMemoryChannelPair()
	for addr := 0; addr <= 126; addr++ {
		if _, err := NewPdInfoBuilder().Address(addr).BaudRate(9600).Channel(ch).Build(); err != nil {
			t.Fatalf("address %d rejected: %v", addr, err)
		}
	}
	for _, addr := range []int{-1, 127, 128, 255, 1000} {
		_, err := NewPdInfoBuilder().Address(addr).BaudRate(9600).Channel(ch).Build()
		if !errors.Is(err, ErrSetup) {
			t.Errorf("address %d: err = %v, want ErrSetup", addr, err)
		}
	}
}

func TestPdInfoBuilderBaudRates(t *testing.T) {
	ch, _ := newMemoryChannelPair()
	for _, baud := range supportedBaudRates {
		if _, err := NewPdInfoBuilder().Address(1).BaudRate(baud).Channel(ch).Build(); err != nil {
			t.Fatalf("baud %d rejected: %v", baud, err)
		}
	}
	for _, baud := range []int{0, 300, 4800, 100000, 921600} {
		_, err := NewPdInfoBuilder().Address(1).BaudRate(baud).Channel(ch).Build()
		if !errors.Is(err, ErrSetup) {
			t.Errorf("baud %d: err = %v, want ErrSetup", baud, err)
		}
	}
}

func TestPdInfoBuilderMandatoryFields(t *testing.T) {
	ch, _ := newMemoryChannelPair()
	cases := map[string]*PdInfoBuilder{
		"no address": NewPdInfoBuilder().BaudRate(9600).Channel(ch),
		"no baud":    NewPdInfoBuilder().Address(1).Channel(ch),
		"no channel": NewPdInfoBuilder().Address(1).BaudRate(9600),
	}
	for name, b := range cases {
		if _, err := b.Build(); !errors.Is(err, ErrSetup) {
			t.Errorf("%s: err = %v, want ErrSetup", name, err)
		}
	}
}

func TestPdInfoBuilderEnforceSecureNeedsKey(t *testing.T) {
	ch, _ := newMemoryChannelPair()
	_, err := NewPdInfoBuilder().
		Address(1).BaudRate(9600).Channel(ch).
		Flag(FlagEnforceSecure).
		Build()
	if !errors.Is(err, ErrSetup) {
		t.Fatalf("err = %v, want ErrSetup", err)
	}

	key := make([]byte, SCBKLen)
	_, err = NewPdInfoBuilder().
		Address(1).BaudRate(9600).Channel(ch).
		Flag(FlagEnforceSecure).
		SecureChannelKey(key).
		Build()
	if err != nil {
		t.Fatalf("with key: %v", err)
	}
}

func TestPdInfoBuilderBadKeyLength(t *testing.T) {
	ch, _ := newMemoryChannelPair()
	_, err := NewPdInfoBuilder().
		Address(1).BaudRate(9600).Channel(ch).
		SecureChannelKey([]byte{1, 2, 3}).
		Build()
	if !errors.Is(err, ErrSetup) {
		t.Fatalf("err = %v, want ErrSetup", err)
	}
}

func TestPdInfoBuilderFirstErrorWins(t *testing.T) {
	ch, _ := newMemoryChannelPair()
	_, err := NewPdInfoBuilder().
		Address(500).
		BaudRate(1234).
		Channel(ch).
		Build()
	if err == nil || !errors.Is(err, ErrSetup) {
		t.Fatalf("err = %v, want ErrSetup", err)
	}
	if got := err.Error(); !strings.Contains(got, "address") {
		t.Errorf("error %q does not mention the first failure", got)
	}
}
