package osdp

import "testing"

func TestFlagString(t *testing.T) {
	cases := []struct {
		f    Flag
		want string
	}{
		{0, "None"},
		{FlagEnforceSecure, "EnforceSecure"},
		{FlagInstallMode, "InstallMode"},
		{FlagIgnoreUnsolicited, "IgnoreUnsolicited"},
		{FlagEnforceSecure | FlagIgnoreUnsolicited, "EnforceSecure|IgnoreUnsolicited"},
	}
	for _, c := range cases {
		if got := c.f.String(); got != c.want {
			t.Errorf("Flag(%d).String() = %q, want %q", c.f, got, c.want)
		}
	}
}

func TestParseFlag(t *testing.T) {
	cases := []struct {
		in   string
		want Flag
	}{
		{"", 0},
		{"None", 0},
		{"EnforceSecure", FlagEnforceSecure},
		{"InstallMode | IgnoreUnsolicited", FlagInstallMode | FlagIgnoreUnsolicited},
		{"EnforceSecure|InstallMode|IgnoreUnsolicited", FlagEnforceSecure | FlagInstallMode | FlagIgnoreUnsolicited},
	}
	for _, c := range cases {
		got, err := ParseFlag(c.in)
		if err != nil {
			t.Errorf("ParseFlag(%q): %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("ParseFlag(%q) = %v, want %v", c.in, got, c.want)
		}
	}
	if _, err := ParseFlag("SuperSecure"); err == nil {
		t.Error("unknown flag name accepted")
	}
}

func TestParseFlagRoundTrip(t *testing.T) {
	for f := Flag(0); f < 8; f++ {
		got, err := ParseFlag(f.String())
		if err != nil {
			t.Fatalf("ParseFlag(%q): %v", f.String(), err)
		}
		if got != f {
			t.Errorf("ParseFlag(%q) = %v, want %v", f.String(), got, f)
		}
	}
}
