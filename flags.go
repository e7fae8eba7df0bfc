package osdp

import (
	"fmt"
	"strings"
)

// Flag modifies how a device context is set up.
type Flag uint32

const (
	// FlagEnforceSecure makes security conscious assumptions and fails where
	// they do not hold: SCBK-D is refused (which implies no install mode)
	// and a PD that never establishes a secure channel is kept offline.
	FlagEnforceSecure Flag = 1 << iota

	// FlagInstallMode allows one secure channel session to be set up with
	// the well known default key SCBK-D. The device is in a vulnerable
	// state; use only in controlled provisioning environments.
	FlagInstallMode

	// FlagIgnoreUnsolicited makes a CP tolerate unknown, unsolicited
	// replies from a PD instead of counting them as protocol errors. Has no
	// effect in PD mode.
	FlagIgnoreUnsolicited
)

func (f Flag) String() string {
	var names []string
	if f&FlagEnforceSecure != 0 {
		names = append(names, "EnforceSecure")
	}
	if f&FlagInstallMode != 0 {
		names = append(names, "InstallMode")
	}
	if f&FlagIgnoreUnsolicited != 0 {
		names = append(names, "IgnoreUnsolicited")
	}
	if len(names) == 0 {
		return "None"
	}
	return strings.Join(names, "|")
}

// ParseFlag converts a flag name, or a '|' separated list of names, into a
// Flag set. Config files name flags the same way Flag.String prints them.
func ParseFlag(s string) (Flag, error) {
	var f Flag
	for _, name := range strings.Split(s, "|") {
		switch strings.TrimSpace(name) {
		case "", "None":
		case "EnforceSecure":
			f |= FlagEnforceSecure
		case "InstallMode":
			f |= FlagInstallMode
		case "IgnoreUnsolicited":
			f |= FlagIgnoreUnsolicited
		default:
			return 0, fmt.Errorf("osdp: unknown flag %q", name)
		}
	}
	return f, nil
}
