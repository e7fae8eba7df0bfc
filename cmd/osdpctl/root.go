package main

import (
	"context"
	"flag"

	"github.com/peterbourgon/ff/v3/ffcli"
)

type rootConfig struct {
	verbose bool
	config  string
}

func (c *rootConfig) registerFlags(fs *flag.FlagSet) {
	fs.BoolVar(&c.verbose, "v", false, "increase log verbosity")
	fs.StringVar(&c.config, "c", "osdpctl.toml", "path to the device config file")
}

func (c *rootConfig) Exec(context.Context, []string) error {
	return flag.ErrHelp
}

func newRootCmd() (*ffcli.Command, *rootConfig) {
	var cfg rootConfig

	fs := flag.NewFlagSet("osdpctl", flag.ExitOnError)
	cfg.registerFlags(fs)

	return addLongHelp(&ffcli.Command{
		Name:       "osdpctl",
		ShortUsage: "osdpctl [flags] <subcommand>",
		ShortHelp:  "Run OSDP control panel and peripheral device contexts.",
		FlagSet:    fs,
		Exec:       cfg.Exec,
	}), &cfg
}

var osdpctlLongHelp = `

CHANNELS
Devices are connected through a channel URL in the config file:

  serial:///dev/ttyUSB0    an RS-485 line through a serial adapter
  unix:///run/osdp/pd.sock a unix domain socket, for local testing

On a unix socket channel the PD side listens and the CP side connects.
Multiple PDs sharing one multi-drop serial line use the same channel URL.

KEYS
The secure channel base key is either given inline as 32 hex digits
("scbk") or stored in a key file ("key_store"). A PD running with a key
store persists keys pushed by the CP, so a device provisioned in install
mode comes back with its assigned key.`

func addLongHelp(cmd *ffcli.Command) *ffcli.Command {
	if cmd.LongHelp == "" {
		cmd.LongHelp = cmd.ShortHelp
	}

	cmd.LongHelp += osdpctlLongHelp

	return cmd
}
