package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/peterbourgon/ff/v3/ffcli"
	"github.com/rs/zerolog"

	osdp "github.com/goToMain/go-osdp"
)

// refreshPeriod is the cadence of the device refresh loop.
const refreshPeriod = 50 * time.Millisecond

type cpConfig struct {
	rootConfig *rootConfig
	out        io.Writer
	err        io.Writer
	status     time.Duration
}

func (c *cpConfig) Exec(ctx context.Context, _ []string) error {
	cfg, err := loadConfig(c.rootConfig.config)
	if err != nil {
		return err
	}
	log, err := newLogger(cfg, c.rootConfig.verbose, c.err)
	if err != nil {
		return err
	}

	channels := make(map[string]osdp.Channel)
	infos := make([]*osdp.PdInfo, 0, len(cfg.PD))
	for i := range cfg.PD {
		info, _, err := buildPdInfo(&cfg.PD[i], log, channels)
		if err != nil {
			return err
		}
		infos = append(infos, info)
	}

	cp, err := osdp.NewControlPanel(infos)
	if err != nil {
		return err
	}
	cp.SetEventCallback(func(pd int, ev osdp.Event) {
		log.Info().Str("pd", infos[pd].Name()).Stringer("event", ev).Msg("event")
	})

	log.Info().Int("pds", len(infos)).Msg("control panel running")
	defer closeChannels(channels)

	ticker := time.NewTicker(refreshPeriod)
	defer ticker.Stop()
	statusTicker := time.NewTicker(c.status)
	defer statusTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-statusTicker.C:
			logStatus(log, cp, infos)
		case <-ticker.C:
			cp.Refresh()
		}
	}
}

func logStatus(log zerolog.Logger, cp *osdp.ControlPanel, infos []*osdp.PdInfo) {
	for i, info := range infos {
		log.Info().
			Str("pd", info.Name()).
			Bool("online", cp.IsOnline(i)).
			Bool("secure", cp.IsSecureChannelActive(i)).
			Msg("status")
	}
}

func closeChannels(channels map[string]osdp.Channel) {
	for _, ch := range channels {
		if c, ok := ch.(io.Closer); ok {
			_ = c.Close()
		}
	}
}

func newCPCmd(rootConfig *rootConfig, out, err io.Writer) *ffcli.Command {
	cfg := cpConfig{
		rootConfig: rootConfig,
		out:        out,
		err:        err,
	}

	fs := flag.NewFlagSet("osdpctl cp", flag.ExitOnError)
	fs.DurationVar(&cfg.status, "status", time.Minute, "period of device status log lines")
	rootConfig.registerFlags(fs)

	return addLongHelp(&ffcli.Command{
		Name:       "cp",
		ShortUsage: "cp [flags]",
		ShortHelp:  "Run a control panel for the PDs in the config file.",
		FlagSet:    fs,
		Exec:       cfg.Exec,
	})
}

type checkConfig struct {
	rootConfig *rootConfig
	out        io.Writer
	err        io.Writer
}

func (c *checkConfig) Exec(ctx context.Context, _ []string) error {
	cfg, err := loadConfig(c.rootConfig.config)
	if err != nil {
		return err
	}
	channels := make(map[string]osdp.Channel)
	defer closeChannels(channels)
	for i := range cfg.PD {
		info, _, err := buildPdInfo(&cfg.PD[i], zerolog.Nop(), channels)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "%s: address %d, channel %s\n",
			info.Name(), info.Address(), cfg.PD[i].Channel)
	}
	fmt.Fprintf(c.out, "%s: ok\n", c.rootConfig.config)
	return nil
}

func newCheckCmd(rootConfig *rootConfig, out, err io.Writer) *ffcli.Command {
	cfg := checkConfig{
		rootConfig: rootConfig,
		out:        out,
		err:        err,
	}

	fs := flag.NewFlagSet("osdpctl check", flag.ExitOnError)
	rootConfig.registerFlags(fs)

	return addLongHelp(&ffcli.Command{
		Name:       "check",
		ShortUsage: "check [flags]",
		ShortHelp:  "Validate a config file and open its channels once.",
		FlagSet:    fs,
		Exec:       cfg.Exec,
	})
}
