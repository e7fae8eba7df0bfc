package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/peterbourgon/ff/v3/ffcli"

	osdp "github.com/goToMain/go-osdp"
)

type pdConfig struct {
	rootConfig *rootConfig
	out        io.Writer
	err        io.Writer
}

func (c *pdConfig) Exec(ctx context.Context, _ []string) error {
	cfg, err := loadConfig(c.rootConfig.config)
	if err != nil {
		return err
	}
	if len(cfg.PD) != 1 {
		return fmt.Errorf("pd mode needs exactly one [[pd]] section, got %d", len(cfg.PD))
	}
	log, err := newLogger(cfg, c.rootConfig.verbose, c.err)
	if err != nil {
		return err
	}

	channels := make(map[string]osdp.Channel)
	defer closeChannels(channels)
	info, ks, err := buildPdInfo(&cfg.PD[0], log, channels)
	if err != nil {
		return err
	}
	// the PD side of a unix socket channel listens
	for _, ch := range channels {
		if uc, ok := ch.(*unixChannel); ok {
			if err := uc.serve(); err != nil {
				return err
			}
		}
	}

	pd, err := osdp.NewPeripheralDevice(info)
	if err != nil {
		return err
	}
	pd.SetCommandCallback(func(cmd osdp.Command) error {
		log.Info().Stringer("command", cmd).Msg("command")
		if keyset, ok := cmd.(osdp.CommandKeySet); ok && ks != nil {
			if err := ks.save(keyset.Key); err != nil {
				log.Error().Err(err).Msg("persisting new SCBK failed")
				return err
			}
			log.Info().Msg("new SCBK persisted")
		}
		return nil
	})

	log.Info().Str("pd", info.Name()).Msg("peripheral device running")

	ticker := time.NewTicker(refreshPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			pd.Refresh()
		}
	}
}

func newPDCmd(rootConfig *rootConfig, out, err io.Writer) *ffcli.Command {
	cfg := pdConfig{
		rootConfig: rootConfig,
		out:        out,
		err:        err,
	}

	fs := flag.NewFlagSet("osdpctl pd", flag.ExitOnError)
	rootConfig.registerFlags(fs)

	return addLongHelp(&ffcli.Command{
		Name:       "pd",
		ShortUsage: "pd [flags]",
		ShortHelp:  "Run as the peripheral device described in the config file.",
		FlagSet:    fs,
		Exec:       cfg.Exec,
	})
}
