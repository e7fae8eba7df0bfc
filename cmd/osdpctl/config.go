package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	osdp "github.com/goToMain/go-osdp"
)

// pdSection describes one device in the config file. In CP mode every
// [[pd]] is a device on the bus; in PD mode the file holds exactly one.
type pdSection struct {
	Name         string    `toml:"name"`
	Address      int       `toml:"address"`
	BaudRate     int       `toml:"baud_rate"`
	Channel      string    `toml:"channel"`
	Flags        string    `toml:"flags"`
	SCBK         string    `toml:"scbk"`
	KeyStore     string    `toml:"key_store"`
	ID           idSection `toml:"id"`
	Capabilities []string  `toml:"capabilities"`
}

// idSection is the identity a PD reports; ignored in CP mode.
type idSection struct {
	VendorCode   uint32 `toml:"vendor_code"`
	Model        uint8  `toml:"model"`
	Version      uint8  `toml:"version"`
	SerialNumber uint32 `toml:"serial_number"`
}

type fileConfig struct {
	Name     string      `toml:"name"`
	LogLevel string      `toml:"log_level"`
	LogFile  string      `toml:"log_file"`
	PD       []pdSection `toml:"pd"`
}

func loadConfig(path string) (*fileConfig, error) {
	var cfg fileConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	if len(cfg.PD) == 0 {
		return nil, fmt.Errorf("config %s: no [[pd]] sections", path)
	}
	return &cfg, nil
}

// newLogger builds the process logger: console output, optionally teed
// into a size-rotated log file.
func newLogger(cfg *fileConfig, verbose bool, errOut io.Writer) (zerolog.Logger, error) {
	level := zerolog.InfoLevel
	if cfg.LogLevel != "" {
		var err error
		level, err = zerolog.ParseLevel(cfg.LogLevel)
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("log_level: %w", err)
		}
	}
	if verbose {
		level = zerolog.DebugLevel
	}

	var w io.Writer = zerolog.ConsoleWriter{
		Out:        errOut,
		TimeFormat: time.RFC3339,
	}
	if cfg.LogFile != "" {
		w = zerolog.MultiLevelWriter(w, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    10, // MB
			MaxBackups: 3,
		})
	}
	return zerolog.New(w).Level(level).With().Timestamp().Str("app", cfg.Name).Logger(), nil
}

// buildPdInfo turns one config section into a PdInfo. The channels map
// deduplicates channel URLs so PDs on one multi-drop line share a bus.
func buildPdInfo(sec *pdSection, log zerolog.Logger, channels map[string]osdp.Channel) (*osdp.PdInfo, *keyStore, error) {
	flags, err := osdp.ParseFlag(sec.Flags)
	if err != nil {
		return nil, nil, err
	}

	ch, ok := channels[sec.Channel]
	if !ok {
		ch, err = openChannel(sec.Channel, sec.BaudRate, len(channels))
		if err != nil {
			return nil, nil, fmt.Errorf("pd %q: %w", sec.Name, err)
		}
		channels[sec.Channel] = ch
	}

	b := osdp.NewPdInfoBuilder().
		Name(sec.Name).
		Address(sec.Address).
		BaudRate(sec.BaudRate).
		Flag(flags).
		Channel(ch).
		Logger(log)

	if sec.ID != (idSection{}) {
		b.ID(osdp.PdID{
			VendorCode:   sec.ID.VendorCode,
			Model:        sec.ID.Model,
			Version:      sec.ID.Version,
			SerialNumber: sec.ID.SerialNumber,
		})
	}
	for _, s := range sec.Capabilities {
		cap, err := osdp.ParsePdCapability(s)
		if err != nil {
			return nil, nil, fmt.Errorf("pd %q: %w", sec.Name, err)
		}
		b.Capability(cap)
	}

	var ks *keyStore
	switch {
	case sec.SCBK != "":
		key, err := hex.DecodeString(sec.SCBK)
		if err != nil || len(key) != osdp.SCBKLen {
			return nil, nil, fmt.Errorf("pd %q: scbk must be %d hex bytes", sec.Name, osdp.SCBKLen)
		}
		b.SecureChannelKey(key)
	case sec.KeyStore != "":
		ks = &keyStore{path: sec.KeyStore}
		key, err := ks.load()
		if err != nil && !os.IsNotExist(err) {
			return nil, nil, fmt.Errorf("pd %q: %w", sec.Name, err)
		}
		if key != nil {
			b.SecureChannelKey(key)
		}
	}

	info, err := b.Build()
	if err != nil {
		return nil, nil, fmt.Errorf("pd %q: %w", sec.Name, err)
	}
	return info, ks, nil
}
