package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	osdp "github.com/goToMain/go-osdp"
)

const sampleConfig = `
name = "cp0"
log_level = "debug"

[[pd]]
name = "door-1"
address = 101
baud_rate = 115200
channel = "unix:///tmp/osdp-test-door1.sock"
flags = "EnforceSecure"
scbk = "c0c1c2c3c4c5c6c7c8c9cacbcccdcecf"

[[pd]]
name = "door-2"
address = 102
baud_rate = 115200
channel = "unix:///tmp/osdp-test-door1.sock"
flags = "InstallMode"
capabilities = ["CommunicationSecurity:1,1", "ReceiveBufferSize:0,1"]

[pd.id]
vendor_code = 51966
model = 2
version = 1
serial_number = 1234
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "osdpctl.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	cfg, err := loadConfig(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Name != "cp0" || len(cfg.PD) != 2 {
		t.Fatalf("got name %q, %d pds", cfg.Name, len(cfg.PD))
	}
	if cfg.PD[0].Address != 101 || cfg.PD[1].Flags != "InstallMode" {
		t.Errorf("sections parsed wrong: %+v", cfg.PD)
	}
	if cfg.PD[1].ID.VendorCode != 51966 {
		t.Errorf("id section parsed wrong: %+v", cfg.PD[1].ID)
	}
}

func TestLoadConfigNoSections(t *testing.T) {
	if _, err := loadConfig(writeConfig(t, `name = "empty"`)); err == nil {
		t.Fatal("config without [[pd]] accepted")
	}
}

func TestBuildPdInfoSharesChannel(t *testing.T) {
	cfg, err := loadConfig(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatal(err)
	}
	channels := make(map[string]osdp.Channel)
	var infos []*osdp.PdInfo
	for i := range cfg.PD {
		info, _, err := buildPdInfo(&cfg.PD[i], zerolog.Nop(), channels)
		if err != nil {
			t.Fatalf("pd %d: %v", i, err)
		}
		infos = append(infos, info)
	}
	if len(channels) != 1 {
		t.Fatalf("same channel URL produced %d channels", len(channels))
	}
	if infos[0].Name() != "door-1" || infos[1].Address() != 102 {
		t.Errorf("infos built wrong: %v %v", infos[0], infos[1])
	}
}

func TestBuildPdInfoBadConfig(t *testing.T) {
	cases := map[string]pdSection{
		"bad flags": {Name: "x", Address: 1, BaudRate: 9600,
			Channel: "unix:///tmp/x.sock", Flags: "VerySecure"},
		"bad scbk": {Name: "x", Address: 1, BaudRate: 9600,
			Channel: "unix:///tmp/x.sock", SCBK: "abcd"},
		"bad capability": {Name: "x", Address: 1, BaudRate: 9600,
			Channel: "unix:///tmp/x.sock", Capabilities: []string{"Nope:1,1"}},
		"bad channel": {Name: "x", Address: 1, BaudRate: 9600,
			Channel: "pigeon://loft"},
	}
	for name, sec := range cases {
		sec := sec
		channels := make(map[string]osdp.Channel)
		if _, _, err := buildPdInfo(&sec, zerolog.Nop(), channels); err == nil {
			t.Errorf("%s: accepted", name)
		}
	}
}

func TestKeyStoreRoundTrip(t *testing.T) {
	ks := &keyStore{path: filepath.Join(t.TempDir(), "door.key")}

	if _, err := ks.load(); !os.IsNotExist(err) {
		t.Fatalf("load of missing store: %v", err)
	}

	var key [osdp.SCBKLen]byte
	for i := range key {
		key[i] = byte(i * 3)
	}
	if err := ks.save(key); err != nil {
		t.Fatal(err)
	}
	got, err := ks.load()
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(key[:]) {
		t.Errorf("loaded key % x, want % x", got, key)
	}
}

func TestKeyStoreRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "door.key")
	if err := os.WriteFile(path, []byte("not hex\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	ks := &keyStore{path: path}
	if _, err := ks.load(); err == nil {
		t.Fatal("garbage key file accepted")
	}

	if err := os.WriteFile(path, []byte("aabb\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := ks.load(); err == nil {
		t.Fatal("short key accepted")
	}
}
