package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	osdp "github.com/goToMain/go-osdp"
)

// keyStore persists a secure channel base key as hex in a file, so a PD
// provisioned over KEYSET keeps its key across restarts.
type keyStore struct {
	path string
}

func (k *keyStore) load() ([]byte, error) {
	raw, err := os.ReadFile(k.path)
	if err != nil {
		return nil, err
	}
	key, err := hex.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("key store %s: %w", k.path, err)
	}
	if len(key) != osdp.SCBKLen {
		return nil, fmt.Errorf("key store %s: want %d bytes, got %d", k.path, osdp.SCBKLen, len(key))
	}
	return key, nil
}

func (k *keyStore) save(key [osdp.SCBKLen]byte) error {
	return os.WriteFile(k.path, []byte(hex.EncodeToString(key[:])+"\n"), 0o600)
}
