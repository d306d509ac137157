// Package keys resolves the named keys the decoding core needs: the NCA
// header key, key-area encryption keys (KAEK), title-key encryption keys
// (titlekek), ticket common keys, and the ACID signing key used when
// repatching a program NCA's NPDM.
//
// Provider is a value satisfying the nca.KeyProvider contract external
// components are written against (see pkg/nca, pkg/patcher). Key
// files are "key_name = HEXVALUE" text, the format real Switch key-dump
// tools use; the derivation scheme lives in derivation.go.
package keys

import (
	"bufio"
	"crypto/rsa"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/archivecore/ncarepack/pkg/ncaerr"
)

const MaxGeneration = 32

// Provider is the concrete, file-backed KeyProvider. It owns the raw named
// key table plus the derived per-generation key sets.
type Provider struct {
	raw map[string][]byte

	titleKeks   [MaxGeneration][]byte
	keyAreaKeys [MaxGeneration][3][]byte
	acidKeys    [MaxGeneration]*rsa.PrivateKey
}

// New returns an empty Provider; use Load or LoadDefault to populate it.
func New() *Provider {
	return &Provider{raw: make(map[string][]byte)}
}

// Load reads keys from a "name = hex" text file, the same format real
// Switch key-dump tools use.
func (p *Provider) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		name := strings.TrimSpace(parts[0])
		valHex := strings.TrimSpace(parts[1])

		val, err := hex.DecodeString(valHex)
		if err != nil {
			continue
		}

		p.raw[name] = val
	}

	return scanner.Err()
}

// LoadDefault tries a handful of standard key-file locations.
func (p *Provider) LoadDefault() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return err
	}

	paths := []string{
		"prod.keys",
		"keys.txt",
		filepath.Join(home, ".switch", "prod.keys"),
		filepath.Join(home, ".switch", "keys.txt"),
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return p.Load(path)
		}
	}
	return fmt.Errorf("no keys file found in standard locations")
}

// Get returns a copy of a raw named key, or nil if absent.
func (p *Provider) Get(name string) []byte {
	k, ok := p.raw[name]
	if !ok {
		return nil
	}
	dest := make([]byte, len(k))
	copy(dest, k)
	return dest
}

// HeaderKey returns the fixed 32-byte (two AES-128 halves) key used to
// XTS-decrypt every NCA header.
func (p *Provider) HeaderKey() ([]byte, error) {
	k := p.Get("header_key")
	if k == nil {
		return nil, ncaerr.NewGlobal(ncaerr.MissingKey, "header_key not loaded", nil)
	}
	if len(k) != 32 {
		return nil, ncaerr.NewGlobal(ncaerr.MissingKey, fmt.Sprintf("header_key must be 32 bytes, got %d", len(k)), nil)
	}
	return k, nil
}

// KAEK selects which of the three key-area-key sources a given slot maps
// to: 0 = application, 1 = ocean, 2 = system (see Derive in derivation.go).
func (p *Provider) KAEK(index, generation int) ([]byte, error) {
	if generation < 0 || generation >= MaxGeneration {
		return nil, ncaerr.NewGlobal(ncaerr.UnknownGeneration, fmt.Sprintf("generation %d out of range", generation), nil)
	}
	if index < 0 || index > 2 {
		return nil, ncaerr.NewGlobal(ncaerr.MissingKey, fmt.Sprintf("kaek index %d out of range", index), nil)
	}
	k := p.keyAreaKeys[generation][index]
	if k == nil {
		return nil, ncaerr.NewGlobal(ncaerr.UnknownGeneration, fmt.Sprintf("key_area_key[%d]_%02x not derived", index, generation), nil)
	}
	return k, nil
}

func (p *Provider) TitleKek(generation int) ([]byte, error) {
	if generation < 0 || generation >= MaxGeneration {
		return nil, ncaerr.NewGlobal(ncaerr.UnknownGeneration, fmt.Sprintf("generation %d out of range", generation), nil)
	}
	k := p.titleKeks[generation]
	if k == nil {
		return nil, ncaerr.NewGlobal(ncaerr.UnknownGeneration, fmt.Sprintf("titlekek_%02x not derived", generation), nil)
	}
	return k, nil
}

// TicketCommonKey decrypts the encrypted title-key block carried inside a
// common-type ticket. On real hardware this is the same titlekek set used
// to unwrap title keys out of the NCA key area, so this is an explicit
// alias rather than a second derivation.
func (p *Provider) TicketCommonKey(generation int) ([]byte, error) {
	return p.TitleKek(generation)
}

// AcidSigningKey returns the known private key HeaderPatcher substitutes
// into a repatched program NCA's NPDM so the console loader still accepts
// its ACID signature post-patch. Only required by HeaderPatcher.
func (p *Provider) AcidSigningKey(generation int) (*rsa.PrivateKey, error) {
	if generation < 0 || generation >= MaxGeneration {
		return nil, ncaerr.NewGlobal(ncaerr.UnknownGeneration, fmt.Sprintf("generation %d out of range", generation), nil)
	}
	k := p.acidKeys[generation]
	if k == nil {
		return nil, ncaerr.NewGlobal(ncaerr.MissingKey, fmt.Sprintf("acid_signing_key_%02x not loaded", generation), nil)
	}
	return k, nil
}
