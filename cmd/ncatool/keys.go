package main

import (
	"bufio"
	"encoding/hex"
	"os"
	"strings"

	"github.com/archivecore/ncarepack/pkg/keys"
	"github.com/archivecore/ncarepack/pkg/ticket"
)

// loadKeyProvider resolves prod.keys from the --keys flag, the config
// file's keys_file, or the standard locations, in that order, then derives
// every per-generation key set.
func loadKeyProvider() (*keys.Provider, error) {
	p := keys.New()
	var err error
	switch {
	case keysFile != "":
		err = p.Load(keysFile)
	case cfg.KeysFile != "":
		err = p.Load(cfg.KeysFile)
	default:
		err = p.LoadDefault()
	}
	if err != nil {
		return nil, err
	}
	p.Derive()
	return p, nil
}

// loadTicketStore indexes every ticket named in title.keys, a flat
// "name = hex" file whose every value is a whole raw ticket (at least
// ticket.Size bytes); shorter or unparsable values are skipped. Absent
// --title-keys and a config title_keys_file, the store is still usable for
// rights-id-zero content.
func loadTicketStore(p *keys.Provider) (*ticket.Store, error) {
	store := ticket.NewStore(p)
	path := titlePath
	if path == "" {
		path = cfg.TitleKeysFile
	}
	if path == "" {
		return store, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
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
		raw, err := hex.DecodeString(strings.TrimSpace(parts[1]))
		if err != nil || len(raw) < ticket.Size {
			continue
		}
		if err := store.Add(raw); err != nil {
			continue
		}
	}
	return store, scanner.Err()
}
