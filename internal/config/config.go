// Package config loads ncatool's TOML configuration file via
// BurntSushi/toml.Decode against a plain struct.
package config

import (
	"os"

	"github.com/BurntSushi/toml"
)

// Config is ncatool's on-disk configuration: default key file locations and
// output preferences, so repeated invocations don't need every flag spelled
// out on the command line.
type Config struct {
	KeysFile         string `toml:"keys_file"`
	TitleKeysFile    string `toml:"title_keys_file"`
	OutputDir        string `toml:"output_dir"`
	CompressionLevel int    `toml:"compression_level"`
	ReferenceKAEK    string `toml:"reference_kaek"` // hex, for HeaderPatcher's Program NCA flow
}

// Default returns a Config with the package's compression-level fallback.
func Default() Config {
	return Config{CompressionLevel: 19}
}

// Load decodes a TOML file at path into a Config seeded with Default.
func Load(path string) (Config, error) {
	cfg := Default()
	if _, err := os.Stat(path); err != nil {
		return cfg, err
	}
	_, err := toml.DecodeFile(path, &cfg)
	return cfg, err
}
