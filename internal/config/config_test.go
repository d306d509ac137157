package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.CompressionLevel != 19 {
		t.Fatalf("CompressionLevel = %d, want 19", cfg.CompressionLevel)
	}
	if cfg.KeysFile != "" || cfg.OutputDir != "" {
		t.Fatalf("expected an otherwise-zero Config, got %+v", cfg)
	}
}

func TestLoadDecodesTomlFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ncatool.toml")
	content := `
keys_file = "/home/user/.switch/prod.keys"
title_keys_file = "/home/user/.switch/title.keys"
output_dir = "/tmp/out"
compression_level = 7
reference_kaek = "0011223344556677889900112233445566"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.KeysFile != "/home/user/.switch/prod.keys" {
		t.Fatalf("KeysFile = %q", cfg.KeysFile)
	}
	if cfg.CompressionLevel != 7 {
		t.Fatalf("CompressionLevel = %d, want 7", cfg.CompressionLevel)
	}
	if cfg.OutputDir != "/tmp/out" {
		t.Fatalf("OutputDir = %q", cfg.OutputDir)
	}
}

func TestLoadMissingFileReturnsDefaultAndError(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	if err == nil {
		t.Fatalf("expected an error for a missing config file")
	}
	if cfg.CompressionLevel != 19 {
		t.Fatalf("expected the default CompressionLevel to still be populated, got %d", cfg.CompressionLevel)
	}
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "partial.toml")
	if err := os.WriteFile(path, []byte(`output_dir = "/tmp/x"`+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.CompressionLevel != 19 {
		t.Fatalf("expected CompressionLevel to retain its default, got %d", cfg.CompressionLevel)
	}
	if cfg.OutputDir != "/tmp/x" {
		t.Fatalf("OutputDir = %q", cfg.OutputDir)
	}
}
