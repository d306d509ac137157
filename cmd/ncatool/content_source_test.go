package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestOpenContentSourceDirectPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "game.nca")
	if err := os.WriteFile(path, []byte("nca bytes"), 0o600); err != nil {
		t.Fatal(err)
	}

	rc, ra, size, err := openContentSource(path, "")
	if err != nil {
		t.Fatalf("openContentSource: %v", err)
	}
	defer rc.Close()

	if size != int64(len("nca bytes")) {
		t.Fatalf("size = %d, want %d", size, len("nca bytes"))
	}
	buf := make([]byte, size)
	if _, err := ra.ReadAt(buf, 0); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if string(buf) != "nca bytes" {
		t.Fatalf("ReadAt = %q", buf)
	}
}

func TestOpenContentSourceContentDirFallback(t *testing.T) {
	contentDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(contentDir, "deadbeef.nca"), []byte("loose content"), 0o600); err != nil {
		t.Fatal(err)
	}

	rc, ra, size, err := openContentSource("deadbeef", contentDir)
	if err != nil {
		t.Fatalf("openContentSource: %v", err)
	}
	defer rc.Close()

	if size != int64(len("loose content")) {
		t.Fatalf("size = %d, want %d", size, len("loose content"))
	}
	buf := make([]byte, size)
	if _, err := ra.ReadAt(buf, 0); err != nil {
		t.Fatal(err)
	}
	if string(buf) != "loose content" {
		t.Fatalf("ReadAt = %q", buf)
	}
}

func TestOpenContentSourceMissingFails(t *testing.T) {
	if _, _, _, err := openContentSource(filepath.Join(t.TempDir(), "nope.nca"), ""); err == nil {
		t.Fatalf("expected an error for a nonexistent file with no content dir")
	}
}
