package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/archivecore/ncarepack/internal/log"
	"github.com/archivecore/ncarepack/internal/nczpack"
	"github.com/archivecore/ncarepack/pkg/nca"
)

// defaultPatchedPath derives an output path from the input path, honoring
// cfg.OutputDir when no explicit --out was given, and swapping in a .ncz
// extension when the caller asked for compressed output.
func defaultPatchedPath(explicit, inputPath string, compressed bool) string {
	if explicit != "" {
		return explicit
	}
	suffix := ".patched.nca"
	if compressed {
		suffix = ".patched.ncz"
	}
	if cfg.OutputDir != "" {
		return filepath.Join(cfg.OutputDir, filepath.Base(inputPath)+suffix)
	}
	return inputPath + suffix
}

// writePatchedNca writes out, a fully re-encrypted NCA's raw bytes, either
// verbatim or (when compress is set) repacked as an .ncz via nczpack.
func writePatchedNca(out []byte, h *nca.Header, outPath string, compress bool) error {
	if !compress {
		if err := os.WriteFile(outPath, out, 0o644); err != nil {
			return err
		}
		log.Infof("wrote %s (%d bytes)", outPath, len(out))
		return nil
	}

	level := cfg.CompressionLevel
	if level == 0 {
		level = nczpack.DefaultCompressionLevel
	}

	f, err := os.Create(outPath)
	if err != nil {
		return err
	}
	defer f.Close()

	n, err := nczpack.CompressNca(byteReaderAt(out), f, h, int64(len(out)), level, nil)
	if err != nil {
		return err
	}
	log.Infof("wrote %s (%d bytes packed)", outPath, n)
	return nil
}

// ncaOutPath rewrites a .ncz-suffixed path to end in .nca when compression
// was not requested, and vice versa, so a user-supplied --out keeps working
// regardless of which extension they typed.
func ncaOutPath(path string, compress bool) string {
	wantExt := ".nca"
	if compress {
		wantExt = ".ncz"
	}
	ext := filepath.Ext(path)
	if ext == ".nca" || ext == ".ncz" {
		return strings.TrimSuffix(path, ext) + wantExt
	}
	return path
}
