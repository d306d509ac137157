package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/archivecore/ncarepack/internal/log"
	"github.com/archivecore/ncarepack/pkg/bktr"
	"github.com/archivecore/ncarepack/pkg/nca"
	"github.com/archivecore/ncarepack/pkg/ncaerr"
	"github.com/archivecore/ncarepack/pkg/pfs0"
	"github.com/archivecore/ncarepack/pkg/romfs"
	"github.com/archivecore/ncarepack/pkg/section"
)

var (
	extractOut        string
	extractBase       string
	extractContentDir string
)

var extractCmd = &cobra.Command{
	Use:   "extract <file.nca>",
	Short: "Decrypt an NCA's sections and extract their PFS0/RomFS contents",
	Args:  cobra.ExactArgs(1),
	RunE:  runExtract,
}

func init() {
	rootCmd.AddCommand(extractCmd)
	extractCmd.Flags().StringVarP(&extractOut, "out", "o", "", "Output directory (defaults to <file>.extracted)")
	extractCmd.Flags().StringVar(&extractBase, "base", "", "Base NCA path or content id, required to resolve a patch NCA's BKTR relocations")
	extractCmd.Flags().StringVar(&extractContentDir, "content-dir", "", "Directory of loose <content-id>.nca files, for resolving --base by content id")
}

func runExtract(cmd *cobra.Command, args []string) error {
	kp, err := loadKeyProvider()
	if err != nil {
		return fmt.Errorf("loading keys: %w", err)
	}
	tickets, err := loadTicketStore(kp)
	if err != nil {
		return fmt.Errorf("loading title keys: %w", err)
	}

	inputPath := args[0]
	inputSrc, f, _, err := openContentSource(inputPath, extractContentDir)
	if err != nil {
		return err
	}
	defer inputSrc.Close()

	h, err := nca.Decrypt(f, kp, tickets)
	if err != nil {
		return fmt.Errorf("decrypting header: %w", err)
	}

	var baseHeader *nca.Header
	var baseFile io.ReaderAt
	if extractBase != "" {
		baseSrc, bf, _, err := openContentSource(extractBase, extractContentDir)
		if err != nil {
			return fmt.Errorf("opening base NCA: %w", err)
		}
		defer baseSrc.Close()
		baseFile = bf
		baseHeader, err = nca.Decrypt(baseFile, kp, tickets)
		if err != nil {
			return fmt.Errorf("decrypting base NCA header: %w", err)
		}
	}

	outDir := extractOut
	if outDir == "" && cfg.OutputDir != "" {
		outDir = filepath.Join(cfg.OutputDir, filepath.Base(inputPath)+".extracted")
	}
	if outDir == "" {
		outDir = inputPath + ".extracted"
	}

	for i, entry := range h.SectionEntries {
		if entry.Empty() {
			continue
		}
		fh := h.FsHeaders[i]
		start, end := entry.ByteRange()

		r, err := sectionReader(f, h, i, start, end, baseHeader, baseFile)
		if err != nil {
			log.Warnf("section %d: %v", i, err)
			continue
		}

		sectionDir := filepath.Join(outDir, fmt.Sprintf("section%d", i))
		switch fh.PartitionKind {
		case nca.PartitionPFS0:
			if err := extractPfs0(r, sectionDir); err != nil {
				log.Warnf("section %d: extracting PFS0: %v", i, err)
			}
		case nca.PartitionRomFS:
			if err := extractRomfs(r, sectionDir); err != nil {
				log.Warnf("section %d: extracting RomFS: %v", i, err)
			}
		}
	}

	log.Infof("extracted to %s", outDir)
	return nil
}

// sectionReader builds the decrypted, random-access reader for one FS
// section: a plain SectionCipher for CTR/XTS sections, or a bktr.Translator
// stitching the patch section together with the base NCA's matching RomFS
// section for BKTR.
func sectionReader(f io.ReaderAt, h *nca.Header, i int, start, end int64, baseHeader *nca.Header, baseFile io.ReaderAt) (io.ReaderAt, error) {
	fh := h.FsHeaders[i]
	key := h.SectionKeys[i]

	if fh.CryptoKind != section.CryptoBKTR {
		return section.New(section.CryptoType(fh.CryptoKind), key, fh.CryptoCounter[:], f, start, end-start), nil
	}
	if fh.Bktr == nil {
		return nil, ncaerr.NewGlobal(ncaerr.BadSize, "BKTR section missing its superblock", nil)
	}

	// A BKTR section's bytes are plain AES-CTR on disk; fh.CryptoKind only
	// flags that the subsection table below may override the nonce
	// high-bits partway through, so the patch cipher itself is built as
	// CryptoCTR rather than CryptoBKTR.
	cipher := section.New(section.CryptoCTR, key, fh.CryptoCounter[:], f, start, end-start)

	relocs, err := bktr.ParseRelocationTable(f, start, fh.Bktr.RelocationHdr.Offset, fh.Bktr.RelocationHdr.Size, key, fh.CryptoCounter[:])
	if err != nil {
		return nil, err
	}
	subs, err := bktr.ParseSubsectionTable(f, start, fh.Bktr.SubsectionHdr.Offset, fh.Bktr.SubsectionHdr.Size, key, fh.CryptoCounter[:])
	if err != nil {
		return nil, err
	}

	t := &bktr.Translator{Relocations: relocs, Subsections: subs, Patch: cipher, PatchCounter: fh.CryptoCounter[:]}
	if baseHeader != nil {
		baseIdx := baseRomfsSectionIndex(baseHeader)
		if baseIdx < 0 {
			return nil, ncaerr.NewGlobal(ncaerr.BktrOutOfRange, "base NCA has no RomFS section", nil)
		}
		bStart, bEnd := baseHeader.SectionEntries[baseIdx].ByteRange()
		bfh := baseHeader.FsHeaders[baseIdx]
		t.Base = section.New(section.CryptoType(bfh.CryptoKind), baseHeader.SectionKeys[baseIdx], bfh.CryptoCounter[:], baseFile, bStart, bEnd-bStart)
	}
	return t, nil
}

func baseRomfsSectionIndex(h *nca.Header) int {
	for i, e := range h.SectionEntries {
		if !e.Empty() && h.FsHeaders[i].PartitionKind == nca.PartitionRomFS {
			return i
		}
	}
	return -1
}

func extractPfs0(r io.ReaderAt, outDir string) error {
	part, err := pfs0.Open(r)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}
	for i, e := range part.Entries {
		if err := copyToFile(part.FileReaderAt(i), e.DataSize, filepath.Join(outDir, e.Name)); err != nil {
			return err
		}
	}
	return nil
}

func extractRomfs(r io.ReaderAt, outDir string) error {
	mounted, err := romfs.Mount(r)
	if err != nil {
		return err
	}
	root, ok := mounted.Root()
	if !ok {
		return ncaerr.NewGlobal(ncaerr.BadSize, "RomFS has no root directory", nil)
	}
	return walkRomfsDir(mounted, root, outDir)
}

func walkRomfsDir(r *romfs.Reader, d romfs.Dir, outDir string) error {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}
	for _, f := range r.Files(d) {
		if err := copyToFile(r.OpenFile(f), f.DataSize, filepath.Join(outDir, f.Name)); err != nil {
			return err
		}
	}
	for _, child := range r.Children(d) {
		if err := walkRomfsDir(r, child, filepath.Join(outDir, child.Name)); err != nil {
			return err
		}
	}
	return nil
}

func copyToFile(r io.ReaderAt, size int64, path string) error {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, io.NewSectionReader(r, 0, size))
	return err
}
