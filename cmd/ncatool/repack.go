package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/archivecore/ncarepack/internal/log"
	"github.com/archivecore/ncarepack/pkg/nca"
	"github.com/archivecore/ncarepack/pkg/ncaerr"
	"github.com/archivecore/ncarepack/pkg/patcher"
	"github.com/archivecore/ncarepack/pkg/pfs0"
	"github.com/archivecore/ncarepack/pkg/section"
)

var repackCmd = &cobra.Command{
	Use:   "repack",
	Short: "Repatch a CNMT or Program NCA for redistribution",
}

func init() {
	rootCmd.AddCommand(repackCmd)
	repackCmd.AddCommand(repackCnmtCmd)
}

var (
	repackOut      string
	repackReplace  []string
	repackCompress bool
)

var repackCnmtCmd = &cobra.Command{
	Use:   "cnmt <meta.nca>",
	Short: "Replace content records in a meta NCA's CNMT and re-derive its hashes",
	Long: `Replace one or more content records in a meta NCA's embedded CNMT
(matched by their existing NCA id), then recompute the PFS0 block-hash
table and the NCA header so the patched file verifies cleanly.

Each --replace value has the form old-nca-id:new-nca-id:new-hash, all hex:

  ncatool repack cnmt meta.nca \
    --replace 0123456789abcdef0123456789abcdef:fedcba9876543210fedcba9876543210:<64-hex-sha256> \
    --out patched.nca`,
	Args: cobra.ExactArgs(1),
	RunE: runRepackCnmt,
}

func init() {
	repackCnmtCmd.Flags().StringVarP(&repackOut, "out", "o", "", "Output path (defaults to <file>.patched.nca, or .patched.ncz with --compress)")
	repackCnmtCmd.Flags().StringArrayVar(&repackReplace, "replace", nil, "old-nca-id:new-nca-id:new-hash replacement (repeatable)")
	repackCnmtCmd.Flags().BoolVar(&repackCompress, "compress", false, "Write the patched NCA as an NCZ-compressed member instead of raw")
}

type recordReplacement struct {
	oldID [0x10]byte
	newID [0x10]byte
	hash  [0x20]byte
}

func parseReplacements(raw []string) ([]recordReplacement, error) {
	out := make([]recordReplacement, 0, len(raw))
	for _, r := range raw {
		parts := strings.Split(r, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("--replace %q: expected old-nca-id:new-nca-id:new-hash", r)
		}
		oldID, err := hex.DecodeString(parts[0])
		if err != nil || len(oldID) != 0x10 {
			return nil, fmt.Errorf("--replace %q: old-nca-id must be 16 bytes of hex", r)
		}
		newID, err := hex.DecodeString(parts[1])
		if err != nil || len(newID) != 0x10 {
			return nil, fmt.Errorf("--replace %q: new-nca-id must be 16 bytes of hex", r)
		}
		hash, err := hex.DecodeString(parts[2])
		if err != nil || len(hash) != 0x20 {
			return nil, fmt.Errorf("--replace %q: new-hash must be 32 bytes of hex", r)
		}
		var rep recordReplacement
		copy(rep.oldID[:], oldID)
		copy(rep.newID[:], newID)
		copy(rep.hash[:], hash)
		out = append(out, rep)
	}
	return out, nil
}

func runRepackCnmt(cmd *cobra.Command, args []string) error {
	if len(repackReplace) == 0 {
		return fmt.Errorf("at least one --replace is required")
	}
	replacements, err := parseReplacements(repackReplace)
	if err != nil {
		return err
	}

	kp, err := loadKeyProvider()
	if err != nil {
		return fmt.Errorf("loading keys: %w", err)
	}
	tickets, err := loadTicketStore(kp)
	if err != nil {
		return fmt.Errorf("loading title keys: %w", err)
	}

	inputPath := args[0]
	raw, err := os.ReadFile(inputPath)
	if err != nil {
		return err
	}

	h, err := nca.Decrypt(byteReaderAt(raw), kp, tickets)
	if err != nil {
		return fmt.Errorf("decrypting header: %w", err)
	}

	pfsIdx := -1
	for i, e := range h.SectionEntries {
		if !e.Empty() && h.FsHeaders[i].PartitionKind == nca.PartitionPFS0 && h.FsHeaders[i].FsKind != nca.FsKindRomFS {
			pfsIdx = i
			break
		}
	}
	if pfsIdx < 0 {
		return fmt.Errorf("no PFS0 section found in %s", inputPath)
	}

	fh := h.FsHeaders[pfsIdx]
	start, end := h.SectionEntries[pfsIdx].ByteRange()
	cipher := section.New(section.CryptoType(fh.CryptoKind), h.SectionKeys[pfsIdx], fh.CryptoCounter[:], byteReaderAt(raw), start, end-start)

	pfs0Plain := make([]byte, end-start)
	if _, err := cipher.ReadAt(pfs0Plain, 0); err != nil {
		return fmt.Errorf("decrypting PFS0 section: %w", err)
	}

	part, err := pfs0.Open(byteReaderAt(pfs0Plain))
	if err != nil {
		return fmt.Errorf("parsing PFS0: %w", err)
	}
	cnmtIdx := -1
	for i, e := range part.Entries {
		if strings.HasSuffix(strings.ToLower(e.Name), ".cnmt") {
			cnmtIdx = i
			break
		}
	}
	if cnmtIdx < 0 {
		return fmt.Errorf("no .cnmt entry found inside %s", inputPath)
	}

	entry := part.Entries[cnmtIdx]
	cnmtStart := part.DataStart + entry.DataOffset
	cnmtData := pfs0Plain[cnmtStart : cnmtStart+entry.DataSize]

	records, err := patcher.ParseContentRecords(cnmtData)
	if err != nil {
		return fmt.Errorf("parsing CNMT: %w", err)
	}

	applied := 0
	for i, r := range records {
		for _, rep := range replacements {
			if r.NcaID == rep.oldID {
				records[i].NcaID = rep.newID
				records[i].Hash = rep.hash
				applied++
			}
		}
	}
	if applied == 0 {
		return fmt.Errorf("no content record matched any --replace old-nca-id")
	}
	log.Infof("patched %d content record(s)", applied)

	newPfs0Plain, _, err := patcher.PatchCnmtPfs0(pfs0Plain, cnmtIdx, records)
	if err != nil {
		return fmt.Errorf("patching CNMT PFS0: %w", err)
	}

	if fh.Pfs0 == nil {
		fh.Pfs0 = &nca.Pfs0Superblock{}
	}
	if _, err := patcher.RederivePfs0Hashes(newPfs0Plain, fh.Pfs0); err != nil {
		return fmt.Errorf("re-deriving PFS0 hashes: %w", err)
	}
	h.FsHeaders[pfsIdx] = fh

	newCiphertext, err := cipher.Encrypt(0, newPfs0Plain)
	if err != nil {
		return fmt.Errorf("re-encrypting PFS0 section: %w", err)
	}

	newHeader, err := nca.Encrypt(h, kp)
	if err != nil {
		return fmt.Errorf("re-encrypting header: %w", err)
	}

	out := make([]byte, len(raw))
	copy(out, raw)
	copy(out[0:nca.HeaderSize], newHeader)
	copy(out[start:end], newCiphertext)

	outPath := ncaOutPath(defaultPatchedPath(repackOut, inputPath, repackCompress), repackCompress)
	return writePatchedNca(out, h, outPath, repackCompress)
}

type byteReaderAt []byte

func (b byteReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(b)) {
		return 0, ncaerr.NewGlobal(ncaerr.ShortRead, "read past end of in-memory NCA buffer", nil)
	}
	n := copy(p, b[off:])
	if n < len(p) {
		return n, ncaerr.NewGlobal(ncaerr.ShortRead, "short read from in-memory NCA buffer", nil)
	}
	return n, nil
}
