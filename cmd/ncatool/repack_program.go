package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/archivecore/ncarepack/pkg/keys"
	"github.com/archivecore/ncarepack/pkg/nca"
	"github.com/archivecore/ncarepack/pkg/patcher"
	"github.com/archivecore/ncarepack/pkg/pfs0"
	"github.com/archivecore/ncarepack/pkg/section"
)

var (
	repackProgramOut      string
	repackProgramCompress bool
)

var repackProgramCmd = &cobra.Command{
	Use:   "program <program.nca>",
	Short: "Re-wrap a Program NCA's key area and replace its NPDM's ACID public key",
	Long: `Re-wrap the Program NCA's decrypted title key under a reference
key-area-encryption-key and substitute the ExeFS main.npdm's ACID public
key with the matching signing key's public half, so a header re-signed
offline still passes loader verification. This command signs nothing
itself: the header's existing NPDM-key signature is written back
unchanged.`,
	Args: cobra.ExactArgs(1),
	RunE: runRepackProgram,
}

func init() {
	repackCmd.AddCommand(repackProgramCmd)
	repackProgramCmd.Flags().StringVarP(&repackProgramOut, "out", "o", "", "Output path (defaults to <file>.patched.nca, or .patched.ncz with --compress)")
	repackProgramCmd.Flags().BoolVar(&repackProgramCompress, "compress", false, "Write the patched NCA as an NCZ-compressed member instead of raw")
}

func runRepackProgram(cmd *cobra.Command, args []string) error {
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
	if h.TitleKey == nil {
		return fmt.Errorf("%s: no section key was resolved, nothing to re-wrap", inputPath)
	}

	exeIdx := -1
	for i, e := range h.SectionEntries {
		if !e.Empty() && h.FsHeaders[i].PartitionKind == nca.PartitionPFS0 && h.FsHeaders[i].FsKind == nca.FsKindPFS0 {
			exeIdx = i
			break
		}
	}
	if exeIdx < 0 {
		return fmt.Errorf("no ExeFS section found in %s", inputPath)
	}

	fh := h.FsHeaders[exeIdx]
	start, end := h.SectionEntries[exeIdx].ByteRange()
	cipher := section.New(section.CryptoType(fh.CryptoKind), h.SectionKeys[exeIdx], fh.CryptoCounter[:], byteReaderAt(raw), start, end-start)

	exefsPlain := make([]byte, end-start)
	if _, err := cipher.ReadAt(exefsPlain, 0); err != nil {
		return fmt.Errorf("decrypting ExeFS section: %w", err)
	}

	part, err := pfs0.Open(byteReaderAt(exefsPlain))
	if err != nil {
		return fmt.Errorf("parsing ExeFS: %w", err)
	}
	npdmIdx := -1
	for i, e := range part.Entries {
		if strings.EqualFold(e.Name, "main.npdm") {
			npdmIdx = i
			break
		}
	}
	if npdmIdx < 0 {
		return fmt.Errorf("no main.npdm entry found inside %s", inputPath)
	}

	signingKey, err := kp.AcidSigningKey(h.Generation)
	if err != nil {
		return fmt.Errorf("loading ACID signing key: %w", err)
	}

	kaekSource, err := referenceKAEKProvider(kp)
	if err != nil {
		return fmt.Errorf("loading reference KAEK: %w", err)
	}

	entry := part.Entries[npdmIdx]
	npdmStart := part.DataStart + entry.DataOffset
	npdmPlain := make([]byte, entry.DataSize)
	copy(npdmPlain, exefsPlain[npdmStart:npdmStart+entry.DataSize])

	keySlot, err := patcher.RepatchProgram(h.TitleKey, kaekSource, h.Generation, int(h.KeyAreaIndex), npdmPlain, signingKey)
	if err != nil {
		return fmt.Errorf("repatching program: %w", err)
	}

	newExefsPlain := make([]byte, len(exefsPlain))
	copy(newExefsPlain, exefsPlain)
	copy(newExefsPlain[npdmStart:npdmStart+entry.DataSize], npdmPlain)

	if fh.Pfs0 == nil {
		fh.Pfs0 = &nca.Pfs0Superblock{}
	}
	if _, err := patcher.RederivePfs0Hashes(newExefsPlain, fh.Pfs0); err != nil {
		return fmt.Errorf("re-deriving ExeFS PFS0 hashes: %w", err)
	}
	h.FsHeaders[exeIdx] = fh
	h.KeyArea[2] = keySlot

	newCiphertext, err := cipher.Encrypt(0, newExefsPlain)
	if err != nil {
		return fmt.Errorf("re-encrypting ExeFS section: %w", err)
	}

	newHeader, err := nca.Encrypt(h, kp)
	if err != nil {
		return fmt.Errorf("re-encrypting header: %w", err)
	}

	out := make([]byte, len(raw))
	copy(out, raw)
	copy(out[0:nca.HeaderSize], newHeader)
	copy(out[start:end], newCiphertext)

	outPath := ncaOutPath(defaultPatchedPath(repackProgramOut, inputPath, repackProgramCompress), repackProgramCompress)
	return writePatchedNca(out, h, outPath, repackProgramCompress)
}

// fixedKAEKProvider overrides KAEK with a single caller-supplied key,
// leaving every other KeyProvider method delegated to the wrapped source.
type fixedKAEKProvider struct {
	nca.KeyProvider
	kaek []byte
}

func (f fixedKAEKProvider) KAEK(index, generation int) ([]byte, error) { return f.kaek, nil }

// referenceKAEKProvider returns kp unmodified unless the config file pins a
// reference_kaek, in which case every key-area slot re-wraps under that
// fixed key instead of the per-generation derived one.
func referenceKAEKProvider(kp *keys.Provider) (nca.KeyProvider, error) {
	if cfg.ReferenceKAEK == "" {
		return kp, nil
	}
	raw, err := hex.DecodeString(cfg.ReferenceKAEK)
	if err != nil || len(raw) != 16 {
		return nil, fmt.Errorf("reference_kaek must be 16 bytes of hex")
	}
	return fixedKAEKProvider{KeyProvider: kp, kaek: raw}, nil
}
