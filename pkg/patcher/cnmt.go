// Package patcher implements two NCA repackaging flows: CNMT content-record
// patching (with PFS0/IVFC hash re-derivation) and Program NCA
// key-area/NPDM-ACID patching.
package patcher

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/archivecore/ncarepack/pkg/crypto"
	"github.com/archivecore/ncarepack/pkg/ncaerr"
	"github.com/archivecore/ncarepack/pkg/pfs0"
)

const (
	cnmtHeaderSize   = 0x20
	contentRecordLen = 0x38
)

// ContentRecord is one cnmt_content_record: a hash, NCA id, 48-bit size,
// and content type.
type ContentRecord struct {
	Hash  [0x20]byte
	NcaID [0x10]byte
	Size  uint64 // 48-bit on disk
	Type  byte
	Unk   byte
}

func parseContentRecord(d []byte) ContentRecord {
	var r ContentRecord
	copy(r.Hash[:], d[0:0x20])
	copy(r.NcaID[:], d[0x20:0x30])
	r.Size = readUint48(d[0x30:0x36])
	r.Type = d[0x36]
	r.Unk = d[0x37]
	return r
}

func (r ContentRecord) encode() []byte {
	d := make([]byte, contentRecordLen)
	copy(d[0:0x20], r.Hash[:])
	copy(d[0x20:0x30], r.NcaID[:])
	writeUint48(d[0x30:0x36], r.Size)
	d[0x36] = r.Type
	d[0x37] = r.Unk
	return d
}

func readUint48(d []byte) uint64 {
	var v uint64
	for i := 0; i < 6; i++ {
		v |= uint64(d[i]) << (8 * i)
	}
	return v
}

func writeUint48(d []byte, v uint64) {
	for i := 0; i < 6; i++ {
		d[i] = byte(v >> (8 * i))
	}
}

// ParseContentRecords reads the content-record array out of a CNMT file's
// cnmt_header-prefixed bytes.
func ParseContentRecords(cnmtData []byte) ([]ContentRecord, error) {
	if len(cnmtData) < cnmtHeaderSize {
		return nil, ncaerr.NewGlobal(ncaerr.BadSize, "CNMT data shorter than its fixed header", nil)
	}
	tableOffset := binary.LittleEndian.Uint16(cnmtData[14:16])
	count := binary.LittleEndian.Uint16(cnmtData[16:18])

	start := cnmtHeaderSize + int(tableOffset)
	records := make([]ContentRecord, count)
	for i := 0; i < int(count); i++ {
		off := start + i*contentRecordLen
		if off+contentRecordLen > len(cnmtData) {
			return nil, ncaerr.NewGlobal(ncaerr.BadSize, "CNMT content record table runs past the data", nil)
		}
		records[i] = parseContentRecord(cnmtData[off : off+contentRecordLen])
	}
	return records, nil
}

// ReplaceContentRecords overwrites the content-record table in place inside
// cnmtData (which must be exactly as long as the original) with newRecords.
func ReplaceContentRecords(cnmtData []byte, newRecords []ContentRecord) error {
	tableOffset := binary.LittleEndian.Uint16(cnmtData[14:16])
	count := binary.LittleEndian.Uint16(cnmtData[16:18])
	if int(count) != len(newRecords) {
		return ncaerr.NewGlobal(ncaerr.PatcherConsistencyFailure, "replacement content record count does not match original", nil)
	}

	start := cnmtHeaderSize + int(tableOffset)
	for i, r := range newRecords {
		off := start + i*contentRecordLen
		copy(cnmtData[off:off+contentRecordLen], r.encode())
	}
	return nil
}

// PatchCnmtPfs0 rewrites the CNMT entry inside a meta-NCA's PFS0 partition
// with newRecords and returns the fully patched partition plaintext plus its
// whole-partition SHA-256 (a convenience for logging/verification — the
// value HeaderPatcher actually stores in the FS header is the
// Pfs0Superblock's block-hash-table master hash, re-derived separately by
// RederivePfs0Hashes in ivfc.go). pfs0Plain is the decrypted PFS0 partition
// bytes as SectionCipher would present them; cnmtEntryIndex identifies which
// PFS0 entry holds the .cnmt file.
func PatchCnmtPfs0(pfs0Plain []byte, cnmtEntryIndex int, newRecords []ContentRecord) ([]byte, [32]byte, error) {
	reader, err := pfs0.Open(byteReaderAt(pfs0Plain))
	if err != nil {
		return nil, [32]byte{}, err
	}
	if cnmtEntryIndex < 0 || cnmtEntryIndex >= len(reader.Entries) {
		return nil, [32]byte{}, ncaerr.NewGlobal(ncaerr.PatcherConsistencyFailure, "cnmt entry index out of range", nil)
	}

	entry := reader.Entries[cnmtEntryIndex]
	cnmtStart := reader.DataStart + entry.DataOffset
	cnmtData := make([]byte, entry.DataSize)
	copy(cnmtData, pfs0Plain[cnmtStart:cnmtStart+entry.DataSize])

	if err := ReplaceContentRecords(cnmtData, newRecords); err != nil {
		return nil, [32]byte{}, err
	}

	out := make([]byte, len(pfs0Plain))
	copy(out, pfs0Plain)
	copy(out[cnmtStart:cnmtStart+entry.DataSize], cnmtData)

	return out, sha256.Sum256(out), nil
}

// RewriteKeyArea re-encrypts a decrypted title key under referenceKAEK, so
// downstream installers that only hold the reference key can accept it.
func RewriteKeyArea(decryptedTitleKey, referenceKAEK []byte) ([0x10]byte, error) {
	var out [0x10]byte
	enc, err := crypto.ECBEncrypt(decryptedTitleKey, referenceKAEK)
	if err != nil {
		return out, ncaerr.NewGlobal(ncaerr.PatcherConsistencyFailure, "failed to re-wrap key area slot", err)
	}
	copy(out[:], enc)
	return out, nil
}

type byteReaderAt []byte

func (b byteReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(b)) {
		return 0, ncaerr.NewGlobal(ncaerr.ShortRead, "read past end of in-memory buffer", nil)
	}
	n := copy(p, b[off:])
	return n, nil
}
