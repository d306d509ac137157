package romfs

import (
	"crypto/sha256"
	"io"

	"github.com/archivecore/ncarepack/pkg/nca"
	"github.com/archivecore/ncarepack/pkg/ncaerr"
)

// IvfcVerifier checks a RomFS data read against the six-level Merkle-style
// hash tree described by an IvfcSuperblock. It is handed the same
// io.ReaderAt the RomFS section uses, since the hash levels live inside the
// same section as the data they cover.
type IvfcVerifier struct {
	sb *nca.IvfcSuperblock
	r  io.ReaderAt
}

// NewIvfcVerifier builds a verifier over sb's level descriptors, reading
// hash/data bytes from r at section-relative offsets.
func NewIvfcVerifier(sb *nca.IvfcSuperblock, r io.ReaderAt) *IvfcVerifier {
	return &IvfcVerifier{sb: sb, r: r}
}

// VerifyBlock checks that the data-level (level 5) block containing
// dataOffset hashes correctly all the way up to the stored master hash.
// Failures are returned, not panicked; the caller decides whether a
// HashMismatch is fatal.
func (v *IvfcVerifier) VerifyBlock(dataOffset int64) error {
	levels := v.sb.Levels
	numLevels := int(v.sb.NumLevels)
	if numLevels == 0 || numLevels > len(levels) {
		numLevels = len(levels)
	}

	childOffset := dataOffset
	for level := numLevels - 1; level >= 1; level-- {
		data := levels[level]
		hashLevel := levels[level-1]

		blockSize := data.BlockSize()
		if blockSize == 0 {
			return ncaerr.NewGlobal(ncaerr.BadSize, "IVFC level has zero block size", nil)
		}

		blockIndex := uint64(childOffset) / blockSize
		blockStart := int64(data.LogicalOffset) + int64(blockIndex*blockSize)

		blockLen := blockSize
		if remaining := data.LogicalOffset + data.HashDataSize - uint64(blockStart); remaining < blockSize {
			blockLen = remaining
		}

		buf := make([]byte, blockLen)
		if _, err := v.r.ReadAt(buf, blockStart); err != nil {
			return ncaerr.NewGlobal(ncaerr.ShortRead, "failed to read IVFC data block", err)
		}
		sum := sha256.Sum256(buf)

		hashOffset := int64(hashLevel.LogicalOffset) + int64(blockIndex)*32
		stored := make([]byte, 32)
		if _, err := v.r.ReadAt(stored, hashOffset); err != nil {
			return ncaerr.NewGlobal(ncaerr.ShortRead, "failed to read IVFC level hash entry", err)
		}

		if string(sum[:]) != string(stored) {
			return ncaerr.NewGlobal(ncaerr.IvfcHashMismatch, "IVFC block hash mismatch", nil)
		}

		childOffset = int64(blockIndex) * 32
	}

	if numLevels > 0 {
		level0 := levels[0]
		if level0.HashDataSize == 0 {
			return nil
		}
		buf := make([]byte, level0.HashDataSize)
		if _, err := v.r.ReadAt(buf, int64(level0.LogicalOffset)); err != nil {
			return ncaerr.NewGlobal(ncaerr.ShortRead, "failed to read IVFC level 0 for master hash check", err)
		}
		sum := sha256.Sum256(buf)
		if sum != v.sb.MasterHash {
			return ncaerr.NewGlobal(ncaerr.IvfcHashMismatch, "IVFC root hash does not match stored master hash", nil)
		}
	}

	return nil
}
