package patcher

import (
	"crypto/sha256"

	"github.com/archivecore/ncarepack/pkg/nca"
	"github.com/archivecore/ncarepack/pkg/ncaerr"
)

// RederiveIvfcHashes recomputes every level's hash table bottom-up from the
// data level (level NumLevels-1) up to a new master hash, writing the
// recomputed hash tables into sectionPlain in place and returning the new
// master hash. Needed whenever a CNMT or RomFS patch changes data level
// bytes.
func RederiveIvfcHashes(sectionPlain []byte, sb *nca.IvfcSuperblock) ([32]byte, error) {
	numLevels := int(sb.NumLevels)
	if numLevels == 0 || numLevels > len(sb.Levels) {
		numLevels = len(sb.Levels)
	}
	if numLevels < 2 {
		return [32]byte{}, ncaerr.NewGlobal(ncaerr.BadSize, "IVFC superblock has fewer than 2 levels", nil)
	}

	for level := numLevels - 1; level >= 1; level-- {
		data := sb.Levels[level]
		hashLevel := sb.Levels[level-1]
		blockSize := data.BlockSize()
		if blockSize == 0 {
			return [32]byte{}, ncaerr.NewGlobal(ncaerr.BadSize, "IVFC level has zero block size", nil)
		}

		numBlocks := (data.HashDataSize + blockSize - 1) / blockSize
		for b := uint64(0); b < numBlocks; b++ {
			blockStart := int64(data.LogicalOffset) + int64(b*blockSize)
			blockEnd := blockStart + int64(blockSize)
			if blockEnd > int64(data.LogicalOffset+data.HashDataSize) {
				blockEnd = int64(data.LogicalOffset + data.HashDataSize)
			}
			if blockEnd > int64(len(sectionPlain)) || blockStart < 0 {
				return [32]byte{}, ncaerr.NewGlobal(ncaerr.BadSize, "IVFC data block falls outside the section", nil)
			}

			sum := sha256.Sum256(sectionPlain[blockStart:blockEnd])
			hashOff := int64(hashLevel.LogicalOffset) + int64(b)*32
			if hashOff+32 > int64(len(sectionPlain)) {
				return [32]byte{}, ncaerr.NewGlobal(ncaerr.BadSize, "IVFC hash table falls outside the section", nil)
			}
			copy(sectionPlain[hashOff:hashOff+32], sum[:])
		}
	}

	level0 := sb.Levels[0]
	start := int64(level0.LogicalOffset)
	end := start + int64(level0.HashDataSize)
	if level0.HashDataSize == 0 || end > int64(len(sectionPlain)) {
		return [32]byte{}, ncaerr.NewGlobal(ncaerr.BadSize, "IVFC level 0 falls outside the section", nil)
	}
	master := sha256.Sum256(sectionPlain[start:end])
	sb.MasterHash = master
	return master, nil
}

// defaultPfs0HashBlockSize is the block size real PFS0-hashed partitions
// (ExeFS, meta NCAs) use: fixed at 0x200 regardless of the partition's own
// content alignment.
const defaultPfs0HashBlockSize = 0x200

// RederivePfs0Hashes recomputes a PFS0 FS header's block-hash table and
// master hash over pfs0Plain, the step a CNMT content-record patch requires
// after changing bytes inside the partition. sb.Pfs0Offset/Pfs0Size are set
// to cover the whole partition and sb.HashTableOffset/HashTableSize to the
// freshly sized table; sb.BlockSize defaults to 0x200 if unset.
func RederivePfs0Hashes(pfs0Plain []byte, sb *nca.Pfs0Superblock) ([32]byte, error) {
	blockSize := sb.BlockSize
	if blockSize == 0 {
		blockSize = defaultPfs0HashBlockSize
	}

	numBlocks := (uint64(len(pfs0Plain)) + uint64(blockSize) - 1) / uint64(blockSize)
	table := make([]byte, numBlocks*32)
	for b := uint64(0); b < numBlocks; b++ {
		start := b * uint64(blockSize)
		end := start + uint64(blockSize)
		if end > uint64(len(pfs0Plain)) {
			end = uint64(len(pfs0Plain))
		}
		sum := sha256.Sum256(pfs0Plain[start:end])
		copy(table[b*32:b*32+32], sum[:])
	}

	// The section is laid out as [hash table][pfs0 partition]; the partition
	// starts right after the table, rounded up to the hash block size.
	hashTableSize := uint64(len(table))
	pfs0Offset := (hashTableSize + uint64(blockSize) - 1) / uint64(blockSize) * uint64(blockSize)

	sb.BlockSize = blockSize
	sb.HashTableOffset = 0
	sb.HashTableSize = hashTableSize
	sb.Pfs0Offset = pfs0Offset
	sb.Pfs0Size = uint64(len(pfs0Plain))
	sb.MasterHash = sha256.Sum256(table)
	return sb.MasterHash, nil
}
