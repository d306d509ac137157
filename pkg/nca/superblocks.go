package nca

import "encoding/binary"

// parseIvfcHeader parses a romfs_superblock_t/ivfc_hdr_t-shaped blob
// starting at an FS header's superblock offset: magic, master hash size,
// num levels, six level descriptors, then the master hash itself.
func parseIvfcHeader(d []byte) IvfcSuperblock {
	var ivfc IvfcSuperblock
	copy(ivfc.Magic[:], d[0:4])
	ivfc.MasterHashSize = binary.LittleEndian.Uint32(d[4:8])
	ivfc.NumLevels = binary.LittleEndian.Uint32(d[8:12])

	const levelDescSize = 24 // logical_offset(8) + hash_data_size(8) + block_size(4) + reserved(4)
	levelsStart := 12
	for i := 0; i < IvfcMaxLevel; i++ {
		off := levelsStart + i*levelDescSize
		ivfc.Levels[i] = IvfcLevel{
			LogicalOffset: binary.LittleEndian.Uint64(d[off : off+8]),
			HashDataSize:  binary.LittleEndian.Uint64(d[off+8 : off+16]),
			BlockSizeLog2: binary.LittleEndian.Uint32(d[off+16 : off+20]),
		}
	}

	masterHashOff := levelsStart + IvfcMaxLevel*levelDescSize + 4 // + reserved u32
	copy(ivfc.MasterHash[:], d[masterHashOff:masterHashOff+32])
	return ivfc
}

// parsePfs0Superblock parses a pfs0_superblock_t blob starting at an FS
// header's superblock offset.
func parsePfs0Superblock(d []byte) *Pfs0Superblock {
	var sb Pfs0Superblock
	copy(sb.MasterHash[:], d[0:32])
	sb.BlockSize = binary.LittleEndian.Uint32(d[32:36])
	// 4 bytes reserved at [36:40]
	sb.HashTableOffset = binary.LittleEndian.Uint64(d[40:48])
	sb.HashTableSize = binary.LittleEndian.Uint64(d[48:56])
	sb.Pfs0Offset = binary.LittleEndian.Uint64(d[56:64])
	sb.Pfs0Size = binary.LittleEndian.Uint64(d[64:72])
	return &sb
}

// parseBktrSuperblock parses the BKTR variant of the FS header: an IVFC
// superblock at the usual offset 8, followed by two fixed-offset bucket
// table headers at FS-header-relative 0x100 and 0x120 (32 bytes each).
func parseBktrSuperblock(d []byte) *BktrSuperblock {
	sb := &BktrSuperblock{
		Ivfc:          parseIvfcHeader(d[8:]),
		RelocationHdr: parseBktrBucketHeader(d[0x100:0x120]),
		SubsectionHdr: parseBktrBucketHeader(d[0x120:0x140]),
	}
	return sb
}

func parseBktrBucketHeader(d []byte) BktrHeader {
	var h BktrHeader
	h.Offset = binary.LittleEndian.Uint64(d[0:8])
	h.Size = binary.LittleEndian.Uint64(d[8:16])
	copy(h.Magic[:], d[16:20])
	h.Version = binary.LittleEndian.Uint32(d[20:24])
	h.EntryCount = binary.LittleEndian.Uint32(d[24:28])
	return h
}

func encodeIvfcHeader(d []byte, ivfc *IvfcSuperblock) {
	copy(d[0:4], ivfc.Magic[:])
	binary.LittleEndian.PutUint32(d[4:8], ivfc.MasterHashSize)
	binary.LittleEndian.PutUint32(d[8:12], ivfc.NumLevels)

	const levelDescSize = 24
	levelsStart := 12
	for i := 0; i < IvfcMaxLevel; i++ {
		off := levelsStart + i*levelDescSize
		l := ivfc.Levels[i]
		binary.LittleEndian.PutUint64(d[off:off+8], l.LogicalOffset)
		binary.LittleEndian.PutUint64(d[off+8:off+16], l.HashDataSize)
		binary.LittleEndian.PutUint32(d[off+16:off+20], l.BlockSizeLog2)
	}

	masterHashOff := levelsStart + IvfcMaxLevel*levelDescSize + 4
	copy(d[masterHashOff:masterHashOff+32], ivfc.MasterHash[:])
}

func encodePfs0Superblock(d []byte, sb *Pfs0Superblock) {
	copy(d[0:32], sb.MasterHash[:])
	binary.LittleEndian.PutUint32(d[32:36], sb.BlockSize)
	binary.LittleEndian.PutUint64(d[40:48], sb.HashTableOffset)
	binary.LittleEndian.PutUint64(d[48:56], sb.HashTableSize)
	binary.LittleEndian.PutUint64(d[56:64], sb.Pfs0Offset)
	binary.LittleEndian.PutUint64(d[64:72], sb.Pfs0Size)
}

func encodeBktrSuperblock(d []byte, sb *BktrSuperblock) {
	encodeIvfcHeader(d[8:], &sb.Ivfc)
	encodeBktrBucketHeader(d[0x100:0x120], sb.RelocationHdr)
	encodeBktrBucketHeader(d[0x120:0x140], sb.SubsectionHdr)
}

func encodeBktrBucketHeader(d []byte, h BktrHeader) {
	binary.LittleEndian.PutUint64(d[0:8], h.Offset)
	binary.LittleEndian.PutUint64(d[8:16], h.Size)
	copy(d[16:20], h.Magic[:])
	binary.LittleEndian.PutUint32(d[20:24], h.Version)
	binary.LittleEndian.PutUint32(d[24:28], h.EntryCount)
}
