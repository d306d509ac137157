// Package nca parses and re-encrypts the 0xC00-byte NCA header and derives
// the per-section keys every other component needs to stand up a
// SectionCipher. It covers both NCA2's per-section-header tweak restart and
// NCA3, plus titlekey crypto via a ticket lookup.
package nca

import (
	"crypto/rsa"

	"github.com/archivecore/ncarepack/pkg/section"
)

const (
	HeaderSize       = 0xC00 // full NCA header, signatures through FS headers
	TopHeaderSize    = 0x400 // signatures + main block, shared by NCA2 and NCA3
	FsHeaderSize     = 0x200
	FsHeaderCount    = 4
	MediaUnit        = 0x200 // section start/end offsets are in these units
	IvfcMaxLevel     = 6
	BktrBucketRegion = 0x100 // FS-header-relative offset of the BKTR relocation header

	MagicNCA3 = "NCA3"
	MagicNCA2 = "NCA2"
)

// Partition/FS/crypto kinds, per the NCA_FS_HEADER_* on-disk values.
const (
	PartitionPFS0  = 0x01
	PartitionRomFS = 0x00

	FsKindPFS0  = 0x02
	FsKindRomFS = 0x03
)

// SectionEntry is one of the four media-unit ranges in the top header.
type SectionEntry struct {
	MediaStartOffset uint32
	MediaEndOffset   uint32
}

func (e SectionEntry) Empty() bool { return e.MediaStartOffset == 0 && e.MediaEndOffset == 0 }

func (e SectionEntry) ByteRange() (start, end int64) {
	return int64(e.MediaStartOffset) * MediaUnit, int64(e.MediaEndOffset) * MediaUnit
}

// IvfcLevel is one level descriptor out of an IVFC superblock's six.
// BlockSizeLog2 is the block size expressed as a power-of-two exponent, the
// on-disk convention ivfc_level_hdr_t uses.
type IvfcLevel struct {
	LogicalOffset uint64
	HashDataSize  uint64
	BlockSizeLog2 uint32
}

func (l IvfcLevel) BlockSize() uint64 {
	if l.BlockSizeLog2 == 0 || l.BlockSizeLog2 >= 64 {
		return 0
	}
	return 1 << l.BlockSizeLog2
}

// IvfcSuperblock is the six-level Merkle-style hash tree header embedded in
// a RomFS or BKTR FS header.
type IvfcSuperblock struct {
	Magic          [4]byte
	MasterHashSize uint32
	NumLevels      uint32
	Levels         [IvfcMaxLevel]IvfcLevel
	MasterHash     [32]byte
}

// Pfs0Superblock is the PFS0 hash-verification header embedded in a PFS0 FS
// header: a block-hashed table over the partition, with a master hash over
// the table itself.
type Pfs0Superblock struct {
	MasterHash      [32]byte
	BlockSize       uint32
	HashTableOffset uint64
	HashTableSize   uint64
	Pfs0Offset      uint64
	Pfs0Size        uint64
}

// BktrHeader describes one of the two BKTR bucket tables (relocation or
// subsection): where its bucketed data lives within the section, and how
// many entries it holds in total.
type BktrHeader struct {
	Offset     uint64
	Size       uint64
	Magic      [4]byte
	Version    uint32
	EntryCount uint32
}

// BktrSuperblock layers the two bucket-table descriptors on top of a RomFS
// IVFC superblock.
type BktrSuperblock struct {
	Ivfc          IvfcSuperblock
	RelocationHdr BktrHeader
	SubsectionHdr BktrHeader
}

// FsHeader is one of the four 0x200-byte per-section filesystem headers.
type FsHeader struct {
	Version       uint16
	PartitionKind uint8
	FsKind        uint8
	CryptoKind    section.CryptoType
	CryptoCounter [8]byte

	Pfs0  *Pfs0Superblock
	Romfs *IvfcSuperblock
	Bktr  *BktrSuperblock
}

// Header is the fully decoded NCA header: signatures and main-block fields
// round-trip bytewise, while TitleKey/Generation/SectionKeys are derived
// values computed during Decrypt.
type Header struct {
	FixedKeySig  [0x100]byte
	NpkSignature [0x100]byte

	Magic          [4]byte
	DistType       byte
	ContentType    byte
	CryptoType     byte
	KeyAreaIndex   byte
	ContentSize    uint64
	TitleID        uint64
	SdkVersion     uint32
	CryptoType2    byte
	RightsID       [0x10]byte
	SectionEntries [FsHeaderCount]SectionEntry
	SectionHashes  [FsHeaderCount][32]byte
	KeyArea        [4][16]byte
	FsHeaders      [FsHeaderCount]FsHeader

	IsNCA2      bool
	Generation  int
	TitleKey    []byte // resolved section key for key-area-crypto content: slot 2, the RomFS/BKTR candidate (see deriveSectionKeys for the per-section slot 0/2 split); always the ticket title key under titlekey crypto
	SectionKeys [FsHeaderCount][]byte
}

func (h *Header) HasRightsID() bool {
	for _, b := range h.RightsID {
		if b != 0 {
			return true
		}
	}
	return false
}

// ContentIDHex is a convenience for error reporting; callers normally carry
// the content id from the StorageReader side, not derive it from the header.
func (h *Header) ContentIDHex() string { return "" }

// KeyProvider resolves the key material an NCA decrypt/encrypt needs:
// header key, key-area-encryption keys, titlekeks, ticket common keys, and
// the ACID signing key used to re-sign a patched Program NCA's NPDM.
type KeyProvider interface {
	HeaderKey() ([]byte, error)
	KAEK(index, generation int) ([]byte, error)
	TitleKek(generation int) ([]byte, error)
	TicketCommonKey(generation int) ([]byte, error)
	AcidSigningKey(generation int) (*rsa.PrivateKey, error)
}

// TicketLookup resolves a title key for a rights id, satisfied by
// pkg/ticket.Store.
type TicketLookup interface {
	GetTitleKey(rightsID [0x10]byte, generation int) ([]byte, error)
}
