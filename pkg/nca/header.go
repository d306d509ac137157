package nca

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/archivecore/ncarepack/pkg/crypto"
	"github.com/archivecore/ncarepack/pkg/ncaerr"
	"github.com/archivecore/ncarepack/pkg/section"
)

// Decrypt reads and decrypts the 0xC00-byte header at the start of r,
// deriving the crypto generation and, where possible, per-section keys.
// tickets may be nil; it is only consulted when the header carries a
// non-zero rights id (titlekey crypto).
func Decrypt(r io.ReaderAt, keys KeyProvider, tickets TicketLookup) (*Header, error) {
	raw := make([]byte, HeaderSize)
	if _, err := r.ReadAt(raw, 0); err != nil {
		return nil, ncaerr.NewGlobal(ncaerr.ShortRead, "failed to read NCA header", err)
	}

	headerKey, err := keys.HeaderKey()
	if err != nil {
		return nil, err
	}

	// Top header (signatures + main block) is tweaked identically for NCA2
	// and NCA3: two contiguous sectors, indices 0 and 1.
	top := make([]byte, TopHeaderSize)
	for i := 0; i < TopHeaderSize/MediaUnit; i++ {
		start := i * MediaUnit
		dec, err := crypto.XTSDecrypt(raw[start:start+MediaUnit], headerKey, uint64(i))
		if err != nil {
			return nil, ncaerr.NewGlobal(ncaerr.BadMagic, fmt.Sprintf("failed to decrypt header sector %d", i), err)
		}
		copy(top[start:], dec)
	}

	magic := string(top[0x200:0x204])
	if magic != MagicNCA3 && magic != MagicNCA2 {
		return nil, ncaerr.NewGlobal(ncaerr.BadMagic, fmt.Sprintf("unexpected magic %q", magic), nil)
	}
	isNCA2 := magic == MagicNCA2

	h := &Header{IsNCA2: isNCA2}
	copy(h.FixedKeySig[:], raw[0x000:0x100])
	copy(h.NpkSignature[:], raw[0x100:0x200])
	copy(h.Magic[:], top[0x200:0x204])
	h.DistType = top[0x204]
	h.ContentType = top[0x205]
	h.CryptoType = top[0x206]
	h.KeyAreaIndex = top[0x207]
	h.ContentSize = binary.LittleEndian.Uint64(top[0x208:0x210])
	h.TitleID = binary.LittleEndian.Uint64(top[0x210:0x218])
	h.SdkVersion = binary.LittleEndian.Uint32(top[0x21C:0x220])
	h.CryptoType2 = top[0x220]
	copy(h.RightsID[:], top[0x230:0x240])

	for i := 0; i < FsHeaderCount; i++ {
		off := 0x240 + i*16
		h.SectionEntries[i] = SectionEntry{
			MediaStartOffset: binary.LittleEndian.Uint32(top[off : off+4]),
			MediaEndOffset:   binary.LittleEndian.Uint32(top[off+4 : off+8]),
		}
	}
	for i := 0; i < FsHeaderCount; i++ {
		off := 0x280 + i*32
		copy(h.SectionHashes[i][:], top[off:off+32])
	}
	for i := 0; i < 4; i++ {
		off := 0x300 + i*16
		copy(h.KeyArea[i][:], top[off:off+16])
	}

	if err := validateSectionEntries(h.SectionEntries, h.ContentSize); err != nil {
		return nil, err
	}

	// FS headers: NCA3 continues the sector index across the whole region;
	// NCA2 restarts each one at index 0. That's the only semantic
	// difference between the two magics.
	for i := 0; i < FsHeaderCount; i++ {
		start := TopHeaderSize + i*FsHeaderSize
		chunk := raw[start : start+FsHeaderSize]

		var sectorIdx uint64
		if isNCA2 {
			sectorIdx = 0
		} else {
			sectorIdx = uint64(2 + i)
		}

		dec, err := crypto.XTSDecrypt(chunk, headerKey, sectorIdx)
		if err != nil {
			return nil, ncaerr.New(ncaerr.BadMagic, "", i, "failed to decrypt FS header", err)
		}

		if !h.SectionEntries[i].Empty() {
			sum := sha256.Sum256(dec)
			if sum != h.SectionHashes[i] {
				return nil, ncaerr.New(ncaerr.SectionHashMismatch, "", i, "FS header hash does not match stored hash", nil)
			}
		}

		fh, err := parseFsHeader(dec)
		if err != nil {
			return nil, ncaerr.New(ncaerr.BadSize, "", i, "failed to parse FS header", err)
		}
		h.FsHeaders[i] = fh
	}

	generation := int(h.CryptoType)
	if int(h.CryptoType2) > generation {
		generation = int(h.CryptoType2)
	}
	if generation >= 1 {
		generation--
	}
	h.Generation = generation

	if err := deriveSectionKeys(h, keys, tickets); err != nil {
		return nil, err
	}

	return h, nil
}

func validateSectionEntries(entries [FsHeaderCount]SectionEntry, contentSize uint64) error {
	type rng struct{ start, end int64 }
	var ranges []rng
	for i, e := range entries {
		if e.Empty() {
			continue
		}
		start, end := e.ByteRange()
		if start%MediaUnit != 0 || end%MediaUnit != 0 {
			return ncaerr.New(ncaerr.UnalignedRange, "", i, "section range is not media-unit aligned", nil)
		}
		if start < HeaderSize || end > int64(contentSize) || start >= end {
			return ncaerr.New(ncaerr.BadSize, "", i, "section range falls outside the content", nil)
		}
		ranges = append(ranges, rng{start, end})
	}
	for i := 0; i < len(ranges); i++ {
		for j := i + 1; j < len(ranges); j++ {
			if ranges[i].start < ranges[j].end && ranges[j].start < ranges[i].end {
				return ncaerr.NewGlobal(ncaerr.OverlappingSection, "section ranges overlap", nil)
			}
		}
	}
	return nil
}

func parseFsHeader(d []byte) (FsHeader, error) {
	var fh FsHeader
	fh.Version = binary.LittleEndian.Uint16(d[0:2])
	fh.PartitionKind = d[2]
	fh.FsKind = d[3]
	fh.CryptoKind = section.CryptoType(d[4])
	copy(fh.CryptoCounter[:], d[0x140:0x148])

	switch fh.FsKind {
	case FsKindPFS0:
		fh.Pfs0 = parsePfs0Superblock(d[8:])
	case FsKindRomFS:
		ivfc := parseIvfcHeader(d[8:])
		fh.Romfs = &ivfc
	}

	if fh.CryptoKind == section.CryptoBKTR {
		fh.Bktr = parseBktrSuperblock(d)
	}

	return fh, nil
}

// deriveSectionKeys resolves the 16-byte decryption key for every non-empty
// section: either the key-area path (rights id all zero, KAEK-unwrapped key
// area slots 0 and 2) or the titlekey-crypto path (non-zero rights id,
// ticket lookup + titlekek unwrap, one key for every section).
//
// Under key-area crypto the slot is chosen per section: slot 2 backs RomFS
// and BKTR content, slot 0 backs everything else (PFS0's plain CTR
// sections). h.TitleKey keeps the slot 2 key for callers that only care
// about "the" section key (e.g. the Program NCA repatch flow, which
// re-wraps it).
func deriveSectionKeys(h *Header, keys KeyProvider, tickets TicketLookup) error {
	if h.HasRightsID() {
		if tickets == nil {
			return ncaerr.NewGlobal(ncaerr.MissingTicket, "content uses titlekey crypto but no ticket source was supplied", nil)
		}
		titleKey, err := tickets.GetTitleKey(h.RightsID, h.Generation)
		if err != nil {
			return err
		}
		h.TitleKey = titleKey
		for i := 0; i < FsHeaderCount; i++ {
			if h.SectionEntries[i].Empty() {
				continue
			}
			h.SectionKeys[i] = titleKey
		}
		return nil
	}

	kaek, err := keys.KAEK(int(h.KeyAreaIndex), h.Generation)
	if err != nil {
		return err
	}
	slot0, err := crypto.ECBDecrypt(h.KeyArea[0][:], kaek)
	if err != nil {
		return ncaerr.NewGlobal(ncaerr.MissingKey, "failed to unwrap key area slot 0", err)
	}
	slot2, err := crypto.ECBDecrypt(h.KeyArea[2][:], kaek)
	if err != nil {
		return ncaerr.NewGlobal(ncaerr.MissingKey, "failed to unwrap key area slot 2", err)
	}
	h.TitleKey = slot2

	for i := 0; i < FsHeaderCount; i++ {
		if h.SectionEntries[i].Empty() {
			continue
		}
		fh := h.FsHeaders[i]
		if fh.PartitionKind == PartitionRomFS || fh.CryptoKind == section.CryptoBKTR {
			h.SectionKeys[i] = slot2
		} else {
			h.SectionKeys[i] = slot0
		}
	}
	return nil
}

// Encrypt re-encrypts a Header back into its 0xC00-byte on-disk form, the
// inverse of Decrypt. It re-derives every byte range Decrypt parsed out
// rather than keeping the original ciphertext around, so a round trip
// through Decrypt/Encrypt reproduces the original bytes exactly whenever the
// header was not otherwise modified.
func Encrypt(h *Header, keys KeyProvider) ([]byte, error) {
	headerKey, err := keys.HeaderKey()
	if err != nil {
		return nil, err
	}

	// Encode every FS header first and re-derive its stored hash from the
	// fresh bytes, so a caller that only mutates FsHeaders (e.g. HeaderPatcher
	// updating a Pfs0Superblock's master hash) never has to touch
	// SectionHashes by hand.
	fsBytesPerSection := make([][]byte, FsHeaderCount)
	for i := 0; i < FsHeaderCount; i++ {
		fsBytes, err := encodeFsHeader(h.FsHeaders[i])
		if err != nil {
			return nil, ncaerr.New(ncaerr.BadSize, "", i, "failed to encode FS header", err)
		}
		fsBytesPerSection[i] = fsBytes
		if !h.SectionEntries[i].Empty() {
			h.SectionHashes[i] = sha256.Sum256(fsBytes)
		}
	}

	top := make([]byte, TopHeaderSize)
	copy(top[0x200:0x204], h.Magic[:])
	top[0x204] = h.DistType
	top[0x205] = h.ContentType
	top[0x206] = h.CryptoType
	top[0x207] = h.KeyAreaIndex
	binary.LittleEndian.PutUint64(top[0x208:0x210], h.ContentSize)
	binary.LittleEndian.PutUint64(top[0x210:0x218], h.TitleID)
	binary.LittleEndian.PutUint32(top[0x21C:0x220], h.SdkVersion)
	top[0x220] = h.CryptoType2
	copy(top[0x230:0x240], h.RightsID[:])

	for i := 0; i < FsHeaderCount; i++ {
		off := 0x240 + i*16
		binary.LittleEndian.PutUint32(top[off:off+4], h.SectionEntries[i].MediaStartOffset)
		binary.LittleEndian.PutUint32(top[off+4:off+8], h.SectionEntries[i].MediaEndOffset)
	}
	for i := 0; i < FsHeaderCount; i++ {
		off := 0x280 + i*32
		copy(top[off:off+32], h.SectionHashes[i][:])
	}
	for i := 0; i < 4; i++ {
		off := 0x300 + i*16
		copy(top[off:off+16], h.KeyArea[i][:])
	}

	raw := make([]byte, HeaderSize)
	copy(raw[0x000:0x100], h.FixedKeySig[:])
	copy(raw[0x100:0x200], h.NpkSignature[:])

	for i := 0; i < TopHeaderSize/MediaUnit; i++ {
		start := i * MediaUnit
		enc, err := crypto.XTSEncrypt(top[start:start+MediaUnit], headerKey, uint64(i))
		if err != nil {
			return nil, ncaerr.NewGlobal(ncaerr.BadMagic, fmt.Sprintf("failed to encrypt header sector %d", i), err)
		}
		copy(raw[start:], enc)
	}

	for i := 0; i < FsHeaderCount; i++ {
		var sectorIdx uint64
		if h.IsNCA2 {
			sectorIdx = 0
		} else {
			sectorIdx = uint64(2 + i)
		}

		start := TopHeaderSize + i*FsHeaderSize
		enc, err := crypto.XTSEncrypt(fsBytesPerSection[i], headerKey, sectorIdx)
		if err != nil {
			return nil, ncaerr.New(ncaerr.BadMagic, "", i, "failed to encrypt FS header", err)
		}
		copy(raw[start:], enc)
	}

	return raw, nil
}

func encodeFsHeader(fh FsHeader) ([]byte, error) {
	d := make([]byte, FsHeaderSize)
	binary.LittleEndian.PutUint16(d[0:2], fh.Version)
	d[2] = fh.PartitionKind
	d[3] = fh.FsKind
	d[4] = byte(fh.CryptoKind)
	copy(d[0x140:0x148], fh.CryptoCounter[:])

	switch {
	case fh.Bktr != nil:
		encodeBktrSuperblock(d, fh.Bktr)
	case fh.Pfs0 != nil:
		encodePfs0Superblock(d[8:], fh.Pfs0)
	case fh.Romfs != nil:
		encodeIvfcHeader(d[8:], fh.Romfs)
	}

	return d, nil
}

// DeriveSectionKey exposes the per-section key already resolved by Decrypt,
// for callers that only hold a Header value and a section index.
func DeriveSectionKey(h *Header, sectionIndex int) ([]byte, error) {
	if sectionIndex < 0 || sectionIndex >= FsHeaderCount {
		return nil, ncaerr.NewGlobal(ncaerr.BadSize, fmt.Sprintf("section index %d out of range", sectionIndex), nil)
	}
	key := h.SectionKeys[sectionIndex]
	if key == nil {
		return nil, ncaerr.New(ncaerr.MissingKey, "", sectionIndex, "section has no resolved key (empty or undecrypted header)", nil)
	}
	return key, nil
}
