// Package bktr implements the BKTR (bucket-tree relocation) layer that lets
// a patch NCA's RomFS present a single virtual address space stitched
// together from its own data and ranges borrowed from a base NCA: a
// relocation table (virtual-to-physical, patch-or-base selection) and a
// subsection table (per-physical-range CTR counter high-bits), both laid
// out as bucketed tables with a binary-searchable bucket-offset index.
package bktr

import (
	"encoding/binary"
	"io"
	"sort"

	"github.com/archivecore/ncarepack/pkg/crypto"
	"github.com/archivecore/ncarepack/pkg/ncaerr"
)

const (
	bucketHeaderSize = 16     // padding(4) + bucket_count(4) + total_size(8)
	offsetTableSize  = 0x3FF0 // per-bucket starting-offset index, fixed region size
	entrySize        = 16
)

// RelocationEntry maps a virtual offset to either the patch's own RomFS or
// the base NCA's RomFS at the same virtual offset.
type RelocationEntry struct {
	VirtualOffset uint64
	Size          uint64 // computed from the following entry's VirtualOffset
	FromPatch     bool   // true selects the patch RomFS, false the base RomFS
}

// SubsectionEntry carries the AES-CTR counter high-word to use for the
// physical range starting at VirtualOffset.
type SubsectionEntry struct {
	VirtualOffset uint64
	Size          uint64
	Ctr           uint32
}

// Bucket is one bucketed run of entries, terminated by EndOffset.
type Bucket struct {
	EndOffset uint64
	Relocs    []RelocationEntry
	Subs      []SubsectionEntry
}

// Table is a parsed bucket tree: the fixed base-offset index plus the
// buckets themselves, searchable by virtual offset.
type Table struct {
	baseOffsets []uint64
	buckets     []Bucket
}

// parseBucketed decrypts and parses a BKTR bucket-tree region (relocation or
// subsection, same physical layout) starting at sectionOffset+header.Offset.
// isRelocation selects which entry shape to decode.
func parseBucketed(r io.ReaderAt, sectionOffset int64, offset, size uint64, key []byte, baseCounter []byte, isRelocation bool) (*Table, error) {
	if size == 0 {
		return nil, nil
	}

	absOffset := sectionOffset + int64(offset)
	raw := make([]byte, size)
	if _, err := r.ReadAt(raw, absOffset); err != nil {
		return nil, ncaerr.NewGlobal(ncaerr.ShortRead, "failed to read BKTR bucket region", err)
	}

	stream, err := crypto.NewCTRStream(key, baseCounter, absOffset)
	if err != nil {
		return nil, err
	}
	stream.XORKeyStream(raw, raw)

	if len(raw) < bucketHeaderSize+offsetTableSize {
		return nil, ncaerr.NewGlobal(ncaerr.BadSize, "BKTR bucket region shorter than its fixed header", nil)
	}

	bucketCount := binary.LittleEndian.Uint32(raw[4:8])
	t := &Table{}

	offsetTable := raw[bucketHeaderSize : bucketHeaderSize+offsetTableSize]
	for i := uint32(0); i < bucketCount && int(i)*8+8 <= len(offsetTable); i++ {
		t.baseOffsets = append(t.baseOffsets, binary.LittleEndian.Uint64(offsetTable[i*8:i*8+8]))
	}

	pos := bucketHeaderSize + offsetTableSize
	for i := uint32(0); i < bucketCount; i++ {
		if pos+16 > len(raw) {
			break
		}
		entryCount := binary.LittleEndian.Uint32(raw[pos+4 : pos+8])
		endOffset := binary.LittleEndian.Uint64(raw[pos+8 : pos+16])
		entriesPos := pos + 16

		b := Bucket{EndOffset: endOffset}
		for j := uint32(0); j < entryCount; j++ {
			ep := entriesPos + int(j)*entrySize
			if ep+entrySize > len(raw) {
				break
			}
			vOff := binary.LittleEndian.Uint64(raw[ep : ep+8])
			if isRelocation {
				b.Relocs = append(b.Relocs, RelocationEntry{
					VirtualOffset: vOff,
					FromPatch:     binary.LittleEndian.Uint32(raw[ep+8:ep+12])&1 == 0,
				})
			} else {
				b.Subs = append(b.Subs, SubsectionEntry{
					VirtualOffset: vOff,
					Ctr:           binary.LittleEndian.Uint32(raw[ep+12 : ep+16]),
				})
			}
		}

		if isRelocation {
			for j := 0; j < len(b.Relocs)-1; j++ {
				b.Relocs[j].Size = b.Relocs[j+1].VirtualOffset - b.Relocs[j].VirtualOffset
			}
			if n := len(b.Relocs); n > 0 {
				b.Relocs[n-1].Size = b.EndOffset - b.Relocs[n-1].VirtualOffset
			}
		} else {
			for j := 0; j < len(b.Subs)-1; j++ {
				b.Subs[j].Size = b.Subs[j+1].VirtualOffset - b.Subs[j].VirtualOffset
			}
			if n := len(b.Subs); n > 0 {
				b.Subs[n-1].Size = b.EndOffset - b.Subs[n-1].VirtualOffset
			}
		}

		t.buckets = append(t.buckets, b)
		entries := entryCount
		pos = entriesPos + int(entries)*entrySize
	}

	return t, nil
}

// ParseRelocationTable parses the relocation bucket tree.
func ParseRelocationTable(r io.ReaderAt, sectionOffset int64, offset, size uint64, key, baseCounter []byte) (*Table, error) {
	return parseBucketed(r, sectionOffset, offset, size, key, baseCounter, true)
}

// ParseSubsectionTable parses the subsection bucket tree.
func ParseSubsectionTable(r io.ReaderAt, sectionOffset int64, offset, size uint64, key, baseCounter []byte) (*Table, error) {
	return parseBucketed(r, sectionOffset, offset, size, key, baseCounter, false)
}

// findBucket returns the index of the bucket whose EndOffset is the first
// one greater than virtualOffset — the bucket that must contain the entry
// covering virtualOffset, if any.
func (t *Table) findBucket(virtualOffset uint64) int {
	return sort.Search(len(t.buckets), func(i int) bool {
		return t.buckets[i].EndOffset > virtualOffset
	})
}

// RelocEntryAt returns the relocation entry covering virtualOffset.
func (t *Table) RelocEntryAt(virtualOffset uint64) (RelocationEntry, bool) {
	if t == nil {
		return RelocationEntry{}, false
	}
	bi := t.findBucket(virtualOffset)
	if bi >= len(t.buckets) {
		return RelocationEntry{}, false
	}
	entries := t.buckets[bi].Relocs
	i := sort.Search(len(entries), func(j int) bool {
		return entries[j].VirtualOffset+entries[j].Size > virtualOffset
	})
	if i >= len(entries) || entries[i].VirtualOffset > virtualOffset {
		return RelocationEntry{}, false
	}
	return entries[i], true
}

// SubsectionEntryAt returns the subsection entry covering virtualOffset:
// its counter high-word plus the [VirtualOffset, VirtualOffset+Size) range
// it's active over, so a caller can clamp a read to the boundary where the
// nonce changes.
func (t *Table) SubsectionEntryAt(virtualOffset uint64) (SubsectionEntry, bool) {
	if t == nil {
		return SubsectionEntry{}, false
	}
	bi := t.findBucket(virtualOffset)
	if bi >= len(t.buckets) {
		return SubsectionEntry{}, false
	}
	entries := t.buckets[bi].Subs
	i := sort.Search(len(entries), func(j int) bool {
		return entries[j].VirtualOffset+entries[j].Size > virtualOffset
	})
	if i >= len(entries) || entries[i].VirtualOffset > virtualOffset {
		return SubsectionEntry{}, false
	}
	return entries[i], true
}

// SubsectionCtrAt returns the AES-CTR counter high-word active at
// virtualOffset, per the subsection table.
func (t *Table) SubsectionCtrAt(virtualOffset uint64) (uint32, bool) {
	e, ok := t.SubsectionEntryAt(virtualOffset)
	return e.Ctr, ok
}

// AllSubsections returns every subsection entry across all buckets, in
// virtual-offset order, for callers (like nczpack) that need the full
// partition rather than a single point query.
func (t *Table) AllSubsections() []SubsectionEntry {
	if t == nil {
		return nil
	}
	var out []SubsectionEntry
	for _, b := range t.buckets {
		out = append(out, b.Subs...)
	}
	return out
}

// SetCounter overlays a subsection counter's high 32 bits onto the low 8
// bytes of a 16-byte section nonce.
func SetCounter(baseCounter []byte, ctrVal uint32) []byte {
	counter := make([]byte, 16)
	copy(counter, baseCounter)
	binary.BigEndian.PutUint32(counter[4:8], ctrVal)
	return counter
}
