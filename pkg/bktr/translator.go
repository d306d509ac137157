package bktr

import (
	"io"

	"github.com/archivecore/ncarepack/pkg/ncaerr"
)

// counterReaderAt is a CTR-backed section reader that can be asked to
// honor a different 8-byte counter for a single read, for BKTR subsections
// whose nonce changes partway through a patch RomFS section. A plain
// io.ReaderAt (no subsection table, or a reader that doesn't support the
// override) just gets a normal ReadAt.
type counterReaderAt interface {
	ReadAtWithCounter(p []byte, off int64, counter []byte) (int, error)
}

// Translator answers reads against a patch RomFS's virtual address space,
// splitting each request at relocation-entry boundaries and dispatching the
// patch-backed or base-backed ranges to the matching reader.
type Translator struct {
	Relocations *Table
	Subsections *Table

	Patch        io.ReaderAt // patch NCA's RomFS section, already decrypted-on-read
	PatchCounter []byte      // patch section's base 8-byte CTR counter (fh.CryptoCounter); overridden per subsection via SetCounter
	Base         io.ReaderAt // base NCA's RomFS section; nil if no base was supplied
}

// VirtToPhys resolves a single virtual offset to the reader and physical
// offset that backs it.
func (t *Translator) VirtToPhys(virtualOffset uint64) (r io.ReaderAt, physOffset int64, err error) {
	entry, ok := t.Relocations.RelocEntryAt(virtualOffset)
	if !ok {
		return nil, 0, ncaerr.NewGlobal(ncaerr.BktrOutOfRange, "virtual offset has no relocation entry", nil)
	}
	if entry.FromPatch {
		return t.Patch, int64(virtualOffset), nil
	}
	if t.Base == nil {
		return nil, 0, ncaerr.NewGlobal(ncaerr.BktrOutOfRange, "relocation entry requires a base NCA but none was supplied", nil)
	}
	return t.Base, int64(virtualOffset), nil
}

// ReadVirtual reads len(p) decrypted bytes starting at virtual offset off,
// splitting the request at every relocation-entry boundary it crosses so
// each underlying ReaderAt only ever sees a single contiguous run.
func (t *Translator) ReadVirtual(p []byte, off int64) (int, error) {
	total := 0
	virt := uint64(off)
	remaining := p

	for len(remaining) > 0 {
		entry, ok := t.Relocations.RelocEntryAt(virt)
		if !ok {
			return total, ncaerr.NewGlobal(ncaerr.BktrOutOfRange, "virtual offset has no relocation entry", nil)
		}

		entryEnd := entry.VirtualOffset + entry.Size
		avail := entryEnd - virt
		chunk := remaining
		if uint64(len(chunk)) > avail {
			chunk = chunk[:avail]
		}

		r, physOffset, err := t.VirtToPhys(virt)
		if err != nil {
			return total, err
		}

		if entry.FromPatch {
			chunk = t.clampToSubsection(chunk, virt)
		}

		n, err := t.readChunk(r, entry.FromPatch, chunk, virt, physOffset)
		total += n
		if err != nil && err != io.EOF {
			return total, err
		}
		if n < len(chunk) {
			return total, io.ErrUnexpectedEOF
		}

		virt += uint64(len(chunk))
		remaining = remaining[len(chunk):]
	}

	return total, nil
}

// clampToSubsection shortens chunk, a patch-backed read starting at virt,
// so it never crosses into a different subsection entry; each one may
// carry its own CTR nonce high-bits.
func (t *Translator) clampToSubsection(chunk []byte, virt uint64) []byte {
	sub, ok := t.Subsections.SubsectionEntryAt(virt)
	if !ok {
		return chunk
	}
	subEnd := sub.VirtualOffset + sub.Size
	if avail := subEnd - virt; uint64(len(chunk)) > avail {
		return chunk[:avail]
	}
	return chunk
}

// readChunk reads chunk from r at physOffset. For a patch-backed run with a
// subsection table, it looks up the subsection covering virt and, if r
// supports a counter override, decrypts with that subsection's own CTR
// nonce high-bits (SetCounter over PatchCounter) instead of r's built-in IV.
func (t *Translator) readChunk(r io.ReaderAt, fromPatch bool, chunk []byte, virt uint64, physOffset int64) (int, error) {
	if !fromPatch || t.Subsections == nil {
		return r.ReadAt(chunk, physOffset)
	}

	cr, ok := r.(counterReaderAt)
	if !ok {
		return r.ReadAt(chunk, physOffset)
	}

	sub, ok := t.Subsections.SubsectionEntryAt(virt)
	if !ok {
		return r.ReadAt(chunk, physOffset)
	}

	counter := SetCounter(t.PatchCounter, sub.Ctr)
	return cr.ReadAtWithCounter(chunk, physOffset, counter)
}

// ReadAt implements io.ReaderAt over the virtual address space, so a
// Translator can back a romfs.Mount directly.
func (t *Translator) ReadAt(p []byte, off int64) (int, error) {
	return t.ReadVirtual(p, off)
}
