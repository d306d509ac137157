// Package romfs mounts a RomFS partition, a hierarchical, IVFC-hashed,
// read-only filesystem, over a section-relative byte range.
package romfs

import (
	"encoding/binary"
	"io"

	"github.com/archivecore/ncarepack/pkg/ncaerr"
)

const headerSize = 0x50

// Dir is one directory-metadata-table entry. NextOff/ChildOff/FileOff are
// metadata-table offsets, not hash-bucket links — sibling directories are
// threaded through the directory's own next-sibling chain, not the name
// hash table (which only accelerates lookup and is not needed for plain
// enumeration).
type Dir struct {
	Name       string
	ParentOff  uint32
	NextOff    uint32
	ChildOff   uint32
	FileOff    uint32
	selfOffset uint32
}

// File is one file-metadata-table entry.
type File struct {
	Name       string
	ParentOff  uint32
	NextOff    uint32
	DataOffset int64
	DataSize   int64
	selfOffset uint32
}

const invalidOffset = 0xFFFFFFFF

// Reader mounts the directory/file metadata tables and offers tree
// traversal plus file data reads. Those reads are not checked against the
// IVFC hash tree; IvfcVerifier performs that check separately.
type Reader struct {
	r io.ReaderAt // section-relative reader over the whole RomFS section

	dataOffset int64

	dirs  map[uint32]Dir
	files map[uint32]File
}

// Mount parses a RomFS header at the start of r (which must already be a
// view restricted to the RomFS section) and reads the directory/file
// metadata tables.
func Mount(r io.ReaderAt) (*Reader, error) {
	head := make([]byte, headerSize)
	if _, err := r.ReadAt(head, 0); err != nil {
		return nil, ncaerr.NewGlobal(ncaerr.ShortRead, "failed to read RomFS header", err)
	}

	hdrLen := binary.LittleEndian.Uint64(head[0:8])
	if hdrLen != headerSize {
		return nil, ncaerr.NewGlobal(ncaerr.BadSize, "unexpected RomFS header size field", nil)
	}

	// Hash-bucket tables (dir and file) accelerate name lookup but aren't
	// needed for enumeration, so their offset/size fields are skipped.
	dirMetaOffset := binary.LittleEndian.Uint64(head[24:32])
	dirMetaSize := binary.LittleEndian.Uint64(head[32:40])
	fileMetaOffset := binary.LittleEndian.Uint64(head[56:64])
	fileMetaSize := binary.LittleEndian.Uint64(head[64:72])
	dataOffset := int64(binary.LittleEndian.Uint64(head[72:80]))

	reader := &Reader{
		r:          r,
		dataOffset: dataOffset,
		dirs:       make(map[uint32]Dir),
		files:      make(map[uint32]File),
	}

	if err := reader.loadDirTable(dirMetaOffset, dirMetaSize); err != nil {
		return nil, err
	}
	if err := reader.loadFileTable(fileMetaOffset, fileMetaSize); err != nil {
		return nil, err
	}

	return reader, nil
}

// entryNameAligned rounds n up to the next multiple of 4, the RomFS
// metadata-entry padding convention.
func entryNameAligned(n int) int {
	return (n + 3) &^ 3
}

func (ro *Reader) loadDirTable(offset, size uint64) error {
	if size == 0 {
		return nil
	}
	buf := make([]byte, size)
	if _, err := ro.r.ReadAt(buf, int64(offset)); err != nil {
		return ncaerr.NewGlobal(ncaerr.ShortRead, "failed to read RomFS directory metadata table", err)
	}

	// Layout: parent(4) sibling(4) childDir(4) childFile(4) hashChain(4)
	// nameSize(4) name[nameSize, 4-byte padded].
	pos := uint32(0)
	for pos+24 <= uint32(len(buf)) {
		nameLen := binary.LittleEndian.Uint32(buf[pos+20 : pos+24])
		entryLen := 24 + entryNameAligned(int(nameLen))
		if int(pos)+entryLen > len(buf) {
			break
		}
		d := Dir{
			ParentOff:  binary.LittleEndian.Uint32(buf[pos : pos+4]),
			NextOff:    binary.LittleEndian.Uint32(buf[pos+4 : pos+8]),
			ChildOff:   binary.LittleEndian.Uint32(buf[pos+8 : pos+12]),
			FileOff:    binary.LittleEndian.Uint32(buf[pos+12 : pos+16]),
			Name:       string(buf[pos+24 : pos+24+nameLen]),
			selfOffset: pos,
		}
		ro.dirs[pos] = d
		pos += uint32(entryLen)
	}
	return nil
}

func (ro *Reader) loadFileTable(offset, size uint64) error {
	if size == 0 {
		return nil
	}
	buf := make([]byte, size)
	if _, err := ro.r.ReadAt(buf, int64(offset)); err != nil {
		return ncaerr.NewGlobal(ncaerr.ShortRead, "failed to read RomFS file metadata table", err)
	}

	pos := uint32(0)
	for pos+32 <= uint32(len(buf)) {
		nameLen := binary.LittleEndian.Uint32(buf[pos+28 : pos+32])
		entryLen := 32 + entryNameAligned(int(nameLen))
		if int(pos)+entryLen > len(buf) {
			break
		}
		f := File{
			ParentOff:  binary.LittleEndian.Uint32(buf[pos : pos+4]),
			NextOff:    binary.LittleEndian.Uint32(buf[pos+4 : pos+8]),
			DataOffset: int64(binary.LittleEndian.Uint64(buf[pos+8 : pos+16])),
			DataSize:   int64(binary.LittleEndian.Uint64(buf[pos+16 : pos+24])),
			Name:       string(buf[pos+32 : pos+32+nameLen]),
			selfOffset: pos,
		}
		ro.files[pos] = f
		pos += uint32(entryLen)
	}
	return nil
}

// Root returns the root directory entry (always at metadata offset 0).
func (ro *Reader) Root() (Dir, bool) {
	d, ok := ro.dirs[0]
	return d, ok
}

// Children iterates a directory's immediate subdirectories.
func (ro *Reader) Children(d Dir) []Dir {
	var out []Dir
	off := d.ChildOff
	for off != invalidOffset {
		child, ok := ro.dirs[off]
		if !ok {
			break
		}
		out = append(out, child)
		off = child.NextOff
	}
	return out
}

// Files iterates a directory's immediate files.
func (ro *Reader) Files(d Dir) []File {
	var out []File
	off := d.FileOff
	for off != invalidOffset {
		f, ok := ro.files[off]
		if !ok {
			break
		}
		out = append(out, f)
		off = f.NextOff
	}
	return out
}

// OpenFile returns an io.ReaderAt over a file's logical data range, backed
// by the RomFS section reader at dataOffset+DataOffset.
func (ro *Reader) OpenFile(f File) io.ReaderAt {
	return io.NewSectionReader(ro.r, ro.dataOffset+f.DataOffset, f.DataSize)
}
