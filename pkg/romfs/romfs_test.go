package romfs

import (
	"encoding/binary"
	"testing"
)

type byteReaderAt []byte

func (b byteReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(b)) {
		return 0, nil
	}
	n := copy(p, b[off:])
	return n, nil
}

func pad4(n int) int { return (n + 3) &^ 3 }

// buildRomFS assembles a minimal RomFS image: a root directory with one
// child directory "sub" and one file "a.txt" holding fileData.
func buildRomFS(t *testing.T, fileData []byte) []byte {
	t.Helper()

	// File metadata table: a single "a.txt" entry at offset 0.
	fileName := "a.txt"
	fileEntryLen := 32 + pad4(len(fileName))
	fileTable := make([]byte, fileEntryLen)
	binary.LittleEndian.PutUint32(fileTable[0:4], 0)          // parent
	binary.LittleEndian.PutUint32(fileTable[4:8], invalidOffset) // sibling
	binary.LittleEndian.PutUint64(fileTable[8:16], 0)          // data offset
	binary.LittleEndian.PutUint64(fileTable[16:24], uint64(len(fileData)))
	binary.LittleEndian.PutUint32(fileTable[28:32], uint32(len(fileName)))
	copy(fileTable[32:32+len(fileName)], fileName)

	// Directory metadata table: root at offset 0, "sub" child dir after it.
	rootEntryLen := 24 // empty name
	subName := "sub"
	subEntryLen := 24 + pad4(len(subName))
	dirTable := make([]byte, rootEntryLen+subEntryLen)

	binary.LittleEndian.PutUint32(dirTable[0:4], 0)                        // parent
	binary.LittleEndian.PutUint32(dirTable[4:8], invalidOffset)             // sibling
	binary.LittleEndian.PutUint32(dirTable[8:12], uint32(rootEntryLen))     // child dir -> "sub"
	binary.LittleEndian.PutUint32(dirTable[12:16], 0)                      // child file -> "a.txt"
	binary.LittleEndian.PutUint32(dirTable[20:24], 0)                      // name size

	subOff := rootEntryLen
	binary.LittleEndian.PutUint32(dirTable[subOff:subOff+4], 0)            // parent
	binary.LittleEndian.PutUint32(dirTable[subOff+4:subOff+8], invalidOffset)
	binary.LittleEndian.PutUint32(dirTable[subOff+8:subOff+12], invalidOffset)
	binary.LittleEndian.PutUint32(dirTable[subOff+12:subOff+16], invalidOffset)
	binary.LittleEndian.PutUint32(dirTable[subOff+20:subOff+24], uint32(len(subName)))
	copy(dirTable[subOff+24:subOff+24+len(subName)], subName)

	dirMetaOffset := uint64(headerSize)
	dirMetaSize := uint64(len(dirTable))
	fileMetaOffset := dirMetaOffset + dirMetaSize
	fileMetaSize := uint64(len(fileTable))
	dataOffset := fileMetaOffset + fileMetaSize

	head := make([]byte, headerSize)
	binary.LittleEndian.PutUint64(head[0:8], headerSize)
	binary.LittleEndian.PutUint64(head[24:32], dirMetaOffset)
	binary.LittleEndian.PutUint64(head[32:40], dirMetaSize)
	binary.LittleEndian.PutUint64(head[56:64], fileMetaOffset)
	binary.LittleEndian.PutUint64(head[64:72], fileMetaSize)
	binary.LittleEndian.PutUint64(head[72:80], dataOffset)

	var out []byte
	out = append(out, head...)
	out = append(out, dirTable...)
	out = append(out, fileTable...)
	out = append(out, fileData...)
	return out
}

func TestMountTraversal(t *testing.T) {
	raw := buildRomFS(t, []byte("hello romfs"))

	ro, err := Mount(byteReaderAt(raw))
	if err != nil {
		t.Fatalf("Mount: %v", err)
	}

	root, ok := ro.Root()
	if !ok {
		t.Fatalf("expected a root directory")
	}

	children := ro.Children(root)
	if len(children) != 1 || children[0].Name != "sub" {
		t.Fatalf("unexpected children: %+v", children)
	}

	files := ro.Files(root)
	if len(files) != 1 || files[0].Name != "a.txt" {
		t.Fatalf("unexpected files: %+v", files)
	}

	r := ro.OpenFile(files[0])
	buf := make([]byte, files[0].DataSize)
	if _, err := r.ReadAt(buf, 0); err != nil {
		t.Fatalf("OpenFile.ReadAt: %v", err)
	}
	if string(buf) != "hello romfs" {
		t.Fatalf("got %q, want %q", buf, "hello romfs")
	}
}

func TestMountRejectsBadHeaderSize(t *testing.T) {
	raw := buildRomFS(t, []byte("x"))
	binary.LittleEndian.PutUint64(raw[0:8], 0x40) // wrong header length field
	if _, err := Mount(byteReaderAt(raw)); err == nil {
		t.Fatalf("expected an error for a mismatched header size field")
	}
}
