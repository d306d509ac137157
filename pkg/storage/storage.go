// Package storage resolves a (content id, offset, length) request to bytes:
// a small interface plus two concrete backends (a directory of loose .nca
// files, and a single already-open file) so the nca/section/pfs0/romfs
// packages never need to know where bytes physically live.
package storage

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/archivecore/ncarepack/pkg/ncaerr"
)

// Reader resolves a content id to a random-access byte source.
type Reader interface {
	Open(contentID string) (io.ReaderAt, int64, error)
	Close() error
}

// DirReader serves NCAs from a directory of files named "<content-id>.nca",
// the loose layout console dumps typically use.
type DirReader struct {
	root string

	mu    sync.Mutex
	files map[string]*os.File
}

// NewDirReader opens a directory-backed StorageReader rooted at dir.
func NewDirReader(dir string) *DirReader {
	return &DirReader{root: dir, files: make(map[string]*os.File)}
}

// Open implements Reader, caching the *os.File per content id so repeated
// section reads from the same content don't reopen it.
func (d *DirReader) Open(contentID string) (io.ReaderAt, int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := strings.ToLower(contentID)
	if f, ok := d.files[key]; ok {
		info, err := f.Stat()
		if err != nil {
			return nil, 0, err
		}
		return f, info.Size(), nil
	}

	path := filepath.Join(d.root, key+".nca")
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, ncaerr.NewGlobal(ncaerr.ShortRead, "failed to open content file "+path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	d.files[key] = f
	return f, info.Size(), nil
}

// Close releases every file opened so far.
func (d *DirReader) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var firstErr error
	for _, f := range d.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	d.files = make(map[string]*os.File)
	return firstErr
}

// SingleFile adapts one already-open io.ReaderAt (e.g. a file the caller
// opened some other way, or an in-memory buffer) into a one-content
// StorageReader, ignoring the content id on Open.
type SingleFile struct {
	R    io.ReaderAt
	Size int64
}

func (s SingleFile) Open(contentID string) (io.ReaderAt, int64, error) { return s.R, s.Size, nil }
func (s SingleFile) Close() error                                     { return nil }
