package main

import (
	"io"
	"os"

	"github.com/archivecore/ncarepack/pkg/storage"
)

// openContentSource resolves ref to a StorageReader-backed random access
// source: a direct filesystem path when ref names an existing file, or (when
// contentDir is set) a bare content id looked up in that directory via
// storage.DirReader, the loose "<content-id>.nca" layout console dumps use.
func openContentSource(ref, contentDir string) (storage.Reader, io.ReaderAt, int64, error) {
	if contentDir != "" {
		if _, err := os.Stat(ref); err != nil {
			dr := storage.NewDirReader(contentDir)
			r, size, err := dr.Open(ref)
			if err != nil {
				dr.Close()
				return nil, nil, 0, err
			}
			return dr, r, size, nil
		}
	}

	f, err := os.Open(ref)
	if err != nil {
		return nil, nil, 0, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, 0, err
	}
	sf := storage.SingleFile{R: f, Size: info.Size()}
	return fileCloser{sf, f}, sf, sf.Size, nil
}

// fileCloser pairs a SingleFile StorageReader with the *os.File backing it,
// so openContentSource's two resolution paths share one Close contract.
type fileCloser struct {
	storage.SingleFile
	f *os.File
}

func (c fileCloser) Close() error { return c.f.Close() }
