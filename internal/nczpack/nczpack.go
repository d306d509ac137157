// Package nczpack implements the optional NCZ (NCA-Zstd) compressed output
// path: block-compressing an NCA's ciphertext-minus-header bytes with zstd,
// after decrypting just the CTR/BKTR-covered ranges so the compressor sees
// plaintext. Section tables are built directly from an *nca.Header, and
// ciphertext is read through any io.ReaderAt over the whole content.
package nczpack

import (
	"encoding/binary"
	"fmt"
	"io"
	"runtime"
	"sync"

	"github.com/archivecore/ncarepack/pkg/bktr"
	"github.com/archivecore/ncarepack/pkg/crypto"
	"github.com/archivecore/ncarepack/pkg/nca"
	"github.com/archivecore/ncarepack/pkg/ncaerr"
	"github.com/archivecore/ncarepack/pkg/nsz"
	"github.com/archivecore/ncarepack/pkg/section"
	ncazstd "github.com/archivecore/ncarepack/pkg/zstd"
)

const (
	DefaultBlockSizeExp     = 20 // 1MB blocks (2^20)
	DefaultCompressionLevel = 19
)

// sectionEntries builds the NCZ section table (offset/size/crypto
// type/key/counter, absolute within the content) from a decrypted header.
// bktrSubs optionally supplies a parsed subsection table per FS header
// index, splitting a BKTR section into one NCZ section per subsection
// entry (each with its own CTR nonce high-bits) instead of one section
// with a single static counter, since a BKTR section's nonce changes
// partway through.
func sectionEntries(h *nca.Header, bktrSubs map[int]*bktr.Table) []nsz.SectionHeader {
	var out []nsz.SectionHeader
	for i := 0; i < nca.FsHeaderCount; i++ {
		if h.SectionEntries[i].Empty() {
			continue
		}
		start, end := h.SectionEntries[i].ByteRange()
		key := h.SectionKeys[i]
		counter := h.FsHeaders[i].CryptoCounter

		if h.FsHeaders[i].CryptoKind == section.CryptoBKTR {
			if subs, ok := bktrSubs[i]; ok && subs != nil {
				out = append(out, bktrSectionEntries(start, end, key, counter, subs)...)
				continue
			}
		}

		entry := nsz.SectionHeader{
			FileOffset: uint64(start),
			Size:       uint64(end - start),
			CryptoType: int64(h.FsHeaders[i].CryptoKind),
		}
		if len(key) == 16 {
			copy(entry.CryptoKey[:], key)
		}
		copy(entry.CryptoCounter[:], counter[:])
		out = append(out, entry)
	}
	return out
}

// bktrSectionEntries splits [start, end) into one NCZ section per
// subsection-table entry, each carrying its own CTR counter high-bits via
// bktr.SetCounter: it walks every bucket/entry of the subsection table and
// emits one packed section per entry, sized from consecutive
// VirtualOffsets; the last entry (or one with a zero size) is extended to
// the section end, so no separate trailing section is emitted.
func bktrSectionEntries(start, end int64, key []byte, baseCounter [8]byte, subs *bktr.Table) []nsz.SectionHeader {
	entries := subs.AllSubsections()
	if len(entries) == 0 {
		fallback := nsz.SectionHeader{
			FileOffset: uint64(start),
			Size:       uint64(end - start),
			CryptoType: int64(section.CryptoCTR),
		}
		if len(key) == 16 {
			copy(fallback.CryptoKey[:], key)
		}
		copy(fallback.CryptoCounter[:], baseCounter[:])
		return []nsz.SectionHeader{fallback}
	}

	out := make([]nsz.SectionHeader, 0, len(entries))
	for i, e := range entries {
		physOffset := uint64(start) + e.VirtualOffset
		if physOffset >= uint64(end) {
			break
		}
		size := e.Size
		if i == len(entries)-1 || size == 0 {
			size = uint64(end) - physOffset
		}
		if physOffset+size > uint64(end) {
			size = uint64(end) - physOffset
		}

		entry := nsz.SectionHeader{
			FileOffset: physOffset,
			Size:       size,
			CryptoType: int64(section.CryptoCTR),
		}
		if len(key) == 16 {
			copy(entry.CryptoKey[:], key)
		}
		copy(entry.CryptoCounter[:], bktr.SetCounter(baseCounter[:], e.Ctr))
		out = append(out, entry)
	}
	return out
}

// CompressNca reads totalSize bytes of an NCA (header at r[0:nca.HeaderSize]
// plus ciphertext sections after it) and writes the NCZ representation to
// w: the raw header copied verbatim, an NCZSECTN section table, an
// NCZBLOCK block table, and zstd-compressed (or stored, if compression
// didn't help) fixed-size blocks. bktrSubs optionally supplies a parsed
// subsection table per FS header index for BKTR sections (nil entries, or a
// nil map, fall back to one coarse section per BKTR region).
func CompressNca(r io.ReaderAt, w io.WriteSeeker, h *nca.Header, totalSize int64, compressionLevel int, bktrSubs map[int]*bktr.Table) (int64, error) {
	startPos, err := w.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, err
	}

	headerBuf := make([]byte, nca.HeaderSize)
	if _, err := r.ReadAt(headerBuf, 0); err != nil {
		return 0, ncaerr.NewGlobal(ncaerr.ShortRead, "failed to read NCA header for NCZ packing", err)
	}
	if _, err := w.Write(headerBuf); err != nil {
		return 0, err
	}

	sections := sectionEntries(h, bktrSubs)
	if err := nsz.WriteSectionTable(w, sections); err != nil {
		return 0, err
	}

	blockSize := int64(1) << DefaultBlockSizeExp
	dataSize := totalSize - nca.HeaderSize
	blockCount := uint32((dataSize + blockSize - 1) / blockSize)

	blockHeader := nsz.NczBlockHeader{
		Version:          2,
		Type:             1,
		BlockSizeExp:     DefaultBlockSizeExp,
		BlockCount:       blockCount,
		DecompressedSize: uint64(dataSize),
	}
	copy(blockHeader.Magic[:], nsz.MagicNCZBLOCK)
	if err := binary.Write(w, binary.LittleEndian, blockHeader); err != nil {
		return 0, err
	}

	sizeListOffset, err := w.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, err
	}
	if _, err := w.Write(make([]byte, blockCount*4)); err != nil {
		return 0, err
	}

	compressedBlocks, err := compressBlocks(r, totalSize, blockSize, blockCount, sections, compressionLevel)
	if err != nil {
		return 0, err
	}

	compressedSizes := make([]uint32, blockCount)
	for i := uint32(0); i < blockCount; i++ {
		if _, err := w.Write(compressedBlocks[i]); err != nil {
			return 0, fmt.Errorf("write NCZ block %d: %w", i, err)
		}
		compressedSizes[i] = uint32(len(compressedBlocks[i]))
	}

	endPos, err := w.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, err
	}
	if _, err := w.Seek(sizeListOffset, io.SeekStart); err != nil {
		return 0, err
	}
	if err := binary.Write(w, binary.LittleEndian, compressedSizes); err != nil {
		return 0, err
	}
	if _, err := w.Seek(endPos, io.SeekStart); err != nil {
		return 0, err
	}

	return endPos - startPos, nil
}

func compressBlocks(r io.ReaderAt, totalSize, blockSize int64, blockCount uint32, sections []nsz.SectionHeader, level int) ([][]byte, error) {
	numWorkers := runtime.NumCPU()
	results := make([][]byte, blockCount)

	type work struct {
		index  uint32
		offset int64
		size   int64
	}

	workCh := make(chan work, numWorkers*4)
	resultCh := make(chan struct {
		index uint32
		data  []byte
	}, numWorkers*4)

	var collectWg sync.WaitGroup
	collectWg.Add(1)
	go func() {
		defer collectWg.Done()
		for r := range resultCh {
			results[r.index] = r.data
		}
	}()

	var workerWg sync.WaitGroup
	var workerErr error
	var errOnce sync.Once

	for i := 0; i < numWorkers; i++ {
		workerWg.Add(1)
		go func() {
			defer workerWg.Done()
			buf := make([]byte, blockSize)

			for w := range workCh {
				chunk := buf[:w.size]
				n, err := r.ReadAt(chunk, w.offset)
				if err != nil && n == 0 {
					errOnce.Do(func() { workerErr = fmt.Errorf("read NCZ block %d: %w", w.index, err) })
					continue
				}
				chunk = chunk[:n]

				decryptChunk(chunk, w.offset, sections)

				compressed := ncazstd.Compress(chunk, level)
				var data []byte
				if len(compressed) < len(chunk) {
					data = compressed
				} else {
					data = make([]byte, len(chunk))
					copy(data, chunk)
				}

				resultCh <- struct {
					index uint32
					data  []byte
				}{w.index, data}
			}
		}()
	}

	for i := uint32(0); i < blockCount; i++ {
		offset := int64(nca.HeaderSize) + int64(i)*blockSize
		size := blockSize
		if offset+size > totalSize {
			size = totalSize - offset
		}
		workCh <- work{i, offset, size}
	}

	close(workCh)
	workerWg.Wait()
	close(resultCh)
	collectWg.Wait()

	if workerErr != nil {
		return nil, workerErr
	}
	return results, nil
}

// decryptChunk decrypts the portions of chunk that fall within a CTR or
// BKTR section. XTS sections (headers, which are already plaintext-adjacent
// after the raw header copy) are left alone here since CompressNca only
// ever compresses the post-header region, which for every NCA this tool
// repacks is CTR or BKTR encrypted.
func decryptChunk(chunk []byte, chunkOffset int64, sections []nsz.SectionHeader) {
	chunkStart := uint64(chunkOffset)
	chunkEnd := chunkStart + uint64(len(chunk))

	for _, sec := range sections {
		secEnd := sec.FileOffset + sec.Size
		if chunkStart >= secEnd || chunkEnd <= sec.FileOffset {
			continue
		}

		start := chunkStart
		if sec.FileOffset > start {
			start = sec.FileOffset
		}
		end := chunkEnd
		if secEnd < end {
			end = secEnd
		}

		slice := chunk[start-chunkStart : end-chunkStart]

		if section.CryptoType(sec.CryptoType) == section.CryptoCTR || section.CryptoType(sec.CryptoType) == section.CryptoBKTR {
			stream, err := crypto.NewCTRStream(sec.CryptoKey[:], sec.CryptoCounter[:], int64(start))
			if err == nil {
				stream.XORKeyStream(slice, slice)
			}
		}
	}
}
