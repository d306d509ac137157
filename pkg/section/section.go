// Package section implements SectionCipher: a seekable, random-access
// decrypting/encrypting view over one NCA section. It's a stateful type
// built on top of the one-shot pkg/crypto helpers that can answer arbitrary
// unaligned reads (and unaligned CTR writes), splitting them into the
// sector/block-aligned operations the underlying cipher actually needs.
package section

import (
	"fmt"
	"io"

	"github.com/archivecore/ncarepack/pkg/crypto"
	"github.com/archivecore/ncarepack/pkg/ncaerr"
)

// CryptoType mirrors the FS header's crypto_kind field.
type CryptoType uint8

const (
	CryptoNone CryptoType = 1
	CryptoXTS  CryptoType = 2
	CryptoCTR  CryptoType = 3
	CryptoBKTR CryptoType = 4
)

const (
	xtsSectorSize = 0x200
	ctrBlockSize  = 0x10
)

// Cipher is a SectionCipher: it reads/writes logically-decrypted bytes at
// section-relative offsets, reading the matching ciphertext window from the
// underlying content via r at base+offset.
type Cipher struct {
	Kind CryptoType
	Key  []byte // 32 bytes for XTS, 16 bytes for CTR; unused for None
	IV   []byte // 8-byte section counter (CTR/BKTR only), high bytes of the 16-byte nonce

	r    io.ReaderAt
	base int64 // absolute offset of this section within the content
	size int64 // section size in bytes
}

// New builds a SectionCipher over r, a backing StorageReader-shaped
// io.ReaderAt, for the section starting at base and spanning size bytes.
func New(kind CryptoType, key, iv []byte, r io.ReaderAt, base, size int64) *Cipher {
	return &Cipher{Kind: kind, Key: key, IV: iv, r: r, base: base, size: size}
}

func (c *Cipher) Size() int64 { return c.size }

// ReadAt implements io.ReaderAt over the decrypted section: reading
// [off, off+len(p)) must match the bytes a ground-truth decryptor would
// produce for the same range regardless of alignment.
func (c *Cipher) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= c.size {
		return 0, io.EOF
	}
	n := int64(len(p))
	if off+n > c.size {
		n = c.size - off
	}

	switch c.Kind {
	case CryptoNone:
		return c.readPassthrough(p[:n], off)
	case CryptoXTS:
		return c.readXTS(p[:n], off)
	case CryptoCTR:
		return c.readCTR(p[:n], off)
	default:
		return 0, ncaerr.NewGlobal(ncaerr.BadSize, fmt.Sprintf("unsupported crypto type %d for direct SectionCipher read", c.Kind), nil)
	}
}

func (c *Cipher) readPassthrough(p []byte, off int64) (int, error) {
	n, err := c.r.ReadAt(p, c.base+off)
	if err != nil && err != io.EOF {
		return n, ncaerr.NewGlobal(ncaerr.ShortRead, "passthrough section read failed", err)
	}
	return n, nil
}

func (c *Cipher) readXTS(p []byte, off int64) (int, error) {
	firstSector := off / xtsSectorSize
	within := off % xtsSectorSize
	lastByte := off + int64(len(p)) - 1
	lastSector := lastByte / xtsSectorSize
	sectorCount := lastSector - firstSector + 1

	raw := make([]byte, sectorCount*xtsSectorSize)
	rn, err := c.r.ReadAt(raw, c.base+firstSector*xtsSectorSize)
	if err != nil && err != io.EOF {
		return 0, ncaerr.NewGlobal(ncaerr.ShortRead, "xts section read failed", err)
	}
	raw = raw[:rn]

	dec := make([]byte, 0, len(raw))
	for i := int64(0); i*xtsSectorSize < int64(len(raw)); i++ {
		start := i * xtsSectorSize
		end := start + xtsSectorSize
		if end > int64(len(raw)) {
			end = int64(len(raw))
		}
		chunk := raw[start:end]
		if len(chunk) < xtsSectorSize {
			// Short final sector: nothing backs it, treat as EOF.
			break
		}
		out, err := crypto.XTSDecrypt(chunk, c.Key, uint64(firstSector+i))
		if err != nil {
			return 0, ncaerr.NewGlobal(ncaerr.BadSize, "xts decrypt failed", err)
		}
		dec = append(dec, out...)
	}

	if within >= int64(len(dec)) {
		return 0, io.EOF
	}
	end := within + int64(len(p))
	if end > int64(len(dec)) {
		end = int64(len(dec))
	}
	n := copy(p, dec[within:end])
	return n, nil
}

func (c *Cipher) readCTR(p []byte, off int64) (int, error) {
	blockStart := (off / ctrBlockSize) * ctrBlockSize
	within := off - blockStart
	lastByte := off + int64(len(p)) - 1
	blockEndExclusive := ((lastByte / ctrBlockSize) + 1) * ctrBlockSize
	windowLen := blockEndExclusive - blockStart

	raw := make([]byte, windowLen)
	rn, err := c.r.ReadAt(raw, c.base+blockStart)
	if err != nil && err != io.EOF {
		return 0, ncaerr.NewGlobal(ncaerr.ShortRead, "ctr section read failed", err)
	}
	raw = raw[:rn]

	stream, err := crypto.NewCTRStream(c.Key, c.IV, c.base+blockStart)
	if err != nil {
		return 0, ncaerr.NewGlobal(ncaerr.MissingKey, "ctr stream setup failed", err)
	}
	stream.XORKeyStream(raw, raw)

	if within >= int64(len(raw)) {
		return 0, io.EOF
	}
	end := within + int64(len(p))
	if end > int64(len(raw)) {
		end = int64(len(raw))
	}
	n := copy(p, raw[within:end])
	return n, nil
}

// ReadAtWithCounter decrypts len(p) bytes of a CTR section starting at a
// section-relative offset using counter instead of the Cipher's own IV, for
// BKTR sections whose subsection table swaps in a different nonce
// high-bits partway through.
func (c *Cipher) ReadAtWithCounter(p []byte, off int64, counter []byte) (int, error) {
	if c.Kind != CryptoCTR {
		return 0, ncaerr.NewGlobal(ncaerr.BadSize, "ReadAtWithCounter requires a CTR section", nil)
	}
	if off < 0 || off >= c.size {
		return 0, io.EOF
	}
	n := int64(len(p))
	if off+n > c.size {
		n = c.size - off
	}

	saved := c.IV
	c.IV = counter
	out, err := c.readCTR(p[:n], off)
	c.IV = saved
	return out, err
}

// Encrypt re-encrypts plaintext at a section-relative offset and returns
// the ciphertext bytes, the write-side counterpart callers use to repack a
// patched section. CTR ranges that are not block-aligned are expanded to
// whole blocks, encrypted, and sliced back down, mirroring the read path;
// XTS writes must be sector-aligned in both offset and length and fail with
// UnalignedRange otherwise.
func (c *Cipher) Encrypt(off int64, plaintext []byte) ([]byte, error) {
	switch c.Kind {
	case CryptoNone:
		out := make([]byte, len(plaintext))
		copy(out, plaintext)
		return out, nil
	case CryptoXTS:
		return c.encryptXTS(off, plaintext)
	case CryptoCTR:
		return c.encryptCTR(off, plaintext)
	default:
		return nil, ncaerr.NewGlobal(ncaerr.BadSize, fmt.Sprintf("unsupported crypto type %d for SectionCipher write", c.Kind), nil)
	}
}

func (c *Cipher) encryptXTS(off int64, plaintext []byte) ([]byte, error) {
	if off%xtsSectorSize != 0 || len(plaintext)%xtsSectorSize != 0 {
		return nil, ncaerr.NewGlobal(ncaerr.UnalignedRange, "xts write requires sector-aligned offset and length", nil)
	}
	firstSector := off / xtsSectorSize
	out := make([]byte, 0, len(plaintext))
	for i := 0; i*xtsSectorSize < len(plaintext); i++ {
		start := i * xtsSectorSize
		chunk := plaintext[start : start+xtsSectorSize]
		enc, err := crypto.XTSEncrypt(chunk, c.Key, uint64(firstSector)+uint64(i))
		if err != nil {
			return nil, err
		}
		out = append(out, enc...)
	}
	return out, nil
}

func (c *Cipher) encryptCTR(off int64, plaintext []byte) ([]byte, error) {
	blockStart := (off / ctrBlockSize) * ctrBlockSize
	within := off - blockStart
	lastByte := off + int64(len(plaintext)) - 1
	blockEndExclusive := ((lastByte / ctrBlockSize) + 1) * ctrBlockSize
	windowLen := blockEndExclusive - blockStart

	window := make([]byte, windowLen)
	copy(window[within:within+int64(len(plaintext))], plaintext)

	stream, err := crypto.NewCTRStream(c.Key, c.IV, c.base+blockStart)
	if err != nil {
		return nil, ncaerr.NewGlobal(ncaerr.MissingKey, "ctr stream setup failed", err)
	}
	stream.XORKeyStream(window, window)
	return window[within : within+int64(len(plaintext))], nil
}
