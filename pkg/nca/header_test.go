package nca

import (
	"bytes"
	"crypto/rsa"
	"testing"

	"github.com/archivecore/ncarepack/pkg/crypto"
	"github.com/archivecore/ncarepack/pkg/section"
)

type memReaderAt []byte

func (m memReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(m)) {
		return 0, nil
	}
	n := copy(p, m[off:])
	return n, nil
}

type fakeKeyProvider struct {
	headerKey []byte
	kaek      []byte
}

func (f fakeKeyProvider) HeaderKey() ([]byte, error)             { return f.headerKey, nil }
func (f fakeKeyProvider) KAEK(index, generation int) ([]byte, error) { return f.kaek, nil }
func (f fakeKeyProvider) TitleKek(generation int) ([]byte, error)    { return nil, nil }
func (f fakeKeyProvider) TicketCommonKey(generation int) ([]byte, error) {
	return nil, nil
}
func (f fakeKeyProvider) AcidSigningKey(generation int) (*rsa.PrivateKey, error) { return nil, nil }

func buildTestHeader(t *testing.T, keys fakeKeyProvider, titleKey []byte) *Header {
	t.Helper()

	var h Header
	copy(h.Magic[:], MagicNCA3)
	h.ContentType = 1
	h.CryptoType = 0
	h.TitleID = 0x0100000000001000
	h.SdkVersion = 0x000E0000
	h.KeyAreaIndex = 0

	h.SectionEntries[0] = SectionEntry{
		MediaStartOffset: uint32(HeaderSize / MediaUnit),
		MediaEndOffset:   uint32(HeaderSize/MediaUnit) + 4,
	}
	h.ContentSize = uint64(HeaderSize) + 4*MediaUnit

	h.FsHeaders[0] = FsHeader{
		FsKind:     FsKindRomFS,
		CryptoKind: section.CryptoCTR,
		Romfs:      &IvfcSuperblock{},
	}

	wrapped, err := crypto.ECBEncrypt(titleKey, keys.kaek)
	if err != nil {
		t.Fatal(err)
	}
	copy(h.KeyArea[2][:], wrapped)

	return &h
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	keys := fakeKeyProvider{
		headerKey: bytes.Repeat([]byte{0x10}, 32),
		kaek:      bytes.Repeat([]byte{0x20}, 16),
	}
	titleKey := bytes.Repeat([]byte{0x33}, 16)
	h := buildTestHeader(t, keys, titleKey)

	raw, err := Encrypt(h, keys)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if len(raw) != HeaderSize {
		t.Fatalf("Encrypt produced %d bytes, want %d", len(raw), HeaderSize)
	}

	got, err := Decrypt(memReaderAt(raw), keys, nil)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}

	if string(got.Magic[:]) != MagicNCA3 {
		t.Fatalf("Magic = %q, want %q", got.Magic[:], MagicNCA3)
	}
	if got.TitleID != h.TitleID {
		t.Fatalf("TitleID = %x, want %x", got.TitleID, h.TitleID)
	}
	if got.SectionEntries[0] != h.SectionEntries[0] {
		t.Fatalf("SectionEntries[0] = %+v, want %+v", got.SectionEntries[0], h.SectionEntries[0])
	}
	if !bytes.Equal(got.SectionKeys[0], titleKey) {
		t.Fatalf("SectionKeys[0] = %x, want %x", got.SectionKeys[0], titleKey)
	}
	if got.FsHeaders[0].FsKind != FsKindRomFS || got.FsHeaders[0].CryptoKind != section.CryptoCTR {
		t.Fatalf("unexpected FS header round trip: %+v", got.FsHeaders[0])
	}
}

func TestDecryptRejectsBadMagic(t *testing.T) {
	keys := fakeKeyProvider{
		headerKey: bytes.Repeat([]byte{0x10}, 32),
		kaek:      bytes.Repeat([]byte{0x20}, 16),
	}
	h := buildTestHeader(t, keys, bytes.Repeat([]byte{0x33}, 16))
	copy(h.Magic[:], "XXXX")

	raw, err := Encrypt(h, keys)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Decrypt(memReaderAt(raw), keys, nil); err == nil {
		t.Fatalf("expected a bad-magic error")
	}
}

func TestDeriveSectionKeysSplitsSlotByPartitionKind(t *testing.T) {
	keys := fakeKeyProvider{
		headerKey: bytes.Repeat([]byte{0x10}, 32),
		kaek:      bytes.Repeat([]byte{0x20}, 16),
	}
	slot0Key := bytes.Repeat([]byte{0x44}, 16)
	slot2Key := bytes.Repeat([]byte{0x55}, 16)

	var h Header
	copy(h.Magic[:], MagicNCA3)
	h.KeyAreaIndex = 0
	h.SectionEntries[0] = SectionEntry{MediaStartOffset: uint32(HeaderSize / MediaUnit), MediaEndOffset: uint32(HeaderSize/MediaUnit) + 4}
	h.SectionEntries[1] = SectionEntry{MediaStartOffset: uint32(HeaderSize/MediaUnit) + 4, MediaEndOffset: uint32(HeaderSize/MediaUnit) + 8}
	h.FsHeaders[0] = FsHeader{PartitionKind: PartitionRomFS, CryptoKind: section.CryptoBKTR}
	h.FsHeaders[1] = FsHeader{PartitionKind: PartitionPFS0, CryptoKind: section.CryptoCTR}

	wrapped0, err := crypto.ECBEncrypt(slot0Key, keys.kaek)
	if err != nil {
		t.Fatal(err)
	}
	wrapped2, err := crypto.ECBEncrypt(slot2Key, keys.kaek)
	if err != nil {
		t.Fatal(err)
	}
	copy(h.KeyArea[0][:], wrapped0)
	copy(h.KeyArea[2][:], wrapped2)

	if err := deriveSectionKeys(&h, keys, nil); err != nil {
		t.Fatalf("deriveSectionKeys: %v", err)
	}

	if !bytes.Equal(h.SectionKeys[0], slot2Key) {
		t.Fatalf("RomFS/BKTR section key = %x, want slot 2 key %x", h.SectionKeys[0], slot2Key)
	}
	if !bytes.Equal(h.SectionKeys[1], slot0Key) {
		t.Fatalf("PFS0 CTR section key = %x, want slot 0 key %x", h.SectionKeys[1], slot0Key)
	}
	if !bytes.Equal(h.TitleKey, slot2Key) {
		t.Fatalf("TitleKey = %x, want slot 2 key %x", h.TitleKey, slot2Key)
	}
}

func TestDeriveSectionKeyOutOfRange(t *testing.T) {
	var h Header
	if _, err := DeriveSectionKey(&h, -1); err == nil {
		t.Fatalf("expected an error for a negative section index")
	}
	if _, err := DeriveSectionKey(&h, FsHeaderCount); err == nil {
		t.Fatalf("expected an error for an out-of-range section index")
	}
	if _, err := DeriveSectionKey(&h, 0); err == nil {
		t.Fatalf("expected an error for an unresolved section key")
	}
}

func TestValidateSectionEntriesRejectsOverlap(t *testing.T) {
	entries := [FsHeaderCount]SectionEntry{
		{MediaStartOffset: uint32(HeaderSize / MediaUnit), MediaEndOffset: uint32(HeaderSize/MediaUnit) + 8},
		{MediaStartOffset: uint32(HeaderSize/MediaUnit) + 4, MediaEndOffset: uint32(HeaderSize/MediaUnit) + 12},
	}
	contentSize := uint64(HeaderSize) + 12*MediaUnit
	if err := validateSectionEntries(entries, contentSize); err == nil {
		t.Fatalf("expected an error for overlapping section ranges")
	}
}
