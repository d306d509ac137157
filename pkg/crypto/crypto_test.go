package crypto

import (
	"bytes"
	"testing"
)

func TestECBRoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, 16)
	plain := bytes.Repeat([]byte{0xAA}, 32)

	enc, err := ECBEncrypt(plain, key)
	if err != nil {
		t.Fatalf("ECBEncrypt: %v", err)
	}
	dec, err := ECBDecrypt(enc, key)
	if err != nil {
		t.Fatalf("ECBDecrypt: %v", err)
	}
	if !bytes.Equal(dec, plain) {
		t.Fatalf("round trip mismatch: got %x, want %x", dec, plain)
	}
}

func TestECBRejectsUnalignedData(t *testing.T) {
	key := bytes.Repeat([]byte{0x01}, 16)
	if _, err := ECBDecrypt(make([]byte, 15), key); err == nil {
		t.Fatalf("expected an error for non-block-aligned data")
	}
}

func TestXTSRoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{0x55}, 32)
	plain := bytes.Repeat([]byte{0x11}, 0x200)

	for _, sector := range []uint64{0, 1, 7, 0xFFFFFFFF} {
		enc, err := XTSEncrypt(plain, key, sector)
		if err != nil {
			t.Fatalf("XTSEncrypt(sector=%d): %v", sector, err)
		}
		dec, err := XTSDecrypt(enc, key, sector)
		if err != nil {
			t.Fatalf("XTSDecrypt(sector=%d): %v", sector, err)
		}
		if !bytes.Equal(dec, plain) {
			t.Fatalf("sector %d: round trip mismatch", sector)
		}
	}
}

func TestXTSDifferentSectorsProduceDifferentCiphertext(t *testing.T) {
	key := bytes.Repeat([]byte{0x77}, 32)
	plain := bytes.Repeat([]byte{0x00}, 16)

	a, err := XTSEncrypt(plain, key, 0)
	if err != nil {
		t.Fatal(err)
	}
	b, err := XTSEncrypt(plain, key, 1)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(a, b) {
		t.Fatalf("expected different sectors to tweak to different ciphertext")
	}
}

func TestXTSRejectsShortKey(t *testing.T) {
	if _, err := XTSDecrypt(make([]byte, 16), make([]byte, 16), 0); err == nil {
		t.Fatalf("expected an error for a 16-byte (not 32-byte) XTS key")
	}
}

func TestCTRStreamIsPositionDependent(t *testing.T) {
	key := bytes.Repeat([]byte{0x9A}, 16)
	iv := bytes.Repeat([]byte{0x01}, 8)
	plain := bytes.Repeat([]byte{0x00}, 16)

	s1, err := NewCTRStream(key, iv, 0)
	if err != nil {
		t.Fatal(err)
	}
	out1 := make([]byte, 16)
	s1.XORKeyStream(out1, plain)

	s2, err := NewCTRStream(key, iv, 0x10)
	if err != nil {
		t.Fatal(err)
	}
	out2 := make([]byte, 16)
	s2.XORKeyStream(out2, plain)

	if bytes.Equal(out1, out2) {
		t.Fatalf("expected different absolute offsets to produce different keystreams")
	}
}

func TestCTRStreamRoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{0x5C}, 16)
	iv := bytes.Repeat([]byte{0x00}, 8)
	plain := []byte("the quick brown fox jumps over ")

	enc, err := NewCTRStream(key, iv, 0x2000)
	if err != nil {
		t.Fatal(err)
	}
	cipherText := make([]byte, len(plain))
	enc.XORKeyStream(cipherText, plain)

	dec, err := NewCTRStream(key, iv, 0x2000)
	if err != nil {
		t.Fatal(err)
	}
	roundTripped := make([]byte, len(plain))
	dec.XORKeyStream(roundTripped, cipherText)

	if !bytes.Equal(roundTripped, plain) {
		t.Fatalf("CTR round trip mismatch: got %q, want %q", roundTripped, plain)
	}
}
