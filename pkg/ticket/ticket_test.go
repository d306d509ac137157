package ticket

import (
	"bytes"
	"testing"

	"github.com/archivecore/ncarepack/pkg/crypto"
	"github.com/archivecore/ncarepack/pkg/ncaerr"
)

type fakeKeys struct {
	kek []byte
}

func (f fakeKeys) TitleKek(generation int) ([]byte, error) { return f.kek, nil }

func buildTicket(t *testing.T, rightsID [0x10]byte, personalized bool, titlekeyBlock [0x100]byte) []byte {
	t.Helper()
	raw := make([]byte, Size)
	copy(raw[sigIssuerOffset:], "Root-CA00000003-XS00000020\x00extra")
	copy(raw[titlekeyBlockOffset:titlekeyBlockOffset+0x100], titlekeyBlock[:])
	if personalized {
		raw[titlekeyTypeOffset] = titlekeyTypePersonalized
	} else {
		raw[titlekeyTypeOffset] = titlekeyTypeCommon
	}
	raw[masterKeyRevOffset] = 3
	copy(raw[rightsIDOffset:rightsIDOffset+0x10], rightsID[:])
	return raw
}

func TestParseFields(t *testing.T) {
	var rightsID [0x10]byte
	copy(rightsID[:], bytes.Repeat([]byte{0xAB}, 0x10))

	var block [0x100]byte
	copy(block[:], bytes.Repeat([]byte{0xCD}, 0x100))

	raw := buildTicket(t, rightsID, false, block)
	tk, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if tk.RightsID != rightsID {
		t.Fatalf("RightsID = %x, want %x", tk.RightsID, rightsID)
	}
	if tk.MasterKeyRev != 3 {
		t.Fatalf("MasterKeyRev = %d, want 3", tk.MasterKeyRev)
	}
	if tk.Personalized {
		t.Fatalf("expected a common ticket")
	}
	if tk.TitlekeyBlock != block {
		t.Fatalf("TitlekeyBlock mismatch")
	}
}

func TestParseRejectsShortTicket(t *testing.T) {
	if _, err := Parse(make([]byte, Size-1)); err == nil {
		t.Fatalf("expected an error for an undersized ticket")
	}
}

func TestStoreResolvesCommonTitleKey(t *testing.T) {
	kek := bytes.Repeat([]byte{0x01}, 16)
	wantTitleKey := bytes.Repeat([]byte{0x02}, 16)

	wrapped, err := crypto.ECBEncrypt(wantTitleKey, kek)
	if err != nil {
		t.Fatal(err)
	}

	var rightsID [0x10]byte
	copy(rightsID[:], bytes.Repeat([]byte{0x99}, 0x10))

	var block [0x100]byte
	copy(block[:0x10], wrapped)

	store := NewStore(fakeKeys{kek: kek})
	if err := store.Add(buildTicket(t, rightsID, false, block)); err != nil {
		t.Fatalf("Add: %v", err)
	}

	got, err := store.GetTitleKey(rightsID, 0)
	if err != nil {
		t.Fatalf("GetTitleKey: %v", err)
	}
	if !bytes.Equal(got, wantTitleKey) {
		t.Fatalf("GetTitleKey = %x, want %x", got, wantTitleKey)
	}
}

func TestStorePersonalizedTicketUnsupported(t *testing.T) {
	var rightsID [0x10]byte
	var block [0x100]byte

	store := NewStore(fakeKeys{kek: make([]byte, 16)})
	if err := store.Add(buildTicket(t, rightsID, true, block)); err != nil {
		t.Fatalf("Add: %v", err)
	}

	_, err := store.GetTitleKey(rightsID, 0)
	if err == nil {
		t.Fatalf("expected an error for a personalized ticket")
	}
	if e, ok := ncaerr.As(err); !ok || e.Kind != ncaerr.PersonalizedTicketUnsupported {
		t.Fatalf("expected PersonalizedTicketUnsupported, got %v", err)
	}
}

func TestStoreMissingTicket(t *testing.T) {
	store := NewStore(fakeKeys{kek: make([]byte, 16)})
	var rightsID [0x10]byte
	if _, err := store.GetTitleKey(rightsID, 0); err == nil {
		t.Fatalf("expected an error for an unindexed rights id")
	}
}
