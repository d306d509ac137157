// Package ticket parses eTicket records and resolves title keys for
// titlekey-crypto NCAs (content whose rights id is non-zero).
package ticket

import (
	"github.com/archivecore/ncarepack/pkg/crypto"
	"github.com/archivecore/ncarepack/pkg/ncaerr"
)

const (
	Size = 0x400

	sigIssuerOffset     = 0x140
	titlekeyBlockOffset = 0x180
	titlekeyTypeOffset  = 0x281
	masterKeyRevOffset  = 0x285
	rightsIDOffset      = 0x2A0

	titlekeyTypeCommon       = 0
	titlekeyTypePersonalized = 1
)

// Ticket is one parsed eTicket record.
type Ticket struct {
	SigIssuer     string
	RightsID      [0x10]byte
	MasterKeyRev  byte
	Personalized  bool
	TitlekeyBlock [0x100]byte
}

// Parse decodes a raw 0x400-byte ticket.
func Parse(raw []byte) (*Ticket, error) {
	if len(raw) < Size {
		return nil, ncaerr.NewGlobal(ncaerr.BadSize, "ticket shorter than 0x400 bytes", nil)
	}

	t := &Ticket{
		SigIssuer:    trimNulls(raw[sigIssuerOffset : sigIssuerOffset+0x40]),
		MasterKeyRev: raw[masterKeyRevOffset],
		Personalized: raw[titlekeyTypeOffset] == titlekeyTypePersonalized,
	}
	copy(t.RightsID[:], raw[rightsIDOffset:rightsIDOffset+0x10])
	copy(t.TitlekeyBlock[:], raw[titlekeyBlockOffset:titlekeyBlockOffset+0x100])
	return t, nil
}

func trimNulls(b []byte) string {
	end := len(b)
	for end > 0 && b[end-1] == 0 {
		end--
	}
	return string(b[:end])
}

// TitleKeyProvider supplies titlekek[generation] for ticket title-key
// unwrap, satisfied by keys.Provider.
type TitleKeyProvider interface {
	TitleKek(generation int) ([]byte, error)
}

// titleKey decrypts this ticket's title key with titlekek[generation]. Only
// common-type tickets are supported: personalized tickets are RSA-OAEP
// encrypted against a device-unique key this tool never holds.
func (t *Ticket) titleKey(keys TitleKeyProvider, generation int) ([]byte, error) {
	if t.Personalized {
		return nil, ncaerr.NewGlobal(ncaerr.PersonalizedTicketUnsupported, "personalized ticket requires a device-specific key", nil)
	}

	kek, err := keys.TitleKek(generation)
	if err != nil {
		return nil, err
	}

	// Common tickets carry the title key in the first 0x10 bytes of the
	// titlekey block, encrypted under titlekek; one AES-ECB decrypt
	// recovers it.
	dec, err := crypto.ECBDecrypt(t.TitlekeyBlock[:0x10], kek)
	if err != nil {
		return nil, ncaerr.NewGlobal(ncaerr.MissingKey, "failed to unwrap ticket title key", err)
	}
	return dec, nil
}

// Store indexes parsed tickets by rights id, satisfying nca.TicketLookup.
type Store struct {
	keys    TitleKeyProvider
	tickets map[[0x10]byte]*Ticket
}

// NewStore builds an empty store against the given key source.
func NewStore(keys TitleKeyProvider) *Store {
	return &Store{keys: keys, tickets: make(map[[0x10]byte]*Ticket)}
}

// Add parses and indexes a raw ticket.
func (s *Store) Add(raw []byte) error {
	t, err := Parse(raw)
	if err != nil {
		return err
	}
	s.tickets[t.RightsID] = t
	return nil
}

// GetTitleKey implements nca.TicketLookup.
func (s *Store) GetTitleKey(rightsID [0x10]byte, generation int) ([]byte, error) {
	t, ok := s.tickets[rightsID]
	if !ok {
		return nil, ncaerr.NewGlobal(ncaerr.MissingTicket, "no ticket indexed for this rights id", nil)
	}
	return t.titleKey(s.keys, generation)
}
