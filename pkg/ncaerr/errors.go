// Package ncaerr defines the error taxonomy shared by every decoding and
// repackaging component: NcaHeader, SectionCipher, BktrTranslator, Pfs0Reader,
// RomFsReader, HeaderPatcher and TicketStore all fail through this package so
// that callers can match on kind with errors.Is instead of parsing messages.
package ncaerr

import (
	"errors"
	"fmt"
)

// Kind identifies one of the error categories a component can raise.
type Kind string

const (
	BadMagic                      Kind = "bad_magic"
	BadSize                       Kind = "bad_size"
	UnalignedRange                Kind = "unaligned_range"
	OverlappingSection            Kind = "overlapping_section"
	UnknownGeneration             Kind = "unknown_generation"
	MissingKey                    Kind = "missing_key"
	MissingTicket                 Kind = "missing_ticket"
	PersonalizedTicketUnsupported Kind = "personalized_ticket_unsupported"
	SectionHashMismatch           Kind = "section_hash_mismatch"
	IvfcHashMismatch              Kind = "ivfc_hash_mismatch"
	BktrOutOfRange                Kind = "bktr_out_of_range"
	ShortRead                     Kind = "short_read"
	Cancelled                     Kind = "cancelled"
	PatcherConsistencyFailure     Kind = "patcher_consistency_failure"
)

// Error carries the failing section's identity alongside the kind, so a
// caller can report "content-id <x> section <n>: bad magic" without the
// originating component needing to format that string itself.
type Error struct {
	Kind      Kind
	ContentID string // hex content id, empty when the raising component does not know it
	Section   int    // -1 if not section-scoped
	Msg       string
	Wrapped   error
}

func (e *Error) Error() string {
	switch {
	case e.ContentID != "" && e.Section >= 0:
		return fmt.Sprintf("%s: content %s section %d: %s", e.Kind, e.ContentID, e.Section, e.Msg)
	case e.ContentID != "":
		return fmt.Sprintf("%s: content %s: %s", e.Kind, e.ContentID, e.Msg)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	}
}

func (e *Error) Unwrap() error { return e.Wrapped }

// Is lets errors.Is(err, ncaerr.BadMagic) work by comparing Kind values;
// Kind itself also satisfies the error interface for exactly that purpose.
func (k Kind) Error() string { return string(k) }

func (e *Error) Is(target error) bool {
	if kind, ok := target.(Kind); ok {
		return e.Kind == kind
	}
	return false
}

// New builds a section-scoped error.
func New(kind Kind, contentID string, section int, msg string, wrapped error) error {
	return &Error{Kind: kind, ContentID: contentID, Section: section, Msg: msg, Wrapped: wrapped}
}

// NewGlobal builds an error not tied to any particular section.
func NewGlobal(kind Kind, msg string, wrapped error) error {
	return &Error{Kind: kind, Section: -1, Msg: msg, Wrapped: wrapped}
}

// Wrap re-tags an arbitrary error with a kind, preserving the chain.
func Wrap(kind Kind, msg string, err error) error {
	return NewGlobal(kind, msg, err)
}

// As is a small convenience wrapper around errors.As for *Error.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}
