package ncaerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorIsMatchesKind(t *testing.T) {
	err := New(BadMagic, "0123456789abcdef", 2, "unexpected magic", nil)
	if !errors.Is(err, BadMagic) {
		t.Fatalf("expected errors.Is to match BadMagic")
	}
	if errors.Is(err, BadSize) {
		t.Fatalf("did not expect errors.Is to match BadSize")
	}
}

func TestErrorMessageFormatting(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "section scoped",
			err:  New(SectionHashMismatch, "deadbeef", 1, "hash mismatch", nil),
			want: "section_hash_mismatch: content deadbeef section 1: hash mismatch",
		},
		{
			name: "content scoped only",
			err:  &Error{Kind: MissingKey, ContentID: "cafe", Section: -1, Msg: "no header key"},
			want: "missing_key: content cafe: no header key",
		},
		{
			name: "global",
			err:  NewGlobal(BadSize, "too short", nil),
			want: "bad_size: too short",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.err.Error(); got != tc.want {
				t.Fatalf("Error() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestWrapPreservesChain(t *testing.T) {
	root := fmt.Errorf("disk failure")
	wrapped := Wrap(ShortRead, "failed to read header", root)

	if !errors.Is(wrapped, ShortRead) {
		t.Fatalf("expected wrapped error to match ShortRead kind")
	}
	if !errors.Is(wrapped, root) {
		t.Fatalf("expected Unwrap chain to reach the root cause")
	}
}

func TestAsExtractsFields(t *testing.T) {
	orig := New(OverlappingSection, "contentid", 3, "sections overlap", nil)
	e, ok := As(orig)
	if !ok {
		t.Fatalf("expected As to succeed on a *Error")
	}
	if e.Kind != OverlappingSection || e.Section != 3 || e.ContentID != "contentid" {
		t.Fatalf("unexpected fields: %+v", e)
	}

	if _, ok := As(fmt.Errorf("plain error")); ok {
		t.Fatalf("expected As to fail on a non-*Error")
	}
}
