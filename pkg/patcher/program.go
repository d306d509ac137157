package patcher

import (
	"crypto/rsa"
	"crypto/sha256"
	"encoding/binary"

	"github.com/archivecore/ncarepack/pkg/keys"
	"github.com/archivecore/ncarepack/pkg/nca"
	"github.com/archivecore/ncarepack/pkg/ncaerr"
)

const (
	npdmAcidOffsetField = 0x68 // npdm_t.acid_offset
	npdmAcidSizeField   = 0x6C // npdm_t.acid_size

	// Within the ACID block: a 0x100-byte RSA signature, then a 0x100-byte
	// signed header, then the 0x100-byte RSA-2048 public modulus used to
	// verify the NPDM's own npdm_key_sig.
	acidPubKeyOffset = 0x200
	acidPubKeySize   = 0x100
)

// SubstituteAcidPublicKey patches the NPDM's ACID public key (the key the
// loader uses to verify the NPDM's RSA signature) so an offline-resigned
// NCA, whose header is now re-signed with a known private key, still
// passes loader verification. npdmPlain is the decrypted ExeFS
// "main.npdm" file contents; replacement is the public half of the
// signing key used to re-sign the header.
func SubstituteAcidPublicKey(npdmPlain []byte, replacement *rsa.PublicKey) error {
	if len(npdmPlain) < npdmAcidSizeField+4 {
		return ncaerr.NewGlobal(ncaerr.BadSize, "NPDM data too short to contain ACID fields", nil)
	}
	acidOffset := binary.LittleEndian.Uint32(npdmPlain[npdmAcidOffsetField : npdmAcidOffsetField+4])

	pubKeyOff := int64(acidOffset) + acidPubKeyOffset
	if pubKeyOff+acidPubKeySize > int64(len(npdmPlain)) {
		return ncaerr.NewGlobal(ncaerr.BadSize, "ACID public key falls outside the NPDM data", nil)
	}

	modulus := replacement.N.Bytes()
	if len(modulus) > acidPubKeySize {
		return ncaerr.NewGlobal(ncaerr.PatcherConsistencyFailure, "replacement RSA modulus larger than the ACID key slot", nil)
	}

	// RSA moduli are big-endian and may be shorter than 0x100 bytes if the
	// leading byte happened to be zero; left-pad to the fixed slot size.
	padded := make([]byte, acidPubKeySize)
	copy(padded[acidPubKeySize-len(modulus):], modulus)
	copy(npdmPlain[pubKeyOff:pubKeyOff+acidPubKeySize], padded)
	return nil
}

// RepatchProgram performs the full Program NCA patch flow: re-wrap the
// decrypted title key under a reference KAEK so it survives into the key
// area, and substitute the ACID public key inside the ExeFS's main.npdm
// with signingKey's public half. Nothing is signed here: signingKey
// contributes only its public modulus, and no NPDM or NCA header signature
// is regenerated. npdmPlain is mutated in place; the rewritten key-area
// slot 2 bytes are returned for the caller to splice into the header before
// re-encrypting it with nca.Encrypt. A nil signingKey fails with
// PatcherConsistencyFailure.
func RepatchProgram(decryptedTitleKey []byte, referenceKAEK nca.KeyProvider, generation int, keyAreaIndex int, npdmPlain []byte, signingKey *rsa.PrivateKey) (keySlot [0x10]byte, err error) {
	if signingKey == nil {
		return keySlot, ncaerr.NewGlobal(ncaerr.PatcherConsistencyFailure, "no ACID signing key for this generation", nil)
	}
	kaek, err := referenceKAEK.KAEK(keyAreaIndex, generation)
	if err != nil {
		return keySlot, err
	}
	keySlot, err = RewriteKeyArea(decryptedTitleKey, kaek)
	if err != nil {
		return keySlot, err
	}

	if err := SubstituteAcidPublicKey(npdmPlain, keys.RSAPublic(signingKey)); err != nil {
		return keySlot, err
	}
	return keySlot, nil
}

// FinalizeHeader updates the FS header's stored section hash ahead of time.
// nca.Encrypt already re-derives every SectionHashes entry
// from the current FsHeaders on every call, so this is only needed by
// callers that want the hash reflected in h.SectionHashes before Encrypt
// runs (e.g. logging or signature-verification tooling inspecting the
// header in between).
func FinalizeHeader(h *nca.Header, fsHeaderIndex int, newFsHeaderPlain []byte) error {
	if fsHeaderIndex < 0 || fsHeaderIndex >= nca.FsHeaderCount {
		return ncaerr.NewGlobal(ncaerr.PatcherConsistencyFailure, "FS header index out of range", nil)
	}
	h.SectionHashes[fsHeaderIndex] = sha256.Sum256(newFsHeaderPlain)
	return nil
}
