package keys

import (
	"crypto/rsa"
	"crypto/x509"
	"fmt"

	"github.com/archivecore/ncarepack/pkg/crypto"
)

// Derive walks every master_key_NN the loaded key file provides and derives
// the per-generation titlekek and key-area-key sets.
func (p *Provider) Derive() {
	aesKekGen := p.raw["aes_kek_generation_source"]
	aesKeyGen := p.raw["aes_key_generation_source"]
	titleKekSource := p.raw["titlekek_source"]

	keyAreaSources := [3][]byte{
		p.raw["key_area_key_application_source"],
		p.raw["key_area_key_ocean_source"],
		p.raw["key_area_key_system_source"],
	}

	if aesKekGen == nil || aesKeyGen == nil {
		return
	}

	for i := 0; i < MaxGeneration; i++ {
		masterKey := p.raw[fmt.Sprintf("master_key_%02x", i)]
		if masterKey == nil {
			continue
		}

		if titleKekSource != nil {
			if tk, err := crypto.ECBDecrypt(titleKekSource, masterKey); err == nil {
				p.titleKeks[i] = tk
			}
		}

		for typeIdx := 0; typeIdx < 3; typeIdx++ {
			if keyAreaSources[typeIdx] == nil {
				continue
			}
			if kak, err := generateKek(keyAreaSources[typeIdx], masterKey, aesKekGen, aesKeyGen); err == nil {
				p.keyAreaKeys[i][typeIdx] = kak
			}
		}

		if pemBytes := p.raw[fmt.Sprintf("acid_signing_key_%02x", i)]; pemBytes != nil {
			if key, err := x509.ParsePKCS1PrivateKey(pemBytes); err == nil {
				p.acidKeys[i] = key
			}
		}
	}
}

// generateKek performs a three-stage ECB unwrap: decrypt the kek seed with
// the master key, then decrypt the purpose-specific source with that kek,
// then (if a key seed is given) decrypt once more.
func generateKek(src, masterKey, kekSeed, keySeed []byte) ([]byte, error) {
	kek, err := crypto.ECBDecrypt(kekSeed, masterKey)
	if err != nil {
		return nil, err
	}

	srcKek, err := crypto.ECBDecrypt(src, kek)
	if err != nil {
		return nil, err
	}

	if keySeed != nil {
		return crypto.ECBDecrypt(keySeed, srcKek)
	}
	return srcKek, nil
}

// RSAPublic exposes the ACID signing key's public half, used by HeaderPatcher
// to write the substituted public key into a repatched NPDM.
func RSAPublic(key *rsa.PrivateKey) *rsa.PublicKey {
	if key == nil {
		return nil
	}
	return &key.PublicKey
}
