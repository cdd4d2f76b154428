package identity

import (
	"crypto/hkdf"
	"crypto/sha256"
	"errors"
	"fmt"
)

const deriveInfo = "mensageria-assinada identity v1"

// Derive deterministically derives a KeyPair from a master secret using HKDF-SHA256.
// The same secret and salt always yield the same identity; salt may be nil.
func Derive(secret []byte, salt []byte) (*KeyPair, error) {
	if len(secret) == 0 {
		return nil, errors.New("derive identity: empty secret")
	}

	// HKDF-Extract
	prk, err := hkdf.Extract(sha256.New, secret, salt)
	if err != nil {
		return nil, fmt.Errorf("derive identity: %w", err)
	}
	defer wipe(prk)

	seed, err := hkdf.Expand(sha256.New, prk, deriveInfo, SeedSize)
	if err != nil {
		return nil, fmt.Errorf("derive identity: %w", err)
	}
	defer wipe(seed)

	return FromSeed(seed)
}
