package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"runtime"

	"github.com/go-jose/go-jose/v4"
	"golang.org/x/crypto/sha3"
)

const (
	SeedSize      = ed25519.SeedSize
	PublicKeySize = ed25519.PublicKeySize
	SignatureSize = ed25519.SignatureSize
)

var ErrDestroyed = errors.New("key pair has been destroyed")

// PublicKey is the canonical user identity. It is comparable and therefore
// usable as a map key.
type PublicKey [PublicKeySize]byte

func ParsePublicKey(s string) (PublicKey, error) {
	var pk PublicKey
	raw, err := hex.DecodeString(s)
	if err != nil {
		return pk, fmt.Errorf("decode public key: %w", err)
	}
	if len(raw) != PublicKeySize {
		return pk, fmt.Errorf("public key must be %d bytes, got %d", PublicKeySize, len(raw))
	}
	copy(pk[:], raw)
	return pk, nil
}

func (pk PublicKey) String() string {
	return hex.EncodeToString(pk[:])
}

// Fingerprint is a short SHA3-256 digest of the key, meant for logs.
func (pk PublicKey) Fingerprint() string {
	sum := sha3.Sum256(pk[:])
	return hex.EncodeToString(sum[:8])
}

func (pk PublicKey) LogValue() slog.Value {
	return slog.StringValue(pk.Fingerprint())
}

// JWK renders the key as an OKP/Ed25519 JSON Web Key whose key ID is the hex identity.
func (pk PublicKey) JWK() jose.JSONWebKey {
	return jose.JSONWebKey{
		Key:       ed25519.PublicKey(append([]byte(nil), pk[:]...)),
		KeyID:     pk.String(),
		Algorithm: string(jose.EdDSA),
		Use:       "sig",
	}
}

func PublicKeyFromJWK(jwk jose.JSONWebKey) (PublicKey, error) {
	var pk PublicKey
	if !jwk.IsPublic() {
		return pk, fmt.Errorf("jwk is not a public key")
	}
	switch k := jwk.Key.(type) {
	case ed25519.PublicKey:
		if len(k) != PublicKeySize {
			return pk, fmt.Errorf("invalid ed25519 key length: %d", len(k))
		}
		copy(pk[:], k)
		return pk, nil
	default:
		return pk, fmt.Errorf("unsupported key type: %T", jwk.Key)
	}
}

// KeyPair holds a private seed and its derived public key. The private part is
// never serialized; Destroy zeroes it.
type KeyPair struct {
	priv      ed25519.PrivateKey
	public    PublicKey
	destroyed bool
}

// Generate draws a fresh random identity.
func Generate() (*KeyPair, error) {
	seed := make([]byte, SeedSize)
	defer wipe(seed)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("failed to generate seed: %w", err)
	}
	return FromSeed(seed)
}

// FromSeed builds the key pair for a 32-byte private seed. The caller keeps
// ownership of seed and may wipe it afterwards.
func FromSeed(seed []byte) (*KeyPair, error) {
	if len(seed) != SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes, got %d", SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	kp := &KeyPair{priv: priv}
	copy(kp.public[:], priv.Public().(ed25519.PublicKey))
	return kp, nil
}

func (k *KeyPair) PublicKey() PublicKey {
	return k.public
}

func (k *KeyPair) Destroy() {
	if k.destroyed {
		return
	}
	wipe(k.priv)
	k.priv = nil
	k.destroyed = true
}

func (k *KeyPair) String() string {
	return "KeyPair{" + k.public.Fingerprint() + ", REDACTED}"
}

func (k *KeyPair) LogValue() slog.Value {
	return slog.StringValue(k.String())
}

//go:noinline
func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(&b)
}
