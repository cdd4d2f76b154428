package identity

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
)

// AuthLiteral is the fixed content signed during the connection handshake.
const AuthLiteral = "auth"

type Signature [SignatureSize]byte

func (s Signature) String() string {
	return hex.EncodeToString(s[:])
}

// Sign signs the canonical encoding of content. Ed25519 is deterministic, so
// the same content and key always produce the same signature.
func Sign(content string, key *KeyPair) (Signature, error) {
	var sig Signature
	if key == nil || key.destroyed {
		return sig, ErrDestroyed
	}
	msg, err := Encode(content)
	if err != nil {
		return sig, fmt.Errorf("failed to sign content: %w", err)
	}
	copy(sig[:], ed25519.Sign(key.priv, msg))
	return sig, nil
}

// Verify reports whether signature is valid for content under publicKey.
// Any malformed input yields false.
func Verify(content string, signature []byte, publicKey PublicKey) bool {
	if len(signature) != SignatureSize {
		return false
	}
	msg, err := Encode(content)
	if err != nil {
		return false
	}
	return ed25519.Verify(publicKey[:], msg, signature)
}

// VerifyHex is Verify over the wire representation of the key and signature.
func VerifyHex(content, signatureHex, publicKeyHex string) bool {
	pk, err := ParsePublicKey(publicKeyHex)
	if err != nil {
		return false
	}
	sig, err := hex.DecodeString(signatureHex)
	if err != nil {
		return false
	}
	return Verify(content, sig, pk)
}
