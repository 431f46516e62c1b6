// Package keys is the stateless cryptographic gatekeeper: Base58 decoding,
// Ed25519 public-key derivation from a 32-byte seed, signing and verification.
package keys

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/mr-tron/base58"

	dErrors "didledger/pkg/domain-errors"
)

const (
	// SeedSize is the only accepted signing key length. 64-byte expanded keys are rejected.
	SeedSize = ed25519.SeedSize
	// PublicKeySize is the Ed25519 public key length.
	PublicKeySize = ed25519.PublicKeySize
	// SignatureSize is the Ed25519 signature length.
	SignatureSize = ed25519.SignatureSize
)

const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

var errEmpty = errors.New("empty value")

// ValidateBase58 checks the alphabet without decoding. It runs before any
// cryptographic work so malformed input fails fast.
func ValidateBase58(s string) error {
	if s == "" {
		return errEmpty
	}
	if i := strings.IndexFunc(s, func(r rune) bool {
		return !strings.ContainsRune(base58Alphabet, r)
	}); i >= 0 {
		return fmt.Errorf("invalid base58 character %q at position %d", s[i], i)
	}
	return nil
}

// DecodeBase58 validates the alphabet and decodes.
func DecodeBase58(s string) ([]byte, error) {
	if err := ValidateBase58(s); err != nil {
		return nil, err
	}
	return base58.Decode(s)
}

// EncodeBase58 encodes raw bytes.
func EncodeBase58(b []byte) string {
	return base58.Encode(b)
}

// ParseSigningKey validates and decodes a Base58 seed into an Ed25519 private key.
func ParseSigningKey(signingKeyBase58 string) (ed25519.PrivateKey, error) {
	seed, err := DecodeBase58(signingKeyBase58)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidKey, "signing key is not valid base58")
	}
	if len(seed) != SeedSize {
		return nil, dErrors.New(dErrors.CodeInvalidKey,
			fmt.Sprintf("signing key must decode to %d bytes, got %d", SeedSize, len(seed)))
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

// DerivePublicKey returns the Ed25519 public key for a Base58 seed.
func DerivePublicKey(signingKeyBase58 string) ([]byte, error) {
	priv, err := ParseSigningKey(signingKeyBase58)
	if err != nil {
		return nil, err
	}
	return []byte(priv.Public().(ed25519.PublicKey)), nil
}

// DecodePublicKey decodes a Base58 public key and checks its length.
func DecodePublicKey(publicKeyBase58 string) (ed25519.PublicKey, error) {
	raw, err := DecodeBase58(publicKeyBase58)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidKey, "public key is not valid base58")
	}
	if len(raw) != PublicKeySize {
		return nil, dErrors.New(dErrors.CodeInvalidKey,
			fmt.Sprintf("public key must decode to %d bytes, got %d", PublicKeySize, len(raw)))
	}
	return ed25519.PublicKey(raw), nil
}

// Sign signs message with the Base58 seed.
func Sign(message []byte, signingKeyBase58 string) ([]byte, error) {
	priv, err := ParseSigningKey(signingKeyBase58)
	if err != nil {
		return nil, err
	}
	return ed25519.Sign(priv, message), nil
}

// Verify is standard Ed25519 verification. Malformed keys or signatures
// yield false rather than a panic.
func Verify(message, signature, publicKey []byte) bool {
	if len(publicKey) != PublicKeySize || len(signature) != SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(publicKey), message, signature)
}

// GenerateSeed draws a fresh 32-byte seed from r and returns it Base58 encoded.
// Only the CLI and tests call this; the service never generates keys.
func GenerateSeed(r io.Reader) (string, error) {
	seed := make([]byte, SeedSize)
	if _, err := io.ReadFull(r, seed); err != nil {
		return "", fmt.Errorf("read seed: %w", err)
	}
	return EncodeBase58(seed), nil
}
