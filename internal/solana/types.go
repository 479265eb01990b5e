package solana

import (
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// Sizes of the fixed-width wire values.
const (
	PublicKeySize = 32
	HashSize      = 32
	SignatureSize = 64
)

// ErrOffCurve is returned for keys that cannot belong to a wallet.
var ErrOffCurve = errors.New("public key is not on the ed25519 curve")

// PublicKey is a 32-byte account address.
type PublicKey [PublicKeySize]byte

// SystemProgramID is the address of the System Program (all zero bytes).
var SystemProgramID = PublicKey{}

// ParsePublicKey decodes a base58 account address.
func ParsePublicKey(s string) (PublicKey, error) {
	var pk PublicKey
	decoded, err := base58.Decode(s)
	if err != nil {
		return pk, fmt.Errorf("decode public key %q: %w", s, err)
	}
	if len(decoded) != PublicKeySize {
		return pk, fmt.Errorf("public key %q: expected %d bytes, got %d", s, PublicKeySize, len(decoded))
	}
	copy(pk[:], decoded)
	return pk, nil
}

// MustPublicKey is ParsePublicKey for constants; it panics on error.
func MustPublicKey(s string) PublicKey {
	pk, err := ParsePublicKey(s)
	if err != nil {
		panic(err)
	}
	return pk
}

// String returns the base58 form.
func (pk PublicKey) String() string {
	return base58.Encode(pk[:])
}

// IsOnCurve reports whether the key is a valid ed25519 point. Program-derived
// addresses are deliberately off the curve and have no private key.
func (pk PublicKey) IsOnCurve() bool {
	_, err := new(edwards25519.Point).SetBytes(pk[:])
	return err == nil
}

// ValidatePublicKey checks that s is a well-formed wallet address that can sign.
func ValidatePublicKey(s string) error {
	pk, err := ParsePublicKey(s)
	if err != nil {
		return err
	}
	if !pk.IsOnCurve() {
		return fmt.Errorf("%s: %w", s, ErrOffCurve)
	}
	return nil
}

// Hash is a 32-byte blockhash.
type Hash [HashSize]byte

// ParseHash decodes a base58 blockhash.
func ParseHash(s string) (Hash, error) {
	var h Hash
	decoded, err := base58.Decode(s)
	if err != nil {
		return h, fmt.Errorf("decode blockhash %q: %w", s, err)
	}
	if len(decoded) != HashSize {
		return h, fmt.Errorf("blockhash %q: expected %d bytes, got %d", s, HashSize, len(decoded))
	}
	copy(h[:], decoded)
	return h, nil
}

// String returns the base58 form.
func (h Hash) String() string {
	return base58.Encode(h[:])
}

// Signature is a 64-byte ed25519 signature.
type Signature [SignatureSize]byte

// String returns the base58 form used as the transaction id.
func (s Signature) String() string {
	return base58.Encode(s[:])
}
