package fhe

import (
	"github.com/tuneinsight/lattigo/v6/core/rlwe"
)

// KeyPair holds a public and a private key generated together by [Context.KeyGen].
type KeyPair struct {
	Public  *PublicKey
	Private *PrivateKey
}

// PublicKey is an encryption key bound to the [Context] that generated it.
type PublicKey struct {
	fingerprint Fingerprint
	value       *rlwe.PublicKey
}

// Fingerprint returns the fingerprint of the owning [Context].
func (pk *PublicKey) Fingerprint() Fingerprint {
	return pk.fingerprint
}

// Value returns the engine key.
func (pk *PublicKey) Value() *rlwe.PublicKey {
	return pk.value
}

// PrivateKey is a decryption key bound to the [Context] that generated it.
type PrivateKey struct {
	fingerprint Fingerprint
	value       *rlwe.SecretKey
}

// Fingerprint returns the fingerprint of the owning [Context].
func (sk *PrivateKey) Fingerprint() Fingerprint {
	return sk.fingerprint
}

// Value returns the engine key.
func (sk *PrivateKey) Value() *rlwe.SecretKey {
	return sk.value
}
