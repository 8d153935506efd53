package seeded

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"github.com/i5heu/seedgate/pkg/exceptions"
	"github.com/i5heu/seedgate/pkg/recipe"
)

const sealingInfo = "seedgate/v1/sealing"

// UnsealingKey is an X25519 key pair derived from the seed.
type UnsealingKey struct { // A
	PrivateKeyBytes       Bytes  `json:"privateKeyBytes"`
	PublicKeyBytes        Bytes  `json:"publicKeyBytes"`
	DerivationOptionsJson string `json:"derivationOptionsJson"`
}

// SealingKey is the public half of an UnsealingKey.
type SealingKey struct { // A
	PublicKeyBytes        Bytes  `json:"publicKeyBytes"`
	DerivationOptionsJson string `json:"derivationOptionsJson"`
}

// DeriveUnsealingKey derives the X25519 key pair for a recipe.
func DeriveUnsealingKey(seed, recipeJson string) (UnsealingKey, error) { // A
	priv, err := Derive(seed, recipeJson, recipe.TypeUnsealingKey, curve25519.ScalarSize)
	if err != nil {
		return UnsealingKey{}, err
	}
	pub, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return UnsealingKey{}, fmt.Errorf("x25519 basepoint mul: %w", err)
	}
	return UnsealingKey{
		PrivateKeyBytes:       priv,
		PublicKeyBytes:        pub,
		DerivationOptionsJson: recipeJson,
	}, nil
}

// SealingKey returns the public half.
func (k UnsealingKey) SealingKey() SealingKey { // A
	return SealingKey{
		PublicKeyBytes:        append(Bytes(nil), k.PublicKeyBytes...),
		DerivationOptionsJson: k.DerivationOptionsJson,
	}
}

// Unseal decrypts a message sealed with the matching SealingKey.
func (k UnsealingKey) Unseal(m recipe.PackagedSealedMessage) ([]byte, error) { // A
	if len(m.Ciphertext) < curve25519.PointSize {
		return nil, exceptions.CryptographicVerificationFailure(nil)
	}
	ephPub := m.Ciphertext[:curve25519.PointSize]
	shared, err := curve25519.X25519(k.PrivateKeyBytes, ephPub)
	if err != nil {
		return nil, exceptions.CryptographicVerificationFailure(err)
	}
	key, err := sealingKeyMaterial(shared, ephPub, k.PublicKeyBytes)
	Zero(shared)
	if err != nil {
		return nil, err
	}
	defer Zero(key)
	return openXChaCha(key, m.Ciphertext[curve25519.PointSize:], []byte(m.UnsealingInstructions))
}

// Dispose zeroes the private key.
func (k *UnsealingKey) Dispose() { // A
	Zero(k.PrivateKeyBytes)
}

// Json returns the JSON form.
func (k UnsealingKey) Json() string { // A
	return mustJson(k)
}

// UnsealingKeyFromJson parses the JSON form.
func UnsealingKeyFromJson(text string) (UnsealingKey, error) { // A
	var k UnsealingKey
	err := json.Unmarshal([]byte(text), &k)
	return k, err
}

// Seal encrypts plaintext to the key holder with an ephemeral X25519 key.
// The output ciphertext is ephemeralPublicKey || nonce || sealed.
func (k SealingKey) Seal(
	plaintext []byte,
	unsealingInstructions string,
) (recipe.PackagedSealedMessage, error) { // A
	ephPriv := make([]byte, curve25519.ScalarSize)
	if _, err := rand.Read(ephPriv); err != nil {
		return recipe.PackagedSealedMessage{}, fmt.Errorf("ephemeral key: %w", err)
	}
	defer Zero(ephPriv)

	ephPub, err := curve25519.X25519(ephPriv, curve25519.Basepoint)
	if err != nil {
		return recipe.PackagedSealedMessage{}, fmt.Errorf("x25519 basepoint mul: %w", err)
	}
	shared, err := curve25519.X25519(ephPriv, k.PublicKeyBytes)
	if err != nil {
		return recipe.PackagedSealedMessage{}, fmt.Errorf("x25519 derive: %w", err)
	}
	key, err := sealingKeyMaterial(shared, ephPub, k.PublicKeyBytes)
	Zero(shared)
	if err != nil {
		return recipe.PackagedSealedMessage{}, err
	}
	defer Zero(key)

	sealed, err := sealXChaCha(key, plaintext, []byte(unsealingInstructions))
	if err != nil {
		return recipe.PackagedSealedMessage{}, err
	}
	return recipe.PackagedSealedMessage{
		Ciphertext:            append(ephPub, sealed...),
		DerivationOptionsJson: k.DerivationOptionsJson,
		UnsealingInstructions: unsealingInstructions,
	}, nil
}

// Json returns the JSON form.
func (k SealingKey) Json() string { // A
	return mustJson(k)
}

// SealingKeyFromJson parses the JSON form.
func SealingKeyFromJson(text string) (SealingKey, error) { // A
	var k SealingKey
	err := json.Unmarshal([]byte(text), &k)
	return k, err
}

func sealingKeyMaterial(shared, ephPub, recipientPub []byte) ([]byte, error) { // A
	salt := make([]byte, 0, len(ephPub)+len(recipientPub))
	salt = append(salt, ephPub...)
	salt = append(salt, recipientPub...)
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, shared, salt, []byte(sealingInfo)), key); err != nil {
		return nil, fmt.Errorf("hkdf: %w", err)
	}
	return key, nil
}
