package seeded

import (
	"crypto/rand"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/i5heu/seedgate/pkg/exceptions"
	"github.com/i5heu/seedgate/pkg/recipe"
)

// SymmetricKey seals and unseals messages with XChaCha20-Poly1305. The
// unsealing instructions are bound to the ciphertext as associated data, so
// a message cannot be re-packaged with weaker instructions.
type SymmetricKey struct { // A
	KeyBytes              Bytes  `json:"keyBytes"`
	DerivationOptionsJson string `json:"derivationOptionsJson"`
}

// DeriveSymmetricKey derives the symmetric key for a recipe.
func DeriveSymmetricKey(seed, recipeJson string) (SymmetricKey, error) { // A
	b, err := Derive(seed, recipeJson, recipe.TypeSymmetricKey, chacha20poly1305.KeySize)
	if err != nil {
		return SymmetricKey{}, err
	}
	return SymmetricKey{KeyBytes: b, DerivationOptionsJson: recipeJson}, nil
}

// Seal encrypts plaintext and packages it with the key's recipe and the
// given instructions.
func (k SymmetricKey) Seal(
	plaintext []byte,
	unsealingInstructions string,
) (recipe.PackagedSealedMessage, error) { // A
	ct, err := sealXChaCha(k.KeyBytes, plaintext, []byte(unsealingInstructions))
	if err != nil {
		return recipe.PackagedSealedMessage{}, err
	}
	return recipe.PackagedSealedMessage{
		Ciphertext:            ct,
		DerivationOptionsJson: k.DerivationOptionsJson,
		UnsealingInstructions: unsealingInstructions,
	}, nil
}

// Unseal decrypts a packaged message. Authentication failures are reported
// as CryptographicVerificationFailureException.
func (k SymmetricKey) Unseal(m recipe.PackagedSealedMessage) ([]byte, error) { // A
	return openXChaCha(k.KeyBytes, m.Ciphertext, []byte(m.UnsealingInstructions))
}

// Dispose zeroes the key bytes.
func (k *SymmetricKey) Dispose() { // A
	Zero(k.KeyBytes)
}

// Json returns the JSON form.
func (k SymmetricKey) Json() string { // A
	return mustJson(k)
}

// SymmetricKeyFromJson parses the JSON form.
func SymmetricKeyFromJson(text string) (SymmetricKey, error) { // A
	var k SymmetricKey
	err := json.Unmarshal([]byte(text), &k)
	return k, err
}

// sealXChaCha returns nonce || ciphertext.
func sealXChaCha(key, plaintext, ad []byte) ([]byte, error) { // A
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("xchacha20poly1305: %w", err)
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, ad), nil
}

func openXChaCha(key, sealed, ad []byte) ([]byte, error) { // A
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("xchacha20poly1305: %w", err)
	}
	if len(sealed) < aead.NonceSize()+aead.Overhead() {
		return nil, exceptions.CryptographicVerificationFailure(nil)
	}
	nonce, ct := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	pt, err := aead.Open(nil, nonce, ct, ad)
	if err != nil {
		return nil, exceptions.CryptographicVerificationFailure(err)
	}
	return pt, nil
}
