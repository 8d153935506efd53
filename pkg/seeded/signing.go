package seeded

import (
	"crypto/ed25519"
	"encoding/json"

	"github.com/i5heu/seedgate/pkg/recipe"
)

// SigningKey is an Ed25519 key pair derived from the seed.
type SigningKey struct { // A
	SigningKeyBytes               Bytes  `json:"signingKeyBytes"`
	SignatureVerificationKeyBytes Bytes  `json:"signatureVerificationKeyBytes"`
	DerivationOptionsJson         string `json:"derivationOptionsJson"`
}

// SignatureVerificationKey is the public half of a SigningKey.
type SignatureVerificationKey struct { // A
	SignatureVerificationKeyBytes Bytes  `json:"signatureVerificationKeyBytes"`
	DerivationOptionsJson         string `json:"derivationOptionsJson"`
}

// DeriveSigningKey derives the Ed25519 key pair for a recipe.
func DeriveSigningKey(seed, recipeJson string) (SigningKey, error) { // A
	s, err := Derive(seed, recipeJson, recipe.TypeSigningKey, ed25519.SeedSize)
	if err != nil {
		return SigningKey{}, err
	}
	priv := ed25519.NewKeyFromSeed(s)
	Zero(s)
	return SigningKey{
		SigningKeyBytes:               Bytes(priv),
		SignatureVerificationKeyBytes: Bytes(priv.Public().(ed25519.PublicKey)),
		DerivationOptionsJson:         recipeJson,
	}, nil
}

// Sign signs message.
func (k SigningKey) Sign(message []byte) []byte { // A
	return ed25519.Sign(ed25519.PrivateKey(k.SigningKeyBytes), message)
}

// SignatureVerificationKey returns the public half.
func (k SigningKey) SignatureVerificationKey() SignatureVerificationKey { // A
	return SignatureVerificationKey{
		SignatureVerificationKeyBytes: append(Bytes(nil), k.SignatureVerificationKeyBytes...),
		DerivationOptionsJson:         k.DerivationOptionsJson,
	}
}

// Dispose zeroes the private key.
func (k *SigningKey) Dispose() { // A
	Zero(k.SigningKeyBytes)
}

// Json returns the JSON form.
func (k SigningKey) Json() string { // A
	return mustJson(k)
}

// SigningKeyFromJson parses the JSON form.
func SigningKeyFromJson(text string) (SigningKey, error) { // A
	var k SigningKey
	err := json.Unmarshal([]byte(text), &k)
	return k, err
}

// Verify checks a signature.
func (k SignatureVerificationKey) Verify(message, signature []byte) bool { // A
	if len(k.SignatureVerificationKeyBytes) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(k.SignatureVerificationKeyBytes), message, signature)
}

// Json returns the JSON form.
func (k SignatureVerificationKey) Json() string { // A
	return mustJson(k)
}

// SignatureVerificationKeyFromJson parses the JSON form.
func SignatureVerificationKeyFromJson(text string) (SignatureVerificationKey, error) { // A
	var k SignatureVerificationKey
	err := json.Unmarshal([]byte(text), &k)
	return k, err
}
