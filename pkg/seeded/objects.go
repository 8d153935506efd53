package seeded

import (
	"encoding/json"
	"fmt"

	"github.com/i5heu/seedgate/pkg/recipe"
)

// Bytes marshals to JSON as unpadded base64url.
type Bytes []byte

// MarshalJSON implements json.Marshaler.
func (b Bytes) MarshalJSON() ([]byte, error) { // A
	return json.Marshal(recipe.EncodeBinary(b))
}

// UnmarshalJSON implements json.Unmarshaler.
func (b *Bytes) UnmarshalJSON(data []byte) error { // A
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	decoded, err := recipe.DecodeBinary(s)
	if err != nil {
		return fmt.Errorf("binary field: %w", err)
	}
	*b = decoded
	return nil
}

// Secret is derived secret material.
type Secret struct { // A
	SecretBytes           Bytes  `json:"secretBytes"`
	DerivationOptionsJson string `json:"derivationOptionsJson"`
}

// DeriveSecret derives a secret whose length follows lengthInBytes.
func DeriveSecret(seed, recipeJson string) (Secret, error) { // A
	b, err := DeriveSecretBytes(seed, recipeJson)
	if err != nil {
		return Secret{}, err
	}
	return Secret{SecretBytes: b, DerivationOptionsJson: recipeJson}, nil
}

// Dispose zeroes the secret bytes.
func (s *Secret) Dispose() { // A
	Zero(s.SecretBytes)
}

// Json returns the JSON form.
func (s Secret) Json() string { // A
	return mustJson(s)
}

// SecretFromJson parses the JSON form.
func SecretFromJson(text string) (Secret, error) { // A
	var s Secret
	err := json.Unmarshal([]byte(text), &s)
	return s, err
}

func mustJson(v any) string { // A
	b, err := json.Marshal(v)
	if err != nil {
		panic("seeded: marshal: " + err.Error())
	}
	return string(b)
}
