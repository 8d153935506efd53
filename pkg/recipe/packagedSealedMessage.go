package recipe

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/i5heu/seedgate/pkg/exceptions"
)

// PackagedSealedMessage carries a ciphertext together with the recipe used
// to seal it and the instructions that govern unsealing.
type PackagedSealedMessage struct { // A
	Ciphertext            []byte
	DerivationOptionsJson string
	UnsealingInstructions string
}

type packagedSealedMessageJson struct { // A
	Ciphertext            string `json:"ciphertext"`
	DerivationOptionsJson string `json:"derivationOptionsJson"`
	UnsealingInstructions string `json:"unsealingInstructions,omitempty"`
}

// MarshalJSON encodes the ciphertext as unpadded base64url.
func (m PackagedSealedMessage) MarshalJSON() ([]byte, error) { // A
	return json.Marshal(packagedSealedMessageJson{
		Ciphertext:            base64.RawURLEncoding.EncodeToString(m.Ciphertext),
		DerivationOptionsJson: m.DerivationOptionsJson,
		UnsealingInstructions: m.UnsealingInstructions,
	})
}

// UnmarshalJSON accepts base64url with or without padding and standard
// base64 for the ciphertext.
func (m *PackagedSealedMessage) UnmarshalJSON(b []byte) error { // A
	var raw packagedSealedMessageJson
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	ct, err := DecodeBinary(raw.Ciphertext)
	if err != nil {
		return fmt.Errorf("ciphertext: %w", err)
	}
	m.Ciphertext = ct
	m.DerivationOptionsJson = raw.DerivationOptionsJson
	m.UnsealingInstructions = raw.UnsealingInstructions
	return nil
}

// Json returns the message's JSON form.
func (m PackagedSealedMessage) Json() string { // A
	b, err := json.Marshal(m)
	if err != nil {
		panic("recipe: marshal packaged sealed message: " + err.Error())
	}
	return string(b)
}

// Recipe parses the embedded recipe.
func (m PackagedSealedMessage) Recipe() (Recipe, error) { // A
	return Parse(m.DerivationOptionsJson)
}

// Instructions parses the embedded unsealing instructions.
func (m PackagedSealedMessage) Instructions() (UnsealingInstructions, error) { // A
	return ParseUnsealingInstructions(m.UnsealingInstructions)
}

// ParsePackagedSealedMessage parses the JSON form.
func ParsePackagedSealedMessage(jsonText string) (PackagedSealedMessage, error) { // A
	var m PackagedSealedMessage
	if strings.TrimSpace(jsonText) == "" {
		return m, exceptions.MalformedRequest("packaged sealed message is empty")
	}
	if err := json.Unmarshal([]byte(jsonText), &m); err != nil {
		return m, exceptions.MalformedRequest("invalid packaged sealed message: %v", err)
	}
	if len(m.Ciphertext) == 0 {
		return m, exceptions.MalformedRequest("packaged sealed message has no ciphertext")
	}
	return m, nil
}

// EncodeBinary is the wire encoding for binary fields: base64url without
// padding.
func EncodeBinary(b []byte) string { // A
	return base64.RawURLEncoding.EncodeToString(b)
}

// DecodeBinary decodes base64url (padded or not) or standard base64.
func DecodeBinary(s string) ([]byte, error) { // A
	s = strings.TrimSpace(s)
	if strings.ContainsAny(s, "+/") {
		return base64.StdEncoding.DecodeString(padBase64(s))
	}
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}

func padBase64(s string) string { // A
	if m := len(s) % 4; m != 0 {
		s += strings.Repeat("=", 4-m)
	}
	return s
}
