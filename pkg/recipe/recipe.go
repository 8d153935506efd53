// Package recipe implements the authorization document ("recipe", also
// called derivation options) that travels with every derivation request.
//
// A Recipe is an immutable value. The builder methods return modified
// copies; unknown fields are preserved verbatim.
package recipe

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/i5heu/seedgate/pkg/exceptions"
)

// Field names recognized by the protocol.
const ( // A
	FieldType                           = "type"
	FieldAllow                          = "allow"
	FieldClientMayRetrieveKey           = "clientMayRetrieveKey"
	FieldExcludeOrientationOfFaces      = "excludeOrientationOfFaces"
	FieldRequireAuthenticationHandshake = "requireAuthenticationHandshake"
	FieldUrlPrefixesAllowed             = "urlPrefixesAllowed"
	FieldMutable                        = "mutable"
	FieldProofOfPriorDerivation         = "proofOfPriorDerivation"
	FieldLengthInBytes                  = "lengthInBytes"
	FieldHashFunction                   = "hashFunction"
	FieldHashFunctionMemoryLimitInBytes = "hashFunctionMemoryLimitInBytes"
	FieldHashFunctionMemoryPasses       = "hashFunctionMemoryPasses"
)

// view is the typed projection of the recognized fields. Decoding into it
// validates the field types.
type view struct { // A
	Type                           *string      `json:"type"`
	Allow                          []AllowEntry `json:"allow"`
	ClientMayRetrieveKey           *bool        `json:"clientMayRetrieveKey"`
	ExcludeOrientationOfFaces      *bool        `json:"excludeOrientationOfFaces"`
	RequireAuthenticationHandshake *bool        `json:"requireAuthenticationHandshake"`
	UrlPrefixesAllowed             []string     `json:"urlPrefixesAllowed"`
	Mutable                        *bool        `json:"mutable"`
	ProofOfPriorDerivation         *string      `json:"proofOfPriorDerivation"`
	LengthInBytes                  *int         `json:"lengthInBytes"`
	HashFunction                   *string      `json:"hashFunction"`
	HashFunctionMemoryLimitInBytes *uint64      `json:"hashFunctionMemoryLimitInBytes"`
	HashFunctionMemoryPasses       *uint32      `json:"hashFunctionMemoryPasses"`
}

// Recipe is a parsed recipe.
type Recipe struct { // A
	fields map[string]any
	v      view
}

// Parse parses recipe JSON. Empty text yields the empty recipe. Invalid
// JSON, a non-object value, mistyped fields or an unknown type tag fail
// with MalformedRecipe.
func Parse(jsonText string) (Recipe, error) { // A
	if strings.TrimSpace(jsonText) == "" {
		return Recipe{fields: map[string]any{}}, nil
	}
	generic, err := decodeGeneric([]byte(jsonText))
	if err != nil {
		return Recipe{}, exceptions.MalformedRecipe(err, "recipe is not valid JSON: %v", err)
	}
	obj, ok := generic.(map[string]any)
	if !ok {
		return Recipe{}, exceptions.MalformedRecipe(nil, "recipe must be a JSON object")
	}
	return fromFields(obj)
}

// MustParse is Parse for literals in tests and examples.
func MustParse(jsonText string) Recipe { // A
	r, err := Parse(jsonText)
	if err != nil {
		panic(err)
	}
	return r
}

func fromFields(obj map[string]any) (Recipe, error) { // A
	b, err := json.Marshal(obj)
	if err != nil {
		return Recipe{}, exceptions.MalformedRecipe(err, "recipe cannot be encoded: %v", err)
	}
	var v view
	dec := json.NewDecoder(bytes.NewReader(b))
	if err := dec.Decode(&v); err != nil {
		return Recipe{}, exceptions.MalformedRecipe(err, "recipe has a mistyped field: %v", err)
	}
	if v.Type != nil && !ObjectType(*v.Type).IsRecipeType() {
		return Recipe{}, exceptions.MalformedRecipe(nil, "unknown recipe type %q", *v.Type)
	}
	if v.LengthInBytes != nil && *v.LengthInBytes <= 0 {
		return Recipe{}, exceptions.MalformedRecipe(nil, "lengthInBytes must be positive")
	}
	for i, e := range v.Allow {
		if strings.TrimSpace(e.Host) == "" {
			return Recipe{}, exceptions.MalformedRecipe(nil, "allow entry %d has no host", i)
		}
	}
	return Recipe{fields: obj, v: v}, nil
}

// Canonical returns the sorted-key JSON form of the recipe.
func (r Recipe) Canonical() string { // A
	out, err := encodeCanonical(r.fieldsOrEmpty())
	if err != nil {
		// fields always come from decoded JSON, which re-encodes.
		panic(fmt.Sprintf("recipe: canonical encode: %v", err))
	}
	return out
}

// String returns the canonical JSON.
func (r Recipe) String() string { // A
	return r.Canonical()
}

// IsEmpty reports whether the recipe has no fields.
func (r Recipe) IsEmpty() bool { // A
	return len(r.fields) == 0
}

// Has reports whether the named field is present.
func (r Recipe) Has(name string) bool { // A
	_, ok := r.fields[name]
	return ok
}

// Field returns the raw decoded value of a field.
func (r Recipe) Field(name string) (any, bool) { // A
	v, ok := r.fields[name]
	return v, ok
}

// Type returns the type tag, if any.
func (r Recipe) Type() (ObjectType, bool) { // A
	if r.v.Type == nil {
		return "", false
	}
	return ObjectType(*r.v.Type), true
}

// CheckType fails with InvalidRecipeTypeException when the recipe carries a
// type tag other than required.
func (r Recipe) CheckType(required ObjectType) error { // A
	if t, ok := r.Type(); ok && t != required {
		return exceptions.InvalidRecipeType(required.String(), t.String())
	}
	return nil
}

// Allow returns a copy of the allow list.
func (r Recipe) Allow() []AllowEntry { // A
	return copyAllow(r.v.Allow)
}

// ClientMayRetrieveKey reports whether the raw key may leave the holder.
func (r Recipe) ClientMayRetrieveKey() bool { // A
	return r.v.ClientMayRetrieveKey != nil && *r.v.ClientMayRetrieveKey
}

// ExcludeOrientationOfFaces reports whether die orientations are ignored
// when computing the seed.
func (r Recipe) ExcludeOrientationOfFaces() bool { // A
	return r.v.ExcludeOrientationOfFaces != nil && *r.v.ExcludeOrientationOfFaces
}

// RequireAuthenticationHandshake reports whether requests must carry a
// resolved auth token.
func (r Recipe) RequireAuthenticationHandshake() bool { // A
	return r.v.RequireAuthenticationHandshake != nil && *r.v.RequireAuthenticationHandshake
}

// UrlPrefixesAllowed returns a copy of the allowed respond-to prefixes.
func (r Recipe) UrlPrefixesAllowed() []string { // A
	return append([]string(nil), r.v.UrlPrefixesAllowed...)
}

// Mutable reports the mutable flag and whether it was present.
func (r Recipe) Mutable() (bool, bool) { // A
	if r.v.Mutable == nil {
		return false, false
	}
	return *r.v.Mutable, true
}

// ProofOfPriorDerivation returns the proof field and whether it was
// present. A present empty string is a request to attach a proof.
func (r Recipe) ProofOfPriorDerivation() (string, bool) { // A
	if r.v.ProofOfPriorDerivation == nil {
		return "", false
	}
	return *r.v.ProofOfPriorDerivation, true
}

// LengthInBytes returns the requested output length or def.
func (r Recipe) LengthInBytes(def int) int { // A
	if r.v.LengthInBytes == nil {
		return def
	}
	return *r.v.LengthInBytes
}

// HashFunction returns the requested hash function name, or "".
func (r Recipe) HashFunction() string { // A
	if r.v.HashFunction == nil {
		return ""
	}
	return *r.v.HashFunction
}

// HashFunctionMemoryLimitInBytes returns the memory limit or def.
func (r Recipe) HashFunctionMemoryLimitInBytes(def uint64) uint64 { // A
	if r.v.HashFunctionMemoryLimitInBytes == nil {
		return def
	}
	return *r.v.HashFunctionMemoryLimitInBytes
}

// HashFunctionMemoryPasses returns the pass count or def.
func (r Recipe) HashFunctionMemoryPasses(def uint32) uint32 { // A
	if r.v.HashFunctionMemoryPasses == nil {
		return def
	}
	return *r.v.HashFunctionMemoryPasses
}

// Requirements returns the recipe's authentication requirements.
func (r Recipe) Requirements() AuthenticationRequirements { // A
	return AuthenticationRequirements{
		Allow:                          r.Allow(),
		RequireAuthenticationHandshake: r.RequireAuthenticationHandshake(),
		UrlPrefixesAllowed:             r.UrlPrefixesAllowed(),
	}
}

// WithField returns a copy with name set to value.
func (r Recipe) WithField(name string, value any) (Recipe, error) { // A
	fields := r.copyFields()
	fields[name] = value
	return fromFields(fields)
}

// WithoutField returns a copy without the named field.
func (r Recipe) WithoutField(name string) Recipe { // A
	fields := r.copyFields()
	delete(fields, name)
	out, err := fromFields(fields)
	if err != nil {
		// removing a field cannot invalidate the remaining ones
		panic(fmt.Sprintf("recipe: remove %s: %v", name, err))
	}
	return out
}

// WithoutMutableFlag returns a copy without the mutable field.
func (r Recipe) WithoutMutableFlag() Recipe { // A
	return r.WithoutField(FieldMutable)
}

// WithZeroedProof returns a copy whose proof field is the empty string.
func (r Recipe) WithZeroedProof() Recipe { // A
	out, err := r.WithProof("")
	if err != nil {
		panic(fmt.Sprintf("recipe: zero proof: %v", err))
	}
	return out
}

// WithProof returns a copy carrying the given proof.
func (r Recipe) WithProof(proof string) (Recipe, error) { // A
	return r.WithField(FieldProofOfPriorDerivation, proof)
}

func (r Recipe) fieldsOrEmpty() map[string]any { // A
	if r.fields == nil {
		return map[string]any{}
	}
	return r.fields
}

func (r Recipe) copyFields() map[string]any { // A
	fields := make(map[string]any, len(r.fields)+1)
	for k, v := range r.fields {
		fields[k] = v
	}
	return fields
}

func copyAllow(in []AllowEntry) []AllowEntry { // A
	if in == nil {
		return nil
	}
	out := make([]AllowEntry, len(in))
	for i, e := range in {
		out[i] = AllowEntry{Host: e.Host, Paths: append([]string(nil), e.Paths...)}
	}
	return out
}
