// Package proof implements proof-of-prior-derivation: a recipe may carry a
// value that only the holder of the physical key could have computed, so a
// recipe that was handed out by the key holder can later be recognised as
// one it created.
package proof

import (
	"context"
	"crypto/subtle"
	"encoding/base64"

	"github.com/i5heu/seedgate/pkg/recipe"
	"github.com/i5heu/seedgate/pkg/seeded"
)

// Hasher derives a fixed-size secret from a seed and a JSON context.
type Hasher interface {
	Derive(ctx context.Context, seed, contextJson string) ([]byte, error)
}

// HasherFunc adapts a function to Hasher.
type HasherFunc func(ctx context.Context, seed, contextJson string) ([]byte, error)

// Derive calls f.
func (f HasherFunc) Derive(ctx context.Context, seed, contextJson string) ([]byte, error) { // A
	return f(ctx, seed, contextJson)
}

// DefaultHasher derives a Secret with the recipe-declared hash function.
var DefaultHasher Hasher = HasherFunc(func(_ context.Context, seed, contextJson string) ([]byte, error) {
	return seeded.DeriveSecretBytes(seed, contextJson)
})

var encoding = base64.RawURLEncoding

// Generate computes the proof for r. The proof field is zeroed before
// hashing so the result does not depend on any proof r already carries.
func Generate(ctx context.Context, h Hasher, seed string, r recipe.Recipe) (string, error) { // A
	if h == nil {
		h = DefaultHasher
	}
	canonical := r.WithZeroedProof().Canonical()

	first, err := h.Derive(ctx, seed, canonical)
	if err != nil {
		return "", err
	}
	defer seeded.Zero(first)

	second, err := h.Derive(ctx, encoding.EncodeToString(first), canonical)
	if err != nil {
		return "", err
	}
	return encoding.EncodeToString(second), nil
}

// Attach returns the canonical JSON of recipeJson with its proof set and the
// mutable flag removed.
func Attach(ctx context.Context, h Hasher, seed, recipeJson string) (string, error) { // A
	r, err := recipe.Parse(recipeJson)
	if err != nil {
		return "", err
	}
	r = r.WithoutMutableFlag()
	p, err := Generate(ctx, h, seed, r)
	if err != nil {
		return "", err
	}
	withProof, err := r.WithProof(p)
	if err != nil {
		return "", err
	}
	return withProof.Canonical(), nil
}

// Verify reports whether recipeJson carries a proof that seed produced. A
// recipe without a proof, or with an empty one, does not verify.
func Verify(ctx context.Context, h Hasher, seed, recipeJson string) (bool, error) { // A
	r, err := recipe.Parse(recipeJson)
	if err != nil {
		return false, err
	}
	claimed, ok := r.ProofOfPriorDerivation()
	if !ok || claimed == "" {
		return false, nil
	}
	expected, err := Generate(ctx, h, seed, r)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare([]byte(claimed), []byte(expected)) == 1, nil
}
