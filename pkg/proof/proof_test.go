package proof

import (
	"context"
	"crypto/sha256"
	"testing"

	"github.com/i5heu/seedgate/pkg/recipe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

const seedA = "A1tB2rC3bD4lE5tF6rG1bH2lI3tJ4rK5bL6lM1tN2rO3bP4lR5tS6rT1bU2lV3tW4rX5bY6lZ1t"

// sha256 keeps the property tests fast.
var fastHasher = HasherFunc(func(_ context.Context, seed, contextJson string) ([]byte, error) {
	sum := sha256.Sum256([]byte(seed + "\x00" + contextJson))
	return sum[:], nil
})

func TestAttachThenVerify(t *testing.T) { // A
	t.Parallel()
	ctx := context.Background()

	attached, err := Attach(ctx, nil, seedA, `{"allow":[{"host":"a.com"}],"mutable":true,"proofOfPriorDerivation":""}`)
	require.NoError(t, err)

	r, err := recipe.Parse(attached)
	require.NoError(t, err)
	_, hasMutable := r.Mutable()
	assert.False(t, hasMutable)
	p, ok := r.ProofOfPriorDerivation()
	require.True(t, ok)
	assert.NotEmpty(t, p)
	assert.NotContains(t, p, "=")

	ok, err = Verify(ctx, nil, seedA, attached)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Verify(ctx, nil, "another seed", attached)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyWithoutProof(t *testing.T) { // A
	t.Parallel()
	ctx := context.Background()

	for _, r := range []string{`{}`, `{"proofOfPriorDerivation":""}`, ``} {
		ok, err := Verify(ctx, fastHasher, seedA, r)
		require.NoError(t, err, r)
		assert.False(t, ok, r)
	}

	_, err := Verify(ctx, fastHasher, seedA, `[1]`)
	assert.Error(t, err)
}

func TestGenerateIgnoresExistingProof(t *testing.T) { // A
	t.Parallel()
	ctx := context.Background()

	a, err := Generate(ctx, fastHasher, seedA, recipe.MustParse(`{"x":1}`))
	require.NoError(t, err)
	b, err := Generate(ctx, fastHasher, seedA, recipe.MustParse(`{"x":1,"proofOfPriorDerivation":"junk"}`))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestRapidProofRoundTripAndTamper(t *testing.T) { // A
	t.Parallel()
	ctx := context.Background()

	rapid.Check(t, func(t *rapid.T) {
		seed := rapid.StringMatching(`[A-Z1-6trbl]{10,75}`).Draw(t, "seed")
		host := rapid.StringMatching(`[a-z]{1,10}\.(com|org|net)`).Draw(t, "host")
		n := rapid.IntRange(0, 1000).Draw(t, "n")

		base, err := recipe.MustParse(`{}`).WithField("allow", []any{map[string]any{"host": host}})
		if err != nil {
			t.Fatalf("with allow: %v", err)
		}
		base, err = base.WithField("n", n)
		if err != nil {
			t.Fatalf("with n: %v", err)
		}

		attached, err := Attach(ctx, fastHasher, seed, base.Canonical())
		if err != nil {
			t.Fatalf("attach: %v", err)
		}
		ok, err := Verify(ctx, fastHasher, seed, attached)
		if err != nil || !ok {
			t.Fatalf("round trip failed: ok=%v err=%v", ok, err)
		}

		tampered, err := recipe.MustParse(attached).WithField("n", n+1)
		if err != nil {
			t.Fatalf("tamper: %v", err)
		}
		ok, err = Verify(ctx, fastHasher, seed, tampered.Canonical())
		if err != nil || ok {
			t.Fatalf("tampered recipe verified: ok=%v err=%v", ok, err)
		}
	})
}
