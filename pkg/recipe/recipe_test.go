package recipe

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/i5heu/seedgate/pkg/exceptions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestParseRejectsMalformed(t *testing.T) { // A
	t.Parallel()

	for _, in := range []string{
		`{`,
		`[1,2]`,
		`"text"`,
		`{"type":"Banana"}`,
		`{"allow":"example.com"}`,
		`{"allow":[{"paths":["/x"]}]}`,
		`{"clientMayRetrieveKey":"yes"}`,
		`{"lengthInBytes":0}`,
		`{} {}`,
	} {
		_, err := Parse(in)
		assert.ErrorIs(t, err, exceptions.ErrMalformedRecipe, in)
	}
}

func TestParseEmptyIsEmptyRecipe(t *testing.T) { // A
	t.Parallel()

	r, err := Parse("  ")
	require.NoError(t, err)
	assert.True(t, r.IsEmpty())
	assert.Equal(t, "{}", r.Canonical())
}

func TestCanonicalSortsKeysAtEveryLevel(t *testing.T) { // A
	t.Parallel()

	r := MustParse(`{"z":1,"a":{"y":[3,{"k":2,"b":1}],"c":null},"m":"<&>"}`)
	assert.Equal(t,
		`{"a":{"c":null,"y":[3,{"b":1,"k":2}]},"m":"<&>","z":1}`,
		r.Canonical(),
	)
}

func TestCanonicalKeepsNumberLiterals(t *testing.T) { // A
	t.Parallel()

	r := MustParse(`{"big":12345678901234567890,"f":1.50}`)
	assert.Equal(t, `{"big":12345678901234567890,"f":1.50}`, r.Canonical())
}

func TestCanonicalizeAcceptsGoValues(t *testing.T) { // A
	t.Parallel()

	type inner struct {
		B []byte `json:"b"`
		A int    `json:"a"`
	}
	out, err := Canonicalize(map[string]any{"x": inner{B: []byte{1, 2}, A: 3}})
	require.NoError(t, err)
	assert.Equal(t, `{"x":{"a":3,"b":"AQI="}}`, out)
}

func TestAccessors(t *testing.T) { // A
	t.Parallel()

	r := MustParse(`{
		"type":"SymmetricKey",
		"allow":[{"host":"*.example.com","paths":["/app/*"]}],
		"clientMayRetrieveKey":true,
		"excludeOrientationOfFaces":true,
		"requireAuthenticationHandshake":true,
		"urlPrefixesAllowed":["https://example.com/"],
		"mutable":false,
		"proofOfPriorDerivation":"",
		"lengthInBytes":13,
		"hashFunction":"Argon2id",
		"hashFunctionMemoryLimitInBytes":65536,
		"hashFunctionMemoryPasses":3,
		"extra":{"kept":true}
	}`)

	typ, ok := r.Type()
	assert.True(t, ok)
	assert.Equal(t, TypeSymmetricKey, typ)
	assert.Equal(t, []AllowEntry{{Host: "*.example.com", Paths: []string{"/app/*"}}}, r.Allow())
	assert.True(t, r.ClientMayRetrieveKey())
	assert.True(t, r.ExcludeOrientationOfFaces())
	assert.True(t, r.RequireAuthenticationHandshake())
	assert.Equal(t, []string{"https://example.com/"}, r.UrlPrefixesAllowed())
	mutable, present := r.Mutable()
	assert.False(t, mutable)
	assert.True(t, present)
	proof, hasProof := r.ProofOfPriorDerivation()
	assert.Equal(t, "", proof)
	assert.True(t, hasProof)
	assert.Equal(t, 13, r.LengthInBytes(32))
	assert.Equal(t, "Argon2id", r.HashFunction())
	assert.Equal(t, uint64(65536), r.HashFunctionMemoryLimitInBytes(0))
	assert.Equal(t, uint32(3), r.HashFunctionMemoryPasses(0))
	assert.True(t, r.Has("extra"))
}

func TestCheckType(t *testing.T) { // A
	t.Parallel()

	assert.NoError(t, MustParse(`{}`).CheckType(TypeSecret))
	assert.NoError(t, MustParse(`{"type":"Secret"}`).CheckType(TypeSecret))
	assert.ErrorIs(t,
		MustParse(`{"type":"SigningKey"}`).CheckType(TypeSecret),
		exceptions.ErrInvalidRecipeType,
	)
}

func TestBuildersReturnCopies(t *testing.T) { // A
	t.Parallel()

	orig := MustParse(`{"mutable":true,"proofOfPriorDerivation":"abc","z":1}`)

	stripped := orig.WithoutMutableFlag()
	zeroed := orig.WithZeroedProof()

	assert.Equal(t, `{"mutable":true,"proofOfPriorDerivation":"abc","z":1}`, orig.Canonical())
	assert.Equal(t, `{"proofOfPriorDerivation":"abc","z":1}`, stripped.Canonical())
	assert.Equal(t, `{"mutable":true,"proofOfPriorDerivation":"","z":1}`, zeroed.Canonical())
}

func TestUnsealingInstructions(t *testing.T) { // A
	t.Parallel()

	u, err := ParseUnsealingInstructions(`{
		"allow":[{"host":"example.com"}],
		"requireUsersConsent":{"question":"Unseal?","actionButtonLabels":{"allow":"Yes","decline":"No"}}
	}`)
	require.NoError(t, err)

	consent, ok := u.RequireUsersConsent()
	require.True(t, ok)
	assert.Equal(t, "Unseal?", consent.Question)
	assert.Equal(t, "Yes", consent.ActionButtonLabels.Allow)
	assert.Equal(t, "No", consent.ActionButtonLabels.Decline)
	assert.True(t, u.Requirements().HasAllow())

	empty, err := ParseUnsealingInstructions("")
	require.NoError(t, err)
	assert.True(t, empty.IsEmpty())
	_, ok = empty.RequireUsersConsent()
	assert.False(t, ok)

	_, err = ParseUnsealingInstructions(`{"requireUsersConsent":7}`)
	assert.ErrorIs(t, err, exceptions.ErrMalformedRecipe)
}

func TestPackagedSealedMessageJson(t *testing.T) { // A
	t.Parallel()

	m := PackagedSealedMessage{
		Ciphertext:            []byte{0xfb, 0xff, 0x00},
		DerivationOptionsJson: `{"type":"SymmetricKey"}`,
		UnsealingInstructions: `{"allow":[{"host":"a.com"}]}`,
	}
	text := m.Json()
	assert.Contains(t, text, `"ciphertext":"-_8A"`)

	back, err := ParsePackagedSealedMessage(text)
	require.NoError(t, err)
	assert.Equal(t, m, back)

	_, err = ParsePackagedSealedMessage(`{"ciphertext":""}`)
	assert.ErrorIs(t, err, exceptions.ErrMalformedRequest)
}

func TestDecodeBinaryAcceptsBothAlphabets(t *testing.T) { // A
	t.Parallel()

	want := []byte{0xfb, 0xff, 0xbf}
	for _, in := range []string{"-_-_", "+/+/"} {
		got, err := DecodeBinary(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func genJSON(t *rapid.T, depth int) any { // A
	kind := rapid.IntRange(0, 5).Draw(t, fmt.Sprintf("kind%d", depth))
	if depth > 2 && kind >= 4 {
		kind = 0
	}
	switch kind {
	case 0:
		return rapid.String().Draw(t, "s")
	case 1:
		return json.Number(fmt.Sprint(rapid.Int64().Draw(t, "n")))
	case 2:
		return rapid.Bool().Draw(t, "b")
	case 3:
		return nil
	case 4:
		n := rapid.IntRange(0, 4).Draw(t, "len")
		arr := make([]any, n)
		for i := range arr {
			arr[i] = genJSON(t, depth+1)
		}
		return arr
	default:
		n := rapid.IntRange(0, 4).Draw(t, "fields")
		obj := make(map[string]any, n)
		for i := 0; i < n; i++ {
			obj[rapid.String().Draw(t, "key")] = genJSON(t, depth+1)
		}
		return obj
	}
}

func TestRapidCanonicalizationIdempotent(t *testing.T) { // A
	t.Parallel()

	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(0, 5).Draw(rt, "top")
		obj := make(map[string]any, n)
		for i := 0; i < n; i++ {
			obj["x-"+rapid.String().Draw(rt, "topKey")] = genJSON(rt, 1)
		}

		first, err := Canonicalize(obj)
		if err != nil {
			rt.Fatalf("canonicalize: %v", err)
		}
		parsed, err := Parse(first)
		if err != nil {
			rt.Fatalf("parse canonical: %v", err)
		}
		if parsed.Canonical() != first {
			rt.Fatalf("not idempotent:\n%s\n%s", first, parsed.Canonical())
		}
	})
}
