package commands

import (
	"context"
	"testing"

	"github.com/i5heu/seedgate/pkg/exceptions"
	"github.com/i5heu/seedgate/pkg/proof"
	"github.com/i5heu/seedgate/pkg/recipe"
	"github.com/i5heu/seedgate/pkg/seeded"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSeed = "A1tB2rC3bD4lE5tF6rG1bH2lI3tJ4rK5bL6lM1tN2rO3bP4lR5tS6rT1bU2lV3tW4rX5bY6lZ1t"

type call struct {
	method     string
	objectType recipe.ObjectType
}

// recordingAccessor grants every request and records which gate was used.
type recordingAccessor struct {
	calls []call
	deny  error
}

func (r *recordingAccessor) SeedForRecipe(_ context.Context, _ string, t recipe.ObjectType) (string, error) {
	r.calls = append(r.calls, call{"SeedForRecipe", t})
	return testSeed, r.deny
}

func (r *recordingAccessor) SeedForUnseal(_ context.Context, _ recipe.PackagedSealedMessage, t recipe.ObjectType) (string, error) {
	r.calls = append(r.calls, call{"SeedForUnseal", t})
	return testSeed, r.deny
}

func (r *recordingAccessor) SeedForRawKeyRetrieval(_ context.Context, _ string, t recipe.ObjectType) (string, error) {
	r.calls = append(r.calls, call{"SeedForRawKeyRetrieval", t})
	return testSeed, r.deny
}

func (r *recordingAccessor) IssueAuthToken(context.Context, string) (string, error) {
	r.calls = append(r.calls, call{"IssueAuthToken", ""})
	return "token", r.deny
}

func TestCommandNamesRoundTrip(t *testing.T) {
	t.Parallel()
	for _, c := range All {
		parsed, ok := Parse(c.String())
		require.True(t, ok, c.String())
		assert.Equal(t, c, parsed)
	}
	_, ok := Parse("deleteEverything")
	assert.False(t, ok)
	assert.Equal(t, "unknown", Command(99).String())
}

func TestAccessorGatePerCommand(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := New(Config{})

	sym, err := seeded.DeriveSymmetricKey(testSeed, `{}`)
	require.NoError(t, err)
	symSealed, err := sym.Seal([]byte("x"), "")
	require.NoError(t, err)
	uk, err := seeded.DeriveUnsealingKey(testSeed, `{}`)
	require.NoError(t, err)
	ukSealed, err := uk.SealingKey().Seal([]byte("x"), "")
	require.NoError(t, err)

	cases := []struct {
		req  Request
		want call
	}{
		{Request{Command: GetSecret}, call{"SeedForRecipe", recipe.TypeSecret}},
		{Request{Command: GetSealingKey}, call{"SeedForRecipe", recipe.TypeUnsealingKey}},
		{Request{Command: GetUnsealingKey}, call{"SeedForRawKeyRetrieval", recipe.TypeUnsealingKey}},
		{Request{Command: GetSigningKey}, call{"SeedForRawKeyRetrieval", recipe.TypeSigningKey}},
		{Request{Command: GetSymmetricKey}, call{"SeedForRawKeyRetrieval", recipe.TypeSymmetricKey}},
		{Request{Command: GetSignatureVerificationKey}, call{"SeedForRecipe", recipe.TypeSigningKey}},
		{Request{Command: SealWithSymmetricKey, Plaintext: []byte("p")}, call{"SeedForRecipe", recipe.TypeSymmetricKey}},
		{Request{Command: UnsealWithSymmetricKey, PackagedSealedMessageJson: symSealed.Json()}, call{"SeedForUnseal", recipe.TypeSymmetricKey}},
		{Request{Command: UnsealWithUnsealingKey, PackagedSealedMessageJson: ukSealed.Json()}, call{"SeedForUnseal", recipe.TypeUnsealingKey}},
		{Request{Command: GenerateSignature, Message: []byte("m")}, call{"SeedForRecipe", recipe.TypeSigningKey}},
		{Request{Command: GetAuthToken, RespondTo: "https://a.com/cb"}, call{"IssueAuthToken", ""}},
	}
	require.Len(t, cases, len(All))

	for _, tc := range cases {
		sa := &recordingAccessor{}
		_, err := e.Execute(ctx, sa, tc.req)
		require.NoError(t, err, tc.req.Command.String())
		assert.Equal(t, []call{tc.want}, sa.calls, tc.req.Command.String())
	}
}

func TestSymmetricSealThenUnseal(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := New(Config{})
	sa := &recordingAccessor{}
	plaintext := []byte("The secret ingredient is dihydrogen monoxide")

	sealed, err := e.Execute(ctx, sa, Request{
		Command:               SealWithSymmetricKey,
		RequestID:             "r1",
		DerivationOptionsJson: `{"allow":[{"host":"a.com"}]}`,
		Plaintext:             plaintext,
		UnsealingInstructions: `{"allow":[{"host":"a.com"}]}`,
	})
	require.NoError(t, err)
	assert.Equal(t, "r1", sealed.RequestID)
	require.NotEmpty(t, sealed.PackagedSealedMessageJson)

	opened, err := e.Execute(ctx, sa, Request{
		Command:                   UnsealWithSymmetricKey,
		PackagedSealedMessageJson: sealed.PackagedSealedMessageJson,
	})
	require.NoError(t, err)
	assert.Equal(t, plaintext, opened.Plaintext)
}

func TestAsymmetricSealThenUnseal(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := New(Config{})
	sa := &recordingAccessor{}

	resp, err := e.Execute(ctx, sa, Request{Command: GetSealingKey})
	require.NoError(t, err)
	sk, err := seeded.SealingKeyFromJson(resp.SealingKeyJson)
	require.NoError(t, err)

	m, err := sk.Seal([]byte("hello"), `{"allow":[{"host":"a.com"}]}`)
	require.NoError(t, err)

	opened, err := e.Execute(ctx, sa, Request{
		Command:                   UnsealWithUnsealingKey,
		PackagedSealedMessageJson: m.Json(),
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), opened.Plaintext)
}

func TestGenerateSignatureReturnsVerificationKey(t *testing.T) {
	t.Parallel()
	e := New(Config{})

	resp, err := e.Execute(context.Background(), &recordingAccessor{}, Request{
		Command:               GenerateSignature,
		DerivationOptionsJson: `{"type":"SigningKey"}`,
		Message:               []byte("m"),
	})
	require.NoError(t, err)
	vk, err := seeded.SignatureVerificationKeyFromJson(resp.SignatureVerificationKeyJson)
	require.NoError(t, err)
	assert.True(t, vk.Verify([]byte("m"), resp.Signature))
	assert.Equal(t, `{"type":"SigningKey"}`, vk.DerivationOptionsJson)
}

func TestGetSecretAttachesRequestedProof(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := New(Config{})

	resp, err := e.Execute(ctx, &recordingAccessor{}, Request{
		Command:               GetSecret,
		DerivationOptionsJson: `{"allow":[{"host":"a.com"}],"lengthInBytes":13,"proofOfPriorDerivation":""}`,
	})
	require.NoError(t, err)
	secret, err := seeded.SecretFromJson(resp.SecretJson)
	require.NoError(t, err)
	assert.Len(t, secret.SecretBytes, 13)

	ok, err := proof.Verify(ctx, nil, testSeed, secret.DerivationOptionsJson)
	require.NoError(t, err)
	assert.True(t, ok)

	// The secret is derived under the recipe it reports.
	again, err := seeded.DeriveSecret(testSeed, secret.DerivationOptionsJson)
	require.NoError(t, err)
	assert.Equal(t, secret.SecretBytes, again.SecretBytes)
}

func TestDeniedCommandReturnsNoFields(t *testing.T) {
	t.Parallel()
	e := New(Config{})
	sa := &recordingAccessor{deny: exceptions.ClientNotAuthorized("no")}

	resp, err := e.Execute(context.Background(), sa, Request{Command: GetSecret, RequestID: "r"})
	assert.ErrorIs(t, err, exceptions.ErrClientNotAuthorized)
	assert.Equal(t, Response{RequestID: "r", Command: GetSecret}, resp)
}

func TestMissingParameters(t *testing.T) {
	t.Parallel()
	e := New(Config{})
	ctx := context.Background()

	for _, req := range []Request{
		{Command: SealWithSymmetricKey},
		{Command: GenerateSignature},
		{Command: GetAuthToken},
		{Command: UnsealWithSymmetricKey},
		{Command: Unknown},
	} {
		sa := &recordingAccessor{}
		_, err := e.Execute(ctx, sa, req)
		assert.ErrorIs(t, err, exceptions.ErrMalformedRequest, req.Command.String())
		assert.Empty(t, sa.calls, req.Command.String())
	}
}
