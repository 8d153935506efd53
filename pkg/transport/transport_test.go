package transport

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/i5heu/seedgate/internal/keyValStore"
	"github.com/i5heu/seedgate/pkg/auth"
	"github.com/i5heu/seedgate/pkg/commands"
	"github.com/i5heu/seedgate/pkg/diceKey"
	"github.com/i5heu/seedgate/pkg/exceptions"
	"github.com/i5heu/seedgate/pkg/handshake"
	"github.com/i5heu/seedgate/pkg/seedAccessor"
	"github.com/i5heu/seedgate/pkg/seeded"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "A1tB2rC3bD4lE5tF6rG1bH2lI3tJ4rK5bL6lM1tN2rO3bP4lR5tS6rT1bU2lV3tW4rX5bY6lZ1t"

func newTestHandler(t *testing.T) (*Handler, *seedAccessor.Accessor) {
	t.Helper()
	key, err := diceKey.ParseHumanReadable(testKey)
	require.NoError(t, err)
	kv, err := keyValStore.NewKeyValStore(keyValStore.StoreConfig{TTL: time.Minute})
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })
	hs := handshake.New(kv)

	acc, err := seedAccessor.New(seedAccessor.Config{
		KeyLoader: seedAccessor.KeyLoaderFunc(func(context.Context) (diceKey.Key, error) { return key, nil }),
		Handshake: hs,
	})
	require.NoError(t, err)
	return NewHandler(HandlerConfig{Accessor: acc, Resolver: hs}), acc
}

// roundTripURL runs a request the way a browser navigation would: encode
// the query, parse it, handle it, append the outcome to respondTo and decode.
func roundTripURL(t *testing.T, h *Handler, q url.Values) Outcome {
	t.Helper()
	return exchangeURL(t, h, q, true)
}

// fetchURL is roundTripURL for a caller that reads the redirect itself.
func fetchURL(t *testing.T, h *Handler, q url.Values) Outcome {
	t.Helper()
	return exchangeURL(t, h, q, false)
}

func exchangeURL(t *testing.T, h *Handler, q url.Values, navigation bool) Outcome {
	t.Helper()
	req, err := ParseURLRequest(q)
	require.NoError(t, err)
	origin, err := URLOrigin(req, navigation)
	require.NoError(t, err)

	out := h.Handle(context.Background(), req, origin)
	location, err := EncodeURLResponse(req.RespondTo, out)
	require.NoError(t, err)

	u, err := url.Parse(location)
	require.NoError(t, err)
	decoded, err := DecodeURLResponse(u.Query(), req.Command)
	require.NoError(t, err)
	return decoded
}

func TestAuthTokenThenSecretOverURL(t *testing.T) {
	t.Parallel()
	h, _ := newTestHandler(t)
	respondTo := "https://client.example/--derived-secret-api--/"

	tokenOut := roundTripURL(t, h, url.Values{
		ParamCommand:   {"getAuthToken"},
		ParamRequestID: {"req-1"},
		ParamRespondTo: {respondTo},
	})
	require.False(t, tokenOut.Failed(), "%v", tokenOut.Exception)
	assert.Equal(t, "req-1", tokenOut.RequestID)
	require.NotEmpty(t, tokenOut.Response.AuthToken)

	// the token stands in for the navigation the caller cannot prove
	secretOut := fetchURL(t, h, url.Values{
		ParamCommand:   {"getSecret"},
		ParamRequestID: {"req-2"},
		ParamRespondTo: {respondTo},
		ParamAuthToken: {tokenOut.Response.AuthToken},
		ParamRecipe: {`{"requireAuthenticationHandshake":true,` +
			`"urlPrefixesAllowed":["` + respondTo + `"],"lengthInBytes":13}`},
	})
	require.False(t, secretOut.Failed(), "%v", secretOut.Exception)
	assert.Equal(t, "req-2", secretOut.RequestID)

	secret, err := seeded.SecretFromJson(secretOut.Response.SecretJson)
	require.NoError(t, err)
	assert.Len(t, secret.SecretBytes, 13)

	withoutToken := fetchURL(t, h, url.Values{
		ParamCommand:   {"getSecret"},
		ParamRequestID: {"req-3"},
		ParamRespondTo: {respondTo},
		ParamRecipe: {`{"requireAuthenticationHandshake":true,` +
			`"urlPrefixesAllowed":["` + respondTo + `"],"lengthInBytes":13}`},
	})
	require.True(t, withoutToken.Failed())
	assert.Equal(t, exceptions.NameClientNotAuthorized, withoutToken.Exception.Name)
}

func TestNonNavigationCannotClaimHost(t *testing.T) {
	t.Parallel()
	h, _ := newTestHandler(t)
	respondTo := "https://bank.example/--derived-secret-api--/"

	keyOut := fetchURL(t, h, url.Values{
		ParamCommand:   {"getSymmetricKey"},
		ParamRequestID: {"k"},
		ParamRespondTo: {respondTo},
		ParamRecipe:    {`{"allow":[{"host":"bank.example"}],"clientMayRetrieveKey":true}`},
	})
	require.True(t, keyOut.Failed())
	assert.Equal(t, exceptions.NameClientNotAuthorized, keyOut.Exception.Name)
	assert.Empty(t, keyOut.Response.SymmetricKeyJson)

	tokenOut := fetchURL(t, h, url.Values{
		ParamCommand:   {"getAuthToken"},
		ParamRequestID: {"t"},
		ParamRespondTo: {respondTo},
	})
	require.True(t, tokenOut.Failed())
	assert.Equal(t, exceptions.NameClientNotAuthorized, tokenOut.Exception.Name)
	assert.Empty(t, tokenOut.Response.AuthToken)
}

func TestPrefixLengthExtensionIsRejected(t *testing.T) {
	t.Parallel()
	h, _ := newTestHandler(t)
	r := `{"urlPrefixesAllowed":["https://example.com/"]}`

	denied := roundTripURL(t, h, url.Values{
		ParamCommand:               {"sealWithSymmetricKey"},
		ParamRequestID:             {"s1"},
		ParamRespondTo:             {"https://example.comspoof/"},
		ParamDerivationOptionsJson: {r},
		ParamPlaintext:             {"aGk"},
	})
	require.True(t, denied.Failed())
	assert.Equal(t, exceptions.NameClientNotAuthorized, denied.Exception.Name)

	sealed := roundTripURL(t, h, url.Values{
		ParamCommand:               {"sealWithSymmetricKey"},
		ParamRequestID:             {"s2"},
		ParamRespondTo:             {"https://example.com/"},
		ParamDerivationOptionsJson: {r},
		ParamPlaintext:             {"aGk"},
	})
	require.False(t, sealed.Failed(), "%v", sealed.Exception)

	denied = roundTripURL(t, h, url.Values{
		ParamCommand:                   {"unsealWithSymmetricKey"},
		ParamRequestID:                 {"u1"},
		ParamRespondTo:                 {"https://example.comspoof/"},
		ParamPackagedSealedMessageJson: {sealed.Response.PackagedSealedMessageJson},
	})
	require.True(t, denied.Failed())
	assert.Equal(t, exceptions.NameClientNotAuthorized, denied.Exception.Name)
	assert.Nil(t, denied.Response.Plaintext)

	opened := roundTripURL(t, h, url.Values{
		ParamCommand:                   {"unsealWithSymmetricKey"},
		ParamRequestID:                 {"u2"},
		ParamRespondTo:                 {"https://example.com/"},
		ParamPackagedSealedMessageJson: {sealed.Response.PackagedSealedMessageJson},
	})
	require.False(t, opened.Failed(), "%v", opened.Exception)
	assert.Equal(t, []byte("hi"), opened.Response.Plaintext)
}

func TestURLSealUnsealRoundTrip(t *testing.T) {
	t.Parallel()
	h, _ := newTestHandler(t)
	respondTo := "https://a.com/app/cb"
	r := `{"allow":[{"host":"a.com","paths":["/app/*"]}]}`

	sealed := roundTripURL(t, h, url.Values{
		ParamCommand:               {"sealWithSymmetricKey"},
		ParamRequestID:             {"s"},
		ParamRespondTo:             {respondTo},
		ParamDerivationOptionsJson: {r},
		ParamPlaintext:             {"VGhlIHNlY3JldA"}, // "The secret"
	})
	require.False(t, sealed.Failed(), "%v", sealed.Exception)

	opened := roundTripURL(t, h, url.Values{
		ParamCommand:                   {"unsealWithSymmetricKey"},
		ParamRequestID:                 {"u"},
		ParamRespondTo:                 {respondTo},
		ParamPackagedSealedMessageJson: {sealed.Response.PackagedSealedMessageJson},
	})
	require.False(t, opened.Failed(), "%v", opened.Exception)
	assert.Equal(t, []byte("The secret"), opened.Response.Plaintext)

	denied := roundTripURL(t, h, url.Values{
		ParamCommand:                   {"unsealWithSymmetricKey"},
		ParamRequestID:                 {"d"},
		ParamRespondTo:                 {"https://a.com/elsewhere"},
		ParamPackagedSealedMessageJson: {sealed.Response.PackagedSealedMessageJson},
	})
	require.True(t, denied.Failed())
	assert.Equal(t, exceptions.NameClientNotAuthorized, denied.Exception.Name)
	assert.Equal(t, "d", denied.RequestID)
}

func TestBothLayersRejectUnauthorizedHost(t *testing.T) {
	t.Parallel()
	h, acc := newTestHandler(t)
	ctx := context.Background()

	req := commands.Request{
		Command:               commands.GetSecret,
		RequestID:             "x",
		RespondTo:             "https://evil.com/--derived-secret-api--/",
		DerivationOptionsJson: `{"allow":[{"host":"good.com"}]}`,
	}
	origin, err := URLOrigin(req, true)
	require.NoError(t, err)

	// Transport layer on its own.
	assert.ErrorIs(t, h.Authorize(ctx, req, origin), exceptions.ErrClientNotAuthorized)

	// Seed accessor on its own, as if the transport check were skipped.
	_, err = commands.New(commands.Config{}).Execute(ctx, acc.ForRequest(origin, req.Command.String()), req)
	assert.ErrorIs(t, err, exceptions.ErrClientNotAuthorized)

	out := h.Handle(ctx, req, origin)
	require.True(t, out.Failed())
	assert.Equal(t, commands.Response{}, out.Response)
}

func TestFailureEnvelopeHasNoResultFields(t *testing.T) {
	t.Parallel()
	out := Outcome{
		RequestID: "r",
		Command:   commands.GetSecret,
		Response:  commands.Response{SecretJson: "leak"},
		Exception: exceptions.ClientNotAuthorized("no"),
	}
	location, err := EncodeURLResponse("https://a.com/cb?keep=1", out)
	require.NoError(t, err)
	u, err := url.Parse(location)
	require.NoError(t, err)
	q := u.Query()

	assert.Equal(t, "1", q.Get("keep"))
	assert.Equal(t, "r", q.Get(ParamRequestID))
	assert.Equal(t, exceptions.NameClientNotAuthorized, q.Get(FieldException))
	assert.Equal(t, "no", q.Get(FieldMessage))
	assert.False(t, q.Has(FieldSecretJson))
}

func TestPanicBecomesEnvelope(t *testing.T) {
	t.Parallel()
	h := NewHandler(HandlerConfig{IncludeStack: true})

	req := commands.Request{Command: commands.GetAuthToken, RequestID: "p", RespondTo: "https://a.com/"}
	out := h.Handle(context.Background(), req, auth.Origin{Host: "a.com", HostAuthenticated: true})

	require.True(t, out.Failed())
	assert.Equal(t, "p", out.RequestID)
	assert.Equal(t, exceptions.NameUnknown, out.Exception.Name)
	assert.NotEmpty(t, out.Exception.Stack)
}

func TestParseURLRequest(t *testing.T) {
	t.Parallel()

	req, err := ParseURLRequest(url.Values{
		ParamCommand:   {"generateSignature"},
		ParamRequestID: {"1"},
		ParamRespondTo: {"https://a.com/"},
		ParamRecipe:    {`{"type":"SigningKey"}`},
		ParamMessage:   {"-_8"},
	})
	require.NoError(t, err)
	assert.Equal(t, commands.GenerateSignature, req.Command)
	assert.Equal(t, `{"type":"SigningKey"}`, req.DerivationOptionsJson)
	assert.Equal(t, []byte{0xfb, 0xff}, req.Message)
	assert.Nil(t, req.Plaintext)

	for _, q := range []url.Values{
		{ParamCommand: {"nope"}, ParamRequestID: {"1"}, ParamRespondTo: {"https://a.com/"}},
		{ParamCommand: {"getSecret"}, ParamRespondTo: {"https://a.com/"}},
		{ParamCommand: {"getSecret"}, ParamRequestID: {"1"}},
		{ParamCommand: {"getSecret"}, ParamRequestID: {"1"}, ParamRespondTo: {"https://a.com/"}, ParamPlaintext: {"!!"}},
	} {
		_, err := ParseURLRequest(q)
		assert.ErrorIs(t, err, exceptions.ErrMalformedRequest, q.Encode())
	}
}

func TestMessageRequestAcceptsObjectsAndBytes(t *testing.T) {
	t.Parallel()

	req, err := ParseMessageRequest(map[string]any{
		ParamCommand:               "sealWithSymmetricKey",
		ParamRequestID:             "m1",
		ParamDerivationOptionsJson: map[string]any{"allow": []any{map[string]any{"host": "a.com"}}},
		ParamPlaintext:             []byte("raw"),
		ParamUnsealingInstructions: `{"allow":[{"host":"a.com"}]}`,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"allow":[{"host":"a.com"}]}`, req.DerivationOptionsJson)
	assert.Equal(t, []byte("raw"), req.Plaintext)

	req, err = ParseMessageRequest(map[string]any{
		ParamCommand:   "generateSignature",
		ParamRequestID: "m2",
		ParamMessage:   "cmF3",
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("raw"), req.Message)

	_, err = ParseMessageRequest(map[string]any{ParamCommand: "getSecret", ParamRequestID: 7})
	assert.ErrorIs(t, err, exceptions.ErrMalformedRequest)
}

func TestMessageCodecsRoundTrip(t *testing.T) {
	t.Parallel()
	out := Outcome{
		RequestID: "r",
		Command:   commands.GenerateSignature,
		Response: commands.Response{
			Signature:                    []byte{0, 1, 2, 0xff},
			SignatureVerificationKeyJson: `{"k":1}`,
		},
	}

	cborCodec, err := NewCBORCodec()
	require.NoError(t, err)
	for _, codec := range []Codec{JSONCodec{}, cborCodec} {
		frame, err := codec.Marshal(EncodeMessageResponse(out))
		require.NoError(t, err, codec.Name())
		msg, err := codec.Unmarshal(frame)
		require.NoError(t, err, codec.Name())

		decoded, err := DecodeMessageResponse(msg, commands.GenerateSignature)
		require.NoError(t, err, codec.Name())
		assert.Equal(t, "r", decoded.RequestID, codec.Name())
		assert.Equal(t, out.Response.Signature, decoded.Response.Signature, codec.Name())
		assert.Equal(t, out.Response.SignatureVerificationKeyJson, decoded.Response.SignatureVerificationKeyJson, codec.Name())
	}

	frame, err := JSONCodec{}.Marshal(EncodeMessageResponse(out))
	require.NoError(t, err)
	assert.Contains(t, string(frame), `"signature":"AAEC_w"`)
}

func TestDecodeResponseRequiresFields(t *testing.T) {
	t.Parallel()

	_, err := DecodeMessageResponse(map[string]any{ParamRequestID: "r"}, commands.GetSecret)
	assert.ErrorIs(t, err, exceptions.ErrMissingResponseParameter)

	out, err := DecodeMessageResponse(map[string]any{
		ParamRequestID: "r",
		FieldException: exceptions.NameUserDeclinedToAuthorize,
		FieldMessage:   "declined",
	}, commands.GetSecret)
	require.NoError(t, err)
	require.True(t, out.Failed())
	assert.True(t, out.Exception.IsPolicy())
}

func TestCodecByName(t *testing.T) {
	t.Parallel()
	for _, name := range []string{"", "json", "cbor"} {
		_, err := CodecByName(name)
		assert.NoError(t, err, name)
	}
	_, err := CodecByName("xml")
	assert.Error(t, err)
}
