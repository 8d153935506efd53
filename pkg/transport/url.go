package transport

import (
	"fmt"
	"net/url"

	"github.com/i5heu/seedgate/pkg/auth"
	"github.com/i5heu/seedgate/pkg/commands"
	"github.com/i5heu/seedgate/pkg/exceptions"
	"github.com/i5heu/seedgate/pkg/recipe"
)

// ParseURLRequest reads a request from URL query parameters. Binary
// parameters are base64url.
func ParseURLRequest(q url.Values) (commands.Request, error) {
	name := q.Get(ParamCommand)
	cmd, ok := commands.Parse(name)
	if !ok {
		return commands.Request{}, exceptions.MalformedRequest("unknown command %q", name)
	}

	req := commands.Request{
		Command:                   cmd,
		RequestID:                 q.Get(ParamRequestID),
		RespondTo:                 q.Get(ParamRespondTo),
		AuthToken:                 q.Get(ParamAuthToken),
		DerivationOptionsJson:     q.Get(ParamDerivationOptionsJson),
		UnsealingInstructions:     q.Get(ParamUnsealingInstructions),
		PackagedSealedMessageJson: q.Get(ParamPackagedSealedMessageJson),
	}
	if req.DerivationOptionsJson == "" {
		req.DerivationOptionsJson = q.Get(ParamRecipe)
	}
	if req.RequestID == "" {
		return req, exceptions.MalformedRequest("missing %s", ParamRequestID)
	}
	if req.RespondTo == "" {
		return req, exceptions.MalformedRequest("missing %s", ParamRespondTo)
	}

	var err error
	if req.Plaintext, err = binaryParam(q, ParamPlaintext); err != nil {
		return req, err
	}
	if req.Message, err = binaryParam(q, ParamMessage); err != nil {
		return req, err
	}
	return req, nil
}

func binaryParam(q url.Values, name string) ([]byte, error) {
	if !q.Has(name) {
		return nil, nil
	}
	b, err := recipe.DecodeBinary(q.Get(name))
	if err != nil {
		return nil, exceptions.MalformedRequest("%s is not base64url: %v", name, err)
	}
	if b == nil {
		b = []byte{}
	}
	return b, nil
}

// URLOrigin derives the origin of a URL-transport request from its
// respondTo URL. The host is authenticated only when navigation is set:
// the request is a top-level browser navigation, so the browser itself
// carries the redirect to respondTo and no caller reads it first.
func URLOrigin(req commands.Request, navigation bool) (auth.Origin, error) {
	u, err := url.Parse(req.RespondTo)
	if err != nil || u.Hostname() == "" {
		return auth.Origin{}, exceptions.MalformedRequest("respondTo must be an absolute URL")
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return auth.Origin{}, exceptions.MalformedRequest("respondTo must be an http or https URL")
	}
	path := u.Path
	if path == "" {
		path = "/"
	}
	return auth.Origin{
		Host:              u.Hostname(),
		Path:              &path,
		RespondTo:         req.RespondTo,
		HostAuthenticated: navigation,
		AuthToken:         req.AuthToken,
	}, nil
}

// EncodeURLResponse appends the outcome to respondTo as query parameters.
func EncodeURLResponse(respondTo string, out Outcome) (string, error) {
	u, err := url.Parse(respondTo)
	if err != nil {
		return "", fmt.Errorf("parse respondTo: %w", err)
	}
	q := u.Query()
	q.Set(ParamRequestID, out.RequestID)
	for _, f := range out.Fields() {
		switch v := f.Value.(type) {
		case []byte:
			q.Set(f.Name, recipe.EncodeBinary(v))
		case string:
			q.Set(f.Name, v)
		default:
			q.Set(f.Name, fmt.Sprint(v))
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// DecodeURLResponse reads a response appended to a respondTo URL. It is the
// inverse of EncodeURLResponse for the client side.
func DecodeURLResponse(q url.Values, cmd commands.Command) (Outcome, error) {
	out := Outcome{RequestID: q.Get(ParamRequestID), Command: cmd}
	if q.Has(FieldException) {
		out.Exception = exceptions.FromEnvelope(q.Get(FieldException), q.Get(FieldMessage), q.Get(FieldStack))
		return out, nil
	}

	r := commands.Response{
		RequestID:                    out.RequestID,
		Command:                      cmd,
		SecretJson:                   q.Get(FieldSecretJson),
		SealingKeyJson:               q.Get(FieldSealingKeyJson),
		UnsealingKeyJson:             q.Get(FieldUnsealingKeyJson),
		SigningKeyJson:               q.Get(FieldSigningKeyJson),
		SymmetricKeyJson:             q.Get(FieldSymmetricKeyJson),
		SignatureVerificationKeyJson: q.Get(FieldSignatureVerificationKeyJson),
		PackagedSealedMessageJson:    q.Get(FieldPackagedSealedMessageJson),
		AuthToken:                    q.Get(FieldAuthToken),
	}
	var err error
	if r.Plaintext, err = binaryParam(q, FieldPlaintext); err != nil {
		return out, err
	}
	if r.Signature, err = binaryParam(q, FieldSignature); err != nil {
		return out, err
	}
	out.Response = r
	return out, RequireFields(out)
}

// EncodeURLRequest is the client-side inverse of ParseURLRequest.
func EncodeURLRequest(req commands.Request) url.Values {
	q := url.Values{}
	q.Set(ParamCommand, req.Command.String())
	for _, p := range requestStrings(req) {
		if p.Value != "" {
			q.Set(p.Name, p.Value.(string))
		}
	}
	if req.Plaintext != nil {
		q.Set(ParamPlaintext, recipe.EncodeBinary(req.Plaintext))
	}
	if req.Message != nil {
		q.Set(ParamMessage, recipe.EncodeBinary(req.Message))
	}
	return q
}
