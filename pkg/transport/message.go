package transport

import (
	"github.com/i5heu/seedgate/pkg/commands"
	"github.com/i5heu/seedgate/pkg/exceptions"
	"github.com/i5heu/seedgate/pkg/recipe"
)

var expectedFields = map[commands.Command][]string{
	commands.GetSecret:                   {FieldSecretJson},
	commands.GetSealingKey:               {FieldSealingKeyJson},
	commands.GetUnsealingKey:             {FieldUnsealingKeyJson},
	commands.GetSigningKey:               {FieldSigningKeyJson},
	commands.GetSymmetricKey:             {FieldSymmetricKeyJson},
	commands.GetSignatureVerificationKey: {FieldSignatureVerificationKeyJson},
	commands.SealWithSymmetricKey:        {FieldPackagedSealedMessageJson},
	commands.UnsealWithSymmetricKey:      {FieldPlaintext},
	commands.UnsealWithUnsealingKey:      {FieldPlaintext},
	commands.GenerateSignature:           {FieldSignature, FieldSignatureVerificationKeyJson},
	commands.GetAuthToken:                {FieldAuthToken},
}

// RequireFields fails with MissingResponseParameter when a successful
// outcome lacks a field its command always returns.
func RequireFields(out Outcome) error {
	if out.Failed() {
		return nil
	}
	present := map[string]bool{}
	for _, f := range out.Fields() {
		present[f.Name] = true
	}
	for _, name := range expectedFields[out.Command] {
		if !present[name] {
			return exceptions.MissingResponseParameter(name)
		}
	}
	return nil
}

// ParseMessageRequest reads a request from a decoded message. Recipes and
// instructions may be JSON text or nested objects; binary parameters may be
// byte strings or base64url text.
func ParseMessageRequest(msg map[string]any) (commands.Request, error) {
	name, _ := msg[ParamCommand].(string)
	cmd, ok := commands.Parse(name)
	if !ok {
		return commands.Request{}, exceptions.MalformedRequest("unknown command %q", name)
	}

	req := commands.Request{Command: cmd}
	var err error
	if req.RequestID, err = stringParam(msg, ParamRequestID); err != nil {
		return req, err
	}
	if req.RequestID == "" {
		return req, exceptions.MalformedRequest("missing %s", ParamRequestID)
	}
	if req.RespondTo, err = stringParam(msg, ParamRespondTo); err != nil {
		return req, err
	}
	if req.AuthToken, err = stringParam(msg, ParamAuthToken); err != nil {
		return req, err
	}
	if req.DerivationOptionsJson, err = jsonParam(msg, ParamDerivationOptionsJson); err != nil {
		return req, err
	}
	if req.DerivationOptionsJson == "" {
		if req.DerivationOptionsJson, err = jsonParam(msg, ParamRecipe); err != nil {
			return req, err
		}
	}
	if req.UnsealingInstructions, err = jsonParam(msg, ParamUnsealingInstructions); err != nil {
		return req, err
	}
	if req.PackagedSealedMessageJson, err = jsonParam(msg, ParamPackagedSealedMessageJson); err != nil {
		return req, err
	}
	if req.Plaintext, err = bytesParam(msg, ParamPlaintext); err != nil {
		return req, err
	}
	if req.Message, err = bytesParam(msg, ParamMessage); err != nil {
		return req, err
	}
	return req, nil
}

// EncodeMessageResponse builds the reply message. Binary fields stay
// []byte; codecs that cannot carry bytes convert them.
func EncodeMessageResponse(out Outcome) map[string]any {
	msg := map[string]any{ParamRequestID: out.RequestID}
	for _, f := range out.Fields() {
		msg[f.Name] = f.Value
	}
	return msg
}

// DecodeMessageResponse reads a reply message for a request of cmd.
func DecodeMessageResponse(msg map[string]any, cmd commands.Command) (Outcome, error) {
	id, _ := msg[ParamRequestID].(string)
	out := Outcome{RequestID: id, Command: cmd}

	if name, ok := msg[FieldException].(string); ok {
		message, _ := msg[FieldMessage].(string)
		stack, _ := msg[FieldStack].(string)
		out.Exception = exceptions.FromEnvelope(name, message, stack)
		return out, nil
	}

	get := func(name string) string {
		s, _ := msg[name].(string)
		return s
	}
	r := commands.Response{
		RequestID:                    id,
		Command:                      cmd,
		SecretJson:                   get(FieldSecretJson),
		SealingKeyJson:               get(FieldSealingKeyJson),
		UnsealingKeyJson:             get(FieldUnsealingKeyJson),
		SigningKeyJson:               get(FieldSigningKeyJson),
		SymmetricKeyJson:             get(FieldSymmetricKeyJson),
		SignatureVerificationKeyJson: get(FieldSignatureVerificationKeyJson),
		PackagedSealedMessageJson:    get(FieldPackagedSealedMessageJson),
		AuthToken:                    get(FieldAuthToken),
	}
	var err error
	if r.Plaintext, err = bytesParam(msg, FieldPlaintext); err != nil {
		return out, err
	}
	if r.Signature, err = bytesParam(msg, FieldSignature); err != nil {
		return out, err
	}
	out.Response = r
	return out, RequireFields(out)
}

func stringParam(msg map[string]any, name string) (string, error) {
	switch v := msg[name].(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	default:
		return "", exceptions.MalformedRequest("%s must be a string, got %T", name, v)
	}
}

// jsonParam accepts JSON text or an already decoded object.
func jsonParam(msg map[string]any, name string) (string, error) {
	switch v := msg[name].(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case map[string]any:
		text, err := recipe.Canonicalize(v)
		if err != nil {
			return "", exceptions.MalformedRequest("%s cannot be encoded: %v", name, err)
		}
		return text, nil
	default:
		return "", exceptions.MalformedRequest("%s must be JSON text or an object, got %T", name, v)
	}
}

func bytesParam(msg map[string]any, name string) ([]byte, error) {
	switch v := msg[name].(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		b, err := recipe.DecodeBinary(v)
		if err != nil {
			return nil, exceptions.MalformedRequest("%s is not base64url: %v", name, err)
		}
		if b == nil {
			b = []byte{}
		}
		return b, nil
	default:
		return nil, exceptions.MalformedRequest("%s must be bytes, got %T", name, v)
	}
}

// EncodeMessageRequest is the client-side inverse of ParseMessageRequest.
func EncodeMessageRequest(req commands.Request) map[string]any {
	msg := map[string]any{ParamCommand: req.Command.String()}
	for _, p := range requestStrings(req) {
		if p.Value != "" {
			msg[p.Name] = p.Value
		}
	}
	if req.Plaintext != nil {
		msg[ParamPlaintext] = req.Plaintext
	}
	if req.Message != nil {
		msg[ParamMessage] = req.Message
	}
	return msg
}

func requestStrings(req commands.Request) []Field {
	return []Field{
		{ParamRequestID, req.RequestID},
		{ParamRespondTo, req.RespondTo},
		{ParamAuthToken, req.AuthToken},
		{ParamDerivationOptionsJson, req.DerivationOptionsJson},
		{ParamUnsealingInstructions, req.UnsealingInstructions},
		{ParamPackagedSealedMessageJson, req.PackagedSealedMessageJson},
	}
}
