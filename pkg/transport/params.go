// Package transport carries commands over the two wire shapes clients use:
// query parameters on a URL, and key/value messages. Both adapters parse
// into commands.Request, run the same Handler, and encode the outcome as
// result fields or as an exception envelope.
package transport

// Request parameter names.
const (
	ParamCommand                   = "command"
	ParamRequestID                 = "requestId"
	ParamRespondTo                 = "respondTo"
	ParamAuthToken                 = "authToken"
	ParamDerivationOptionsJson     = "derivationOptionsJson"
	ParamRecipe                    = "recipe" // alias of derivationOptionsJson
	ParamPlaintext                 = "plaintext"
	ParamUnsealingInstructions     = "unsealingInstructions"
	ParamPackagedSealedMessageJson = "packagedSealedMessageJson"
	ParamMessage                   = "message"
)

// Response field names.
const (
	FieldSecretJson                   = "secretJson"
	FieldSealingKeyJson               = "sealingKeyJson"
	FieldUnsealingKeyJson             = "unsealingKeyJson"
	FieldSigningKeyJson               = "signingKeyJson"
	FieldSymmetricKeyJson             = "symmetricKeyJson"
	FieldSignatureVerificationKeyJson = "signatureVerificationKeyJson"
	FieldPackagedSealedMessageJson    = "packagedSealedMessageJson"
	FieldPlaintext                    = "plaintext"
	FieldSignature                    = "signature"
	FieldAuthToken                    = "authToken"

	FieldException = "exception"
	FieldMessage   = "message"
	FieldStack     = "stack"
)
