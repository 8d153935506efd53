// Package commands implements the cryptographic operations a client may
// request. Every command obtains its seed from a seedAccessor.SeedAccessor
// and never touches the physical key itself.
package commands

// Command identifies an operation.
type Command int

const (
	Unknown Command = iota
	GetSecret
	GetSealingKey
	GetUnsealingKey
	GetSigningKey
	GetSymmetricKey
	GetSignatureVerificationKey
	SealWithSymmetricKey
	UnsealWithSymmetricKey
	UnsealWithUnsealingKey
	GenerateSignature
	GetAuthToken
)

var commandNames = [...]string{
	Unknown:                     "unknown",
	GetSecret:                   "getSecret",
	GetSealingKey:               "getSealingKey",
	GetUnsealingKey:             "getUnsealingKey",
	GetSigningKey:               "getSigningKey",
	GetSymmetricKey:             "getSymmetricKey",
	GetSignatureVerificationKey: "getSignatureVerificationKey",
	SealWithSymmetricKey:        "sealWithSymmetricKey",
	UnsealWithSymmetricKey:      "unsealWithSymmetricKey",
	UnsealWithUnsealingKey:      "unsealWithUnsealingKey",
	GenerateSignature:           "generateSignature",
	GetAuthToken:                "getAuthToken",
}

// All lists every valid command.
var All = []Command{
	GetSecret,
	GetSealingKey,
	GetUnsealingKey,
	GetSigningKey,
	GetSymmetricKey,
	GetSignatureVerificationKey,
	SealWithSymmetricKey,
	UnsealWithSymmetricKey,
	UnsealWithUnsealingKey,
	GenerateSignature,
	GetAuthToken,
}

func (c Command) String() string {
	if c < 0 || int(c) >= len(commandNames) {
		return commandNames[Unknown]
	}
	return commandNames[c]
}

// Parse returns the command with the given wire name.
func Parse(name string) (Command, bool) {
	for _, c := range All {
		if commandNames[c] == name {
			return c, true
		}
	}
	return Unknown, false
}

// TakesRecipe reports whether the command reads derivationOptionsJson
// from the request.
func (c Command) TakesRecipe() bool {
	switch c {
	case GetSecret, GetSealingKey, GetUnsealingKey, GetSigningKey, GetSymmetricKey,
		GetSignatureVerificationKey, SealWithSymmetricKey, GenerateSignature:
		return true
	default:
		return false
	}
}

// TakesSealedMessage reports whether the command reads
// packagedSealedMessageJson from the request.
func (c Command) TakesSealedMessage() bool {
	return c == UnsealWithSymmetricKey || c == UnsealWithUnsealingKey
}
