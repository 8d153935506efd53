// Package exceptions defines the outcomes a seedgate command can fail with.
//
// Every failure that crosses a transport boundary is an *Exception. Its Kind
// separates policy outcomes (the request was understood and refused) from
// defects (the request or its data could not be processed), so callers can
// switch on the outcome instead of matching strings.
package exceptions

import (
	"errors"
	"fmt"
)

// Kind classifies an exception.
type Kind int // A

const ( // A
	// KindDefect marks malformed input or a failed primitive.
	KindDefect Kind = iota
	// KindPolicy marks a refusal by the authorization layer or the user.
	KindPolicy
)

// String returns a human-readable label for the kind.
func (k Kind) String() string { // A
	switch k {
	case KindDefect:
		return "defect"
	case KindPolicy:
		return "policy"
	default:
		return "unknown"
	}
}

// Exception names as they appear on the wire.
const ( // A
	NameMalformedRequest                 = "MalformedRequest"
	NameMalformedRecipe                  = "MalformedRecipe"
	NameClientNotAuthorized              = "ClientNotAuthorizedException"
	NameClientMayNotRetrieveKey          = "ClientMayNotRetrieveKeyException"
	NameUserDeclinedToAuthorize          = "UserDeclinedToAuthorizeOperation"
	NameInvalidRecipeType                = "InvalidRecipeTypeException"
	NameCryptographicVerificationFailure = "CryptographicVerificationFailureException"
	NameMissingResponseParameter         = "MissingResponseParameter"
	NameProofOfPriorDerivationMismatch   = "ProofOfPriorDerivationMismatch"
	NameRateLimited                      = "RateLimited"
	NameUnknown                          = "Exception"
)

var kinds = map[string]Kind{ // A
	NameMalformedRequest:                 KindDefect,
	NameMalformedRecipe:                  KindDefect,
	NameClientNotAuthorized:              KindPolicy,
	NameClientMayNotRetrieveKey:          KindPolicy,
	NameUserDeclinedToAuthorize:          KindPolicy,
	NameInvalidRecipeType:                KindPolicy,
	NameCryptographicVerificationFailure: KindDefect,
	NameMissingResponseParameter:         KindDefect,
	NameProofOfPriorDerivationMismatch:   KindPolicy,
	NameRateLimited:                      KindPolicy,
}

// Exception is the single error type for protocol outcomes.
type Exception struct { // A
	Kind    Kind
	Name    string
	Message string
	// ObjectType is set for ClientMayNotRetrieveKeyException.
	ObjectType string
	// Stack is only populated on exceptions rebuilt from a response envelope.
	Stack string
	cause error
}

// Error implements error.
func (e *Exception) Error() string { // A
	if e.Message == "" {
		return e.Name
	}
	return e.Name + ": " + e.Message
}

// Unwrap returns the underlying cause, if any.
func (e *Exception) Unwrap() error { // A
	return e.cause
}

// Is reports whether target is an *Exception with the same name. This lets
// callers write errors.Is(err, exceptions.ErrClientNotAuthorized).
func (e *Exception) Is(target error) bool { // A
	var other *Exception
	if !errors.As(target, &other) {
		return false
	}
	return other.Name == e.Name
}

// IsPolicy reports whether the exception is a policy outcome.
func (e *Exception) IsPolicy() bool { // A
	return e.Kind == KindPolicy
}

// Sentinels for errors.Is comparisons.
var ( // A
	ErrMalformedRequest                 = &Exception{Kind: KindDefect, Name: NameMalformedRequest}
	ErrMalformedRecipe                  = &Exception{Kind: KindDefect, Name: NameMalformedRecipe}
	ErrClientNotAuthorized              = &Exception{Kind: KindPolicy, Name: NameClientNotAuthorized}
	ErrClientMayNotRetrieveKey          = &Exception{Kind: KindPolicy, Name: NameClientMayNotRetrieveKey}
	ErrUserDeclinedToAuthorize          = &Exception{Kind: KindPolicy, Name: NameUserDeclinedToAuthorize}
	ErrInvalidRecipeType                = &Exception{Kind: KindPolicy, Name: NameInvalidRecipeType}
	ErrCryptographicVerificationFailure = &Exception{Kind: KindDefect, Name: NameCryptographicVerificationFailure}
	ErrMissingResponseParameter         = &Exception{Kind: KindDefect, Name: NameMissingResponseParameter}
	ErrProofOfPriorDerivationMismatch   = &Exception{Kind: KindPolicy, Name: NameProofOfPriorDerivationMismatch}
	ErrRateLimited                      = &Exception{Kind: KindPolicy, Name: NameRateLimited}
)

func newf(name string, format string, args ...any) *Exception { // A
	return &Exception{
		Kind:    KindOf(name),
		Name:    name,
		Message: fmt.Sprintf(format, args...),
	}
}

// KindOf returns the kind registered for an exception name. Unknown names
// are treated as defects.
func KindOf(name string) Kind { // A
	if k, ok := kinds[name]; ok {
		return k
	}
	return KindDefect
}

// MalformedRequest reports a missing or invalid request parameter.
func MalformedRequest(format string, args ...any) *Exception { // A
	return newf(NameMalformedRequest, format, args...)
}

// RateLimited reports a request refused because its client exceeded its
// request budget.
func RateLimited() *Exception { // A
	return newf(NameRateLimited, "too many requests, retry later")
}

// MalformedRecipe reports a recipe that is not a valid JSON object or carries
// an unknown type tag.
func MalformedRecipe(cause error, format string, args ...any) *Exception { // A
	e := newf(NameMalformedRecipe, format, args...)
	e.cause = cause
	return e
}

// ClientNotAuthorized reports an allow-list, prefix or handshake failure.
func ClientNotAuthorized(format string, args ...any) *Exception { // A
	return newf(NameClientNotAuthorized, format, args...)
}

// ClientMayNotRetrieveKey reports a raw-key request on a recipe without
// clientMayRetrieveKey.
func ClientMayNotRetrieveKey(objectType string) *Exception { // A
	e := newf(
		NameClientMayNotRetrieveKey,
		"the recipe does not allow the client to retrieve the raw %s",
		objectType,
	)
	e.ObjectType = objectType
	return e
}

// UserDeclinedToAuthorize reports a declined consent prompt.
func UserDeclinedToAuthorize() *Exception { // A
	return newf(NameUserDeclinedToAuthorize, "the user declined to authorize the operation")
}

// InvalidRecipeType reports a type tag that does not match the command.
func InvalidRecipeType(required, found string) *Exception { // A
	return newf(
		NameInvalidRecipeType,
		"recipe type %q cannot be used to derive a %s",
		found, required,
	)
}

// CryptographicVerificationFailure reports a failed unseal.
func CryptographicVerificationFailure(cause error) *Exception { // A
	e := newf(NameCryptographicVerificationFailure, "ciphertext could not be authenticated")
	e.cause = cause
	return e
}

// MissingResponseParameter reports a response that lacks an expected field.
func MissingResponseParameter(name string) *Exception { // A
	return newf(NameMissingResponseParameter, "response is missing parameter %q", name)
}

// ProofOfPriorDerivationMismatch reports a recipe whose proof was not produced
// by the loaded key.
func ProofOfPriorDerivationMismatch() *Exception { // A
	return newf(
		NameProofOfPriorDerivationMismatch,
		"the loaded key did not produce this recipe's proof of prior derivation",
	)
}

// FromEnvelope rebuilds an exception received in a response envelope.
func FromEnvelope(name, message, stack string) *Exception { // A
	if name == "" {
		name = NameUnknown
	}
	return &Exception{
		Kind:    KindOf(name),
		Name:    name,
		Message: message,
		Stack:   stack,
	}
}

// From converts an arbitrary error into an Exception. Errors that already
// wrap an Exception are returned as that Exception; anything else becomes an
// unnamed defect carrying the error text.
func From(err error) *Exception { // A
	if err == nil {
		return nil
	}
	var e *Exception
	if errors.As(err, &e) {
		return e
	}
	return &Exception{
		Kind:    KindDefect,
		Name:    NameUnknown,
		Message: err.Error(),
		cause:   err,
	}
}
