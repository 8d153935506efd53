package recipe

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/i5heu/seedgate/pkg/exceptions"
)

// UsersConsent asks the key holder to confirm an unseal.
type UsersConsent struct { // A
	Question           string             `json:"question"`
	ActionButtonLabels ActionButtonLabels `json:"actionButtonLabels"`
}

// ActionButtonLabels are the labels of the consent prompt's buttons.
type ActionButtonLabels struct { // A
	Allow   string `json:"allow"`
	Decline string `json:"decline"`
}

type instructionsView struct { // A
	Allow                          []AllowEntry  `json:"allow"`
	RequireAuthenticationHandshake *bool         `json:"requireAuthenticationHandshake"`
	UrlPrefixesAllowed             []string      `json:"urlPrefixesAllowed"`
	RequireUsersConsent            *UsersConsent `json:"requireUsersConsent"`
}

// UnsealingInstructions is the per-message policy bound to a sealed message.
type UnsealingInstructions struct { // A
	fields map[string]any
	v      instructionsView
}

// ParseUnsealingInstructions parses instructions JSON. Empty text yields
// empty instructions.
func ParseUnsealingInstructions(jsonText string) (UnsealingInstructions, error) { // A
	if strings.TrimSpace(jsonText) == "" {
		return UnsealingInstructions{fields: map[string]any{}}, nil
	}
	generic, err := decodeGeneric([]byte(jsonText))
	if err != nil {
		return UnsealingInstructions{}, exceptions.MalformedRecipe(
			err, "unsealing instructions are not valid JSON: %v", err,
		)
	}
	obj, ok := generic.(map[string]any)
	if !ok {
		return UnsealingInstructions{}, exceptions.MalformedRecipe(
			nil, "unsealing instructions must be a JSON object",
		)
	}

	var v instructionsView
	dec := json.NewDecoder(bytes.NewReader([]byte(jsonText)))
	if err := dec.Decode(&v); err != nil {
		return UnsealingInstructions{}, exceptions.MalformedRecipe(
			err, "unsealing instructions have a mistyped field: %v", err,
		)
	}
	return UnsealingInstructions{fields: obj, v: v}, nil
}

// Canonical returns the sorted-key JSON form.
func (u UnsealingInstructions) Canonical() string { // A
	out, err := encodeCanonical(u.fieldsOrEmpty())
	if err != nil {
		panic("recipe: canonical encode of unsealing instructions: " + err.Error())
	}
	return out
}

// IsEmpty reports whether no instructions were given.
func (u UnsealingInstructions) IsEmpty() bool { // A
	return len(u.fields) == 0
}

// RequireUsersConsent returns the consent prompt, if one is required.
func (u UnsealingInstructions) RequireUsersConsent() (UsersConsent, bool) { // A
	if u.v.RequireUsersConsent == nil {
		return UsersConsent{}, false
	}
	return *u.v.RequireUsersConsent, true
}

// Requirements returns the instructions' own authentication requirements.
func (u UnsealingInstructions) Requirements() AuthenticationRequirements { // A
	return AuthenticationRequirements{
		Allow:                          copyAllow(u.v.Allow),
		RequireAuthenticationHandshake: u.v.RequireAuthenticationHandshake != nil && *u.v.RequireAuthenticationHandshake,
		UrlPrefixesAllowed:             append([]string(nil), u.v.UrlPrefixesAllowed...),
	}
}

func (u UnsealingInstructions) fieldsOrEmpty() map[string]any { // A
	if u.fields == nil {
		return map[string]any{}
	}
	return u.fields
}
