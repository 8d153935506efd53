package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/i5heu/seedgate/pkg/exceptions"
	"github.com/i5heu/seedgate/pkg/recipe"
)

// Origin carries the out-of-band facts a transport knows about a request.
type Origin struct { // A
	// Host is the origin host the request claims or was observed from.
	Host string
	// Path is set only by the URL transport.
	Path *string
	// RespondTo is where the response will be delivered.
	RespondTo string
	// HostAuthenticated is true when the transport itself vouches for Host:
	// a top-level browser navigation for the URL transport, a browser
	// websocket handshake for the message transport.
	HostAuthenticated bool
	// AuthToken is the handshake token the request carries, if any.
	AuthToken string
}

// TokenResolver looks up the respond-to URL an auth token was issued for.
type TokenResolver interface { // A
	Resolve(ctx context.Context, token string) (string, bool, error)
}

// RespondToHost returns the host component of a respond-to URL.
func RespondToHost(respondTo string) (string, error) { // A
	u, err := url.Parse(respondTo)
	if err != nil {
		return "", fmt.Errorf("parse respondTo: %w", err)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("respondTo %q has no host", respondTo)
	}
	return u.Hostname(), nil
}

// Check evaluates req against origin. It fails closed: requirements that
// name neither an allow list nor URL prefixes authorize nobody. A host the
// transport could not authenticate is accepted only through a validated
// authentication handshake, and only when req asks for one.
func Check( // A
	ctx context.Context,
	origin Origin,
	req recipe.AuthenticationRequirements,
	resolver TokenResolver,
) error {
	if req.IsEmpty() {
		return exceptions.ClientNotAuthorized(
			"neither allow nor urlPrefixesAllowed is set, so no client is authorized",
		)
	}

	// without transport authentication the host is the one the validated
	// token was issued to
	host := origin.Host
	if req.RequireAuthenticationHandshake {
		tokenHost, err := checkHandshake(ctx, origin, req, resolver)
		if err != nil {
			return err
		}
		if !origin.HostAuthenticated {
			host = tokenHost
		}
	} else if !origin.HostAuthenticated {
		return exceptions.ClientNotAuthorized(
			"the origin of this request could not be authenticated",
		)
	}

	if req.HasAllow() && !IsAuthorized(host, origin.Path, req.Allow) {
		return exceptions.ClientNotAuthorized(
			"host %q is not authorized by allow list %s",
			host, describeAllow(req.Allow),
		)
	}

	if req.HasUrlPrefixes() && !hasAnyPrefix(origin.RespondTo, req.UrlPrefixesAllowed) {
		return exceptions.ClientNotAuthorized(
			"respondTo does not start with any of the allowed URL prefixes",
		)
	}

	return nil
}

// checkHandshake validates the request's auth token and returns the host
// it was issued to.
func checkHandshake( // A
	ctx context.Context,
	origin Origin,
	req recipe.AuthenticationRequirements,
	resolver TokenResolver,
) (string, error) {
	if origin.AuthToken == "" || resolver == nil {
		return "", exceptions.ClientNotAuthorized(
			"an authentication handshake is required but no auth token was presented",
		)
	}
	resolved, ok, err := resolver.Resolve(ctx, origin.AuthToken)
	if err != nil {
		return "", fmt.Errorf("resolve auth token: %w", err)
	}
	if !ok {
		return "", exceptions.ClientNotAuthorized("the auth token is unknown or expired")
	}

	tokenHost, err := RespondToHost(resolved)
	if err != nil {
		return "", exceptions.ClientNotAuthorized("the auth token was issued for an invalid URL")
	}
	requestHost, err := RespondToHost(origin.RespondTo)
	if err != nil || requestHost != tokenHost {
		return "", exceptions.ClientNotAuthorized(
			"the auth token was not issued to the host this request responds to",
		)
	}
	if req.HasUrlPrefixes() && !hasAnyPrefix(resolved, req.UrlPrefixesAllowed) {
		return "", exceptions.ClientNotAuthorized(
			"the auth token was issued for a URL outside the allowed prefixes",
		)
	}
	return tokenHost, nil
}

// CheckTokenIssue permits binding an auth token to origin.RespondTo only
// when the transport vouches for that URL's host.
func CheckTokenIssue(origin Origin) error { // A
	host, err := RespondToHost(origin.RespondTo)
	if err != nil {
		return exceptions.MalformedRequest("respondTo must be an absolute URL: %v", err)
	}
	if !origin.HostAuthenticated || host != origin.Host {
		return exceptions.ClientNotAuthorized(
			"auth tokens are only issued to an authenticated origin for its own respondTo",
		)
	}
	return nil
}

func hasAnyPrefix(s string, prefixes []string) bool { // A
	for _, p := range prefixes {
		if p != "" && strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

func describeAllow(allow []recipe.AllowEntry) string { // A
	b, err := json.Marshal(allow)
	if err != nil {
		return fmt.Sprintf("%v", allow)
	}
	return string(b)
}

// HasPolicy reports whether req constrains the caller at all.
func HasPolicy(req recipe.AuthenticationRequirements) bool { // A
	return !req.IsEmpty() || req.RequireAuthenticationHandshake
}

// CheckUnseal evaluates the two policies of a sealed message. With
// instructionsDecide set, the instructions' requirements apply when they
// define any and the recipe's otherwise. Without it the recipe's
// requirements always apply, and the instructions' too when present.
func CheckUnseal( // A
	ctx context.Context,
	origin Origin,
	recipeReq recipe.AuthenticationRequirements,
	instructionsReq recipe.AuthenticationRequirements,
	instructionsDecide bool,
	resolver TokenResolver,
) error {
	if instructionsDecide {
		if HasPolicy(instructionsReq) {
			return Check(ctx, origin, instructionsReq, resolver)
		}
		return Check(ctx, origin, recipeReq, resolver)
	}
	if err := Check(ctx, origin, recipeReq, resolver); err != nil {
		return err
	}
	if HasPolicy(instructionsReq) {
		return Check(ctx, origin, instructionsReq, resolver)
	}
	return nil
}
