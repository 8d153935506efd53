package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/i5heu/seedgate/pkg/exceptions"
	"github.com/i5heu/seedgate/pkg/recipe"
)

type mapResolver map[string]string // A

func (m mapResolver) Resolve( // A
	_ context.Context,
	token string,
) (string, bool, error) {
	u, ok := m[token]
	return u, ok, nil
}

func requireNotAuthorized( // A
	t *testing.T,
	err error,
) {
	t.Helper()
	if !errors.Is(err, exceptions.ErrClientNotAuthorized) {
		t.Fatalf("expected ClientNotAuthorized, got %v", err)
	}
}

func TestCheckFailsClosedWithoutPolicy( // A
	t *testing.T,
) {
	t.Parallel()
	origin := Origin{Host: "a.com", HostAuthenticated: true, RespondTo: "https://a.com/cb"}
	requireNotAuthorized(t, Check(context.Background(), origin, recipe.AuthenticationRequirements{}, nil))
}

func TestCheckAllowList( // A
	t *testing.T,
) {
	t.Parallel()
	req := recipe.AuthenticationRequirements{
		Allow: []recipe.AllowEntry{{Host: "*.a.com"}},
	}
	ok := Origin{Host: "x.a.com", HostAuthenticated: true}
	if err := Check(context.Background(), ok, req, nil); err != nil {
		t.Fatalf("expected authorized: %v", err)
	}

	bad := Origin{Host: "evil.com", HostAuthenticated: true}
	err := Check(context.Background(), bad, req, nil)
	requireNotAuthorized(t, err)
	var ex *exceptions.Exception
	if !errors.As(err, &ex) || ex.Kind != exceptions.KindPolicy {
		t.Fatalf("denial must be a policy outcome, got %v", err)
	}
}

func TestCheckUnauthenticatedHostNeedsHandshake( // A
	t *testing.T,
) {
	t.Parallel()
	req := recipe.AuthenticationRequirements{
		Allow: []recipe.AllowEntry{{Host: "a.com"}},
	}
	origin := Origin{Host: "a.com", RespondTo: "https://a.com/cb", AuthToken: "tok"}
	resolver := mapResolver{"tok": "https://a.com/cb"}

	requireNotAuthorized(t, Check(context.Background(), origin, req, resolver))

	req.RequireAuthenticationHandshake = true
	if err := Check(context.Background(), origin, req, resolver); err != nil {
		t.Fatalf("handshake should validate the host: %v", err)
	}
}

func TestCheckHandshakeRequirements( // A
	t *testing.T,
) {
	t.Parallel()
	req := recipe.AuthenticationRequirements{
		RequireAuthenticationHandshake: true,
		UrlPrefixesAllowed:             []string{"https://a.com/app/"},
	}
	resolver := mapResolver{
		"good":  "https://a.com/app/cb",
		"other": "https://b.com/app/cb",
		"wide":  "https://a.com/elsewhere",
	}
	base := Origin{Host: "a.com", RespondTo: "https://a.com/app/cb", HostAuthenticated: true}

	cases := []struct {
		name  string
		token string
		ok    bool
	}{
		{"valid token", "good", true},
		{"missing token", "", false},
		{"unknown token", "nope", false},
		{"token for another host", "other", false},
		{"token outside prefixes", "wide", false},
	}
	for _, tc := range cases {
		origin := base
		origin.AuthToken = tc.token
		err := Check(context.Background(), origin, req, resolver)
		if tc.ok && err != nil {
			t.Errorf("%s: expected authorized, got %v", tc.name, err)
		}
		if !tc.ok && !errors.Is(err, exceptions.ErrClientNotAuthorized) {
			t.Errorf("%s: expected ClientNotAuthorized, got %v", tc.name, err)
		}
	}
}

func TestCheckUrlPrefixes( // A
	t *testing.T,
) {
	t.Parallel()
	req := recipe.AuthenticationRequirements{
		UrlPrefixesAllowed: []string{"https://a.com/app/"},
	}
	ok := Origin{Host: "a.com", RespondTo: "https://a.com/app/cb", HostAuthenticated: true}
	if err := Check(context.Background(), ok, req, nil); err != nil {
		t.Fatalf("expected authorized: %v", err)
	}
	bad := ok
	bad.RespondTo = "https://a.com.evil.com/app/cb"
	requireNotAuthorized(t, Check(context.Background(), bad, req, nil))
}

func TestCheckMessageDoesNotLeakOtherEntries( // A
	t *testing.T,
) {
	t.Parallel()
	req := recipe.AuthenticationRequirements{
		Allow: []recipe.AllowEntry{{Host: "a.com", Paths: []string{"/x"}}},
	}
	err := Check(context.Background(), Origin{Host: "b.com", HostAuthenticated: true}, req, nil)
	var ex *exceptions.Exception
	if !errors.As(err, &ex) {
		t.Fatalf("expected exception, got %v", err)
	}
	if ex.Message != `host "b.com" is not authorized by allow list [{"host":"a.com","paths":["/x"]}]` {
		t.Fatalf("unexpected message %q", ex.Message)
	}
}

func TestCheckUnauthenticatedHostUsesTokenHost( // A
	t *testing.T,
) {
	t.Parallel()
	req := recipe.AuthenticationRequirements{
		Allow:                          []recipe.AllowEntry{{Host: "bank.example"}},
		RequireAuthenticationHandshake: true,
	}
	resolver := mapResolver{"tok": "https://bank.example/cb"}

	// the claimed host is ignored when the transport cannot vouch for it
	claimed := Origin{Host: "evil.example", RespondTo: "https://bank.example/cb", AuthToken: "tok"}
	if err := Check(context.Background(), claimed, req, resolver); err != nil {
		t.Fatalf("token host should be matched: %v", err)
	}

	req.Allow = []recipe.AllowEntry{{Host: "evil.example"}}
	requireNotAuthorized(t, Check(context.Background(), claimed, req, resolver))
}

func TestCheckRejectsPrefixLengthExtension( // A
	t *testing.T,
) {
	t.Parallel()
	req := recipe.AuthenticationRequirements{
		UrlPrefixesAllowed: []string{"https://example.com/"},
	}
	spoof := Origin{Host: "example.comspoof", RespondTo: "https://example.comspoof/", HostAuthenticated: true}
	requireNotAuthorized(t, Check(context.Background(), spoof, req, nil))

	req.RequireAuthenticationHandshake = true
	spoof.HostAuthenticated = false
	spoof.AuthToken = "tok"
	resolver := mapResolver{"tok": "https://example.comspoof/"}
	requireNotAuthorized(t, Check(context.Background(), spoof, req, resolver))
}

func TestCheckTokenIssue( // A
	t *testing.T,
) {
	t.Parallel()
	ok := Origin{Host: "a.com", RespondTo: "https://a.com/cb", HostAuthenticated: true}
	if err := CheckTokenIssue(ok); err != nil {
		t.Fatalf("expected token issue to be allowed: %v", err)
	}

	unauthenticated := ok
	unauthenticated.HostAuthenticated = false
	requireNotAuthorized(t, CheckTokenIssue(unauthenticated))

	otherHost := ok
	otherHost.RespondTo = "https://bank.example/cb"
	requireNotAuthorized(t, CheckTokenIssue(otherHost))

	bad := ok
	bad.RespondTo = "not a url"
	if !errors.Is(CheckTokenIssue(bad), exceptions.ErrMalformedRequest) {
		t.Fatalf("expected MalformedRequest")
	}
}
