// Package client issues seedgate commands to a key-holder daemon and
// returns typed results. Requests travel either as URL queries answered by
// redirect or as messages on a websocket; a correlator pairs replies with
// requests in both cases. The daemon cannot authenticate the host of a
// program that is not a browser, so recipes used through this package
// should set requireAuthenticationHandshake and the client should carry a
// token obtained through HandshakeURL.
package client

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/net/websocket"

	"github.com/i5heu/seedgate/pkg/auth"
	"github.com/i5heu/seedgate/pkg/commands"
	"github.com/i5heu/seedgate/pkg/correlator"
	"github.com/i5heu/seedgate/pkg/recipe"
	"github.com/i5heu/seedgate/pkg/seeded"
	"github.com/i5heu/seedgate/pkg/transport"
)

type Option func(*options)

type options struct {
	http   *http.Client
	codec  string
	log    *slog.Logger
	origin string
}

// WithHTTPClient sets the client used by the URL transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) { o.http = hc }
}

// WithCodec selects the websocket codec, "json" or "cbor".
func WithCodec(name string) Option {
	return func(o *options) { o.codec = name }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithOrigin sets the Origin presented on the websocket handshake. It
// defaults to the scheme and host of respondTo. The daemon does not vouch
// for the Origin of a non-browser client, so requests need an auth token.
func WithOrigin(origin string) Option {
	return func(o *options) { o.origin = origin }
}

type Client struct {
	corr      *correlator.Correlator
	respondTo string
	closer    io.Closer

	mu        sync.Mutex
	authToken string
}

func buildOptions(opts []Option) options {
	o := options{http: http.DefaultClient, log: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewURL returns a client for the URL transport. endpoint is the daemon's
// /api URL; respondTo is the URL this client claims results are delivered to.
func NewURL(endpoint, respondTo string, opts ...Option) (*Client, error) {
	o := buildOptions(opts)
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	c := &Client{respondTo: respondTo}
	var deliver func(transport.Outcome) bool
	c.corr = correlator.New(
		newURLTransmitter(u, o.http, func(out transport.Outcome) bool { return deliver(out) }),
		correlator.WithLogger(o.log),
	)
	deliver = c.corr.OnResponse
	return c, nil
}

// DialWebSocket connects to the daemon's /ws endpoint.
func DialWebSocket(ctx context.Context, endpoint, respondTo string, opts ...Option) (*Client, error) {
	o := buildOptions(opts)
	codec, err := transport.CodecByName(o.codec)
	if err != nil {
		return nil, err
	}
	if o.codec != "" {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint += sep + "codec=" + url.QueryEscape(o.codec)
	}

	origin := o.origin
	if origin == "" {
		r, err := url.Parse(respondTo)
		if err != nil || r.Host == "" {
			return nil, fmt.Errorf("respondTo %q is not an absolute URL", respondTo)
		}
		origin = r.Scheme + "://" + r.Host
	}
	cfg, err := websocket.NewConfig(endpoint, origin)
	if err != nil {
		return nil, fmt.Errorf("websocket config: %w", err)
	}
	conn, err := cfg.DialContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}

	c := &Client{respondTo: respondTo}
	var deliver func(transport.Outcome) bool
	tx := newWSTransmitter(conn, codec, func(out transport.Outcome) bool { return deliver(out) }, o.log)
	c.corr = correlator.New(tx, correlator.WithLogger(o.log))
	deliver = c.corr.OnResponse
	c.closer = tx
	return c, nil
}

func (c *Client) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}

// UseAuthToken attaches token to every following request.
func (c *Client) UseAuthToken(token string) {
	c.mu.Lock()
	c.authToken = token
	c.mu.Unlock()
}

// Do sends a raw request. RespondTo and the auth token are filled in when
// the request leaves them empty.
func (c *Client) Do(ctx context.Context, req commands.Request) (commands.Response, error) {
	if req.RespondTo == "" {
		req.RespondTo = c.respondTo
	}
	if req.AuthToken == "" {
		c.mu.Lock()
		req.AuthToken = c.authToken
		c.mu.Unlock()
	}
	return c.corr.Send(ctx, req)
}

// HandshakeURL returns the daemon address a browser must open to obtain an
// auth token for respondTo. Tokens are only issued on a top-level browser
// navigation, and the browser carries the token to respondTo, where
// AuthTokenFromRedirect reads it back.
func HandshakeURL(apiEndpoint, respondTo string) (string, error) {
	u, err := url.Parse(apiEndpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	if _, err := auth.RespondToHost(respondTo); err != nil {
		return "", err
	}
	u.RawQuery = transport.EncodeURLRequest(commands.Request{
		Command:   commands.GetAuthToken,
		RequestID: uuid.NewString(),
		RespondTo: respondTo,
	}).Encode()
	return u.String(), nil
}

// AuthTokenFromRedirect returns the auth token carried by landed, the
// respondTo URL a handshake navigation arrived at.
func AuthTokenFromRedirect(landed string) (string, error) {
	u, err := url.Parse(landed)
	if err != nil {
		return "", fmt.Errorf("parse redirect: %w", err)
	}
	out, err := transport.DecodeURLResponse(u.Query(), commands.GetAuthToken)
	if err != nil {
		return "", err
	}
	if out.Failed() {
		return "", out.Exception
	}
	return out.Response.AuthToken, nil
}

func (c *Client) GetSecret(ctx context.Context, recipeJson string) (seeded.Secret, error) {
	resp, err := c.Do(ctx, commands.Request{Command: commands.GetSecret, DerivationOptionsJson: recipeJson})
	if err != nil {
		return seeded.Secret{}, err
	}
	return seeded.SecretFromJson(resp.SecretJson)
}

func (c *Client) GetSealingKey(ctx context.Context, recipeJson string) (seeded.SealingKey, error) {
	resp, err := c.Do(ctx, commands.Request{Command: commands.GetSealingKey, DerivationOptionsJson: recipeJson})
	if err != nil {
		return seeded.SealingKey{}, err
	}
	return seeded.SealingKeyFromJson(resp.SealingKeyJson)
}

func (c *Client) GetUnsealingKey(ctx context.Context, recipeJson string) (seeded.UnsealingKey, error) {
	resp, err := c.Do(ctx, commands.Request{Command: commands.GetUnsealingKey, DerivationOptionsJson: recipeJson})
	if err != nil {
		return seeded.UnsealingKey{}, err
	}
	return seeded.UnsealingKeyFromJson(resp.UnsealingKeyJson)
}

func (c *Client) GetSymmetricKey(ctx context.Context, recipeJson string) (seeded.SymmetricKey, error) {
	resp, err := c.Do(ctx, commands.Request{Command: commands.GetSymmetricKey, DerivationOptionsJson: recipeJson})
	if err != nil {
		return seeded.SymmetricKey{}, err
	}
	return seeded.SymmetricKeyFromJson(resp.SymmetricKeyJson)
}

func (c *Client) GetSigningKey(ctx context.Context, recipeJson string) (seeded.SigningKey, error) {
	resp, err := c.Do(ctx, commands.Request{Command: commands.GetSigningKey, DerivationOptionsJson: recipeJson})
	if err != nil {
		return seeded.SigningKey{}, err
	}
	return seeded.SigningKeyFromJson(resp.SigningKeyJson)
}

func (c *Client) GetSignatureVerificationKey(
	ctx context.Context,
	recipeJson string,
) (seeded.SignatureVerificationKey, error) {
	resp, err := c.Do(ctx, commands.Request{
		Command:               commands.GetSignatureVerificationKey,
		DerivationOptionsJson: recipeJson,
	})
	if err != nil {
		return seeded.SignatureVerificationKey{}, err
	}
	return seeded.SignatureVerificationKeyFromJson(resp.SignatureVerificationKeyJson)
}

func (c *Client) SealWithSymmetricKey(
	ctx context.Context,
	recipeJson string,
	plaintext []byte,
	unsealingInstructions string,
) (recipe.PackagedSealedMessage, error) {
	if plaintext == nil {
		plaintext = []byte{}
	}
	resp, err := c.Do(ctx, commands.Request{
		Command:               commands.SealWithSymmetricKey,
		DerivationOptionsJson: recipeJson,
		Plaintext:             plaintext,
		UnsealingInstructions: unsealingInstructions,
	})
	if err != nil {
		return recipe.PackagedSealedMessage{}, err
	}
	return recipe.ParsePackagedSealedMessage(resp.PackagedSealedMessageJson)
}

func (c *Client) UnsealWithSymmetricKey(ctx context.Context, m recipe.PackagedSealedMessage) ([]byte, error) {
	return c.unseal(ctx, commands.UnsealWithSymmetricKey, m)
}

func (c *Client) UnsealWithUnsealingKey(ctx context.Context, m recipe.PackagedSealedMessage) ([]byte, error) {
	return c.unseal(ctx, commands.UnsealWithUnsealingKey, m)
}

func (c *Client) unseal(ctx context.Context, cmd commands.Command, m recipe.PackagedSealedMessage) ([]byte, error) {
	resp, err := c.Do(ctx, commands.Request{Command: cmd, PackagedSealedMessageJson: m.Json()})
	if err != nil {
		return nil, err
	}
	return resp.Plaintext, nil
}

// GenerateSignature signs message and returns the signature with the key
// that verifies it.
func (c *Client) GenerateSignature(
	ctx context.Context,
	recipeJson string,
	message []byte,
) ([]byte, seeded.SignatureVerificationKey, error) {
	if message == nil {
		message = []byte{}
	}
	resp, err := c.Do(ctx, commands.Request{
		Command:               commands.GenerateSignature,
		DerivationOptionsJson: recipeJson,
		Message:               message,
	})
	if err != nil {
		return nil, seeded.SignatureVerificationKey{}, err
	}
	vk, err := seeded.SignatureVerificationKeyFromJson(resp.SignatureVerificationKeyJson)
	if err != nil {
		return nil, seeded.SignatureVerificationKey{}, err
	}
	return resp.Signature, vk, nil
}
