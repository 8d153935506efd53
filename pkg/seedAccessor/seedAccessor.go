// Package seedAccessor is the reference monitor between commands and the
// physical key. Commands never see the key or the key loader: every seed
// they derive from passes through one of the SeedAccessor methods, which
// evaluate the request's policy before the key is loaded.
package seedAccessor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/i5heu/seedgate/pkg/auth"
	"github.com/i5heu/seedgate/pkg/diceKey"
	"github.com/i5heu/seedgate/pkg/exceptions"
	"github.com/i5heu/seedgate/pkg/proof"
	"github.com/i5heu/seedgate/pkg/recipe"
)

// CommandGetSealingKey names the one command that may run without a recipe.
const CommandGetSealingKey = "getSealingKey"

// KeyLoader produces the physical key. It may block, for example while the
// user scans their dice.
type KeyLoader interface {
	LoadPhysicalKey(ctx context.Context) (diceKey.Key, error)
}

// KeyLoaderFunc adapts a function to KeyLoader.
type KeyLoaderFunc func(ctx context.Context) (diceKey.Key, error)

// LoadPhysicalKey calls f.
func (f KeyLoaderFunc) LoadPhysicalKey(ctx context.Context) (diceKey.Key, error) {
	return f(ctx)
}

// ConsentRequester asks the key holder to confirm an operation.
type ConsentRequester interface {
	RequestUserConsent(ctx context.Context, consent recipe.UsersConsent) (bool, error)
}

// ConsentFunc adapts a function to ConsentRequester.
type ConsentFunc func(ctx context.Context, consent recipe.UsersConsent) (bool, error)

// RequestUserConsent calls f.
func (f ConsentFunc) RequestUserConsent(ctx context.Context, consent recipe.UsersConsent) (bool, error) {
	return f(ctx, consent)
}

// Handshake issues and resolves authentication tokens.
type Handshake interface {
	auth.TokenResolver
	IssueToken(ctx context.Context, respondToUrl string) (string, error)
}

// SeedAccessor is the request-scoped view commands receive.
type SeedAccessor interface {
	// SeedForRecipe authorizes a derivation under recipeJson.
	SeedForRecipe(ctx context.Context, recipeJson string, objectType recipe.ObjectType) (string, error)
	// SeedForUnseal authorizes unsealing m, honouring its instructions.
	SeedForUnseal(ctx context.Context, m recipe.PackagedSealedMessage, objectType recipe.ObjectType) (string, error)
	// SeedForRawKeyRetrieval is SeedForRecipe for commands that hand out a
	// private or symmetric key, which the recipe must explicitly permit.
	SeedForRawKeyRetrieval(ctx context.Context, recipeJson string, objectType recipe.ObjectType) (string, error)
	// IssueAuthToken starts an authentication handshake for respondTo.
	IssueAuthToken(ctx context.Context, respondTo string) (string, error)
}

type Config struct {
	KeyLoader KeyLoader
	// Consent is asked when unsealing instructions require it. Without one,
	// such requests are declined.
	Consent   ConsentRequester
	Handshake Handshake
	// Hasher verifies proofs of prior derivation; proof.DefaultHasher when nil.
	Hasher proof.Hasher
	Logger *slog.Logger
}

// Accessor holds the collaborators shared by all requests.
type Accessor struct {
	cfg Config
	log *slog.Logger
}

func New(cfg Config) (*Accessor, error) {
	if cfg.KeyLoader == nil {
		return nil, errors.New("seedAccessor: a KeyLoader is required")
	}
	if cfg.Handshake == nil {
		return nil, errors.New("seedAccessor: a Handshake store is required")
	}
	if cfg.Hasher == nil {
		cfg.Hasher = proof.DefaultHasher
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Accessor{cfg: cfg, log: log}, nil
}

// ForRequest binds the accessor to one request's origin and command.
func (a *Accessor) ForRequest(origin auth.Origin, command string) SeedAccessor {
	return &requestAccessor{
		a:       a,
		origin:  origin,
		command: command,
		log:     a.log.With("command", command),
	}
}

type requestAccessor struct {
	a       *Accessor
	origin  auth.Origin
	command string
	log     *slog.Logger
}

func (r *requestAccessor) SeedForRecipe(
	ctx context.Context,
	recipeJson string,
	objectType recipe.ObjectType,
) (string, error) {
	rec, err := parseTyped(recipeJson, objectType)
	if err != nil {
		return "", err
	}

	exempt := r.command == CommandGetSealingKey && strings.TrimSpace(recipeJson) == ""
	if !exempt {
		if err := r.check(ctx, rec.Requirements()); err != nil {
			return "", err
		}
	}

	return r.seed(ctx, rec, recipeJson)
}

func (r *requestAccessor) SeedForRawKeyRetrieval(
	ctx context.Context,
	recipeJson string,
	objectType recipe.ObjectType,
) (string, error) {
	rec, err := parseTyped(recipeJson, objectType)
	if err != nil {
		return "", err
	}
	if err := r.check(ctx, rec.Requirements()); err != nil {
		return "", err
	}
	if !rec.ClientMayRetrieveKey() {
		return "", exceptions.ClientMayNotRetrieveKey(objectType.String())
	}
	return r.seed(ctx, rec, recipeJson)
}

func (r *requestAccessor) SeedForUnseal(
	ctx context.Context,
	m recipe.PackagedSealedMessage,
	objectType recipe.ObjectType,
) (string, error) {
	rec, err := parseTyped(m.DerivationOptionsJson, objectType)
	if err != nil {
		return "", err
	}
	instructions, err := m.Instructions()
	if err != nil {
		return "", err
	}

	if consent, ok := instructions.RequireUsersConsent(); ok {
		if err := r.requestConsent(ctx, consent); err != nil {
			return "", err
		}
	}

	err = auth.CheckUnseal(
		ctx,
		r.origin,
		rec.Requirements(),
		instructions.Requirements(),
		objectType == recipe.TypeUnsealingKey,
		r.a.cfg.Handshake,
	)
	if err != nil {
		r.log.Info("request denied", "host", r.origin.Host, "reason", err)
		return "", err
	}

	return r.seed(ctx, rec, m.DerivationOptionsJson)
}

func (r *requestAccessor) IssueAuthToken(ctx context.Context, respondTo string) (string, error) {
	origin := r.origin
	origin.RespondTo = respondTo
	if err := auth.CheckTokenIssue(origin); err != nil {
		r.log.Info("auth token refused", "host", r.origin.Host, "reason", err)
		return "", err
	}
	return r.a.cfg.Handshake.IssueToken(ctx, respondTo)
}

func (r *requestAccessor) check(ctx context.Context, req recipe.AuthenticationRequirements) error {
	err := auth.Check(ctx, r.origin, req, r.a.cfg.Handshake)
	if err != nil {
		r.log.Info("request denied", "host", r.origin.Host, "reason", err)
	}
	return err
}

func (r *requestAccessor) requestConsent(ctx context.Context, consent recipe.UsersConsent) error {
	if r.a.cfg.Consent == nil {
		r.log.Warn("consent required but no consent requester is configured")
		return exceptions.UserDeclinedToAuthorize()
	}
	ok, err := r.a.cfg.Consent.RequestUserConsent(ctx, consent)
	if err != nil {
		return fmt.Errorf("request user consent: %w", err)
	}
	if !ok {
		return exceptions.UserDeclinedToAuthorize()
	}
	return nil
}

// seed loads the key and computes the seed string for rec. It is reached
// only after every policy check has passed.
func (r *requestAccessor) seed(ctx context.Context, rec recipe.Recipe, recipeJson string) (string, error) {
	key, err := r.a.cfg.KeyLoader.LoadPhysicalKey(ctx)
	if err != nil {
		return "", fmt.Errorf("load physical key: %w", err)
	}
	if key.IsZero() {
		return "", errors.New("load physical key: no key was provided")
	}
	seed := key.Seed(rec.ExcludeOrientationOfFaces())

	if p, ok := rec.ProofOfPriorDerivation(); ok && p != "" {
		valid, err := proof.Verify(ctx, r.a.cfg.Hasher, seed, recipeJson)
		if err != nil {
			return "", err
		}
		if !valid {
			return "", exceptions.ProofOfPriorDerivationMismatch()
		}
	}
	return seed, nil
}

func parseTyped(recipeJson string, objectType recipe.ObjectType) (recipe.Recipe, error) {
	rec, err := recipe.Parse(recipeJson)
	if err != nil {
		return recipe.Recipe{}, err
	}
	if err := rec.CheckType(objectType); err != nil {
		return recipe.Recipe{}, err
	}
	return rec, nil
}
