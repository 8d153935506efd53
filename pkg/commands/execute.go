package commands

import (
	"context"
	"log/slog"

	"github.com/i5heu/seedgate/pkg/exceptions"
	"github.com/i5heu/seedgate/pkg/proof"
	"github.com/i5heu/seedgate/pkg/recipe"
	"github.com/i5heu/seedgate/pkg/seedAccessor"
	"github.com/i5heu/seedgate/pkg/seeded"
)

// Request is a parsed command request, independent of transport.
type Request struct {
	Command   Command
	RequestID string
	RespondTo string
	AuthToken string

	// DerivationOptionsJson is the recipe.
	DerivationOptionsJson     string
	Plaintext                 []byte
	UnsealingInstructions     string
	PackagedSealedMessageJson string
	Message                   []byte
}

// Response carries the result fields of one command. Exactly the fields
// of the executed command are set.
type Response struct {
	RequestID string
	Command   Command

	SecretJson                   string
	SealingKeyJson               string
	UnsealingKeyJson             string
	SigningKeyJson               string
	SymmetricKeyJson             string
	SignatureVerificationKeyJson string
	PackagedSealedMessageJson    string
	Plaintext                    []byte
	Signature                    []byte
	AuthToken                    string
}

type Config struct {
	// Hasher computes proofs of prior derivation; proof.DefaultHasher when nil.
	Hasher proof.Hasher
	Logger *slog.Logger
}

// Executor runs commands.
type Executor struct {
	hasher proof.Hasher
	log    *slog.Logger
}

func New(cfg Config) *Executor {
	e := &Executor{hasher: cfg.Hasher, log: cfg.Logger}
	if e.hasher == nil {
		e.hasher = proof.DefaultHasher
	}
	if e.log == nil {
		e.log = slog.Default()
	}
	return e
}

// Execute runs req.Command using seeds obtained from sa.
func (e *Executor) Execute(
	ctx context.Context,
	sa seedAccessor.SeedAccessor,
	req Request,
) (Response, error) {
	resp := Response{RequestID: req.RequestID, Command: req.Command}
	e.log.Debug("executing command", "command", req.Command.String(), "requestId", req.RequestID)

	var err error
	switch req.Command {
	case GetSecret:
		err = e.getSecret(ctx, sa, req, &resp)
	case GetSealingKey:
		err = e.getSealingKey(ctx, sa, req, &resp)
	case GetUnsealingKey:
		err = e.getUnsealingKey(ctx, sa, req, &resp)
	case GetSigningKey:
		err = e.getSigningKey(ctx, sa, req, &resp)
	case GetSymmetricKey:
		err = e.getSymmetricKey(ctx, sa, req, &resp)
	case GetSignatureVerificationKey:
		err = e.getSignatureVerificationKey(ctx, sa, req, &resp)
	case SealWithSymmetricKey:
		err = e.sealWithSymmetricKey(ctx, sa, req, &resp)
	case UnsealWithSymmetricKey:
		err = e.unsealWithSymmetricKey(ctx, sa, req, &resp)
	case UnsealWithUnsealingKey:
		err = e.unsealWithUnsealingKey(ctx, sa, req, &resp)
	case GenerateSignature:
		err = e.generateSignature(ctx, sa, req, &resp)
	case GetAuthToken:
		err = e.getAuthToken(ctx, sa, req, &resp)
	case Unknown:
		err = exceptions.MalformedRequest("unknown command")
	default:
		err = exceptions.MalformedRequest("unknown command %d", int(req.Command))
	}
	if err != nil {
		return Response{RequestID: req.RequestID, Command: req.Command}, err
	}
	return resp, nil
}

// finalRecipe attaches a proof of prior derivation when the recipe asks
// for one with an empty proof field. The result is the recipe the object
// is derived under and reported with.
func (e *Executor) finalRecipe(ctx context.Context, seed, recipeJson string) (string, error) {
	r, err := recipe.Parse(recipeJson)
	if err != nil {
		return "", err
	}
	if p, ok := r.ProofOfPriorDerivation(); ok && p == "" {
		return proof.Attach(ctx, e.hasher, seed, recipeJson)
	}
	return recipeJson, nil
}

func (e *Executor) getSecret(ctx context.Context, sa seedAccessor.SeedAccessor, req Request, resp *Response) error {
	seed, err := sa.SeedForRecipe(ctx, req.DerivationOptionsJson, recipe.TypeSecret)
	if err != nil {
		return err
	}
	rj, err := e.finalRecipe(ctx, seed, req.DerivationOptionsJson)
	if err != nil {
		return err
	}
	secret, err := seeded.DeriveSecret(seed, rj)
	if err != nil {
		return err
	}
	defer secret.Dispose()
	resp.SecretJson = secret.Json()
	return nil
}

func (e *Executor) getSealingKey(ctx context.Context, sa seedAccessor.SeedAccessor, req Request, resp *Response) error {
	seed, err := sa.SeedForRecipe(ctx, req.DerivationOptionsJson, recipe.TypeUnsealingKey)
	if err != nil {
		return err
	}
	rj, err := e.finalRecipe(ctx, seed, req.DerivationOptionsJson)
	if err != nil {
		return err
	}
	uk, err := seeded.DeriveUnsealingKey(seed, rj)
	if err != nil {
		return err
	}
	defer uk.Dispose()
	resp.SealingKeyJson = uk.SealingKey().Json()
	return nil
}

func (e *Executor) getUnsealingKey(ctx context.Context, sa seedAccessor.SeedAccessor, req Request, resp *Response) error {
	seed, err := sa.SeedForRawKeyRetrieval(ctx, req.DerivationOptionsJson, recipe.TypeUnsealingKey)
	if err != nil {
		return err
	}
	rj, err := e.finalRecipe(ctx, seed, req.DerivationOptionsJson)
	if err != nil {
		return err
	}
	uk, err := seeded.DeriveUnsealingKey(seed, rj)
	if err != nil {
		return err
	}
	defer uk.Dispose()
	resp.UnsealingKeyJson = uk.Json()
	return nil
}

func (e *Executor) getSigningKey(ctx context.Context, sa seedAccessor.SeedAccessor, req Request, resp *Response) error {
	seed, err := sa.SeedForRawKeyRetrieval(ctx, req.DerivationOptionsJson, recipe.TypeSigningKey)
	if err != nil {
		return err
	}
	rj, err := e.finalRecipe(ctx, seed, req.DerivationOptionsJson)
	if err != nil {
		return err
	}
	sk, err := seeded.DeriveSigningKey(seed, rj)
	if err != nil {
		return err
	}
	defer sk.Dispose()
	resp.SigningKeyJson = sk.Json()
	return nil
}

func (e *Executor) getSymmetricKey(ctx context.Context, sa seedAccessor.SeedAccessor, req Request, resp *Response) error {
	seed, err := sa.SeedForRawKeyRetrieval(ctx, req.DerivationOptionsJson, recipe.TypeSymmetricKey)
	if err != nil {
		return err
	}
	rj, err := e.finalRecipe(ctx, seed, req.DerivationOptionsJson)
	if err != nil {
		return err
	}
	key, err := seeded.DeriveSymmetricKey(seed, rj)
	if err != nil {
		return err
	}
	defer key.Dispose()
	resp.SymmetricKeyJson = key.Json()
	return nil
}

func (e *Executor) getSignatureVerificationKey(ctx context.Context, sa seedAccessor.SeedAccessor, req Request, resp *Response) error {
	seed, err := sa.SeedForRecipe(ctx, req.DerivationOptionsJson, recipe.TypeSigningKey)
	if err != nil {
		return err
	}
	rj, err := e.finalRecipe(ctx, seed, req.DerivationOptionsJson)
	if err != nil {
		return err
	}
	sk, err := seeded.DeriveSigningKey(seed, rj)
	if err != nil {
		return err
	}
	defer sk.Dispose()
	resp.SignatureVerificationKeyJson = sk.SignatureVerificationKey().Json()
	return nil
}

func (e *Executor) sealWithSymmetricKey(ctx context.Context, sa seedAccessor.SeedAccessor, req Request, resp *Response) error {
	if req.Plaintext == nil {
		return exceptions.MalformedRequest("sealWithSymmetricKey requires plaintext")
	}
	if _, err := recipe.ParseUnsealingInstructions(req.UnsealingInstructions); err != nil {
		return err
	}
	seed, err := sa.SeedForRecipe(ctx, req.DerivationOptionsJson, recipe.TypeSymmetricKey)
	if err != nil {
		return err
	}
	rj, err := e.finalRecipe(ctx, seed, req.DerivationOptionsJson)
	if err != nil {
		return err
	}
	key, err := seeded.DeriveSymmetricKey(seed, rj)
	if err != nil {
		return err
	}
	defer key.Dispose()
	m, err := key.Seal(req.Plaintext, req.UnsealingInstructions)
	if err != nil {
		return err
	}
	resp.PackagedSealedMessageJson = m.Json()
	return nil
}

func (e *Executor) unsealWithSymmetricKey(ctx context.Context, sa seedAccessor.SeedAccessor, req Request, resp *Response) error {
	m, err := recipe.ParsePackagedSealedMessage(req.PackagedSealedMessageJson)
	if err != nil {
		return err
	}
	seed, err := sa.SeedForUnseal(ctx, m, recipe.TypeSymmetricKey)
	if err != nil {
		return err
	}
	key, err := seeded.DeriveSymmetricKey(seed, m.DerivationOptionsJson)
	if err != nil {
		return err
	}
	defer key.Dispose()
	resp.Plaintext, err = key.Unseal(m)
	return err
}

func (e *Executor) unsealWithUnsealingKey(ctx context.Context, sa seedAccessor.SeedAccessor, req Request, resp *Response) error {
	m, err := recipe.ParsePackagedSealedMessage(req.PackagedSealedMessageJson)
	if err != nil {
		return err
	}
	seed, err := sa.SeedForUnseal(ctx, m, recipe.TypeUnsealingKey)
	if err != nil {
		return err
	}
	uk, err := seeded.DeriveUnsealingKey(seed, m.DerivationOptionsJson)
	if err != nil {
		return err
	}
	defer uk.Dispose()
	resp.Plaintext, err = uk.Unseal(m)
	return err
}

func (e *Executor) generateSignature(ctx context.Context, sa seedAccessor.SeedAccessor, req Request, resp *Response) error {
	if req.Message == nil {
		return exceptions.MalformedRequest("generateSignature requires message")
	}
	seed, err := sa.SeedForRecipe(ctx, req.DerivationOptionsJson, recipe.TypeSigningKey)
	if err != nil {
		return err
	}
	rj, err := e.finalRecipe(ctx, seed, req.DerivationOptionsJson)
	if err != nil {
		return err
	}
	sk, err := seeded.DeriveSigningKey(seed, rj)
	if err != nil {
		return err
	}
	defer sk.Dispose()
	resp.Signature = sk.Sign(req.Message)
	resp.SignatureVerificationKeyJson = sk.SignatureVerificationKey().Json()
	return nil
}

func (e *Executor) getAuthToken(ctx context.Context, sa seedAccessor.SeedAccessor, req Request, resp *Response) error {
	if req.RespondTo == "" {
		return exceptions.MalformedRequest("getAuthToken requires respondTo")
	}
	token, err := sa.IssueAuthToken(ctx, req.RespondTo)
	if err != nil {
		return err
	}
	resp.AuthToken = token
	return nil
}
