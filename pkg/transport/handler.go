package transport

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"

	"github.com/i5heu/seedgate/pkg/auth"
	"github.com/i5heu/seedgate/pkg/commands"
	"github.com/i5heu/seedgate/pkg/exceptions"
	"github.com/i5heu/seedgate/pkg/recipe"
	"github.com/i5heu/seedgate/pkg/seedAccessor"
)

// Field is one named result value. Value is a string or a []byte.
type Field struct {
	Name  string
	Value any
}

// Outcome is the result of handling one request: either the command's
// response or an exception, never both.
type Outcome struct {
	RequestID string
	Command   commands.Command
	Response  commands.Response
	Exception *exceptions.Exception
}

// Failed reports whether the outcome is an exception envelope.
func (o Outcome) Failed() bool {
	return o.Exception != nil
}

// Fields returns the result fields, or the envelope fields on failure.
// The request id is not included.
func (o Outcome) Fields() []Field {
	if o.Exception != nil {
		fields := []Field{
			{FieldException, o.Exception.Name},
			{FieldMessage, o.Exception.Message},
		}
		if o.Exception.Stack != "" {
			fields = append(fields, Field{FieldStack, o.Exception.Stack})
		}
		return fields
	}

	r := o.Response
	var fields []Field
	str := func(name, v string) {
		if v != "" {
			fields = append(fields, Field{name, v})
		}
	}
	bin := func(name string, v []byte) {
		if v != nil {
			fields = append(fields, Field{name, v})
		}
	}
	str(FieldSecretJson, r.SecretJson)
	str(FieldSealingKeyJson, r.SealingKeyJson)
	str(FieldUnsealingKeyJson, r.UnsealingKeyJson)
	str(FieldSigningKeyJson, r.SigningKeyJson)
	str(FieldSymmetricKeyJson, r.SymmetricKeyJson)
	str(FieldSignatureVerificationKeyJson, r.SignatureVerificationKeyJson)
	str(FieldPackagedSealedMessageJson, r.PackagedSealedMessageJson)
	bin(FieldPlaintext, r.Plaintext)
	bin(FieldSignature, r.Signature)
	str(FieldAuthToken, r.AuthToken)
	return fields
}

type HandlerConfig struct {
	Accessor *seedAccessor.Accessor
	Executor *commands.Executor
	// Resolver validates auth tokens during the transport-level check.
	Resolver auth.TokenResolver
	// IncludeStack adds a stack trace to envelopes of unexpected failures.
	IncludeStack bool
	Logger       *slog.Logger
}

// Handler authorizes and dispatches requests for both adapters.
type Handler struct {
	cfg HandlerConfig
	log *slog.Logger
}

func NewHandler(cfg HandlerConfig) *Handler {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	if cfg.Executor == nil {
		cfg.Executor = commands.New(commands.Config{Logger: log})
	}
	return &Handler{cfg: cfg, log: log}
}

// Handle authorizes req against origin, then executes it. Every failure,
// including a panic, becomes an exception envelope carrying the request id.
func (h *Handler) Handle(ctx context.Context, req commands.Request, origin auth.Origin) (out Outcome) {
	out = Outcome{RequestID: req.RequestID, Command: req.Command}
	log := h.log.With("command", req.Command.String(), "requestId", req.RequestID)

	defer func() {
		if r := recover(); r != nil {
			log.Error("command panicked", "panic", r)
			ex := exceptions.From(fmt.Errorf("internal error: %v", r))
			if h.cfg.IncludeStack {
				ex.Stack = string(debug.Stack())
			}
			out = Outcome{RequestID: req.RequestID, Command: req.Command, Exception: ex}
		}
	}()

	if err := h.Authorize(ctx, req, origin); err != nil {
		return h.fail(log, out, err)
	}

	sa := h.cfg.Accessor.ForRequest(origin, req.Command.String())
	resp, err := h.cfg.Executor.Execute(ctx, sa, req)
	if err != nil {
		return h.fail(log, out, err)
	}
	out.Response = resp
	log.Info("command completed")
	return out
}

func (h *Handler) fail(log *slog.Logger, out Outcome, err error) Outcome {
	ex := exceptions.From(err)
	if ex.IsPolicy() {
		log.Info("command refused", "exception", ex.Name)
	} else {
		log.Warn("command failed", "exception", ex.Name, "error", err)
	}
	// a copy, so envelopes never share sentinel values
	envelope := *ex
	out.Exception = &envelope
	return out
}

// Authorize repeats the host and path policy check against the request's
// own recipe or instructions before any seed is requested.
func (h *Handler) Authorize(ctx context.Context, req commands.Request, origin auth.Origin) error {
	switch {
	case req.Command == commands.GetAuthToken:
		if req.RespondTo == "" {
			return exceptions.MalformedRequest("getAuthToken requires respondTo")
		}
		o := origin
		o.RespondTo = req.RespondTo
		return auth.CheckTokenIssue(o)

	case req.Command.TakesSealedMessage():
		m, err := recipe.ParsePackagedSealedMessage(req.PackagedSealedMessageJson)
		if err != nil {
			return err
		}
		r, err := m.Recipe()
		if err != nil {
			return err
		}
		instructions, err := m.Instructions()
		if err != nil {
			return err
		}
		return auth.CheckUnseal(
			ctx,
			origin,
			r.Requirements(),
			instructions.Requirements(),
			req.Command == commands.UnsealWithUnsealingKey,
			h.cfg.Resolver,
		)

	case req.Command.TakesRecipe():
		if req.Command == commands.GetSealingKey && strings.TrimSpace(req.DerivationOptionsJson) == "" {
			return nil
		}
		r, err := recipe.Parse(req.DerivationOptionsJson)
		if err != nil {
			return err
		}
		return auth.Check(ctx, origin, r.Requirements(), h.cfg.Resolver)

	default:
		return exceptions.MalformedRequest("unknown command %q", req.Command.String())
	}
}
