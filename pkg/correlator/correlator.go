// Package correlator matches asynchronous responses to the requests that
// caused them by requestId.
package correlator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/i5heu/seedgate/pkg/commands"
	"github.com/i5heu/seedgate/pkg/transport"
)

var ErrDuplicateRequestID = errors.New("correlator: request id already pending")

// Transmitter delivers a request to the key holder. The reply arrives
// later through OnResponse.
type Transmitter interface {
	Transmit(ctx context.Context, req commands.Request) error
}

type TransmitterFunc func(ctx context.Context, req commands.Request) error

func (f TransmitterFunc) Transmit(ctx context.Context, req commands.Request) error {
	return f(ctx, req)
}

type Option func(*Correlator)

func WithLogger(l *slog.Logger) Option {
	return func(c *Correlator) {
		c.log = l
	}
}

// Correlator keeps one pending entry per request in flight.
type Correlator struct {
	tx  Transmitter
	log *slog.Logger

	mu      sync.Mutex
	pending map[string]chan transport.Outcome
}

func New(tx Transmitter, opts ...Option) *Correlator {
	c := &Correlator{
		tx:      tx,
		log:     slog.Default(),
		pending: make(map[string]chan transport.Outcome),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send transmits req and waits for its response. A request without an id
// gets a fresh uuid. An exception response is returned as the error.
func (c *Correlator) Send(ctx context.Context, req commands.Request) (commands.Response, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	// buffered so OnResponse never blocks on a caller that gave up
	ch := make(chan transport.Outcome, 1)
	c.mu.Lock()
	if _, exists := c.pending[req.RequestID]; exists {
		c.mu.Unlock()
		return commands.Response{}, fmt.Errorf("%w: %s", ErrDuplicateRequestID, req.RequestID)
	}
	c.pending[req.RequestID] = ch
	c.mu.Unlock()
	defer c.forget(req.RequestID, ch)

	if err := c.tx.Transmit(ctx, req); err != nil {
		return commands.Response{}, fmt.Errorf("transmit %s: %w", req.Command, err)
	}

	select {
	case out := <-ch:
		if out.Exception != nil {
			return commands.Response{}, out.Exception
		}
		return out.Response, nil
	case <-ctx.Done():
		return commands.Response{}, ctx.Err()
	}
}

// OnResponse settles the pending request with out's id. Unknown ids and
// repeated responses are ignored. It reports whether a request was settled.
func (c *Correlator) OnResponse(out transport.Outcome) bool {
	c.mu.Lock()
	ch, ok := c.pending[out.RequestID]
	if ok {
		delete(c.pending, out.RequestID)
	}
	c.mu.Unlock()

	if !ok {
		c.log.Debug("response for unknown request", "requestId", out.RequestID)
		return false
	}
	ch <- out
	return true
}

// Pending returns the number of requests awaiting a response.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Correlator) forget(id string, ch chan transport.Outcome) {
	c.mu.Lock()
	if c.pending[id] == ch {
		delete(c.pending, id)
	}
	c.mu.Unlock()
}
