package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"golang.org/x/net/websocket"

	"github.com/i5heu/seedgate/pkg/commands"
	"github.com/i5heu/seedgate/pkg/exceptions"
	"github.com/i5heu/seedgate/pkg/transport"
)

var ErrNoRedirect = errors.New("client: server did not redirect to respondTo")

// urlTransmitter sends requests as GET /api queries and reads the outcome
// from the redirect Location without following it.
type urlTransmitter struct {
	endpoint *url.URL
	http     *http.Client
	deliver  func(transport.Outcome) bool
}

func newURLTransmitter(endpoint *url.URL, hc *http.Client, deliver func(transport.Outcome) bool) *urlTransmitter {
	noFollow := *hc
	noFollow.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return &urlTransmitter{endpoint: endpoint, http: &noFollow, deliver: deliver}
}

func (t *urlTransmitter) Transmit(ctx context.Context, req commands.Request) error {
	u := *t.endpoint
	u.RawQuery = transport.EncodeURLRequest(req).Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := t.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusBadRequest {
		var body struct {
			Exception string `json:"exception"`
			Message   string `json:"message"`
		}
		if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&body); err != nil {
			return fmt.Errorf("decode error response: %w", err)
		}
		return exceptions.FromEnvelope(body.Exception, body.Message, "")
	}
	if resp.StatusCode != http.StatusSeeOther {
		return fmt.Errorf("%w: status %d", ErrNoRedirect, resp.StatusCode)
	}

	loc, err := resp.Location()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoRedirect, err)
	}
	out, err := transport.DecodeURLResponse(loc.Query(), req.Command)
	if err != nil {
		return err
	}
	t.deliver(out)
	return nil
}

// wsTransmitter writes request frames to one websocket and dispatches the
// replies read by its receive loop.
type wsTransmitter struct {
	conn    *websocket.Conn
	codec   transport.Codec
	deliver func(transport.Outcome) bool
	log     *slog.Logger

	writeMu  sync.Mutex
	inFlight sync.Map // requestId -> commands.Command
	done     chan struct{}
}

func newWSTransmitter(
	conn *websocket.Conn,
	codec transport.Codec,
	deliver func(transport.Outcome) bool,
	log *slog.Logger,
) *wsTransmitter {
	t := &wsTransmitter{
		conn:    conn,
		codec:   codec,
		deliver: deliver,
		log:     log,
		done:    make(chan struct{}),
	}
	go t.receive()
	return t
}

func (t *wsTransmitter) Transmit(ctx context.Context, req commands.Request) error {
	frame, err := t.codec.Marshal(transport.EncodeMessageRequest(req))
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	t.inFlight.Store(req.RequestID, req.Command)

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = t.conn.SetWriteDeadline(deadline)
	}
	if t.codec.Name() == "json" {
		err = websocket.Message.Send(t.conn, string(frame))
	} else {
		err = websocket.Message.Send(t.conn, frame)
	}
	if err != nil {
		t.inFlight.Delete(req.RequestID)
		return fmt.Errorf("send request: %w", err)
	}
	return nil
}

func (t *wsTransmitter) receive() {
	defer close(t.done)
	for {
		var frame []byte
		if err := websocket.Message.Receive(t.conn, &frame); err != nil {
			t.log.Debug("websocket receive loop ended", "error", err)
			return
		}
		msg, err := t.codec.Unmarshal(frame)
		if err != nil {
			t.log.Warn("undecodable response", "error", err)
			continue
		}
		id, _ := msg[transport.ParamRequestID].(string)
		cmd, ok := t.inFlight.LoadAndDelete(id)
		if !ok {
			t.log.Debug("response for unknown request", "requestId", id)
			continue
		}
		out, err := transport.DecodeMessageResponse(msg, cmd.(commands.Command))
		if err != nil {
			ex := *exceptions.From(err)
			out = transport.Outcome{RequestID: id, Command: cmd.(commands.Command), Exception: &ex}
		}
		t.deliver(out)
	}
}

func (t *wsTransmitter) Close() error {
	err := t.conn.Close()
	<-t.done
	return err
}
