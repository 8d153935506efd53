package apiServer

import (
	"context"
	"net/http"
	"sync"

	"golang.org/x/net/websocket"

	"github.com/i5heu/seedgate/pkg/auth"
	"github.com/i5heu/seedgate/pkg/commands"
	"github.com/i5heu/seedgate/pkg/exceptions"
	"github.com/i5heu/seedgate/pkg/transport"
)

type errorResponse struct {
	Exception string `json:"exception"`
	Message   string `json:"message"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) { // A
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleURLRequest runs a URL-transport request and redirects the client
// to respondTo with the outcome appended. Requests whose respondTo cannot
// be used get a 400 instead. Only a top-level browser navigation vouches
// for the respondTo host; any other caller reads the redirect itself and
// must present an auth token.
func (s *Server) handleURLRequest(w http.ResponseWriter, r *http.Request) { // A
	req, parseErr := transport.ParseURLRequest(r.URL.Query())
	if parseErr != nil && req.RequestID == "" {
		s.badRequest(w, parseErr)
		return
	}
	origin, err := transport.URLOrigin(req, isTopLevelNavigation(r))
	if err != nil {
		if parseErr != nil {
			err = parseErr
		}
		s.badRequest(w, err)
		return
	}

	var out transport.Outcome
	if parseErr != nil {
		ex := *exceptions.From(parseErr)
		out = transport.Outcome{RequestID: req.RequestID, Command: req.Command, Exception: &ex}
	} else {
		out = s.handler.Handle(r.Context(), req, origin)
	}

	location, err := transport.EncodeURLResponse(req.RespondTo, out)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	http.Redirect(w, r, location, http.StatusSeeOther)
}

func (s *Server) badRequest(w http.ResponseWriter, err error) { // A
	ex := exceptions.From(err)
	s.log.Info("rejected url request", "exception", ex.Name)
	writeJSON(w, http.StatusBadRequest, errorResponse{Exception: ex.Name, Message: ex.Message})
}

// handleWebSocket serves the message transport. The codec is chosen with
// the codec query parameter. The Origin header identifies the requesting
// host, and is trusted only on a browser websocket handshake.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) { // A
	codec, err := transport.CodecByName(r.URL.Query().Get("codec"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ws := websocket.Server{
		Handshake: func(cfg *websocket.Config, req *http.Request) error {
			// a missing Origin is allowed; such requests get an
			// unauthenticated host
			cfg.Origin, _ = websocket.Origin(cfg, req)
			return nil
		},
		Handler: func(conn *websocket.Conn) {
			s.serveMessages(conn, codec, clientIP(r), isBrowserWebSocket(r))
		},
	}
	ws.ServeHTTP(w, r)
}

func (s *Server) serveMessages( // A
	conn *websocket.Conn,
	codec transport.Codec,
	client string,
	browser bool,
) {
	defer conn.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var originHost string
	if o := conn.Config().Origin; o != nil {
		originHost = o.Hostname()
	}
	vouched := browser && originHost != ""
	log := s.log.With("client", client, "origin", originHost, "vouched", vouched, "codec", codec.Name())
	log.Debug("websocket connected")

	var (
		wg      sync.WaitGroup
		writeMu sync.Mutex
	)
	send := func(out transport.Outcome) {
		frame, err := codec.Marshal(transport.EncodeMessageResponse(out))
		if err != nil {
			log.Error("encode response", "error", err)
			return
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		if codec.Name() == "json" {
			err = websocket.Message.Send(conn, string(frame))
		} else {
			err = websocket.Message.Send(conn, frame)
		}
		if err != nil {
			log.Debug("send response", "error", err)
		}
	}

	reject := func(requestID string, command commands.Command, err error) {
		ex := *exceptions.From(err)
		send(transport.Outcome{RequestID: requestID, Command: command, Exception: &ex})
	}

	for {
		var frame []byte
		if err := websocket.Message.Receive(conn, &frame); err != nil {
			break
		}

		msg, decodeErr := codec.Unmarshal(frame)
		var requestID string
		if decodeErr == nil {
			requestID, _ = msg[transport.ParamRequestID].(string)
		}

		if s.limiter != nil && !s.limiter.allow(client) {
			log.Warn("rate limit exceeded", "requestId", requestID)
			reject(requestID, commands.Unknown, exceptions.RateLimited())
			continue
		}
		if decodeErr != nil {
			log.Info("undecodable message", "error", decodeErr)
			reject("", commands.Unknown, exceptions.MalformedRequest("undecodable %s frame", codec.Name()))
			continue
		}

		req, err := transport.ParseMessageRequest(msg)
		if err != nil {
			if req.RequestID == "" {
				req.RequestID = requestID
			}
			reject(req.RequestID, req.Command, err)
			continue
		}

		// requests may wait on consent, so each runs on its own
		wg.Add(1)
		go func(req commands.Request) {
			defer wg.Done()
			send(s.handler.Handle(ctx, req, messageOrigin(originHost, vouched, req)))
		}(req)
	}

	cancel()
	wg.Wait()
	log.Debug("websocket closed")
}

func messageOrigin(originHost string, vouched bool, req commands.Request) auth.Origin { // A
	return auth.Origin{
		Host:              originHost,
		RespondTo:         req.RespondTo,
		HostAuthenticated: vouched && originHost != "",
		AuthToken:         req.AuthToken,
	}
}
