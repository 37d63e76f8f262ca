package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/aretw0/threadline/pkg/domain"
	"github.com/gorilla/websocket"
)

// WebSocket event names.
const (
	WSInit  = "init"
	WSStep  = "step"
	WSDone  = "done"
	WSError = "error"
)

// WSMessage is a server frame of the WebSocket stream.
type WSMessage struct {
	Event    string        `json:"event"`
	ThreadID string        `json:"thread_id,omitempty"`
	Step     int           `json:"step,omitempty"`
	Node     domain.Stage  `json:"node,omitempty"`
	Content  string        `json:"content,omitempty"`
	Delta    *domain.Delta `json:"delta,omitempty"`
	Answer   string        `json:"answer,omitempty"`
	Error    string        `json:"error,omitempty"`
	Kind     string        `json:"kind,omitempty"`
}

// ChatWebSocket handles GET /chat/ws. Every text frame from the client is a
// ChatRequest; the server answers with init, one step per stage, and done
// or error. The connection stays open for further turns.
func (s *Server) ChatWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Logger.Warn("WebSocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxBodyBytes)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.Logger.Info("WebSocket closed", "err", err)
			}
			return
		}

		var req domain.ChatRequest
		if err := json.Unmarshal(data, &req); err != nil {
			if err := conn.WriteJSON(WSMessage{Event: WSError, Error: "invalid request: " + err.Error(), Kind: "invalid_input"}); err != nil {
				return
			}
			continue
		}
		if err := s.streamTurn(ctx, conn, req); err != nil {
			s.Logger.Info("WebSocket write failed", "err", err)
			return
		}
	}
}

// streamTurn relays one turn. It returns only connection errors.
func (s *Server) streamTurn(ctx context.Context, conn *websocket.Conn, req domain.ChatRequest) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events, err := s.Engine.Stream(ctx, req)
	if err != nil {
		return conn.WriteJSON(WSMessage{Event: WSError, ThreadID: req.ThreadID, Error: err.Error(), Kind: domain.ErrorKind(err)})
	}
	// A failed write abandons the turn; drain so the engine goroutine exits.
	defer func() {
		cancel()
		for range events {
		}
	}()

	step := 0
	for ev := range events {
		if step == 0 {
			if err := conn.WriteJSON(WSMessage{Event: WSInit, ThreadID: ev.ThreadID}); err != nil {
				return err
			}
		}
		step++

		var msg WSMessage
		switch ev.Type {
		case domain.EventStage:
			msg = WSMessage{Event: WSStep, ThreadID: ev.ThreadID, Step: step, Node: ev.Stage, Content: stepContent(ev.Delta), Delta: ev.Delta}
		case domain.EventDone:
			msg = WSMessage{Event: WSDone, ThreadID: ev.ThreadID, Answer: ev.Answer}
		case domain.EventFailed:
			msg = WSMessage{Event: WSError, ThreadID: ev.ThreadID, Node: ev.Stage, Error: ev.Error, Kind: ev.Kind}
		}
		if err := conn.WriteJSON(msg); err != nil {
			return err
		}
	}
	return nil
}

// stepContent summarises what a stage changed.
func stepContent(d *domain.Delta) string {
	switch {
	case d == nil:
		return ""
	case d.FinalAnswer != nil:
		return *d.FinalAnswer
	case d.RewrittenQuery != nil:
		return *d.RewrittenQuery
	case d.Verdict != nil:
		return string(*d.Verdict)
	case len(d.SelectedCapabilities) > 0:
		names := make([]string, len(d.SelectedCapabilities))
		for i, n := range d.SelectedCapabilities {
			names[i] = string(n)
		}
		return strings.Join(names, ", ")
	case d.NoContext != nil && *d.NoContext:
		return "no context"
	}
	return ""
}
