package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nugget/huddle/internal/assistant"
)

const (
	streamWriteWait = 10 * time.Second
	// streamReadWait bounds the wait for the client's request frame.
	streamReadWait = 30 * time.Second
)

// Frame types sent and received on the stream socket.
const (
	FrameMessage = "message"
	FrameAbort   = "abort"
	FrameEvent   = "event"
	FrameResult  = "result"
	FrameError   = "error"
)

// StreamFrame is one WebSocket message in either direction. The client
// sends a single "message" frame and may follow it with "abort"; the
// server answers with "event" frames and exactly one "result" or
// "error" frame, then closes.
type StreamFrame struct {
	Type    string              `json:"type"`
	Message *SendMessageRequest `json:"message,omitempty"`
	Event   *assistant.Event    `json:"event,omitempty"`
	Result  *assistant.Result   `json:"result,omitempty"`
	Error   string              `json:"error,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The auth proxy in front of the API enforces origin policy.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleStream serves one message over a WebSocket, forwarding progress
// events as they happen.
// GET /v1/conversations/{id}/stream
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	id := r.PathValue("id")
	authUser := r.Header.Get(UserHeader)

	var first StreamFrame
	_ = conn.SetReadDeadline(time.Now().Add(streamReadWait))
	if err := conn.ReadJSON(&first); err != nil {
		s.logger.Debug("stream closed before request", "conversation", id, "error", err)
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	sw := &streamWriter{conn: conn}
	if first.Type != FrameMessage || first.Message == nil || strings.TrimSpace(first.Message.Content) == "" {
		sw.write(StreamFrame{Type: FrameError, Error: "first frame must be a message with content"})
		sw.close(websocket.ClosePolicyViolation, "bad request")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var (
		mu     sync.Mutex
		convID string
	)
	req := first.Message.toAssistant(id, authUser)
	req.Observer = func(ev assistant.Event) {
		mu.Lock()
		if ev.ConversationID != "" {
			convID = ev.ConversationID
		}
		mu.Unlock()
		if err := sw.write(StreamFrame{Type: FrameEvent, Event: &ev}); err != nil {
			s.logger.Debug("stream event write failed", "error", err)
		}
	}

	// The reader watches for abort frames and for the client going
	// away. Gorilla allows one concurrent reader alongside the writer.
	go func() {
		for {
			var f StreamFrame
			if err := conn.ReadJSON(&f); err != nil {
				var ce *websocket.CloseError
				if !errors.As(err, &ce) {
					s.logger.Debug("stream read ended", "error", err)
				}
				cancel()
				return
			}
			if f.Type != FrameAbort {
				continue
			}
			mu.Lock()
			target := convID
			mu.Unlock()
			if target == "" {
				target = id
			}
			s.logger.Info("stream abort requested", "conversation", target)
			s.assistant.Abort(target)
		}
	}()

	res := s.assistant.SendMessage(ctx, req)
	if err := sw.write(StreamFrame{Type: FrameResult, Result: res}); err != nil {
		s.logger.Debug("stream result write failed", "error", err)
		return
	}
	sw.close(websocket.CloseNormalClosure, "done")
}

// streamWriter serializes writes to a connection.
type streamWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *streamWriter) write(f StreamFrame) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	return w.conn.WriteJSON(f)
}

func (w *streamWriter) close(code int, reason string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(streamWriteWait))
}
