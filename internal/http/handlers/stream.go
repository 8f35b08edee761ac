package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/havenmind/crisis-engine/internal/escalation"
	"github.com/havenmind/crisis-engine/pkg/logging"
)

type sessionStream interface {
	Session(sessionID string) (escalation.Snapshot, bool)
	Subscribe(sessionID string) (<-chan escalation.Snapshot, func())
}

// StreamHandler pushes escalation snapshots over a websocket so the client UI
// can track the session live.
type StreamHandler struct {
	stream   sessionStream
	upgrader websocket.Upgrader
	logger   *logging.Logger
}

func NewStreamHandler(stream sessionStream, allowedOrigins []string, logger *logging.Logger) *StreamHandler {
	if stream == nil {
		panic("handlers: session stream required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	allowAny := false
	allow := map[string]struct{}{}
	for _, origin := range allowedOrigins {
		if origin == "*" {
			allowAny = true
			continue
		}
		allow[origin] = struct{}{}
	}
	return &StreamHandler{
		stream: stream,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if allowAny {
					return true
				}
				_, ok := allow[r.Header.Get("Origin")]
				return ok
			},
		},
		logger: logger.Component("stream"),
	}
}

// Stream upgrades to a websocket and sends the current snapshot followed by
// every subsequent state change until the client disconnects or the session
// resolves.
// GET /v1/sessions/{sessionID}/stream
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		return
	}
	defer conn.Close()

	updates, cancel := h.stream.Subscribe(sessionID)
	defer cancel()

	if snap, ok := h.stream.Session(sessionID); ok {
		if err := h.send(conn, snap); err != nil {
			return
		}
	}

	// Reader goroutine: we never expect client messages, but reading is what
	// surfaces the close frame.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			if err := h.send(conn, snap); err != nil {
				return
			}
			if snap.State.Terminal() {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "resolved"),
					time.Now().Add(time.Second))
				return
			}
		}
	}
}

func (h *StreamHandler) send(conn *websocket.Conn, snap escalation.Snapshot) error {
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := conn.WriteJSON(snap); err != nil {
		h.logger.Debug("stream write failed", "error", err)
		return err
	}
	return nil
}
