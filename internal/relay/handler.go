package relay

import (
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
)

// Handler serves the supervisory listen endpoint: a binary WebSocket where
// each message is a one-byte source marker followed by raw little-endian
// 16-bit PCM at the relay's server-side sample rate.
type Handler struct {
	hub *Hub

	// onAttach/onDetach, when set, are invoked as listeners come and go.
	// Used for metrics.
	onAttach func()
	onDetach func()
}

// NewHandler creates a Handler streaming from hub.
func NewHandler(hub *Hub, onAttach, onDetach func()) *Handler {
	return &Handler{hub: hub, onAttach: onAttach, onDetach: onDetach}
}

// ServeListen upgrades the request and streams the call's outbound audio
// until the listener disconnects, the subscription is replaced, or the call
// ends. Attach failures surface as a 404; nothing here can affect the
// underlying call.
func (h *Handler) ServeListen(w http.ResponseWriter, r *http.Request) {
	callID := chi.URLParam(r, "callID")

	sub, err := h.hub.Attach(callID)
	if err != nil {
		http.Error(w, "no such live call", http.StatusNotFound)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		sub.Detach()
		return
	}
	defer sub.Detach()

	if h.onAttach != nil {
		h.onAttach()
	}
	if h.onDetach != nil {
		defer h.onDetach()
	}

	log := slog.With("call_id", callID)
	log.Info("relay listener attached")
	defer log.Info("relay listener detached")

	ctx := r.Context()

	// Reads are discarded; a read error is the fastest disconnect signal.
	go func() {
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				sub.Detach()
				return
			}
		}
	}()

	for pkt := range sub.C {
		msg := make([]byte, 1+len(pkt.Frame.PCM))
		msg[0] = pkt.Source
		copy(msg[1:], pkt.Frame.PCM)
		if err := conn.Write(ctx, websocket.MessageBinary, msg); err != nil {
			conn.Close(websocket.StatusInternalError, "write failed")
			return
		}
	}
	conn.Close(websocket.StatusNormalClosure, "call ended")
}
