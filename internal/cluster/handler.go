package cluster

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// MessageHandler accepts POST /msg and passes decoded messages to a receiver.
// Requests beyond the limiter's rate are refused with 429 and never reach
// the receiver.
type MessageHandler struct {
	recv    func(*Message)
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewMessageHandler returns a handler delivering to recv. A nil limiter
// disables rate limiting.
func NewMessageHandler(recv func(*Message), limiter *rate.Limiter, logger *zap.Logger) *MessageHandler {
	return &MessageHandler{recv: recv, limiter: limiter, logger: logger.Named("inbound")}
}

func (h *MessageHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.limiter != nil && !h.limiter.Allow() {
		h.logger.Debug("inbound message rate limited", zap.String("remote", r.RemoteAddr))
		http.Error(w, "rate limited", http.StatusTooManyRequests)
		return
	}

	var msg Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if !msg.Type.Valid() {
		http.Error(w, "unknown message type", http.StatusBadRequest)
		return
	}
	if msg.ID == "" {
		http.Error(w, "missing message id", http.StatusBadRequest)
		return
	}

	h.recv(&msg)
	w.WriteHeader(http.StatusNoContent)
}
