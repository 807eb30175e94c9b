package handler

import (
	"net/http"

	"github.com/autolavaggio/kiosk-controller/internal/service"

	"go.uber.org/zap"
)

type conciergeChatRequest struct {
	Message string `json:"message" validate:"required"`
}

// conciergeChatHandler relays one chat turn to the avatar agent.
// POST /v1/concierge/chat
func conciergeChatHandler(concierge *service.Concierge, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/concierge/chat")
		defer span.End()

		if !concierge.Enabled() {
			writeError(w, http.StatusServiceUnavailable, "concierge not configured")
			return
		}

		var req conciergeChatRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "message is required")
			return
		}

		reply, err := concierge.Chat(ctx, req.Message)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, reply)
	}
}
