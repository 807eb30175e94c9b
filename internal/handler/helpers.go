package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/autolavaggio/kiosk-controller/internal/domain"

	"go.uber.org/zap"
)

// ============================================================
// Shared helper functions
// ============================================================

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// conflictResponse carries the current snapshot alongside the rejection so
// the UI can resynchronize instead of guessing.
type conflictResponse struct {
	*domain.Snapshot
	Reason string `json:"reason"`
}

// writeEventResult is the shared tail of every kiosk event endpoint. Events
// rejected for state reasons answer 409 with the live snapshot.
func writeEventResult(w http.ResponseWriter, snap *domain.Snapshot, err error, logger *zap.Logger) {
	if err == nil {
		writeJSON(w, http.StatusOK, snap)
		return
	}

	var invalidState *domain.ErrInvalidState
	if errors.As(err, &invalidState) {
		logger.Debug("event rejected",
			zap.String("event", invalidState.Event),
			zap.String("state", string(invalidState.State)),
		)
		writeJSON(w, http.StatusConflict, conflictResponse{Snapshot: snap, Reason: err.Error()})
		return
	}
	handleServiceError(w, err, logger)
}

// handleServiceError maps domain errors to HTTP responses.
func handleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	var notFound *domain.ErrNotFound
	var validation *domain.ErrValidation
	var unauthorized *domain.ErrUnauthorized
	var invalidState *domain.ErrInvalidState
	var bridgeDown *domain.ErrBridgeUnavailable
	var external *domain.ErrExternalService

	switch {
	case errors.As(err, &notFound):
		logger.Debug("not found", zap.String("error", err.Error()))
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &validation):
		logger.Debug("validation error", zap.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &unauthorized):
		logger.Warn("unauthorized", zap.String("error", err.Error()))
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.As(err, &invalidState):
		logger.Debug("invalid state", zap.String("error", err.Error()))
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &bridgeDown):
		logger.Error("bridge unavailable", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &external):
		logger.Error("external service error", zap.Error(err))
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		logger.Error("unhandled error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
