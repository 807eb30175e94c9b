package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/autolavaggio/kiosk-controller/internal/domain"
	"github.com/autolavaggio/kiosk-controller/internal/infra/observability"
	"github.com/autolavaggio/kiosk-controller/internal/port"
	"github.com/autolavaggio/kiosk-controller/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

var validate = validator.New()

// ============================================================
// Request DTOs
// ============================================================

type scanRequest struct {
	Token string `json:"token" validate:"required"`
}

type selectServiceRequest struct {
	// Image is an optional camera still (PNG data URL) taken at selection.
	Image string `json:"image,omitempty"`
}

type identificationKindRequest struct {
	Kind string `json:"kind" validate:"required,oneof=license_plate tax_id"`
}

type identificationSubmitRequest struct {
	Value string `json:"value" validate:"required"`
}

type signalRequest struct {
	Code string `json:"code" validate:"required,len=1"`
}

func decodeBody(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return err
	}
	return validate.Struct(dst)
}

// ============================================================
// Catalog & state
// ============================================================

func listServicesHandler(catalog port.ServiceCatalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"servicios": catalog.List()})
	}
}

func stateHandler(wf *service.Workflow) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, wf.Snapshot())
	}
}

// ============================================================
// Workflow events
// ============================================================

func scanHandler(wf *service.Workflow, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/scan")
		defer span.End()

		var req scanRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "token is required")
			return
		}

		snap, err := wf.Scan(ctx, req.Token)
		writeEventResult(w, snap, err, logger)
	}
}

func selectServiceHandler(wf *service.Workflow, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/services/{serviceId}/select")
		defer span.End()

		serviceID := chi.URLParam(r, "serviceId")

		// The body is optional; it only carries the camera still.
		var req selectServiceRequest
		if r.Body != nil && r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid request body")
				return
			}
		}

		snap, err := wf.SelectService(ctx, serviceID, req.Image)
		writeEventResult(w, snap, err, logger)
	}
}

func acceptTermsHandler(wf *service.Workflow, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/terms/accept")
		defer span.End()

		snap, err := wf.AcceptTerms(ctx)
		writeEventResult(w, snap, err, logger)
	}
}

func dismissTermsHandler(wf *service.Workflow, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, span := tracer.Start(r.Context(), "POST /v1/terms/dismiss")
		defer span.End()

		snap, err := wf.DismissTerms()
		writeEventResult(w, snap, err, logger)
	}
}

func retryPaymentHandler(wf *service.Workflow, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/payment/retry")
		defer span.End()

		snap, err := wf.RetryPayment(ctx)
		writeEventResult(w, snap, err, logger)
	}
}

func finalConsumerHandler(wf *service.Workflow, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/invoice/final-consumer")
		defer span.End()

		snap, err := wf.ChooseFinalConsumer(ctx)
		writeEventResult(w, snap, err, logger)
	}
}

func requestIdentificationHandler(wf *service.Workflow, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, span := tracer.Start(r.Context(), "POST /v1/invoice/identification")
		defer span.End()

		var req identificationKindRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "kind must be license_plate or tax_id")
			return
		}

		snap, err := wf.RequestIdentification(domain.IdentificationKind(req.Kind))
		writeEventResult(w, snap, err, logger)
	}
}

func submitIdentificationHandler(wf *service.Workflow, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/invoice/identification/submit")
		defer span.End()

		var req identificationSubmitRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "value is required")
			return
		}

		snap, err := wf.SubmitIdentification(ctx, req.Value)
		writeEventResult(w, snap, err, logger)
	}
}

func backHandler(wf *service.Workflow, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, span := tracer.Start(r.Context(), "POST /v1/back")
		defer span.End()

		snap, err := wf.Back()
		writeEventResult(w, snap, err, logger)
	}
}

// ============================================================
// Operational & maintenance
// ============================================================

func healthzHandler(wf *service.Workflow) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := wf.Snapshot()
		writeJSON(w, http.StatusOK, map[string]any{
			"status":    "healthy",
			"state":     snap.State,
			"deviceId":  wf.DeviceID(),
			"checkedAt": time.Now().Format(time.RFC3339),
		})
	}
}

func readyzHandler(wf *service.Workflow) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if wf.Snapshot().State == domain.StateIdle {
			writeError(w, http.StatusServiceUnavailable, "not started")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func maintenanceResetHandler(wf *service.Workflow, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger.Info("maintenance reset requested")
		writeJSON(w, http.StatusOK, wf.Reset())
	}
}

func maintenanceSignalHandler(wf *service.Workflow, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req signalRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "code must be a single character")
			return
		}

		logger.Info("maintenance signal requested", zap.String("code", req.Code))
		wf.Signal(req.Code[0])
		w.WriteHeader(http.StatusNoContent)
	}
}

func maintenanceMetricsHandler(metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, metrics.GetKioskSnapshot())
	}
}
