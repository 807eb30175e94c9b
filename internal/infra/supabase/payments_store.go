package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/autolavaggio/kiosk-controller/internal/domain"
	"github.com/autolavaggio/kiosk-controller/internal/infra/resilience"

	"go.opentelemetry.io/otel/attribute"
)

// --- Payments (implements port.PaymentRecorder) ---

// RecordPayment inserts one row into the pagos table. Single attempt, no
// retry: a retried insert after a lost response would duplicate the record,
// and the workflow already guarantees one call per completed transaction.
func (c *Client) RecordPayment(ctx context.Context, record *domain.InvoiceRecord) error {
	ctx, span := tracer.Start(ctx, "Supabase.RecordPayment")
	defer span.End()
	span.SetAttributes(
		attribute.String("device.id", record.DeviceID),
		attribute.Float64("amount", record.Amount),
	)

	payload, err := json.Marshal([]*domain.InvoiceRecord{record})
	if err != nil {
		return fmt.Errorf("encode payment record: %w", err)
	}

	_, err = c.cb.Execute(func() (any, error) {
		return c.doRequest(ctx, http.MethodPost, "pagos", payload)
	})
	if err != nil {
		return &domain.ErrExternalService{Service: "supabase/pagos", Err: err}
	}
	return nil
}

// --- Machine registry ---

type machineRow struct {
	DeviceID string `json:"maquinaId"`
}

// EnsureMachine registers the kiosk in the maquina table if it is not
// already there. Best-effort at startup; the workflow runs without it.
func (c *Client) EnsureMachine(ctx context.Context, deviceID string) error {
	ctx, span := tracer.Start(ctx, "Supabase.EnsureMachine")
	defer span.End()
	span.SetAttributes(attribute.String("device.id", deviceID))

	var rows []machineRow

	_, err := c.cb.Execute(func() (any, error) {
		return nil, resilience.RetryWithBackoff(ctx, c.cfg, func() error {
			path := fmt.Sprintf("maquina?maquinaId=eq.%s&limit=1", deviceID)
			body, err := c.doRequest(ctx, http.MethodGet, path, nil)
			if err != nil {
				return err
			}
			rows = nil
			if body == nil || string(body) == "[]" {
				return nil
			}
			return json.Unmarshal(body, &rows)
		})
	})
	if err != nil {
		return &domain.ErrExternalService{Service: "supabase/maquina", Err: err}
	}

	if len(rows) > 0 {
		return nil
	}

	payload, err := json.Marshal([]machineRow{{DeviceID: deviceID}})
	if err != nil {
		return fmt.Errorf("encode machine row: %w", err)
	}

	_, err = c.cb.Execute(func() (any, error) {
		return c.doRequest(ctx, http.MethodPost, "maquina", payload)
	})
	if err != nil {
		return &domain.ErrExternalService{Service: "supabase/maquina", Err: err}
	}
	return nil
}
