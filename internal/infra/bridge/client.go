// Package bridge is the HTTP client for the native host process. The host
// exposes its commands as named request/response calls; the hard work
// (payment terminal protocol, ESC/POS printing, serial I/O) lives on the
// other side of this contract.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/autolavaggio/kiosk-controller/internal/domain"
	"github.com/autolavaggio/kiosk-controller/internal/infra/observability"
	"github.com/autolavaggio/kiosk-controller/internal/infra/resilience"
	"github.com/autolavaggio/kiosk-controller/internal/port"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("bridge")

// Command names of the native host contract.
const (
	cmdDeviceID       = "obtener_id"
	cmdCapturePayment = "realizar_pago"
	cmdPrintTicket    = "imprimir_ticket"
	cmdSaveImage      = "save_image"
	cmdSendToArduino  = "send_to_arduino"
)

// fireAndForgetTimeout bounds background calls (print, image, signal) that
// must never block the workflow.
const fireAndForgetTimeout = 15 * time.Second

// Client calls the native host bridge.
type Client struct {
	httpClient *http.Client
	baseURL    string
	cb         *gobreaker.CircuitBreaker
	cfg        resilience.Config
	deviceIDs  port.Cache[string]
	metrics    *observability.Metrics
	logger     *zap.Logger
}

// NewClient creates a bridge client. The circuit breaker and retry config
// cover only the idempotent device-id lookup; payment capture is always a
// single attempt.
func NewClient(httpClient *http.Client, baseURL string, cb *gobreaker.CircuitBreaker, cfg resilience.Config, deviceIDs port.Cache[string], metrics *observability.Metrics, logger *zap.Logger) *Client {
	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
		cb:         cb,
		cfg:        cfg,
		deviceIDs:  deviceIDs,
		metrics:    metrics,
		logger:     logger,
	}
}

// invoke posts one named command to the host and decodes the reply into out
// (skipped when out is nil).
func (c *Client) invoke(ctx context.Context, cmd string, args any, out any) error {
	var body bytes.Buffer
	if args != nil {
		if err := json.NewEncoder(&body).Encode(args); err != nil {
			return err
		}
	}

	url := fmt.Sprintf("%s/invoke/%s", c.baseURL, cmd)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bridge command %s returned status %d", cmd, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// DeviceID returns the kiosk's device identifier, cached between calls.
func (c *Client) DeviceID(ctx context.Context) (string, error) {
	ctx, span := tracer.Start(ctx, "Bridge.DeviceID")
	defer span.End()

	if id, ok := c.deviceIDs.Get(cmdDeviceID); ok {
		c.metrics.IncrCacheHit("device_id")
		return id, nil
	}
	c.metrics.IncrCacheMiss("device_id")

	var id string
	_, err := c.cb.Execute(func() (any, error) {
		return nil, resilience.RetryWithBackoff(ctx, c.cfg, func() error {
			return c.invoke(ctx, cmdDeviceID, nil, &id)
		})
	})
	if err != nil {
		c.metrics.IncrExternalError("bridge")
		return "", &domain.ErrBridgeUnavailable{Call: cmdDeviceID, Err: err}
	}

	c.deviceIDs.Set(cmdDeviceID, id)
	return id, nil
}

// paymentReply tolerates both reply shapes of the host: a native JSON
// object, or that same object serialized into a JSON string.
type paymentReply struct {
	raw json.RawMessage
}

func (r *paymentReply) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var inner string
		if err := json.Unmarshal(data, &inner); err != nil {
			return err
		}
		r.raw = json.RawMessage(inner)
		return nil
	}
	r.raw = append(json.RawMessage(nil), data...)
	return nil
}

// CapturePayment triggers one payment on the terminal and blocks until the
// host resolves it. Never returns a Go error: every failure mode collapses
// into Status=error with a message for the UI.
func (c *Client) CapturePayment(ctx context.Context) *domain.Transaction {
	ctx, span := tracer.Start(ctx, "Bridge.CapturePayment")
	defer span.End()

	var reply paymentReply
	if err := c.invoke(ctx, cmdCapturePayment, nil, &reply); err != nil {
		c.logger.Error("payment capture failed", zap.Error(err))
		return &domain.Transaction{
			Status:       domain.PaymentError,
			ErrorMessage: "payment terminal unreachable",
		}
	}

	var tx domain.Transaction
	if err := json.Unmarshal(reply.raw, &tx); err != nil {
		c.logger.Error("payment reply not parseable", zap.Error(err))
		return &domain.Transaction{
			Status:       domain.PaymentError,
			ErrorMessage: "unparseable terminal response",
		}
	}

	switch tx.Status {
	case domain.PaymentSuccess, domain.PaymentCancelled, domain.PaymentError:
		return &tx
	default:
		return &domain.Transaction{
			Status:       domain.PaymentError,
			ErrorMessage: fmt.Sprintf("unknown payment status %q", tx.Status),
		}
	}
}

// PrintTicket sends the ticket to the host printer in the background.
// A failed print is logged and never blocks the flow to the receipt screen.
func (c *Client) PrintTicket(record domain.TicketRecord) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), fireAndForgetTimeout)
		defer cancel()

		payload, err := json.Marshal(record)
		if err != nil {
			c.logger.Error("ticket not serializable", zap.Error(err))
			return
		}

		args := map[string]string{"datos": string(payload)}
		if err := c.invoke(ctx, cmdPrintTicket, args, nil); err != nil {
			c.metrics.IncrExternalError("printer")
			c.logger.Error("ticket print failed",
				zap.String("auth", record.AuthCode),
				zap.Error(err),
			)
		}
	}()
}

// CaptureImage stores a still image (PNG data URL) on the host.
func (c *Client) CaptureImage(dataURL string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), fireAndForgetTimeout)
		defer cancel()

		args := map[string]string{"imageData": dataURL}
		if err := c.invoke(ctx, cmdSaveImage, args, nil); err != nil {
			c.logger.Warn("image capture failed", zap.Error(err))
		}
	}()
}

// SendSignal writes a single-character command to the auxiliary controller.
func (c *Client) SendSignal(code byte) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), fireAndForgetTimeout)
		defer cancel()

		args := map[string]string{"data": string(code)}
		if err := c.invoke(ctx, cmdSendToArduino, args, nil); err != nil {
			c.logger.Warn("device signal failed",
				zap.String("code", string(code)),
				zap.Error(err),
			)
		}
	}()
}
