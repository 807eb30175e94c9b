// Package validation is the client for the local QR validation service.
// A token is single-use; its validity and use-state live entirely in the
// service's backing store. The controller never retries a token — the
// operator must rescan.
package validation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/autolavaggio/kiosk-controller/internal/domain"
	"github.com/autolavaggio/kiosk-controller/internal/infra/observability"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("validation")

// Server-reported messages of the validate endpoint.
const (
	msgValid       = "Token is valid"
	msgAlreadyUsed = "Token already used"
	msgNotFound    = "Token not found"
	msgRequired    = "Token is required"
)

type validateResponse struct {
	Message string          `json:"message"`
	Payment json.RawMessage `json:"pago,omitempty"`
}

// Client issues token lookups against the validation service.
type Client struct {
	httpClient *http.Client
	baseURL    string
	cb         *gobreaker.CircuitBreaker
	metrics    *observability.Metrics
	logger     *zap.Logger
}

// NewClient creates a validation client. The breaker stops hammering a dead
// validation service; there is no retry layer because a lookup marks the
// token as used on success.
func NewClient(httpClient *http.Client, baseURL string, cb *gobreaker.CircuitBreaker, metrics *observability.Metrics, logger *zap.Logger) *Client {
	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
		cb:         cb,
		metrics:    metrics,
		logger:     logger,
	}
}

// Validate looks up one scanned token. Transport failures return
// reason=request_failed, distinct from every server-reported reason, so the
// UI can show "request failed" instead of "token already used".
func (c *Client) Validate(ctx context.Context, token string) *domain.ValidationResult {
	ctx, span := tracer.Start(ctx, "Validation.Validate")
	defer span.End()

	result, err := c.cb.Execute(func() (any, error) {
		return c.lookup(ctx, token)
	})
	if err != nil {
		c.metrics.IncrExternalError("validation")
		c.logger.Error("token lookup failed", zap.Error(err))
		return &domain.ValidationResult{
			Valid:   false,
			Reason:  domain.ReasonRequestFailed,
			Message: "validation request failed",
		}
	}

	return result.(*domain.ValidationResult)
}

// lookup performs the single round trip and interprets the body. A non-2xx
// status still carries a JSON body with the rejection message, so the body
// is parsed before the status is considered.
func (c *Client) lookup(ctx context.Context, token string) (*domain.ValidationResult, error) {
	u := fmt.Sprintf("%s/validate?token=%s", c.baseURL, url.QueryEscape(token))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var vr validateResponse
	if err := json.Unmarshal(body, &vr); err != nil {
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("validation service returned status %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("unparseable validation response: %w", err)
	}

	return interpret(vr.Message), nil
}

func interpret(message string) *domain.ValidationResult {
	switch message {
	case msgValid:
		return &domain.ValidationResult{Valid: true, Reason: domain.ReasonValid, Message: message}
	case msgAlreadyUsed:
		return &domain.ValidationResult{Valid: false, Reason: domain.ReasonAlreadyUsed, Message: message}
	case msgNotFound:
		return &domain.ValidationResult{Valid: false, Reason: domain.ReasonNotFound, Message: message}
	case msgRequired:
		return &domain.ValidationResult{Valid: false, Reason: domain.ReasonMissingToken, Message: message}
	default:
		return &domain.ValidationResult{Valid: false, Reason: domain.ReasonOther, Message: message}
	}
}
