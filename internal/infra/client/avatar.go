// Package client holds HTTP clients for optional external services.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/autolavaggio/kiosk-controller/internal/domain"
	"github.com/autolavaggio/kiosk-controller/internal/infra/resilience"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("client")

// AvatarClient calls the conversational avatar agent service. The streaming
// session (WebRTC, voice) stays between the browser and the agent provider;
// this client only relays chat turns.
type AvatarClient struct {
	httpClient *http.Client
	baseURL    string
	clientKey  string
	cb         *gobreaker.CircuitBreaker
	cfg        resilience.Config
}

// NewAvatarClient creates a new AvatarClient.
func NewAvatarClient(httpClient *http.Client, baseURL, clientKey string, cb *gobreaker.CircuitBreaker, cfg resilience.Config) *AvatarClient {
	return &AvatarClient{
		httpClient: httpClient,
		baseURL:    baseURL,
		clientKey:  clientKey,
		cb:         cb,
		cfg:        cfg,
	}
}

// Chat relays one message to the avatar agent and returns its answer.
func (c *AvatarClient) Chat(ctx context.Context, req *domain.AvatarRequest) (*domain.AvatarReply, error) {
	ctx, span := tracer.Start(ctx, "AvatarClient.Chat")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", req.SessionID))

	var reply domain.AvatarReply

	result, err := c.cb.Execute(func() (any, error) {
		var innerErr error
		innerErr = resilience.RetryWithBackoff(ctx, c.cfg, func() error {
			body, err := json.Marshal(req)
			if err != nil {
				return err
			}

			url := fmt.Sprintf("%s/v1/agent/chat", c.baseURL)
			httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
			if err != nil {
				return err
			}
			httpReq.Header.Set("Content-Type", "application/json")
			httpReq.Header.Set("X-Client-Key", c.clientKey)

			resp, err := c.httpClient.Do(httpReq)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("avatar agent returned status %d", resp.StatusCode)
			}

			return json.NewDecoder(resp.Body).Decode(&reply)
		})
		if innerErr != nil {
			return nil, innerErr
		}
		return &reply, nil
	})

	if err != nil {
		return nil, &domain.ErrExternalService{Service: "avatar", Err: err}
	}

	return result.(*domain.AvatarReply), nil
}
