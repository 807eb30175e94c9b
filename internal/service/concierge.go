package service

import (
	"context"
	"strings"

	"github.com/autolavaggio/kiosk-controller/internal/domain"
	"github.com/autolavaggio/kiosk-controller/internal/port"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Concierge relays chat turns between the kiosk's avatar widget and the
// remote agent. The kiosk holds a single conversation per boot; the session
// id keeps the agent's context across turns.
type Concierge struct {
	agent     port.AgentCaller
	sessionID string
	logger    *zap.Logger
}

// NewConcierge creates a concierge with a fresh session. agent may be nil
// when the avatar feature is not configured; Enabled reports that.
func NewConcierge(agent port.AgentCaller, logger *zap.Logger) *Concierge {
	return &Concierge{
		agent:     agent,
		sessionID: uuid.New().String(),
		logger:    logger,
	}
}

// Enabled reports whether the avatar agent is configured.
func (c *Concierge) Enabled() bool {
	return c.agent != nil
}

// Chat sends one customer message to the agent and returns its reply.
func (c *Concierge) Chat(ctx context.Context, message string) (*domain.AvatarReply, error) {
	ctx, span := tracer.Start(ctx, "Concierge.Chat")
	defer span.End()

	message = strings.TrimSpace(message)
	if message == "" {
		return nil, &domain.ErrValidation{Field: "message", Message: "message is required"}
	}
	if !c.Enabled() {
		return nil, &domain.ErrNotFound{Resource: "avatar agent", ID: "chat"}
	}

	reply, err := c.agent.Chat(ctx, &domain.AvatarRequest{
		SessionID: c.sessionID,
		Message:   message,
	})
	if err != nil {
		c.logger.Error("avatar chat failed", zap.Error(err))
		return nil, err
	}
	return reply, nil
}
