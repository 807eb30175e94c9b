// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the workflow
// controller from concrete implementations.
package port

import (
	"context"

	"github.com/autolavaggio/kiosk-controller/internal/domain"
)

// DeviceBridge abstracts the native host process. All calls are
// asynchronous request/response by name; the workflow keeps at most one
// payment capture outstanding at a time.
type DeviceBridge interface {
	// DeviceID returns the kiosk's device identifier.
	DeviceID(ctx context.Context) (string, error)

	// CapturePayment triggers the payment terminal and blocks until it
	// resolves. It never returns a Go error for a payment failure: transport
	// and protocol problems surface as Status=error with a message.
	CapturePayment(ctx context.Context) *domain.Transaction

	// PrintTicket sends the ticket to the printer. Fire-and-forget: failures
	// are logged and never block the workflow.
	PrintTicket(record domain.TicketRecord)

	// CaptureImage stores a still image (data URL) on the host.
	// Fire-and-forget.
	CaptureImage(dataURL string)

	// SendSignal writes a single-character command to the auxiliary
	// controller (door lock / indicator light). Fire-and-forget.
	SendSignal(code byte)
}

// TokenValidator checks a scanned QR token against the local validation
// service. Tokens are single-use; validity is owned by the service's
// backing store. Never retried automatically.
type TokenValidator interface {
	Validate(ctx context.Context, token string) *domain.ValidationResult
}

// PaymentRecorder writes completed transactions to the remote data store.
type PaymentRecorder interface {
	// RecordPayment inserts one invoice record. At-most-once per cycle is
	// the caller's responsibility; duplicate calls create duplicate rows.
	RecordPayment(ctx context.Context, record *domain.InvoiceRecord) error

	// EnsureMachine registers the kiosk's device identifier. Best-effort,
	// called once at startup.
	EnsureMachine(ctx context.Context, deviceID string) error
}

// ServiceCatalog lists the selectable wash services.
type ServiceCatalog interface {
	List() []domain.Service
	Get(id string) (*domain.Service, bool)
}

// AgentCaller relays one chat turn to the conversational avatar agent.
type AgentCaller interface {
	Chat(ctx context.Context, req *domain.AvatarRequest) (*domain.AvatarReply, error)
}

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
}
