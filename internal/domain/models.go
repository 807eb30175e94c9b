// Package domain defines the core business entities for the kiosk controller.
// These models are independent of external services and represent the
// canonical data structures used throughout one workflow cycle.
package domain

import "time"

// Service is one selectable wash option from the static catalog.
// JSON tags match the catalog file and the kiosk UI contract.
type Service struct {
	ID          string  `json:"id"`
	Image       string  `json:"imagen"`
	Name        string  `json:"nombre"`
	Price       float64 `json:"precio"`
	Description string  `json:"descripcion"`
}

// TransactionStatus is the outcome reported by the payment terminal.
type TransactionStatus string

const (
	PaymentSuccess   TransactionStatus = "success"
	PaymentCancelled TransactionStatus = "cancelled"
	PaymentError     TransactionStatus = "error"
)

// Transaction is the result of one payment capture on the terminal.
// Wire field names follow the native bridge contract.
type Transaction struct {
	Status       TransactionStatus `json:"status"`
	CardNetwork  string            `json:"NombreGrupoTarjeta,omitempty"`
	AuthCode     string            `json:"auth,omitempty"`
	ErrorMessage string            `json:"message,omitempty"`
}

// InvoiceRecord is the row written to the remote data store for a
// completed payment. Written exactly once per successful transaction.
type InvoiceRecord struct {
	DeviceID       string  `json:"maquinaId"`
	WashID         int     `json:"lavadoId"`
	Amount         float64 `json:"monto"`
	Identification string  `json:"identificacion"`
	Used           bool    `json:"use"`
	CardName       string  `json:"cardName"`
	AuthCode       string  `json:"auth"`
}

// TicketRecord is the payload handed to the ticket printer.
type TicketRecord struct {
	Identification string  `json:"numero"`
	ServiceName    string  `json:"nombre"`
	Amount         float64 `json:"monto"`
	CardName       string  `json:"card"`
	AuthCode       string  `json:"auth"`
}

// ValidationReason classifies the outcome of a token lookup.
// request_failed is reserved for transport-level failures so the UI can
// distinguish "the service is down" from "the token is bad".
type ValidationReason string

const (
	ReasonValid         ValidationReason = "valid"
	ReasonAlreadyUsed   ValidationReason = "already_used"
	ReasonNotFound      ValidationReason = "not_found"
	ReasonMissingToken  ValidationReason = "missing_token"
	ReasonRequestFailed ValidationReason = "request_failed"
	ReasonOther         ValidationReason = "other"
)

// ValidationResult is the interpreted response of the validation service.
type ValidationResult struct {
	Valid   bool             `json:"valid"`
	Reason  ValidationReason `json:"reason"`
	Message string           `json:"message,omitempty"`
}

// WorkflowState is the controller's position in the kiosk state machine.
type WorkflowState string

const (
	StateIdle           WorkflowState = "idle"
	StateAwaitingScan   WorkflowState = "awaiting_scan"
	StateTermsPending   WorkflowState = "terms_pending"
	StatePaymentPending WorkflowState = "payment_pending"
	StateInvoiceChoice  WorkflowState = "invoice_choice_pending"
	StateIdentification WorkflowState = "identification_pending"
	StatePersisting     WorkflowState = "persisting"
	StatePrinting       WorkflowState = "printing"
	StateReceiptShown   WorkflowState = "receipt_shown"
)

// IdentificationKind selects the invoicing identification rule.
type IdentificationKind string

const (
	IdentificationPlate IdentificationKind = "license_plate"
	IdentificationTaxID IdentificationKind = "tax_id"
)

// FinalConsumerID is the sentinel fiscal identification used when the
// customer does not request an itemized invoice.
const FinalConsumerID = "9999999999999"

// Snapshot is the full renderable workflow state. The kiosk UI re-renders
// from it after every event instead of accumulating DOM listeners.
type Snapshot struct {
	State              WorkflowState      `json:"state"`
	CycleID            string             `json:"cycleId"`
	ScanUnlocked       bool               `json:"scanUnlocked"`
	SelectedService    *Service           `json:"selectedService,omitempty"`
	PaymentRetry       bool               `json:"paymentRetry,omitempty"`
	IdentificationKind IdentificationKind `json:"identificationKind,omitempty"`
	Notice             string             `json:"notice,omitempty"`
	Error              string             `json:"error,omitempty"`
}

// AvatarRequest is one chat turn sent to the conversational avatar agent.
type AvatarRequest struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

// AvatarReply is the avatar agent's answer for one chat turn.
type AvatarReply struct {
	SessionID string `json:"sessionId"`
	Answer    string `json:"answer"`
	CreatedAt string `json:"createdAt,omitempty"`
}

// KioskMetrics is a JSON snapshot of the controller's counters, served on
// the maintenance API for fleet dashboards.
type KioskMetrics struct {
	PaymentsApproved  int64     `json:"paymentsApproved"`
	PaymentsCancelled int64     `json:"paymentsCancelled"`
	PaymentsFailed    int64     `json:"paymentsFailed"`
	ValidScans        int64     `json:"validScans"`
	RejectedScans     int64     `json:"rejectedScans"`
	PersistenceErrors int64     `json:"persistenceErrors"`
	PrintErrors       int64     `json:"printErrors"`
	CyclesCompleted   int64     `json:"cyclesCompleted"`
	CollectedAt       time.Time `json:"collectedAt"`
}
