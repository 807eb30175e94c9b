// Package service contains the orchestration logic of the kiosk controller.
// The workflow is a single-session state machine: one customer at a time
// moves from scan to selection to payment to receipt, and every external
// effect (terminal, printer, store, relay) hangs off a state transition.
package service

import (
	"context"
	"sync"
	"time"

	"github.com/autolavaggio/kiosk-controller/internal/domain"
	"github.com/autolavaggio/kiosk-controller/internal/infra/observability"
	"github.com/autolavaggio/kiosk-controller/internal/infra/resilience"
	"github.com/autolavaggio/kiosk-controller/internal/port"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("service")

// Relay signal codes understood by the auxiliary controller.
const (
	SignalReady   byte = 'H'
	SignalDefault byte = 'L'
)

// washID is the fixed wash-type id recorded with every payment row.
const washID = 1

// paymentCaptureTimeout bounds one terminal interaction. Customers can take
// a while to present a card, so this is deliberately generous.
const paymentCaptureTimeout = 3 * time.Minute

// Timers are the dwell durations of the workflow's timed transitions.
// Injected so tests can run the full cycle in milliseconds.
type Timers struct {
	// Receipt is how long the receipt screen stays up before the kiosk
	// returns to the scan screen.
	Receipt time.Duration

	// Error is how long a terminal error message stays up before reset.
	Error time.Duration

	// ScanError is how long a scan rejection banner stays visible.
	ScanError time.Duration

	// Reprompt is how long an identification rejection banner stays visible.
	Reprompt time.Duration

	// RetryAbandon resets a cancelled payment left unattended.
	RetryAbandon time.Duration
}

// DefaultTimers returns the production dwell durations.
func DefaultTimers() Timers {
	return Timers{
		Receipt:      21 * time.Second,
		Error:        5 * time.Second,
		ScanError:    3 * time.Second,
		Reprompt:     3 * time.Second,
		RetryAbandon: 60 * time.Second,
	}
}

// Workflow is the kiosk state machine. All exported methods are events;
// each returns the post-event Snapshot the UI renders from.
//
// Concurrency model: mu guards every field. The mutex is never held across
// a network call; instead each mutation bumps gen, and async resolutions
// and timers captured under an older gen are discarded. The payment
// bulkhead (size 1) enforces at most one outstanding terminal capture.
type Workflow struct {
	bridge    port.DeviceBridge
	validator port.TokenValidator
	store     port.PaymentRecorder
	catalog   port.ServiceCatalog
	paySlot   *resilience.Bulkhead
	timers    Timers
	scanGated bool
	metrics   *observability.Metrics
	logger    *zap.Logger

	mu           sync.Mutex
	gen          uint64
	state        domain.WorkflowState
	cycleID      string
	cycleStart   time.Time
	deviceID     string
	scanUnlocked bool
	selected     *domain.Service
	tx           *domain.Transaction
	identKind    domain.IdentificationKind
	paymentRetry bool
	inFlight     bool
	notice       string
	errMsg       string
	timer        *time.Timer
}

// NewWorkflow builds the state machine in the idle state. Call Start to
// bring the kiosk online. store may be nil when persistence is not
// configured; completed cycles then print without being recorded.
func NewWorkflow(
	bridge port.DeviceBridge,
	validator port.TokenValidator,
	store port.PaymentRecorder,
	catalog port.ServiceCatalog,
	scanGated bool,
	timers Timers,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *Workflow {
	return &Workflow{
		bridge:    bridge,
		validator: validator,
		store:     store,
		catalog:   catalog,
		paySlot:   resilience.NewBulkhead(1),
		timers:    timers,
		scanGated: scanGated,
		metrics:   metrics,
		logger:    logger,
		state:     domain.StateIdle,
	}
}

// Start brings the kiosk online: it resolves the device identifier, raises
// the ready signal and enters the scan screen. A missing device id degrades
// to a generated one so the kiosk keeps selling.
func (w *Workflow) Start(ctx context.Context) (*domain.Snapshot, error) {
	ctx, span := tracer.Start(ctx, "Workflow.Start")
	defer span.End()

	id, err := w.bridge.DeviceID(ctx)
	if err != nil {
		id = uuid.New().String()
		w.logger.Warn("device id unavailable, using generated id",
			zap.String("device_id", id),
			zap.Error(err),
		)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.deviceID = id
	w.bridge.SendSignal(SignalReady)
	w.resetLocked()
	return w.snapshotLocked(), nil
}

// DeviceID returns the identifier resolved at startup (empty before Start).
func (w *Workflow) DeviceID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.deviceID
}

// Snapshot returns the current renderable state.
func (w *Workflow) Snapshot() *domain.Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.snapshotLocked()
}

// Scan validates a scanned QR token. A valid token unlocks service
// selection for the rest of the cycle; a rejected one raises a banner that
// clears itself after the scan-error dwell.
func (w *Workflow) Scan(ctx context.Context, token string) (*domain.Snapshot, error) {
	ctx, span := tracer.Start(ctx, "Workflow.Scan")
	defer span.End()

	w.mu.Lock()
	if w.state != domain.StateAwaitingScan {
		defer w.mu.Unlock()
		return w.snapshotLocked(), &domain.ErrInvalidState{Event: "scan", State: w.state}
	}
	if w.inFlight {
		defer w.mu.Unlock()
		return w.snapshotLocked(), &domain.ErrInvalidState{Event: "scan", State: w.state}
	}
	w.inFlight = true
	w.gen++
	g := w.gen
	w.mu.Unlock()

	res := w.validator.Validate(ctx, token)

	w.mu.Lock()
	defer w.mu.Unlock()
	w.inFlight = false
	if w.gen != g {
		// A maintenance reset raced the lookup; drop the result.
		return w.snapshotLocked(), nil
	}

	w.metrics.IncrScan(res.Reason)
	if res.Valid {
		w.scanUnlocked = true
		w.errMsg = ""
		return w.snapshotLocked(), nil
	}

	w.errMsg = scanErrorMessage(res)
	w.schedule(g, w.timers.ScanError, func() {
		w.errMsg = ""
	})
	return w.snapshotLocked(), nil
}

// SelectService picks a wash service and opens the terms overlay.
// In scan-gated deployments selection stays locked until a valid scan.
// imageDataURL, when present, is a camera still forwarded to the host.
func (w *Workflow) SelectService(ctx context.Context, serviceID, imageDataURL string) (*domain.Snapshot, error) {
	_, span := tracer.Start(ctx, "Workflow.SelectService")
	defer span.End()

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != domain.StateAwaitingScan || w.inFlight {
		return w.snapshotLocked(), &domain.ErrInvalidState{Event: "select_service", State: w.state}
	}
	if w.scanGated && !w.scanUnlocked {
		return w.snapshotLocked(), &domain.ErrInvalidState{Event: "select_service", State: w.state}
	}

	svc, ok := w.catalog.Get(serviceID)
	if !ok {
		return w.snapshotLocked(), &domain.ErrNotFound{Resource: "service", ID: serviceID}
	}

	w.gen++
	w.selected = svc
	w.cycleStart = time.Now()
	w.errMsg = ""
	w.state = domain.StateTermsPending

	if imageDataURL != "" {
		w.bridge.CaptureImage(imageDataURL)
	}
	return w.snapshotLocked(), nil
}

// DismissTerms closes the terms overlay and returns to selection. The scan
// unlock survives: the token was already consumed.
func (w *Workflow) DismissTerms() (*domain.Snapshot, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != domain.StateTermsPending {
		return w.snapshotLocked(), &domain.ErrInvalidState{Event: "dismiss_terms", State: w.state}
	}
	w.gen++
	w.selected = nil
	w.state = domain.StateAwaitingScan
	return w.snapshotLocked(), nil
}

// AcceptTerms confirms the selection and starts the payment capture in the
// background. The UI polls the snapshot for the outcome; the terminal
// interaction can take minutes.
func (w *Workflow) AcceptTerms(ctx context.Context) (*domain.Snapshot, error) {
	_, span := tracer.Start(ctx, "Workflow.AcceptTerms")
	defer span.End()

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != domain.StateTermsPending || w.inFlight {
		return w.snapshotLocked(), &domain.ErrInvalidState{Event: "accept_terms", State: w.state}
	}
	if !w.paySlot.TryAcquire() {
		return w.snapshotLocked(), &domain.ErrInvalidState{Event: "accept_terms", State: w.state}
	}

	w.gen++
	w.state = domain.StatePaymentPending
	w.inFlight = true
	w.errMsg = ""
	go w.capture(w.gen)
	return w.snapshotLocked(), nil
}

// RetryPayment re-arms the terminal after a cancelled capture.
func (w *Workflow) RetryPayment(ctx context.Context) (*domain.Snapshot, error) {
	_, span := tracer.Start(ctx, "Workflow.RetryPayment")
	defer span.End()

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != domain.StatePaymentPending || !w.paymentRetry || w.inFlight {
		return w.snapshotLocked(), &domain.ErrInvalidState{Event: "retry_payment", State: w.state}
	}
	if !w.paySlot.TryAcquire() {
		return w.snapshotLocked(), &domain.ErrInvalidState{Event: "retry_payment", State: w.state}
	}

	w.gen++ // invalidates the abandon timer
	w.paymentRetry = false
	w.errMsg = ""
	w.inFlight = true
	go w.capture(w.gen)
	return w.snapshotLocked(), nil
}

// capture runs one terminal interaction and applies its outcome. Results
// arriving after a reset (gen mismatch) are dropped; the money, if any,
// moved on the terminal side and maintenance reconciles from its journal.
func (w *Workflow) capture(g uint64) {
	defer w.paySlot.Release()

	ctx, cancel := context.WithTimeout(context.Background(), paymentCaptureTimeout)
	defer cancel()
	tx := w.bridge.CapturePayment(ctx)

	w.mu.Lock()
	defer w.mu.Unlock()
	w.inFlight = false
	if w.gen != g || w.state != domain.StatePaymentPending {
		w.logger.Warn("stale payment resolution dropped",
			zap.String("status", string(tx.Status)),
			zap.String("state", string(w.state)),
		)
		return
	}

	w.metrics.IncrPayment(tx.Status)
	w.gen++
	ng := w.gen

	switch tx.Status {
	case domain.PaymentSuccess:
		w.tx = tx
		w.errMsg = ""
		w.state = domain.StateInvoiceChoice
	case domain.PaymentCancelled:
		w.paymentRetry = true
		w.errMsg = "Pago cancelado. Por favor intente de nuevo."
		w.schedule(ng, w.timers.RetryAbandon, func() {
			w.resetLocked()
		})
	default:
		msg := tx.ErrorMessage
		if msg == "" {
			msg = "No se pudo procesar el pago."
		}
		w.errMsg = msg
		w.logger.Error("payment capture failed", zap.String("message", msg))
		w.schedule(ng, w.timers.Error, func() {
			w.resetLocked()
		})
	}
}

// ChooseFinalConsumer skips the itemized invoice and finalizes the cycle
// under the final-consumer sentinel.
func (w *Workflow) ChooseFinalConsumer(ctx context.Context) (*domain.Snapshot, error) {
	ctx, span := tracer.Start(ctx, "Workflow.ChooseFinalConsumer")
	defer span.End()

	return w.finalize(ctx, domain.FinalConsumerID, "final_consumer", domain.StateInvoiceChoice)
}

// RequestIdentification opens the identification keypad for the given kind.
func (w *Workflow) RequestIdentification(kind domain.IdentificationKind) (*domain.Snapshot, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != domain.StateInvoiceChoice {
		return w.snapshotLocked(), &domain.ErrInvalidState{Event: "request_identification", State: w.state}
	}
	if kind != domain.IdentificationPlate && kind != domain.IdentificationTaxID {
		return w.snapshotLocked(), &domain.ErrValidation{Field: "kind", Message: "unknown identification kind"}
	}
	w.gen++
	w.identKind = kind
	w.errMsg = ""
	w.state = domain.StateIdentification
	return w.snapshotLocked(), nil
}

// SubmitIdentification validates the typed identification and finalizes the
// cycle. A rejected value keeps the keypad open and raises a banner that
// clears after the reprompt dwell; it is not an API error.
func (w *Workflow) SubmitIdentification(ctx context.Context, value string) (*domain.Snapshot, error) {
	ctx, span := tracer.Start(ctx, "Workflow.SubmitIdentification")
	defer span.End()

	w.mu.Lock()
	if w.state != domain.StateIdentification {
		defer w.mu.Unlock()
		return w.snapshotLocked(), &domain.ErrInvalidState{Event: "submit_identification", State: w.state}
	}

	if err := ValidateIdentification(w.identKind, value); err != nil {
		w.gen++
		g := w.gen
		w.errMsg = "Número no válido. Por favor inténtelo de nuevo."
		w.schedule(g, w.timers.Reprompt, func() {
			w.errMsg = ""
		})
		defer w.mu.Unlock()
		return w.snapshotLocked(), nil
	}
	w.mu.Unlock()

	return w.finalize(ctx, value, "submit_identification", domain.StateIdentification)
}

// Back leaves the identification keypad and returns to the invoice choice.
func (w *Workflow) Back() (*domain.Snapshot, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != domain.StateIdentification {
		return w.snapshotLocked(), &domain.ErrInvalidState{Event: "back", State: w.state}
	}
	w.gen++
	w.identKind = ""
	w.errMsg = ""
	w.state = domain.StateInvoiceChoice
	return w.snapshotLocked(), nil
}

// Reset forces the kiosk back to the scan screen from any state. Used by
// maintenance; outstanding async results become stale and are dropped.
func (w *Workflow) Reset() *domain.Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.bridge.SendSignal(SignalDefault)
	w.resetLocked()
	return w.snapshotLocked()
}

// finalize persists the paid transaction, prints the ticket and shows the
// receipt. The state check and the transition to persisting happen under
// one lock hold, so concurrent finalize events cannot both pass; the store
// insert therefore happens exactly once per cycle.
func (w *Workflow) finalize(ctx context.Context, identification, event string, from domain.WorkflowState) (*domain.Snapshot, error) {
	ctx, span := tracer.Start(ctx, "Workflow.finalize")
	defer span.End()

	w.mu.Lock()
	if w.state != from {
		defer w.mu.Unlock()
		return w.snapshotLocked(), &domain.ErrInvalidState{Event: event, State: w.state}
	}
	w.gen++
	g := w.gen
	w.state = domain.StatePersisting
	svc := w.selected
	tx := w.tx
	deviceID := w.deviceID
	w.mu.Unlock()

	var notice string
	if w.store != nil {
		record := &domain.InvoiceRecord{
			DeviceID:       deviceID,
			WashID:         washID,
			Amount:         svc.Price,
			Identification: identification,
			Used:           true,
			CardName:       tx.CardNetwork,
			AuthCode:       tx.AuthCode,
		}
		if err := w.store.RecordPayment(ctx, record); err != nil {
			// Fail open: the customer paid, so the wash proceeds. The row is
			// reconstructed later from the terminal journal.
			w.metrics.IncrExternalError("supabase")
			w.logger.Error("payment record not persisted",
				zap.String("auth", tx.AuthCode),
				zap.Error(err),
			)
			notice = "El registro del pago falló; conserve su comprobante."
		}
	} else {
		w.logger.Warn("persistence not configured, payment not recorded",
			zap.String("auth", tx.AuthCode),
		)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.gen != g {
		return w.snapshotLocked(), nil
	}

	w.notice = notice
	w.state = domain.StatePrinting
	w.bridge.PrintTicket(domain.TicketRecord{
		Identification: identification,
		ServiceName:    svc.Name,
		Amount:         svc.Price,
		CardName:       tx.CardNetwork,
		AuthCode:       tx.AuthCode,
	})
	w.bridge.SendSignal(SignalReady)

	w.state = domain.StateReceiptShown
	w.metrics.RecordCycle(time.Since(w.cycleStart))
	w.schedule(g, w.timers.Receipt, func() {
		w.bridge.SendSignal(SignalDefault)
		w.resetLocked()
	})
	return w.snapshotLocked(), nil
}

// schedule arms the workflow's single timed transition. fn runs with the
// mutex held, only if no other mutation happened since gen g.
func (w *Workflow) schedule(g uint64, d time.Duration, fn func()) {
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(d, func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		if w.gen != g {
			return
		}
		fn()
	})
}

// resetLocked starts a fresh cycle on the scan screen. Callers hold mu.
func (w *Workflow) resetLocked() {
	w.gen++
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.state = domain.StateAwaitingScan
	w.cycleID = uuid.New().String()
	w.scanUnlocked = false
	w.selected = nil
	w.tx = nil
	w.identKind = ""
	w.paymentRetry = false
	w.notice = ""
	w.errMsg = ""
}

func (w *Workflow) snapshotLocked() *domain.Snapshot {
	snap := &domain.Snapshot{
		State:              w.state,
		CycleID:            w.cycleID,
		ScanUnlocked:       w.scanUnlocked,
		PaymentRetry:       w.paymentRetry,
		IdentificationKind: w.identKind,
		Notice:             w.notice,
		Error:              w.errMsg,
	}
	if w.selected != nil {
		svc := *w.selected
		snap.SelectedService = &svc
	}
	return snap
}

// scanErrorMessage maps a rejected validation to the banner the UI shows.
func scanErrorMessage(res *domain.ValidationResult) string {
	switch res.Reason {
	case domain.ReasonAlreadyUsed:
		return "El código QR ya ha sido usado."
	case domain.ReasonNotFound:
		return "El código QR no es válido."
	case domain.ReasonMissingToken:
		return "No se pudo leer el código QR."
	case domain.ReasonRequestFailed:
		return "No se pudo validar el código. Intente de nuevo."
	default:
		if res.Message != "" {
			return res.Message
		}
		return "No se pudo validar el código."
	}
}

// Signal forwards a raw one-character command to the auxiliary controller.
// Maintenance only.
func (w *Workflow) Signal(code byte) {
	w.bridge.SendSignal(code)
}
