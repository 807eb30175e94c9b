package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/autolavaggio/kiosk-controller/internal/domain"
	"github.com/autolavaggio/kiosk-controller/internal/infra/observability"
	"github.com/autolavaggio/kiosk-controller/internal/service"

	"go.uber.org/zap"
)

// ============================================================
// Mocks
// ============================================================

type mockBridge struct {
	mu             sync.Mutex
	deviceID       string
	deviceErr      error
	captureResults []*domain.Transaction
	printed        []domain.TicketRecord
	signals        []byte
	images         []string
}

func (m *mockBridge) DeviceID(ctx context.Context) (string, error) {
	if m.deviceErr != nil {
		return "", m.deviceErr
	}
	return m.deviceID, nil
}

func (m *mockBridge) CapturePayment(ctx context.Context) *domain.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.captureResults) == 0 {
		return &domain.Transaction{Status: domain.PaymentSuccess, CardNetwork: "VISA", AuthCode: "AUTH-1"}
	}
	tx := m.captureResults[0]
	m.captureResults = m.captureResults[1:]
	return tx
}

func (m *mockBridge) PrintTicket(record domain.TicketRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.printed = append(m.printed, record)
}

func (m *mockBridge) CaptureImage(dataURL string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.images = append(m.images, dataURL)
}

func (m *mockBridge) SendSignal(code byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signals = append(m.signals, code)
}

func (m *mockBridge) printedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.printed)
}

func (m *mockBridge) lastSignal() byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.signals) == 0 {
		return 0
	}
	return m.signals[len(m.signals)-1]
}

type mockValidator struct {
	mu      sync.Mutex
	results map[string]*domain.ValidationResult
	calls   []string
}

func (m *mockValidator) Validate(ctx context.Context, token string) *domain.ValidationResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, token)
	if res, ok := m.results[token]; ok {
		return res
	}
	return &domain.ValidationResult{Valid: false, Reason: domain.ReasonNotFound, Message: "Token not found"}
}

type mockStore struct {
	mu        sync.Mutex
	records   []*domain.InvoiceRecord
	recordErr error
	machines  []string
}

func (m *mockStore) RecordPayment(ctx context.Context, record *domain.InvoiceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, record)
	return m.recordErr
}

func (m *mockStore) EnsureMachine(ctx context.Context, deviceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.machines = append(m.machines, deviceID)
	return nil
}

func (m *mockStore) recordCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

type mockCatalog struct {
	services []domain.Service
}

func (m *mockCatalog) List() []domain.Service {
	return m.services
}

func (m *mockCatalog) Get(id string) (*domain.Service, bool) {
	for _, s := range m.services {
		if s.ID == id {
			svc := s
			return &svc, true
		}
	}
	return nil, false
}

// ============================================================
// Helpers
// ============================================================

func testTimers() service.Timers {
	return service.Timers{
		Receipt:      40 * time.Millisecond,
		Error:        25 * time.Millisecond,
		ScanError:    25 * time.Millisecond,
		Reprompt:     25 * time.Millisecond,
		RetryAbandon: 60 * time.Millisecond,
	}
}

type fixture struct {
	wf        *service.Workflow
	bridge    *mockBridge
	validator *mockValidator
	store     *mockStore
	metrics   *observability.Metrics
}

func newFixture(t *testing.T, scanGated bool) *fixture {
	t.Helper()

	bridge := &mockBridge{deviceID: "MAQ-042"}
	validator := &mockValidator{results: map[string]*domain.ValidationResult{
		"TOK123": {Valid: true, Reason: domain.ReasonValid, Message: "Token is valid"},
		"USED":   {Valid: false, Reason: domain.ReasonAlreadyUsed, Message: "Token already used"},
	}}
	store := &mockStore{}
	catalog := &mockCatalog{services: []domain.Service{
		{ID: "basico", Name: "Lavado Básico", Price: 5},
		{ID: "premium", Name: "Lavado Premium", Price: 12},
	}}

	metrics := observability.NewMetrics()
	wf := service.NewWorkflow(bridge, validator, store, catalog, scanGated, testTimers(), metrics, zap.NewNop())
	if _, err := wf.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	return &fixture{wf: wf, bridge: bridge, validator: validator, store: store, metrics: metrics}
}

func waitForState(t *testing.T, wf *service.Workflow, want domain.WorkflowState) *domain.Snapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap := wf.Snapshot()
		if snap.State == want {
			return snap
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for state %s (currently %s)", want, wf.Snapshot().State)
	return nil
}

// advance a gated workflow to the invoice choice screen.
func toInvoiceChoice(t *testing.T, f *fixture) {
	t.Helper()
	ctx := context.Background()

	if _, err := f.wf.Scan(ctx, "TOK123"); err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if _, err := f.wf.SelectService(ctx, "premium", ""); err != nil {
		t.Fatalf("select failed: %v", err)
	}
	if _, err := f.wf.AcceptTerms(ctx); err != nil {
		t.Fatalf("accept terms failed: %v", err)
	}
	waitForState(t, f.wf, domain.StateInvoiceChoice)
}

// ============================================================
// Scenarios
// ============================================================

func TestFullCycle_FinalConsumer(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	snap, err := f.wf.Scan(ctx, "TOK123")
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if !snap.ScanUnlocked {
		t.Fatal("expected valid scan to unlock selection")
	}

	snap, err = f.wf.SelectService(ctx, "premium", "data:image/png;base64,AAAA")
	if err != nil {
		t.Fatalf("select failed: %v", err)
	}
	if snap.State != domain.StateTermsPending {
		t.Fatalf("expected terms_pending, got %s", snap.State)
	}
	if snap.SelectedService == nil || snap.SelectedService.ID != "premium" {
		t.Fatalf("expected premium selected, got %+v", snap.SelectedService)
	}
	if len(f.bridge.images) != 1 {
		t.Error("expected camera still to be forwarded")
	}

	snap, err = f.wf.AcceptTerms(ctx)
	if err != nil {
		t.Fatalf("accept terms failed: %v", err)
	}
	if snap.State != domain.StatePaymentPending {
		t.Fatalf("expected payment_pending, got %s", snap.State)
	}

	waitForState(t, f.wf, domain.StateInvoiceChoice)

	snap, err = f.wf.ChooseFinalConsumer(ctx)
	if err != nil {
		t.Fatalf("final consumer failed: %v", err)
	}
	if snap.State != domain.StateReceiptShown {
		t.Fatalf("expected receipt_shown, got %s", snap.State)
	}

	if n := f.store.recordCount(); n != 1 {
		t.Fatalf("expected exactly one persisted record, got %d", n)
	}
	rec := f.store.records[0]
	if rec.Identification != domain.FinalConsumerID {
		t.Errorf("expected final consumer sentinel, got %s", rec.Identification)
	}
	if rec.DeviceID != "MAQ-042" || rec.WashID != 1 || rec.Amount != 12 || !rec.Used {
		t.Errorf("unexpected record: %+v", rec)
	}
	if f.bridge.printedCount() != 1 {
		t.Error("expected one printed ticket")
	}

	// Receipt dwell elapses and the kiosk rearms for the next customer.
	snap = waitForState(t, f.wf, domain.StateAwaitingScan)
	if snap.ScanUnlocked {
		t.Error("expected scan unlock to be cleared for the next cycle")
	}
	if f.bridge.lastSignal() != service.SignalDefault {
		t.Error("expected relay to drop to default after the receipt")
	}
}

func TestScan_RejectedTokenShowsTransientBanner(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	snap, err := f.wf.Scan(ctx, "USED")
	if err != nil {
		t.Fatalf("scan returned error: %v", err)
	}
	if snap.ScanUnlocked {
		t.Error("used token must not unlock selection")
	}
	if snap.Error == "" {
		t.Error("expected a rejection banner")
	}

	if _, err := f.wf.SelectService(ctx, "basico", ""); err == nil {
		t.Error("expected selection to stay locked")
	}

	// Banner clears on its own.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if f.wf.Snapshot().Error == "" {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("banner never cleared")
}

func TestSelectService_UngatedNeedsNoScan(t *testing.T) {
	f := newFixture(t, false)

	snap, err := f.wf.SelectService(context.Background(), "basico", "")
	if err != nil {
		t.Fatalf("expected ungated selection to pass, got %v", err)
	}
	if snap.State != domain.StateTermsPending {
		t.Errorf("expected terms_pending, got %s", snap.State)
	}
}

func TestSelectService_UnknownService(t *testing.T) {
	f := newFixture(t, false)

	_, err := f.wf.SelectService(context.Background(), "deluxe", "")
	var notFound *domain.ErrNotFound
	if !errors.As(err, &notFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDismissTerms_KeepsScanUnlock(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	f.wf.Scan(ctx, "TOK123")
	f.wf.SelectService(ctx, "basico", "")

	snap, err := f.wf.DismissTerms()
	if err != nil {
		t.Fatalf("dismiss failed: %v", err)
	}
	if snap.State != domain.StateAwaitingScan {
		t.Fatalf("expected awaiting_scan, got %s", snap.State)
	}
	if !snap.ScanUnlocked {
		t.Error("the consumed token must keep selection unlocked")
	}

	// Reselect without a second scan.
	if _, err := f.wf.SelectService(ctx, "premium", ""); err != nil {
		t.Errorf("expected reselection to pass, got %v", err)
	}
}

func TestPayment_CancelledOffersRetryThenSucceeds(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	f.bridge.captureResults = []*domain.Transaction{
		{Status: domain.PaymentCancelled},
		{Status: domain.PaymentSuccess, CardNetwork: "MC", AuthCode: "AUTH-2"},
	}

	f.wf.SelectService(ctx, "basico", "")
	f.wf.AcceptTerms(ctx)

	// Cancelled: stays on the payment screen with the retry offer.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if f.wf.Snapshot().PaymentRetry {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	snap := f.wf.Snapshot()
	if !snap.PaymentRetry || snap.State != domain.StatePaymentPending {
		t.Fatalf("expected retry offer on payment_pending, got %+v", snap)
	}
	if f.store.recordCount() != 0 {
		t.Fatal("cancelled payment must not persist anything")
	}

	if _, err := f.wf.RetryPayment(ctx); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	waitForState(t, f.wf, domain.StateInvoiceChoice)

	if _, err := f.wf.ChooseFinalConsumer(ctx); err != nil {
		t.Fatalf("final consumer failed: %v", err)
	}
	if n := f.store.recordCount(); n != 1 {
		t.Fatalf("expected one record after the retried payment, got %d", n)
	}
	if f.store.records[0].AuthCode != "AUTH-2" {
		t.Errorf("expected the retried auth code, got %s", f.store.records[0].AuthCode)
	}
}

func TestPayment_CancelledAbandonReturnsToScan(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	f.bridge.captureResults = []*domain.Transaction{{Status: domain.PaymentCancelled}}

	f.wf.SelectService(ctx, "basico", "")
	f.wf.AcceptTerms(ctx)

	// Nobody touches the retry button; the abandon timer resets the kiosk.
	waitForState(t, f.wf, domain.StateAwaitingScan)
	if f.store.recordCount() != 0 {
		t.Error("abandoned cancellation must not persist anything")
	}
}

func TestPayment_ErrorAutoResets(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	f.bridge.captureResults = []*domain.Transaction{
		{Status: domain.PaymentError, ErrorMessage: "tarjeta rechazada"},
	}

	f.wf.SelectService(ctx, "basico", "")
	f.wf.AcceptTerms(ctx)

	// Error message shows, then the kiosk resets on its own.
	deadline := time.Now().Add(2 * time.Second)
	sawError := false
	for time.Now().Before(deadline) {
		snap := f.wf.Snapshot()
		if snap.Error != "" && snap.State == domain.StatePaymentPending {
			sawError = true
		}
		if snap.State == domain.StateAwaitingScan {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	if !sawError {
		t.Error("expected the terminal error to be shown before the reset")
	}
	waitForState(t, f.wf, domain.StateAwaitingScan)
	if f.store.recordCount() != 0 {
		t.Error("failed payment must not persist anything")
	}
}

func TestAcceptTerms_Reentrant(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	f.wf.SelectService(ctx, "basico", "")
	if _, err := f.wf.AcceptTerms(ctx); err != nil {
		t.Fatalf("first accept failed: %v", err)
	}

	_, err := f.wf.AcceptTerms(ctx)
	var invalid *domain.ErrInvalidState
	if !errors.As(err, &invalid) {
		t.Fatalf("expected ErrInvalidState on re-entrant accept, got %v", err)
	}

	// A scan mid-payment is rejected too, never queued.
	if _, err := f.wf.Scan(ctx, "TOK123"); err == nil {
		t.Error("expected scan during payment to be rejected")
	}
}

func TestIdentification_RepromptThenAccept(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	toInvoiceChoice(t, f)

	snap, err := f.wf.RequestIdentification(domain.IdentificationPlate)
	if err != nil {
		t.Fatalf("request identification failed: %v", err)
	}
	if snap.State != domain.StateIdentification {
		t.Fatalf("expected identification_pending, got %s", snap.State)
	}

	// Two digits only: rejected, keypad stays open, banner raised.
	snap, err = f.wf.SubmitIdentification(ctx, "XYZ-99")
	if err != nil {
		t.Fatalf("submit returned API error: %v", err)
	}
	if snap.State != domain.StateIdentification {
		t.Fatalf("expected to stay on identification_pending, got %s", snap.State)
	}
	if snap.Error == "" {
		t.Error("expected a re-prompt banner")
	}
	if f.store.recordCount() != 0 {
		t.Fatal("rejected identification must not persist")
	}

	snap, err = f.wf.SubmitIdentification(ctx, "XYZ-999")
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if snap.State != domain.StateReceiptShown {
		t.Fatalf("expected receipt_shown, got %s", snap.State)
	}
	if f.store.recordCount() != 1 || f.store.records[0].Identification != "XYZ-999" {
		t.Errorf("expected one record for XYZ-999, got %+v", f.store.records)
	}
}

func TestIdentification_BackToInvoiceChoice(t *testing.T) {
	f := newFixture(t, true)

	toInvoiceChoice(t, f)
	f.wf.RequestIdentification(domain.IdentificationTaxID)

	snap, err := f.wf.Back()
	if err != nil {
		t.Fatalf("back failed: %v", err)
	}
	if snap.State != domain.StateInvoiceChoice {
		t.Fatalf("expected invoice_choice_pending, got %s", snap.State)
	}
	if snap.IdentificationKind != "" {
		t.Error("expected identification kind to be cleared")
	}
}

func TestFinalize_PersistFailureFailsOpen(t *testing.T) {
	f := newFixture(t, true)
	f.store.recordErr = errors.New("postgrest down")
	ctx := context.Background()

	toInvoiceChoice(t, f)

	snap, err := f.wf.ChooseFinalConsumer(ctx)
	if err != nil {
		t.Fatalf("expected fail-open finalize, got %v", err)
	}
	if snap.State != domain.StateReceiptShown {
		t.Fatalf("expected receipt_shown despite persistence failure, got %s", snap.State)
	}
	if snap.Notice == "" {
		t.Error("expected a notice about the failed record")
	}
	if n := f.store.recordCount(); n != 1 {
		t.Errorf("insert must stay single-attempt, got %d", n)
	}
	if f.bridge.printedCount() != 1 {
		t.Error("the paid customer still gets a ticket")
	}
	if n := f.metrics.GetKioskSnapshot().PersistenceErrors; n != 1 {
		t.Errorf("expected the failed insert to be counted, got %d", n)
	}
}

func TestStart_DeviceIDFallback(t *testing.T) {
	bridge := &mockBridge{deviceErr: errors.New("bridge down")}
	wf := service.NewWorkflow(bridge, &mockValidator{}, &mockStore{}, &mockCatalog{
		services: []domain.Service{{ID: "basico", Name: "Lavado Básico", Price: 5}},
	}, false, testTimers(), observability.NewMetrics(), zap.NewNop())

	snap, err := wf.Start(context.Background())
	if err != nil {
		t.Fatalf("start must degrade, not fail: %v", err)
	}
	if snap.State != domain.StateAwaitingScan {
		t.Fatalf("expected awaiting_scan, got %s", snap.State)
	}
	if wf.DeviceID() == "" {
		t.Error("expected a generated device id")
	}
}

func TestReset_DropsStalePaymentResolution(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	f.wf.SelectService(ctx, "basico", "")
	f.wf.AcceptTerms(ctx)

	// Maintenance resets while the capture is outstanding. Whatever the
	// terminal answers afterwards must not move the fresh cycle.
	snap := f.wf.Reset()
	if snap.State != domain.StateAwaitingScan {
		t.Fatalf("expected awaiting_scan, got %s", snap.State)
	}

	time.Sleep(50 * time.Millisecond)
	if got := f.wf.Snapshot().State; got != domain.StateAwaitingScan {
		t.Errorf("stale resolution moved the workflow to %s", got)
	}
	if f.store.recordCount() != 0 {
		t.Error("stale payment must not persist")
	}
}
