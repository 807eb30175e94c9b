package supabase_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/autolavaggio/kiosk-controller/internal/domain"
	"github.com/autolavaggio/kiosk-controller/internal/infra/resilience"
	"github.com/autolavaggio/kiosk-controller/internal/infra/supabase"

	"go.uber.org/zap"
)

func newClient(t *testing.T, serverURL string) *supabase.Client {
	t.Helper()
	return supabase.NewClient(
		&http.Client{},
		serverURL,
		"anon-key",
		"service-key",
		resilience.NewCircuitBreaker("supabase-test"),
		resilience.Config{MaxRetries: 2, InitialBackoff: time.Millisecond},
		zap.NewNop(),
	)
}

func TestRecordPayment_InsertsOneRow(t *testing.T) {
	var rows []domain.InvoiceRecord
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/v1/pagos" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("apikey") != "anon-key" {
			t.Error("missing apikey header")
		}
		if r.Header.Get("Authorization") != "Bearer service-key" {
			t.Error("missing service role bearer")
		}
		json.NewDecoder(r.Body).Decode(&rows)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte("[]"))
	}))
	defer srv.Close()

	err := newClient(t, srv.URL).RecordPayment(context.Background(), &domain.InvoiceRecord{
		DeviceID:       "MAQ-042",
		WashID:         1,
		Amount:         12,
		Identification: "9999999999999",
		Used:           true,
		CardName:       "VISA",
		AuthCode:       "A1B2C3",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if rows[0].WashID != 1 || !rows[0].Used {
		t.Errorf("unexpected row: %+v", rows[0])
	}
}

func TestRecordPayment_NeverRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := newClient(t, srv.URL).RecordPayment(context.Background(), &domain.InvoiceRecord{DeviceID: "MAQ-042"})
	if err == nil {
		t.Fatal("expected error")
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("insert must be single-attempt, got %d calls", n)
	}
}

func TestEnsureMachine_AlreadyRegistered(t *testing.T) {
	var inserts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			w.Write([]byte(`[{"maquinaId":"MAQ-042"}]`))
		case http.MethodPost:
			atomic.AddInt32(&inserts, 1)
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte("[]"))
		}
	}))
	defer srv.Close()

	if err := newClient(t, srv.URL).EnsureMachine(context.Background(), "MAQ-042"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if atomic.LoadInt32(&inserts) != 0 {
		t.Error("expected no insert for an already registered machine")
	}
}

func TestEnsureMachine_RegistersWhenAbsent(t *testing.T) {
	var inserted []map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			w.Write([]byte("[]"))
		case http.MethodPost:
			if r.URL.Path != "/rest/v1/maquina" {
				t.Errorf("unexpected insert path %s", r.URL.Path)
			}
			json.NewDecoder(r.Body).Decode(&inserted)
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte("[]"))
		}
	}))
	defer srv.Close()

	if err := newClient(t, srv.URL).EnsureMachine(context.Background(), "MAQ-042"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(inserted) != 1 || inserted[0]["maquinaId"] != "MAQ-042" {
		t.Errorf("unexpected insert payload: %+v", inserted)
	}
}

func TestEnsureMachine_LookupRetriesThenFails(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := newClient(t, srv.URL).EnsureMachine(context.Background(), "MAQ-042")
	if err == nil {
		t.Fatal("expected error")
	}
	// MaxRetries=2 means up to 3 attempts of the idempotent lookup.
	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Errorf("expected 3 lookup attempts, got %d", n)
	}
}
