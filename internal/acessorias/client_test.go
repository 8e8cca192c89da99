package acessorias

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, serverURL string, sleeps *[]time.Duration) *Client {
	t.Helper()
	client, err := New(Options{
		BaseURL:    serverURL,
		Token:      "test-token",
		RateBudget: 90,
		Sleep: func(ctx context.Context, d time.Duration) error {
			if sleeps != nil {
				*sleeps = append(*sleeps, d)
			}
			return nil
		},
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestNewRequiresToken(t *testing.T) {
	if _, err := New(Options{BaseURL: "http://example"}); err == nil {
		t.Fatal("expected error for missing token")
	}
}

func TestSleepIntervalFloor(t *testing.T) {
	client, err := New(Options{Token: "t", RateBudget: 600})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if got := client.SleepInterval(); got != 200*time.Millisecond {
		t.Fatalf("expected 200ms floor, got %v", got)
	}
	client, _ = New(Options{Token: "t", RateBudget: 60})
	if got := client.SleepInterval(); got != time.Second {
		t.Fatalf("expected 1s for 60/min budget, got %v", got)
	}
}

func TestRetriesTransientServerError(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"ProcID": 7, "ProcNome": " Fechamento "}]`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)
	records, err := client.ListProcessesPage(context.Background(), ProcessQuery{Page: 1, PerPage: 100})
	if err != nil {
		t.Fatalf("expected recovery after transient 503s, got %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected one record, got %d", len(records))
	}
	if records[0]["ProcNome"] != "Fechamento" {
		t.Fatalf("expected trimmed ProcNome, got %q", records[0]["ProcNome"])
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Fatalf("expected 3 calls, got %d", atomic.LoadInt32(&calls))
	}
}

func TestRetryCeilingRaisesExhausted(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)
	_, err := client.ListProcessesPage(context.Background(), ProcessQuery{Page: 1, PerPage: 100})
	var exhausted *ExhaustedRetriesError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected ExhaustedRetriesError, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 7 {
		t.Fatalf("expected exactly 7 attempts, got %d", got)
	}
	if exhausted.LastStatus != http.StatusInternalServerError {
		t.Fatalf("expected last status 500, got %d", exhausted.LastStatus)
	}
	if exhausted.BodyExcerpt != "boom" {
		t.Fatalf("expected body excerpt preserved, got %q", exhausted.BodyExcerpt)
	}
}

func TestRetryAfterHeaderHonored(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "3")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`[]`))
	}))
	defer server.Close()

	var sleeps []time.Duration
	client := newTestClient(t, server.URL, &sleeps)
	if _, err := client.ListProcessesPage(context.Background(), ProcessQuery{Page: 1, PerPage: 100}); err != nil {
		t.Fatalf("expected success after 429, got %v", err)
	}
	if len(sleeps) == 0 {
		t.Fatal("expected a sleep after 429")
	}
	if sleeps[0] < 3*time.Second {
		t.Fatalf("expected Retry-After sleep >= 3s, got %v", sleeps[0])
	}
}

func TestAuthFailureIsTerminal(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)
	_, err := client.ListProcessesPage(context.Background(), ProcessQuery{Page: 1, PerPage: 100})
	var terminal *TerminalError
	if !errors.As(err, &terminal) {
		t.Fatalf("expected TerminalError, got %v", err)
	}
	if terminal.Kind != KindAuth {
		t.Fatalf("expected auth kind, got %s", terminal.Kind)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected no retry on 401, got %d calls", atomic.LoadInt32(&calls))
	}
}

func TestNotFoundIsTerminal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)
	_, err := client.ListProcessesPage(context.Background(), ProcessQuery{Page: 1, PerPage: 100})
	if !IsTerminal(err) {
		t.Fatalf("expected terminal not-found, got %v", err)
	}
}

func TestEmptyBodyIsEmptyPage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)
	records, err := client.ListDeliveriesPage(context.Background(), DeliveryQuery{Page: 1, PerPage: 100})
	if err != nil {
		t.Fatalf("expected empty page for 204, got %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected no records, got %d", len(records))
	}
}

func TestItemsWrapperAndCNPJNormalization(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("DtLastDH") == "" {
			t.Errorf("expected DtLastDH to be forwarded")
		}
		_, _ = w.Write([]byte(`{"items":[{"CNPJ":"12.345.678/0001-95","EntStatus":"Pendente"}]}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)
	records, err := client.ListDeliveriesPage(context.Background(), DeliveryQuery{
		Page:     1,
		PerPage:  100,
		DtLastDH: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("list deliveries: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected one record, got %d", len(records))
	}
	if records[0]["CNPJ"] != "12345678000195" {
		t.Fatalf("expected digits-only CNPJ, got %q", records[0]["CNPJ"])
	}
}

func TestDeliveriesByCNPJRejectsInvalid(t *testing.T) {
	client := newTestClient(t, "http://unused", nil)
	if _, err := client.DeliveriesByCNPJPage(context.Background(), "n/a", DeliveryQuery{Page: 1, PerPage: 10}); err == nil {
		t.Fatal("expected error for CNPJ without digits")
	}
}
