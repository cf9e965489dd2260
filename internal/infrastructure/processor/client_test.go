package processor

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"rampbridge/internal/application"

	"github.com/shopspring/decimal"
)

func TestCreateTransferSendsIdempotencyKey(t *testing.T) {
	var gotKey, gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/transfers" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		gotKey = r.Header.Get("Idempotency-Key")
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"trf_1","status":"pending","reference":"abc123","amount":"15000"}`))
	}))
	defer server.Close()

	client, err := NewClient(server.URL, "sk_test")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	transfer, err := client.CreateTransfer(context.Background(), application.TransferRequest{
		BankCode:       "058",
		AccountNumber:  "0123456789",
		Amount:         decimal.NewFromInt(15000),
		Currency:       "NGN",
		Reference:      "abc123",
		IdempotencyKey: "abc123",
	})
	if err != nil {
		t.Fatalf("CreateTransfer: %v", err)
	}
	if gotKey != "abc123" {
		t.Errorf("Idempotency-Key = %q, want abc123", gotKey)
	}
	if gotAuth != "Bearer sk_test" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if transfer.ID != "trf_1" || transfer.Status != application.TransferPending {
		t.Errorf("transfer = %+v", transfer)
	}
	if !transfer.Amount.Equal(decimal.NewFromInt(15000)) {
		t.Errorf("amount = %s", transfer.Amount)
	}
}

func TestCreateTransferAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":"invalid_account","message":"account not found"}`))
	}))
	defer server.Close()

	client, _ := NewClient(server.URL, "sk_test")
	_, err := client.CreateTransfer(context.Background(), application.TransferRequest{Reference: "abc"})
	var procErr *application.ProcessorError
	if !errors.As(err, &procErr) {
		t.Fatalf("error = %v, want *application.ProcessorError", err)
	}
	if procErr.StatusCode != http.StatusBadRequest || procErr.Code != "invalid_account" {
		t.Errorf("processor error = %+v", procErr)
	}
	if application.IsTemporary(procErr) {
		t.Error("400 rejection classified as temporary")
	}
}

func TestFindTransferByReference(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("reference") {
		case "known":
			w.Write([]byte(`{"id":"trf_2","status":"success","reference":"known","amount":"100"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"code":"not_found","message":"no transfer"}`))
		}
	}))
	defer server.Close()

	client, _ := NewClient(server.URL, "sk_test")

	transfer, found, err := client.FindTransferByReference(context.Background(), "known")
	if err != nil || !found {
		t.Fatalf("FindTransferByReference known = %v, found=%v", err, found)
	}
	if transfer.Status != application.TransferSuccess {
		t.Errorf("status = %s", transfer.Status)
	}

	_, found, err = client.FindTransferByReference(context.Background(), "missing")
	if err != nil {
		t.Fatalf("FindTransferByReference missing: %v", err)
	}
	if found {
		t.Error("missing reference reported as found")
	}
}

func TestServerErrorIsTemporary(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client, _ := NewClient(server.URL, "sk_test")
	_, err := client.GetTransfer(context.Background(), "trf_1")
	if err == nil {
		t.Fatal("expected error")
	}
	if !application.IsTemporary(err) {
		t.Error("503 not classified as temporary")
	}
}
