package service

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go-receipt-verification-service/internal/domain"
)

func TestHTTPOCRClientParsesExtraction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method: %s", r.Method)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"amount":"120.50","counterparty":"ACME Corp","confidence":91}`))
	}))
	defer srv.Close()

	client := NewHTTPOCRClient(srv.URL, 5*time.Second)
	got, err := client.Extract(context.Background(), "https://example.test/artifact")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if got.AmountCents != 12050 || got.Counterparty != "ACME Corp" || got.Confidence != 91 {
		t.Fatalf("extraction: %+v", got)
	}
}

func TestHTTPOCRClientMalformedResponses(t *testing.T) {
	cases := map[string]string{
		"not json":           `ocr says hi`,
		"bad amount":         `{"amount":"12.345","confidence":90}`,
		"missing confidence": `{"amount":"12.00"}`,
		"confidence range":   `{"amount":"12.00","confidence":250}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(body))
			}))
			defer srv.Close()

			client := NewHTTPOCRClient(srv.URL, 5*time.Second)
			if _, err := client.Extract(context.Background(), "u"); !errors.Is(err, ErrOCRMalformed) {
				t.Fatalf("expected malformed error, got %v", err)
			}
		})
	}
}

func TestHTTPOCRClientUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewHTTPOCRClient(srv.URL, 5*time.Second)
	if _, err := client.Extract(context.Background(), "u"); !errors.Is(err, ErrOCRUnavailable) {
		t.Fatalf("expected unavailable error, got %v", err)
	}

	// Connection failure counts as unavailable too.
	srv.Close()
	if _, err := client.Extract(context.Background(), "u"); !errors.Is(err, ErrOCRUnavailable) {
		t.Fatalf("expected unavailable on dead endpoint, got %v", err)
	}
}

func TestHTTPOTPNotifierPostsPayload(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	n := NewHTTPOTPNotifier(srv.URL, 5*time.Second)
	if err := n.Deliver(context.Background(), "buyer-1", domain.RoleBuyer, "123456", time.Now().Add(5*time.Minute)); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if len(gotBody) == 0 {
		t.Fatal("gateway received no payload")
	}
}

func TestHTTPOTPNotifierGatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := NewHTTPOTPNotifier(srv.URL, 5*time.Second)
	if err := n.Deliver(context.Background(), "buyer-1", domain.RoleBuyer, "123456", time.Now()); err == nil {
		t.Fatal("expected error on gateway failure")
	}
}
