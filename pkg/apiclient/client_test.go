package apiclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestClient_FetchCarriesNonce(t *testing.T) {
	var gotNonce string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotNonce = r.Header.Get("X-Auth-Nonce")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Timeout: 5 * time.Second})
	body, err := c.Fetch(context.Background(), "/balances", 1_700_000_000_000)
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if string(body) != `{"ok":true}` {
		t.Fatalf("unexpected body: %s", body)
	}
	if gotNonce != "1700000000000" {
		t.Fatalf("nonce header not set, got %q", gotNonce)
	}
}

func TestClient_FetchErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Timeout: 5 * time.Second})
	if _, err := c.Fetch(context.Background(), "/balances", 1); err == nil {
		t.Fatalf("expected error for 403 response")
	}
}
