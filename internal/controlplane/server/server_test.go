package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/betbot/apigate/pkg/cache"
	"github.com/betbot/apigate/pkg/freshness"
	"github.com/betbot/apigate/pkg/nonce"
)

func newTestServer(t *testing.T) (*Server, *cache.Store, *freshness.Tracker, *nonce.Issuer) {
	t.Helper()
	store := cache.NewStore(cache.Config{})
	t.Cleanup(store.Close)
	tracker := freshness.NewTracker(store)
	issuer := nonce.NewIssuer(nonce.Config{MinRequestInterval: -1})
	t.Cleanup(func() { _ = issuer.Shutdown() })

	s, err := New(Config{}, Deps{Issuer: issuer, Cache: store, Tracker: tracker})
	require.NoError(t, err)
	return s, store, tracker, issuer
}

func doJSON(t *testing.T, handler http.Handler, method, path, body string) (int, map[string]interface{}) {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	out := make(map[string]interface{})
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w.Code, out
}

func TestServer_RequiresCoreDeps(t *testing.T) {
	_, err := New(Config{}, Deps{})
	require.Error(t, err)
}

func TestServer_Healthz(t *testing.T) {
	s, _, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestServer_NonceStatus(t *testing.T) {
	s, _, _, issuer := newTestServer(t)
	_, err := issuer.Request("cred-1", "test")
	require.NoError(t, err)

	code, body := doJSON(t, s.Router(), http.MethodGet, "/api/nonce/status", "")
	require.Equal(t, http.StatusOK, code)
	require.Greater(t, body["last_issued"].(float64), float64(0))
	require.Contains(t, body, "credentials")
}

func TestServer_NonceHistoryDisabled(t *testing.T) {
	s, _, _, _ := newTestServer(t)
	code, _ := doJSON(t, s.Router(), http.MethodGet, "/api/nonce/history", "")
	require.Equal(t, http.StatusServiceUnavailable, code)
}

func TestServer_CacheStatsAndInvalidate(t *testing.T) {
	s, store, _, _ := newTestServer(t)
	store.Set("market:btc", 1)
	store.Set("market:eth", 2)
	store.Set("balances", 3)

	code, body := doJSON(t, s.Router(), http.MethodGet, "/api/cache/stats", "")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, float64(3), body["entries"])

	code, body = doJSON(t, s.Router(), http.MethodPost, "/api/cache/invalidate", `{"pattern":"market:"}`)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, float64(2), body["invalidated"])

	// pattern 缺失是 400
	code, _ = doJSON(t, s.Router(), http.MethodPost, "/api/cache/invalidate", `{"pattern":""}`)
	require.Equal(t, http.StatusBadRequest, code)

	code, body = doJSON(t, s.Router(), http.MethodPost, "/api/cache/clear", "")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, float64(1), body["cleared"])
}

func TestServer_Freshness(t *testing.T) {
	s, _, tracker, _ := newTestServer(t)

	code, body := doJSON(t, s.Router(), http.MethodGet, "/api/freshness/standard", "")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, string(freshness.StateNeverReceived), body["state"])
	require.Equal(t, true, body["should_use_fallback"])

	tracker.ConsumePush(cache.CategoryStandard, "positions", "p")
	code, body = doJSON(t, s.Router(), http.MethodGet, "/api/freshness/standard", "")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, string(freshness.StateFresh), body["state"])
	require.Equal(t, false, body["should_use_fallback"])

	// 未知分类是 400
	code, _ = doJSON(t, s.Router(), http.MethodGet, "/api/freshness/bogus", "")
	require.Equal(t, http.StatusBadRequest, code)
}

func TestServer_CredentialsRegister(t *testing.T) {
	s, _, _, issuer := newTestServer(t)

	code, body := doJSON(t, s.Router(), http.MethodPost, "/api/credentials/", `{"label":"strategy-a"}`)
	require.Equal(t, http.StatusOK, code)
	id, _ := body["credential_id"].(string)
	require.NotEmpty(t, id)

	status := issuer.GetStatus()
	cred, ok := status.Credentials[id]
	require.True(t, ok)
	require.Equal(t, "strategy-a", cred.Label)

	// label 缺失是 400
	code, _ = doJSON(t, s.Router(), http.MethodPost, "/api/credentials/", `{}`)
	require.Equal(t, http.StatusBadRequest, code)
}

func TestServer_ResolveWithoutArbiter(t *testing.T) {
	s, _, _, _ := newTestServer(t)
	code, _ := doJSON(t, s.Router(), http.MethodGet, "/api/resolve?key=balances", "")
	require.Equal(t, http.StatusServiceUnavailable, code)
}
