package arbiter

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/betbot/apigate/pkg/cache"
	"github.com/betbot/apigate/pkg/freshness"
	"github.com/betbot/apigate/pkg/nonce"
)

type fakeFetcher struct {
	mu     sync.Mutex
	calls  []string
	nonces []int64
	fail   bool
}

func (f *fakeFetcher) Fetch(_ context.Context, endpoint string, n int64) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, endpoint)
	f.nonces = append(f.nonces, n)
	if f.fail {
		return nil, fmt.Errorf("upstream down")
	}
	return []byte(`{"endpoint":"` + endpoint + `"}`), nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestArbiter(t *testing.T, fetcher Fetcher) (*Arbiter, *cache.Store, *freshness.Tracker, *nonce.Issuer) {
	t.Helper()
	store := cache.NewStore(cache.Config{})
	t.Cleanup(store.Close)
	tracker := freshness.NewTracker(store)
	issuer := nonce.NewIssuer(nonce.Config{MinRequestInterval: -1})
	t.Cleanup(func() { _ = issuer.Shutdown() })

	a := New(Config{}, store, tracker, issuer, fetcher, nil)
	return a, store, tracker, issuer
}

func TestArbiter_PushFreshSkipsNonce(t *testing.T) {
	fetcher := &fakeFetcher{}
	a, _, tracker, issuer := newTestArbiter(t, fetcher)

	tracker.ConsumePush(cache.CategoryStandard, "positions", []byte("p1"))

	v, source, err := a.Resolve(context.Background(), Request{
		Key:      "positions",
		Category: cache.CategoryStandard,
	})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if source != SourcePush {
		t.Fatalf("expected push source, got %s", source)
	}
	if string(v.([]byte)) != "p1" {
		t.Fatalf("unexpected value: %v", v)
	}
	if fetcher.callCount() != 0 {
		t.Fatalf("fresh push must not trigger an outbound call")
	}
	if issuer.GetStatus().LastIssued != 0 {
		t.Fatalf("fresh push must not consume a nonce")
	}
}

func TestArbiter_CacheHitSkipsNonce(t *testing.T) {
	fetcher := &fakeFetcher{}
	a, store, _, issuer := newTestArbiter(t, fetcher)

	store.Set("balances", []byte("cached"))

	v, source, err := a.Resolve(context.Background(), Request{Key: "balances"})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if source != SourceCache {
		t.Fatalf("expected cache source, got %s", source)
	}
	if string(v.([]byte)) != "cached" {
		t.Fatalf("unexpected value: %v", v)
	}
	if fetcher.callCount() != 0 || issuer.GetStatus().LastIssued != 0 {
		t.Fatalf("cache hit must not reach the API path")
	}
}

func TestArbiter_MissGoesToAPIAndBackfills(t *testing.T) {
	fetcher := &fakeFetcher{}
	a, store, _, _ := newTestArbiter(t, fetcher)

	v, source, err := a.Resolve(context.Background(), Request{
		Key:      "open-orders",
		Endpoint: "/orders/open",
	})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if source != SourceAPI {
		t.Fatalf("expected api source, got %s", source)
	}
	if len(v.([]byte)) == 0 {
		t.Fatalf("expected body from fetcher")
	}
	if fetcher.callCount() != 1 || fetcher.calls[0] != "/orders/open" {
		t.Fatalf("unexpected fetch calls: %+v", fetcher.calls)
	}
	if fetcher.nonces[0] == 0 {
		t.Fatalf("api path must carry a nonce")
	}

	// 回填后第二次走缓存，不再消耗 nonce
	_, source, err = a.Resolve(context.Background(), Request{Key: "open-orders"})
	if err != nil {
		t.Fatalf("second resolve failed: %v", err)
	}
	if source != SourceCache {
		t.Fatalf("expected cache source after backfill, got %s", source)
	}
	if fetcher.callCount() != 1 {
		t.Fatalf("backfilled key must not fetch again")
	}
	if _, ok := store.Get("open-orders"); !ok {
		t.Fatalf("expected backfilled entry in cache")
	}
}

func TestArbiter_FetchErrorNotCached(t *testing.T) {
	fetcher := &fakeFetcher{fail: true}
	a, store, _, _ := newTestArbiter(t, fetcher)

	_, source, err := a.Resolve(context.Background(), Request{Key: "balances"})
	if err == nil {
		t.Fatalf("expected fetch error to surface")
	}
	if source != SourceAPI {
		t.Fatalf("expected api source on error, got %s", source)
	}
	if _, ok := store.Get("balances"); ok {
		t.Fatalf("failed fetch must not be cached")
	}
}

func TestArbiter_NoFetcherPureCacheMode(t *testing.T) {
	a, _, _, _ := newTestArbiter(t, nil)

	if _, _, err := a.Resolve(context.Background(), Request{Key: "balances"}); err == nil {
		t.Fatalf("miss without fetcher must fail")
	}
}

func TestArbiter_EmptyKeyRejected(t *testing.T) {
	a, _, _, _ := newTestArbiter(t, &fakeFetcher{})

	if _, _, err := a.Resolve(context.Background(), Request{}); err == nil {
		t.Fatalf("empty key must be rejected")
	}
}

func TestArbiter_StalePushFallsThrough(t *testing.T) {
	fetcher := &fakeFetcher{}
	a, _, tracker, _ := newTestArbiter(t, fetcher)

	tracker.ConsumePush(cache.CategoryVolatile, "fills", []byte("f1"))
	tracker.SetDisconnected(true)

	// 断连后推送路径失效，但普通缓存命中依然成立
	_, source, err := a.Resolve(context.Background(), Request{
		Key:      "fills",
		Category: cache.CategoryVolatile,
		MaxAge:   time.Minute,
	})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if source != SourceCache {
		t.Fatalf("expected cache source when push channel is down, got %s", source)
	}
	if fetcher.callCount() != 0 {
		t.Fatalf("cached entry should satisfy the request without fetching")
	}
}
