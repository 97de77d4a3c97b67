package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestTokenBucket_AllowDrains(t *testing.T) {
	tb := NewTokenBucket(3, 1)

	for n := 0; n < 3; n++ {
		if !tb.Allow() {
			t.Fatalf("expected allow %d within capacity", n)
		}
	}
	if tb.Allow() {
		t.Fatalf("expected deny once bucket is drained")
	}
	if tb.Remaining() != 0 {
		t.Fatalf("expected 0 remaining, got %d", tb.Remaining())
	}
}

func TestTokenBucket_WaitHonorsContext(t *testing.T) {
	tb := NewTokenBucket(1, 1)
	if !tb.Allow() {
		t.Fatalf("first request should pass")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := tb.Wait(ctx)
	if err == nil {
		// 令牌恰好补上也是合法结果，但不能早于补充周期
		if time.Since(start) < 50*time.Millisecond {
			t.Fatalf("wait returned before refill could happen")
		}
		return
	}
	if err != context.DeadlineExceeded {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestSlidingWindow_LimitsWithinWindow(t *testing.T) {
	sw := NewSlidingWindow(2, 200*time.Millisecond)

	if !sw.Allow() || !sw.Allow() {
		t.Fatalf("first two requests must pass")
	}
	if sw.Allow() {
		t.Fatalf("third request inside the window must be denied")
	}
	if sw.Remaining() != 0 {
		t.Fatalf("expected 0 remaining, got %d", sw.Remaining())
	}

	// 窗口滑过后恢复
	time.Sleep(250 * time.Millisecond)
	if !sw.Allow() {
		t.Fatalf("request after window slides must pass")
	}
}

func TestManager_EndpointFallback(t *testing.T) {
	m := NewManager()

	if m.Get(EndpointPrivate) == nil || m.Get(EndpointPublic) == nil {
		t.Fatalf("default endpoints must be registered")
	}
	// 未注册类别回退到 private
	if m.Get("unknown") != m.Get(EndpointPrivate) {
		t.Fatalf("unknown endpoint should fall back to private limiter")
	}

	custom := NewTokenBucket(1, 1)
	m.Register("custom", custom)
	if m.Get("custom") != custom {
		t.Fatalf("registered limiter should be returned")
	}

	if !m.Allow(EndpointPublic) {
		t.Fatalf("fresh public bucket should allow")
	}
	if err := m.Wait(context.Background(), EndpointPublic); err != nil {
		t.Fatalf("wait on fresh bucket failed: %v", err)
	}
}
