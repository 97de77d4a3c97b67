package cache

import (
	"testing"
	"time"
)

func TestResolve_FirstMatchWins(t *testing.T) {
	rules := []Rule{
		{Substring: "order", TTL: 5 * time.Second, Category: CategoryVolatile},
		{Substring: "order-book", TTL: 60 * time.Second, Category: CategoryStandard},
	}

	// 两条规则都能匹配，但顺序在前的生效
	ttl, category, matched := Resolve("order-book:btc", rules)
	if !matched {
		t.Fatalf("expected a rule match")
	}
	if ttl != 5*time.Second || category != CategoryVolatile {
		t.Fatalf("expected first rule to win, got ttl=%v category=%s", ttl, category)
	}
}

func TestResolve_Deterministic(t *testing.T) {
	rules := DefaultRules()

	ttl1, cat1, m1 := Resolve("user-balances", rules)
	ttl2, cat2, m2 := Resolve("user-balances", rules)
	if ttl1 != ttl2 || cat1 != cat2 || m1 != m2 {
		t.Fatalf("resolve must be deterministic for the same key and rules")
	}
	if !m1 || cat1 != CategoryCritical || ttl1 != 90*time.Second {
		t.Fatalf("unexpected resolution for balances key: ttl=%v category=%s matched=%v", ttl1, cat1, m1)
	}
}

func TestResolve_NoMatchDefaults(t *testing.T) {
	ttl, category, matched := Resolve("zzz-unmatched", DefaultRules())
	if matched {
		t.Fatalf("expected no match")
	}
	if ttl != DefaultTTLValue || category != CategoryStandard {
		t.Fatalf("unexpected defaults: ttl=%v category=%s", ttl, category)
	}
}

func TestResolve_CaseInsensitive(t *testing.T) {
	_, category, matched := Resolve("GET/Balance/ALL", DefaultRules())
	if !matched || category != CategoryCritical {
		t.Fatalf("matching should ignore case: matched=%v category=%s", matched, category)
	}
}

func TestCategory_DefaultTTL(t *testing.T) {
	cases := []struct {
		category Category
		want     time.Duration
	}{
		{CategoryCritical, 90 * time.Second},
		{CategoryStandard, 30 * time.Second},
		{CategoryVolatile, 10 * time.Second},
		{Category("bogus"), 30 * time.Second},
	}
	for _, c := range cases {
		if got := c.category.DefaultTTL(); got != c.want {
			t.Fatalf("category %q: expected ttl %v, got %v", c.category, c.want, got)
		}
	}
}

func TestCategory_Valid(t *testing.T) {
	if !CategoryCritical.Valid() || !CategoryStandard.Valid() || !CategoryVolatile.Valid() {
		t.Fatalf("built-in categories must be valid")
	}
	if Category("bogus").Valid() {
		t.Fatalf("unknown category must be invalid")
	}
}
