package cache

import (
	"strings"
	"time"
)

// Category 缓存数据分类，决定默认 TTL
type Category string

const (
	// CategoryCritical 关键数据（余额、账户信息等）
	CategoryCritical Category = "critical"
	// CategoryStandard 标准数据（持仓、成交记录等）
	CategoryStandard Category = "standard"
	// CategoryVolatile 易变数据（订单、成交回报等）
	CategoryVolatile Category = "volatile"
)

// DefaultTTL 返回分类的默认 TTL
func (c Category) DefaultTTL() time.Duration {
	switch c {
	case CategoryCritical:
		return 90 * time.Second
	case CategoryVolatile:
		return 10 * time.Second
	default:
		return 30 * time.Second
	}
}

// Valid 检查分类是否合法
func (c Category) Valid() bool {
	switch c {
	case CategoryCritical, CategoryStandard, CategoryVolatile:
		return true
	}
	return false
}

// Rule TTL/分类推断规则：key 包含 Substring 即命中
type Rule struct {
	Substring string
	TTL       time.Duration
	Category  Category
}

// DefaultTTLValue 未命中任何规则时的默认 TTL
const DefaultTTLValue = 30 * time.Second

// DefaultRules 内置的启发式规则表（按顺序匹配，先命中先生效）
func DefaultRules() []Rule {
	return []Rule{
		{Substring: "balance", TTL: 90 * time.Second, Category: CategoryCritical},
		{Substring: "wallet", TTL: 90 * time.Second, Category: CategoryCritical},
		{Substring: "position", TTL: 60 * time.Second, Category: CategoryStandard},
		{Substring: "trade", TTL: 60 * time.Second, Category: CategoryStandard},
		{Substring: "order", TTL: 30 * time.Second, Category: CategoryVolatile},
		{Substring: "fill", TTL: 30 * time.Second, Category: CategoryVolatile},
		{Substring: "account", TTL: 300 * time.Second, Category: CategoryCritical},
		{Substring: "user", TTL: 300 * time.Second, Category: CategoryCritical},
		{Substring: "info", TTL: 300 * time.Second, Category: CategoryCritical},
	}
}

// Resolve 按规则表推断 key 的 TTL 和分类
// 纯函数：同一 key + 同一规则表，结果恒定。规则按顺序匹配，第一条命中的规则生效。
// 未命中任何规则时返回 (DefaultTTLValue, CategoryStandard, false)。
func Resolve(key string, rules []Rule) (time.Duration, Category, bool) {
	lower := strings.ToLower(key)
	for _, r := range rules {
		if r.Substring == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(r.Substring)) {
			ttl := r.TTL
			category := r.Category
			if ttl <= 0 {
				ttl = category.DefaultTTL()
			}
			if !category.Valid() {
				category = CategoryStandard
			}
			return ttl, category, true
		}
	}
	return DefaultTTLValue, CategoryStandard, false
}
