// Package ratelimit shapes outbound Admin API traffic to the limits of the
// store's Shopify plan.
//
// A [Tier] names a rate-limit profile; [Configs] maps every tier to its fixed
// [TierConfig]. [Queue] is the process-wide admission gate every upstream call
// passes through, and [DetectTier] maps shop plan metadata to a tier.
package ratelimit

import (
	"fmt"
	"strings"
	"time"
)

// Tier is a named rate-limit profile selected per store subscription level.
type Tier string

const (
	TierStandard   Tier = "STANDARD"
	TierAdvanced   Tier = "ADVANCED"
	TierPlus       Tier = "PLUS"
	TierEnterprise Tier = "ENTERPRISE"
)

// IsValid reports whether t is a recognised tier.
func (t Tier) IsValid() bool {
	_, ok := Configs[t]
	return ok
}

// TierConfig describes one admission profile: at most IntervalCap call
// starts per Interval, with at most Concurrency calls in flight.
type TierConfig struct {
	Name        string        `json:"name"`
	Concurrency int           `json:"concurrency"`
	Interval    time.Duration `json:"-"`
	IntervalCap int           `json:"intervalCap"`
}

// IntervalMs returns Interval in milliseconds, as reported to clients.
func (c TierConfig) IntervalMs() int64 { return c.Interval.Milliseconds() }

// Configs is the fixed tier table. It must not be modified.
var Configs = map[Tier]TierConfig{
	TierStandard: {
		Name:        "Standard Shopify",
		Concurrency: 1,
		Interval:    time.Second,
		IntervalCap: 1,
	},
	TierAdvanced: {
		Name:        "Advanced Shopify",
		Concurrency: 1,
		Interval:    time.Second,
		IntervalCap: 2,
	},
	TierPlus: {
		Name:        "Shopify Plus",
		Concurrency: 2,
		Interval:    time.Second,
		IntervalCap: 5,
	},
	TierEnterprise: {
		Name:        "Shopify for Enterprise (Commerce Components)",
		Concurrency: 3,
		Interval:    time.Second,
		IntervalCap: 10,
	},
}

// Tiers returns every tier in ascending order of capacity.
func Tiers() []Tier {
	return []Tier{TierStandard, TierAdvanced, TierPlus, TierEnterprise}
}

// ParseTier converts s (case-insensitive) into a [Tier].
func ParseTier(s string) (Tier, error) {
	t := Tier(strings.ToUpper(strings.TrimSpace(s)))
	if !t.IsValid() {
		return "", fmt.Errorf("ratelimit: unknown tier %q; valid values: STANDARD, ADVANCED, PLUS, ENTERPRISE", s)
	}
	return t, nil
}

// Plan is the subset of shop plan metadata used for tier detection.
type Plan struct {
	ShopifyPlus bool
	DisplayName string
}

// DetectTier maps plan metadata to a tier. The first matching rule wins:
// the Plus flag, then "advanced", then "enterprise" or "commerce components"
// in the display name. Everything else is STANDARD.
func DetectTier(plan Plan) Tier {
	if plan.ShopifyPlus {
		return TierPlus
	}
	name := strings.ToLower(plan.DisplayName)
	switch {
	case strings.Contains(name, "advanced"):
		return TierAdvanced
	case strings.Contains(name, "enterprise"), strings.Contains(name, "commerce components"):
		return TierEnterprise
	}
	return TierStandard
}
