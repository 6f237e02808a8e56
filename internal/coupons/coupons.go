// Package coupons validates coupon codes against the commerce backend and
// maps them to pricing coupons.
package coupons

import (
	"context"
	"errors"
	"time"

	"github.com/noah-isme/toko-pricing/internal/pricing"
)

var (
	// ErrNotFound is returned when no published coupon carries the code.
	ErrNotFound = errors.New("coupon not found")
	// ErrExpired is returned when the coupon expiry date has passed.
	ErrExpired = errors.New("coupon expired")
	// ErrUsageLimitReached indicates the coupon has exhausted its usage quota.
	ErrUsageLimitReached = errors.New("coupon usage limit reached")
	// ErrUnsupported is returned for discount types the pricing engine cannot express.
	ErrUnsupported = errors.New("coupon type not supported")
)

// Validator resolves a code to a coupon that exists, is active and has usage left.
type Validator interface {
	Validate(ctx context.Context, code string) (pricing.Coupon, error)
}

// Rule captures the lifecycle constraints of a coupon.
type Rule struct {
	ExpiresAt  *time.Time
	UsageLimit *int
	UsageCount int
}

// Check ensures the coupon can still be redeemed at now.
func (r Rule) Check(now time.Time) error {
	if r.ExpiresAt != nil && now.After(*r.ExpiresAt) {
		return ErrExpired
	}
	if r.UsageLimit != nil && *r.UsageLimit >= 0 && r.UsageCount >= *r.UsageLimit {
		return ErrUsageLimitReached
	}
	return nil
}
