package pricing

import (
	"fmt"
	"strings"
)

// DiscountType selects how a coupon amount is interpreted.
type DiscountType string

const (
	DiscountPercent DiscountType = "percent"
	DiscountFixed   DiscountType = "fixed"
)

// Coupon is a discount definition that an external validation call has already
// checked for existence, expiry and usage limits.
type Coupon struct {
	Code          string       `json:"code"`
	DiscountType  DiscountType `json:"discountType"`
	Amount        Money        `json:"amount"`
	MinimumAmount *Money       `json:"minimumAmount,omitempty"`
	MaximumAmount *Money       `json:"maximumAmount,omitempty"`
	FreeShipping  bool         `json:"freeShipping,omitempty"`
}

// CanonicalCode normalises a coupon code for storage and comparison.
func CanonicalCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// MinimumNotMetError reports that the cart subtotal is below the coupon minimum.
type MinimumNotMetError struct {
	Code      string `json:"code"`
	Minimum   Money  `json:"minimum"`
	Subtotal  Money  `json:"subtotal"`
	Shortfall Money  `json:"shortfall"`
}

func (e *MinimumNotMetError) Error() string {
	return fmt.Sprintf("coupon %s requires a minimum order of %s, add %s more",
		e.Code, e.Minimum.StringFixed(2), e.Shortfall.StringFixed(2))
}

// ValidateApplicability checks the coupon preconditions against subtotal.
func ValidateApplicability(c Coupon, subtotal Money) error {
	if c.MinimumAmount == nil || !subtotal.LessThan(*c.MinimumAmount) {
		return nil
	}
	return &MinimumNotMetError{
		Code:      CanonicalCode(c.Code),
		Minimum:   *c.MinimumAmount,
		Subtotal:  subtotal,
		Shortfall: c.MinimumAmount.Sub(subtotal),
	}
}

// ComputeDiscount returns the raw discount for subtotal. The result is not
// bounded by the subtotal; Assemble does that.
func ComputeDiscount(c Coupon, subtotal Money) Money {
	switch DiscountType(strings.ToLower(string(c.DiscountType))) {
	case DiscountPercent:
		raw := subtotal.Mul(c.Amount).Div(hundred)
		if c.MaximumAmount != nil && raw.GreaterThan(*c.MaximumAmount) {
			raw = *c.MaximumAmount
		}
		return raw
	case DiscountFixed:
		return c.Amount
	default:
		return zero
	}
}
