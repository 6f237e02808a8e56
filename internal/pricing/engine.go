package pricing

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Conversion is a fixed display exchange rate for a payment flow settled in a
// different currency. It is configured, never looked up live, so it can drift
// from the provider's actual settlement rate.
type Conversion struct {
	Currency string `json:"currency"`
	Rate     Money  `json:"rate"`
}

// Config holds the store settings the engine applies.
type Config struct {
	FreeShippingThreshold Money
	FallbackShippingCost  Money
	DefaultDeliveryTime   string
	Fees                  FeeTable
	Conversions           map[string]Conversion
}

// DefaultConfig returns the store defaults.
func DefaultConfig() Config {
	return Config{
		FreeShippingThreshold: decimal.NewFromInt(500),
		FallbackShippingCost:  decimal.NewFromInt(20),
		DefaultDeliveryTime:   "2-4 business days",
		Fees:                  DefaultFees(decimal.NewFromInt(10)),
	}
}

// Engine computes shipping and order totals. It keeps no per-call state; the
// only shared data is the immutable config and the wildcard pattern cache.
type Engine struct {
	cfg     Config
	matcher *Matcher
}

// NewEngine constructs an engine for cfg.
func NewEngine(cfg Config) *Engine {
	if cfg.Fees == nil {
		cfg.Fees = FeeTable{}
	}
	if cfg.DefaultDeliveryTime == "" {
		cfg.DefaultDeliveryTime = DefaultConfig().DefaultDeliveryTime
	}
	conversions := make(map[string]Conversion, len(cfg.Conversions))
	for method, conv := range cfg.Conversions {
		conversions[CanonicalPaymentMethod(method)] = conv
	}
	cfg.Conversions = conversions
	return &Engine{cfg: cfg, matcher: NewMatcher()}
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// SecondaryTotal is a display-only conversion of the grand total.
type SecondaryTotal struct {
	Currency string `json:"currency"`
	Rate     Money  `json:"rate"`
	Total    Money  `json:"total"`
}

// OrderTotals is the authoritative price breakdown of an order.
type OrderTotals struct {
	Subtotal     Money           `json:"subtotal"`
	Discount     Money           `json:"discount"`
	ShippingCost Money           `json:"shippingCost"`
	Surcharge    Money           `json:"surcharge"`
	GrandTotal   Money           `json:"grandTotal"`
	Secondary    *SecondaryTotal `json:"secondary,omitempty"`
}

// Assemble combines the cart, the resolved shipping charge, an optional coupon
// and the payment method into order totals. Intermediate values keep full
// precision; only the grand total is rounded.
func (e *Engine) Assemble(cart Cart, shipping ShippingResolution, coupon *Coupon, paymentMethod string) OrderTotals {
	subtotal := cart.Subtotal()
	discount := zero
	if coupon != nil {
		discount = clampMoney(ComputeDiscount(*coupon, subtotal), zero, subtotal)
	}
	shippingCost := nonNegative(shipping.Cost)
	surcharge := ComputeSurcharge(paymentMethod, e.cfg.Fees)

	grand := Round2(subtotal.Sub(discount).Add(shippingCost).Add(surcharge))
	totals := OrderTotals{
		Subtotal:     subtotal,
		Discount:     discount,
		ShippingCost: shippingCost,
		Surcharge:    surcharge,
		GrandTotal:   grand,
	}
	if conv, ok := e.cfg.Conversions[CanonicalPaymentMethod(paymentMethod)]; ok && conv.Rate.IsPositive() {
		totals.Secondary = &SecondaryTotal{
			Currency: strings.ToUpper(conv.Currency),
			Rate:     conv.Rate,
			Total:    Round2(grand.Mul(conv.Rate)),
		}
	}
	return totals
}

// PricingInput carries everything one pricing run needs.
type PricingInput struct {
	Cart          Cart           `json:"cart"`
	Postcode      string         `json:"postcode"`
	Zones         []ShippingZone `json:"zones"`
	DefaultZone   DefaultZone    `json:"defaultZone"`
	Coupon        *Coupon        `json:"coupon,omitempty"`
	PaymentMethod string         `json:"paymentMethod"`
}

// PricingOutput is the result of one pricing run.
type PricingOutput struct {
	Shipping        ShippingResolution  `json:"shipping"`
	Totals          OrderTotals         `json:"totals"`
	AppliedCoupon   string              `json:"appliedCoupon,omitempty"`
	CouponRejection *MinimumNotMetError `json:"couponRejection,omitempty"`
}

// Quote runs the full pipeline: shipping resolution, coupon applicability,
// coupon free shipping, and totals. A coupon whose minimum is not met is left
// out of the totals and reported in CouponRejection.
func (e *Engine) Quote(in PricingInput) PricingOutput {
	subtotal := in.Cart.Subtotal()
	shipping := e.ResolveShipping(in.Postcode, in.Zones, in.DefaultZone, in.Cart, subtotal)

	var out PricingOutput
	coupon := in.Coupon
	if coupon != nil {
		var minErr *MinimumNotMetError
		if err := ValidateApplicability(*coupon, subtotal); errors.As(err, &minErr) {
			out.CouponRejection = minErr
			coupon = nil
		}
	}
	if coupon != nil {
		out.AppliedCoupon = CanonicalCode(coupon.Code)
		if coupon.FreeShipping && shipping.Cost.IsPositive() {
			shipping = waive(shipping, fmt.Sprintf("coupon %s includes free shipping", out.AppliedCoupon))
		}
	}
	out.Shipping = shipping
	out.Totals = e.Assemble(in.Cart, shipping, coupon, in.PaymentMethod)
	return out
}
