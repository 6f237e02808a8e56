package coupons

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-pricing/internal/pricing"
)

// ErrBackendStatus is returned when the commerce backend answers with a non-2xx status.
var ErrBackendStatus = errors.New("coupons: unexpected backend status")

// Doer executes HTTP requests. resilience.HTTPClient satisfies it.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// BackendClient validates coupons through GET /coupons?code=X.
type BackendClient struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	HTTP           Doer
	Logger         zerolog.Logger
	Now            func() time.Time
}

var _ Validator = (*BackendClient)(nil)

type backendCoupon struct {
	Code           string  `json:"code"`
	Amount         string  `json:"amount"`
	Status         string  `json:"status"`
	DiscountType   string  `json:"discount_type"`
	DateExpiresGMT *string `json:"date_expires_gmt"`
	UsageCount     int     `json:"usage_count"`
	UsageLimit     *int    `json:"usage_limit"`
	FreeShipping   bool    `json:"free_shipping"`
	MinimumAmount  string  `json:"minimum_amount"`
	MaximumAmount  string  `json:"maximum_amount"`
}

// Validate looks the code up and applies the lifecycle rules.
func (c *BackendClient) Validate(ctx context.Context, code string) (pricing.Coupon, error) {
	canonical := pricing.CanonicalCode(code)
	if canonical == "" {
		return pricing.Coupon{}, ErrNotFound
	}
	found, err := c.lookup(ctx, canonical)
	if err != nil {
		return pricing.Coupon{}, err
	}
	rule, err := found.rule()
	if err != nil {
		return pricing.Coupon{}, err
	}
	if err := rule.Check(c.now()); err != nil {
		return pricing.Coupon{}, err
	}
	coupon, err := found.toCoupon(canonical)
	if err != nil {
		c.Logger.Warn().Err(err).Str("coupon", canonical).Str("discount_type", found.DiscountType).Msg("coupon_unmappable")
		return pricing.Coupon{}, err
	}
	return coupon, nil
}

func (c *BackendClient) lookup(ctx context.Context, code string) (backendCoupon, error) {
	if c.HTTP == nil {
		return backendCoupon{}, errors.New("coupons: backend http client not configured")
	}
	endpoint := strings.TrimRight(c.BaseURL, "/") + "/coupons?code=" + url.QueryEscape(code)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return backendCoupon{}, err
	}
	req.Header.Set("Accept", "application/json")
	if c.ConsumerKey != "" {
		req.SetBasicAuth(c.ConsumerKey, c.ConsumerSecret)
	}
	resp, err := c.HTTP.Do(ctx, req)
	if err != nil {
		return backendCoupon{}, fmt.Errorf("lookup coupon: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode == http.StatusNotFound {
		return backendCoupon{}, ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return backendCoupon{}, fmt.Errorf("%w: %s", ErrBackendStatus, resp.Status)
	}
	var listed []backendCoupon
	if err := json.NewDecoder(resp.Body).Decode(&listed); err != nil {
		return backendCoupon{}, fmt.Errorf("decode coupons: %w", err)
	}
	// the backend search is a substring match
	for _, bc := range listed {
		if pricing.CanonicalCode(bc.Code) != code {
			continue
		}
		if bc.Status != "" && bc.Status != "publish" {
			return backendCoupon{}, ErrNotFound
		}
		return bc, nil
	}
	return backendCoupon{}, ErrNotFound
}

func (bc backendCoupon) rule() (Rule, error) {
	rule := Rule{UsageLimit: bc.UsageLimit, UsageCount: bc.UsageCount}
	if bc.DateExpiresGMT != nil && strings.TrimSpace(*bc.DateExpiresGMT) != "" {
		expires, err := time.Parse("2006-01-02T15:04:05", strings.TrimSpace(*bc.DateExpiresGMT))
		if err != nil {
			return Rule{}, fmt.Errorf("coupon %s expiry %q: %w", bc.Code, *bc.DateExpiresGMT, err)
		}
		expires = expires.UTC()
		rule.ExpiresAt = &expires
	}
	return rule, nil
}

func (bc backendCoupon) toCoupon(code string) (pricing.Coupon, error) {
	coupon := pricing.Coupon{Code: code, FreeShipping: bc.FreeShipping}
	switch strings.ToLower(bc.DiscountType) {
	case "percent":
		coupon.DiscountType = pricing.DiscountPercent
	case "fixed_cart", "fixed":
		coupon.DiscountType = pricing.DiscountFixed
	default:
		return pricing.Coupon{}, fmt.Errorf("%w: %s", ErrUnsupported, bc.DiscountType)
	}
	amount, err := parseAmount(bc.Amount)
	if err != nil {
		return pricing.Coupon{}, fmt.Errorf("coupon %s amount: %w", code, err)
	}
	coupon.Amount = amount
	if coupon.MinimumAmount, err = optionalAmount(bc.MinimumAmount); err != nil {
		return pricing.Coupon{}, fmt.Errorf("coupon %s minimum: %w", code, err)
	}
	if coupon.MaximumAmount, err = optionalAmount(bc.MaximumAmount); err != nil {
		return pricing.Coupon{}, fmt.Errorf("coupon %s maximum: %w", code, err)
	}
	return coupon, nil
}

func parseAmount(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(strings.ReplaceAll(raw, ",", "."))
}

// optionalAmount treats empty and zero values as unset.
func optionalAmount(raw string) (*decimal.Decimal, error) {
	amount, err := parseAmount(raw)
	if err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, nil
	}
	return &amount, nil
}

func (c *BackendClient) now() time.Time {
	if c.Now != nil {
		return c.Now().UTC()
	}
	return time.Now().UTC()
}
