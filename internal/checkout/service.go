package checkout

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-pricing/internal/common"
	"github.com/noah-isme/toko-pricing/internal/coupons"
	"github.com/noah-isme/toko-pricing/internal/lock"
	"github.com/noah-isme/toko-pricing/internal/obs"
	"github.com/noah-isme/toko-pricing/internal/pricing"
	"github.com/noah-isme/toko-pricing/internal/zones"
)

// ErrTotalMismatch is wrapped when a client-submitted total differs from the recomputed one.
var ErrTotalMismatch = errors.New("checkout total mismatch")

// ZoneLoader provides the current shipping zones. zones.Loader satisfies it.
type ZoneLoader interface {
	Load(ctx context.Context) zones.Snapshot
}

// Locker serialises mutations of a session. lock.Locker satisfies it.
type Locker interface {
	Key(parts ...string) string
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

var (
	_ ZoneLoader = zones.Loader{}
	_ Locker     = lock.Locker{}
)

// LineInput is a cart line as submitted by a client.
type LineInput struct {
	ProductID      string          `json:"productId" validate:"required,max=64"`
	UnitPrice      decimal.Decimal `json:"unitPrice"`
	Quantity       int             `json:"quantity" validate:"gte=0,lte=10000"`
	IsVirtual      bool            `json:"isVirtual"`
	IsDownloadable bool            `json:"isDownloadable"`
}

// SessionInput creates a session.
type SessionInput struct {
	Lines         []LineInput `json:"lines" validate:"max=200,dive"`
	Postcode      string      `json:"postcode" validate:"max=16"`
	PaymentMethod string      `json:"paymentMethod" validate:"max=64"`
}

// SessionPatch updates a session. Nil fields are left unchanged.
type SessionPatch struct {
	Lines         []LineInput `json:"lines" validate:"omitempty,max=200,dive"`
	Postcode      *string     `json:"postcode" validate:"omitempty,max=16"`
	PaymentMethod *string     `json:"paymentMethod" validate:"omitempty,max=64"`
}

// QuoteRequest prices a cart without a stored session.
type QuoteRequest struct {
	Lines         []LineInput `json:"lines" validate:"max=200,dive"`
	Postcode      string      `json:"postcode" validate:"max=16"`
	PaymentMethod string      `json:"paymentMethod" validate:"max=64"`
	CouponCode    string      `json:"couponCode" validate:"max=64"`
}

// ShippingRequest resolves shipping only.
type ShippingRequest struct {
	Lines    []LineInput `json:"lines" validate:"max=200,dive"`
	Postcode string      `json:"postcode" validate:"max=16"`
}

// SubmitResult is the final quote of a session that has been discarded.
type SubmitResult struct {
	SessionID string                `json:"sessionId"`
	Quote     pricing.PricingOutput `json:"quote"`
}

// ServiceConfig wires the checkout service dependencies.
type ServiceConfig struct {
	Engine   *pricing.Engine
	Zones    ZoneLoader
	Coupons  coupons.Validator
	Sessions *SessionStore
	Locker   Locker
	LockTTL  time.Duration
	Logger   zerolog.Logger
	Now      func() time.Time
}

// Service coordinates sessions, coupon validation and the pricing engine.
type Service struct {
	engine   *pricing.Engine
	zones    ZoneLoader
	coupons  coupons.Validator
	sessions *SessionStore
	locker   Locker
	lockTTL  time.Duration
	logger   zerolog.Logger
	now      func() time.Time
}

// NewService validates cfg and constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Engine == nil {
		return nil, errors.New("checkout: pricing engine is required")
	}
	if cfg.Zones == nil {
		return nil, errors.New("checkout: zone loader is required")
	}
	if cfg.Sessions == nil {
		return nil, errors.New("checkout: session store is required")
	}
	if cfg.Locker == nil {
		return nil, errors.New("checkout: session locker is required")
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 5 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{
		engine:   cfg.Engine,
		zones:    cfg.Zones,
		coupons:  cfg.Coupons,
		sessions: cfg.Sessions,
		locker:   cfg.Locker,
		lockTTL:  cfg.LockTTL,
		logger:   cfg.Logger,
		now:      cfg.Now,
	}, nil
}

// CreateSession stores a new session built from in.
func (s *Service) CreateSession(ctx context.Context, in SessionInput) (Session, error) {
	now := s.now().UTC()
	sess := Session{
		ID:            uuid.NewString(),
		Lines:         toLines(in.Lines),
		Postcode:      strings.TrimSpace(in.Postcode),
		PaymentMethod: pricing.CanonicalPaymentMethod(in.PaymentMethod),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.sessions.Save(ctx, sess); err != nil {
		return Session{}, err
	}
	return sess, nil
}

// GetSession loads a session.
func (s *Service) GetSession(ctx context.Context, id string) (Session, error) {
	return s.sessions.Get(ctx, id)
}

// UpdateSession applies patch to the session. A stored coupon stays attached;
// its minimum is checked again on the next quote.
func (s *Service) UpdateSession(ctx context.Context, id string, patch SessionPatch) (Session, error) {
	return s.mutate(ctx, id, func(sess *Session) error {
		if patch.Lines != nil {
			sess.Lines = toLines(patch.Lines)
		}
		if patch.Postcode != nil {
			sess.Postcode = strings.TrimSpace(*patch.Postcode)
		}
		if patch.PaymentMethod != nil {
			sess.PaymentMethod = pricing.CanonicalPaymentMethod(*patch.PaymentMethod)
		}
		return nil
	})
}

// ApplyCoupon validates code and attaches it to the session. The coupon must
// exist, be active, and its minimum order must be met by the current subtotal.
func (s *Service) ApplyCoupon(ctx context.Context, id, code string) (Session, error) {
	canonical := pricing.CanonicalCode(code)
	if canonical == "" {
		return Session{}, common.NewAppError("COUPON_REQUIRED", "coupon code is required", http.StatusBadRequest, nil)
	}
	if _, err := s.sessions.Get(ctx, id); err != nil {
		return Session{}, err
	}
	coupon, err := s.validateCoupon(ctx, canonical)
	if err != nil {
		obs.IncCounter(obs.CouponApplyTotal, couponResult(err))
		return Session{}, err
	}
	sess, err := s.mutate(ctx, id, func(sess *Session) error {
		if err := pricing.ValidateApplicability(coupon, sess.Cart().Subtotal()); err != nil {
			return minimumNotMet(err)
		}
		sess.Coupon = &coupon
		return nil
	})
	if err != nil {
		obs.IncCounter(obs.CouponApplyTotal, couponResult(err))
		return Session{}, err
	}
	obs.IncCounter(obs.CouponApplyTotal, "applied")
	return sess, nil
}

// RemoveCoupon detaches any coupon from the session.
func (s *Service) RemoveCoupon(ctx context.Context, id string) (Session, error) {
	return s.mutate(ctx, id, func(sess *Session) error {
		sess.Coupon = nil
		return nil
	})
}

// Quote prices the latest state of the session.
func (s *Service) Quote(ctx context.Context, id string) (pricing.PricingOutput, error) {
	sess, err := s.sessions.Get(ctx, id)
	if err != nil {
		return pricing.PricingOutput{}, err
	}
	return s.quote(ctx, sess.Cart(), sess.Postcode, sess.PaymentMethod, sess.Coupon), nil
}

// QuoteInput prices a cart without a session. A coupon code is validated the
// same way ApplyCoupon does, except that an unmet minimum is reported in the
// output rather than failing the call.
func (s *Service) QuoteInput(ctx context.Context, req QuoteRequest) (pricing.PricingOutput, error) {
	var coupon *pricing.Coupon
	if code := pricing.CanonicalCode(req.CouponCode); code != "" {
		validated, err := s.validateCoupon(ctx, code)
		if err != nil {
			return pricing.PricingOutput{}, err
		}
		coupon = &validated
	}
	cart := pricing.Cart{Lines: toLines(req.Lines)}
	return s.quote(ctx, cart, req.Postcode, req.PaymentMethod, coupon), nil
}

// ResolveShipping returns the shipping charge for a cart and postcode.
func (s *Service) ResolveShipping(ctx context.Context, req ShippingRequest) pricing.ShippingResolution {
	snap := s.zones.Load(ctx)
	cart := pricing.Cart{Lines: toLines(req.Lines)}
	res := s.engine.ResolveShipping(strings.TrimSpace(req.Postcode), snap.Zones, snap.Default, cart, cart.Subtotal())
	s.recordShipping(res, cart.Subtotal())
	return res
}

// Verify recomputes the session total and compares it with claimed, rounded
// to two places.
func (s *Service) Verify(ctx context.Context, id string, claimed decimal.Decimal) (pricing.PricingOutput, error) {
	out, err := s.Quote(ctx, id)
	if err != nil {
		return pricing.PricingOutput{}, err
	}
	if !pricing.Round2(claimed).Equal(out.Totals.GrandTotal) {
		s.logger.Warn().Str("session_id", id).
			Str("claimed", claimed.String()).
			Str("expected", out.Totals.GrandTotal.StringFixed(2)).
			Msg("checkout_total_mismatch")
		return out, common.NewAppError("TOTAL_MISMATCH", "order total changed, review the updated quote", http.StatusConflict, ErrTotalMismatch).
			WithDetails(map[string]string{
				"expected": out.Totals.GrandTotal.StringFixed(2),
				"claimed":  pricing.Round2(claimed).StringFixed(2),
			})
	}
	return out, nil
}

// Submit computes the final quote and discards the session together with its
// coupon. Creating the order is left to the caller.
func (s *Service) Submit(ctx context.Context, id string) (SubmitResult, error) {
	var result SubmitResult
	err := s.locker.WithLock(ctx, s.lockKey(id), s.lockTTL, func(ctx context.Context) error {
		sess, err := s.sessions.Get(ctx, id)
		if err != nil {
			return err
		}
		if sess.Cart().IsEmpty() {
			return common.NewAppError("CART_EMPTY", "cart has no items", http.StatusUnprocessableEntity, nil)
		}
		result = SubmitResult{
			SessionID: sess.ID,
			Quote:     s.quote(ctx, sess.Cart(), sess.Postcode, sess.PaymentMethod, sess.Coupon),
		}
		return s.sessions.Delete(ctx, id)
	})
	if err != nil {
		return SubmitResult{}, lockError(err)
	}
	s.logger.Info().Str("session_id", id).Str("grand_total", result.Quote.Totals.GrandTotal.StringFixed(2)).Msg("checkout_submitted")
	return result, nil
}

func (s *Service) mutate(ctx context.Context, id string, apply func(*Session) error) (Session, error) {
	var updated Session
	err := s.locker.WithLock(ctx, s.lockKey(id), s.lockTTL, func(ctx context.Context) error {
		sess, err := s.sessions.Get(ctx, id)
		if err != nil {
			return err
		}
		if err := apply(&sess); err != nil {
			return err
		}
		sess.UpdatedAt = s.now().UTC()
		if err := s.sessions.Save(ctx, sess); err != nil {
			return err
		}
		updated = sess
		return nil
	})
	if err != nil {
		return Session{}, lockError(err)
	}
	return updated, nil
}

func (s *Service) quote(ctx context.Context, cart pricing.Cart, postcode, paymentMethod string, coupon *pricing.Coupon) pricing.PricingOutput {
	snap := s.zones.Load(ctx)
	out := s.engine.Quote(pricing.PricingInput{
		Cart:          cart,
		Postcode:      strings.TrimSpace(postcode),
		Zones:         snap.Zones,
		DefaultZone:   snap.Default,
		Coupon:        coupon,
		PaymentMethod: paymentMethod,
	})
	s.recordShipping(out.Shipping, out.Totals.Subtotal)
	if out.CouponRejection != nil {
		obs.IncCounter(obs.PricingQuotesTotal, "coupon_rejected")
		s.logger.Info().Str("coupon", out.CouponRejection.Code).
			Str("shortfall", out.CouponRejection.Shortfall.StringFixed(2)).
			Msg("coupon_rejected")
	} else {
		obs.IncCounter(obs.PricingQuotesTotal, "ok")
	}
	return out
}

func (s *Service) recordShipping(res pricing.ShippingResolution, subtotal decimal.Decimal) {
	obs.IncCounter(obs.ShippingResolutionTotal, res.Outcome())
	if res.Fallback {
		s.logger.Warn().Str("zone", res.ZoneName).Str("cost", res.Cost.StringFixed(2)).Msg("shipping_fallback_used")
	}
	if res.FreeShippingApplied {
		obs.IncCounter(obs.FreeShippingAppliedTotal, s.freeShippingCause(subtotal))
	}
}

func (s *Service) freeShippingCause(subtotal decimal.Decimal) string {
	threshold := s.engine.Config().FreeShippingThreshold
	if threshold.IsPositive() && !subtotal.LessThan(threshold) {
		return "threshold"
	}
	return "coupon"
}

func (s *Service) validateCoupon(ctx context.Context, code string) (pricing.Coupon, error) {
	if s.coupons == nil {
		return pricing.Coupon{}, common.NewAppError("COUPONS_UNAVAILABLE", "coupon validation is not configured", http.StatusServiceUnavailable, nil)
	}
	coupon, err := s.coupons.Validate(ctx, code)
	if err == nil {
		return coupon, nil
	}
	switch {
	case errors.Is(err, coupons.ErrNotFound):
		return pricing.Coupon{}, common.NewAppError("COUPON_NOT_FOUND", "coupon not found", http.StatusNotFound, err)
	case errors.Is(err, coupons.ErrExpired):
		return pricing.Coupon{}, common.NewAppError("COUPON_EXPIRED", "coupon has expired", http.StatusUnprocessableEntity, err)
	case errors.Is(err, coupons.ErrUsageLimitReached):
		return pricing.Coupon{}, common.NewAppError("COUPON_USAGE_LIMIT", "coupon usage limit reached", http.StatusUnprocessableEntity, err)
	case errors.Is(err, coupons.ErrUnsupported):
		return pricing.Coupon{}, common.NewAppError("COUPON_UNSUPPORTED", "coupon cannot be used at checkout", http.StatusUnprocessableEntity, err)
	default:
		s.logger.Error().Err(err).Str("coupon", code).Msg("coupon_validation_failed")
		return pricing.Coupon{}, common.NewAppError("COUPON_VALIDATION_UNAVAILABLE", "coupon validation is temporarily unavailable", http.StatusBadGateway, err)
	}
}

func (s *Service) lockKey(id string) string {
	return s.locker.Key("checkout", id)
}

func minimumNotMet(err error) error {
	var minErr *pricing.MinimumNotMetError
	if !errors.As(err, &minErr) {
		return err
	}
	return &common.AppError{
		Code:       "COUPON_MINIMUM_NOT_MET",
		Message:    minErr.Error(),
		HTTPStatus: http.StatusUnprocessableEntity,
		Err:        err,
		Details: map[string]string{
			"code":      minErr.Code,
			"minimum":   minErr.Minimum.StringFixed(2),
			"subtotal":  minErr.Subtotal.StringFixed(2),
			"shortfall": minErr.Shortfall.StringFixed(2),
		},
	}
}

func couponResult(err error) string {
	if appErr, ok := common.AsAppError(err); ok && appErr.Code != "" {
		return strings.ToLower(appErr.Code)
	}
	if errors.Is(err, ErrSessionNotFound) {
		return "session_not_found"
	}
	return "error"
}

func lockError(err error) error {
	if errors.Is(err, lock.ErrNotAcquired) {
		return common.NewAppError("SESSION_BUSY", "checkout session is being updated, retry shortly", http.StatusConflict, fmt.Errorf("session lock: %w", err))
	}
	return err
}

func toLines(in []LineInput) []pricing.CartLine {
	lines := make([]pricing.CartLine, 0, len(in))
	for _, l := range in {
		lines = append(lines, pricing.CartLine{
			ProductID:      strings.TrimSpace(l.ProductID),
			UnitPrice:      l.UnitPrice,
			Quantity:       l.Quantity,
			IsVirtual:      l.IsVirtual,
			IsDownloadable: l.IsDownloadable,
		})
	}
	return lines
}
