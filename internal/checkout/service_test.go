package checkout_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-pricing/internal/checkout"
	"github.com/noah-isme/toko-pricing/internal/common"
	"github.com/noah-isme/toko-pricing/internal/coupons"
	"github.com/noah-isme/toko-pricing/internal/lock"
	"github.com/noah-isme/toko-pricing/internal/pricing"
	"github.com/noah-isme/toko-pricing/internal/zones"
)

type staticZones struct {
	snap zones.Snapshot
}

func (s staticZones) Load(context.Context) zones.Snapshot { return s.snap }

type fakeCoupons struct {
	coupons map[string]pricing.Coupon
	errs    map[string]error
}

func (f fakeCoupons) Validate(_ context.Context, code string) (pricing.Coupon, error) {
	if err, ok := f.errs[code]; ok {
		return pricing.Coupon{}, err
	}
	if c, ok := f.coupons[code]; ok {
		return c, nil
	}
	return pricing.Coupon{}, coupons.ErrNotFound
}

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func decPtr(v string) *decimal.Decimal {
	d := dec(v)
	return &d
}

func wroclawSnapshot() zones.Snapshot {
	return zones.Snapshot{
		Zones: []pricing.ShippingZone{{
			ID:        3,
			Name:      "Wroclaw",
			Locations: []pricing.PostcodeLocation{pricing.NewPostcodeLocation("51000...51999")},
			Methods:   []pricing.ShippingMethod{{ID: "flat_rate:7", Title: "Courier", Enabled: true, Cost: dec("25")}},
		}},
		Default: pricing.DefaultZone{
			Name:    "Everywhere else",
			Methods: []pricing.ShippingMethod{{ID: "flat_rate:1", Title: "International", Enabled: true, Cost: dec("60")}},
		},
	}
}

type fixture struct {
	svc *checkout.Service
	mr  *miniredis.Miniredis
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := pricing.DefaultConfig()
	cfg.Conversions = map[string]pricing.Conversion{"paypal": {Currency: "USD", Rate: dec("0.25")}}
	svc, err := checkout.NewService(checkout.ServiceConfig{
		Engine: pricing.NewEngine(cfg),
		Zones:  staticZones{snap: wroclawSnapshot()},
		Coupons: fakeCoupons{
			coupons: map[string]pricing.Coupon{
				"SAVE20": {Code: "SAVE20", DiscountType: pricing.DiscountPercent, Amount: dec("20"), MaximumAmount: decPtr("20")},
				"BIG":    {Code: "BIG", DiscountType: pricing.DiscountFixed, Amount: dec("50"), MinimumAmount: decPtr("300")},
				"SHIP":   {Code: "SHIP", DiscountType: pricing.DiscountFixed, Amount: dec("0"), FreeShipping: true},
			},
			errs: map[string]error{
				"OLD":  coupons.ErrExpired,
				"DOWN": errors.New("dial tcp: connection refused"),
			},
		},
		Sessions: &checkout.SessionStore{Client: client, TTL: time.Hour},
		Locker:   lock.Locker{R: client, RetryBackoff: 5 * time.Millisecond, MaxWait: 50 * time.Millisecond},
		Now:      func() time.Time { return time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)
	return fixture{svc: svc, mr: mr}
}

func physicalLines(price string, qty int) []checkout.LineInput {
	return []checkout.LineInput{{ProductID: "sku-1", UnitPrice: dec(price), Quantity: qty}}
}

func requireAppError(t *testing.T, err error, code string, status int) *common.AppError {
	t.Helper()
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, code, appErr.Code)
	require.Equal(t, status, appErr.HTTPStatus)
	return appErr
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := checkout.NewService(checkout.ServiceConfig{})
	require.Error(t, err)
}

func TestSessionLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.svc.CreateSession(ctx, checkout.SessionInput{
		Lines:         physicalLines("50", 2),
		Postcode:      " 51-100 ",
		PaymentMethod: " PayPal ",
	})
	require.NoError(t, err)
	require.NotEmpty(t, sess.ID)
	require.Equal(t, "51-100", sess.Postcode)
	require.Equal(t, "paypal", sess.PaymentMethod)
	require.True(t, f.mr.Exists("checkout:session:"+sess.ID))

	postcode := "51200"
	updated, err := f.svc.UpdateSession(ctx, sess.ID, checkout.SessionPatch{Postcode: &postcode})
	require.NoError(t, err)
	require.Equal(t, "51200", updated.Postcode)
	require.Len(t, updated.Lines, 1, "unchanged lines are kept")

	out, err := f.svc.Quote(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, 3, out.Shipping.ZoneID)
	require.True(t, out.Totals.GrandTotal.Equal(dec("125")))
	require.NotNil(t, out.Totals.Secondary)
	require.True(t, out.Totals.Secondary.Total.Equal(dec("31.25")))

	result, err := f.svc.Submit(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, sess.ID, result.SessionID)
	require.True(t, result.Quote.Totals.GrandTotal.Equal(dec("125")))

	_, err = f.svc.GetSession(ctx, sess.ID)
	require.ErrorIs(t, err, checkout.ErrSessionNotFound)
}

func TestApplyAndRemoveCoupon(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess, err := f.svc.CreateSession(ctx, checkout.SessionInput{Lines: physicalLines("200", 1), Postcode: "51200"})
	require.NoError(t, err)

	withCoupon, err := f.svc.ApplyCoupon(ctx, sess.ID, " save20 ")
	require.NoError(t, err)
	require.NotNil(t, withCoupon.Coupon)
	require.Equal(t, "SAVE20", withCoupon.Coupon.Code)

	out, err := f.svc.Quote(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, "SAVE20", out.AppliedCoupon)
	require.True(t, out.Totals.Discount.Equal(dec("20")), "percent discount clamped by maximum")
	require.True(t, out.Totals.GrandTotal.Equal(dec("205")))

	cleared, err := f.svc.RemoveCoupon(ctx, sess.ID)
	require.NoError(t, err)
	require.Nil(t, cleared.Coupon)

	out, err = f.svc.Quote(ctx, sess.ID)
	require.NoError(t, err)
	require.Empty(t, out.AppliedCoupon)
	require.True(t, out.Totals.GrandTotal.Equal(dec("225")))
}

func TestApplyCouponErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess, err := f.svc.CreateSession(ctx, checkout.SessionInput{Lines: physicalLines("100", 1), Postcode: "51200"})
	require.NoError(t, err)

	appErr := requireAppError(t, mustFail(f.svc.ApplyCoupon(ctx, sess.ID, "big")), "COUPON_MINIMUM_NOT_MET", http.StatusUnprocessableEntity)
	details, ok := appErr.Details.(map[string]string)
	require.True(t, ok)
	require.Equal(t, "200.00", details["shortfall"])

	requireAppError(t, mustFail(f.svc.ApplyCoupon(ctx, sess.ID, "nope")), "COUPON_NOT_FOUND", http.StatusNotFound)
	requireAppError(t, mustFail(f.svc.ApplyCoupon(ctx, sess.ID, "old")), "COUPON_EXPIRED", http.StatusUnprocessableEntity)
	requireAppError(t, mustFail(f.svc.ApplyCoupon(ctx, sess.ID, "down")), "COUPON_VALIDATION_UNAVAILABLE", http.StatusBadGateway)
	requireAppError(t, mustFail(f.svc.ApplyCoupon(ctx, sess.ID, "  ")), "COUPON_REQUIRED", http.StatusBadRequest)

	_, err = f.svc.ApplyCoupon(ctx, "missing", "SAVE20")
	require.ErrorIs(t, err, checkout.ErrSessionNotFound)

	stored, err := f.svc.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	require.Nil(t, stored.Coupon)
}

func mustFail(_ checkout.Session, err error) error {
	return err
}

func TestStoredCouponRejectedAfterCartShrinks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess, err := f.svc.CreateSession(ctx, checkout.SessionInput{Lines: physicalLines("400", 1), Postcode: "51200"})
	require.NoError(t, err)
	_, err = f.svc.ApplyCoupon(ctx, sess.ID, "BIG")
	require.NoError(t, err)

	_, err = f.svc.UpdateSession(ctx, sess.ID, checkout.SessionPatch{Lines: physicalLines("100", 1)})
	require.NoError(t, err)

	out, err := f.svc.Quote(ctx, sess.ID)
	require.NoError(t, err)
	require.Empty(t, out.AppliedCoupon)
	require.NotNil(t, out.CouponRejection)
	require.True(t, out.CouponRejection.Shortfall.Equal(dec("200")))
	require.True(t, out.Totals.Discount.IsZero())
}

func TestQuoteInputAndResolveShipping(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out, err := f.svc.QuoteInput(ctx, checkout.QuoteRequest{
		Lines:         physicalLines("100", 1),
		Postcode:      "00-950",
		PaymentMethod: "COD",
		CouponCode:    "ship",
	})
	require.NoError(t, err)
	require.Equal(t, "Everywhere else", out.Shipping.ZoneName)
	require.True(t, out.Shipping.FreeShippingApplied)
	require.NotNil(t, out.Shipping.OriginalCost)
	require.True(t, out.Totals.GrandTotal.Equal(dec("110")), "subtotal plus cod fee")

	_, err = f.svc.QuoteInput(ctx, checkout.QuoteRequest{Lines: physicalLines("100", 1), CouponCode: "old"})
	requireAppError(t, err, "COUPON_EXPIRED", http.StatusUnprocessableEntity)

	res := f.svc.ResolveShipping(ctx, checkout.ShippingRequest{Lines: physicalLines("600", 1), Postcode: "51200"})
	require.Equal(t, 3, res.ZoneID)
	require.True(t, res.FreeShippingApplied)
	require.True(t, res.Cost.IsZero())

	digital := []checkout.LineInput{{ProductID: "ebook", UnitPrice: dec("30"), Quantity: 1, IsDownloadable: true}}
	res = f.svc.ResolveShipping(ctx, checkout.ShippingRequest{Lines: digital, Postcode: "51200"})
	require.True(t, res.Digital)
}

func TestVerify(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess, err := f.svc.CreateSession(ctx, checkout.SessionInput{Lines: physicalLines("33.333", 3), Postcode: "51200"})
	require.NoError(t, err)

	out, err := f.svc.Verify(ctx, sess.ID, dec("124.999"))
	require.NoError(t, err)
	require.True(t, out.Totals.GrandTotal.Equal(dec("125")))

	_, err = f.svc.Verify(ctx, sess.ID, dec("100"))
	require.ErrorIs(t, err, checkout.ErrTotalMismatch)
	appErr := requireAppError(t, err, "TOTAL_MISMATCH", http.StatusConflict)
	require.Equal(t, map[string]string{"expected": "125.00", "claimed": "100.00"}, appErr.Details)
}

func TestSubmitRejectsEmptyCart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess, err := f.svc.CreateSession(ctx, checkout.SessionInput{Postcode: "51200"})
	require.NoError(t, err)

	_, err = f.svc.Submit(ctx, sess.ID)
	requireAppError(t, err, "CART_EMPTY", http.StatusUnprocessableEntity)

	_, err = f.svc.GetSession(ctx, sess.ID)
	require.NoError(t, err, "rejected submit keeps the session")
}

func TestMutationWaitsForSessionLock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess, err := f.svc.CreateSession(ctx, checkout.SessionInput{Lines: physicalLines("10", 1)})
	require.NoError(t, err)

	require.NoError(t, f.mr.Set("lock:checkout:"+sess.ID, "held"))
	_, err = f.svc.RemoveCoupon(ctx, sess.ID)
	requireAppError(t, err, "SESSION_BUSY", http.StatusConflict)

	f.mr.Del("lock:checkout:" + sess.ID)
	_, err = f.svc.RemoveCoupon(ctx, sess.ID)
	require.NoError(t, err)
}
