package checkout

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-pricing/internal/common"
	"github.com/noah-isme/toko-pricing/internal/obs"
)

// HandlerConfig wires the HTTP handler dependencies.
type HandlerConfig struct {
	Service  *Service
	Validate *validator.Validate
	Logger   zerolog.Logger
}

// Handler exposes the pricing and checkout session endpoints.
type Handler struct {
	svc      *Service
	validate *validator.Validate
	logger   zerolog.Logger
}

// NewHandler constructs a Handler. A nil validator gets a default instance.
func NewHandler(cfg HandlerConfig) *Handler {
	v := cfg.Validate
	if v == nil {
		v = validator.New(validator.WithRequiredStructEnabled())
	}
	return &Handler{svc: cfg.Service, validate: v, logger: cfg.Logger}
}

type couponRequest struct {
	Code string `json:"code" validate:"required,max=64"`
}

type verifyRequest struct {
	GrandTotal *decimal.Decimal `json:"grandTotal" validate:"required"`
}

// Quote handles POST /pricing/quote.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	var req QuoteRequest
	if !h.decode(w, r, &req) {
		return
	}
	out, err := h.svc.QuoteInput(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.Data(w, http.StatusOK, out)
}

// ResolveShipping handles POST /shipping/resolve.
func (h *Handler) ResolveShipping(w http.ResponseWriter, r *http.Request) {
	var req ShippingRequest
	if !h.decode(w, r, &req) {
		return
	}
	common.Data(w, http.StatusOK, h.svc.ResolveShipping(r.Context(), req))
}

// CreateSession handles POST /checkout/sessions.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req SessionInput
	if !h.decode(w, r, &req) {
		return
	}
	sess, err := h.svc.CreateSession(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	obs.SetSessionID(r.Context(), sess.ID)
	common.Data(w, http.StatusCreated, sess)
}

// GetSession handles GET /checkout/sessions/{id}.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.svc.GetSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.Data(w, http.StatusOK, sess)
}

// UpdateSession handles PATCH /checkout/sessions/{id}.
func (h *Handler) UpdateSession(w http.ResponseWriter, r *http.Request) {
	var req SessionPatch
	if !h.decode(w, r, &req) {
		return
	}
	sess, err := h.svc.UpdateSession(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.Data(w, http.StatusOK, sess)
}

// ApplyCoupon handles POST /checkout/sessions/{id}/coupon.
func (h *Handler) ApplyCoupon(w http.ResponseWriter, r *http.Request) {
	var req couponRequest
	if !h.decode(w, r, &req) {
		return
	}
	sess, err := h.svc.ApplyCoupon(r.Context(), chi.URLParam(r, "id"), req.Code)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.Data(w, http.StatusOK, sess)
}

// RemoveCoupon handles DELETE /checkout/sessions/{id}/coupon.
func (h *Handler) RemoveCoupon(w http.ResponseWriter, r *http.Request) {
	sess, err := h.svc.RemoveCoupon(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.Data(w, http.StatusOK, sess)
}

// SessionQuote handles GET /checkout/sessions/{id}/quote.
func (h *Handler) SessionQuote(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.Quote(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.Data(w, http.StatusOK, out)
}

// Verify handles POST /checkout/sessions/{id}/verify.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if !h.decode(w, r, &req) {
		return
	}
	out, err := h.svc.Verify(r.Context(), chi.URLParam(r, "id"), *req.GrandTotal)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.Data(w, http.StatusOK, out)
}

// Submit handles POST /checkout/sessions/{id}/submit.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.Submit(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.Data(w, http.StatusOK, out)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if h.svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "checkout service not configured", nil)
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				fields[fieldPath(fe.Namespace())] = fe.Tag()
			}
			common.JSONError(w, http.StatusUnprocessableEntity, "VALIDATION_FAILED", "request validation failed", fields)
			return false
		}
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return false
	}
	return true
}

// fieldPath drops the struct name from a validator namespace.
func fieldPath(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "unknown error", nil)
		return
	}
	if errors.Is(err, ErrSessionNotFound) {
		common.JSONError(w, http.StatusNotFound, "SESSION_NOT_FOUND", "checkout session not found or expired", nil)
		return
	}
	if appErr, ok := common.AsAppError(err); ok {
		common.WriteAppError(w, appErr)
		return
	}
	h.logger.Error().Err(err).Str("path", r.URL.Path).Msg("checkout_request_failed")
	common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
}
