package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestHandlerRejectsWithRetryAfter(t *testing.T) {
	lim, _, _ := newSliding(t)
	lim.Now = nil
	h := Handler{
		Limiter: lim,
		Config: Config{
			Key:    func(*http.Request) string { return "quote:static" },
			Window: 30 * time.Second,
			Max:    1,
		},
	}.Middleware(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/pricing/quote", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "1", rr.Header().Get("X-RateLimit-Limit"))
	require.Equal(t, "0", rr.Header().Get("X-RateLimit-Remaining"))

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	require.NotEmpty(t, rr.Header().Get("Retry-After"))

	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, "RATE_LIMITED", body.Error.Code)
}

type failingLimiter struct{}

func (failingLimiter) Allow(_ context.Context, _ string, window time.Duration, _ int) (bool, int, time.Time, error) {
	return false, 0, time.Now().Add(window), errors.New("redis down")
}

func TestHandlerFailsOpen(t *testing.T) {
	var reported error
	h := Handler{
		Limiter: failingLimiter{},
		Config:  Config{Key: func(*http.Request) string { return "k" }, Window: time.Second, Max: 1},
		OnError: func(err error) { reported = err },
	}.Middleware(okHandler())

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.EqualError(t, reported, "redis down")
}

func TestHandlerWithoutKeyPassesThrough(t *testing.T) {
	h := Handler{Limiter: failingLimiter{}}.Middleware(okHandler())
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/", nil))
	require.Equal(t, http.StatusOK, rr.Code)
}
