package common_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-pricing/internal/common"
)

func TestIdemReplaysSuccessfulResponse(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	calls := 0
	handler := common.Idem{R: client, TTL: time.Minute}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		common.JSON(w, http.StatusOK, map[string]any{"data": map[string]int{"call": calls}})
	}))

	send := func(key string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout/sessions/abc/submit", nil)
		req.Header.Set("Idempotency-Key", key)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	first := send("k1")
	require.Equal(t, http.StatusOK, first.Code)
	second := send("k1")
	require.Equal(t, http.StatusOK, second.Code)
	require.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
	require.JSONEq(t, first.Body.String(), second.Body.String())
	require.Equal(t, 1, calls)

	send("k2")
	require.Equal(t, 2, calls)
}

func TestIdemReleasesKeyOnFailure(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	fail := true
	handler := common.Idem{R: client}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail {
			common.JSONError(w, http.StatusConflict, "SESSION_BUSY", "busy", nil)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout/sessions", nil)
	req.Header.Set("Idempotency-Key", "retry-me")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusConflict, rec.Code)

	fail = false
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)
}

func TestIdemPendingKeyConflicts(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	handler := common.Idem{R: client}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run for a pending key")
	}))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout/sessions", nil)
	req.Header.Set("Idempotency-Key", "pending")

	// simulate a request already in flight
	seed := common.Idem{R: client}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inner := httptest.NewRecorder()
		handler.ServeHTTP(inner, req)
		require.Equal(t, http.StatusConflict, inner.Code)
		w.WriteHeader(http.StatusOK)
	}))
	seed.ServeHTTP(httptest.NewRecorder(), req)
}
