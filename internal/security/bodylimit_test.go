package security

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBodyLimit(t *testing.T) {
	cases := []struct {
		name          string
		body          string
		contentLength int64
		wantStatus    int
		wantBody      string
	}{
		{name: "within limit", body: `{"a":1}`, wantStatus: http.StatusOK, wantBody: `{"a":1}`},
		{name: "exactly at limit", body: "0123456789", wantStatus: http.StatusOK, wantBody: "0123456789"},
		{name: "streamed past limit", body: "0123456789x", contentLength: -1, wantStatus: http.StatusRequestEntityTooLarge},
		{name: "declared past limit", body: "short", contentLength: 100, wantStatus: http.StatusRequestEntityTooLarge},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var seen string
			handler := BodyLimit{Max: 10}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				data, err := io.ReadAll(r.Body)
				require.NoError(t, err)
				require.EqualValues(t, len(data), r.ContentLength)
				seen = string(data)
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodPost, "/api/v1/pricing/quote", strings.NewReader(tc.body))
			if tc.contentLength != 0 {
				req.ContentLength = tc.contentLength
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			require.Equal(t, tc.wantStatus, rr.Code)
			if tc.wantStatus == http.StatusOK {
				require.Equal(t, tc.wantBody, seen)
				return
			}
			require.Contains(t, rr.Body.String(), "PAYLOAD_TOO_LARGE")
			require.Contains(t, rr.Body.String(), `"maxBytes":10`)
		})
	}
}

func TestBodyLimitDisabled(t *testing.T) {
	handler := BodyLimit{}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(strings.Repeat("x", 4096))))
	require.Equal(t, http.StatusNoContent, rr.Code)
}
