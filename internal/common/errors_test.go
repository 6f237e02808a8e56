package common_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-pricing/internal/common"
)

func TestAppErrorChain(t *testing.T) {
	cause := errors.New("backend said no")
	appErr := common.NewAppError("COUPON_NOT_FOUND", "coupon not found", http.StatusNotFound, cause)
	wrapped := fmt.Errorf("apply coupon: %w", appErr)

	got, ok := common.AsAppError(wrapped)
	require.True(t, ok)
	require.Same(t, appErr, got)
	require.ErrorIs(t, wrapped, cause)
	require.Equal(t, "coupon not found: backend said no", appErr.Error())

	_, ok = common.AsAppError(cause)
	require.False(t, ok)
}

func TestWriteAppError(t *testing.T) {
	rr := httptest.NewRecorder()
	common.WriteAppError(rr, (&common.AppError{Message: "bad"}).WithDetails(map[string]string{"field": "postcode"}))
	require.Equal(t, http.StatusBadRequest, rr.Code)

	var body struct {
		Error common.ErrorBody `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, "BAD_REQUEST", body.Error.Code)
	require.Equal(t, "bad", body.Error.Message)
	require.Equal(t, map[string]any{"field": "postcode"}, body.Error.Details)
}

func TestDataEnvelopeKeepsEmptySlices(t *testing.T) {
	rr := httptest.NewRecorder()
	common.Data(rr, http.StatusOK, []string{})
	require.JSONEq(t, `{"data":[]}`, rr.Body.String())
	require.Equal(t, "application/json", rr.Header().Get("Content-Type"))
}

func TestJSONUnencodableValue(t *testing.T) {
	rr := httptest.NewRecorder()
	common.JSON(rr, http.StatusOK, map[string]any{"bad": make(chan int)})
	require.Equal(t, http.StatusInternalServerError, rr.Code)
}
