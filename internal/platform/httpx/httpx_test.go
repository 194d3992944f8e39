package httpx

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

func TestRespondErrorStatusMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{shared.Invalid("qty", "must be positive"), http.StatusBadRequest},
		{shared.NotFound("purchase order", 9), http.StatusNotFound},
		{&shared.InsufficientStockError{Current: 5, Requested: 10}, http.StatusConflict},
		{&shared.InvalidStateTransitionError{Entity: "purchase order", From: "RECEIVED", To: "RECEIVED"}, http.StatusConflict},
		{shared.Denied("tenant mismatch"), http.StatusForbidden},
		{shared.ErrUnauthorized, http.StatusUnauthorized},
		{shared.ErrIdempotencyConflict, http.StatusConflict},
		{errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		RespondError(rr, tc.err)
		require.Equal(t, tc.status, rr.Code, tc.err.Error())
		require.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))
	}
}

func TestRespondErrorHidesInternalDetail(t *testing.T) {
	rr := httptest.NewRecorder()
	RespondError(rr, errors.New("password=secret"))
	var body ProblemDetail
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	require.Empty(t, body.Detail)
	require.Equal(t, http.StatusInternalServerError, body.Status)
}

func TestDecodeJSONRejectsUnknownFields(t *testing.T) {
	var target struct {
		Qty int64 `json:"qty"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"qty":1,"extra":true}`))
	err := DecodeJSON(req, &target)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestValidateReportsFirstField(t *testing.T) {
	type line struct {
		ProductID int64 `validate:"required"`
		Quantity  int64 `validate:"gt=0"`
	}
	type payload struct {
		Lines []line `validate:"required,min=1,dive"`
	}
	err := Validate(payload{Lines: []line{{ProductID: 1, Quantity: 0}}})
	var verr *shared.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "Lines[0].Quantity", verr.Field)
	require.Equal(t, "must be greater than 0", verr.Reason)

	require.NoError(t, Validate(payload{Lines: []line{{ProductID: 1, Quantity: 2}}}))
}

func TestQueryInt64(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?product_id=12&bad=x", nil)
	v, err := QueryInt64(req, "product_id")
	require.NoError(t, err)
	require.Equal(t, int64(12), v)

	v, err = QueryInt64(req, "missing")
	require.NoError(t, err)
	require.Zero(t, v)

	_, err = QueryInt64(req, "bad")
	require.ErrorIs(t, err, shared.ErrValidation)
}
