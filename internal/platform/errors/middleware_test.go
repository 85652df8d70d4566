package errors

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/muzlik-gm/Portfolio-sub000/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newErrorsTotal() *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_errors_total"}, []string{"type"})
}

func run(t *testing.T, handlerErr error) (*httptest.ResponseRecorder, error, *prometheus.CounterVec) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/events", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	total := newErrorsTotal()
	err := Middleware(total)(func(echo.Context) error { return handlerErr })(c)
	return rec, err, total
}

func TestMiddleware_StructuredError(t *testing.T) {
	rec, err, total := run(t, ValidationError("eventType is required", nil))
	require.NoError(t, err)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "eventType is required", resp.Error)
	assert.Equal(t, TypeValidation, resp.Type)
	assert.InDelta(t, 1.0, testutil.ToFloat64(total.WithLabelValues("validation")), 0)
}

func TestMiddleware_DomainError(t *testing.T) {
	rec, err, total := run(t, domain.ErrNotAdmin)
	require.NoError(t, err)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.InDelta(t, 1.0, testutil.ToFloat64(total.WithLabelValues("forbidden")), 0)
}

func TestMiddleware_PlainError(t *testing.T) {
	rec, err, _ := run(t, errors.New("something broke"))
	require.NoError(t, err)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "internal server error", resp.Error)
}

func TestMiddleware_NoError(t *testing.T) {
	rec, err, total := run(t, nil)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, testutil.CollectAndCount(total))
}

func TestMiddleware_EchoHTTPErrorPassesThrough(t *testing.T) {
	httpErr := echo.NewHTTPError(http.StatusRequestEntityTooLarge, "body too large")
	_, err, total := run(t, httpErr)

	assert.Equal(t, httpErr, err)
	assert.InDelta(t, 1.0, testutil.ToFloat64(total.WithLabelValues("validation")), 0)
}

func TestWrapHTTPError(t *testing.T) {
	tests := []struct {
		code int
		want ErrorType
	}{
		{http.StatusBadRequest, TypeValidation},
		{http.StatusUnauthorized, TypeUnauthorized},
		{http.StatusForbidden, TypeForbidden},
		{http.StatusNotFound, TypeNotFound},
		{http.StatusMethodNotAllowed, TypeNotFound},
		{http.StatusTooManyRequests, TypeRateLimited},
		{http.StatusServiceUnavailable, TypeUnavailable},
		{http.StatusTeapot, TypeInternal},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, WrapHTTPError(echo.NewHTTPError(tt.code)).Type)
		})
	}
}

func TestWrapHTTPError_Message(t *testing.T) {
	assert.Equal(t, "custom", WrapHTTPError(echo.NewHTTPError(http.StatusBadRequest, "custom")).Message)
	assert.Equal(t, "Not Found", WrapHTTPError(echo.NewHTTPError(http.StatusNotFound)).Message)
}
