package handler

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iliyamo/community-gate/internal/apperr"
)

func TestRespondError(t *testing.T) {
	withDetails := apperr.Validation("bad input")
	withDetails.Details = "field name is empty"

	cases := []struct {
		name   string
		err    error
		status int
		body   string
	}{
		{"forbidden", apperr.Forbidden("only admins can approve visitors"), http.StatusForbidden, `{"error":"only admins can approve visitors"}`},
		{"transition", apperr.New(apperr.CodeInvalidTransition, "cannot approve visitor: current status is denied, expected pending"), http.StatusBadRequest,
			`{"error":"cannot approve visitor: current status is denied, expected pending"}`},
		{"details", withDetails, http.StatusBadRequest, `{"error":"bad input","details":"field name is empty"}`},
		{"conflict", apperr.New(apperr.CodeConflict, "email already in use"), http.StatusConflict, `{"error":"email already in use"}`},
		{"unavailable", apperr.New(apperr.CodeUnavailable, "chat assistant is not configured"), http.StatusServiceUnavailable, `{"error":"chat assistant is not configured"}`},
		{"internal hides cause", apperr.Internal("failed to list visitors", errors.New("db: connection refused")), http.StatusInternalServerError, `{"error":"internal server error"}`},
		{"foreign error", errors.New("boom"), http.StatusInternalServerError, `{"error":"internal server error"}`},
	}
	e := echo.New()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			c := e.NewContext(httptest.NewRequest(http.MethodPost, "/", nil), rec)
			require.NoError(t, respondError(c, zap.NewNop(), tc.err))
			assert.Equal(t, tc.status, rec.Code)
			assert.JSONEq(t, tc.body, rec.Body.String())
		})
	}
}
