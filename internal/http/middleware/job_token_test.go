package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	echo "github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func callWithToken(t *testing.T, configured, sent string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/jobs/followups", nil)
	if sent != "" {
		req.Header.Set("Authorization", sent)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := JobTokenMiddleware(configured)(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	require.NoError(t, h(c))
	return rec
}

func TestJobTokenAcceptsMatchingBearer(t *testing.T) {
	rec := callWithToken(t, "s3cret", "Bearer s3cret")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestJobTokenRejectsMissingOrWrongToken(t *testing.T) {
	assert.Equal(t, http.StatusUnauthorized, callWithToken(t, "s3cret", "").Code)
	assert.Equal(t, http.StatusUnauthorized, callWithToken(t, "s3cret", "Bearer nope").Code)
	assert.Equal(t, http.StatusUnauthorized, callWithToken(t, "s3cret", "s3cret").Code)
}

func TestJobTokenUnconfiguredIsServerError(t *testing.T) {
	rec := callWithToken(t, "", "Bearer anything")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
