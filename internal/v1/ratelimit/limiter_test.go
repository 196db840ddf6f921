package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewInvalidRate(t *testing.T) {
	_, err := New("bogus", "60-M")
	assert.Error(t, err)

	_, err = New("100-M", "bogus")
	assert.Error(t, err)
}

func TestAPIMiddlewareAllowsThenBlocks(t *testing.T) {
	rl, err := New("2-M", "60-M")
	require.NoError(t, err)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(rl.APIMiddleware())
	r.GET("/create", func(c *gin.Context) { c.Status(http.StatusOK) })

	do := func() *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/create", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		r.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusOK, do().Code)
	assert.Equal(t, http.StatusOK, do().Code)

	w := do()
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestCheckWebSocket(t *testing.T) {
	rl, err := New("100-M", "1-M")
	require.NoError(t, err)

	gin.SetMode(gin.TestMode)

	check := func() bool {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/ws/abcd", nil)
		c.Request.RemoteAddr = "10.0.0.2:1234"
		return rl.CheckWebSocket(c)
	}

	assert.True(t, check())
	assert.False(t, check())
}
