package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/chatbridge/pkg/cache"
	"github.com/chatbridge/pkg/state"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

func sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func router(limiter cache.RateLimiter) *gin.Engine {
	r := gin.New()
	handlers := []gin.HandlerFunc{CheckAuth(secret)}
	if limiter != nil {
		handlers = append(handlers, RateLimit(limiter))
	}
	handlers = append(handlers, func(c *gin.Context) {
		c.JSON(200, gin.H{"tenant": state.CurrentTenant(c)})
	})
	r.GET("/whoami", handlers...)
	return r
}

func get(r http.Handler, header, query string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/whoami"+query, nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCheckAuth(t *testing.T) {
	t.Parallel()

	r := router(nil)
	valid := sign(t, jwt.MapClaims{"tenant_id": "t1", "exp": time.Now().Add(time.Hour).Unix()})

	w := get(r, "Bearer "+valid, "")
	assert.Equal(t, 200, w.Code)
	assert.JSONEq(t, `{"tenant":"t1"}`, w.Body.String())

	w = get(r, "", "?token="+valid)
	assert.Equal(t, 200, w.Code, "query token for websocket clients")

	assert.Equal(t, 401, get(r, "", "").Code)
	assert.Equal(t, 400, get(r, "Token "+valid, "").Code)

	expired := sign(t, jwt.MapClaims{"tenant_id": "t1", "exp": time.Now().Add(-time.Hour).Unix()})
	assert.Equal(t, 401, get(r, "Bearer "+expired, "").Code)

	noTenant := sign(t, jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()})
	assert.Equal(t, 401, get(r, "Bearer "+noTenant, "").Code)

	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"tenant_id": "t1", "exp": time.Now().Add(time.Hour).Unix()}).SignedString([]byte("other"))
	require.NoError(t, err)
	assert.Equal(t, 401, get(r, "Bearer "+forged, "").Code)
}

func TestRateLimit(t *testing.T) {
	t.Parallel()

	r := router(cache.NewMemoryRateLimiter(2, time.Minute))
	token := "Bearer " + sign(t, jwt.MapClaims{"tenant_id": "t1", "exp": time.Now().Add(time.Hour).Unix()})

	assert.Equal(t, 200, get(r, token, "").Code)
	assert.Equal(t, 200, get(r, token, "").Code)

	w := get(r, token, "")
	assert.Equal(t, 429, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	other := "Bearer " + sign(t, jwt.MapClaims{"tenant_id": "t2", "exp": time.Now().Add(time.Hour).Unix()})
	assert.Equal(t, 200, get(r, other, "").Code, "limits are per tenant")
}
