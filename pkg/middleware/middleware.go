package middleware

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/chatbridge/pkg/cache"
	"github.com/chatbridge/pkg/constant"
	"github.com/chatbridge/pkg/errs"
	"github.com/chatbridge/pkg/state"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt"
)

func ClaimIp() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(state.CurrentUserIP, c.ClientIP())
		c.Next()
	}
}

// CheckAuth accepts HS256 bearer tokens carrying a tenant_id claim.
func CheckAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			// browsers cannot set headers on a websocket upgrade
			if token := c.Query("token"); token != "" {
				authHeader = "Bearer " + token
			}
		}
		if authHeader == "" {
			c.JSON(401, gin.H{"error": "Token is required"})
			c.Abort()
			return
		}

		authToken := strings.Split(authHeader, " ")
		if len(authToken) != 2 || authToken[0] != "Bearer" {
			c.JSON(400, gin.H{"error": "Invalid/Malformed auth token"})
			c.Abort()
			return
		}

		claims := jwt.MapClaims{}
		token, err := jwt.ParseWithClaims(authToken[1], claims, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
			}
			return []byte(secret), nil
		})

		if err != nil {
			c.JSON(401, gin.H{"error": err.Error()})
			c.Abort()
			return
		}

		if !token.Valid {
			c.JSON(401, gin.H{"error": "Token is not valid"})
			c.Abort()
			return
		}

		if exp, ok := claims["exp"].(float64); !ok || float64(time.Now().Unix()) > exp {
			c.JSON(401, gin.H{"error": "Token expired"})
			c.Abort()
			return
		}

		tenantID, _ := claims["tenant_id"].(string)
		if tenantID == "" {
			c.JSON(401, gin.H{"error": constant.UNAUTHORIZED_ACCESS})
			c.Abort()
			return
		}
		c.Set(state.CurrentTenantID, tenantID)

		c.Next()
	}
}

// RateLimit consumes one unit per tenant and request path. Must run after
// CheckAuth.
func RateLimit(limiter cache.RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := state.CurrentTenant(c) + ":" + c.FullPath()
		err := limiter.CheckAndConsume(c, key)
		var limited *errs.RateLimitError
		switch {
		case errors.As(err, &limited):
			c.Header("Retry-After", strconv.Itoa(limited.RetryAfterSeconds))
			c.JSON(429, gin.H{"error": fmt.Sprintf(constant.RATE_LIMITED, limited.RetryAfterSeconds)})
			c.Abort()
			return
		case err != nil:
			// a broken limiter backend does not block sending
			c.Error(err)
		}
		c.Next()
	}
}
