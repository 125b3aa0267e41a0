package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	requestIDHeader = "X-Request-ID"
	requestIDKey    = "request_id"
)

// RequestID propagates or assigns an X-Request-ID
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

// CORS allows the given browser origins. No origins means no CORS headers.
func CORS(origins []string) gin.HandlerFunc {
	if len(origins) == 0 {
		return func(c *gin.Context) { c.Next() }
	}
	return cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", requestIDHeader},
		ExposeHeaders:    []string{requestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

// TokenValidator validates bearer tokens for API requests
type TokenValidator struct {
	token string
}

// NewTokenValidator creates a new token validator. An empty token allows
// every request.
func NewTokenValidator(token string) *TokenValidator {
	return &TokenValidator{token: token}
}

// ValidateRequest checks if the request has a valid bearer token
func (v *TokenValidator) ValidateRequest(r *http.Request) bool {
	if v.token == "" {
		return true
	}

	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return false
	}
	return parts[1] == v.token
}

// RequiresAuth reports whether path is protected. Only /api/ routes are.
func (v *TokenValidator) RequiresAuth(path string) bool {
	return strings.HasPrefix(path, "/api/")
}

// Middleware enforces token authentication
func (v *TokenValidator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if v.RequiresAuth(c.Request.URL.Path) && !v.ValidateRequest(c.Request) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "code": "UNAUTHORIZED"})
			return
		}
		c.Next()
	}
}
