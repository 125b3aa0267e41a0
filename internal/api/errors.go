package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nih-sparc/sparc-client-go/internal/database"
	"github.com/nih-sparc/sparc-client-go/internal/registry"
	"github.com/nih-sparc/sparc-client-go/internal/services"
)

// statusFor maps a client error onto the HTTP status returned to callers.
func statusFor(err error) int {
	switch {
	case errors.Is(err, registry.ErrUnknownService), errors.Is(err, database.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrInvalidArgument), errors.Is(err, services.ErrInvalidProfile):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrAuthentication):
		return http.StatusUnauthorized
	case services.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, services.ErrClosed):
		return http.StatusConflict
	case errors.Is(err, services.ErrNotImplemented):
		return http.StatusNotImplemented
	case services.IsUnavailable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func (g *Gateway) fail(c *gin.Context, err error) {
	status := statusFor(err)
	g.log.Warn("request failed",
		"path", c.FullPath(),
		"status", status,
		"request_id", c.GetString(requestIDKey),
		"error", err,
	)
	body := gin.H{"error": err.Error()}
	if code := services.HTTPStatus(err); code != 0 {
		body["upstream_status"] = code
	}
	c.JSON(status, body)
}
