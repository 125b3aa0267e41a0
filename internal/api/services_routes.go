package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nih-sparc/sparc-client-go/internal/services"
)

// ServiceStatus describes one registered service.
type ServiceStatus struct {
	Name      string `json:"name"`
	Info      string `json:"info"`
	Connected bool   `json:"connected"`
	// Supported is set once the service has checked the server version.
	Supported *bool `json:"supported,omitempty"`
}

type connectedReporter interface {
	Connected() bool
}

type versionReporter interface {
	ServerSupported() (supported, known bool)
}

// ListServicesHandler returns every registered service in registration order
func (g *Gateway) ListServicesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		statuses := []ServiceStatus{}
		for _, r := range g.client.Registrations() {
			st := ServiceStatus{Name: r.Name, Info: r.Service.Info()}
			if cr, ok := r.Service.(connectedReporter); ok {
				st.Connected = cr.Connected()
			}
			if vr, ok := r.Service.(versionReporter); ok {
				if supported, known := vr.ServerSupported(); known {
					st.Supported = &supported
				}
			}
			statuses = append(statuses, st)
		}
		c.JSON(http.StatusOK, gin.H{"profile": g.client.Profile(), "services": statuses})
	}
}

// ConnectHandler connects a single service
func (g *Gateway) ConnectHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		svc, err := g.client.Service(c.Param("name"))
		if err != nil {
			g.fail(c, err)
			return
		}
		endpoint, err := svc.Connect(c.Request.Context())
		if err != nil {
			g.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"service": c.Param("name"), "endpoint": endpoint})
	}
}

// GetProfileHandler returns the profile a service is using
func (g *Gateway) GetProfileHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		svc, err := g.client.Service(c.Param("name"))
		if err != nil {
			g.fail(c, err)
			return
		}
		profile, err := svc.GetProfile(c.Request.Context())
		if err != nil {
			g.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"service": c.Param("name"), "profile": profile})
	}
}

// SetProfileHandler switches the profile of a service
func (g *Gateway) SetProfileHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req services.Profile
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
			return
		}

		svc, err := g.client.Service(c.Param("name"))
		if err != nil {
			g.fail(c, err)
			return
		}
		profile, err := svc.SetProfile(c.Request.Context(), req)
		if err != nil {
			g.fail(c, err)
			return
		}
		g.log.Info("profile changed", "service", c.Param("name"))
		c.JSON(http.StatusOK, gin.H{"service": c.Param("name"), "profile": profile})
	}
}
