// Package api exposes the SPARC client over HTTP.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// SetupRoutes configures all API routes
func SetupRoutes(r *gin.Engine, gw *Gateway) {
	r.GET("/health", func(c *gin.Context) {
		if !gw.client.Alive() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "down"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "profile": gw.client.Profile()})
	})

	v1 := r.Group("/api/v1")
	if gw.limiter != nil {
		v1.GET("/stats", gw.limiter.StatsHandler())
		v1.Use(gw.limiter.Middleware())
	}
	{
		svc := v1.Group("/services")
		{
			svc.GET("", gw.ListServicesHandler())
			svc.POST("/:name/connect", gw.ConnectHandler())
			svc.GET("/:name/profile", gw.GetProfileHandler())
			svc.PUT("/:name/profile", gw.SetProfileHandler())
		}

		md := v1.Group("/metadata")
		{
			md.GET("/datasets", gw.MetadataDatasetsHandler())
			md.POST("/search", gw.MetadataSearchHandler())
		}

		ps := v1.Group("/pennsieve")
		{
			ps.GET("/datasets", gw.PennsieveDatasetsHandler())
			ps.GET("/files", gw.PennsieveFilesHandler())
		}

		jobs := v1.Group("/o2sparc/jobs")
		{
			jobs.POST("", gw.SubmitJobHandler())
			jobs.GET("", gw.ListJobsHandler())
			jobs.GET("/:id", gw.GetJobHandler())
		}
	}
}
