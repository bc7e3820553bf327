package main

import (
	"smart-care/internal/httpapi"
	"smart-care/internal/metrics"
	"smart-care/internal/rbac"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, m *metrics.Collector, authMW gin.HandlerFunc, devTokens bool) {
	// public
	r.GET("/healthz", h.Health)
	r.GET("/metrics", gin.WrapH(m.Handler()))

	// Development token issuance. Config validation refuses this in production.
	if devTokens {
		r.POST("/v1/auth/token", h.IssueToken)
	}

	v1 := r.Group("/v1")
	v1.Use(authMW)
	v1.Use(rbac.RequireAnyRole(rbac.RolePatient, rbac.RoleDoctor, rbac.RoleAdmin))
	{
		v1.GET("/me", h.Me)

		calls := v1.Group("/calls")
		{
			calls.POST("", h.CreateCall)
			// Static segments before :id.
			calls.GET("/events", h.Events)
			calls.GET("/history", h.CallHistory)
			calls.GET("/summary", h.Summary)
			calls.GET("/missed", h.Missed)

			calls.GET("/:id", h.GetCall)
			calls.POST("/:id/accept", h.AcceptCall)
			calls.POST("/:id/decline", h.DeclineCall)
			calls.POST("/:id/end", h.EndCall)
		}
	}
}
