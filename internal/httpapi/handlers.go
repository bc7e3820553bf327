package httpapi

import (
	"net/http"
	"time"

	"smart-care/internal/audit"
	"smart-care/internal/auth"
	"smart-care/internal/calls"
	"smart-care/internal/history"
	"smart-care/internal/rbac"
	"smart-care/internal/reporting"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth    *auth.Manager
	Calls   *calls.Service
	Channel calls.Channel
	History history.Repository
	Reports *reporting.Service
	Audit   *audit.Service

	// Upgrader is used by the events stream. The zero value rejects
	// cross-origin handshakes.
	Upgrader websocket.Upgrader
	// PingInterval keeps idle event streams alive. Zero means 30s.
	PingInterval time.Duration

	Now func() time.Time
}

func (h Handlers) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// Health reports liveness only; dependencies are checked at startup.
func (h Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type issueTokenRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// IssueToken issues a JWT token pair for any user and role.
//
// NOTE: development only. Real deployments get tokens from the identity provider.
func (h Handlers) IssueToken(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req issueTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || !rbac.IsValidRole(req.Role) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id and a valid role required"})
		return
	}
	pair, err := h.Auth.IssuePair(h.now(), req.UserID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, pair)
}

// Me echoes the identity carried by the access token.
func (h Handlers) Me(c *gin.Context) {
	id, _ := auth.IdentityFrom(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"user_id": id.UserID, "role": id.Role})
}

// WithClientIP stores the caller's address for audit events.
func WithClientIP() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request = c.Request.WithContext(audit.WithClientIP(c.Request.Context(), c.ClientIP()))
		c.Next()
	}
}

func identity(c *gin.Context) (string, string, bool) {
	id, ok := auth.IdentityFrom(c.Request.Context())
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user identity required"})
		return "", "", false
	}
	return id.UserID, id.Role, true
}
