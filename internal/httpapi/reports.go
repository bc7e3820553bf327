package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"smart-care/internal/rbac"
	"smart-care/internal/reporting"

	"github.com/gin-gonic/gin"
)

const defaultReportWindow = 30 * 24 * time.Hour

// CallHistory lists archived calls of the user (admins may pass user_id), newest first.
func (h Handlers) CallHistory(c *gin.Context) {
	target, rng, ok := h.reportScope(c)
	if !ok {
		return
	}
	rows, err := h.History.ListCalls(c.Request.Context(), target, rng.From, rng.To)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": target, "range": rng, "calls": rows})
}

// Summary aggregates the user's call outcomes over from/to.
func (h Handlers) Summary(c *gin.Context) {
	target, rng, ok := h.reportScope(c)
	if !ok {
		return
	}
	out, err := h.Reports.CallsSummary(c.Request.Context(), reporting.CallsSummaryRequest{UserID: target, Range: rng})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// Missed lists incoming calls the user never answered.
func (h Handlers) Missed(c *gin.Context) {
	target, rng, ok := h.reportScope(c)
	if !ok {
		return
	}
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}
	out, err := h.Reports.MissedCalls(c.Request.Context(), reporting.MissedCallsRequest{UserID: target, Range: rng, Limit: limit})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": target, "range": rng, "calls": out})
}

// reportScope resolves the target user and time range of a report request.
// from/to are RFC3339; the default window is the last 30 days.
func (h Handlers) reportScope(c *gin.Context) (string, reporting.TimeRange, bool) {
	uid, role, ok := identity(c)
	if !ok {
		return "", reporting.TimeRange{}, false
	}
	target := c.DefaultQuery("user_id", uid)
	if !rbac.CanViewUser(uid, role, target) {
		h.denied(c, uid, role, "", "report for "+target)
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return "", reporting.TimeRange{}, false
	}

	rng := reporting.TimeRange{To: h.now().UTC()}
	if v := c.Query("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to must be RFC3339"})
			return "", reporting.TimeRange{}, false
		}
		rng.To = t
	}
	rng.From = rng.To.Add(-defaultReportWindow)
	if v := c.Query("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from must be RFC3339"})
			return "", reporting.TimeRange{}, false
		}
		rng.From = t
	}
	if !rng.To.After(rng.From) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from must be before to"})
		return "", reporting.TimeRange{}, false
	}
	return target, rng, true
}
