package httpapi

import (
	"context"
	"net/http"

	"smart-care/internal/calls"
	"smart-care/pkg/logger"

	"github.com/gin-gonic/gin"
)

type createCallRequest struct {
	ReceiverID string         `json:"receiver_id"`
	Type       calls.CallType `json:"type"`
}

// CreateCall rings receiver_id on behalf of the authenticated user.
func (h Handlers) CreateCall(c *gin.Context) {
	uid, _, ok := identity(c)
	if !ok {
		return
	}
	var req createCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	rec, err := h.Calls.Initiate(c.Request.Context(), uid, req.ReceiverID, req.Type)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

// GetCall returns the authoritative record. Participants only.
func (h Handlers) GetCall(c *gin.Context) {
	rec, ok := h.participantCall(c, "view", false)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, rec)
}

// AcceptCall answers a ringing call. Receiver only.
func (h Handlers) AcceptCall(c *gin.Context) {
	h.act(c, "accept", true, h.Calls.Accept)
}

// DeclineCall rejects a ringing call. Receiver only.
func (h Handlers) DeclineCall(c *gin.Context) {
	h.act(c, "decline", true, h.Calls.Decline)
}

// EndCall cancels or hangs up a call. Either participant.
func (h Handlers) EndCall(c *gin.Context) {
	h.act(c, "end", false, h.Calls.End)
}

func (h Handlers) act(c *gin.Context, action string, receiverOnly bool, fn func(context.Context, string) (calls.CallRecord, error)) {
	cur, ok := h.participantCall(c, action, receiverOnly)
	if !ok {
		return
	}
	rec, err := fn(c.Request.Context(), cur.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// participantCall loads :id and checks the caller may act on it. Refusals are
// audited and answered with 403; a missing call is 404 for everyone.
func (h Handlers) participantCall(c *gin.Context, action string, receiverOnly bool) (calls.CallRecord, bool) {
	uid, role, ok := identity(c)
	if !ok {
		return calls.CallRecord{}, false
	}
	rec, err := h.Calls.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return calls.CallRecord{}, false
	}

	allowed := rec.Involves(uid)
	if receiverOnly {
		allowed = rec.ReceiverID == uid
	}
	if !allowed {
		h.denied(c, uid, role, rec.ID, action)
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "not allowed for this call"})
		return calls.CallRecord{}, false
	}
	return rec, true
}

func (h Handlers) denied(c *gin.Context, uid, role, callID, action string) {
	if h.Audit == nil {
		return
	}
	if err := h.Audit.LogAccessDenied(c.Request.Context(), uid, role, callID, action); err != nil {
		logger.FromGin(c).Warn("audit access denied failed", "call_id", callID, "err", err)
	}
}
