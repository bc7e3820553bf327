package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"smart-care/internal/audit"
	"smart-care/internal/auth"
	"smart-care/internal/calls"
	"smart-care/internal/config"
	"smart-care/internal/history"
	"smart-care/internal/reporting"

	"github.com/gin-gonic/gin"
)

type testEnv struct {
	router *gin.Engine
	auth   *auth.Manager
	svc    *calls.Service
	ch     *calls.MemoryChannel
	hist   *history.MemoryRepo
	audits *audit.MemoryRepo
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	am, err := auth.NewManager(config.AuthConfig{
		JWTSecret:       "test-secret",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("auth: %v", err)
	}

	ch := calls.NewMemoryChannel()
	hist := history.NewMemoryRepo()
	audits := audit.NewMemoryRepo()
	auditSvc := audit.NewService(audits)
	svc := calls.NewService(ch, calls.Options{
		Observers: []calls.Observer{history.NewRecorder(hist), auditSvc},
	})
	t.Cleanup(svc.Close)

	h := Handlers{
		Auth:         am,
		Calls:        svc,
		Channel:      ch,
		History:      hist,
		Reports:      reporting.NewService(hist),
		Audit:        auditSvc,
		PingInterval: time.Second,
	}

	r := gin.New()
	r.Use(WithClientIP())
	r.GET("/healthz", h.Health)
	r.POST("/v1/auth/token", h.IssueToken)
	v1 := r.Group("/v1", auth.RequireAccessToken(am))
	v1.GET("/me", h.Me)
	v1.POST("/calls", h.CreateCall)
	v1.GET("/calls/events", h.Events)
	v1.GET("/calls/history", h.CallHistory)
	v1.GET("/calls/summary", h.Summary)
	v1.GET("/calls/missed", h.Missed)
	v1.GET("/calls/:id", h.GetCall)
	v1.POST("/calls/:id/accept", h.AcceptCall)
	v1.POST("/calls/:id/decline", h.DeclineCall)
	v1.POST("/calls/:id/end", h.EndCall)

	return &testEnv{router: r, auth: am, svc: svc, ch: ch, hist: hist, audits: audits}
}

func (e *testEnv) token(t *testing.T, userID, role string) string {
	t.Helper()
	pair, err := e.auth.IssuePair(time.Now(), userID, role)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	return pair.AccessToken
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decodeRecord(t *testing.T, w *httptest.ResponseRecorder) calls.CallRecord {
	t.Helper()
	var rec calls.CallRecord
	if err := json.Unmarshal(w.Body.Bytes(), &rec); err != nil {
		t.Fatalf("decode: %v (%s)", err, w.Body.String())
	}
	return rec
}

func TestHealth(t *testing.T) {
	e := newTestEnv(t)
	if w := e.do(t, http.MethodGet, "/healthz", "", nil); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestIssueToken(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, http.MethodPost, "/v1/auth/token", "", gin.H{"user_id": "p1", "role": "patient"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var pair auth.TokenPair
	if err := json.Unmarshal(w.Body.Bytes(), &pair); err != nil || pair.AccessToken == "" {
		t.Fatalf("expected token pair, err=%v body=%s", err, w.Body.String())
	}

	w = e.do(t, http.MethodGet, "/v1/me", pair.AccessToken, nil)
	if w.Code != http.StatusOK || !bytes.Contains(w.Body.Bytes(), []byte(`"user_id":"p1"`)) {
		t.Fatalf("unexpected /me response %d: %s", w.Code, w.Body.String())
	}

	if w := e.do(t, http.MethodPost, "/v1/auth/token", "", gin.H{"user_id": "p1", "role": "root"}); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown role, got %d", w.Code)
	}
}

func TestCallLifecycle(t *testing.T) {
	e := newTestEnv(t)
	patient := e.token(t, "p1", "patient")
	doctor := e.token(t, "d1", "doctor")

	w := e.do(t, http.MethodPost, "/v1/calls", patient, gin.H{"receiver_id": "d1", "type": "video"})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	rec := decodeRecord(t, w)
	if rec.Status != calls.StatusRinging || rec.CallerID != "p1" || rec.ReceiverID != "d1" {
		t.Fatalf("unexpected record %+v", rec)
	}

	// Only the receiver can answer.
	if w := e.do(t, http.MethodPost, "/v1/calls/"+rec.ID+"/accept", patient, nil); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for caller accept, got %d", w.Code)
	}

	w = e.do(t, http.MethodPost, "/v1/calls/"+rec.ID+"/accept", doctor, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if got := decodeRecord(t, w); got.Status != calls.StatusActive || got.ConnectedTime == nil {
		t.Fatalf("expected active with connected time, got %+v", got)
	}

	w = e.do(t, http.MethodPost, "/v1/calls/"+rec.ID+"/end", patient, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if got := decodeRecord(t, w); got.Status != calls.StatusEnded || got.EndTime == nil {
		t.Fatalf("expected ended, got %+v", got)
	}

	if w := e.do(t, http.MethodPost, "/v1/calls/"+rec.ID+"/decline", doctor, nil); w.Code != http.StatusConflict {
		t.Fatalf("expected 409 declining an ended call, got %d", w.Code)
	}

	archived, err := e.hist.Get(context.Background(), rec.ID)
	if err != nil || archived.Status != calls.StatusEnded {
		t.Fatalf("expected archived ended call, got %+v err=%v", archived, err)
	}
}

func TestCreateCall_Validation(t *testing.T) {
	e := newTestEnv(t)
	patient := e.token(t, "p1", "patient")

	if w := e.do(t, http.MethodPost, "/v1/calls", patient, gin.H{"receiver_id": "p1", "type": "voice"}); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 calling yourself, got %d", w.Code)
	}
	if w := e.do(t, http.MethodPost, "/v1/calls", patient, gin.H{"receiver_id": "d1", "type": "fax"}); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad type, got %d", w.Code)
	}
	if w := e.do(t, http.MethodPost, "/v1/calls", "", gin.H{"receiver_id": "d1", "type": "voice"}); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}
}

func TestCallAccess(t *testing.T) {
	e := newTestEnv(t)
	patient := e.token(t, "p1", "patient")
	stranger := e.token(t, "p2", "patient")

	rec := decodeRecord(t, e.do(t, http.MethodPost, "/v1/calls", patient, gin.H{"receiver_id": "d1", "type": "voice"}))

	if w := e.do(t, http.MethodGet, "/v1/calls/"+rec.ID, stranger, nil); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for stranger, got %d", w.Code)
	}
	if w := e.do(t, http.MethodGet, "/v1/calls/"+rec.ID, patient, nil); w.Code != http.StatusOK {
		t.Fatalf("expected 200 for caller, got %d", w.Code)
	}
	if w := e.do(t, http.MethodGet, "/v1/calls/missing", patient, nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}

	var denied int
	for _, ev := range e.audits.Events() {
		if ev.Type == audit.EventTypeAccessDenied && ev.ActorUserID == "p2" && ev.CallID == rec.ID {
			denied++
		}
	}
	if denied != 1 {
		t.Fatalf("expected one access denied audit event, got %d", denied)
	}
}

func TestChannelFailureMapsTo503(t *testing.T) {
	e := newTestEnv(t)
	patient := e.token(t, "p1", "patient")
	doctor := e.token(t, "d1", "doctor")
	rec := decodeRecord(t, e.do(t, http.MethodPost, "/v1/calls", patient, gin.H{"receiver_id": "d1", "type": "voice"}))

	e.ch.SetError(context.DeadlineExceeded)
	w := e.do(t, http.MethodPost, "/v1/calls/"+rec.ID+"/accept", doctor, nil)
	e.ch.SetError(nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d: %s", w.Code, w.Body.String())
	}
}

func TestReports(t *testing.T) {
	e := newTestEnv(t)
	patient := e.token(t, "p1", "patient")
	doctor := e.token(t, "d1", "doctor")
	admin := e.token(t, "a1", "admin")

	rec := decodeRecord(t, e.do(t, http.MethodPost, "/v1/calls", patient, gin.H{"receiver_id": "d1", "type": "voice"}))
	e.do(t, http.MethodPost, "/v1/calls/"+rec.ID+"/decline", doctor, nil)

	w := e.do(t, http.MethodGet, "/v1/calls/summary", patient, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var sum reporting.CallsSummary
	if err := json.Unmarshal(w.Body.Bytes(), &sum); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sum.TotalCalls != 1 || sum.DeclinedCalls != 1 || sum.OutgoingCalls != 1 {
		t.Fatalf("unexpected summary %+v", sum)
	}

	if w := e.do(t, http.MethodGet, "/v1/calls/history?user_id=d1", patient, nil); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for another user's history, got %d", w.Code)
	}
	w = e.do(t, http.MethodGet, "/v1/calls/history?user_id=d1", admin, nil)
	if w.Code != http.StatusOK || !bytes.Contains(w.Body.Bytes(), []byte(rec.ID)) {
		t.Fatalf("expected admin to see history, got %d: %s", w.Code, w.Body.String())
	}

	if w := e.do(t, http.MethodGet, "/v1/calls/summary?from=yesterday", patient, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad from, got %d", w.Code)
	}
	if w := e.do(t, http.MethodGet, "/v1/calls/missed?limit=-1", doctor, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", w.Code)
	}
	if w := e.do(t, http.MethodGet, "/v1/calls/missed", doctor, nil); w.Code != http.StatusOK {
		t.Fatalf("expected 200 for missed, got %d", w.Code)
	}
}
