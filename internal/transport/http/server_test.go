package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"riskpilot/internal/audit"
	"riskpilot/internal/config"
	"riskpilot/internal/risk"
	"riskpilot/internal/safety"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*Server, *safety.KillSwitch, *audit.Logger) {
	t.Helper()
	dir := t.TempDir()

	ks, err := safety.Open(filepath.Join(dir, "killswitch.db"))
	require.NoError(t, err)
	t.Cleanup(func() { ks.Close() })

	store, err := audit.NewStore(filepath.Join(dir, "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	auditLog := audit.NewLogger(store)
	auditLog.Start()
	t.Cleanup(auditLog.Stop)

	mgr := risk.NewManager(config.RiskConfig{VarWindow: 30})
	s, err := NewServer(":0", auditLog, ks, mgr)
	require.NoError(t, err)
	return s, ks, auditLog
}

func doRequest(s *Server, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	s, _, _ := newTestServer(t)
	w := doRequest(s, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, false, body["kill_switch"])
}

func TestKillSwitchTriggerAndClear(t *testing.T) {
	s, ks, _ := newTestServer(t)

	w := doRequest(s, http.MethodPost, "/killswitch/trigger", `{"reason":"ops drill"}`)
	require.Equal(t, http.StatusOK, w.Code)
	active, reason := ks.Active()
	assert.True(t, active)
	assert.Contains(t, reason, "ops drill")

	w = doRequest(s, http.MethodPost, "/killswitch/clear", "")
	require.Equal(t, http.StatusOK, w.Code)
	active, _ = ks.Active()
	assert.False(t, active)
}

func TestKillSwitchTriggerRequiresReason(t *testing.T) {
	s, _, _ := newTestServer(t)
	w := doRequest(s, http.MethodPost, "/killswitch/trigger", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuditEventsEndpoint(t *testing.T) {
	s, _, auditLog := newTestServer(t)
	auditLog.LogEvent(audit.EventOrderApproved, audit.SeverityInfo, "AAPL", "sma", map[string]any{"quantity": 10.0})
	auditLog.LogEvent(audit.EventOrderRejected, audit.SeverityWarning, "MSFT", "sma", map[string]any{"code": "MAX_POSITIONS"})

	w := doRequest(s, http.MethodGet, "/audit/events?type=order_approved", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Events []audit.Event `json:"events"`
		Count  int           `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, 1, body.Count)
	assert.Equal(t, "AAPL", body.Events[0].Symbol)
}

func TestGuardrailsDisabledOutsidePaper(t *testing.T) {
	s, _, _ := newTestServer(t)
	w := doRequest(s, http.MethodGet, "/guardrails", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, false, body["enabled"])
}
