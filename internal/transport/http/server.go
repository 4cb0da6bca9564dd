package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"riskpilot/internal/audit"
	"riskpilot/internal/logger"
	"riskpilot/internal/risk"
	"riskpilot/internal/safety"
)

// Server exposes the ops surface: health, audit queries, kill switch state
// and control, and guardrail counters. Read-mostly; the only mutations are
// the explicit kill-switch trigger/clear admin actions.
type Server struct {
	addr     string
	auditLog *audit.Logger
	ks       *safety.KillSwitch
	riskMgr  *risk.Manager
	router   *gin.Engine
	srv      *http.Server
}

func NewServer(addr string, auditLog *audit.Logger, ks *safety.KillSwitch, riskMgr *risk.Manager) (*Server, error) {
	if auditLog == nil || ks == nil || riskMgr == nil {
		return nil, errors.New("audit logger, kill switch and risk manager are required")
	}
	if addr == "" {
		addr = ":9980"
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		addr:     addr,
		auditLog: auditLog,
		ks:       ks,
		riskMgr:  riskMgr,
		router:   router,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.router.GET("/healthz", s.handleHealth)
	s.router.GET("/audit/events", s.handleAuditEvents)
	s.router.GET("/killswitch", s.handleKillSwitchStatus)
	s.router.POST("/killswitch/trigger", s.handleKillSwitchTrigger)
	s.router.POST("/killswitch/clear", s.handleKillSwitchClear)
	s.router.GET("/guardrails", s.handleGuardrails)
}

func (s *Server) handleHealth(c *gin.Context) {
	active, _ := s.ks.Active()
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"kill_switch": active,
		"var_95":      s.riskMgr.VaR95(),
	})
}

func (s *Server) handleAuditEvents(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 1000 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be in (0,1000]"})
			return
		}
		limit = n
	}
	f := audit.Filter{
		Type:     c.Query("type"),
		Symbol:   c.Query("symbol"),
		Strategy: c.Query("strategy"),
		Severity: audit.Severity(c.Query("severity")),
	}
	if raw := c.Query("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be RFC3339"})
			return
		}
		f.Since = since
	}

	// Flush first so the query sees everything enqueued before the request.
	s.auditLog.Flush()
	events, err := s.auditLog.QueryEvents(c.Request.Context(), f, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}

func (s *Server) handleKillSwitchStatus(c *gin.Context) {
	active, reason := s.ks.Active()
	c.JSON(http.StatusOK, gin.H{"active": active, "reason": reason})
}

func (s *Server) handleKillSwitchTrigger(c *gin.Context) {
	var body struct {
		Reason string `json:"reason" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "reason is required"})
		return
	}
	s.ks.Trigger(c.Request.Context(), "manual: "+body.Reason)
	active, reason := s.ks.Active()
	c.JSON(http.StatusOK, gin.H{"active": active, "reason": reason})
}

func (s *Server) handleKillSwitchClear(c *gin.Context) {
	if err := s.ks.Clear(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"active": false})
}

func (s *Server) handleGuardrails(c *gin.Context) {
	g := s.riskMgr.Guardrails()
	if g == nil {
		c.JSON(http.StatusOK, gin.H{"enabled": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"enabled": true, "status": g.Status()})
}

// Start serves until the listener fails; run it in its own goroutine.
func (s *Server) Start() error {
	s.srv = &http.Server{Addr: s.addr, Handler: s.router}
	logger.Infof("ops http server listening on %s", s.addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
