package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"signal-core/pkg/db"
)

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"code":  code,
		"error": msg,
	})
}

func (s *Server) requireEngine(c *gin.Context) bool {
	if s.engine == nil {
		respondError(c, http.StatusServiceUnavailable, "ENGINE_UNAVAILABLE", "engine facade not wired")
		return false
	}
	return true
}

// --- System ---

func (s *Server) getSystemStatus(c *gin.Context) {
	if !s.requireEngine(c) {
		return
	}
	c.JSON(http.StatusOK, s.engine.SystemStatus(c.Request.Context()))
}

// --- Risk ---

func (s *Server) getRiskState(c *gin.Context) {
	if !s.requireEngine(c) {
		return
	}
	state, err := s.engine.RiskState(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusServiceUnavailable, "RISK_UNAVAILABLE", err.Error())
		return
	}
	c.JSON(http.StatusOK, state)
}

// resetKillSwitch starts a fresh risk session, clearing a tripped
// switch. There is no mid-session un-trip.
func (s *Server) resetKillSwitch(c *gin.Context) {
	if !s.requireEngine(c) {
		return
	}
	ctx := c.Request.Context()
	if err := s.engine.ResetKillSwitch(ctx); err != nil {
		respondError(c, http.StatusServiceUnavailable, "RISK_UNAVAILABLE", err.Error())
		return
	}
	state, err := s.engine.RiskState(ctx)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "session reset",
		"risk":   state,
	})
}

// --- Execution ---

func (s *Server) getExecutionStatus(c *gin.Context) {
	if !s.requireEngine(c) {
		return
	}
	c.JSON(http.StatusOK, s.engine.ExecutionStatus(c.Request.Context()))
}

func (s *Server) resumeExecution(c *gin.Context) {
	if !s.requireEngine(c) {
		return
	}
	resumed, err := s.engine.ResumeExecution(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusServiceUnavailable, "EXECUTION_UNAVAILABLE", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"resumed": resumed})
}

func (s *Server) getQueueStats(c *gin.Context) {
	if !s.requireEngine(c) {
		return
	}
	c.JSON(http.StatusOK, s.engine.QueueStats(c.Request.Context()))
}

// --- Agents ---

func (s *Server) listAgents(c *gin.Context) {
	if !s.requireEngine(c) {
		return
	}
	agents, err := s.engine.ListAgents(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusServiceUnavailable, "AGENTS_UNAVAILABLE", err.Error())
		return
	}
	c.JSON(http.StatusOK, agents)
}

func (s *Server) pauseAgent(c *gin.Context) {
	if !s.requireEngine(c) {
		return
	}
	if err := s.engine.PauseAgent(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, http.StatusNotFound, "UNKNOWN_AGENT", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "paused", "id": c.Param("id")})
}

func (s *Server) resumeAgent(c *gin.Context) {
	if !s.requireEngine(c) {
		return
	}
	if err := s.engine.ResumeAgent(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, http.StatusNotFound, "UNKNOWN_AGENT", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "resumed", "id": c.Param("id")})
}

// --- Ledger views ---

func (s *Server) getPositions(c *gin.Context) {
	if !s.requireEngine(c) {
		return
	}
	positions, err := s.engine.Positions(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, positions)
}

func (s *Server) getOpenOrders(c *gin.Context) {
	if !s.requireEngine(c) {
		return
	}
	orders, err := s.engine.OpenOrders(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, orders)
}

func (s *Server) getAccount(c *gin.Context) {
	if !s.requireEngine(c) {
		return
	}
	snapshot, err := s.engine.Account(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusServiceUnavailable, "ACCOUNT_UNAVAILABLE", err.Error())
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

func (s *Server) getQuotes(c *gin.Context) {
	if s.quotes == nil {
		c.JSON(http.StatusOK, gin.H{})
		return
	}
	c.JSON(http.StatusOK, s.quotes.All())
}

// --- Audit ---

type auditQuery struct {
	Component string `form:"component"`
	Level     string `form:"level"`
	Action    string `form:"action"`
	SignalID  string `form:"signal_id"`
	Symbol    string `form:"symbol"`
	Since     string `form:"since"`
	Until     string `form:"until"`
	Limit     int    `form:"limit"`
}

// auditRowView re-exposes the stored JSON details unescaped.
type auditRowView struct {
	LogID      string          `json:"log_id"`
	Timestamp  time.Time       `json:"timestamp"`
	Component  string          `json:"component"`
	Level      string          `json:"level"`
	Action     string          `json:"action"`
	SignalID   string          `json:"signal_id,omitempty"`
	Symbol     string          `json:"symbol,omitempty"`
	StrategyID string          `json:"strategy_id,omitempty"`
	Details    json.RawMessage `json:"details,omitempty"`
	SessionID  string          `json:"session_id"`
	HostID     string          `json:"host_id"`
}

func (s *Server) queryAudit(c *gin.Context) {
	if !s.requireEngine(c) {
		return
	}
	var q auditQuery
	if err := c.BindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_QUERY", "invalid query parameters")
		return
	}
	if q.Limit <= 0 {
		q.Limit = 100
	}
	if q.Limit > 500 {
		q.Limit = 500
	}

	filter := db.AuditFilter{
		Component: q.Component,
		Level:     q.Level,
		Action:    q.Action,
		SignalID:  q.SignalID,
		Symbol:    q.Symbol,
		Limit:     q.Limit,
	}
	if q.Since != "" {
		t, err := time.Parse(time.RFC3339, q.Since)
		if err != nil {
			respondError(c, http.StatusBadRequest, "INVALID_QUERY", "since must be RFC3339")
			return
		}
		filter.Since = t
	}
	if q.Until != "" {
		t, err := time.Parse(time.RFC3339, q.Until)
		if err != nil {
			respondError(c, http.StatusBadRequest, "INVALID_QUERY", "until must be RFC3339")
			return
		}
		filter.Until = t
	}

	rows, err := s.engine.QueryAudit(c.Request.Context(), filter)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}

	out := make([]auditRowView, 0, len(rows))
	for _, r := range rows {
		v := auditRowView{
			LogID:      r.LogID,
			Timestamp:  r.Timestamp,
			Component:  r.Component,
			Level:      r.Level,
			Action:     r.Action,
			SignalID:   r.SignalID,
			Symbol:     r.Symbol,
			StrategyID: r.StrategyID,
			SessionID:  r.SessionID,
			HostID:     r.HostID,
		}
		if r.Details != "" {
			v.Details = json.RawMessage(r.Details)
		}
		out = append(out, v)
	}
	c.JSON(http.StatusOK, out)
}

// --- Reconciliation ---

func (s *Server) getReconcileReport(c *gin.Context) {
	if !s.requireEngine(c) {
		return
	}
	report := s.engine.ReconcileReport(c.Request.Context())
	if report == nil {
		c.JSON(http.StatusOK, gin.H{"report": nil, "status": "no sweep completed yet"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": report})
}

func (s *Server) runSweep(c *gin.Context) {
	if !s.requireEngine(c) {
		return
	}
	report, err := s.engine.RunSweep(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusServiceUnavailable, "RECONCILE_UNAVAILABLE", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": report})
}
