package api

import (
	"context"
	"net/http"
	"time"
)

type statusResponse struct {
	CurrentTime      string   `json:"current_time"`
	TotalTasks       int      `json:"total_tasks"`
	PendingTasks     int      `json:"pending_tasks"`
	ActiveTasks      int      `json:"active_tasks"`
	CompletedTasks   int      `json:"completed_tasks"`
	ActiveAlarms     int      `json:"active_alarms"`
	AlarmTaskIDs     []string `json:"alarm_task_ids"`
	OracleConfigured bool     `json:"oracle_configured"`
}

type healthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Services  map[string]string `json:"services"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	summary, err := s.engine.Status(r.Context())
	if err != nil {
		s.writeDomainError(w, "load status", err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		CurrentTime:      summary.CurrentTime,
		TotalTasks:       summary.Total,
		PendingTasks:     summary.Pending,
		ActiveTasks:      summary.Active,
		CompletedTasks:   summary.Completed,
		ActiveAlarms:     len(summary.ActiveAlarms),
		AlarmTaskIDs:     summary.ActiveAlarms,
		OracleConfigured: summary.OracleConfigured,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	res := healthResponse{
		Status:    "healthy",
		Timestamp: s.now().In(s.location).Format(time.RFC3339),
		Services: map[string]string{
			"database":     "connected",
			"oracle":       "mock",
			"alarm_system": "active",
		},
	}
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		s.logger.Error("health ping", "err", err)
		res.Status = "degraded"
		res.Services["database"] = "error"
	}
	if summary, err := s.engine.Status(ctx); err == nil && summary.OracleConfigured {
		res.Services["oracle"] = "configured"
	}
	code := http.StatusOK
	if res.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, res)
}
