package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"taskproof/internal/core"
	"taskproof/internal/store"
	"taskproof/internal/workflow"
)

type createTaskRequest struct {
	Name                     string `json:"name"`
	StartTime                string `json:"start_time"`
	DurationMinutes          int    `json:"duration_minutes"`
	AlertGapMinutes          *int   `json:"alert_gap_minutes"`
	VerificationInstructions string `json:"verification_instructions"`
}

type taskResponse struct {
	ID                       string  `json:"id"`
	Name                     string  `json:"name"`
	StartTime                string  `json:"start_time"`
	DurationMinutes          int     `json:"duration_minutes"`
	AlertGapMinutes          int     `json:"alert_gap_minutes"`
	VerificationInstructions string  `json:"verification_instructions"`
	Status                   string  `json:"status"`
	CreatedAt                string  `json:"created_at"`
	CompletedAt              *string `json:"completed_at,omitempty"`
}

type fieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	alertGap := core.DefaultAlertGapMinutes
	if req.AlertGapMinutes != nil {
		alertGap = *req.AlertGapMinutes
	}
	task, err := s.engine.CreateTask(r.Context(), core.TaskInput{
		Name:            req.Name,
		StartTime:       req.StartTime,
		DurationMinutes: req.DurationMinutes,
		AlertGapMinutes: alertGap,
		Instructions:    req.VerificationInstructions,
	})
	if err != nil {
		s.writeDomainError(w, "create task", err)
		return
	}
	writeJSON(w, http.StatusCreated, taskToResponse(task))
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	var statusFilter *core.TaskStatus
	if status := strings.TrimSpace(r.URL.Query().Get("status")); status != "" {
		st := core.TaskStatus(status)
		if !st.Valid() {
			writeError(w, http.StatusBadRequest, "invalid_input", "status must be pending, active or completed")
			return
		}
		statusFilter = &st
	}
	tasks, err := s.engine.ListTasks(r.Context(), statusFilter)
	if err != nil {
		s.writeDomainError(w, "list tasks", err)
		return
	}
	res := make([]taskResponse, 0, len(tasks))
	for _, t := range tasks {
		res = append(res, taskToResponse(t))
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.engine.GetTask(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		s.writeDomainError(w, "get task", err)
		return
	}
	writeJSON(w, http.StatusOK, taskToResponse(task))
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	if err := s.engine.DeleteTask(r.Context(), taskID); err != nil {
		s.writeDomainError(w, "delete task", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Task deleted successfully",
		"task_id": taskID,
	})
}

func taskToResponse(task *core.Task) taskResponse {
	res := taskResponse{
		ID:                       task.ID,
		Name:                     task.Name,
		StartTime:                task.StartTime,
		DurationMinutes:          task.DurationMinutes,
		AlertGapMinutes:          task.AlertGapMinutes,
		VerificationInstructions: task.Instructions,
		Status:                   string(task.Status),
		CreatedAt:                task.CreatedAt.UTC().Format(time.RFC3339),
	}
	if task.CompletedAt != nil {
		completed := task.CompletedAt.UTC().Format(time.RFC3339)
		res.CompletedAt = &completed
	}
	return res
}

func parseIntDefault(value string, def int) int {
	if value == "" {
		return def
	}
	i, err := strconv.Atoi(value)
	if err != nil || i < 0 {
		return def
	}
	return i
}

// writeDomainError maps engine and store errors onto the HTTP error envelope.
func (s *Server) writeDomainError(w http.ResponseWriter, op string, err error) {
	var (
		verrs core.ValidationErrors
		verr  *core.ValidationError
	)
	switch {
	case errors.As(err, &verrs):
		fields := make([]fieldError, 0, len(verrs))
		for _, e := range verrs {
			fields = append(fields, fieldError{Field: e.Field, Message: e.Message})
		}
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": map[string]any{
				"code":    "invalid_input",
				"message": err.Error(),
				"fields":  fields,
			},
		})
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, "invalid_input", verr.Error())
	case errors.Is(err, core.ErrTaskNotFound):
		writeError(w, http.StatusNotFound, "not_found", "task not found")
	case errors.Is(err, store.ErrAttemptNotFound):
		writeError(w, http.StatusNotFound, "not_found", "attempt not found")
	case errors.Is(err, workflow.ErrTaskNotActive):
		writeError(w, http.StatusConflict, "not_active", err.Error())
	case errors.Is(err, workflow.ErrJudgeInProgress):
		writeError(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, workflow.ErrStopped):
		writeError(w, http.StatusServiceUnavailable, "shutting_down", err.Error())
	default:
		s.logger.Error(op, "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to "+op)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	payload := map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	}
	writeJSON(w, status, payload)
}
