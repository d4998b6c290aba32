package api

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"taskproof/internal/core"
)

const multipartMemory = 8 << 20

type verificationResponse struct {
	AttemptID  string  `json:"attempt_id"`
	TaskID     string  `json:"task_id"`
	Success    bool    `json:"success"`
	Reasoning  string  `json:"reasoning"`
	Confidence float64 `json:"confidence"`
	TaskStatus string  `json:"task_status"`
	Timestamp  string  `json:"timestamp"`
}

type attemptResponse struct {
	ID         string  `json:"id"`
	TaskID     string  `json:"task_id"`
	Success    bool    `json:"success"`
	Reasoning  string  `json:"reasoning"`
	Confidence float64 `json:"confidence"`
	CreatedAt  string  `json:"created_at"`
}

// handleVerifyTask accepts evidence as a multipart "image" field or as a raw image body.
func (s *Server) handleVerifyTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	image, _, err := s.readEvidence(w, r)
	if err != nil {
		s.writeDomainError(w, "read evidence", err)
		return
	}
	s.verify(w, r, taskID, image)
}

// handleVerifyForm takes task_id as a form field next to the image.
func (s *Server) handleVerifyForm(w http.ResponseWriter, r *http.Request) {
	image, taskID, err := s.readEvidence(w, r)
	if err != nil {
		s.writeDomainError(w, "read evidence", err)
		return
	}
	if strings.TrimSpace(taskID) == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "task_id is required")
		return
	}
	s.verify(w, r, strings.TrimSpace(taskID), image)
}

func (s *Server) verify(w http.ResponseWriter, r *http.Request, taskID string, image []byte) {
	result, err := s.engine.SubmitEvidence(r.Context(), taskID, image)
	if err != nil {
		s.writeDomainError(w, "verify task", err)
		return
	}
	writeJSON(w, http.StatusOK, verificationResponse{
		AttemptID:  result.Attempt.ID,
		TaskID:     taskID,
		Success:    result.Judgment.Success,
		Reasoning:  result.Judgment.Reasoning,
		Confidence: result.Judgment.Confidence,
		TaskStatus: string(result.TaskStatus),
		Timestamp:  result.Attempt.CreatedAt.UTC().Format(time.RFC3339),
	})
}

// readEvidence returns the uploaded image bytes and the task_id form value, if any.
func (s *Server) readEvidence(w http.ResponseWriter, r *http.Request) ([]byte, string, error) {
	limit := int64(s.maxImageBytes)
	r.Body = http.MaxBytesReader(w, r.Body, limit+multipartMemory)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
		if err != nil {
			return nil, "", bodyError(err)
		}
		return data, r.URL.Query().Get("task_id"), nil
	}

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		return nil, "", bodyError(err)
	}
	file, _, err := r.FormFile("image")
	if err != nil {
		return nil, "", &core.ValidationError{Field: "image", Message: "multipart field \"image\" is required"}
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		return nil, "", bodyError(err)
	}
	return data, r.FormValue("task_id"), nil
}

func bodyError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return &core.ValidationError{Field: "image", Message: fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit)}
	}
	return &core.ValidationError{Field: "image", Message: err.Error()}
}

func (s *Server) handleListAttempts(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	limit := parseIntDefault(r.URL.Query().Get("limit"), 20)
	offset := parseIntDefault(r.URL.Query().Get("offset"), 0)
	attempts, err := s.engine.ListAttempts(r.Context(), taskID, limit, offset)
	if err != nil {
		s.writeDomainError(w, "list attempts", err)
		return
	}
	res := make([]attemptResponse, 0, len(attempts))
	for _, a := range attempts {
		res = append(res, attemptToResponse(a))
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAttemptImage(w http.ResponseWriter, r *http.Request) {
	attempt, err := s.store.GetAttempt(r.Context(), chi.URLParam(r, "attemptID"))
	if err != nil {
		s.writeDomainError(w, "get attempt", err)
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(attempt.Image))
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(attempt.Image)
}

func attemptToResponse(a *core.Attempt) attemptResponse {
	return attemptResponse{
		ID:         a.ID,
		TaskID:     a.TaskID,
		Success:    a.Success,
		Reasoning:  a.Reasoning,
		Confidence: a.Confidence,
		CreatedAt:  a.CreatedAt.UTC().Format(time.RFC3339),
	}
}
