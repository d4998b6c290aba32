package apiclient

// Task mirrors the task payload served under /v1/tasks.
type Task struct {
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

// CreateTaskRequest is the body of POST /v1/tasks.
type CreateTaskRequest struct {
	Name                     string `json:"name"`
	StartTime                string `json:"start_time"`
	DurationMinutes          int    `json:"duration_minutes"`
	AlertGapMinutes          int    `json:"alert_gap_minutes,omitempty"`
	VerificationInstructions string `json:"verification_instructions"`
}

// Verification is the outcome of one evidence submission.
type Verification struct {
	AttemptID  string  `json:"attempt_id"`
	TaskID     string  `json:"task_id"`
	Success    bool    `json:"success"`
	Reasoning  string  `json:"reasoning"`
	Confidence float64 `json:"confidence"`
	TaskStatus string  `json:"task_status"`
	Timestamp  string  `json:"timestamp"`
}

// Attempt is a judged submission without its image payload.
type Attempt struct {
	ID         string  `json:"id"`
	TaskID     string  `json:"task_id"`
	Success    bool    `json:"success"`
	Reasoning  string  `json:"reasoning"`
	Confidence float64 `json:"confidence"`
	CreatedAt  string  `json:"created_at"`
}

// Status summarizes the daemon.
type Status struct {
	CurrentTime      string   `json:"current_time"`
	TotalTasks       int      `json:"total_tasks"`
	PendingTasks     int      `json:"pending_tasks"`
	ActiveTasks      int      `json:"active_tasks"`
	CompletedTasks   int      `json:"completed_tasks"`
	ActiveAlarms     int      `json:"active_alarms"`
	AlarmTaskIDs     []string `json:"alarm_task_ids"`
	OracleConfigured bool     `json:"oracle_configured"`
}

// Health is the /health payload.
type Health struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Services  map[string]string `json:"services"`
}

// FieldError names one rejected input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}
