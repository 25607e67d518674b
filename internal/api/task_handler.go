package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/taskhub/taskhub-api/internal/api/shared"
	"github.com/taskhub/taskhub-api/internal/domain"
)

// TaskService is the subset of the task manager the HTTP layer depends on.
type TaskService interface {
	Submit(ctx context.Context, taskType string, parameters map[string]any) (*domain.TaskRecord, error)
	Get(ctx context.Context, id uuid.UUID) (*domain.TaskRecord, error)
	List(ctx context.Context, status domain.TaskStatus, taskType string) ([]*domain.TaskRecord, error)
	Cancel(ctx context.Context, id uuid.UUID) (*domain.TaskRecord, error)
	Retry(ctx context.Context, id uuid.UUID) (*domain.TaskRecord, error)
}

// SubmitTaskRequest represents the request body for submitting a new task
type SubmitTaskRequest struct {
	TaskType   string         `json:"task_type" validate:"required,min=1"`
	Parameters map[string]any `json:"parameters"`
}

// TaskResponse represents the response data for a single task record.
// Lifecycle fields that have not happened yet serialize as explicit nulls
// rather than being omitted, so clients see a stable field set.
type TaskResponse struct {
	ID           string         `json:"id"`
	TaskType     string         `json:"task_type"`
	Parameters   map[string]any `json:"parameters"`
	Status       string         `json:"status"`
	Progress     int            `json:"progress"`
	ResultData   map[string]any `json:"result_data"`
	ErrorMessage string         `json:"error_message"`
	CreatedAt    time.Time      `json:"created_at"`
	StartedAt    *time.Time     `json:"started_at"`
	CompletedAt  *time.Time     `json:"completed_at"`
}

// TaskListResponse wraps the list endpoint payload
type TaskListResponse struct {
	Tasks []TaskResponse `json:"tasks"`
	Count int            `json:"count"`
}

// TaskHandler handles task-related HTTP requests
type TaskHandler struct {
	taskService TaskService
	validator   *validator.Validate
}

// NewTaskHandler creates a new TaskHandler
func NewTaskHandler(taskService TaskService) *TaskHandler {
	return &TaskHandler{
		taskService: taskService,
		validator:   validator.New(),
	}
}

// SubmitTask handles POST /api/tasks requests
func (h *TaskHandler) SubmitTask(w http.ResponseWriter, r *http.Request) {
	var req SubmitTaskRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, SanitizeValidationError(err))
		return
	}

	record, err := h.taskService.Submit(r.Context(), req.TaskType, req.Parameters)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r,
			MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	// 202 since execution happens asynchronously
	shared.RespondWithJSON(w, r, http.StatusAccepted, taskToDTOResponse(record))
}

// ListTasks handles GET /api/tasks requests. Both the status and task_type
// query parameters are optional filters.
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	var status domain.TaskStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		parsed, err := domain.ParseTaskStatus(raw)
		if err != nil {
			shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid status filter")
			return
		}
		status = parsed
	}
	taskType := r.URL.Query().Get("task_type")

	records, err := h.taskService.List(r.Context(), status, taskType)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r,
			MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	response := TaskListResponse{
		Tasks: make([]TaskResponse, 0, len(records)),
		Count: len(records),
	}
	for _, record := range records {
		response.Tasks = append(response.Tasks, taskToDTOResponse(record))
	}

	shared.RespondWithJSON(w, r, http.StatusOK, response)
}

// GetTask handles GET /api/tasks/{id} requests
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	id, ok := h.taskIDFromRequest(w, r)
	if !ok {
		return
	}

	record, err := h.taskService.Get(r.Context(), id)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r,
			MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, taskToDTOResponse(record))
}

// CancelTask handles DELETE /api/tasks/{id} requests.
//
// Cancellation of a running task is cooperative, so the returned record may
// still read RUNNING; hence 202 rather than 200.
func (h *TaskHandler) CancelTask(w http.ResponseWriter, r *http.Request) {
	id, ok := h.taskIDFromRequest(w, r)
	if !ok {
		return
	}

	record, err := h.taskService.Cancel(r.Context(), id)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r,
			MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	slog.Info("task cancellation requested",
		"task_id", id,
		"status", record.Status,
		"trace_id", shared.GetTraceID(r.Context()))

	shared.RespondWithJSON(w, r, http.StatusAccepted, taskToDTOResponse(record))
}

// RetryTask handles POST /api/tasks/{id}/retry requests
func (h *TaskHandler) RetryTask(w http.ResponseWriter, r *http.Request) {
	id, ok := h.taskIDFromRequest(w, r)
	if !ok {
		return
	}

	record, err := h.taskService.Retry(r.Context(), id)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r,
			MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusAccepted, taskToDTOResponse(record))
}

// taskIDFromRequest parses the {id} URL parameter, writing a 400 response and
// returning ok=false when it is not a valid UUID.
func (h *TaskHandler) taskIDFromRequest(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := chi.URLParam(r, "id")
	id, err := uuid.Parse(raw)
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid task ID")
		return uuid.Nil, false
	}
	return id, true
}

// taskToDTOResponse converts a domain.TaskRecord to a TaskResponse
func taskToDTOResponse(record *domain.TaskRecord) TaskResponse {
	return TaskResponse{
		ID:           record.ID.String(),
		TaskType:     record.TaskType,
		Parameters:   record.Parameters,
		Status:       string(record.Status),
		Progress:     record.Progress,
		ResultData:   record.ResultData,
		ErrorMessage: record.ErrorMessage,
		CreatedAt:    record.CreatedAt,
		StartedAt:    record.StartedAt,
		CompletedAt:  record.CompletedAt,
	}
}
