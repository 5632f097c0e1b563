package server

import (
	"formline/internal/domain"
)

// Request payloads

type CreateFormRequest struct {
	OwnerID *string `json:"owner_id,omitempty"`
}

type UpdateDraftRequest struct {
	Fields   []domain.FormField         `json:"fields,omitempty"`
	Settings *domain.FormSettings       `json:"settings,omitempty"`
	Workflow *domain.WorkflowDefinition `json:"workflow,omitempty"`
}

type PublishRequest struct {
	PreviousVersion int    `json:"previous_version"`
	Note            string `json:"note,omitempty"`
}

type CreateSubmissionRequest struct {
	Payload map[string]any `json:"payload"`
}

type ActionRequest struct {
	Action string `json:"action" enum:"approve,reject"`
	Note   string `json:"note,omitempty"`
}

type CreateAPIKeyRequest struct {
	ActorID string `json:"actor_id"`
	Role    string `json:"role,omitempty"`
	Name    string `json:"name,omitempty"`
}

// Response payloads

type FormResponse struct {
	ID             string `json:"id"`
	OwnerID        string `json:"owner_id"`
	CurrentVersion *int   `json:"current_version,omitempty"`
	CreatedAt      string `json:"created_at" format:"date-time"`
}

func formResponse(f domain.Form) FormResponse {
	return FormResponse{
		ID:             f.ID,
		OwnerID:        f.OwnerID,
		CurrentVersion: f.CurrentVersion,
		CreatedAt:      f.CreatedAt,
	}
}

func mapForms(items []domain.Form) []FormResponse {
	res := make([]FormResponse, 0, len(items))
	for _, f := range items {
		res = append(res, formResponse(f))
	}
	return res
}

// SubmissionResponse pairs a submission with its workflow instance. The
// confirmation message is only set on creation.
type SubmissionResponse struct {
	Submission   domain.Submission       `json:"submission"`
	Instance     domain.WorkflowInstance `json:"instance"`
	Available    []string                `json:"available_actions,omitempty"`
	Confirmation string                  `json:"confirmation_message,omitempty"`
}

type StatsResponse struct {
	FormID         string         `json:"form_id"`
	CurrentVersion *int           `json:"current_version,omitempty"`
	Total          int            `json:"total"`
	ByStatus       map[string]int `json:"by_status"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Role      string `json:"role,omitempty"`
	Name      string `json:"name,omitempty"`
	Key       string `json:"key,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
