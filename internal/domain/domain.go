package domain

// Version lifecycle states.
const (
	VersionDraft     = "draft"
	VersionPublished = "published"
)

// Workflow instance statuses.
const (
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusRejected   = "rejected"
)

// Workflow actions.
const (
	ActionApprove = "approve"
	ActionReject  = "reject"
	ActionAuto    = "auto"
)

type Form struct {
	ID             string `json:"id"`
	OwnerID        string `json:"owner_id"`
	CurrentVersion *int   `json:"current_version,omitempty"`
	CreatedAt      string `json:"created_at" format:"date-time"`
}

type FieldOption struct {
	Value string `json:"value"`
	Label string `json:"label,omitempty"`
}

type FormField struct {
	ID        string        `json:"id"`
	Label     string        `json:"label"`
	Type      string        `json:"type"`
	Required  bool          `json:"required,omitempty"`
	Options   []FieldOption `json:"options,omitempty"`
	MaxLength *int          `json:"max_length,omitempty"`
	Min       *float64      `json:"min,omitempty"`
	Max       *float64      `json:"max,omitempty"`
}

type FormSettings struct {
	ConfirmationMessage string `json:"confirmation_message,omitempty"`
	NotifyOnSubmit      bool   `json:"notify_on_submit,omitempty"`
	NotifyOnComplete    bool   `json:"notify_on_complete,omitempty"`
}

// FormVersion is a snapshot of a form's schema. Version is zero while the
// row is still a draft; the store assigns the number at publish time and
// the content never changes afterwards.
type FormVersion struct {
	ID          string              `json:"id"`
	FormID      string              `json:"form_id"`
	Version     int                 `json:"version,omitempty"`
	State       string              `json:"state" enum:"draft,published"`
	Fields      []FormField         `json:"fields"`
	Settings    FormSettings        `json:"settings"`
	Workflow    *WorkflowDefinition `json:"workflow,omitempty"`
	Note        string              `json:"note,omitempty"`
	CreatedAt   string              `json:"created_at" format:"date-time"`
	PublishedAt string              `json:"published_at,omitempty" format:"date-time"`
}

type WorkflowStep struct {
	ID       string   `json:"id"`
	Name     string   `json:"name,omitempty"`
	Role     string   `json:"role,omitempty"`
	Actions  []string `json:"actions,omitempty"`
	Start    bool     `json:"start,omitempty"`
	Terminal bool     `json:"terminal,omitempty"`
	// Meta carries presentation data (editor layout); the engine never reads it.
	Meta map[string]any `json:"meta,omitempty"`
}

type Transition struct {
	From   string `json:"from"`
	Action string `json:"action" enum:"approve,reject,auto"`
	To     string `json:"to"`
}

type WorkflowDefinition struct {
	Steps       []WorkflowStep `json:"steps"`
	Transitions []Transition   `json:"transitions"`
}

type ApprovalAction struct {
	Step    string `json:"step"`
	Action  string `json:"action" enum:"approve,reject,auto"`
	ActorID string `json:"actor_id"`
	Role    string `json:"role,omitempty"`
	Note    string `json:"note,omitempty"`
	TS      string `json:"ts" format:"date-time"`
}

type WorkflowInstance struct {
	SubmissionID string           `json:"submission_id"`
	CurrentStep  string           `json:"current_step,omitempty"`
	Status       string           `json:"status" enum:"in_progress,completed,rejected"`
	History      []ApprovalAction `json:"history"`
	Revision     int              `json:"revision"`
	CreatedAt    string           `json:"created_at" format:"date-time"`
	UpdatedAt    string           `json:"updated_at" format:"date-time"`
}

type Submission struct {
	ID        string         `json:"id"`
	FormID    string         `json:"form_id"`
	Version   int            `json:"version"`
	Payload   map[string]any `json:"payload"`
	CreatedBy string         `json:"created_by,omitempty"`
	CreatedAt string         `json:"created_at" format:"date-time"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Role      string `json:"role,omitempty"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	FormID     string `json:"form_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
