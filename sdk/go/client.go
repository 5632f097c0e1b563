package formlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Formline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Form represents the API form model.
type Form struct {
	ID             string `json:"id"`
	OwnerID        string `json:"owner_id"`
	CurrentVersion *int   `json:"current_version,omitempty"`
	CreatedAt      string `json:"created_at"`
}

// FormVersion represents one version of a form (partial).
type FormVersion struct {
	ID          string `json:"id"`
	FormID      string `json:"form_id"`
	Version     int    `json:"version,omitempty"`
	State       string `json:"state"`
	Note        string `json:"note,omitempty"`
	PublishedAt string `json:"published_at,omitempty"`
}

// Submission is an accepted payload pinned to a version.
type Submission struct {
	ID        string         `json:"id"`
	FormID    string         `json:"form_id"`
	Version   int            `json:"version"`
	Payload   map[string]any `json:"payload"`
	CreatedBy string         `json:"created_by,omitempty"`
	CreatedAt string         `json:"created_at"`
}

// Instance is a submission's workflow state.
type Instance struct {
	SubmissionID string `json:"submission_id"`
	CurrentStep  string `json:"current_step,omitempty"`
	Status       string `json:"status"`
	Revision     int    `json:"revision"`
}

// SubmissionResult pairs a submission with its instance.
type SubmissionResult struct {
	Submission Submission `json:"submission"`
	Instance   Instance   `json:"instance"`
	Available  []string   `json:"available_actions,omitempty"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	FormID     string         `json:"form_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	Payload    map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateForm creates a form owned by the authenticated actor.
func (c *Client) CreateForm(ctx context.Context) (Form, error) {
	var resp Form
	err := c.do(ctx, http.MethodPost, "v0/forms", map[string]any{}, &resp)
	return resp, err
}

// GetForm fetches a form by id.
func (c *Client) GetForm(ctx context.Context, formID string) (Form, error) {
	var resp Form
	err := c.do(ctx, http.MethodGet, "v0/forms/"+url.PathEscape(formID), nil, &resp)
	return resp, err
}

// Publish publishes the open draft. previousVersion is the current version
// the caller last observed, 0 for a never-published form.
func (c *Client) Publish(ctx context.Context, formID string, previousVersion int, note string) (FormVersion, error) {
	body := map[string]any{
		"previous_version": previousVersion,
		"note":             note,
	}
	var resp FormVersion
	err := c.do(ctx, http.MethodPost, "v0/forms/"+url.PathEscape(formID)+"/publish", body, &resp)
	return resp, err
}

// Submit validates the payload against the published version and creates a
// submission.
func (c *Client) Submit(ctx context.Context, formID string, payload map[string]any) (SubmissionResult, error) {
	var resp SubmissionResult
	err := c.do(ctx, http.MethodPost, "v0/forms/"+url.PathEscape(formID)+"/submissions", map[string]any{"payload": payload}, &resp)
	return resp, err
}

// GetSubmission fetches a submission with its workflow instance.
func (c *Client) GetSubmission(ctx context.Context, submissionID string) (SubmissionResult, error) {
	var resp SubmissionResult
	err := c.do(ctx, http.MethodGet, "v0/submissions/"+url.PathEscape(submissionID), nil, &resp)
	return resp, err
}

// Act applies an approval action to a submission.
func (c *Client) Act(ctx context.Context, submissionID, action, note string) (Instance, error) {
	body := map[string]any{
		"action": action,
		"note":   note,
	}
	var resp Instance
	err := c.do(ctx, http.MethodPost, "v0/submissions/"+url.PathEscape(submissionID)+"/actions", body, &resp)
	return resp, err
}

// Events returns recent events, optionally scoped to a form.
func (c *Client) Events(ctx context.Context, limit int, formID string) ([]Event, error) {
	endpoint := "v0/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	if formID != "" {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint = fmt.Sprintf("%s%sform_id=%s", endpoint, sep, url.QueryEscape(formID))
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
