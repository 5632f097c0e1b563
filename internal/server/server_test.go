package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"

	"formline/internal/config"
	"formline/internal/db"
	"formline/internal/domain"
	"formline/internal/fields"
	"formline/internal/migrate"
	"formline/internal/repo"
	"formline/internal/router"
	"formline/internal/versions"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	reg := fields.Builtin()
	handler, err := New(Config{
		DB:       conn,
		Versions: versions.New(conn, reg),
		Router:   router.New(conn, reg),
		Repo:     repo.Repo{DB: conn},
		App:      config.Default(),
		BasePath: "/v0",
		Auth:     AuthConfig{AllowLegacyActorHeader: true},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func asActor(id, role string) map[string]string {
	return map[string]string{"X-Actor-Id": id, "X-Actor-Role": role}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func setupPublishedForm(t *testing.T, srv *testServer) string {
	t.Helper()
	client := srv.Client()
	admin := asActor("admin-1", "admin")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/forms", map[string]any{}, admin)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create form: %d %s", res.StatusCode, string(data))
	}
	var form FormResponse
	if err := json.Unmarshal(data, &form); err != nil {
		t.Fatalf("unmarshal form: %v", err)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/forms/"+form.ID+"/draft", nil, admin)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create draft: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/forms/"+form.ID+"/draft", map[string]any{
		"fields": []map[string]any{
			{"id": "name", "label": "Name", "type": "text", "required": true},
		},
		"workflow": map[string]any{
			"steps": []map[string]any{
				{"id": "start", "name": "Submitted", "role": "submitter", "actions": []string{"approve"}, "start": true},
				{"id": "manager_review", "name": "Manager review", "role": "manager", "actions": []string{"approve", "reject"}},
				{"id": "done", "name": "Done", "terminal": true},
				{"id": "declined", "name": "Declined", "terminal": true},
			},
			"transitions": []map[string]any{
				{"from": "start", "action": "approve", "to": "manager_review"},
				{"from": "manager_review", "action": "approve", "to": "done"},
				{"from": "manager_review", "action": "reject", "to": "declined"},
			},
		},
	}, admin)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("update draft: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/forms/"+form.ID+"/publish", map[string]any{
		"previous_version": 0,
	}, admin)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("publish: %d %s", res.StatusCode, string(data))
	}
	return form.ID
}

func TestSubmissionApprovalFlow(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	formID := setupPublishedForm(t, srv)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/forms/"+formID+"/submissions", map[string]any{
		"payload": map[string]any{"name": "Ada"},
	}, asActor("ada", "submitter"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("submit: %d %s", res.StatusCode, string(data))
	}
	var created SubmissionResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal submission: %v", err)
	}
	if created.Instance.CurrentStep != "start" {
		t.Fatalf("step = %s", created.Instance.CurrentStep)
	}
	subID := created.Submission.ID

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/submissions/"+subID+"/actions", map[string]any{
		"action": "approve",
	}, asActor("ada", "submitter"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("act 1: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/submissions/"+subID+"/actions", map[string]any{
		"action": "approve",
		"note":   "approved",
	}, asActor("grace", "manager"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("act 2: %d %s", res.StatusCode, string(data))
	}
	var inst domain.WorkflowInstance
	if err := json.Unmarshal(data, &inst); err != nil {
		t.Fatalf("unmarshal instance: %v", err)
	}
	if inst.Status != domain.StatusCompleted || inst.CurrentStep != "done" {
		t.Fatalf("final instance = %+v", inst)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/forms/"+formID+"/stats", nil, asActor("admin-1", "admin"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("stats: %d %s", res.StatusCode, string(data))
	}
	var stats StatsResponse
	if err := json.Unmarshal(data, &stats); err != nil {
		t.Fatalf("unmarshal stats: %v", err)
	}
	if stats.Total != 1 || stats.ByStatus[domain.StatusCompleted] != 1 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestSubmissionConfirmationMessage(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	admin := asActor("admin-1", "admin")

	// no per-form message: the configured default applies
	formID := setupPublishedForm(t, srv)
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/forms/"+formID+"/submissions", map[string]any{
		"payload": map[string]any{"name": "Ada"},
	}, asActor("ada", "submitter"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("submit: %d %s", res.StatusCode, string(data))
	}
	var created SubmissionResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if created.Confirmation != "Thank you for your submission." {
		t.Fatalf("confirmation = %q", created.Confirmation)
	}

	// a version's own settings win over the default
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/forms", map[string]any{}, admin)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create form: %d %s", res.StatusCode, string(data))
	}
	var form FormResponse
	if err := json.Unmarshal(data, &form); err != nil {
		t.Fatalf("unmarshal form: %v", err)
	}
	if res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/forms/"+form.ID+"/draft", nil, admin); res.StatusCode != http.StatusCreated {
		t.Fatalf("draft: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/forms/"+form.ID+"/draft", map[string]any{
		"fields":   []map[string]any{{"id": "name", "label": "Name", "type": "text"}},
		"settings": map[string]any{"confirmation_message": "We got it!"},
	}, admin)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("update draft: %d %s", res.StatusCode, string(data))
	}
	if res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/forms/"+form.ID+"/publish", map[string]any{
		"previous_version": 0,
	}, admin); res.StatusCode != http.StatusCreated {
		t.Fatalf("publish: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/forms/"+form.ID+"/submissions", map[string]any{
		"payload": map[string]any{"name": "Ada"},
	}, asActor("ada", "submitter"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("submit 2: %d %s", res.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if created.Confirmation != "We got it!" {
		t.Fatalf("confirmation = %q", created.Confirmation)
	}
}

func TestValidationErrorEnvelope(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	formID := setupPublishedForm(t, srv)

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/forms/"+formID+"/submissions", map[string]any{
		"payload": map[string]any{},
	}, asActor("ada", "submitter"))
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
			Details struct {
				Issues []struct {
					Field  string `json:"field"`
					Reason string `json:"reason"`
				} `json:"issues"`
			} `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal envelope: %v: %s", err, string(data))
	}
	if envelope.Error.Code != "validation_failed" {
		t.Fatalf("code = %s", envelope.Error.Code)
	}
	if len(envelope.Error.Details.Issues) != 1 || envelope.Error.Details.Issues[0].Field != "name" {
		t.Fatalf("issues = %+v", envelope.Error.Details.Issues)
	}
}

func TestRoleMismatchForbidden(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	formID := setupPublishedForm(t, srv)

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/forms/"+formID+"/submissions", map[string]any{
		"payload": map[string]any{"name": "Ada"},
	}, asActor("ada", "submitter"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("submit: %d %s", res.StatusCode, string(data))
	}
	var created SubmissionResponse
	_ = json.Unmarshal(data, &created)

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/submissions/"+created.Submission.ID+"/actions", map[string]any{
		"action": "approve",
	}, asActor("mallory", "viewer"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d %s", res.StatusCode, string(data))
	}
}

func TestPublishStalePointerHTTPConflict(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	admin := asActor("admin-1", "admin")
	formID := setupPublishedForm(t, srv)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/forms/"+formID+"/draft", nil, admin)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("draft: %d %s", res.StatusCode, string(data))
	}
	// the form is at version 1; claim it is still at 0
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/forms/"+formID+"/publish", map[string]any{
		"previous_version": 0,
	}, admin)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d %s", res.StatusCode, string(data))
	}
}

func TestUnauthenticatedRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/forms", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d %s", res.StatusCode, string(data))
	}
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health should be open, got %d", res.StatusCode)
	}
}
