package router_test

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"formline/internal/db"
	"formline/internal/domain"
	"formline/internal/fields"
	"formline/internal/migrate"
	"formline/internal/repo"
	"formline/internal/router"
	"formline/internal/versions"
)

type testEnv struct {
	DB     *sql.DB
	Store  versions.Store
	Router *router.Router
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	reg := fields.Builtin()
	store := versions.New(conn, reg)
	store.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	return testEnv{DB: conn, Store: store, Router: router.New(conn, reg), Ctx: context.Background()}
}

func approvalWorkflow() *domain.WorkflowDefinition {
	return &domain.WorkflowDefinition{
		Steps: []domain.WorkflowStep{
			{ID: "start", Name: "Submitted", Role: "submitter", Actions: []string{domain.ActionApprove}, Start: true},
			{ID: "manager_review", Name: "Manager review", Role: "manager", Actions: []string{domain.ActionApprove, domain.ActionReject}},
			{ID: "done", Name: "Done", Terminal: true},
			{ID: "declined", Name: "Declined", Terminal: true},
		},
		Transitions: []domain.Transition{
			{From: "start", Action: domain.ActionApprove, To: "manager_review"},
			{From: "manager_review", Action: domain.ActionApprove, To: "done"},
			{From: "manager_review", Action: domain.ActionReject, To: "declined"},
		},
	}
}

// publishForm creates a form and publishes one version with the given
// fields and workflow, returning the form ID.
func publishForm(t *testing.T, env testEnv, ff []domain.FormField, wf *domain.WorkflowDefinition) string {
	t.Helper()
	f, err := env.Store.CreateForm(env.Ctx, "owner-1")
	if err != nil {
		t.Fatalf("create form: %v", err)
	}
	if _, err := env.Store.CreateDraft(env.Ctx, f.ID, "owner-1"); err != nil {
		t.Fatalf("draft: %v", err)
	}
	patch := versions.DraftPatch{Fields: ff, Workflow: wf}
	if _, err := env.Store.UpdateDraft(env.Ctx, f.ID, patch, "owner-1"); err != nil {
		t.Fatalf("update draft: %v", err)
	}
	if _, err := env.Store.Publish(env.Ctx, f.ID, 0, "", "owner-1"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	return f.ID
}

func TestAcceptAndApproveToCompletion(t *testing.T) {
	env := newTestEnv(t)
	formID := publishForm(t, env, []domain.FormField{
		{ID: "name", Label: "Name", Type: "text", Required: true},
	}, approvalWorkflow())

	sub, inst, err := env.Router.Accept(env.Ctx, formID, map[string]any{"name": "Ada"}, "ada")
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if sub.Version != 1 {
		t.Fatalf("pinned version = %d", sub.Version)
	}
	if inst.CurrentStep != "start" || inst.Status != domain.StatusInProgress {
		t.Fatalf("instance = %+v", inst)
	}

	inst, err = env.Router.Act(env.Ctx, sub.ID, domain.ActionApprove, "ada", "submitter", "")
	if err != nil {
		t.Fatalf("act 1: %v", err)
	}
	if inst.CurrentStep != "manager_review" || inst.Revision != 1 {
		t.Fatalf("after act 1: %+v", inst)
	}

	inst, err = env.Router.Act(env.Ctx, sub.ID, domain.ActionApprove, "grace", "manager", "fine by me")
	if err != nil {
		t.Fatalf("act 2: %v", err)
	}
	if inst.Status != domain.StatusCompleted || inst.CurrentStep != "done" {
		t.Fatalf("final = %+v", inst)
	}
	if len(inst.History) != 2 || inst.History[1].Note != "fine by me" {
		t.Fatalf("history = %+v", inst.History)
	}
}

func TestAcceptCitesEveryOffendingField(t *testing.T) {
	env := newTestEnv(t)
	formID := publishForm(t, env, []domain.FormField{
		{ID: "name", Label: "Name", Type: "text", Required: true},
		{ID: "age", Label: "Age", Type: "number", Required: true},
	}, approvalWorkflow())

	_, _, err := env.Router.Accept(env.Ctx, formID, map[string]any{"extra": true}, "ada")
	var ve domain.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	if len(ve.Issues) != 3 {
		t.Fatalf("issues = %+v, want 3", ve.Issues)
	}
	byField := map[string]string{}
	for _, is := range ve.Issues {
		byField[is.Field] = is.Reason
	}
	if byField["name"] != "is required" || byField["age"] != "is required" {
		t.Fatalf("issues = %+v", byField)
	}
	if _, ok := byField["extra"]; !ok {
		t.Fatalf("unknown field not cited: %+v", byField)
	}
}

func TestAcceptEmptyStringFailsRequired(t *testing.T) {
	env := newTestEnv(t)
	formID := publishForm(t, env, []domain.FormField{
		{ID: "name", Label: "Name", Type: "text", Required: true},
		{ID: "color", Label: "Color", Type: "select", Required: true,
			Options: []domain.FieldOption{{Value: "red"}, {Value: "blue"}}},
	}, approvalWorkflow())

	_, _, err := env.Router.Accept(env.Ctx, formID, map[string]any{"name": "", "color": ""}, "ada")
	var ve domain.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	byField := map[string]string{}
	for _, is := range ve.Issues {
		byField[is.Field] = is.Reason
	}
	if byField["name"] != "is required" || byField["color"] != "is required" {
		t.Fatalf("issues = %+v", byField)
	}
}

func TestAcceptFillsDefaultsForOmittedFields(t *testing.T) {
	env := newTestEnv(t)
	formID := publishForm(t, env, []domain.FormField{
		{ID: "name", Label: "Name", Type: "text", Required: true},
		{ID: "subscribe", Label: "Subscribe", Type: "checkbox"},
		{ID: "color", Label: "Color", Type: "select",
			Options: []domain.FieldOption{{Value: "red"}, {Value: "blue"}}},
	}, nil)

	sub, _, err := env.Router.Accept(env.Ctx, formID, map[string]any{"name": "Ada"}, "ada")
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if v := sub.Payload["subscribe"]; v != false {
		t.Fatalf("subscribe = %v", v)
	}
	if v := sub.Payload["color"]; v != "red" {
		t.Fatalf("color = %v", v)
	}
}

func TestAcceptUnpublishedForm(t *testing.T) {
	env := newTestEnv(t)
	f, err := env.Store.CreateForm(env.Ctx, "owner-1")
	if err != nil {
		t.Fatalf("create form: %v", err)
	}
	_, _, err = env.Router.Accept(env.Ctx, f.ID, map[string]any{}, "ada")
	var npe domain.NoPublishedVersionError
	if !errors.As(err, &npe) {
		t.Fatalf("err = %v, want NoPublishedVersionError", err)
	}
}

func TestAcceptWithoutWorkflowCompletesImmediately(t *testing.T) {
	env := newTestEnv(t)
	formID := publishForm(t, env, []domain.FormField{
		{ID: "name", Label: "Name", Type: "text"},
	}, nil)

	_, inst, err := env.Router.Accept(env.Ctx, formID, map[string]any{"name": "Ada"}, "ada")
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if inst.Status != domain.StatusCompleted {
		t.Fatalf("status = %s", inst.Status)
	}
}

func TestActRunsAutoStepsToQuiescence(t *testing.T) {
	env := newTestEnv(t)
	wf := &domain.WorkflowDefinition{
		Steps: []domain.WorkflowStep{
			{ID: "start", Name: "Intake", Role: "submitter", Actions: []string{domain.ActionApprove}, Start: true},
			{ID: "archive", Name: "Archive", Actions: []string{domain.ActionAuto}},
			{ID: "done", Name: "Done", Terminal: true},
		},
		Transitions: []domain.Transition{
			{From: "start", Action: domain.ActionApprove, To: "archive"},
			{From: "archive", Action: domain.ActionAuto, To: "done"},
		},
	}
	formID := publishForm(t, env, []domain.FormField{
		{ID: "name", Label: "Name", Type: "text"},
	}, wf)

	sub, _, err := env.Router.Accept(env.Ctx, formID, map[string]any{}, "ada")
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	inst, err := env.Router.Act(env.Ctx, sub.ID, domain.ActionApprove, "ada", "submitter", "")
	if err != nil {
		t.Fatalf("act: %v", err)
	}
	if inst.Status != domain.StatusCompleted || inst.CurrentStep != "done" {
		t.Fatalf("final = %+v", inst)
	}
	if len(inst.History) != 2 || inst.History[1].ActorID != router.SystemActor {
		t.Fatalf("history = %+v", inst.History)
	}
}

func TestActRejectsCallerSuppliedAuto(t *testing.T) {
	env := newTestEnv(t)
	formID := publishForm(t, env, []domain.FormField{
		{ID: "name", Label: "Name", Type: "text", Required: true},
	}, approvalWorkflow())
	sub, _, err := env.Router.Accept(env.Ctx, formID, map[string]any{"name": "Ada"}, "ada")
	if err != nil {
		t.Fatalf("accept: %v", err)
	}

	_, err = env.Router.Act(env.Ctx, sub.ID, domain.ActionAuto, "mallory", "", "")
	var ie domain.InvalidActionError
	if !errors.As(err, &ie) {
		t.Fatalf("err = %v, want InvalidActionError", err)
	}
	inst, err := env.Router.Repo.GetInstance(env.Ctx, sub.ID)
	if err != nil {
		t.Fatalf("get instance: %v", err)
	}
	if inst.CurrentStep != "start" || inst.Revision != 0 || len(inst.History) != 0 {
		t.Fatalf("instance mutated: %+v", inst)
	}
}

func TestActStaleWriteConflicts(t *testing.T) {
	env := newTestEnv(t)
	formID := publishForm(t, env, []domain.FormField{
		{ID: "name", Label: "Name", Type: "text", Required: true},
	}, approvalWorkflow())
	sub, inst, err := env.Router.Accept(env.Ctx, formID, map[string]any{"name": "Ada"}, "ada")
	if err != nil {
		t.Fatalf("accept: %v", err)
	}

	tx, err := env.DB.BeginTx(env.Ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	err = env.Router.Repo.UpdateInstance(env.Ctx, tx, inst, inst.Revision+5)
	if !errors.Is(err, repo.ErrStale) {
		t.Fatalf("err = %v, want ErrStale", err)
	}
	tx.Rollback()

	// only one of two racing approvals on the same submission may win
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.Router.Act(env.Ctx, sub.ID, domain.ActionApprove, "ada", "submitter", "")
		}(i)
	}
	wg.Wait()
	var won, lost int
	for _, e := range errs {
		if e == nil {
			won++
			continue
		}
		lost++
		var ie domain.InvalidActionError
		var ae domain.AuthorizationError
		if !errors.As(e, &ie) && !errors.As(e, &ae) {
			t.Fatalf("loser err = %v", e)
		}
	}
	if won != 1 || lost != 1 {
		t.Fatalf("won=%d lost=%d errs=%v", won, lost, errs)
	}
}
