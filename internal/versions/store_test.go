package versions_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"formline/internal/db"
	"formline/internal/domain"
	"formline/internal/fields"
	"formline/internal/migrate"
	"formline/internal/versions"
)

type testEnv struct {
	Store versions.Store
	Ctx   context.Context
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
	store := versions.New(conn, fields.Builtin())
	store.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	return testEnv{Store: store, Ctx: context.Background()}
}

func nameFields() []domain.FormField {
	return []domain.FormField{
		{ID: "name", Label: "Name", Type: "text", Required: true},
	}
}

func TestPublishAssignsSequentialVersions(t *testing.T) {
	env := newTestEnv(t)
	f, err := env.Store.CreateForm(env.Ctx, "owner-1")
	if err != nil {
		t.Fatalf("create form: %v", err)
	}
	for want := 1; want <= 3; want++ {
		if _, err := env.Store.CreateDraft(env.Ctx, f.ID, "owner-1"); err != nil {
			t.Fatalf("draft %d: %v", want, err)
		}
		if _, err := env.Store.UpdateDraft(env.Ctx, f.ID, versions.DraftPatch{Fields: nameFields()}, "owner-1"); err != nil {
			t.Fatalf("update draft %d: %v", want, err)
		}
		v, err := env.Store.Publish(env.Ctx, f.ID, want-1, "", "owner-1")
		if err != nil {
			t.Fatalf("publish %d: %v", want, err)
		}
		if v.Version != want {
			t.Fatalf("version = %d, want %d", v.Version, want)
		}
		if v.State != domain.VersionPublished {
			t.Fatalf("state = %s", v.State)
		}
	}
	got, err := env.Store.Repo.GetForm(env.Ctx, f.ID)
	if err != nil {
		t.Fatalf("get form: %v", err)
	}
	if got.CurrentVersion == nil || *got.CurrentVersion != 3 {
		t.Fatalf("current_version = %v, want 3", got.CurrentVersion)
	}
}

func TestSecondDraftConflicts(t *testing.T) {
	env := newTestEnv(t)
	f, _ := env.Store.CreateForm(env.Ctx, "owner-1")
	if _, err := env.Store.CreateDraft(env.Ctx, f.ID, "owner-1"); err != nil {
		t.Fatalf("first draft: %v", err)
	}
	_, err := env.Store.CreateDraft(env.Ctx, f.ID, "owner-1")
	var ce domain.ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want ConflictError", err)
	}
}

func TestPublishStalePointerConflicts(t *testing.T) {
	env := newTestEnv(t)
	f, _ := env.Store.CreateForm(env.Ctx, "owner-1")
	if _, err := env.Store.CreateDraft(env.Ctx, f.ID, "owner-1"); err != nil {
		t.Fatalf("draft: %v", err)
	}
	if _, err := env.Store.UpdateDraft(env.Ctx, f.ID, versions.DraftPatch{Fields: nameFields()}, "owner-1"); err != nil {
		t.Fatalf("update draft: %v", err)
	}
	// caller believes the form is already at version 1; it is unpublished
	_, err := env.Store.Publish(env.Ctx, f.ID, 1, "", "owner-1")
	var ce domain.ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want ConflictError", err)
	}
	// the draft must survive a failed publish
	if _, err := env.Store.Repo.GetDraft(env.Ctx, f.ID); err != nil {
		t.Fatalf("draft gone after failed publish: %v", err)
	}
}

func TestDraftUpdateCollectsAllFieldIssues(t *testing.T) {
	env := newTestEnv(t)
	f, _ := env.Store.CreateForm(env.Ctx, "owner-1")
	if _, err := env.Store.CreateDraft(env.Ctx, f.ID, "owner-1"); err != nil {
		t.Fatalf("draft: %v", err)
	}
	_, err := env.Store.UpdateDraft(env.Ctx, f.ID, versions.DraftPatch{Fields: []domain.FormField{
		{ID: "a", Label: "", Type: "text"},
		{ID: "b", Label: "Pick", Type: "select"},
		{ID: "c", Label: "Weird", Type: "hologram"},
	}}, "owner-1")
	var ve domain.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	if len(ve.Issues) != 3 {
		t.Fatalf("issues = %d, want 3: %v", len(ve.Issues), ve.Issues)
	}
	for _, want := range []string{"label is required", "at least one option", "unknown field type hologram"} {
		found := false
		for _, is := range ve.Issues {
			if strings.Contains(is.Reason, want) {
				found = true
			}
		}
		if !found {
			t.Fatalf("missing issue %q in %v", want, ve.Issues)
		}
	}
}

func TestPublishedVersionIsIsolatedFromDraft(t *testing.T) {
	env := newTestEnv(t)
	f, _ := env.Store.CreateForm(env.Ctx, "owner-1")
	if _, err := env.Store.CreateDraft(env.Ctx, f.ID, "owner-1"); err != nil {
		t.Fatalf("draft: %v", err)
	}
	if _, err := env.Store.UpdateDraft(env.Ctx, f.ID, versions.DraftPatch{Fields: nameFields()}, "owner-1"); err != nil {
		t.Fatalf("update draft: %v", err)
	}
	if _, err := env.Store.Publish(env.Ctx, f.ID, 0, "first", "owner-1"); err != nil {
		t.Fatalf("publish: %v", err)
	}

	// a new draft clones v1; editing it must not touch v1
	if _, err := env.Store.CreateDraft(env.Ctx, f.ID, "owner-1"); err != nil {
		t.Fatalf("second draft: %v", err)
	}
	mutated := nameFields()
	mutated[0].Label = "Full name"
	if _, err := env.Store.UpdateDraft(env.Ctx, f.ID, versions.DraftPatch{Fields: mutated}, "owner-1"); err != nil {
		t.Fatalf("update second draft: %v", err)
	}
	v1, err := env.Store.GetVersion(env.Ctx, f.ID, 1)
	if err != nil {
		t.Fatalf("get v1: %v", err)
	}
	if v1.Fields[0].Label != "Name" {
		t.Fatalf("published version mutated: %q", v1.Fields[0].Label)
	}
	if v1.Note != "first" {
		t.Fatalf("note = %q", v1.Note)
	}
}

func TestGetCurrentPublishedUnpublished(t *testing.T) {
	env := newTestEnv(t)
	f, _ := env.Store.CreateForm(env.Ctx, "owner-1")
	_, err := env.Store.GetCurrentPublished(env.Ctx, f.ID)
	var npe domain.NoPublishedVersionError
	if !errors.As(err, &npe) {
		t.Fatalf("err = %v, want NoPublishedVersionError", err)
	}
}

func TestSetWorkflowRejectsBrokenGraph(t *testing.T) {
	env := newTestEnv(t)
	f, _ := env.Store.CreateForm(env.Ctx, "owner-1")
	def := domain.WorkflowDefinition{
		Steps: []domain.WorkflowStep{
			{ID: "start", Name: "Start", Role: "submitter", Actions: []string{"approve"}, Start: true},
		},
		Transitions: []domain.Transition{
			{From: "start", Action: "approve", To: "missing"},
		},
	}
	err := env.Store.SetWorkflow(env.Ctx, f.ID, def, "owner-1")
	var ve domain.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
}
