// Package versions owns the form lifecycle: draft authoring, gapless
// version numbering and the published pointer on each form.
package versions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"formline/internal/domain"
	"formline/internal/events"
	"formline/internal/fields"
	"formline/internal/graph"
	"formline/internal/repo"
)

type Store struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Fields *fields.Registry
	Now    func() time.Time
}

func New(db *sql.DB, reg *fields.Registry) Store {
	return Store{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Fields: reg,
		Now:    time.Now,
	}
}

func (s Store) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s Store) CreateForm(ctx context.Context, ownerID string) (domain.Form, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Form{}, err
	}
	defer tx.Rollback()

	f := domain.Form{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		CreatedAt: s.now().UTC().Format(time.RFC3339),
	}
	if err := s.Repo.InsertForm(ctx, tx, f); err != nil {
		return domain.Form{}, fmt.Errorf("insert form: %w", err)
	}
	if err := s.Events.Append(ctx, tx, "form.created", f.ID, "form", f.ID, ownerID, nil); err != nil {
		return domain.Form{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Form{}, err
	}
	return f, nil
}

// CreateDraft opens a new draft for the form. If the form has a published
// version the draft starts as a copy of it, otherwise empty. At most one
// draft may exist per form.
func (s Store) CreateDraft(ctx context.Context, formID, actorID string) (domain.FormVersion, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.FormVersion{}, err
	}
	defer tx.Rollback()

	f, err := s.Repo.GetFormTx(ctx, tx, formID)
	if err != nil {
		return domain.FormVersion{}, err
	}
	if _, err := s.Repo.GetDraftTx(ctx, tx, formID); err == nil {
		return domain.FormVersion{}, domain.ConflictError{Reason: "form already has an open draft"}
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.FormVersion{}, err
	}

	v := domain.FormVersion{
		ID:        uuid.NewString(),
		FormID:    formID,
		State:     domain.VersionDraft,
		Fields:    []domain.FormField{},
		CreatedAt: s.now().UTC().Format(time.RFC3339),
	}
	if f.CurrentVersion != nil {
		cur, err := s.Repo.GetVersionTx(ctx, tx, formID, *f.CurrentVersion)
		if err != nil {
			return domain.FormVersion{}, fmt.Errorf("load current version: %w", err)
		}
		v.Fields = cur.Fields
		v.Settings = cur.Settings
		v.Workflow = cur.Workflow
	}
	if err := s.Repo.InsertVersion(ctx, tx, v); err != nil {
		return domain.FormVersion{}, fmt.Errorf("insert draft: %w", err)
	}
	if err := s.Events.Append(ctx, tx, "draft.created", formID, "version", v.ID, actorID, nil); err != nil {
		return domain.FormVersion{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.FormVersion{}, err
	}
	return v, nil
}

// DraftPatch carries partial draft updates. Nil means leave unchanged.
type DraftPatch struct {
	Fields   []domain.FormField
	Settings *domain.FormSettings
	Workflow *domain.WorkflowDefinition
}

func (s Store) UpdateDraft(ctx context.Context, formID string, patch DraftPatch, actorID string) (domain.FormVersion, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.FormVersion{}, err
	}
	defer tx.Rollback()

	v, err := s.Repo.GetDraftTx(ctx, tx, formID)
	if err != nil {
		return domain.FormVersion{}, err
	}
	if patch.Fields != nil {
		if err := s.checkFields(patch.Fields); err != nil {
			return domain.FormVersion{}, err
		}
		v.Fields = patch.Fields
	}
	if patch.Settings != nil {
		v.Settings = *patch.Settings
	}
	if patch.Workflow != nil {
		v.Workflow = patch.Workflow
		if err := s.Repo.UpsertWorkflowDefinition(ctx, tx, formID, *patch.Workflow, s.now().UTC().Format(time.RFC3339)); err != nil {
			return domain.FormVersion{}, fmt.Errorf("upsert workflow: %w", err)
		}
	}
	if err := s.Repo.UpdateDraftContent(ctx, tx, v); err != nil {
		return domain.FormVersion{}, err
	}
	if err := s.Events.Append(ctx, tx, "draft.updated", formID, "version", v.ID, actorID, nil); err != nil {
		return domain.FormVersion{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.FormVersion{}, err
	}
	return v, nil
}

// SetWorkflow replaces the form's authoring workflow definition and mirrors
// it into the open draft if one exists. The definition is structurally
// validated up front so a broken graph never reaches publish.
func (s Store) SetWorkflow(ctx context.Context, formID string, def domain.WorkflowDefinition, actorID string) error {
	if _, err := graph.Validate(def); err != nil {
		return err
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := s.Repo.GetFormTx(ctx, tx, formID); err != nil {
		return err
	}
	now := s.now().UTC().Format(time.RFC3339)
	if err := s.Repo.UpsertWorkflowDefinition(ctx, tx, formID, def, now); err != nil {
		return fmt.Errorf("upsert workflow: %w", err)
	}
	draft, err := s.Repo.GetDraftTx(ctx, tx, formID)
	if err == nil {
		draft.Workflow = &def
		if err := s.Repo.UpdateDraftContent(ctx, tx, draft); err != nil {
			return err
		}
	} else if !errors.Is(err, repo.ErrNotFound) {
		return err
	}
	if err := s.Events.Append(ctx, tx, "workflow.updated", formID, "form", formID, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// Publish freezes the open draft as the next version and moves the form's
// published pointer. prevVersion is the current version the caller last
// observed (0 for a never-published form); a mismatch aborts with a
// conflict so concurrent publishes cannot clobber each other.
func (s Store) Publish(ctx context.Context, formID string, prevVersion int, note, actorID string) (domain.FormVersion, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.FormVersion{}, err
	}
	defer tx.Rollback()

	if _, err := s.Repo.GetFormTx(ctx, tx, formID); err != nil {
		return domain.FormVersion{}, err
	}
	v, err := s.Repo.GetDraftTx(ctx, tx, formID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.FormVersion{}, domain.ConflictError{Reason: "form has no open draft"}
		}
		return domain.FormVersion{}, err
	}
	if err := s.checkPublishable(v); err != nil {
		return domain.FormVersion{}, err
	}

	max, err := s.Repo.MaxPublishedVersion(ctx, tx, formID)
	if err != nil {
		return domain.FormVersion{}, err
	}
	v.Version = max + 1
	v.State = domain.VersionPublished
	v.Note = note
	v.PublishedAt = s.now().UTC().Format(time.RFC3339)

	if err := s.Repo.PublishDraft(ctx, tx, v.ID, v.Version, v.Note, v.PublishedAt); err != nil {
		return domain.FormVersion{}, err
	}
	if err := s.Repo.SetCurrentVersion(ctx, tx, formID, v.Version, prevVersion); err != nil {
		if errors.Is(err, repo.ErrStale) {
			return domain.FormVersion{}, domain.ConflictError{Reason: fmt.Sprintf("form %s is not at version %d", formID, prevVersion)}
		}
		return domain.FormVersion{}, err
	}
	if err := s.Events.Append(ctx, tx, "version.published", formID, "version", v.ID, actorID, events.EventPayload{"version": v.Version}); err != nil {
		return domain.FormVersion{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.FormVersion{}, err
	}
	return v, nil
}

func (s Store) GetVersion(ctx context.Context, formID string, version int) (domain.FormVersion, error) {
	return s.Repo.GetVersion(ctx, formID, version)
}

// GetCurrentPublished resolves the form's published pointer.
func (s Store) GetCurrentPublished(ctx context.Context, formID string) (domain.FormVersion, error) {
	f, err := s.Repo.GetForm(ctx, formID)
	if err != nil {
		return domain.FormVersion{}, err
	}
	if f.CurrentVersion == nil {
		return domain.FormVersion{}, domain.NoPublishedVersionError{FormID: formID}
	}
	return s.Repo.GetVersion(ctx, formID, *f.CurrentVersion)
}

// checkFields validates structural field constraints against the registry.
// All issues are collected before reporting.
func (s Store) checkFields(ff []domain.FormField) error {
	var issues []domain.FieldIssue
	seen := map[string]bool{}
	for i, f := range ff {
		where := fmt.Sprintf("fields[%d]", i)
		if f.ID == "" {
			issues = append(issues, domain.FieldIssue{Field: where, Reason: "id is required"})
		} else if seen[f.ID] {
			issues = append(issues, domain.FieldIssue{Field: where, Reason: fmt.Sprintf("duplicate field id %s", f.ID)})
		} else {
			seen[f.ID] = true
		}
		if f.Label == "" {
			issues = append(issues, domain.FieldIssue{Field: where, Reason: "label is required"})
		}
		t, ok := s.Fields.Lookup(f.Type)
		if !ok {
			issues = append(issues, domain.FieldIssue{Field: where, Reason: fmt.Sprintf("unknown field type %s", f.Type)})
			continue
		}
		if t.Choice && len(f.Options) == 0 {
			issues = append(issues, domain.FieldIssue{Field: where, Reason: fmt.Sprintf("%s field needs at least one option", f.Type)})
		}
		if f.Min != nil && f.Max != nil && *f.Min > *f.Max {
			issues = append(issues, domain.FieldIssue{Field: where, Reason: "min exceeds max"})
		}
	}
	if len(issues) > 0 {
		return domain.ValidationError{Issues: issues}
	}
	return nil
}

// checkPublishable runs everything that must hold before a draft can
// become a published version.
func (s Store) checkPublishable(v domain.FormVersion) error {
	var issues []domain.FieldIssue
	if err := s.checkFields(v.Fields); err != nil {
		var ve domain.ValidationError
		if errors.As(err, &ve) {
			issues = append(issues, ve.Issues...)
		} else {
			return err
		}
	}
	if v.Workflow != nil {
		if _, err := graph.Validate(*v.Workflow); err != nil {
			var ve domain.ValidationError
			if errors.As(err, &ve) {
				issues = append(issues, ve.Issues...)
			} else {
				return err
			}
		}
	}
	if len(issues) > 0 {
		sort.SliceStable(issues, func(i, j int) bool { return issues[i].Field < issues[j].Field })
		return domain.ValidationError{Issues: issues}
	}
	return nil
}
