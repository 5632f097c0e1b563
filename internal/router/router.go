// Package router accepts submissions against the published version of a
// form and drives their workflow instances through approval actions.
package router

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"formline/internal/domain"
	"formline/internal/engine"
	"formline/internal/events"
	"formline/internal/fields"
	"formline/internal/graph"
	"formline/internal/repo"
)

// SystemActor is recorded on history entries produced by auto steps.
const SystemActor = "system"

type Router struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Fields *fields.Registry
	Now    func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(db *sql.DB, reg *fields.Registry) *Router {
	return &Router{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Fields: reg,
		Now:    time.Now,
		locks:  map[string]*sync.Mutex{},
	}
}

func (r *Router) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// lockFor serializes action processing per submission. The revision guard
// in storage still protects against writers outside this process.
func (r *Router) lockFor(submissionID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.locks == nil {
		r.locks = map[string]*sync.Mutex{}
	}
	m, ok := r.locks[submissionID]
	if !ok {
		m = &sync.Mutex{}
		r.locks[submissionID] = m
	}
	return m
}

// Accept validates the payload against the form's current published version
// and creates the submission together with its workflow instance. The
// submission is pinned to the version number it was accepted under.
func (r *Router) Accept(ctx context.Context, formID string, payload map[string]any, actorID string) (domain.Submission, domain.WorkflowInstance, error) {
	f, err := r.Repo.GetForm(ctx, formID)
	if err != nil {
		return domain.Submission{}, domain.WorkflowInstance{}, err
	}
	if f.CurrentVersion == nil {
		return domain.Submission{}, domain.WorkflowInstance{}, domain.NoPublishedVersionError{FormID: formID}
	}
	v, err := r.Repo.GetVersion(ctx, formID, *f.CurrentVersion)
	if err != nil {
		return domain.Submission{}, domain.WorkflowInstance{}, err
	}
	if payload == nil {
		payload = map[string]any{}
	}
	if err := r.checkPayload(v.Fields, payload); err != nil {
		return domain.Submission{}, domain.WorkflowInstance{}, err
	}
	r.fillDefaults(v.Fields, payload)

	now := r.now().UTC().Format(time.RFC3339)
	sub := domain.Submission{
		ID:        uuid.NewString(),
		FormID:    formID,
		Version:   v.Version,
		Payload:   payload,
		CreatedBy: actorID,
		CreatedAt: now,
	}

	inst := domain.WorkflowInstance{
		SubmissionID: sub.ID,
		Status:       domain.StatusCompleted,
		History:      []domain.ApprovalAction{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	var intents []engine.Intent
	if v.Workflow != nil {
		g, err := graph.Validate(*v.Workflow)
		if err != nil {
			return domain.Submission{}, domain.WorkflowInstance{}, domain.GraphIntegrityError{Step: "start"}
		}
		eng := engine.Engine{Graph: g, Now: r.Now}
		inst = eng.NewInstance(sub.ID)
		inst, intents, err = r.autoChain(eng, inst, intents)
		if err != nil {
			return domain.Submission{}, domain.WorkflowInstance{}, err
		}
	}

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Submission{}, domain.WorkflowInstance{}, err
	}
	defer tx.Rollback()

	if err := r.Repo.InsertSubmission(ctx, tx, sub); err != nil {
		return domain.Submission{}, domain.WorkflowInstance{}, fmt.Errorf("insert submission: %w", err)
	}
	if err := r.Repo.InsertInstance(ctx, tx, inst); err != nil {
		return domain.Submission{}, domain.WorkflowInstance{}, fmt.Errorf("insert instance: %w", err)
	}
	if err := r.Events.Append(ctx, tx, "submission.created", formID, "submission", sub.ID, actorID,
		events.EventPayload{"version": v.Version, "step": inst.CurrentStep}); err != nil {
		return domain.Submission{}, domain.WorkflowInstance{}, err
	}
	if err := r.appendIntentEvents(ctx, tx, formID, intents); err != nil {
		return domain.Submission{}, domain.WorkflowInstance{}, err
	}
	if v.Workflow == nil {
		if err := r.Events.Append(ctx, tx, engine.IntentSubmissionCompleted, formID, "submission", sub.ID, SystemActor, nil); err != nil {
			return domain.Submission{}, domain.WorkflowInstance{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Submission{}, domain.WorkflowInstance{}, err
	}
	return sub, inst, nil
}

// Act applies one approval action to a submission's instance. Actions on
// the same submission are processed one at a time.
func (r *Router) Act(ctx context.Context, submissionID, action, actorID, role, note string) (domain.WorkflowInstance, error) {
	lock := r.lockFor(submissionID)
	lock.Lock()
	defer lock.Unlock()

	sub, err := r.Repo.GetSubmission(ctx, submissionID)
	if err != nil {
		return domain.WorkflowInstance{}, err
	}
	inst, err := r.Repo.GetInstance(ctx, submissionID)
	if err != nil {
		return domain.WorkflowInstance{}, err
	}
	if inst.Status != domain.StatusInProgress {
		return domain.WorkflowInstance{}, domain.TerminatedError{Status: inst.Status}
	}
	// Auto edges are driven by the router's own chaining. Letting a caller
	// submit one would sidestep the step's role gate.
	if action == domain.ActionAuto {
		return domain.WorkflowInstance{}, domain.InvalidActionError{Step: inst.CurrentStep, Action: action}
	}
	v, err := r.Repo.GetVersion(ctx, sub.FormID, sub.Version)
	if err != nil {
		return domain.WorkflowInstance{}, err
	}
	if v.Workflow == nil {
		return domain.WorkflowInstance{}, domain.GraphIntegrityError{Step: inst.CurrentStep, Action: action}
	}
	g, err := graph.Validate(*v.Workflow)
	if err != nil {
		return domain.WorkflowInstance{}, domain.GraphIntegrityError{Step: inst.CurrentStep, Action: action}
	}
	eng := engine.Engine{Graph: g, Now: r.Now}

	prevRevision := inst.Revision
	next, intents, err := eng.Advance(inst, action, actorID, role, note)
	if err != nil {
		return domain.WorkflowInstance{}, err
	}
	next, intents, err = r.autoChain(eng, next, intents)
	if err != nil {
		return domain.WorkflowInstance{}, err
	}

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WorkflowInstance{}, err
	}
	defer tx.Rollback()

	if err := r.Repo.UpdateInstance(ctx, tx, next, prevRevision); err != nil {
		if errors.Is(err, repo.ErrStale) {
			return domain.WorkflowInstance{}, domain.ConflictError{Reason: fmt.Sprintf("submission %s was modified concurrently", submissionID)}
		}
		return domain.WorkflowInstance{}, err
	}
	if err := r.Events.Append(ctx, tx, "submission.advanced", sub.FormID, "submission", sub.ID, actorID,
		events.EventPayload{"action": action, "step": next.CurrentStep, "status": next.Status}); err != nil {
		return domain.WorkflowInstance{}, err
	}
	if err := r.appendIntentEvents(ctx, tx, sub.FormID, intents); err != nil {
		return domain.WorkflowInstance{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.WorkflowInstance{}, err
	}
	next.Revision = prevRevision + 1
	return next, nil
}

// autoChain runs auto-only steps to quiescence. Graph validation already
// rejects auto self-loops, so the chain always terminates.
func (r *Router) autoChain(eng engine.Engine, inst domain.WorkflowInstance, intents []engine.Intent) (domain.WorkflowInstance, []engine.Intent, error) {
	for inst.Status == domain.StatusInProgress {
		step, ok := eng.Graph.Step(inst.CurrentStep)
		if !ok || !graph.AutoOnly(step) {
			break
		}
		next, more, err := eng.Advance(inst, domain.ActionAuto, SystemActor, "", "")
		if err != nil {
			return inst, intents, err
		}
		inst = next
		intents = append(intents, more...)
	}
	return inst, intents, nil
}

func (r *Router) appendIntentEvents(ctx context.Context, tx *sql.Tx, formID string, intents []engine.Intent) error {
	for _, in := range intents {
		if err := r.Events.Append(ctx, tx, in.Type, formID, "submission", in.SubmissionID, SystemActor,
			events.EventPayload{"step": in.Step}); err != nil {
			return err
		}
	}
	return nil
}

// checkPayload validates a submission payload against the version's fields,
// collecting every offending field before reporting.
func (r *Router) checkPayload(ff []domain.FormField, payload map[string]any) error {
	var issues []domain.FieldIssue
	known := map[string]bool{}
	for _, f := range ff {
		known[f.ID] = true
		value, present := payload[f.ID]
		if !present || value == nil {
			if f.Required {
				issues = append(issues, domain.FieldIssue{Field: f.ID, Reason: "is required"})
			}
			continue
		}
		// An empty string is an unfilled field, not a value.
		if s, ok := value.(string); ok && s == "" {
			if f.Required {
				issues = append(issues, domain.FieldIssue{Field: f.ID, Reason: "is required"})
			}
			continue
		}
		t, ok := r.Fields.Lookup(f.Type)
		if !ok {
			issues = append(issues, domain.FieldIssue{Field: f.ID, Reason: fmt.Sprintf("unknown field type %s", f.Type)})
			continue
		}
		if err := t.Validate(f, value); err != nil {
			issues = append(issues, domain.FieldIssue{Field: f.ID, Reason: err.Error()})
		}
	}
	for k := range payload {
		if !known[k] {
			issues = append(issues, domain.FieldIssue{Field: k, Reason: "not a field of this version"})
		}
	}
	if len(issues) > 0 {
		return domain.ValidationError{Issues: issues}
	}
	return nil
}

// fillDefaults writes each field type's default into the payload for
// optional fields the submitter left out, so stored payloads are complete.
func (r *Router) fillDefaults(ff []domain.FormField, payload map[string]any) {
	for _, f := range ff {
		if _, present := payload[f.ID]; present {
			continue
		}
		t, ok := r.Fields.Lookup(f.Type)
		if !ok || t.Default == nil {
			continue
		}
		if d := t.Default(f); d != nil {
			payload[f.ID] = d
		}
	}
}
