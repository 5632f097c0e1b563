// Package engine advances workflow instances over a validated graph.
// It is pure state-machine logic: no storage, no transport.
package engine

import (
	"time"

	"formline/internal/domain"
	"formline/internal/graph"
)

type Engine struct {
	Graph *graph.ValidatedGraph
	Now   func() time.Time
}

func New(g *graph.ValidatedGraph) Engine {
	return Engine{Graph: g, Now: time.Now}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Intent is a side effect the caller should carry out after the advanced
// instance has been durably persisted.
type Intent struct {
	Type         string `json:"type"`
	SubmissionID string `json:"submission_id"`
	Step         string `json:"step,omitempty"`
}

const (
	IntentStepPending         = "notify.step.pending"
	IntentSubmissionCompleted = "notify.submission.completed"
	IntentSubmissionRejected  = "notify.submission.rejected"
)

// NewInstance places a fresh instance on the graph's start step.
func (e Engine) NewInstance(submissionID string) domain.WorkflowInstance {
	now := e.now().UTC().Format(time.RFC3339)
	return domain.WorkflowInstance{
		SubmissionID: submissionID,
		CurrentStep:  e.Graph.Start().ID,
		Status:       domain.StatusInProgress,
		History:      []domain.ApprovalAction{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Advance applies one action to the instance and returns the next state
// plus the intents the transition produced. The input instance is not
// modified; on error it is returned unchanged.
func (e Engine) Advance(inst domain.WorkflowInstance, action, actorID, role, note string) (domain.WorkflowInstance, []Intent, error) {
	if inst.Status != domain.StatusInProgress {
		return inst, nil, domain.TerminatedError{Status: inst.Status}
	}
	step, ok := e.Graph.Step(inst.CurrentStep)
	if !ok {
		return inst, nil, domain.GraphIntegrityError{Step: inst.CurrentStep}
	}
	if action != domain.ActionAuto && step.Role != "" && role != step.Role {
		return inst, nil, domain.AuthorizationError{Required: step.Role, Asserted: role}
	}
	if !contains(step.Actions, action) {
		return inst, nil, domain.InvalidActionError{Step: step.ID, Action: action}
	}
	to, err := e.Graph.Successor(step.ID, action)
	if err != nil {
		return inst, nil, err
	}

	next := inst
	next.History = append(append([]domain.ApprovalAction{}, inst.History...), domain.ApprovalAction{
		Step:    step.ID,
		Action:  action,
		ActorID: actorID,
		Role:    role,
		Note:    note,
		TS:      e.now().UTC().Format(time.RFC3339),
	})
	next.CurrentStep = to
	next.UpdatedAt = e.now().UTC().Format(time.RFC3339)

	target, ok := e.Graph.Step(to)
	if !ok {
		return inst, nil, domain.GraphIntegrityError{Step: to}
	}
	var intents []Intent
	if target.Terminal {
		if action == domain.ActionReject {
			next.Status = domain.StatusRejected
			intents = append(intents, Intent{Type: IntentSubmissionRejected, SubmissionID: inst.SubmissionID, Step: to})
		} else {
			next.Status = domain.StatusCompleted
			intents = append(intents, Intent{Type: IntentSubmissionCompleted, SubmissionID: inst.SubmissionID, Step: to})
		}
	} else {
		intents = append(intents, Intent{Type: IntentStepPending, SubmissionID: inst.SubmissionID, Step: to})
	}
	return next, intents, nil
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
