package graph

import (
	"fmt"

	"formline/internal/domain"
)

// ValidatedGraph is an indexed workflow definition. Build one with
// Validate; successor lookups on it are O(1).
type ValidatedGraph struct {
	start string
	steps map[string]domain.WorkflowStep
	next  map[string]map[string]string
}

// Validate checks the structural rules of a workflow definition and
// builds the adjacency index. All problems are reported at once as a
// domain.ValidationError.
func Validate(def domain.WorkflowDefinition) (*ValidatedGraph, error) {
	var issues []domain.FieldIssue
	add := func(field, reason string) {
		issues = append(issues, domain.FieldIssue{Field: field, Reason: reason})
	}

	steps := make(map[string]domain.WorkflowStep, len(def.Steps))
	var start string
	terminals := 0
	for _, s := range def.Steps {
		if s.ID == "" {
			add("workflow.steps", "step with empty id")
			continue
		}
		if _, dup := steps[s.ID]; dup {
			add("workflow.steps", fmt.Sprintf("duplicate step id %s", s.ID))
			continue
		}
		steps[s.ID] = s
		if s.Start {
			if start != "" {
				add("workflow.steps", fmt.Sprintf("multiple start steps (%s, %s)", start, s.ID))
			}
			if s.Terminal {
				// An instance parked here could never leave in_progress.
				add("workflow.steps", fmt.Sprintf("start step %s cannot be terminal", s.ID))
			}
			start = s.ID
		}
		if s.Terminal {
			terminals++
		}
		if !s.Terminal && len(s.Actions) == 0 {
			add("workflow.steps", fmt.Sprintf("step %s permits no actions", s.ID))
		}
		for _, a := range s.Actions {
			if a != domain.ActionApprove && a != domain.ActionReject && a != domain.ActionAuto {
				add("workflow.steps", fmt.Sprintf("step %s has unknown action %s", s.ID, a))
			}
		}
		if !s.Terminal && s.Role == "" && !AutoOnly(s) {
			add("workflow.steps", fmt.Sprintf("step %s requires an approver role", s.ID))
		}
	}
	if start == "" {
		add("workflow.steps", "no start step")
	}
	if terminals == 0 {
		add("workflow.steps", "no terminal step")
	}

	next := make(map[string]map[string]string)
	for _, tr := range def.Transitions {
		from, ok := steps[tr.From]
		if !ok {
			add("workflow.transitions", fmt.Sprintf("transition from unknown step %s", tr.From))
			continue
		}
		if from.Terminal {
			add("workflow.transitions", fmt.Sprintf("terminal step %s has outgoing transition", tr.From))
			continue
		}
		if _, ok := steps[tr.To]; !ok {
			add("workflow.transitions", fmt.Sprintf("transition from %s targets unknown step %s", tr.From, tr.To))
			continue
		}
		byAction := next[tr.From]
		if byAction == nil {
			byAction = map[string]string{}
			next[tr.From] = byAction
		}
		if _, dup := byAction[tr.Action]; dup {
			add("workflow.transitions", fmt.Sprintf("duplicate transition for (%s, %s)", tr.From, tr.Action))
			continue
		}
		byAction[tr.Action] = tr.To
	}

	// Every permitted action on a non-terminal step needs an edge.
	for id, s := range steps {
		if s.Terminal {
			continue
		}
		for _, a := range s.Actions {
			if _, ok := next[id][a]; !ok {
				add("workflow.transitions", fmt.Sprintf("step %s has no transition for action %s", id, a))
			}
		}
	}

	g := &ValidatedGraph{start: start, steps: steps, next: next}

	// A cycle under a single repeated action label would loop forever;
	// mixed-action cycles (reject back for rework) stay legal.
	if start != "" {
		for _, action := range []string{domain.ActionApprove, domain.ActionReject, domain.ActionAuto} {
			if loop := g.actionCycle(action); loop != "" {
				add("workflow.transitions", fmt.Sprintf("action %s loops through step %s", action, loop))
			}
		}
	}

	if len(issues) > 0 {
		return nil, domain.ValidationError{Issues: issues}
	}
	return g, nil
}

// actionCycle walks edges labeled with a single action from every step
// reachable from start and returns a step on a cycle, or "".
func (g *ValidatedGraph) actionCycle(action string) string {
	for _, id := range g.reachable() {
		seen := map[string]bool{}
		cur := id
		for {
			to, ok := g.next[cur][action]
			if !ok {
				break
			}
			if seen[to] {
				return to
			}
			seen[to] = true
			cur = to
		}
	}
	return ""
}

// reachable returns all steps forward-reachable from start over any action.
func (g *ValidatedGraph) reachable() []string {
	seen := map[string]bool{g.start: true}
	queue := []string{g.start}
	var order []string
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		order = append(order, cur)
		for _, to := range g.next[cur] {
			if !seen[to] {
				seen[to] = true
				queue = append(queue, to)
			}
		}
	}
	return order
}

// Start returns the unique start step.
func (g *ValidatedGraph) Start() domain.WorkflowStep {
	return g.steps[g.start]
}

// Step returns a step by id.
func (g *ValidatedGraph) Step(id string) (domain.WorkflowStep, bool) {
	s, ok := g.steps[id]
	return s, ok
}

// Successor returns the target of (stepID, action). A miss after
// validation is a GraphIntegrityError, not a user error.
func (g *ValidatedGraph) Successor(stepID, action string) (string, error) {
	to, ok := g.next[stepID][action]
	if !ok {
		return "", domain.GraphIntegrityError{Step: stepID, Action: action}
	}
	return to, nil
}

// AutoOnly reports whether the step's only permitted action is auto.
// Such steps need no human role and the router resolves them in place.
func AutoOnly(s domain.WorkflowStep) bool {
	if len(s.Actions) == 0 {
		return false
	}
	for _, a := range s.Actions {
		if a != domain.ActionAuto {
			return false
		}
	}
	return true
}
