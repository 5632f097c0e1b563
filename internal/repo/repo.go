package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"formline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// ErrStale signals a guarded update that matched zero rows because the
// caller's view of the row was out of date.
var ErrStale = errors.New("stale revision")

// --- forms ---

func (r Repo) InsertForm(ctx context.Context, tx *sql.Tx, f domain.Form) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO forms(id,owner_id,current_version,created_at) VALUES (?,?,?,?)`,
		f.ID, f.OwnerID, nullableIntPtr(f.CurrentVersion), f.CreatedAt)
	return err
}

func (r Repo) GetForm(ctx context.Context, id string) (domain.Form, error) {
	return scanForm(r.DB.QueryRowContext(ctx, `SELECT id,owner_id,current_version,created_at FROM forms WHERE id=?`, id))
}

func (r Repo) GetFormTx(ctx context.Context, tx *sql.Tx, id string) (domain.Form, error) {
	return scanForm(tx.QueryRowContext(ctx, `SELECT id,owner_id,current_version,created_at FROM forms WHERE id=?`, id))
}

func scanForm(row *sql.Row) (domain.Form, error) {
	var f domain.Form
	var current sql.NullInt64
	err := row.Scan(&f.ID, &f.OwnerID, &current, &f.CreatedAt)
	if err == sql.ErrNoRows {
		return f, ErrNotFound
	}
	if err != nil {
		return f, err
	}
	if current.Valid {
		v := int(current.Int64)
		f.CurrentVersion = &v
	}
	return f, nil
}

func (r Repo) ListForms(ctx context.Context) ([]domain.Form, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,owner_id,current_version,created_at FROM forms ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Form
	for rows.Next() {
		var f domain.Form
		var current sql.NullInt64
		if err := rows.Scan(&f.ID, &f.OwnerID, &current, &f.CreatedAt); err != nil {
			return nil, err
		}
		if current.Valid {
			v := int(current.Int64)
			f.CurrentVersion = &v
		}
		res = append(res, f)
	}
	return res, rows.Err()
}

// SetCurrentVersion advances the form's published pointer, guarded by the
// previous value the caller observed. Zero matched rows means either the
// form is gone or another publish won the race.
func (r Repo) SetCurrentVersion(ctx context.Context, tx *sql.Tx, formID string, next, prev int) error {
	res, err := tx.ExecContext(ctx, `UPDATE forms SET current_version=? WHERE id=? AND COALESCE(current_version,0)=?`,
		next, formID, prev)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrStale
	}
	return nil
}

func (r Repo) DeleteForm(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM forms WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- form versions ---

func (r Repo) InsertVersion(ctx context.Context, tx *sql.Tx, v domain.FormVersion) error {
	fieldsJSON, settingsJSON, workflowJSON, err := encodeVersionContent(v)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO form_versions(id,form_id,version_number,state,fields_json,settings_json,workflow_json,note,created_at,published_at)
VALUES (?,?,?,?,?,?,?,?,?,?)`,
		v.ID, v.FormID, nullableInt(v.Version), v.State, fieldsJSON, settingsJSON, workflowJSON, nullable(v.Note), v.CreatedAt, nullable(v.PublishedAt))
	return err
}

// UpdateDraftContent rewrites a draft row's fields, settings and workflow
// snapshot. Published rows are never passed here.
func (r Repo) UpdateDraftContent(ctx context.Context, tx *sql.Tx, v domain.FormVersion) error {
	fieldsJSON, settingsJSON, workflowJSON, err := encodeVersionContent(v)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE form_versions SET fields_json=?, settings_json=?, workflow_json=? WHERE id=? AND state=?`,
		fieldsJSON, settingsJSON, workflowJSON, v.ID, domain.VersionDraft)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// PublishDraft assigns the version number and flips the row to published.
func (r Repo) PublishDraft(ctx context.Context, tx *sql.Tx, id string, version int, note, publishedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE form_versions SET version_number=?, state=?, note=?, published_at=? WHERE id=? AND state=?`,
		version, domain.VersionPublished, nullable(note), publishedAt, id, domain.VersionDraft)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetDraft(ctx context.Context, formID string) (domain.FormVersion, error) {
	return scanVersion(r.DB.QueryRowContext(ctx, versionSelect+` WHERE form_id=? AND state=?`, formID, domain.VersionDraft))
}

func (r Repo) GetDraftTx(ctx context.Context, tx *sql.Tx, formID string) (domain.FormVersion, error) {
	return scanVersion(tx.QueryRowContext(ctx, versionSelect+` WHERE form_id=? AND state=?`, formID, domain.VersionDraft))
}

func (r Repo) GetVersion(ctx context.Context, formID string, version int) (domain.FormVersion, error) {
	return scanVersion(r.DB.QueryRowContext(ctx, versionSelect+` WHERE form_id=? AND version_number=?`, formID, version))
}

func (r Repo) GetVersionTx(ctx context.Context, tx *sql.Tx, formID string, version int) (domain.FormVersion, error) {
	return scanVersion(tx.QueryRowContext(ctx, versionSelect+` WHERE form_id=? AND version_number=?`, formID, version))
}

func (r Repo) ListVersions(ctx context.Context, formID string) ([]domain.FormVersion, error) {
	rows, err := r.DB.QueryContext(ctx, versionSelect+` WHERE form_id=? ORDER BY version_number IS NULL, version_number DESC`, formID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.FormVersion
	for rows.Next() {
		v, err := scanVersionRows(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, rows.Err()
}

// MaxPublishedVersion returns the highest assigned version number, 0 if none.
func (r Repo) MaxPublishedVersion(ctx context.Context, tx *sql.Tx, formID string) (int, error) {
	var max int
	err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(version_number),0) FROM form_versions WHERE form_id=?`, formID).Scan(&max)
	return max, err
}

const versionSelect = `SELECT id,form_id,version_number,state,fields_json,settings_json,workflow_json,note,created_at,published_at FROM form_versions`

type versionScanner interface {
	Scan(dest ...any) error
}

func scanVersion(row *sql.Row) (domain.FormVersion, error) {
	v, err := scanVersionFrom(row)
	if err == sql.ErrNoRows {
		return v, ErrNotFound
	}
	return v, err
}

func scanVersionRows(rows *sql.Rows) (domain.FormVersion, error) {
	return scanVersionFrom(rows)
}

func scanVersionFrom(s versionScanner) (domain.FormVersion, error) {
	var v domain.FormVersion
	var version sql.NullInt64
	var workflowJSON, note, publishedAt sql.NullString
	var fieldsJSON, settingsJSON string
	err := s.Scan(&v.ID, &v.FormID, &version, &v.State, &fieldsJSON, &settingsJSON, &workflowJSON, &note, &v.CreatedAt, &publishedAt)
	if err != nil {
		return v, err
	}
	if version.Valid {
		v.Version = int(version.Int64)
	}
	if err := json.Unmarshal([]byte(fieldsJSON), &v.Fields); err != nil {
		return v, fmt.Errorf("decode fields: %w", err)
	}
	if err := json.Unmarshal([]byte(settingsJSON), &v.Settings); err != nil {
		return v, fmt.Errorf("decode settings: %w", err)
	}
	if workflowJSON.Valid && workflowJSON.String != "" {
		var def domain.WorkflowDefinition
		if err := json.Unmarshal([]byte(workflowJSON.String), &def); err != nil {
			return v, fmt.Errorf("decode workflow: %w", err)
		}
		v.Workflow = &def
	}
	if note.Valid {
		v.Note = note.String
	}
	if publishedAt.Valid {
		v.PublishedAt = publishedAt.String
	}
	return v, nil
}

func encodeVersionContent(v domain.FormVersion) (fieldsJSON, settingsJSON string, workflowJSON any, err error) {
	fields := v.Fields
	if fields == nil {
		fields = []domain.FormField{}
	}
	fb, err := json.Marshal(fields)
	if err != nil {
		return "", "", nil, err
	}
	sb, err := json.Marshal(v.Settings)
	if err != nil {
		return "", "", nil, err
	}
	if v.Workflow == nil {
		return string(fb), string(sb), nil, nil
	}
	wb, err := json.Marshal(v.Workflow)
	if err != nil {
		return "", "", nil, err
	}
	return string(fb), string(sb), string(wb), nil
}

// --- workflow definitions (authoring state, one per form) ---

func (r Repo) UpsertWorkflowDefinition(ctx context.Context, tx *sql.Tx, formID string, def domain.WorkflowDefinition, now string) error {
	steps, err := json.Marshal(def.Steps)
	if err != nil {
		return err
	}
	transitions, err := json.Marshal(def.Transitions)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO workflow_definitions(form_id,steps_json,transitions_json,updated_at) VALUES (?,?,?,?)
ON CONFLICT(form_id) DO UPDATE SET steps_json=excluded.steps_json, transitions_json=excluded.transitions_json, updated_at=excluded.updated_at`,
		formID, string(steps), string(transitions), now)
	return err
}

func (r Repo) GetWorkflowDefinition(ctx context.Context, formID string) (domain.WorkflowDefinition, error) {
	var def domain.WorkflowDefinition
	var steps, transitions string
	err := r.DB.QueryRowContext(ctx, `SELECT steps_json,transitions_json FROM workflow_definitions WHERE form_id=?`, formID).
		Scan(&steps, &transitions)
	if err == sql.ErrNoRows {
		return def, ErrNotFound
	}
	if err != nil {
		return def, err
	}
	if err := json.Unmarshal([]byte(steps), &def.Steps); err != nil {
		return def, fmt.Errorf("decode steps: %w", err)
	}
	if err := json.Unmarshal([]byte(transitions), &def.Transitions); err != nil {
		return def, fmt.Errorf("decode transitions: %w", err)
	}
	return def, nil
}

func (r Repo) DeleteWorkflowDefinition(ctx context.Context, tx *sql.Tx, formID string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM workflow_definitions WHERE form_id=?`, formID)
	return err
}

// --- submissions ---

func (r Repo) InsertSubmission(ctx context.Context, tx *sql.Tx, s domain.Submission) error {
	payload, err := json.Marshal(s.Payload)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO submissions(id,form_id,version_number,payload_json,created_by,created_at) VALUES (?,?,?,?,?,?)`,
		s.ID, s.FormID, s.Version, string(payload), nullable(s.CreatedBy), s.CreatedAt)
	return err
}

func (r Repo) GetSubmission(ctx context.Context, id string) (domain.Submission, error) {
	var s domain.Submission
	var payload string
	var createdBy sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,form_id,version_number,payload_json,created_by,created_at FROM submissions WHERE id=?`, id).
		Scan(&s.ID, &s.FormID, &s.Version, &payload, &createdBy, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	if createdBy.Valid {
		s.CreatedBy = createdBy.String
	}
	if err := json.Unmarshal([]byte(payload), &s.Payload); err != nil {
		return s, fmt.Errorf("decode payload: %w", err)
	}
	return s, nil
}

type SubmissionFilters struct {
	FormID          string
	Status          string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListSubmissions(ctx context.Context, f SubmissionFilters) ([]domain.Submission, error) {
	clauses := []string{"s.form_id=?"}
	args := []any{f.FormID}
	if f.Status != "" {
		clauses = append(clauses, "i.status=?")
		args = append(args, f.Status)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(s.created_at < ? OR (s.created_at = ? AND s.id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	query := `SELECT s.id,s.form_id,s.version_number,s.payload_json,s.created_by,s.created_at
FROM submissions s JOIN workflow_instances i ON i.submission_id=s.id
WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY s.created_at DESC, s.id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Submission
	for rows.Next() {
		var s domain.Submission
		var payload string
		var createdBy sql.NullString
		if err := rows.Scan(&s.ID, &s.FormID, &s.Version, &payload, &createdBy, &s.CreatedAt); err != nil {
			return nil, err
		}
		if createdBy.Valid {
			s.CreatedBy = createdBy.String
		}
		if err := json.Unmarshal([]byte(payload), &s.Payload); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// CountSubmissionsByStatus powers the dashboard aggregates.
func (r Repo) CountSubmissionsByStatus(ctx context.Context, formID string) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT i.status, count(*)
FROM submissions s JOIN workflow_instances i ON i.submission_id=s.id
WHERE s.form_id=? GROUP BY i.status`, formID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, rows.Err()
}

// --- workflow instances ---

func (r Repo) InsertInstance(ctx context.Context, tx *sql.Tx, inst domain.WorkflowInstance) error {
	history, err := marshalHistory(inst.History)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO workflow_instances(submission_id,current_step,status,history_json,revision,created_at,updated_at)
VALUES (?,?,?,?,?,?,?)`,
		inst.SubmissionID, nullable(inst.CurrentStep), inst.Status, history, inst.Revision, inst.CreatedAt, inst.UpdatedAt)
	return err
}

func (r Repo) GetInstance(ctx context.Context, submissionID string) (domain.WorkflowInstance, error) {
	var inst domain.WorkflowInstance
	var currentStep sql.NullString
	var history string
	err := r.DB.QueryRowContext(ctx, `SELECT submission_id,current_step,status,history_json,revision,created_at,updated_at FROM workflow_instances WHERE submission_id=?`, submissionID).
		Scan(&inst.SubmissionID, &currentStep, &inst.Status, &history, &inst.Revision, &inst.CreatedAt, &inst.UpdatedAt)
	if err == sql.ErrNoRows {
		return inst, ErrNotFound
	}
	if err != nil {
		return inst, err
	}
	if currentStep.Valid {
		inst.CurrentStep = currentStep.String
	}
	if err := json.Unmarshal([]byte(history), &inst.History); err != nil {
		return inst, fmt.Errorf("decode history: %w", err)
	}
	return inst, nil
}

// UpdateInstance persists an advanced instance, guarded by the revision
// the caller read. The revision bump and the guard share one statement so
// two writers racing on the same prior revision cannot both win.
func (r Repo) UpdateInstance(ctx context.Context, tx *sql.Tx, inst domain.WorkflowInstance, prevRevision int) error {
	history, err := marshalHistory(inst.History)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE workflow_instances SET current_step=?, status=?, history_json=?, revision=?, updated_at=?
WHERE submission_id=? AND revision=?`,
		nullable(inst.CurrentStep), inst.Status, history, prevRevision+1, inst.UpdatedAt, inst.SubmissionID, prevRevision)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrStale
	}
	return nil
}

func marshalHistory(h []domain.ApprovalAction) (string, error) {
	if h == nil {
		h = []domain.ApprovalAction{}
	}
	b, err := json.Marshal(h)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// --- events ---

func (r Repo) LatestEvents(ctx context.Context, limit int, formID, evtType, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if formID != "" {
		clauses = append(clauses, "form_id=?")
		args = append(args, formID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,form_id,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64, formID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses := []string{"1=1"}
	var args []any
	if formID != "" {
		clauses = append(clauses, "form_id=?")
		args = append(args, formID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id>?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,form_id,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id ASC LIMIT ?`, where)
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var formID, entityID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &formID, &e.EntityKind, &entityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if formID.Valid {
			e.FormID = formID.String
		}
		if entityID.Valid {
			e.EntityID = entityID.String
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestEventID returns the most recent event ID, optionally per form.
func (r Repo) LatestEventID(ctx context.Context, formID string) (int64, error) {
	query := `SELECT COALESCE(MAX(id),0) FROM events`
	var args []any
	if formID != "" {
		query += ` WHERE form_id=?`
		args = append(args, formID)
	}
	var id int64
	if err := r.DB.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// --- helpers ---

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableInt(v int) any {
	if v == 0 {
		return nil
	}
	return v
}

func nullableIntPtr(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}
