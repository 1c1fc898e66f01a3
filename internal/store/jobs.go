package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"researchhive/internal/logging"
	"researchhive/internal/types"
)

// allowedTransitions is the job lifecycle graph. Failed and Cancelled
// are reachable from every non-terminal state and handled separately
// in validTransition. Verifying may loop back to Searching while the
// acquisition target is unmet and iterations remain.
var allowedTransitions = map[types.JobState][]types.JobState{
	types.StatePending:      {types.StatePlanning},
	types.StatePlanning:     {types.StateSearching},
	types.StateSearching:    {types.StateVerifying},
	types.StateVerifying:    {types.StateSearching, types.StateSynthesizing},
	types.StateSynthesizing: {types.StateCompleted},
}

func validTransition(from, to types.JobState) bool {
	if from.Terminal() {
		return false
	}
	if to == types.StateFailed || to == types.StateCancelled {
		return true
	}
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func marshalJSON(v interface{}) string {
	if v == nil {
		return ""
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

func unmarshalStrings(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	return out
}

// CreateJob inserts a new job in Pending state.
func (s *SessionStore) CreateJob(job *types.ResearchJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job.State == "" {
		job.State = types.StatePending
	}
	if job.State != types.StatePending {
		return fmt.Errorf("%w: new jobs must start pending, got %q", types.ErrInvalidInput, job.State)
	}
	now := types.NowUTC()
	if job.CreatedUTC == "" {
		job.CreatedUTC = now
	}
	job.UpdatedUTC = now

	_, err := s.db.Exec(`
		INSERT INTO jobs (id, type, state, prompt, plan, search_queries, search_lanes,
			acquired_source_ids, target_source_count, max_iterations, current_iteration,
			created_at, updated_at, checkpoint_data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, string(job.Type), string(job.State), job.Prompt, job.Plan,
		marshalJSON(job.SearchQueries), marshalJSON(job.SearchLanes),
		marshalJSON(job.AcquiredSourceIDs), job.TargetSourceCount, job.MaxIterations,
		job.CurrentIteration, job.CreatedUTC, job.UpdatedUTC, job.CheckpointData)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	logging.Jobs("Created job %s (%s)", job.ID, job.Type)
	return nil
}

// UpdateJobState performs the lightweight state flip: it validates the
// transition against the row's current state, bumps updated_at, and
// appends a step record, all atomically. Fields other than state are
// untouched; use SaveJob for full persistence.
func (s *SessionStore) UpdateJobState(jobID string, to types.JobState, detail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	from, err := jobStateTx(tx, jobID)
	if err != nil {
		return err
	}
	if from.Terminal() {
		return fmt.Errorf("job %s in state %q: %w", jobID, from, types.ErrJobTerminal)
	}
	if !validTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", types.ErrInvalidTransition, from, to)
	}

	now := types.NowUTC()
	if to.Terminal() {
		_, err = tx.Exec(`UPDATE jobs SET state = ?, updated_at = ?, completed_at = ? WHERE id = ?`,
			string(to), now, now, jobID)
	} else {
		_, err = tx.Exec(`UPDATE jobs SET state = ?, updated_at = ? WHERE id = ?`,
			string(to), now, jobID)
	}
	if err != nil {
		return fmt.Errorf("update job state: %w", err)
	}
	if err := appendStepTx(tx, jobID, "state_change", detail, to, true, ""); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	logging.Jobs("Job %s: %s -> %s", jobID, from, to)
	return nil
}

// SaveJob persists every mutable field of a job. The write is rejected
// if the persisted state is terminal, or if the job's state field
// would change through an invalid transition.
func (s *SessionStore) SaveJob(job *types.ResearchJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	from, err := jobStateTx(tx, job.ID)
	if err != nil {
		return err
	}
	if from.Terminal() && from != job.State {
		return fmt.Errorf("job %s in state %q: %w", job.ID, from, types.ErrJobTerminal)
	}
	if from != job.State && !validTransition(from, job.State) {
		return fmt.Errorf("%w: %s -> %s", types.ErrInvalidTransition, from, job.State)
	}

	job.UpdatedUTC = types.NowUTC()
	if job.State.Terminal() && job.CompletedUTC == "" {
		job.CompletedUTC = job.UpdatedUTC
	}

	_, err = tx.Exec(`
		UPDATE jobs SET type = ?, state = ?, prompt = ?, plan = ?, search_queries = ?,
			search_lanes = ?, acquired_source_ids = ?, target_source_count = ?,
			max_iterations = ?, current_iteration = ?, updated_at = ?, completed_at = ?,
			error_message = ?, checkpoint_data = ?, most_supported_view = ?,
			credible_alternatives = ?, executive_summary = ?, full_report = ?,
			activity_report = ?, replay_entries = ?
		WHERE id = ?`,
		string(job.Type), string(job.State), job.Prompt, job.Plan,
		marshalJSON(job.SearchQueries), marshalJSON(job.SearchLanes),
		marshalJSON(job.AcquiredSourceIDs), job.TargetSourceCount, job.MaxIterations,
		job.CurrentIteration, job.UpdatedUTC, job.CompletedUTC, job.ErrorMessage,
		job.CheckpointData, job.MostSupportedView, job.CredibleAlternatives,
		job.ExecutiveSummary, job.FullReport, job.ActivityReport,
		marshalJSON(job.ReplayEntries), job.ID)
	if err != nil {
		return fmt.Errorf("save job: %w", err)
	}
	return tx.Commit()
}

func jobStateTx(tx *sql.Tx, jobID string) (types.JobState, error) {
	var state string
	err := tx.QueryRow(`SELECT state FROM jobs WHERE id = ?`, jobID).Scan(&state)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("job %s: %w", jobID, types.ErrNotFound)
	}
	if err != nil {
		return "", err
	}
	return types.JobState(state), nil
}

// GetJob fetches one job by id.
func (s *SessionStore) GetJob(id string) (*types.ResearchJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getJob(id)
}

func (s *SessionStore) getJob(id string) (*types.ResearchJob, error) {
	job := &types.ResearchJob{ID: id, SessionID: s.sessionID}
	var typ, state string
	var plan, queries, lanes, acquired, completed, errMsg, ckpt sql.NullString
	var msv, alts, summary, report, activity, replay sql.NullString

	err := s.db.QueryRow(`
		SELECT type, state, prompt, plan, search_queries, search_lanes, acquired_source_ids,
			target_source_count, max_iterations, current_iteration, created_at, updated_at,
			completed_at, error_message, checkpoint_data, most_supported_view,
			credible_alternatives, executive_summary, full_report, activity_report, replay_entries
		FROM jobs WHERE id = ?`, id).
		Scan(&typ, &state, &job.Prompt, &plan, &queries, &lanes, &acquired,
			&job.TargetSourceCount, &job.MaxIterations, &job.CurrentIteration,
			&job.CreatedUTC, &job.UpdatedUTC, &completed, &errMsg, &ckpt,
			&msv, &alts, &summary, &report, &activity, &replay)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("job %s: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query job: %w", err)
	}

	job.Type = types.JobType(typ)
	job.State = types.JobState(state)
	job.Plan = plan.String
	job.SearchQueries = unmarshalStrings(queries.String)
	job.SearchLanes = unmarshalStrings(lanes.String)
	job.AcquiredSourceIDs = unmarshalStrings(acquired.String)
	job.CompletedUTC = completed.String
	job.ErrorMessage = errMsg.String
	job.CheckpointData = ckpt.String
	job.MostSupportedView = msv.String
	job.CredibleAlternatives = alts.String
	job.ExecutiveSummary = summary.String
	job.FullReport = report.String
	job.ActivityReport = activity.String
	if replay.String != "" {
		_ = json.Unmarshal([]byte(replay.String), &job.ReplayEntries)
	}
	return job, nil
}

// ListJobs returns jobs newest first, optionally filtered by state.
func (s *SessionStore) ListJobs(state types.JobState) ([]types.ResearchJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q := `SELECT id FROM jobs`
	var args []interface{}
	if state != "" {
		q += ` WHERE state = ?`
		args = append(args, string(state))
	}
	q += ` ORDER BY created_at DESC, id`

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]types.ResearchJob, 0, len(ids))
	for _, id := range ids {
		job, err := s.getJob(id)
		if err != nil {
			return nil, err
		}
		out = append(out, *job)
	}
	return out, nil
}

// ResumableJobs returns non-terminal jobs that carry a checkpoint,
// oldest first. The orchestrator offers these for resume at startup.
func (s *SessionStore) ResumableJobs() ([]types.ResearchJob, error) {
	jobs, err := s.ListJobs("")
	if err != nil {
		return nil, err
	}
	var out []types.ResearchJob
	for i := len(jobs) - 1; i >= 0; i-- {
		j := jobs[i]
		if !j.State.Terminal() && j.CheckpointData != "" {
			out = append(out, j)
		}
	}
	return out, nil
}

// =============================================================================
// JOB STEPS
// =============================================================================

func appendStepTx(tx *sql.Tx, jobID, action, detail string, stateAfter types.JobState, success bool, errMsg string) error {
	var next int
	if err := tx.QueryRow(
		`SELECT COALESCE(MAX(step_number), 0) + 1 FROM job_steps WHERE job_id = ?`, jobID).Scan(&next); err != nil {
		return err
	}
	_, err := tx.Exec(`
		INSERT INTO job_steps (job_id, step_number, action, detail, state_after, timestamp, success, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		jobID, next, action, detail, string(stateAfter), types.NowUTC(), boolToInt(success), errMsg)
	if err != nil {
		return fmt.Errorf("append step: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// AppendStep records one audit entry for a job. Step numbers are
// assigned monotonically inside the transaction.
func (s *SessionStore) AppendStep(jobID, action, detail string, stateAfter types.JobState, success bool, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := appendStepTx(tx, jobID, action, detail, stateAfter, success, errMsg); err != nil {
		return err
	}
	return tx.Commit()
}

// JobSteps returns the full audit trail for a job in step order.
func (s *SessionStore) JobSteps(jobID string) ([]types.JobStep, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, step_number, action, detail, state_after, timestamp, success, error
		FROM job_steps WHERE job_id = ? ORDER BY step_number`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.JobStep
	for rows.Next() {
		st := types.JobStep{JobID: jobID}
		var detail, errMsg sql.NullString
		var success int
		var state string
		if err := rows.Scan(&st.ID, &st.StepNumber, &st.Action, &detail, &state,
			&st.TimestampUTC, &success, &errMsg); err != nil {
			return nil, err
		}
		st.Detail = detail.String
		st.StateAfter = types.JobState(state)
		st.Success = success != 0
		st.Error = errMsg.String
		out = append(out, st)
	}
	return out, rows.Err()
}
