package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"researchhive/internal/logging"
	"researchhive/internal/types"
)

// The claim ledger enforces the evidentiary contract: any claim whose
// support level is not "unverified" must name at least one citation
// that resolves, within the same job, to a live source (and chunk,
// when one is named).

// IntegrityViolation describes one claim that failed the contract
// during CheckIntegrity.
type IntegrityViolation struct {
	ClaimID string
	Reason  string
}

// AddCitation validates and inserts a citation. The referenced source,
// and chunk when set, must exist.
func (s *SessionStore) AddCitation(c *types.Citation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !c.Type.Valid() {
		return fmt.Errorf("%w: citation type %q", types.ErrInvalidInput, c.Type)
	}
	if c.JobID == "" || c.SourceID == "" {
		return fmt.Errorf("%w: citation requires job_id and source_id", types.ErrInvalidInput)
	}
	if c.CreatedUTC == "" {
		c.CreatedUTC = types.NowUTC()
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var n int
	if err := tx.QueryRow(`SELECT COUNT(1) FROM sources WHERE id = ?`, c.SourceID).Scan(&n); err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("citation source %s: %w", c.SourceID, types.ErrNotFound)
	}
	if c.ChunkID != "" {
		if err := tx.QueryRow(`SELECT COUNT(1) FROM chunks WHERE id = ?`, c.ChunkID).Scan(&n); err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("citation chunk %s: %w", c.ChunkID, types.ErrNotFound)
		}
	}

	_, err = tx.Exec(`
		INSERT INTO citations (id, job_id, type, source_id, chunk_id, start_offset, end_offset,
			page, bounding_box, excerpt, label, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.JobID, string(c.Type), c.SourceID, c.ChunkID, c.StartOffset, c.EndOffset,
		c.Page, c.BoundingBox, c.Excerpt, c.Label, c.CreatedUTC)
	if err != nil {
		return fmt.Errorf("insert citation: %w", err)
	}
	return tx.Commit()
}

// GetCitation fetches one citation by id.
func (s *SessionStore) GetCitation(id string) (*types.Citation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c := &types.Citation{ID: id, SessionID: s.sessionID}
	var typ string
	var chunkID, bbox sql.NullString
	err := s.db.QueryRow(`
		SELECT job_id, type, source_id, chunk_id, start_offset, end_offset, page,
			bounding_box, excerpt, label, created_at
		FROM citations WHERE id = ?`, id).
		Scan(&c.JobID, &typ, &c.SourceID, &chunkID, &c.StartOffset, &c.EndOffset,
			&c.Page, &bbox, &c.Excerpt, &c.Label, &c.CreatedUTC)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("citation %s: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query citation: %w", err)
	}
	c.Type = types.SourceType(typ)
	c.ChunkID = chunkID.String
	c.BoundingBox = bbox.String
	return c, nil
}

// CitationsForJob returns all citations recorded by a job.
func (s *SessionStore) CitationsForJob(jobID string) ([]types.Citation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, type, source_id, chunk_id, start_offset, end_offset, page,
			bounding_box, excerpt, label, created_at
		FROM citations WHERE job_id = ? ORDER BY created_at, id`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Citation
	for rows.Next() {
		c := types.Citation{SessionID: s.sessionID, JobID: jobID}
		var typ string
		var chunkID, bbox sql.NullString
		if err := rows.Scan(&c.ID, &typ, &c.SourceID, &chunkID, &c.StartOffset,
			&c.EndOffset, &c.Page, &bbox, &c.Excerpt, &c.Label, &c.CreatedUTC); err != nil {
			return nil, err
		}
		c.Type = types.SourceType(typ)
		c.ChunkID = chunkID.String
		c.BoundingBox = bbox.String
		out = append(out, c)
	}
	return out, rows.Err()
}

// citationResolvesTx reports whether a citation id exists for the job
// and still points at a live source (and chunk, when named).
func citationResolvesTx(tx *sql.Tx, jobID, citationID string) (bool, string) {
	var sourceID string
	var chunkID sql.NullString
	err := tx.QueryRow(`SELECT source_id, chunk_id FROM citations WHERE id = ? AND job_id = ?`,
		citationID, jobID).Scan(&sourceID, &chunkID)
	if err == sql.ErrNoRows {
		return false, fmt.Sprintf("citation %s not found in job", citationID)
	}
	if err != nil {
		return false, err.Error()
	}
	var n int
	if err := tx.QueryRow(`SELECT COUNT(1) FROM sources WHERE id = ?`, sourceID).Scan(&n); err != nil || n == 0 {
		return false, fmt.Sprintf("citation %s source %s missing", citationID, sourceID)
	}
	if chunkID.String != "" {
		if err := tx.QueryRow(`SELECT COUNT(1) FROM chunks WHERE id = ?`, chunkID.String).Scan(&n); err != nil || n == 0 {
			return false, fmt.Sprintf("citation %s chunk %s missing", citationID, chunkID.String)
		}
	}
	return true, ""
}

// AddClaims validates and inserts a batch of ledger entries in one
// transaction. A claim above unverified with no resolving citation
// rejects the whole batch.
func (s *SessionStore) AddClaims(entries []types.ClaimLedgerEntry) error {
	if len(entries) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for i := range entries {
		e := &entries[i]
		if !e.Support.Valid() {
			return fmt.Errorf("%w: support level %q", types.ErrInvalidInput, e.Support)
		}
		if e.CreatedUTC == "" {
			e.CreatedUTC = types.NowUTC()
		}
		if e.Support != types.SupportUnverified {
			resolved := false
			for _, cid := range e.CitationIDs {
				if ok, _ := citationResolvesTx(tx, e.JobID, cid); ok {
					resolved = true
					break
				}
			}
			if !resolved {
				return fmt.Errorf("claim %s (%s): %w", e.ID, e.Support, types.ErrIntegrity)
			}
		}
		_, err := tx.Exec(`
			INSERT INTO claims (id, job_id, claim, support, citation_ids, explanation, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.JobID, e.Claim, string(e.Support), marshalJSON(e.CitationIDs),
			e.Explanation, e.CreatedUTC)
		if err != nil {
			return fmt.Errorf("insert claim %s: %w", e.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	logging.Ledger("Recorded %d claims for job %s", len(entries), entries[0].JobID)
	return nil
}

// ClaimsForJob returns a job's ledger entries in creation order.
func (s *SessionStore) ClaimsForJob(jobID string) ([]types.ClaimLedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, claim, support, citation_ids, explanation, created_at
		FROM claims WHERE job_id = ? ORDER BY created_at, id`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.ClaimLedgerEntry
	for rows.Next() {
		e := types.ClaimLedgerEntry{JobID: jobID}
		var support string
		var cids, expl sql.NullString
		if err := rows.Scan(&e.ID, &e.Claim, &support, &cids, &expl, &e.CreatedUTC); err != nil {
			return nil, err
		}
		e.Support = types.SupportLevel(support)
		e.Explanation = expl.String
		if cids.String != "" {
			_ = json.Unmarshal([]byte(cids.String), &e.CitationIDs)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CheckIntegrity re-verifies the evidentiary contract for a job's
// ledger. Claims whose citations no longer resolve are downgraded to
// unverified in place, and each downgrade is reported. The ledger is
// never deleted from, only downgraded.
func (s *SessionStore) CheckIntegrity(jobID string) ([]IntegrityViolation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.Query(`
		SELECT id, support, citation_ids FROM claims WHERE job_id = ? AND support != ?`,
		jobID, string(types.SupportUnverified))
	if err != nil {
		return nil, err
	}

	type pending struct {
		id     string
		reason string
	}
	var downgrades []pending
	for rows.Next() {
		var id, support string
		var cids sql.NullString
		if err := rows.Scan(&id, &support, &cids); err != nil {
			rows.Close()
			return nil, err
		}
		var citationIDs []string
		if cids.String != "" {
			_ = json.Unmarshal([]byte(cids.String), &citationIDs)
		}
		resolved := false
		reason := "no citations listed"
		for _, cid := range citationIDs {
			ok, why := citationResolvesTx(tx, jobID, cid)
			if ok {
				resolved = true
				break
			}
			reason = why
		}
		if !resolved {
			downgrades = append(downgrades, pending{id: id, reason: reason})
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	var report []IntegrityViolation
	for _, d := range downgrades {
		if _, err := tx.Exec(`UPDATE claims SET support = ? WHERE id = ?`,
			string(types.SupportUnverified), d.id); err != nil {
			return nil, fmt.Errorf("downgrade claim %s: %w", d.id, err)
		}
		report = append(report, IntegrityViolation{ClaimID: d.id, Reason: d.reason})
		logging.LedgerWarn("Claim %s downgraded to unverified: %s", d.id, d.reason)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return report, nil
}
