package research

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"researchhive/internal/config"
	"researchhive/internal/llm"
	"researchhive/internal/logging"
	"researchhive/internal/retrieval"
	"researchhive/internal/store"
	"researchhive/internal/types"
)

// JobStore is the slice of the session store the orchestrator drives.
// *store.SessionStore implements it.
type JobStore interface {
	CreateJob(job *types.ResearchJob) error
	GetJob(id string) (*types.ResearchJob, error)
	UpdateJobState(jobID string, to types.JobState, detail string) error
	SaveJob(job *types.ResearchJob) error
	AppendStep(jobID, action, detail string, stateAfter types.JobState, success bool, errMsg string) error
	JobSteps(jobID string) ([]types.JobStep, error)
	AddCitation(c *types.Citation) error
	AddClaims(entries []types.ClaimLedgerEntry) error
	CheckIntegrity(jobID string) ([]store.IntegrityViolation, error)
	GetChunk(id string) (*types.Chunk, error)
}

// Completer issues LLM calls. *llm.Router implements it.
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (*llm.Response, error)
}

// Orchestrator runs research jobs end to end.
type Orchestrator struct {
	store     JobStore
	retriever *retrieval.Engine
	completer Completer
	acquirer  SourceAcquirer
	cfg       config.ResearchConfig
}

// NewOrchestrator wires the phase dependencies together.
func NewOrchestrator(st JobStore, retriever *retrieval.Engine, completer Completer, acquirer SourceAcquirer, cfg config.ResearchConfig) *Orchestrator {
	return &Orchestrator{store: st, retriever: retriever, completer: completer, acquirer: acquirer, cfg: cfg}
}

// Submit creates a pending job for the prompt. Run executes it.
func (o *Orchestrator) Submit(sessionID, prompt string, jobType types.JobType) (*types.ResearchJob, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, fmt.Errorf("%w: empty prompt", types.ErrInvalidInput)
	}
	if jobType == "" {
		jobType = types.JobResearch
	}
	job := &types.ResearchJob{
		ID:                uuid.NewString(),
		SessionID:         sessionID,
		Type:              jobType,
		State:             types.StatePending,
		Prompt:            prompt,
		TargetSourceCount: o.cfg.TargetSourceCount,
		MaxIterations:     o.cfg.MaxIterations,
	}
	if err := o.store.CreateJob(job); err != nil {
		return nil, err
	}
	logging.Jobs("submitted job %s (%s)", job.ID, jobType)
	return job, nil
}

// Run drives a pending job through every phase until it is terminal.
// The returned error reflects why the run stopped; the job row itself
// always records the outcome.
func (o *Orchestrator) Run(ctx context.Context, jobID string) error {
	job, err := o.store.GetJob(jobID)
	if err != nil {
		return err
	}
	if job.State.Terminal() {
		return fmt.Errorf("%w: job %s is %s", types.ErrJobTerminal, jobID, job.State)
	}
	if job.State != types.StatePending {
		return fmt.Errorf("%w: job %s is %s, use Resume", types.ErrInvalidInput, jobID, job.State)
	}

	if err := o.transition(job, types.StatePlanning, "run started"); err != nil {
		return err
	}
	return o.runFrom(ctx, job, "planning")
}

// Resume continues a checkpointed job after a restart. The checkpoint
// names the next phase; at most that one phase is re-executed. A job
// with a checkpoint never re-enters Pending.
func (o *Orchestrator) Resume(ctx context.Context, jobID string) error {
	job, err := o.store.GetJob(jobID)
	if err != nil {
		return err
	}
	if job.State.Terminal() {
		return fmt.Errorf("%w: job %s is %s", types.ErrJobTerminal, jobID, job.State)
	}

	cp, err := DecodeCheckpoint(job.CheckpointData)
	if err != nil {
		return err
	}

	// Restore the cursor into the in-memory job; the stored row may be
	// mid-phase stale, the checkpoint is the committed truth.
	job.Plan = cp.Plan
	if len(cp.Queries) > 0 {
		job.SearchQueries = cp.Queries
	}
	if len(cp.SourceIDs) > 0 {
		job.AcquiredSourceIDs = cp.SourceIDs
	}
	job.CurrentIteration = cp.Iteration

	target := checkpointPhases[cp.Phase]
	if job.State != target {
		if err := o.transitionTo(job, target); err != nil {
			return err
		}
	}
	if err := o.store.AppendStep(job.ID, "resume", fmt.Sprintf("resuming at %s", cp.Phase), job.State, true, ""); err != nil {
		return err
	}
	logging.Jobs("resuming job %s at %s (iteration %d, %d sources)", job.ID, cp.Phase, cp.Iteration, len(cp.SourceIDs))
	return o.runFrom(ctx, job, cp.Phase)
}

// Cancel marks a non-terminal job cancelled. Running jobs also observe
// ctx cancellation between phases; this handles jobs with no live run.
func (o *Orchestrator) Cancel(jobID string) error {
	return o.store.UpdateJobState(jobID, types.StateCancelled, "cancelled by caller")
}

func (o *Orchestrator) runFrom(ctx context.Context, job *types.ResearchJob, phase string) error {
	type phaseFunc struct {
		name string
		run  func(context.Context, *types.ResearchJob) error
	}
	pipeline := []phaseFunc{
		{"planning", o.plan},
		{"searching", o.searchLoop},
		{"synthesizing", o.synthesize},
	}
	// The searching phase owns the Searching/Verifying loop, so a
	// verifying checkpoint re-enters it.
	if phase == "verifying" {
		phase = "searching"
	}

	started := false
	for _, p := range pipeline {
		if !started && p.name != phase {
			continue
		}
		started = true

		if err := ctx.Err(); err != nil {
			return o.cancelJob(job, err)
		}

		pctx := ctx
		if o.cfg.PhaseTimeout > 0 {
			var cancel context.CancelFunc
			pctx, cancel = context.WithTimeout(ctx, o.cfg.PhaseTimeout)
			defer cancel()
		}
		if err := p.run(pctx, job); err != nil {
			if errors.Is(err, context.Canceled) && ctx.Err() != nil {
				return o.cancelJob(job, err)
			}
			return o.failJob(job, p.name, err)
		}
	}
	return nil
}

// plan asks the model for a research plan and search queries, then
// checkpoints into searching.
func (o *Orchestrator) plan(ctx context.Context, job *types.ResearchJob) error {
	resp, err := o.completer.Complete(ctx, llm.Request{
		Tier:   llm.TierDefault,
		System: "You are a research planner. Produce a short plan, then a line QUERIES: followed by one search query per line, each starting with \"- \".",
		Prompt: job.Prompt,
	})
	if err != nil {
		return fmt.Errorf("planning call: %w", err)
	}

	plan, queries := parsePlan(resp.Text)
	if len(queries) == 0 {
		// A plan with no usable queries still leaves the prompt itself
		// as a lane.
		queries = []string{job.Prompt}
	}
	job.Plan = plan
	job.SearchQueries = queries
	job.SearchLanes = queries

	if err := o.store.AppendStep(job.ID, "plan", fmt.Sprintf("%d search queries", len(queries)), types.StatePlanning, true, ""); err != nil {
		return err
	}
	if err := o.checkpoint(job, "searching"); err != nil {
		return err
	}
	return o.transition(job, types.StateSearching, "plan complete")
}

// searchLoop alternates Searching and Verifying until enough sources
// are acquired or the iteration budget runs out.
func (o *Orchestrator) searchLoop(ctx context.Context, job *types.ResearchJob) error {
	acquired := make(map[string]bool, len(job.AcquiredSourceIDs))
	for _, id := range job.AcquiredSourceIDs {
		acquired[id] = true
	}

	for job.CurrentIteration < job.MaxIterations && len(job.AcquiredSourceIDs) < job.TargetSourceCount {
		if err := ctx.Err(); err != nil {
			return err
		}
		job.CurrentIteration++

		want := job.TargetSourceCount - len(job.AcquiredSourceIDs)
		for _, query := range job.SearchQueries {
			if err := ctx.Err(); err != nil {
				return err
			}
			if len(job.AcquiredSourceIDs) >= job.TargetSourceCount {
				break
			}
			ids, err := o.acquirer.Acquire(ctx, job.SessionID, query, want)
			if err != nil {
				o.store.AppendStep(job.ID, "search", query, types.StateSearching, false, err.Error())
				logging.JobsError("search %q failed: %v", query, err)
				continue
			}
			fresh := 0
			for _, id := range ids {
				if !acquired[id] {
					acquired[id] = true
					job.AcquiredSourceIDs = append(job.AcquiredSourceIDs, id)
					fresh++
				}
			}
			if err := o.store.AppendStep(job.ID, "search",
				fmt.Sprintf("%q acquired %d sources", query, fresh), types.StateSearching, true, ""); err != nil {
				return err
			}
		}

		if err := o.checkpoint(job, "verifying"); err != nil {
			return err
		}
		if err := o.transition(job, types.StateVerifying, fmt.Sprintf("iteration %d", job.CurrentIteration)); err != nil {
			return err
		}
		if err := o.verify(ctx, job); err != nil {
			return err
		}

		if len(job.AcquiredSourceIDs) >= job.TargetSourceCount {
			break
		}
		if job.CurrentIteration < job.MaxIterations {
			if err := o.transition(job, types.StateSearching,
				fmt.Sprintf("%d/%d sources, continuing", len(job.AcquiredSourceIDs), job.TargetSourceCount)); err != nil {
				return err
			}
			if err := o.checkpoint(job, "searching"); err != nil {
				return err
			}
		}
	}

	if len(job.AcquiredSourceIDs) < job.TargetSourceCount {
		// Best effort: proceed with fewer sources, but record the
		// shortfall in the audit trail.
		if err := o.store.AppendStep(job.ID, "search_shortfall",
			fmt.Sprintf("proceeding with %d of %d target sources", len(job.AcquiredSourceIDs), job.TargetSourceCount),
			types.StateVerifying, true, ""); err != nil {
			return err
		}
	}

	if err := o.checkpoint(job, "synthesizing"); err != nil {
		return err
	}
	return o.transition(job, types.StateSynthesizing, "evidence gathering complete")
}

// verify reviews the freshest evidence against the prompt with the
// cheap model tier and may add follow-up queries for the next
// iteration.
func (o *Orchestrator) verify(ctx context.Context, job *types.ResearchJob) error {
	hits, err := o.retriever.Search(ctx, job.Prompt, retrieval.Options{TopK: 5})
	if err != nil {
		return fmt.Errorf("verification retrieval: %w", err)
	}
	if len(hits) == 0 {
		return o.store.AppendStep(job.ID, "verify", "no evidence retrieved yet", types.StateVerifying, true, "")
	}

	var evidence strings.Builder
	for i, h := range hits {
		fmt.Fprintf(&evidence, "[%d] %s\n", i+1, h.Chunk.Text)
	}
	resp, err := o.completer.Complete(ctx, llm.Request{
		Tier:   llm.TierMini,
		System: "Review the evidence for coverage of the question. If coverage is thin, list follow-up search queries one per line starting with \"- \". Otherwise answer COVERED.",
		Prompt: fmt.Sprintf("Question: %s\n\nEvidence:\n%s", job.Prompt, evidence.String()),
	})
	if err != nil {
		return fmt.Errorf("verification call: %w", err)
	}

	followups := parseQueryLines(resp.Text)
	if len(followups) > 0 {
		job.SearchQueries = mergeQueries(job.SearchQueries, followups)
	}
	return o.store.AppendStep(job.ID, "verify",
		fmt.Sprintf("%d chunks reviewed, %d follow-up queries", len(hits), len(followups)),
		types.StateVerifying, true, "")
}

// synthesize produces the report, records citations and claims, runs
// the integrity check, and completes the job.
func (o *Orchestrator) synthesize(ctx context.Context, job *types.ResearchJob) error {
	hits, err := o.retriever.Search(ctx, job.Prompt, retrieval.Options{TopK: 10})
	if err != nil && len(hits) == 0 {
		logging.JobsError("synthesis retrieval failed for %s: %v", job.ID, err)
	}

	citationIDs := make([]string, 0, len(hits))
	var evidence strings.Builder
	for i, h := range hits {
		cit := &types.Citation{
			ID:          uuid.NewString(),
			SessionID:   job.SessionID,
			JobID:       job.ID,
			Type:        h.Chunk.SourceType,
			SourceID:    h.Chunk.SourceID,
			ChunkID:     h.Chunk.ID,
			StartOffset: h.Chunk.StartOffset,
			EndOffset:   h.Chunk.EndOffset,
			Excerpt:     excerpt(h.Chunk.Text, 280),
			Label:       fmt.Sprintf("[%d]", i+1),
		}
		if err := o.store.AddCitation(cit); err != nil {
			return fmt.Errorf("record citation: %w", err)
		}
		citationIDs = append(citationIDs, cit.ID)
		fmt.Fprintf(&evidence, "[%d] %s\n", i+1, cit.Excerpt)
	}

	resp, err := o.completer.Complete(ctx, llm.Request{
		Tier: llm.TierFull,
		System: "Write a cited research report. Sections: MOST SUPPORTED VIEW, CREDIBLE ALTERNATIVES, " +
			"EXECUTIVE SUMMARY, then FINDINGS with one claim per line starting with \"- \", each " +
			"referencing evidence labels like [1].",
		Prompt: fmt.Sprintf("Question: %s\n\nEvidence:\n%s", job.Prompt, evidence.String()),
	})
	if err != nil {
		return fmt.Errorf("synthesis call: %w", err)
	}
	if resp.Truncated {
		logging.JobsDebug("job %s: synthesis hit the output token limit after %dms", job.ID, resp.DurationMs)
		if err := o.store.AppendStep(job.ID, "synthesize_truncated",
			fmt.Sprintf("report cut off at the token limit (%s)", resp.Model),
			types.StateSynthesizing, true, ""); err != nil {
			return err
		}
	}

	report := parseReport(resp.Text)
	job.FullReport = resp.Text
	job.MostSupportedView = report.mostSupported
	job.CredibleAlternatives = report.alternatives
	job.ExecutiveSummary = report.summary

	claims := buildClaims(job.ID, report.findings, citationIDs)
	if len(claims) > 0 {
		if err := o.store.AddClaims(claims); err != nil {
			return fmt.Errorf("record claims: %w", err)
		}
	}
	if err := o.store.AppendStep(job.ID, "synthesize",
		fmt.Sprintf("%d claims, %d citations", len(claims), len(citationIDs)),
		types.StateSynthesizing, true, ""); err != nil {
		return err
	}

	violations, err := o.store.CheckIntegrity(job.ID)
	if err != nil {
		return fmt.Errorf("integrity check: %w", err)
	}
	if len(violations) > 0 {
		logging.LedgerWarn("job %s: %d claims downgraded at finalization", job.ID, len(violations))
		o.store.AppendStep(job.ID, "integrity",
			fmt.Sprintf("%d claims downgraded to unverified", len(violations)),
			types.StateSynthesizing, true, "")
	}

	// Flip to Completed first; the final save below is a same-state
	// write, so a crash in between leaves the checkpoint resumable.
	if err := o.transition(job, types.StateCompleted, "report finalized"); err != nil {
		return err
	}
	return o.finalize(job)
}

// finalize mirrors the step log into replay entries, builds the
// activity report, clears the checkpoint, and saves the full row.
func (o *Orchestrator) finalize(job *types.ResearchJob) error {
	steps, err := o.store.JobSteps(job.ID)
	if err != nil {
		return err
	}
	job.ReplayEntries = make([]types.ReplayEntry, 0, len(steps))
	var activity strings.Builder
	for _, s := range steps {
		job.ReplayEntries = append(job.ReplayEntries, types.ReplayEntry{
			StepNumber:   s.StepNumber,
			Action:       s.Action,
			Detail:       s.Detail,
			TimestampUTC: s.TimestampUTC,
		})
		fmt.Fprintf(&activity, "%d. %s: %s\n", s.StepNumber, s.Action, s.Detail)
	}
	job.ActivityReport = activity.String()
	job.CheckpointData = ""
	return o.store.SaveJob(job)
}

// checkpoint commits the cursor for the next phase via a full save.
func (o *Orchestrator) checkpoint(job *types.ResearchJob, nextPhase string) error {
	data, err := Checkpoint{
		Phase:     nextPhase,
		Plan:      job.Plan,
		Queries:   job.SearchQueries,
		SourceIDs: job.AcquiredSourceIDs,
		Iteration: job.CurrentIteration,
	}.Encode()
	if err != nil {
		return err
	}
	job.CheckpointData = data
	if err := o.store.SaveJob(job); err != nil {
		return fmt.Errorf("persist checkpoint: %w", err)
	}
	logging.JobsDebug("job %s checkpointed for %s", job.ID, nextPhase)
	return nil
}

func (o *Orchestrator) transition(job *types.ResearchJob, to types.JobState, detail string) error {
	if err := o.store.UpdateJobState(job.ID, to, detail); err != nil {
		return err
	}
	job.State = to
	return nil
}

// transitionTo walks the forward pipeline to reach the target state,
// used when a resume lands behind the checkpointed phase.
func (o *Orchestrator) transitionTo(job *types.ResearchJob, target types.JobState) error {
	order := []types.JobState{types.StatePending, types.StatePlanning, types.StateSearching,
		types.StateVerifying, types.StateSynthesizing}
	idx := func(s types.JobState) int {
		for i, st := range order {
			if st == s {
				return i
			}
		}
		return -1
	}
	if job.State == types.StateVerifying && target == types.StateSearching {
		// Verifying legitimately steps back to Searching.
		return o.transition(job, target, "resume")
	}
	from, to := idx(job.State), idx(target)
	if from < 0 || to < 0 || to <= from {
		return fmt.Errorf("%w: cannot walk %s to %s", types.ErrInvalidTransition, job.State, target)
	}
	for i := from + 1; i <= to; i++ {
		if err := o.transition(job, order[i], "resume fast-forward"); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) failJob(job *types.ResearchJob, phase string, cause error) error {
	logging.JobsError("job %s failed in %s: %v", job.ID, phase, cause)
	job.ErrorMessage = fmt.Sprintf("%s: %v", phase, cause)
	o.store.AppendStep(job.ID, "fail", job.ErrorMessage, types.StateFailed, false, cause.Error())
	if err := o.store.UpdateJobState(job.ID, types.StateFailed, job.ErrorMessage); err != nil {
		return errors.Join(cause, err)
	}
	job.State = types.StateFailed
	if err := o.store.SaveJob(job); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

func (o *Orchestrator) cancelJob(job *types.ResearchJob, cause error) error {
	logging.Jobs("job %s cancelled: %v", job.ID, cause)
	o.store.AppendStep(job.ID, "cancel", "cancellation observed", types.StateCancelled, true, "")
	if err := o.store.UpdateJobState(job.ID, types.StateCancelled, "cancelled"); err != nil {
		return errors.Join(cause, err)
	}
	job.State = types.StateCancelled
	return cause
}

// excerpt truncates on rune windows so multibyte text never gets cut
// mid-character, preferring a word boundary in the back half.
func excerpt(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	window := string(runes[:max])
	cut := strings.LastIndexByte(window, ' ')
	if cut >= 0 && utf8.RuneCountInString(window[:cut]) >= max/2 {
		window = window[:cut]
	}
	return window + "…"
}
