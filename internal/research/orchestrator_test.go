package research

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"researchhive/internal/config"
	"researchhive/internal/llm"
	"researchhive/internal/retrieval"
	"researchhive/internal/store"
	"researchhive/internal/types"
)

const planResponse = "Check electrolyte chemistry, then vendor claims.\nQUERIES:\n- solid state battery electrolyte\n"

const reportResponse = `## Most Supported View
Solid state cells lead on energy density.

## Credible Alternatives
Sodium ion remains cheaper for stationary use.

## Executive Summary
Evidence favors solid state for vehicles.

## Findings
- Ceramic electrolytes enable lithium metal anodes [1]
- Commercial shipping timelines remain unproven
`

// scriptCompleter serves canned responses per tier and records calls.
type scriptCompleter struct {
	calls        []llm.Request
	failTier     llm.Tier
	truncateFull bool
}

func (s *scriptCompleter) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	s.calls = append(s.calls, req)
	if s.failTier != "" && req.Tier == s.failTier {
		return nil, types.ErrRoutingExhausted
	}
	switch req.Tier {
	case llm.TierMini:
		return &llm.Response{Text: "COVERED", Provider: "fake"}, nil
	case llm.TierFull:
		return &llm.Response{Text: reportResponse, Provider: "fake", Truncated: s.truncateFull}, nil
	default:
		return &llm.Response{Text: planResponse, Provider: "fake"}, nil
	}
}

func (s *scriptCompleter) tierCalls(tier llm.Tier) int {
	n := 0
	for _, c := range s.calls {
		if c.Tier == tier {
			n++
		}
	}
	return n
}

// scriptAcquirer writes real sources and chunks into the store, one
// scripted batch size per call.
type scriptAcquirer struct {
	st      *store.SessionStore
	batches []int
	call    int
	next    int
	err     error
}

func (a *scriptAcquirer) Acquire(ctx context.Context, sessionID, query string, want int) ([]string, error) {
	if a.err != nil {
		return nil, a.err
	}
	n := 0
	if a.call < len(a.batches) {
		n = a.batches[a.call]
	}
	a.call++

	var ids []string
	for i := 0; i < n; i++ {
		a.next++
		id := fmt.Sprintf("src-%d", a.next)
		err := a.st.AddSource(&types.Source{
			ID: id, Type: types.SourceWebSnapshot,
			URL: "https://example.com/" + id, Title: id,
		})
		if err != nil {
			return nil, err
		}
		err = a.st.AddChunks([]types.Chunk{{
			ID: fmt.Sprintf("chunk-%d", a.next), SourceID: id,
			SourceType: types.SourceWebSnapshot, ChunkIndex: 0,
			StartOffset: 0, EndOffset: 50,
			Text: "solid state battery electrolyte ceramic evidence " + id,
		}})
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

type testRig struct {
	st        *store.SessionStore
	orch      *Orchestrator
	completer *scriptCompleter
	acquirer  *scriptAcquirer
}

func newRig(t *testing.T, batches []int, target, maxIter int) *testRig {
	t.Helper()
	st, err := store.NewSessionStore(filepath.Join(t.TempDir(), "session.db"), "sess-1")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	completer := &scriptCompleter{}
	acquirer := &scriptAcquirer{st: st, batches: batches}
	engine := retrieval.NewEngine(st, nil, config.RetrievalConfig{
		SemanticWeight: 0.5, KeywordWeight: 0.5, TopK: 10, CandidateLimit: 50,
	})
	orch := NewOrchestrator(st, engine, completer, acquirer, config.ResearchConfig{
		TargetSourceCount: target,
		MaxIterations:     maxIter,
	})
	return &testRig{st: st, orch: orch, completer: completer, acquirer: acquirer}
}

func TestRunHappyPath(t *testing.T) {
	rig := newRig(t, []int{5}, 5, 3)
	job, err := rig.orch.Submit("sess-1", "solid state battery electrolyte outlook", types.JobResearch)
	require.NoError(t, err)

	require.NoError(t, rig.orch.Run(context.Background(), job.ID))

	got, err := rig.st.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StateCompleted, got.State)
	assert.Empty(t, got.CheckpointData)
	assert.Len(t, got.AcquiredSourceIDs, 5)
	assert.Equal(t, 1, got.CurrentIteration)
	assert.NotEmpty(t, got.FullReport)
	assert.Equal(t, "Solid state cells lead on energy density.", got.MostSupportedView)
	assert.NotEmpty(t, got.ExecutiveSummary)
	assert.NotEmpty(t, got.ActivityReport)
	assert.NotEmpty(t, got.ReplayEntries)
	assert.NotEmpty(t, got.CompletedUTC)

	claims, err := rig.st.ClaimsForJob(job.ID)
	require.NoError(t, err)
	require.Len(t, claims, 2)
	supported, unverified := 0, 0
	for _, c := range claims {
		switch c.Support {
		case types.SupportSupported:
			supported++
			require.NotEmpty(t, c.CitationIDs)
			cit, err := rig.st.GetCitation(c.CitationIDs[0])
			require.NoError(t, err)
			assert.Equal(t, job.ID, cit.JobID)
		case types.SupportUnverified:
			unverified++
		}
	}
	assert.Equal(t, 1, supported)
	assert.Equal(t, 1, unverified)

	violations, err := rig.st.CheckIntegrity(job.ID)
	require.NoError(t, err)
	assert.Empty(t, violations)
}

func TestRunIterationLoopExitsOnTarget(t *testing.T) {
	// Target 5, cap 3: iterations acquire 2, 2, then 1. The loop must
	// run all three iterations and exit on target met, not the cap.
	rig := newRig(t, []int{2, 2, 1}, 5, 3)
	job, err := rig.orch.Submit("sess-1", "solid state battery electrolyte outlook", types.JobResearch)
	require.NoError(t, err)

	require.NoError(t, rig.orch.Run(context.Background(), job.ID))

	got, err := rig.st.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StateCompleted, got.State)
	assert.Len(t, got.AcquiredSourceIDs, 5)
	assert.Equal(t, 3, got.CurrentIteration)

	steps, err := rig.st.JobSteps(job.ID)
	require.NoError(t, err)
	for _, s := range steps {
		assert.NotEqual(t, "search_shortfall", s.Action)
	}
}

func TestRunShortfallProceedsBestEffort(t *testing.T) {
	rig := newRig(t, []int{1, 0, 0}, 5, 3)
	job, err := rig.orch.Submit("sess-1", "solid state battery electrolyte outlook", types.JobResearch)
	require.NoError(t, err)

	require.NoError(t, rig.orch.Run(context.Background(), job.ID))

	got, err := rig.st.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StateCompleted, got.State)
	assert.Len(t, got.AcquiredSourceIDs, 1)
	assert.Equal(t, 3, got.CurrentIteration)

	steps, err := rig.st.JobSteps(job.ID)
	require.NoError(t, err)
	found := false
	for _, s := range steps {
		if s.Action == "search_shortfall" {
			found = true
		}
	}
	assert.True(t, found, "shortfall must be recorded in the step log")
}

func TestExcerptSafeOnMultibyteText(t *testing.T) {
	short := "fits as is"
	assert.Equal(t, short, excerpt(short, 280))

	// No spaces: a hard rune cut, never a split code point.
	greek := strings.Repeat("σ", 400)
	got := excerpt(greek, 280)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, 281, utf8.RuneCountInString(got)) // 280 runes plus the ellipsis

	// With spaces the cut lands on a word boundary in the back half.
	worded := strings.Repeat("λέξη ", 100)
	got = excerpt(worded, 50)
	assert.True(t, utf8.ValidString(got))
	assert.True(t, strings.HasSuffix(got, "λέξη…"), "got %q", got)
	assert.LessOrEqual(t, utf8.RuneCountInString(got), 51)
}

func TestRunRecordsTruncatedSynthesis(t *testing.T) {
	rig := newRig(t, []int{5}, 5, 3)
	rig.completer.truncateFull = true
	job, err := rig.orch.Submit("sess-1", "solid state battery electrolyte outlook", types.JobResearch)
	require.NoError(t, err)

	require.NoError(t, rig.orch.Run(context.Background(), job.ID))

	got, err := rig.st.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StateCompleted, got.State)

	steps, err := rig.st.JobSteps(job.ID)
	require.NoError(t, err)
	found := false
	for _, s := range steps {
		if s.Action == "synthesize_truncated" {
			found = true
		}
	}
	assert.True(t, found, "a cut-off report must be recorded in the step log")
}

func TestRunFailsWhenRoutingExhausted(t *testing.T) {
	rig := newRig(t, []int{5}, 5, 3)
	rig.completer.failTier = llm.TierDefault
	job, err := rig.orch.Submit("sess-1", "doomed prompt", types.JobResearch)
	require.NoError(t, err)

	err = rig.orch.Run(context.Background(), job.ID)
	require.ErrorIs(t, err, types.ErrRoutingExhausted)

	got, err := rig.st.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StateFailed, got.State)
	assert.Contains(t, got.ErrorMessage, "planning")
}

func TestRunCancelledContext(t *testing.T) {
	rig := newRig(t, []int{5}, 5, 3)
	job, err := rig.orch.Submit("sess-1", "prompt", types.JobResearch)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = rig.orch.Run(ctx, job.ID)
	require.Error(t, err)

	got, err := rig.st.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StateCancelled, got.State)
}

func TestResumeReExecutesOnePhase(t *testing.T) {
	rig := newRig(t, nil, 5, 3)
	job, err := rig.orch.Submit("sess-1", "solid state battery electrolyte outlook", types.JobResearch)
	require.NoError(t, err)

	// Simulate a crash after the search loop checkpointed for
	// synthesis: the stored row is behind the checkpoint.
	require.NoError(t, rig.st.UpdateJobState(job.ID, types.StatePlanning, "test"))
	cp, err := Checkpoint{
		Phase:     "synthesizing",
		Plan:      "plan",
		Queries:   []string{"solid state battery electrolyte"},
		SourceIDs: []string{"src-x"},
		Iteration: 2,
	}.Encode()
	require.NoError(t, err)
	job.State = types.StatePlanning
	job.CheckpointData = cp
	require.NoError(t, rig.st.SaveJob(job))

	require.NoError(t, rig.orch.Resume(context.Background(), job.ID))

	got, err := rig.st.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StateCompleted, got.State)
	assert.Equal(t, 2, got.CurrentIteration)

	// Only the synthesis phase ran: no planning or verification calls.
	assert.Equal(t, 0, rig.completer.tierCalls(llm.TierDefault))
	assert.Equal(t, 0, rig.completer.tierCalls(llm.TierMini))
	assert.Equal(t, 1, rig.completer.tierCalls(llm.TierFull))

	// A checkpointed job never re-enters pending.
	steps, err := rig.st.JobSteps(job.ID)
	require.NoError(t, err)
	for _, s := range steps {
		assert.NotEqual(t, types.StatePending, s.StateAfter)
	}
}

func TestResumeRejectsStaleCheckpoint(t *testing.T) {
	rig := newRig(t, nil, 5, 3)
	job, err := rig.orch.Submit("sess-1", "prompt", types.JobResearch)
	require.NoError(t, err)

	job.CheckpointData = `{"version":99,"phase":"searching"}`
	require.NoError(t, rig.st.SaveJob(job))

	err = rig.orch.Resume(context.Background(), job.ID)
	require.ErrorIs(t, err, types.ErrCheckpointStale)
}

func TestResumeRejectsTerminalJob(t *testing.T) {
	rig := newRig(t, nil, 5, 3)
	job, err := rig.orch.Submit("sess-1", "prompt", types.JobResearch)
	require.NoError(t, err)
	require.NoError(t, rig.st.UpdateJobState(job.ID, types.StateCancelled, "test"))

	err = rig.orch.Resume(context.Background(), job.ID)
	require.ErrorIs(t, err, types.ErrJobTerminal)
}

func TestRunRejectsNonPendingJob(t *testing.T) {
	rig := newRig(t, nil, 5, 3)
	job, err := rig.orch.Submit("sess-1", "prompt", types.JobResearch)
	require.NoError(t, err)
	require.NoError(t, rig.st.UpdateJobState(job.ID, types.StatePlanning, "test"))

	err = rig.orch.Run(context.Background(), job.ID)
	require.ErrorIs(t, err, types.ErrInvalidInput)
}

func TestSubmitValidation(t *testing.T) {
	rig := newRig(t, nil, 5, 3)
	_, err := rig.orch.Submit("sess-1", "   ", types.JobResearch)
	require.ErrorIs(t, err, types.ErrInvalidInput)
}

func TestCancelMarksJobCancelled(t *testing.T) {
	rig := newRig(t, nil, 5, 3)
	job, err := rig.orch.Submit("sess-1", "prompt", types.JobResearch)
	require.NoError(t, err)

	require.NoError(t, rig.orch.Cancel(job.ID))
	got, err := rig.st.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StateCancelled, got.State)

	require.ErrorIs(t, rig.orch.Cancel(job.ID), types.ErrJobTerminal)
	require.ErrorIs(t, rig.orch.Cancel("missing"), types.ErrNotFound)
}
