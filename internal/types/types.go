// Package types holds the shared data model for the research substrate.
// Entities reference each other by id only; callers resolve relations
// through store lookups rather than in-memory pointers.
package types

import "time"

// TimeFormat is the canonical timestamp layout for persisted fields.
// All timestamps are stored as ISO-8601 UTC strings.
const TimeFormat = time.RFC3339

// NowUTC returns the current time formatted for persistence.
func NowUTC() string {
	return time.Now().UTC().Format(TimeFormat)
}

// =============================================================================
// SOURCES AND CHUNKS
// =============================================================================

// SourceType tags the kind of source a chunk or citation points at.
// This is a closed, small set of kinds; new kinds are added here, not
// modeled as separate entity hierarchies.
type SourceType string

const (
	SourceWebSnapshot SourceType = "web_snapshot" // captured web page
	SourceArtifact    SourceType = "artifact"     // ingested document/file
	SourceCapture     SourceType = "capture"      // screenshot / OCR capture
	SourceRepoCode    SourceType = "repo_code"    // code file from a repository
	SourceRepoDoc     SourceType = "repo_doc"     // doc/readme from a repository
)

// Valid reports whether t is a known source type.
func (t SourceType) Valid() bool {
	switch t {
	case SourceWebSnapshot, SourceArtifact, SourceCapture, SourceRepoCode, SourceRepoDoc:
		return true
	}
	return false
}

// Source is one acquired evidence source inside a session. Deleting a
// source cascades to its chunks and prunes citations that point at it.
type Source struct {
	ID          string     `json:"id"`
	SessionID   string     `json:"session_id"`
	Type        SourceType `json:"type"`
	URL         string     `json:"url,omitempty"`
	Title       string     `json:"title"`
	ContentHash string     `json:"content_hash,omitempty"`
	FetchedUTC  string     `json:"fetched_utc,omitempty"`
	CreatedUTC  string     `json:"created_utc"`
}

// Chunk is a retrievable span of text extracted from a source.
// (SourceID, ChunkIndex) is unique within a session. A chunk is immutable
// after creation except for attaching an embedding.
type Chunk struct {
	ID          string     `json:"id"`
	SessionID   string     `json:"session_id"`
	SourceID    string     `json:"source_id"`
	SourceType  SourceType `json:"source_type"`
	Text        string     `json:"text"`
	StartOffset int        `json:"start_offset"`
	EndOffset   int        `json:"end_offset"`
	ChunkIndex  int        `json:"chunk_index"`
	Embedding   []float32  `json:"embedding,omitempty"`
	CreatedUTC  string     `json:"created_utc"`
}

// GlobalChunk is a chunk promoted into cross-session memory.
// The global store owns it; the originating session keeps its local copy.
type GlobalChunk struct {
	Chunk
	DomainPack  string   `json:"domain_pack"`
	Tags        []string `json:"tags,omitempty"`
	PromotedUTC string   `json:"promoted_utc"`
}

// ScoredChunk is a retrieval result: a chunk plus its fused relevance score.
type ScoredChunk struct {
	Chunk Chunk
	Score float64
}

// SearchFilter restricts a retrieval pass. Zero values mean unrestricted.
// DomainPack, SessionID and SourceID only apply to the global store.
type SearchFilter struct {
	SourceTypes []SourceType
	DomainPack  string
	SessionID   string
	SourceID    string
}

// =============================================================================
// CITATIONS AND CLAIMS
// =============================================================================

// Citation is an evidence pointer bound to report text. Citations are
// immutable once created and scoped to the job that produced them.
type Citation struct {
	ID          string     `json:"id"`
	SessionID   string     `json:"session_id"`
	JobID       string     `json:"job_id"`
	Type        SourceType `json:"type"`
	SourceID    string     `json:"source_id"`
	ChunkID     string     `json:"chunk_id,omitempty"`
	StartOffset int        `json:"start_offset,omitempty"`
	EndOffset   int        `json:"end_offset,omitempty"`
	Page        int        `json:"page,omitempty"`
	BoundingBox string     `json:"bounding_box,omitempty"` // "x,y,w,h" for captures
	Excerpt     string     `json:"excerpt"`
	Label       string     `json:"label"`
	CreatedUTC  string     `json:"created_utc"`
}

// SupportLevel classifies how well the evidence backs a claim.
type SupportLevel string

const (
	SupportSupported  SupportLevel = "supported"
	SupportPartial    SupportLevel = "partially_supported"
	SupportDisputed   SupportLevel = "disputed"
	SupportUnverified SupportLevel = "unverified"
)

// Valid reports whether s is a known support level.
func (s SupportLevel) Valid() bool {
	switch s {
	case SupportSupported, SupportPartial, SupportDisputed, SupportUnverified:
		return true
	}
	return false
}

// ClaimLedgerEntry binds one report assertion to its supporting citations.
// The core evidentiary contract: a claim with Support != unverified must
// list at least one citation id that resolves within the same job.
type ClaimLedgerEntry struct {
	ID          string       `json:"id"`
	JobID       string       `json:"job_id"`
	Claim       string       `json:"claim"`
	Support     SupportLevel `json:"support"`
	CitationIDs []string     `json:"citation_ids,omitempty"`
	Explanation string       `json:"explanation,omitempty"`
	CreatedUTC  string       `json:"created_utc"`
}

// =============================================================================
// JOBS
// =============================================================================

// JobType distinguishes the flavors of orchestrated work.
type JobType string

const (
	JobResearch  JobType = "research"
	JobDiscovery JobType = "discovery"
	JobMaterials JobType = "materials"
	JobFusion    JobType = "fusion"
)

// JobState is the research-job lifecycle state.
type JobState string

const (
	StatePending      JobState = "pending"
	StatePlanning     JobState = "planning"
	StateSearching    JobState = "searching"
	StateVerifying    JobState = "verifying"
	StateSynthesizing JobState = "synthesizing"
	StateCompleted    JobState = "completed"
	StateFailed       JobState = "failed"
	StateCancelled    JobState = "cancelled"
)

// Terminal reports whether the state admits no further transitions.
func (s JobState) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// ReplayEntry mirrors a job step for UI replay without re-invoking any LLM.
type ReplayEntry struct {
	StepNumber   int    `json:"step_number"`
	Action       string `json:"action"`
	Detail       string `json:"detail"`
	TimestampUTC string `json:"timestamp_utc"`
}

// ResearchJob is the unit of orchestrated work. Only the orchestrator
// mutates a job after submission; once the state is terminal the row is
// frozen apart from reads.
type ResearchJob struct {
	ID                string   `json:"id"`
	SessionID         string   `json:"session_id"`
	Type              JobType  `json:"type"`
	State             JobState `json:"state"`
	Prompt            string   `json:"prompt"`
	Plan              string   `json:"plan,omitempty"`
	SearchQueries     []string `json:"search_queries,omitempty"`
	SearchLanes       []string `json:"search_lanes,omitempty"`
	AcquiredSourceIDs []string `json:"acquired_source_ids,omitempty"`
	TargetSourceCount int      `json:"target_source_count"`
	MaxIterations     int      `json:"max_iterations"`
	CurrentIteration  int      `json:"current_iteration"`
	CreatedUTC        string   `json:"created_utc"`
	UpdatedUTC        string   `json:"updated_utc"`
	CompletedUTC      string   `json:"completed_utc,omitempty"`
	ErrorMessage      string   `json:"error_message,omitempty"`

	// CheckpointData is an opaque serialized cursor written at safe points
	// between phases. See research.Checkpoint for the payload layout.
	CheckpointData string `json:"checkpoint_data,omitempty"`

	// Result fields, populated during synthesis.
	MostSupportedView    string        `json:"most_supported_view,omitempty"`
	CredibleAlternatives string        `json:"credible_alternatives,omitempty"`
	ExecutiveSummary     string        `json:"executive_summary,omitempty"`
	FullReport           string        `json:"full_report,omitempty"`
	ActivityReport       string        `json:"activity_report,omitempty"`
	ReplayEntries        []ReplayEntry `json:"replay_entries,omitempty"`
}

// JobStep is one append-only audit record in a job's replay trail.
// Immutable once written; StepNumber is monotonic per job.
type JobStep struct {
	ID           int64    `json:"id"`
	JobID        string   `json:"job_id"`
	StepNumber   int      `json:"step_number"`
	Action       string   `json:"action"`
	Detail       string   `json:"detail,omitempty"`
	StateAfter   JobState `json:"state_after"`
	TimestampUTC string   `json:"timestamp_utc"`
	Success      bool     `json:"success"`
	Error        string   `json:"error,omitempty"`
}

// =============================================================================
// SESSIONS
// =============================================================================

// Session is one row in the process-wide session index.
type Session struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	RootPath   string `json:"root_path,omitempty"`
	CreatedUTC string `json:"created_utc"`
	UpdatedUTC string `json:"updated_utc"`
}
