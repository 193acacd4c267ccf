package models

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"sort"
	"strings"
	"time"
)

// ImpactLevel is the coarse rating derived from a confidence score
type ImpactLevel string

const (
	ImpactLow    ImpactLevel = "low"
	ImpactMedium ImpactLevel = "medium"
	ImpactHigh   ImpactLevel = "high"
)

// Confidence thresholds for impact levels
const (
	HighConfidence   = 0.8
	MediumConfidence = 0.5
)

// LevelFromConfidence maps a confidence in [0,1] to its impact level.
func LevelFromConfidence(confidence float64) ImpactLevel {
	switch {
	case confidence >= HighConfidence:
		return ImpactHigh
	case confidence >= MediumConfidence:
		return ImpactMedium
	default:
		return ImpactLow
	}
}

// Rank orders levels low < medium < high. Unknown values rank below low.
func (l ImpactLevel) Rank() int {
	switch l {
	case ImpactLow:
		return 1
	case ImpactMedium:
		return 2
	case ImpactHigh:
		return 3
	default:
		return 0
	}
}

// Valid reports whether l is one of the three known levels
func (l ImpactLevel) Valid() bool {
	return l.Rank() > 0
}

// ParseImpactLevel accepts "low", "medium" or "high"
func ParseImpactLevel(s string) (ImpactLevel, bool) {
	l := ImpactLevel(s)
	return l, l.Valid()
}

// EntityKind identifies what an ImpactedEntity refers to
type EntityKind string

const (
	KindComponent  EntityKind = "component"
	KindService    EntityKind = "service"
	KindAPI        EntityKind = "api"
	KindDoc        EntityKind = "doc"
	KindChatThread EntityKind = "chat_thread"
)

// Relation labels how an entity was reached during propagation
const (
	RelationChanged  = "changed"
	RelationDirect   = "direct"
	RelationIndirect = "indirect"
	RelationChat     = "chat"
)

// EntityMetadata carries the well-known attributes of an impacted entity.
// Anything outside the fixed set goes in Extra.
type EntityMetadata struct {
	Relation     string            `json:"relation,omitempty"`
	Depth        int               `json:"depth"`
	Via          string            `json:"via,omitempty"`
	Repo         string            `json:"repo,omitempty"`
	Title        string            `json:"title,omitempty"`
	URL          string            `json:"url,omitempty"`
	Path         string            `json:"path,omitempty"`
	ComponentIDs []string          `json:"component_ids,omitempty"`
	ServiceID    string            `json:"service_id,omitempty"`
	Channel      string            `json:"channel,omitempty"`
	Permalink    string            `json:"permalink,omitempty"`
	FileCount    int               `json:"file_count,omitempty"`
	Extra        map[string]string `json:"extra,omitempty"`
}

// ImpactedEntity is one scored entry of an impact report. Level is always
// derived from Confidence; use NewImpactedEntity or SetConfidence.
type ImpactedEntity struct {
	ID         string         `json:"id"`
	Kind       EntityKind     `json:"kind"`
	Confidence float64        `json:"confidence"`
	Level      ImpactLevel    `json:"impact_level"`
	Reason     string         `json:"reason"`
	Metadata   EntityMetadata `json:"metadata"`
}

// NewImpactedEntity clamps confidence to [0,1] and derives the level
func NewImpactedEntity(id string, kind EntityKind, confidence float64, reason string, meta EntityMetadata) ImpactedEntity {
	e := ImpactedEntity{ID: id, Kind: kind, Reason: reason, Metadata: meta}
	e.SetConfidence(confidence)
	return e
}

// SetConfidence updates confidence and recomputes the level
func (e *ImpactedEntity) SetConfidence(confidence float64) {
	e.Confidence = ClampConfidence(confidence)
	e.Level = LevelFromConfidence(e.Confidence)
}

// ClampConfidence bounds c to [0,1] and rounds away float noise
func ClampConfidence(c float64) float64 {
	if math.IsNaN(c) || c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return math.Round(c*1e6) / 1e6
}

// SourceKind identifies what triggered an analysis
type SourceKind string

const (
	SourceGit    SourceKind = "git"
	SourceChat   SourceKind = "chat"
	SourceManual SourceKind = "manual"
)

// CommitRef is a commit referenced by a change
type CommitRef struct {
	SHA     string `json:"sha"`
	URL     string `json:"url,omitempty"`
	Message string `json:"message,omitempty"`
}

// GitChange is the ephemeral input describing a code change
type GitChange struct {
	Identifier string            `json:"identifier"`
	Repo       string            `json:"repo"`
	Title      string            `json:"title,omitempty"`
	Summary    string            `json:"summary,omitempty"`
	URL        string            `json:"url,omitempty"`
	Files      []string          `json:"files"`
	Commits    []CommitRef       `json:"commits,omitempty"`
	PRNumber   int               `json:"pr_number,omitempty"`
	Author     string            `json:"author,omitempty"`
	Timestamp  time.Time         `json:"timestamp,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// ChatComplaint is a user complaint from a chat thread
type ChatComplaint struct {
	ThreadID     string   `json:"thread_id"`
	Channel      string   `json:"channel"`
	Text         string   `json:"text"`
	ComponentIDs []string `json:"component_ids,omitempty"`
	APIIDs       []string `json:"api_ids,omitempty"`
	Permalink    string   `json:"permalink,omitempty"`
}

// Key identifies the complaint. Without a thread it is a digest of the
// channel, the whitespace-normalized text and the referenced ids, so the
// same message always yields the same key and different messages do not
// share one.
func (c *ChatComplaint) Key() string {
	if c.ThreadID != "" {
		return c.ThreadID
	}
	refs := append(append([]string{}, c.ComponentIDs...), c.APIIDs...)
	sort.Strings(refs)
	text := strings.ToLower(strings.Join(strings.Fields(c.Text), " "))
	sum := sha256.Sum256([]byte(c.Channel + "\n" + text + "\n" + strings.Join(refs, ",")))
	return "msg-" + hex.EncodeToString(sum[:])[:12]
}

// ChangeID is the linked change of doc issues raised by the complaint
func (c *ChatComplaint) ChangeID() string {
	return "chat:" + c.Key()
}

// ReasoningContext is the human-readable trail attached after evidence
type ReasoningContext struct {
	ImpactChain  string            `json:"impact_chain"`
	TouchedRepos []string          `json:"touched_repos"`
	DocHints     map[string]string `json:"doc_hints,omitempty"`
}

// Evidence modes
const (
	EvidenceDeterministic = "deterministic"
	EvidenceGenerated     = "generated"
)

// ImpactReport is the unit of work threaded through the pipeline
type ImpactReport struct {
	ChangeID           string            `json:"change_id"`
	Title              string            `json:"title"`
	Summary            string            `json:"summary,omitempty"`
	Level              ImpactLevel       `json:"impact_level"`
	SourceKind         SourceKind        `json:"source_kind"`
	ChangedComponents  []ImpactedEntity  `json:"changed_components"`
	ImpactedComponents []ImpactedEntity  `json:"impacted_components"`
	ChangedAPIs        []ImpactedEntity  `json:"changed_apis"`
	ImpactedAPIs       []ImpactedEntity  `json:"impacted_apis"`
	ImpactedServices   []ImpactedEntity  `json:"impacted_services"`
	ImpactedDocs       []ImpactedEntity  `json:"impacted_docs"`
	ChatThreads        []ImpactedEntity  `json:"chat_threads"`
	Recommendations    []string          `json:"recommendations"`
	Evidence           []string          `json:"evidence"`
	EvidenceSummary    string            `json:"evidence_summary,omitempty"`
	EvidenceMode       string            `json:"evidence_mode,omitempty"`
	Reasoning          *ReasoningContext `json:"reasoning,omitempty"`
	Change             *GitChange        `json:"change,omitempty"`
	Chat               *ChatComplaint    `json:"chat,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
	GeneratedAt        time.Time         `json:"generated_at"`
}

// AllEntities returns every entity of the report in list order
func (r *ImpactReport) AllEntities() []ImpactedEntity {
	var all []ImpactedEntity
	for _, list := range [][]ImpactedEntity{
		r.ChangedComponents, r.ImpactedComponents,
		r.ChangedAPIs, r.ImpactedAPIs,
		r.ImpactedServices, r.ImpactedDocs, r.ChatThreads,
	} {
		all = append(all, list...)
	}
	return all
}

// RecomputeLevel sets Level from the maximum confidence across entities.
// An empty report is low.
func (r *ImpactReport) RecomputeLevel() {
	maxConf := -1.0
	for _, e := range r.AllEntities() {
		if e.Confidence > maxConf {
			maxConf = e.Confidence
		}
	}
	if maxConf < 0 {
		r.Level = ImpactLow
		return
	}
	r.Level = LevelFromConfidence(maxConf)
}

// IsEmpty reports whether no entity was collected
func (r *ImpactReport) IsEmpty() bool {
	return len(r.AllEntities()) == 0
}

// Severity is the review priority of a doc issue
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Rank orders severities like impact levels
func (s Severity) Rank() int {
	return ImpactLevel(s).Rank()
}

// IssueState is the lifecycle state of a doc issue
type IssueState string

const (
	StateOpen     IssueState = "open"
	StateResolved IssueState = "resolved"
	StateClosed   IssueState = "closed"
)

// Valid reports whether s is a known state
func (s IssueState) Valid() bool {
	return s == StateOpen || s == StateResolved || s == StateClosed
}

// Link is a labelled URL attached to issues and notifications
type Link struct {
	Type  string `json:"type"`
	Label string `json:"label"`
	URL   string `json:"url"`
}

// ChangeContext is the snapshot of the triggering change stored on an issue
type ChangeContext struct {
	Identifier string     `json:"identifier"`
	Repo       string     `json:"repo"`
	Title      string     `json:"title,omitempty"`
	URL        string     `json:"url,omitempty"`
	Commits    []string   `json:"commits,omitempty"`
	SourceKind SourceKind `json:"source_kind"`
}

// DocIssue asserts that a doc page needs review because of a change.
// Identity is (RepoID, DocPath, LinkedChange).
type DocIssue struct {
	ID              string        `json:"id"`
	DocID           string        `json:"doc_id"`
	DocTitle        string        `json:"doc_title"`
	DocPath         string        `json:"doc_path"`
	DocURL          string        `json:"doc_url"`
	RepoID          string        `json:"repo_id"`
	ComponentIDs    []string      `json:"component_ids"`
	ServiceIDs      []string      `json:"service_ids"`
	ImpactLevel     ImpactLevel   `json:"impact_level"`
	Severity        Severity      `json:"severity"`
	Source          SourceKind    `json:"source"`
	LinkedChange    string        `json:"linked_change"`
	ChangeContext   ChangeContext `json:"change_context"`
	Summary         string        `json:"summary"`
	Confidence      float64       `json:"confidence"`
	EvidenceMode    string        `json:"evidence_mode"`
	EvidenceSummary string        `json:"evidence_summary"`
	Links           []Link        `json:"links"`
	CreatedAt       time.Time     `json:"created_at"`
	DetectedAt      time.Time     `json:"detected_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
	State           IssueState    `json:"state"`
}

// IssueKey is the dedup identity of a doc issue
type IssueKey struct {
	RepoID       string
	DocPath      string
	LinkedChange string
}

// Key returns the dedup identity of the issue
func (d *DocIssue) Key() IssueKey {
	return IssueKey{RepoID: d.RepoID, DocPath: d.DocPath, LinkedChange: d.LinkedChange}
}

// EventProperties are the summary fields of an impact event
type EventProperties struct {
	ChangeID      string      `json:"change_id"`
	ChangeTitle   string      `json:"change_title"`
	ChangeSummary string      `json:"change_summary"`
	ImpactLevel   ImpactLevel `json:"impact_level"`
	EvidenceMode  string      `json:"evidence_mode"`
	SourceKind    SourceKind  `json:"source_kind"`
	RecordedAt    time.Time   `json:"recorded_at"`
}

// ImpactEvent is the append-only audit record of one pipeline run
type ImpactEvent struct {
	EventID        string          `json:"event_id"`
	Properties     EventProperties `json:"properties"`
	ComponentIDs   []string        `json:"component_ids"`
	ServiceIDs     []string        `json:"service_ids"`
	DocIDs         []string        `json:"doc_ids"`
	DocIssueIDs    []string        `json:"doc_issue_ids"`
	SlackThreadIDs []string        `json:"slack_thread_ids"`
	GitEventIDs    []string        `json:"git_event_ids"`
}
