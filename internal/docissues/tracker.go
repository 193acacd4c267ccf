// Package docissues turns impacted docs into durable, deduplicated review
// records.
package docissues

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rohankatakam/impactgraph/internal/depgraph"
	"github.com/rohankatakam/impactgraph/internal/errors"
	"github.com/rohankatakam/impactgraph/internal/metrics"
	"github.com/rohankatakam/impactgraph/internal/models"
	"github.com/rohankatakam/impactgraph/internal/storage"
)

// Config controls doc URL resolution
type Config struct {
	// PortalURLTemplate builds a doc URL when the doc has none. It may use
	// {repo}, {path} and {doc_id}.
	PortalURLTemplate string `mapstructure:"portal_url_template" yaml:"portal_url_template"`
}

// Tracker creates and updates doc issues in one store. All writes through
// a Tracker are serialized; use a single Tracker per store.
type Tracker struct {
	store  storage.IssueStore
	cfg    Config
	now    func() time.Time
	newID  func() string
	logger *slog.Logger
	mu     sync.Mutex
}

// Option configures a Tracker
type Option func(*Tracker)

func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

func WithIDGenerator(fn func() string) Option {
	return func(t *Tracker) { t.newID = fn }
}

func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) { t.logger = logger }
}

// NewTracker creates a tracker over store
func NewTracker(store storage.IssueStore, cfg Config, opts ...Option) *Tracker {
	t := &Tracker{
		store:  store,
		cfg:    cfg,
		now:    time.Now,
		newID:  uuid.NewString,
		logger: slog.Default().With("component", "docissues"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// CreateFromImpact creates or merges one issue per impacted doc of report.
// On a store failure it returns an empty list and a persistence error;
// callers continue with the empty list.
func (t *Tracker) CreateFromImpact(ctx context.Context, report *models.ImpactReport, g *depgraph.Graph) ([]models.DocIssue, error) {
	if report == nil || len(report.ImpactedDocs) == 0 {
		return []models.DocIssue{}, nil
	}

	candidates := make([]models.DocIssue, 0, len(report.ImpactedDocs))
	for _, doc := range report.ImpactedDocs {
		candidates = append(candidates, t.fromImpact(report, doc, g))
	}

	issues, err := t.upsert(ctx, candidates)
	if err != nil {
		t.logger.Error("failed to persist doc issues", "change_id", report.ChangeID, "error", err)
		return []models.DocIssue{}, err
	}
	return issues, nil
}

// ManualIssue is an operator-filed doc issue
type ManualIssue struct {
	DocID        string          `json:"doc_id"`
	DocTitle     string          `json:"doc_title"`
	DocPath      string          `json:"doc_path"`
	DocURL       string          `json:"doc_url"`
	RepoID       string          `json:"repo_id"`
	ComponentIDs []string        `json:"component_ids"`
	Severity     models.Severity `json:"severity"`
	Summary      string          `json:"summary"`
	LinkedChange string          `json:"linked_change"`
	Links        []models.Link   `json:"links"`
}

// CreateManualIssue files an issue outside the automated flow. It needs at
// least one component id and a doc id or path. g may be nil.
func (t *Tracker) CreateManualIssue(ctx context.Context, req ManualIssue, g *depgraph.Graph) (*models.DocIssue, error) {
	components := g.CanonicalAll(req.ComponentIDs)
	if len(components) == 0 {
		return nil, errors.ValidationError("manual doc issue requires at least one component id")
	}
	if req.DocID == "" && req.DocPath == "" {
		return nil, errors.ValidationError("manual doc issue requires a doc id or doc path")
	}
	severity := req.Severity
	if severity == "" {
		severity = models.SeverityMedium
	}
	if !models.ImpactLevel(severity).Valid() {
		return nil, errors.ValidationErrorf("unknown severity %q", req.Severity)
	}

	docID := req.DocID
	if docID == "" {
		docID = "doc:" + req.DocPath
	}
	linked := req.LinkedChange
	if linked == "" {
		linked = "manual:" + t.newID()
	}

	issue := models.DocIssue{
		DocID:        docID,
		DocTitle:     firstNonEmpty(req.DocTitle, docID),
		ComponentIDs: components,
		ServiceIDs:   nonNil(g.ServicesForComponents(components)),
		ImpactLevel:  models.ImpactHigh,
		Severity:     severity,
		Source:       models.SourceManual,
		LinkedChange: linked,
		ChangeContext: models.ChangeContext{
			Identifier: linked,
			SourceKind: models.SourceManual,
		},
		Summary:         req.Summary,
		Confidence:      1,
		EvidenceMode:    models.EvidenceDeterministic,
		EvidenceSummary: req.Summary,
	}

	doc, _ := g.Doc(docID)
	issue.RepoID = req.RepoID
	if issue.RepoID == "" {
		issue.RepoID = t.resolveRepo(doc, components, "", g)
	}
	issue.ChangeContext.Repo = issue.RepoID
	issue.DocPath = firstNonEmpty(req.DocPath, docPath(doc, docID))
	issue.DocURL = firstNonEmpty(req.DocURL, t.resolveURL(doc, docID, issue.RepoID, issue.DocPath))
	issue.Links = dedupLinks(append([]models.Link{{Type: "doc", Label: issue.DocTitle, URL: issue.DocURL}}, req.Links...))

	issues, err := t.upsert(ctx, []models.DocIssue{issue})
	if err != nil {
		return nil, err
	}
	return &issues[0], nil
}

// SetState moves an issue to open, resolved or closed
func (t *Tracker) SetState(ctx context.Context, id string, state models.IssueState) (*models.DocIssue, error) {
	if !state.Valid() {
		return nil, errors.ValidationErrorf("unknown doc issue state %q", state)
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	issue, err := t.store.Get(ctx, id)
	if err != nil {
		if err == storage.ErrNotFound {
			return nil, errors.ValidationErrorf("doc issue %s not found", id)
		}
		return nil, errors.PersistenceError(err, "failed to load doc issue")
	}
	issue.State = state
	issue.UpdatedAt = t.now().UTC()
	if err := t.store.Upsert(ctx, []models.DocIssue{*issue}); err != nil {
		return nil, errors.PersistenceError(err, "failed to update doc issue state")
	}
	return issue, nil
}

// Filter narrows List results. Zero fields match everything.
type Filter struct {
	Repo         string
	State        models.IssueState
	MinSeverity  models.Severity
	ComponentID  string
	LinkedChange string
	Limit        int
}

// Match reports whether issue passes every set field of f
func (f Filter) Match(issue models.DocIssue) bool {
	if f.Repo != "" && issue.RepoID != f.Repo {
		return false
	}
	if f.State != "" && issue.State != f.State {
		return false
	}
	if f.MinSeverity != "" && issue.Severity.Rank() < f.MinSeverity.Rank() {
		return false
	}
	if f.LinkedChange != "" && issue.LinkedChange != f.LinkedChange {
		return false
	}
	if f.ComponentID != "" && !contains(issue.ComponentIDs, f.ComponentID) {
		return false
	}
	return true
}

// List returns matching issues, most recently updated first
func (t *Tracker) List(ctx context.Context, f Filter) ([]models.DocIssue, error) {
	all, err := t.store.List(ctx)
	if err != nil {
		return nil, errors.PersistenceError(err, "failed to list doc issues")
	}
	out := make([]models.DocIssue, 0, len(all))
	for _, is := range all {
		if f.Match(is) {
			out = append(out, is)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// RepoCount is the number of open issues of one repository
type RepoCount struct {
	Repo       string `json:"repo"`
	OpenIssues int    `json:"open_issues"`
}

// Stats summarizes the store for health reporting
type Stats struct {
	Total    int         `json:"total"`
	Open     int         `json:"open"`
	TopRepos []RepoCount `json:"top_repos"`
}

// Stats counts issues and ranks repositories by open issues
func (t *Tracker) Stats(ctx context.Context, topN int) (Stats, error) {
	all, err := t.store.List(ctx)
	if err != nil {
		return Stats{}, errors.PersistenceError(err, "failed to read doc issues")
	}
	st := Stats{Total: len(all), TopRepos: []RepoCount{}}
	perRepo := make(map[string]int)
	for _, is := range all {
		if is.State == models.StateOpen {
			st.Open++
			perRepo[is.RepoID]++
		}
	}
	for repo, n := range perRepo {
		st.TopRepos = append(st.TopRepos, RepoCount{Repo: repo, OpenIssues: n})
	}
	sort.Slice(st.TopRepos, func(i, j int) bool {
		if st.TopRepos[i].OpenIssues != st.TopRepos[j].OpenIssues {
			return st.TopRepos[i].OpenIssues > st.TopRepos[j].OpenIssues
		}
		return st.TopRepos[i].Repo < st.TopRepos[j].Repo
	})
	if topN > 0 && len(st.TopRepos) > topN {
		st.TopRepos = st.TopRepos[:topN]
	}
	return st, nil
}

// upsert merges candidates into the store under the tracker lock and
// returns the stored form of each candidate
func (t *Tracker) upsert(ctx context.Context, candidates []models.DocIssue) ([]models.DocIssue, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	existing, err := t.store.List(ctx)
	if err != nil {
		return nil, errors.PersistenceError(err, "failed to load doc issues")
	}
	byKey := make(map[models.IssueKey]models.DocIssue, len(existing))
	for _, is := range existing {
		byKey[is.Key()] = is
	}

	now := t.now().UTC()
	var created, merged int
	order := make([]models.IssueKey, 0, len(candidates))
	written := make(map[models.IssueKey]models.DocIssue, len(candidates))
	for _, c := range candidates {
		key := c.Key()
		if prev, ok := written[key]; ok {
			written[key] = MergeIssue(prev, c, now)
			continue
		}
		order = append(order, key)
		if prev, ok := byKey[key]; ok {
			written[key] = MergeIssue(prev, c, now)
			merged++
			continue
		}
		c.ID = t.newID()
		c.CreatedAt = now
		c.DetectedAt = now
		c.UpdatedAt = now
		c.State = models.StateOpen
		written[key] = c
		created++
	}

	out := make([]models.DocIssue, 0, len(order))
	for _, key := range order {
		out = append(out, written[key])
	}
	if err := t.store.Upsert(ctx, out); err != nil {
		return nil, errors.PersistenceError(err, "failed to write doc issues")
	}

	metrics.DocIssueUpserts.WithLabelValues("created").Add(float64(created))
	metrics.DocIssueUpserts.WithLabelValues("merged").Add(float64(merged))
	t.logger.Debug("doc issues persisted", "created", created, "merged", merged)
	return out, nil
}

// MergeIssue overwrites the mutable fields of existing with update while
// keeping its id, created_at and state
func MergeIssue(existing, update models.DocIssue, now time.Time) models.DocIssue {
	merged := update
	merged.ID = existing.ID
	merged.CreatedAt = existing.CreatedAt
	merged.State = existing.State
	merged.DetectedAt = now
	merged.UpdatedAt = now
	if merged.State == "" {
		merged.State = models.StateOpen
	}
	return merged
}

func (t *Tracker) fromImpact(report *models.ImpactReport, e models.ImpactedEntity, g *depgraph.Graph) models.DocIssue {
	doc, _ := g.Doc(e.ID)

	components := e.Metadata.ComponentIDs
	if doc != nil && len(doc.ComponentIDs) > 0 {
		components = mergeIDs(doc.ComponentIDs, e.Metadata.ComponentIDs...)
	}
	components = nonNil(components)

	changeRepo := report.Metadata["repo"]
	if report.Change != nil && report.Change.Repo != "" {
		changeRepo = report.Change.Repo
	}
	repo := t.resolveRepo(doc, components, changeRepo, g)
	title := firstNonEmpty(e.Metadata.Title, e.ID)
	if doc != nil {
		title = firstNonEmpty(doc.Title, title)
	}
	path := docPath(doc, e.ID)
	if doc == nil && e.Metadata.Path != "" {
		path = e.Metadata.Path
	}
	url := t.resolveURL(doc, e.ID, repo, path)
	if doc == nil && e.Metadata.URL != "" {
		url = e.Metadata.URL
	}

	issue := models.DocIssue{
		DocID:           e.ID,
		DocTitle:        title,
		DocPath:         path,
		DocURL:          url,
		RepoID:          repo,
		ComponentIDs:    components,
		ServiceIDs:      nonNil(g.ServicesForComponents(components)),
		ImpactLevel:     e.Level,
		Severity:        ClassifySeverity(e.Metadata.Relation, e.Metadata.Depth, e.Confidence, e.Level),
		Source:          report.SourceKind,
		LinkedChange:    report.ChangeID,
		ChangeContext:   changeContext(report, changeRepo),
		Summary:         issueSummary(report, title, e),
		Confidence:      e.Confidence,
		EvidenceMode:    report.EvidenceMode,
		EvidenceSummary: report.EvidenceSummary,
	}
	issue.Links = issueLinks(report, issue)
	return issue
}

// resolveRepo: doc repo, then the first owning component's repo, then the
// change's repo
func (t *Tracker) resolveRepo(doc *depgraph.Doc, components []string, changeRepo string, g *depgraph.Graph) string {
	if doc != nil && doc.Repo != "" {
		return doc.Repo
	}
	for _, id := range components {
		if c, ok := g.Component(id); ok && c.Repo != "" {
			return c.Repo
		}
	}
	return changeRepo
}

// resolveURL: explicit doc URL, then the portal template, then repo:path
func (t *Tracker) resolveURL(doc *depgraph.Doc, docID, repo, path string) string {
	if doc != nil && doc.URL != "" {
		return doc.URL
	}
	if t.cfg.PortalURLTemplate != "" {
		return strings.NewReplacer(
			"{repo}", repo,
			"{path}", strings.TrimPrefix(path, "/"),
			"{doc_id}", docID,
		).Replace(t.cfg.PortalURLTemplate)
	}
	return repo + ":" + path
}

func docPath(doc *depgraph.Doc, docID string) string {
	if doc != nil && doc.Path != "" {
		return doc.Path
	}
	return docID
}

func changeContext(report *models.ImpactReport, repo string) models.ChangeContext {
	cc := models.ChangeContext{
		Identifier: report.ChangeID,
		Repo:       repo,
		Title:      report.Title,
		SourceKind: report.SourceKind,
	}
	if report.Change != nil {
		cc.URL = report.Change.URL
		for _, c := range report.Change.Commits {
			cc.Commits = append(cc.Commits, c.SHA)
		}
	}
	if cc.URL == "" && report.Chat != nil {
		cc.URL = report.Chat.Permalink
	}
	return cc
}

func issueSummary(report *models.ImpactReport, title string, e models.ImpactedEntity) string {
	s := fmt.Sprintf("%s may need review after %s: %s.", title, report.Title, e.Reason)
	if report.Summary != "" {
		s += " Change summary: " + report.Summary
	}
	return s
}

// issueLinks collects the doc, change, commit and chat links of an issue
func issueLinks(report *models.ImpactReport, issue models.DocIssue) []models.Link {
	links := []models.Link{{Type: "doc", Label: issue.DocTitle, URL: issue.DocURL}}
	if c := report.Change; c != nil {
		if c.URL != "" {
			links = append(links, models.Link{Type: "change", Label: c.Identifier, URL: c.URL})
		}
		for _, commit := range c.Commits {
			if commit.URL == "" {
				continue
			}
			links = append(links, models.Link{Type: "commit", Label: "commit " + shortSHA(commit.SHA), URL: commit.URL})
		}
	}
	if report.Chat != nil && report.Chat.Permalink != "" {
		links = append(links, models.Link{Type: "chat", Label: "thread " + report.Chat.ThreadID, URL: report.Chat.Permalink})
	}
	return dedupLinks(links)
}

// dedupLinks drops links without a URL and repeated label+URL pairs
func dedupLinks(links []models.Link) []models.Link {
	seen := make(map[string]bool, len(links))
	out := make([]models.Link, 0, len(links))
	for _, l := range links {
		if l.URL == "" {
			continue
		}
		key := l.Label + "\x00" + l.URL
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, l)
	}
	return out
}

func shortSHA(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func mergeIDs(list []string, ids ...string) []string {
	out := append([]string(nil), list...)
	for _, id := range ids {
		if !contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
