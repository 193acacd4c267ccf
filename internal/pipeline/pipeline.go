// Package pipeline sequences analysis, evidence, doc issues, the audit
// event and notifications for git changes and chat complaints.
package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/rohankatakam/impactgraph/internal/analysis"
	"github.com/rohankatakam/impactgraph/internal/audit"
	"github.com/rohankatakam/impactgraph/internal/depgraph"
	"github.com/rohankatakam/impactgraph/internal/docissues"
	"github.com/rohankatakam/impactgraph/internal/errors"
	"github.com/rohankatakam/impactgraph/internal/evidence"
	"github.com/rohankatakam/impactgraph/internal/metrics"
	"github.com/rohankatakam/impactgraph/internal/models"
	"github.com/rohankatakam/impactgraph/internal/notify"
)

// Deps are the collaborators of a pipeline. Graph and Analyzer are
// required; every other step is skipped when nil.
type Deps struct {
	Graph    *depgraph.Holder
	Analyzer *analysis.Analyzer
	Evidence *evidence.Formatter
	Tracker  *docissues.Tracker
	Audit    *audit.Writer
	Notifier *notify.Gate
	Logger   *slog.Logger
}

// Pipeline runs one change event at a time per call; calls may run
// concurrently.
type Pipeline struct {
	deps   Deps
	logger *slog.Logger
}

// Result is everything one run produced
type Result struct {
	Report   *models.ImpactReport `json:"report"`
	Issues   []models.DocIssue    `json:"doc_issues"`
	Audit    audit.WriteResult    `json:"-"`
	Notified bool                 `json:"notified"`
}

// New creates a pipeline
func New(deps Deps) *Pipeline {
	if deps.Analyzer == nil {
		deps.Analyzer = analysis.New(analysis.DefaultConfig())
	}
	if deps.Evidence == nil {
		deps.Evidence = evidence.New(evidence.DefaultConfig(), nil)
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "pipeline")
	}
	return &Pipeline{deps: deps, logger: logger}
}

// Graph returns the graph analyses currently run against
func (p *Pipeline) Graph() *depgraph.Graph {
	return p.deps.Graph.Current()
}

// Holder returns the graph holder, which may be nil
func (p *Pipeline) Holder() *depgraph.Holder {
	return p.deps.Graph
}

// ProcessGitEvent analyzes a code change, optionally correlated with a
// chat complaint, and runs the shared tail
func (p *Pipeline) ProcessGitEvent(ctx context.Context, change *models.GitChange, chat *models.ChatComplaint) (*Result, error) {
	if change == nil {
		return nil, errors.ValidationError("change is required")
	}
	if change.Identifier == "" {
		return nil, errors.ValidationError("change identifier is required")
	}
	start := time.Now()
	g := p.Graph()

	report := p.deps.Analyzer.Analyze(g, change, chat, nil)
	return p.finish(ctx, g, report, start), nil
}

// ProcessChatComplaint infers the components a complaint refers to and
// analyzes them. With recent changes, their files drive the analysis and
// the complaint is correlated against the result; without, the inferred
// components seed the analysis directly.
func (p *Pipeline) ProcessChatComplaint(ctx context.Context, complaint *models.ChatComplaint, recent []*models.GitChange) (*Result, error) {
	if complaint == nil {
		return nil, errors.ValidationError("chat complaint is required")
	}
	if strings.TrimSpace(complaint.Text) == "" && len(complaint.ComponentIDs) == 0 && len(complaint.APIIDs) == 0 {
		return nil, errors.ValidationError("chat complaint needs text or referenced components")
	}
	start := time.Now()
	g := p.Graph()

	c := *complaint
	// identity comes from the complaint as received, before inference
	c.ThreadID = complaint.Key()
	comps, apis := g.InferReferences(c.Text)
	c.ComponentIDs = g.CanonicalAll(append(append([]string{}, c.ComponentIDs...), comps...))
	c.APIIDs = g.CanonicalAll(append(append([]string{}, c.APIIDs...), apis...))
	for _, api := range c.APIIDs {
		if ep, ok := g.Endpoint(api); ok {
			c.ComponentIDs = g.CanonicalAll(append(c.ComponentIDs, ep.ComponentID))
		}
	}

	changes := nonNilChanges(recent)
	var report *models.ImpactReport
	if len(changes) == 0 {
		report = p.deps.Analyzer.Analyze(g, nil, &c, c.ComponentIDs)
	} else {
		primary, seeds := mergeChanges(g, changes)
		report = p.deps.Analyzer.Analyze(g, primary, &c, seeds)
		report.Metadata["seed_changes"] = changeIDs(changes)
	}
	report.SourceKind = models.SourceChat
	report.ChangeID = c.ChangeID()
	report.Title = "Chat complaint in " + firstNonEmpty(c.Channel, "chat")
	report.Summary = c.Text
	if report.Change == nil {
		report.Metadata["repo"] = repoForComponents(g, c.ComponentIDs)
	}

	p.logger.Debug("chat complaint resolved",
		"thread", c.ThreadID,
		"components", c.ComponentIDs,
		"apis", c.APIIDs,
		"recent_changes", len(changes))
	return p.finish(ctx, g, report, start), nil
}

// finish runs the shared tail: evidence, reasoning, doc issues, audit and
// notification. Each step degrades on failure.
func (p *Pipeline) finish(ctx context.Context, g *depgraph.Graph, report *models.ImpactReport, start time.Time) *Result {
	p.deps.Evidence.Annotate(ctx, report)
	report.Reasoning = BuildReasoning(report, g)

	res := &Result{Report: report, Issues: []models.DocIssue{}}
	if p.deps.Tracker != nil {
		issues, err := p.deps.Tracker.CreateFromImpact(ctx, report, g)
		if err != nil {
			p.logger.Error("doc issue persistence failed, continuing without issues",
				"change_id", report.ChangeID, "error", err)
		} else {
			res.Issues = issues
		}
	}
	if p.deps.Audit != nil {
		res.Audit = p.deps.Audit.Write(ctx, report, g, res.Issues)
	}
	if p.deps.Notifier != nil {
		res.Notified = p.deps.Notifier.MaybeNotify(ctx, report, res.Issues)
	}

	source := string(report.SourceKind)
	metrics.ImpactRuns.WithLabelValues(source, string(report.Level)).Inc()
	metrics.AnalysisDuration.WithLabelValues(source).Observe(time.Since(start).Seconds())

	p.logger.Info("impact processed",
		"change_id", report.ChangeID,
		"source", source,
		"level", report.Level,
		"docs", len(report.ImpactedDocs),
		"doc_issues", len(res.Issues),
		"notified", res.Notified,
		"duration", time.Since(start))
	return res
}

// mergeChanges folds changes of the primary (first) change's repo into one
// payload. Files of other repos are mapped to components and returned as
// seeds.
func mergeChanges(g *depgraph.Graph, changes []*models.GitChange) (*models.GitChange, []string) {
	first := changes[0]
	merged := *first
	merged.Files = append([]string{}, first.Files...)
	merged.Commits = append([]models.CommitRef{}, first.Commits...)

	var seeds []string
	for _, ch := range changes[1:] {
		if sameRepo(g, ch.Repo, first.Repo) {
			merged.Files = appendUnique(merged.Files, ch.Files...)
			merged.Commits = append(merged.Commits, ch.Commits...)
			continue
		}
		for _, f := range ch.Files {
			seeds = appendUnique(seeds, g.ComponentsForFile(ch.Repo, f)...)
		}
	}
	return &merged, seeds
}

func sameRepo(g *depgraph.Graph, a, b string) bool {
	if strings.EqualFold(a, b) {
		return true
	}
	ra, okA := g.Repository(a)
	rb, okB := g.Repository(b)
	return okA && okB && ra.ID == rb.ID
}

func repoForComponents(g *depgraph.Graph, ids []string) string {
	for _, id := range ids {
		if c, ok := g.Component(id); ok && c.Repo != "" {
			return c.Repo
		}
	}
	return ""
}

func nonNilChanges(changes []*models.GitChange) []*models.GitChange {
	out := make([]*models.GitChange, 0, len(changes))
	for _, c := range changes {
		if c != nil {
			out = append(out, c)
		}
	}
	return out
}

func changeIDs(changes []*models.GitChange) string {
	ids := make([]string, 0, len(changes))
	for _, c := range changes {
		ids = append(ids, c.Identifier)
	}
	return strings.Join(ids, ",")
}

func appendUnique(list []string, values ...string) []string {
	for _, v := range values {
		found := false
		for _, x := range list {
			if x == v {
				found = true
				break
			}
		}
		if !found && v != "" {
			list = append(list, v)
		}
	}
	return list
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
