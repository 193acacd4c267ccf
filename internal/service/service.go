// Package service adapts raw git and chat inputs into pipeline runs,
// keeps per-repository ingestion cursors and answers status queries.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/rohankatakam/impactgraph/internal/analysis"
	"github.com/rohankatakam/impactgraph/internal/chat"
	"github.com/rohankatakam/impactgraph/internal/depgraph"
	"github.com/rohankatakam/impactgraph/internal/docissues"
	"github.com/rohankatakam/impactgraph/internal/errors"
	"github.com/rohankatakam/impactgraph/internal/evidence"
	"github.com/rohankatakam/impactgraph/internal/git"
	"github.com/rohankatakam/impactgraph/internal/github"
	"github.com/rohankatakam/impactgraph/internal/models"
	"github.com/rohankatakam/impactgraph/internal/pipeline"
	"github.com/rohankatakam/impactgraph/internal/storage"
)

// ChangeSource fetches changes from a git hosting service
type ChangeSource interface {
	FetchPullRequest(ctx context.Context, repo string, number int) (*models.GitChange, error)
	FetchCommits(ctx context.Context, repo string, shas []string) (*models.GitChange, error)
	ListRecentCommits(ctx context.Context, repo string, limit int, since time.Time) ([]models.CommitRef, error)
}

// ThreadReader reads chat threads
type ThreadReader interface {
	Thread(ctx context.Context, channel, ts string) (*chat.Message, error)
	PermalinkFor(channel, ts string) string
}

// Config tunes ingestion
type Config struct {
	// CommitWindow is how many recent commits a poll inspects
	CommitWindow int `mapstructure:"commit_window" yaml:"commit_window"`
	// ProcessedIDLimit bounds the processed id list of a cursor
	ProcessedIDLimit int `mapstructure:"processed_id_limit" yaml:"processed_id_limit"`
	// RecentChanges is how many recent commits per repo a chat complaint
	// pulls in as seed data; zero disables the lookup
	RecentChanges int `mapstructure:"recent_changes" yaml:"recent_changes"`
	// PollConcurrency bounds concurrent repositories in PollAll
	PollConcurrency int           `mapstructure:"poll_concurrency" yaml:"poll_concurrency"`
	FetchTimeout    time.Duration `mapstructure:"fetch_timeout" yaml:"fetch_timeout"`
}

// DefaultConfig returns the ingestion defaults
func DefaultConfig() Config {
	return Config{
		CommitWindow:     20,
		ProcessedIDLimit: 200,
		RecentChanges:    3,
		PollConcurrency:  4,
		FetchTimeout:     20 * time.Second,
	}
}

// Deps are the collaborators of the facade. Pipeline is required.
type Deps struct {
	Pipeline     *pipeline.Pipeline
	Analyzer     *analysis.Analyzer
	Evidence     *evidence.Formatter
	Tracker      *docissues.Tracker
	Cursors      storage.CursorStore
	Source       ChangeSource
	Threads      ThreadReader
	EventLogPath string
	Logger       *slog.Logger
	Clock        func() time.Time
}

// Service is the entry point used by the CLI and the MCP server
type Service struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger
	now    func() time.Time
}

// New creates the facade
func New(cfg Config, deps Deps) *Service {
	def := DefaultConfig()
	if cfg.CommitWindow <= 0 {
		cfg.CommitWindow = def.CommitWindow
	}
	if cfg.ProcessedIDLimit <= 0 {
		cfg.ProcessedIDLimit = def.ProcessedIDLimit
	}
	if cfg.RecentChanges < 0 {
		cfg.RecentChanges = 0
	}
	if cfg.PollConcurrency <= 0 {
		cfg.PollConcurrency = def.PollConcurrency
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = def.FetchTimeout
	}
	if deps.Analyzer == nil {
		deps.Analyzer = analysis.New(analysis.DefaultConfig())
	}
	if deps.Evidence == nil {
		deps.Evidence = evidence.New(evidence.DefaultConfig(), nil)
	}
	s := &Service{cfg: cfg, deps: deps, logger: deps.Logger, now: deps.Clock}
	if s.logger == nil {
		s.logger = slog.Default().With("component", "service")
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// ProcessGitEvent runs the git flow for a prepared change
func (s *Service) ProcessGitEvent(ctx context.Context, change *models.GitChange, complaint *models.ChatComplaint) (*pipeline.Result, error) {
	return s.deps.Pipeline.ProcessGitEvent(ctx, change, complaint)
}

// ProcessPullRequest fetches a pull request and runs the git flow. If the
// fetch fails the run continues with an empty file list so the caller
// still gets a report.
func (s *Service) ProcessPullRequest(ctx context.Context, repo string, number int) (*pipeline.Result, error) {
	if _, _, err := github.SplitRepo(repo); err != nil {
		return nil, errors.ValidationErrorf("invalid repository %q: must be owner/name", repo)
	}
	if number <= 0 {
		return nil, errors.ValidationErrorf("invalid pull request number %d", number)
	}

	var change *models.GitChange
	if s.deps.Source != nil {
		fctx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
		var err error
		change, err = s.deps.Source.FetchPullRequest(fctx, repo, number)
		cancel()
		if err != nil {
			s.logger.Warn("pull request fetch failed, analyzing without files", "repo", repo, "number", number, "error", err)
			change = nil
		}
	}
	if change == nil {
		change = &models.GitChange{
			Identifier: github.PRIdentifier(repo, number),
			Repo:       repo,
			PRNumber:   number,
			URL:        fmt.Sprintf("https://github.com/%s/pull/%d", repo, number),
			Metadata:   map[string]string{"pr_number": fmt.Sprint(number), "fetch": "unavailable"},
		}
	}
	return s.deps.Pipeline.ProcessGitEvent(ctx, change, nil)
}

// ProcessCommits fetches commits and runs the git flow on their union
func (s *Service) ProcessCommits(ctx context.Context, repo string, shas []string) (*pipeline.Result, error) {
	shas = nonEmpty(shas)
	if len(shas) == 0 {
		return nil, errors.ValidationError("at least one commit sha is required")
	}

	var change *models.GitChange
	if s.deps.Source != nil {
		fctx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
		var err error
		change, err = s.deps.Source.FetchCommits(fctx, repo, shas)
		cancel()
		if err != nil {
			s.logger.Warn("commit fetch failed, analyzing without files", "repo", repo, "commits", len(shas), "error", err)
			change = nil
		}
	}
	if change == nil {
		change = &models.GitChange{
			Identifier: github.CommitIdentifier(repo, shas[0]),
			Repo:       repo,
			Metadata:   map[string]string{"fetch": "unavailable"},
		}
		for _, sha := range shas {
			change.Commits = append(change.Commits, models.CommitRef{SHA: sha})
		}
	}
	return s.deps.Pipeline.ProcessGitEvent(ctx, change, nil)
}

// FilesRequest describes a change given as raw paths
type FilesRequest struct {
	Repo       string
	Files      []string
	Identifier string
	Title      string
	Summary    string
}

// ProcessFiles runs the git flow on raw file paths. Without an identifier
// one is derived from the repo and file set, so repeats deduplicate.
func (s *Service) ProcessFiles(ctx context.Context, req FilesRequest) (*pipeline.Result, error) {
	files := nonEmpty(req.Files)
	if len(files) == 0 {
		return nil, errors.ValidationError("at least one file path is required")
	}
	id := req.Identifier
	if id == "" {
		id = FilesIdentifier(req.Repo, files)
	}
	change := &models.GitChange{
		Identifier: id,
		Repo:       req.Repo,
		Title:      firstNonEmpty(req.Title, fmt.Sprintf("%d changed file(s) in %s", len(files), firstNonEmpty(req.Repo, "workspace"))),
		Summary:    req.Summary,
		Files:      files,
		Timestamp:  s.now().UTC(),
	}
	return s.deps.Pipeline.ProcessGitEvent(ctx, change, nil)
}

// ProcessDiff parses a unified diff and runs the git flow on its files
func (s *Service) ProcessDiff(ctx context.Context, repo, patch, identifier string) (*pipeline.Result, error) {
	summary, err := git.ParseDiff(patch)
	if err != nil {
		return nil, errors.ValidationErrorf("cannot read diff: %v", err)
	}
	return s.ProcessFiles(ctx, FilesRequest{
		Repo:       repo,
		Files:      summary.Paths(),
		Identifier: identifier,
		Title:      fmt.Sprintf("Diff touching %d file(s) (+%d/-%d)", len(summary.Files), summary.Added, summary.Deleted),
	})
}

// ProcessChatComplaint completes a complaint from the chat platform when
// only the thread reference is given, pulls recent commits of the repos it
// mentions and runs the chat flow
func (s *Service) ProcessChatComplaint(ctx context.Context, complaint *models.ChatComplaint) (*pipeline.Result, error) {
	if complaint == nil {
		return nil, errors.ValidationError("chat complaint is required")
	}
	c := *complaint
	if s.deps.Threads != nil && c.Channel != "" && c.ThreadID != "" {
		if strings.TrimSpace(c.Text) == "" {
			fctx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
			msg, err := s.deps.Threads.Thread(fctx, c.Channel, c.ThreadID)
			cancel()
			if err != nil {
				s.logger.Warn("chat thread fetch failed", "channel", c.Channel, "thread", c.ThreadID, "error", err)
			} else {
				c.Text = msg.Text
				c.Permalink = firstNonEmpty(c.Permalink, msg.Permalink)
			}
		}
		if c.Permalink == "" {
			c.Permalink = s.deps.Threads.PermalinkFor(c.Channel, c.ThreadID)
		}
	}

	return s.deps.Pipeline.ProcessChatComplaint(ctx, &c, s.recentChangesFor(ctx, &c))
}

// recentChangesFor fetches the latest commits of every repo owning a
// component the complaint mentions. Failures only shrink the result.
func (s *Service) recentChangesFor(ctx context.Context, c *models.ChatComplaint) []*models.GitChange {
	if s.deps.Source == nil || s.cfg.RecentChanges == 0 {
		return nil
	}
	g := s.deps.Pipeline.Graph()
	comps, _ := g.InferReferences(c.Text)
	comps = g.CanonicalAll(append(append([]string{}, c.ComponentIDs...), comps...))

	var repos []string
	seen := make(map[string]bool)
	for _, id := range comps {
		if comp, ok := g.Component(id); ok && comp.Repo != "" && !seen[comp.Repo] {
			seen[comp.Repo] = true
			repos = append(repos, comp.Repo)
		}
	}
	sort.Strings(repos)

	var changes []*models.GitChange
	for _, repo := range repos {
		if _, _, err := github.SplitRepo(repo); err != nil {
			continue
		}
		fctx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
		refs, err := s.deps.Source.ListRecentCommits(fctx, repo, s.cfg.RecentChanges, time.Time{})
		if err == nil && len(refs) > 0 {
			var change *models.GitChange
			change, err = s.deps.Source.FetchCommits(fctx, repo, shasOf(refs))
			if err == nil {
				changes = append(changes, change)
			}
		}
		cancel()
		if err != nil {
			s.logger.Warn("recent changes unavailable for complaint", "repo", repo, "error", err)
		}
	}
	return changes
}

// Graph returns the graph snapshot analyses currently use
func (s *Service) Graph() *depgraph.Graph {
	return s.deps.Pipeline.Graph()
}

// ImpactOf answers a change-impact query for components and artifacts.
// Nothing is persisted.
func (s *Service) ImpactOf(ctx context.Context, componentIDs, artifactIDs []string) (*models.ImpactReport, error) {
	g := s.deps.Pipeline.Graph()
	report, err := s.deps.Analyzer.AnalyzeEntities(g, componentIDs, artifactIDs)
	if err != nil {
		return nil, err
	}
	s.deps.Evidence.Annotate(ctx, report)
	report.Reasoning = pipeline.BuildReasoning(report, g)
	return report, nil
}

// ListDocIssues returns stored issues matching f
func (s *Service) ListDocIssues(ctx context.Context, f docissues.Filter) ([]models.DocIssue, error) {
	if s.deps.Tracker == nil {
		return []models.DocIssue{}, nil
	}
	return s.deps.Tracker.List(ctx, f)
}

// SetDocIssueState moves an issue to open, resolved or closed
func (s *Service) SetDocIssueState(ctx context.Context, id string, state models.IssueState) (*models.DocIssue, error) {
	if s.deps.Tracker == nil {
		return nil, errors.ConfigError("doc issue store not configured")
	}
	return s.deps.Tracker.SetState(ctx, id, state)
}

// CreateManualIssue files an operator issue
func (s *Service) CreateManualIssue(ctx context.Context, req docissues.ManualIssue) (*models.DocIssue, error) {
	if s.deps.Tracker == nil {
		return nil, errors.ConfigError("doc issue store not configured")
	}
	return s.deps.Tracker.CreateManualIssue(ctx, req, s.deps.Pipeline.Graph())
}

// FilesIdentifier derives a stable change id from a repo and file set
func FilesIdentifier(repo string, files []string) string {
	sorted := append([]string(nil), files...)
	sort.Strings(sorted)
	sum := sha256.Sum256([]byte(repo + "\n" + strings.Join(sorted, "\n")))
	name := repo
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	return firstNonEmpty(name, "workspace") + "#files-" + hex.EncodeToString(sum[:])[:12]
}

func shasOf(refs []models.CommitRef) []string {
	out := make([]string, 0, len(refs))
	for _, r := range refs {
		out = append(out, r.SHA)
	}
	return out
}

func nonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
