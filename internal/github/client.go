// Package github fetches pull requests and commits from GitHub and turns
// them into change payloads, and posts pull request comments.
package github

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/go-github/v57/github"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/rohankatakam/impactgraph/internal/errors"
	"github.com/rohankatakam/impactgraph/internal/models"
)

// Config for the GitHub client
type Config struct {
	Token string `mapstructure:"token" yaml:"-"`
	// BaseURL selects a GitHub Enterprise API root; empty means github.com
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
	// RequestsPerSecond defaults to 1 (5000/hour leaves headroom)
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	MaxWorkers        int     `mapstructure:"max_workers" yaml:"max_workers"`
}

// Client wraps the GitHub API client with rate limiting and concurrency
type Client struct {
	client      *github.Client
	rateLimiter *rate.Limiter
	maxWorkers  int
	logger      *slog.Logger
}

// NewClient creates a GitHub client. An empty token gives an
// unauthenticated client with the public rate limit.
func NewClient(cfg Config) (*Client, error) {
	gh := github.NewClient(nil)
	if cfg.Token != "" {
		gh = gh.WithAuthToken(cfg.Token)
	}
	if cfg.BaseURL != "" {
		var err error
		gh, err = gh.WithEnterpriseURLs(cfg.BaseURL, cfg.BaseURL)
		if err != nil {
			return nil, errors.ConfigErrorf("invalid github base_url %q: %v", cfg.BaseURL, err)
		}
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 1
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 4
	}
	return &Client{
		client:      gh,
		rateLimiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		maxWorkers:  cfg.MaxWorkers,
		logger:      slog.Default().With("component", "github"),
	}, nil
}

// SplitRepo splits "owner/name"
func SplitRepo(repo string) (owner, name string, err error) {
	parts := strings.Split(strings.Trim(repo, "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errors.InputErrorf("repository %q must be owner/name", repo)
	}
	return parts[0], parts[1], nil
}

// PRIdentifier is the change identifier of a pull request, e.g. "repo-alpha#PR-42"
func PRIdentifier(repo string, number int) string {
	return fmt.Sprintf("%s#PR-%d", shortName(repo), number)
}

// CommitIdentifier is the change identifier of a single commit
func CommitIdentifier(repo, sha string) string {
	return fmt.Sprintf("%s@%s", shortName(repo), shortSHA(sha))
}

// FetchPullRequest loads a pull request with its changed files and commits.
// Files and commits are fetched concurrently.
func (c *Client) FetchPullRequest(ctx context.Context, repo string, number int) (*models.GitChange, error) {
	owner, name, err := SplitRepo(repo)
	if err != nil {
		return nil, err
	}
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	pr, _, err := c.client.PullRequests.Get(ctx, owner, name, number)
	if err != nil {
		return nil, errors.UpstreamErrorf(err, "fetch pull request %s#%d", repo, number)
	}

	var (
		files   []string
		commits []models.CommitRef
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		files, err = c.listPRFiles(gctx, owner, name, number)
		return err
	})
	g.Go(func() error {
		var err error
		commits, err = c.listPRCommits(gctx, owner, name, number)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	change := &models.GitChange{
		Identifier: PRIdentifier(repo, number),
		Repo:       owner + "/" + name,
		Title:      pr.GetTitle(),
		Summary:    pr.GetBody(),
		URL:        pr.GetHTMLURL(),
		Files:      files,
		Commits:    commits,
		PRNumber:   number,
		Author:     pr.GetUser().GetLogin(),
		Timestamp:  pr.GetUpdatedAt().Time,
		Metadata: map[string]string{
			"pr_number":   fmt.Sprint(number),
			"state":       pr.GetState(),
			"base_branch": pr.GetBase().GetRef(),
			"head_branch": pr.GetHead().GetRef(),
		},
	}
	c.logger.Debug("pull request fetched", "repo", repo, "number", number, "files", len(files), "commits", len(commits))
	return change, nil
}

func (c *Client) listPRFiles(ctx context.Context, owner, name string, number int) ([]string, error) {
	opts := &github.ListOptions{PerPage: 100}
	var files []string
	for {
		if err := c.wait(ctx); err != nil {
			return nil, err
		}
		page, resp, err := c.client.PullRequests.ListFiles(ctx, owner, name, number, opts)
		if err != nil {
			return nil, errors.UpstreamErrorf(err, "list files of %s/%s#%d", owner, name, number)
		}
		for _, f := range page {
			files = append(files, f.GetFilename())
			// renames touch the old location too
			if prev := f.GetPreviousFilename(); prev != "" {
				files = append(files, prev)
			}
		}
		if resp.NextPage == 0 {
			return files, nil
		}
		opts.Page = resp.NextPage
	}
}

func (c *Client) listPRCommits(ctx context.Context, owner, name string, number int) ([]models.CommitRef, error) {
	opts := &github.ListOptions{PerPage: 100}
	var commits []models.CommitRef
	for {
		if err := c.wait(ctx); err != nil {
			return nil, err
		}
		page, resp, err := c.client.PullRequests.ListCommits(ctx, owner, name, number, opts)
		if err != nil {
			return nil, errors.UpstreamErrorf(err, "list commits of %s/%s#%d", owner, name, number)
		}
		for _, rc := range page {
			commits = append(commits, commitRef(rc))
		}
		if resp.NextPage == 0 {
			return commits, nil
		}
		opts.Page = resp.NextPage
	}
}

// FetchCommits loads the given commits with their changed files and merges
// them into one change. Commits are fetched by a bounded worker pool.
func (c *Client) FetchCommits(ctx context.Context, repo string, shas []string) (*models.GitChange, error) {
	owner, name, err := SplitRepo(repo)
	if err != nil {
		return nil, err
	}
	if len(shas) == 0 {
		return nil, errors.ValidationError("at least one commit sha is required")
	}

	results := make([]*github.RepositoryCommit, len(shas))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.maxWorkers)
	for i, sha := range shas {
		g.Go(func() error {
			if err := c.wait(gctx); err != nil {
				return err
			}
			rc, _, err := c.client.Repositories.GetCommit(gctx, owner, name, sha, nil)
			if err != nil {
				return errors.UpstreamErrorf(err, "fetch commit %s of %s", sha, repo)
			}
			results[i] = rc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	change := &models.GitChange{Repo: owner + "/" + name}
	seen := make(map[string]bool)
	for _, rc := range results {
		ref := commitRef(rc)
		change.Commits = append(change.Commits, ref)
		for _, f := range rc.Files {
			for _, p := range []string{f.GetFilename(), f.GetPreviousFilename()} {
				if p != "" && !seen[p] {
					seen[p] = true
					change.Files = append(change.Files, p)
				}
			}
		}
		if ts := rc.GetCommit().GetAuthor().GetDate().Time; ts.After(change.Timestamp) {
			change.Timestamp = ts
			change.Author = rc.GetAuthor().GetLogin()
		}
	}

	first := change.Commits[0]
	change.Identifier = CommitIdentifier(repo, first.SHA)
	change.Title = firstLine(first.Message)
	change.URL = first.URL
	if len(change.Commits) > 1 {
		last := change.Commits[len(change.Commits)-1]
		change.Identifier = fmt.Sprintf("%s@%s..%s", shortName(repo), shortSHA(first.SHA), shortSHA(last.SHA))
		change.Title = fmt.Sprintf("%d commits starting with %s", len(change.Commits), change.Title)
	}
	return change, nil
}

// ListRecentCommits returns up to limit commit shas of the default branch,
// newest first
func (c *Client) ListRecentCommits(ctx context.Context, repo string, limit int, since time.Time) ([]models.CommitRef, error) {
	owner, name, err := SplitRepo(repo)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}
	opts := &github.CommitsListOptions{
		Since:       since,
		ListOptions: github.ListOptions{PerPage: min(limit, 100)},
	}

	var out []models.CommitRef
	for len(out) < limit {
		if err := c.wait(ctx); err != nil {
			return nil, err
		}
		page, resp, err := c.client.Repositories.ListCommits(ctx, owner, name, opts)
		if err != nil {
			return nil, errors.UpstreamErrorf(err, "list commits of %s", repo)
		}
		for _, rc := range page {
			if len(out) == limit {
				break
			}
			out = append(out, commitRef(rc))
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return out, nil
}

// CommentOnPR posts body as a comment on the pull request
func (c *Client) CommentOnPR(ctx context.Context, repo string, number int, body string) error {
	owner, name, err := SplitRepo(repo)
	if err != nil {
		return err
	}
	if err := c.wait(ctx); err != nil {
		return err
	}
	_, _, err = c.client.Issues.CreateComment(ctx, owner, name, number, &github.IssueComment{Body: github.String(body)})
	if err != nil {
		return errors.UpstreamErrorf(err, "comment on %s#%d", repo, number)
	}
	return nil
}

func (c *Client) wait(ctx context.Context) error {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return errors.UpstreamError(err, "github rate limiter")
	}
	return nil
}

func commitRef(rc *github.RepositoryCommit) models.CommitRef {
	return models.CommitRef{
		SHA:     rc.GetSHA(),
		URL:     rc.GetHTMLURL(),
		Message: rc.GetCommit().GetMessage(),
	}
}

func shortName(repo string) string {
	if i := strings.LastIndex(repo, "/"); i >= 0 {
		return repo[i+1:]
	}
	return repo
}

func shortSHA(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return strings.TrimSpace(s)
}
