package service

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rohankatakam/impactgraph/internal/errors"
	"github.com/rohankatakam/impactgraph/internal/git"
	"github.com/rohankatakam/impactgraph/internal/metrics"
	"github.com/rohankatakam/impactgraph/internal/models"
)

// RepoTarget is one repository to poll. With Path set the local checkout
// is read; otherwise the hosting service is queried.
type RepoTarget struct {
	Repo string `mapstructure:"repo" yaml:"repo"`
	Path string `mapstructure:"path" yaml:"path"`
}

// Key is the cursor key of the target
func (t RepoTarget) Key() string {
	if t.Repo != "" {
		return t.Repo
	}
	return t.Path
}

// PollResult summarizes one poll of one repository
type PollResult struct {
	Repo      string   `json:"repo"`
	Processed []string `json:"processed"`
	Skipped   int      `json:"skipped"`
	Failed    int      `json:"failed"`
	Error     string   `json:"error,omitempty"`
}

// pollItem is one commit waiting to be processed
type pollItem struct {
	id     string
	change func(ctx context.Context) (*models.GitChange, error)
}

// PollRepository processes the commits of a repository that are not in
// its cursor yet, oldest first, and saves the cursor. Re-running without
// new commits processes nothing.
func (s *Service) PollRepository(ctx context.Context, target RepoTarget) (PollResult, error) {
	key := target.Key()
	res := PollResult{Repo: key, Processed: []string{}}
	if key == "" {
		return res, errors.ValidationError("repository target needs a repo or a path")
	}
	if s.deps.Cursors == nil {
		return res, errors.ConfigError("cursor store not configured")
	}

	cursor, err := s.deps.Cursors.Get(ctx, key)
	if err != nil {
		return res, errors.PersistenceErrorf(err, "failed to read cursor for %s", key)
	}
	started := s.now().UTC()
	cursor.LastRunStartedAt = &started

	items, err := s.listItems(ctx, target)
	if err != nil {
		s.recordFailure(ctx, key, &cursor, err)
		res.Error = err.Error()
		return res, err
	}

	var firstErr error
	for i := len(items) - 1; i >= 0; i-- {
		item := items[i]
		if cursor.Seen(item.id) {
			res.Skipped++
			metrics.IngestedItems.WithLabelValues("git", "skipped").Inc()
			continue
		}
		if err := s.processItem(ctx, item); err != nil {
			s.logger.Warn("commit not processed", "repo", key, "id", item.id, "error", err)
			res.Failed++
			metrics.IngestedItems.WithLabelValues("git", "failed").Inc()
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		cursor.MarkProcessed(item.id, s.cfg.ProcessedIDLimit)
		cursor.LastCursor = item.id
		res.Processed = append(res.Processed, item.id)
		metrics.IngestedItems.WithLabelValues("git", "processed").Inc()
	}

	done := s.now().UTC()
	cursor.LastRunCompletedAt = &done
	if firstErr != nil {
		cursor.LastError = firstErr.Error()
		cursor.LastErrorAt = &done
		res.Error = firstErr.Error()
	} else {
		cursor.LastSuccessAt = &done
		cursor.LastError = ""
		cursor.LastErrorAt = nil
	}
	if err := s.deps.Cursors.Put(ctx, key, cursor); err != nil {
		return res, errors.PersistenceErrorf(err, "failed to save cursor for %s", key)
	}

	s.logger.Info("repository polled",
		"repo", key,
		"processed", len(res.Processed),
		"skipped", res.Skipped,
		"failed", res.Failed)
	return res, nil
}

func (s *Service) processItem(ctx context.Context, item pollItem) error {
	change, err := item.change(ctx)
	if err != nil {
		return err
	}
	_, err = s.deps.Pipeline.ProcessGitEvent(ctx, change, nil)
	return err
}

// listItems returns the newest commits of the target, newest first
func (s *Service) listItems(ctx context.Context, target RepoTarget) ([]pollItem, error) {
	if target.Path != "" {
		return s.localItems(ctx, target)
	}
	if s.deps.Source == nil {
		return nil, errors.ConfigErrorf("no change source configured for %s", target.Repo)
	}
	fctx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
	defer cancel()
	refs, err := s.deps.Source.ListRecentCommits(fctx, target.Repo, s.cfg.CommitWindow, time.Time{})
	if err != nil {
		return nil, err
	}
	items := make([]pollItem, 0, len(refs))
	for _, ref := range refs {
		sha := ref.SHA
		items = append(items, pollItem{
			id: sha,
			change: func(ctx context.Context) (*models.GitChange, error) {
				fctx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
				defer cancel()
				return s.deps.Source.FetchCommits(fctx, target.Repo, []string{sha})
			},
		})
	}
	return items, nil
}

func (s *Service) localItems(ctx context.Context, target RepoTarget) ([]pollItem, error) {
	src, err := git.NewLocalSource(ctx, target.Path, target.Repo)
	if err != nil {
		return nil, err
	}
	commits, err := src.RecentCommits(ctx, s.cfg.CommitWindow)
	if err != nil {
		return nil, errors.UpstreamErrorf(err, "failed to read history of %s", target.Path)
	}
	items := make([]pollItem, 0, len(commits))
	for _, c := range commits {
		commit := c
		items = append(items, pollItem{
			id: commit.SHA,
			change: func(ctx context.Context) (*models.GitChange, error) {
				return src.Change(ctx, []git.Commit{commit}), nil
			},
		})
	}
	return items, nil
}

func (s *Service) recordFailure(ctx context.Context, key string, cursor *models.CursorState, cause error) {
	at := s.now().UTC()
	cursor.LastRunCompletedAt = &at
	cursor.LastError = cause.Error()
	cursor.LastErrorAt = &at
	if err := s.deps.Cursors.Put(ctx, key, *cursor); err != nil {
		s.logger.Error("failed to save cursor", "repo", key, "error", err)
	}
}

// PollAll polls targets concurrently. One repository failing does not stop
// the others; its error is reported in its result.
func (s *Service) PollAll(ctx context.Context, targets []RepoTarget) []PollResult {
	results := make([]PollResult, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.PollConcurrency)
	for i, t := range targets {
		i, t := i, t
		g.Go(func() error {
			res, err := s.PollRepository(gctx, t)
			if err != nil && res.Error == "" {
				res.Error = err.Error()
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Run polls targets every interval until ctx is done. The first poll
// starts immediately.
func (s *Service) Run(ctx context.Context, targets []RepoTarget, interval time.Duration, onPoll func([]PollResult)) error {
	if len(targets) == 0 {
		return errors.ConfigError("no repositories to poll")
	}
	if interval <= 0 {
		return errors.ConfigErrorf("invalid poll interval %s", interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		results := s.PollAll(ctx, targets)
		if onPoll != nil {
			onPoll(results)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// String renders a one-line summary
func (r PollResult) String() string {
	out := fmt.Sprintf("%s: %d processed, %d skipped, %d failed", r.Repo, len(r.Processed), r.Skipped, r.Failed)
	if r.Error != "" {
		out += " (" + r.Error + ")"
	}
	return out
}
