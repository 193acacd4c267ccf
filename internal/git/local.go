package git

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rohankatakam/impactgraph/internal/errors"
	"github.com/rohankatakam/impactgraph/internal/models"
)

// field and record separators for git log output
const (
	fieldSep  = "\x1f"
	recordSep = "\x1e"
)

// LocalSource reads changes from a local checkout with the git binary
type LocalSource struct {
	dir  string
	repo string
	// commitURL, when set, formats a commit link from a sha
	commitURL string
}

// NewLocalSource opens the checkout at dir. repo is the repository name
// used for file mapping; when empty it is derived from the origin remote.
func NewLocalSource(ctx context.Context, dir, repo string) (*LocalSource, error) {
	s := &LocalSource{dir: dir, repo: repo}
	if _, err := s.run(ctx, "rev-parse", "--is-inside-work-tree"); err != nil {
		return nil, errors.InputErrorf("%s is not a git repository", dir)
	}
	if remote, err := s.run(ctx, "config", "--get", "remote.origin.url"); err == nil {
		if owner, name, err := ParseRepoURL(strings.TrimSpace(remote)); err == nil {
			if s.repo == "" {
				s.repo = owner + "/" + name
			}
			if strings.Contains(remote, "github.com") {
				s.commitURL = fmt.Sprintf("https://github.com/%s/%s/commit/", owner, name)
			}
		}
	}
	if s.repo == "" {
		return nil, errors.InputErrorf("cannot determine repository name for %s; set it explicitly", dir)
	}
	return s, nil
}

// Repo is the repository name changes are attributed to
func (s *LocalSource) Repo() string {
	return s.repo
}

// Commit is one commit of the local history
type Commit struct {
	SHA       string
	Author    string
	Timestamp time.Time
	Subject   string
	Files     []string
}

// RecentCommits returns up to limit commits of HEAD, newest first, each
// with its changed files
func (s *LocalSource) RecentCommits(ctx context.Context, limit int) ([]Commit, error) {
	if limit <= 0 {
		limit = 20
	}
	out, err := s.run(ctx, "log", fmt.Sprintf("-n%d", limit), "--name-only",
		"--format="+recordSep+"%H"+fieldSep+"%an"+fieldSep+"%aI"+fieldSep+"%s")
	if err != nil {
		return nil, err
	}
	return parseLog(out), nil
}

// Change builds a change payload from the given commits of the checkout
func (s *LocalSource) Change(ctx context.Context, commits []Commit) *models.GitChange {
	change := &models.GitChange{Repo: s.repo}
	seen := make(map[string]bool)
	for _, c := range commits {
		change.Commits = append(change.Commits, models.CommitRef{SHA: c.SHA, URL: s.linkFor(c.SHA), Message: c.Subject})
		for _, f := range c.Files {
			if !seen[f] {
				seen[f] = true
				change.Files = append(change.Files, f)
			}
		}
		if c.Timestamp.After(change.Timestamp) {
			change.Timestamp = c.Timestamp
			change.Author = c.Author
		}
	}
	if len(commits) > 0 {
		change.Identifier = fmt.Sprintf("%s@%s", shortRepo(s.repo), short(commits[0].SHA))
		change.Title = commits[0].Subject
		change.URL = s.linkFor(commits[0].SHA)
	}
	return change
}

// WorkingTreeFiles lists uncommitted changes: staged only, or everything
// that differs from HEAD
func (s *LocalSource) WorkingTreeFiles(ctx context.Context, stagedOnly bool) ([]string, error) {
	args := []string{"diff", "--name-only", "HEAD"}
	if stagedOnly {
		args = []string{"diff", "--cached", "--name-only", "--diff-filter=ACMRD"}
	}
	out, err := s.run(ctx, args...)
	if err != nil {
		return nil, err
	}
	return splitLines(out), nil
}

// HeadSHA returns the current commit
func (s *LocalSource) HeadSHA(ctx context.Context) (string, error) {
	out, err := s.run(ctx, "rev-parse", "HEAD")
	return strings.TrimSpace(out), err
}

func (s *LocalSource) linkFor(sha string) string {
	if s.commitURL == "" {
		return ""
	}
	return s.commitURL + sha
}

func (s *LocalSource) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = s.dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return "", errors.UpstreamErrorf(err, "git %s failed: %s", args[0], strings.TrimSpace(stderr.String()))
	}
	return string(out), nil
}

func parseLog(out string) []Commit {
	var commits []Commit
	for _, rec := range strings.Split(out, recordSep) {
		rec = strings.TrimLeft(rec, "\n")
		if rec == "" {
			continue
		}
		header, rest, _ := strings.Cut(rec, "\n")
		fields := strings.Split(header, fieldSep)
		if len(fields) != 4 {
			continue
		}
		c := Commit{SHA: fields[0], Author: fields[1], Subject: fields[3], Files: splitLines(rest)}
		if ts, err := time.Parse(time.RFC3339, fields[2]); err == nil {
			c.Timestamp = ts
		}
		commits = append(commits, c)
	}
	return commits
}

func splitLines(s string) []string {
	var out []string
	sc := bufio.NewScanner(strings.NewReader(s))
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			out = append(out, line)
		}
	}
	return out
}

func shortRepo(repo string) string {
	if i := strings.LastIndex(repo, "/"); i >= 0 {
		return repo[i+1:]
	}
	return repo
}

func short(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}
