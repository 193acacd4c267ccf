// Package notify decides whether an impact deserves a chat message or a
// pull request comment, and renders both.
package notify

import (
	"context"
	"log/slog"
	"regexp"
	"strconv"
	"time"

	"github.com/rohankatakam/impactgraph/internal/metrics"
	"github.com/rohankatakam/impactgraph/internal/models"
)

// Config controls the gate
type Config struct {
	Enabled        bool               `mapstructure:"enabled" yaml:"enabled"`
	MinImpactLevel models.ImpactLevel `mapstructure:"min_impact_level" yaml:"min_impact_level"`
	Channel        string             `mapstructure:"channel" yaml:"channel"`
	CommentOnPR    bool               `mapstructure:"comment_on_pr" yaml:"comment_on_pr"`
	Timeout        time.Duration      `mapstructure:"timeout" yaml:"timeout"`
}

// ChatPoster posts a message to a chat channel
type ChatPoster interface {
	PostMessage(ctx context.Context, channel, text string) error
}

// PRCommenter comments on a pull request of repo
type PRCommenter interface {
	CommentOnPR(ctx context.Context, repo string, number int, body string) error
}

// Gate sends notifications for impacts at or above a threshold
type Gate struct {
	cfg    Config
	chat   ChatPoster
	pr     PRCommenter
	logger *slog.Logger
}

// NewGate creates a gate. chat and pr may be nil.
func NewGate(cfg Config, chat ChatPoster, pr PRCommenter) *Gate {
	if !cfg.MinImpactLevel.Valid() {
		cfg.MinImpactLevel = models.ImpactMedium
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Gate{
		cfg:    cfg,
		chat:   chat,
		pr:     pr,
		logger: slog.Default().With("component", "notify"),
	}
}

// MaybeNotify returns true when at least one notification was delivered
func (g *Gate) MaybeNotify(ctx context.Context, report *models.ImpactReport, issues []models.DocIssue) bool {
	if !g.cfg.Enabled || report == nil || len(issues) == 0 {
		return false
	}
	if !g.ShouldNotify(report, issues) {
		metrics.Notifications.WithLabelValues("suppressed").Inc()
		g.logger.Debug("impact below notification threshold",
			"change_id", report.ChangeID,
			"severity", MaxSeverity(report, issues),
			"threshold", g.cfg.MinImpactLevel)
		return false
	}
	metrics.Notifications.WithLabelValues("notify").Inc()

	summary := BuildSummary(report, issues)
	delivered := false

	if channel := g.channelFor(report); g.chat != nil && channel != "" {
		ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
		err := g.chat.PostMessage(ctx, channel, summary.RenderChat())
		cancel()
		if err != nil {
			g.logger.Warn("chat notification failed", "change_id", report.ChangeID, "channel", channel, "error", err)
		} else {
			delivered = true
		}
	}

	if g.cfg.CommentOnPR && g.pr != nil && summary.PRNumber > 0 && summary.Repo != "" {
		ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
		err := g.pr.CommentOnPR(ctx, summary.Repo, summary.PRNumber, summary.RenderPRComment())
		cancel()
		if err != nil {
			g.logger.Warn("pull request comment failed", "change_id", report.ChangeID, "pr", summary.PRNumber, "error", err)
		} else {
			delivered = true
		}
	}
	return delivered
}

// ShouldNotify compares the highest severity against the threshold
func (g *Gate) ShouldNotify(report *models.ImpactReport, issues []models.DocIssue) bool {
	if len(issues) == 0 {
		return false
	}
	return MaxSeverity(report, issues).Rank() >= g.cfg.MinImpactLevel.Rank()
}

func (g *Gate) channelFor(report *models.ImpactReport) string {
	if g.cfg.Channel != "" {
		return g.cfg.Channel
	}
	if report.Chat != nil {
		return report.Chat.Channel
	}
	return ""
}

// MaxSeverity is the highest issue severity, or the report level when no
// issue carries one
func MaxSeverity(report *models.ImpactReport, issues []models.DocIssue) models.Severity {
	var top models.Severity
	for _, is := range issues {
		if is.Severity.Rank() > top.Rank() {
			top = is.Severity
		}
	}
	if top == "" && report != nil {
		top = models.Severity(report.Level)
	}
	return top
}

var prPattern = regexp.MustCompile(`(?:#PR-|/pull/|/pulls/|#)(\d+)`)

// ExtractPRNumber finds a pull request number in the change metadata,
// falling back to the change context of each issue. Zero means none.
func ExtractPRNumber(report *models.ImpactReport, issues []models.DocIssue) int {
	if report != nil && report.Change != nil {
		c := report.Change
		if c.PRNumber > 0 {
			return c.PRNumber
		}
		if n, err := strconv.Atoi(c.Metadata["pr_number"]); err == nil && n > 0 {
			return n
		}
		if n := matchPR(c.URL, c.Identifier); n > 0 {
			return n
		}
	}
	for _, is := range issues {
		if n := matchPR(is.ChangeContext.URL, is.ChangeContext.Identifier); n > 0 {
			return n
		}
	}
	return 0
}

func matchPR(values ...string) int {
	for _, v := range values {
		m := prPattern.FindStringSubmatch(v)
		if m == nil {
			continue
		}
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			return n
		}
	}
	return 0
}
