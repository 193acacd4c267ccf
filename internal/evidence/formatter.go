// Package evidence turns an impact report into ordered, human-readable
// bullets and a one-paragraph summary.
package evidence

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rohankatakam/impactgraph/internal/errors"
	"github.com/rohankatakam/impactgraph/internal/llm"
	"github.com/rohankatakam/impactgraph/internal/metrics"
	"github.com/rohankatakam/impactgraph/internal/models"
)

// Config bounds evidence output
type Config struct {
	MaxBullets     int           `mapstructure:"max_bullets" yaml:"max_bullets"`
	PromptMaxChars int           `mapstructure:"prompt_max_chars" yaml:"prompt_max_chars"`
	Timeout        time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// DefaultConfig returns the default bounds
func DefaultConfig() Config {
	return Config{MaxBullets: 8, PromptMaxChars: 4000, Timeout: 15 * time.Second}
}

const systemPrompt = "You summarize the impact of a code change for engineers. " +
	"Write one short paragraph using only the facts given. Do not invent components, docs or numbers."

// Formatter annotates reports with evidence
type Formatter struct {
	cfg    Config
	gen    llm.Generator
	logger *slog.Logger
}

// New creates a formatter. gen may be nil.
func New(cfg Config, gen llm.Generator) *Formatter {
	def := DefaultConfig()
	if cfg.MaxBullets <= 0 {
		cfg.MaxBullets = def.MaxBullets
	}
	if cfg.PromptMaxChars <= 0 {
		cfg.PromptMaxChars = def.PromptMaxChars
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return &Formatter{
		cfg:    cfg,
		gen:    gen,
		logger: slog.Default().With("component", "evidence"),
	}
}

// Annotate fills Evidence, EvidenceSummary and EvidenceMode in place and
// returns the same report. Generation failures fall back to the
// deterministic summary; Annotate itself never fails.
func (f *Formatter) Annotate(ctx context.Context, report *models.ImpactReport) *models.ImpactReport {
	if report == nil {
		return nil
	}
	bullets := f.Bullets(report)
	report.Evidence = bullets
	report.EvidenceSummary = Summarize(report, bullets)
	report.EvidenceMode = models.EvidenceDeterministic

	if f.gen == nil || len(bullets) == 0 {
		return report
	}

	text, err := f.generate(ctx, report, bullets)
	if err != nil {
		f.logger.Warn("evidence generation failed, keeping deterministic summary",
			"change_id", report.ChangeID, "error", err)
		metrics.EvidenceFallbacks.Inc()
		return report
	}
	report.EvidenceSummary = text
	report.EvidenceMode = models.EvidenceGenerated
	return report
}

func (f *Formatter) generate(ctx context.Context, report *models.ImpactReport, bullets []string) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.EvidenceError(fmt.Errorf("%v", r), "text generator panicked")
		}
	}()

	genCtx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	out, err := f.gen.Generate(genCtx, systemPrompt, f.prompt(report, bullets))
	if err != nil {
		return "", errors.EvidenceError(err, "text generation failed")
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", errors.New(errors.ErrorTypeEvidence, errors.SeverityLow, "text generator returned empty output")
	}
	return out, nil
}

// prompt renders the bullets, cut at PromptMaxChars on a line boundary
func (f *Formatter) prompt(report *models.ImpactReport, bullets []string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Change: %s\nOverall impact: %s\nFacts:\n", report.Title, report.Level)
	for _, b := range bullets {
		line := "- " + b + "\n"
		if sb.Len()+len(line) > f.cfg.PromptMaxChars {
			break
		}
		sb.WriteString(line)
	}
	return sb.String()
}

// Bullets renders up to MaxBullets sentences in fixed order: changed
// components, changed APIs, downstream components, docs, services, chat
// threads.
func (f *Formatter) Bullets(r *models.ImpactReport) []string {
	bullets := make([]string, 0, f.cfg.MaxBullets)
	add := func(s string) bool {
		if len(bullets) >= f.cfg.MaxBullets {
			return false
		}
		bullets = append(bullets, s)
		return true
	}

	for _, e := range r.ChangedComponents {
		if !add(fmt.Sprintf("Component %s changed (%s).", e.ID, e.Reason)) {
			return bullets
		}
	}
	for _, e := range r.ChangedAPIs {
		if !add(fmt.Sprintf("API %s is exposed by changed component %s.", e.ID, strings.Join(e.Metadata.ComponentIDs, ", "))) {
			return bullets
		}
	}
	for _, e := range r.ImpactedComponents {
		if !add(fmt.Sprintf("Component %s depends on %s (%s, %d hop(s), confidence %.2f).",
			e.ID, e.Metadata.Via, e.Metadata.Relation, e.Metadata.Depth, e.Confidence)) {
			return bullets
		}
	}
	for _, e := range r.ImpactedDocs {
		name := e.Metadata.Title
		if name == "" {
			name = e.ID
		}
		if !add(fmt.Sprintf("Doc %s describes %s and may be out of date (%s impact).",
			name, strings.Join(e.Metadata.ComponentIDs, ", "), e.Level)) {
			return bullets
		}
	}
	for _, e := range r.ImpactedServices {
		if !add(fmt.Sprintf("Service %s owns affected component(s) %s.", e.ID, strings.Join(e.Metadata.ComponentIDs, ", "))) {
			return bullets
		}
	}
	for _, e := range r.ChatThreads {
		channel := e.Metadata.Channel
		if channel == "" {
			channel = "chat"
		}
		if !add(fmt.Sprintf("Chat thread %s in %s: %s.", e.ID, channel, e.Reason)) {
			return bullets
		}
	}
	return bullets
}

// Summarize joins the first two bullets and appends the third as
// additional context
func Summarize(r *models.ImpactReport, bullets []string) string {
	switch len(bullets) {
	case 0:
		return fmt.Sprintf("No impacted components or docs were identified for %s.", r.ChangeID)
	case 1:
		return bullets[0]
	}
	summary := bullets[0] + " " + bullets[1]
	if len(bullets) > 2 {
		summary += " Additional context: " + bullets[2]
	}
	return summary
}
