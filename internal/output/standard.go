package output

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/rohankatakam/impactgraph/internal/models"
	"github.com/rohankatakam/impactgraph/internal/pipeline"
	"github.com/rohankatakam/impactgraph/internal/service"
)

// StandardFormatter outputs entities, doc issues and recommendations (default)
type StandardFormatter struct{}

func (f *StandardFormatter) Format(result *pipeline.Result, w io.Writer) error {
	r := result.Report

	fmt.Fprintf(w, "🔍 Impact Analysis\n")
	fmt.Fprintf(w, "Change: %s\n", r.ChangeID)
	if r.Title != "" {
		fmt.Fprintf(w, "Title: %s\n", r.Title)
	}
	if r.Change != nil {
		fmt.Fprintf(w, "Files changed: %d\n", len(r.Change.Files))
	}
	fmt.Fprintf(w, "Impact level: %s %s\n\n", levelEmoji(r.Level), strings.ToUpper(string(r.Level)))

	writeEntities(w, "Changed components", r.ChangedComponents)
	writeEntities(w, "Changed APIs", r.ChangedAPIs)
	writeEntities(w, "Impacted components", r.ImpactedComponents)
	writeEntities(w, "Impacted APIs", r.ImpactedAPIs)
	writeEntities(w, "Impacted services", r.ImpactedServices)
	writeEntities(w, "Impacted docs", r.ImpactedDocs)
	writeEntities(w, "Chat threads", r.ChatThreads)

	if len(result.Issues) > 0 {
		fmt.Fprintf(w, "Doc issues:\n")
		for _, is := range result.Issues {
			fmt.Fprintf(w, "- %s %s %s (%s)\n", severityEmoji(is.Severity), is.ID, is.DocPath, is.State)
		}
		fmt.Fprintf(w, "\n")
	}

	if len(r.Recommendations) > 0 {
		fmt.Fprintf(w, "Recommendations:\n")
		for _, rec := range r.Recommendations {
			fmt.Fprintf(w, "- %s\n", rec)
		}
		fmt.Fprintf(w, "\n")
	}

	if r.EvidenceSummary != "" {
		fmt.Fprintf(w, "Summary (%s): %s\n", r.EvidenceMode, r.EvidenceSummary)
	}
	if result.Notified {
		fmt.Fprintf(w, "Notification sent\n")
	}
	return nil
}

func writeEntities(w io.Writer, title string, list []models.ImpactedEntity) {
	if len(list) == 0 {
		return
	}
	fmt.Fprintf(w, "%s (%d):\n", title, len(list))
	for i, e := range list {
		fmt.Fprintf(w, "%d. %s %s  %.2f", i+1, levelEmoji(e.Level), e.ID, e.Confidence)
		if e.Metadata.Relation != "" {
			fmt.Fprintf(w, "  %s", e.Metadata.Relation)
		}
		if e.Metadata.Via != "" {
			fmt.Fprintf(w, " via %s", e.Metadata.Via)
		}
		fmt.Fprintf(w, "\n")
	}
	fmt.Fprintf(w, "\n")
}

func levelEmoji(level models.ImpactLevel) string {
	switch level {
	case models.ImpactHigh:
		return "🔴"
	case models.ImpactMedium:
		return "🟡"
	case models.ImpactLow:
		return "🟢"
	default:
		return "•"
	}
}

func severityEmoji(severity models.Severity) string {
	switch severity {
	case models.SeverityHigh:
		return "🔴"
	case models.SeverityMedium:
		return "⚠️ "
	case models.SeverityLow:
		return "ℹ️ "
	default:
		return "•"
	}
}

// FormatIssues renders a doc issue listing
func FormatIssues(issues []models.DocIssue, w io.Writer) error {
	if len(issues) == 0 {
		fmt.Fprintf(w, "No doc issues\n")
		return nil
	}
	for _, is := range issues {
		fmt.Fprintf(w, "%s %s  [%s/%s]  %s\n", severityEmoji(is.Severity), is.ID, is.Severity, is.State, is.RepoID)
		fmt.Fprintf(w, "   doc: %s", firstNonEmpty(is.DocTitle, is.DocID))
		if is.DocPath != "" {
			fmt.Fprintf(w, " (%s)", is.DocPath)
		}
		fmt.Fprintf(w, "\n   change: %s\n", is.LinkedChange)
		if is.Summary != "" {
			fmt.Fprintf(w, "   %s\n", is.Summary)
		}
		if is.DocURL != "" {
			fmt.Fprintf(w, "   %s\n", is.DocURL)
		}
	}
	return nil
}

// FormatHealth renders a health report
func FormatHealth(h service.Health, w io.Writer) error {
	status := "✅"
	if h.Status != "ok" {
		status = "⚠️ "
	}
	fmt.Fprintf(w, "%s Status: %s\n\n", status, h.Status)

	fmt.Fprintf(w, "📋 Graph:\n")
	fmt.Fprintf(w, "  Repositories: %d\n", h.Graph.Repositories)
	fmt.Fprintf(w, "  Components: %d (%d dependencies)\n", h.Graph.Components, h.Graph.Dependencies)
	fmt.Fprintf(w, "  Services: %d, APIs: %d, Docs: %d, Artifacts: %d\n",
		h.Graph.Services, h.Graph.Endpoints, h.Graph.Docs, h.Graph.Artifacts)
	if h.GraphLoadedAt != nil {
		fmt.Fprintf(w, "  Loaded: %s\n", h.GraphLoadedAt.Format("2006-01-02 15:04:05"))
	}

	fmt.Fprintf(w, "\n📝 Doc issues: %d total, %d open\n", h.DocIssues.Total, h.DocIssues.Open)
	for _, rc := range h.DocIssues.TopRepos {
		fmt.Fprintf(w, "  %s: %d open\n", rc.Repo, rc.OpenIssues)
	}

	if len(h.Cursors) > 0 {
		fmt.Fprintf(w, "\n🔄 Ingestion:\n")
		keys := make([]string, 0, len(h.Cursors))
		for k := range h.Cursors {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			c := h.Cursors[k]
			fmt.Fprintf(w, "  %s: cursor %s, last success %s\n", k, orDash(c.LastCursor), formatTime(c.LastSuccessAt))
			if c.LastError != "" {
				fmt.Fprintf(w, "    last error: %s\n", c.LastError)
			}
		}
	}

	if len(h.RecentEvents) > 0 {
		fmt.Fprintf(w, "\n🕒 Recent events:\n")
		for _, ev := range h.RecentEvents {
			fmt.Fprintf(w, "  %s  %-6s  %s\n",
				ev.Properties.RecordedAt.Format("2006-01-02 15:04"), ev.Properties.ImpactLevel, ev.Properties.ChangeID)
		}
	}

	if len(h.Warnings) > 0 {
		fmt.Fprintf(w, "\nWarnings:\n")
		for _, warn := range h.Warnings {
			fmt.Fprintf(w, "- %s\n", warn)
		}
	}
	return nil
}

// FormatPollResults renders one line per polled repository
func FormatPollResults(results []service.PollResult, w io.Writer) error {
	for _, r := range results {
		mark := "✅"
		if r.Error != "" || r.Failed > 0 {
			mark = "⚠️ "
		}
		fmt.Fprintf(w, "%s %s\n", mark, r.String())
	}
	return nil
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "never"
	}
	return t.Format("2006-01-02 15:04:05")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
