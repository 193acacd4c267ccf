package notify

import (
	"fmt"
	"strings"

	"github.com/rohankatakam/impactgraph/internal/models"
)

// maxPRLinks bounds the link list of a pull request comment
const maxPRLinks = 5

// Summary is the aggregate both renderings are built from
type Summary struct {
	ChangeID        string
	Title           string
	Level           models.ImpactLevel
	Severity        models.Severity
	Repo            string
	PRNumber        int
	ComponentIDs    []string
	ServiceIDs      []string
	DocTitles       []string
	IssueCount      int
	EvidenceSummary string
	Links           []models.Link
}

// BuildSummary aggregates unique components, services, doc titles and
// links across issues. Links are deduplicated by label and URL.
func BuildSummary(report *models.ImpactReport, issues []models.DocIssue) Summary {
	s := Summary{
		ChangeID:        report.ChangeID,
		Title:           report.Title,
		Level:           report.Level,
		Severity:        MaxSeverity(report, issues),
		PRNumber:        ExtractPRNumber(report, issues),
		IssueCount:      len(issues),
		EvidenceSummary: report.EvidenceSummary,
	}
	links := newLinkSet()

	if c := report.Change; c != nil {
		s.Repo = c.Repo
		if c.URL != "" {
			links.add(models.Link{Type: "change", Label: c.Identifier, URL: c.URL})
		}
		for _, commit := range c.Commits {
			links.add(models.Link{Type: "commit", Label: "commit " + shortSHA(commit.SHA), URL: commit.URL})
		}
	}
	if report.Chat != nil && report.Chat.Permalink != "" {
		links.add(models.Link{Type: "chat", Label: "thread " + report.Chat.ThreadID, URL: report.Chat.Permalink})
	}

	for _, is := range issues {
		s.ComponentIDs = appendUnique(s.ComponentIDs, is.ComponentIDs...)
		s.ServiceIDs = appendUnique(s.ServiceIDs, is.ServiceIDs...)
		s.DocTitles = appendUnique(s.DocTitles, firstNonEmpty(is.DocTitle, is.DocID))
		if s.Repo == "" {
			s.Repo = is.ChangeContext.Repo
		}
		for _, l := range is.Links {
			links.add(l)
		}
	}
	s.Links = links.list
	return s
}

// RenderChat formats the summary as a Slack mrkdwn message
func (s Summary) RenderChat() string {
	var b strings.Builder
	fmt.Fprintf(&b, "*Doc impact (%s)*: %s", strings.ToUpper(string(s.Severity)), s.Title)
	if s.ChangeID != "" && s.ChangeID != s.Title {
		fmt.Fprintf(&b, " (`%s`)", s.ChangeID)
	}
	b.WriteString("\n")
	if len(s.ComponentIDs) > 0 {
		fmt.Fprintf(&b, "*Components:* %s\n", strings.Join(s.ComponentIDs, ", "))
	}
	if len(s.ServiceIDs) > 0 {
		fmt.Fprintf(&b, "*Services:* %s\n", strings.Join(s.ServiceIDs, ", "))
	}
	fmt.Fprintf(&b, "*Docs needing review (%d):* %s\n", s.IssueCount, strings.Join(s.DocTitles, ", "))
	if s.EvidenceSummary != "" {
		b.WriteString(s.EvidenceSummary + "\n")
	}
	if len(s.Links) > 0 {
		b.WriteString("*Links:*\n")
		for _, l := range s.Links {
			fmt.Fprintf(&b, "• <%s|%s>\n", l.URL, l.Label)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// RenderPRComment formats a shorter markdown comment
func (s Summary) RenderPRComment() string {
	var b strings.Builder
	fmt.Fprintf(&b, "### Documentation impact: %s\n\n", s.Severity)
	fmt.Fprintf(&b, "This change may require updates to %d doc(s): %s.\n", s.IssueCount, strings.Join(s.DocTitles, ", "))
	if len(s.ComponentIDs) > 0 {
		fmt.Fprintf(&b, "\nAffected components: %s\n", strings.Join(s.ComponentIDs, ", "))
	}
	n := 0
	for _, l := range s.Links {
		if l.Type == "change" || l.Type == "commit" {
			continue
		}
		if n == 0 {
			b.WriteString("\n")
		}
		if n == maxPRLinks {
			break
		}
		fmt.Fprintf(&b, "- [%s](%s)\n", l.Label, l.URL)
		n++
	}
	return strings.TrimRight(b.String(), "\n")
}

type linkSet struct {
	seen map[string]bool
	list []models.Link
}

func newLinkSet() *linkSet {
	return &linkSet{seen: make(map[string]bool), list: []models.Link{}}
}

func (s *linkSet) add(l models.Link) {
	if l.URL == "" {
		return
	}
	key := l.Label + "\x00" + l.URL
	if s.seen[key] {
		return
	}
	s.seen[key] = true
	s.list = append(s.list, l)
}

func appendUnique(list []string, values ...string) []string {
	for _, v := range values {
		if v == "" {
			continue
		}
		found := false
		for _, x := range list {
			if x == v {
				found = true
				break
			}
		}
		if !found {
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

func shortSHA(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}
