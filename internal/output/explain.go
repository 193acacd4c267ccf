package output

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/rohankatakam/impactgraph/internal/pipeline"
)

// ExplainFormatter outputs the standard view plus the reasoning chain
type ExplainFormatter struct{}

func (f *ExplainFormatter) Format(result *pipeline.Result, w io.Writer) error {
	r := result.Report
	fmt.Fprintf(w, "Generated: %s\n", r.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "Source: %s\n\n", r.SourceKind)

	if err := (&StandardFormatter{}).Format(result, w); err != nil {
		return err
	}

	if rc := r.Reasoning; rc != nil {
		fmt.Fprintf(w, "\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
		fmt.Fprintf(w, "Reasoning\n")
		fmt.Fprintf(w, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
		if rc.ImpactChain != "" {
			fmt.Fprintf(w, "Chain: %s\n", rc.ImpactChain)
		}
		if len(rc.TouchedRepos) > 0 {
			fmt.Fprintf(w, "Repositories: %s\n", strings.Join(rc.TouchedRepos, ", "))
		}
		if len(rc.DocHints) > 0 {
			fmt.Fprintf(w, "Doc hints:\n")
			for _, k := range sortedKeys(rc.DocHints) {
				fmt.Fprintf(w, "  %s: %s\n", k, rc.DocHints[k])
			}
		}
	}

	if len(r.Evidence) > 0 {
		fmt.Fprintf(w, "\nEvidence:\n")
		for _, b := range r.Evidence {
			fmt.Fprintf(w, "  • %s\n", b)
		}
	}

	if r.Change != nil && len(r.Change.Files) > 0 {
		fmt.Fprintf(w, "\nFiles:\n")
		for _, file := range r.Change.Files {
			fmt.Fprintf(w, "  %s\n", file)
		}
	}

	if len(r.Metadata) > 0 {
		fmt.Fprintf(w, "\nMetadata:\n")
		for _, k := range sortedKeys(r.Metadata) {
			fmt.Fprintf(w, "  %s=%s\n", k, r.Metadata[k])
		}
	}

	if result.Audit.Lost() {
		fmt.Fprintf(w, "\n⚠️  impact event was not recorded in any sink\n")
	}
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
