package output

import (
	"fmt"
	"io"
	"strings"

	"github.com/rohankatakam/impactgraph/internal/models"
	"github.com/rohankatakam/impactgraph/internal/pipeline"
)

// QuietFormatter outputs a one-line summary (for pre-commit hooks)
type QuietFormatter struct{}

func (f *QuietFormatter) Format(result *pipeline.Result, w io.Writer) error {
	r := result.Report
	downstream := len(r.ImpactedComponents) + len(r.ImpactedServices) + len(r.ImpactedAPIs)
	if downstream == 0 && len(r.ImpactedDocs) == 0 {
		fmt.Fprintf(w, "✅ %s impact: nothing downstream\n", strings.ToUpper(string(r.Level)))
		return nil
	}

	mark := "⚠️ "
	if r.Level == models.ImpactLow {
		mark = "ℹ️ "
	}
	fmt.Fprintf(w, "%s %s impact: %d downstream, %d docs, %d doc issues\n",
		mark, strings.ToUpper(string(r.Level)), downstream, len(r.ImpactedDocs), len(result.Issues))
	return nil
}
