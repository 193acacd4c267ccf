package git

import (
	"strings"

	"github.com/sourcegraph/go-diff/diff"

	"github.com/rohankatakam/impactgraph/internal/errors"
)

// FileChange is one file touched by a unified diff
type FileChange struct {
	Path    string
	OldPath string // set on renames and deletions
	Added   int
	Deleted int
}

// DiffSummary totals a parsed patch
type DiffSummary struct {
	Files   []FileChange
	Added   int
	Deleted int
}

// Paths lists every path touched, including the old side of renames
func (s DiffSummary) Paths() []string {
	seen := make(map[string]bool)
	var out []string
	for _, f := range s.Files {
		for _, p := range []string{f.Path, f.OldPath} {
			if p != "" && !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
	return out
}

// ParseDiff parses a unified (git) diff
func ParseDiff(patch string) (DiffSummary, error) {
	var summary DiffSummary
	if strings.TrimSpace(patch) == "" {
		return summary, errors.InputError("diff is empty")
	}
	fds, err := diff.ParseMultiFileDiff([]byte(patch))
	if err != nil {
		return summary, errors.Wrap(err, errors.ErrorTypeInput, errors.SeverityMedium, "malformed unified diff")
	}

	for _, fd := range fds {
		oldPath, newPath := stripPrefix(fd.OrigName), stripPrefix(fd.NewName)
		fc := FileChange{Path: newPath}
		switch {
		case newPath == "":
			// deletion
			fc.Path = oldPath
		case oldPath != "" && oldPath != newPath:
			fc.OldPath = oldPath
		}
		if fc.Path == "" {
			continue
		}
		st := fd.Stat()
		// go-diff reports a modified line as one "changed"
		fc.Added = int(st.Added + st.Changed)
		fc.Deleted = int(st.Deleted + st.Changed)
		summary.Added += fc.Added
		summary.Deleted += fc.Deleted
		summary.Files = append(summary.Files, fc)
	}
	if len(summary.Files) == 0 {
		return summary, errors.InputError("diff touches no files")
	}
	return summary, nil
}

// ChangedFilesFromDiff returns the paths touched by a unified diff
func ChangedFilesFromDiff(patch string) ([]string, error) {
	s, err := ParseDiff(patch)
	if err != nil {
		return nil, err
	}
	return s.Paths(), nil
}

func stripPrefix(name string) string {
	name = strings.TrimSpace(name)
	if name == "/dev/null" || name == "" {
		return ""
	}
	// "a/src/x.go\t2024-01-01 ..." style names carry a timestamp
	if i := strings.IndexByte(name, '\t'); i >= 0 {
		name = name[:i]
	}
	if strings.HasPrefix(name, "a/") || strings.HasPrefix(name, "b/") {
		return name[2:]
	}
	return name
}
