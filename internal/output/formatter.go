// Package output renders impact results, doc issues and health reports for
// the terminal and for machine consumers.
package output

import (
	"encoding/json"
	"io"
	"os"

	"golang.org/x/term"

	"github.com/rohankatakam/impactgraph/internal/pipeline"
)

// Formatter renders one pipeline result
type Formatter interface {
	Format(result *pipeline.Result, w io.Writer) error
}

// VerbosityLevel determines output detail
type VerbosityLevel int

const (
	VerbosityQuiet    VerbosityLevel = iota // one-line summary
	VerbosityStandard                       // entities, issues and recommendations
	VerbosityExplain                        // plus the reasoning chain and evidence
	VerbosityAIMode                         // machine-readable JSON
)

// NewFormatter creates the formatter for level
func NewFormatter(level VerbosityLevel) Formatter {
	switch level {
	case VerbosityQuiet:
		return &QuietFormatter{}
	case VerbosityExplain:
		return &ExplainFormatter{}
	case VerbosityAIMode:
		return &AIFormatter{}
	default:
		return &StandardFormatter{}
	}
}

// GetDefaultVerbosity picks a level from the environment when no flag
// selects one
func GetDefaultVerbosity() VerbosityLevel {
	// pre-commit hooks run with GIT_AUTHOR_DATE set
	if os.Getenv("GIT_AUTHOR_DATE") != "" {
		return VerbosityQuiet
	}
	if os.Getenv("IMPACT_AI_MODE") == "1" {
		return VerbosityAIMode
	}
	if os.Getenv("CI") == "true" {
		return VerbosityStandard
	}
	if !IsTerminal(os.Stdout) {
		return VerbosityAIMode
	}
	return VerbosityStandard
}

// ResolveVerbosity applies explicit flags over the environment default
func ResolveVerbosity(quiet, explain, jsonOut bool) VerbosityLevel {
	switch {
	case jsonOut:
		return VerbosityAIMode
	case explain:
		return VerbosityExplain
	case quiet:
		return VerbosityQuiet
	}
	return GetDefaultVerbosity()
}

// IsTerminal reports whether f is an interactive terminal
func IsTerminal(f *os.File) bool {
	return f != nil && term.IsTerminal(int(f.Fd()))
}

// WriteJSON writes v as indented JSON
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
