package main

import (
	stderrors "errors"
	"fmt"
	"io"

	"github.com/rohankatakam/impactgraph/internal/errors"
)

// Exit codes
const (
	exitError      = 1
	exitValidation = 2
	exitFatal      = 3
)

// reportError prints err for the user and picks the process exit code.
// Structured errors get their full detail with --verbose.
func reportError(w io.Writer, err error, detailed bool) int {
	var e *errors.Error
	if detailed && stderrors.As(err, &e) {
		fmt.Fprint(w, e.DetailedString())
	} else {
		fmt.Fprintf(w, "Error: %v\n", err)
	}

	if logger != nil {
		logger.WithField("type", errors.GetType(err).String()).
			WithField("severity", errors.GetSeverity(err).String()).
			Debug("command failed")
	}

	switch {
	case errors.IsFatal(err):
		return exitFatal
	case errors.IsType(err, errors.ErrorTypeValidation):
		return exitValidation
	default:
		return exitError
	}
}
