package main

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rohankatakam/impactgraph/internal/errors"
)

func TestReportError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		detailed bool
		wantCode int
		wantOut  string
	}{
		{
			name:     "plain error",
			err:      stderrors.New("boom"),
			wantCode: exitError,
			wantOut:  "Error: boom\n",
		},
		{
			name:     "validation error",
			err:      fmt.Errorf("analyze: %w", errors.ValidationError("at least one file path is required")),
			wantCode: exitValidation,
			wantOut:  "Error: analyze: at least one file path is required\n",
		},
		{
			name:     "fatal error",
			err:      errors.New(errors.ErrorTypeConfig, errors.SeverityCritical, "manifests missing"),
			wantCode: exitFatal,
			wantOut:  "Error: manifests missing\n",
		},
		{
			name:     "detailed structured error",
			err:      errors.UpstreamError(stderrors.New("connection refused"), "neo4j unreachable"),
			detailed: true,
			wantCode: exitError,
			wantOut:  "[MEDIUM] [UPSTREAM_UNAVAILABLE] neo4j unreachable",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			code := reportError(&buf, tt.err, tt.detailed)
			assert.Equal(t, tt.wantCode, code)
			assert.Contains(t, buf.String(), tt.wantOut)
		})
	}
}
