package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, ErrorTypeUpstream, SeverityLow, "ignored"))
}

func TestIsType(t *testing.T) {
	base := stderrors.New("connection refused")
	upstream := UpstreamError(base, "neo4j unreachable")
	wrapped := fmt.Errorf("mirror: %w", upstream)

	assert.True(t, IsType(upstream, ErrorTypeUpstream))
	assert.True(t, IsType(wrapped, ErrorTypeUpstream))
	assert.False(t, IsType(wrapped, ErrorTypePersistence))
	assert.False(t, IsType(base, ErrorTypeUpstream))
	assert.ErrorIs(t, wrapped, base)
}

func TestNestedTypes(t *testing.T) {
	inner := PersistenceError(stderrors.New("disk full"), "write doc issues")
	outer := Wrap(inner, ErrorTypeInternal, SeverityCritical, "pipeline tail")

	assert.True(t, IsType(outer, ErrorTypePersistence))
	assert.Equal(t, ErrorTypeInternal, GetType(outer))
	assert.True(t, IsFatal(outer))
}

func TestSeverityDefaults(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Severity
	}{
		{"nil", nil, SeverityLow},
		{"plain", stderrors.New("x"), SeverityMedium},
		{"input", InputError("missing id"), SeverityLow},
		{"validation", ValidationError("no ids"), SeverityHigh},
		{"persistence", PersistenceError(stderrors.New("x"), "y"), SeverityHigh},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetSeverity(tt.err))
		})
	}
}

func TestDetailedString(t *testing.T) {
	err := ValidationErrorf("component %q unknown", "comp:x").WithContext("repo", "repo-alpha")
	out := err.DetailedString()

	assert.Contains(t, out, "[HIGH] [VALIDATION]")
	assert.Contains(t, out, `component "comp:x" unknown`)
	assert.Contains(t, out, "repo: repo-alpha")
}
