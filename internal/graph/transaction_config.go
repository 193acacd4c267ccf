package graph

import (
	"context"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// TransactionConfig defines timeout and metadata for transactions.
// Metadata shows up in Neo4j's query.log for slow-query triage.
type TransactionConfig struct {
	Timeout  time.Duration
	Metadata map[string]any
}

// Operation names
const (
	OpMirrorWrite = "mirror_write"
	OpEventWrite  = "event_write"
	OpReadQuery   = "read_query"
	OpHealthCheck = "health_check"
)

// DefaultTransactionConfigs returns the per-operation defaults
func DefaultTransactionConfigs() map[string]TransactionConfig {
	return map[string]TransactionConfig{
		// Manifest mirroring runs once per (re)load
		OpMirrorWrite: {
			Timeout: 60 * time.Second,
			Metadata: map[string]any{
				"operation": OpMirrorWrite,
				"type":      "write",
			},
		},

		// One audit event per change; must not hold up the pipeline
		OpEventWrite: {
			Timeout: 10 * time.Second,
			Metadata: map[string]any{
				"operation": OpEventWrite,
				"type":      "write",
			},
		},

		OpReadQuery: {
			Timeout: 15 * time.Second,
			Metadata: map[string]any{
				"operation": OpReadQuery,
				"type":      "read",
			},
		},

		OpHealthCheck: {
			Timeout: 5 * time.Second,
			Metadata: map[string]any{
				"operation": OpHealthCheck,
				"type":      "read",
			},
		},
	}
}

// GetConfigForOperation retrieves the transaction config for an operation,
// falling back to a 30s default for unknown names
func GetConfigForOperation(operation string) TransactionConfig {
	if config, ok := DefaultTransactionConfigs()[operation]; ok {
		return config
	}
	return TransactionConfig{
		Timeout: 30 * time.Second,
		Metadata: map[string]any{
			"operation": operation,
			"type":      "unknown",
		},
	}
}

// AsNeo4jConfig converts to Neo4j transaction config functions for
// ExecuteRead/ExecuteWrite
func (tc TransactionConfig) AsNeo4jConfig() []func(*neo4j.TransactionConfig) {
	var configs []func(*neo4j.TransactionConfig)
	if tc.Timeout > 0 {
		configs = append(configs, neo4j.WithTxTimeout(tc.Timeout))
	}
	if len(tc.Metadata) > 0 {
		configs = append(configs, neo4j.WithTxMetadata(tc.Metadata))
	}
	return configs
}

// WithTimeout returns a copy with a caller-supplied timeout. Non-positive
// values keep the default.
func (tc TransactionConfig) WithTimeout(timeout time.Duration) TransactionConfig {
	if timeout <= 0 {
		return tc
	}
	return TransactionConfig{Timeout: timeout, Metadata: tc.Metadata}
}

// Bound derives a context limited by the config timeout
func (tc TransactionConfig) Bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if tc.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, tc.Timeout)
}
