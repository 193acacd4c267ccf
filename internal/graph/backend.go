package graph

import (
	"context"
	"strings"
)

// Store is the property-graph backend the engine mirrors dependency
// entities into and writes impact events to. Every call is best-effort
// from the caller's point of view: failures are logged, never fatal.
type Store interface {
	// MergeNodes idempotently upserts nodes keyed by ID
	MergeNodes(ctx context.Context, nodes []Node) error

	// MergeEdges idempotently upserts edges, creating missing endpoints
	MergeEdges(ctx context.Context, edges []Edge) error

	// Query runs a read query and returns records as maps
	Query(ctx context.Context, query string, params map[string]any) ([]map[string]any, error)

	// HealthCheck verifies connectivity
	HealthCheck(ctx context.Context) error

	// Close releases the connection
	Close(ctx context.Context) error
}

// Node is a labelled vertex. ID is the namespaced entity id.
type Node struct {
	Label      string
	ID         string
	Properties map[string]any
}

// Edge connects two namespaced entity ids
type Edge struct {
	Label      string // DEPENDS_ON, DESCRIBES, OWNS, ...
	From       string
	To         string
	Properties map[string]any

	// Endpoint labels; derived from the id prefix when empty
	FromLabel string
	ToLabel   string
}

// Endpoints returns the resolved endpoint labels
func (e Edge) Endpoints() (string, string) {
	from, to := e.FromLabel, e.ToLabel
	if from == "" {
		from = LabelForID(e.From)
	}
	if to == "" {
		to = LabelForID(e.To)
	}
	return from, to
}

// Node labels used by the engine
const (
	LabelComponent  = "Component"
	LabelService    = "Service"
	LabelRepository = "Repository"
	LabelArtifact   = "CodeArtifact"
	LabelEndpoint   = "APIEndpoint"
	LabelDoc        = "Doc"
	LabelEvent      = "ImpactEvent"
	LabelChatThread = "ChatThread"
	LabelGitEvent   = "GitEvent"
	LabelDocIssue   = "DocIssue"
	LabelEntity     = "Entity"
)

// Edge labels used by the engine
const (
	EdgeDependsOn  = "DEPENDS_ON"
	EdgeOwns       = "OWNS"
	EdgeExposes    = "EXPOSES"
	EdgeDescribes  = "DESCRIBES"
	EdgeAggregates = "AGGREGATES"
	EdgeAffects    = "AFFECTS"
	EdgeTriggered  = "TRIGGERED_BY"
)

var prefixLabels = map[string]string{
	"comp":      LabelComponent,
	"component": LabelComponent,
	"service":   LabelService,
	"svc":       LabelService,
	"repo":      LabelRepository,
	"artifact":  LabelArtifact,
	"file":      LabelArtifact,
	"api":       LabelEndpoint,
	"endpoint":  LabelEndpoint,
	"doc":       LabelDoc,
	"event":     LabelEvent,
	"impact":    LabelEvent,
	"chat":      LabelChatThread,
	"slack":     LabelChatThread,
	"thread":    LabelChatThread,
	"git":       LabelGitEvent,
	"issue":     LabelDocIssue,
}

// LabelForID derives a node label from the namespace prefix of an id
// (e.g. "comp:alpha" -> "Component"). Ids without a known prefix map to
// the generic Entity label.
func LabelForID(id string) string {
	prefix, _, ok := strings.Cut(id, ":")
	if !ok {
		return LabelEntity
	}
	if label, found := prefixLabels[strings.ToLower(prefix)]; found {
		return label
	}
	return LabelEntity
}
