package graph

import (
	"fmt"
	"regexp"
	"strings"
)

var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// CypherBuilder builds parameterized Cypher. Labels and property keys are
// validated identifiers; every value goes through a parameter.
type CypherBuilder struct {
	params  map[string]any
	counter int
}

// NewCypherBuilder creates a query builder
func NewCypherBuilder() *CypherBuilder {
	return &CypherBuilder{params: make(map[string]any)}
}

// AddParam adds a parameter and returns its placeholder
func (b *CypherBuilder) AddParam(value any) string {
	name := fmt.Sprintf("p%d", b.counter)
	b.counter++
	b.params[name] = value
	return "$" + name
}

// Params returns all parameters for the query
func (b *CypherBuilder) Params() map[string]any {
	return b.params
}

// BuildUnwindMergeNodes returns a query that upserts every row of rows
// as a node with the given label. Each row must carry "id" and "props".
func (b *CypherBuilder) BuildUnwindMergeNodes(label string, rows []map[string]any) (string, error) {
	if !isValidIdentifier(label) {
		return "", fmt.Errorf("invalid node label: %s (must be alphanumeric + underscore)", label)
	}
	rowsParam := b.AddParam(rows)
	return fmt.Sprintf(
		"UNWIND %s AS row MERGE (n:%s {id: row.id}) SET n += row.props RETURN count(n) AS merged",
		rowsParam, label,
	), nil
}

// BuildUnwindMergeEdges returns a query that upserts edges of one label
// between nodes of fixed labels. Rows carry "from", "to" and "props".
// Missing endpoint nodes are created with just their id.
func (b *CypherBuilder) BuildUnwindMergeEdges(fromLabel, edgeLabel, toLabel string, rows []map[string]any) (string, error) {
	for _, ident := range []string{fromLabel, edgeLabel, toLabel} {
		if !isValidIdentifier(ident) {
			return "", fmt.Errorf("invalid identifier: %s", ident)
		}
	}
	rowsParam := b.AddParam(rows)
	return fmt.Sprintf(
		"UNWIND %s AS row MERGE (a:%s {id: row.from}) MERGE (b:%s {id: row.to}) MERGE (a)-[r:%s]->(b) SET r += row.props RETURN count(r) AS merged",
		rowsParam, fromLabel, toLabel, edgeLabel,
	), nil
}

// SanitizeProperties drops nil values and rewrites keys into valid
// identifiers so they can be stored with SET n += $props.
func SanitizeProperties(props map[string]any) map[string]any {
	out := make(map[string]any, len(props))
	for k, v := range props {
		if v == nil {
			continue
		}
		key := sanitizeKey(k)
		if key == "" {
			continue
		}
		out[key] = v
	}
	return out
}

func sanitizeKey(k string) string {
	var sb strings.Builder
	for i, r := range k {
		switch {
		case r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
			sb.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				sb.WriteRune('_')
			}
			sb.WriteRune(r)
		default:
			sb.WriteRune('_')
		}
	}
	return sb.String()
}

// isValidIdentifier validates that a string can be safely used as a Cypher identifier
func isValidIdentifier(s string) bool {
	return identifierPattern.MatchString(s)
}
