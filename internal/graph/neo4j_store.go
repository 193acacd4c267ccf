package graph

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Neo4jConfig holds connection settings for the Neo4j store
type Neo4jConfig struct {
	URI      string
	User     string
	Password string
	Database string
	// BatchSize caps rows per UNWIND statement
	BatchSize int
}

// Neo4jStore implements Store on a Neo4j driver
type Neo4jStore struct {
	driver    neo4j.DriverWithContext
	logger    *slog.Logger
	database  string
	batchSize int
}

// NewNeo4jStore connects to Neo4j and verifies connectivity
func NewNeo4jStore(ctx context.Context, cfg Neo4jConfig) (*Neo4jStore, error) {
	if cfg.URI == "" || cfg.User == "" || cfg.Password == "" {
		return nil, fmt.Errorf("neo4j credentials missing: uri=%s, user=%s", cfg.URI, cfg.User)
	}
	if cfg.Database == "" {
		cfg.Database = "neo4j"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}

	driver, err := neo4j.NewDriverWithContext(cfg.URI,
		neo4j.BasicAuth(cfg.User, cfg.Password, ""),
		func(config *neo4j.Config) {
			config.MaxConnectionPoolSize = 20
			config.ConnectionAcquisitionTimeout = 30 * time.Second
			config.MaxConnectionLifetime = time.Hour
			config.ConnectionLivenessCheckTimeout = 5 * time.Second
			config.SocketConnectTimeout = 5 * time.Second
			config.SocketKeepalive = true
		})
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}

	verifyCtx, cancel := GetConfigForOperation(OpHealthCheck).Bound(ctx)
	defer cancel()
	if err := driver.VerifyConnectivity(verifyCtx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("failed to connect to neo4j at %s: %w", cfg.URI, err)
	}

	logger := slog.Default().With("component", "neo4j")
	logger.Info("neo4j store connected", "uri", cfg.URI, "database", cfg.Database)

	return &Neo4jStore{
		driver:    driver,
		logger:    logger,
		database:  cfg.Database,
		batchSize: cfg.BatchSize,
	}, nil
}

// MergeNodes upserts nodes grouped by label in UNWIND batches
func (s *Neo4jStore) MergeNodes(ctx context.Context, nodes []Node) error {
	if len(nodes) == 0 {
		return nil
	}

	byLabel := make(map[string][]map[string]any)
	for _, n := range nodes {
		if n.ID == "" {
			continue
		}
		label := n.Label
		if label == "" {
			label = LabelForID(n.ID)
		}
		byLabel[label] = append(byLabel[label], map[string]any{
			"id":    n.ID,
			"props": SanitizeProperties(n.Properties),
		})
	}

	for _, label := range sortedKeys(byLabel) {
		rows := byLabel[label]
		for start := 0; start < len(rows); start += s.batchSize {
			end := min(start+s.batchSize, len(rows))
			b := NewCypherBuilder()
			query, err := b.BuildUnwindMergeNodes(label, rows[start:end])
			if err != nil {
				return err
			}
			if err := s.write(ctx, query, b.Params()); err != nil {
				return fmt.Errorf("merge %s nodes: %w", label, err)
			}
		}
	}
	return nil
}

// MergeEdges upserts edges grouped by endpoint labels and edge label
func (s *Neo4jStore) MergeEdges(ctx context.Context, edges []Edge) error {
	if len(edges) == 0 {
		return nil
	}

	type edgeShape struct{ from, label, to string }
	groups := make(map[edgeShape][]map[string]any)
	var order []edgeShape
	for _, e := range edges {
		if e.From == "" || e.To == "" || e.Label == "" {
			continue
		}
		fromLabel, toLabel := e.Endpoints()
		shape := edgeShape{fromLabel, e.Label, toLabel}
		if _, seen := groups[shape]; !seen {
			order = append(order, shape)
		}
		groups[shape] = append(groups[shape], map[string]any{
			"from":  e.From,
			"to":    e.To,
			"props": SanitizeProperties(e.Properties),
		})
	}

	for _, shape := range order {
		rows := groups[shape]
		for start := 0; start < len(rows); start += s.batchSize {
			end := min(start+s.batchSize, len(rows))
			b := NewCypherBuilder()
			query, err := b.BuildUnwindMergeEdges(shape.from, shape.label, shape.to, rows[start:end])
			if err != nil {
				return err
			}
			if err := s.write(ctx, query, b.Params()); err != nil {
				return fmt.Errorf("merge %s edges: %w", shape.label, err)
			}
		}
	}
	return nil
}

func (s *Neo4jStore) write(ctx context.Context, query string, params map[string]any) error {
	txConfig := GetConfigForOperation(OpMirrorWrite)
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: s.database,
	})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		return result.Consume(ctx)
	}, txConfig.AsNeo4jConfig()...)
	return err
}

// Query runs a read query with reader routing
func (s *Neo4jStore) Query(ctx context.Context, query string, params map[string]any) ([]map[string]any, error) {
	queryCtx, cancel := GetConfigForOperation(OpReadQuery).Bound(ctx)
	defer cancel()

	result, err := neo4j.ExecuteQuery(queryCtx, s.driver, query, params,
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(s.database),
		neo4j.ExecuteQueryWithReadersRouting())
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}

	records := make([]map[string]any, 0, len(result.Records))
	for _, record := range result.Records {
		records = append(records, record.AsMap())
	}
	return records, nil
}

// HealthCheck verifies Neo4j connectivity
func (s *Neo4jStore) HealthCheck(ctx context.Context) error {
	checkCtx, cancel := GetConfigForOperation(OpHealthCheck).Bound(ctx)
	defer cancel()
	if err := s.driver.VerifyConnectivity(checkCtx); err != nil {
		return fmt.Errorf("neo4j health check failed: %w", err)
	}
	return nil
}

// Close closes the driver
func (s *Neo4jStore) Close(ctx context.Context) error {
	if err := s.driver.Close(ctx); err != nil {
		return fmt.Errorf("failed to close neo4j driver: %w", err)
	}
	s.logger.Info("neo4j store closed")
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
