package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rohankatakam/impactgraph/internal/analysis"
	"github.com/rohankatakam/impactgraph/internal/audit"
	"github.com/rohankatakam/impactgraph/internal/chat"
	"github.com/rohankatakam/impactgraph/internal/config"
	"github.com/rohankatakam/impactgraph/internal/depgraph"
	"github.com/rohankatakam/impactgraph/internal/docissues"
	"github.com/rohankatakam/impactgraph/internal/evidence"
	"github.com/rohankatakam/impactgraph/internal/github"
	"github.com/rohankatakam/impactgraph/internal/graph"
	"github.com/rohankatakam/impactgraph/internal/llm"
	"github.com/rohankatakam/impactgraph/internal/logging"
	"github.com/rohankatakam/impactgraph/internal/notify"
	"github.com/rohankatakam/impactgraph/internal/pipeline"
	"github.com/rohankatakam/impactgraph/internal/service"
	"github.com/rohankatakam/impactgraph/internal/storage"
)

// app is the wired engine one command runs against
type app struct {
	cfg     *config.Config
	holder  *depgraph.Holder
	svc     *service.Service
	tracker *docissues.Tracker
	store   graph.Store
	issues  storage.IssueStore
	cursors storage.CursorStore
}

// newApp builds every collaborator from configuration and loads the graph.
// Optional integrations that fail to connect are logged and left out.
func newApp(ctx context.Context, c *config.Config) (*app, error) {
	a := &app{cfg: c}

	if c.Neo4j.Enabled() {
		store, err := graph.NewNeo4jStore(ctx, graph.Neo4jConfig{
			URI:       c.Neo4j.URI,
			User:      c.Neo4j.User,
			Password:  c.Neo4j.Password,
			Database:  c.Neo4j.Database,
			BatchSize: c.Neo4j.BatchSize,
		})
		if err != nil {
			logger.WithError(err).Warn("Graph store unavailable, continuing without it")
		} else {
			a.store = store
		}
	}

	builderOpts := []depgraph.BuilderOption{depgraph.WithLogger(logging.For("depgraph"))}
	if c.Manifests.Mirror && a.store != nil {
		builderOpts = append(builderOpts,
			depgraph.WithStore(a.store),
			depgraph.WithMirrorTimeout(c.Timeouts.Graph))
	}
	a.holder = depgraph.NewHolder(depgraph.NewBuilder(builderOpts...), c.Manifests.Paths)
	stats, err := a.holder.Reload(ctx)
	if err != nil {
		if !a.holder.Current().Valid() || stats.Components == 0 {
			a.Close()
			return nil, fmt.Errorf("failed to load manifests: %w", err)
		}
		logger.WithError(err).Warn("Some manifests were skipped")
	}
	logger.WithField("components", stats.Components).Debug("Dependency graph loaded")

	a.issues, err = openIssueStore(c)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.tracker = docissues.NewTracker(a.issues, c.DocIssues.Config,
		docissues.WithLogger(logging.For("docissues")))

	a.cursors, err = openCursorStore(c)
	if err != nil {
		a.Close()
		return nil, err
	}

	auditOpts := []audit.Option{
		audit.WithLogPath(c.Events.LogPath),
		audit.WithGraphTimeout(c.Timeouts.Graph),
		audit.WithLogger(logging.For("audit")),
	}
	if c.Events.GraphSink && a.store != nil {
		auditOpts = append(auditOpts, audit.WithGraphStore(a.store))
	}

	slack := chat.NewClient(c.Slack)
	gh, err := github.NewClient(c.GitHub)
	if err != nil {
		a.Close()
		return nil, err
	}

	var poster notify.ChatPoster
	if slack.Enabled() {
		poster = slack
	}
	var commenter notify.PRCommenter
	if c.GitHub.Token != "" {
		commenter = gh
	}
	var threads service.ThreadReader
	if slack.Enabled() || c.Slack.Workspace != "" {
		threads = slack
	}

	gen, err := llm.New(ctx, c.LLM)
	if err != nil {
		logger.WithError(err).Warn("Text generation unavailable, evidence stays deterministic")
		gen = nil
	}

	analyzer := analysis.New(c.Analysis, analysis.WithLogger(logging.For("analysis")))
	formatter := evidence.New(c.Evidence, gen)

	p := pipeline.New(pipeline.Deps{
		Graph:    a.holder,
		Analyzer: analyzer,
		Evidence: formatter,
		Tracker:  a.tracker,
		Audit:    audit.NewWriter(auditOpts...),
		Notifier: notify.NewGate(c.Notify, poster, commenter),
		Logger:   logging.For("pipeline"),
	})

	a.svc = service.New(c.Ingestion.Config, service.Deps{
		Pipeline:     p,
		Analyzer:     analyzer,
		Evidence:     formatter,
		Tracker:      a.tracker,
		Cursors:      a.cursors,
		Source:       gh,
		Threads:      threads,
		EventLogPath: c.Events.LogPath,
		Logger:       logging.For("service"),
	})
	return a, nil
}

func openIssueStore(c *config.Config) (storage.IssueStore, error) {
	switch c.DocIssues.Backend {
	case "sql":
		dsn := c.DocIssues.DSN
		if dsn == "" && c.DocIssues.Driver == "sqlite3" {
			dsn = c.DocIssues.Path
		}
		return storage.NewSQLIssueStore(c.DocIssues.Driver, dsn)
	default:
		return storage.NewFileIssueStore(c.DocIssues.Path), nil
	}
}

func openCursorStore(c *config.Config) (storage.CursorStore, error) {
	if c.Ingestion.Backend == "bolt" {
		return storage.NewBoltCursorStore(c.Ingestion.CursorPath)
	}
	return storage.NewFileCursorStore(c.Ingestion.CursorPath), nil
}

// Close releases stores; it is safe on a partially built app
func (a *app) Close() {
	if a.issues != nil {
		if err := a.issues.Close(); err != nil {
			logger.WithError(err).Debug("Closing doc issue store")
		}
	}
	if a.cursors != nil {
		if err := a.cursors.Close(); err != nil {
			logger.WithError(err).Debug("Closing cursor store")
		}
	}
	if a.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.store.Close(ctx); err != nil {
			logger.WithError(err).Debug("Closing graph store")
		}
	}
}

// openApp loads the app for a command, validating the config for vctx first
func openApp(ctx context.Context, vctx config.ValidationContext) (*app, error) {
	res := cfg.Validate(vctx)
	for _, w := range res.Warnings {
		logger.Warn(w)
	}
	if err := res.Err(); err != nil {
		return nil, err
	}
	return newApp(ctx, cfg)
}
