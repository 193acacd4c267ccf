// Package audit records one impact event per pipeline run in the graph
// store and in an append-only JSONL log.
package audit

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/rohankatakam/impactgraph/internal/depgraph"
	"github.com/rohankatakam/impactgraph/internal/errors"
	"github.com/rohankatakam/impactgraph/internal/graph"
	"github.com/rohankatakam/impactgraph/internal/metrics"
	"github.com/rohankatakam/impactgraph/internal/models"
)

// Writer sends impact events to up to two independent sinks
type Writer struct {
	store        graph.Store
	logPath      string
	graphTimeout time.Duration
	now          func() time.Time
	logger       *slog.Logger
}

// Option configures a Writer
type Option func(*Writer)

// WithGraphStore enables the graph sink
func WithGraphStore(store graph.Store) Option {
	return func(w *Writer) { w.store = store }
}

// WithLogPath enables the JSONL sink
func WithLogPath(path string) Option {
	return func(w *Writer) { w.logPath = path }
}

// WithGraphTimeout overrides the event_write transaction timeout
func WithGraphTimeout(d time.Duration) Option {
	return func(w *Writer) { w.graphTimeout = d }
}

func WithClock(now func() time.Time) Option {
	return func(w *Writer) { w.now = now }
}

func WithLogger(logger *slog.Logger) Option {
	return func(w *Writer) { w.logger = logger }
}

// NewWriter creates a writer. With no sink options it only builds events.
func NewWriter(opts ...Option) *Writer {
	w := &Writer{
		now:    time.Now,
		logger: slog.Default().With("component", "audit"),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// LogPath returns the JSONL path, empty when the file sink is off
func (w *Writer) LogPath() string { return w.logPath }

// WriteResult reports each sink separately. A nil error with Written
// false means the sink is not configured.
type WriteResult struct {
	Event        models.ImpactEvent
	GraphWritten bool
	GraphErr     error
	LogWritten   bool
	LogErr       error
}

// Lost reports whether a configured sink existed and none accepted the event
func (r WriteResult) Lost() bool {
	attempted := r.GraphErr != nil || r.LogErr != nil || r.GraphWritten || r.LogWritten
	return attempted && !r.GraphWritten && !r.LogWritten
}

// Write builds the event and hands it to both sinks. Sink failures are
// logged and counted, never returned.
func (w *Writer) Write(ctx context.Context, report *models.ImpactReport, g *depgraph.Graph, issues []models.DocIssue) WriteResult {
	res := WriteResult{Event: BuildEvent(report, g, issues, w.now().UTC())}

	if w.store != nil {
		if err := w.writeGraph(ctx, res.Event); err != nil {
			res.GraphErr = errors.UpstreamError(err, "failed to write impact event to graph store")
			metrics.AuditSinkFailures.WithLabelValues("graph").Inc()
			w.logger.Warn("impact event graph write failed", "event_id", res.Event.EventID, "error", err)
		} else {
			res.GraphWritten = true
		}
	}

	if w.logPath != "" {
		if err := appendLine(w.logPath, res.Event); err != nil {
			res.LogErr = errors.PersistenceError(err, "failed to append impact event log")
			metrics.AuditSinkFailures.WithLabelValues("file").Inc()
			w.logger.Warn("impact event log append failed", "event_id", res.Event.EventID, "path", w.logPath, "error", err)
		} else {
			res.LogWritten = true
		}
	}

	if res.Lost() {
		metrics.AuditEventsLost.Inc()
		w.logger.Error("impact event lost: no sink accepted it", "event_id", res.Event.EventID)
	}
	return res
}

// BuildEvent collects the ids touched by a report into one audit record
func BuildEvent(report *models.ImpactReport, g *depgraph.Graph, issues []models.DocIssue, now time.Time) models.ImpactEvent {
	ev := models.ImpactEvent{
		EventID: report.ChangeID,
		Properties: models.EventProperties{
			ChangeID:      report.ChangeID,
			ChangeTitle:   report.Title,
			ChangeSummary: report.Summary,
			ImpactLevel:   report.Level,
			EvidenceMode:  report.EvidenceMode,
			SourceKind:    report.SourceKind,
			RecordedAt:    now,
		},
		ComponentIDs:   []string{},
		ServiceIDs:     []string{},
		DocIDs:         []string{},
		DocIssueIDs:    []string{},
		SlackThreadIDs: []string{},
		GitEventIDs:    []string{},
	}

	for _, list := range [][]models.ImpactedEntity{report.ChangedComponents, report.ImpactedComponents} {
		for _, e := range list {
			ev.ComponentIDs = appendUnique(ev.ComponentIDs, e.ID)
		}
	}
	for _, e := range report.ImpactedServices {
		ev.ServiceIDs = appendUnique(ev.ServiceIDs, e.ID)
	}
	ev.ServiceIDs = appendUnique(ev.ServiceIDs, g.ServicesForComponents(ev.ComponentIDs)...)
	for _, e := range report.ImpactedDocs {
		ev.DocIDs = appendUnique(ev.DocIDs, e.ID)
	}
	for _, is := range issues {
		ev.DocIssueIDs = appendUnique(ev.DocIssueIDs, is.ID)
	}
	if report.Chat != nil {
		ev.SlackThreadIDs = appendUnique(ev.SlackThreadIDs, report.Chat.ThreadID)
	}
	for _, e := range report.ChatThreads {
		ev.SlackThreadIDs = appendUnique(ev.SlackThreadIDs, e.ID)
	}
	if report.Change != nil && report.Change.Identifier != "" {
		ev.GitEventIDs = appendUnique(ev.GitEventIDs, report.Change.Identifier)
	}
	return ev
}

func (w *Writer) writeGraph(ctx context.Context, ev models.ImpactEvent) error {
	tc := graph.GetConfigForOperation(graph.OpEventWrite).WithTimeout(w.graphTimeout)
	ctx, cancel := tc.Bound(ctx)
	defer cancel()

	nodes := []graph.Node{{
		Label: graph.LabelEvent,
		ID:    ev.EventID,
		Properties: map[string]any{
			"change_id":      ev.Properties.ChangeID,
			"change_title":   ev.Properties.ChangeTitle,
			"change_summary": ev.Properties.ChangeSummary,
			"impact_level":   string(ev.Properties.ImpactLevel),
			"evidence_mode":  ev.Properties.EvidenceMode,
			"source_kind":    string(ev.Properties.SourceKind),
			"recorded_at":    ev.Properties.RecordedAt.Format(time.RFC3339),
		},
	}}
	var edges []graph.Edge
	link := func(label, toLabel string, ids []string) {
		for _, id := range ids {
			edges = append(edges, graph.Edge{
				Label: label, From: ev.EventID, To: id,
				FromLabel: graph.LabelEvent, ToLabel: toLabel,
			})
		}
	}
	link(graph.EdgeAffects, graph.LabelComponent, ev.ComponentIDs)
	link(graph.EdgeAffects, graph.LabelService, ev.ServiceIDs)
	link(graph.EdgeAffects, graph.LabelDoc, ev.DocIDs)
	link(graph.EdgeAffects, graph.LabelDocIssue, ev.DocIssueIDs)
	link(graph.EdgeTriggered, graph.LabelChatThread, ev.SlackThreadIDs)
	// git event nodes are prefixed so they never share an id with the event
	gitNodes := make([]string, 0, len(ev.GitEventIDs))
	for _, id := range ev.GitEventIDs {
		gitNodes = append(gitNodes, "git:"+id)
	}
	link(graph.EdgeTriggered, graph.LabelGitEvent, gitNodes)

	if err := w.store.MergeNodes(ctx, nodes); err != nil {
		return err
	}
	if len(edges) == 0 {
		return nil
	}
	return w.store.MergeEdges(ctx, edges)
}

// appendLine writes ev as one JSON line under an exclusive file lock
func appendLine(path string, ev models.ImpactEvent) error {
	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	line = append(line, '\n')

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := lockFile(f, true); err != nil {
		return fmt.Errorf("lock event log: %w", err)
	}
	defer unlockFile(f)

	_, err = f.Write(line)
	return err
}

// ReadRecent returns up to max events from the log, newest first.
// Malformed lines are skipped. A missing log yields no events.
func ReadRecent(path string, max int) ([]models.ImpactEvent, error) {
	events := []models.ImpactEvent{}
	if path == "" || max <= 0 {
		return events, nil
	}
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return events, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	defer f.Close()

	if err := lockFile(f, false); err != nil {
		return nil, fmt.Errorf("lock event log: %w", err)
	}
	defer unlockFile(f)

	// ring of the last max lines
	ring := make([][]byte, 0, max)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		cp := append([]byte(nil), line...)
		if len(ring) < max {
			ring = append(ring, cp)
		} else {
			copy(ring, ring[1:])
			ring[len(ring)-1] = cp
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read event log: %w", err)
	}

	for i := len(ring) - 1; i >= 0; i-- {
		var ev models.ImpactEvent
		if err := json.Unmarshal(ring[i], &ev); err != nil {
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

func appendUnique(list []string, values ...string) []string {
	for _, v := range values {
		if v == "" {
			continue
		}
		found := false
		for _, x := range list {
			if x == v {
				found = true
				break
			}
		}
		if !found {
			list = append(list, v)
		}
	}
	return list
}
