package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/rohankatakam/impactgraph/internal/models"
)

// Supported SQL drivers
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
)

// timestamps are stored as fixed-width UTC text so they sort lexically on
// both engines
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const issueSchema = `
CREATE TABLE IF NOT EXISTS doc_issues (
	id TEXT PRIMARY KEY,
	doc_id TEXT NOT NULL,
	doc_title TEXT NOT NULL DEFAULT '',
	doc_path TEXT NOT NULL,
	doc_url TEXT NOT NULL DEFAULT '',
	repo_id TEXT NOT NULL,
	component_ids TEXT NOT NULL DEFAULT '[]',
	service_ids TEXT NOT NULL DEFAULT '[]',
	impact_level TEXT NOT NULL,
	severity TEXT NOT NULL,
	source TEXT NOT NULL,
	linked_change TEXT NOT NULL,
	change_context TEXT NOT NULL DEFAULT '{}',
	summary TEXT NOT NULL DEFAULT '',
	confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
	evidence_mode TEXT NOT NULL DEFAULT '',
	evidence_summary TEXT NOT NULL DEFAULT '',
	links TEXT NOT NULL DEFAULT '[]',
	created_at TEXT NOT NULL,
	detected_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	state TEXT NOT NULL,
	UNIQUE (repo_id, doc_path, linked_change)
);

CREATE INDEX IF NOT EXISTS idx_doc_issues_repo_state ON doc_issues (repo_id, state);
`

const upsertIssue = `
INSERT INTO doc_issues (id, doc_id, doc_title, doc_path, doc_url, repo_id,
	component_ids, service_ids, impact_level, severity, source, linked_change,
	change_context, summary, confidence, evidence_mode, evidence_summary, links,
	created_at, detected_at, updated_at, state)
VALUES (:id, :doc_id, :doc_title, :doc_path, :doc_url, :repo_id,
	:component_ids, :service_ids, :impact_level, :severity, :source, :linked_change,
	:change_context, :summary, :confidence, :evidence_mode, :evidence_summary, :links,
	:created_at, :detected_at, :updated_at, :state)
ON CONFLICT (id) DO UPDATE SET
	doc_id = excluded.doc_id,
	doc_title = excluded.doc_title,
	doc_url = excluded.doc_url,
	component_ids = excluded.component_ids,
	service_ids = excluded.service_ids,
	impact_level = excluded.impact_level,
	severity = excluded.severity,
	source = excluded.source,
	change_context = excluded.change_context,
	summary = excluded.summary,
	confidence = excluded.confidence,
	evidence_mode = excluded.evidence_mode,
	evidence_summary = excluded.evidence_summary,
	links = excluded.links,
	detected_at = excluded.detected_at,
	updated_at = excluded.updated_at,
	state = excluded.state
`

// issueRow is the flattened column form of a DocIssue
type issueRow struct {
	ID              string  `db:"id"`
	DocID           string  `db:"doc_id"`
	DocTitle        string  `db:"doc_title"`
	DocPath         string  `db:"doc_path"`
	DocURL          string  `db:"doc_url"`
	RepoID          string  `db:"repo_id"`
	ComponentIDs    string  `db:"component_ids"`
	ServiceIDs      string  `db:"service_ids"`
	ImpactLevel     string  `db:"impact_level"`
	Severity        string  `db:"severity"`
	Source          string  `db:"source"`
	LinkedChange    string  `db:"linked_change"`
	ChangeContext   string  `db:"change_context"`
	Summary         string  `db:"summary"`
	Confidence      float64 `db:"confidence"`
	EvidenceMode    string  `db:"evidence_mode"`
	EvidenceSummary string  `db:"evidence_summary"`
	Links           string  `db:"links"`
	CreatedAt       string  `db:"created_at"`
	DetectedAt      string  `db:"detected_at"`
	UpdatedAt       string  `db:"updated_at"`
	State           string  `db:"state"`
}

// SQLIssueStore keeps doc issues in SQLite or Postgres
type SQLIssueStore struct {
	db     *sqlx.DB
	driver string
}

// NewSQLIssueStore connects with driver ("sqlite3" or "pgx") and creates
// the schema
func NewSQLIssueStore(driver, dsn string) (*SQLIssueStore, error) {
	switch driver {
	case DriverSQLite:
		if dsn != ":memory:" && !strings.HasPrefix(dsn, "file:") {
			if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}

	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", driver, err)
	}

	if driver == DriverSQLite {
		// one connection: sqlite serializes writers anyway and :memory: is
		// per-connection
		db.SetMaxOpenConns(1)
		if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
			slog.Default().With("component", "storage").Debug("sqlite WAL mode not enabled", "dsn", dsn, "error", err)
		}
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	store := &SQLIssueStore{db: db, driver: driver}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return store, nil
}

func (s *SQLIssueStore) initSchema() error {
	for _, stmt := range strings.Split(issueSchema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLIssueStore) List(ctx context.Context) ([]models.DocIssue, error) {
	var rows []issueRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM doc_issues ORDER BY created_at, id`); err != nil {
		return nil, fmt.Errorf("list doc issues: %w", err)
	}
	issues := make([]models.DocIssue, 0, len(rows))
	for _, r := range rows {
		is, err := r.toIssue()
		if err != nil {
			return nil, err
		}
		issues = append(issues, is)
	}
	return issues, nil
}

func (s *SQLIssueStore) Get(ctx context.Context, id string) (*models.DocIssue, error) {
	var row issueRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`SELECT * FROM doc_issues WHERE id = ?`), id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get doc issue: %w", err)
	}
	is, err := row.toIssue()
	if err != nil {
		return nil, err
	}
	return &is, nil
}

// Upsert writes all issues in one transaction
func (s *SQLIssueStore) Upsert(ctx context.Context, issues []models.DocIssue) error {
	if len(issues) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, is := range issues {
		row, err := issueToRow(is)
		if err != nil {
			return err
		}
		if _, err := tx.NamedExecContext(ctx, upsertIssue, row); err != nil {
			return fmt.Errorf("upsert doc issue %s: %w", is.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit doc issues: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *SQLIssueStore) Close() error {
	return s.db.Close()
}

func issueToRow(is models.DocIssue) (issueRow, error) {
	encode := func(v any) (string, error) {
		b, err := json.Marshal(v)
		return string(b), err
	}
	componentIDs, err := encode(nonNil(is.ComponentIDs))
	if err != nil {
		return issueRow{}, err
	}
	serviceIDs, err := encode(nonNil(is.ServiceIDs))
	if err != nil {
		return issueRow{}, err
	}
	changeCtx, err := encode(is.ChangeContext)
	if err != nil {
		return issueRow{}, err
	}
	links := is.Links
	if links == nil {
		links = []models.Link{}
	}
	linksJSON, err := encode(links)
	if err != nil {
		return issueRow{}, err
	}

	return issueRow{
		ID:              is.ID,
		DocID:           is.DocID,
		DocTitle:        is.DocTitle,
		DocPath:         is.DocPath,
		DocURL:          is.DocURL,
		RepoID:          is.RepoID,
		ComponentIDs:    componentIDs,
		ServiceIDs:      serviceIDs,
		ImpactLevel:     string(is.ImpactLevel),
		Severity:        string(is.Severity),
		Source:          string(is.Source),
		LinkedChange:    is.LinkedChange,
		ChangeContext:   changeCtx,
		Summary:         is.Summary,
		Confidence:      is.Confidence,
		EvidenceMode:    is.EvidenceMode,
		EvidenceSummary: is.EvidenceSummary,
		Links:           linksJSON,
		CreatedAt:       formatTime(is.CreatedAt),
		DetectedAt:      formatTime(is.DetectedAt),
		UpdatedAt:       formatTime(is.UpdatedAt),
		State:           string(is.State),
	}, nil
}

func (r issueRow) toIssue() (models.DocIssue, error) {
	is := models.DocIssue{
		ID:              r.ID,
		DocID:           r.DocID,
		DocTitle:        r.DocTitle,
		DocPath:         r.DocPath,
		DocURL:          r.DocURL,
		RepoID:          r.RepoID,
		ImpactLevel:     models.ImpactLevel(r.ImpactLevel),
		Severity:        models.Severity(r.Severity),
		Source:          models.SourceKind(r.Source),
		LinkedChange:    r.LinkedChange,
		Summary:         r.Summary,
		Confidence:      r.Confidence,
		EvidenceMode:    r.EvidenceMode,
		EvidenceSummary: r.EvidenceSummary,
		State:           models.IssueState(r.State),
	}
	for _, c := range []struct {
		col string
		dst any
	}{
		{r.ComponentIDs, &is.ComponentIDs},
		{r.ServiceIDs, &is.ServiceIDs},
		{r.ChangeContext, &is.ChangeContext},
		{r.Links, &is.Links},
	} {
		if err := json.Unmarshal([]byte(c.col), c.dst); err != nil {
			return is, fmt.Errorf("decode doc issue %s: %w", r.ID, err)
		}
	}
	var err error
	if is.CreatedAt, err = parseTime(r.CreatedAt); err != nil {
		return is, err
	}
	if is.DetectedAt, err = parseTime(r.DetectedAt); err != nil {
		return is, err
	}
	if is.UpdatedAt, err = parseTime(r.UpdatedAt); err != nil {
		return is, err
	}
	return is, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
