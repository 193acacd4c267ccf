package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/rohankatakam/impactgraph/internal/errors"
	"github.com/rohankatakam/impactgraph/internal/llm"
)

// ValidationContext specifies what configuration is required
type ValidationContext string

const (
	// ValidationContextAnalyze: one-shot analysis, manifests are required
	ValidationContextAnalyze ValidationContext = "analyze"
	// ValidationContextPoll: polling also needs repositories and a source
	ValidationContextPoll ValidationContext = "poll"
	// ValidationContextAll validates every section
	ValidationContextAll ValidationContext = "all"
)

// ValidationResult holds validation results
type ValidationResult struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

// AddError adds an error to the validation result
func (vr *ValidationResult) AddError(format string, args ...interface{}) {
	vr.Valid = false
	vr.Errors = append(vr.Errors, fmt.Sprintf(format, args...))
}

// AddWarning adds a warning to the validation result
func (vr *ValidationResult) AddWarning(format string, args ...interface{}) {
	vr.Warnings = append(vr.Warnings, fmt.Sprintf(format, args...))
}

// HasErrors returns true if there are any errors
func (vr *ValidationResult) HasErrors() bool {
	return !vr.Valid || len(vr.Errors) > 0
}

// Error returns a formatted error message
func (vr *ValidationResult) Error() string {
	if !vr.HasErrors() {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")
	for _, e := range vr.Errors {
		sb.WriteString("  - " + e + "\n")
	}
	if len(vr.Warnings) > 0 {
		sb.WriteString("warnings:\n")
		for _, w := range vr.Warnings {
			sb.WriteString("  - " + w + "\n")
		}
	}
	return sb.String()
}

// Err returns the result as a ConfigError, or nil when valid
func (vr *ValidationResult) Err() error {
	if !vr.HasErrors() {
		return nil
	}
	return errors.ConfigError(strings.TrimSpace(vr.Error()))
}

// Validate validates configuration for the given context with the detected
// deployment mode
func (c *Config) Validate(ctx ValidationContext) *ValidationResult {
	return c.ValidateWithMode(ctx, DetectMode())
}

// ValidateWithMode validates configuration for the given context. Strict
// modes report warnings as errors.
func (c *Config) ValidateWithMode(ctx ValidationContext, mode DeploymentMode) *ValidationResult {
	result := &ValidationResult{Valid: true}

	c.validateManifests(result)
	c.validateAnalysis(result)
	c.validateStores(result)
	c.validateNotify(result)
	switch ctx {
	case ValidationContextPoll:
		c.validateIngestion(result, true)
	case ValidationContextAll:
		c.validateIngestion(result, false)
		c.validateNeo4j(result)
		c.validateLLM(result)
	default:
		c.validateNeo4j(result)
		c.validateLLM(result)
	}

	if mode.RequiresStrictValidation() && len(result.Warnings) > 0 {
		for _, w := range result.Warnings {
			result.AddError("%s", w)
		}
		result.Warnings = nil
	}
	return result
}

func (c *Config) validateManifests(result *ValidationResult) {
	if len(c.Manifests.Paths) == 0 {
		result.AddError("manifests.paths is empty; at least one manifest file or directory is required")
	}
	if c.Manifests.Mirror && !c.Neo4j.Enabled() {
		result.AddWarning("manifests.mirror is set but neo4j.uri is empty; the graph will not be mirrored")
	}
}

func (c *Config) validateAnalysis(result *ValidationResult) {
	if c.Analysis.MaxDepth < 1 || c.Analysis.MaxDepth > 10 {
		result.AddError("analysis.max_depth must be between 1 and 10, got %d", c.Analysis.MaxDepth)
	}
	if c.Analysis.MaxRecommendations < 0 {
		result.AddError("analysis.max_recommendations cannot be negative")
	}
	if c.Evidence.MaxBullets <= 0 {
		result.AddWarning("evidence.max_bullets is %d; evidence will be empty", c.Evidence.MaxBullets)
	}
}

func (c *Config) validateStores(result *ValidationResult) {
	switch c.DocIssues.Backend {
	case "file":
		if c.DocIssues.Path == "" {
			result.AddError("doc_issues.path is required for the file backend")
		}
	case "sql":
		switch c.DocIssues.Driver {
		case "sqlite3":
			if c.DocIssues.DSN == "" && c.DocIssues.Path == "" {
				result.AddError("doc_issues.dsn or doc_issues.path is required for sqlite3")
			}
		case "pgx":
			if c.DocIssues.DSN == "" {
				result.AddError("doc_issues.dsn (or DOC_ISSUES_DSN) is required for pgx")
			}
		default:
			result.AddError("doc_issues.driver must be sqlite3 or pgx, got %q", c.DocIssues.Driver)
		}
	default:
		result.AddError("doc_issues.backend must be file or sql, got %q", c.DocIssues.Backend)
	}

	if c.Events.LogPath == "" && !(c.Events.GraphSink && c.Neo4j.Enabled()) {
		result.AddWarning("no impact event sink configured; events will be lost")
	}
	if c.Events.GraphSink && !c.Neo4j.Enabled() {
		result.AddWarning("events.graph_sink is set but neo4j.uri is empty; only the log sink is used")
	}
}

func (c *Config) validateNotify(result *ValidationResult) {
	if !c.Notify.Enabled {
		return
	}
	if !c.Notify.MinImpactLevel.Valid() {
		result.AddError("notify.min_impact_level must be low, medium or high, got %q", c.Notify.MinImpactLevel)
	}
	if c.Notify.Channel != "" && c.Slack.Token == "" {
		result.AddWarning("notify.channel is set but no Slack token is configured (SLACK_BOT_TOKEN)")
	}
	if c.Notify.CommentOnPR && c.GitHub.Token == "" {
		result.AddWarning("notify.comment_on_pr is set but no GitHub token is configured (GITHUB_TOKEN)")
	}
}

func (c *Config) validateIngestion(result *ValidationResult, required bool) {
	switch c.Ingestion.Backend {
	case "file", "bolt":
	default:
		result.AddError("ingestion.backend must be file or bolt, got %q", c.Ingestion.Backend)
	}
	if c.Ingestion.CursorPath == "" {
		result.AddError("ingestion.cursor_path is required")
	}
	if c.Ingestion.PollInterval <= 0 {
		result.AddError("ingestion.poll_interval must be positive")
	}
	if len(c.Ingestion.Repositories) == 0 {
		if required {
			result.AddError("ingestion.repositories is empty; nothing to poll")
		}
		return
	}
	for i, r := range c.Ingestion.Repositories {
		if r.Repo == "" && r.Path == "" {
			result.AddError("ingestion.repositories[%d] needs repo or path", i)
			continue
		}
		if r.Path == "" && !strings.Contains(r.Repo, "/") {
			result.AddError("ingestion.repositories[%d].repo must be owner/name, got %q", i, r.Repo)
		}
		if r.Path == "" && c.GitHub.Token == "" {
			result.AddWarning("ingestion.repositories[%d] polls GitHub without a token; rate limits are low", i)
		}
	}
}

func (c *Config) validateNeo4j(result *ValidationResult) {
	if !c.Neo4j.Enabled() {
		return
	}
	u, err := url.Parse(c.Neo4j.URI)
	if err != nil {
		result.AddError("neo4j.uri is invalid: %v", err)
		return
	}
	switch u.Scheme {
	case "bolt", "bolt+s", "bolt+ssc", "neo4j", "neo4j+s", "neo4j+ssc":
	default:
		result.AddError("neo4j.uri scheme must be bolt or neo4j, got %q", u.Scheme)
	}
	if c.Neo4j.Password == "" {
		result.AddWarning("neo4j.password is empty (NEO4J_PASSWORD)")
	}
}

func (c *Config) validateLLM(result *ValidationResult) {
	switch llm.Provider(c.LLM.Provider) {
	case "", llm.ProviderNone:
	case llm.ProviderOpenAI:
		if c.LLM.OpenAIKey == "" {
			result.AddWarning("llm.provider is openai but OPENAI_API_KEY is not set; evidence stays deterministic")
		}
	case llm.ProviderGemini:
		if c.LLM.GeminiKey == "" {
			result.AddWarning("llm.provider is gemini but GEMINI_API_KEY is not set; evidence stays deterministic")
		}
	default:
		result.AddError("llm.provider must be openai, gemini or none, got %q", c.LLM.Provider)
	}
}
