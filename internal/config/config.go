// Package config loads the engine configuration from YAML, .env files,
// environment variables and the OS keychain.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rohankatakam/impactgraph/internal/analysis"
	"github.com/rohankatakam/impactgraph/internal/chat"
	"github.com/rohankatakam/impactgraph/internal/docissues"
	"github.com/rohankatakam/impactgraph/internal/evidence"
	"github.com/rohankatakam/impactgraph/internal/github"
	"github.com/rohankatakam/impactgraph/internal/llm"
	"github.com/rohankatakam/impactgraph/internal/models"
	"github.com/rohankatakam/impactgraph/internal/notify"
	"github.com/rohankatakam/impactgraph/internal/service"
)

// Config holds all configuration settings
type Config struct {
	// Manifests are dependency manifest files or directories
	Manifests ManifestConfig `mapstructure:"manifests" yaml:"manifests"`

	Analysis analysis.Config `mapstructure:"analysis" yaml:"analysis"`
	Evidence evidence.Config `mapstructure:"evidence" yaml:"evidence"`

	DocIssues DocIssueConfig `mapstructure:"doc_issues" yaml:"doc_issues"`
	Events    EventConfig    `mapstructure:"events" yaml:"events"`
	Notify    notify.Config  `mapstructure:"notify" yaml:"notify"`

	Neo4j  Neo4jConfig   `mapstructure:"neo4j" yaml:"neo4j"`
	GitHub github.Config `mapstructure:"github" yaml:"github"`
	Slack  chat.Config   `mapstructure:"slack" yaml:"slack"`
	LLM    llm.Config    `mapstructure:"llm" yaml:"llm"`

	Ingestion IngestionConfig `mapstructure:"ingestion" yaml:"ingestion"`
	Timeouts  TimeoutConfig   `mapstructure:"timeouts" yaml:"timeouts"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
}

type ManifestConfig struct {
	Paths []string `mapstructure:"paths" yaml:"paths"`
	// Watch reloads the graph when a manifest changes
	Watch    bool          `mapstructure:"watch" yaml:"watch"`
	Debounce time.Duration `mapstructure:"debounce" yaml:"debounce"`
	// Mirror copies the built graph into the graph store
	Mirror bool `mapstructure:"mirror" yaml:"mirror"`
}

type DocIssueConfig struct {
	docissues.Config `mapstructure:",squash" yaml:",inline"`

	// Backend is "file" or "sql"
	Backend string `mapstructure:"backend" yaml:"backend"`
	Path    string `mapstructure:"path" yaml:"path"`
	// Driver is "sqlite3" or "pgx" for the sql backend
	Driver string `mapstructure:"driver" yaml:"driver"`
	DSN    string `mapstructure:"dsn" yaml:"-"`
}

type EventConfig struct {
	LogPath string `mapstructure:"log_path" yaml:"log_path"`
	// GraphSink writes events to the graph store as well
	GraphSink bool `mapstructure:"graph_sink" yaml:"graph_sink"`
}

type Neo4jConfig struct {
	URI       string `mapstructure:"uri" yaml:"uri"`
	User      string `mapstructure:"user" yaml:"user"`
	Password  string `mapstructure:"password" yaml:"-"`
	Database  string `mapstructure:"database" yaml:"database"`
	BatchSize int    `mapstructure:"batch_size" yaml:"batch_size"`
}

// Enabled reports whether a graph store is configured
func (n Neo4jConfig) Enabled() bool {
	return n.URI != ""
}

type IngestionConfig struct {
	service.Config `mapstructure:",squash" yaml:",inline"`

	// Backend is "file" or "bolt"
	Backend      string               `mapstructure:"backend" yaml:"backend"`
	CursorPath   string               `mapstructure:"cursor_path" yaml:"cursor_path"`
	PollInterval time.Duration        `mapstructure:"poll_interval" yaml:"poll_interval"`
	Repositories []service.RepoTarget `mapstructure:"repositories" yaml:"repositories"`
}

type TimeoutConfig struct {
	Graph time.Duration `mapstructure:"graph" yaml:"graph"`
	Git   time.Duration `mapstructure:"git" yaml:"git"`
	Chat  time.Duration `mapstructure:"chat" yaml:"chat"`
	LLM   time.Duration `mapstructure:"llm" yaml:"llm"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	File       string `mapstructure:"file" yaml:"file"`
	JSON       bool   `mapstructure:"json" yaml:"json"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
}

type MetricsConfig struct {
	// Addr serves /metrics while polling; empty disables it
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// Default returns default configuration
func Default() *Config {
	dataDir := DataDir()
	return &Config{
		Manifests: ManifestConfig{
			Paths:    []string{"manifests"},
			Debounce: 500 * time.Millisecond,
		},
		Analysis: analysis.DefaultConfig(),
		Evidence: evidence.DefaultConfig(),
		DocIssues: DocIssueConfig{
			Backend: "file",
			Path:    filepath.Join(dataDir, "doc_issues.json"),
			Driver:  "sqlite3",
		},
		Events: EventConfig{
			LogPath:   filepath.Join(dataDir, "impact_events.jsonl"),
			GraphSink: true,
		},
		Notify: notify.Config{
			MinImpactLevel: models.ImpactMedium,
			Timeout:        10 * time.Second,
		},
		Neo4j: Neo4jConfig{
			User:      "neo4j",
			Database:  "neo4j",
			BatchSize: 500,
		},
		GitHub: github.Config{
			RequestsPerSecond: 1,
			MaxWorkers:        4,
		},
		Slack: chat.Config{
			BaseURL:           "https://slack.com/api",
			Timeout:           10 * time.Second,
			RequestsPerSecond: 1,
		},
		LLM: llm.Config{
			Provider: string(llm.ProviderNone),
			Timeout:  15 * time.Second,
		},
		Ingestion: IngestionConfig{
			Config:       service.DefaultConfig(),
			Backend:      "file",
			CursorPath:   filepath.Join(dataDir, "cursors.json"),
			PollInterval: 5 * time.Minute,
		},
		Timeouts: TimeoutConfig{
			Graph: 10 * time.Second,
			Git:   20 * time.Second,
			Chat:  10 * time.Second,
			LLM:   15 * time.Second,
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// DataDir is where stores and logs live unless configured otherwise
func DataDir() string {
	if dir := os.Getenv("IMPACT_DATA_DIR"); dir != "" {
		return expandPath(dir)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ".impactgraph"
	}
	return filepath.Join(homeDir, ".impactgraph")
}

// Load loads configuration from file. An empty path searches impact.yaml
// in ., ./.impactgraph and the data directory; a missing file means
// defaults. Keys absent from the file keep their default.
func Load(path string) (*Config, error) {
	loadEnvFiles()

	v := viper.New()
	v.SetConfigType("yaml")

	v.SetEnvPrefix("IMPACT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("impact")
		v.AddConfigPath(".")
		v.AddConfigPath(".impactgraph")
		v.AddConfigPath(DataDir())
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyEnvOverrides(cfg)
	applyKeychain(cfg, NewKeyringManager())
	cfg.expandPaths()
	cfg.applyTimeouts()
	return cfg, nil
}

// applyEnvOverrides applies the well-known variables of each integration.
// Precedence: env var, then config file, then keychain.
func applyEnvOverrides(cfg *Config) {
	for _, name := range []string{"GITHUB_TOKEN", "GH_TOKEN"} {
		if token := os.Getenv(name); token != "" {
			cfg.GitHub.Token = token
			break
		}
	}
	cfg.GitHub.BaseURL = GetString("GITHUB_API_URL", cfg.GitHub.BaseURL)

	cfg.Slack.Token = GetString("SLACK_BOT_TOKEN", cfg.Slack.Token)
	cfg.Slack.Workspace = GetString("SLACK_WORKSPACE", cfg.Slack.Workspace)
	cfg.Notify.Channel = GetString("SLACK_NOTIFY_CHANNEL", cfg.Notify.Channel)

	cfg.LLM.OpenAIKey = GetString("OPENAI_API_KEY", cfg.LLM.OpenAIKey)
	cfg.LLM.GeminiKey = GetString("GEMINI_API_KEY", cfg.LLM.GeminiKey)
	cfg.LLM.Model = GetString("LLM_MODEL", cfg.LLM.Model)
	cfg.LLM.RedisAddr = GetString("REDIS_ADDR", cfg.LLM.RedisAddr)
	if p := os.Getenv("LLM_PROVIDER"); p != "" {
		cfg.LLM.Provider = strings.ToLower(p)
	}

	cfg.Neo4j.URI = GetString("NEO4J_URI", cfg.Neo4j.URI)
	cfg.Neo4j.User = GetString("NEO4J_USER", cfg.Neo4j.User)
	cfg.Neo4j.Password = GetString("NEO4J_PASSWORD", cfg.Neo4j.Password)
	cfg.Neo4j.Database = GetString("NEO4J_DATABASE", cfg.Neo4j.Database)

	cfg.DocIssues.DSN = GetString("DOC_ISSUES_DSN", cfg.DocIssues.DSN)
	if manifests := os.Getenv("IMPACT_MANIFESTS"); manifests != "" {
		cfg.Manifests.Paths = splitList(manifests)
	}
	cfg.Analysis.MaxDepth = GetInt("IMPACT_MAX_DEPTH", cfg.Analysis.MaxDepth)
	cfg.Ingestion.PollInterval = GetDuration("IMPACT_POLL_INTERVAL", cfg.Ingestion.PollInterval)
	cfg.Logging.Level = GetString("LOG_LEVEL", cfg.Logging.Level)
	cfg.Metrics.Addr = GetString("METRICS_ADDR", cfg.Metrics.Addr)
}

// applyKeychain fills secrets still empty after file and env from the OS
// keychain
func applyKeychain(cfg *Config, km *KeyringManager) {
	if !km.IsAvailable() {
		return
	}
	fill := func(dst *string, item string) {
		if *dst != "" {
			return
		}
		if secret, err := km.Get(item); err == nil && secret != "" {
			*dst = secret
		}
	}
	fill(&cfg.GitHub.Token, SecretGitHubToken)
	fill(&cfg.Slack.Token, SecretSlackToken)
	fill(&cfg.LLM.OpenAIKey, SecretOpenAIKey)
	fill(&cfg.LLM.GeminiKey, SecretGeminiKey)
	fill(&cfg.Neo4j.Password, SecretNeo4jPassword)
}

func (c *Config) expandPaths() {
	for i, p := range c.Manifests.Paths {
		c.Manifests.Paths[i] = expandPath(p)
	}
	c.DocIssues.Path = expandPath(c.DocIssues.Path)
	c.Events.LogPath = expandPath(c.Events.LogPath)
	c.Ingestion.CursorPath = expandPath(c.Ingestion.CursorPath)
	c.Logging.File = expandPath(c.Logging.File)
	for i, r := range c.Ingestion.Repositories {
		c.Ingestion.Repositories[i].Path = expandPath(r.Path)
	}
}

// applyTimeouts copies the timeouts section into component settings that
// were left unset
func (c *Config) applyTimeouts() {
	if c.Evidence.Timeout <= 0 {
		c.Evidence.Timeout = c.Timeouts.LLM
	}
	if c.LLM.Timeout <= 0 {
		c.LLM.Timeout = c.Timeouts.LLM
	}
	if c.Slack.Timeout <= 0 {
		c.Slack.Timeout = c.Timeouts.Chat
	}
	if c.Notify.Timeout <= 0 {
		c.Notify.Timeout = c.Timeouts.Chat
	}
	if c.Ingestion.FetchTimeout <= 0 {
		c.Ingestion.FetchTimeout = c.Timeouts.Git
	}
}

// expandPath expands ~ to home directory
func expandPath(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[1:])
	}
	return path
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == os.PathListSeparator }) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Save writes the configuration as YAML. Secrets are never written.
func (c *Config) Save(path string) error {
	v := viper.New()
	v.SetConfigType("yaml")

	v.Set("manifests", c.Manifests)
	v.Set("analysis", c.Analysis)
	v.Set("evidence", c.Evidence)
	v.Set("doc_issues", map[string]any{
		"backend":             c.DocIssues.Backend,
		"path":                c.DocIssues.Path,
		"driver":              c.DocIssues.Driver,
		"portal_url_template": c.DocIssues.PortalURLTemplate,
	})
	v.Set("events", c.Events)
	v.Set("notify", c.Notify)
	v.Set("neo4j", map[string]any{
		"uri":        c.Neo4j.URI,
		"user":       c.Neo4j.User,
		"database":   c.Neo4j.Database,
		"batch_size": c.Neo4j.BatchSize,
	})
	v.Set("github", map[string]any{
		"base_url":            c.GitHub.BaseURL,
		"requests_per_second": c.GitHub.RequestsPerSecond,
		"max_workers":         c.GitHub.MaxWorkers,
	})
	v.Set("slack", map[string]any{
		"workspace":           c.Slack.Workspace,
		"base_url":            c.Slack.BaseURL,
		"requests_per_second": c.Slack.RequestsPerSecond,
	})
	v.Set("llm", map[string]any{
		"provider":   c.LLM.Provider,
		"model":      c.LLM.Model,
		"redis_addr": c.LLM.RedisAddr,
	})
	v.Set("ingestion", map[string]any{
		"backend":            c.Ingestion.Backend,
		"cursor_path":        c.Ingestion.CursorPath,
		"poll_interval":      c.Ingestion.PollInterval.String(),
		"commit_window":      c.Ingestion.CommitWindow,
		"processed_id_limit": c.Ingestion.ProcessedIDLimit,
		"repositories":       c.Ingestion.Repositories,
	})
	v.Set("timeouts", c.Timeouts)
	v.Set("logging", c.Logging)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
