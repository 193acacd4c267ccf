package config

import (
	"fmt"
	"log/slog"

	"github.com/zalando/go-keyring"
)

// KeyringService is the service name in the OS keychain
const KeyringService = "ImpactGraph"

// Secret items stored in the keychain
const (
	SecretGitHubToken   = "github-token"
	SecretSlackToken    = "slack-bot-token"
	SecretOpenAIKey     = "openai-api-key"
	SecretGeminiKey     = "gemini-api-key"
	SecretNeo4jPassword = "neo4j-password"
)

// SecretItems lists every item the engine reads from the keychain, with
// the environment variable that takes precedence over it
var SecretItems = []struct {
	Item   string
	EnvVar string
	Label  string
}{
	{SecretGitHubToken, "GITHUB_TOKEN", "GitHub token"},
	{SecretSlackToken, "SLACK_BOT_TOKEN", "Slack bot token"},
	{SecretOpenAIKey, "OPENAI_API_KEY", "OpenAI API key"},
	{SecretGeminiKey, "GEMINI_API_KEY", "Gemini API key"},
	{SecretNeo4jPassword, "NEO4J_PASSWORD", "Neo4j password"},
}

// KeyringManager handles secure credential storage in OS keychain
type KeyringManager struct {
	service string
	logger  *slog.Logger
}

// NewKeyringManager creates a new keyring manager
func NewKeyringManager() *KeyringManager {
	return &KeyringManager{
		service: KeyringService,
		logger:  slog.Default().With("component", "keyring"),
	}
}

// Set stores a secret
func (km *KeyringManager) Set(item, secret string) error {
	if secret == "" {
		return fmt.Errorf("%s cannot be empty", item)
	}
	if err := keyring.Set(km.service, item, secret); err != nil {
		km.logger.Error("failed to save secret to keychain", "item", item, "error", err)
		return fmt.Errorf("failed to save to OS keychain: %w", err)
	}
	km.logger.Info("secret saved to keychain", "service", km.service, "item", item)
	return nil
}

// Get returns a secret, or "" when it is not stored
func (km *KeyringManager) Get(item string) (string, error) {
	secret, err := keyring.Get(km.service, item)
	if err == keyring.ErrNotFound {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read from OS keychain: %w", err)
	}
	return secret, nil
}

// Delete removes a secret; deleting a missing secret is not an error
func (km *KeyringManager) Delete(item string) error {
	err := keyring.Delete(km.service, item)
	if err == keyring.ErrNotFound {
		return nil
	}
	if err != nil {
		km.logger.Error("failed to delete secret from keychain", "item", item, "error", err)
		return fmt.Errorf("failed to delete from OS keychain: %w", err)
	}
	km.logger.Info("secret deleted from keychain", "item", item)
	return nil
}

// IsAvailable reports whether the OS keychain can be used. It is false on
// headless systems without a secret service.
func (km *KeyringManager) IsAvailable() bool {
	_, err := keyring.Get(km.service, "availability-probe")
	if err == nil || err == keyring.ErrNotFound {
		return true
	}
	km.logger.Debug("keychain not available", "error", err)
	return false
}

// MaskSecret masks a secret for display: "xoxb-12...a1b2"
func MaskSecret(secret string) string {
	if secret == "" {
		return "(not set)"
	}
	if len(secret) < 12 {
		return "***"
	}
	return fmt.Sprintf("%s...%s", secret[:7], secret[len(secret)-4:])
}
