package config

import (
	"os"
	"strings"
)

// DeploymentMode represents the deployment context
type DeploymentMode string

const (
	// ModeDevelopment: a source checkout, .env files are expected
	ModeDevelopment DeploymentMode = "development"
	// ModeService: a long-running install, credentials from env or keychain
	ModeService DeploymentMode = "service"
	// ModeCI: credentials from env only, no prompts, strict validation
	ModeCI DeploymentMode = "ci"
)

// DetectMode determines the deployment context based on environment
func DetectMode() DeploymentMode {
	if mode := os.Getenv("IMPACT_MODE"); mode != "" {
		switch strings.ToLower(mode) {
		case "development", "dev":
			return ModeDevelopment
		case "service", "production", "prod":
			return ModeService
		case "ci", "cicd":
			return ModeCI
		}
	}

	if isCI() {
		return ModeCI
	}
	for _, marker := range []string{".env", "go.mod"} {
		if _, err := os.Stat(marker); err == nil {
			return ModeDevelopment
		}
	}
	return ModeService
}

func isCI() bool {
	for _, envVar := range []string{
		"CI",
		"CONTINUOUS_INTEGRATION",
		"GITHUB_ACTIONS",
		"GITLAB_CI",
		"CIRCLECI",
		"BUILDKITE",
		"JENKINS_URL",
		"TF_BUILD",
	} {
		if os.Getenv(envVar) != "" {
			return true
		}
	}
	return false
}

// String returns the string representation of the mode
func (m DeploymentMode) String() string {
	return string(m)
}

// AllowsInteractivePrompts returns true if interactive prompts are allowed
func (m DeploymentMode) AllowsInteractivePrompts() bool {
	return m != ModeCI
}

// RequiresStrictValidation turns validation warnings into errors
func (m DeploymentMode) RequiresStrictValidation() bool {
	return m == ModeCI
}

// Description returns a human-readable description of the mode
func (m DeploymentMode) Description() string {
	switch m {
	case ModeDevelopment:
		return "Local development (.env files)"
	case ModeService:
		return "Service install (env vars or keychain)"
	case ModeCI:
		return "CI/CD pipeline (env vars only)"
	default:
		return "Unknown mode"
	}
}
