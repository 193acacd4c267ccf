package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/rohankatakam/impactgraph/internal/errors"
)

// CredentialManager stores secrets in the keychain from interactive input.
// Priority when reading stays: environment variable, config file, keychain.
type CredentialManager struct {
	mode    DeploymentMode
	keyring *KeyringManager
	in      io.Reader
	out     io.Writer
	lines   *bufio.Reader
}

// NewCredentialManager creates a credential manager on stdin and stdout
func NewCredentialManager() *CredentialManager {
	return &CredentialManager{
		mode:    DetectMode(),
		keyring: NewKeyringManager(),
		in:      os.Stdin,
		out:     os.Stdout,
	}
}

// Status describes where one secret currently comes from
type Status struct {
	Item   string
	Label  string
	Source string // "env", "keychain" or "none"
	Masked string
}

// Statuses reports every known secret without revealing it
func (cm *CredentialManager) Statuses() []Status {
	available := cm.keyring.IsAvailable()
	out := make([]Status, 0, len(SecretItems))
	for _, s := range SecretItems {
		st := Status{Item: s.Item, Label: s.Label, Source: "none", Masked: MaskSecret("")}
		if v := os.Getenv(s.EnvVar); v != "" {
			st.Source, st.Masked = "env", MaskSecret(v)
		} else if available {
			if v, err := cm.keyring.Get(s.Item); err == nil && v != "" {
				st.Source, st.Masked = "keychain", MaskSecret(v)
			}
		}
		out = append(out, st)
	}
	return out
}

// Configure prompts for each secret and stores the ones entered. An empty
// answer keeps the current value.
func (cm *CredentialManager) Configure() (int, error) {
	if !cm.mode.AllowsInteractivePrompts() {
		return 0, errors.ConfigError("interactive configuration is disabled in CI; set environment variables instead")
	}
	if !cm.keyring.IsAvailable() {
		return 0, errors.ConfigError("OS keychain not available; set environment variables instead")
	}

	saved := 0
	for _, s := range SecretItems {
		fmt.Fprintf(cm.out, "%s (%s, Enter to skip): ", s.Label, s.EnvVar)
		secret, err := cm.readSecurely()
		if err != nil {
			return saved, errors.Wrap(err, errors.ErrorTypeConfig, errors.SeverityMedium, "failed to read input")
		}
		if secret == "" {
			continue
		}
		if err := cm.keyring.Set(s.Item, secret); err != nil {
			return saved, errors.Wrap(err, errors.ErrorTypeConfig, errors.SeverityHigh,
				"failed to save "+s.Label+" to keychain")
		}
		saved++
	}
	return saved, nil
}

// readSecurely reads a secret without echo from a terminal, or one line
// from piped input
func (cm *CredentialManager) readSecurely() (string, error) {
	if f, ok := cm.in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(cm.out)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(b)), nil
	}
	if cm.lines == nil {
		cm.lines = bufio.NewReader(cm.in)
	}
	line, err := cm.lines.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// Mode returns the detected deployment mode
func (cm *CredentialManager) Mode() DeploymentMode {
	return cm.mode
}
