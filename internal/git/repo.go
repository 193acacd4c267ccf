package git

import (
	"fmt"
	"regexp"
	"strings"
)

var remotePatterns = []*regexp.Regexp{
	regexp.MustCompile(`^https?://[^/]+/([^/]+)/([^/]+)$`),
	regexp.MustCompile(`^(?:ssh://)?git@[^:/]+[:/]([^/]+)/([^/]+)$`),
	regexp.MustCompile(`^git://[^/]+/([^/]+)/([^/]+)$`),
}

// ParseRepoURL extracts owner and repo name from a git remote URL.
// Supports HTTPS, SSH (scp-like and ssh://) and git:// forms.
func ParseRepoURL(remoteURL string) (owner, repo string, err error) {
	u := strings.TrimSuffix(strings.TrimSpace(remoteURL), "/")
	u = strings.TrimSuffix(u, ".git")
	for _, re := range remotePatterns {
		if m := re.FindStringSubmatch(u); len(m) == 3 {
			return m[1], m[2], nil
		}
	}
	return "", "", fmt.Errorf("unrecognized git URL format: %s", remoteURL)
}
