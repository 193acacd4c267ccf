package depgraph

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Manifest is the declarative dependency document for one repository
type Manifest struct {
	Repository   string            `yaml:"repository" json:"repository"`
	RepoAliases  []string          `yaml:"repo_aliases" json:"repo_aliases"`
	Services     []ServiceEntry    `yaml:"services" json:"services"`
	Components   []ComponentEntry  `yaml:"components" json:"components"`
	Dependencies []DependencyEntry `yaml:"dependencies" json:"dependencies"`
	Source       string            `yaml:"-" json:"-"`
}

// ServiceEntry declares a service and the components it aggregates
type ServiceEntry struct {
	ID         string   `yaml:"id" json:"id"`
	Name       string   `yaml:"name" json:"name"`
	Components []string `yaml:"components" json:"components"`
}

// ComponentEntry declares a component with nested artifacts, endpoints and docs
type ComponentEntry struct {
	ID        string            `yaml:"id" json:"id"`
	Repo      string            `yaml:"repo" json:"repo"`
	Name      string            `yaml:"name" json:"name"`
	Service   string            `yaml:"service" json:"service"`
	Aliases   []string          `yaml:"aliases" json:"aliases"`
	Keywords  []string          `yaml:"keywords" json:"keywords"`
	Metadata  map[string]string `yaml:"metadata" json:"metadata"`
	Artifacts []ArtifactEntry   `yaml:"artifacts" json:"artifacts"`
	Endpoints []EndpointEntry   `yaml:"endpoints" json:"endpoints"`
	Docs      []DocEntry        `yaml:"docs" json:"docs"`
}

// ArtifactEntry declares a path pattern owned by the enclosing component
type ArtifactEntry struct {
	ID        string   `yaml:"id" json:"id"`
	Repo      string   `yaml:"repo" json:"repo"`
	Path      string   `yaml:"path" json:"path"`
	DependsOn []string `yaml:"depends_on" json:"depends_on"`
}

// EndpointEntry declares an API endpoint
type EndpointEntry struct {
	ID          string `yaml:"id" json:"id"`
	Method      string `yaml:"method" json:"method"`
	Path        string `yaml:"path" json:"path"`
	Description string `yaml:"description" json:"description"`
}

// DocEntry declares a doc page describing the enclosing component
type DocEntry struct {
	ID     string   `yaml:"id" json:"id"`
	Title  string   `yaml:"title" json:"title"`
	URL    string   `yaml:"url" json:"url"`
	Path   string   `yaml:"path" json:"path"`
	Repo   string   `yaml:"repo" json:"repo"`
	APIIDs []string `yaml:"api_ids" json:"api_ids"`
}

// DependencyEntry declares that FromComponent depends on ToComponent
type DependencyEntry struct {
	FromComponent string `yaml:"from_component" json:"from_component"`
	ToComponent   string `yaml:"to_component" json:"to_component"`
	Reason        string `yaml:"reason" json:"reason"`
}

// Format of a manifest document
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatForPath picks the format from the file extension
func FormatForPath(p string) Format {
	if strings.EqualFold(filepath.Ext(p), ".json") {
		return FormatJSON
	}
	return FormatYAML
}

// ParseManifest decodes a manifest document
func ParseManifest(data []byte, format Format) (*Manifest, error) {
	var m Manifest
	switch format {
	case FormatJSON:
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("failed to parse manifest JSON: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("failed to parse manifest YAML: %w", err)
		}
	}
	return &m, nil
}

// LoadManifests reads manifest files. Directories are expanded to the
// *.yaml, *.yml and *.json files they contain. A file that fails to parse
// is returned in the error list and skipped.
func LoadManifests(paths []string) ([]*Manifest, []error) {
	var manifests []*Manifest
	var errs []error
	for _, p := range ExpandManifestPaths(paths) {
		data, err := os.ReadFile(p)
		if err != nil {
			errs = append(errs, fmt.Errorf("read manifest %s: %w", p, err))
			continue
		}
		m, err := ParseManifest(data, FormatForPath(p))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p, err))
			continue
		}
		m.Source = p
		manifests = append(manifests, m)
	}
	return manifests, errs
}

// ExpandManifestPaths resolves directories to their manifest files,
// sorted for a stable build order
func ExpandManifestPaths(paths []string) []string {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			files = append(files, p)
			continue
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		entries, err := os.ReadDir(p)
		if err != nil {
			continue
		}
		var found []string
		for _, e := range entries {
			if e.IsDir() || !isManifestFile(e.Name()) {
				continue
			}
			found = append(found, filepath.Join(p, e.Name()))
		}
		sort.Strings(found)
		files = append(files, found...)
	}
	return files
}

func isManifestFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml", ".json":
		return true
	}
	return false
}
