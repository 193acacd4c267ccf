package depgraph

import (
	"sort"
	"strings"
	"unicode"
)

const minTermLength = 3

// InferReferences finds components and API endpoints mentioned in free
// text. A component matches on its id, the part of the id after the
// namespace, its name, aliases or keywords; an endpoint matches on its id
// or its path. Matching is case-insensitive on word boundaries.
func (g *Graph) InferReferences(text string) (components []string, apis []string) {
	if g == nil || strings.TrimSpace(text) == "" {
		return nil, nil
	}
	lower := strings.ToLower(text)

	for _, id := range sortedIDs(g.components) {
		c := g.components[id]
		terms := []string{c.ID, c.Name}
		if _, suffix, ok := strings.Cut(c.ID, ":"); ok {
			terms = append(terms, suffix)
		}
		terms = append(terms, c.Aliases...)
		terms = append(terms, c.Keywords...)
		if containsAnyTerm(lower, terms) {
			components = append(components, id)
		}
	}

	for _, id := range sortedIDs(g.endpoints) {
		e := g.endpoints[id]
		terms := []string{e.ID}
		if _, suffix, ok := strings.Cut(e.ID, ":"); ok {
			terms = append(terms, suffix)
		}
		if e.Path != "" && e.Path != "/" {
			terms = append(terms, e.Path)
		}
		if containsAnyTerm(lower, terms) {
			apis = append(apis, id)
		}
	}

	sort.Strings(components)
	sort.Strings(apis)
	return components, apis
}

func containsAnyTerm(text string, terms []string) bool {
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if len(t) < minTermLength {
			continue
		}
		if containsWord(text, t) {
			return true
		}
	}
	return false
}

// containsWord reports whether term occurs in text with non-word runes
// (or the text edges) on both sides
func containsWord(text, term string) bool {
	for start := 0; start <= len(text)-len(term); {
		i := strings.Index(text[start:], term)
		if i < 0 {
			return false
		}
		i += start
		end := i + len(term)
		if boundaryBefore(text, i) && boundaryAfter(text, end) {
			return true
		}
		start = i + 1
	}
	return false
}

func boundaryBefore(text string, i int) bool {
	if i == 0 {
		return true
	}
	r := rune(text[i-1])
	return !isWordRune(r)
}

func boundaryAfter(text string, end int) bool {
	if end >= len(text) {
		return true
	}
	r := rune(text[end])
	return !isWordRune(r)
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
