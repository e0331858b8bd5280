// Package analyze turns raw content into structured analysis payloads. The
// default analyzer is heuristic, based on pattern extraction; richer
// analyzers plug in behind the same interface.
package analyze

import (
	"regexp"
	"strings"
)

// Type names a kind of analysis. Stored verbatim on the artifact row.
type Type string

const (
	TypeDocumentation Type = "documentation"
	TypeArchitecture  Type = "architecture"
	TypeDecision      Type = "decision"
	TypeStructure     Type = "structure"
	TypeSemantic      Type = "semantic"
	TypeDependencies  Type = "dependencies"
)

// Valid reports whether t is a known analysis type.
func (t Type) Valid() bool {
	switch t {
	case TypeDocumentation, TypeArchitecture, TypeDecision, TypeStructure, TypeSemantic, TypeDependencies:
		return true
	}
	return false
}

// Result is the analysis payload serialized into an artifact's result_data.
// The common fields are always set; the typed fields are populated per
// analysis type.
type Result struct {
	Content      string `json:"content"`
	Length       int    `json:"length"`
	WordCount    int    `json:"word_count"`
	AnalysisType Type   `json:"analysis_type"`
	Summary      string `json:"summary"`
	Title        string `json:"title"`

	Components   []string   `json:"components,omitempty"`
	Dependencies []string   `json:"dependencies,omitempty"`
	Structure    *Structure `json:"structure,omitempty"`
}

// Structure describes the shape of analyzed content.
type Structure struct {
	LineCount        int    `json:"line_count"`
	NonEmptyLines    int    `json:"non_empty_lines"`
	IndentationStyle string `json:"indentation_style"`
}

// Analyzer produces a Result from raw content.
type Analyzer interface {
	Analyze(content string, analysisType Type) (*Result, error)
}

const (
	contentTruncateLen = 2000
	summaryLen         = 200
)

var (
	componentRe  = regexp.MustCompile(`(?i)\b(?:class|function|component|module)\s+(\w+)`)
	dependencyRe = regexp.MustCompile(`(?:import|from|require)\s+['"]?([^'"\s]+)`)
)

// Heuristic is the built-in analyzer. Stateless and safe for concurrent use.
type Heuristic struct{}

// NewHeuristic returns the default pattern-based analyzer.
func NewHeuristic() *Heuristic { return &Heuristic{} }

// Analyze extracts the common payload plus type-specific fields.
func (h *Heuristic) Analyze(content string, analysisType Type) (*Result, error) {
	r := &Result{
		Content:      truncate(content, contentTruncateLen),
		Length:       len(content),
		WordCount:    len(strings.Fields(content)),
		AnalysisType: analysisType,
		Summary:      summarize(content),
		Title:        titleFor(analysisType),
	}

	switch analysisType {
	case TypeArchitecture:
		r.Components = extractComponents(content)
	case TypeDependencies:
		r.Dependencies = extractDependencies(content)
	case TypeStructure:
		r.Structure = extractStructure(content)
	}

	return r, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func summarize(content string) string {
	if len(content) > summaryLen {
		return content[:summaryLen] + "..."
	}
	return content
}

func titleFor(t Type) string {
	s := string(t)
	if s == "" {
		return "Analysis"
	}
	return strings.ToUpper(s[:1]) + s[1:] + " Analysis"
}

// extractComponents pulls declared names out of code-like content. Order is
// first occurrence; duplicates collapse.
func extractComponents(content string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range componentRe.FindAllStringSubmatch(content, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			out = append(out, m[1])
		}
	}
	return out
}

// extractDependencies pulls import targets out of code-like content.
func extractDependencies(content string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range dependencyRe.FindAllStringSubmatch(content, -1) {
		dep := strings.Trim(m[1], `'"`)
		if dep == "" || seen[dep] {
			continue
		}
		seen[dep] = true
		out = append(out, dep)
	}
	return out
}

func extractStructure(content string) *Structure {
	lines := strings.Split(content, "\n")
	nonEmpty := 0
	spaces := false
	for _, line := range lines {
		if strings.TrimSpace(line) != "" {
			nonEmpty++
		}
		if strings.HasPrefix(line, "  ") {
			spaces = true
		}
	}
	style := "tabs"
	if spaces {
		style = "spaces"
	}
	return &Structure{
		LineCount:        len(lines),
		NonEmptyLines:    nonEmpty,
		IndentationStyle: style,
	}
}
