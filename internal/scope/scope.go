// Package scope implements the dot-path algebra used to locate knowledge
// within the project.domain.module.file hierarchy.
package scope

import (
	"fmt"
	"strings"
)

// Level classifies a scope path by its depth in the hierarchy.
type Level string

const (
	LevelProject Level = "project"
	LevelDomain  Level = "domain"
	LevelModule  Level = "module"
	LevelFile    Level = "file"
)

// LevelFromDepth maps a zero-based depth to its level. Depth 3 and beyond
// all classify as file; paths are not bounded in depth.
func LevelFromDepth(depth int) Level {
	switch depth {
	case 0:
		return LevelProject
	case 1:
		return LevelDomain
	case 2:
		return LevelModule
	default:
		return LevelFile
	}
}

// LevelOf returns the level of a scope path based on its segment count.
func LevelOf(path string) Level {
	return LevelFromDepth(Depth(path))
}

// Depth returns the zero-based depth of a path: "a" is 0, "a.b" is 1.
func Depth(path string) int {
	return strings.Count(path, ".")
}

// Validate checks that a scope path is non-empty and contains no empty
// segments ("a..b", ".a", "a." are all rejected).
func Validate(path string) error {
	if path == "" {
		return fmt.Errorf("scope path is empty")
	}
	for _, seg := range strings.Split(path, ".") {
		if seg == "" {
			return fmt.Errorf("scope path %q has an empty segment", path)
		}
	}
	return nil
}

// Ancestors returns every prefix of the path from coarsest to finest,
// including the path itself: "a.b.c" -> ["a", "a.b", "a.b.c"].
func Ancestors(path string) []string {
	parts := strings.Split(path, ".")
	out := make([]string, len(parts))
	for i := range parts {
		out[i] = strings.Join(parts[:i+1], ".")
	}
	return out
}

// Parent returns the immediate ancestor of the path, or "" for a root.
func Parent(path string) string {
	idx := strings.LastIndex(path, ".")
	if idx < 0 {
		return ""
	}
	return path[:idx]
}

// DescendantPattern returns the prefix that every strict descendant of the
// path starts with. Suitable for SQL LIKE with a trailing wildcard.
func DescendantPattern(path string) string {
	return path + "."
}

// IsDescendant reports whether candidate lies strictly below path.
func IsDescendant(candidate, path string) bool {
	return strings.HasPrefix(candidate, DescendantPattern(path))
}

// Join prepends a project id to a scope, producing the full scope.
func Join(projectID, path string) string {
	if projectID == "" {
		return path
	}
	return projectID + "." + path
}
