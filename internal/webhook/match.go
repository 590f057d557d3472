package webhook

import (
	"fmt"
	"strings"
)

// segment is one path element of an endpoint pattern.
type segment struct {
	literal string
	capture string
}

// compilePattern splits a path pattern into segments. Captures are written
// {name} or <name> and match exactly one path segment.
func compilePattern(pattern string) ([]segment, error) {
	parts := splitPath(pattern)
	segs := make([]segment, 0, len(parts))
	seen := make(map[string]struct{})
	for _, p := range parts {
		name, isCapture := captureName(p)
		if !isCapture {
			segs = append(segs, segment{literal: p})
			continue
		}
		if name == "" {
			return nil, fmt.Errorf("empty capture in pattern %q", pattern)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("duplicate capture %q in pattern %q", name, pattern)
		}
		seen[name] = struct{}{}
		segs = append(segs, segment{capture: name})
	}
	return segs, nil
}

func captureName(part string) (string, bool) {
	switch {
	case strings.HasPrefix(part, "{") && strings.HasSuffix(part, "}"),
		strings.HasPrefix(part, "<") && strings.HasSuffix(part, ">"):
		return strings.TrimSpace(part[1 : len(part)-1]), true
	}
	return "", false
}

// isLiteral reports whether the pattern has no captures.
func isLiteral(segs []segment) bool {
	for _, s := range segs {
		if s.capture != "" {
			return false
		}
	}
	return true
}

// matchSegments matches path against a compiled pattern and returns the captured values.
func matchSegments(segs []segment, path string) (map[string]string, bool) {
	parts := splitPath(path)
	if len(parts) != len(segs) {
		return nil, false
	}

	var params map[string]string
	for i, s := range segs {
		if s.capture == "" {
			if s.literal != parts[i] {
				return nil, false
			}
			continue
		}
		if params == nil {
			params = make(map[string]string)
		}
		params[s.capture] = parts[i]
	}
	if params == nil {
		params = map[string]string{}
	}
	return params, true
}

// splitPath splits a URL path into non-empty segments.
func splitPath(path string) []string {
	var parts []string
	start := 0
	for i := 0; i <= len(path); i++ {
		if i == len(path) || path[i] == '/' {
			if i > start {
				parts = append(parts, path[start:i])
			}
			start = i + 1
		}
	}
	return parts
}
