// Package filter decides which systemd units have their state emitted as
// metrics. Filtering gates emission only; the engine keeps tracking units
// that fail the filter.
package filter

import "strings"

// Set holds include and exclude glob patterns. An empty include list means
// "include everything", subject to excludes. A Set is immutable after
// construction and safe for concurrent use.
type Set struct {
	include []string
	exclude []string
}

// NewSet builds a Set from pattern slices. Empty patterns are dropped.
func NewSet(include, exclude []string) Set {
	return Set{
		include: compact(include),
		exclude: compact(exclude),
	}
}

// ParseList splits a comma-separated pattern list from configuration.
func ParseList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	patterns := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			patterns = append(patterns, p)
		}
	}
	return patterns
}

// Include returns the include patterns.
func (s Set) Include() []string { return s.include }

// Exclude returns the exclude patterns.
func (s Set) Exclude() []string { return s.exclude }

// Match reports whether a unit name passes the filter. Excludes win over
// includes when both match.
func (s Set) Match(name string) bool {
	for _, p := range s.exclude {
		if globMatch(p, name) {
			return false
		}
	}
	if len(s.include) == 0 {
		return true
	}
	for _, p := range s.include {
		if globMatch(p, name) {
			return true
		}
	}
	return false
}

func compact(patterns []string) []string {
	out := make([]string, 0, len(patterns))
	for _, p := range patterns {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// globMatch matches name against pattern where `*` matches any substring
// (including empty) and every other rune is literal. Matching is
// case-sensitive and anchored to the full name.
func globMatch(pattern, name string) bool {
	segments := strings.Split(pattern, "*")
	if len(segments) == 1 {
		return pattern == name
	}

	if !strings.HasPrefix(name, segments[0]) {
		return false
	}
	name = name[len(segments[0]):]

	last := segments[len(segments)-1]
	if !strings.HasSuffix(name, last) {
		return false
	}
	name = name[:len(name)-len(last)]

	for _, seg := range segments[1 : len(segments)-1] {
		if seg == "" {
			continue
		}
		idx := strings.Index(name, seg)
		if idx < 0 {
			return false
		}
		name = name[idx+len(seg):]
	}
	return true
}
