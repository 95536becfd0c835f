package mcu

import "strings"

// NameMatcher decides whether a decoded LCD cell names the sought track.
// The physical display clips long names, so besides case-insensitive
// containment it accepts configured truncated spellings and any cell whose
// text is a prefix of the target.
type NameMatcher struct {
	Target  string
	Aliases []string
}

// NewNameMatcher builds a matcher for target with optional truncated
// spellings the LCD is known to produce.
func NewNameMatcher(target string, aliases ...string) NameMatcher {
	return NameMatcher{Target: target, Aliases: aliases}
}

// Match reports whether name refers to the target track.
func (m NameMatcher) Match(name string) bool {
	if m.Target == "" {
		return false
	}
	got := strings.ToLower(strings.TrimSpace(name))
	if got == "" {
		return false
	}
	want := strings.ToLower(m.Target)
	if strings.Contains(got, want) {
		return true
	}
	for _, alias := range m.Aliases {
		if alias != "" && strings.Contains(got, strings.ToLower(alias)) {
			return true
		}
	}
	// Clipped rendering, e.g. "Backing Vo" for "Backing Vocals".
	return len(got) >= 3 && strings.HasPrefix(want, got)
}
