// Package tableselect decides which catalog tables get registered with
// the engine and which of those register read-only.
package tableselect

import (
	"path"
	"strings"
)

// Policy holds glob lists controlling table registration. A missing
// include list defaults to include-all; exclude rules always win.
// Matching is case-insensitive.
type Policy struct {
	Include  []string
	Exclude  []string
	ReadOnly []string
}

// Decision is the registration outcome for one table.
type Decision struct {
	Register bool
	ReadOnly bool
}

// Decide evaluates the policy for a table name. Excluded tables come
// back with Register false; ReadOnly is only meaningful when Register
// is true.
func (p Policy) Decide(table string) Decision {
	if matchesAny(table, p.Exclude) {
		return Decision{}
	}
	if len(p.Include) > 0 && !matchesAny(table, p.Include) {
		return Decision{}
	}
	return Decision{Register: true, ReadOnly: matchesAny(table, p.ReadOnly)}
}

func matchesAny(value string, patterns []string) bool {
	value = strings.ToLower(value)
	for _, pattern := range patterns {
		if pattern == "" {
			continue
		}
		// matching should be case-insensitive
		ok, err := path.Match(strings.ToLower(pattern), value)
		if err != nil {
			continue
		}
		if ok {
			return true
		}
	}
	return false
}
