// Clients list the queues of a server with glob patterns (e.g. KEYS jobs:*); the following module implements glob
// matching over queue names.

package scan

import (
	"iter"

	"v.io/v23/glob"
)

// MatchGlob filters the `names` stream with the given `pattern`. Invalid patterns match nothing.
func MatchGlob(pattern string, names iter.Seq[string]) iter.Seq[string] {
	// Parse the glob pattern.
	parsedPattern, err := glob.Parse(pattern)
	if err != nil { // If pattern is invalid, return empty sequence.
		return func(yield func(string) bool) {}
	}
	return func(yield func(string) bool) {
		for name := range names {
			if parsedPattern.Head().Match(name) {
				if !yield(name) {
					return
				}
			}
		}
	}
}

// ValidGlob returns an error if `pattern` isn't a valid glob pattern.
func ValidGlob(pattern string) error {
	_, err := glob.Parse(pattern)
	return err
}
