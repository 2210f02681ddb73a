package jobdb

// MatchResult is the outcome of testing a file name against a pattern.
type MatchResult int

const (
	// NoMatch means the pattern does not apply to the name.
	NoMatch MatchResult = iota
	// Accept means the name matched a positive pattern.
	Accept
	// Reject means the name matched a negated pattern.
	Reject
)

// MatchPattern tests name against a glob pattern. '*' matches any run of
// characters including none, '?' matches exactly one non-space character and
// a leading '!' negates the whole pattern.
func MatchPattern(pattern, name string) MatchResult {
	negate := false
	if len(pattern) > 0 && pattern[0] == '!' {
		negate = true
		pattern = pattern[1:]
	}
	if !glob(pattern, name) {
		return NoMatch
	}
	if negate {
		return Reject
	}
	return Accept
}

// MatchFilters walks patterns in order and returns the first decisive result.
func MatchFilters(patterns []string, name string) MatchResult {
	for _, p := range patterns {
		if r := MatchPattern(p, name); r != NoMatch {
			return r
		}
	}
	return NoMatch
}

func glob(pattern, name string) bool {
	p, n := 0, 0
	// backtrack point for the last '*'
	star, mark := -1, 0
	for n < len(name) {
		switch {
		case p < len(pattern) && pattern[p] == '*':
			star = p
			mark = n
			p++
		case p < len(pattern) && pattern[p] == '?' && name[n] != ' ':
			p++
			n++
		case p < len(pattern) && pattern[p] != '*' && pattern[p] != '?' && pattern[p] == name[n]:
			p++
			n++
		case star >= 0:
			p = star + 1
			mark++
			n = mark
		default:
			return false
		}
	}
	for p < len(pattern) && pattern[p] == '*' {
		p++
	}
	return p == len(pattern)
}

// matchesDotfiles reports whether any positive pattern is written to match
// names beginning with a dot.
func matchesDotfiles(patterns []string) bool {
	for _, p := range patterns {
		if len(p) > 0 && p[0] == '.' {
			return true
		}
	}
	return false
}
