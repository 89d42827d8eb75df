package confidence

import (
	"regexp"
	"strings"
)

var hunkHeader = regexp.MustCompile(`^@@ -\d+(,\d+)? \+\d+(,\d+)? @@`)

// DiffStats summarises a candidate patch. A patch is either a unified diff
// or, when it carries no diff markers at all, a plain replacement snippet.
type DiffStats struct {
	Unified bool
	Valid   bool
	Hunks   int
	Added   []string
	Removed []string
}

func (d DiffStats) Changed() int {
	return len(d.Added) + len(d.Removed)
}

func ParseDiff(diff string) DiffStats {
	text := strings.TrimSpace(diff)
	if text == "" {
		return DiffStats{}
	}

	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	if !looksLikeDiff(lines) {
		return DiffStats{Valid: true, Added: lines}
	}

	stats := DiffStats{Unified: true}
	inHunk := false
	for _, line := range lines {
		switch {
		case hunkHeader.MatchString(line):
			stats.Hunks++
			inHunk = true
		case strings.HasPrefix(line, "diff "), strings.HasPrefix(line, "index "),
			strings.HasPrefix(line, "--- "), strings.HasPrefix(line, "+++ "):
			inHunk = false
		case !inHunk:
		case strings.HasPrefix(line, "+"):
			stats.Added = append(stats.Added, line[1:])
		case strings.HasPrefix(line, "-"):
			stats.Removed = append(stats.Removed, line[1:])
		}
	}
	stats.Valid = stats.Hunks > 0 && stats.Changed() > 0

	return stats
}

func looksLikeDiff(lines []string) bool {
	for _, line := range lines {
		if hunkHeader.MatchString(line) || strings.HasPrefix(line, "--- ") ||
			strings.HasPrefix(line, "+++ ") || strings.HasPrefix(line, "diff --git") {
			return true
		}
	}

	return false
}

// Validity is 1 for a well-formed patch that leaves bracket balance intact,
// 0.5 for a well-formed patch that does not, and 0 for a malformed one.
func Validity(d DiffStats) float64 {
	if !d.Valid {
		return 0
	}

	added := bracketDelta(d.Added)
	removed := bracketDelta(d.Removed)
	if added != removed {
		return 0.5
	}

	return 1
}

type delta [3]int

var brackets = map[rune]struct {
	kind int
	step int
}{
	'(': {0, 1}, ')': {0, -1},
	'[': {1, 1}, ']': {1, -1},
	'{': {2, 1}, '}': {2, -1},
}

func bracketDelta(lines []string) delta {
	var d delta
	for _, line := range lines {
		var quote rune
		escaped := false
		for _, r := range line {
			switch {
			case escaped:
				escaped = false
			case quote != 0:
				if r == '\\' {
					escaped = true
				} else if r == quote {
					quote = 0
				}
			case r == '"' || r == '\'' || r == '`':
				quote = r
			default:
				if b, ok := brackets[r]; ok {
					d[b.kind] += b.step
				}
			}
		}
	}

	return d
}
