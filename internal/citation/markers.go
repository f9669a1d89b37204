package citation

import (
	"regexp"
	"strconv"
	"strings"
)

// markerPattern matches "[3]" and grouped markers such as "[1, 3]" together
// with the spaces or tabs in front of them.
var markerPattern = regexp.MustCompile(`[ \t]*\[(\d+(?:\s*,\s*\d+)*)\]`)

// Mode selects what happens to markers that have no local mapping.
type Mode int

const (
	// Drop deletes unmapped markers. Used for module text, where a number
	// without a mapping points at a dropped or non-existent source.
	Drop Mode = iota

	// Keep leaves unmapped markers alone when they are valid global numbers.
	// Used for synthesis text, which cites the pre-merged list directly.
	Keep
)

// Markers returns every number cited in text, in order of appearance.
func Markers(text string) []int {
	var out []int
	for _, m := range markerPattern.FindAllStringSubmatch(text, -1) {
		out = append(out, parseGroup(m[1])...)
	}
	return out
}

func parseGroup(group string) []int {
	parts := strings.Split(group, ",")
	nums := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			continue
		}
		nums = append(nums, n)
	}
	return nums
}

// RewriteMarkers maps every "[N]" in text through m. globalLen bounds the
// numbers Keep mode may leave unchanged. A group whose numbers all vanish is
// removed with its leading whitespace; a group directly after it inherits
// that whitespace. Text that lost a marker is trimmed.
func RewriteMarkers(text string, m LocalMap, mode Mode, globalLen int) string {
	var (
		sb      strings.Builder
		last    int
		removed bool
		carry   string
	)

	for _, loc := range markerPattern.FindAllStringSubmatchIndex(text, -1) {
		start, end := loc[0], loc[1]
		if start != last {
			carry = ""
		}
		sb.WriteString(text[last:start])
		last = end

		match := text[start:end]
		lead := match[:strings.IndexByte(match, '[')]
		kept := mapGroup(text[loc[2]:loc[3]], m, mode, globalLen)

		if len(kept) == 0 {
			removed = true
			if carry == "" {
				carry = lead
			}
			continue
		}
		if lead == "" {
			lead = carry
		}
		carry = ""
		sb.WriteString(lead + "[" + strings.Join(kept, ", ") + "]")
	}
	sb.WriteString(text[last:])

	out := sb.String()
	if removed {
		out = strings.TrimSpace(out)
	}
	return out
}

// mapGroup returns the distinct mapped numbers of one marker group.
func mapGroup(group string, m LocalMap, mode Mode, globalLen int) []string {
	seen := make(map[int]bool)
	var kept []string
	for _, n := range parseGroup(group) {
		g, ok := m[n]
		if !ok {
			if mode != Keep || n < 1 || n > globalLen {
				continue
			}
			g = n
		}
		if seen[g] {
			continue
		}
		seen[g] = true
		kept = append(kept, strconv.Itoa(g))
	}
	return kept
}
