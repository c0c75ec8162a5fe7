package agentloop

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// DefaultMaxOutput is the default character limit for stored execution
// output.
const DefaultMaxOutput = 2000

// MinMaxOutput is the smallest limit that still fits the full truncation
// marker next to some output.
const MinMaxOutput = 100

// truncationMarkers matches the full and the compact marker. Exactly one of
// the two groups captures the removed count.
var truncationMarkers = regexp.MustCompile(`\n?\[\.\.\. output truncated: (\d+) characters removed \.\.\.\]\n?|\[\.\.\.(\d+)\]`)

// TruncateOutput bounds output to maxChars characters. Longer output keeps
// its head and tail around a marker stating how many characters were
// removed from the middle. Markers left by earlier calls are folded into the
// new one, so the count covers everything elided so far. The result never
// exceeds maxChars, and output within the limit is returned unchanged.
func TruncateOutput(output string, maxChars int) string {
	if maxChars <= 0 {
		return ""
	}
	if len([]rune(output)) <= maxChars {
		return output
	}

	prior, text := stripMarkers(output)
	runes := []rune(text)

	marker, keep := fitMarker(len(runes), maxChars, prior, truncationMarker)
	if keep < 2 {
		marker, keep = fitMarker(len(runes), maxChars, prior, compactMarker)
	}
	if keep < 2 {
		// No room for any marker; keep the end, which is the freshest output.
		return string(runes[len(runes)-maxChars:])
	}

	head := keep / 2
	tail := keep - head
	var b strings.Builder
	b.WriteString(string(runes[:head]))
	b.WriteString(marker)
	b.WriteString(string(runes[len(runes)-tail:]))
	return b.String()
}

// fitMarker returns the marker for cutting n runes down to maxChars and the
// number of output runes left beside it. The marker length depends on the
// removed count, which depends on the marker length, so it iterates until
// the count is stable.
func fitMarker(n, maxChars, prior int, format func(int) string) (string, int) {
	removed := n - maxChars
	marker := format(prior + removed)
	for {
		next := n - maxChars + len([]rune(marker))
		if next == removed {
			break
		}
		removed = next
		marker = format(prior + removed)
	}
	return marker, n - removed
}

// stripMarkers removes earlier truncation markers and returns the total
// count they reported.
func stripMarkers(output string) (int, string) {
	total := 0
	for _, m := range truncationMarkers.FindAllStringSubmatch(output, -1) {
		digits := m[1]
		if digits == "" {
			digits = m[2]
		}
		n, err := strconv.Atoi(digits)
		if err == nil {
			total += n
		}
	}
	if total == 0 {
		return 0, output
	}
	return total, truncationMarkers.ReplaceAllString(output, "")
}

func truncationMarker(removed int) string {
	return fmt.Sprintf("\n[... output truncated: %d characters removed ...]\n", removed)
}

func compactMarker(removed int) string {
	return fmt.Sprintf("[...%d]", removed)
}
