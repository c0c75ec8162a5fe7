package computer

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

const activeLinePrefix = "##active_line:"

var (
	activeLineRe = regexp.MustCompile(`^##active_line:(\d+)##$`)
	// compoundRe matches constructs that span lines, where per-line markers
	// would break the syntax.
	compoundRe = regexp.MustCompile(`(^|[\s;(])(if|then|elif|else|fi|for|while|until|do|done|case|esac|function|select)($|[\s;)])|[{}]`)
)

// addActiveLineMarkers prefixes each line of a simple script with an echo of
// its line number. Scripts with continuations, heredocs, compound commands or
// multi-line quotes are returned unchanged.
func addActiveLineMarkers(code string) string {
	lines := strings.Split(code, "\n")
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasSuffix(trimmed, "\\"), strings.Contains(line, "<<"), compoundRe.MatchString(line):
			return code
		case strings.Count(line, `"`)%2 == 1, strings.Count(line, "'")%2 == 1:
			return code
		}
	}
	var b strings.Builder
	for i, line := range lines {
		if t := strings.TrimSpace(line); t == "" || strings.HasPrefix(t, "#") {
			b.WriteString(line)
			b.WriteByte('\n')
			continue
		}
		fmt.Fprintf(&b, "echo '%s%d##'\n%s\n", activeLinePrefix, i+1, line)
	}
	return b.String()
}

// ansiCQuote renders s as a $'...' literal understood by bash and zsh.
func ansiCQuote(s string) string {
	var b strings.Builder
	b.WriteString("$'")
	for _, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '\'':
			b.WriteString(`\'`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			if r < 0x20 || r == 0x7f {
				fmt.Fprintf(&b, `\x%02x`, r)
				continue
			}
			b.WriteRune(r)
		}
	}
	b.WriteByte('\'')
	return b.String()
}

// posixQuote renders s as a single-quoted literal for shells without
// $'...' support. Newlines stay literal inside the quotes.
func posixQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// encodeShell runs code through eval, so syntax errors stay contained and
// the marker echo always runs.
func encodeShell(code, marker string, quote func(string) string) ([]byte, error) {
	return fmt.Appendf(nil, "eval %s; echo '%s'\n", quote(addActiveLineMarkers(code)), marker), nil
}

func parseShellLine(line string) (OutputLine, bool) {
	if m := activeLineRe.FindStringSubmatch(line); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil {
			return ActiveLine(n), true
		}
	}
	return Text(line), true
}

// newShellSession runs the first of binary and fallbacks found on PATH.
// bash and zsh get ANSI-C quoting, any other shell POSIX quoting.
func newShellSession(binary string, fallbacks ...string) Factory {
	return func(opts Options) (ExecutionSession, error) {
		quote := ansiCQuote
		return newSubprocessSession(replConfig{
			language: binary,
			argv: func() ([]string, error) {
				bin, err := lookPath(append([]string{binary}, fallbacks...)...)
				if err != nil {
					return nil, err
				}
				switch filepath.Base(bin) {
				case "zsh":
					return []string{bin, "-f"}, nil
				case "bash":
					return []string{bin, "--noprofile", "--norc"}, nil
				}
				quote = posixQuote
				return []string{bin}, nil
			},
			// A trap keeps the shell alive when Stop interrupts a command.
			preamble: "trap 'true' INT\n",
			encode: func(code, marker string) ([]byte, error) {
				return encodeShell(code, marker, quote)
			},
			parse: parseShellLine,
		}, opts), nil
	}
}
