// Package stringtest builds multi-line strings for test fixtures such as
// YAML documents and captured tool output.
package stringtest

import "strings"

// Input removes one leading and one trailing newline from s, then strips the
// indentation shared by every non-blank line. Whitespace-only lines become
// empty. It lets fixtures be written indented inside a raw string literal:
//
//	cfg := stringtest.Input(`
//		toolchain: nightly
//		timeouts:
//		  build: 30m
//	`)
func Input(s string) string {
	s = strings.TrimPrefix(s, "\n")
	s = strings.TrimSuffix(s, "\n")

	lines := strings.Split(s, "\n")

	var (
		prefix string
		seen   bool
	)

	for _, l := range lines {
		if strings.TrimSpace(l) == "" {
			continue
		}

		lead := l[:len(l)-len(strings.TrimLeft(l, " \t"))]
		if !seen {
			prefix, seen = lead, true

			continue
		}

		prefix = commonPrefix(prefix, lead)
	}

	for i, l := range lines {
		if strings.TrimSpace(l) == "" {
			lines[i] = ""

			continue
		}

		lines[i] = strings.TrimPrefix(l, prefix)
	}

	return strings.Join(lines, "\n")
}

// Lines joins ss as newline-terminated lines, the way tools write output.
//
//	stringtest.Lines("Compiling drg", "Finished") // "Compiling drg\nFinished\n"
func Lines(ss ...string) string {
	var sb strings.Builder
	for _, s := range ss {
		sb.WriteString(s)
		sb.WriteByte('\n')
	}

	return sb.String()
}

// CRLFLines is like [Lines] with CRLF line endings.
func CRLFLines(ss ...string) string {
	var sb strings.Builder
	for _, s := range ss {
		sb.WriteString(s)
		sb.WriteString("\r\n")
	}

	return sb.String()
}

func commonPrefix(a, b string) string {
	n := min(len(a), len(b))
	for i := range n {
		if a[i] != b[i] {
			return a[:i]
		}
	}

	return a[:n]
}
