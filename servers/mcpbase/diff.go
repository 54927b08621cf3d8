package mcpbase

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// lineDiff renders the line-level changes from previous to current. Every output line is
// prefixed with '+' for an insertion, '-' for a deletion or ' ' when unchanged.
func lineDiff(previous, current string) string {
	dmp := diffmatchpatch.New()

	a, b, lines := dmp.DiffLinesToChars(normalizeLineEndings(previous), normalizeLineEndings(current))
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	var sb strings.Builder
	for _, d := range diffs {
		prefix := " "
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			prefix = "+"
		case diffmatchpatch.DiffDelete:
			prefix = "-"
		}
		for _, line := range strings.SplitAfter(d.Text, "\n") {
			if line == "" {
				continue
			}
			sb.WriteString(prefix)
			sb.WriteString(line)
			if !strings.HasSuffix(line, "\n") {
				sb.WriteByte('\n')
			}
		}
	}
	return sb.String()
}

func normalizeLineEndings(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.ReplaceAll(text, "\r", "\n")
}
