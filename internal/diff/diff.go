// Package diff computes line-level change summaries between two versions of
// a file. It is pure: no I/O, deterministic for identical inputs, and it
// never fails.
package diff

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/marcus/trail/internal/models"
)

// DefaultThreshold is the minimum max(chars added, chars removed) for a
// change to count as significant.
const DefaultThreshold = 10

// Options controls a single diff computation.
type Options struct {
	// Threshold overrides DefaultThreshold when > 0.
	Threshold int
	// IncludeUnified requests a unified-style diff text in the summary.
	// Ignored when either input is not valid UTF-8.
	IncludeUnified bool
}

// Compute diffs before against after and returns a summary. Equal inputs
// yield zero deltas and Significant=false. Binary (non-UTF8) inputs are
// compared as raw bytes and produce no unified text.
func Compute(before, after []byte, opts Options) models.DiffSummary {
	threshold := opts.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	s := models.DiffSummary{
		SizeBytes: len(after) - len(before),
	}

	if string(before) == string(after) {
		s.Summary = "no changes"
		return s
	}

	if !utf8.Valid(before) || !utf8.Valid(after) {
		s.CharsAdded, s.CharsRemoved = byteDeltas(before, after)
		s.Significant = max(s.CharsAdded, s.CharsRemoved) >= threshold
		s.Summary = fmt.Sprintf("binary change: +%d/-%d bytes", s.CharsAdded, s.CharsRemoved)
		return s
	}

	dmp := diffmatchpatch.New()
	// Line-mode tokenization keeps the Myers pass linear in the number of
	// lines rather than characters.
	la, lb, lines := dmp.DiffLinesToChars(string(before), string(after))
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(la, lb, false), lines)

	var unified strings.Builder
	for _, d := range diffs {
		n := countLines(d.Text)
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			s.LinesAdded += n
			s.CharsAdded += len(d.Text)
			if opts.IncludeUnified {
				writePrefixed(&unified, "+", d.Text)
			}
		case diffmatchpatch.DiffDelete:
			s.LinesRemoved += n
			s.CharsRemoved += len(d.Text)
			if opts.IncludeUnified {
				writePrefixed(&unified, "-", d.Text)
			}
		case diffmatchpatch.DiffEqual:
			if opts.IncludeUnified {
				writePrefixed(&unified, " ", d.Text)
			}
		}
	}

	s.Significant = max(s.CharsAdded, s.CharsRemoved) >= threshold
	s.Summary = fmt.Sprintf("+%d/-%d lines, +%d/-%d chars",
		s.LinesAdded, s.LinesRemoved, s.CharsAdded, s.CharsRemoved)
	if opts.IncludeUnified {
		s.Unified = unified.String()
	}
	return s
}

// byteDeltas estimates added/removed byte counts for binary content by
// trimming the common prefix and suffix. Linear time and memory.
func byteDeltas(before, after []byte) (added, removed int) {
	i := 0
	for i < len(before) && i < len(after) && before[i] == after[i] {
		i++
	}
	j := 0
	for j < len(before)-i && j < len(after)-i &&
		before[len(before)-1-j] == after[len(after)-1-j] {
		j++
	}
	return len(after) - i - j, len(before) - i - j
}

// countLines counts logical lines in a diff chunk. A trailing fragment
// without a newline still counts as one line.
func countLines(text string) int {
	if text == "" {
		return 0
	}
	n := strings.Count(text, "\n")
	if !strings.HasSuffix(text, "\n") {
		n++
	}
	return n
}

func writePrefixed(b *strings.Builder, prefix, text string) {
	for _, line := range strings.Split(strings.TrimSuffix(text, "\n"), "\n") {
		b.WriteString(prefix)
		b.WriteString(line)
		b.WriteByte('\n')
	}
}
