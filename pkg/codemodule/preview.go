package codemodule

import (
	"fmt"
	"strings"

	"github.com/sourcegraph/go-diff/diff"
)

const previewContext = 3

// UnifiedDiff renders the change from before to after as a unified diff with
// a single hunk covering the lines that differ. It returns "" when the texts
// are equal.
func UnifiedDiff(name, before, after string) (string, error) {
	fd := FileDiff(name, before, after)
	if fd == nil {
		return "", nil
	}
	out, err := diff.PrintFileDiff(fd)
	if err != nil {
		return "", fmt.Errorf("print diff for %s: %w", name, err)
	}
	return string(out), nil
}

// FileDiff builds the go-diff representation of a change, or nil when there
// is none.
func FileDiff(name, before, after string) *diff.FileDiff {
	if before == after {
		return nil
	}
	oldLines := splitLines(before)
	newLines := splitLines(after)

	prefix := 0
	for prefix < len(oldLines) && prefix < len(newLines) && oldLines[prefix] == newLines[prefix] {
		prefix++
	}
	suffix := 0
	for suffix < len(oldLines)-prefix && suffix < len(newLines)-prefix &&
		oldLines[len(oldLines)-1-suffix] == newLines[len(newLines)-1-suffix] {
		suffix++
	}

	ctxStart := max(prefix-previewContext, 0)
	oldEnd := min(len(oldLines)-suffix+previewContext, len(oldLines))
	newEnd := min(len(newLines)-suffix+previewContext, len(newLines))

	var body strings.Builder
	for _, l := range oldLines[ctxStart:prefix] {
		body.WriteString(" " + l + "\n")
	}
	for _, l := range oldLines[prefix : len(oldLines)-suffix] {
		body.WriteString("-" + l + "\n")
	}
	for _, l := range newLines[prefix : len(newLines)-suffix] {
		body.WriteString("+" + l + "\n")
	}
	for _, l := range oldLines[len(oldLines)-suffix : oldEnd] {
		body.WriteString(" " + l + "\n")
	}

	hunk := &diff.Hunk{
		OrigStartLine: int32(ctxStart + 1),
		OrigLines:     int32(oldEnd - ctxStart),
		NewStartLine:  int32(ctxStart + 1),
		NewLines:      int32(newEnd - ctxStart),
		Body:          []byte(body.String()),
	}
	return &diff.FileDiff{
		OrigName: "a/" + name,
		NewName:  "b/" + name,
		Hunks:    []*diff.Hunk{hunk},
	}
}
