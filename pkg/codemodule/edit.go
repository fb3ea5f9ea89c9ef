package codemodule

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mamaar/vbarefactor/pkg/types"
)

// TextEdit replaces the text covered by Range with NewText. An empty range
// inserts; an empty NewText deletes. A range ending at column 1 of the line
// after the last line covers the final line break.
type TextEdit struct {
	Range   types.Selection
	NewText string
}

// DeleteLinesEdit returns an edit removing whole lines, line breaks included.
func DeleteLinesEdit(start, count int) TextEdit {
	return TextEdit{
		Range: types.Selection{StartLine: start, StartColumn: 1, EndLine: start + count, EndColumn: 1},
	}
}

// ApplyEdits applies a batch of edits to one module in a single pass and
// returns the net change in line count.
//
// Edits are sorted by position descending and must not overlap. The lines
// touched by the batch are read once, rewritten in memory from the bottom
// up, and written back with one delete and one insert.
func ApplyEdits(m CodeModule, edits []TextEdit) (int, error) {
	if len(edits) == 0 {
		return 0, nil
	}

	sorted := make([]TextEdit, len(edits))
	copy(sorted, edits)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[j].Range.Before(sorted[i].Range)
	})

	if err := validateEdits(m, sorted); err != nil {
		return 0, err
	}

	count := m.CountOfLines()
	first := sorted[len(sorted)-1].Range.StartLine
	last := first
	for _, e := range sorted {
		if e.Range.EndLine > last {
			last = e.Range.EndLine
		}
	}
	if last > count {
		last = count
	}

	region := ""
	if last >= first {
		text, err := m.Lines(first, last-first+1)
		if err != nil {
			return 0, fmt.Errorf("read lines %d-%d: %w", first, last, err)
		}
		region = text + "\n"
	}
	starts := lineOffsets(region)

	for _, e := range sorted {
		from, err := offsetOf(starts, region, e.Range.StartLine-first, e.Range.StartColumn)
		if err != nil {
			return 0, editError(m, e, err)
		}
		to, err := offsetOf(starts, region, e.Range.EndLine-first, e.Range.EndColumn)
		if err != nil {
			return 0, editError(m, e, err)
		}
		region = region[:from] + e.NewText + region[to:]
	}

	replaced := 0
	if last >= first {
		replaced = last - first + 1
		if err := m.DeleteLines(first, replaced); err != nil {
			return 0, fmt.Errorf("delete lines %d-%d: %w", first, last, err)
		}
	}
	inserted := 0
	if region != "" {
		text := strings.TrimSuffix(region, "\n")
		inserted = strings.Count(text, "\n") + 1
		if err := m.InsertLines(first, text); err != nil {
			return 0, fmt.Errorf("insert lines at %d: %w", first, err)
		}
	}
	return inserted - replaced, nil
}

// validateEdits ensures edits are in range and do not overlap. sorted must
// be ordered by position descending.
func validateEdits(m CodeModule, sorted []TextEdit) error {
	count := m.CountOfLines()
	for i, e := range sorted {
		r := e.Range
		if !r.IsValid() {
			return editError(m, e, fmt.Errorf("invalid range"))
		}
		endOK := r.EndLine <= count || r.EndLine == count+1 && r.EndColumn == 1
		if r.StartLine > count+1 || !endOK {
			return editError(m, e, fmt.Errorf("range outside module of %d lines", count))
		}
		if i == 0 {
			continue
		}
		prev := sorted[i-1].Range
		sameStart := prev.StartLine == r.StartLine && prev.StartColumn == r.StartColumn
		if sameStart || comparePos(r.EndLine, r.EndColumn, prev.StartLine, prev.StartColumn) > 0 {
			return &types.RefactorError{
				Type:    types.EditConflict,
				Message: fmt.Sprintf("overlapping edits detected: %s and %s", r, prev),
				Module:  m.Name().String(),
				Line:    r.StartLine,
				Column:  r.StartColumn,
			}
		}
	}
	return nil
}

func comparePos(l1, c1, l2, c2 int) int {
	switch {
	case l1 != l2:
		return l1 - l2
	default:
		return c1 - c2
	}
}

func lineOffsets(region string) []int {
	starts := []int{0}
	for i := 0; i < len(region); i++ {
		if region[i] == '\n' {
			starts = append(starts, i+1)
		}
	}
	return starts
}

// offsetOf converts a region-relative line index and a 1-indexed column to
// a byte offset in region.
func offsetOf(starts []int, region string, line, column int) (int, error) {
	if line < 0 || line >= len(starts) {
		return 0, fmt.Errorf("line outside edited region")
	}
	lineEnd := len(region)
	if line+1 < len(starts) {
		lineEnd = starts[line+1] - 1
	}
	off := starts[line] + column - 1
	if off > lineEnd {
		return 0, fmt.Errorf("column %d past end of line", column)
	}
	return off, nil
}

func editError(m CodeModule, e TextEdit, cause error) error {
	return &types.RefactorError{
		Type:    types.EditConflict,
		Message: fmt.Sprintf("cannot apply edit at %s: %v", e.Range, cause),
		Module:  m.Name().String(),
		Line:    e.Range.StartLine,
		Column:  e.Range.StartColumn,
		Cause:   cause,
	}
}
