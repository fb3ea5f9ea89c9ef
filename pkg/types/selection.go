package types

import "fmt"

// Selection is a 1-indexed source range. EndColumn points one past the last
// selected character, so a caret has StartColumn == EndColumn.
type Selection struct {
	StartLine   int `json:"start_line"`
	StartColumn int `json:"start_column"`
	EndLine     int `json:"end_line"`
	EndColumn   int `json:"end_column"`
}

// NewSelection builds a Selection and rejects ranges whose start lies after
// their end.
func NewSelection(startLine, startColumn, endLine, endColumn int) (Selection, error) {
	s := Selection{
		StartLine:   startLine,
		StartColumn: startColumn,
		EndLine:     endLine,
		EndColumn:   endColumn,
	}
	if !s.IsValid() {
		return Selection{}, &RefactorError{
			Type:    InvalidSelection,
			Message: fmt.Sprintf("invalid selection %s", s),
		}
	}
	return s, nil
}

// Caret returns an empty selection at the given position.
func Caret(line, column int) Selection {
	return Selection{StartLine: line, StartColumn: column, EndLine: line, EndColumn: column}
}

// IsValid reports whether the selection is 1-indexed and ordered.
func (s Selection) IsValid() bool {
	if s.StartLine < 1 || s.StartColumn < 1 || s.EndLine < 1 || s.EndColumn < 1 {
		return false
	}
	return comparePositions(s.StartLine, s.StartColumn, s.EndLine, s.EndColumn) <= 0
}

// LineCount is the number of physical lines the selection touches.
func (s Selection) LineCount() int {
	return s.EndLine - s.StartLine + 1
}

// Contains reports whether the position lies within the selection. Both ends
// are inclusive so that a caret placed right after an identifier still
// selects it.
func (s Selection) Contains(line, column int) bool {
	return comparePositions(s.StartLine, s.StartColumn, line, column) <= 0 &&
		comparePositions(line, column, s.EndLine, s.EndColumn) <= 0
}

// ContainsSelection reports whether other lies entirely within s.
func (s Selection) ContainsSelection(other Selection) bool {
	return s.Contains(other.StartLine, other.StartColumn) && s.Contains(other.EndLine, other.EndColumn)
}

// Overlaps reports whether the two ranges share at least one character.
func (s Selection) Overlaps(other Selection) bool {
	return comparePositions(s.StartLine, s.StartColumn, other.EndLine, other.EndColumn) < 0 &&
		comparePositions(other.StartLine, other.StartColumn, s.EndLine, s.EndColumn) < 0
}

// Before orders selections by their start position.
func (s Selection) Before(other Selection) bool {
	return comparePositions(s.StartLine, s.StartColumn, other.StartLine, other.StartColumn) < 0
}

// ShiftLines moves the selection down by delta lines (up when negative).
func (s Selection) ShiftLines(delta int) Selection {
	s.StartLine += delta
	s.EndLine += delta
	return s
}

func (s Selection) String() string {
	return fmt.Sprintf("L%dC%d-L%dC%d", s.StartLine, s.StartColumn, s.EndLine, s.EndColumn)
}

func comparePositions(line1, col1, line2, col2 int) int {
	switch {
	case line1 < line2:
		return -1
	case line1 > line2:
		return 1
	case col1 < col2:
		return -1
	case col1 > col2:
		return 1
	}
	return 0
}

// QualifiedModuleName identifies a code module inside a project.
type QualifiedModuleName struct {
	ProjectID     string `json:"project_id"`
	ComponentName string `json:"component_name"`
}

func (q QualifiedModuleName) String() string {
	if q.ProjectID == "" {
		return q.ComponentName
	}
	return q.ProjectID + "." + q.ComponentName
}

// QualifiedSelection is a selection inside a specific module.
type QualifiedSelection struct {
	Module    QualifiedModuleName `json:"module"`
	Selection Selection           `json:"selection"`
}

func (q QualifiedSelection) String() string {
	return fmt.Sprintf("%s %s", q.Module, q.Selection)
}
