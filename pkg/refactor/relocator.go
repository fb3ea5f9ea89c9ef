package refactor

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/mamaar/vbarefactor/pkg/codemodule"
	"github.com/mamaar/vbarefactor/pkg/scanner"
	"github.com/mamaar/vbarefactor/pkg/types"
)

// Relocation describes the local insertion of a moved declaration.
type Relocation struct {
	Module    types.QualifiedModuleName
	Statement string
	// Insertion is where the statement was spliced in, before any line
	// splitting.
	Insertion types.Selection
	// Range covers the physical lines that were replaced.
	Range types.Selection
	Delta int
	// Declaration is where the identifier of the original declaration sits
	// after the insertion.
	Declaration types.Selection
}

// TranslateCursor moves a cursor that lay inside the replaced lines by the
// net line delta. Cursors elsewhere are left alone.
func (r *Relocation) TranslateCursor(sel types.Selection) types.Selection {
	if sel.StartLine >= r.Range.StartLine && sel.StartLine <= r.Range.EndLine {
		return sel.ShiftLines(r.Delta)
	}
	return sel
}

// Relocator inserts a declaration right before the statement holding its
// first use.
type Relocator struct {
	indent string
	logger *slog.Logger
}

func NewRelocator(indent string, logger *slog.Logger) *Relocator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relocator{indent: indent, logger: logger}
}

// CheckRelocatable verifies that decl can be moved before anything is
// edited.
func CheckRelocatable(decl *types.Declaration) error {
	if decl.Kind != types.VariableDeclaration || len(decl.Attributes) > 0 {
		return declError(types.NotRelocatable, decl, "'%s' is not a variable that can be moved.", decl.IdentifierName)
	}
	if len(decl.References) == 0 {
		return declError(types.NoReferences, decl, "'%s' has no references.", decl.IdentifierName)
	}
	scope := decl.References[0].ParentScoping
	for _, ref := range decl.References[1:] {
		if ref.ParentScoping != scope {
			return declError(types.MultipleEnclosingScopes, decl, "'%s' is used in multiple methods.", decl.IdentifierName)
		}
	}
	return nil
}

func declError(t types.ErrorType, decl *types.Declaration, format string, args ...any) error {
	return &types.RefactorError{
		Type:    t,
		Message: fmt.Sprintf(format, args...),
		Module:  decl.Module.String(),
		Line:    decl.Selection.StartLine,
		Column:  decl.Selection.StartColumn,
	}
}

// FirstReference returns the earliest reference, breaking ties on the same
// line by the smallest column.
func FirstReference(refs []*types.Reference) *types.Reference {
	if len(refs) == 0 {
		return nil
	}
	first := refs[0]
	for _, ref := range refs[1:] {
		if ref.Selection.Before(first.Selection) {
			first = ref
		}
	}
	return first
}

// DeclarationStatement renders the declaration placed at the new location.
func DeclarationStatement(decl *types.Declaration) string {
	if decl.TypeHint != "" {
		return "Dim " + decl.IdentifierName + decl.TypeHint
	}
	if decl.AsTypeName == "" {
		return "Dim " + decl.IdentifierName
	}
	return "Dim " + decl.IdentifierName + " As " + decl.AsTypeName
}

// Relocate inserts the declaration of decl into m, which must be the module
// holding its references. Nothing is written when a precondition fails.
func (r *Relocator) Relocate(m codemodule.CodeModule, decl *types.Declaration) (*Relocation, error) {
	if err := CheckRelocatable(decl); err != nil {
		return nil, err
	}
	ref := FirstReference(decl.References)
	if ref.Module != m.Name() {
		return nil, fmt.Errorf("references of %s live in %s, not %s", decl.IdentifierName, ref.Module, m.Name())
	}

	line, col, err := insertionPoint(m, ref.Selection)
	if err != nil {
		return nil, err
	}
	start, end := logicalLine(m, line, ref.Selection.StartLine)
	text, err := m.Lines(start, end-start+1)
	if err != nil {
		return nil, fmt.Errorf("read statement at line %d: %w", start, err)
	}
	lines := strings.Split(text, "\n")
	statement := DeclarationStatement(decl)
	base := scanner.Indentation(lines[0])
	if scanner.Label(scanner.Sanitize(lines[0])) >= 0 {
		base = r.bodyIndent(m, start)
	}

	var composed string
	at := 0
	if col == 1 {
		composed = base + statement + "\n" + text
	} else {
		at = offsetIn(lines, line-start, col)
		spliced := text[:at] + " " + statement + ":" + text[at:]
		composed = indentBody(scanner.SplitStatements(spliced, base), base, r.indent)
	}

	moved := decl.Selection
	local := decl.Module == m.Name()
	if local && moved.StartLine >= start && moved.StartLine <= end {
		sel, ok := followDeclaration(decl, start, text, composed, at)
		if !ok {
			return nil, fmt.Errorf("lost track of declaration %s in the split statement", decl.IdentifierName)
		}
		moved = sel
	}

	affected := types.Selection{StartLine: start, StartColumn: 1, EndLine: end, EndColumn: len(lines[len(lines)-1]) + 1}
	delta, err := codemodule.ApplyEdits(m, []codemodule.TextEdit{{Range: affected, NewText: composed}})
	if err != nil {
		return nil, fmt.Errorf("insert declaration of %s: %w", decl.IdentifierName, err)
	}

	r.logger.Debug("inserted declaration",
		"module", m.Name().String(),
		"statement", statement,
		"line", line,
		"column", col,
		"delta", delta,
	)
	if local && decl.Selection.StartLine > end {
		moved = moved.ShiftLines(delta)
	}

	return &Relocation{
		Module:      m.Name(),
		Statement:   statement,
		Insertion:   types.Caret(line, col),
		Range:       affected,
		Delta:       delta,
		Declaration: moved,
	}, nil
}

// offsetIn converts a 1-based column on the given line of lines into a byte
// offset in their joined text.
func offsetIn(lines []string, line, col int) int {
	off := col - 1
	for _, l := range lines[:line] {
		off += len(l) + 1
	}
	return off
}

// followDeclaration locates the identifier of decl, which lay in text, in
// composed. Splitting only rewrites separators and indentation, so the
// identifier keeps its rank among the words spelling its name, plus one when
// the statement was inserted in front of it.
func followDeclaration(decl *types.Declaration, start int, text, composed string, at int) (types.Selection, bool) {
	name := decl.IdentifierName
	from := offsetIn(strings.Split(text, "\n"), decl.Selection.StartLine-start, decl.Selection.StartColumn)

	rank := -1
	for i, off := range wordOffsets(text, name) {
		if off == from {
			rank = i
			break
		}
	}
	if rank < 0 {
		return types.Selection{}, false
	}
	if at <= from {
		rank++
	}
	offsets := wordOffsets(composed, name)
	if rank >= len(offsets) {
		return types.Selection{}, false
	}

	off := offsets[rank]
	line := start + strings.Count(composed[:off], "\n")
	col := off - strings.LastIndexByte(composed[:off], '\n')
	width := decl.Selection.EndColumn - decl.Selection.StartColumn
	return types.Selection{StartLine: line, StartColumn: col, EndLine: line, EndColumn: col + width}, true
}

// wordOffsets returns where name occurs as a whole word in the code of text.
func wordOffsets(text, name string) []int {
	code := scanner.Sanitize(text)
	var offsets []int
	for i := 0; i+len(name) <= len(code); i++ {
		if !strings.EqualFold(code[i:i+len(name)], name) {
			continue
		}
		if i > 0 && isWordByte(code[i-1]) || i+len(name) < len(code) && isWordByte(code[i+len(name)]) {
			continue
		}
		offsets = append(offsets, i)
	}
	return offsets
}

func isWordByte(c byte) bool {
	return c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

// insertionPoint walks up from the reference to the start of its statement:
// the position right after the nearest separator before it, or column 1 of
// the first physical line of the logical line.
func insertionPoint(m codemodule.CodeModule, ref types.Selection) (int, int, error) {
	line := ref.StartLine
	limit := ref.StartColumn - 1
	for {
		text, err := m.Lines(line, 1)
		if err != nil {
			return 0, 0, fmt.Errorf("read line %d: %w", line, err)
		}
		clean := scanner.Sanitize(text)
		if limit >= 0 && limit < len(clean) {
			clean = clean[:limit]
		}
		if then := scanner.InlineThen(clean); then >= 0 {
			clean = clean[:then]
		}
		if idx := scanner.LastSeparator(clean + " "); idx >= 0 {
			return line, idx + 2, nil
		}
		if line == 1 {
			return line, 1, nil
		}
		above, err := m.Lines(line-1, 1)
		if err != nil {
			return 0, 0, fmt.Errorf("read line %d: %w", line-1, err)
		}
		if !scanner.EndsWithContinuation(above) {
			return line, 1, nil
		}
		line--
		limit = -1
	}
}

// logicalLine returns the physical line range of the statement spanning from
// and to, following continuation markers in both directions.
func logicalLine(m codemodule.CodeModule, from, to int) (int, int) {
	lineText := func(n int) string {
		s, _ := m.Lines(n, 1)
		return s
	}
	start := from
	for start > 1 && scanner.EndsWithContinuation(lineText(start-1)) {
		start--
	}
	end := to
	for end < m.CountOfLines() && scanner.EndsWithContinuation(lineText(end)) {
		end++
	}
	return start, end
}

// indentBody indents the statements that follow a procedure header split
// onto their own lines, leaving the End line and continuation lines as they
// are.
func indentBody(text, base, unit string) string {
	lines := strings.Split(text, "\n")
	if len(lines) < 2 || !isProcedureHeader(lines[0]) {
		return text
	}
	for i := 1; i < len(lines); i++ {
		if scanner.EndsWithContinuation(lines[i-1]) {
			continue
		}
		trimmed := strings.TrimLeft(lines[i], " \t")
		if isProcedureEnd(trimmed) {
			continue
		}
		lines[i] = base + unit + trimmed
	}
	return strings.Join(lines, "\n")
}

// bodyIndent is the indentation of the statements around a labelled line,
// taken from the closest code line above it.
func (r *Relocator) bodyIndent(m codemodule.CodeModule, line int) string {
	for n := line - 1; n >= 1; n-- {
		text, err := m.Lines(n, 1)
		if err != nil {
			break
		}
		trimmed := strings.TrimSpace(text)
		if trimmed == "" || trimmed[0] == '\'' || scanner.Label(scanner.Sanitize(text)) >= 0 {
			continue
		}
		if isProcedureHeader(trimmed) {
			return scanner.Indentation(text) + r.indent
		}
		return scanner.Indentation(text)
	}
	return r.indent
}

func isProcedureHeader(line string) bool {
	for _, w := range strings.Fields(line) {
		switch strings.ToLower(w) {
		case "private", "public", "friend", "global", "static":
			continue
		case "sub", "function", "property":
			return true
		}
		return false
	}
	return false
}

func isProcedureEnd(line string) bool {
	f := strings.Fields(line)
	if len(f) < 2 || !strings.EqualFold(f[0], "end") {
		return false
	}
	switch strings.ToLower(f[1]) {
	case "sub", "function", "property":
		return true
	}
	return false
}
