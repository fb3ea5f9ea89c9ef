package state

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/mamaar/vbarefactor/pkg/analysis"
	"github.com/mamaar/vbarefactor/pkg/codemodule"
	"github.com/mamaar/vbarefactor/pkg/scanner"
	"github.com/mamaar/vbarefactor/pkg/types"
)

// Rewriter collects edits per module against one snapshot and applies them
// in a single pass per module on Commit. Positions always refer to the
// snapshot, so edits may be staged in any order.
type Rewriter struct {
	project  *codemodule.Project
	snapshot *analysis.Snapshot
	logger   *slog.Logger

	edits map[types.QualifiedModuleName][]codemodule.TextEdit
	order []types.QualifiedModuleName
}

func NewRewriter(project *codemodule.Project, snapshot *analysis.Snapshot, logger *slog.Logger) *Rewriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Rewriter{
		project:  project,
		snapshot: snapshot,
		logger:   logger,
		edits:    make(map[types.QualifiedModuleName][]codemodule.TextEdit),
	}
}

// Replace stages replacing sel in module with text.
func (r *Rewriter) Replace(module types.QualifiedModuleName, sel types.Selection, text string) {
	r.stage(module, codemodule.TextEdit{Range: sel, NewText: text})
}

func (r *Rewriter) stage(module types.QualifiedModuleName, edit codemodule.TextEdit) {
	if _, ok := r.edits[module]; !ok {
		r.order = append(r.order, module)
	}
	r.edits[module] = append(r.edits[module], edit)
}

// Modules lists the modules with staged edits in staging order.
func (r *Rewriter) Modules() []types.QualifiedModuleName {
	return r.order
}

// Pending returns how many edits are staged.
func (r *Rewriter) Pending() int {
	n := 0
	for _, es := range r.edits {
		n += len(es)
	}
	return n
}

// Remove stages the deletion of a variable declaration. A declaration in a
// comma list loses only its item, one sharing a line with other statements
// loses its statement and one separator, anything else loses its lines.
func (r *Rewriter) Remove(decl *types.Declaration) error {
	if r.snapshot == nil {
		return &types.RefactorError{Type: types.ParseError, Message: "no snapshot to rewrite against"}
	}
	tree := r.snapshot.Tree(decl.Module)
	if tree == nil {
		return &types.RefactorError{
			Type:    types.ModuleNotFound,
			Message: fmt.Sprintf("module %s is not part of the snapshot", decl.Module),
			Module:  decl.Module.String(),
		}
	}
	varID, ok := tree.Enclosing(decl.Context, types.VariableNode)
	if !ok {
		return r.notVariable(decl)
	}
	stmtID, ok := tree.Enclosing(varID, types.StatementNode)
	if !ok {
		return r.notVariable(decl)
	}

	var items []types.Node
	index := -1
	for _, child := range tree.Children(stmtID) {
		n, _ := tree.Node(child)
		if n.Kind != types.VariableNode {
			continue
		}
		if child == varID {
			index = len(items)
		}
		items = append(items, n)
	}

	if len(items) > 1 {
		var sel types.Selection
		if index < len(items)-1 {
			sel = span(items[index].Selection, items[index+1].Selection, true)
		} else {
			sel = span(items[index-1].Selection, items[index].Selection, false)
		}
		r.Replace(decl.Module, sel, "")
		return nil
	}

	stmt, _ := tree.Node(stmtID)
	buf, err := r.project.ModuleByQualifiedName(decl.Module)
	if err != nil {
		return err
	}
	r.removeStatement(buf, decl.Module, stmt.Selection)
	return nil
}

func (r *Rewriter) notVariable(decl *types.Declaration) error {
	return &types.RefactorError{
		Type:    types.NotRelocatable,
		Message: fmt.Sprintf("'%s' is not a variable declaration", decl.IdentifierName),
		Module:  decl.Module.String(),
		Line:    decl.Selection.StartLine,
		Column:  decl.Selection.StartColumn,
	}
}

// span returns the range from the start (or end) of a to the start (or end)
// of b.
func span(a, b types.Selection, starts bool) types.Selection {
	if starts {
		return types.Selection{StartLine: a.StartLine, StartColumn: a.StartColumn, EndLine: b.StartLine, EndColumn: b.StartColumn}
	}
	return types.Selection{StartLine: a.EndLine, StartColumn: a.EndColumn, EndLine: b.EndLine, EndColumn: b.EndColumn}
}

func (r *Rewriter) removeStatement(buf *codemodule.Buffer, module types.QualifiedModuleName, sel types.Selection) {
	first := buf.Line(sel.StartLine)
	last := buf.Line(sel.EndLine)
	before := scanner.Sanitize(first[:min(sel.StartColumn-1, len(first))])
	after := scanner.Sanitize(last)[min(sel.EndColumn-1, len(last)):]

	if strings.TrimSpace(before) == "" && isBlankOrComment(after) {
		r.stage(module, codemodule.DeleteLinesEdit(sel.StartLine, sel.LineCount()))
		return
	}

	// Take the following separator with the statement, else the preceding one.
	rest := strings.TrimLeft(after, " \t")
	if strings.HasPrefix(rest, ":") && !strings.HasPrefix(rest, ":=") {
		consumed := len(after) - len(strings.TrimLeft(rest[1:], " \t"))
		r.Replace(module, types.Selection{
			StartLine: sel.StartLine, StartColumn: sel.StartColumn,
			EndLine: sel.EndLine, EndColumn: sel.EndColumn + consumed,
		}, "")
		return
	}
	if idx := scanner.LastSeparator(before + " "); idx >= 0 && strings.TrimSpace(before[idx+1:]) == "" {
		start := len(strings.TrimRight(before[:idx], " \t"))
		r.Replace(module, types.Selection{
			StartLine: sel.StartLine, StartColumn: start + 1,
			EndLine: sel.EndLine, EndColumn: sel.EndColumn,
		}, "")
		return
	}
	r.Replace(module, sel, "")
}

func isBlankOrComment(s string) bool {
	t := strings.TrimSpace(s)
	if t == "" || t[0] == '\'' {
		return true
	}
	return len(t) >= 3 && strings.EqualFold(t[:3], "rem") && (len(t) == 3 || t[3] == ' ' || t[3] == '\t')
}

// Commit applies the staged edits module by module and returns each
// module's net line delta. Every module is looked up before the first edit
// is applied.
func (r *Rewriter) Commit() (map[types.QualifiedModuleName]int, error) {
	buffers := make([]*codemodule.Buffer, len(r.order))
	for i, m := range r.order {
		buf, err := r.project.ModuleByQualifiedName(m)
		if err != nil {
			return nil, err
		}
		buffers[i] = buf
	}

	deltas := make(map[types.QualifiedModuleName]int, len(r.order))
	for i, m := range r.order {
		delta, err := codemodule.ApplyEdits(buffers[i], r.edits[m])
		if err != nil {
			return deltas, fmt.Errorf("commit %s: %w", m, err)
		}
		deltas[m] = delta
		r.logger.Debug("committed edits", "module", m.String(), "edits", len(r.edits[m]), "delta", delta)
	}
	r.edits = make(map[types.QualifiedModuleName][]codemodule.TextEdit)
	r.order = nil
	return deltas, nil
}
