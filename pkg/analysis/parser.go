package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/mamaar/vbarefactor/pkg/codemodule"
	"github.com/mamaar/vbarefactor/pkg/types"
)

// Source is one module handed to the parser.
type Source struct {
	Module types.QualifiedModuleName
	Kind   codemodule.Kind
	Text   string
}

// Diagnostic is a structural problem found while parsing. Parsing always
// continues past it.
type Diagnostic struct {
	Module  types.QualifiedModuleName
	Line    int
	Message string
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s:%d: %s", d.Module, d.Line, d.Message)
}

// Parser derives declarations, references and syntax trees from VBA source.
type Parser struct {
	logger *slog.Logger
	cache  *TokenCache
}

func NewParser(logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{
		logger: logger,
		cache:  NewTokenCache(),
	}
}

// Cache exposes the token cache, mainly for statistics.
func (p *Parser) Cache() *TokenCache {
	return p.cache
}

// SourcesFromProject collects the current text of every module.
func SourcesFromProject(project *codemodule.Project) []Source {
	modules := project.Modules()
	sources := make([]Source, 0, len(modules))
	for _, m := range modules {
		sources = append(sources, Source{Module: m.Name(), Kind: m.Kind(), Text: m.Text()})
	}
	return sources
}

// Parse builds a snapshot of the whole project. Modules are scanned in
// parallel; identifier uses are then resolved against the project-wide
// declaration index, again one goroutine per module.
func (p *Parser) Parse(ctx context.Context, projectID string, sources []Source) (*Snapshot, error) {
	p.cache.Retain(sources)
	parsers := make([]*moduleParser, len(sources))

	g, gctx := errgroup.WithContext(ctx)
	for i, src := range sources {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			mp := newModuleParser(src, p.cache.Tokens(src.Module, src.Text))
			mp.parse()
			parsers[i] = mp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, &types.RefactorError{
			Type:    types.ParseError,
			Message: fmt.Sprintf("parse interrupted: %v", err),
			Cause:   err,
		}
	}

	index := newProjectIndex(projectID, parsers)
	bindings := make([][]binding, len(parsers))
	g, gctx = errgroup.WithContext(ctx)
	for i, mp := range parsers {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			bindings[i] = index.resolveModule(mp)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, &types.RefactorError{
			Type:    types.ParseError,
			Message: fmt.Sprintf("resolution interrupted: %v", err),
			Cause:   err,
		}
	}

	// References are attached sequentially so each declaration's list is
	// in module order, then source order.
	for _, bs := range bindings {
		for _, b := range bs {
			b.decl.AddReference(b.ref)
		}
	}

	snap := newSnapshot(projectID, parsers)
	for _, d := range snap.Diagnostics {
		p.logger.Warn("parse diagnostic", "module", d.Module.String(), "line", d.Line, "message", d.Message)
	}
	p.logger.Debug("parsed project",
		"project", projectID,
		"modules", len(sources),
		"declarations", len(snap.declarations))
	return snap, nil
}

type procedure struct {
	decl   *types.Declaration
	node   types.NodeID
	scope  string
	locals map[string][]*types.Declaration
}

// local returns the procedure-level declaration a use at sel refers to: the
// last one declared before it, or the first one when none precedes it.
func (pr *procedure) local(key string, sel types.Selection) *types.Declaration {
	ds := pr.locals[key]
	if len(ds) == 0 {
		return nil
	}
	found := ds[0]
	for _, d := range ds {
		if d.Selection.Before(sel) {
			found = d
		}
	}
	return found
}

type chainLink struct {
	tok  token
	node types.NodeID
}

// use is an identifier chain (A or A.B.C) awaiting resolution.
type use struct {
	chain []chainLink
	scope string
	proc  *procedure
}

type moduleParser struct {
	src    Source
	toks   []token
	tree   *types.SyntaxTree
	root   types.NodeID
	module *types.Declaration
	decls  []*types.Declaration
	// module-level members by folded name
	members   map[string][]*types.Declaration
	proc      *procedure
	uses      []use
	skipUntil string
	diags     []Diagnostic
}

func newModuleParser(src Source, toks []token) *moduleParser {
	return &moduleParser{
		src:     src,
		toks:    toks,
		tree:    types.NewSyntaxTree(src.Module),
		members: make(map[string][]*types.Declaration),
	}
}

func tokSel(t token) types.Selection {
	return types.Selection{StartLine: t.line, StartColumn: t.col, EndLine: t.endLine, EndColumn: t.endCol}
}

func spanSel(from, to token) types.Selection {
	return types.Selection{StartLine: from.line, StartColumn: from.col, EndLine: to.endLine, EndColumn: to.endCol}
}

func (p *moduleParser) moduleScope() string {
	return types.ModuleScope(p.src.Module)
}

func (p *moduleParser) scope() string {
	if p.proc != nil {
		return p.proc.scope
	}
	return p.moduleScope()
}

func (p *moduleParser) diag(line int, format string, args ...any) {
	p.diags = append(p.diags, Diagnostic{Module: p.src.Module, Line: line, Message: fmt.Sprintf(format, args...)})
}

func (p *moduleParser) parse() {
	lines := strings.Split(p.src.Text, "\n")
	last := strings.TrimRight(lines[len(lines)-1], "\r")
	p.root = p.tree.Add(types.ModuleNode, types.NoNode, types.Selection{
		StartLine: 1, StartColumn: 1, EndLine: len(lines), EndColumn: len(last) + 1,
	})
	p.module = &types.Declaration{
		IdentifierName: p.src.Module.ComponentName,
		Kind:           types.ModuleDeclaration,
		Accessibility:  types.Public,
		Module:         p.src.Module,
		ParentScope:    p.src.Module.ProjectID,
		Selection:      types.Caret(1, 1),
		Context:        p.root,
	}
	p.decls = append(p.decls, p.module)

	for _, st := range splitStatements(p.toks) {
		p.statement(st)
	}
	if p.proc != nil {
		p.diag(p.proc.decl.Selection.StartLine, "procedure %s is missing its End statement", p.proc.decl.IdentifierName)
		p.proc = nil
	}
	if p.skipUntil != "" {
		p.diag(len(lines), "unterminated %s block", p.skipUntil)
	}
}

type statement struct {
	toks []token
	// label is set for a lone identifier or line number ending in ':'
	// at the start of a physical line.
	label bool
}

func splitStatements(toks []token) []statement {
	var out []statement
	var cur []token
	lineStart := true
	curAtLineStart := true
	for _, t := range toks {
		switch t.kind {
		case tokSeparator, tokEOL:
			if len(cur) > 0 {
				label := t.kind == tokSeparator && len(cur) == 1 && curAtLineStart &&
					(cur[0].kind == tokNumber || cur[0].kind == tokIdent && !isKeyword(cur[0].text))
				out = append(out, statement{toks: cur, label: label})
			}
			cur = nil
			lineStart = t.kind == tokEOL
			curAtLineStart = lineStart
		default:
			if len(cur) == 0 {
				curAtLineStart = lineStart
			}
			cur = append(cur, t)
			lineStart = false
		}
	}
	if len(cur) > 0 {
		out = append(out, statement{toks: cur})
	}
	return out
}

func (p *moduleParser) statement(st statement) {
	toks := st.toks
	if st.label {
		return
	}
	first := toks[0]

	if p.skipUntil != "" {
		if first.is("End") && len(toks) > 1 && toks[1].is(p.skipUntil) {
			p.skipUntil = ""
		}
		return
	}

	if !p.wellFormed(toks) {
		return
	}

	switch {
	case first.is("Attribute"), first.is("Option"), first.is("Implements"), first.punct("#"),
		len(first.text) == 6 && strings.HasPrefix(strings.ToLower(first.text), "def"):
		return
	}

	i := 0
	access := types.Implicit
	if isModifier(first) {
		access = accessibilityOf(first)
		i++
	}
	static := false
	if i < len(toks) && toks[i].is("Static") {
		static = true
		i++
	}
	if i >= len(toks) {
		p.diag(first.line, "incomplete declaration")
		return
	}
	head := toks[i]

	switch {
	case isProcedureKeyword(head):
		p.procedureHeader(toks, i, access)
	case head.is("End") && i+1 < len(toks) && isProcedureKeyword(toks[i+1]):
		p.procedureEnd(toks)
	case (head.is("Type") || head.is("Enum")) && p.proc == nil:
		p.skipUntil = head.text
	case head.is("Declare"):
		p.declare(toks, i, access)
	case head.is("Event"):
	case head.is("Const"):
		p.variables(toks, i+1, types.ConstantDeclaration, access, nil)
	case head.is("Dim"):
		p.variables(toks, i+1, types.VariableDeclaration, access, staticAttr(static))
	case access != types.Implicit || static:
		p.variables(toks, i, types.VariableDeclaration, access, staticAttr(static))
	default:
		node := p.tree.Add(types.StatementNode, p.parentNode(), spanSel(toks[0], toks[len(toks)-1]))
		p.collectUses(toks, node)
	}
}

// wellFormed reports statement fragments that cannot start or appear in VBA
// code: a leading operator or type character, or a date literal cut off
// before its closing #.
func (p *moduleParser) wellFormed(toks []token) bool {
	first := toks[0]
	if first.kind == tokPunct && !first.punct("#") && !first.punct(".") && !first.punct("!") && !first.punct("?") {
		p.diag(first.line, "statement starts with %q", first.text)
		return false
	}
	for k := 1; k < len(toks); k++ {
		if toks[k].punct("#") && toks[k-1].kind == tokPunct && dateOperands[toks[k-1].text] {
			p.diag(toks[k].line, "unterminated date literal")
			return false
		}
	}
	return true
}

// dateOperands are the tokens after which a # opens a date literal rather
// than a file number.
var dateOperands = map[string]bool{
	"=": true, "<>": true, "<": true, ">": true, "<=": true, ">=": true,
	"+": true, "-": true, "*": true, "/": true, "\\": true, "^": true, "&": true,
}

func staticAttr(static bool) []string {
	if static {
		return []string{"Static"}
	}
	return nil
}

func accessibilityOf(t token) types.Accessibility {
	switch {
	case t.is("Private"):
		return types.Private
	case t.is("Public"):
		return types.Public
	case t.is("Global"):
		return types.Global
	case t.is("Friend"):
		return types.Friend
	}
	return types.Implicit
}

func (p *moduleParser) parentNode() types.NodeID {
	if p.proc != nil {
		return p.proc.node
	}
	return p.root
}

func (p *moduleParser) register(d *types.Declaration) {
	p.decls = append(p.decls, d)
	key := foldName(d.IdentifierName)
	if p.proc != nil && d.ParentScope == p.proc.scope {
		p.proc.locals[key] = append(p.proc.locals[key], d)
		return
	}
	p.members[key] = append(p.members[key], d)
}

func (p *moduleParser) procedureHeader(toks []token, i int, access types.Accessibility) {
	if p.proc != nil {
		p.diag(toks[0].line, "procedure %s starts before %s ends", identAfter(toks, i), p.proc.decl.IdentifierName)
		p.proc = nil
	}

	kind := types.ProcedureDeclaration
	switch {
	case toks[i].is("Function"):
		kind = types.FunctionDeclaration
	case toks[i].is("Property"):
		if i+1 >= len(toks) {
			p.diag(toks[i].line, "incomplete property header")
			return
		}
		i++
		switch {
		case toks[i].is("Get"):
			kind = types.PropertyGetDeclaration
		case toks[i].is("Let"):
			kind = types.PropertyLetDeclaration
		case toks[i].is("Set"):
			kind = types.PropertySetDeclaration
		default:
			p.diag(toks[i].line, "unknown property accessor %s", toks[i].text)
			return
		}
	}
	if i+1 >= len(toks) || toks[i+1].kind != tokIdent {
		p.diag(toks[i].line, "procedure header without a name")
		return
	}
	name := toks[i+1]

	procNode := p.tree.Add(types.ProcedureNode, p.root, spanSel(toks[0], toks[len(toks)-1]))
	stmtNode := p.tree.Add(types.StatementNode, procNode, spanSel(toks[0], toks[len(toks)-1]))
	identNode := p.tree.Add(types.IdentifierNode, stmtNode, tokSel(name))

	decl := &types.Declaration{
		IdentifierName: name.text,
		Kind:           kind,
		Accessibility:  access,
		Module:         p.src.Module,
		ParentScope:    p.moduleScope(),
		Selection:      tokSel(name),
		Context:        identNode,
	}
	p.register(decl)

	if fn := asTypeAfterParams(toks, i+2); fn != "" {
		decl.AsTypeName = fn
	}

	p.proc = &procedure{
		decl:   decl,
		node:   procNode,
		scope:  decl.MemberScope(),
		locals: make(map[string][]*types.Declaration),
	}

	j := i + 2
	if j < len(toks) && toks[j].punct("(") {
		closeIdx := matchParen(toks, j)
		for _, param := range splitTopLevel(toks[j+1 : closeIdx]) {
			p.parameter(param, stmtNode)
		}
	}
}

func identAfter(toks []token, i int) string {
	for _, t := range toks[i:] {
		if t.kind == tokIdent && !isKeyword(t.text) {
			return t.text
		}
	}
	return "?"
}

// asTypeAfterParams returns the declared return type of a function header.
func asTypeAfterParams(toks []token, j int) string {
	if j < len(toks) && toks[j].punct("(") {
		j = matchParen(toks, j) + 1
	}
	if j+1 < len(toks) && toks[j].is("As") {
		name, _ := typeName(toks, j+1)
		return name
	}
	return ""
}

func (p *moduleParser) parameter(param []token, stmtNode types.NodeID) {
	j := 0
	for j < len(param) && (param[j].is("Optional") || param[j].is("ByVal") || param[j].is("ByRef") || param[j].is("ParamArray")) {
		j++
	}
	if j >= len(param) || param[j].kind != tokIdent {
		return
	}
	name := param[j]
	varNode := p.tree.Add(types.VariableNode, stmtNode, spanSel(param[0], param[len(param)-1]))
	identNode := p.tree.Add(types.IdentifierNode, varNode, tokSel(name))
	decl := &types.Declaration{
		IdentifierName: name.text,
		Kind:           types.ParameterDeclaration,
		Module:         p.src.Module,
		ParentScope:    p.proc.scope,
		Selection:      tokSel(name),
		Context:        identNode,
	}
	j++
	if j < len(param) && param[j].punct("(") {
		decl.Attributes = append(decl.Attributes, "Array")
		j = matchParen(param, j) + 1
	}
	if j < len(param) && param[j].is("As") {
		decl.AsTypeName, j = typeName(param, j+1)
	}
	if j < len(param) && param[j].punct("=") {
		p.collectUses(param[j+1:], stmtNode)
	}
	p.register(decl)
}

func (p *moduleParser) procedureEnd(toks []token) {
	if p.proc == nil {
		p.diag(toks[0].line, "End %s without a procedure", toks[1].text)
		return
	}
	p.tree.Add(types.StatementNode, p.proc.node, spanSel(toks[0], toks[len(toks)-1]))
	procNode, _ := p.tree.Node(p.proc.node)
	sel := procNode.Selection
	last := toks[len(toks)-1]
	sel.EndLine, sel.EndColumn = last.endLine, last.endCol
	p.tree.SetSelection(p.proc.node, sel)
	p.proc = nil
}

// declare records an external procedure (Declare Function Foo Lib ...).
func (p *moduleParser) declare(toks []token, i int, access types.Accessibility) {
	j := i + 1
	if j < len(toks) && toks[j].is("PtrSafe") {
		j++
	}
	if j+1 >= len(toks) || toks[j+1].kind != tokIdent {
		return
	}
	kind := types.ProcedureDeclaration
	if toks[j].is("Function") {
		kind = types.FunctionDeclaration
	}
	name := toks[j+1]
	stmtNode := p.tree.Add(types.StatementNode, p.root, spanSel(toks[0], toks[len(toks)-1]))
	identNode := p.tree.Add(types.IdentifierNode, stmtNode, tokSel(name))
	p.register(&types.Declaration{
		IdentifierName: name.text,
		Kind:           kind,
		Accessibility:  access,
		Module:         p.src.Module,
		ParentScope:    p.moduleScope(),
		Selection:      tokSel(name),
		Context:        identNode,
	})
}

// variables parses a comma-separated declaration list starting at toks[i].
func (p *moduleParser) variables(toks []token, i int, kind types.DeclarationKind, access types.Accessibility, attrs []string) {
	stmtNode := p.tree.Add(types.StatementNode, p.parentNode(), spanSel(toks[0], toks[len(toks)-1]))
	if i >= len(toks) {
		p.diag(toks[0].line, "declaration without a name")
		return
	}
	for _, item := range splitTopLevel(toks[i:]) {
		if len(item) == 0 {
			continue
		}
		j := 0
		itemAttrs := append([]string(nil), attrs...)
		if item[j].is("WithEvents") {
			itemAttrs = append(itemAttrs, "WithEvents")
			j++
		}
		if j >= len(item) || item[j].kind != tokIdent {
			p.diag(item[0].line, "expected identifier in declaration")
			continue
		}
		name := item[j]
		j++

		varNode := p.tree.Add(types.VariableNode, stmtNode, spanSel(item[0], item[len(item)-1]))
		identNode := p.tree.Add(types.IdentifierNode, varNode, tokSel(name))
		decl := &types.Declaration{
			IdentifierName: name.text,
			Kind:           kind,
			Accessibility:  access,
			Module:         p.src.Module,
			ParentScope:    p.scope(),
			Selection:      tokSel(name),
			Context:        identNode,
			TypeHint:       name.hint,
			AsTypeName:     hintTypes[name.hint],
		}

		if j < len(item) && item[j].punct("(") {
			itemAttrs = append(itemAttrs, "Array")
			closeIdx := matchParen(item, j)
			p.collectUses(item[j+1:closeIdx], varNode)
			j = closeIdx + 1
		}
		if j < len(item) && item[j].is("As") {
			j++
			if j < len(item) && item[j].is("New") {
				itemAttrs = append(itemAttrs, "New")
				j++
			}
			decl.AsTypeName, j = typeName(item, j)
			if j+1 < len(item) && item[j].punct("*") {
				decl.AsTypeName += " * " + item[j+1].text
				j += 2
			}
		}
		if j < len(item) && item[j].punct("=") {
			p.collectUses(item[j+1:], varNode)
		}
		if len(itemAttrs) > 0 {
			decl.Attributes = itemAttrs
		}
		p.register(decl)
	}
}

// hintTypes maps type-declaration characters to the types they declare.
var hintTypes = map[string]string{
	"$": "String",
	"%": "Integer",
	"&": "Long",
	"@": "Currency",
	"#": "Double",
	"!": "Single",
}

// typeName reads Name or Lib.Name starting at j and returns it with the
// index after it.
func typeName(toks []token, j int) (string, int) {
	if j >= len(toks) || toks[j].kind != tokIdent {
		return "", j
	}
	name := toks[j].text
	j++
	for j+1 < len(toks) && toks[j].punct(".") && toks[j+1].kind == tokIdent {
		name += "." + toks[j+1].text
		j += 2
	}
	return name, j
}

// matchParen returns the index of the parenthesis closing toks[open], or
// len(toks) when it is unbalanced.
func matchParen(toks []token, open int) int {
	depth := 0
	for k := open; k < len(toks); k++ {
		switch {
		case toks[k].punct("("):
			depth++
		case toks[k].punct(")"):
			depth--
			if depth == 0 {
				return k
			}
		}
	}
	return len(toks)
}

// splitTopLevel splits on commas outside parentheses.
func splitTopLevel(toks []token) [][]token {
	var out [][]token
	depth := 0
	start := 0
	for k, t := range toks {
		switch {
		case t.punct("("):
			depth++
		case t.punct(")"):
			depth--
		case t.punct(",") && depth == 0:
			out = append(out, toks[start:k])
			start = k + 1
		}
	}
	if start < len(toks) {
		out = append(out, toks[start:])
	}
	return out
}

// collectUses records every identifier chain in an expression or statement.
func (p *moduleParser) collectUses(toks []token, parent types.NodeID) {
	for k := 0; k < len(toks); k++ {
		t := toks[k]
		if t.kind != tokIdent {
			continue
		}
		if k > 0 && (toks[k-1].punct(".") || toks[k-1].punct("!")) {
			// member of an expression that cannot be resolved statically
			continue
		}
		if k+1 < len(toks) && toks[k+1].punct(":=") {
			continue
		}
		if isKeyword(t.text) {
			continue
		}

		chain := []int{k}
		m := k
		for m+2 < len(toks) && toks[m+1].punct(".") && toks[m+2].kind == tokIdent {
			chain = append(chain, m+2)
			m += 2
		}
		k = m

		links := make([]chainLink, len(chain))
		members := make([]types.NodeID, len(chain))
		outer := parent
		for j := len(chain) - 1; j >= 1; j-- {
			members[j] = p.tree.Add(types.MemberAccessExprNode, outer, spanSel(toks[chain[0]], toks[chain[j]]))
			outer = members[j]
		}
		for j, idx := range chain {
			owner := parent
			if len(chain) > 1 {
				owner = members[max(j, 1)]
			}
			links[j] = chainLink{tok: toks[idx], node: p.tree.Add(types.IdentifierNode, owner, tokSel(toks[idx]))}
		}
		p.uses = append(p.uses, use{chain: links, scope: p.scope(), proc: p.proc})
	}
}
