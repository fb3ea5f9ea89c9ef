package analysis

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/mamaar/vbarefactor/pkg/codemodule"
	"github.com/mamaar/vbarefactor/pkg/types"
)

func testParser() *Parser {
	return NewParser(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func mod(name string) types.QualifiedModuleName {
	return types.QualifiedModuleName{ProjectID: "P", ComponentName: name}
}

const parserModule1 = `Option Explicit
Public x As Long
Private y As String, z As Integer
Dim w As New Collection

Public Sub UseX(ByVal n As Long)
    Dim total As Long: total = n
    x = total
End Sub`

const parserModule2 = `Private Sub Foo()
    Module1.x = Module1. _
        x + 1
    y = 2
End Sub`

func parseSources(t *testing.T, sources ...Source) *Snapshot {
	t.Helper()
	snap, err := testParser().Parse(context.Background(), "P", sources)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	return snap
}

func findOne(t *testing.T, snap *Snapshot, name, module string) *types.Declaration {
	t.Helper()
	found := snap.Find(name, module)
	if len(found) != 1 {
		t.Fatalf("Expected one declaration named %s in %s, got %d", name, module, len(found))
	}
	return found[0]
}

func TestParse_Declarations(t *testing.T) {
	snap := parseSources(t,
		Source{Module: mod("Module1"), Kind: codemodule.StandardModule, Text: parserModule1},
		Source{Module: mod("Module2"), Kind: codemodule.StandardModule, Text: parserModule2},
	)

	testCases := []struct {
		name     string
		kind     types.DeclarationKind
		asType   string
		scope    string
		attrs    int
		startCol int
		line     int
	}{
		{"x", types.VariableDeclaration, "Long", "P.Module1", 0, 8, 2},
		{"y", types.VariableDeclaration, "String", "P.Module1", 0, 9, 3},
		{"z", types.VariableDeclaration, "Integer", "P.Module1", 0, 22, 3},
		{"w", types.VariableDeclaration, "Collection", "P.Module1", 1, 5, 4},
		{"UseX", types.ProcedureDeclaration, "", "P.Module1", 0, 12, 6},
		{"n", types.ParameterDeclaration, "Long", "P.Module1.UseX", 0, 23, 6},
		{"total", types.VariableDeclaration, "Long", "P.Module1.UseX", 0, 9, 7},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			d := findOne(t, snap, tc.name, "Module1")
			if d.Kind != tc.kind {
				t.Errorf("Kind = %s, want %s", d.Kind, tc.kind)
			}
			if d.AsTypeName != tc.asType {
				t.Errorf("AsTypeName = %q, want %q", d.AsTypeName, tc.asType)
			}
			if d.ParentScope != tc.scope {
				t.Errorf("ParentScope = %q, want %q", d.ParentScope, tc.scope)
			}
			if len(d.Attributes) != tc.attrs {
				t.Errorf("Attributes = %v", d.Attributes)
			}
			if d.Selection.StartLine != tc.line || d.Selection.StartColumn != tc.startCol {
				t.Errorf("Selection = %s, want start %d:%d", d.Selection, tc.line, tc.startCol)
			}
		})
	}

	if len(snap.Diagnostics) != 0 {
		t.Errorf("Unexpected diagnostics: %v", snap.Diagnostics)
	}
}

func TestParse_References(t *testing.T) {
	snap := parseSources(t,
		Source{Module: mod("Module1"), Kind: codemodule.StandardModule, Text: parserModule1},
		Source{Module: mod("Module2"), Kind: codemodule.StandardModule, Text: parserModule2},
	)

	x := findOne(t, snap, "x", "Module1")
	if len(x.References) != 3 {
		t.Fatalf("Expected 3 references to x, got %d", len(x.References))
	}
	first := x.References[0]
	if first.Module != mod("Module1") || first.ParentScoping != "P.Module1.UseX" || first.Selection.StartLine != 8 {
		t.Errorf("Unexpected first reference %+v", first)
	}
	if first.Declaration != x {
		t.Error("Expected back-reference to x")
	}

	// The qualified use crossing a line continuation.
	crossing := x.References[2]
	if crossing.Selection != (types.Selection{StartLine: 3, StartColumn: 9, EndLine: 3, EndColumn: 10}) {
		t.Errorf("Unexpected selection %s", crossing.Selection)
	}
	tree := snap.Tree(mod("Module2"))
	member, ok := tree.Enclosing(crossing.Context, types.MemberAccessExprNode)
	if !ok {
		t.Fatal("Expected the qualified reference to sit in a member access expression")
	}
	node, _ := tree.Node(member)
	want := types.Selection{StartLine: 2, StartColumn: 17, EndLine: 3, EndColumn: 10}
	if node.Selection != want {
		t.Errorf("member access selection = %s, want %s", node.Selection, want)
	}

	// Unqualified use has no member access parent.
	if _, ok := snap.Tree(mod("Module1")).Enclosing(first.Context, types.MemberAccessExprNode); ok {
		t.Error("Expected unqualified reference outside member access")
	}

	total := findOne(t, snap, "total", "Module1")
	if len(total.References) != 2 {
		t.Errorf("Expected 2 references to total, got %d", len(total.References))
	}
	n := findOne(t, snap, "n", "Module1")
	if len(n.References) != 1 || n.References[0].Selection.StartColumn != 32 {
		t.Errorf("Unexpected references to n: %+v", n.References)
	}

	y := findOne(t, snap, "y", "Module1")
	if len(y.References) != 0 {
		t.Errorf("Private y must not resolve from Module2, got %d references", len(y.References))
	}
}

func TestParse_LocalShadowsModuleVariable(t *testing.T) {
	text := `Private count As Long
Sub A()
    Dim count As Long
    count = 1
    Module1.count = 2
End Sub`
	snap := parseSources(t, Source{Module: mod("Module1"), Kind: codemodule.StandardModule, Text: text})

	var field, local *types.Declaration
	for _, d := range snap.Find("count", "Module1") {
		if d.IsModuleLevel() {
			field = d
		} else {
			local = d
		}
	}
	if field == nil || local == nil {
		t.Fatal("Expected both the field and the local")
	}
	if len(local.References) != 1 || local.References[0].Selection.StartLine != 4 {
		t.Errorf("Unexpected local references %+v", local.References)
	}
	if len(field.References) != 1 || field.References[0].Selection.StartLine != 5 {
		t.Errorf("Unexpected field references %+v", field.References)
	}
}

const candidatesModule = `Private counter As Long
Private shared As Long
Private arr() As Long
Private Sub A()
    counter = counter + 1
    shared = 1
    arr(0) = 1
End Sub
Private Sub B()
    shared = 2
End Sub`

func TestSnapshot_Candidates(t *testing.T) {
	snap := parseSources(t, Source{Module: mod("Module1"), Kind: codemodule.StandardModule, Text: candidatesModule})

	candidates := snap.Candidates()
	if len(candidates) != 1 {
		t.Fatalf("Expected one candidate, got %d", len(candidates))
	}
	c := candidates[0]
	if c.Declaration.IdentifierName != "counter" || c.TargetScope != "P.Module1.A" {
		t.Errorf("Unexpected candidate %s -> %s", c.Declaration.IdentifierName, c.TargetScope)
	}
}

func TestSnapshot_FindVariable(t *testing.T) {
	snap := parseSources(t, Source{Module: mod("Module1"), Kind: codemodule.StandardModule, Text: candidatesModule})

	testCases := []struct {
		name     string
		line     int
		col      int
		expected string
	}{
		{"on declaration", 1, 10, "counter"},
		{"on reference", 5, 6, "counter"},
		{"right after reference", 6, 11, "shared"},
		{"on procedure name", 4, 13, ""},
		{"on blank", 8, 8, ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			qs := types.QualifiedSelection{Module: mod("Module1"), Selection: types.Caret(tc.line, tc.col)}
			d, ok := snap.FindVariable(qs)
			if tc.expected == "" {
				if ok {
					t.Errorf("Expected no variable, got %s", d.IdentifierName)
				}
				return
			}
			if !ok || d.IdentifierName != tc.expected {
				t.Errorf("FindVariable = %v, want %s", d, tc.expected)
			}
		})
	}

	d, ok := snap.FindDeclaration(types.QualifiedSelection{Module: mod("Module1"), Selection: types.Caret(4, 13)})
	if !ok || d.Kind != types.ProcedureDeclaration {
		t.Errorf("Expected FindDeclaration to return procedure A, got %v", d)
	}
}

func TestSnapshot_FindByKey(t *testing.T) {
	first := parseSources(t, Source{Module: mod("Module1"), Kind: codemodule.StandardModule, Text: candidatesModule})
	second := parseSources(t, Source{Module: mod("Module1"), Kind: codemodule.StandardModule, Text: candidatesModule})

	old := findOne(t, first, "counter", "Module1")
	fresh, ok := second.FindByKey(old.Key())
	if !ok {
		t.Fatal("Expected structural match in a fresh snapshot")
	}
	if fresh == old {
		t.Error("Expected a distinct object from the new snapshot")
	}

	shifted := parseSources(t, Source{Module: mod("Module1"), Kind: codemodule.StandardModule, Text: "\n" + candidatesModule})
	if _, ok := shifted.FindByKey(old.Key()); ok {
		t.Error("Expected no match once the declaration moved")
	}
}

func TestParse_Diagnostics(t *testing.T) {
	snap := parseSources(t, Source{Module: mod("Module1"), Kind: codemodule.StandardModule, Text: "Sub A()\n    x = 1\n"})
	if len(snap.Diagnostics) != 1 {
		t.Fatalf("Expected one diagnostic, got %v", snap.Diagnostics)
	}
}

func TestParse_TypeHints(t *testing.T) {
	snap := parseSources(t, Source{Module: mod("Module1"), Kind: codemodule.StandardModule, Text: "Private s$, n%\n" +
		"Sub A()\n" +
		"    s$ = \"a\"\n" +
		"End Sub"})

	s := findOne(t, snap, "s", "Module1")
	if s.TypeHint != "$" || s.AsTypeName != "String" {
		t.Errorf("Expected String hinted by $, got %q %q", s.AsTypeName, s.TypeHint)
	}
	if want := (types.Selection{StartLine: 1, StartColumn: 9, EndLine: 1, EndColumn: 11}); s.Selection != want {
		t.Errorf("Selection = %s, want %s", s.Selection, want)
	}
	if len(s.References) != 1 || s.References[0].Selection.EndColumn != 7 {
		t.Errorf("Expected one reference ending after the $, got %+v", s.References)
	}
	if n := findOne(t, snap, "n", "Module1"); n.AsTypeName != "Integer" {
		t.Errorf("Expected Integer for n%%, got %q", n.AsTypeName)
	}
	if len(snap.Diagnostics) != 0 {
		t.Errorf("Unexpected diagnostics: %v", snap.Diagnostics)
	}
}

func TestParse_MalformedStatements(t *testing.T) {
	testCases := []struct {
		name string
		text string
		line int
	}{
		{"stray type character", "$\nSub A()\nEnd Sub", 1},
		{"cut date literal", "Sub A()\n    t = #12\n    30\n    00 PM#\nEnd Sub", 2},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			snap := parseSources(t, Source{Module: mod("Module1"), Kind: codemodule.StandardModule, Text: tc.text})
			if len(snap.Diagnostics) != 1 || snap.Diagnostics[0].Line != tc.line {
				t.Errorf("Expected one diagnostic on line %d, got %v", tc.line, snap.Diagnostics)
			}
		})
	}

	fine := "Sub A()\n    t = #12:30:00 PM#\n    Print #1, t\n    Close #1\nEnd Sub"
	if snap := parseSources(t, Source{Module: mod("Module1"), Kind: codemodule.StandardModule, Text: fine}); len(snap.Diagnostics) != 0 {
		t.Errorf("Unexpected diagnostics: %v", snap.Diagnostics)
	}
}

func TestParse_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := testParser().Parse(ctx, "P", []Source{{Module: mod("Module1"), Text: "Sub A()\nEnd Sub"}})
	if !errors.Is(err, &types.RefactorError{Type: types.ParseError}) {
		t.Fatalf("Expected ParseError, got %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected cause context.Canceled, got %v", err)
	}
}

func TestTokenCache_ReusesUnchangedModules(t *testing.T) {
	p := testParser()
	src := Source{Module: mod("Module1"), Text: candidatesModule}
	for range 3 {
		if _, err := p.Parse(context.Background(), "P", []Source{src}); err != nil {
			t.Fatal(err)
		}
	}
	stats := p.Cache().GetStats()
	if stats.Misses != 1 || stats.Hits != 2 {
		t.Errorf("Expected 1 miss and 2 hits, got %+v", stats)
	}
	if stats.HitRate() < 0.6 {
		t.Errorf("Unexpected hit rate %f", stats.HitRate())
	}

	if _, err := p.Parse(context.Background(), "P", nil); err != nil {
		t.Fatal(err)
	}
	if p.Cache().Len() != 0 {
		t.Errorf("Expected removed modules to leave the cache, got %d entries", p.Cache().Len())
	}

	p.Cache().Clear()
	if p.Cache().GetStats().Hits != 0 {
		t.Error("Expected Clear to reset statistics")
	}
}
