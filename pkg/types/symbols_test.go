package types

import "testing"

func testModule(name string) QualifiedModuleName {
	return QualifiedModuleName{ProjectID: "VBAProject", ComponentName: name}
}

func TestSelection_NewSelection(t *testing.T) {
	if _, err := NewSelection(2, 5, 1, 1); err == nil {
		t.Fatal("Expected an error for a selection ending before it starts")
	}
	if _, err := NewSelection(0, 1, 1, 1); err == nil {
		t.Fatal("Expected an error for a zero line")
	}

	sel, err := NewSelection(3, 5, 5, 2)
	if err != nil {
		t.Fatal(err)
	}
	if sel.LineCount() != 3 {
		t.Errorf("Expected LineCount 3, got %d", sel.LineCount())
	}
}

func TestSelection_Contains(t *testing.T) {
	sel := Selection{StartLine: 2, StartColumn: 5, EndLine: 2, EndColumn: 8}

	testCases := []struct {
		name     string
		line     int
		column   int
		expected bool
	}{
		{"start", 2, 5, true},
		{"inside", 2, 6, true},
		{"right after identifier", 2, 8, true},
		{"past end", 2, 9, false},
		{"before start", 2, 4, false},
		{"other line", 3, 5, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := sel.Contains(tc.line, tc.column); got != tc.expected {
				t.Errorf("Contains(%d, %d) = %v, want %v", tc.line, tc.column, got, tc.expected)
			}
		})
	}
}

func TestSelection_OverlapsAndOrder(t *testing.T) {
	a := Selection{StartLine: 1, StartColumn: 1, EndLine: 1, EndColumn: 5}
	b := Selection{StartLine: 1, StartColumn: 5, EndLine: 1, EndColumn: 9}
	c := Selection{StartLine: 1, StartColumn: 4, EndLine: 2, EndColumn: 1}

	if a.Overlaps(b) {
		t.Error("Adjacent selections must not overlap")
	}
	if !a.Overlaps(c) {
		t.Error("Expected a and c to overlap")
	}
	if !a.Before(b) || b.Before(a) {
		t.Error("Expected a to be ordered before b")
	}
	if got := a.ShiftLines(2); got.StartLine != 3 || got.EndLine != 3 {
		t.Errorf("ShiftLines(2) = %s", got)
	}
}

func TestDeclaration_KeyMatches(t *testing.T) {
	module := testModule("Module1")
	decl := &Declaration{
		IdentifierName: "foo",
		AsTypeName:     "Long",
		Kind:           VariableDeclaration,
		Module:         module,
		ParentScope:    ModuleScope(module),
		Selection:      Selection{StartLine: 2, StartColumn: 9, EndLine: 2, EndColumn: 12},
	}

	key := decl.Key()

	fresh := *decl
	fresh.References = nil
	if !key.Matches(&fresh) {
		t.Error("Expected key to match an identical declaration from a new snapshot")
	}

	moved := fresh
	moved.Selection = moved.Selection.ShiftLines(1)
	if key.Matches(&moved) {
		t.Error("Expected key not to match a declaration at a different position")
	}

	local := fresh
	local.ParentScope = ModuleScope(module) + ".DoIt"
	if key.Matches(&local) {
		t.Error("Expected key not to match a declaration in another scope")
	}
}

func TestDeclaration_MemberScope(t *testing.T) {
	module := testModule("Class1")
	get := &Declaration{IdentifierName: "Value", Kind: PropertyGetDeclaration, Module: module, ParentScope: ModuleScope(module)}
	let := &Declaration{IdentifierName: "Value", Kind: PropertyLetDeclaration, Module: module, ParentScope: ModuleScope(module)}
	sub := &Declaration{IdentifierName: "Run", Kind: ProcedureDeclaration, Module: module, ParentScope: ModuleScope(module)}

	if get.MemberScope() == let.MemberScope() {
		t.Error("Property accessors must get distinct scopes")
	}
	if sub.MemberScope() != "VBAProject.Class1.Run" {
		t.Errorf("Unexpected scope %q", sub.MemberScope())
	}
	if !sub.IsModuleLevel() {
		t.Error("Expected procedure to be module level")
	}
}

func TestDeclaration_AddReference(t *testing.T) {
	decl := &Declaration{IdentifierName: "foo"}
	ref := &Reference{IdentifierName: "foo"}
	decl.AddReference(ref)

	if ref.Declaration != decl {
		t.Error("Expected back-reference to be set")
	}
	if len(decl.References) != 1 {
		t.Errorf("Expected 1 reference, got %d", len(decl.References))
	}
	if !decl.HasName("FOO") {
		t.Error("Expected case-insensitive name comparison")
	}
}

func TestSyntaxTree_Enclosing(t *testing.T) {
	tree := NewSyntaxTree(testModule("Module1"))
	mod := tree.Add(ModuleNode, NoNode, Selection{StartLine: 1, StartColumn: 1, EndLine: 10, EndColumn: 1})
	proc := tree.Add(ProcedureNode, mod, Selection{StartLine: 2, StartColumn: 1, EndLine: 5, EndColumn: 8})
	stmt := tree.Add(StatementNode, proc, Selection{StartLine: 3, StartColumn: 5, EndLine: 3, EndColumn: 20})
	member := tree.Add(MemberAccessExprNode, stmt, Selection{StartLine: 3, StartColumn: 5, EndLine: 3, EndColumn: 14})
	ident := tree.Add(IdentifierNode, member, Selection{StartLine: 3, StartColumn: 13, EndLine: 3, EndColumn: 14})

	got, ok := tree.Enclosing(ident, MemberAccessExprNode)
	if !ok || got != member {
		t.Errorf("Enclosing(member access) = %d, %v; want %d", got, ok, member)
	}
	got, ok = tree.Enclosing(ident, ProcedureNode)
	if !ok || got != proc {
		t.Errorf("Enclosing(procedure) = %d, %v; want %d", got, ok, proc)
	}
	if _, ok := tree.Enclosing(member, MemberAccessExprNode); ok {
		t.Error("Enclosing must not return the node itself")
	}
	if children := tree.Children(stmt); len(children) != 1 || children[0] != member {
		t.Errorf("Children(stmt) = %v", children)
	}
}
