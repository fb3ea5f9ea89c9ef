package analysis

import (
	"github.com/mamaar/vbarefactor/pkg/types"
)

// Snapshot is the immutable result of one parse. Any edit to a module makes
// every Declaration and Reference in it stale.
type Snapshot struct {
	ProjectID   string
	Diagnostics []Diagnostic

	declarations []*types.Declaration
	modules      []types.QualifiedModuleName
	byModule     map[types.QualifiedModuleName][]*types.Declaration
	trees        map[types.QualifiedModuleName]*types.SyntaxTree
}

func newSnapshot(projectID string, parsers []*moduleParser) *Snapshot {
	s := &Snapshot{
		ProjectID: projectID,
		byModule:  make(map[types.QualifiedModuleName][]*types.Declaration, len(parsers)),
		trees:     make(map[types.QualifiedModuleName]*types.SyntaxTree, len(parsers)),
	}
	for _, mp := range parsers {
		name := mp.src.Module
		s.modules = append(s.modules, name)
		s.declarations = append(s.declarations, mp.decls...)
		s.byModule[name] = mp.decls
		s.trees[name] = mp.tree
		s.Diagnostics = append(s.Diagnostics, mp.diags...)
	}
	return s
}

// Declarations returns every declaration in module order, then source order.
func (s *Snapshot) Declarations() []*types.Declaration {
	return s.declarations
}

// Modules lists the parsed modules.
func (s *Snapshot) Modules() []types.QualifiedModuleName {
	return s.modules
}

// ModuleDeclarations returns the declarations made in one module.
func (s *Snapshot) ModuleDeclarations(module types.QualifiedModuleName) []*types.Declaration {
	return s.byModule[module]
}

// Tree returns the syntax arena of a module, or nil.
func (s *Snapshot) Tree(module types.QualifiedModuleName) *types.SyntaxTree {
	return s.trees[module]
}

// FindByKey re-identifies a declaration taken from an earlier snapshot.
func (s *Snapshot) FindByKey(key types.StructuralKey) (*types.Declaration, bool) {
	for _, d := range s.byModule[types.QualifiedModuleName{ProjectID: key.ProjectID, ComponentName: key.ComponentName}] {
		if key.Matches(d) {
			return d, true
		}
	}
	return nil, false
}

// FindDeclaration returns the declaration whose identifier, or one of whose
// references, lies under the start of the selection. A position strictly
// inside an identifier wins over one touching its end.
func (s *Snapshot) FindDeclaration(qs types.QualifiedSelection) (*types.Declaration, bool) {
	return s.find(qs, func(*types.Declaration) bool { return true })
}

// FindVariable is FindDeclaration restricted to variables.
func (s *Snapshot) FindVariable(qs types.QualifiedSelection) (*types.Declaration, bool) {
	return s.find(qs, func(d *types.Declaration) bool { return d.Kind == types.VariableDeclaration })
}

func (s *Snapshot) find(qs types.QualifiedSelection, accept func(*types.Declaration) bool) (*types.Declaration, bool) {
	line, col := qs.Selection.StartLine, qs.Selection.StartColumn
	score := func(sel types.Selection) int {
		switch {
		case !sel.Contains(line, col):
			return 0
		case line == sel.EndLine && col == sel.EndColumn:
			return 1
		}
		return 2
	}

	var best *types.Declaration
	bestScore := 0
	for _, d := range s.declarations {
		if d.Kind == types.ModuleDeclaration || !accept(d) {
			continue
		}
		if d.Module == qs.Module {
			if sc := score(d.Selection); sc > bestScore {
				best, bestScore = d, sc
			}
		}
		for _, r := range d.References {
			if r.Module != qs.Module {
				continue
			}
			if sc := score(r.Selection); sc > bestScore {
				best, bestScore = d, sc
			}
		}
		if bestScore == 2 {
			break
		}
	}
	return best, best != nil
}

// Find returns the declarations named name, optionally limited to a module.
func (s *Snapshot) Find(name string, module string) []*types.Declaration {
	var out []*types.Declaration
	for _, d := range s.declarations {
		if !d.HasName(name) {
			continue
		}
		if module != "" && foldName(module) != foldName(d.Module.ComponentName) {
			continue
		}
		out = append(out, d)
	}
	return out
}

// Candidate is a variable whose uses all sit in one procedure other than the
// scope it is declared in.
type Candidate struct {
	Declaration *types.Declaration
	TargetScope string
}

// Candidates lists every relocatable variable whose references are confined
// to a single procedure different from its declaring scope.
func (s *Snapshot) Candidates() []Candidate {
	var out []Candidate
	for _, d := range s.declarations {
		if d.Kind != types.VariableDeclaration || len(d.Attributes) > 0 || len(d.References) == 0 {
			continue
		}
		scope := d.References[0].ParentScoping
		single := true
		for _, r := range d.References[1:] {
			if r.ParentScoping != scope {
				single = false
				break
			}
		}
		if single && scope != d.ParentScope && scope != types.ModuleScope(d.References[0].Module) {
			out = append(out, Candidate{Declaration: d, TargetScope: scope})
		}
	}
	return out
}
