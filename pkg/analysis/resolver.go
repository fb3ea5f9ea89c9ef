package analysis

import (
	"github.com/mamaar/vbarefactor/pkg/codemodule"
	"github.com/mamaar/vbarefactor/pkg/types"
)

// binding pairs a resolved use with its declaration.
type binding struct {
	decl *types.Declaration
	ref  *types.Reference
}

// projectIndex is the read-only lookup table shared by resolution workers.
type projectIndex struct {
	projectKey string
	modules    map[string]*moduleParser
	order      []*moduleParser
}

func newProjectIndex(projectID string, parsers []*moduleParser) *projectIndex {
	idx := &projectIndex{
		projectKey: foldName(projectID),
		modules:    make(map[string]*moduleParser, len(parsers)),
		order:      parsers,
	}
	for _, mp := range parsers {
		idx.modules[foldName(mp.src.Module.ComponentName)] = mp
	}
	return idx
}

// isPublic reports whether a module-level declaration is visible from other
// modules. Module-level Dim and Const default to private, procedures to
// public.
func isPublic(d *types.Declaration) bool {
	switch d.Accessibility {
	case types.Public, types.Global, types.Friend:
		return true
	case types.Implicit:
		return d.Kind.IsMember()
	}
	return false
}

// target is what a resolved chain element denotes.
type target struct {
	decl    *types.Declaration
	module  *moduleParser
	project bool
}

func (x *projectIndex) resolveModule(mp *moduleParser) []binding {
	var out []binding
	for _, u := range mp.uses {
		var prev target
		for j, link := range u.chain {
			var cur target
			if j == 0 {
				cur = x.resolveUnqualified(mp, u, link.tok)
			} else {
				cur = x.resolveMember(mp, prev, link.tok)
			}
			if cur.decl == nil && cur.module == nil && !cur.project {
				break
			}
			if cur.decl != nil {
				out = append(out, binding{
					decl: cur.decl,
					ref: &types.Reference{
						IdentifierName: link.tok.text,
						Module:         mp.src.Module,
						Selection:      tokSel(link.tok),
						ParentScoping:  u.scope,
						Context:        link.node,
					},
				})
			}
			prev = cur
		}
	}
	return out
}

// resolveUnqualified looks a bare name up in procedure scope, then module
// scope, then the public members of standard modules, then module names.
func (x *projectIndex) resolveUnqualified(mp *moduleParser, u use, tok token) target {
	key := foldName(tok.text)
	if u.proc != nil {
		if d := u.proc.local(key, tokSel(tok)); d != nil {
			return target{decl: d}
		}
	}
	if ds := mp.members[key]; len(ds) > 0 {
		return target{decl: ds[0]}
	}
	for _, other := range x.order {
		if other == mp || other.src.Kind != codemodule.StandardModule {
			continue
		}
		for _, d := range other.members[key] {
			if isPublic(d) {
				return target{decl: d}
			}
		}
	}
	if m, ok := x.modules[key]; ok {
		return target{decl: m.module, module: m}
	}
	if key == x.projectKey {
		return target{project: true}
	}
	return target{}
}

// resolveMember resolves the element after a dot.
func (x *projectIndex) resolveMember(from *moduleParser, prev target, tok token) target {
	key := foldName(tok.text)
	switch {
	case prev.project:
		if m, ok := x.modules[key]; ok {
			return target{decl: m.module, module: m}
		}
	case prev.module != nil:
		for _, d := range prev.module.members[key] {
			if prev.module == from || isPublic(d) {
				return target{decl: d}
			}
		}
	}
	return target{}
}
