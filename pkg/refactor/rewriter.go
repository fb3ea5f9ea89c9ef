package refactor

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/mamaar/vbarefactor/pkg/analysis"
	"github.com/mamaar/vbarefactor/pkg/state"
	"github.com/mamaar/vbarefactor/pkg/types"
)

// Rewrite summarizes the cleanup after a relocation.
type Rewrite struct {
	Declaration *types.Declaration
	// Unqualified counts the member-access expressions reduced to the bare
	// identifier.
	Unqualified int
	Deltas      map[types.QualifiedModuleName]int
}

// ReferenceRewriter strips the module qualifier from references to a moved
// declaration and deletes the old declaration.
type ReferenceRewriter struct {
	logger *slog.Logger
}

func NewReferenceRewriter(logger *slog.Logger) *ReferenceRewriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReferenceRewriter{logger: logger}
}

// Rewrite finds the declaration identified by key in snap and commits every
// edit through rw, which must be staged against snap.
func (w *ReferenceRewriter) Rewrite(snap *analysis.Snapshot, rw *state.Rewriter, key types.StructuralKey) (*Rewrite, error) {
	decl, ok := snap.FindByKey(key)
	if !ok {
		return nil, &types.RefactorError{
			Type:    types.StructuralMatchNotFound,
			Message: fmt.Sprintf("declaration %s.%s at %s not found after reparse", key.ComponentName, key.IdentifierName, key.Selection),
			Module:  key.ProjectID + "." + key.ComponentName,
			Line:    key.Selection.StartLine,
			Column:  key.Selection.StartColumn,
		}
	}

	refs := make([]*types.Reference, len(decl.References))
	copy(refs, decl.References)
	sort.SliceStable(refs, func(i, j int) bool {
		return refs[j].Selection.Before(refs[i].Selection)
	})

	result := &Rewrite{Declaration: decl}
	for _, ref := range refs {
		tree := snap.Tree(ref.Module)
		if tree == nil {
			continue
		}
		member, ok := tree.Enclosing(ref.Context, types.MemberAccessExprNode)
		if !ok {
			continue
		}
		node, _ := tree.Node(member)
		rw.Replace(ref.Module, node.Selection, ref.IdentifierName)
		result.Unqualified++
	}

	if err := rw.Remove(decl); err != nil {
		return nil, fmt.Errorf("remove old declaration of %s: %w", decl.IdentifierName, err)
	}
	deltas, err := rw.Commit()
	if err != nil {
		return nil, err
	}
	result.Deltas = deltas

	w.logger.Debug("rewrote references",
		"declaration", decl.QualifiedName(),
		"unqualified", result.Unqualified,
		"modules", len(deltas),
	)
	return result, nil
}
