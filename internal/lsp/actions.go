package lsp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mamaar/vbarefactor/pkg/codemodule"
	"github.com/mamaar/vbarefactor/pkg/refactor"
	"github.com/mamaar/vbarefactor/pkg/types"
)

const (
	// CodeActionKindMove is the kind of the Move Closer To Usage action.
	CodeActionKindMove = "refactor.move"

	// CommandMoveCloserToUsage takes a document URI and a zero-based line
	// and character.
	CommandMoveCloserToUsage = "vbarefactor.moveCloserToUsage"

	moveCloserTitle = "Move closer to usage"
)

// handleTextDocumentCodeAction offers Move Closer To Usage when the cursor is
// on a variable the refactoring applies to
func (s *Server) handleTextDocumentCodeAction(ctx context.Context, message *Message) (*Message, error) {
	var params CodeActionParams
	if err := json.Unmarshal(message.Params, &params); err != nil {
		return s.errorResponse(message.ID, CodeInvalidParams, "Invalid params", err.Error())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	actions := []CodeAction{}
	if !wantsKind(params.Context.Only, CodeActionKindMove) {
		return s.successResponse(message.ID, actions)
	}
	decl, err := s.declarationAt(ctx, params.TextDocument.URI, params.Range.Start)
	if err != nil || decl == nil || refactor.CheckRelocatable(decl) != nil {
		return s.successResponse(message.ID, actions)
	}

	actions = append(actions, CodeAction{
		Title:       fmt.Sprintf("%s: '%s'", moveCloserTitle, decl.IdentifierName),
		Kind:        CodeActionKindMove,
		IsPreferred: true,
		Command: &Command{
			Title:   moveCloserTitle,
			Command: CommandMoveCloserToUsage,
			Arguments: []interface{}{
				params.TextDocument.URI,
				params.Range.Start.Line,
				params.Range.Start.Character,
			},
		},
	})
	return s.successResponse(message.ID, actions)
}

// wantsKind reports whether a code action of kind passes the client's
// filter. A filter entry matches its sub-kinds.
func wantsKind(only []string, kind string) bool {
	if len(only) == 0 {
		return true
	}
	for _, k := range only {
		if k == kind || len(kind) > len(k) && kind[:len(k)] == k && kind[len(k)] == '.' {
			return true
		}
	}
	return false
}

func (s *Server) handleWorkspaceExecuteCommand(ctx context.Context, message *Message) (*Message, error) {
	var params ExecuteCommandParams
	if err := json.Unmarshal(message.Params, &params); err != nil {
		return s.errorResponse(message.ID, CodeInvalidParams, "Invalid params", err.Error())
	}
	if params.Command != CommandMoveCloserToUsage {
		return s.errorResponse(message.ID, CodeInvalidParams, "Unknown command", params.Command)
	}

	var (
		uri string
		pos Position
	)
	if len(params.Arguments) != 3 ||
		json.Unmarshal(params.Arguments[0], &uri) != nil ||
		json.Unmarshal(params.Arguments[1], &pos.Line) != nil ||
		json.Unmarshal(params.Arguments[2], &pos.Character) != nil {
		return s.errorResponse(message.ID, CodeInvalidParams, "Expected arguments: uri, line, character", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	edit, err := s.moveCloserToUsage(ctx, uri, pos)
	if err != nil {
		return s.errorResponse(message.ID, CodeRequestFailed, err.Error(), nil)
	}
	if edit != nil && len(edit.Changes) > 0 {
		s.request("workspace/applyEdit", ApplyWorkspaceEditParams{Label: moveCloserTitle, Edit: *edit})
	}
	return s.successResponse(message.ID, edit)
}

// moveCloserToUsage runs the refactoring on the variable at pos and returns
// the edits to mirror in the editor. Precondition failures are shown to the
// user and yield no edit. The caller must hold the lock.
func (s *Server) moveCloserToUsage(ctx context.Context, uri string, pos Position) (*WorkspaceEdit, error) {
	buf, ok := s.moduleForURI(uri)
	if !ok {
		return nil, fmt.Errorf("document %s is not part of the workspace", uri)
	}
	line, column := toCodePosition(buf, pos)
	if line < 1 {
		line, column = 0, 0
	}

	modules := s.engine.Project().Modules()
	before := make(map[*codemodule.Buffer]string, len(modules))
	for _, m := range modules {
		before[m] = m.Contents()
	}

	outcome, err := s.engine.MoveCloserToUsage(ctx, refactor.MoveCloserRequest{
		Module: buf.Name().ComponentName,
		Line:   line,
		Column: column,
	})
	if outcome == nil {
		var re *types.RefactorError
		if errors.As(err, &re) && re.UserFacing() {
			return nil, nil
		}
		return nil, err
	}
	if err != nil {
		// The insertion stays in place; references were not rewritten.
		s.showMessage(MessageTypeWarning, fmt.Sprintf("%s: %v", moveCloserTitle, err))
	}
	s.logger.Info("moved closer to usage", "declaration", outcome.Declaration, "state", outcome.State.String())
	return &WorkspaceEdit{Changes: changedModules(s.engine.Project().Modules(), before)}, nil
}
