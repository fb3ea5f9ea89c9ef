package lsp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/mamaar/vbarefactor/pkg/codemodule"
	"github.com/mamaar/vbarefactor/pkg/refactor"
	"github.com/mamaar/vbarefactor/pkg/types"
)

func (s *Server) handleTextDocumentDidOpen(message *Message) (*Message, error) {
	var params DidOpenTextDocumentParams
	if err := json.Unmarshal(message.Params, &params); err != nil {
		return nil, err
	}
	s.updateDocument(params.TextDocument.URI, params.TextDocument.Text)
	return nil, nil
}

func (s *Server) handleTextDocumentDidChange(message *Message) (*Message, error) {
	var params DidChangeTextDocumentParams
	if err := json.Unmarshal(message.Params, &params); err != nil {
		return nil, err
	}
	// Full sync: the last change carries the whole document.
	if n := len(params.ContentChanges); n > 0 {
		s.updateDocument(params.TextDocument.URI, params.ContentChanges[n-1].Text)
	}
	return nil, nil
}

func (s *Server) handleTextDocumentDidSave(message *Message) (*Message, error) {
	var params DidSaveTextDocumentParams
	if err := json.Unmarshal(message.Params, &params); err != nil {
		return nil, err
	}
	if params.Text != nil {
		s.updateDocument(params.TextDocument.URI, *params.Text)
		return nil, nil
	}
	s.reloadDocument(params.TextDocument.URI)
	return nil, nil
}

func (s *Server) handleTextDocumentDidClose(message *Message) (*Message, error) {
	var params DidCloseTextDocumentParams
	if err := json.Unmarshal(message.Params, &params); err != nil {
		return nil, err
	}
	// Unsaved editor content is discarded with the document.
	s.reloadDocument(params.TextDocument.URI)
	return nil, nil
}

func (s *Server) updateDocument(uri, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	path := uriToPath(uri)
	if !s.isModuleFile(path) {
		return
	}
	buf := s.engine.Project().Update(path, text)
	s.logger.Debug("document updated", "module", buf.Name().String())
}

func (s *Server) reloadDocument(uri string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	path := uriToPath(uri)
	if !s.isModuleFile(path) {
		return
	}
	if _, err := os.Stat(path); err != nil {
		return
	}
	if _, err := s.engine.Project().Reload(path); err != nil {
		s.logger.Warn("reload failed", "path", path, "err", err)
	}
}

// declarationAt resolves the declaration under an LSP position. The caller
// must hold the lock.
func (s *Server) declarationAt(ctx context.Context, uri string, pos Position) (*types.Declaration, error) {
	buf, ok := s.moduleForURI(uri)
	if !ok {
		return nil, nil
	}
	line, column := toCodePosition(buf, pos)
	if line < 1 {
		return nil, nil
	}
	return s.engine.DeclarationAt(ctx, buf.Name().ComponentName, line, column)
}

// location converts a selection in module to an LSP location.
func (s *Server) location(module types.QualifiedModuleName, sel types.Selection) (Location, bool) {
	buf, err := s.engine.Project().ModuleByQualifiedName(module)
	if err != nil || buf.Path() == "" {
		return Location{}, false
	}
	return Location{URI: pathToURI(buf.Path()), Range: toRange(buf, sel)}, true
}

// handleTextDocumentHover describes the declaration under the cursor
func (s *Server) handleTextDocumentHover(ctx context.Context, message *Message) (*Message, error) {
	var params TextDocumentPositionParams
	if err := json.Unmarshal(message.Params, &params); err != nil {
		return s.errorResponse(message.ID, CodeInvalidParams, "Invalid params", err.Error())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	decl, err := s.declarationAt(ctx, params.TextDocument.URI, params.Position)
	if err != nil {
		s.logger.Debug("hover lookup failed", "err", err)
	}
	if decl == nil {
		return s.successResponse(message.ID, nil)
	}

	return s.successResponse(message.ID, &Hover{
		Contents: MarkupContent{
			Kind:  MarkupKindMarkdown,
			Value: hoverContent(decl),
		},
	})
}

func hoverContent(decl *types.Declaration) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**%s** (%s %s)\n\n", decl.IdentifierName, decl.Accessibility.String(), decl.Kind.String())
	if decl.AsTypeName != "" {
		fmt.Fprintf(&b, "As %s\n\n", decl.AsTypeName)
	}
	fmt.Fprintf(&b, "Scope: %s\n\n", decl.ParentScope)
	fmt.Fprintf(&b, "References: %d", len(decl.References))
	if refactor.CheckRelocatable(decl) == nil {
		b.WriteString("\n\nCan be moved closer to its usage.")
	}
	return b.String()
}

// handleTextDocumentDefinition jumps to the declaration
func (s *Server) handleTextDocumentDefinition(ctx context.Context, message *Message) (*Message, error) {
	var params TextDocumentPositionParams
	if err := json.Unmarshal(message.Params, &params); err != nil {
		return s.errorResponse(message.ID, CodeInvalidParams, "Invalid params", err.Error())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	decl, err := s.declarationAt(ctx, params.TextDocument.URI, params.Position)
	if err != nil || decl == nil {
		return s.successResponse(message.ID, nil)
	}
	loc, ok := s.location(decl.Module, decl.Selection)
	if !ok {
		return s.successResponse(message.ID, nil)
	}
	return s.successResponse(message.ID, &loc)
}

// handleTextDocumentReferences lists the references of the declaration
// under the cursor
func (s *Server) handleTextDocumentReferences(ctx context.Context, message *Message) (*Message, error) {
	var params ReferenceParams
	if err := json.Unmarshal(message.Params, &params); err != nil {
		return s.errorResponse(message.ID, CodeInvalidParams, "Invalid params", err.Error())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	locations := []Location{}
	decl, err := s.declarationAt(ctx, params.TextDocument.URI, params.Position)
	if err != nil || decl == nil {
		return s.successResponse(message.ID, locations)
	}
	if params.Context.IncludeDeclaration {
		if loc, ok := s.location(decl.Module, decl.Selection); ok {
			locations = append(locations, loc)
		}
	}
	for _, ref := range decl.References {
		if loc, ok := s.location(ref.Module, ref.Selection); ok {
			locations = append(locations, loc)
		}
	}
	return s.successResponse(message.ID, locations)
}

// documentEnd is the position just past the last character of text.
func documentEnd(text string) Position {
	lines := strings.Split(text, "\n")
	return Position{Line: len(lines) - 1, Character: len(lines[len(lines)-1])}
}

// changedModules returns a whole-document edit for every module whose
// stored form differs from before.
func changedModules(modules []*codemodule.Buffer, before map[*codemodule.Buffer]string) map[string][]TextEdit {
	changes := make(map[string][]TextEdit)
	for _, buf := range modules {
		old, ok := before[buf]
		current := buf.Contents()
		if !ok || old == current || buf.Path() == "" {
			continue
		}
		changes[pathToURI(buf.Path())] = []TextEdit{{
			Range:   Range{End: documentEnd(old)},
			NewText: current,
		}}
	}
	return changes
}
