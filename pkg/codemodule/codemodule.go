// Package codemodule holds the source buffers the refactoring engine edits.
//
// A code module is an ordered, 1-indexed sequence of text lines. The header
// of an exported VBA file (VERSION, BEGIN..END and Attribute VB_ lines) is
// not part of the code and is kept aside, the way the VBA editor hides it.
package codemodule

import (
	"fmt"
	"strings"
	"sync"

	"github.com/mamaar/vbarefactor/pkg/types"
)

// Kind is the component type of a module.
type Kind int

const (
	StandardModule Kind = iota
	ClassModule
	FormModule
)

// String returns the string representation of a Kind
func (k Kind) String() string {
	switch k {
	case StandardModule:
		return "StandardModule"
	case ClassModule:
		return "ClassModule"
	case FormModule:
		return "FormModule"
	default:
		return "Unknown"
	}
}

// CodeModule is the editor-side view of one module's text.
type CodeModule interface {
	Name() types.QualifiedModuleName
	Kind() Kind
	CountOfLines() int
	// Lines returns count lines starting at start, joined with "\n".
	Lines(start, count int) (string, error)
	DeleteLines(start, count int) error
	// InsertLines inserts text before line start. start may be
	// CountOfLines()+1 to append.
	InsertLines(start int, text string) error
	Selection() types.Selection
	SetSelection(sel types.Selection)
}

// Buffer is the in-memory CodeModule implementation.
type Buffer struct {
	mu        sync.RWMutex
	name      types.QualifiedModuleName
	kind      Kind
	path      string
	header    []string
	lines     []string
	crlf      bool
	selection types.Selection
	version   uint64
	saved     uint64
	baseline  string
}

// NewBuffer creates a buffer holding text. The text must not contain the
// file header; use ParseModuleFile for exported files.
func NewBuffer(name types.QualifiedModuleName, kind Kind, text string) *Buffer {
	b := &Buffer{
		name:      name,
		kind:      kind,
		selection: types.Caret(1, 1),
	}
	b.crlf = strings.Contains(text, "\r\n")
	b.lines = splitLines(text)
	b.baseline = b.contents()
	return b
}

func splitLines(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.TrimSuffix(text, "\n")
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}

func (b *Buffer) Name() types.QualifiedModuleName { return b.name }

func (b *Buffer) Kind() Kind { return b.kind }

// Path returns the file the buffer was loaded from, if any.
func (b *Buffer) Path() string { return b.path }

func (b *Buffer) CountOfLines() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.lines)
}

func (b *Buffer) Lines(start, count int) (string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.checkRange(start, count); err != nil {
		return "", err
	}
	return strings.Join(b.lines[start-1:start-1+count], "\n"), nil
}

// Line returns a single line, or "" when n is out of range.
func (b *Buffer) Line(n int) string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if n < 1 || n > len(b.lines) {
		return ""
	}
	return b.lines[n-1]
}

func (b *Buffer) DeleteLines(start, count int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkRange(start, count); err != nil {
		return err
	}
	b.lines = append(b.lines[:start-1], b.lines[start-1+count:]...)
	b.version++
	return nil
}

func (b *Buffer) InsertLines(start int, text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if start < 1 || start > len(b.lines)+1 {
		return b.rangeError(start, 0)
	}
	inserted := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	lines := make([]string, 0, len(b.lines)+len(inserted))
	lines = append(lines, b.lines[:start-1]...)
	lines = append(lines, inserted...)
	lines = append(lines, b.lines[start-1:]...)
	b.lines = lines
	b.version++
	return nil
}

func (b *Buffer) Selection() types.Selection {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.selection
}

func (b *Buffer) SetSelection(sel types.Selection) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.selection = sel
}

// Text returns the module's code lines joined with "\n".
func (b *Buffer) Text() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return strings.Join(b.lines, "\n")
}

// SetText replaces the whole code text, as when the file changed on disk.
func (b *Buffer) SetText(text string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines = splitLines(text)
	b.version++
	b.saved = b.version
	b.baseline = b.contents()
}

// Version increases with every edit.
func (b *Buffer) Version() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.version
}

// Dirty reports whether the buffer has edits not yet written to disk.
func (b *Buffer) Dirty() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.version != b.saved
}

func (b *Buffer) markSaved() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.saved = b.version
	b.baseline = b.contents()
}

// HeaderLines is the number of attribute lines stored above the code.
func (b *Buffer) HeaderLines() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.header)
}

// Baseline returns the stored form of the module as last loaded or saved.
func (b *Buffer) Baseline() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.baseline
}

// Contents renders header and code the way the module is stored on disk.
func (b *Buffer) Contents() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.contents()
}

func (b *Buffer) contents() string {
	all := make([]string, 0, len(b.header)+len(b.lines))
	all = append(all, b.header...)
	all = append(all, b.lines...)
	eol := "\n"
	if b.crlf {
		eol = "\r\n"
	}
	if len(all) == 0 {
		return ""
	}
	return strings.Join(all, eol) + eol
}

func (b *Buffer) checkRange(start, count int) error {
	if start < 1 || count < 0 || start-1+count > len(b.lines) {
		return b.rangeError(start, count)
	}
	return nil
}

func (b *Buffer) rangeError(start, count int) error {
	return &types.RefactorError{
		Type:    types.EditConflict,
		Message: fmt.Sprintf("lines %d+%d out of range (module has %d lines)", start, count, len(b.lines)),
		Module:  b.name.String(),
		Line:    start,
		Column:  1,
	}
}
