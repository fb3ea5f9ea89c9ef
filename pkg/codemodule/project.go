package codemodule

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/mamaar/vbarefactor/pkg/types"
)

// DefaultExtensions are the exported VBA component files a project loads.
var DefaultExtensions = []string{".bas", ".cls", ".frm"}

// Project is a set of code modules loaded from one directory.
type Project struct {
	ID   string
	Root string

	mu      sync.RWMutex
	modules map[string]*Buffer
	logger  *slog.Logger
}

// LoadOptions controls how a project directory is read.
type LoadOptions struct {
	ProjectID  string
	Extensions []string
}

// NewProject creates an empty project, mostly for tests and in-memory use.
func NewProject(id string, logger *slog.Logger) *Project {
	if logger == nil {
		logger = slog.Default()
	}
	return &Project{ID: id, modules: make(map[string]*Buffer), logger: logger}
}

// LoadProject reads every module file under root.
func LoadProject(root string, opts LoadOptions, logger *slog.Logger) (*Project, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, &types.RefactorError{
			Type:    types.FileSystemError,
			Message: fmt.Sprintf("failed to resolve workspace path: %v", err),
			Cause:   err,
		}
	}
	id := opts.ProjectID
	if id == "" {
		id = filepath.Base(absRoot)
	}
	exts := opts.Extensions
	if len(exts) == 0 {
		exts = DefaultExtensions
	}

	p := NewProject(id, logger)
	p.Root = absRoot

	err = filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			name := d.Name()
			if path != absRoot && (strings.HasPrefix(name, ".") || name == "_examples") {
				return filepath.SkipDir
			}
			return nil
		}
		if !HasModuleExtension(path, exts) {
			return nil
		}
		buf, err := ReadModuleFile(id, path)
		if err != nil {
			return err
		}
		if existing, ok := p.modules[moduleKey(buf.name.ComponentName)]; ok {
			p.logger.Warn("duplicate module name, keeping first",
				"module", buf.name.ComponentName, "kept", existing.path, "skipped", path)
			return nil
		}
		p.modules[moduleKey(buf.name.ComponentName)] = buf
		return nil
	})
	if err != nil {
		return nil, &types.RefactorError{
			Type:    types.FileSystemError,
			Message: fmt.Sprintf("failed to load project from %s: %v", absRoot, err),
			Cause:   err,
		}
	}

	p.logger.Info("loaded project", "project", id, "root", absRoot, "modules", len(p.modules))
	return p, nil
}

// HasModuleExtension reports whether path names a module file.
func HasModuleExtension(path string, exts []string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range exts {
		if ext == strings.ToLower(e) {
			return true
		}
	}
	return false
}

func moduleKey(name string) string {
	return strings.ToLower(name)
}

// Add registers a buffer, replacing any module with the same name.
func (p *Project) Add(b *Buffer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.modules[moduleKey(b.name.ComponentName)] = b
}

// AddModule creates a buffer from code text and registers it.
func (p *Project) AddModule(name string, kind Kind, text string) *Buffer {
	b := NewBuffer(types.QualifiedModuleName{ProjectID: p.ID, ComponentName: name}, kind, text)
	p.Add(b)
	return b
}

// Module looks a module up by component name, ignoring case.
func (p *Project) Module(name string) (*Buffer, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	b, ok := p.modules[moduleKey(name)]
	return b, ok
}

// ModuleByQualifiedName is Module with a project check.
func (p *Project) ModuleByQualifiedName(name types.QualifiedModuleName) (*Buffer, error) {
	if b, ok := p.Module(name.ComponentName); ok && strings.EqualFold(name.ProjectID, p.ID) {
		return b, nil
	}
	return nil, &types.RefactorError{
		Type:    types.ModuleNotFound,
		Message: fmt.Sprintf("module %s not found", name),
		Module:  name.String(),
	}
}

// ModuleByPath returns the module loaded from path.
func (p *Project) ModuleByPath(path string) (*Buffer, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, b := range p.modules {
		if b.path == path {
			return b, true
		}
	}
	return nil, false
}

// Modules returns all modules ordered by name.
func (p *Project) Modules() []*Buffer {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Buffer, 0, len(p.modules))
	for _, b := range p.modules {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		return moduleKey(out[i].name.ComponentName) < moduleKey(out[j].name.ComponentName)
	})
	return out
}

// Reload re-reads a module file after it changed on disk. A file that is
// not part of the project yet is added.
func (p *Project) Reload(path string) (*Buffer, error) {
	fresh, err := ReadModuleFile(p.ID, path)
	if err != nil {
		return nil, err
	}
	return p.replace(path, fresh), nil
}

// Update replaces a module with content an editor holds for path, as if it
// had been read from disk.
func (p *Project) Update(path, content string) *Buffer {
	return p.replace(path, ParseModuleFile(p.ID, path, content))
}

func (p *Project) replace(path string, fresh *Buffer) *Buffer {
	if existing, ok := p.ModuleByPath(path); ok {
		existing.mu.Lock()
		existing.header = fresh.header
		existing.crlf = fresh.crlf
		existing.mu.Unlock()
		existing.SetText(fresh.Text())
		existing.markSaved()
		p.logger.Debug("reloaded module", "module", existing.name.String(), "path", path)
		return existing
	}
	p.Add(fresh)
	p.logger.Debug("added module", "module", fresh.name.String(), "path", path)
	return fresh
}

// Remove drops the module loaded from path.
func (p *Project) Remove(path string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, b := range p.modules {
		if b.path == path {
			delete(p.modules, key)
			p.logger.Debug("removed module", "module", b.name.String(), "path", path)
			return true
		}
	}
	return false
}

// ReadModuleFile loads an exported VBA component.
func ReadModuleFile(projectID, path string) (*Buffer, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, &types.RefactorError{
			Type:    types.FileSystemError,
			Message: fmt.Sprintf("failed to read module file: %v", err),
			Module:  path,
			Cause:   err,
		}
	}
	return ParseModuleFile(projectID, path, string(content)), nil
}

// ParseModuleFile splits an exported component into its header and code.
// The component name comes from Attribute VB_Name, falling back to the file
// name.
func ParseModuleFile(projectID, path, content string) *Buffer {
	kind := StandardModule
	switch strings.ToLower(filepath.Ext(path)) {
	case ".cls":
		kind = ClassModule
	case ".frm":
		kind = FormModule
	}

	crlf := strings.Contains(content, "\r\n")
	lines := splitLines(content)
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	n := 0
	depth := 0
header:
	for n < len(lines) {
		trimmed := strings.TrimSpace(lines[n])
		upper := strings.ToUpper(trimmed)
		switch {
		case depth > 0:
			if upper == "END" {
				depth--
			} else if strings.HasPrefix(upper, "BEGIN") {
				depth++
			}
		case strings.HasPrefix(upper, "VERSION "):
		case upper == "BEGIN" || strings.HasPrefix(upper, "BEGIN "):
			depth++
		case strings.HasPrefix(upper, "ATTRIBUTE VB_"):
			if v, ok := vbName(trimmed); ok {
				name = v
			}
		default:
			break header
		}
		n++
	}
	b := &Buffer{
		name:      types.QualifiedModuleName{ProjectID: projectID, ComponentName: name},
		kind:      kind,
		path:      path,
		header:    append([]string(nil), lines[:n]...),
		lines:     append([]string(nil), lines[n:]...),
		crlf:      crlf,
		selection: types.Caret(1, 1),
	}
	b.baseline = b.contents()
	return b
}

func vbName(attr string) (string, bool) {
	const prefix = "attribute vb_name"
	if !strings.HasPrefix(strings.ToLower(attr), prefix) {
		return "", false
	}
	rest := strings.TrimSpace(attr[len(prefix):])
	if !strings.HasPrefix(rest, "=") {
		return "", false
	}
	return strings.Trim(strings.TrimSpace(rest[1:]), `"`), true
}
