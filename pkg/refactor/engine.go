package refactor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mamaar/vbarefactor/pkg/analysis"
	"github.com/mamaar/vbarefactor/pkg/codemodule"
	"github.com/mamaar/vbarefactor/pkg/state"
	"github.com/mamaar/vbarefactor/pkg/types"
)

// RefactorEngine is the main interface for refactoring operations
type RefactorEngine interface {
	// Workspace management
	LoadWorkspace(ctx context.Context, path string) (*codemodule.Project, error)
	SaveWorkspace() ([]string, error)

	// Queries
	Declarations(ctx context.Context, module string) ([]*types.Declaration, error)
	Candidates(ctx context.Context) ([]analysis.Candidate, error)

	// Refactoring operations
	MoveCloserToUsage(ctx context.Context, req MoveCloserRequest) (*Outcome, error)

	// PreviewChanges renders the unsaved edits as a unified diff.
	PreviewChanges() (string, error)
}

// MoveCloserRequest selects the variable to move either by a position in
// Module or by Name declared in Module.
type MoveCloserRequest struct {
	Module string
	Line   int
	Column int
	Name   string
}

// DefaultEngine implements the Engine interface
type DefaultEngine struct {
	config   *EngineConfig
	notifier Notifier
	logger   *slog.Logger
	// readConfig loads ConfigFileName from the workspace on LoadWorkspace.
	readConfig bool

	project     *codemodule.Project
	state       *state.ParserState
	coordinator *Coordinator
}

// CreateEngine returns an engine that takes its configuration from the
// workspace it loads.
func CreateEngine(logger *slog.Logger) *DefaultEngine {
	e := CreateEngineWithConfig(DefaultConfig(), nil, logger)
	e.readConfig = true
	return e
}

func CreateEngineWithConfig(config *EngineConfig, notifier Notifier, logger *slog.Logger) *DefaultEngine {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = NewLogNotifier(logger)
	}
	return &DefaultEngine{config: config, notifier: notifier, logger: logger}
}

// LoadWorkspace loads the module files under path and parses them.
func (e *DefaultEngine) LoadWorkspace(ctx context.Context, path string) (*codemodule.Project, error) {
	if e.readConfig {
		cfg, err := LoadConfig(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		e.config = cfg
	}
	project, err := codemodule.LoadProject(path, codemodule.LoadOptions{
		ProjectID:  e.config.ProjectID,
		Extensions: e.config.ModuleExtensions,
	}, e.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load workspace: %w", err)
	}
	if err := e.Attach(ctx, project); err != nil {
		return nil, err
	}
	return project, nil
}

// Attach makes the engine work on an already loaded project.
func (e *DefaultEngine) Attach(ctx context.Context, project *codemodule.Project) error {
	ps := state.New(project, analysis.NewParser(e.logger), e.logger)
	if _, err := ps.Parse(ctx); err != nil {
		return fmt.Errorf("failed to parse workspace: %w", err)
	}
	e.project = project
	e.state = ps
	e.coordinator = NewCoordinator(ps, nil, e.config, e.notifier, e.logger)
	e.logger.Info("workspace loaded",
		"project", project.ID,
		"modules", len(project.Modules()),
		"declarations", len(ps.Snapshot().Declarations()),
	)
	return nil
}

func (e *DefaultEngine) Project() *codemodule.Project { return e.project }

func (e *DefaultEngine) State() *state.ParserState { return e.state }

func (e *DefaultEngine) Coordinator() *Coordinator { return e.coordinator }

func (e *DefaultEngine) Config() *EngineConfig { return e.config }

func (e *DefaultEngine) loaded() error {
	if e.state == nil {
		return fmt.Errorf("workspace not loaded")
	}
	return nil
}

// SaveWorkspace writes every modified module back to its file.
func (e *DefaultEngine) SaveWorkspace() ([]string, error) {
	if err := e.loaded(); err != nil {
		return nil, err
	}
	return e.project.Save(e.config.Backup)
}

// PreviewChanges generates a preview of the changes without applying them
func (e *DefaultEngine) PreviewChanges() (string, error) {
	if err := e.loaded(); err != nil {
		return "", err
	}
	return e.project.Preview()
}

// Declarations returns the declarations of one module, or of all modules
// when module is empty.
func (e *DefaultEngine) Declarations(ctx context.Context, module string) ([]*types.Declaration, error) {
	snap, err := e.refresh(ctx)
	if err != nil {
		return nil, err
	}
	if module == "" {
		return snap.Declarations(), nil
	}
	buf, ok := e.project.Module(module)
	if !ok {
		return nil, &types.RefactorError{Type: types.ModuleNotFound, Message: fmt.Sprintf("module %s not found", module)}
	}
	return snap.ModuleDeclarations(buf.Name()), nil
}

// Candidates lists the variables the refactoring applies to.
func (e *DefaultEngine) Candidates(ctx context.Context) ([]analysis.Candidate, error) {
	snap, err := e.refresh(ctx)
	if err != nil {
		return nil, err
	}
	return snap.Candidates(), nil
}

// refresh reparses when no attempt is holding the current snapshot.
func (e *DefaultEngine) refresh(ctx context.Context) (*analysis.Snapshot, error) {
	if err := e.loaded(); err != nil {
		return nil, err
	}
	if st := e.coordinator.State(); st == Validating || st == LocallyInserted {
		return e.state.Snapshot(), nil
	}
	return e.state.Parse(ctx)
}

// DeclarationAt returns the declaration whose identifier, or one of whose
// references, lies at the given position of module. It returns nil when there
// is none.
func (e *DefaultEngine) DeclarationAt(ctx context.Context, module string, line, column int) (*types.Declaration, error) {
	snap, err := e.refresh(ctx)
	if err != nil {
		return nil, err
	}
	buf, ok := e.project.Module(module)
	if !ok {
		return nil, &types.RefactorError{Type: types.ModuleNotFound, Message: fmt.Sprintf("module %s not found", module)}
	}
	decl, ok := snap.FindDeclaration(types.QualifiedSelection{Module: buf.Name(), Selection: types.Caret(line, column)})
	if !ok {
		return nil, nil
	}
	return decl, nil
}

// MoveCloserToUsage runs both phases of the refactoring and waits for the
// cleanup.
func (e *DefaultEngine) MoveCloserToUsage(ctx context.Context, req MoveCloserRequest) (*Outcome, error) {
	completion, err := e.StartMoveCloserToUsage(ctx, req)
	if err != nil {
		return nil, err
	}
	return completion.Wait(ctx)
}

// StartMoveCloserToUsage returns after the local insertion.
func (e *DefaultEngine) StartMoveCloserToUsage(ctx context.Context, req MoveCloserRequest) (*Completion, error) {
	snap, err := e.refresh(ctx)
	if err != nil {
		return nil, err
	}
	buf, ok := e.project.Module(req.Module)
	if !ok {
		return nil, &types.RefactorError{Type: types.ModuleNotFound, Message: fmt.Sprintf("module %s not found", req.Module)}
	}

	if req.Name == "" {
		sel := types.Caret(req.Line, req.Column)
		buf.SetSelection(sel)
		return e.coordinator.Refactor(ctx, types.QualifiedSelection{Module: buf.Name(), Selection: sel})
	}

	decl := pickByName(snap.ModuleDeclarations(buf.Name()), req.Name)
	if decl == nil {
		err := &types.RefactorError{
			Type:    types.InvalidSelection,
			Message: fmt.Sprintf("Invalid selection. No declaration named '%s' in %s.", req.Name, req.Module),
			Module:  buf.Name().String(),
		}
		notify(e.notifier, err)
		return nil, err
	}
	return e.coordinator.RefactorDeclaration(ctx, decl)
}

// pickByName prefers a module-level variable over a local of the same name.
func pickByName(decls []*types.Declaration, name string) *types.Declaration {
	var found *types.Declaration
	for _, d := range decls {
		if !d.HasName(name) || d.Kind == types.ModuleDeclaration {
			continue
		}
		if d.Kind == types.VariableDeclaration && d.IsModuleLevel() {
			return d
		}
		if found == nil || found.Kind != types.VariableDeclaration && d.Kind == types.VariableDeclaration {
			found = d
		}
	}
	return found
}
