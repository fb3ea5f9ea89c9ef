package refactor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mamaar/vbarefactor/pkg/analysis"
	"github.com/mamaar/vbarefactor/pkg/codemodule"
	"github.com/mamaar/vbarefactor/pkg/state"
	"github.com/mamaar/vbarefactor/pkg/types"
)

// State is the position of the coordinator in a refactoring attempt.
type State int

const (
	Idle State = iota
	Validating
	LocallyInserted
	Completed
	Aborted
)

// String returns the string representation of a State
func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Validating:
		return "Validating"
	case LocallyInserted:
		return "LocallyInserted"
	case Completed:
		return "Completed"
	case Aborted:
		return "Aborted"
	default:
		return "Unknown"
	}
}

// Reparser requests a background reparse whose result arrives exactly once
// on the returned channel.
type Reparser interface {
	RequestReparse(ctx context.Context) <-chan state.Result
}

// Outcome is the final result of an attempt.
type Outcome struct {
	AttemptID   string
	Declaration string
	State       State
	Relocation  *Relocation
	Rewrite     *Rewrite
}

// Completion resolves once the cleanup after the reparse has run, or the
// attempt was aborted while waiting for it.
type Completion struct {
	AttemptID string

	done    chan struct{}
	outcome *Outcome
	err     error
}

func newCompletion(id string) *Completion {
	return &Completion{AttemptID: id, done: make(chan struct{})}
}

// Done is closed when the attempt has finished.
func (c *Completion) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the attempt finishes or ctx is done. The outcome is
// returned alongside an error when the local insertion stayed in place but
// the cleanup did not run.
func (c *Completion) Wait(ctx context.Context) (*Outcome, error) {
	select {
	case <-c.done:
		return c.outcome, c.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Completion) resolve(outcome *Outcome, err error) {
	c.outcome, c.err = outcome, err
	close(c.done)
}

// Coordinator sequences a Move Closer To Usage attempt: synchronous local
// insertion, a reparse request, and the cleanup once the reparse arrives.
// Only one attempt may be outstanding; the modules it touches stay locked
// until it finishes.
//
// Cancelling the context after the insertion aborts the attempt but does not
// undo the insertion. The buffer stays valid either way.
type Coordinator struct {
	parser    *state.ParserState
	reparser  Reparser
	relocator *Relocator
	rewriter  *ReferenceRewriter
	notifier  Notifier
	timeout   time.Duration
	logger    *slog.Logger

	mu      sync.Mutex
	current State
	attempt string
}

// NewCoordinator wires a coordinator to a parser state. reparser defaults to
// the parser state itself.
func NewCoordinator(ps *state.ParserState, reparser Reparser, cfg *EngineConfig, notifier Notifier, logger *slog.Logger) *Coordinator {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if reparser == nil {
		reparser = ps
	}
	if notifier == nil {
		notifier = NewLogNotifier(logger)
	}
	return &Coordinator{
		parser:    ps,
		reparser:  reparser,
		relocator: NewRelocator(cfg.Indent, logger),
		rewriter:  NewReferenceRewriter(logger),
		notifier:  notifier,
		timeout:   cfg.ReparseTimeout,
		logger:    logger,
	}
}

// State returns the state of the current or last attempt.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	c.current = s
	c.mu.Unlock()
}

// begin starts a new attempt unless one is still running.
func (c *Coordinator) begin() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == Validating || c.current == LocallyInserted {
		refactoringAttemptsTotal.WithLabelValues(outcomeRejected).Inc()
		return "", &types.RefactorError{
			Type:    types.RefactorInProgress,
			Message: fmt.Sprintf("attempt %s has not finished yet", c.attempt),
		}
	}
	c.current = Validating
	c.attempt = uuid.NewString()
	return c.attempt, nil
}

// Refactor moves the variable under the selection. It returns once the
// declaration was inserted at its new place.
func (c *Coordinator) Refactor(ctx context.Context, qs types.QualifiedSelection) (*Completion, error) {
	return c.run(ctx, func(snap *analysis.Snapshot) (*types.Declaration, error) {
		invalid := &types.RefactorError{
			Type:    types.InvalidSelection,
			Message: "Invalid selection.",
			Module:  qs.Module.String(),
			Line:    qs.Selection.StartLine,
			Column:  qs.Selection.StartColumn,
		}
		if !qs.Selection.IsValid() {
			return nil, invalid
		}
		decl, ok := snap.FindDeclaration(qs)
		if !ok {
			return nil, invalid
		}
		return decl, nil
	})
}

// RefactorDeclaration moves decl, which must come from the current snapshot.
func (c *Coordinator) RefactorDeclaration(ctx context.Context, decl *types.Declaration) (*Completion, error) {
	return c.run(ctx, func(*analysis.Snapshot) (*types.Declaration, error) {
		if decl == nil {
			return nil, &types.RefactorError{Type: types.InvalidSelection, Message: "Invalid selection."}
		}
		return decl, nil
	})
}

func (c *Coordinator) run(ctx context.Context, target func(*analysis.Snapshot) (*types.Declaration, error)) (*Completion, error) {
	id, err := c.begin()
	if err != nil {
		return nil, err
	}
	start := time.Now()
	ctx, span := otel.Tracer(tracerName).Start(ctx, "refactor.Coordinator.Insert",
		trace.WithAttributes(attribute.String("attempt_id", id)),
	)
	defer span.End()

	// Validation and insertion see one state of the buffers: nothing reloads
	// a module until the lease is narrowed to the modules being edited.
	lease := c.parser.Locks().Hold(projectModules(c.parser.Project())...)
	inserted := false
	defer func() {
		if !inserted {
			lease.Release()
		}
	}()

	snap := c.parser.Snapshot()
	if snap == nil {
		return nil, c.abort(span, &types.RefactorError{Type: types.ParseError, Message: "project has not been parsed"})
	}
	decl, err := target(snap)
	if err != nil {
		return nil, c.abort(span, err)
	}
	span.SetAttributes(attribute.String("declaration", decl.QualifiedName()))
	logger := c.logger.With("attempt", id, "declaration", decl.QualifiedName())

	if err := CheckRelocatable(decl); err != nil {
		return nil, c.abort(span, err)
	}
	ref := FirstReference(decl.References)
	buf, err := c.parser.Project().ModuleByQualifiedName(ref.Module)
	if err != nil {
		return nil, c.abort(span, err)
	}

	cursor := buf.Selection()
	reloc, err := c.relocator.Relocate(buf, decl)
	if err != nil {
		return nil, c.abort(span, err)
	}
	lease.Narrow(lockSet(decl)...)
	inserted = true
	buf.SetSelection(reloc.TranslateCursor(cursor))
	recordPhase("insert", start)
	c.setState(LocallyInserted)
	logger.Info("declaration inserted",
		"module", reloc.Module.String(),
		"line", reloc.Insertion.StartLine,
		"delta", reloc.Delta,
	)

	key := decl.Key()
	key.Selection = reloc.Declaration

	completion := newCompletion(id)
	outcome := &Outcome{AttemptID: id, Declaration: decl.QualifiedName(), Relocation: reloc}
	phaseCtx, cancel := context.WithTimeout(ctx, c.timeout)
	reparse := c.reparser.RequestReparse(phaseCtx)

	go func() {
		st, label, err := c.cleanup(phaseCtx, reparse, key, outcome, logger)
		lease.Release()
		cancel()
		outcome.State = st
		c.setState(st)
		refactoringAttemptsTotal.WithLabelValues(label).Inc()
		completion.resolve(outcome, err)
	}()
	return completion, nil
}

func (c *Coordinator) abort(span trace.Span, err error) error {
	c.setState(Aborted)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	var re *types.RefactorError
	if errors.As(err, &re) && re.UserFacing() {
		notify(c.notifier, err)
		recordPrecondition(err)
		c.logger.Info("refactoring refused", "reason", re.Type.String(), "message", re.Message)
		return err
	}
	refactoringAttemptsTotal.WithLabelValues(outcomeAborted).Inc()
	c.logger.Warn("refactoring aborted", "err", err)
	return err
}

// cleanup waits for the reparse and rewrites the references against it.
func (c *Coordinator) cleanup(ctx context.Context, reparse <-chan state.Result, key types.StructuralKey, outcome *Outcome, logger *slog.Logger) (State, string, error) {
	start := time.Now()
	ctx, span := otel.Tracer(tracerName).Start(ctx, "refactor.Coordinator.Cleanup",
		trace.WithAttributes(attribute.String("attempt_id", outcome.AttemptID)),
	)
	defer span.End()
	defer recordPhase("cleanup", start)

	fail := func(st State, label string, err error) (State, string, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Warn("cleanup did not run", "state", st.String(), "err", err)
		return st, label, err
	}

	var res state.Result
	select {
	case r, ok := <-reparse:
		if !ok {
			r.Err = errors.New("reparse finished without a result")
		}
		res = r
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fail(Aborted, outcomeTimeout, &types.RefactorError{
				Type:    types.ReparseTimeout,
				Message: fmt.Sprintf("no reparse within %s; the inserted declaration stays in place", c.timeout),
				Cause:   ctx.Err(),
			})
		}
		return fail(Aborted, outcomeAborted, fmt.Errorf("attempt cancelled after local insertion: %w", ctx.Err()))
	}
	if res.Err != nil {
		return fail(Aborted, outcomeAborted, fmt.Errorf("reparse: %w", res.Err))
	}

	project := c.parser.Project()
	cursors := captureSelections(project)
	rewrite, err := c.rewriter.Rewrite(res.Snapshot, state.NewRewriter(project, res.Snapshot, c.logger), key)
	restoreSelections(cursors)

	switch {
	case errors.Is(err, types.ErrStructuralMatchNotFound):
		return fail(Completed, outcomeUnmatched, err)
	case err != nil:
		return fail(Aborted, outcomeAborted, err)
	}

	outcome.Rewrite = rewrite
	qualifiersRemovedTotal.Add(float64(rewrite.Unqualified))
	if _, err := c.parser.Parse(ctx); err != nil {
		logger.Warn("reparse after cleanup failed", "err", err)
	}
	logger.Info("refactoring completed",
		"unqualified", rewrite.Unqualified,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return Completed, outcomeCompleted, nil
}

// lockSet lists the modules an attempt on decl may edit.
func lockSet(decl *types.Declaration) []types.QualifiedModuleName {
	modules := []types.QualifiedModuleName{decl.Module}
	for _, ref := range decl.References {
		modules = append(modules, ref.Module)
	}
	return modules
}

func projectModules(project *codemodule.Project) []types.QualifiedModuleName {
	modules := project.Modules()
	names := make([]types.QualifiedModuleName, len(modules))
	for i, b := range modules {
		names[i] = b.Name()
	}
	return names
}

func captureSelections(project *codemodule.Project) map[*codemodule.Buffer]types.Selection {
	out := make(map[*codemodule.Buffer]types.Selection)
	for _, b := range project.Modules() {
		out[b] = b.Selection()
	}
	return out
}

// restoreSelections puts each cursor back, clamped to the module's new
// length.
func restoreSelections(cursors map[*codemodule.Buffer]types.Selection) {
	for b, sel := range cursors {
		if n := b.CountOfLines(); sel.EndLine > n {
			sel = types.Caret(max(n, 1), 1)
		}
		b.SetSelection(sel)
	}
}
