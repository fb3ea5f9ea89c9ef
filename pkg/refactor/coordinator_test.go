package refactor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/mamaar/vbarefactor/pkg/state"
	"github.com/mamaar/vbarefactor/pkg/types"
)

// reparserFunc runs a reparse in the background like ParserState does.
type reparserFunc func(ctx context.Context) state.Result

func (f reparserFunc) RequestReparse(ctx context.Context) <-chan state.Result {
	done := make(chan state.Result, 1)
	go func() {
		defer close(done)
		done <- f(ctx)
	}()
	return done
}

// stalledReparser never delivers a result.
type stalledReparser struct{}

func (stalledReparser) RequestReparse(context.Context) <-chan state.Result {
	return make(chan state.Result)
}

func newTestCoordinator(ps *state.ParserState, reparser Reparser, cfg *EngineConfig) (*Coordinator, *CollectingNotifier) {
	notifier := &CollectingNotifier{}
	return NewCoordinator(ps, reparser, cfg, notifier, discardLogger()), notifier
}

func waitCompletion(t *testing.T, c *Completion) (*Outcome, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	select {
	case <-c.Done():
	case <-ctx.Done():
		t.Fatal("Timed out waiting for the attempt to finish")
	}
	return c.Wait(ctx)
}

func selectAt(module string, line, col int) types.QualifiedSelection {
	return types.QualifiedSelection{Module: qmn(module), Selection: types.Caret(line, col)}
}

func setupTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
	)
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
	})
	return exporter
}

func TestCoordinator_MoveWithinModule(t *testing.T) {
	ps := newParsedState(t, map[string]string{"Module1": "Private x As Long\n" +
		"Private Sub Foo()\n" +
		"    x = 1\n" +
		"End Sub"})
	c, notifier := newTestCoordinator(ps, nil, nil)
	completedBefore := testutil.ToFloat64(refactoringAttemptsTotal.WithLabelValues(outcomeCompleted))

	completion, err := c.Refactor(context.Background(), selectAt("Module1", 1, 9))
	if err != nil {
		t.Fatalf("Refactor failed: %v", err)
	}
	outcome, err := waitCompletion(t, completion)
	if err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}

	expected := "Private Sub Foo()\n" +
		"    Dim x As Long\n" +
		"    x = 1\n" +
		"End Sub"
	if got := mustModule(t, ps, "Module1").Text(); got != expected {
		t.Errorf("Unexpected module text:\n%s\nexpected:\n%s", got, expected)
	}
	if outcome.State != Completed || c.State() != Completed {
		t.Errorf("Expected Completed, got outcome %s and coordinator %s", outcome.State, c.State())
	}
	if outcome.AttemptID == "" || outcome.AttemptID != completion.AttemptID {
		t.Errorf("Expected matching attempt ids, got %q and %q", outcome.AttemptID, completion.AttemptID)
	}
	if outcome.Rewrite == nil || outcome.Rewrite.Unqualified != 0 {
		t.Errorf("Expected a rewrite without qualifiers, got %+v", outcome.Rewrite)
	}
	if len(notifier.Messages()) != 0 {
		t.Errorf("Expected no notifications, got %v", notifier.Messages())
	}
	if got := testutil.ToFloat64(refactoringAttemptsTotal.WithLabelValues(outcomeCompleted)); got != completedBefore+1 {
		t.Errorf("Expected completed attempts to grow by 1, got %v -> %v", completedBefore, got)
	}

	// The coordinator reparses after the cleanup; the moved variable is now
	// local to Foo.
	local := mustDeclaration(t, ps, "x", "Module1")
	if local.ParentScope != "P.Module1.Foo" {
		t.Errorf("Expected x to be local to Foo, got scope %s", local.ParentScope)
	}
}

func TestCoordinator_LeavesValidSource(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		cursor   types.QualifiedSelection
		expected string
	}{
		{
			name:   "combined statements",
			text:   "Private Sub Foo(): Dim x As Long: x = 1: End Sub",
			cursor: selectAt("Module1", 1, 24),
			expected: "Private Sub Foo()\n" +
				"    Dim x As Long\n" +
				"    x = 1\n" +
				"End Sub",
		},
		{
			name: "date literal",
			text: "Private x As Long\n" +
				"Private Sub Foo(): t = #12:30:00 PM#: x = 1: End Sub",
			cursor: selectAt("Module1", 1, 9),
			expected: "Private Sub Foo()\n" +
				"    t = #12:30:00 PM#\n" +
				"    Dim x As Long\n" +
				"    x = 1\n" +
				"End Sub",
		},
		{
			name: "type character",
			text: "Private s$\n" +
				"Sub Foo()\n" +
				"    s = \"a\"\n" +
				"End Sub",
			cursor: selectAt("Module1", 1, 9),
			expected: "Sub Foo()\n" +
				"    Dim s$\n" +
				"    s = \"a\"\n" +
				"End Sub",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ps := newParsedState(t, map[string]string{"Module1": tt.text})
			c, _ := newTestCoordinator(ps, nil, nil)

			completion, err := c.Refactor(context.Background(), tt.cursor)
			if err != nil {
				t.Fatalf("Refactor failed: %v", err)
			}
			if _, err := waitCompletion(t, completion); err != nil {
				t.Fatalf("Cleanup failed: %v", err)
			}
			if got := mustModule(t, ps, "Module1").Text(); got != tt.expected {
				t.Errorf("Unexpected module text:\n%s\nexpected:\n%s", got, tt.expected)
			}
			assertParses(t, ps)
		})
	}
}

func TestCoordinator_MoveAcrossModules(t *testing.T) {
	ps := newParsedState(t, map[string]string{
		"Module1": "Public x As Long",
		"Module2": "Private Sub Foo()\n" +
			"    Module1.x = Module1. _\n" +
			"        x + 1\n" +
			"    y = 2\n" +
			"End Sub",
	})
	c, _ := newTestCoordinator(ps, nil, nil)
	removedBefore := testutil.ToFloat64(qualifiersRemovedTotal)

	completion, err := c.Refactor(context.Background(), selectAt("Module1", 1, 8))
	if err != nil {
		t.Fatalf("Refactor failed: %v", err)
	}

	outcome, err := waitCompletion(t, completion)
	if err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if outcome.Relocation.Module != qmn("Module2") || outcome.Relocation.Insertion != types.Caret(2, 1) {
		t.Errorf("Unexpected relocation %+v", outcome.Relocation)
	}

	if got := mustModule(t, ps, "Module1").Text(); got != "" {
		t.Errorf("Expected Module1 to be empty, got %q", got)
	}
	expected := "Private Sub Foo()\n" +
		"    Dim x As Long\n" +
		"    x = x + 1\n" +
		"    y = 2\n" +
		"End Sub"
	if got := mustModule(t, ps, "Module2").Text(); got != expected {
		t.Errorf("Unexpected Module2 text:\n%s\nexpected:\n%s", got, expected)
	}
	if outcome.Rewrite.Unqualified != 2 {
		t.Errorf("Expected 2 unqualified references, got %d", outcome.Rewrite.Unqualified)
	}
	if got := testutil.ToFloat64(qualifiersRemovedTotal); got != removedBefore+2 {
		t.Errorf("Expected qualifiers removed to grow by 2, got %v -> %v", removedBefore, got)
	}
}

func TestCoordinator_Preconditions(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		selection types.QualifiedSelection
		expected  error
		reason    string
	}{
		{
			name: "used in two procedures",
			text: "Private x As Long\n" +
				"Sub A()\n" +
				"    x = 1\n" +
				"End Sub\n" +
				"Sub B()\n" +
				"    x = 2\n" +
				"End Sub",
			selection: selectAt("Module1", 1, 9),
			expected:  types.ErrMultipleEnclosingScopes,
			reason:    "MultipleEnclosingScopes",
		},
		{
			name: "never used",
			text: "Private x As Long\n" +
				"Sub A()\n" +
				"End Sub",
			selection: selectAt("Module1", 1, 9),
			expected:  types.ErrNoReferences,
			reason:    "NoReferences",
		},
		{
			name: "procedure",
			text: "Private x As Long\n" +
				"Sub A()\n" +
				"    x = 1\n" +
				"End Sub",
			selection: selectAt("Module1", 2, 5),
			expected:  types.ErrNotRelocatable,
			reason:    "NotRelocatable",
		},
		{
			name: "nothing selected",
			text: "Private x As Long\n" +
				"\n" +
				"Sub A()\n" +
				"    x = 1\n" +
				"End Sub",
			selection: selectAt("Module1", 2, 1),
			expected:  types.ErrInvalidSelection,
			reason:    "InvalidSelection",
		},
		{
			name:      "invalid selection",
			text:      "Private x As Long",
			selection: types.QualifiedSelection{Module: qmn("Module1")},
			expected:  types.ErrInvalidSelection,
			reason:    "InvalidSelection",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ps := newParsedState(t, map[string]string{"Module1": tt.text})
			c, notifier := newTestCoordinator(ps, nil, nil)
			failuresBefore := testutil.ToFloat64(preconditionFailuresTotal.WithLabelValues(tt.reason))

			completion, err := c.Refactor(context.Background(), tt.selection)
			if !errors.Is(err, tt.expected) {
				t.Fatalf("Expected %v, got %v", tt.expected, err)
			}
			if completion != nil {
				t.Error("Expected no completion for a refused attempt")
			}
			if got := mustModule(t, ps, "Module1").Text(); got != tt.text {
				t.Errorf("Expected module to be unchanged, got:\n%s", got)
			}
			if c.State() != Aborted {
				t.Errorf("Expected Aborted, got %s", c.State())
			}
			if msgs := notifier.Messages(); len(msgs) != 1 || !errors.Is(msgs[0], tt.expected) {
				t.Errorf("Expected one %v notification, got %v", tt.expected, msgs)
			}
			if got := testutil.ToFloat64(preconditionFailuresTotal.WithLabelValues(tt.reason)); got != failuresBefore+1 {
				t.Errorf("Expected %s failures to grow by 1, got %v -> %v", tt.reason, failuresBefore, got)
			}
		})
	}
}

func TestCoordinator_MessagesNameTheVariable(t *testing.T) {
	ps := newParsedState(t, map[string]string{"Module1": "Private counter As Long\nSub A()\nEnd Sub"})
	c, notifier := newTestCoordinator(ps, nil, nil)

	if _, err := c.Refactor(context.Background(), selectAt("Module1", 1, 10)); err == nil {
		t.Fatal("Expected an error")
	}
	msgs := notifier.Messages()
	if len(msgs) != 1 || msgs[0].Message != "'counter' has no references." {
		t.Errorf("Unexpected notifications %v", msgs)
	}
}

func TestCoordinator_ReparseTimeout(t *testing.T) {
	text := "Private x As Long\n" +
		"Sub Foo()\n" +
		"    x = 1\n" +
		"End Sub"
	ps := newParsedState(t, map[string]string{"Module1": text})
	cfg := DefaultConfig()
	cfg.ReparseTimeout = 20 * time.Millisecond
	c, _ := newTestCoordinator(ps, stalledReparser{}, cfg)
	timeoutsBefore := testutil.ToFloat64(refactoringAttemptsTotal.WithLabelValues(outcomeTimeout))

	completion, err := c.Refactor(context.Background(), selectAt("Module1", 1, 9))
	if err != nil {
		t.Fatalf("Refactor failed: %v", err)
	}
	outcome, err := waitCompletion(t, completion)
	if !errors.Is(err, types.ErrReparseTimeout) {
		t.Fatalf("Expected ReparseTimeout, got %v", err)
	}
	if outcome == nil || outcome.State != Aborted || c.State() != Aborted {
		t.Errorf("Expected Aborted, got outcome %+v and coordinator %s", outcome, c.State())
	}

	// The local insertion stays; the old declaration is not removed.
	expected := "Private x As Long\n" +
		"Sub Foo()\n" +
		"    Dim x As Long\n" +
		"    x = 1\n" +
		"End Sub"
	if got := mustModule(t, ps, "Module1").Text(); got != expected {
		t.Errorf("Unexpected module text:\n%s", got)
	}
	if got := testutil.ToFloat64(refactoringAttemptsTotal.WithLabelValues(outcomeTimeout)); got != timeoutsBefore+1 {
		t.Errorf("Expected timeouts to grow by 1, got %v -> %v", timeoutsBefore, got)
	}
}

func TestCoordinator_RejectsConcurrentAttempt(t *testing.T) {
	ps := newParsedState(t, map[string]string{"Module1": "Private x As Long\n" +
		"Private y As Long\n" +
		"Sub Foo()\n" +
		"    x = 1\n" +
		"    y = 2\n" +
		"End Sub"})
	buf := mustModule(t, ps, "Module1")
	buf.SetSelection(types.Caret(4, 5))
	c, _ := newTestCoordinator(ps, stalledReparser{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	completion, err := c.Refactor(ctx, selectAt("Module1", 1, 9))
	if err != nil {
		t.Fatalf("Refactor failed: %v", err)
	}
	if c.State() != LocallyInserted {
		t.Errorf("Expected LocallyInserted, got %s", c.State())
	}
	if got := buf.Selection(); got != types.Caret(5, 5) {
		t.Errorf("Expected the cursor to follow its line to 5:5, got %v", got)
	}

	_, err = c.Refactor(context.Background(), selectAt("Module1", 2, 9))
	if !errors.Is(err, types.ErrRefactorInProgress) {
		t.Errorf("Expected RefactorInProgress, got %v", err)
	}

	cancel()
	outcome, err := waitCompletion(t, completion)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected the attempt to end with context.Canceled, got %v", err)
	}
	if outcome.State != Aborted {
		t.Errorf("Expected Aborted, got %s", outcome.State)
	}
}

func TestCoordinator_LocksModulesWhileValidating(t *testing.T) {
	ps := newParsedState(t, map[string]string{
		"Module1": "Private x As Long\n" +
			"Sub Foo()\n" +
			"    x = 1\n" +
			"End Sub",
		"Module2": "Sub Bar()\nEnd Sub",
	})
	c, _ := newTestCoordinator(ps, stalledReparser{}, nil)

	// A reload of any module holds its lock; the attempt must wait for it.
	reload := ps.Locks().Acquire(qmn("Module2"))
	started := make(chan *Completion, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		completion, err := c.Refactor(ctx, selectAt("Module1", 1, 9))
		if err != nil {
			t.Errorf("Refactor failed: %v", err)
		}
		started <- completion
	}()

	select {
	case <-started:
		t.Fatal("Expected the attempt to wait for the reload")
	case <-time.After(50 * time.Millisecond):
	}
	reload()

	var completion *Completion
	select {
	case completion = <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("Expected the attempt to start once the reload finished")
	}

	// Only the edited module stays locked while the reparse is pending.
	free := make(chan struct{})
	go func() {
		ps.Locks().Acquire(qmn("Module2"))()
		close(free)
	}()
	select {
	case <-free:
	case <-time.After(5 * time.Second):
		t.Fatal("Expected Module2 to be unlocked after the insertion")
	}

	cancel()
	if _, err := waitCompletion(t, completion); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestCoordinator_RefactorNilDeclaration(t *testing.T) {
	ps := newParsedState(t, map[string]string{"Module1": "Private x As Long"})
	c, notifier := newTestCoordinator(ps, nil, nil)

	_, err := c.RefactorDeclaration(context.Background(), nil)
	if !errors.Is(err, types.ErrInvalidSelection) {
		t.Fatalf("Expected InvalidSelection, got %v", err)
	}
	if c.State() != Aborted {
		t.Errorf("Expected Aborted, got %s", c.State())
	}
	if len(notifier.Messages()) != 1 {
		t.Errorf("Expected one notification, got %v", notifier.Messages())
	}
}

func TestCoordinator_StructuralMatchNotFound(t *testing.T) {
	ps := newParsedState(t, map[string]string{"Module1": "Private x As Long\n" +
		"Sub Foo()\n" +
		"    x = 1\n" +
		"End Sub"})
	buf := mustModule(t, ps, "Module1")
	// Something else edits the module before the reparse runs.
	reparser := reparserFunc(func(ctx context.Context) state.Result {
		if err := buf.InsertLines(1, "Option Explicit"); err != nil {
			return state.Result{Err: err}
		}
		snap, err := ps.Parse(ctx)
		return state.Result{Snapshot: snap, Err: err}
	})
	c, _ := newTestCoordinator(ps, reparser, nil)

	completion, err := c.Refactor(context.Background(), selectAt("Module1", 1, 9))
	if err != nil {
		t.Fatalf("Refactor failed: %v", err)
	}
	outcome, err := waitCompletion(t, completion)
	if !errors.Is(err, types.ErrStructuralMatchNotFound) {
		t.Fatalf("Expected StructuralMatchNotFound, got %v", err)
	}
	if outcome.State != Completed {
		t.Errorf("Expected Completed, got %s", outcome.State)
	}
	if outcome.Rewrite != nil {
		t.Errorf("Expected no rewrite, got %+v", outcome.Rewrite)
	}
	expected := "Option Explicit\n" +
		"Private x As Long\n" +
		"Sub Foo()\n" +
		"    Dim x As Long\n" +
		"    x = 1\n" +
		"End Sub"
	if got := buf.Text(); got != expected {
		t.Errorf("Unexpected module text:\n%s", got)
	}
}

func TestCoordinator_ReparseFailure(t *testing.T) {
	ps := newParsedState(t, map[string]string{"Module1": "Private x As Long\n" +
		"Sub Foo()\n" +
		"    x = 1\n" +
		"End Sub"})
	reparser := reparserFunc(func(context.Context) state.Result {
		return state.Result{Err: errors.New("parser crashed")}
	})
	c, _ := newTestCoordinator(ps, reparser, nil)

	completion, err := c.Refactor(context.Background(), selectAt("Module1", 1, 9))
	if err != nil {
		t.Fatalf("Refactor failed: %v", err)
	}
	outcome, err := waitCompletion(t, completion)
	if err == nil {
		t.Fatal("Expected the reparse error")
	}
	if outcome.State != Aborted {
		t.Errorf("Expected Aborted, got %s", outcome.State)
	}

	// A new attempt may start once the previous one finished.
	next, err := c.Refactor(context.Background(), selectAt("Module1", 1, 9))
	if err != nil {
		t.Fatalf("Expected the coordinator to accept a new attempt, got %v", err)
	}
	if _, err := waitCompletion(t, next); err == nil {
		t.Error("Expected the second attempt to fail on the reparse too")
	}
}

func TestCoordinator_Spans(t *testing.T) {
	exporter := setupTestTracer(t)
	ps := newParsedState(t, map[string]string{"Module1": "Private x As Long\n" +
		"Sub Foo()\n" +
		"    x = 1\n" +
		"End Sub"})
	c, _ := newTestCoordinator(ps, nil, nil)

	completion, err := c.Refactor(context.Background(), selectAt("Module1", 1, 9))
	if err != nil {
		t.Fatalf("Refactor failed: %v", err)
	}
	if _, err := waitCompletion(t, completion); err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}

	names := make(map[string]bool)
	for _, span := range exporter.GetSpans() {
		names[span.Name] = true
	}
	for _, want := range []string{"refactor.Coordinator.Insert", "refactor.Coordinator.Cleanup"} {
		if !names[want] {
			t.Errorf("Expected span %s, got %v", want, names)
		}
	}
}
