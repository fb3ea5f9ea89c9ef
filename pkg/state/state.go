// Package state owns the parse results of a project: the current snapshot,
// asynchronous reparse requests and staged rewrites against the snapshot.
package state

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/mamaar/vbarefactor/pkg/analysis"
	"github.com/mamaar/vbarefactor/pkg/codemodule"
	"github.com/mamaar/vbarefactor/pkg/types"
)

// Result is delivered once per reparse request.
type Result struct {
	Snapshot *analysis.Snapshot
	Err      error
}

// ParserState keeps the latest snapshot of a project. Parses are serialized;
// a reparse always reads the buffers as they are when it starts.
type ParserState struct {
	project *codemodule.Project
	parser  *analysis.Parser
	logger  *slog.Logger
	locks   *ModuleLocks

	parseMu  sync.Mutex
	mu       sync.RWMutex
	snapshot *analysis.Snapshot
	parses   int
}

func New(project *codemodule.Project, parser *analysis.Parser, logger *slog.Logger) *ParserState {
	if logger == nil {
		logger = slog.Default()
	}
	if parser == nil {
		parser = analysis.NewParser(logger)
	}
	return &ParserState{
		project: project,
		parser:  parser,
		logger:  logger,
		locks:   NewModuleLocks(),
	}
}

// Project returns the buffers the state is derived from.
func (s *ParserState) Project() *codemodule.Project {
	return s.project
}

// Locks returns the per-module write locks shared by every writer of the
// project's buffers.
func (s *ParserState) Locks() *ModuleLocks {
	return s.locks
}

// Snapshot returns the latest successful parse, or nil before the first one.
func (s *ParserState) Snapshot() *analysis.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}

// Parses returns how many parses have completed successfully.
func (s *ParserState) Parses() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.parses
}

// Parse reparses the whole project and publishes the result.
func (s *ParserState) Parse(ctx context.Context) (*analysis.Snapshot, error) {
	s.parseMu.Lock()
	defer s.parseMu.Unlock()

	start := time.Now()
	snap, err := s.parser.Parse(ctx, s.project.ID, analysis.SourcesFromProject(s.project))
	if err != nil {
		s.logger.Warn("reparse failed", "project", s.project.ID, "err", err)
		return nil, err
	}

	s.mu.Lock()
	s.snapshot = snap
	s.parses++
	s.mu.Unlock()

	s.logger.Debug("reparse complete",
		"project", s.project.ID,
		"declarations", len(snap.Declarations()),
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return snap, nil
}

// RequestReparse starts a parse in the background. The returned channel
// receives exactly one Result and is then closed.
func (s *ParserState) RequestReparse(ctx context.Context) <-chan Result {
	done := make(chan Result, 1)
	go func() {
		defer close(done)
		snap, err := s.Parse(ctx)
		done <- Result{Snapshot: snap, Err: err}
	}()
	return done
}

// Rewriter stages edits against the current snapshot.
func (s *ParserState) Rewriter() *Rewriter {
	return NewRewriter(s.project, s.Snapshot(), s.logger)
}

// ModuleLocks hands out one write lock per module.
type ModuleLocks struct {
	mu    sync.Mutex
	locks map[types.QualifiedModuleName]*sync.Mutex
}

func NewModuleLocks() *ModuleLocks {
	return &ModuleLocks{locks: make(map[types.QualifiedModuleName]*sync.Mutex)}
}

func (l *ModuleLocks) get(m types.QualifiedModuleName) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	mu, ok := l.locks[m]
	if !ok {
		mu = &sync.Mutex{}
		l.locks[m] = mu
	}
	return mu
}

// Acquire locks every named module and returns the function releasing them.
// Modules are locked in name order so concurrent callers cannot deadlock.
func (l *ModuleLocks) Acquire(modules ...types.QualifiedModuleName) (release func()) {
	return l.Hold(modules...).Release
}

// Lease is a set of module locks held together.
type Lease struct {
	mu   sync.Mutex
	held map[types.QualifiedModuleName]*sync.Mutex
}

// Hold locks every named module in name order.
func (l *ModuleLocks) Hold(modules ...types.QualifiedModuleName) *Lease {
	lease := &Lease{held: make(map[types.QualifiedModuleName]*sync.Mutex)}
	for _, m := range dedupe(modules) {
		mu := l.get(m)
		mu.Lock()
		lease.held[m] = mu
	}
	return lease
}

// Narrow releases every held module not in keep.
func (s *Lease) Narrow(keep ...types.QualifiedModuleName) {
	wanted := make(map[types.QualifiedModuleName]bool, len(keep))
	for _, m := range keep {
		wanted[m] = true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for m, mu := range s.held {
		if !wanted[m] {
			mu.Unlock()
			delete(s.held, m)
		}
	}
}

// Holds reports whether the lease still holds m.
func (s *Lease) Holds(m types.QualifiedModuleName) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.held[m]
	return ok
}

// Release unlocks everything still held. Calling it again is a no-op.
func (s *Lease) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for m, mu := range s.held {
		mu.Unlock()
		delete(s.held, m)
	}
}

func dedupe(modules []types.QualifiedModuleName) []types.QualifiedModuleName {
	seen := make(map[types.QualifiedModuleName]bool, len(modules))
	out := make([]types.QualifiedModuleName, 0, len(modules))
	for _, m := range modules {
		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
