package refactor

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/mamaar/vbarefactor/pkg/types"
)

// Notifier shows precondition failures to the user.
type Notifier interface {
	Notify(err *types.RefactorError)
}

// LogNotifier reports notifications through the logger.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(err *types.RefactorError) {
	n.logger.Warn(err.Message, "type", err.Type.String(), "module", err.Module, "line", err.Line)
}

// CollectingNotifier keeps notifications in memory, e.g. to return them from
// an MCP tool call.
type CollectingNotifier struct {
	mu       sync.Mutex
	messages []*types.RefactorError
}

func (n *CollectingNotifier) Notify(err *types.RefactorError) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, err)
}

// Messages returns the collected notifications.
func (n *CollectingNotifier) Messages() []*types.RefactorError {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*types.RefactorError(nil), n.messages...)
}

// notify forwards err when it is a user-facing precondition failure.
func notify(n Notifier, err error) {
	var re *types.RefactorError
	if n != nil && errors.As(err, &re) && re.UserFacing() {
		n.Notify(re)
	}
}
