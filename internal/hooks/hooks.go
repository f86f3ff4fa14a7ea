package hooks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentgate/internal/logging"
)

// HookType names a host hook.
type HookType string

const (
	// HookDispatch runs before a worker is spawned.
	HookDispatch HookType = "dispatch"

	// HookComplete runs after a worker exits.
	HookComplete HookType = "complete"

	// HookPrompt runs on each human prompt.
	HookPrompt HookType = "prompt"

	// HookEdit runs after each file mutation.
	HookEdit HookType = "edit"
)

// HookHandler handles one hook invocation.
type HookHandler func(ctx context.Context, in *Input) (*Output, error)

// HookManager routes hook invocations to handlers.
type HookManager struct {
	handlers map[HookType]HookHandler
	logger   *logging.Logger
}

// NewHookManager creates a manager with no handlers.
func NewHookManager(logger *logging.Logger) *HookManager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &HookManager{
		handlers: make(map[HookType]HookHandler),
		logger:   logger,
	}
}

// RegisterHandler sets the handler for a hook type, replacing any previous.
func (h *HookManager) RegisterHandler(hookType HookType, handler HookHandler) {
	h.handlers[hookType] = handler
}

// Execute runs the handler for hookType. A missing handler yields an empty
// output. Handler errors and panics never escape: they become an advisory
// on an allow decision.
func (h *HookManager) Execute(ctx context.Context, hookType HookType, in *Input) (out *Output) {
	handler, ok := h.handlers[hookType]
	if !ok {
		return &Output{}
	}

	defer func() {
		if r := recover(); r != nil {
			h.logger.Error(ctx, "hook handler panicked", zap.String("hook", string(hookType)), zap.Any("panic", r))
			out = Degraded(hookType, fmt.Errorf("internal error: %v", r))
		}
	}()

	out, err := handler(ctx, in)
	if err != nil {
		h.logger.Error(ctx, "hook handler failed", zap.String("hook", string(hookType)), zap.Error(err))
		return Degraded(hookType, err)
	}
	if out == nil {
		out = &Output{}
	}
	return out
}

// Degraded is the output for a hook that could not run: an allow with the
// error as advisory for dispatch, a bare advisory otherwise.
func Degraded(hookType HookType, err error) *Output {
	msg := fmt.Sprintf("agentgate %s hook failed: %v", hookType, err)
	if hookType == HookDispatch {
		return allowOutput(msg + "; dispatch allowed")
	}
	return advisoryOutput(hookType, msg)
}
