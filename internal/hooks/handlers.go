package hooks

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentgate/internal/approval"
	"github.com/fyrsmithlabs/agentgate/internal/checkpoint"
	"github.com/fyrsmithlabs/agentgate/internal/gate"
	"github.com/fyrsmithlabs/agentgate/internal/notify"
	"github.com/fyrsmithlabs/agentgate/internal/services"
	"github.com/fyrsmithlabs/agentgate/internal/trace"
)

// Handlers binds the hook handlers to one project's services.
type Handlers struct {
	svc services.Registry
}

// NewHandlers creates handlers over svc.
func NewHandlers(svc services.Registry) *Handlers {
	return &Handlers{svc: svc}
}

// Register installs every handler on m.
func (h *Handlers) Register(m *HookManager) {
	m.RegisterHandler(HookDispatch, h.Dispatch)
	m.RegisterHandler(HookComplete, h.Complete)
	m.RegisterHandler(HookPrompt, h.Prompt)
	m.RegisterHandler(HookEdit, h.Edit)
}

// Dispatch admits or denies a worker spawn.
func (h *Handlers) Dispatch(ctx context.Context, in *Input) (*Output, error) {
	cfg := h.svc.Config()
	if in.ToolName != "" && !slices.Contains(cfg.Dispatch.Tools, in.ToolName) {
		return &Output{}, nil
	}

	res, err := h.svc.Gates().Evaluate(ctx, gate.Request{
		WorkerType: in.ResolveWorkerType(),
		SessionID:  in.SessionID,
		Cwd:        in.Cwd,
	})
	if err != nil {
		return nil, err
	}
	if !res.Decision.Allowed {
		return denyOutput(res.Decision.Err().Error()), nil
	}

	var notes []string
	if res.Trace != nil {
		notes = append(notes, fmt.Sprintf("agentgate trace %s started for %s", res.Trace.ID, res.Trace.WorkerType))
		if res.Trace.Workspace != "" && res.Trace.Workspace != in.Cwd {
			notes = append(notes, "work in "+res.Trace.Workspace)
		}
	}
	if res.Decision.Advisory != "" {
		notes = append(notes, res.Decision.Advisory)
	}
	return allowOutput(strings.Join(notes, "\n")), nil
}

// Prompt classifies a human prompt and records sign-off.
func (h *Handlers) Prompt(ctx context.Context, in *Input) (*Output, error) {
	grant, ok := h.svc.Classifier().Classify(approval.HumanPrompt{
		SessionID:  in.SessionID,
		Text:       in.Prompt,
		ReceivedAt: h.svc.Clock().Now(),
	})
	if !ok {
		return &Output{}, nil
	}

	tr, err := h.svc.Proof().Verify(ctx, grant)
	if err != nil {
		return nil, err
	}
	if !tr.Changed {
		return &Output{}, nil
	}

	msg := fmt.Sprintf("proof-of-work marked %s after human sign-off (%q)", tr.To, grant.Phrase())
	h.svc.Logger().Info(ctx, "proof-of-work verified",
		zap.String("from", string(tr.From)),
		zap.String("phrase", grant.Phrase()))
	h.notify(ctx, notify.Event{Kind: notify.KindVerified, Message: msg})
	return advisoryOutput(HookPrompt, msg), nil
}

// Edit records a file mutation with the checkpoint snapshotter.
func (h *Handlers) Edit(ctx context.Context, in *Input) (*Output, error) {
	cfg := h.svc.Config()
	if cfg.Checkpoint.Disabled {
		return &Output{}, nil
	}
	if in.ToolName != "" && !slices.Contains(cfg.Hooks.MutationTools, in.ToolName) {
		return &Output{}, nil
	}
	file := in.MutatedFile()
	if file == "" {
		return &Output{}, nil
	}
	if !filepath.IsAbs(file) && in.Cwd != "" {
		file = filepath.Join(in.Cwd, file)
	}

	out, err := h.svc.Checkpoints().RecordWrite(ctx, in.SessionID, in.Cwd, file)
	if errors.Is(err, checkpoint.ErrSkipped) {
		return &Output{}, nil
	}
	if err != nil {
		return nil, err
	}
	if out.Checkpoint == nil {
		return &Output{}, nil
	}
	return advisoryOutput(HookEdit, fmt.Sprintf("checkpoint %d saved as %s",
		out.Checkpoint.Sequence, out.Checkpoint.Ref)), nil
}

func (h *Handlers) notify(ctx context.Context, ev notify.Event) {
	if ev.ProjectID == "" {
		ev.ProjectID = h.svc.Project().ID
	}
	if ev.At.IsZero() {
		ev.At = h.svc.Clock().Now()
	}
	if err := h.svc.Sink().Notify(ctx, ev); err != nil {
		h.svc.Logger().Warn(ctx, "notification failed", zap.String("event.kind", string(ev.Kind)), zap.Error(err))
	}
}

// resolveTrace finds the trace a completion refers to.
func (h *Handlers) resolveTrace(ctx context.Context, in *Input) (*trace.Record, error) {
	if in.TraceID != "" {
		return h.svc.Traces().Get(ctx, in.TraceID)
	}
	rec, err := h.svc.Traces().DetectActive(ctx, in.ResolveWorkerType())
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, trace.ErrNotFound
	}
	return rec, nil
}
