package hooks

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentgate/internal/logging"
	"github.com/fyrsmithlabs/agentgate/internal/notify"
	"github.com/fyrsmithlabs/agentgate/internal/redact"
	"github.com/fyrsmithlabs/agentgate/internal/trace"
	"github.com/fyrsmithlabs/agentgate/pkg/git"
)

// completion carries state between the best-effort steps.
type completion struct {
	in      *Input
	text    string
	result  trace.FinalizeResult
	changed []string
	issues  []string
}

func (c *completion) issue(format string, args ...any) {
	c.issues = append(c.issues, fmt.Sprintf(format, args...))
}

type completionStep struct {
	name string
	run  func(ctx context.Context, c *completion) error
}

// Complete finalizes the worker's trace, then runs the best-effort checks
// within the completion budget.
func (h *Handlers) Complete(ctx context.Context, in *Input) (*Output, error) {
	rec, err := h.resolveTrace(ctx, in)
	if errors.Is(err, trace.ErrNotFound) {
		return advisoryOutput(HookComplete, fmt.Sprintf(
			"agentgate: no active %s trace to finalize", in.ResolveWorkerType())), nil
	}
	if err != nil {
		return nil, err
	}

	c := &completion{in: in, text: in.FinalText()}
	c.result, err = h.svc.Traces().Finalize(ctx, rec.ID, c.text)
	if err != nil {
		return nil, fmt.Errorf("finalizing trace %s: %w", rec.ID, err)
	}
	if !c.result.AlreadyFinal {
		h.notify(ctx, notify.Event{
			Kind:       notify.KindCompleted,
			WorkerType: c.result.Record.WorkerType,
			TraceID:    c.result.Record.ID,
			Message:    c.result.Record.Summary,
		})
	}

	h.runBestEffort(ctx, c)

	if len(c.issues) == 0 {
		return &Output{}, nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "agentgate: trace %s completed with issues:", c.result.Record.ID)
	for _, is := range c.issues {
		b.WriteString("\n- ")
		b.WriteString(is)
	}
	return advisoryOutput(HookComplete, b.String()), nil
}

func (h *Handlers) completionSteps() []completionStep {
	return []completionStep{
		{"changed_files", h.captureChangedFiles},
		{"test_result", h.extractTestResult},
		{"deep_redact", h.deepRedactSummary},
		{"docs_staleness", h.checkDocs},
		{"validate", h.validateOutput},
	}
}

// runBestEffort runs each step in order. A failing or panicking step is
// logged and skipped; once the budget is spent the remaining steps are
// dropped.
func (h *Handlers) runBestEffort(ctx context.Context, c *completion) {
	budget := h.svc.Config().Hooks.CompletionBudget.Duration()
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	ctx = logging.WithTraceID(ctx, c.result.Record.ID)
	logger := h.svc.Logger()
	for _, step := range h.completionSteps() {
		if ctx.Err() != nil {
			logger.Warn(ctx, "completion budget exhausted", zap.String("skipped_from", step.name))
			return
		}
		if err := runStep(ctx, step, c); err != nil {
			logger.Warn(ctx, "completion step failed", zap.String("step", step.name), zap.Error(err))
		}
	}
}

func runStep(ctx context.Context, step completionStep, c *completion) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return step.run(ctx, c)
}

func (h *Handlers) captureChangedFiles(ctx context.Context, c *completion) error {
	dir := c.result.Record.Workspace
	if dir == "" {
		dir = c.in.Cwd
	}
	if dir == "" {
		return nil
	}
	repo, err := git.Open(dir)
	if errors.Is(err, git.ErrNotGitRepo) {
		return nil
	}
	if err != nil {
		return err
	}
	files, err := repo.ChangedFiles()
	if err != nil {
		return err
	}
	c.changed = files
	if len(files) == 0 {
		return nil
	}
	body := strings.Join(files, "\n") + "\n"
	return h.svc.Traces().WriteArtifact(ctx, c.result.Record.ID, trace.ArtifactChangedFiles, []byte(body))
}

func (h *Handlers) extractTestResult(ctx context.Context, c *completion) error {
	if c.result.Record.WorkerType != h.svc.Config().Roles.Verifier {
		return nil
	}
	lines := testResultLines(c.text)
	if len(lines) == 0 {
		return nil
	}
	scrubbed := redact.Quick(strings.Join(lines, "\n") + "\n")
	return h.svc.Traces().WriteArtifact(ctx, c.result.Record.ID, trace.ArtifactTestResult, []byte(scrubbed.Content))
}

func (h *Handlers) deepRedactSummary(ctx context.Context, c *completion) error {
	id := c.result.Record.ID
	data, err := h.svc.Traces().ReadArtifact(ctx, id, trace.ArtifactSummary)
	if err != nil {
		return err
	}
	allow, err := redact.LoadAllowlists(h.svc.Project().Root, redact.DefaultUserAllowlistPath())
	if err != nil {
		h.svc.Logger().Warn(ctx, "ignoring unreadable secret allowlist", zap.Error(err))
		allow = nil
	}
	res, err := redact.Deep(string(data), allow)
	if err != nil {
		return err
	}
	if len(res.Findings) == 0 {
		return nil
	}
	h.svc.Logger().Info(ctx, "redacted secrets from summary",
		zap.String("trace.id", id), zap.Int("findings", len(res.Findings)))
	return h.svc.Traces().WriteArtifact(ctx, id, trace.ArtifactSummary, []byte(res.Content))
}

func (h *Handlers) checkDocs(_ context.Context, c *completion) error {
	if c.result.Record.WorkerType != h.svc.Config().Roles.Implementer {
		return nil
	}
	if docsStale(c.changed) {
		c.issue("source files changed but no documentation was updated")
	}
	return nil
}

func (h *Handlers) validateOutput(ctx context.Context, c *completion) error {
	rec := c.result.Record
	cfg := h.svc.Config()

	if c.result.Synthesized {
		c.issue("worker produced no usable summary; a diagnostic summary was written to %s", trace.ArtifactSummary)
	}
	if rec.WorkerType == cfg.Roles.Verifier {
		if _, err := h.svc.Traces().ReadArtifact(ctx, rec.ID, trace.ArtifactTestResult); errors.Is(err, trace.ErrMissingArtifact) {
			c.issue("%s finished without reporting test results", rec.WorkerType)
		}
	}
	if n := len(c.text); cfg.Hooks.MaxOutputBytes > 0 && n > cfg.Hooks.MaxOutputBytes {
		c.issue("final output is %d bytes (limit %d); keep worker reports short", n, cfg.Hooks.MaxOutputBytes)
	}
	if endsWithApprovalQuestion(c.text) {
		c.issue("worker ended by asking for approval; it cannot receive an answer, so decide or report back explicitly")
	}
	if c.result.Redactions > 0 {
		c.issue("%d secret(s) were redacted from the summary", c.result.Redactions)
	}
	return nil
}
