package gate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentgate/internal/config"
	"github.com/fyrsmithlabs/agentgate/internal/fsutil"
	"github.com/fyrsmithlabs/agentgate/internal/logging"
	"github.com/fyrsmithlabs/agentgate/internal/proof"
	"github.com/fyrsmithlabs/agentgate/pkg/git"
)

// isolation is what the implementer gate learns about the working tree.
type isolation struct {
	branch    string
	detached  bool
	protected bool
	inLinked  bool
	linked    []string
}

// ImplementerGate requires the implementer role to work in isolation and
// admits at most one active implementer at a time. On admit it arms the
// proof-of-work status and writes the active-worktree breadcrumb.
type ImplementerGate struct {
	role       string
	policy     config.IsolationPolicy
	protected  []string
	proof      *proof.Store
	breadcrumb string
	healer     *healer
	logger     *logging.Logger
}

func NewImplementerGate(role string, policy config.IsolationPolicy, protected []string, store *proof.Store, breadcrumb string, logger *logging.Logger) *ImplementerGate {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &ImplementerGate{
		role:       role,
		policy:     policy,
		protected:  protected,
		proof:      store,
		breadcrumb: breadcrumb,
		logger:     logger,
	}
}

func (g *ImplementerGate) Name() string { return "implementer" }

func (g *ImplementerGate) Applies(req Request) bool { return req.WorkerType == g.role }

func (g *ImplementerGate) Check(ctx context.Context, req Request) (Decision, error) {
	var advisories []string
	if g.healer != nil {
		active, healed, err := g.healer.stillActive(ctx, g.role)
		if err != nil {
			return Decision{}, err
		}
		if len(active) > 0 {
			return Deny(g.Name(), fmt.Sprintf(
				"%s trace %s is still active; only one %s may run at a time, wait for it to finish",
				g.role, active[0].ID, g.role)), nil
		}
		advisories = healed
	}

	repo, err := git.Open(req.Cwd)
	if errors.Is(err, git.ErrNotGitRepo) {
		advisories = append(advisories, "not inside a git repository; worktree isolation is not enforced")
		return g.admit(ctx, Allow(strings.Join(advisories, "\n")), "")
	}
	if err != nil {
		return Decision{}, err
	}

	iso, err := g.inspect(repo)
	if err != nil {
		return Decision{}, err
	}

	if reason := g.violation(iso); reason != "" {
		return Deny(g.Name(), reason), nil
	}

	workspace := repo.Root
	if !iso.inLinked && iso.protected && len(iso.linked) > 0 {
		workspace = iso.linked[0]
	}
	return g.admit(ctx, Allow(strings.Join(advisories, "\n")), workspace)
}

func (g *ImplementerGate) inspect(repo *git.Repo) (isolation, error) {
	head, err := repo.Head()
	if err != nil {
		return isolation{}, err
	}
	linked, err := repo.LinkedWorktrees()
	if err != nil {
		return isolation{}, err
	}
	return isolation{
		branch:    head.Branch,
		detached:  head.Detached,
		protected: !head.Detached && git.IsProtected(head.Branch, g.protected),
		inLinked:  repo.IsLinkedWorktree(),
		linked:    linked,
	}, nil
}

// violation returns the deny reason under the configured policy, or "".
func (g *ImplementerGate) violation(iso isolation) string {
	hasWorktree := iso.inLinked || len(iso.linked) > 0
	instruction := fmt.Sprintf(
		"create an isolated worktree first (git worktree add ../<name> -b <feature-branch>) and dispatch %s from there",
		g.role)

	switch g.policy {
	case config.IsolationBranch:
		if iso.protected {
			return fmt.Sprintf("current branch %q is protected; %s", iso.branch, instruction)
		}
	case config.IsolationWorktree:
		if !hasWorktree {
			return "no linked worktree exists; " + instruction
		}
	default:
		if iso.protected && !hasWorktree {
			return fmt.Sprintf("current branch %q is protected and no linked worktree exists; %s", iso.branch, instruction)
		}
	}
	return ""
}

func (g *ImplementerGate) admit(ctx context.Context, d Decision, workspace string) (Decision, error) {
	tr, err := g.proof.Arm(ctx)
	if err != nil {
		return Decision{}, fmt.Errorf("arm proof status: %w", err)
	}
	if tr.Changed {
		g.logger.Info(ctx, "proof status armed", zap.String("from", string(tr.From)), zap.String("to", string(tr.To)))
	}
	if workspace != "" {
		if err := fsutil.WriteFileAtomic(g.breadcrumb, []byte(strings.TrimSpace(workspace)+"\n"), 0o644); err != nil {
			return Decision{}, fmt.Errorf("write active-worktree breadcrumb: %w", err)
		}
	}
	d.Workspace = workspace
	return d, nil
}
