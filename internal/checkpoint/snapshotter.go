package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentgate/internal/fsutil"
	"github.com/fyrsmithlabs/agentgate/internal/ignore"
	"github.com/fyrsmithlabs/agentgate/internal/logging"
	"github.com/fyrsmithlabs/agentgate/internal/notify"
	"github.com/fyrsmithlabs/agentgate/internal/project"
	"github.com/fyrsmithlabs/agentgate/internal/telemetry"
	"github.com/fyrsmithlabs/agentgate/pkg/git"
)

const instrumentationName = "github.com/fyrsmithlabs/agentgate/internal/checkpoint"

// maxClaimAttempts bounds the search for a free sequence number.
const maxClaimAttempts = 1000

// Options configures a Snapshotter.
type Options struct {
	// Every snapshots on every n-th write of a session.
	Every int
	// SkipPaths are workspace roots never snapshotted.
	SkipPaths []string
	// ProtectedBranches are never snapshotted.
	ProtectedBranches []string
	// MaxFileBytes leaves larger files out of snapshots. Zero keeps all.
	MaxFileBytes int64
	// RefPrefix is the namespace of checkpoint refs.
	RefPrefix string

	Clock     clock.Clock
	Logger    *logging.Logger
	Telemetry *telemetry.Telemetry
	Sink      notify.Sink
	ProjectID string
}

// Snapshotter takes checkpoints for one project.
type Snapshotter struct {
	layout project.Layout
	opts   Options
	clock  clock.Clock
	logger *logging.Logger
	sink   notify.Sink

	tracer         oteltrace.Tracer
	createdCounter metric.Int64Counter
	skippedCounter metric.Int64Counter
}

// New returns a Snapshotter storing session counters and sequence claims
// under layout.
func New(layout project.Layout, opts Options) *Snapshotter {
	if opts.Every < 1 {
		opts.Every = 5
	}
	if opts.RefPrefix == "" {
		opts.RefPrefix = "refs/checkpoints"
	}
	opts.RefPrefix = strings.TrimSuffix(opts.RefPrefix, "/")
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.Sink == nil {
		opts.Sink = notify.Nop{}
	}
	s := &Snapshotter{
		layout: layout,
		opts:   opts,
		clock:  opts.Clock,
		logger: opts.Logger.Named("checkpoint"),
		sink:   opts.Sink,
		tracer: opts.Telemetry.Tracer(instrumentationName),
	}
	s.initMetrics(opts.Telemetry.Meter(instrumentationName))
	return s
}

func (s *Snapshotter) initMetrics(meter metric.Meter) {
	var err error
	s.createdCounter, err = meter.Int64Counter(
		"agentgate.checkpoint.created_total",
		metric.WithDescription("Checkpoints published, by trigger reason"),
		metric.WithUnit("{checkpoint}"),
	)
	if err != nil {
		s.logger.Warn(context.Background(), "failed to create created counter", zap.Error(err))
	}
	s.skippedCounter, err = meter.Int64Counter(
		"agentgate.checkpoint.skipped_total",
		metric.WithDescription("Checkpoints not taken, by skip kind"),
		metric.WithUnit("{checkpoint}"),
	)
	if err != nil {
		s.logger.Warn(context.Background(), "failed to create skipped counter", zap.Error(err))
	}
}

// RecordWrite counts a file mutation in a session and takes a checkpoint
// when the count reaches a multiple of Every or the file is touched for the
// first time in the session. Workspaces that are never snapshotted return a
// *SkippedError before anything is counted.
func (s *Snapshotter) RecordWrite(ctx context.Context, sessionID, cwd, file string) (Outcome, error) {
	repo, branch, err := s.eligible(ctx, cwd)
	if err != nil {
		return Outcome{}, err
	}

	absFile := file
	if absFile != "" && !filepath.IsAbs(absFile) {
		absFile = filepath.Join(cwd, absFile)
	}

	count, err := s.incrementWrites(sessionID)
	if err != nil {
		return Outcome{}, err
	}
	out := Outcome{WriteCount: count}

	if absFile != "" {
		err := fsutil.CreateExclusive(s.layout.TouchedFlag(sessionID, filepath.Clean(absFile)), nil, 0o644)
		switch {
		case err == nil:
			out.FirstTouch = true
		case !errors.Is(err, fsutil.ErrExists):
			s.logger.Warn(ctx, "failed to record first touch", zap.String("file", absFile), zap.Error(err))
		}
	}

	var reason string
	switch {
	case count%s.opts.Every == 0:
		reason = ReasonInterval
	case out.FirstTouch:
		reason = ReasonFirstTouch
	default:
		return out, nil
	}

	cp, err := s.snapshot(ctx, repo, branch, Trigger{
		Reason:     reason,
		File:       relativeTo(repo.Root, absFile),
		WriteCount: count,
	})
	if err != nil {
		return out, err
	}
	out.Checkpoint = cp
	return out, nil
}

// Create takes a checkpoint of the workspace at cwd unconditionally.
func (s *Snapshotter) Create(ctx context.Context, cwd string, trigger Trigger) (*Checkpoint, error) {
	repo, branch, err := s.eligible(ctx, cwd)
	if err != nil {
		return nil, err
	}
	if trigger.Reason == "" {
		trigger.Reason = ReasonManual
	}
	if filepath.IsAbs(trigger.File) {
		trigger.File = relativeTo(repo.Root, trigger.File)
	}
	return s.snapshot(ctx, repo, branch, trigger)
}

// eligible opens the repository at cwd and applies the skip rules.
func (s *Snapshotter) eligible(ctx context.Context, cwd string) (*git.Repo, string, error) {
	abs, err := filepath.Abs(cwd)
	if err != nil {
		return nil, "", err
	}
	if p := s.skipPath(abs); p != "" {
		return nil, "", s.skip(ctx, skipped(SkipMetaWorkspace, "workspace %s is under %s", abs, p))
	}

	repo, err := git.Open(abs)
	if errors.Is(err, git.ErrNotGitRepo) {
		return nil, "", s.skip(ctx, skipped(SkipNotGit, "%s is not inside a git repository", abs))
	}
	if err != nil {
		return nil, "", err
	}
	if p := s.skipPath(repo.Root); p != "" {
		return nil, "", s.skip(ctx, skipped(SkipMetaWorkspace, "workspace %s is under %s", repo.Root, p))
	}

	head, err := repo.Head()
	if err != nil {
		return nil, "", err
	}
	if head.Detached {
		return nil, "", s.skip(ctx, skipped(SkipDetached, "HEAD is detached"))
	}
	if git.IsProtected(head.Branch, s.opts.ProtectedBranches) {
		return nil, "", s.skip(ctx, skipped(SkipProtectedBranch, "branch %q is protected", head.Branch))
	}
	return repo, head.Branch, nil
}

func (s *Snapshotter) skip(ctx context.Context, err error) error {
	var se *SkippedError
	if errors.As(err, &se) {
		s.skippedCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", se.Kind)))
		s.logger.Debug(ctx, "checkpoint skipped", zap.String("kind", se.Kind), zap.String("reason", se.Reason))
	}
	return err
}

func (s *Snapshotter) skipPath(dir string) string {
	for _, p := range s.opts.SkipPaths {
		if p == "" {
			continue
		}
		p = filepath.Clean(p)
		if dir == p || strings.HasPrefix(dir, p+string(filepath.Separator)) {
			return p
		}
	}
	return ""
}

func (s *Snapshotter) incrementWrites(sessionID string) (int, error) {
	path := filepath.Join(s.layout.SessionDir(sessionID), "writes")
	n := 0
	if data, err := os.ReadFile(path); err == nil {
		n, _ = strconv.Atoi(strings.TrimSpace(string(data)))
	} else if !os.IsNotExist(err) {
		return 0, fmt.Errorf("read write counter: %w", err)
	}
	n++
	if err := fsutil.WriteFileAtomic(path, []byte(strconv.Itoa(n)+"\n"), 0o644); err != nil {
		return 0, fmt.Errorf("write write counter: %w", err)
	}
	return n, nil
}

// snapshot builds the tree and commit, claims a sequence number and
// publishes the ref.
func (s *Snapshotter) snapshot(ctx context.Context, repo *git.Repo, branch string, trigger Trigger) (*Checkpoint, error) {
	ctx, span := s.tracer.Start(ctx, "checkpoint.create")
	defer span.End()
	span.SetAttributes(
		attribute.String("branch", branch),
		attribute.String("trigger.reason", trigger.Reason),
	)

	cp, err := s.buildAndPublish(ctx, repo, branch, trigger)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.Int("sequence", cp.Sequence), attribute.String("commit", cp.CommitHash))
	s.createdCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", trigger.Reason)))
	s.logger.Info(ctx, "checkpoint created",
		zap.String("ref", cp.Ref),
		zap.String("commit", cp.CommitHash),
		zap.String("trigger", trigger.Reason),
		zap.String("file", trigger.File))
	if err := s.sink.Notify(ctx, notify.Event{
		Kind:      notify.KindCheckpoint,
		ProjectID: s.opts.ProjectID,
		Message:   fmt.Sprintf("checkpoint %d on %s (%s)", cp.Sequence, branch, trigger.Reason),
		At:        cp.CreatedAt,
	}); err != nil {
		s.logger.Warn(ctx, "notification failed", zap.Error(err))
	}
	return cp, nil
}

func (s *Snapshotter) buildAndPublish(ctx context.Context, repo *git.Repo, branch string, trigger Trigger) (*Checkpoint, error) {
	matcher, err := ignore.Load(repo.Root)
	if err != nil {
		return nil, fmt.Errorf("load ignore rules: %w", err)
	}

	head, err := repo.Head()
	if err != nil {
		return nil, err
	}

	tb := &treeBuilder{store: repo.Storer, ignore: matcher, maxFileBytes: s.opts.MaxFileBytes}
	treeHash, err := tb.build(repo.Root, "")
	if err != nil {
		return nil, err
	}
	if treeHash.IsZero() {
		treeHash, err = writeEncoded(repo.Storer, &object.Tree{})
		if err != nil {
			return nil, err
		}
	}
	if len(tb.skipped) > 0 {
		s.logger.Debug(ctx, "files left out of checkpoint", zap.Strings("paths", tb.skipped))
	}

	now := s.clock.Now().UTC().Truncate(time.Second)
	sig := object.Signature{Name: "agentgate", Email: "agentgate@localhost", When: now}
	commit := &object.Commit{
		Author:    sig,
		Committer: sig,
		Message:   formatMessage(now, trigger) + "\n",
		TreeHash:  treeHash,
	}
	if !head.Unborn {
		commit.ParentHashes = []plumbing.Hash{head.Hash}
	}
	commitHash, err := writeEncoded(repo.Storer, commit)
	if err != nil {
		return nil, fmt.Errorf("write commit: %w", err)
	}

	seq, err := s.claim(repo, branch, commitHash, now)
	if err != nil {
		return nil, err
	}

	refName := s.refName(branch, seq)
	if err := repo.Storer.SetReference(plumbing.NewHashReference(refName, commitHash)); err != nil {
		return nil, fmt.Errorf("set %s: %w", refName, err)
	}

	cp := &Checkpoint{
		Branch:     branch,
		Sequence:   seq,
		Ref:        refName.String(),
		TreeHash:   treeHash.String(),
		CommitHash: commitHash.String(),
		Trigger:    trigger,
		CreatedAt:  now,
	}
	if !head.Unborn {
		cp.Parent = head.Hash.String()
	}
	return cp, nil
}

type claimRecord struct {
	Commit    string    `json:"commit"`
	ClaimedAt time.Time `json:"claimed_at"`
}

// claim reserves the next free sequence number for branch.
func (s *Snapshotter) claim(repo *git.Repo, branch string, commit plumbing.Hash, now time.Time) (int, error) {
	dir := s.layout.CheckpointClaims(branch)
	next := s.highestSequence(repo, branch, dir) + 1

	data, err := json.Marshal(claimRecord{Commit: commit.String(), ClaimedAt: now})
	if err != nil {
		return 0, err
	}
	for i := 0; i < maxClaimAttempts; i++ {
		err := fsutil.CreateExclusive(filepath.Join(dir, fmt.Sprintf("%d.claim", next)), data, 0o644)
		if err == nil {
			return next, nil
		}
		if !errors.Is(err, fsutil.ErrExists) {
			return 0, fmt.Errorf("claim checkpoint sequence: %w", err)
		}
		next++
	}
	return 0, fmt.Errorf("claim checkpoint sequence: no free number after %d attempts", maxClaimAttempts)
}

// highestSequence is the largest number already claimed or published.
func (s *Snapshotter) highestSequence(repo *git.Repo, branch, claimDir string) int {
	high := 0
	if entries, err := os.ReadDir(claimDir); err == nil {
		for _, e := range entries {
			if n, ok := strings.CutSuffix(e.Name(), ".claim"); ok {
				if v, err := strconv.Atoi(n); err == nil && v > high {
					high = v
				}
			}
		}
	}
	if refs, err := s.refs(repo, branch); err == nil {
		for seq := range refs {
			if seq > high {
				high = seq
			}
		}
	}
	return high
}

func (s *Snapshotter) refName(branch string, seq int) plumbing.ReferenceName {
	return plumbing.ReferenceName(fmt.Sprintf("%s/%s/%d", s.opts.RefPrefix, branch, seq))
}

// refs maps sequence numbers to commit hashes for branch.
func (s *Snapshotter) refs(repo *git.Repo, branch string) (map[int]plumbing.Hash, error) {
	iter, err := repo.References()
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	prefix := s.opts.RefPrefix + "/" + branch + "/"
	out := map[int]plumbing.Hash{}
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		rest, ok := strings.CutPrefix(ref.Name().String(), prefix)
		if !ok || ref.Type() != plumbing.HashReference {
			return nil
		}
		seq, err := strconv.Atoi(rest)
		if err != nil || seq < 1 {
			return nil
		}
		out[seq] = ref.Hash()
		return nil
	})
	return out, err
}

// List returns the checkpoints of branch in the repository at cwd, ordered
// by sequence. An empty branch means the current one.
func (s *Snapshotter) List(ctx context.Context, cwd, branch string) ([]Checkpoint, error) {
	repo, err := git.Open(cwd)
	if err != nil {
		return nil, err
	}
	if branch == "" {
		head, err := repo.Head()
		if err != nil {
			return nil, err
		}
		if head.Detached {
			return nil, errors.New("HEAD is detached; name a branch")
		}
		branch = head.Branch
	}

	refs, err := s.refs(repo, branch)
	if err != nil {
		return nil, fmt.Errorf("list refs: %w", err)
	}
	seqs := make([]int, 0, len(refs))
	for seq := range refs {
		seqs = append(seqs, seq)
	}
	sort.Ints(seqs)

	out := make([]Checkpoint, 0, len(seqs))
	for _, seq := range seqs {
		h := refs[seq]
		cp := Checkpoint{
			Branch:     branch,
			Sequence:   seq,
			Ref:        s.refName(branch, seq).String(),
			CommitHash: h.String(),
		}
		c, err := repo.CommitObject(h)
		if err != nil {
			s.logger.Warn(ctx, "checkpoint ref points at unreadable commit", zap.String("ref", cp.Ref), zap.Error(err))
			out = append(out, cp)
			continue
		}
		cp.TreeHash = c.TreeHash.String()
		if len(c.ParentHashes) > 0 {
			cp.Parent = c.ParentHashes[0].String()
		}
		cp.CreatedAt = c.Committer.When.UTC()
		if at, trig, ok := parseMessage(c.Message); ok {
			cp.CreatedAt, cp.Trigger = at, trig
		}
		out = append(out, cp)
	}
	return out, nil
}

func relativeTo(root, file string) string {
	if file == "" {
		return ""
	}
	if rel, err := filepath.Rel(root, file); err == nil && !strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(rel)
	}
	return filepath.ToSlash(file)
}
