// Package config provides configuration loading for agentgate.
//
// Configuration is layered: hardcoded defaults, then an optional YAML file,
// then AGENTGATE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config holds the complete agentgate configuration.
type Config struct {
	State      StateConfig      `koanf:"state"`
	Dispatch   DispatchConfig   `koanf:"dispatch"`
	Roles      RolesConfig      `koanf:"roles"`
	Trace      TraceConfig      `koanf:"trace"`
	Approval   ApprovalConfig   `koanf:"approval"`
	Checkpoint CheckpointConfig `koanf:"checkpoint"`
	Git        GitConfig        `koanf:"git"`
	Hooks      HooksConfig      `koanf:"hooks"`
	Watch      WatchConfig      `koanf:"watch"`
	Logging    LoggingConfig    `koanf:"logging"`
	Telemetry  TelemetryConfig  `koanf:"telemetry"`
}

// StateConfig locates the persisted per-project state.
type StateConfig struct {
	// Dir is the root under which every project gets its own directory.
	Dir string `koanf:"dir"`
}

// DispatchConfig controls admission.
type DispatchConfig struct {
	MaxConcurrent   int             `koanf:"max_concurrent"`
	IsolationPolicy IsolationPolicy `koanf:"isolation_policy"`
	// Tools are the host tool names that spawn a worker.
	Tools []string `koanf:"tools"`
}

// RolesConfig maps worker types onto the gate that governs them.
type RolesConfig struct {
	Implementer string `koanf:"implementer"`
	Verifier    string `koanf:"verifier"`
	Release     string `koanf:"release"`
}

// TraceConfig controls the trace lifecycle.
type TraceConfig struct {
	StaleAfter      Duration `koanf:"stale_after"`
	MinSummaryBytes int      `koanf:"min_summary_bytes"`
}

// ApprovalConfig holds the human sign-off vocabulary.
type ApprovalConfig struct {
	Phrases []string `koanf:"phrases"`
}

// CheckpointConfig controls the working-tree snapshotter.
type CheckpointConfig struct {
	Disabled     bool     `koanf:"disabled"`
	Every        int      `koanf:"every"`
	SkipPaths    []string `koanf:"skip_paths"`
	MaxFileBytes int64    `koanf:"max_file_bytes"`
	RefPrefix    string   `koanf:"ref_prefix"`
}

// GitConfig holds repository policy.
type GitConfig struct {
	ProtectedBranches []string `koanf:"protected_branches"`
}

// HooksConfig controls hook handlers.
type HooksConfig struct {
	// CompletionBudget bounds the best-effort phase of the completion handler.
	CompletionBudget Duration `koanf:"completion_budget"`
	MaxOutputBytes   int      `koanf:"max_output_bytes"`
	// MutationTools are the host tool names that write files.
	MutationTools []string `koanf:"mutation_tools"`
}

// WatchConfig controls the watch command and its local status server.
type WatchConfig struct {
	Debounce Duration `koanf:"debounce"`
	// Listen is the status server address. Empty disables the server.
	Listen string `koanf:"listen"`
	// RateLimit is requests per second allowed per client, with RateBurst.
	RateLimit float64 `koanf:"rate_limit"`
	RateBurst int     `koanf:"rate_burst"`
}

// LoggingConfig selects log level and encoding.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TelemetryConfig controls OpenTelemetry export.
type TelemetryConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Endpoint string `koanf:"endpoint"`
	// Protocol is "http/protobuf" or "grpc".
	Protocol        string   `koanf:"protocol"`
	ServiceName     string   `koanf:"service_name"`
	Insecure        bool     `koanf:"insecure"`
	TLSSkipVerify   bool     `koanf:"tls_skip_verify"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
	// Logs bridges log entries to the global OTel logger provider.
	Logs bool `koanf:"logs"`
}

// Telemetry export protocols.
const (
	ProtocolHTTP = "http/protobuf"
	ProtocolGRPC = "grpc"
)

// Default returns the configuration used when nothing is overridden.
// Slice fields are left nil and filled by applyDefaults.
func Default() *Config {
	return &Config{
		State: StateConfig{Dir: defaultStateDir()},
		Dispatch: DispatchConfig{
			MaxConcurrent:   3,
			IsolationPolicy: IsolationBranchOrWorktree,
		},
		Roles: RolesConfig{
			Implementer: "implementer",
			Verifier:    "tester",
			Release:     "guardian",
		},
		Trace: TraceConfig{
			StaleAfter:      Duration(300 * time.Second),
			MinSummaryBytes: 16,
		},
		Checkpoint: CheckpointConfig{
			Every:        5,
			MaxFileBytes: 10 << 20,
			RefPrefix:    "refs/checkpoints",
		},
		Hooks: HooksConfig{
			CompletionBudget: Duration(4 * time.Second),
			MaxOutputBytes:   64 << 10,
		},
		Watch: WatchConfig{
			Debounce:  Duration(250 * time.Millisecond),
			RateLimit: 5,
			RateBurst: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			Endpoint:        "localhost:4318",
			Protocol:        ProtocolHTTP,
			ServiceName:     "agentgate",
			Insecure:        true,
			ShutdownTimeout: Duration(time.Second),
		},
	}
}

// DefaultApprovalPhrases is the stock sign-off vocabulary.
func DefaultApprovalPhrases() []string {
	return []string{
		"approved", "approve", "lgtm", "looks good", "ship it", "verified",
		"sign off", "signed off", "good to go", "go ahead and merge", "merge it",
	}
}

// Resolved returns Default with every slice default filled in, as Load
// would produce with no file and no environment.
func Resolved() *Config {
	cfg := Default()
	applyDefaults(cfg)
	return cfg
}

// applyDefaults fills fields the layered sources left empty.
func applyDefaults(cfg *Config) {
	if len(cfg.Dispatch.Tools) == 0 {
		cfg.Dispatch.Tools = []string{"Task", "Agent"}
	}
	if len(cfg.Approval.Phrases) == 0 {
		cfg.Approval.Phrases = DefaultApprovalPhrases()
	}
	if len(cfg.Git.ProtectedBranches) == 0 {
		cfg.Git.ProtectedBranches = []string{"main", "master"}
	}
	if cfg.Checkpoint.SkipPaths == nil {
		cfg.Checkpoint.SkipPaths = []string{"~/.claude"}
	}
	if len(cfg.Hooks.MutationTools) == 0 {
		cfg.Hooks.MutationTools = []string{"Edit", "Write", "MultiEdit", "NotebookEdit"}
	}
	if cfg.State.Dir == "" {
		cfg.State.Dir = defaultStateDir()
	}
	cfg.State.Dir = ExpandHome(cfg.State.Dir)
	for i, p := range cfg.Checkpoint.SkipPaths {
		cfg.Checkpoint.SkipPaths[i] = ExpandHome(p)
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Dispatch.MaxConcurrent < 1 {
		return fmt.Errorf("dispatch.max_concurrent must be positive, got %d", c.Dispatch.MaxConcurrent)
	}
	if !c.Dispatch.IsolationPolicy.Valid() {
		return fmt.Errorf("dispatch.isolation_policy %q is not one of branch, worktree, branch_or_worktree", c.Dispatch.IsolationPolicy)
	}
	if c.Roles.Implementer == "" || c.Roles.Verifier == "" || c.Roles.Release == "" {
		return errors.New("roles.implementer, roles.verifier and roles.release are required")
	}
	if c.Roles.Implementer == c.Roles.Verifier || c.Roles.Implementer == c.Roles.Release || c.Roles.Verifier == c.Roles.Release {
		return errors.New("roles must name three distinct worker types")
	}
	if c.Trace.StaleAfter <= 0 {
		return errors.New("trace.stale_after must be positive")
	}
	if c.Trace.MinSummaryBytes < 1 {
		return errors.New("trace.min_summary_bytes must be positive")
	}
	if c.Checkpoint.Every < 1 {
		return fmt.Errorf("checkpoint.every must be positive, got %d", c.Checkpoint.Every)
	}
	if !strings.HasPrefix(c.Checkpoint.RefPrefix, "refs/") {
		return fmt.Errorf("checkpoint.ref_prefix must start with refs/, got %q", c.Checkpoint.RefPrefix)
	}
	if c.Hooks.CompletionBudget <= 0 {
		return errors.New("hooks.completion_budget must be positive")
	}
	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		return errors.New("telemetry.endpoint required when telemetry is enabled")
	}
	if p := c.Telemetry.Protocol; p != ProtocolHTTP && p != ProtocolGRPC {
		return fmt.Errorf("telemetry.protocol must be %q or %q, got %q", ProtocolHTTP, ProtocolGRPC, p)
	}
	if c.Watch.Listen != "" && c.Watch.RateLimit <= 0 {
		return errors.New("watch.rate_limit must be positive")
	}
	return nil
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

func defaultStateDir() string {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, "agentgate")
	}
	return "~/.local/state/agentgate"
}
