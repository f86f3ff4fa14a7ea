package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/fyrsmithlabs/agentgate/internal/status"
	"github.com/fyrsmithlabs/agentgate/pkg/git/gittest"
)

type cli struct {
	configPath string
	repo       string
}

func newCLI(t *testing.T) *cli {
	t.Helper()
	repo := gittest.Init(t, "main")
	gittest.Checkout(t, repo, "feature/x", true)

	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	body := fmt.Sprintf("state:\n  dir: %s\nlogging:\n  level: error\n", t.TempDir())
	require.NoError(t, os.WriteFile(cfgPath, []byte(body), 0o600))
	return &cli{configPath: cfgPath, repo: repo}
}

func (c *cli) run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--config", c.configPath, "--project", c.repo}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func (c *cli) hook(t *testing.T, hook string, payload map[string]any) map[string]any {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	out, err := c.run(t, string(data), "hook", hook)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &got), out)
	return got
}

func TestHookDispatch_AllowAndDeny(t *testing.T) {
	c := newCLI(t)

	got := c.hook(t, "dispatch", map[string]any{
		"session_id": "s1", "cwd": c.repo, "tool_name": "Task",
		"tool_input": map[string]any{"subagent_type": "implementer"},
	})
	assert.Equal(t, "allow", got["decision"])
	assert.Contains(t, got["additionalContext"], "agentgate trace implementer-")

	got = c.hook(t, "dispatch", map[string]any{
		"session_id": "s1", "cwd": c.repo, "tool_name": "Task", "worker_type": "guardian",
	})
	assert.Equal(t, "deny", got["decision"])
	assert.Contains(t, got["reason"], "release gate")
	specific := got["hookSpecificOutput"].(map[string]any)
	assert.Equal(t, "PreToolUse", specific["hookEventName"])
	assert.Equal(t, "deny", specific["permissionDecision"])
}

func TestHook_BadInputDegrades(t *testing.T) {
	c := newCLI(t)

	out, err := c.run(t, "", "hook", "dispatch")
	require.NoError(t, err)
	assert.Contains(t, out, `"decision":"allow"`)
	assert.Contains(t, out, "hook input is empty")

	out, err = c.run(t, "{garbage", "hook", "prompt")
	require.NoError(t, err)
	assert.Contains(t, out, "agentgate prompt hook failed")
}

func TestStatus(t *testing.T) {
	c := newCLI(t)
	c.hook(t, "dispatch", map[string]any{"cwd": c.repo, "tool_name": "Task", "worker_type": "explore"})

	out, err := c.run(t, "", "status", "-o", "json")
	require.NoError(t, err)
	var r status.Report
	require.NoError(t, json.Unmarshal([]byte(out), &r))
	assert.True(t, r.Project.InGit)
	assert.Equal(t, "absent", r.Proof.State)
	assert.Equal(t, 1, r.Active.Total)
	assert.Equal(t, 3, r.Active.Limit)
	assert.Equal(t, map[string]int{"explore": 1}, r.Active.ByType)
	require.Len(t, r.Traces, 1)
	assert.False(t, r.Traces[0].Stale)

	out, err = c.run(t, "", "status", "-o", "yaml")
	require.NoError(t, err)
	var y map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &y))
	assert.Contains(t, y, "active")

	out, err = c.run(t, "", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Active:   1/3")
	assert.Contains(t, out, "explore")

	_, err = c.run(t, "", "status", "-o", "xml")
	assert.Error(t, err)
}

func TestTraceCommands(t *testing.T) {
	c := newCLI(t)
	got := c.hook(t, "dispatch", map[string]any{"cwd": c.repo, "tool_name": "Task", "worker_type": "explore"})
	require.Equal(t, "allow", got["decision"])

	out, err := c.run(t, "", "trace", "list", "-o", "json")
	require.NoError(t, err)
	var rows []status.TraceEntry
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 1)
	id := rows[0].ID
	assert.Equal(t, "active", rows[0].Status)

	out, err = c.run(t, "", "trace", "crash", id, "--reason", "host killed")
	require.NoError(t, err)
	assert.Equal(t, id+" marked crashed\n", out)

	out, err = c.run(t, "", "trace", "crash", id)
	require.NoError(t, err)
	assert.Contains(t, out, "already final")

	out, err = c.run(t, "", "trace", "show", id)
	require.NoError(t, err)
	assert.Contains(t, out, "Status:    crashed")
	assert.Contains(t, out, "Crash:     host killed")

	_, err = c.run(t, "", "trace", "show", "../../etc")
	assert.Error(t, err)

	out, err = c.run(t, "", "trace", "list", "--status", "crashed", "-o", "json")
	require.NoError(t, err)
	rows = nil
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, id, rows[0].ID)

	out, err = c.run(t, "", "trace", "list", "--status", "active", "-o", "json")
	require.NoError(t, err)
	rows = nil
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	assert.Empty(t, rows)

	_, err = c.run(t, "", "trace", "list", "--status", "bogus")
	assert.Error(t, err)
}

func TestProofCommands(t *testing.T) {
	c := newCLI(t)
	c.hook(t, "dispatch", map[string]any{"cwd": c.repo, "tool_name": "Task", "worker_type": "implementer"})

	out, err := c.run(t, "", "proof", "show")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "needs_verification\n"), out)

	c.hook(t, "prompt", map[string]any{"session_id": "s1", "cwd": c.repo, "prompt": "LGTM"})
	out, err = c.run(t, "", "proof", "show", "-o", "json")
	require.NoError(t, err)
	assert.Contains(t, out, `"state": "verified"`)
	assert.Contains(t, out, `"allows_release": true`)

	out, err = c.run(t, "", "proof", "reset")
	require.NoError(t, err)
	assert.Equal(t, "verified -> absent\n", out)
}

func TestCheckpointCommands(t *testing.T) {
	c := newCLI(t)
	gittest.WriteFile(t, c.repo, "notes.txt", "hello\n")

	got := c.hook(t, "edit", map[string]any{
		"session_id": "s1", "cwd": c.repo, "tool_name": "Write",
		"tool_input": map[string]any{"file_path": filepath.Join(c.repo, "notes.txt")},
	})
	assert.Equal(t, "checkpoint 1 saved as refs/checkpoints/feature/x/1", got["additionalContext"])

	out, err := c.run(t, "", "checkpoint", "create")
	require.NoError(t, err)
	assert.Equal(t, "checkpoint 2 saved as refs/checkpoints/feature/x/2\n", out)

	out, err = c.run(t, "", "checkpoint", "list", "-o", "json")
	require.NoError(t, err)
	var cps []struct {
		Sequence int `json:"sequence"`
		Trigger  struct {
			Reason string `json:"reason"`
			File   string `json:"file"`
		} `json:"trigger"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &cps))
	require.Len(t, cps, 2)
	assert.Equal(t, "first-touch", cps[0].Trigger.Reason)
	assert.Equal(t, "notes.txt", cps[0].Trigger.File)
	assert.Equal(t, "manual", cps[1].Trigger.Reason)

	out, err = c.run(t, "", "checkpoint", "list", "--branch", "main")
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(out, "\n"), "header only")
}
