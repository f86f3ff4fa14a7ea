package hooks

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// maxInputBytes bounds the stdin payload. Completion payloads carry the
// worker's full final message.
const maxInputBytes = 16 << 20

// ErrEmptyInput is returned for an empty payload.
var ErrEmptyInput = errors.New("hook input is empty")

// Input is the union of every hook payload the host sends.
type Input struct {
	SessionID     string    `json:"session_id"`
	Cwd           string    `json:"cwd"`
	HookEventName string    `json:"hook_event_name"`
	ToolName      string    `json:"tool_name"`
	ToolInput     ToolInput `json:"tool_input"`

	WorkerType string `json:"worker_type"`
	AgentType  string `json:"agent_type"`
	TraceID    string `json:"trace_id"`

	LastAssistantMessage string `json:"last_assistant_message"`
	Output               string `json:"output"`

	Prompt string `json:"prompt"`
}

// ToolInput holds the tool arguments agentgate reads.
type ToolInput struct {
	SubagentType string `json:"subagent_type"`
	FilePath     string `json:"file_path"`
	NotebookPath string `json:"notebook_path"`
}

// ParseInput decodes a hook payload.
func ParseInput(r io.Reader) (*Input, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxInputBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read hook input: %w", err)
	}
	if len(data) > maxInputBytes {
		return nil, fmt.Errorf("hook input exceeds %d bytes", maxInputBytes)
	}
	if strings.TrimSpace(string(data)) == "" {
		return nil, ErrEmptyInput
	}
	var in Input
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("decode hook input: %w", err)
	}
	return &in, nil
}

// ResolveWorkerType picks worker_type, then agent_type, then
// tool_input.subagent_type, falling back to "generic".
func (in *Input) ResolveWorkerType() string {
	for _, v := range []string{in.WorkerType, in.AgentType, in.ToolInput.SubagentType} {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return "generic"
}

// FinalText is the worker's terminal output under either accepted name.
func (in *Input) FinalText() string {
	if in.LastAssistantMessage != "" {
		return in.LastAssistantMessage
	}
	return in.Output
}

// MutatedFile is the file a mutation tool wrote.
func (in *Input) MutatedFile() string {
	if in.ToolInput.FilePath != "" {
		return in.ToolInput.FilePath
	}
	return in.ToolInput.NotebookPath
}

// Output is the JSON written back to the host.
type Output struct {
	Decision           string          `json:"decision,omitempty"`
	Reason             string          `json:"reason,omitempty"`
	AdditionalContext  string          `json:"additionalContext,omitempty"`
	HookSpecificOutput *SpecificOutput `json:"hookSpecificOutput,omitempty"`
}

// SpecificOutput is the event-scoped part of an Output.
type SpecificOutput struct {
	HookEventName            string `json:"hookEventName"`
	PermissionDecision       string `json:"permissionDecision,omitempty"`
	PermissionDecisionReason string `json:"permissionDecisionReason,omitempty"`
	AdditionalContext        string `json:"additionalContext,omitempty"`
}

// Host event names per hook.
var eventNames = map[HookType]string{
	HookDispatch: "PreToolUse",
	HookComplete: "SubagentStop",
	HookPrompt:   "UserPromptSubmit",
	HookEdit:     "PostToolUse",
}

// Write encodes o as a single JSON line.
func (o *Output) Write(w io.Writer) error {
	return json.NewEncoder(w).Encode(o)
}

// Allowed reports whether the output admits the action.
func (o *Output) Allowed() bool {
	return o.Decision != "deny"
}

func allowOutput(advisory string) *Output {
	return &Output{
		Decision:          "allow",
		AdditionalContext: advisory,
		HookSpecificOutput: &SpecificOutput{
			HookEventName:      eventNames[HookDispatch],
			PermissionDecision: "allow",
			AdditionalContext:  advisory,
		},
	}
}

func denyOutput(reason string) *Output {
	return &Output{
		Decision: "deny",
		Reason:   reason,
		HookSpecificOutput: &SpecificOutput{
			HookEventName:            eventNames[HookDispatch],
			PermissionDecision:       "deny",
			PermissionDecisionReason: reason,
		},
	}
}

// advisoryOutput carries text for the orchestrator without a decision. An
// empty advisory yields an empty object.
func advisoryOutput(hookType HookType, advisory string) *Output {
	if advisory == "" {
		return &Output{}
	}
	return &Output{
		AdditionalContext: advisory,
		HookSpecificOutput: &SpecificOutput{
			HookEventName:     eventNames[hookType],
			AdditionalContext: advisory,
		},
	}
}
