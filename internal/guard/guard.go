// Package guard implements the PreToolUse hook guards that keep agents
// inside the phase sequence.
//
// A guard inspects one tool call (a Bash command or a Read path) and
// either lets it through or blocks it with a message. Strict guards block
// the call; soft guards only warn. `agency hook check` reads the hook
// payload from stdin, evaluates every guard registered for the tool and
// exits 2 when the call is blocked.
package guard

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Mode determines whether a guard blocks or warns.
type Mode string

const (
	ModeStrict Mode = "strict" // block the tool call
	ModeSoft   Mode = "soft"   // warn but allow
)

// Tool names as they appear in hook payloads.
const (
	ToolBash = "Bash"
	ToolRead = "Read"
)

// Input is the PreToolUse hook payload.
type Input struct {
	SessionID     string    `json:"session_id,omitempty"`
	HookEventName string    `json:"hook_event_name,omitempty"`
	ToolName      string    `json:"tool_name"`
	ToolInput     ToolInput `json:"tool_input"`
	Cwd           string    `json:"cwd,omitempty"`
}

// ToolInput holds the tool arguments the guards look at.
type ToolInput struct {
	Command  string `json:"command,omitempty"`
	FilePath string `json:"file_path,omitempty"`
}

// ParseInput decodes a hook payload.
func ParseInput(r io.Reader) (*Input, error) {
	var in Input
	if err := json.NewDecoder(r).Decode(&in); err != nil {
		return nil, fmt.Errorf("decoding hook input: %w", err)
	}
	return &in, nil
}

// Context is what a guard check sees.
type Context struct {
	Input *Input
	// WorkDir is where the project root search starts.
	WorkDir string
	// StateRel is the state file path relative to a project root.
	StateRel string
}

// Command returns the Bash command, or "" for other tools.
func (c *Context) Command() string {
	if c.Input == nil || c.Input.ToolName != ToolBash {
		return ""
	}
	return c.Input.ToolInput.Command
}

// Verdict is what a check returns when it blocks. A nil verdict allows.
type Verdict struct {
	Reason  string
	Message string
}

// Guard is one registered check.
type Guard struct {
	ID          string
	Tool        string
	Description string
	Mode        Mode
	Check       func(ctx context.Context, gc *Context) *Verdict
}

// Result holds the outcome of one guard.
type Result struct {
	GuardID   string `json:"guard_id"`
	Satisfied bool   `json:"satisfied"`
	Mode      Mode   `json:"mode"`
	Reason    string `json:"reason,omitempty"`
	Message   string `json:"-"`
}

// Response is the decision for one tool call.
type Response struct {
	Decision string   `json:"decision"` // "allow" or "block"
	Reason   string   `json:"reason,omitempty"`
	Results  []Result `json:"results,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
	// Message is the text written to stderr when blocked.
	Message string `json:"-"`
}

// Blocked reports whether any strict guard failed.
func (r *Response) Blocked() bool { return r.Decision == "block" }

// Evaluate runs every guard registered for the tool in gc.Input. If any
// strict guard fails the decision is "block"; failed soft guards become
// warnings.
func Evaluate(ctx context.Context, gc *Context, reg *Registry) *Response {
	resp := &Response{Decision: "allow"}
	if gc.Input == nil {
		return resp
	}

	var reasons, messages []string
	for _, g := range reg.ForTool(gc.Input.ToolName) {
		res := Result{GuardID: g.ID, Mode: g.Mode, Satisfied: true}
		if v := g.Check(ctx, gc); v != nil {
			res.Satisfied = false
			res.Reason = v.Reason
			res.Message = v.Message
		}
		resp.Results = append(resp.Results, res)
		if res.Satisfied {
			continue
		}
		switch g.Mode {
		case ModeStrict:
			reasons = append(reasons, fmt.Sprintf("%s: %s", g.ID, res.Reason))
			messages = append(messages, res.Message)
		case ModeSoft:
			resp.Warnings = append(resp.Warnings, fmt.Sprintf("%s: %s", g.ID, res.Reason))
		}
	}

	if len(reasons) > 0 {
		resp.Decision = "block"
		resp.Reason = strings.Join(reasons, "; ")
		resp.Message = strings.Join(messages, "\n")
	}
	return resp
}
