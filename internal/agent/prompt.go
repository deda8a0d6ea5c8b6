package agent

import (
	"fmt"
	"strings"

	"github.com/sdlc-agency/agency/internal/types"
)

// gateSuffix is appended to lead prompts of gated phases so the agent ends
// its output with a parseable verdict.
var gateSuffix = map[types.Phase]string{
	types.PhaseValidate: "End output with [VERDICT:APPROVED] or [VERDICT:REPROVED].",
	types.PhaseReview:   "End output with [GATE:PASS] or [GATE:FAIL].",
	types.PhaseTest:     "End output with [GATE:PASS], [GATE:FAIL_BUG], or [GATE:FAIL_TEST].",
}

// PromptInput carries the project context embedded in every prompt.
type PromptInput struct {
	ProjectRoot string
	ScriptPath  string
	BacklogPath string
	Objective   string
}

// Validate checks that an objective is present.
func (in PromptInput) Validate() error {
	if strings.TrimSpace(in.Objective) == "" {
		return types.InvalidArgumentf("Either --objective or --objective-stdin is required")
	}
	return nil
}

// Prompt renders the spawn prompt for (r, p). An empty kind uses the
// matrix default; assists get a notes-oriented prompt and no gate suffix.
func Prompt(r types.Role, p types.Phase, k Kind, in PromptInput) (string, error) {
	s, err := Lookup(p, r)
	if err != nil {
		return "", err
	}
	if k == "" {
		k = s.Kind
	}
	return render(s, k, in), nil
}

func render(s Spec, k Kind, in PromptInput) string {
	script := in.ScriptPath
	if script == "" {
		script = "agency story (built in)"
	}
	var b strings.Builder
	who := strings.ToUpper(string(s.Role))
	if k == KindAssist {
		who += " assist"
	}
	fmt.Fprintf(&b, "You are the %s. Invoke the `%s` skill. ", who, s.Skill)
	fmt.Fprintf(&b, "The project objective is: %s. ", in.Objective)
	fmt.Fprintf(&b, "The project root is: %s. ", in.ProjectRoot)
	fmt.Fprintf(&b, "The backlog script is at: %s. ", script)
	fmt.Fprintf(&b, "The backlog path is: %s. ", in.BacklogPath)
	b.WriteString("Read CLAUDE.md for context. ")
	if k == KindAssist {
		b.WriteString("Provide your [NOTES] and review findings. ")
	} else {
		b.WriteString("If you need clarification, list all questions prefixed with [QUESTIONS]. ")
	}
	b.WriteString("Do NOT use AskUserQuestion -- return questions to me. ")
	b.WriteString("When done, mark your task as completed via TaskUpdate.")
	if k == KindLead {
		if suffix, ok := gateSuffix[s.Phase]; ok {
			b.WriteString(" ")
			b.WriteString(suffix)
		}
	}
	return b.String()
}

// PromptResult is the output of `agent prompt`.
type PromptResult struct {
	Prompt string `json:"prompt"`
	Model  string `json:"model"`
	Name   string `json:"name"`
}

// BuildPrompt resolves the prompt, model and name for one agent.
func BuildPrompt(r types.Role, p types.Phase, k Kind, in PromptInput, models Models) (*PromptResult, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	s, err := Lookup(p, r)
	if err != nil {
		return nil, err
	}
	if k == "" {
		k = s.Kind
	}
	return &PromptResult{
		Prompt: render(s, k, in),
		Model:  models.Model(s),
		Name:   Name(r, p, k),
	}, nil
}
