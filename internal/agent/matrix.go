// Package agent holds the static agent matrix: which role runs in which
// phase, with which model, as lead or assist, and in which wave. It also
// renders the spawn prompts handed to each agent.
package agent

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sdlc-agency/agency/internal/types"
)

// Kind distinguishes the agent that owns a phase's output from the ones
// that contribute notes.
type Kind string

const (
	KindLead   Kind = "lead"
	KindAssist Kind = "assist"
)

// ParseKind validates a lead/assist value. The empty string is allowed and
// means "use the matrix default".
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case "", KindLead, KindAssist:
		return k, nil
	}
	return "", types.InvalidArgumentf("invalid agent type %q (valid: lead, assist)", s)
}

// Spec is one cell of the matrix.
type Spec struct {
	Phase       types.Phase
	Role        types.Role
	Model       string
	Kind        Kind
	Description string
	Skill       string
}

var matrix = []Spec{
	{types.PhasePlan, types.RolePM, "opus", KindLead, "Lead: produce PROJECT_BRIEF.md", "/pm plan"},
	{types.PhasePlan, types.RolePO, "sonnet", KindLead, "Lead: create backlog from brief", "/po plan"},
	{types.PhasePlan, types.RoleTL, "haiku", KindAssist, "Assist: risk notes", "/tl plan"},
	{types.PhasePlan, types.RoleDev, "haiku", KindAssist, "Assist: implementability notes", "/dev plan"},
	{types.PhasePlan, types.RoleQA, "haiku", KindAssist, "Assist: testability notes", "/qa plan"},

	{types.PhaseDesign, types.RoleTL, "opus", KindLead, "Lead: produce ARCHITECTURE.md", "/tl design"},
	{types.PhaseDesign, types.RoleDev, "haiku", KindAssist, "Assist: implementability review", "/dev design"},
	{types.PhaseDesign, types.RoleQA, "haiku", KindAssist, "Assist: testability review", "/qa design"},

	{types.PhaseValidate, types.RolePM, "opus", KindLead, "Lead: business validation", "/pm validate"},
	{types.PhaseValidate, types.RoleTL, "opus", KindLead, "Lead: technical validation", "/tl validate"},
	{types.PhaseValidate, types.RolePO, "haiku", KindAssist, "Assist: backlog alignment check", "/po validate"},

	{types.PhaseImplement, types.RoleDev, "sonnet", KindLead, "Lead: write production code", "/dev implement"},
	{types.PhaseImplement, types.RoleTL, "sonnet", KindAssist, "Assist: on-demand tech guidance", "/tl implement"},

	{types.PhaseReview, types.RoleTL, "sonnet", KindLead, "Lead: code review, produce REVIEW.md", "/tl review"},
	{types.PhaseReview, types.RoleQA, "haiku", KindAssist, "Assist: correctness review", "/qa review"},

	{types.PhaseTest, types.RoleQA, "sonnet", KindLead, "Lead: write/run tests, TEST_REPORT.md", "/qa test"},
	{types.PhaseTest, types.RoleTL, "haiku", KindAssist, "Assist: coverage review", "/tl test"},

	{types.PhaseDocument, types.RolePM, "sonnet", KindLead, "Lead: README.md, CHANGELOG.md", "/pm document"},
	{types.PhaseDocument, types.RoleTL, "sonnet", KindLead, "Lead: API_REFERENCE.md, ARCHITECTURE.md", "/tl document"},
	{types.PhaseDocument, types.RolePO, "haiku", KindAssist, "Assist: documentation verification", "/po document"},
	{types.PhaseDocument, types.RoleDev, "haiku", KindAssist, "Assist: developer documentation", "/dev document"},
	{types.PhaseDocument, types.RoleQA, "haiku", KindAssist, "Assist: test documentation", "/qa document"},
}

// waveOrder lists, per phase, the roles that run together. A wave starts
// once the previous one has finished.
var waveOrder = map[types.Phase][][]types.Role{
	types.PhasePlan:      {{types.RolePM}, {types.RoleTL, types.RoleDev, types.RoleQA}, {types.RolePO}},
	types.PhaseDesign:    {{types.RoleTL}, {types.RoleDev, types.RoleQA}},
	types.PhaseValidate:  {{types.RolePM, types.RoleTL}, {types.RolePO}},
	types.PhaseImplement: {{types.RoleDev, types.RoleTL}},
	types.PhaseReview:    {{types.RoleTL}, {types.RoleQA}},
	types.PhaseTest:      {{types.RoleQA}, {types.RoleTL}},
	types.PhaseDocument:  {{types.RolePM, types.RoleTL}, {types.RolePO, types.RoleDev, types.RoleQA}},
}

// Lookup returns the matrix entry for (p, r).
func Lookup(p types.Phase, r types.Role) (Spec, error) {
	for _, s := range matrix {
		if s.Phase == p && s.Role == r {
			return s, nil
		}
	}
	return Spec{}, types.InvalidArgumentf("No agent defined for role=%s, phase=%s", r, p)
}

// Name is the deterministic agent name: role-phase, with an -assist suffix
// for assists.
func Name(r types.Role, p types.Phase, k Kind) string {
	if k == KindAssist {
		return fmt.Sprintf("%s-%s-assist", r, p)
	}
	return fmt.Sprintf("%s-%s", r, p)
}

// FeatureName scopes an agent name to a feature pipeline. The feature is
// lowercased with spaces replaced by hyphens.
func FeatureName(r types.Role, p types.Phase, k Kind, feature string) string {
	slug := strings.ToLower(strings.ReplaceAll(feature, " ", "-"))
	if k == KindAssist {
		return fmt.Sprintf("%s-%s-%s-assist", r, p, slug)
	}
	return fmt.Sprintf("%s-%s-%s", r, p, slug)
}

// Agent is the JSON view of a matrix entry.
type Agent struct {
	Role         types.Role `json:"role"`
	Name         string     `json:"name"`
	Model        string     `json:"model"`
	Type         Kind       `json:"type"`
	Description  string     `json:"description,omitempty"`
	SkillCommand string     `json:"skill_command,omitempty"`
	Prompt       string     `json:"prompt,omitempty"`
	Stories      []string   `json:"stories,omitempty"`
}

func (s Spec) agent(models Models) Agent {
	return Agent{
		Role:         s.Role,
		Name:         Name(s.Role, s.Phase, s.Kind),
		Model:        models.Model(s),
		Type:         s.Kind,
		Description:  s.Description,
		SkillCommand: s.Skill,
	}
}

// List returns every agent of p in matrix order.
func List(p types.Phase, models Models) ([]Agent, error) {
	if !p.IsValid() {
		return nil, types.InvalidArgumentf("Invalid phase: %s", p)
	}
	var out []Agent
	for _, s := range matrix {
		if s.Phase == p {
			out = append(out, s.agent(models))
		}
	}
	if len(out) == 0 {
		return nil, types.InvalidArgumentf("No agents defined for phase: %s", p)
	}
	return out, nil
}

// Roles returns the roles active in p, sorted.
func Roles(p types.Phase) []types.Role {
	var roles []types.Role
	for _, wave := range waveOrder[p] {
		roles = append(roles, wave...)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })
	return roles
}

// Wave is one step of a phase's execution order.
type Wave struct {
	Wave      int     `json:"wave"`
	Parallel  bool    `json:"parallel"`
	Agents    []Agent `json:"agents"`
	BlockedBy *string `json:"blocked_by"`
}

// Order returns the waves of p. Every wave after the first is blocked by
// its predecessor ("wave_1", "wave_2", ...).
func Order(p types.Phase, models Models) ([]Wave, error) {
	order, ok := waveOrder[p]
	if !ok {
		return nil, types.InvalidArgumentf("Unknown phase: %s", p)
	}
	waves := make([]Wave, 0, len(order))
	for i, roles := range order {
		w := Wave{Wave: i + 1, Agents: []Agent{}}
		if i > 0 {
			prev := fmt.Sprintf("wave_%d", i)
			w.BlockedBy = &prev
		}
		for _, r := range roles {
			s, err := Lookup(p, r)
			if err != nil {
				continue
			}
			a := s.agent(models)
			a.Description, a.SkillCommand = "", ""
			w.Agents = append(w.Agents, a)
		}
		w.Parallel = len(w.Agents) > 1
		waves = append(waves, w)
	}
	return waves, nil
}
