package agent

import (
	"context"

	"github.com/sdlc-agency/agency/internal/phase"
	"github.com/sdlc-agency/agency/internal/state"
	"github.com/sdlc-agency/agency/internal/types"
)

// Starter marks a phase in progress once its predecessor is complete.
// *state.Store implements it.
type Starter interface {
	StartPhase(ctx context.Context, p types.Phase) (*state.StartResult, error)
}

// PrepareOptions configures Prepare.
type PrepareOptions struct {
	Input       PromptInput
	SkipAssists bool
	Models      Models
}

// PreparedWave is a wave with prompts filled in. Empty waves are dropped.
type PreparedWave struct {
	Wave     int     `json:"wave"`
	Parallel bool    `json:"parallel"`
	Agents   []Agent `json:"agents"`
}

// Prepared is the result of Prepare. When the phase is blocked only
// Ready, BlockedBy and Reason are set.
type Prepared struct {
	Ready        bool                `json:"ready"`
	BlockedBy    *types.Phase        `json:"blocked_by,omitempty"`
	Reason       string              `json:"reason,omitempty"`
	Phase        types.Phase         `json:"phase,omitempty"`
	Goal         string              `json:"goal,omitempty"`
	HasGate      bool                `json:"has_gate"`
	StateUpdated bool                `json:"state_updated"`
	SkipAssists  bool                `json:"skip_assists"`
	Waves        []PreparedWave      `json:"waves,omitempty"`
	TotalAgents  int                 `json:"total_agents"`
	Artifacts    []phase.ArtifactRef `json:"artifacts,omitempty"`
}

// Prepare starts p and returns everything an orchestrator needs to spawn
// its agents in one call.
func Prepare(ctx context.Context, st Starter, p types.Phase, opts PrepareOptions) (*Prepared, error) {
	if err := opts.Input.Validate(); err != nil {
		return nil, err
	}
	info, err := phase.Lookup(p)
	if err != nil {
		return nil, err
	}

	start, err := st.StartPhase(ctx, p)
	if err != nil {
		return nil, err
	}
	if !start.Ready {
		return &Prepared{BlockedBy: start.BlockedBy, Reason: start.Reason}, nil
	}

	out := &Prepared{
		Ready:        true,
		Phase:        p,
		Goal:         info.Goal,
		HasGate:      info.HasGate,
		StateUpdated: start.StateUpdated,
		SkipAssists:  opts.SkipAssists,
		Waves:        []PreparedWave{},
	}
	for i, roles := range waveOrder[p] {
		w := PreparedWave{Wave: i + 1, Agents: []Agent{}}
		for _, r := range roles {
			s, err := Lookup(p, r)
			if err != nil {
				continue
			}
			if opts.SkipAssists && s.Kind == KindAssist {
				continue
			}
			a := s.agent(opts.Models)
			a.Description = ""
			a.Prompt = render(s, s.Kind, opts.Input)
			w.Agents = append(w.Agents, a)
		}
		if len(w.Agents) == 0 {
			continue
		}
		w.Parallel = len(w.Agents) > 1
		out.Waves = append(out.Waves, w)
		out.TotalAgents += len(w.Agents)
	}

	arts, err := phase.ResolveArtifacts(p, opts.Input.ProjectRoot)
	if err != nil {
		return nil, err
	}
	out.Artifacts = arts.Artifacts
	return out, nil
}
