package pipeline

import (
	"context"
	"fmt"

	"github.com/sdlc-agency/agency/internal/agent"
	"github.com/sdlc-agency/agency/internal/backlog"
	"github.com/sdlc-agency/agency/internal/types"
)

// ReadyStory is a story waiting for the next pipeline phase.
type ReadyStory struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	FeatureArea string `json:"feature_area"`
}

// ReadyResult is returned by ReadyFor.
type ReadyResult struct {
	Phase        types.Phase         `json:"phase"`
	ReadyStories []ReadyStory        `json:"ready_stories"`
	ReadyCount   int                 `json:"ready_count"`
	ByFeature    map[string][]string `json:"by_feature"`
}

// readyStatus is the story status that makes a story ready for a phase.
var readyStatus = map[types.Phase]types.StoryStatus{
	types.PhaseReview: types.StatusInProgress,
	types.PhaseTest:   types.StatusInReview,
}

// ReadyFor lists the stories ready for review (In Progress) or test
// (In Review), grouped by feature.
func ReadyFor(ctx context.Context, c backlog.Client, p types.Phase) (*ReadyResult, error) {
	status, ok := readyStatus[p]
	if !ok {
		return nil, types.InvalidArgumentf("Unsupported phase: %s. Valid: review, test", p)
	}
	list, err := c.List(ctx, backlog.ListOptions{
		Status: status,
		Fields: []string{"id", "title", "feature_area", "status"},
		Format: backlog.FormatJSON,
	})
	if err != nil {
		return nil, fmt.Errorf("list %s stories: %w", status, err)
	}
	res := &ReadyResult{Phase: p, ReadyStories: []ReadyStory{}, ByFeature: map[string][]string{}}
	for _, r := range list.Stories {
		s := ReadyStory{ID: r.String("id"), Title: r.String("title"), FeatureArea: r.String("feature_area")}
		if s.FeatureArea == "" {
			s.FeatureArea = Unclassified
		}
		res.ReadyStories = append(res.ReadyStories, s)
		res.ByFeature[s.FeatureArea] = append(res.ByFeature[s.FeatureArea], s.ID)
	}
	res.ReadyCount = len(res.ReadyStories)
	return res, nil
}

// AgentsResult is returned by Agents.
type AgentsResult struct {
	Feature string        `json:"feature"`
	Phase   types.Phase   `json:"phase"`
	Agents  []agent.Agent `json:"agents"`
}

// Agents returns the agents of p scoped to one feature pipeline: names
// carry the feature, prompts name it in the objective and each agent
// lists the feature's stories in the phase's start status.
func Agents(ctx context.Context, c backlog.Client, p types.Phase, feature string, in agent.PromptInput, models agent.Models) (*AgentsResult, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	m, err := backlog.ExpectedStatus(p)
	if err != nil {
		return nil, err
	}

	ids := []string{}
	if m.From != nil {
		list, err := c.List(ctx, backlog.ListOptions{
			Status: *m.From,
			Fields: []string{"id", "title", "feature_area"},
			Format: backlog.FormatJSON,
		})
		if err != nil {
			return nil, fmt.Errorf("list %s stories: %w", *m.From, err)
		}
		for _, r := range list.Stories {
			if r.String("feature_area") == feature {
				ids = append(ids, r.String("id"))
			}
		}
	}

	if feature != "" {
		in.Objective = fmt.Sprintf("%s (Feature: %s)", in.Objective, feature)
	}
	res := &AgentsResult{Feature: feature, Phase: p, Agents: []agent.Agent{}}
	for _, r := range agent.Roles(p) {
		spec, err := agent.Lookup(p, r)
		if err != nil {
			continue
		}
		prompt, err := agent.Prompt(r, p, spec.Kind, in)
		if err != nil {
			return nil, err
		}
		res.Agents = append(res.Agents, agent.Agent{
			Role:    r,
			Name:    agent.FeatureName(r, p, spec.Kind, feature),
			Model:   models.Model(spec),
			Type:    spec.Kind,
			Prompt:  prompt,
			Stories: ids,
		})
	}
	return res, nil
}
