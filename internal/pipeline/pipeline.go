// Package pipeline groups backlog stories into per-feature pipelines and
// layers those pipelines into waves that can run in parallel.
package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/sdlc-agency/agency/internal/backlog"
	"github.com/sdlc-agency/agency/internal/types"
)

// Unclassified is the feature area of stories that have none.
const Unclassified = "unclassified"

// Story is the subset of a backlog story the grouper needs.
type Story struct {
	ID           string
	Title        string
	FeatureArea  string
	Dependencies []string
}

// Group is one feature pipeline.
type Group struct {
	FeatureArea string   `json:"feature_area"`
	Stories     []string `json:"stories"`
	BranchName  string   `json:"branch_name"`
	CanParallel bool     `json:"can_parallel"`
	DependsOn   []string `json:"depends_on,omitempty"`
}

// Wave is a set of groups whose feature dependencies are all in earlier
// waves.
type Wave struct {
	Wave   int     `json:"wave"`
	Groups []Group `json:"groups"`
}

// Analysis is the result of grouping.
type Analysis struct {
	Waves                []Wave   `json:"waves"`
	TotalGroups          int      `json:"total_groups"`
	TotalStories         int      `json:"total_stories"`
	ParallelizableGroups int      `json:"parallelizable_groups"`
	HasCycle             bool     `json:"has_cycle"`
	UnassignedFeatures   []string `json:"unassigned_features,omitempty"`
	CycleFeatures        []string `json:"cycle_features,omitempty"`
	BlockedFeatures      []string `json:"blocked_features,omitempty"`
	Warning              string   `json:"warning,omitempty"`
	Message              string   `json:"message,omitempty"`
}

// featureNode is a feature in the dependency graph.
type featureNode struct {
	feature      string
	index        int // first-seen position
	stories      []string
	dependsOn    []string
	dependedOnBy []string
	wave         int
}

// BranchName is the git branch of a feature pipeline: feat/ plus the
// lowercased feature with spaces turned into hyphens.
func BranchName(feature string) string {
	return "feat/" + strings.ReplaceAll(strings.ToLower(feature), " ", "-")
}

// GroupStories builds feature groups and layers them into waves. A
// feature depends on another when one of its stories depends on a story
// of the other feature; dependencies on stories outside the input are
// ignored. Features caught in a cycle are reported as unassigned.
func GroupStories(stories []Story) *Analysis {
	nodes := map[string]*featureNode{}
	var order []*featureNode
	storyFeature := map[string]string{}
	for _, s := range stories {
		f := s.FeatureArea
		if f == "" {
			f = Unclassified
		}
		n, ok := nodes[f]
		if !ok {
			n = &featureNode{feature: f, index: len(order)}
			nodes[f] = n
			order = append(order, n)
		}
		n.stories = append(n.stories, s.ID)
		storyFeature[s.ID] = f
	}

	seen := map[[2]string]bool{}
	for _, s := range stories {
		from := storyFeature[s.ID]
		for _, dep := range s.Dependencies {
			to, ok := storyFeature[dep]
			if !ok || to == from || seen[[2]string{from, to}] {
				continue
			}
			seen[[2]string{from, to}] = true
			nodes[from].dependsOn = append(nodes[from].dependsOn, to)
			nodes[to].dependedOnBy = append(nodes[to].dependedOnBy, from)
		}
	}

	a := &Analysis{Waves: []Wave{}, TotalGroups: len(order), TotalStories: len(stories)}
	assigned := computeWaves(order, nodes)

	waves := map[int][]Group{}
	maxWave := 0
	for _, n := range order {
		if !assigned[n.feature] {
			a.UnassignedFeatures = append(a.UnassignedFeatures, n.feature)
			continue
		}
		g := Group{
			FeatureArea: n.feature,
			Stories:     n.stories,
			BranchName:  BranchName(n.feature),
			CanParallel: true,
		}
		for _, dep := range n.dependsOn {
			if assigned[dep] {
				g.DependsOn = append(g.DependsOn, BranchName(dep))
			}
		}
		if len(g.DependsOn) > 0 {
			g.CanParallel = false
		} else {
			a.ParallelizableGroups++
		}
		waves[n.wave] = append(waves[n.wave], g)
		if n.wave > maxWave {
			maxWave = n.wave
		}
	}
	for w := 1; w <= maxWave; w++ {
		if groups, ok := waves[w]; ok {
			a.Waves = append(a.Waves, Wave{Wave: w, Groups: groups})
		}
	}

	if len(a.UnassignedFeatures) > 0 {
		a.HasCycle = true
		for _, f := range a.UnassignedFeatures {
			if onCycle(nodes[f], assigned, nodes) {
				a.CycleFeatures = append(a.CycleFeatures, f)
			} else {
				a.BlockedFeatures = append(a.BlockedFeatures, f)
			}
		}
		a.Warning = fmt.Sprintf("Dependency cycle detected among features: %s.", strings.Join(a.CycleFeatures, ", "))
		if len(a.BlockedFeatures) > 0 {
			a.Warning += fmt.Sprintf(" Blocked behind the cycle: %s.", strings.Join(a.BlockedFeatures, ", "))
		}
		a.Warning += " These features were left out of the waves."
	}
	return a
}

// onCycle reports whether start can reach itself through dependencies
// between unassigned features.
func onCycle(start *featureNode, assigned map[string]bool, nodes map[string]*featureNode) bool {
	visited := map[string]bool{}
	stack := append([]string(nil), start.dependsOn...)
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if assigned[f] || visited[f] {
			continue
		}
		if f == start.feature {
			return true
		}
		visited[f] = true
		stack = append(stack, nodes[f].dependsOn...)
	}
	return false
}

// computeWaves assigns 1-based waves with Kahn layering and returns the
// set of assigned features. Groups within a wave keep first-seen order.
func computeWaves(order []*featureNode, nodes map[string]*featureNode) map[string]bool {
	inDegree := make(map[string]int, len(order))
	var currentWave []*featureNode
	for _, n := range order {
		inDegree[n.feature] = len(n.dependsOn)
		if inDegree[n.feature] == 0 {
			currentWave = append(currentWave, n)
		}
	}

	assigned := map[string]bool{}
	wave := 1
	for len(currentWave) > 0 {
		var nextWave []*featureNode
		for _, n := range currentWave {
			n.wave = wave
			assigned[n.feature] = true
			for _, dependent := range n.dependedOnBy {
				inDegree[dependent]--
				if inDegree[dependent] == 0 {
					nextWave = append(nextWave, nodes[dependent])
				}
			}
		}
		sort.Slice(nextWave, func(i, j int) bool { return nextWave[i].index < nextWave[j].index })
		currentWave = nextWave
		wave++
	}
	return assigned
}

// Analyze lists the stories in status (Validated when empty) and groups them.
func Analyze(ctx context.Context, c backlog.Client, status types.StoryStatus) (*Analysis, error) {
	if status == "" {
		status = types.StatusValidated
	}
	list, err := c.List(ctx, backlog.ListOptions{
		Status: status,
		Fields: []string{"id", "title", "feature_area", "dependencies"},
		Format: backlog.FormatJSON,
	})
	if err != nil {
		return nil, fmt.Errorf("list %s stories: %w", status, err)
	}
	if len(list.Stories) == 0 {
		return &Analysis{Waves: []Wave{}, Message: fmt.Sprintf("No stories found with status '%s'", status)}, nil
	}
	stories := make([]Story, 0, len(list.Stories))
	for _, r := range list.Stories {
		stories = append(stories, Story{
			ID:           r.String("id"),
			Title:        r.String("title"),
			FeatureArea:  r.String("feature_area"),
			Dependencies: r.Strings("dependencies"),
		})
	}
	return GroupStories(stories), nil
}
