package backlog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sdlc-agency/agency/internal/debug"
	"github.com/sdlc-agency/agency/internal/types"
)

// RenderPath is where orchestration operations render BACKLOG.md: next to
// the backlog file.
func RenderPath(backlogPath string) string {
	return filepath.Join(filepath.Dir(backlogPath), "BACKLOG.md")
}

// ItemResult is the per-story outcome of a batch operation.
type ItemResult struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// PhaseTransitionResult reports a bulk status move.
type PhaseTransitionResult struct {
	Skipped      bool              `json:"skipped,omitempty"`
	Reason       string            `json:"reason,omitempty"`
	Transitioned int               `json:"transitioned"`
	From         types.StoryStatus `json:"from,omitempty"`
	To           types.StoryStatus `json:"to,omitempty"`
	Results      []ItemResult      `json:"results,omitempty"`
	Message      string            `json:"message,omitempty"`
	Rendered     bool              `json:"rendered"`
}

// PhaseTransition moves every story in the phase's start status to its end
// status and renders once. Per-story failures are reported, not fatal.
// Plan creates stories and is skipped.
func PhaseTransition(ctx context.Context, c Client, p types.Phase, caller types.Role) (*PhaseTransitionResult, error) {
	m, err := ExpectedStatus(p)
	if err != nil {
		return nil, err
	}
	if m.From == nil {
		return &PhaseTransitionResult{Skipped: true, Reason: "Plan phase creates stories, no transition needed"}, nil
	}

	list, err := c.List(ctx, ListOptions{Status: *m.From, Fields: []string{"id", "title", "status"}, Format: FormatJSON})
	if err != nil {
		return nil, fmt.Errorf("list %s stories: %w", *m.From, err)
	}
	res := &PhaseTransitionResult{From: *m.From, To: m.To}
	if len(list.Stories) == 0 {
		res.Message = fmt.Sprintf("No stories in '%s' status", *m.From)
		return res, nil
	}

	for _, row := range list.Stories {
		id := row.String("id")
		item := ItemResult{ID: id, Success: true}
		if _, err := c.SetStatus(ctx, id, m.To, caller); err != nil {
			item.Success = false
			item.Error = err.Error()
			debug.Logf("backlog: transition %s: %v\n", id, err)
		}
		res.Results = append(res.Results, item)
	}
	res.Transitioned = len(res.Results)
	res.Rendered = renderOnce(ctx, c)
	return res, nil
}

func renderOnce(ctx context.Context, c Client) bool {
	if _, err := c.Render(ctx, RenderPath(c.BacklogPath())); err != nil {
		debug.Warnf("backlog render failed: %v", err)
		return false
	}
	return true
}

// BatchStory is one element of a batch-create input file.
type BatchStory struct {
	Title    string                `json:"title"`
	Role     string                `json:"role"`
	Want     string                `json:"want"`
	Benefit  string                `json:"benefit"`
	Feature  string                `json:"feature"`
	Priority types.Priority        `json:"priority"`
	Notes    string                `json:"notes"`
	AC       []AcceptanceCriterion `json:"ac"`
	Depends  dependsList           `json:"depends"`
}

// dependsList accepts either "US-001,US-002" or ["US-001","US-002"].
type dependsList []string

func (d *dependsList) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*d = SplitIDs(s)
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("depends must be a string or an array of strings")
	}
	*d = cleanIDs(list)
	return nil
}

// ReadBatchFile parses a JSON array of stories.
func ReadBatchFile(path string) ([]BatchStory, error) {
	data, err := os.ReadFile(path) // #nosec G304 - input file chosen by the caller
	if err != nil {
		return nil, types.NotFoundf("Input file not found: %s", path)
	}
	var raw json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, types.ParseErrorf("Input %s is not valid JSON: %v", path, err)
	}
	if trimmed := strings.TrimSpace(string(raw)); !strings.HasPrefix(trimmed, "[") {
		return nil, types.InvalidArgumentf("Input JSON must be an array of story objects")
	}
	var stories []BatchStory
	if err := json.Unmarshal(raw, &stories); err != nil {
		return nil, types.ParseErrorf("Input %s: %v", path, err)
	}
	return stories, nil
}

// BatchCreateResult reports a batch create.
type BatchCreateResult struct {
	Created  int          `json:"created"`
	Results  []ItemResult `json:"results"`
	Rendered bool         `json:"rendered"`
}

// BatchCreate creates each story under the next free id and renders once.
func BatchCreate(ctx context.Context, c Client, caller types.Role, stories []BatchStory) (*BatchCreateResult, error) {
	res := &BatchCreateResult{Results: []ItemResult{}}
	for _, bs := range stories {
		id, err := c.NextID(ctx)
		if err != nil {
			return nil, fmt.Errorf("next id: %w", err)
		}
		item := ItemResult{ID: id, Success: true}
		_, err = c.Create(ctx, CreateRequest{
			ID:       id,
			Title:    bs.Title,
			Role:     bs.Role,
			Want:     bs.Want,
			Benefit:  bs.Benefit,
			Feature:  bs.Feature,
			Priority: bs.Priority,
			Notes:    bs.Notes,
			AC:       bs.AC,
			Depends:  bs.Depends,
			Caller:   caller,
		})
		if err != nil {
			item.Success = false
			item.Error = err.Error()
		} else {
			res.Created++
		}
		res.Results = append(res.Results, item)
	}
	res.Rendered = renderOnce(ctx, c)
	return res, nil
}

// QueryProfile is a predefined field/format combination.
type QueryProfile struct {
	Name   string   `json:"profile"`
	Fields []string `json:"fields"`
	Format string   `json:"format"`
}

var queryProfiles = []QueryProfile{
	{Name: "minimal", Fields: []string{"id", "title", "status"}, Format: FormatSummary},
	{Name: "full", Format: FormatJSON},
	{Name: "audit", Format: FormatJSON},
	{Name: "ids", Fields: []string{"id"}, Format: FormatSummary},
	{Name: "ac", Fields: []string{"id", "title", "acceptance_criteria"}, Format: FormatJSON},
	{Name: "progress", Fields: []string{"id", "title", "status", "priority"}, Format: FormatSummary},
}

// auditFields adds the bookkeeping fields the audit profile needs.
var auditFields = append(append([]string{}, DefaultJSONFields...), "created_at", "updated_at", "created_by", "history")

// LookupProfile returns the named query profile.
func LookupProfile(name string) (QueryProfile, error) {
	for _, p := range queryProfiles {
		if p.Name == name {
			return p, nil
		}
	}
	names := make([]string, len(queryProfiles))
	for i, p := range queryProfiles {
		names[i] = p.Name
	}
	return QueryProfile{}, types.InvalidArgumentf("Unknown profile: %s. Valid: %s", name, strings.Join(names, ", "))
}

// Query lists stories for a phase through a profile. The status filter is
// the phase's start status unless status overrides it.
func Query(ctx context.Context, c Client, p types.Phase, profile string, status types.StoryStatus) (*ListResult, error) {
	prof, err := LookupProfile(profile)
	if err != nil {
		return nil, err
	}
	if status == "" {
		if m, err := ExpectedStatus(p); err == nil && m.From != nil {
			status = *m.From
		}
	}
	fields := prof.Fields
	if prof.Name == "audit" {
		fields = auditFields
	}
	return c.List(ctx, ListOptions{Status: status, Fields: fields, Format: prof.Format})
}

// OrderedStory is one entry of a dependency ordering.
type OrderedStory struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Status       string   `json:"status"`
	Dependencies []string `json:"dependencies"`
}

// DependencyOrder is returned by ResolveDependencies.
type DependencyOrder struct {
	Ordered      []OrderedStory `json:"ordered"`
	Count        int            `json:"count"`
	HasCycle     bool           `json:"has_cycle"`
	CycleWarning *string        `json:"cycle_warning"`
	Message      string         `json:"message,omitempty"`
}

// ResolveDependencies orders stories so dependencies come first (Kahn's
// algorithm, lexicographic tie-break). With id set, only that story and its
// transitive dependencies are ordered. Stories caught in a cycle are left
// out and reported through has_cycle.
func ResolveDependencies(ctx context.Context, c Client, id string) (*DependencyOrder, error) {
	list, err := c.List(ctx, ListOptions{Fields: []string{"id", "title", "dependencies", "status"}, Format: FormatJSON})
	if err != nil {
		return nil, err
	}
	if len(list.Stories) == 0 {
		return &DependencyOrder{Ordered: []OrderedStory{}, Message: "No stories found"}, nil
	}

	rows := map[string]Row{}
	deps := map[string][]string{}
	var all []string
	for _, r := range list.Stories {
		sid := r.String("id")
		rows[sid] = r
		deps[sid] = cleanIDs(r.Strings("dependencies"))
		all = append(all, sid)
	}

	chain := all
	if id != "" {
		if _, ok := rows[id]; !ok {
			return nil, types.NotFoundf("Story %s not found", id)
		}
		chain = transitiveDeps(id, deps)
	}

	ordered := kahnOrder(chain, deps)
	res := &DependencyOrder{Ordered: []OrderedStory{}, HasCycle: len(ordered) != len(chain)}
	for _, sid := range ordered {
		r, ok := rows[sid]
		if !ok {
			continue
		}
		res.Ordered = append(res.Ordered, OrderedStory{
			ID:           sid,
			Title:        r.String("title"),
			Status:       r.String("status"),
			Dependencies: deps[sid],
		})
	}
	res.Count = len(res.Ordered)
	if res.HasCycle {
		w := "Circular dependency detected -- some stories could not be ordered"
		res.CycleWarning = &w
	}
	return res, nil
}

// transitiveDeps walks dependencies breadth first from root. The result
// includes root and any referenced ids, known or not.
func transitiveDeps(root string, deps map[string][]string) []string {
	var chain []string
	visited := map[string]bool{}
	queue := []string{root}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if visited[cur] {
			continue
		}
		visited[cur] = true
		chain = append(chain, cur)
		for _, d := range deps[cur] {
			if !visited[d] {
				queue = append(queue, d)
			}
		}
	}
	return chain
}

// kahnOrder topologically sorts nodes, always emitting the smallest ready
// id next. Dependencies outside nodes are ignored. Nodes on a cycle are
// never emitted.
func kahnOrder(nodes []string, deps map[string][]string) []string {
	in := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		in[n] = true
	}
	indegree := make(map[string]int, len(nodes))
	dependents := map[string][]string{}
	for _, n := range nodes {
		for _, d := range deps[n] {
			if in[d] {
				indegree[n]++
				dependents[d] = append(dependents[d], n)
			}
		}
	}

	var ready []string
	for _, n := range nodes {
		if indegree[n] == 0 {
			ready = append(ready, n)
		}
	}
	var out []string
	for len(ready) > 0 {
		sort.Strings(ready)
		cur := ready[0]
		ready = ready[1:]
		out = append(out, cur)
		for _, dep := range dependents[cur] {
			indegree[dep]--
			if indegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}
	return out
}
