package backlog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/sdlc-agency/agency/internal/types"
	"github.com/sdlc-agency/agency/internal/utils"
)

const generatedPrefix = "> Auto-generated from `backlog.json`"

// RenderResult describes a BACKLOG.md render.
type RenderResult struct {
	Success      bool   `json:"success"`
	Path         string `json:"path"`
	Stories      int    `json:"stories"`
	Changed      bool   `json:"changed"`
	LinesAdded   int    `json:"lines_added"`
	LinesRemoved int    `json:"lines_removed"`
}

// Render writes the human-readable markdown view of the backlog to output
// and reports how it differs from the file it replaces. The generation
// timestamp line is ignored when comparing.
func (s *Store) Render(_ context.Context, output string) (*RenderResult, error) {
	if output == "" {
		return nil, types.InvalidArgumentf("--output is required")
	}
	doc, err := s.Load()
	if err != nil {
		return nil, err
	}
	content := RenderMarkdown(doc, s.path)

	previous, err := os.ReadFile(output) // #nosec G304 - render target chosen by the caller
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read previous render: %w", err)
	}
	added, removed := lineDelta(stripGenerated(string(previous)), stripGenerated(content))

	if err := utils.WriteFileAtomic(output, []byte(content), 0o644); err != nil {
		return nil, fmt.Errorf("write render: %w", err)
	}
	return &RenderResult{
		Success:      true,
		Path:         output,
		Stories:      len(doc.Stories),
		Changed:      added > 0 || removed > 0,
		LinesAdded:   added,
		LinesRemoved: removed,
	}, nil
}

// lineDelta counts inserted and deleted lines between two texts.
func lineDelta(before, after string) (added, removed int) {
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)
	for _, d := range diffs {
		n := strings.Count(d.Text, "\n")
		if !strings.HasSuffix(d.Text, "\n") && d.Text != "" {
			n++
		}
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			added += n
		case diffmatchpatch.DiffDelete:
			removed += n
		}
	}
	return added, removed
}

func stripGenerated(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, l := range lines {
		if strings.HasPrefix(l, generatedPrefix) {
			continue
		}
		out = append(out, l)
	}
	return strings.Join(out, "\n")
}

// RenderMarkdown builds BACKLOG.md: a notice for agents, a status summary,
// stories grouped by feature area, a mermaid dependency map and the
// question table.
func RenderMarkdown(doc *Document, backlogPath string) string {
	var b strings.Builder
	line := func(format string, args ...interface{}) {
		fmt.Fprintf(&b, format, args...)
		b.WriteByte('\n')
	}

	line("<!-- AGENT NOTICE: This file is auto-generated and for HUMAN reading only.")
	line("     DO NOT read this file to query backlog data. Use the agency CLI instead:")
	line("     - Overview: agency story stats %s", backlogPath)
	line("     - List:     agency story list %s --format summary", backlogPath)
	line("     - Detail:   agency story get %s --id US-XXX", backlogPath)
	line("     Reading this file wastes context tokens and may contain stale data. -->")
	line("")
	line("# Product Backlog")
	line("")
	line("%s - %s", generatedPrefix, timeNow().Format("2006-01-02 15:04 UTC"))
	line("")

	line("## Summary")
	line("")
	line("| Status | Count |")
	line("|--------|-------|")
	counts := map[types.StoryStatus]int{}
	for _, st := range doc.Stories {
		counts[st.Status]++
	}
	for _, st := range types.StoryStatuses() {
		if n := counts[st]; n > 0 {
			line("| %s | %d |", st, n)
		}
	}
	line("| **Total** | **%d** |", len(doc.Stories))
	line("")

	line("## User Stories")
	line("")
	var order []string
	byFeature := map[string][]*Story{}
	for _, st := range doc.Stories {
		fa := orDefault(st.FeatureArea, "Uncategorized")
		if _, ok := byFeature[fa]; !ok {
			order = append(order, fa)
		}
		byFeature[fa] = append(byFeature[fa], st)
	}
	for _, fa := range order {
		line("### Feature Area: %s", fa)
		line("")
		for _, st := range byFeature[fa] {
			line("#### %s: %s", st.ID, st.Title)
			line("")
			line("**Priority:** %s | **Status:** %s", orDefault(string(st.Priority), "-"), st.Status)
			line("")
			line("> As a *%s*, I want *%s*, so that *%s*.",
				orDefault(st.Role, "..."), orDefault(st.Want, "..."), orDefault(st.Benefit, "..."))
			line("")
			if len(st.AcceptanceCriteria) > 0 {
				line("**Acceptance Criteria:**")
				line("")
				for _, ac := range st.AcceptanceCriteria {
					line("- **%s:** Given *%s*, when *%s*, then *%s*",
						orDefault(ac.ID, "-"), orDefault(ac.Given, "..."), orDefault(ac.When, "..."), orDefault(ac.Then, "..."))
				}
				line("")
			}
			if st.Notes != "" {
				line("**Notes:** %s", st.Notes)
				line("")
			}
			if len(st.Dependencies) > 0 {
				line("**Depends on:** %s", strings.Join(st.Dependencies, ", "))
				line("")
			}
			line("---")
			line("")
		}
	}

	var edges [][2]string
	for _, st := range doc.Stories {
		for _, d := range st.Dependencies {
			edges = append(edges, [2]string{st.ID, d})
		}
	}
	if len(edges) > 0 {
		line("## Story Dependency Map")
		line("")
		line("```mermaid")
		line("graph LR")
		for _, e := range edges {
			line(`    %s["%s"] --> %s["%s"]`, mermaidID(e[0]), e[0], mermaidID(e[1]), e[1])
		}
		line("```")
		line("")
	}

	if len(doc.Questions) > 0 {
		line("## Open Questions")
		line("")
		line("| # | Question | Status | Answer |")
		line("|---|---------|--------|--------|")
		for _, q := range doc.Questions {
			status := "Open"
			if q.Resolved {
				status = "Resolved"
			}
			line("| %s | %s | %s | %s |", q.ID, q.Text, status, orDefault(q.Answer, "-"))
		}
		line("")
	}
	return b.String()
}

func mermaidID(id string) string {
	return strings.ReplaceAll(id, "-", "")
}
