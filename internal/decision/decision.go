// Package decision keeps the append-only decision log in docs/DECISIONS.md.
//
// The file is markdown meant for humans: a summary table at the top, then
// one "## DEC-NNN: title" section per decision with "- **Key:** value"
// metadata lines. Adding a decision inserts a table row and appends a
// section; existing text is never rewritten.
package decision

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sdlc-agency/agency/internal/debug"
	"github.com/sdlc-agency/agency/internal/lockfile"
	"github.com/sdlc-agency/agency/internal/types"
	"github.com/sdlc-agency/agency/internal/utils"
)

// StatusActive is the status of every new decision.
const StatusActive = "Active"

const (
	logTitle    = "# Decision Log"
	tableHead   = "| ID | Phase | Agent | Title | Date |"
	tableRule   = "|-------|-------|-------|-------|------|"
	sectionRule = "---"
)

var (
	headerRe = regexp.MustCompile(`(?m)^## (DEC-\d+):[ \t]*(.+)$`)
	metaRe   = regexp.MustCompile(`^-\s+\*\*([^:]+):\*\*\s*(.+)$`)
	idRe     = regexp.MustCompile(`^DEC-(\d+)`)
)

// timeNow is swapped in tests.
var timeNow = func() time.Time { return time.Now().UTC() }

// Decision is one logged decision.
type Decision struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Phase        string `json:"phase"`
	Agent        string `json:"agent"`
	Date         string `json:"date"`
	Context      string `json:"context,omitempty"`
	Alternatives string `json:"alternatives,omitempty"`
	Decision     string `json:"decision,omitempty"`
	Impact       string `json:"impact,omitempty"`
	Status       string `json:"status"`
}

// Parse extracts every decision section from a DECISIONS.md body, in file
// order. Unknown metadata keys are ignored.
func Parse(content string) []Decision {
	matches := headerRe.FindAllStringSubmatchIndex(content, -1)
	out := make([]Decision, 0, len(matches))
	for i, m := range matches {
		d := Decision{
			ID:    content[m[2]:m[3]],
			Title: strings.TrimSpace(content[m[4]:m[5]]),
		}
		end := len(content)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		for _, line := range strings.Split(content[m[1]:end], "\n") {
			mm := metaRe.FindStringSubmatch(strings.TrimSpace(line))
			if mm == nil {
				continue
			}
			value := strings.TrimSpace(mm[2])
			switch strings.ToLower(strings.TrimSpace(mm[1])) {
			case "phase":
				d.Phase = value
			case "agent":
				d.Agent = value
			case "date":
				d.Date = value
			case "context":
				d.Context = value
			case "alternatives", "alternatives considered":
				d.Alternatives = value
			case "decision":
				d.Decision = value
			case "impact":
				d.Impact = value
			case "status":
				d.Status = value
			}
		}
		out = append(out, d)
	}
	return out
}

// NextID returns DEC-NNN one past the highest id in decisions.
func NextID(decisions []Decision) string {
	highest := 0
	for _, d := range decisions {
		if m := idRe.FindStringSubmatch(d.ID); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil && n > highest {
				highest = n
			}
		}
	}
	return fmt.Sprintf("DEC-%03d", highest+1)
}

// Log is one DECISIONS.md file.
type Log struct {
	path        string
	lockTimeout time.Duration
}

// NewLog returns the log stored at path (made absolute).
func NewLog(path string, lockTimeout time.Duration) *Log {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return &Log{path: abs, lockTimeout: lockTimeout}
}

// Path returns the absolute file path.
func (l *Log) Path() string { return l.path }

// read returns the file content; ok is false when the file does not exist.
func (l *Log) read() (content string, ok bool, err error) {
	data, err := os.ReadFile(l.path) // #nosec G304 - path chosen by the caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("read decisions: %w", err)
	}
	return string(data), true, nil
}

// AddRequest describes a new decision. Phase, Agent, Title and Context are
// required.
type AddRequest struct {
	Phase        string
	Agent        string
	Title        string
	Context      string
	Alternatives string
	Decision     string
	Impact       string
}

// AddResult is returned by Add.
type AddResult struct {
	Success  bool     `json:"success"`
	Decision Decision `json:"decision"`
	File     string   `json:"file"`
	Message  string   `json:"message"`
}

// Add appends a decision with the next free id and today's date.
func (l *Log) Add(ctx context.Context, req AddRequest) (*AddResult, error) {
	p, err := types.ParsePhase(req.Phase)
	if err != nil {
		return nil, err
	}
	r, err := types.ParseRole(req.Agent)
	if err != nil {
		return nil, err
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, types.InvalidArgumentf("title is required")
	}
	if strings.TrimSpace(req.Context) == "" {
		return nil, types.InvalidArgumentf("context is required")
	}

	lock, err := lockfile.Acquire(ctx, l.path, l.lockTimeout)
	if err != nil {
		return nil, err
	}
	defer func() {
		if rerr := lock.Release(); rerr != nil {
			debug.Logf("decision: release lock: %v\n", rerr)
		}
	}()

	content, _, err := l.read()
	if err != nil {
		return nil, err
	}
	d := Decision{
		ID:           NextID(Parse(content)),
		Title:        title,
		Phase:        string(p),
		Agent:        string(r),
		Date:         timeNow().Format("2006-01-02"),
		Context:      strings.TrimSpace(req.Context),
		Alternatives: strings.TrimSpace(req.Alternatives),
		Decision:     strings.TrimSpace(req.Decision),
		Impact:       strings.TrimSpace(req.Impact),
		Status:       StatusActive,
	}
	if err := utils.WriteFileAtomic(l.path, []byte(appendDecision(content, d)), 0o644); err != nil {
		return nil, fmt.Errorf("write decisions: %w", err)
	}
	return &AddResult{
		Success:  true,
		Decision: d,
		File:     l.path,
		Message:  fmt.Sprintf("Decision %s added to %s", d.ID, l.path),
	}, nil
}

// Filters echoes the list filters; nil means not filtered.
type Filters struct {
	Phase *string `json:"phase"`
	Agent *string `json:"agent"`
}

// ListResult is returned by List.
type ListResult struct {
	Decisions []Decision `json:"decisions"`
	Total     int        `json:"total"`
	Filters   Filters    `json:"filters"`
}

// List returns the decisions matching phase and agent (case-insensitive;
// empty matches all). A missing file lists nothing.
func (l *Log) List(phase, agent string) (*ListResult, error) {
	content, _, err := l.read()
	if err != nil {
		return nil, err
	}
	res := &ListResult{Decisions: []Decision{}}
	phase, agent = strings.ToLower(strings.TrimSpace(phase)), strings.ToLower(strings.TrimSpace(agent))
	if phase != "" {
		res.Filters.Phase = &phase
	}
	if agent != "" {
		res.Filters.Agent = &agent
	}
	for _, d := range Parse(content) {
		if phase != "" && strings.ToLower(d.Phase) != phase {
			continue
		}
		if agent != "" && strings.ToLower(d.Agent) != agent {
			continue
		}
		res.Decisions = append(res.Decisions, d)
	}
	res.Total = len(res.Decisions)
	return res, nil
}

// Get returns the decision with id (case-insensitive).
func (l *Log) Get(id string) (*Decision, error) {
	content, ok, err := l.read()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, types.NotFoundf("Decisions file not found: %s", l.path)
	}
	for _, d := range Parse(content) {
		if strings.EqualFold(d.ID, strings.TrimSpace(id)) {
			return &d, nil
		}
	}
	return nil, types.NotFoundf("Decision %s not found", id)
}

// Summary counts decisions per phase and agent.
type Summary struct {
	Total    int            `json:"total"`
	ByPhase  map[string]int `json:"by_phase"`
	ByAgent  map[string]int `json:"by_agent"`
	LatestID *string        `json:"latest_id"`
}

// Summarize returns the counts; LatestID is the last section in the file.
func (l *Log) Summarize() (*Summary, error) {
	content, _, err := l.read()
	if err != nil {
		return nil, err
	}
	decisions := Parse(content)
	s := &Summary{Total: len(decisions), ByPhase: map[string]int{}, ByAgent: map[string]int{}}
	for _, d := range decisions {
		s.ByPhase[d.Phase]++
		s.ByAgent[d.Agent]++
	}
	if n := len(decisions); n > 0 {
		latest := decisions[n-1].ID
		s.LatestID = &latest
	}
	return s, nil
}

func tableRow(d Decision) string {
	return fmt.Sprintf("| %s | %s | %s | %s | %s |", d.ID, d.Phase, d.Agent, d.Title, d.Date)
}

func formatSection(d Decision) string {
	lines := []string{
		fmt.Sprintf("## %s: %s", d.ID, d.Title),
		"- **Phase:** " + d.Phase,
		"- **Agent:** " + d.Agent,
		"- **Date:** " + d.Date,
	}
	for _, kv := range [][2]string{
		{"Context", d.Context},
		{"Alternatives considered", d.Alternatives},
		{"Decision", d.Decision},
		{"Impact", d.Impact},
	} {
		if kv[1] != "" {
			lines = append(lines, fmt.Sprintf("- **%s:** %s", kv[0], kv[1]))
		}
	}
	lines = append(lines, "- **Status:** "+d.Status)
	return strings.Join(lines, "\n")
}

// appendDecision adds d's table row after the last row of the summary
// table (creating the table under the title when absent), makes sure a
// "---" rule separates the table from the sections, and appends d's
// section at the end.
func appendDecision(content string, d Decision) string {
	var lines []string
	if strings.TrimSpace(content) == "" {
		lines = []string{logTitle}
	} else {
		lines = strings.Split(strings.TrimRight(content, "\n"), "\n")
	}

	if end := tableEnd(lines); end >= 0 {
		lines = insertLines(lines, end, tableRow(d))
	} else {
		at := 0
		for i, line := range lines {
			if strings.HasPrefix(line, logTitle) {
				at = i + 1
				break
			}
		}
		block := []string{tableHead, tableRule, tableRow(d)}
		if at > 0 {
			block = append([]string{""}, block...)
		} else {
			block = append(block, "")
		}
		lines = insertLines(lines, at, block...)
	}

	hasRule := false
	for _, line := range lines {
		if strings.TrimSpace(line) == sectionRule {
			hasRule = true
			break
		}
	}
	if !hasRule {
		lines = append(lines, "", sectionRule)
	}
	return strings.Join(lines, "\n") + "\n\n" + formatSection(d) + "\n"
}

// tableEnd returns the index just past the last row of the summary table,
// or -1 when the file has no table.
func tableEnd(lines []string) int {
	for i, line := range lines {
		if !strings.HasPrefix(strings.TrimSpace(line), "| ID |") {
			continue
		}
		j := i + 1
		for j < len(lines) && strings.HasPrefix(strings.TrimSpace(lines[j]), "|") {
			j++
		}
		return j
	}
	return -1
}

func insertLines(lines []string, at int, add ...string) []string {
	out := make([]string, 0, len(lines)+len(add))
	out = append(out, lines[:at]...)
	out = append(out, add...)
	return append(out, lines[at:]...)
}
