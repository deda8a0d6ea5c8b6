package backlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sdlc-agency/agency/internal/debug"
	"github.com/sdlc-agency/agency/internal/lockfile"
	"github.com/sdlc-agency/agency/internal/types"
	"github.com/sdlc-agency/agency/internal/utils"
)

// timeNow is swapped in tests.
var timeNow = func() time.Time { return time.Now().UTC() }

// Store reads and writes one backlog.json. Writes are atomic and
// serialized through an advisory lock on "<path>.lock".
type Store struct {
	path        string
	lockTimeout time.Duration
}

// NewStore returns a store for the backlog at path (made absolute).
func NewStore(path string, lockTimeout time.Duration) *Store {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return &Store{path: abs, lockTimeout: lockTimeout}
}

// Path returns the absolute backlog.json path.
func (s *Store) Path() string { return s.path }

// Load reads the backlog. A missing file yields an empty document that is
// not written until the first mutation.
func (s *Store) Load() (*Document, error) {
	data, err := os.ReadFile(s.path) // #nosec G304 - path chosen by the caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return newDocument(timeNow()), nil
		}
		return nil, fmt.Errorf("read backlog: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, types.ParseErrorf("Backlog %s is not valid JSON: %v", s.path, err)
	}
	doc.normalize()
	return &doc, nil
}

func (s *Store) mutate(ctx context.Context, fn func(doc *Document, now time.Time) error) error {
	lock, err := lockfile.Acquire(ctx, s.path, s.lockTimeout)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := lock.Release(); rerr != nil {
			debug.Logf("backlog: release lock: %v\n", rerr)
		}
	}()

	doc, err := s.Load()
	if err != nil {
		return err
	}
	now := timeNow()
	if err := fn(doc, now); err != nil {
		return err
	}
	doc.Metadata.UpdatedAt = now
	if err := utils.WriteJSONAtomic(s.path, doc); err != nil {
		return fmt.Errorf("write backlog: %w", err)
	}
	return nil
}

// InitResult is returned by Init.
type InitResult struct {
	Success bool   `json:"success"`
	Path    string `json:"path"`
}

// Init writes an empty backlog. It fails with AlreadyExists if the file is
// present.
func (s *Store) Init(ctx context.Context) (*InitResult, error) {
	lock, err := lockfile.Acquire(ctx, s.path, s.lockTimeout)
	if err != nil {
		return nil, err
	}
	defer func() { _ = lock.Release() }()

	if _, err := os.Stat(s.path); err == nil {
		return nil, types.AlreadyExistsf("Backlog already exists: %s", s.path)
	}
	if err := utils.WriteJSONAtomic(s.path, newDocument(timeNow())); err != nil {
		return nil, fmt.Errorf("write backlog: %w", err)
	}
	return &InitResult{Success: true, Path: s.path}, nil
}

// CreateRequest describes a new story.
type CreateRequest struct {
	ID       string
	Title    string
	Role     string
	Want     string
	Benefit  string
	Feature  string
	Priority types.Priority
	Notes    string
	AC       []AcceptanceCriterion
	Depends  []string
	Caller   types.Role
}

// CreateResult is returned by Create.
type CreateResult struct {
	Success bool   `json:"success"`
	ID      string `json:"id"`
}

// Create appends a Draft story. Only po and pm may create.
func (s *Store) Create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	if err := CheckPermission(OpCreate, req.Caller); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.ID) == "" {
		return nil, types.InvalidArgumentf("story id is required")
	}
	if !req.Priority.IsValid() {
		return nil, types.InvalidArgumentf("invalid priority %q (valid: Must, Should, Could, Won't)", req.Priority)
	}

	err := s.mutate(ctx, func(doc *Document, now time.Time) error {
		if st, _ := doc.find(req.ID); st != nil {
			return types.AlreadyExistsf("Story %s already exists", req.ID)
		}
		ac := req.AC
		if ac == nil {
			ac = []AcceptanceCriterion{}
		}
		doc.Stories = append(doc.Stories, &Story{
			ID:                 req.ID,
			Title:              req.Title,
			FeatureArea:        req.Feature,
			Priority:           req.Priority,
			Role:               req.Role,
			Want:               req.Want,
			Benefit:            req.Benefit,
			AcceptanceCriteria: ac,
			Notes:              req.Notes,
			Dependencies:       cleanIDs(req.Depends),
			Status:             types.StatusDraft,
			CreatedAt:          now,
			UpdatedAt:          now,
			CreatedBy:          req.Caller,
			History:            []HistoryEntry{{Action: ActionCreated, By: req.Caller, At: now}},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	debug.Logf("backlog: created %s\n", req.ID)
	return &CreateResult{Success: true, ID: req.ID}, nil
}

// EditRequest carries the fields to change; nil fields are left alone.
type EditRequest struct {
	ID       string
	Caller   types.Role
	Title    *string
	Role     *string
	Want     *string
	Benefit  *string
	Priority *types.Priority
	Notes    *string
	Feature  *string
	AC       *[]AcceptanceCriterion
	Depends  *[]string
}

// EditResult lists the changed fields.
type EditResult struct {
	Success bool     `json:"success"`
	ID      string   `json:"id"`
	Changes []string `json:"changes"`
}

// Edit updates story fields and records an "edited" history entry naming
// them. Only po, pm and tl may edit.
func (s *Store) Edit(ctx context.Context, req EditRequest) (*EditResult, error) {
	if err := CheckPermission(OpEdit, req.Caller); err != nil {
		return nil, err
	}
	if req.Priority != nil && !req.Priority.IsValid() {
		return nil, types.InvalidArgumentf("invalid priority %q (valid: Must, Should, Could, Won't)", *req.Priority)
	}

	changes := []string{}
	err := s.mutate(ctx, func(doc *Document, now time.Time) error {
		st, _ := doc.find(req.ID)
		if st == nil {
			return types.NotFoundf("Story %s not found", req.ID)
		}
		set := func(name string, dst *string, v *string) {
			if v != nil {
				*dst = *v
				changes = append(changes, name)
			}
		}
		set("title", &st.Title, req.Title)
		set("role", &st.Role, req.Role)
		set("want", &st.Want, req.Want)
		set("benefit", &st.Benefit, req.Benefit)
		if req.Priority != nil {
			st.Priority = *req.Priority
			changes = append(changes, "priority")
		}
		set("notes", &st.Notes, req.Notes)
		set("feature_area", &st.FeatureArea, req.Feature)
		if req.AC != nil {
			st.AcceptanceCriteria = *req.AC
			if st.AcceptanceCriteria == nil {
				st.AcceptanceCriteria = []AcceptanceCriterion{}
			}
			changes = append(changes, "acceptance_criteria")
		}
		if req.Depends != nil {
			st.Dependencies = cleanIDs(*req.Depends)
			changes = append(changes, "dependencies")
		}
		st.UpdatedAt = now
		st.History = append(st.History, HistoryEntry{Action: ActionEdited, By: req.Caller, At: now, Changes: changes})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &EditResult{Success: true, ID: req.ID, Changes: changes}, nil
}

// StatusResult reports a status change.
type StatusResult struct {
	Success   bool              `json:"success"`
	ID        string            `json:"id"`
	OldStatus types.StoryStatus `json:"old_status"`
	NewStatus types.StoryStatus `json:"new_status"`
}

// SetStatus records a status change. The target must be one of the ten
// statuses; whether the move is legal is ValidateTransition's concern.
func (s *Store) SetStatus(ctx context.Context, id string, status types.StoryStatus, caller types.Role) (*StatusResult, error) {
	if err := CheckPermission(OpStatus, caller); err != nil {
		return nil, err
	}
	if !status.IsValid() {
		return nil, types.InvalidArgumentf("Invalid status '%s'. Valid: %s", status, statusList())
	}

	res := &StatusResult{Success: true, ID: id, NewStatus: status}
	err := s.mutate(ctx, func(doc *Document, now time.Time) error {
		st, _ := doc.find(id)
		if st == nil {
			return types.NotFoundf("Story %s not found", id)
		}
		res.OldStatus = st.Status
		st.Status = status
		st.UpdatedAt = now
		st.History = append(st.History, HistoryEntry{
			Action: ActionStatusChange,
			By:     caller,
			From:   res.OldStatus,
			To:     status,
			At:     now,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func statusList() string {
	names := make([]string, 0, len(types.StoryStatuses()))
	for _, s := range types.StoryStatuses() {
		names = append(names, string(s))
	}
	return strings.Join(names, ", ")
}

// DeleteResult names the removed story.
type DeleteResult struct {
	Success bool   `json:"success"`
	Deleted string `json:"deleted"`
}

// Delete removes a story outright. Only po and pm may delete.
func (s *Store) Delete(ctx context.Context, id string, caller types.Role) (*DeleteResult, error) {
	if err := CheckPermission(OpDelete, caller); err != nil {
		return nil, err
	}
	err := s.mutate(ctx, func(doc *Document, _ time.Time) error {
		_, idx := doc.find(id)
		if idx < 0 {
			return types.NotFoundf("Story %s not found", id)
		}
		doc.Stories = append(doc.Stories[:idx], doc.Stories[idx+1:]...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &DeleteResult{Success: true, Deleted: id}, nil
}

// Get returns one story.
func (s *Store) Get(_ context.Context, id string) (*Story, error) {
	doc, err := s.Load()
	if err != nil {
		return nil, err
	}
	st, _ := doc.find(id)
	if st == nil {
		return nil, types.NotFoundf("Story %s not found", id)
	}
	return st, nil
}

// StatsResult aggregates story counts.
type StatsResult struct {
	Total      int            `json:"total"`
	ByStatus   map[string]int `json:"by_status"`
	ByPriority map[string]int `json:"by_priority"`
	ByFeature  map[string]int `json:"by_feature"`
}

// Stats counts stories by status, priority and feature area.
func (s *Store) Stats(_ context.Context) (*StatsResult, error) {
	doc, err := s.Load()
	if err != nil {
		return nil, err
	}
	res := &StatsResult{
		Total:      len(doc.Stories),
		ByStatus:   map[string]int{},
		ByPriority: map[string]int{},
		ByFeature:  map[string]int{},
	}
	for _, st := range doc.Stories {
		res.ByStatus[orDefault(string(st.Status), "Unknown")]++
		res.ByPriority[orDefault(string(st.Priority), "Unknown")]++
		res.ByFeature[orDefault(st.FeatureArea, "Uncategorized")]++
	}
	return res, nil
}

// NextID returns the next free "US-NNN" id (highest numeric id + 1).
func (s *Store) NextID(_ context.Context) (string, error) {
	doc, err := s.Load()
	if err != nil {
		return "", err
	}
	ids := make([]string, len(doc.Stories))
	for i, st := range doc.Stories {
		ids[i] = st.ID
	}
	return nextSequential("US-", ids), nil
}

// nextSequential returns prefix + (max numeric suffix + 1), zero padded
// to three digits. Ids with a non-numeric suffix are ignored.
func nextSequential(prefix string, ids []string) string {
	maxN := 0
	for _, id := range ids {
		if !strings.HasPrefix(id, prefix) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimPrefix(id, prefix))
		if err != nil {
			continue
		}
		if n > maxN {
			maxN = n
		}
	}
	return fmt.Sprintf("%s%03d", prefix, maxN+1)
}

// QuestionRequest creates a question, or resolves one when Resolve is set.
type QuestionRequest struct {
	ID      string
	Text    string
	Answer  string
	Resolve bool
	Caller  types.Role
}

// QuestionResult carries the created or resolved question.
type QuestionResult struct {
	Success  bool      `json:"success"`
	Question *Question `json:"question"`
}

// Question creates a "Q-NNN" question or resolves an existing one.
// Resolving again overwrites the answer.
func (s *Store) Question(ctx context.Context, req QuestionRequest) (*QuestionResult, error) {
	if err := CheckPermission(OpQuestion, req.Caller); err != nil {
		return nil, err
	}
	if req.Resolve && req.ID == "" {
		return nil, types.InvalidArgumentf("--resolve requires --id")
	}
	if !req.Resolve && strings.TrimSpace(req.Text) == "" {
		return nil, types.InvalidArgumentf("question text is required")
	}

	var out Question
	err := s.mutate(ctx, func(doc *Document, now time.Time) error {
		if req.Resolve {
			q := doc.findQuestion(req.ID)
			if q == nil {
				return types.NotFoundf("Question %s not found", req.ID)
			}
			q.Resolved = true
			if req.Answer != "" {
				q.Answer = req.Answer
			}
			q.ResolvedBy = req.Caller
			at := now
			q.ResolvedAt = &at
			out = *q
			return nil
		}

		id := req.ID
		if id == "" {
			ids := make([]string, len(doc.Questions))
			for i, q := range doc.Questions {
				ids[i] = q.ID
			}
			id = nextSequential("Q-", ids)
		} else if doc.findQuestion(id) != nil {
			return types.AlreadyExistsf("Question %s already exists", id)
		}
		q := &Question{
			ID:      id,
			Text:    req.Text,
			AskedBy: req.Caller,
			AskedAt: now,
			Answer:  req.Answer,
		}
		doc.Questions = append(doc.Questions, q)
		out = *q
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &QuestionResult{Success: true, Question: &out}, nil
}

// cleanIDs trims ids and drops empty and repeated entries.
func cleanIDs(ids []string) []string {
	out := []string{}
	seen := map[string]bool{}
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// SplitIDs parses a comma-separated id list.
func SplitIDs(s string) []string {
	return cleanIDs(strings.Split(s, ","))
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
