// Package backlog implements the story store behind backlog.json: role-gated
// CRUD over user stories and questions with append-only history, the story
// status transition table, markdown rendering, and the batch orchestration
// operations that drive stories through SDLC phases.
package backlog

import (
	"time"

	"github.com/sdlc-agency/agency/internal/types"
)

// SchemaVersion is written to new backlog documents.
const SchemaVersion = "1.0"

// History actions.
const (
	ActionCreated      = "created"
	ActionEdited       = "edited"
	ActionStatusChange = "status_change"
)

// Document is the full backlog.json content.
type Document struct {
	Metadata  Metadata    `json:"metadata"`
	Stories   []*Story    `json:"stories"`
	Questions []*Question `json:"questions"`
}

// Metadata carries document timestamps.
type Metadata struct {
	Version   string    `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Story is a user story ("US-NNN").
type Story struct {
	ID                 string                `json:"id"`
	Title              string                `json:"title"`
	FeatureArea        string                `json:"feature_area"`
	Priority           types.Priority        `json:"priority"`
	Role               string                `json:"role"`
	Want               string                `json:"want"`
	Benefit            string                `json:"benefit"`
	AcceptanceCriteria []AcceptanceCriterion `json:"acceptance_criteria"`
	Notes              string                `json:"notes"`
	Dependencies       []string              `json:"dependencies"`
	Status             types.StoryStatus     `json:"status"`
	CreatedAt          time.Time             `json:"created_at"`
	UpdatedAt          time.Time             `json:"updated_at"`
	CreatedBy          types.Role            `json:"created_by"`
	History            []HistoryEntry        `json:"history"`
}

// AcceptanceCriterion is one Given/When/Then clause.
type AcceptanceCriterion struct {
	ID    string `json:"id,omitempty"`
	Given string `json:"given,omitempty"`
	When  string `json:"when,omitempty"`
	Then  string `json:"then,omitempty"`
}

// HistoryEntry records one mutation of a story. Entries are only appended.
type HistoryEntry struct {
	Action  string            `json:"action"`
	By      types.Role        `json:"by"`
	At      time.Time         `json:"at"`
	From    types.StoryStatus `json:"from,omitempty"`
	To      types.StoryStatus `json:"to,omitempty"`
	Changes []string          `json:"changes,omitempty"`
}

// Question is an open question raised by any role ("Q-NNN").
type Question struct {
	ID         string     `json:"id"`
	Text       string     `json:"text"`
	AskedBy    types.Role `json:"asked_by"`
	AskedAt    time.Time  `json:"asked_at"`
	Resolved   bool       `json:"resolved"`
	Answer     string     `json:"answer"`
	ResolvedBy types.Role `json:"resolved_by,omitempty"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

func newDocument(now time.Time) *Document {
	return &Document{
		Metadata:  Metadata{Version: SchemaVersion, CreatedAt: now, UpdatedAt: now},
		Stories:   []*Story{},
		Questions: []*Question{},
	}
}

// normalize fills nil collections so the document re-serializes with []
// rather than null.
func (d *Document) normalize() {
	if d.Stories == nil {
		d.Stories = []*Story{}
	}
	if d.Questions == nil {
		d.Questions = []*Question{}
	}
	if d.Metadata.Version == "" {
		d.Metadata.Version = SchemaVersion
	}
	for _, s := range d.Stories {
		if s.AcceptanceCriteria == nil {
			s.AcceptanceCriteria = []AcceptanceCriterion{}
		}
		if s.Dependencies == nil {
			s.Dependencies = []string{}
		}
		if s.History == nil {
			s.History = []HistoryEntry{}
		}
	}
}

// find returns the story with id and its index, or nil and -1.
func (d *Document) find(id string) (*Story, int) {
	for i, s := range d.Stories {
		if s.ID == id {
			return s, i
		}
	}
	return nil, -1
}

func (d *Document) findQuestion(id string) *Question {
	for _, q := range d.Questions {
		if q.ID == id {
			return q
		}
	}
	return nil
}
