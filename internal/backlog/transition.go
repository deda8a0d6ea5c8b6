package backlog

import (
	"encoding/json"
	"fmt"

	"github.com/sdlc-agency/agency/internal/types"
)

// transitions maps each status to its legal successors, in display order.
// Done and Cancelled are terminal; Blocked can re-enter any active status.
var transitions = map[types.StoryStatus][]types.StoryStatus{
	types.StatusDraft:      {types.StatusReady, types.StatusCancelled},
	types.StatusReady:      {types.StatusInDesign, types.StatusCancelled},
	types.StatusInDesign:   {types.StatusValidated, types.StatusReady, types.StatusBlocked, types.StatusCancelled},
	types.StatusValidated:  {types.StatusInProgress, types.StatusInDesign, types.StatusBlocked, types.StatusCancelled},
	types.StatusInProgress: {types.StatusInReview, types.StatusValidated, types.StatusBlocked, types.StatusCancelled},
	types.StatusInReview:   {types.StatusInTesting, types.StatusInProgress, types.StatusBlocked, types.StatusCancelled},
	types.StatusInTesting:  {types.StatusDone, types.StatusInProgress, types.StatusBlocked, types.StatusCancelled},
	types.StatusDone:       {},
	types.StatusBlocked: {
		types.StatusDraft, types.StatusReady, types.StatusInDesign, types.StatusValidated,
		types.StatusInProgress, types.StatusInReview, types.StatusInTesting, types.StatusCancelled,
	},
	types.StatusCancelled: {},
}

// AllowedTargets returns the legal successors of from, or nil and false
// for an unknown status.
func AllowedTargets(from types.StoryStatus) ([]types.StoryStatus, bool) {
	t, ok := transitions[from]
	if !ok {
		return nil, false
	}
	out := make([]types.StoryStatus, len(t))
	copy(out, t)
	return out, true
}

// TransitionResult is the answer to ValidateTransition. AllowedTargets is
// nil only when the source status is unknown.
type TransitionResult struct {
	Valid          bool
	From           types.StoryStatus
	To             types.StoryStatus
	AllowedTargets []types.StoryStatus
	ValidStatuses  []types.StoryStatus
	Error          string
}

// MarshalJSON keeps allowed_targets (possibly empty) for known sources and
// reports valid_statuses instead for unknown ones.
func (r *TransitionResult) MarshalJSON() ([]byte, error) {
	if r.AllowedTargets == nil {
		return json.Marshal(struct {
			Valid         bool                `json:"valid"`
			Error         string              `json:"error"`
			ValidStatuses []types.StoryStatus `json:"valid_statuses"`
		}{r.Valid, r.Error, r.ValidStatuses})
	}
	return json.Marshal(struct {
		Valid          bool                `json:"valid"`
		From           types.StoryStatus   `json:"from"`
		To             types.StoryStatus   `json:"to"`
		AllowedTargets []types.StoryStatus `json:"allowed_targets"`
		Error          string              `json:"error,omitempty"`
	}{r.Valid, r.From, r.To, r.AllowedTargets, r.Error})
}

// ValidateTransition looks up whether from→to is a legal move. It reads no
// state and never fails: an unknown source is reported with the list of
// valid statuses.
func ValidateTransition(from, to types.StoryStatus) *TransitionResult {
	allowed, ok := AllowedTargets(from)
	if !ok {
		return &TransitionResult{
			Error:         fmt.Sprintf("Unknown source status: %s", from),
			ValidStatuses: types.StoryStatuses(),
		}
	}
	res := &TransitionResult{From: from, To: to, AllowedTargets: allowed}
	for _, s := range allowed {
		if s == to {
			res.Valid = true
			return res
		}
	}
	res.Error = fmt.Sprintf("Cannot transition from '%s' to '%s'", from, to)
	return res
}

// PhaseMapping is the story status movement associated with a phase.
type PhaseMapping struct {
	From  *types.StoryStatus `json:"from"`
	To    types.StoryStatus  `json:"to"`
	Agent types.Role         `json:"agent"`
}

func statusPtr(s types.StoryStatus) *types.StoryStatus { return &s }

var phaseStatus = map[types.Phase]PhaseMapping{
	types.PhasePlan:      {From: nil, To: types.StatusReady, Agent: types.RolePO},
	types.PhaseDesign:    {From: statusPtr(types.StatusReady), To: types.StatusInDesign, Agent: types.RoleTL},
	types.PhaseValidate:  {From: statusPtr(types.StatusInDesign), To: types.StatusValidated, Agent: types.RoleTL},
	types.PhaseImplement: {From: statusPtr(types.StatusValidated), To: types.StatusInProgress, Agent: types.RoleDev},
	types.PhaseReview:    {From: statusPtr(types.StatusInProgress), To: types.StatusInReview, Agent: types.RoleTL},
	types.PhaseTest:      {From: statusPtr(types.StatusInReview), To: types.StatusInTesting, Agent: types.RoleQA},
	types.PhaseDocument:  {From: statusPtr(types.StatusInTesting), To: types.StatusDone, Agent: types.RolePM},
}

// ExpectedStatus returns the story status movement for phase p.
func ExpectedStatus(p types.Phase) (PhaseMapping, error) {
	m, ok := phaseStatus[p]
	if !ok {
		return PhaseMapping{}, types.InvalidArgumentf("Unknown phase: %s", p)
	}
	return m, nil
}
