package state

import (
	"context"
	"strings"
	"time"

	"github.com/sdlc-agency/agency/internal/types"
)

// Pipeline statuses accepted by UpsertPipeline.
const (
	PipelinePending    = "pending"
	PipelineInProgress = "in_progress"
	PipelineCompleted  = "completed"
	PipelineFailed     = "failed"
)

func validPipelineStatus(s string) bool {
	switch s {
	case PipelinePending, PipelineInProgress, PipelineCompleted, PipelineFailed:
		return true
	}
	return false
}

// UpsertPipeline records the status of a feature pipeline under
// phases.implement.pipelines, matching an existing record by feature.
func (s *Store) UpsertPipeline(ctx context.Context, feature, status, branch string) (*PipelineRecord, error) {
	feature = strings.TrimSpace(feature)
	status = strings.ToLower(strings.TrimSpace(status))
	if feature == "" {
		return nil, types.InvalidArgumentf("feature is required")
	}
	if !validPipelineStatus(status) {
		return nil, types.InvalidArgumentf("invalid pipeline status %q (valid: pending, in_progress, completed, failed)", status)
	}

	var out PipelineRecord
	_, err := s.mutate(ctx, func(doc *Document, now time.Time) error {
		ps := doc.Phases[types.PhaseImplement]
		ts := now
		for i := range ps.Pipelines {
			if ps.Pipelines[i].Feature == feature {
				ps.Pipelines[i].Status = status
				ps.Pipelines[i].UpdatedAt = &ts
				if branch != "" {
					ps.Pipelines[i].BranchName = branch
				}
				out = ps.Pipelines[i]
				return nil
			}
		}
		out = PipelineRecord{
			Feature:    feature,
			Phase:      types.PhaseImplement,
			Status:     status,
			BranchName: branch,
			UpdatedAt:  &ts,
		}
		ps.Pipelines = append(ps.Pipelines, out)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// PipelineSummary is one row of PipelineStatus.
type PipelineSummary struct {
	Feature string      `json:"feature"`
	Phase   types.Phase `json:"phase"`
	Status  string      `json:"status"`
}

// PipelineStatusResult lists recorded pipelines.
type PipelineStatusResult struct {
	Pipelines    []PipelineSummary `json:"pipelines"`
	AllCompleted bool              `json:"all_completed"`
}

// PipelineStatus reports recorded pipelines. all_completed is false when
// there are none.
func (s *Store) PipelineStatus(_ context.Context) (*PipelineStatusResult, error) {
	doc, err := s.Load()
	if err != nil {
		return nil, err
	}
	res := &PipelineStatusResult{Pipelines: []PipelineSummary{}}
	for _, p := range doc.Phases[types.PhaseImplement].Pipelines {
		row := PipelineSummary{Feature: p.Feature, Phase: p.Phase, Status: p.Status}
		if row.Phase == "" {
			row.Phase = types.PhaseImplement
		}
		if row.Status == "" {
			row.Status = "unknown"
		}
		res.Pipelines = append(res.Pipelines, row)
	}
	res.AllCompleted = len(res.Pipelines) > 0
	for _, p := range res.Pipelines {
		if p.Status != PipelineCompleted {
			res.AllCompleted = false
			break
		}
	}
	return res, nil
}
