package state

import (
	"context"

	"github.com/sdlc-agency/agency/internal/types"
)

// Machine is the set of state operations the CLI drives. *Store implements
// it; telemetry wraps it.
type Machine interface {
	Path() string
	Init(ctx context.Context, project, objective string) (*InitResult, error)
	UpdatePhase(ctx context.Context, req UpdateRequest) (*UpdateResult, error)
	RecordGate(ctx context.Context, req GateRequest) (*GateRecordResult, error)
	Query(ctx context.Context, p types.Phase, field string) (interface{}, error)
	CanProceed(ctx context.Context, to types.Phase) (*CanProceedResult, error)
	Summary(ctx context.Context) (*SummaryResult, error)
	StartPhase(ctx context.Context, p types.Phase) (*StartResult, error)
	UpsertPipeline(ctx context.Context, feature, status, branch string) (*PipelineRecord, error)
	PipelineStatus(ctx context.Context) (*PipelineStatusResult, error)
	Snapshot(ctx context.Context) (*Document, error)
}

var _ Machine = (*Store)(nil)
