package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/sdlc-agency/agency/internal/state"
	"github.com/sdlc-agency/agency/internal/types"
)

const stateScopeName = "github.com/sdlc-agency/agency/state"

// instruments holds the counters shared by the state and backlog wrappers.
type instruments struct {
	tracer trace.Tracer
	ops    metric.Int64Counter
	dur    metric.Float64Histogram
	errs   metric.Int64Counter
}

func newInstruments(scope, prefix string) instruments {
	m := Meter(scope)
	ops, _ := m.Int64Counter(prefix+".operations",
		metric.WithDescription("Total operations executed"),
	)
	dur, _ := m.Float64Histogram(prefix+".operation.duration",
		metric.WithDescription("Operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	errs, _ := m.Int64Counter(prefix+".errors",
		metric.WithDescription("Total operation errors by error code"),
	)
	return instruments{tracer: Tracer(scope), ops: ops, dur: dur, errs: errs}
}

// op starts a span and counts the named operation.
func (in instruments) op(ctx context.Context, spanPrefix, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span, time.Time) {
	all := append([]attribute.KeyValue{attribute.String("agency.operation", name)}, attrs...)
	ctx, span := in.tracer.Start(ctx, spanPrefix+"."+name, trace.WithAttributes(all...))
	in.ops.Add(ctx, 1, metric.WithAttributes(all...))
	return ctx, span, time.Now()
}

// done ends the span, records duration and the error code if any.
func (in instruments) done(ctx context.Context, span trace.Span, start time.Time, err error, attrs ...attribute.KeyValue) {
	ms := float64(time.Since(start).Milliseconds())
	in.dur.Record(ctx, ms, metric.WithAttributes(attrs...))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		in.errs.Add(ctx, 1, metric.WithAttributes(append(attrs, attribute.String("agency.error.code", types.Code(err)))...))
	}
	span.End()
}

func phaseAttr(p types.Phase) attribute.KeyValue {
	return attribute.String("agency.phase", string(p))
}

// InstrumentedMachine wraps a state.Machine with spans and
// agency.state.* metrics. Use WrapMachine to create one.
type InstrumentedMachine struct {
	inner state.Machine
	in    instruments
	phase metric.Int64Gauge
}

// WrapMachine returns m decorated with OTel instrumentation, or m itself
// when telemetry is disabled.
func WrapMachine(m state.Machine) state.Machine {
	if !Enabled() {
		return m
	}
	g, _ := Meter(stateScopeName).Int64Gauge("agency.state.completed_phases",
		metric.WithDescription("Completed phases after the last update"),
	)
	return &InstrumentedMachine{inner: m, in: newInstruments(stateScopeName, "agency.state"), phase: g}
}

func (s *InstrumentedMachine) Path() string { return s.inner.Path() }

func (s *InstrumentedMachine) Init(ctx context.Context, project, objective string) (*state.InitResult, error) {
	ctx, span, t := s.in.op(ctx, "state", "Init", attribute.String("agency.project", project))
	v, err := s.inner.Init(ctx, project, objective)
	s.in.done(ctx, span, t, err)
	return v, err
}

func (s *InstrumentedMachine) UpdatePhase(ctx context.Context, req state.UpdateRequest) (*state.UpdateResult, error) {
	attrs := []attribute.KeyValue{phaseAttr(req.Phase), attribute.String("agency.phase.status", string(req.Status))}
	ctx, span, t := s.in.op(ctx, "state", "UpdatePhase", attrs...)
	v, err := s.inner.UpdatePhase(ctx, req)
	s.in.done(ctx, span, t, err, attrs...)
	if err == nil {
		s.phase.Record(ctx, int64(v.CompletedPhases))
	}
	return v, err
}

func (s *InstrumentedMachine) RecordGate(ctx context.Context, req state.GateRequest) (*state.GateRecordResult, error) {
	attrs := []attribute.KeyValue{phaseAttr(req.Phase)}
	ctx, span, t := s.in.op(ctx, "state", "RecordGate", attrs...)
	v, err := s.inner.RecordGate(ctx, req)
	if err == nil {
		span.SetAttributes(
			attribute.Int("agency.gate.iteration", v.Iteration),
			attribute.String("agency.gate.verdict", string(v.VerdictRecord.Outcome())),
		)
	}
	s.in.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedMachine) Query(ctx context.Context, p types.Phase, field string) (interface{}, error) {
	ctx, span, t := s.in.op(ctx, "state", "Query", phaseAttr(p))
	v, err := s.inner.Query(ctx, p, field)
	s.in.done(ctx, span, t, err)
	return v, err
}

func (s *InstrumentedMachine) CanProceed(ctx context.Context, to types.Phase) (*state.CanProceedResult, error) {
	attrs := []attribute.KeyValue{phaseAttr(to)}
	ctx, span, t := s.in.op(ctx, "state", "CanProceed", attrs...)
	v, err := s.inner.CanProceed(ctx, to)
	if err == nil {
		span.SetAttributes(attribute.Bool("agency.allowed", v.Allowed))
	}
	s.in.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedMachine) Summary(ctx context.Context) (*state.SummaryResult, error) {
	ctx, span, t := s.in.op(ctx, "state", "Summary")
	v, err := s.inner.Summary(ctx)
	s.in.done(ctx, span, t, err)
	return v, err
}

func (s *InstrumentedMachine) StartPhase(ctx context.Context, p types.Phase) (*state.StartResult, error) {
	attrs := []attribute.KeyValue{phaseAttr(p)}
	ctx, span, t := s.in.op(ctx, "state", "StartPhase", attrs...)
	v, err := s.inner.StartPhase(ctx, p)
	s.in.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedMachine) UpsertPipeline(ctx context.Context, feature, status, branch string) (*state.PipelineRecord, error) {
	attrs := []attribute.KeyValue{attribute.String("agency.feature", feature)}
	ctx, span, t := s.in.op(ctx, "state", "UpsertPipeline", attrs...)
	v, err := s.inner.UpsertPipeline(ctx, feature, status, branch)
	s.in.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedMachine) PipelineStatus(ctx context.Context) (*state.PipelineStatusResult, error) {
	ctx, span, t := s.in.op(ctx, "state", "PipelineStatus")
	v, err := s.inner.PipelineStatus(ctx)
	s.in.done(ctx, span, t, err)
	return v, err
}

func (s *InstrumentedMachine) Snapshot(ctx context.Context) (*state.Document, error) {
	ctx, span, t := s.in.op(ctx, "state", "Snapshot")
	v, err := s.inner.Snapshot(ctx)
	s.in.done(ctx, span, t, err)
	return v, err
}
