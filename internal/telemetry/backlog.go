package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/sdlc-agency/agency/internal/backlog"
	"github.com/sdlc-agency/agency/internal/types"
)

const backlogScopeName = "github.com/sdlc-agency/agency/backlog"

// InstrumentedClient wraps a backlog.Client with spans and agency.backlog.*
// metrics. Use WrapClient to create one.
type InstrumentedClient struct {
	inner backlog.Client
	in    instruments
}

// WrapClient returns c decorated with OTel instrumentation, or c itself
// when telemetry is disabled.
func WrapClient(c backlog.Client) backlog.Client {
	if !Enabled() {
		return c
	}
	return &InstrumentedClient{inner: c, in: newInstruments(backlogScopeName, "agency.backlog")}
}

func (c *InstrumentedClient) BacklogPath() string { return c.inner.BacklogPath() }

func (c *InstrumentedClient) List(ctx context.Context, opts backlog.ListOptions) (*backlog.ListResult, error) {
	attrs := []attribute.KeyValue{attribute.String("agency.story.status", string(opts.Status))}
	ctx, span, t := c.in.op(ctx, "backlog", "List", attrs...)
	v, err := c.inner.List(ctx, opts)
	if err == nil {
		span.SetAttributes(attribute.Int("agency.story.count", v.Count))
	}
	c.in.done(ctx, span, t, err, attrs...)
	return v, err
}

func (c *InstrumentedClient) SetStatus(ctx context.Context, id string, status types.StoryStatus, caller types.Role) (*backlog.StatusResult, error) {
	attrs := []attribute.KeyValue{
		attribute.String("agency.story.status", string(status)),
		attribute.String("agency.caller", string(caller)),
	}
	ctx, span, t := c.in.op(ctx, "backlog", "SetStatus", append(attrs, attribute.String("agency.story.id", id))...)
	v, err := c.inner.SetStatus(ctx, id, status, caller)
	c.in.done(ctx, span, t, err, attrs...)
	return v, err
}

func (c *InstrumentedClient) NextID(ctx context.Context) (string, error) {
	ctx, span, t := c.in.op(ctx, "backlog", "NextID")
	v, err := c.inner.NextID(ctx)
	c.in.done(ctx, span, t, err)
	return v, err
}

func (c *InstrumentedClient) Create(ctx context.Context, req backlog.CreateRequest) (*backlog.CreateResult, error) {
	attrs := []attribute.KeyValue{attribute.String("agency.caller", string(req.Caller))}
	ctx, span, t := c.in.op(ctx, "backlog", "Create", append(attrs, attribute.String("agency.story.id", req.ID))...)
	v, err := c.inner.Create(ctx, req)
	c.in.done(ctx, span, t, err, attrs...)
	return v, err
}

func (c *InstrumentedClient) Render(ctx context.Context, output string) (*backlog.RenderResult, error) {
	ctx, span, t := c.in.op(ctx, "backlog", "Render")
	v, err := c.inner.Render(ctx, output)
	if err == nil {
		span.SetAttributes(attribute.Bool("agency.render.changed", v.Changed))
	}
	c.in.done(ctx, span, t, err)
	return v, err
}
