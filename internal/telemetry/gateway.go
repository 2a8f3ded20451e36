package telemetry

import (
	"context"
	"io"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/steveyegge/nvguard/internal/device"
)

const gatewayScopeName = "github.com/steveyegge/nvguard/device"

// InstrumentedGateway wraps device.Gateway with OTel tracing and metrics.
// Every method gets a span and is counted in nvg.adb.* metrics.
type InstrumentedGateway struct {
	inner  device.Gateway
	tracer trace.Tracer
	ops    metric.Int64Counter
	dur    metric.Float64Histogram
	errs   metric.Int64Counter
}

// WrapGateway returns gw decorated with OTel instrumentation.
// When telemetry is disabled, gw is returned as-is.
func WrapGateway(gw device.Gateway) device.Gateway {
	if !Enabled() {
		return gw
	}
	return newInstrumentedGateway(gw)
}

func newInstrumentedGateway(gw device.Gateway) *InstrumentedGateway {
	m := Meter(gatewayScopeName)
	ops, _ := m.Int64Counter("nvg.adb.operations",
		metric.WithDescription("Total adb operations executed"),
	)
	dur, _ := m.Float64Histogram("nvg.adb.operation.duration",
		metric.WithDescription("adb operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	errs, _ := m.Int64Counter("nvg.adb.errors",
		metric.WithDescription("Total adb operation errors"),
	)
	return &InstrumentedGateway{
		inner:  gw,
		tracer: Tracer(gatewayScopeName),
		ops:    ops,
		dur:    dur,
		errs:   errs,
	}
}

func (g *InstrumentedGateway) op(ctx context.Context, name, id string, attrs ...attribute.KeyValue) (context.Context, trace.Span, time.Time) {
	all := append([]attribute.KeyValue{
		attribute.String("adb.operation", name),
		attribute.String("adb.device", id),
	}, attrs...)
	ctx, span := g.tracer.Start(ctx, "adb."+name,
		trace.WithAttributes(all...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
	g.ops.Add(ctx, 1, metric.WithAttributes(all[0]))
	return ctx, span, time.Now()
}

func (g *InstrumentedGateway) done(ctx context.Context, span trace.Span, start time.Time, name string, err error) {
	attrs := metric.WithAttributes(attribute.String("adb.operation", name))
	g.dur.Record(ctx, float64(time.Since(start).Milliseconds()), attrs)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		g.errs.Add(ctx, 1, attrs)
	}
	span.End()
}

func (g *InstrumentedGateway) ListDevices(ctx context.Context) ([]string, error) {
	ctx, span, t := g.op(ctx, "devices", "")
	ids, err := g.inner.ListDevices(ctx)
	span.SetAttributes(attribute.Int("adb.device_count", len(ids)))
	g.done(ctx, span, t, "devices", err)
	return ids, err
}

func (g *InstrumentedGateway) Shell(ctx context.Context, id, cmd string) (device.Result, error) {
	ctx, span, t := g.op(ctx, "shell", id, attribute.String("adb.command", cmd))
	res, err := g.inner.Shell(ctx, id, cmd)
	span.SetAttributes(attribute.Int("adb.exit_code", res.ExitCode))
	g.done(ctx, span, t, "shell", err)
	return res, err
}

func (g *InstrumentedGateway) PrivilegedShell(ctx context.Context, id, cmd string) (device.Result, error) {
	ctx, span, t := g.op(ctx, "su", id, attribute.String("adb.command", cmd))
	res, err := g.inner.PrivilegedShell(ctx, id, cmd)
	span.SetAttributes(attribute.Int("adb.exit_code", res.ExitCode))
	g.done(ctx, span, t, "su", err)
	return res, err
}

func (g *InstrumentedGateway) ExecOut(ctx context.Context, id, cmd string, w io.Writer) error {
	ctx, span, t := g.op(ctx, "exec-out", id, attribute.String("adb.command", cmd))
	err := g.inner.ExecOut(ctx, id, cmd, w)
	g.done(ctx, span, t, "exec-out", err)
	return err
}

func (g *InstrumentedGateway) Push(ctx context.Context, id, local, remote string) error {
	ctx, span, t := g.op(ctx, "push", id, attribute.String("adb.remote", remote))
	err := g.inner.Push(ctx, id, local, remote)
	g.done(ctx, span, t, "push", err)
	return err
}

func (g *InstrumentedGateway) Pull(ctx context.Context, id, remote, local string) error {
	ctx, span, t := g.op(ctx, "pull", id, attribute.String("adb.remote", remote))
	err := g.inner.Pull(ctx, id, remote, local)
	g.done(ctx, span, t, "pull", err)
	return err
}

func (g *InstrumentedGateway) Reboot(ctx context.Context, id string) error {
	ctx, span, t := g.op(ctx, "reboot", id)
	err := g.inner.Reboot(ctx, id)
	g.done(ctx, span, t, "reboot", err)
	return err
}

func (g *InstrumentedGateway) WaitOnline(ctx context.Context, id string) error {
	ctx, span, t := g.op(ctx, "wait", id)
	err := g.inner.WaitOnline(ctx, id)
	g.done(ctx, span, t, "wait", err)
	return err
}

var _ device.Gateway = (*InstrumentedGateway)(nil)
