// Package observer provides OTEL-based observability for the workflow
// engine.
//
// It exposes a Tracer (see tracer.go) for step invocation and
// transition spans, and a set of counters/histograms tracking bursts,
// kills, and fingerprint mismatches. Users export to any
// OTEL-compatible backend by setting standard OTEL env vars.
package observer

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const scopeName = "github.com/scidag/labflow/observer"

// Instruments holds the OTEL instruments for reporting workflow engine
// activity. Init creates them; the daemon discards them and the CLI
// does not use this package, so no measurements are recorded to them.
type Instruments struct {
	Tracer trace.Tracer
	Meter  metric.Meter

	// Counters
	Bursts                metric.Int64Counter
	StepInvocations        metric.Int64Counter
	StepErrors             metric.Int64Counter
	Kills                  metric.Int64Counter
	Revives                metric.Int64Counter
	FingerprintMismatches  metric.Int64Counter

	// Histograms
	StepDuration  metric.Float64Histogram
	BurstDuration metric.Float64Histogram
}

// Init sets up OTEL trace and metric providers with OTLP HTTP
// exporters. Configuration comes from standard OTEL env vars
// (OTEL_EXPORTER_OTLP_ENDPOINT, etc.). Returns a shutdown function that
// must be called on application exit.
func Init(ctx context.Context) (*Instruments, func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName("labflow")),
		resource.WithFromEnv(),
	)
	if err != nil {
		return nil, nil, err
	}

	traceExp, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	metricExp, err := otlpmetrichttp.New(ctx)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, nil, err
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	inst, err := newInstruments()
	if err != nil {
		_ = tp.Shutdown(ctx)
		_ = mp.Shutdown(ctx)
		return nil, nil, err
	}

	shutdown := func(ctx context.Context) error {
		return errors.Join(
			tp.Shutdown(ctx),
			mp.Shutdown(ctx),
		)
	}

	return inst, shutdown, nil
}

func newInstruments() (*Instruments, error) {
	tracer := otel.Tracer(scopeName)
	meter := otel.Meter(scopeName)

	bursts, err := meter.Int64Counter("labflow.bursts",
		metric.WithDescription("Daemon bursts executed"),
		metric.WithUnit("{burst}"))
	if err != nil {
		return nil, err
	}

	stepInvocations, err := meter.Int64Counter("labflow.step.invocations",
		metric.WithDescription("Step invocations"),
		metric.WithUnit("{invocation}"))
	if err != nil {
		return nil, err
	}

	stepErrors, err := meter.Int64Counter("labflow.step.errors",
		metric.WithDescription("Step invocations that ended in ERROR"),
		metric.WithUnit("{error}"))
	if err != nil {
		return nil, err
	}

	kills, err := meter.Int64Counter("labflow.kills",
		metric.WithDescription("Workflow kill operations"),
		metric.WithUnit("{kill}"))
	if err != nil {
		return nil, err
	}

	revives, err := meter.Int64Counter("labflow.revives",
		metric.WithDescription("Workflow revive operations"),
		metric.WithUnit("{revive}"))
	if err != nil {
		return nil, err
	}

	fingerprintMismatches, err := meter.Int64Counter("labflow.fingerprint_mismatches",
		metric.WithDescription("Detected script fingerprint mismatches"),
		metric.WithUnit("{mismatch}"))
	if err != nil {
		return nil, err
	}

	stepDuration, err := meter.Float64Histogram("labflow.step.duration",
		metric.WithDescription("Step body execution duration"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	burstDuration, err := meter.Float64Histogram("labflow.burst.duration",
		metric.WithDescription("Daemon burst duration"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	return &Instruments{
		Tracer:                tracer,
		Meter:                 meter,
		Bursts:                bursts,
		StepInvocations:       stepInvocations,
		StepErrors:            stepErrors,
		Kills:                 kills,
		Revives:               revives,
		FingerprintMismatches: fingerprintMismatches,
		StepDuration:          stepDuration,
		BurstDuration:         burstDuration,
	}, nil
}
