package observability

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/signalsfoundry/satcom-simulator/internal/logging"
)

// Environment variables read by TracingConfigFromEnv.
const (
	EnvTracingEnabled  = "SATCOM_TRACING_ENABLED"
	EnvTracingExporter = "SATCOM_TRACING_EXPORTER"
	EnvTracingFile     = "SATCOM_TRACING_FILE"
	EnvTracingService  = "SATCOM_TRACING_SERVICE_NAME"
	EnvTracingRatio    = "SATCOM_TRACING_SAMPLE_RATIO"
	EnvOTLPEndpoint    = "SATCOM_OTLP_ENDPOINT"
)

const defaultOTLPEndpoint = "localhost:4317"

// TracingConfig selects the span exporter and sampling of a run.
type TracingConfig struct {
	Enabled bool
	// Exporter is stdout, file or otlp.
	Exporter string
	// Endpoint is the OTLP collector address.
	Endpoint string
	// File receives the spans when Exporter is file.
	File        string
	SampleRatio float64

	ServiceName string
	// Scenario and Seed are attached to the trace resource so spans of
	// different runs can be told apart.
	Scenario string
	Seed     uint64
}

// TracingConfigFromEnv reads the SATCOM_TRACING_* variables. Tracing is off
// unless SATCOM_TRACING_ENABLED is "true"; an invalid sample ratio keeps 1.
func TracingConfigFromEnv() TracingConfig {
	cfg := TracingConfig{
		Enabled:     strings.EqualFold(os.Getenv(EnvTracingEnabled), "true"),
		Exporter:    strings.ToLower(os.Getenv(EnvTracingExporter)),
		Endpoint:    os.Getenv(EnvOTLPEndpoint),
		File:        os.Getenv(EnvTracingFile),
		ServiceName: os.Getenv(EnvTracingService),
		SampleRatio: 1,
	}
	if cfg.Exporter == "" {
		cfg.Exporter = "stdout"
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "satsim"
	}
	if v, err := strconv.ParseFloat(os.Getenv(EnvTracingRatio), 64); err == nil && v >= 0 && v <= 1 {
		cfg.SampleRatio = v
	}
	return cfg
}

// InitTracing installs the global tracer provider and propagators. With
// tracing disabled a noop provider is installed. The returned function
// flushes pending spans and releases the exporter.
func InitTracing(ctx context.Context, cfg TracingConfig, log logging.Logger) (func(context.Context) error, error) {
	if log == nil {
		log = logging.Noop()
	}
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if !cfg.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		log.Debug(ctx, "tracing disabled")
		return func(context.Context) error { return nil }, nil
	}

	exp, release, err := newSpanExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}

	attrs := []attribute.KeyValue{
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.namespace", "satcom"),
		attribute.Int64("satcom.seed", int64(cfg.Seed)),
	}
	if cfg.Scenario != "" {
		attrs = append(attrs, attribute.String("satcom.scenario", cfg.Scenario))
	}
	res, err := resource.New(ctx, resource.WithAttributes(attrs...))
	if err != nil {
		_ = exp.Shutdown(ctx)
		_ = release()
		return nil, fmt.Errorf("tracing resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	log.Info(ctx, "tracing enabled",
		logging.String("exporter", cfg.Exporter),
		logging.String("service_name", cfg.ServiceName),
		logging.Float64("sample_ratio", cfg.SampleRatio),
	)

	return func(ctx context.Context) error {
		err := tp.Shutdown(ctx)
		if rerr := release(); err == nil {
			err = rerr
		}
		return err
	}, nil
}

// newSpanExporter returns the exporter and a function releasing what it
// writes to.
func newSpanExporter(ctx context.Context, cfg TracingConfig) (sdktrace.SpanExporter, func() error, error) {
	nothing := func() error { return nil }

	switch strings.ToLower(cfg.Exporter) {
	case "", "stdout":
		exp, err := stdouttrace.New(stdouttrace.WithWriter(os.Stdout), stdouttrace.WithoutTimestamps())
		if err != nil {
			return nil, nil, err
		}
		return exp, nothing, nil
	case "file":
		if cfg.File == "" {
			return nil, nil, fmt.Errorf("file span exporter needs %s", EnvTracingFile)
		}
		f, err := os.Create(cfg.File)
		if err != nil {
			return nil, nil, fmt.Errorf("span file: %w", err)
		}
		exp, err := stdouttrace.New(stdouttrace.WithWriter(f))
		if err != nil {
			_ = f.Close()
			return nil, nil, err
		}
		return exp, f.Close, nil
	case "otlp", "otlpgrpc":
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = defaultOTLPEndpoint
		}
		exp, err := otlptrace.New(ctx, otlptracegrpc.NewClient(
			otlptracegrpc.WithEndpoint(endpoint),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		))
		if err != nil {
			return nil, nil, fmt.Errorf("otlp exporter: %w", err)
		}
		return exp, nothing, nil
	default:
		return nil, nil, fmt.Errorf("unsupported tracing exporter %q", cfg.Exporter)
	}
}

// ShutdownWithTimeout runs shutdown with a five second budget and logs a
// failure instead of returning it.
func ShutdownWithTimeout(ctx context.Context, shutdown func(context.Context) error, log logging.Logger) {
	if shutdown == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil && log != nil {
		log.Warn(ctx, "tracing shutdown failed", logging.Err(err))
	}
}
