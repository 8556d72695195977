// Package telemetry wires OpenTelemetry metrics and traces for the
// authentication core. Metrics are exposed through a Prometheus reader;
// traces can optionally be shipped over OTLP gRPC.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// Config holds the telemetry configuration.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string

	// OTLPEndpoint enables trace export when set.
	OTLPEndpoint string

	// SamplingRate is the trace sampling rate (0.0-1.0).
	SamplingRate float64

	Enabled bool
}

func DefaultConfig() Config {
	return Config{
		ServiceName:    "veridian",
		ServiceVersion: "1.0.0",
		Environment:    "development",
		SamplingRate:   1.0,
		Enabled:        true,
	}
}

// Provider manages the tracer and meter providers and the instruments the
// rest of the system records against. A zero-value-like disabled Provider
// is safe to call; every recording method no-ops.
type Provider struct {
	config         Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter

	authCounter       metric.Int64Counter
	replayCounter     metric.Int64Counter
	challengeCounter  metric.Int64Counter
	identityCounter   metric.Int64Counter
	verifyCounter     metric.Int64Counter
	ceremonyDuration  metric.Float64Histogram
	activeCredentials metric.Int64UpDownCounter
}

func NewProvider(cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		return &Provider{config: cfg}, nil
	}

	p := &Provider{config: cfg}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			attribute.String("environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, err
	}

	if err := p.setupTracing(res); err != nil {
		return nil, err
	}
	if err := p.setupMetrics(res); err != nil {
		return nil, err
	}
	if err := p.initInstruments(); err != nil {
		return nil, err
	}

	return p, nil
}

func (p *Provider) setupTracing(res *resource.Resource) error {
	var sampler sdktrace.Sampler
	switch {
	case p.config.SamplingRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case p.config.SamplingRate <= 0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(p.config.SamplingRate)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithSampler(sampler),
		sdktrace.WithResource(res),
	}

	if p.config.OTLPEndpoint != "" {
		exporter, err := otlptracegrpc.New(
			context.Background(),
			otlptracegrpc.WithEndpoint(p.config.OTLPEndpoint),
			otlptracegrpc.WithInsecure(),
		)
		if err != nil {
			return err
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	p.tracerProvider = sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(p.tracerProvider)
	p.tracer = p.tracerProvider.Tracer(p.config.ServiceName)
	return nil
}

func (p *Provider) setupMetrics(res *resource.Resource) error {
	exporter, err := prometheus.New()
	if err != nil {
		return err
	}

	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(p.meterProvider)
	p.meter = p.meterProvider.Meter(p.config.ServiceName)
	return nil
}

func (p *Provider) initInstruments() error {
	var err error

	p.authCounter, err = p.meter.Int64Counter(
		"veridian.auth.total",
		metric.WithDescription("Total number of authentication attempts"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return err
	}

	p.replayCounter, err = p.meter.Int64Counter(
		"veridian.auth.replay_rejections",
		metric.WithDescription("Assertions rejected because the signature counter did not advance"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return err
	}

	p.challengeCounter, err = p.meter.Int64Counter(
		"veridian.challenge.issued",
		metric.WithDescription("Challenges issued for registration and authentication ceremonies"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return err
	}

	p.identityCounter, err = p.meter.Int64Counter(
		"veridian.identity.mutations",
		metric.WithDescription("Identity registry mutations"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return err
	}

	p.verifyCounter, err = p.meter.Int64Counter(
		"veridian.token.verifications",
		metric.WithDescription("Session token verification outcomes"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return err
	}

	p.ceremonyDuration, err = p.meter.Float64Histogram(
		"veridian.ceremony.duration",
		metric.WithDescription("End-to-end ceremony duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	p.activeCredentials, err = p.meter.Int64UpDownCounter(
		"veridian.credentials.active",
		metric.WithDescription("Registered hardware credentials"),
		metric.WithUnit("1"),
	)
	return err
}

func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			return err
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (p *Provider) Tracer() trace.Tracer {
	if p.tracer == nil {
		return otel.Tracer(p.config.ServiceName)
	}
	return p.tracer
}

func (p *Provider) Meter() metric.Meter {
	if p.meter == nil {
		return otel.Meter(p.config.ServiceName)
	}
	return p.meter
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

// RecordAuth records an authentication attempt against a named provider.
func (p *Provider) RecordAuth(ctx context.Context, providerName string, success bool) {
	if p.authCounter == nil {
		return
	}
	p.authCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", status(success)),
		attribute.String("provider", providerName),
	))
}

// RecordReplayRejection records a rejected assertion whose counter did not
// advance. These are security events worth alerting on.
func (p *Provider) RecordReplayRejection(ctx context.Context, credentialID string) {
	if p.replayCounter == nil {
		return
	}
	p.replayCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("credential_id", credentialID),
	))
}

// RecordChallenge records an issued ceremony challenge.
func (p *Provider) RecordChallenge(ctx context.Context, ceremony string) {
	if p.challengeCounter == nil {
		return
	}
	p.challengeCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("ceremony", ceremony),
	))
}

// RecordIdentityMutation records a registry mutation by operation name.
func (p *Provider) RecordIdentityMutation(ctx context.Context, op string) {
	if p.identityCounter == nil {
		return
	}
	p.identityCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", op),
	))
}

// RecordVerification records a session token verification outcome.
func (p *Provider) RecordVerification(ctx context.Context, valid bool) {
	if p.verifyCounter == nil {
		return
	}
	p.verifyCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", status(valid)),
	))
}

// RecordCeremonyDuration records how long a full ceremony took.
func (p *Provider) RecordCeremonyDuration(ctx context.Context, ceremony string, d time.Duration) {
	if p.ceremonyDuration == nil {
		return
	}
	p.ceremonyDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("ceremony", ceremony),
	))
}

// CredentialRegistered increments the active credential count.
func (p *Provider) CredentialRegistered(ctx context.Context) {
	if p.activeCredentials == nil {
		return
	}
	p.activeCredentials.Add(ctx, 1)
}

// CredentialRemoved decrements the active credential count.
func (p *Provider) CredentialRemoved(ctx context.Context) {
	if p.activeCredentials == nil {
		return
	}
	p.activeCredentials.Add(ctx, -1)
}

// StartSpan starts a span with common attributes.
func (p *Provider) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return p.Tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}
