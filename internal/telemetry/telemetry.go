// Package telemetry wires OpenTelemetry metrics for the TTS bridge and exposes
// them through a Prometheus scrape endpoint.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/book-expert/logger"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

const (
	meterName         = "github.com/book-expert/milora-tts"
	metricsPath       = "/metrics"
	readHeaderTimeout = 5 * time.Second
)

// Attribute values shared by the instruments.
const (
	ResultHit       = "hit"
	ResultMiss      = "miss"
	ResultSuccess   = "success"
	ResultFailure   = "failure"
	OutcomeDone     = "completed"
	OutcomeStopped  = "stopped"
	OutcomeRejected = "rejected"
	OutcomeCanceled = "cancelled"
	OutcomeFailed   = "failed"
)

// Instruments groups the counters recorded along the synthesis path.
type Instruments struct {
	requests      metric.Int64Counter
	cacheLookups  metric.Int64Counter
	cacheEvicted  metric.Int64Counter
	fetchAttempts metric.Int64Counter
	decodedBytes  metric.Int64Counter
}

// NewInstruments creates the bridge's counters on the given meter.
func NewInstruments(meter metric.Meter) (*Instruments, error) {
	var (
		inst Instruments
		errs []error
		err  error
	)

	inst.requests, err = meter.Int64Counter("tts.requests",
		metric.WithDescription("Synthesis requests by terminal outcome."))
	errs = append(errs, err)

	inst.cacheLookups, err = meter.Int64Counter("tts.cache.lookups",
		metric.WithDescription("Audio cache lookups by result."))
	errs = append(errs, err)

	inst.cacheEvicted, err = meter.Int64Counter("tts.cache.evicted",
		metric.WithDescription("Cache entries removed by eviction or clear-all."))
	errs = append(errs, err)

	inst.fetchAttempts, err = meter.Int64Counter("tts.fetch.attempts",
		metric.WithDescription("HTTP GET attempts by result."))
	errs = append(errs, err)

	inst.decodedBytes, err = meter.Int64Counter("tts.decode.bytes",
		metric.WithDescription("PCM bytes delivered to sinks."),
		metric.WithUnit("By"))
	errs = append(errs, err)

	joined := errors.Join(errs...)
	if joined != nil {
		return nil, fmt.Errorf("failed to create instruments: %w", joined)
	}

	return &inst, nil
}

// Default returns instruments bound to the global meter provider.
func Default() *Instruments {
	inst, err := NewInstruments(otel.Meter(meterName))
	if err != nil {
		return Noop()
	}

	return inst
}

// Noop returns instruments that record nothing.
func Noop() *Instruments {
	inst, _ := NewInstruments(noop.NewMeterProvider().Meter(meterName))

	return inst
}

// RecordRequest counts a finished request.
func (i *Instruments) RecordRequest(ctx context.Context, outcome string) {
	i.requests.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordCacheLookup counts a cache hit or miss.
func (i *Instruments) RecordCacheLookup(ctx context.Context, result string) {
	i.cacheLookups.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordEvicted counts removed cache entries.
func (i *Instruments) RecordEvicted(ctx context.Context, count int) {
	if count > 0 {
		i.cacheEvicted.Add(ctx, int64(count))
	}
}

// RecordFetchAttempt counts one HTTP attempt.
func (i *Instruments) RecordFetchAttempt(ctx context.Context, result string) {
	i.fetchAttempts.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordDecodedBytes counts PCM handed to a sink.
func (i *Instruments) RecordDecodedBytes(ctx context.Context, n int) {
	if n > 0 {
		i.decodedBytes.Add(ctx, int64(n))
	}
}

// Setup installs a Prometheus-backed meter provider as the global provider and,
// when addr is non-empty, serves it on addr under /metrics. The returned
// function shuts both down.
func Setup(serviceName, addr string, log *logger.Logger) (func(context.Context) error, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	res := resource.NewSchemaless(attribute.String("service.name", serviceName))
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(provider)

	var server *http.Server

	if addr != "" {
		listener, listenErr := net.Listen("tcp", addr)
		if listenErr != nil {
			_ = provider.Shutdown(context.Background())

			return nil, fmt.Errorf("failed to listen for metrics on %s: %w", addr, listenErr)
		}

		mux := http.NewServeMux()
		mux.Handle(metricsPath, promhttp.Handler())
		server = &http.Server{Handler: mux, ReadHeaderTimeout: readHeaderTimeout}

		go func() {
			serveErr := server.Serve(listener)
			if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
				log.Error("Metrics server stopped: %v", serveErr)
			}
		}()

		log.Info("Serving metrics on %s%s", listener.Addr().String(), metricsPath)
	}

	shutdown := func(ctx context.Context) error {
		var errs []error
		if server != nil {
			errs = append(errs, server.Shutdown(ctx))
		}

		errs = append(errs, provider.Shutdown(ctx))

		return errors.Join(errs...)
	}

	return shutdown, nil
}
