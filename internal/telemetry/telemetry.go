package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Telemetry holds the metric instruments for the download pipeline. All
// record methods are safe to call on a disabled (zero) instance.
type Telemetry struct {
	meterProvider metric.MeterProvider
	meter         metric.Meter
	exporter      *prometheus.Exporter

	downloadsTotal   metric.Int64Counter
	downloadBytes    metric.Int64Counter
	downloadDuration metric.Float64Histogram
	retriesTotal     metric.Int64Counter
	mismatchesTotal  metric.Int64Counter
	targetsVerified  metric.Int64Counter
}

// Config holds telemetry configuration.
type Config struct {
	Enabled     bool
	ServiceName string
}

// New creates a new telemetry instance backed by a Prometheus exporter.
func New(_ context.Context, cfg Config) (*Telemetry, error) {
	if !cfg.Enabled {
		return &Telemetry{}, nil
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(meterProvider)

	t := &Telemetry{
		meterProvider: meterProvider,
		meter:         otel.Meter(cfg.ServiceName),
		exporter:      exporter,
	}

	if err := t.initializeMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	return t, nil
}

// Handler exposes the Prometheus scrape endpoint.
func (t *Telemetry) Handler() http.Handler {
	return promhttp.Handler()
}

// RecordDownload records one successfully published archive download.
func (t *Telemetry) RecordDownload(bytes int64, duration time.Duration) {
	if t == nil {
		return
	}

	if t.downloadsTotal != nil {
		t.downloadsTotal.Add(context.Background(), 1)
	}

	if t.downloadBytes != nil {
		t.downloadBytes.Add(context.Background(), bytes)
	}

	if t.downloadDuration != nil {
		t.downloadDuration.Record(context.Background(), duration.Seconds())
	}
}

// RecordRetry records one retryable transfer failure.
func (t *Telemetry) RecordRetry() {
	if t != nil && t.retriesTotal != nil {
		t.retriesTotal.Add(context.Background(), 1)
	}
}

// RecordMismatch records one checksum disagreement (archive or payload).
func (t *Telemetry) RecordMismatch(artifact string) {
	if t != nil && t.mismatchesTotal != nil {
		t.mismatchesTotal.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("artifact", artifact)),
		)
	}
}

// RecordVerified records one target reaching the verified state.
func (t *Telemetry) RecordVerified(downloaded bool) {
	if t != nil && t.targetsVerified != nil {
		t.targetsVerified.Add(context.Background(), 1,
			metric.WithAttributes(attribute.Bool("downloaded", downloaded)),
		)
	}
}

func (t *Telemetry) initializeMetrics() error {
	var err error

	if t.downloadsTotal, err = t.meter.Int64Counter(
		"downloads_total",
		metric.WithDescription("Archives downloaded and published"),
	); err != nil {
		return err
	}

	if t.downloadBytes, err = t.meter.Int64Counter(
		"download_bytes_total",
		metric.WithDescription("Bytes downloaded into published archives"),
		metric.WithUnit("By"),
	); err != nil {
		return err
	}

	if t.downloadDuration, err = t.meter.Float64Histogram(
		"download_duration_seconds",
		metric.WithDescription("Duration of archive downloads"),
		metric.WithUnit("s"),
	); err != nil {
		return err
	}

	if t.retriesTotal, err = t.meter.Int64Counter(
		"retries_total",
		metric.WithDescription("Retryable transfer failures"),
	); err != nil {
		return err
	}

	if t.mismatchesTotal, err = t.meter.Int64Counter(
		"checksum_mismatches_total",
		metric.WithDescription("Checksum disagreements that forced a re-fetch"),
	); err != nil {
		return err
	}

	if t.targetsVerified, err = t.meter.Int64Counter(
		"targets_verified_total",
		metric.WithDescription("Targets whose payload reached the verified state"),
	); err != nil {
		return err
	}

	return nil
}
