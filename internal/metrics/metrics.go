// =============================================================================
// Consumption Refinery - Run Metrics
// =============================================================================
//
// This module counts what a run did (files, rows, buckets, issues, time per
// file) with OpenTelemetry instruments exported through a private Prometheus
// registry. A batch run has no scrape endpoint, so the registry is written to
// a text file for the node_exporter textfile collector.
//
// METRICS:
//   refinery_files_total{profile,status}
//   refinery_rows_total{profile}
//   refinery_rows_skipped_total{profile}
//   refinery_buckets_total{profile,no_data}
//   refinery_issues_total{profile,severity}
//   refinery_file_duration_seconds{profile}
//
// =============================================================================

package metrics

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"

	"github.com/ginjaninja78/consumption-refinery/internal/types"
)

// MeterName is the instrumentation scope of every instrument.
const MeterName = "github.com/ginjaninja78/consumption-refinery"

// FileOutcome is what one processed file contributes to the metrics.
type FileOutcome struct {
	Profile       string
	Success       bool
	ErrorType     string
	Rows          int
	SkippedRows   int
	Buckets       int
	NoDataBuckets int
	Issues        map[types.Severity]int
	Duration      time.Duration
}

// Recorder holds the instruments of one run.
type Recorder struct {
	registry *prometheus.Registry
	provider *sdkmetric.MeterProvider

	files    metric.Int64Counter
	rows     metric.Int64Counter
	skipped  metric.Int64Counter
	buckets  metric.Int64Counter
	issues   metric.Int64Counter
	duration metric.Float64Histogram
}

// New creates a Recorder with its own registry.
func New(version string) (*Recorder, error) {
	registry := prometheus.NewRegistry()

	exporter, err := otelprom.New(
		otelprom.WithRegisterer(registry),
		otelprom.WithoutScopeInfo(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", "consumption-refinery"),
		attribute.String("service.version", version),
	)
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	meter := provider.Meter(MeterName, metric.WithInstrumentationVersion(version))

	r := &Recorder{registry: registry, provider: provider}
	if err := r.createInstruments(meter); err != nil {
		_ = provider.Shutdown(context.Background())
		return nil, err
	}
	return r, nil
}

func (r *Recorder) createInstruments(meter metric.Meter) error {
	var err error

	r.files, err = meter.Int64Counter(
		"refinery_files",
		metric.WithDescription("Input files processed, by outcome"),
	)
	if err != nil {
		return err
	}

	r.rows, err = meter.Int64Counter(
		"refinery_rows",
		metric.WithDescription("Raw rows read"),
	)
	if err != nil {
		return err
	}

	r.skipped, err = meter.Int64Counter(
		"refinery_rows_skipped",
		metric.WithDescription("Raw rows skipped by the row error policy"),
	)
	if err != nil {
		return err
	}

	r.buckets, err = meter.Int64Counter(
		"refinery_buckets",
		metric.WithDescription("Aggregated buckets written"),
	)
	if err != nil {
		return err
	}

	r.issues, err = meter.Int64Counter(
		"refinery_issues",
		metric.WithDescription("Validation issues, by severity"),
	)
	if err != nil {
		return err
	}

	r.duration, err = meter.Float64Histogram(
		"refinery_file_duration",
		metric.WithDescription("Time to refine one file"),
		metric.WithUnit("s"),
	)
	return err
}

// RecordFile adds one file's outcome.
func (r *Recorder) RecordFile(ctx context.Context, o FileOutcome) {
	profile := attribute.String("profile", o.Profile)

	status := "success"
	if !o.Success {
		status = o.ErrorType
		if status == "" {
			status = "failed"
		}
	}
	r.files.Add(ctx, 1, metric.WithAttributes(profile, attribute.String("status", status)))

	r.rows.Add(ctx, int64(o.Rows), metric.WithAttributes(profile))
	r.skipped.Add(ctx, int64(o.SkippedRows), metric.WithAttributes(profile))
	r.buckets.Add(ctx, int64(o.Buckets-o.NoDataBuckets),
		metric.WithAttributes(profile, attribute.Bool("no_data", false)))
	r.buckets.Add(ctx, int64(o.NoDataBuckets),
		metric.WithAttributes(profile, attribute.Bool("no_data", true)))

	for sev, n := range o.Issues {
		r.issues.Add(ctx, int64(n), metric.WithAttributes(profile, attribute.String("severity", string(sev))))
	}

	r.duration.Record(ctx, o.Duration.Seconds(), metric.WithAttributes(profile))
}

// WriteTextfile writes the current values to path in the Prometheus text
// format. The file is replaced atomically.
func (r *Recorder) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	return nil
}

// Shutdown releases the meter provider.
func (r *Recorder) Shutdown(ctx context.Context) error {
	return r.provider.Shutdown(ctx)
}
