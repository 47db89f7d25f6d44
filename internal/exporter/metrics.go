package exporter

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/atomic"
)

// MetricsManager handles registration and updates of exporter metrics
type MetricsManager struct {
	exportedSpansCounter    *atomic.Int64
	exportBatchesCounter    *atomic.Int64
	exportFailuresCounter   *atomic.Int64
	encodedBytesCounter     *atomic.Int64
	archivedRequestsCounter *atomic.Int64
	archiveSizeGauge        *atomic.Int64

	meter        metric.Meter
	registration metric.Registration
}

// NewMetricsManager creates a new metrics manager
func NewMetricsManager(meter metric.Meter) *MetricsManager {
	return &MetricsManager{
		exportedSpansCounter:    atomic.NewInt64(0),
		exportBatchesCounter:    atomic.NewInt64(0),
		exportFailuresCounter:   atomic.NewInt64(0),
		encodedBytesCounter:     atomic.NewInt64(0),
		archivedRequestsCounter: atomic.NewInt64(0),
		archiveSizeGauge:        atomic.NewInt64(0),
		meter:                   meter,
	}
}

// RegisterMetrics registers all metrics with the meter and a single callback
// that reports them.
func (m *MetricsManager) RegisterMetrics() error {
	exportedSpans, err := m.meter.Int64ObservableCounter(
		"otlpconv.exported_spans",
		metric.WithDescription("Number of spans accepted by the collector"),
		metric.WithUnit("{spans}"),
	)
	if err != nil {
		return fmt.Errorf("failed to register exported spans counter: %w", err)
	}

	exportBatches, err := m.meter.Int64ObservableCounter(
		"otlpconv.export_batches",
		metric.WithDescription("Number of export requests sent"),
		metric.WithUnit("{requests}"),
	)
	if err != nil {
		return fmt.Errorf("failed to register export batches counter: %w", err)
	}

	exportFailures, err := m.meter.Int64ObservableCounter(
		"otlpconv.export_failures",
		metric.WithDescription("Number of export requests that failed to encode or were rejected"),
		metric.WithUnit("{requests}"),
	)
	if err != nil {
		return fmt.Errorf("failed to register export failures counter: %w", err)
	}

	encodedBytes, err := m.meter.Int64ObservableCounter(
		"otlpconv.encoded_bytes",
		metric.WithDescription("Total size of encoded export requests"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return fmt.Errorf("failed to register encoded bytes counter: %w", err)
	}

	archivedRequests, err := m.meter.Int64ObservableCounter(
		"otlpconv.archived_requests",
		metric.WithDescription("Number of encoded requests written to the archive"),
		metric.WithUnit("{requests}"),
	)
	if err != nil {
		return fmt.Errorf("failed to register archived requests counter: %w", err)
	}

	archiveSize, err := m.meter.Int64ObservableGauge(
		"otlpconv.archive_size",
		metric.WithDescription("Size of the request archive database in bytes"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return fmt.Errorf("failed to register archive size gauge: %w", err)
	}

	m.registration, err = m.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(exportedSpans, m.exportedSpansCounter.Load())
		o.ObserveInt64(exportBatches, m.exportBatchesCounter.Load())
		o.ObserveInt64(exportFailures, m.exportFailuresCounter.Load())
		o.ObserveInt64(encodedBytes, m.encodedBytesCounter.Load())
		o.ObserveInt64(archivedRequests, m.archivedRequestsCounter.Load())
		o.ObserveInt64(archiveSize, m.archiveSizeGauge.Load())
		return nil
	}, exportedSpans, exportBatches, exportFailures, encodedBytes, archivedRequests, archiveSize)
	if err != nil {
		return fmt.Errorf("failed to register metrics callback: %w", err)
	}

	return nil
}

// Unregister stops reporting the metrics.
func (m *MetricsManager) Unregister() error {
	if m.registration == nil {
		return nil
	}
	return m.registration.Unregister()
}

// ExportedSpans returns the exported spans counter
func (m *MetricsManager) ExportedSpans() *atomic.Int64 { return m.exportedSpansCounter }

// ExportBatches returns the export batches counter
func (m *MetricsManager) ExportBatches() *atomic.Int64 { return m.exportBatchesCounter }

// ExportFailures returns the export failures counter
func (m *MetricsManager) ExportFailures() *atomic.Int64 { return m.exportFailuresCounter }

// EncodedBytes returns the encoded bytes counter
func (m *MetricsManager) EncodedBytes() *atomic.Int64 { return m.encodedBytesCounter }

// ArchivedRequests returns the archived requests counter
func (m *MetricsManager) ArchivedRequests() *atomic.Int64 { return m.archivedRequestsCounter }

// ArchiveSize returns the archive size gauge
func (m *MetricsManager) ArchiveSize() *atomic.Int64 { return m.archiveSizeGauge }
