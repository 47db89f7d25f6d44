package exporter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/collector/component"
	"go.opentelemetry.io/collector/consumer"
	"go.opentelemetry.io/collector/pdata/ptrace"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/zmzlois/browser-thing/internal/otlptrace"
)

// ContentType is the media type of an encoded OTLP/HTTP request body.
const ContentType = "application/x-protobuf"

var (
	// ErrExportFailed is returned when the collector answers with a non-2xx status.
	ErrExportFailed = errors.New("export rejected by collector")

	// ErrExporterShutdown is returned by exports attempted after Shutdown.
	ErrExporterShutdown = errors.New("exporter is shut down")
)

// Exporter encodes span batches as OTLP ExportTraceServiceRequest messages and
// POSTs them to an OTLP/HTTP endpoint.
type Exporter struct {
	config    *Config
	converter *otlptrace.Converter
	client    *resty.Client
	logger    *zap.Logger

	metricsManager *MetricsManager
	archive        *Archive
	pruneCron      *cron.Cron

	now     func() time.Time
	stopped *atomic.Bool
}

var (
	_ sdktrace.SpanExporter = (*Exporter)(nil)
	_ component.Component   = (*Exporter)(nil)
)

// New creates an Exporter. A nil meter falls back to the global meter provider.
func New(cfg *Config, logger *zap.Logger, meter metric.Meter) (*Exporter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid exporter config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(cfg.ScopeName)
	}

	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeaders(cfg.Headers).
		SetHeader("Content-Type", ContentType)

	e := &Exporter{
		config:         cfg,
		converter:      otlptrace.NewConverter(cfg.Identity(), cfg.StrictIDs, logger.Named("converter")),
		client:         client,
		logger:         logger,
		metricsManager: NewMetricsManager(meter),
		now:            time.Now,
		stopped:        atomic.NewBool(false),
	}

	if err := e.metricsManager.RegisterMetrics(); err != nil {
		logger.Error("Failed to register metrics", zap.Error(err))
	}

	if cfg.ArchivePath != "" {
		archive, err := OpenArchive(cfg.ArchivePath, e.metricsManager.ArchiveSize(), logger.Named("archive"))
		if err != nil {
			if unregErr := e.metricsManager.Unregister(); unregErr != nil {
				logger.Warn("Failed to unregister metrics", zap.Error(unregErr))
			}
			return nil, fmt.Errorf("failed to create request archive: %w", err)
		}
		e.archive = archive

		if cfg.ArchivePruneSchedule != "" {
			e.pruneCron = cron.New()
			_, err := e.pruneCron.AddFunc(cfg.ArchivePruneSchedule, e.pruneArchive)
			if err != nil {
				logger.Error("Failed to set up archive pruning", zap.Error(err))
				e.pruneCron = nil
			} else {
				logger.Info("Archive pruning scheduled",
					zap.String("schedule", cfg.ArchivePruneSchedule),
					zap.Duration("retention", cfg.ArchiveRetention))
			}
		}
	}

	logger.Info("Span exporter created",
		zap.String("endpoint", cfg.Endpoint),
		zap.Int("headers", len(cfg.Headers)),
		zap.Bool("strict_ids", cfg.StrictIDs),
		zap.Bool("archive", e.archive != nil))

	return e, nil
}

// Start begins scheduled archive pruning, if configured. The host is unused, so
// callers outside a collector may pass componenttest.NewNopHost() or nil.
func (e *Exporter) Start(_ context.Context, _ component.Host) error {
	if e.pruneCron != nil {
		e.pruneArchive()
		e.pruneCron.Start()
	}
	return nil
}

// ExportSpans implements sdktrace.SpanExporter.
func (e *Exporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	return e.Export(ctx, FromReadOnlySpans(spans))
}

// ConsumeTraces exports collector traces.
func (e *Exporter) ConsumeTraces(ctx context.Context, td ptrace.Traces) error {
	return e.Export(ctx, FromTraces(td))
}

// TracesConsumer returns the exporter as the tail of a collector traces pipeline.
func (e *Exporter) TracesConsumer() (consumer.Traces, error) {
	return consumer.NewTraces(e.ConsumeTraces)
}

// Export encodes spans into a single request and sends it. An empty batch sends nothing.
func (e *Exporter) Export(ctx context.Context, spans []otlptrace.SpanRecord) error {
	if e.stopped.Load() {
		return ErrExporterShutdown
	}
	if len(spans) == 0 {
		return nil
	}

	payload, err := e.converter.ConvertSpansToProtobuf(spans)
	if err != nil {
		e.metricsManager.ExportFailures().Inc()
		e.logger.Error("Failed to encode spans", zap.Int("spans", len(spans)), zap.Error(err))
		return fmt.Errorf("failed to encode spans: %w", err)
	}
	e.metricsManager.EncodedBytes().Add(int64(len(payload)))

	e.archivePayload(payload)

	if err := e.Send(ctx, payload); err != nil {
		return err
	}

	e.metricsManager.ExportedSpans().Add(int64(len(spans)))
	return nil
}

// Send POSTs an already encoded request body.
func (e *Exporter) Send(ctx context.Context, payload []byte) error {
	if e.stopped.Load() {
		return ErrExporterShutdown
	}

	startTimer := time.Now()
	resp, err := e.client.R().
		SetContext(ctx).
		SetBody(payload).
		Post(e.config.Endpoint)
	e.metricsManager.ExportBatches().Inc()
	if err != nil {
		e.metricsManager.ExportFailures().Inc()
		e.logger.Error("Failed to send export request",
			zap.String("endpoint", e.config.Endpoint),
			zap.Error(err))
		return fmt.Errorf("failed to send export request: %w", err)
	}

	if !resp.IsSuccess() {
		e.metricsManager.ExportFailures().Inc()
		e.logger.Error("Export request rejected",
			zap.Int("status_code", resp.StatusCode()),
			zap.String("status", resp.Status()),
			zap.String("body", resp.String()))
		return fmt.Errorf("%w: HTTP %d: %s", ErrExportFailed, resp.StatusCode(), resp.String())
	}

	e.logger.Debug("Export request sent",
		zap.Int("bytes", len(payload)),
		zap.Int("status_code", resp.StatusCode()),
		zap.Duration("latency", time.Since(startTimer)))
	return nil
}

// Archive returns the request archive, or nil when archiving is disabled.
func (e *Exporter) Archive() *Archive {
	return e.archive
}

// Metrics returns the exporter's metrics manager.
func (e *Exporter) Metrics() *MetricsManager {
	return e.metricsManager
}

// Shutdown stops pruning, unregisters metrics and closes the archive. Exports
// after Shutdown fail with ErrExporterShutdown.
func (e *Exporter) Shutdown(ctx context.Context) error {
	if !e.stopped.CompareAndSwap(false, true) {
		return nil
	}
	e.logger.Info("Shutting down span exporter")

	if e.pruneCron != nil {
		select {
		case <-e.pruneCron.Stop().Done():
		case <-ctx.Done():
			e.logger.Warn("Timed out waiting for archive pruning to stop")
		}
	}

	var errs error
	errs = multierr.Append(errs, e.metricsManager.Unregister())
	if e.archive != nil {
		errs = multierr.Append(errs, e.archive.Close())
	}
	e.client.GetClient().CloseIdleConnections()
	return errs
}

// archivePayload copies payload into the archive. Failures are logged only.
func (e *Exporter) archivePayload(payload []byte) {
	if e.archive == nil {
		return
	}
	entry, err := e.archive.Put(e.now(), payload)
	if err != nil {
		e.logger.Error("Failed to archive export request", zap.Error(err))
		return
	}
	e.metricsManager.ArchivedRequests().Inc()
	e.logger.Debug("Export request archived", zap.String("id", entry.ID), zap.Int("bytes", entry.Size))
}

func (e *Exporter) pruneArchive() {
	cutoff := e.now().Add(-e.config.ArchiveRetention)
	removed, err := e.archive.Prune(cutoff)
	if err != nil {
		e.logger.Error("Archive pruning failed", zap.Error(err))
		return
	}
	if removed > 0 {
		e.logger.Info("Pruned expired archive entries", zap.Int("removed", removed))
	}
}
