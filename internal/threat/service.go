package threat

import (
	"context"
	"fmt"
	"time"

	"github.com/mbd888/threatscore/internal/activity"
	"github.com/mbd888/threatscore/internal/idgen"
	"github.com/mbd888/threatscore/internal/logging"
	"github.com/mbd888/threatscore/internal/metrics"
	"github.com/mbd888/threatscore/internal/traces"
)

// AlertSink receives the alerts of a finished scan.
type AlertSink interface {
	Publish(ctx context.Context, report *Report) error
}

// Report is the outcome of one scan over the activity log.
type Report struct {
	ID              string         `json:"id"`
	Mode            Mode           `json:"mode"`
	Thresholds      *Thresholds    `json:"thresholds,omitempty"`
	Contamination   float64        `json:"contamination,omitempty"`
	TotalActivities int            `json:"total_activities"`
	Alerts          []ScoredRecord `json:"alerts"`
	Summary         Summary        `json:"summary"`
	GeneratedAt     time.Time      `json:"generated_at"`
}

// Service reads the activity log and scores it.
type Service struct {
	store    activity.Store
	defaults Request
	sink     AlertSink
	now      func() time.Time
}

// NewService creates a scoring service. defaults fills in parameters a
// caller leaves out.
func NewService(store activity.Store, defaults Request) *Service {
	return &Service{store: store, defaults: defaults, now: time.Now}
}

// WithSink enables alert publishing for Publish scans.
func (s *Service) WithSink(sink AlertSink) *Service {
	s.sink = sink
	return s
}

// Defaults returns the configured fallback request.
func (s *Service) Defaults() Request { return s.defaults }

// CanPublish reports whether an alert sink is configured.
func (s *Service) CanPublish() bool { return s.sink != nil }

// Scan scores the current activity log. The store read completes before
// scoring starts.
func (s *Service) Scan(ctx context.Context, req Request) (*Report, error) {
	ctx, span := traces.StartSpan(ctx, "threat.Scan", traces.Mode(string(req.Mode)))
	defer span.End()

	records, err := s.readBatch(ctx)
	if err != nil {
		traces.RecordError(span, err)
		metrics.ScansTotal.WithLabelValues(string(req.Mode), "store_error").Inc()
		return nil, err
	}
	metrics.ActivityBatchSize.Set(float64(len(records)))

	start := time.Now()
	alerts, err := Score(records, req)
	elapsed := time.Since(start)
	if err != nil {
		traces.RecordError(span, err)
		metrics.ScansTotal.WithLabelValues(string(req.Mode), "invalid").Inc()
		return nil, err
	}

	metrics.ScanDuration.WithLabelValues(string(req.Mode)).Observe(elapsed.Seconds())
	metrics.ScansTotal.WithLabelValues(string(req.Mode), "ok").Inc()
	metrics.AlertsGeneratedTotal.WithLabelValues(string(req.Mode)).Add(float64(len(alerts)))

	report := &Report{
		ID:              idgen.WithPrefix("scan_"),
		Mode:            req.Mode,
		TotalActivities: len(records),
		Alerts:          alerts,
		Summary:         Summarize(len(records), alerts),
		GeneratedAt:     s.now().UTC(),
	}
	switch req.Mode {
	case ModeRules:
		t := req.Thresholds
		report.Thresholds = &t
	case ModeAnomaly:
		report.Contamination = req.Contamination
	}

	span.SetAttributes(traces.ScanID(report.ID), traces.BatchSize(len(records)), traces.AlertsCount(len(alerts)))
	logging.L(ctx).Info("scan completed",
		"scan_id", report.ID,
		"mode", req.Mode,
		"activities", len(records),
		"alerts", len(alerts),
		"high", report.Summary.Bands[BandHigh],
		"duration_ms", elapsed.Milliseconds(),
	)
	return report, nil
}

// ScanAndPublish runs Scan and hands the report to the alert sink. A publish
// failure is returned alongside the (valid) report.
func (s *Service) ScanAndPublish(ctx context.Context, req Request) (*Report, error) {
	report, err := s.Scan(ctx, req)
	if err != nil {
		return nil, err
	}
	if s.sink == nil || len(report.Alerts) == 0 {
		return report, nil
	}

	ctx, span := traces.StartSpan(ctx, "threat.Publish", traces.ScanID(report.ID), traces.AlertsCount(len(report.Alerts)))
	defer span.End()

	if err := s.sink.Publish(ctx, report); err != nil {
		traces.RecordError(span, err)
		logging.L(ctx).Error("alert publish failed", "scan_id", report.ID, "error", err)
		return report, fmt.Errorf("publish alerts: %w", err)
	}
	return report, nil
}

func (s *Service) readBatch(ctx context.Context) ([]activity.Record, error) {
	ctx, span := traces.StartSpan(ctx, "activity.List")
	defer span.End()

	records, err := s.store.List(ctx)
	if err != nil {
		traces.RecordError(span, err)
		return nil, fmt.Errorf("read activity log: %w", err)
	}
	span.SetAttributes(traces.BatchSize(len(records)))
	return records, nil
}
