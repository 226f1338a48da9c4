// Package alerts publishes scan results to downstream consumers.
package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/mbd888/threatscore/internal/circuitbreaker"
	"github.com/mbd888/threatscore/internal/logging"
	"github.com/mbd888/threatscore/internal/metrics"
	"github.com/mbd888/threatscore/internal/retry"
	"github.com/mbd888/threatscore/internal/threat"
)

// DefaultTopic receives alerts when no topic is configured.
const DefaultTopic = "threat-alerts"

const (
	defaultAttempts = 3
	defaultBackoff  = 200 * time.Millisecond

	// Consecutive failed publishes (each already retried) before the
	// publisher stops trying for breakerOpenFor.
	breakerThreshold = 5
	breakerOpenFor   = 30 * time.Second
)

// ErrCircuitOpen is returned while recent publishes to the topic have failed.
var ErrCircuitOpen = errors.New("alerts: publishing suspended after repeated failures")

// Message is the value of one Kafka record: a single alert plus the scan it
// came from.
type Message struct {
	ScanID string      `json:"scan_id"`
	Mode   threat.Mode `json:"mode"`
	Band   threat.Band `json:"band"`
	threat.ScoredRecord
	GeneratedAt time.Time `json:"generated_at"`
}

// producer is the subset of *kgo.Client used for publishing.
type producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Close()
}

// KafkaPublisher implements threat.AlertSink over a Kafka topic. Records are
// keyed by username so one user's alerts stay on one partition.
type KafkaPublisher struct {
	client   producer
	topic    string
	attempts int
	backoff  time.Duration
	breaker  *circuitbreaker.Breaker
}

var _ threat.AlertSink = (*KafkaPublisher)(nil)

// NewKafkaPublisher connects a producer to brokers. Extra kgo options are
// appended to the defaults.
func NewKafkaPublisher(brokers []string, topic string, opts ...kgo.Opt) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("alerts: no kafka brokers configured")
	}
	if topic == "" {
		topic = DefaultTopic
	}

	base := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.ClientID("threatscore"),
		kgo.AllowAutoTopicCreation(),
	}
	client, err := kgo.NewClient(append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("alerts: kafka client: %w", err)
	}
	return newPublisher(client, topic), nil
}

func newPublisher(client producer, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		client:   client,
		topic:    topic,
		attempts: defaultAttempts,
		backoff:  defaultBackoff,
		breaker:  circuitbreaker.New(breakerThreshold, breakerOpenFor),
	}
}

// Topic returns the destination topic.
func (p *KafkaPublisher) Topic() string { return p.topic }

// Publish writes one record per alert and waits for the broker acks. Records
// that fail are retried with backoff; records already acked are not resent.
// After repeated failed publishes it returns ErrCircuitOpen without contacting
// the broker until the breaker lets a probe through.
func (p *KafkaPublisher) Publish(ctx context.Context, report *threat.Report) error {
	if report == nil || len(report.Alerts) == 0 {
		return nil
	}

	pending, err := p.encode(report)
	if err != nil {
		return err
	}
	total := len(pending)

	if !p.breaker.Allow(p.topic) {
		metrics.AlertsPublishedTotal.WithLabelValues("suspended").Add(float64(total))
		return fmt.Errorf("%w (topic %s)", ErrCircuitOpen, p.topic)
	}

	err = retry.Do(ctx, p.attempts, p.backoff, func() error {
		var failed []*kgo.Record
		var firstErr error
		for _, res := range p.client.ProduceSync(ctx, pending...) {
			if res.Err == nil {
				continue
			}
			if firstErr == nil {
				firstErr = res.Err
			}
			failed = append(failed, resend(res.Record))
		}
		pending = failed
		if firstErr == nil {
			return nil
		}
		if errors.Is(firstErr, kgo.ErrClientClosed) {
			return retry.Permanent(firstErr)
		}
		logging.L(ctx).Warn("alert publish attempt failed",
			"scan_id", report.ID, "failed", len(failed), "error", firstErr)
		return firstErr
	})

	sent := total - len(pending)
	metrics.AlertsPublishedTotal.WithLabelValues("ok").Add(float64(sent))
	if err != nil {
		p.breaker.RecordFailure(p.topic)
		metrics.AlertsPublishedTotal.WithLabelValues("error").Add(float64(len(pending)))
		return fmt.Errorf("alerts: %d of %d records not published: %w", len(pending), total, err)
	}

	p.breaker.RecordSuccess(p.topic)
	logging.L(ctx).Info("alerts published", "scan_id", report.ID, "topic", p.topic, "count", total)
	return nil
}

func (p *KafkaPublisher) encode(report *threat.Report) ([]*kgo.Record, error) {
	records := make([]*kgo.Record, 0, len(report.Alerts))
	for i := range report.Alerts {
		a := report.Alerts[i]
		value, err := json.Marshal(Message{
			ScanID:       report.ID,
			Mode:         report.Mode,
			Band:         a.Band(),
			ScoredRecord: a,
			GeneratedAt:  report.GeneratedAt,
		})
		if err != nil {
			return nil, fmt.Errorf("alerts: marshal alert %d: %w", a.ID, err)
		}
		records = append(records, &kgo.Record{
			Topic: p.topic,
			Key:   []byte(a.Username),
			Value: value,
			Headers: []kgo.RecordHeader{
				{Key: "scan_id", Value: []byte(report.ID)},
				{Key: "mode", Value: []byte(report.Mode)},
			},
			Timestamp: report.GeneratedAt,
		})
	}
	return records, nil
}

// resend copies the payload of a failed record; the client owns the original.
func resend(r *kgo.Record) *kgo.Record {
	return &kgo.Record{
		Topic:     r.Topic,
		Key:       r.Key,
		Value:     r.Value,
		Headers:   r.Headers,
		Timestamp: r.Timestamp,
	}
}

// Close flushes and closes the producer.
func (p *KafkaPublisher) Close() error {
	p.client.Close()
	return nil
}
