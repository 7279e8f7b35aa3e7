package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nshruti113/threatdna/internal/metrics"
	"github.com/nshruti113/threatdna/internal/models"
)

// Message types published for each run
const (
	MessageRun   = "run"
	MessageAlert = "alert"
)

// Message is the envelope pushed to subscribers
type Message struct {
	Type    string          `json:"type"`
	RunID   string          `json:"run_id"`
	Summary *models.Summary `json:"summary,omitempty"`
	Alert   *models.Alert   `json:"alert,omitempty"`
}

// RunMessages builds the run summary message followed by one message per alert
func RunMessages(report *models.Report) []Message {
	summary := report.Summarize()
	msgs := make([]Message, 0, len(report.Alerts)+1)
	msgs = append(msgs, Message{Type: MessageRun, RunID: report.RunID, Summary: &summary})
	for i := range report.Alerts {
		msgs = append(msgs, Message{Type: MessageAlert, RunID: report.RunID, Alert: &report.Alerts[i]})
	}
	return msgs
}

func encode(m Message) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s message: %w", m.Type, err)
	}
	return data, nil
}

// AlertSink receives the messages of completed runs
type AlertSink interface {
	Name() string
	Publish(ctx context.Context, msgs []Message) error
	Close() error
}

// Fanout publishes every run to a set of sinks. A failing sink is logged and counted;
// it never blocks the others.
type Fanout struct {
	sinks   []AlertSink
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewFanout(m *metrics.Metrics, logger *slog.Logger, sinks ...AlertSink) *Fanout {
	return &Fanout{sinks: sinks, metrics: m, logger: logger}
}

// Len returns the number of attached sinks
func (f *Fanout) Len() int {
	return len(f.sinks)
}

// PublishRun sends the run's messages to every sink and joins their errors
func (f *Fanout) PublishRun(ctx context.Context, report *models.Report) error {
	if len(f.sinks) == 0 {
		return nil
	}

	msgs := RunMessages(report)
	var errs []error
	for _, s := range f.sinks {
		if err := s.Publish(ctx, msgs); err != nil {
			f.metrics.IncrementSinkErrors(s.Name())
			f.logger.Error("Failed to publish run", "sink", s.Name(), "run_id", report.RunID, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		f.logger.Debug("Run published", "sink", s.Name(), "run_id", report.RunID, "messages", len(msgs))
	}
	return errors.Join(errs...)
}

// Close closes every sink
func (f *Fanout) Close() error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}
