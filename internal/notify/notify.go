// Package notify announces finished runs to external channels.
package notify

import (
	"context"
	"errors"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/leadstorm/internal/config"
	"github.com/sells-group/leadstorm/internal/model"
)

// EventRunFinished is the event type published when a run ends.
const EventRunFinished = "run.finished"

// Notifier is told about every run that reaches a terminal status.
type Notifier interface {
	RunFinished(ctx context.Context, run model.Run) error
}

// RunEvent is the message body published for a finished run.
type RunEvent struct {
	Type       string    `json:"type"`
	Run        model.Run `json:"run"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Nop discards notifications.
type Nop struct{}

// RunFinished implements Notifier.
func (Nop) RunFinished(context.Context, model.Run) error { return nil }

// Multi fans a notification out to every channel. A failing channel does
// not stop the others.
type Multi struct {
	notifiers []Notifier
}

// NewMulti combines notifiers.
func NewMulti(notifiers ...Notifier) *Multi {
	return &Multi{notifiers: notifiers}
}

// Len is the number of channels.
func (m *Multi) Len() int { return len(m.notifiers) }

// RunFinished implements Notifier.
func (m *Multi) RunFinished(ctx context.Context, run model.Run) error {
	var errs []error
	for _, n := range m.notifiers {
		if err := n.RunFinished(ctx, run); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every channel that holds a connection.
func (m *Multi) Close() error {
	var errs []error
	for _, n := range m.notifiers {
		if c, ok := n.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// New builds the channels enabled in cfg. With nothing configured the
// result notifies nobody.
func New(cfg config.NotifyConfig) (*Multi, error) {
	var notifiers []Notifier

	if cfg.AMQP.URL != "" {
		pub, err := DialAMQP(cfg.AMQP)
		if err != nil {
			return nil, err
		}
		notifiers = append(notifiers, pub)
		zap.L().Info("notify: amqp publisher enabled", zap.String("exchange", cfg.AMQP.Exchange))
	}

	if cfg.Mail.Host != "" && len(cfg.Mail.To) > 0 {
		notifiers = append(notifiers, NewMailer(cfg.Mail))
		zap.L().Info("notify: mail enabled", zap.Strings("to", cfg.Mail.To))
	}

	return NewMulti(notifiers...), nil
}
