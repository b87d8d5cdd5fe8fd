package notifier

import (
	"context"
	"errors"

	"github.com/crossfusion/swapd/internal/core/ports"
)

type multiSink struct {
	sinks []ports.NotificationSink
}

// NewMultiSink fans a notification out to every sink. Publish returns the
// joined errors but still attempts delivery to all sinks.
func NewMultiSink(sinks ...ports.NotificationSink) ports.NotificationSink {
	return &multiSink{sinks: sinks}
}

func (s *multiSink) Publish(ctx context.Context, n ports.Notification) error {
	var errs []error
	for _, sink := range s.sinks {
		if err := sink.Publish(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *multiSink) Close() {
	for _, sink := range s.sinks {
		sink.Close()
	}
}
