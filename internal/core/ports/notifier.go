package ports

import (
	"context"
	"time"

	"github.com/crossfusion/swapd/internal/core/domain"
)

type NotificationEvent string

const (
	NotificationSwapCreated       NotificationEvent = "swapCreated"
	NotificationSwapStatusChanged NotificationEvent = "swapStatusChanged"
	NotificationSwapCompleted     NotificationEvent = "swapCompleted"
	NotificationSwapFailed        NotificationEvent = "swapFailed"
)

// Notification carries the full swap projection plus the status it moved
// away from, when applicable.
type Notification struct {
	Event          NotificationEvent `json:"event"`
	Swap           domain.Swap       `json:"swap"`
	PreviousStatus domain.SwapStatus `json:"previousStatus,omitempty"`
	At             time.Time         `json:"at"`
}

// NotificationSink receives lifecycle notifications. Delivery is
// fire-and-forget: a publish failure never rolls back a state transition,
// the coordinator only logs it.
type NotificationSink interface {
	Publish(ctx context.Context, n Notification) error
	Close()
}
