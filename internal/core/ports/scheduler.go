package ports

import (
	"time"
)

// SchedulerService drives the coordinator's time-based work: the periodic
// expiry sweep and one-shot refund checks at a swap's timelock.
type SchedulerService interface {
	Start()
	Stop()
	ScheduleExpirySweep(interval time.Duration, sweep func()) error
	ScheduleAtTime(at time.Time, task func()) error
	WhenNextSweep() time.Time
}
