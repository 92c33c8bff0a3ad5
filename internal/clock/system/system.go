// Package system provides a real clock implementation.
package system

import (
	"time"

	"github.com/JakeFAU/realtime-status-stream/internal/channel"
)

// Clock implements channel.Clock on top of the runtime timer.
type Clock struct{}

var _ channel.Clock = Clock{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// AfterFunc schedules f on its own goroutine after d.
func (Clock) AfterFunc(d time.Duration, f func()) channel.Timer {
	return time.AfterFunc(d, f)
}
