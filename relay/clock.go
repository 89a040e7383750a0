package relay

import (
	"time"

	"github.com/lguibr/lockstep/utils"
)

// Clock maps the monotonic clock to frame numbers for one instance.
//
// HorizonTime is the monotonic instant at which HorizonFrame was reached.
// The fictional zero instant of the instance is HorizonTime minus
// HorizonFrame frame periods; timing pongs are measured from it so that a
// client can estimate the server's present frame from a single round trip.
type Clock struct {
	HorizonFrame int64
	HorizonTime  time.Time
}

// NewClock positions a freshly loaded instance so its stored state appears
// to be exactly PastHorizonFrames frames in the past.
func NewClock(now time.Time) Clock {
	return Clock{
		HorizonFrame: 1,
		HorizonTime:  now.Add(-utils.PastHorizonFrames * utils.FramePeriod),
	}
}

// Zero returns the fictional zero instant.
func (c Clock) Zero() time.Time {
	return c.HorizonTime.Add(-time.Duration(c.HorizonFrame) * utils.FramePeriod)
}

// Pong returns milliseconds elapsed since the fictional zero instant.
func (c Clock) Pong(now time.Time) int64 {
	return now.Sub(c.Zero()).Milliseconds()
}

// PresentFrame is the frame clients aim their inputs at.
func (c Clock) PresentFrame() int64 {
	return c.HorizonFrame + utils.PastHorizonFrames
}

// NextDeadline is the instant at which the horizon frame becomes one full
// past-horizon span old and must advance.
func (c Clock) NextDeadline() time.Time {
	return c.HorizonTime.Add((utils.PastHorizonFrames + 1) * utils.FramePeriod)
}

// Due reports whether the horizon must advance at least one frame.
func (c Clock) Due(now time.Time) bool {
	return !now.Before(c.NextDeadline())
}

// Tick moves the horizon forward one frame.
func (c *Clock) Tick() {
	c.HorizonFrame++
	c.HorizonTime = c.HorizonTime.Add(utils.FramePeriod)
}

// Rebase clamps HorizonTime after a suspension so a long-idle instance does
// not burst-advance to catch up: the horizon is never placed more than
// PastHorizonFrames frames into the past.
func (c *Clock) Rebase(now time.Time) {
	floor := now.Add(-utils.PastHorizonFrames * utils.FramePeriod)
	if c.HorizonTime.Before(floor) {
		c.HorizonTime = floor
	}
}
