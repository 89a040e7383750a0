package relay

import (
	"testing"
	"time"

	"github.com/lguibr/lockstep/utils"
	"github.com/stretchr/testify/assert"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestNewClock_PositionsHorizonInThePast(t *testing.T) {
	c := NewClock(t0)
	assert.Equal(t, int64(1), c.HorizonFrame)
	assert.Equal(t, t0.Add(-utils.PastHorizonFrames*utils.FramePeriod), c.HorizonTime)
	assert.Equal(t, int64(1+utils.PastHorizonFrames), c.PresentFrame())
}

func TestClock_Pong(t *testing.T) {
	c := NewClock(t0)
	// Zero sits one frame before the horizon span, so now is 16 frame
	// periods past it.
	want := (16 * utils.FramePeriod).Milliseconds()
	assert.Equal(t, want, c.Pong(t0))
	assert.Equal(t, want+1000, c.Pong(t0.Add(time.Second)))
}

func TestClock_DueAndTick(t *testing.T) {
	c := NewClock(t0)
	assert.False(t, c.Due(t0))
	assert.False(t, c.Due(t0.Add(utils.FramePeriod-time.Nanosecond)))
	assert.True(t, c.Due(t0.Add(utils.FramePeriod)))

	prev := c.HorizonTime
	c.Tick()
	assert.Equal(t, int64(2), c.HorizonFrame)
	assert.Equal(t, prev.Add(utils.FramePeriod), c.HorizonTime)
	assert.False(t, c.Due(t0.Add(utils.FramePeriod)))
}

func TestClock_TickKeepsPace(t *testing.T) {
	c := NewClock(t0)
	now := t0.Add(5 * utils.FramePeriod)
	ticks := 0
	for c.Due(now) {
		c.Tick()
		ticks++
	}
	assert.Equal(t, 5, ticks)
	assert.Equal(t, int64(6), c.HorizonFrame)
}

func TestClock_RebaseClampsAfterIdle(t *testing.T) {
	c := NewClock(t0)
	longAfter := t0.Add(time.Hour)
	c.Rebase(longAfter)
	assert.Equal(t, longAfter.Add(-utils.PastHorizonFrames*utils.FramePeriod), c.HorizonTime)
	assert.False(t, c.Due(longAfter), "a rebased clock must not burst-advance")
}

func TestClock_RebaseLeavesFreshClockAlone(t *testing.T) {
	c := NewClock(t0)
	before := c.HorizonTime
	c.Rebase(t0)
	assert.Equal(t, before, c.HorizonTime)
}
