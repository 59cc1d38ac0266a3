package nodesync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// mockClock implements clock.Clock for testing.
type mockClock struct{ now time.Time }

func newMockClock(t time.Time) *mockClock { return &mockClock{now: t} }
func (c *mockClock) Now() time.Time       { return c.now }
func (c *mockClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- c.now.Add(d)
	return ch
}
func (c *mockClock) Since(t time.Time) time.Duration { return c.now.Sub(t) }
func (c *mockClock) Advance(d time.Duration)         { c.now = c.now.Add(d) }

func TestRecordAndRate(t *testing.T) {
	clk := newMockClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	m := New("http://localhost:1234", "getSyncStatus", clk, nil)

	rate := m.recordAndRate(clk.Now(), 1000)
	assert.Equal(t, float64(0), rate, "first sample has no rate")

	clk.Advance(10 * time.Second)
	rate = m.recordAndRate(clk.Now(), 1100)
	assert.InDelta(t, 10.0, rate, 0.001)
}

func TestRecordAndRateClampsNegative(t *testing.T) {
	clk := newMockClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	m := New("http://localhost:1234", "getSyncStatus", clk, nil)

	m.recordAndRate(clk.Now(), 1000)
	clk.Advance(10 * time.Second)
	rate := m.recordAndRate(clk.Now(), 500)
	assert.Equal(t, float64(0), rate)
}

func TestRecordAndRateTrimsWindow(t *testing.T) {
	clk := newMockClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	m := New("http://localhost:1234", "getSyncStatus", clk, nil)

	m.recordAndRate(clk.Now(), 1000)
	clk.Advance(11 * time.Minute)
	rate := m.recordAndRate(clk.Now(), 2000)
	assert.Equal(t, float64(0), rate, "oldest sample should be trimmed from the 10-minute window")
}

func TestRecommendStrategy(t *testing.T) {
	fourMin := float64(4 * 60)
	assert.Equal(t, StrategyWait, RecommendStrategy(&fourMin))

	thirtyMin := float64(30 * 60)
	assert.Equal(t, StrategyBackground, RecommendStrategy(&thirtyMin))

	twoHours := float64(2 * 60 * 60)
	assert.Equal(t, StrategySkip, RecommendStrategy(&twoHours))

	assert.Equal(t, StrategyBackground, RecommendStrategy(nil))
}

func TestFormatETA(t *testing.T) {
	assert.Equal(t, "Calculating...", FormatETA(nil))

	s := float64(45)
	assert.Equal(t, "45s", FormatETA(&s))

	m := float64(125)
	assert.Equal(t, "2m 5s", FormatETA(&m))

	h := float64(3*3600 + 20*60)
	assert.Equal(t, "3h 20m", FormatETA(&h))

	d := float64(2*86400 + 5*3600)
	assert.Equal(t, "2d 5h", FormatETA(&d))
}
