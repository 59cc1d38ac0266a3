package window

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEmptyMeansAlwaysOpen(t *testing.T) {
	for _, expr := range []string{"", "   ", ";"} {
		w, err := Parse(expr)
		require.NoError(t, err, "expr %q", expr)
		assert.Nil(t, w, "expr %q should parse to no restriction", expr)
		assert.True(t, w.IsOpen(time.Now()), "nil window must be open")
	}
}

func TestDailyWindow(t *testing.T) {
	w, err := Parse("02:00-06:00")
	require.NoError(t, err)

	assert.True(t, w.IsOpen(time.Date(2026, 1, 1, 3, 0, 0, 0, time.UTC)))
	assert.False(t, w.IsOpen(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)))
	assert.False(t, w.IsOpen(time.Date(2026, 1, 1, 6, 0, 0, 0, time.UTC)), "end is exclusive")
}

func TestDailyWindowCrossesMidnight(t *testing.T) {
	w, err := Parse("23:00-05:00")
	require.NoError(t, err)

	assert.True(t, w.IsOpen(time.Date(2026, 1, 1, 23, 30, 0, 0, time.UTC)))
	assert.True(t, w.IsOpen(time.Date(2026, 1, 1, 2, 0, 0, 0, time.UTC)))
	assert.False(t, w.IsOpen(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)))
}

func TestWeeklyWindow(t *testing.T) {
	w, err := Parse("Sat 02:00-Sat 06:00")
	require.NoError(t, err)

	// 2026-01-03 is a Saturday, 2026-01-04 a Sunday.
	assert.True(t, w.IsOpen(time.Date(2026, 1, 3, 3, 0, 0, 0, time.UTC)))
	assert.False(t, w.IsOpen(time.Date(2026, 1, 4, 3, 0, 0, 0, time.UTC)), "Saturday-only window must be closed on Sunday")
}

func TestWeeklyWindowCrossesWeekday(t *testing.T) {
	w, err := Parse("Sat 22:00-Sun 06:00")
	require.NoError(t, err)

	assert.True(t, w.IsOpen(time.Date(2026, 1, 3, 23, 0, 0, 0, time.UTC)))
	assert.True(t, w.IsOpen(time.Date(2026, 1, 4, 4, 0, 0, 0, time.UTC)))
	assert.False(t, w.IsOpen(time.Date(2026, 1, 4, 14, 0, 0, 0, time.UTC)))
}

func TestWeeklyWindowWrapsWithinItsOwnDay(t *testing.T) {
	w, err := Parse("Sat 23:00-Sat 05:00")
	require.NoError(t, err)

	assert.True(t, w.IsOpen(time.Date(2026, 1, 3, 23, 30, 0, 0, time.UTC)), "late Saturday")
	assert.True(t, w.IsOpen(time.Date(2026, 1, 3, 2, 0, 0, 0, time.UTC)), "early Saturday")
	assert.False(t, w.IsOpen(time.Date(2026, 1, 2, 2, 0, 0, 0, time.UTC)), "Friday stays closed")
	assert.False(t, w.IsOpen(time.Date(2026, 1, 4, 2, 0, 0, 0, time.UTC)), "Sunday stays closed")
}

func TestUnionOfWindows(t *testing.T) {
	w, err := Parse("02:00-03:00;Sat 10:00-Sat 11:00")
	require.NoError(t, err)

	assert.True(t, w.IsOpen(time.Date(2026, 1, 1, 2, 30, 0, 0, time.UTC)))
	assert.True(t, w.IsOpen(time.Date(2026, 1, 3, 10, 30, 0, 0, time.UTC)))
	assert.False(t, w.IsOpen(time.Date(2026, 1, 1, 20, 0, 0, 0, time.UTC)))
}

func TestParseRejectsMalformedExpressions(t *testing.T) {
	for _, expr := range []string{"garbage", "25:00-02:00", "Xyz 02:00-03:00", "02:00", "02:60-03:00"} {
		_, err := Parse(expr)
		assert.Error(t, err, "Parse(%q)", expr)
	}
}
