package expiry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func day(offset int) time.Time {
	base := time.Date(2026, time.March, 10, 0, 0, 0, 0, time.UTC)
	return base.AddDate(0, 0, offset)
}

func TestComputeExtendsFromFutureExpiry(t *testing.T) {
	current := day(3)
	got := Compute(&current, day(0), 7, 60)
	require.Equal(t, day(10), got)
}

func TestComputeExtendsFromTodayWhenExpired(t *testing.T) {
	current := day(-5)
	got := Compute(&current, day(0), 7, 60)
	require.Equal(t, day(7), got)
}

func TestComputeNilCurrentExtendsFromToday(t *testing.T) {
	got := Compute(nil, day(0), 14, 60)
	require.Equal(t, day(14), got)
}

func TestComputeCapsAtLimit(t *testing.T) {
	current := day(3)
	got := Compute(&current, day(0), 7, 5)
	require.Equal(t, day(5), got)
}

func TestComputeNormalizesTimeOfDay(t *testing.T) {
	current := time.Date(2026, time.March, 13, 23, 59, 59, 0, time.UTC)
	today := time.Date(2026, time.March, 10, 8, 30, 0, 0, time.UTC)

	got := Compute(&current, today, 7, 60)
	require.Equal(t, day(10), got)
	require.Zero(t, got.Hour())
	require.Zero(t, got.Minute())
}

func TestComputeNeverBelowToday(t *testing.T) {
	current := day(-30)
	got := Compute(&current, day(0), 0, 60)
	require.False(t, got.Before(day(0)))
}

func TestComputeBoundsHoldAcrossRanges(t *testing.T) {
	for ext := 0; ext <= 30; ext += 5 {
		for cap := 0; cap <= 90; cap += 15 {
			for cur := -10; cur <= 10; cur += 5 {
				current := day(cur)
				got := Compute(&current, day(0), ext, cap)
				require.False(t, got.After(day(cap)), "result above cap: ext=%d cap=%d cur=%d", ext, cap, cur)
				require.False(t, got.Before(day(0)), "result before today: ext=%d cap=%d cur=%d", ext, cap, cur)
			}
		}
	}
}
