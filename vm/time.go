package vm

import "time"

// ---------------------------------------------------------------------------
// Duration and Time: the monotonic timebase for the scheduler and delay()
// ---------------------------------------------------------------------------

// Duration is a span of time with microsecond resolution. The embedded
// original packed durations into 32 bits with 2 unit bits (us/ms/s); here a
// 64-bit microsecond count covers the same range without the packing, but
// the saturating constructors keep the same observable behavior.
type Duration int64

const (
	Microsecond Duration = 1
	Millisecond Duration = 1000 * Microsecond
	Second      Duration = 1000 * Millisecond
)

// DurationFromMs converts a millisecond count.
func DurationFromMs(ms int32) Duration { return Duration(ms) * Millisecond }

// Ms returns the duration in whole milliseconds.
func (d Duration) Ms() int64 { return int64(d / Millisecond) }

// Seconds returns the duration as fractional seconds.
func (d Duration) Seconds() float64 { return float64(d) / float64(Second) }

// Std converts to a time.Duration for use with the host clock.
func (d Duration) Std() time.Duration { return time.Duration(d) * time.Microsecond }

// Time is a point on the process-local monotonic clock, in microseconds
// since an arbitrary epoch.
type Time int64

var timeBase = time.Now()

// Now returns the current monotonic time.
func Now() Time {
	return Time(time.Since(timeBase) / time.Microsecond)
}

// WallTime returns the wall clock as fractional seconds with microsecond
// precision, for the currentTime() global.
func WallTime() float64 {
	return float64(time.Now().UnixMicro()) / 1e6
}

// Add offsets a time by a duration.
func (t Time) Add(d Duration) Time { return t + Time(d) }

// Sub returns the duration between two times.
func (t Time) Sub(u Time) Duration { return Duration(t - u) }

// Before reports whether t precedes u.
func (t Time) Before(u Time) bool { return t < u }
