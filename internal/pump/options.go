package pump

import "time"

// DefaultKeepNewest is the number of snapshots a retention sweep exempts.
const DefaultKeepNewest = 5

type options struct {
	snapshotInterval time.Duration
	retentionMaxAge  time.Duration
	retentionEvery   time.Duration
	keepNewest       int
	compress         bool
	now              func() time.Time
}

func defaultOptions() options {
	return options{
		keepNewest: DefaultKeepNewest,
		now:        time.Now,
	}
}

// Option configures a Pump.
type Option func(*options)

// WithSnapshotInterval makes Start run a background writer that snapshots
// the aggregate every d whenever its watermark advanced. Zero disables it.
func WithSnapshotInterval(d time.Duration) Option {
	return func(o *options) {
		o.snapshotInterval = d
	}
}

// WithRetention makes Start run DeleteOldSnapshots(maxAge, every) in the
// pump's cancellation scope. A zero value for either disables it.
func WithRetention(maxAge, every time.Duration) Option {
	return func(o *options) {
		o.retentionMaxAge = maxAge
		o.retentionEvery = every
	}
}

// WithKeepNewest sets how many snapshots a sweep exempts regardless of age.
// Negative values are treated as zero.
func WithKeepNewest(n int) Option {
	return func(o *options) {
		if n < 0 {
			n = 0
		}
		o.keepNewest = n
	}
}

// WithCompression makes WriteSnapshot store gzip-compressed "<w>.json.gz"
// objects. FetchSnapshot reads both forms regardless.
func WithCompression(enabled bool) Option {
	return func(o *options) {
		o.compress = enabled
	}
}

// WithClock replaces the wall clock used to age snapshots.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}
