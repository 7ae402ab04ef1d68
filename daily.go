package metergate

import (
	"sync"
	"time"
)

// DailyUsage tracks per-user token totals with a reset at UTC midnight.
type DailyUsage struct {
	mu       sync.Mutex
	limit    int64
	enforce  bool
	users    map[string]int64
	resetDay string
	now      func() time.Time
}

// DailyOption configures a DailyUsage.
type DailyOption func(*DailyUsage)

// WithDailyClock overrides the tracker's time source.
func WithDailyClock(now func() time.Time) DailyOption {
	return func(d *DailyUsage) { d.now = now }
}

// NewDailyUsage creates a tracker. A limit of 0 disables limit checks.
// When enforce is false, exceeding the limit is reported but not refused.
func NewDailyUsage(limit int64, enforce bool, opts ...DailyOption) *DailyUsage {
	d := &DailyUsage{
		limit:   limit,
		enforce: enforce,
		users:   make(map[string]int64),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.resetDay = d.day()
	return d
}

// Record adds tokens to the user's total for today.
func (d *DailyUsage) Record(userID string, tokens int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.checkReset()
	d.users[userID] += tokens
}

// Used returns the user's total for today.
func (d *DailyUsage) Used(userID string) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.checkReset()
	return d.users[userID]
}

// Check reports whether the user is over the limit (exceeded) and whether
// the request must be refused (exceeded and enforced).
func (d *DailyUsage) Check(userID string) (exceeded, refuse bool) {
	if d == nil || d.limit <= 0 {
		return false, false
	}
	exceeded = d.Used(userID) >= d.limit
	return exceeded, exceeded && d.enforce
}

// checkReset clears totals when the UTC day changed. Must be called with lock held.
func (d *DailyUsage) checkReset() {
	today := d.day()
	if today != d.resetDay {
		clear(d.users)
		d.resetDay = today
	}
}

func (d *DailyUsage) day() string {
	return d.now().UTC().Format(time.DateOnly)
}
