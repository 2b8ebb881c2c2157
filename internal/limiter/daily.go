// Package limiter enforces per-config daily send quotas in memory.
package limiter

import (
	"sync"
	"time"
)

const dateLayout = "2006-01-02"

// Quota is implemented by configs with a daily limit.
type Quota interface {
	ConfigID() string
	Limit() int
}

// DailyInfo is the usage of one config on one calendar day.
type DailyInfo struct {
	Count int
	Date  string
}

type entry struct {
	mu   sync.Mutex
	info DailyInfo
}

// DailyLimiter counts sends per config id and calendar day. Calls for
// different ids never contend; calls for the same id serialize.
type DailyLimiter struct {
	entries  sync.Map // config id -> *entry
	now      func() time.Time
	location *time.Location
}

// Option configures a DailyLimiter.
type Option func(*DailyLimiter)

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(l *DailyLimiter) {
		l.now = now
	}
}

// WithLocation sets the time zone that defines a calendar day.
func WithLocation(loc *time.Location) Option {
	return func(l *DailyLimiter) {
		l.location = loc
	}
}

// NewDailyLimiter creates a limiter using the local calendar day.
func NewDailyLimiter(opts ...Option) *DailyLimiter {
	l := &DailyLimiter{now: time.Now, location: time.Local}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CanSendMail reports whether q still has quota today.
func (l *DailyLimiter) CanSendMail(q Quota) bool {
	e := l.entry(q.ConfigID())
	e.mu.Lock()
	defer e.mu.Unlock()

	l.rollover(e)
	return e.info.Count < q.Limit()
}

// RecordMailSent consumes one unit of q's quota. It returns false without
// recording anything when the quota is already exhausted.
func (l *DailyLimiter) RecordMailSent(q Quota) bool {
	e := l.entry(q.ConfigID())
	e.mu.Lock()
	defer e.mu.Unlock()

	l.rollover(e)
	if e.info.Count >= q.Limit() {
		return false
	}
	e.info.Count++
	return true
}

// Usage returns today's count for a config id.
func (l *DailyLimiter) Usage(id string) DailyInfo {
	v, ok := l.entries.Load(id)
	if !ok {
		return DailyInfo{Date: l.today()}
	}
	e := v.(*entry)
	e.mu.Lock()
	defer e.mu.Unlock()

	l.rollover(e)
	return e.info
}

func (l *DailyLimiter) entry(id string) *entry {
	if v, ok := l.entries.Load(id); ok {
		return v.(*entry)
	}
	v, _ := l.entries.LoadOrStore(id, &entry{info: DailyInfo{Date: l.today()}})
	return v.(*entry)
}

// rollover resets a counter left over from a previous day. The caller holds e.mu.
func (l *DailyLimiter) rollover(e *entry) {
	if today := l.today(); e.info.Date != today {
		e.info = DailyInfo{Date: today}
	}
}

func (l *DailyLimiter) today() string {
	return l.now().In(l.location).Format(dateLayout)
}
