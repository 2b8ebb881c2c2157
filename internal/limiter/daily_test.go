package limiter

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type quota struct {
	id    string
	limit int
}

func (q quota) ConfigID() string { return q.id }
func (q quota) Limit() int       { return q.limit }

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestRecordMailSentHonorsLimit(t *testing.T) {
	clk := &clock{now: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
	l := NewDailyLimiter(WithClock(clk.Now), WithLocation(time.UTC))
	q := quota{id: "contact", limit: 3}

	for i := 0; i < 3; i++ {
		if !l.CanSendMail(q) {
			t.Fatalf("CanSendMail() = false before send %d", i+1)
		}
		if !l.RecordMailSent(q) {
			t.Fatalf("RecordMailSent() = false on send %d", i+1)
		}
	}
	if l.CanSendMail(q) {
		t.Error("CanSendMail() = true after limit")
	}
	if l.RecordMailSent(q) {
		t.Error("RecordMailSent() = true after limit")
	}
	if got := l.Usage("contact").Count; got != 3 {
		t.Errorf("Usage() = %d, want 3 (rejected sends must not count)", got)
	}
}

func TestDayRolloverResetsCount(t *testing.T) {
	clk := &clock{now: time.Date(2024, 3, 1, 23, 59, 0, 0, time.UTC)}
	l := NewDailyLimiter(WithClock(clk.Now), WithLocation(time.UTC))
	q := quota{id: "contact", limit: 1}

	if !l.RecordMailSent(q) {
		t.Fatal("first send rejected")
	}
	if l.RecordMailSent(q) {
		t.Fatal("second send on the same day accepted")
	}

	clk.Advance(2 * time.Minute)

	if got := l.Usage("contact"); got.Count != 0 || got.Date != "2024-03-02" {
		t.Errorf("Usage() after rollover = %+v", got)
	}
	if !l.RecordMailSent(q) {
		t.Error("send on the next day rejected")
	}
}

func TestConfigsAreIndependent(t *testing.T) {
	l := NewDailyLimiter()
	a := quota{id: "a", limit: 1}
	b := quota{id: "b", limit: 1}

	if !l.RecordMailSent(a) || !l.RecordMailSent(b) {
		t.Fatal("first send per config should succeed")
	}
	if l.CanSendMail(a) || l.CanSendMail(b) {
		t.Error("both configs should be exhausted")
	}
}

func TestConcurrentRecordNeverExceedsLimit(t *testing.T) {
	l := NewDailyLimiter()
	q := quota{id: "contact", limit: 50}

	var accepted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.RecordMailSent(q) {
				accepted.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := accepted.Load(); got != 50 {
		t.Errorf("accepted = %d, want 50", got)
	}
}
