package portfolio

import (
	"sync"
	"time"
)

// clockResolution はPostgreSQLのtimestamptzの精度。
const clockResolution = time.Microsecond

// Clock はロットの取得日時を発行する単調増加の時計。
// 同じ時計から発行した日時は常に前回より後になるため、FIFOの順序が発行順と一致する。
type Clock struct {
	mu   sync.Mutex
	now  func() time.Time
	last time.Time
}

// NewClock はClockを生成する。nowがnilの場合はtime.Nowを使用する。
func NewClock(now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{now: now}
}

// Next は前回発行した日時より後の日時を返す。
func (c *Clock) Next() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.now().UTC().Truncate(clockResolution)
	if !t.After(c.last) {
		t = c.last.Add(clockResolution)
	}
	c.last = t
	return t
}
