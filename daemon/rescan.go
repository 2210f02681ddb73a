package daemon

import "time"

// rescanQueue remembers directories that left files behind because they
// were still being written, and when to look at them again. It is only
// used by the loop goroutine.
type rescanQueue struct {
	due   map[string]time.Time
	timer *time.Timer
}

func newRescanQueue() *rescanQueue {
	return &rescanQueue{due: make(map[string]time.Time)}
}

// Add schedules alias at at, keeping an earlier time already queued.
func (q *rescanQueue) Add(alias string, at time.Time) {
	if cur, ok := q.due[alias]; ok && !at.Before(cur) {
		return
	}
	q.due[alias] = at
	q.arm(time.Now())
}

// Remove forgets alias.
func (q *rescanQueue) Remove(alias string) {
	if _, ok := q.due[alias]; !ok {
		return
	}
	delete(q.due, alias)
	q.arm(time.Now())
}

// C fires when the earliest directory is due. It is nil while nothing
// is queued.
func (q *rescanQueue) C() <-chan time.Time {
	if q.timer == nil || len(q.due) == 0 {
		return nil
	}
	return q.timer.C
}

// Due removes and returns the directories due at now.
func (q *rescanQueue) Due(now time.Time) []string {
	var out []string
	for alias, at := range q.due {
		if !at.After(now) {
			out = append(out, alias)
			delete(q.due, alias)
		}
	}
	q.arm(now)
	return out
}

func (q *rescanQueue) Stop() {
	if q.timer != nil {
		q.timer.Stop()
	}
}

func (q *rescanQueue) arm(now time.Time) {
	if len(q.due) == 0 {
		if q.timer != nil {
			q.timer.Stop()
		}
		return
	}
	var next time.Time
	for _, at := range q.due {
		if next.IsZero() || at.Before(next) {
			next = at
		}
	}
	wait := max(next.Sub(now), 0)
	if q.timer == nil {
		q.timer = time.NewTimer(wait)
		return
	}
	q.timer.Reset(wait)
}
