package backup

import "sync"

// Percent is floor(done*100/total) clamped to [0,100]. A zero total means
// there is nothing left to do, which is complete.
func Percent(done, total int64) int {
	if total <= 0 || done >= total {
		return 100
	}

	if done <= 0 {
		return 0
	}

	return int(done * 100 / total)
}

// ProgressTracker turns attempted bytes into percentages and hands them to
// emit one at a time. Emissions never go backwards.
type ProgressTracker struct {
	mu    sync.Mutex
	total int64
	done  int64
	last  int
	emit  func(int)
}

// NewProgressTracker returns a tracker for total bytes. emit may be nil.
func NewProgressTracker(total int64, emit func(int)) *ProgressTracker {
	if emit == nil {
		emit = func(int) {}
	}

	return &ProgressTracker{total: total, last: -1, emit: emit}
}

// Advance records n more bytes attempted and emits the new percentage.
func (p *ProgressTracker) Advance(n int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.done += n
	p.send(Percent(p.done, p.total))
}

// Finish emits 100 if it has not been emitted yet.
func (p *ProgressTracker) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.last != 100 {
		p.send(100)
	}
}

// Last is the most recently emitted percentage, 0 before any emission.
func (p *ProgressTracker) Last() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.last < 0 {
		return 0
	}

	return p.last
}

func (p *ProgressTracker) send(pct int) {
	if pct < p.last {
		pct = p.last
	}

	p.last = pct
	p.emit(pct)
}
