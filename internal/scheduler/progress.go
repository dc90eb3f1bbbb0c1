package scheduler

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Progress is the completion surface a caller can poll while Run is active.
// The counter only ever increases; Status describes the last finished task.
type Progress struct {
	completed atomic.Int64
	total     atomic.Int64

	mu     sync.Mutex
	status string
}

func NewProgress() *Progress {
	return &Progress{}
}

// Completed returns the number of transactions that have been dealt with,
// whatever their outcome. Skipped transactions count as soon as they are
// skipped, so a sized run always ends at "<m> of <m>".
func (p *Progress) Completed() int64 {
	return p.completed.Load()
}

// Status returns "processing <id> (<n> of <m>)", or "processing <id> (<n>)"
// when the source length is unknown.
func (p *Progress) Status() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *Progress) setTotal(n int) {
	p.total.Store(int64(n))
}

func (p *Progress) finished(id string) {
	n := p.completed.Add(1)
	var status string
	if m := p.total.Load(); m > 0 {
		status = fmt.Sprintf("processing %s (%d of %d)", id, n, m)
	} else {
		status = fmt.Sprintf("processing %s (%d)", id, n)
	}
	p.mu.Lock()
	p.status = status
	p.mu.Unlock()
}
