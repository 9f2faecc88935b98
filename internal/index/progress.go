package index

import "sync"

// ProgressSnapshot is a point-in-time view of a sync run.
type ProgressSnapshot struct {
	Scanned int // documents discovered by the scanner
	Indexed int // documents (re)indexed this run
	Skipped int // documents unchanged since last run
	Failed  int // documents that errored this run
	Removed int // documents purged because the source disappeared
}

// Done returns how many scanned documents have been resolved.
func (s ProgressSnapshot) Done() int {
	return s.Indexed + s.Skipped + s.Failed
}

// Progress tracks sync counters. Safe for concurrent use by the worker
// pool; readers get consistent snapshots.
type Progress struct {
	mu   sync.Mutex
	snap ProgressSnapshot
}

func (p *Progress) reset(scanned int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snap = ProgressSnapshot{Scanned: scanned}
}

func (p *Progress) addScanned(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snap.Scanned += n
}

func (p *Progress) markIndexed() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snap.Indexed++
}

func (p *Progress) markSkipped() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snap.Skipped++
}

func (p *Progress) markFailed() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snap.Failed++
}

func (p *Progress) markRemoved() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snap.Removed++
}

// Snapshot returns the current counters.
func (p *Progress) Snapshot() ProgressSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snap
}
