package transport

import "sync"

// Admission bounds the number of concurrent connections. The lock is held
// only for the compare and update.
type Admission struct {
	mu     sync.Mutex
	active int
	max    int
}

// NewAdmission creates an Admission allowing up to max connections.
func NewAdmission(max int) *Admission {
	return &Admission{max: max}
}

// Acquire takes a slot, reporting false when none is free.
func (a *Admission) Acquire() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.active >= a.max {
		return false
	}
	a.active++
	return true
}

// Release frees a slot taken by Acquire.
func (a *Admission) Release() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.active > 0 {
		a.active--
	}
}

// Active returns the number of slots in use.
func (a *Admission) Active() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active
}
