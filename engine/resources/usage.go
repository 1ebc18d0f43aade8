package resources

import "sync"

/**
 * @brief A manual reference count guarding the single, irreversible discard
 * of a resource.
 *
 * Once discarded, Increase and Decrease are ignored. With manualMemory set the
 * count reaching zero never discards; the owner calls Discard instead.
 * Safe for use from several goroutines.
 */
type Usage struct {
	mu           sync.Mutex
	count        int
	discarded    bool
	manualMemory bool
	onDiscard    func()
}

// NewUsage returns a usage with a count of zero.
func NewUsage(manualMemory bool, onDiscard func()) *Usage {
	return &Usage{
		manualMemory: manualMemory,
		onDiscard:    onDiscard,
	}
}

func (u *Usage) Increase() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.discarded {
		return
	}
	u.count++
}

// Decrease drops one reference. The count never goes below zero. The discard
// callback runs when the count reaches zero, outside the lock, and never more
// than once.
func (u *Usage) Decrease() {
	u.mu.Lock()
	if u.discarded {
		u.mu.Unlock()
		return
	}
	if u.count > 0 {
		u.count--
	}
	if u.count > 0 || u.manualMemory {
		u.mu.Unlock()
		return
	}
	u.count = 0
	u.discarded = true
	fn := u.onDiscard
	u.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// Discard releases the resource now, whatever the count. Returns false if it
// was already discarded.
func (u *Usage) Discard() bool {
	u.mu.Lock()
	if u.discarded {
		u.mu.Unlock()
		return false
	}
	u.discarded = true
	fn := u.onDiscard
	u.mu.Unlock()

	if fn != nil {
		fn()
	}
	return true
}

func (u *Usage) Count() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.count
}

func (u *Usage) Discarded() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.discarded
}

func (u *Usage) ManualMemory() bool {
	return u.manualMemory
}

/**
 * @brief A resource together with the usage that guards it. NewHandle starts
 * with one reference held by the caller.
 */
type Handle struct {
	Resource Resource
	Usage    *Usage
}

func NewHandle(res Resource) *Handle {
	u := NewUsage(false, res.Release)
	u.Increase()
	return &Handle{Resource: res, Usage: u}
}

// Acquire takes another reference.
func (h *Handle) Acquire() *Handle {
	h.Usage.Increase()
	return h
}

// Release drops one reference.
func (h *Handle) Release() {
	h.Usage.Decrease()
}
