package billing

import "sync"

// cell holds a value that is stored at most once.
type cell[T any] struct {
	mu  sync.Mutex
	set bool
	val T
}

// Set stores v, failing with ErrAlreadySet if a value is already stored.
func (c *cell[T]) Set(v T) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.set {
		return ErrAlreadySet
	}
	c.val = v
	c.set = true
	return nil
}

// Load returns the stored value, calling fetch to produce it when empty.
// Concurrent callers wait for a single fetch. Failures are not stored so a
// later call retries.
func (c *cell[T]) Load(fetch func() (T, error)) (T, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.set {
		return c.val, nil
	}
	v, err := fetch()
	if err != nil {
		var zero T
		return zero, err
	}
	c.val = v
	c.set = true
	return v, nil
}

// Get returns the stored value and whether one is stored.
func (c *cell[T]) Get() (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.val, c.set
}
