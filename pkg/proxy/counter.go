package proxy

import "sync/atomic"

// RequestCounter counts handled requests for the life of the process.
// It is safe for concurrent use and never resets.
type RequestCounter struct {
	n atomic.Uint64
}

// Inc adds one request and returns the new total
func (c *RequestCounter) Inc() uint64 {
	return c.n.Add(1)
}

// Value returns the current total
func (c *RequestCounter) Value() uint64 {
	return c.n.Load()
}
