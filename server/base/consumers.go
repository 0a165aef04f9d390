package base

import (
	"sync"
	"time"
)

type consumer struct {
	fn        ResponseFunc
	expiresAt time.Time
}

// Consumers maps request ids to the callbacks waiting for their response.
type Consumers struct {
	mu sync.Mutex
	m  map[int64]*consumer
}

func NewConsumers() *Consumers {
	return &Consumers{
		m: make(map[int64]*consumer),
	}
}

func (c *Consumers) Add(id int64, fn ResponseFunc, timeout time.Duration) {
	c.mu.Lock()
	c.m[id] = &consumer{fn: fn, expiresAt: time.Now().Add(timeout)}
	c.mu.Unlock()
}

// Take removes and returns the callback for id.
func (c *Consumers) Take(id int64) (ResponseFunc, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cs, ok := c.m[id]
	if !ok {
		return nil, false
	}
	delete(c.m, id)
	return cs.fn, true
}

// Expire removes and returns every callback whose deadline is not after now.
func (c *Consumers) Expire(now time.Time) []ResponseFunc {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expired []ResponseFunc
	for id, cs := range c.m {
		if cs.expiresAt.After(now) {
			continue
		}
		expired = append(expired, cs.fn)
		delete(c.m, id)
	}
	return expired
}

// Drain removes and returns every callback.
func (c *Consumers) Drain() []ResponseFunc {
	c.mu.Lock()
	defer c.mu.Unlock()

	all := make([]ResponseFunc, 0, len(c.m))
	for id, cs := range c.m {
		all = append(all, cs.fn)
		delete(c.m, id)
	}
	return all
}

func (c *Consumers) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.m)
}
