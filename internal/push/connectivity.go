package push

import "sync"

// Connectivity is a two-state link signal owned by a transport.
// Consumers read it or watch it; only the transport sets it.
type Connectivity struct {
	mu        sync.Mutex
	connected bool
	watchers  map[int]chan bool
	nextID    int
}

// NewConnectivity creates a disconnected signal
func NewConnectivity() *Connectivity {
	return &Connectivity{
		watchers: make(map[int]chan bool),
	}
}

// Connected returns the current state
func (c *Connectivity) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Set records a new state and reports whether it changed.
// Watchers are notified of changes only.
func (c *Connectivity) Set(connected bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected == connected {
		return false
	}
	c.connected = connected
	for _, ch := range c.watchers {
		// keep only the latest state for slow watchers
		select {
		case <-ch:
		default:
		}
		ch <- connected
	}
	return true
}

// Watch returns a channel receiving every state change, and a func that
// stops the watch. A slow watcher sees the latest state, not every flap.
func (c *Connectivity) Watch() (<-chan bool, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID
	c.nextID++
	ch := make(chan bool, 1)
	c.watchers[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			delete(c.watchers, id)
		})
	}
}
