package settings

import "sync"

// Credentials holds the API key for the lifetime of the process. Nothing is
// written to disk.
type Credentials struct {
	mu  sync.RWMutex
	key string
}

func NewCredentials(key string) *Credentials {
	return &Credentials{key: key}
}

func (c *Credentials) APIKey() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.key, c.key != ""
}

func (c *Credentials) Set(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.key = key
}

func (c *Credentials) Reset() {
	c.Set("")
}
