package broker

import (
	"fmt"
	"sort"
	"sync"
)

// Factory builds a Client from the loaded config.
type Factory func(Config) (Client, error)

var (
	regMu    sync.RWMutex
	registry = map[string]Factory{}
)

// Register is called from each driver's init().
func Register(name string, f Factory) {
	regMu.Lock()
	registry[name] = f
	regMu.Unlock()
}

// NewClient returns a client for cfg.Driver ("sarama", "memory", ...).
func NewClient(cfg Config) (Client, error) {
	regMu.RLock()
	f, ok := registry[cfg.Driver]
	regMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("broker: unsupported driver %q", cfg.Driver)
	}
	return f(cfg)
}

func Drivers() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
