package sink

import (
	"fmt"
	"sort"

	"txspout/spout"
)

// Adapter is the common behaviour every sink exposes. Push errors make the
// runner replay the batch the record belongs to.
type Adapter interface {
	Configure(any) error     // driver-specific config struct
	Push(spout.Record) error // consume one record
	Close() error            // idempotent
}

// Flusher is optional; sinks that buffer implement it so the runner can
// confirm a whole batch before recording it as done.
type Flusher interface {
	Flush() error
}

/*──────── registry ───────*/

type factory = func() Adapter

var reg = map[string]factory{}

func Register(name string, f factory) { reg[name] = f }

func NewAdapter(name string) (Adapter, error) {
	if f, ok := reg[name]; ok {
		return f(), nil
	}
	return nil, fmt.Errorf("unknown sink %q", name)
}

func Names() []string {
	out := make([]string, 0, len(reg))
	for n := range reg {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
