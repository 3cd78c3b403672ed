// txspout/sink/stdout/driver.go
package stdout

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"txspout/sink"
	"txspout/spout"
)

/* ────────── public config ────────── */
type Config struct {
	PrintCounter  bool      `yaml:"print_counter"`   // prepend seq#
	PrintValue    bool      `yaml:"print_value"`     // payload instead of its length
	ValueMaxBytes int       `yaml:"value_max_bytes"` // 0 = no truncation
	Out           io.Writer `yaml:"-"`               // defaults to os.Stdout
}

/* ────────── driver ────────── */
type driver struct {
	cfg Config

	mu sync.Mutex // guards w
	w  *bufio.Writer
}

var seq uint64

/* ────────── sink.Adapter ────────── */
func (d *driver) Configure(raw any) error {
	c, ok := raw.(Config)
	if !ok {
		return fmt.Errorf("stdout-sink: expected Config, got %T", raw)
	}
	if c.Out == nil {
		c.Out = os.Stdout
	}
	d.cfg = c
	d.w = bufio.NewWriter(c.Out)
	return nil
}

func (d *driver) Push(r spout.Record) error {
	body := fmt.Sprintf("len=%d", len(r.Payload))
	if d.cfg.PrintValue {
		v := r.Payload
		if n := d.cfg.ValueMaxBytes; n > 0 && len(v) > n {
			v = v[:n]
		}
		body = string(v)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	var err error
	if d.cfg.PrintCounter {
		_, err = fmt.Fprintf(d.w, "[sink %06d] tx=%s %s\n", atomic.AddUint64(&seq, 1), r.Tx, body)
	} else {
		_, err = fmt.Fprintf(d.w, "[sink] tx=%s %s\n", r.Tx, body)
	}
	return err
}

/* ────────── sink.Flusher ────────── */
func (d *driver) Flush() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.w.Flush()
}

func (d *driver) Close() error {
	if d.w == nil {
		return nil
	}
	return d.Flush()
}

/* ────────── auto-register ────────── */
func init() {
	sink.Register("stdout", func() sink.Adapter { return &driver{} })
}
