package actuator

import (
	"sort"
	"sync"
	"time"
)

// MemoryDriver keeps channel levels in memory. It backs dry runs and tests and
// can inject failures or latency.
type MemoryDriver struct {
	mu       sync.Mutex
	channels []string
	levels   map[string]Level
	history  []Call
	closed   bool

	failOn  map[string]error
	latency time.Duration
}

type Call struct {
	Op      string
	Channel string
	Level   Level
}

func NewMemoryDriver(channels ...string) *MemoryDriver {
	d := &MemoryDriver{
		channels: append([]string(nil), channels...),
		levels:   make(map[string]Level, len(channels)),
		failOn:   make(map[string]error),
	}
	for _, ch := range channels {
		d.levels[ch] = Deasserted
	}
	return d
}

func (d *MemoryDriver) Channels() []string {
	return append([]string(nil), d.channels...)
}

func (d *MemoryDriver) SetChannel(channel string, level Level) error {
	d.mu.Lock()
	latency := d.latency
	d.mu.Unlock()
	if latency > 0 {
		time.Sleep(latency)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.levels[channel]; !ok {
		return &ActuatorError{Channel: channel, Op: "set", Err: ErrUnknownChannel}
	}
	if err := d.failOn[channel]; err != nil {
		return &ActuatorError{Channel: channel, Op: "set", Err: err}
	}
	d.levels[channel] = level
	d.history = append(d.history, Call{Op: "set", Channel: channel, Level: level})
	return nil
}

func (d *MemoryDriver) AllOff() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for ch := range d.levels {
		d.levels[ch] = Deasserted
	}
	d.history = append(d.history, Call{Op: "all_off"})
	return nil
}

func (d *MemoryDriver) Close() error {
	if err := d.AllOff(); err != nil {
		return err
	}
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}

// Levels returns a copy of the current channel levels.
func (d *MemoryDriver) Levels() map[string]Level {
	d.mu.Lock()
	defer d.mu.Unlock()

	levels := make(map[string]Level, len(d.levels))
	for ch, l := range d.levels {
		levels[ch] = l
	}
	return levels
}

// Lit returns the asserted channels in sorted order.
func (d *MemoryDriver) Lit() []string {
	var lit []string
	for ch, l := range d.Levels() {
		if l == Asserted {
			lit = append(lit, ch)
		}
	}
	sort.Strings(lit)
	return lit
}

func (d *MemoryDriver) History() []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Call(nil), d.history...)
}

func (d *MemoryDriver) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// FailOn makes SetChannel on channel return err. A nil err clears it.
func (d *MemoryDriver) FailOn(channel string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err == nil {
		delete(d.failOn, channel)
		return
	}
	d.failOn[channel] = err
}

func (d *MemoryDriver) SetLatency(latency time.Duration) {
	d.mu.Lock()
	d.latency = latency
	d.mu.Unlock()
}
