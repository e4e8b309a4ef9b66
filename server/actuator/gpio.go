package actuator

import (
	"errors"
	"fmt"
	"sync"

	"github.com/warthog618/go-gpiocdev"
)

// GPIOConfig describes the lines behind each channel. A channel may drive
// several lines (a light module with one relay per lamp); they always move
// together.
type GPIOConfig struct {
	Chip      string
	Channels  map[string][]int
	Order     []string
	ActiveLow bool
	Consumer  string
}

// DefaultGPIOChannels are the BCM offsets of the three light modules.
func DefaultGPIOChannels(names ...string) map[string][]int {
	offsets := [][]int{{17, 27, 22}, {23, 24, 25}, {5, 6, 13}}
	channels := make(map[string][]int, len(names))
	for i, name := range names {
		if i < len(offsets) {
			channels[name] = offsets[i]
		}
	}
	return channels
}

type lineGroup interface {
	SetValues(values []int) error
	Close() error
}

type lineRequester func(chip string, offsets []int, initial int, cfg GPIOConfig) (lineGroup, error)

// GPIODriver drives light modules through the Linux GPIO character device.
type GPIODriver struct {
	mu     sync.Mutex
	order  []string
	groups map[string]lineGroup
	sizes  map[string]int
}

func NewGPIODriver(cfg GPIOConfig) (*GPIODriver, error) {
	return newGPIODriver(cfg, requestGPIOLines)
}

func newGPIODriver(cfg GPIOConfig, request lineRequester) (*GPIODriver, error) {
	if len(cfg.Channels) == 0 {
		return nil, fmt.Errorf("gpio: no channels configured")
	}

	order := cfg.Order
	if len(order) == 0 {
		for name := range cfg.Channels {
			order = append(order, name)
		}
	}

	d := &GPIODriver{
		order:  order,
		groups: make(map[string]lineGroup, len(order)),
		sizes:  make(map[string]int, len(order)),
	}

	for _, name := range order {
		offsets, ok := cfg.Channels[name]
		if !ok || len(offsets) == 0 {
			d.release()
			return nil, fmt.Errorf("gpio: channel %s has no lines", name)
		}
		// Lines are requested deasserted so nothing flashes on at startup.
		group, err := request(cfg.Chip, offsets, 0, cfg)
		if err != nil {
			d.release()
			return nil, &ActuatorError{Channel: name, Op: "request", Err: err}
		}
		d.groups[name] = group
		d.sizes[name] = len(offsets)
	}

	if err := d.AllOff(); err != nil {
		d.release()
		return nil, err
	}
	return d, nil
}

func requestGPIOLines(chip string, offsets []int, initial int, cfg GPIOConfig) (lineGroup, error) {
	values := make([]int, len(offsets))
	for i := range values {
		values[i] = initial
	}

	opts := []gpiocdev.LineReqOption{
		gpiocdev.WithConsumer(cfg.Consumer),
		gpiocdev.AsOutput(values...),
	}
	if cfg.ActiveLow {
		opts = append(opts, gpiocdev.AsActiveLow)
	}

	return gpiocdev.RequestLines(chip, offsets, opts...)
}

func (d *GPIODriver) Channels() []string {
	return append([]string(nil), d.order...)
}

func (d *GPIODriver) SetChannel(channel string, level Level) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.set(channel, level)
}

func (d *GPIODriver) set(channel string, level Level) error {
	group, ok := d.groups[channel]
	if !ok {
		return &ActuatorError{Channel: channel, Op: "set", Err: ErrUnknownChannel}
	}

	value := 0
	if level == Asserted {
		value = 1
	}
	values := make([]int, d.sizes[channel])
	for i := range values {
		values[i] = value
	}

	if err := group.SetValues(values); err != nil {
		return &ActuatorError{Channel: channel, Op: "set", Err: err}
	}
	return nil
}

func (d *GPIODriver) AllOff() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var errs []error
	for _, name := range d.order {
		if _, ok := d.groups[name]; !ok {
			continue
		}
		if err := d.set(name, Deasserted); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (d *GPIODriver) Close() error {
	offErr := d.AllOff()

	d.mu.Lock()
	defer d.mu.Unlock()
	return errors.Join(offErr, d.release())
}

func (d *GPIODriver) release() error {
	var errs []error
	for name, group := range d.groups {
		if err := group.Close(); err != nil {
			errs = append(errs, &ActuatorError{Channel: name, Op: "release", Err: err})
		}
		delete(d.groups, name)
	}
	return errors.Join(errs...)
}
