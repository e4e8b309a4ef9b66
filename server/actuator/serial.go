package actuator

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"go.bug.st/serial"
)

// SerialPorter is the part of a serial port the relay driver needs.
type SerialPorter interface {
	io.Writer
	io.Closer
}

// SerialRelayConfig maps channels onto 1-based relay numbers of an LCUS-style
// USB relay board.
type SerialRelayConfig struct {
	Port     string
	BaudRate int
	Channels map[string][]int
	Order    []string
}

// SerialRelayDriver switches relays on a USB serial relay board. Each relay
// command is a four byte frame: 0xA0, relay, state, checksum.
type SerialRelayDriver struct {
	mu     sync.Mutex
	port   SerialPorter
	order  []string
	relays map[string][]int
}

func NewSerialRelayDriver(cfg SerialRelayConfig) (*SerialRelayDriver, error) {
	baud := cfg.BaudRate
	if baud == 0 {
		baud = 9600
	}

	port, err := serial.Open(cfg.Port, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, &ActuatorError{Op: "open " + cfg.Port, Err: err}
	}

	d, err := newSerialRelayDriver(port, cfg)
	if err != nil {
		port.Close()
		return nil, err
	}
	return d, nil
}

func newSerialRelayDriver(port SerialPorter, cfg SerialRelayConfig) (*SerialRelayDriver, error) {
	if len(cfg.Channels) == 0 {
		return nil, fmt.Errorf("serial relay: no channels configured")
	}

	order := cfg.Order
	if len(order) == 0 {
		for name := range cfg.Channels {
			order = append(order, name)
		}
	}
	for _, name := range order {
		for _, relay := range cfg.Channels[name] {
			if relay < 1 || relay > 0xFF {
				return nil, fmt.Errorf("serial relay: channel %s relay %d out of range", name, relay)
			}
		}
	}

	d := &SerialRelayDriver{port: port, order: order, relays: cfg.Channels}
	if err := d.AllOff(); err != nil {
		return nil, err
	}
	return d, nil
}

func relayFrame(relay int, on bool) []byte {
	state := byte(0x00)
	if on {
		state = 0x01
	}
	idx := byte(relay)
	return []byte{0xA0, idx, state, 0xA0 + idx + state}
}

func (d *SerialRelayDriver) Channels() []string {
	return append([]string(nil), d.order...)
}

func (d *SerialRelayDriver) SetChannel(channel string, level Level) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.set(channel, level)
}

func (d *SerialRelayDriver) set(channel string, level Level) error {
	relays, ok := d.relays[channel]
	if !ok {
		return &ActuatorError{Channel: channel, Op: "set", Err: ErrUnknownChannel}
	}
	for _, relay := range relays {
		if _, err := d.port.Write(relayFrame(relay, level == Asserted)); err != nil {
			return &ActuatorError{Channel: channel, Op: "set", Err: err}
		}
	}
	return nil
}

func (d *SerialRelayDriver) AllOff() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var errs []error
	for _, name := range d.order {
		if err := d.set(name, Deasserted); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (d *SerialRelayDriver) Close() error {
	offErr := d.AllOff()

	d.mu.Lock()
	defer d.mu.Unlock()
	return errors.Join(offErr, d.port.Close())
}
