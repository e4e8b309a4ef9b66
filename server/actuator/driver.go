// Package actuator drives the physical light outputs. Every driver exposes
// named logical channels and always writes absolute levels, so repeating a
// command is harmless.
package actuator

import (
	"errors"
	"fmt"

	"github.com/san-kum/detection-lights/server/models"
)

type Level int

const (
	Deasserted Level = iota
	Asserted
)

func (l Level) String() string {
	if l == Asserted {
		return "ASSERTED"
	}
	return "DEASSERTED"
}

// Driver is implemented by every actuator backend. Calls come from the
// command queue worker only.
type Driver interface {
	Channels() []string
	SetChannel(channel string, level Level) error
	AllOff() error
	// Close drives every channel off and releases the hardware.
	Close() error
}

var ErrUnknownChannel = errors.New("unknown actuator channel")

// ActuatorError is a failed operation on one channel.
type ActuatorError struct {
	Channel string
	Op      string
	Err     error
}

func (e *ActuatorError) Error() string {
	if e.Channel == "" {
		return fmt.Sprintf("actuator %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("actuator %s %s: %v", e.Op, e.Channel, e.Err)
}

func (e *ActuatorError) Unwrap() error { return e.Err }

// Show lights exactly one channel. Every other channel is deasserted first so
// two lights are never on together. An empty channel turns everything off.
func Show(d Driver, channel string) error {
	if channel == "" {
		return d.AllOff()
	}

	found := false
	for _, ch := range d.Channels() {
		if ch == channel {
			found = true
			continue
		}
		if err := d.SetChannel(ch, Deasserted); err != nil {
			return err
		}
	}
	if !found {
		return &ActuatorError{Channel: channel, Op: "show", Err: ErrUnknownChannel}
	}
	return d.SetChannel(channel, Asserted)
}

// ChannelMap names the actuator channel for each light state. LightOff has no
// channel.
type ChannelMap map[models.LightState]string

func TrafficChannels() ChannelMap {
	return ChannelMap{
		models.LightRed:    "RED",
		models.LightYellow: "YELLOW",
		models.LightGreen:  "GREEN",
	}
}

func OccupancyChannels() ChannelMap {
	return ChannelMap{
		models.LightChannel1: "LIGHT1",
		models.LightChannel2: "LIGHT2",
		models.LightChannel3: "LIGHT3",
	}
}

func (m ChannelMap) Channel(state models.LightState) string {
	return m[state]
}

// Validate checks that every mapped channel exists on the driver.
func (m ChannelMap) Validate(d Driver) error {
	known := make(map[string]bool)
	for _, ch := range d.Channels() {
		known[ch] = true
	}
	for state, ch := range m {
		if !known[ch] {
			return fmt.Errorf("state %s maps to channel %q which the driver does not have: %w", state, ch, ErrUnknownChannel)
		}
	}
	return nil
}
