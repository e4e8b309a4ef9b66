package models

import (
	"fmt"
	"strings"
)

type LightState int

const (
	LightOff LightState = iota
	LightRed
	LightYellow
	LightGreen
	LightChannel1
	LightChannel2
	LightChannel3
)

var lightNames = map[LightState]string{
	LightOff:      "OFF",
	LightRed:      "RED",
	LightYellow:   "YELLOW",
	LightGreen:    "GREEN",
	LightChannel1: "CHANNEL_1",
	LightChannel2: "CHANNEL_2",
	LightChannel3: "CHANNEL_3",
}

func (s LightState) String() string {
	if name, ok := lightNames[s]; ok {
		return name
	}
	return fmt.Sprintf("LightState(%d)", int(s))
}

func (s LightState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *LightState) UnmarshalText(text []byte) error {
	parsed, err := ParseLightState(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseLightState accepts the canonical names case-insensitively, plus the
// LIGHT1..LIGHT3 aliases used by occupancy installs.
func ParseLightState(name string) (LightState, error) {
	name = strings.ToUpper(strings.TrimSpace(name))
	switch name {
	case "LIGHT1":
		return LightChannel1, nil
	case "LIGHT2":
		return LightChannel2, nil
	case "LIGHT3":
		return LightChannel3, nil
	}
	for state, n := range lightNames {
		if n == name {
			return state, nil
		}
	}
	return LightOff, fmt.Errorf("unknown light state %q", name)
}
