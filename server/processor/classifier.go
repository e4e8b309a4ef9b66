package processor

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/san-kum/detection-lights/server/models"
)

// Band maps an inclusive count range onto a light state. Unbounded bands
// ignore Upper.
type Band struct {
	State     models.LightState `json:"state"`
	Lower     int               `json:"lower"`
	Upper     int               `json:"upper"`
	Unbounded bool              `json:"unbounded"`
}

func (b Band) Contains(count int) bool {
	return count >= b.Lower && (b.Unbounded || count <= b.Upper)
}

func (b Band) String() string {
	if b.Unbounded {
		return fmt.Sprintf("%s:%d-", b.State, b.Lower)
	}
	return fmt.Sprintf("%s:%d-%d", b.State, b.Lower, b.Upper)
}

// Classify returns the state of the first band, in priority order, that
// contains count. Bands are expected to pass ValidateBands; if they overlap
// the earlier band wins. An empty band set or a negative count yields
// LightOff.
func Classify(count int, bands []Band) models.LightState {
	if count < 0 {
		return models.LightOff
	}
	for _, b := range bands {
		if b.Contains(count) {
			return b.State
		}
	}
	return models.LightOff
}

// TrafficBands: more than 10 targets is GREEN, 5-10 YELLOW, anything else RED.
func TrafficBands() []Band {
	return []Band{
		{State: models.LightGreen, Lower: 11, Unbounded: true},
		{State: models.LightYellow, Lower: 5, Upper: 10},
		{State: models.LightRed, Lower: 0, Upper: 4},
	}
}

// OccupancyBands: one target lights channel 1, two channel 2, three or more
// channel 3. Zero counts normally take the idle path before reaching here.
func OccupancyBands() []Band {
	return []Band{
		{State: models.LightChannel3, Lower: 3, Unbounded: true},
		{State: models.LightChannel2, Lower: 2, Upper: 2},
		{State: models.LightChannel1, Lower: 0, Upper: 1},
	}
}

// ValidateBands checks that bands are well formed, do not overlap and cover
// [0, ∞) without gaps. It does not reorder them: evaluation order stays the
// configured priority order.
func ValidateBands(bands []Band) error {
	if len(bands) == 0 {
		return fmt.Errorf("no threshold bands configured")
	}

	sorted := make([]Band, len(bands))
	copy(sorted, bands)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Lower < sorted[j].Lower })

	var problems []string
	for _, b := range bands {
		if b.State == models.LightOff {
			problems = append(problems, fmt.Sprintf("band %s maps to OFF", b))
		}
		if b.Lower < 0 || (!b.Unbounded && b.Upper < b.Lower) {
			problems = append(problems, fmt.Sprintf("band %s has an invalid range", b))
		}
	}

	if sorted[0].Lower != 0 {
		problems = append(problems, fmt.Sprintf("counts below %d are not covered", sorted[0].Lower))
	}
	for i := 1; i < len(sorted); i++ {
		prev, cur := sorted[i-1], sorted[i]
		if prev.Unbounded || cur.Lower <= prev.Upper {
			problems = append(problems, fmt.Sprintf("bands %s and %s overlap", prev, cur))
			continue
		}
		if cur.Lower > prev.Upper+1 {
			problems = append(problems, fmt.Sprintf("counts %d-%d are not covered", prev.Upper+1, cur.Lower-1))
		}
	}
	if !sorted[len(sorted)-1].Unbounded {
		problems = append(problems, fmt.Sprintf("counts above %d are not covered", sorted[len(sorted)-1].Upper))
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid threshold bands: %s", strings.Join(problems, ", "))
	}
	return nil
}

// ParseBands reads the "STATE:lower-upper" list form used in configuration,
// e.g. "GREEN:11-,YELLOW:5-10,RED:0-4". An empty upper bound means unbounded.
func ParseBands(list string) ([]Band, error) {
	var bands []Band
	for _, part := range strings.Split(list, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		name, rng, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("band %q: expected STATE:lower-upper", part)
		}
		state, err := models.ParseLightState(name)
		if err != nil {
			return nil, fmt.Errorf("band %q: %w", part, err)
		}

		lo, hi, ok := strings.Cut(rng, "-")
		if !ok {
			return nil, fmt.Errorf("band %q: expected lower-upper", part)
		}
		lower, err := strconv.Atoi(strings.TrimSpace(lo))
		if err != nil {
			return nil, fmt.Errorf("band %q: lower bound: %w", part, err)
		}

		b := Band{State: state, Lower: lower}
		if hi = strings.TrimSpace(hi); hi == "" {
			b.Unbounded = true
		} else if b.Upper, err = strconv.Atoi(hi); err != nil {
			return nil, fmt.Errorf("band %q: upper bound: %w", part, err)
		}
		bands = append(bands, b)
	}

	if len(bands) == 0 {
		return nil, fmt.Errorf("no bands in %q", list)
	}
	return bands, nil
}
