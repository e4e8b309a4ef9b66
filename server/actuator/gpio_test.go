package actuator

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLines struct {
	mu      sync.Mutex
	offsets []int
	values  []int
	writes  int
	closed  bool
	failSet error
}

func (f *fakeLines) SetValues(values []int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSet != nil {
		return f.failSet
	}
	f.values = append([]int(nil), values...)
	f.writes++
	return nil
}

func (f *fakeLines) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

type fakeChip struct {
	lines    map[int]*fakeLines
	failAt   int
	requests int
}

func (c *fakeChip) request(chip string, offsets []int, initial int, cfg GPIOConfig) (lineGroup, error) {
	c.requests++
	if c.failAt > 0 && c.requests == c.failAt {
		return nil, errors.New("line busy")
	}
	values := make([]int, len(offsets))
	for i := range values {
		values[i] = initial
	}
	l := &fakeLines{offsets: offsets, values: values}
	c.lines[offsets[0]] = l
	return l, nil
}

func newFakeGPIO(t *testing.T) (*GPIODriver, *fakeChip) {
	t.Helper()
	chip := &fakeChip{lines: make(map[int]*fakeLines)}
	d, err := newGPIODriver(GPIOConfig{
		Chip:     "gpiochip0",
		Channels: DefaultGPIOChannels("LIGHT1", "LIGHT2", "LIGHT3"),
		Order:    []string{"LIGHT1", "LIGHT2", "LIGHT3"},
	}, chip.request)
	require.NoError(t, err)
	return d, chip
}

func TestDefaultGPIOChannels(t *testing.T) {
	assert.Equal(t, map[string][]int{
		"RED":    {17, 27, 22},
		"YELLOW": {23, 24, 25},
		"GREEN":  {5, 6, 13},
	}, DefaultGPIOChannels("RED", "YELLOW", "GREEN"))
}

func TestGPIODriverStartsOff(t *testing.T) {
	d, chip := newFakeGPIO(t)

	assert.Equal(t, []string{"LIGHT1", "LIGHT2", "LIGHT3"}, d.Channels())
	require.Len(t, chip.lines, 3)
	for _, l := range chip.lines {
		assert.Equal(t, []int{0, 0, 0}, l.values)
		assert.Equal(t, 1, l.writes)
	}
}

func TestGPIODriverShow(t *testing.T) {
	d, chip := newFakeGPIO(t)

	require.NoError(t, Show(d, "LIGHT2"))
	assert.Equal(t, []int{0, 0, 0}, chip.lines[17].values)
	assert.Equal(t, []int{1, 1, 1}, chip.lines[23].values)
	assert.Equal(t, []int{0, 0, 0}, chip.lines[5].values)

	require.NoError(t, Show(d, "LIGHT3"))
	assert.Equal(t, []int{0, 0, 0}, chip.lines[23].values)
	assert.Equal(t, []int{1, 1, 1}, chip.lines[5].values)
}

func TestGPIODriverCloseTurnsOffThenReleases(t *testing.T) {
	d, chip := newFakeGPIO(t)
	require.NoError(t, Show(d, "LIGHT1"))

	require.NoError(t, d.Close())
	for _, l := range chip.lines {
		assert.Equal(t, []int{0, 0, 0}, l.values)
		assert.True(t, l.closed)
	}
}

func TestGPIODriverRequestFailureReleasesClaimedLines(t *testing.T) {
	chip := &fakeChip{lines: make(map[int]*fakeLines), failAt: 2}
	_, err := newGPIODriver(GPIOConfig{
		Chip:     "gpiochip0",
		Channels: DefaultGPIOChannels("RED", "YELLOW", "GREEN"),
		Order:    []string{"RED", "YELLOW", "GREEN"},
	}, chip.request)

	var actErr *ActuatorError
	require.ErrorAs(t, err, &actErr)
	assert.Equal(t, "YELLOW", actErr.Channel)
	assert.True(t, chip.lines[17].closed)
}

func TestGPIODriverSetFailure(t *testing.T) {
	d, chip := newFakeGPIO(t)
	chip.lines[23].failSet = errors.New("io error")

	err := d.SetChannel("LIGHT2", Asserted)
	var actErr *ActuatorError
	require.ErrorAs(t, err, &actErr)
	assert.Equal(t, "LIGHT2", actErr.Channel)

	assert.ErrorIs(t, d.SetChannel("LIGHT9", Asserted), ErrUnknownChannel)
}

func TestGPIODriverRequiresChannels(t *testing.T) {
	_, err := newGPIODriver(GPIOConfig{Chip: "gpiochip0"}, (&fakeChip{lines: map[int]*fakeLines{}}).request)
	assert.Error(t, err)
}
