package actuator

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePort struct {
	bytes.Buffer
	closed   bool
	failNext error
}

func (p *fakePort) Write(b []byte) (int, error) {
	if p.failNext != nil {
		err := p.failNext
		p.failNext = nil
		return 0, err
	}
	return p.Buffer.Write(b)
}

func (p *fakePort) Close() error {
	p.closed = true
	return nil
}

func newFakeRelay(t *testing.T) (*SerialRelayDriver, *fakePort) {
	t.Helper()
	port := &fakePort{}
	d, err := newSerialRelayDriver(port, SerialRelayConfig{
		Channels: map[string][]int{"RED": {1}, "YELLOW": {2}, "GREEN": {3}},
		Order:    []string{"RED", "YELLOW", "GREEN"},
	})
	require.NoError(t, err)
	return d, port
}

func TestRelayFrame(t *testing.T) {
	assert.Equal(t, []byte{0xA0, 0x01, 0x01, 0xA2}, relayFrame(1, true))
	assert.Equal(t, []byte{0xA0, 0x01, 0x00, 0xA1}, relayFrame(1, false))
	assert.Equal(t, []byte{0xA0, 0x04, 0x01, 0xA5}, relayFrame(4, true))
}

func TestSerialRelayStartsOff(t *testing.T) {
	_, port := newFakeRelay(t)

	assert.Equal(t, []byte{
		0xA0, 0x01, 0x00, 0xA1,
		0xA0, 0x02, 0x00, 0xA2,
		0xA0, 0x03, 0x00, 0xA3,
	}, port.Bytes())
}

func TestSerialRelayShow(t *testing.T) {
	d, port := newFakeRelay(t)
	port.Reset()

	require.NoError(t, Show(d, "YELLOW"))
	assert.Equal(t, []byte{
		0xA0, 0x01, 0x00, 0xA1,
		0xA0, 0x03, 0x00, 0xA3,
		0xA0, 0x02, 0x01, 0xA3,
	}, port.Bytes())
}

func TestSerialRelayClose(t *testing.T) {
	d, port := newFakeRelay(t)
	port.Reset()

	require.NoError(t, d.Close())
	assert.Len(t, port.Bytes(), 12)
	assert.True(t, port.closed)
}

func TestSerialRelayWriteFailure(t *testing.T) {
	d, port := newFakeRelay(t)
	port.failNext = errors.New("device unplugged")

	err := d.SetChannel("GREEN", Asserted)
	var actErr *ActuatorError
	require.ErrorAs(t, err, &actErr)
	assert.Equal(t, "GREEN", actErr.Channel)
}

func TestSerialRelayRejectsBadRelay(t *testing.T) {
	_, err := newSerialRelayDriver(&fakePort{}, SerialRelayConfig{
		Channels: map[string][]int{"RED": {0}},
	})
	assert.Error(t, err)
}
