// Package detection reads detection events produced by the external
// inference pipeline and hands them, one at a time, to a Handler.
package detection

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/san-kum/detection-lights/server/models"
	"go.uber.org/zap"
)

// Handler consumes one event. It is called synchronously; the next event is
// not read until it returns.
type Handler interface {
	HandleEvent(ev *models.DetectionEvent) error
}

// MaxLineSize bounds a single JSON event line.
const MaxLineSize = 1 << 20

// Decode parses one wire event. A missing timestamp becomes receivedAt.
func Decode(data []byte, receivedAt time.Time) (*models.DetectionEvent, error) {
	var ev models.DetectionEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("decode detection event: %w", err)
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = receivedAt
	}
	return &ev, nil
}

// Deliver hands ev to h. Malformed events are dropped quietly at debug level;
// they are expected when the pipeline emits frames without negotiated caps.
func Deliver(h Handler, ev *models.DetectionEvent, logger *zap.Logger) error {
	err := h.HandleEvent(ev)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, models.ErrMalformedEvent):
		logger.Debug("Dropping frame without caps", zap.Uint64("frame", ev.Frame))
		return nil
	default:
		return err
	}
}

// Reader streams newline-delimited JSON events, e.g. from stdin or a FIFO the
// inference pipeline writes to.
type Reader struct {
	handler Handler
	logger  *zap.Logger
	now     func() time.Time
}

func NewReader(handler Handler, logger *zap.Logger) *Reader {
	return &Reader{handler: handler, logger: logger, now: time.Now}
}

// Run reads until EOF, ctx cancellation or a handler failure. Lines that do
// not decode are logged and skipped.
func (r *Reader) Run(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxLineSize)

	var line int
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line++

		data := scanner.Bytes()
		if len(data) == 0 {
			continue
		}

		ev, err := Decode(data, r.now())
		if err != nil {
			r.logger.Warn("Skipping undecodable detection line", zap.Int("line", line), zap.Error(err))
			continue
		}
		if err := Deliver(r.handler, ev, r.logger); err != nil {
			return fmt.Errorf("frame %d: %w", ev.Frame, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read detections: %w", err)
	}
	return nil
}
