package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/san-kum/detection-lights/server/actuator"
	"github.com/san-kum/detection-lights/server/eventlog"
	"github.com/san-kum/detection-lights/server/metrics"
	"github.com/san-kum/detection-lights/server/models"
	"go.uber.org/zap"
)

var (
	ErrControllerClosed = errors.New("controller is shut down")
	ErrUnmappedState    = errors.New("light state has no actuator channel")
)

type ControllerConfig struct {
	TargetLabel         string
	ConfidenceThreshold float64
	Bands               []Band
	Channels            actuator.ChannelMap
	// RisingFrames and FallingFrames are the persistence thresholds for
	// entering a lit state and for returning to OFF.
	RisingFrames  int
	FallingFrames int
	// IdleOnEmpty sends frames without a target detection down the OFF path
	// instead of classifying a zero count.
	IdleOnEmpty bool
	// DualCounter debounces on the detection and idle streaks. Once lit, the
	// light follows the classified count on every frame.
	DualCounter     bool
	ShutdownTimeout time.Duration
}

// StatePublisher receives a snapshot after every committed change. Publish
// must not block.
type StatePublisher interface {
	Publish(models.Snapshot)
}

// Controller turns detection events into light decisions. It owns the
// controller state; HandleEvent and the operator toggles serialize on one
// lock that is never held across actuator I/O.
type Controller struct {
	config    ControllerConfig
	driver    actuator.Driver
	queue     *CommandQueue
	log       *eventlog.EventLog
	publisher StatePublisher
	logger    *zap.Logger
	now       func() time.Time

	mu                  sync.Mutex
	gate                *HysteresisGate
	current             models.LightState
	start               time.Time
	lastChange          time.Time
	totalFrames         uint64
	framesWithDetection uint64
	lightsEnabled       bool
	closed              bool
}

func NewController(config ControllerConfig, driver actuator.Driver, queue *CommandQueue, log *eventlog.EventLog, logger *zap.Logger) (*Controller, error) {
	if err := ValidateBands(config.Bands); err != nil {
		return nil, err
	}
	if err := config.Channels.Validate(driver); err != nil {
		return nil, err
	}
	for _, b := range config.Bands {
		if b.State != models.LightOff && config.Channels.Channel(b.State) == "" {
			return nil, fmt.Errorf("band state %s has no channel: %w", b.State, ErrUnmappedState)
		}
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = 5 * time.Second
	}

	gate := NewHysteresisGate(config.RisingFrames, config.FallingFrames, models.LightOff)
	if config.DualCounter {
		gate = NewDualCounterGate(config.RisingFrames, config.FallingFrames, models.LightOff)
	}

	now := time.Now()
	c := &Controller{
		config:        config,
		driver:        driver,
		queue:         queue,
		log:           log,
		logger:        logger,
		now:           time.Now,
		gate:          gate,
		current:       models.LightOff,
		start:         now,
		lastChange:    now,
		lightsEnabled: true,
	}
	metrics.SetLightsEnabled(true)
	return c, nil
}

// SetPublisher attaches a publisher for committed state changes.
func (c *Controller) SetPublisher(p StatePublisher) {
	c.mu.Lock()
	c.publisher = p
	c.mu.Unlock()
}

// HandleEvent processes one frame. It never waits on the actuator: light
// changes are queued and the frame is logged immediately.
func (c *Controller) HandleEvent(ev *models.DetectionEvent) error {
	if !ev.Valid() {
		metrics.FramesMalformed.Inc()
		return models.ErrMalformedEvent
	}

	frame := models.Tally(ev, c.config.TargetLabel, c.config.ConfidenceThreshold)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrControllerClosed
	}

	c.totalFrames++
	if len(ev.Detections) > 0 {
		c.framesWithDetection++
	}
	metrics.FramesProcessed.Inc()
	metrics.TargetCount.Set(float64(frame.TargetCount))

	candidate := c.classify(frame.TargetCount)
	if next, committed := c.gate.Observe(candidate); committed {
		if c.lightsEnabled {
			c.switchLight(next, frame)
		} else {
			// Output is off: keep the decision pending so it commits once
			// the operator re-enables the lights.
			c.gate.Sync(c.current)
		}
	}

	c.append(frame, "")
	return nil
}

func (c *Controller) classify(count int) models.LightState {
	if c.config.IdleOnEmpty && count == 0 {
		return models.LightOff
	}
	return Classify(count, c.config.Bands)
}

// switchLight must be called with c.mu held.
func (c *Controller) switchLight(next models.LightState, frame models.FrameTally) {
	prev := c.current
	c.enqueueShow(next)

	c.current = next
	c.lastChange = c.now()
	metrics.Transitions.WithLabelValues(next.String()).Inc()

	c.logger.Info("Light changed",
		zap.Stringer("from", prev),
		zap.Stringer("to", next),
		zap.Int("target_count", frame.TargetCount),
		zap.Uint64("frame", frame.Frame))

	c.append(frame, models.NoteLightChanged)
	c.publish()
}

func (c *Controller) enqueueShow(state models.LightState) {
	channel := c.config.Channels.Channel(state)
	name := "show " + state.String()
	if channel == "" {
		name = "all off"
	}

	driver := c.driver
	ok := c.queue.Enqueue(Command{Name: name, Exec: func(context.Context) error {
		return actuator.Show(driver, channel)
	}})
	if !ok {
		c.logger.Warn("Command queue closed, dropping actuator command", zap.String("command", name))
	}
}

func (c *Controller) enqueueAllOff() {
	driver := c.driver
	if !c.queue.Enqueue(Command{Name: "all off", Exec: func(context.Context) error {
		return driver.AllOff()
	}}) {
		c.logger.Warn("Command queue closed, dropping all-off command")
	}
}

// SetLightsEnabled switches actuator output on or off. Disabling forces every
// channel off regardless of the current light; enabling restores the current
// light without reclassifying.
func (c *Controller) SetLightsEnabled(enabled bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setLightsEnabled(enabled)
}

// ToggleLights flips the output flag and returns the new value.
func (c *Controller) ToggleLights() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	enabled := !c.lightsEnabled
	return enabled, c.setLightsEnabled(enabled)
}

func (c *Controller) setLightsEnabled(enabled bool) error {
	if c.closed {
		return ErrControllerClosed
	}

	c.lightsEnabled = enabled
	metrics.SetLightsEnabled(enabled)

	note := models.NoteLightsEnabled
	if enabled {
		c.enqueueShow(c.current)
		c.logger.Info("Lights enabled", zap.Stringer("light", c.current))
	} else {
		note = models.NoteLightsDisabled
		c.enqueueAllOff()
		c.logger.Info("Lights disabled")
	}

	c.append(models.FrameTally{Objects: map[string]int{}}, note)
	c.publish()
	return nil
}

// append must be called with c.mu held. Log failures are reported by the
// event log and never interrupt control.
func (c *Controller) append(frame models.FrameTally, note string) {
	_, _ = c.log.Append(eventlog.Entry{State: c.snapshot(), Frame: frame, Note: note})
}

func (c *Controller) publish() {
	if c.publisher != nil {
		c.publisher.Publish(c.snapshot())
	}
}

func (c *Controller) Snapshot() models.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot()
}

func (c *Controller) snapshot() models.Snapshot {
	pending, consecutive := c.gate.Pending()
	detection, idle := c.gate.Streaks()
	return models.Snapshot{
		Current:             c.current,
		LastChange:          c.lastChange,
		Start:               c.start,
		TotalFrames:         c.totalFrames,
		FramesWithDetection: c.framesWithDetection,
		LightsEnabled:       c.lightsEnabled,
		Pending:             pending,
		Consecutive:         consecutive,
		DetectionStreak:     detection,
		IdleStreak:          idle,
	}
}

func (c *Controller) QueueStats() QueueStats {
	return c.queue.Stats()
}

// Shutdown stops intake, forces the lights off, waits for the queue to drain
// and only then releases the driver and closes the log.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.enqueueAllOff()
	c.mu.Unlock()

	c.logger.Info("Shutting down controller...")

	timeout := c.config.ShutdownTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}

	var errs []error
	if err := c.queue.Shutdown(timeout); err != nil {
		// The worker may still be driving outputs; releasing them now would
		// leave the lights mid-transition.
		c.logger.Error("Command queue did not drain, leaving actuator open", zap.Error(err))
		errs = append(errs, fmt.Errorf("drain command queue: %w", err))
	} else if err := c.driver.Close(); err != nil {
		errs = append(errs, fmt.Errorf("release actuator: %w", err))
	}
	if err := c.log.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close event log: %w", err))
	}

	c.logger.Info("Controller shutdown complete")
	return errors.Join(errs...)
}
