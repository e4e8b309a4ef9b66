package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/san-kum/detection-lights/server/metrics"
	"go.uber.org/zap"
)

var (
	ErrQueueClosed  = errors.New("command queue closed")
	ErrCommandHung  = errors.New("actuator command exceeded its deadline")
	errShutdownWait = errors.New("shutdown timeout exceeded")
)

// Command is one actuator operation. Commands must be idempotent: they set
// absolute output levels, never deltas.
type Command struct {
	Name string
	Exec func(ctx context.Context) error

	marker bool
}

type QueueConfig struct {
	// PollInterval bounds how long the worker sleeps when no wake-up arrives.
	PollInterval time.Duration
	// CommandTimeout bounds a single command. A command that overruns is
	// treated as hung and the rest of its batch is skipped. The next command
	// waits until the hung one returns.
	CommandTimeout time.Duration
}

func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		PollInterval:   5 * time.Millisecond,
		CommandTimeout: 2 * time.Second,
	}
}

// CommandQueue hands actuator commands from the frame path to a single worker.
// Enqueue only appends under the lock; the worker swaps the pending slice out
// and executes it with the lock released.
type CommandQueue struct {
	config QueueConfig
	logger *zap.Logger

	mutex     sync.Mutex
	pending   []Command
	isRunning bool

	wake     chan struct{}
	shutdown chan struct{}
	done     chan struct{}

	// inflight holds the result of a command that overran its deadline and
	// is still running. Only the worker touches it.
	inflight chan error

	statsMu sync.Mutex
	stats   QueueStats
}

type QueueStats struct {
	Pending   int   `json:"pending"`
	Executed  int64 `json:"executed"`
	Failed    int64 `json:"failed"`
	Hung      int64 `json:"hung"`
	Skipped   int64 `json:"skipped"`
	IsRunning bool  `json:"is_running"`
}

func NewCommandQueue(config QueueConfig, logger *zap.Logger) *CommandQueue {
	defaults := DefaultQueueConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.CommandTimeout <= 0 {
		config.CommandTimeout = defaults.CommandTimeout
	}

	q := &CommandQueue{
		config:    config,
		logger:    logger,
		isRunning: true,
		wake:      make(chan struct{}, 1),
		shutdown:  make(chan struct{}),
		done:      make(chan struct{}),
	}

	go q.worker()

	return q
}

// Enqueue never blocks on actuator I/O. It returns false once shutdown has
// started.
func (q *CommandQueue) Enqueue(cmd Command) bool {
	q.mutex.Lock()
	if !q.isRunning {
		q.mutex.Unlock()
		return false
	}
	q.pending = append(q.pending, cmd)
	depth := len(q.pending)
	q.mutex.Unlock()

	metrics.QueueDepth.Set(float64(depth))

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// Flush waits until every command enqueued before the call has run.
func (q *CommandQueue) Flush(ctx context.Context) error {
	reached := make(chan struct{})
	ok := q.Enqueue(Command{Name: "flush", marker: true, Exec: func(context.Context) error {
		close(reached)
		return nil
	}})
	if !ok {
		return ErrQueueClosed
	}

	select {
	case <-reached:
		return nil
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *CommandQueue) worker() {
	defer close(q.done)

	ticker := time.NewTicker(q.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-q.wake:
		case <-ticker.C:
		case <-q.shutdown:
			// Drain whatever was accepted before intake stopped.
			for q.runBatch() > 0 {
			}
			q.awaitInflight()
			return
		}
		q.runBatch()
	}
}

// runBatch executes the commands pending at swap time and reports how many
// it took.
func (q *CommandQueue) runBatch() int {
	q.mutex.Lock()
	batch := q.pending
	q.pending = nil
	q.mutex.Unlock()

	metrics.QueueDepth.Set(0)

	for i, cmd := range batch {
		if cmd.marker {
			_ = cmd.Exec(context.Background())
			continue
		}

		err := q.execute(cmd)
		switch {
		case err == nil:
			q.count(func(s *QueueStats) { s.Executed++ })
			metrics.CommandsExecuted.WithLabelValues(metrics.OutcomeOK).Inc()
		case errors.Is(err, ErrCommandHung):
			skipped := q.skipRest(batch[i+1:])
			q.count(func(s *QueueStats) { s.Hung++; s.Skipped += int64(skipped) })
			metrics.CommandsExecuted.WithLabelValues(metrics.OutcomeHung).Inc()
			metrics.CommandsExecuted.WithLabelValues(metrics.OutcomeSkipped).Add(float64(skipped))
			q.logger.Error("Actuator command hung, skipping rest of batch",
				zap.String("command", cmd.Name),
				zap.Duration("timeout", q.config.CommandTimeout),
				zap.Int("skipped", skipped))
			return len(batch)
		default:
			q.count(func(s *QueueStats) { s.Failed++ })
			metrics.CommandsExecuted.WithLabelValues(metrics.OutcomeFailed).Inc()
			q.logger.Warn("Actuator command failed",
				zap.String("command", cmd.Name),
				zap.Error(err))
		}
	}

	return len(batch)
}

// skipRest drops the commands after a hung one. Flush markers still fire so
// their waiters are released.
func (q *CommandQueue) skipRest(rest []Command) int {
	skipped := 0
	for _, cmd := range rest {
		if cmd.marker {
			_ = cmd.Exec(context.Background())
			continue
		}
		skipped++
	}
	return skipped
}

// awaitInflight blocks until a previously hung command returns, so two
// commands never drive the actuator at once.
func (q *CommandQueue) awaitInflight() {
	if q.inflight == nil {
		return
	}
	q.logger.Warn("Waiting for hung actuator command to return")
	err := <-q.inflight
	q.inflight = nil
	q.logger.Info("Hung actuator command returned", zap.Error(err))
}

func (q *CommandQueue) execute(cmd Command) error {
	q.awaitInflight()

	ctx, cancel := context.WithTimeout(context.Background(), q.config.CommandTimeout)
	defer cancel()

	start := time.Now()
	result := make(chan error, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				result <- fmt.Errorf("command panic: %v", r)
			}
		}()
		result <- cmd.Exec(ctx)
	}()

	select {
	case err := <-result:
		metrics.CommandLatency.Observe(time.Since(start).Seconds())
		return err
	case <-ctx.Done():
		q.inflight = result
		return ErrCommandHung
	}
}

func (q *CommandQueue) count(update func(*QueueStats)) {
	q.statsMu.Lock()
	update(&q.stats)
	q.statsMu.Unlock()
}

func (q *CommandQueue) IsRunning() bool {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return q.isRunning
}

func (q *CommandQueue) Stats() QueueStats {
	q.mutex.Lock()
	pending, running := len(q.pending), q.isRunning
	q.mutex.Unlock()

	q.statsMu.Lock()
	stats := q.stats
	q.statsMu.Unlock()

	stats.Pending = pending
	stats.IsRunning = running
	return stats
}

// Shutdown stops intake, lets the worker drain every accepted command and
// waits for it up to timeout.
func (q *CommandQueue) Shutdown(timeout time.Duration) error {
	q.mutex.Lock()
	if !q.isRunning {
		q.mutex.Unlock()
		return nil
	}
	q.isRunning = false
	q.mutex.Unlock()

	close(q.shutdown)

	select {
	case <-q.done:
		return nil
	case <-time.After(timeout):
		return errShutdownWait
	}
}
