package cache

import (
	"context"
	"sync"
	"time"

	"github.com/san-kum/detection-lights/server/models"
	"go.uber.org/zap"
)

const StateKey = "state"

// StatePublisher writes controller snapshots to a Cache from its own
// goroutine so the frame path never waits on the cache backend. Only the
// newest unpublished snapshot is kept.
type StatePublisher struct {
	cache   Cache
	timeout time.Duration
	logger  *zap.Logger

	mu     sync.Mutex
	latest *models.Snapshot

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
}

func NewStatePublisher(cache Cache, logger *zap.Logger) *StatePublisher {
	p := &StatePublisher{
		cache:   cache,
		timeout: 2 * time.Second,
		logger:  logger,
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *StatePublisher) Publish(s models.Snapshot) {
	p.mu.Lock()
	p.latest = &s
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *StatePublisher) run() {
	defer close(p.done)

	for {
		select {
		case <-p.wake:
			p.write()
		case <-p.stop:
			p.write()
			return
		}
	}
}

func (p *StatePublisher) write() {
	p.mu.Lock()
	s := p.latest
	p.latest = nil
	p.mu.Unlock()

	if s == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	if err := p.cache.Set(ctx, StateKey, s); err != nil {
		p.logger.Warn("Failed to publish light state", zap.Error(err))
	}
}

// Latest returns the most recently published snapshot.
func (p *StatePublisher) Latest(ctx context.Context) (models.Snapshot, error) {
	var s models.Snapshot
	err := p.cache.Get(ctx, StateKey, &s)
	return s, err
}

// Close writes any pending snapshot and stops the publisher.
func (p *StatePublisher) Close() {
	select {
	case <-p.stop:
	default:
		close(p.stop)
	}
	<-p.done
}
