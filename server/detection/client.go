package detection

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type ClientConfig struct {
	URL string
	// MaxRetries is the number of consecutive failed connections tolerated
	// before Run gives up. Zero retries forever.
	MaxRetries   int
	RetryDelay   time.Duration
	ReadTimeout  time.Duration
	HandshakeTTL time.Duration
}

// Client subscribes to an inference pipeline that publishes detection events
// over a websocket and reconnects when the stream drops.
type Client struct {
	config  ClientConfig
	handler Handler
	logger  *zap.Logger
	dialer  *websocket.Dialer
}

func NewClient(config ClientConfig, handler Handler, logger *zap.Logger) (*Client, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("detection client: URL is required")
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = time.Second
	}
	if config.HandshakeTTL <= 0 {
		config.HandshakeTTL = 10 * time.Second
	}

	return &Client{
		config:  config,
		handler: handler,
		logger:  logger,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: config.HandshakeTTL,
			ReadBufferSize:   4096,
			WriteBufferSize:  1024,
		},
	}, nil
}

// Run keeps a subscription open until ctx ends, a handler fails, or the
// retry budget is spent.
func (c *Client) Run(ctx context.Context) error {
	var failures int
	for {
		delivered, err := c.stream(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		var handlerErr *handlerError
		if errors.As(err, &handlerErr) {
			return handlerErr.err
		}

		if delivered > 0 {
			failures = 0
		}
		failures++
		if c.config.MaxRetries > 0 && failures > c.config.MaxRetries {
			return fmt.Errorf("detection stream failed after %d attempts: %w", c.config.MaxRetries, err)
		}

		delay := c.config.RetryDelay * time.Duration(failures)
		c.logger.Warn("Detection stream lost, reconnecting",
			zap.String("url", c.config.URL),
			zap.Int("attempt", failures),
			zap.Duration("delay", delay),
			zap.Error(err))

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

type handlerError struct{ err error }

func (e *handlerError) Error() string { return e.err.Error() }

func (c *Client) stream(ctx context.Context) (int, error) {
	conn, _, err := c.dialer.DialContext(ctx, c.config.URL, nil)
	if err != nil {
		return 0, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	c.logger.Info("Subscribed to detection stream", zap.String("url", c.config.URL))

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	var delivered int
	for {
		if c.config.ReadTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			return delivered, err
		}

		ev, err := Decode(data, time.Now())
		if err != nil {
			c.logger.Warn("Skipping undecodable detection message", zap.Error(err))
			continue
		}
		if err := Deliver(c.handler, ev, c.logger); err != nil {
			return delivered, &handlerError{err: err}
		}
		delivered++
	}
}
