// Package link owns the sensor connection lifecycle and reconnection policy.
package link

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/skobkin/myolink/internal/bus"
	"github.com/skobkin/myolink/internal/connectors"
	"github.com/skobkin/myolink/internal/domain"
	"github.com/skobkin/myolink/internal/transport"
)

const (
	// DefaultReconnectInterval is the fixed pause between reconnect attempts.
	DefaultReconnectInterval = 100 * time.Millisecond
	DefaultConnectTimeout    = 20 * time.Second
)

type Options struct {
	ReconnectInterval time.Duration
	ConnectTimeout    time.Duration
	Now               func() time.Time
}

// Controller drives a transport.Transport through the connection state
// machine and republishes its events on the bus.
type Controller struct {
	logger    *slog.Logger
	bus       bus.MessageBus
	transport transport.Transport

	interval       time.Duration
	connectTimeout time.Duration
	now            func() time.Time

	mu          sync.RWMutex
	state       connectors.ConnectionState
	address     string
	supervisor  context.Context
	retryCancel context.CancelFunc
	retryDone   chan struct{}
	// retryAgain records a link loss reported while a reconnect loop was
	// already running; the loop keeps going instead of exiting on success.
	retryAgain bool
	connecting bool
}

func NewController(logger *slog.Logger, b bus.MessageBus, tr transport.Transport, opts Options) *Controller {
	if logger == nil {
		logger = slog.Default().With("component", "link")
	}
	if opts.ReconnectInterval <= 0 {
		opts.ReconnectInterval = DefaultReconnectInterval
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	c := &Controller{
		logger:         logger,
		bus:            b,
		transport:      tr,
		interval:       opts.ReconnectInterval,
		connectTimeout: opts.ConnectTimeout,
		now:            opts.Now,
		state:          connectors.ConnectionStateDisconnected,
	}
	tr.SetSink(c)

	return c
}

func (c *Controller) State() connectors.ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Controller) Address() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.address
}

// Supervise marks a session as active until ctx is done. While supervised,
// link loss and failed attempts start the reconnect loop.
func (c *Controller) Supervise(ctx context.Context) {
	c.mu.Lock()
	c.supervisor = ctx
	c.mu.Unlock()

	go func() {
		<-ctx.Done()
		c.mu.Lock()
		if c.supervisor == ctx {
			c.supervisor = nil
		}
		c.mu.Unlock()
	}()
}

// Connect starts a link attempt. It reports whether the attempt started;
// the link itself is live only once the transport reports it.
func (c *Controller) Connect(address string) bool {
	address = strings.TrimSpace(address)
	c.stopReconnect()
	c.mu.Lock()
	c.address = address
	c.mu.Unlock()

	c.mu.RLock()
	parent := c.supervisor
	c.mu.RUnlock()
	if parent == nil {
		parent = context.Background()
	}

	c.mu.Lock()
	c.connecting = true
	c.retryAgain = false
	c.mu.Unlock()

	c.setState(connectors.ConnectionStateConnecting, nil)
	err := c.attempt(parent, address)

	c.mu.Lock()
	c.connecting = false
	lost := c.retryAgain
	c.retryAgain = false
	c.mu.Unlock()

	if err != nil {
		c.logger.Warn("connect attempt failed", "address", address, "error", err)
		c.setState(connectors.ConnectionStateDisconnected, err)
		c.startReconnect()

		return false
	}
	if lost {
		c.logger.Info("link lost during connect attempt", "address", address)
		c.startReconnect()
	}

	return true
}

// Disconnect tears the link down for good: the reconnect loop is cancelled,
// notifications are disabled, then the transport is closed.
func (c *Controller) Disconnect() error {
	c.mu.Lock()
	c.supervisor = nil
	c.mu.Unlock()
	c.stopReconnect()

	var errs error
	if err := c.transport.EnableNotifications(false); err != nil {
		errs = errors.Join(errs, fmt.Errorf("disable notifications: %w", err))
	}
	if err := c.transport.Close(); err != nil {
		errs = errors.Join(errs, fmt.Errorf("close transport: %w", err))
	}
	c.setState(connectors.ConnectionStateDisconnected, errs)
	if errs != nil {
		c.logger.Warn("disconnect finished with errors", "error", errs)
	} else {
		c.logger.Info("disconnected")
	}

	return errs
}

// Reconnecting reports whether a reconnect loop is currently running.
func (c *Controller) Reconnecting() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.retryCancel != nil
}

func (c *Controller) HandleLinkEvent(ev transport.LinkEvent) {
	switch ev.Kind {
	case transport.LinkConnected:
		c.setState(connectors.ConnectionStateConnected, nil)
		c.logger.Info("link connected", "address", c.Address())
		if err := c.transport.EnableNotifications(true); err != nil {
			c.logger.Warn("enable notifications failed", "error", err)
			c.setState(connectors.ConnectionStateConnected, err)
		}
	case transport.LinkDisconnected:
		c.logger.Info("link lost", "address", c.Address(), "error", ev.Err)
		c.setState(connectors.ConnectionStateDisconnected, ev.Err)
		c.startReconnect()
	default:
		c.logger.Debug("ignoring unknown link event", "kind", ev.Kind)
	}
}

func (c *Controller) HandlePayload(p domain.RawPayload) {
	c.bus.Publish(connectors.TopicSensorPayload, connectors.RawPayloadEvent{
		Payload:    p,
		ReceivedAt: c.now(),
	})
}

func (c *Controller) attempt(parent context.Context, address string) error {
	ctx, cancel := context.WithTimeout(parent, c.connectTimeout)
	defer cancel()
	if err := c.transport.Connect(ctx, address); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrTransportTransient, err)
	}

	return nil
}

// stopReconnect cancels a running reconnect loop and waits for it to exit.
func (c *Controller) stopReconnect() {
	c.mu.Lock()
	cancel := c.retryCancel
	done := c.retryDone
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (c *Controller) startReconnect() {
	c.mu.Lock()
	supervisor := c.supervisor
	if supervisor == nil || supervisor.Err() != nil {
		c.mu.Unlock()
		return
	}
	if c.retryCancel != nil || c.connecting {
		c.retryAgain = true
		c.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(supervisor)
	done := make(chan struct{})
	c.retryCancel = cancel
	c.retryDone = done
	address := c.address
	c.mu.Unlock()

	go c.runReconnect(ctx, address, done)
}

func (c *Controller) runReconnect(ctx context.Context, address string, done chan struct{}) {
	defer close(done)
	defer c.clearRetry(done)

	c.setState(connectors.ConnectionStateReconnecting, nil)
	attempts := 0
	for {
		if ctx.Err() != nil {
			c.logger.Debug("reconnect loop cancelled", "attempts", attempts)
			return
		}

		attempts++
		c.mu.Lock()
		c.retryAgain = false
		c.mu.Unlock()
		err := c.attempt(ctx, address)
		if err == nil {
			if c.finishRetry(done) {
				c.logger.Info("reconnect attempt started", "attempts", attempts)
				return
			}
			c.logger.Info("link lost during reconnect attempt, retrying", "attempts", attempts)
			if !sleepWithContext(ctx, c.interval) {
				c.logger.Debug("reconnect loop cancelled", "attempts", attempts)
				return
			}
			c.setState(connectors.ConnectionStateReconnecting, nil)
			continue
		}
		c.logger.Debug("reconnect attempt failed", "attempt", attempts, "error", err)

		if !sleepWithContext(ctx, c.interval) {
			c.logger.Debug("reconnect loop cancelled", "attempts", attempts)
			return
		}
	}
}

// finishRetry releases the reconnect slot after a successful attempt unless
// a link loss arrived meanwhile. It reports whether the loop may exit.
func (c *Controller) finishRetry(done chan struct{}) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.retryAgain {
		c.retryAgain = false
		return false
	}
	c.releaseRetryLocked(done)
	return true
}

func (c *Controller) clearRetry(done chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.releaseRetryLocked(done)
}

func (c *Controller) releaseRetryLocked(done chan struct{}) {
	if c.retryDone == done {
		c.retryCancel()
		c.retryCancel = nil
		c.retryDone = nil
		c.retryAgain = false
	}
}

func (c *Controller) setState(state connectors.ConnectionState, err error) {
	c.mu.Lock()
	c.state = state
	address := c.address
	c.mu.Unlock()

	status := connectors.ConnectionStatus{
		State:         state,
		TransportName: c.transport.Name(),
		Target:        address,
		Timestamp:     c.now(),
	}
	if provider, ok := c.transport.(transport.StatusTargetResolver); ok {
		if target := strings.TrimSpace(provider.StatusTarget()); target != "" {
			status.Target = target
		}
	}
	if err != nil {
		status.Err = err.Error()
	}
	c.bus.Publish(connectors.TopicConnStatus, status)
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
