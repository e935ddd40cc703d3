// Package syncclient runs the single background worker that drives every
// sync session against the object server.
package syncclient

import (
	"context"
	"errors"
	"fmt"
	"runtime/pprof"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/atinyakov/syncmanager/internal/session"
	"github.com/atinyakov/syncmanager/internal/transport"
)

// DefaultName is the label the worker goroutine runs under.
const DefaultName = "RealmSyncClient"

// LabelKey is the pprof label key carrying the worker name.
const LabelKey = "worker"

const (
	StatusInit     = "Initialized"
	StatusStarting = "Starting"
	StatusRunning  = "Running"
	StatusStopped  = "Stopped"
)

var (
	// ErrStartFailed wraps the reason the worker could not be started.
	ErrStartFailed = errors.New("sync client failed to start")
	// ErrStopped is returned by Start once the client has been stopped.
	ErrStopped = errors.New("sync client stopped")
)

// SessionSource lists the sessions the worker should sync.
type SessionSource interface {
	Snapshot() []*session.Session
}

// Params configures a Client.
type Params struct {
	Name      string
	Transport transport.Transport
	Sessions  SessionSource
	// Interval is the tick between sync rounds.
	Interval time.Duration
	// RoundTimeout bounds a single Transport.Sync call.
	RoundTimeout time.Duration
	Logger       *zap.Logger
}

// Client owns the background worker. It is started at most once and never
// restarted after Stop.
type Client struct {
	name         string
	transport    transport.Transport
	sessions     SessionSource
	interval     time.Duration
	roundTimeout time.Duration
	logger       *zap.Logger

	mu     sync.Mutex
	status atomic.String
	starts atomic.Int32
	ready  chan struct{}
	kick   chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

// New returns a Client in StatusInit.
func New(p Params) *Client {
	c := &Client{
		name:         p.Name,
		transport:    p.Transport,
		sessions:     p.Sessions,
		interval:     p.Interval,
		roundTimeout: p.RoundTimeout,
		logger:       p.Logger,
		ready:        make(chan struct{}),
		kick:         make(chan struct{}, 1),
	}
	if c.name == "" {
		c.name = DefaultName
	}
	if c.transport == nil {
		c.transport = transport.Nop{}
	}
	if c.interval <= 0 {
		c.interval = 10 * time.Second
	}
	if c.roundTimeout <= 0 {
		c.roundTimeout = 30 * time.Second
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	c.logger = c.logger.With(zap.String("worker", c.name))
	c.status.Store(StatusInit)
	return c
}

// Name returns the worker label.
func (c *Client) Name() string { return c.name }

// Status returns the current worker status.
func (c *Client) Status() string { return c.status.Load() }

// Starts returns how many times the worker goroutine has been launched.
func (c *Client) Starts() int { return int(c.starts.Load()) }

// Ready is closed once the worker goroutine is running.
func (c *Client) Ready() <-chan struct{} { return c.ready }

// Start launches the worker if it is not running yet. Concurrent callers
// wait for the first one to finish. If the transport cannot connect the
// client goes back to StatusInit and a later Start tries again.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.Status() {
	case StatusRunning:
		return nil
	case StatusStopped:
		return ErrStopped
	}

	c.status.Store(StatusStarting)
	if err := c.transport.Connect(ctx); err != nil {
		c.status.Store(StatusInit)
		c.logger.Error("sync client failed to start", zap.Error(err))
		return fmt.Errorf("%w: %w", ErrStartFailed, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})

	started := make(chan struct{})
	go func() {
		defer close(c.done)
		pprof.Do(runCtx, pprof.Labels(LabelKey, c.name), func(ctx context.Context) {
			close(started)
			c.run(ctx)
		})
	}()
	<-started

	c.starts.Inc()
	c.status.Store(StatusRunning)
	close(c.ready)
	c.logger.Info("sync client started", zap.Duration("interval", c.interval))
	return nil
}

// Stop ends the worker and waits for it to exit.
func (c *Client) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.Status() == StatusStopped {
		return
	}
	if c.cancel != nil {
		c.cancel()
		<-c.done
	}
	c.status.Store(StatusStopped)
	c.logger.Info("sync client stopped")
}

// Kick asks the worker to run a round without waiting for the next tick.
func (c *Client) Kick() {
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

func (c *Client) run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-c.kick:
		}
		c.syncAll(ctx)
	}
}

func (c *Client) syncAll(ctx context.Context) {
	if c.sessions == nil {
		return
	}
	now := time.Now()
	for _, s := range c.sessions.Snapshot() {
		if ctx.Err() != nil {
			return
		}
		if iv := s.Config().SyncInterval(); iv > 0 && s.Err() == nil && now.Sub(s.LastSynced()) < iv {
			continue
		}
		c.syncOne(ctx, s)
	}
}

func (c *Client) syncOne(ctx context.Context, s *session.Session) {
	roundCtx, cancel := context.WithTimeout(ctx, c.roundTimeout)
	defer cancel()

	res, err := c.transport.Sync(roundCtx, transport.SyncRequest{
		SessionID:        s.ID(),
		Config:           s.Config(),
		LastKnownVersion: s.Version(),
	})
	if err != nil {
		s.MarkFailed(err)
		c.logger.Warn("sync round failed",
			zap.String("session", s.ID()),
			zap.String("config", s.Config().String()),
			zap.Error(err))
		return
	}
	s.MarkSynced(res.Version, time.Now())
	c.logger.Debug("sync round done",
		zap.String("session", s.ID()),
		zap.Int64("version", res.Version))
}
