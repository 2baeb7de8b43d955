package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/neomorfeo/tenantplane/internal/domain"
)

// ErrDispatcherClosed is returned by Dispatch after Close.
var ErrDispatcherClosed = errors.New("dispatcher closed")

// HandlerFunc handles one control-plane event.
type HandlerFunc func(ctx context.Context, env domain.Envelope) error

// DispatcherConfig tunes handler concurrency and retry.
type DispatcherConfig struct {
	// PoolSize caps the number of events handled at once.
	PoolSize int
	// RetryFor bounds how long a failing event is retried before it is
	// left held for the next Replay.
	RetryFor time.Duration
	// InitialBackoff is the first wait between handler attempts.
	InitialBackoff time.Duration
}

func (c DispatcherConfig) withDefaults() DispatcherConfig {
	if c.PoolSize < 1 {
		c.PoolSize = 1
	}
	if c.RetryFor <= 0 {
		c.RetryFor = 2 * time.Minute
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 50 * time.Millisecond
	}
	return c
}

// Dispatcher serializes event handling per tenant while running different
// tenants in parallel. Each tenant has a FIFO mailbox drained by at most one
// goroutine; a semaphore caps the number of events handled at once. An
// event stays held in the inbox until its handler succeeds.
type Dispatcher struct {
	handle HandlerFunc
	inbox  domain.Inbox
	cfg    DispatcherConfig
	sem    chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	mailboxes map[string][]domain.Delivery
	queued    map[int64]struct{}
	closed    bool
	wg        sync.WaitGroup
}

// NewDispatcher creates a dispatcher that releases handled events from
// inbox.
func NewDispatcher(handle HandlerFunc, inbox domain.Inbox, cfg DispatcherConfig) *Dispatcher {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		handle:    handle,
		inbox:     inbox,
		cfg:       cfg,
		sem:       make(chan struct{}, cfg.PoolSize),
		ctx:       ctx,
		cancel:    cancel,
		mailboxes: make(map[string][]domain.Delivery),
		queued:    make(map[int64]struct{}),
	}
}

// Dispatch queues d behind any earlier events for the same tenant. It never
// blocks on handling. A delivery already queued is not queued twice.
func (d *Dispatcher) Dispatch(del domain.Delivery) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrDispatcherClosed
	}
	if _, dup := d.queued[del.Seq]; dup {
		return nil
	}
	d.queued[del.Seq] = struct{}{}

	tenantID := del.Envelope.TenantID
	queue, running := d.mailboxes[tenantID]
	d.mailboxes[tenantID] = append(queue, del)
	if !running {
		d.wg.Add(1)
		go d.drain(tenantID)
	}
	return nil
}

// Replay dispatches every event still held in the inbox, oldest first. It
// is meant for start-up, before new deliveries arrive.
func (d *Dispatcher) Replay(ctx context.Context) (int, error) {
	pending, err := d.inbox.Pending(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing held events: %w", err)
	}
	for i, del := range pending {
		if err := d.Dispatch(del); err != nil {
			return i, err
		}
	}
	return len(pending), nil
}

// Wait blocks until every queued event has been handled.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Close stops accepting events and waits for queued ones, or for ctx to
// end. Handlers still running when ctx ends see their context canceled;
// their events stay held.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}

func (d *Dispatcher) drain(tenantID string) {
	defer d.wg.Done()

	for {
		d.mu.Lock()
		queue := d.mailboxes[tenantID]
		if len(queue) == 0 {
			delete(d.mailboxes, tenantID)
			d.mu.Unlock()
			return
		}
		del := queue[0]
		d.mailboxes[tenantID] = queue[1:]
		d.mu.Unlock()

		d.run(del)

		d.mu.Lock()
		delete(d.queued, del.Seq)
		d.mu.Unlock()
	}
}

func (d *Dispatcher) run(del domain.Delivery) {
	select {
	case d.sem <- struct{}{}:
	case <-d.ctx.Done():
		return
	}
	defer func() { <-d.sem }()

	env := del.Envelope
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.cfg.InitialBackoff
	b.MaxInterval = 10 * time.Second

	_, err := backoff.Retry(d.ctx, func() (struct{}, error) {
		return struct{}{}, d.handle(d.ctx, env)
	}, backoff.WithBackOff(b), backoff.WithMaxElapsedTime(d.cfg.RetryFor))
	if err != nil {
		slog.ErrorContext(d.ctx, "event left held after handler failures",
			"tenant_id", env.TenantID,
			"event", env.Type,
			"version", env.Version(),
			"seq", del.Seq,
			"error", err,
		)
		return
	}

	// A failed release only means the event is handled again on Replay,
	// where the ledger skips it.
	if err := d.inbox.Release(d.ctx, del.Seq); err != nil {
		slog.WarnContext(d.ctx, "releasing handled event",
			"tenant_id", env.TenantID,
			"seq", del.Seq,
			"error", err,
		)
	}
}
