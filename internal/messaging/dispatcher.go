package messaging

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/CivicPipe/internal/models"
)

// Dispatcher defaults.
const (
	DefaultMailboxSize   = 16
	DefaultIdleTimeout   = 5 * time.Minute
	DefaultHandleTimeout = 2 * time.Minute
)

// BusyText is sent when a user's mailbox is full.
const BusyText = "⏳ Please wait, I'm still working on your previous message."

// Handler processes one inbound event.
type Handler interface {
	Handle(ctx context.Context, ev models.Event) error
}

// Replier sends a text reply to a user.
type Replier interface {
	SendMessage(ctx context.Context, to string, body string) error
}

// DispatcherOpts holds dispatcher configuration.
type DispatcherOpts struct {
	MailboxSize   int
	IdleTimeout   time.Duration
	HandleTimeout time.Duration
}

// DispatcherOption defines a configuration option for the Dispatcher.
type DispatcherOption func(*DispatcherOpts)

// WithMailboxSize sets how many events may queue for one user.
func WithMailboxSize(n int) DispatcherOption {
	return func(o *DispatcherOpts) { o.MailboxSize = n }
}

// WithIdleTimeout sets how long a user's worker lingers without events.
func WithIdleTimeout(d time.Duration) DispatcherOption {
	return func(o *DispatcherOpts) { o.IdleTimeout = d }
}

// WithHandleTimeout bounds the processing of a single event.
func WithHandleTimeout(d time.Duration) DispatcherOption {
	return func(o *DispatcherOpts) { o.HandleTimeout = d }
}

type mailbox struct {
	ch chan models.Event
}

// Dispatcher fans inbound events out to per-user workers. Events of one user
// are handled in arrival order; different users are handled concurrently.
type Dispatcher struct {
	handler Handler
	replier Replier
	opts    DispatcherOpts

	mu      sync.Mutex
	workers map[string]*mailbox
	stopped bool
	wg      sync.WaitGroup
}

// NewDispatcher creates a Dispatcher. replier may be nil to skip busy replies.
func NewDispatcher(handler Handler, replier Replier, opts ...DispatcherOption) *Dispatcher {
	cfg := DispatcherOpts{
		MailboxSize:   DefaultMailboxSize,
		IdleTimeout:   DefaultIdleTimeout,
		HandleTimeout: DefaultHandleTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.MailboxSize <= 0 {
		cfg.MailboxSize = DefaultMailboxSize
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.HandleTimeout <= 0 {
		cfg.HandleTimeout = DefaultHandleTimeout
	}
	return &Dispatcher{
		handler: handler,
		replier: replier,
		opts:    cfg,
		workers: make(map[string]*mailbox),
	}
}

// Run dispatches events until ctx is cancelled or events is closed, then
// stops the dispatcher and waits for in-flight work.
func (d *Dispatcher) Run(ctx context.Context, events <-chan models.Event) error {
	slog.Info("Dispatcher Run started")
	defer d.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("Dispatcher Run stopping", "reason", ctx.Err())
			return nil
		case ev, ok := <-events:
			if !ok {
				slog.Info("Dispatcher Run stopping, events channel closed")
				return nil
			}
			if err := d.Dispatch(ctx, ev); err != nil {
				return err
			}
		}
	}
}

// Dispatch queues ev on its user's mailbox, starting a worker if needed.
func (d *Dispatcher) Dispatch(ctx context.Context, ev models.Event) error {
	if ev.UserID == "" {
		slog.Warn("Dispatcher dropping event without user")
		return nil
	}

	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return ErrServiceStopped
	}
	mb, ok := d.workers[ev.UserID]
	if !ok {
		mb = &mailbox{ch: make(chan models.Event, d.opts.MailboxSize)}
		d.workers[ev.UserID] = mb
		d.wg.Add(1)
		go d.work(ctx, ev.UserID, mb)
	}
	var queued bool
	select {
	case mb.ch <- ev:
		queued = true
	default:
	}
	d.mu.Unlock()

	if queued {
		return nil
	}
	slog.Warn("Dispatcher mailbox full, event dropped", "user", ev.UserID, "kind", ev.Kind)
	if d.replier != nil {
		if err := d.replier.SendMessage(ctx, ev.UserID, BusyText); err != nil {
			slog.Error("Dispatcher busy reply failed", "error", err, "user", ev.UserID)
		}
	}
	return nil
}

func (d *Dispatcher) work(ctx context.Context, userID string, mb *mailbox) {
	defer d.wg.Done()
	idle := time.NewTimer(d.opts.IdleTimeout)
	defer idle.Stop()

	for {
		select {
		case ev, ok := <-mb.ch:
			if !ok {
				return
			}
			d.handle(ctx, ev)
			idle.Reset(d.opts.IdleTimeout)
		case <-idle.C:
			d.mu.Lock()
			if len(mb.ch) == 0 && d.workers[userID] == mb {
				delete(d.workers, userID)
				d.mu.Unlock()
				slog.Debug("Dispatcher worker idle, exiting", "user", userID)
				return
			}
			d.mu.Unlock()
			idle.Reset(d.opts.IdleTimeout)
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, ev models.Event) {
	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.opts.HandleTimeout)
	defer cancel()
	if err := d.handler.Handle(hctx, ev); err != nil {
		slog.Error("Dispatcher handle failed", "error", err, "user", ev.UserID, "kind", ev.Kind)
	}
}

// Workers reports how many user workers are running.
func (d *Dispatcher) Workers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.workers)
}

// Stop refuses new events, lets workers drain their mailboxes and waits for
// them to exit.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.stopped {
		d.stopped = true
		for user, mb := range d.workers {
			close(mb.ch)
			delete(d.workers, user)
		}
	}
	d.mu.Unlock()
	d.wg.Wait()
	slog.Debug("Dispatcher stopped")
}
