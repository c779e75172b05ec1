// Package poller keeps a client's view of an order in step with the status
// sync service by fetching on a fixed cadence until the order settles, the
// subscription is stopped, or the service keeps failing.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/joao-fontenele/bigbestmart/internal/domain"
)

type State string

const (
	StateIdle    State = "idle"
	StatePolling State = "polling"
	StateStopped State = "stopped"
	StateError   State = "error"
)

type Config struct {
	Interval               time.Duration
	MaxConsecutiveFailures int
	// FetchTimeout bounds a single fetch. Zero leaves it to the fetcher.
	FetchTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Interval:               30 * time.Second,
		MaxConsecutiveFailures: 3,
		FetchTimeout:           10 * time.Second,
	}
}

func (c Config) Validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("%w: poll interval must be positive", domain.ErrInvalidInput)
	}
	if c.MaxConsecutiveFailures <= 0 {
		return fmt.Errorf("%w: max consecutive failures must be positive", domain.ErrInvalidInput)
	}
	if c.FetchTimeout < 0 {
		return fmt.Errorf("%w: fetch timeout must not be negative", domain.ErrInvalidInput)
	}
	return nil
}

type Fetcher interface {
	FetchStatus(ctx context.Context, orderID string) (domain.OrderStatus, error)
}

// Listener receives subscription notifications. Any field may be nil.
// Callbacks run on the polling goroutine, never concurrently with each other
// for the same subscription.
type Listener struct {
	OnChange   func(status domain.OrderStatus)
	OnDegraded func(err error)
	OnStop     func(final State)
}

type Poller struct {
	fetcher Fetcher
	config  Config
	clock   Clock
	logger  *slog.Logger
}

type Option func(*Poller)

func WithClock(clock Clock) Option {
	return func(p *Poller) {
		p.clock = clock
	}
}

func New(fetcher Fetcher, config Config, logger *slog.Logger, opts ...Option) (*Poller, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	p := &Poller{
		fetcher: fetcher,
		config:  config,
		clock:   realClock{},
		logger:  logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

type Subscription struct {
	poller   *Poller
	orderID  string
	listener Listener
	logger   *slog.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	stopWatch func() bool
	done      chan struct{}

	mu       sync.Mutex
	state    State
	last     domain.OrderStatus
	failures int
	inFlight bool
	timer    Timer
}

// Subscribe starts polling orderID. The first fetch runs before Subscribe
// returns; later ones run every Interval. Cancelling ctx stops the
// subscription.
func (p *Poller) Subscribe(ctx context.Context, orderID string, listener Listener) (*Subscription, error) {
	if orderID == "" {
		return nil, fmt.Errorf("%w: order id is required", domain.ErrInvalidInput)
	}

	subCtx, cancel := context.WithCancel(ctx)
	s := &Subscription{
		poller:   p,
		orderID:  orderID,
		listener: listener,
		logger:   p.logger.With("order_id", orderID),
		ctx:      subCtx,
		cancel:   cancel,
		done:     make(chan struct{}),
		state:    StateIdle,
	}

	s.mu.Lock()
	s.state = StatePolling
	s.stopWatch = context.AfterFunc(ctx, s.Stop)
	s.mu.Unlock()

	s.tick()
	return s, nil
}

func (s *Subscription) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastStatus returns the most recently observed status, empty before the
// first successful fetch.
func (s *Subscription) LastStatus() domain.OrderStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Done is closed once the subscription leaves the polling state.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Stop ends the subscription. No fetch starts after Stop returns and an
// outstanding fetch has its context cancelled. Safe to call more than once.
func (s *Subscription) Stop() {
	s.mu.Lock()
	if s.state != StatePolling {
		s.mu.Unlock()
		return
	}
	s.finishLocked(StateStopped)
	inFlight := s.inFlight
	s.mu.Unlock()

	s.logger.Debug("subscription stopped", "in_flight", inFlight)
	if s.listener.OnStop != nil {
		s.listener.OnStop(StateStopped)
	}
}

func (s *Subscription) finishLocked(final State) {
	s.state = final
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.stopWatch != nil {
		s.stopWatch()
	}
	s.cancel()
	close(s.done)
}

func (s *Subscription) tick() {
	s.mu.Lock()
	if s.state != StatePolling {
		s.mu.Unlock()
		return
	}
	s.timer = s.poller.clock.AfterFunc(s.poller.config.Interval, s.tick)
	if s.inFlight {
		s.mu.Unlock()
		s.logger.Debug("previous fetch still outstanding, skipping tick")
		return
	}
	s.inFlight = true
	s.mu.Unlock()

	ctx := s.ctx
	if timeout := s.poller.config.FetchTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	status, err := s.poller.fetcher.FetchStatus(ctx, s.orderID)

	notify := s.apply(status, err)
	for _, n := range notify {
		n()
	}

	s.mu.Lock()
	s.inFlight = false
	s.mu.Unlock()
}

// apply folds a fetch result into the subscription and returns the
// notifications to deliver once the lock is released.
func (s *Subscription) apply(status domain.OrderStatus, err error) []func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StatePolling || s.ctx.Err() != nil {
		return nil
	}

	var notify []func()
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.logger.Info("order no longer exists, stopping subscription")
			s.finishLocked(StateStopped)
			return append(notify, s.stopNotification(StateStopped))
		}

		s.failures++
		s.logger.Warn("status fetch failed", "error", err, "consecutive_failures", s.failures)
		if s.failures < s.poller.config.MaxConsecutiveFailures {
			return nil
		}

		s.logger.Error("status fetch keeps failing, giving up", "error", err)
		s.finishLocked(StateError)
		if s.listener.OnDegraded != nil {
			onDegraded := s.listener.OnDegraded
			notify = append(notify, func() { onDegraded(err) })
		}
		return append(notify, s.stopNotification(StateError))
	}

	s.failures = 0
	if status != s.last {
		s.logger.Info("order status changed", "from", s.last, "to", status)
		s.last = status
		if s.listener.OnChange != nil {
			onChange := s.listener.OnChange
			notify = append(notify, func() { onChange(status) })
		}
	}
	if status.IsTerminal() {
		s.finishLocked(StateStopped)
		notify = append(notify, s.stopNotification(StateStopped))
	}
	return notify
}

func (s *Subscription) stopNotification(final State) func() {
	onStop := s.listener.OnStop
	return func() {
		if onStop != nil {
			onStop(final)
		}
	}
}
