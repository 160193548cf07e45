// Package notify delivers best-effort order notifications. Delivery runs in
// the background after the order transaction committed and never reports
// failure to the caller.
package notify

import (
	"context"
	"sync"
	"time"

	"storefront-service/internal/model"

	"go.uber.org/zap"
)

// Kind names the order event being announced
type Kind string

const (
	OrderCreated       Kind = "order.created"
	OrderStatusChanged Kind = "order.status_changed"
)

// Event is a snapshot of an order at the time something happened to it
type Event struct {
	Kind           Kind
	Order          model.Order
	PreviousStatus model.OrderStatus
	OccurredAt     time.Time
}

// Notifier delivers events over one channel
type Notifier interface {
	Name() string
	Notify(ctx context.Context, event Event) error
}

// DispatcherConfig configures a Dispatcher
type DispatcherConfig struct {
	Logger *zap.Logger
	// Timeout bounds a single delivery
	Timeout time.Duration
	// OnFailure is called with the notifier name when a delivery fails
	OnFailure func(channel string)
	Clock     func() time.Time
}

// Dispatcher fans events out to notifiers in background goroutines.
type Dispatcher struct {
	notifiers []Notifier
	log       *zap.Logger
	timeout   time.Duration
	onFailure func(string)
	clock     func() time.Time

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher creates a dispatcher over the given notifiers
func NewDispatcher(cfg DispatcherConfig, notifiers ...Notifier) *Dispatcher {
	d := &Dispatcher{
		notifiers: notifiers,
		log:       cfg.Logger,
		timeout:   cfg.Timeout,
		onFailure: cfg.OnFailure,
		clock:     cfg.Clock,
	}
	if d.log == nil {
		d.log = zap.NewNop()
	}
	if d.timeout <= 0 {
		d.timeout = 10 * time.Second
	}
	if d.onFailure == nil {
		d.onFailure = func(string) {}
	}
	if d.clock == nil {
		d.clock = time.Now
	}
	return d
}

// OrderCreated announces a new order
func (d *Dispatcher) OrderCreated(_ context.Context, order *model.Order) {
	d.dispatch(Event{Kind: OrderCreated, Order: *order})
}

// OrderStatusChanged announces a status transition
func (d *Dispatcher) OrderStatusChanged(_ context.Context, order *model.Order, previous model.OrderStatus) {
	d.dispatch(Event{Kind: OrderStatusChanged, Order: *order, PreviousStatus: previous})
}

func (d *Dispatcher) dispatch(event Event) {
	if d == nil {
		return
	}
	event.OccurredAt = d.clock()

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.log.Warn("Notification dropped after shutdown",
			zap.String("event", string(event.Kind)),
			zap.Uint("order_id", event.Order.ID))
		return
	}

	for _, n := range d.notifiers {
		d.wg.Add(1)
		go d.deliver(n, event)
	}
}

func (d *Dispatcher) deliver(n Notifier, event Event) {
	defer d.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			d.onFailure(n.Name())
			d.log.Error("Notifier panicked",
				zap.String("channel", n.Name()),
				zap.Any("panic", r))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	if err := n.Notify(ctx, event); err != nil {
		d.onFailure(n.Name())
		d.log.Warn("Notification failed",
			zap.String("channel", n.Name()),
			zap.String("event", string(event.Kind)),
			zap.Uint("order_id", event.Order.ID),
			zap.Error(err))
		return
	}
	d.log.Debug("Notification delivered",
		zap.String("channel", n.Name()),
		zap.String("event", string(event.Kind)),
		zap.Uint("order_id", event.Order.ID))
}

// Wait blocks until every started delivery finished
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Shutdown stops accepting events and waits for running deliveries or ctx
func (d *Dispatcher) Shutdown(ctx context.Context) error {
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
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
