// Package dispatch turns detected voice commands into side effects.
//
// [Dispatcher.Execute] is total: every task yields a [Result] and no handler
// error or panic escapes to the caller. Side effects go through small
// interfaces ([Opener], [Notifier], [OrderSink]) so tests can observe them.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/atlas/internal/observe"
	"github.com/MrWong99/atlas/pkg/types"
)

// Result is the outcome of executing one task.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`

	// Target is the URL opened, the order ID placed, or empty.
	Target string `json:"target,omitempty"`
}

func succeed(msg, target string) Result { return Result{Success: true, Message: msg, Target: target} }
func fail(msg string) Result            { return Result{Message: msg} }

// ScheduleFunc runs f once after d. The returned stop function cancels it and
// reports whether it was still pending. f must not run synchronously.
type ScheduleFunc func(d time.Duration, f func()) (stop func() bool)

func afterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

// Option is a functional option for [New].
type Option func(*Dispatcher)

// WithOpener sets the URL opener. Default: [BrowserOpener].
func WithOpener(o Opener) Option { return func(d *Dispatcher) { d.opener = o } }

// WithNotifier sets the timer notifier. Default: [DesktopNotifier].
func WithNotifier(n Notifier) Option { return func(d *Dispatcher) { d.notifier = n } }

// WithOrders sets the food order sink. Default: a [MemoryOrders].
func WithOrders(s OrderSink) Option { return func(d *Dispatcher) { d.orders = s } }

// WithDestinations replaces the destination table.
func WithDestinations(t *Table) Option { return func(d *Dispatcher) { d.table.Store(t) } }

// WithSchedule replaces the timer scheduler. Default: time.AfterFunc.
func WithSchedule(fn ScheduleFunc) Option { return func(d *Dispatcher) { d.schedule = fn } }

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option { return func(d *Dispatcher) { d.log = l } }

// WithMetrics sets the metrics sink.
func WithMetrics(m *observe.Metrics) Option { return func(d *Dispatcher) { d.metrics = m } }

// Dispatcher executes tasks. It is safe for concurrent use.
type Dispatcher struct {
	opener   Opener
	notifier Notifier
	orders   OrderSink
	table    atomic.Pointer[Table]
	schedule ScheduleFunc
	log      *slog.Logger
	metrics  *observe.Metrics

	mu     sync.Mutex
	nextID uint64
	timers map[uint64]func() bool
	closed bool
}

// New creates a Dispatcher.
func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		opener:   BrowserOpener{},
		notifier: DesktopNotifier{},
		schedule: afterFunc,
		log:      slog.Default(),
		timers:   make(map[uint64]func() bool),
	}
	d.table.Store(NewTable())
	for _, o := range opts {
		o(d)
	}
	if d.orders == nil {
		d.orders = NewMemoryOrders(d.log)
	}
	return d
}

// Destinations returns the destination table in use.
func (d *Dispatcher) Destinations() *Table { return d.table.Load() }

// SetDestinations swaps the destination table. Tasks already executing keep
// the table they started with.
func (d *Dispatcher) SetDestinations(t *Table) { d.table.Store(t) }

// Execute runs the handler for task.Kind and reports its outcome.
func (d *Dispatcher) Execute(ctx context.Context, task types.Task) (res Result) {
	ctx, span := observe.StartSpan(ctx, "dispatch.execute")
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			d.log.Error("dispatch: handler panic", "task", task.String(), "panic", r)
			res = fail(fmt.Sprint(r))
			if err, isErr := r.(error); isErr {
				res = fail(err.Error())
			}
		}
		if !res.Success {
			observe.Fail(span, errors.New(res.Message))
		}
		d.metrics.RecordDispatch(ctx, string(task.Kind), res.Success)
		d.log.Info("dispatch: executed", "task", task.String(), "success", res.Success, "message", res.Message)
	}()

	switch task.Kind {
	case types.KindOpenApp:
		return d.openApp(task.Payload)
	case types.KindTimer:
		return d.timer(task.Payload)
	case types.KindEnvironmentControl:
		return environmentControl(task.Payload)
	case types.KindServiceRequest:
		return d.serviceRequest(ctx, task.Payload)
	case types.KindNone:
		return fail("No actionable command detected")
	default:
		return fail("Unknown task type")
	}
}

// Pending returns the number of timers that have not fired yet.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.timers)
}

// Close cancels every pending timer. Timers requested afterwards fail.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	for id, stop := range d.timers {
		stop()
		delete(d.timers, id)
	}
	return nil
}

// ── Handlers ─────────────────────────────────────────────────────────────────

func (d *Dispatcher) openApp(p types.Payload) Result {
	name := strings.ToLower(p.Get(types.KeyName))
	if name == "" {
		return fail("App name not specified")
	}
	query := p.Get(types.KeySearchQuery)
	if query == "" {
		query = p.Get(types.KeyQuery)
	}

	table := d.table.Load()
	dest, found := table.Lookup(name)
	if !found {
		return fail(fmt.Sprintf("App \"%s\" not supported. Available apps: %s", name, strings.Join(table.Names(), ", ")))
	}

	if query != "" {
		if target, hasSearch := dest.SearchURL(query); hasSearch {
			if err := d.opener.Open(target); err != nil {
				return fail(err.Error())
			}
			return succeed(fmt.Sprintf("Searching for \"%s\" on %s", query, dest.Name), target)
		}
	}

	if err := d.opener.Open(dest.URL); err != nil {
		return fail(err.Error())
	}
	return succeed("Opening "+dest.Name, dest.URL)
}

func (d *Dispatcher) timer(p types.Payload) Result {
	phrase := p.Get(types.KeyDuration)
	if phrase == "" {
		return fail("Timer duration not specified")
	}
	delay := ParseDuration(phrase)
	if delay <= 0 {
		return fail("Invalid duration format")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return fail("dispatcher closed")
	}
	id := d.nextID
	d.nextID++
	d.timers[id] = d.schedule(delay, func() { d.fire(id, phrase) })

	d.log.Debug("dispatch: timer scheduled", "duration", phrase, "delay", delay)
	return succeed("Timer set for "+phrase, "")
}

func (d *Dispatcher) fire(id uint64, phrase string) {
	d.mu.Lock()
	_, live := d.timers[id]
	delete(d.timers, id)
	d.mu.Unlock()
	if !live {
		return
	}
	if err := d.notifier.Notify("Timer Complete!", fmt.Sprintf("Your %s timer has finished.", phrase)); err != nil {
		d.log.Warn("dispatch: timer notification failed", "duration", phrase, "err", err)
	}
}

func environmentControl(p types.Payload) Result {
	msg := fmt.Sprintf("Environment control simulated: %s - %s", p.Get(types.KeyDevice), p.Get(types.KeyAction))
	if v := p.Get(types.KeyValue); v != "" {
		msg += " (" + v + ")"
	}
	return succeed(msg, "")
}

func (d *Dispatcher) serviceRequest(ctx context.Context, p types.Payload) Result {
	request := p.Get(types.KeyRequest)
	switch request {
	case "view_menu":
		return succeed("Menu service requested - this would show available menus", "")
	case "food_order", "order_food":
		return d.order(ctx, p)
	default:
		return succeed("Service request noted: "+request, "")
	}
}

func (d *Dispatcher) order(ctx context.Context, p types.Payload) Result {
	item := p.Get(types.KeyName)
	if item == "" {
		item = p.Get(types.KeyQuery)
	}
	if item == "" {
		return fail("order item not specified")
	}
	qty := 1
	if n, err := strconv.Atoi(p.Get(types.KeyQuantity)); err == nil && n > 0 {
		qty = n
	}

	o := Order{ID: newOrderID(), Item: item, Quantity: qty, PlacedAt: time.Now()}
	if err := d.orders.Place(ctx, o); err != nil {
		return fail(fmt.Sprintf("order failed: %v", err))
	}
	return succeed(fmt.Sprintf("Order placed: %d x %s", qty, item), o.ID)
}
