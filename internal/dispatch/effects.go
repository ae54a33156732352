package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gen2brain/beeep"
	"github.com/google/uuid"
	"github.com/pkg/browser"
)

// Opener opens a URL in the user's browser.
type Opener interface {
	Open(url string) error
}

// Notifier shows a user-visible notification.
type Notifier interface {
	Notify(title, body string) error
}

// OrderSink accepts placed food orders.
type OrderSink interface {
	Place(ctx context.Context, o Order) error
}

// Order is one placed food order.
type Order struct {
	ID       string    `json:"id"`
	Item     string    `json:"item"`
	Quantity int       `json:"quantity"`
	PlacedAt time.Time `json:"placed_at"`
}

// ── Browser ──────────────────────────────────────────────────────────────────

// BrowserOpener opens URLs with the system browser.
type BrowserOpener struct{}

var _ Opener = BrowserOpener{}

// Open implements [Opener].
func (BrowserOpener) Open(url string) error {
	if err := browser.OpenURL(url); err != nil {
		return fmt.Errorf("dispatch: open %s: %w", url, err)
	}
	return nil
}

// ── Desktop notifications ────────────────────────────────────────────────────

// DesktopNotifier sends OS notifications and falls back to a modal alert when
// the notification service is unavailable.
type DesktopNotifier struct {
	// Icon is an optional icon path.
	Icon string
}

var _ Notifier = DesktopNotifier{}

// Notify implements [Notifier].
func (n DesktopNotifier) Notify(title, body string) error {
	err := beeep.Notify(title, body, n.Icon)
	if err == nil {
		return nil
	}
	if alertErr := beeep.Alert(title, body, n.Icon); alertErr != nil {
		return fmt.Errorf("dispatch: notify: %w (alert fallback: %v)", err, alertErr)
	}
	return nil
}

// ── Orders ───────────────────────────────────────────────────────────────────

// MemoryOrders keeps placed orders in memory and logs each one. It is the
// default sink until a real ordering backend is wired in.
type MemoryOrders struct {
	log *slog.Logger

	mu     sync.Mutex
	orders []Order
}

var _ OrderSink = (*MemoryOrders)(nil)

// NewMemoryOrders returns an empty in-memory sink.
func NewMemoryOrders(log *slog.Logger) *MemoryOrders {
	if log == nil {
		log = slog.Default()
	}
	return &MemoryOrders{log: log}
}

// Place implements [OrderSink].
func (m *MemoryOrders) Place(_ context.Context, o Order) error {
	m.mu.Lock()
	m.orders = append(m.orders, o)
	m.mu.Unlock()
	m.log.Info("dispatch: order placed", "id", o.ID, "item", o.Item, "quantity", o.Quantity)
	return nil
}

// Orders returns a copy of every placed order.
func (m *MemoryOrders) Orders() []Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Order, len(m.orders))
	copy(out, m.orders)
	return out
}

func newOrderID() string { return uuid.NewString() }
