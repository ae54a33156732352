// Package vosk implements wakeword.Detector as a websocket client of a local
// keyword-spotting server.
//
// The server is expected to broadcast one JSON text message per recognition
// result. A message with "wakeword": true counts as a detection, as does a
// "text" or "partial" transcript that contains one of [wakeword.Phrases]. The
// client keeps the connection alive and reconnects with exponential backoff
// until Destroy is called.
package vosk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/atlas/pkg/provider/wakeword"
)

var _ wakeword.Detector = (*Client)(nil)

const (
	// DefaultURL is the address of the bundled keyword-spotting server.
	DefaultURL = "ws://localhost:8765"

	eventBuffer    = 32
	minBackoff     = 500 * time.Millisecond
	maxBackoff     = 10 * time.Second
	dialTimeout    = 5 * time.Second
	detectCooldown = 2 * time.Second
)

// ErrDestroyed is returned after Destroy.
var ErrDestroyed = errors.New("vosk: detector destroyed")

// Option is a functional option for Client.
type Option func(*Client)

// WithURL overrides [DefaultURL].
func WithURL(url string) Option {
	return func(c *Client) { c.url = url }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithBackoff sets the reconnect backoff bounds.
func WithBackoff(initial, max time.Duration) Option {
	return func(c *Client) {
		c.minBackoff = initial
		c.maxBackoff = max
	}
}

// WithCooldown sets the minimum time between two reported detections.
func WithCooldown(d time.Duration) Option {
	return func(c *Client) { c.cooldown = d }
}

// Client is a reconnecting wake-word websocket client.
type Client struct {
	url        string
	log        *slog.Logger
	minBackoff time.Duration
	maxBackoff time.Duration
	cooldown   time.Duration

	events chan wakeword.Event

	mu         sync.Mutex
	listening  bool
	destroyed  bool
	running    bool
	lastDetect time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Client. No connection is made until Initialize.
func New(opts ...Option) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		url:        DefaultURL,
		log:        slog.Default(),
		minBackoff: minBackoff,
		maxBackoff: maxBackoff,
		cooldown:   detectCooldown,
		events:     make(chan wakeword.Event, eventBuffer),
		ctx:        ctx,
		cancel:     cancel,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Initialize dials the server once. On success the connection is handed to a
// background loop that keeps it alive.
func (c *Client) Initialize(ctx context.Context) bool {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return false
	}
	if c.running {
		c.mu.Unlock()
		return true
	}
	c.mu.Unlock()

	c.emit(wakeword.Event{Type: wakeword.EventStatus, Text: "Initializing wake word detection..."})

	conn, err := c.dial(ctx)
	if err != nil {
		c.emit(wakeword.Event{Type: wakeword.EventError, Text: "Failed to initialize wake word detection"})
		c.log.Warn("wakeword: initial dial failed", "url", c.url, "err", err)
		return false
	}

	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "destroyed")
		return false
	}
	c.running = true
	c.mu.Unlock()

	c.wg.Add(1)
	go c.run(conn)

	c.emit(wakeword.Event{Type: wakeword.EventStatus, Text: "Wake word detection ready"})
	return true
}

// StartListening implements wakeword.Detector.
func (c *Client) StartListening() error {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return ErrDestroyed
	}
	if c.listening {
		c.mu.Unlock()
		return nil
	}
	c.listening = true
	c.mu.Unlock()

	c.emit(wakeword.Event{Type: wakeword.EventStatus, Text: `Listening for "Hey Atlas"...`})
	return nil
}

// StopListening implements wakeword.Detector.
func (c *Client) StopListening() error {
	c.mu.Lock()
	if !c.listening {
		c.mu.Unlock()
		return nil
	}
	c.listening = false
	c.mu.Unlock()

	c.emit(wakeword.Event{Type: wakeword.EventStatus, Text: "Wake word detection stopped"})
	return nil
}

// Listening reports whether detections are currently reported.
func (c *Client) Listening() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listening
}

// Events implements wakeword.Detector.
func (c *Client) Events() <-chan wakeword.Event { return c.events }

// Destroy implements wakeword.Detector. It is idempotent.
func (c *Client) Destroy() error {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return nil
	}
	c.destroyed = true
	c.listening = false
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
	close(c.events)
	return nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	dctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	conn, _, err := websocket.Dial(dctx, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("vosk: dial %s: %w", c.url, err)
	}
	return conn, nil
}

// run reads from conn until it fails, then redials with backoff. It exits when
// the client is destroyed.
func (c *Client) run(conn *websocket.Conn) {
	defer c.wg.Done()

	backoff := c.minBackoff
	for {
		err := c.readLoop(conn)
		conn.CloseNow()
		if c.ctx.Err() != nil {
			return
		}
		c.log.Warn("wakeword: connection lost", "url", c.url, "err", err)
		c.emit(wakeword.Event{Type: wakeword.EventError, Text: "Wake word server connection lost, reconnecting"})

		for {
			select {
			case <-c.ctx.Done():
				return
			case <-time.After(backoff):
			}
			var derr error
			conn, derr = c.dial(c.ctx)
			if derr == nil {
				backoff = c.minBackoff
				c.emit(wakeword.Event{Type: wakeword.EventStatus, Text: "Wake word detection ready"})
				break
			}
			c.log.Debug("wakeword: redial failed", "err", derr, "backoff", backoff)
			backoff = min(backoff*2, c.maxBackoff)
		}
	}
}

type message struct {
	Wakeword bool   `json:"wakeword"`
	Text     string `json:"text"`
	Partial  string `json:"partial"`
}

func (c *Client) readLoop(conn *websocket.Conn) error {
	for {
		typ, data, err := conn.Read(c.ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageText {
			continue
		}
		var msg message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Debug("wakeword: ignoring malformed message", "err", err)
			continue
		}
		if msg.Wakeword || wakeword.ContainsPhrase(msg.Text) || wakeword.ContainsPhrase(msg.Partial) {
			c.detected()
		}
	}
}

func (c *Client) detected() {
	c.mu.Lock()
	if !c.listening {
		c.mu.Unlock()
		return
	}
	now := time.Now()
	if !c.lastDetect.IsZero() && now.Sub(c.lastDetect) < c.cooldown {
		c.mu.Unlock()
		return
	}
	c.lastDetect = now
	c.mu.Unlock()

	c.log.Info("wakeword: detected")
	c.emit(wakeword.Event{Type: wakeword.EventDetected})
	c.emit(wakeword.Event{Type: wakeword.EventStatus, Text: "Wake word detected! Activating AI..."})
}

// emit never blocks; events are dropped when the consumer falls behind.
func (c *Client) emit(ev wakeword.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return
	}
	select {
	case c.events <- ev:
	default:
		c.log.Warn("wakeword: event dropped", "type", ev.Type)
	}
}
