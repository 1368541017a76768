// Package push owns the long-lived server-to-client event stream: one
// transport per active identity, heartbeat tracking, a keepalive probe, and a
// single reconnect attempt after a fixed delay when the transport drops.
//
// Frames emitted by the server during an outage are not replayed here; the
// consumer refetches after a reconnect (see OnReconnect).
package push

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/studyhall/liveview/internal/metrics"
	"github.com/studyhall/liveview/internal/model"
)

// State is the connection lifecycle: disconnected → connecting → open, back
// to disconnected on error. Closed is terminal and only reached by Close.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// ErrClosed is returned by Open after Close has been called.
var ErrClosed = errors.New("push: connection closed")

// Handler consumes decoded frames. Exactly one handler per connection.
type Handler func(ctx context.Context, frame model.Frame)

// Config wires the connection to its collaborators.
type Config struct {
	// URLForIdentity maps an identity key to the stream URL.
	URLForIdentity func(identityKey string) string

	// Probe is the lightweight keepalive request. Two consecutive failures
	// while the transport reports open force a reconnect.
	Probe func(ctx context.Context) error

	// ReconnectDelay is the fixed pause before the single reconnect attempt
	// that follows a drop. Defaults to 3s.
	ReconnectDelay time.Duration

	// ProbeInterval is how often liveness is verified when no frame has
	// arrived. Defaults to 30s. Zero collaborator disables probing.
	ProbeInterval time.Duration
}

// Connection maintains exactly one active transport per active identity.
type Connection struct {
	cfg   Config
	httpc *http.Client

	mu           sync.Mutex
	state        State
	identity     string
	handler      Handler
	onReconnect  func()
	loopCancel   context.CancelFunc
	streamCancel context.CancelFunc
	lastSeen     time.Time
	wg           sync.WaitGroup
}

// New creates a Connection. It does nothing until Open.
func New(cfg Config) *Connection {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 3 * time.Second
	}
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = 30 * time.Second
	}
	// No client timeout: the stream is deliberately unbounded.
	return &Connection{cfg: cfg, httpc: &http.Client{}}
}

// OnFrame registers the single consumer. A second registration is an error.
func (c *Connection) OnFrame(h Handler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handler != nil {
		return errors.New("push: frame handler already registered")
	}
	c.handler = h
	return nil
}

// OnReconnect registers a callback fired after the stream is re-established
// following a drop. Consumers use it to trigger a full refetch, since frames
// emitted during the outage were not replayed.
func (c *Connection) OnReconnect(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onReconnect = fn
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Open starts the stream for the given identity. Idempotent: opening the same
// identity again returns immediately; a different identity replaces the
// current transport.
func (c *Connection) Open(ctx context.Context, identityKey string) error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.handler == nil {
		c.mu.Unlock()
		return errors.New("push: no frame handler registered")
	}
	if c.loopCancel != nil {
		if c.identity == identityKey {
			c.mu.Unlock()
			return nil
		}
		c.loopCancel()
	}
	loopCtx, cancel := context.WithCancel(ctx)
	c.loopCancel = cancel
	c.identity = identityKey
	c.state = StateConnecting
	c.mu.Unlock()

	c.wg.Add(2)
	go c.runLoop(loopCtx, identityKey)
	go c.keepalive(loopCtx)
	return nil
}

// Close terminates the transport and stops the timers. Idempotent; the
// connection cannot be reopened afterwards.
func (c *Connection) Close() {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = StateClosed
	if c.loopCancel != nil {
		c.loopCancel()
	}
	c.mu.Unlock()
	c.wg.Wait()
}

func (c *Connection) runLoop(ctx context.Context, identityKey string) {
	defer c.wg.Done()
	attempt := 0
	for {
		c.setState(StateConnecting)
		err := c.stream(ctx, identityKey, attempt > 0)
		if ctx.Err() != nil {
			return
		}
		c.setState(StateDisconnected)
		log.Warn("Connection: stream dropped", "identity", identityKey, "err", err)

		// Exactly one reconnect attempt per drop, after a fixed delay.
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.cfg.ReconnectDelay):
		}
		attempt++
		metrics.CountReconnect()
	}
}

// stream connects once and reads frames until the transport fails or ctx is
// cancelled. reconnected marks this as a post-drop attempt so the consumer
// can be told to resync.
func (c *Connection) stream(ctx context.Context, identityKey string, reconnected bool) error {
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.mu.Lock()
	c.streamCancel = cancel
	c.mu.Unlock()

	url := c.cfg.URLForIdentity(identityKey)
	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("push: build stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("push: connect: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("push: connect: unexpected status %d", resp.StatusCode)
	}

	c.setState(StateOpen)
	c.touch()
	if reconnected {
		c.mu.Lock()
		fn := c.onReconnect
		c.mu.Unlock()
		if fn != nil {
			fn()
		}
	}

	return c.readFrames(streamCtx, resp.Body)
}

func (c *Connection) readFrames(ctx context.Context, body io.Reader) error {
	c.mu.Lock()
	handler := c.handler
	c.mu.Unlock()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var eventName string
	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if eventName != "" || data.Len() > 0 {
				c.emit(ctx, handler, eventName, data.String())
				eventName = ""
				data.Reset()
			}
		case strings.HasPrefix(line, ":"):
			// SSE comment; servers use these as transport-level keepalives.
			c.touch()
		case strings.HasPrefix(line, "event:"):
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("push: read: %w", err)
	}
	return errors.New("push: stream ended")
}

func (c *Connection) emit(ctx context.Context, handler Handler, eventName, data string) {
	c.touch()
	frameType, ok := model.ParseFrameType(eventName)
	if !ok {
		log.Debug("Connection: skipping unknown event type", "event", eventName)
		return
	}
	handler(ctx, model.Frame{Type: frameType, Payload: []byte(data)})
}

// keepalive probes liveness on a fixed interval. A probe only runs when the
// transport reports open and no frame has arrived for a full interval; two
// consecutive failures force the stream down so the reconnect path runs.
func (c *Connection) keepalive(ctx context.Context) {
	defer c.wg.Done()
	if c.cfg.Probe == nil {
		return
	}
	ticker := time.NewTicker(c.cfg.ProbeInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		c.mu.Lock()
		idle := c.state == StateOpen && time.Since(c.lastSeen) >= c.cfg.ProbeInterval
		c.mu.Unlock()
		if !idle {
			failures = 0
			continue
		}
		if err := c.cfg.Probe(ctx); err != nil {
			failures++
			log.Warn("Connection: keepalive probe failed", "failures", failures, "err", err)
			if failures >= 2 {
				failures = 0
				c.bounce()
			}
			continue
		}
		failures = 0
	}
}

// bounce tears down the current stream without touching the outer loop; the
// loop observes the failure and reconnects after the fixed delay.
func (c *Connection) bounce() {
	c.mu.Lock()
	cancel := c.streamCancel
	c.mu.Unlock()
	if cancel != nil {
		log.Info("Connection: forcing reconnect after failed probes")
		cancel()
	}
}

func (c *Connection) setState(s State) {
	c.mu.Lock()
	if c.state != StateClosed {
		c.state = s
	}
	c.mu.Unlock()
}

func (c *Connection) touch() {
	c.mu.Lock()
	c.lastSeen = time.Now()
	c.mu.Unlock()
}
