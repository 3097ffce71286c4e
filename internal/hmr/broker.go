package hmr

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

type EventType string

const (
	EventConnected  EventType = "connected"
	EventFullReload EventType = "full-reload"
	EventUpdate     EventType = "update"
)

const (
	KindCSS = "css"
	KindJS  = "js"
)

// Event is one notification sent to every connected page. Path is relative
// to the project root; an empty Path on a css update refreshes every
// stylesheet.
type Event struct {
	Type EventType `json:"type"`
	Path string    `json:"path,omitempty"`
	Kind string    `json:"kind,omitempty"`
}

const (
	defaultKeepaliveInterval = 15 * time.Second
	clientBuffer             = 16
)

// Broker fans events out to all connected SSE clients.
type Broker struct {
	mu                sync.Mutex
	clients           map[chan []byte]struct{}
	closed            bool
	logger            *slog.Logger
	keepaliveInterval time.Duration
}

type BrokerOption func(*Broker)

// WithKeepalive sets how often idle streams receive a comment line.
func WithKeepalive(d time.Duration) BrokerOption {
	return func(b *Broker) {
		if d > 0 {
			b.keepaliveInterval = d
		}
	}
}

func NewBroker(logger *slog.Logger, opts ...BrokerOption) *Broker {
	b := &Broker{
		clients:           make(map[chan []byte]struct{}),
		logger:            logger,
		keepaliveInterval: defaultKeepaliveInterval,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func formatEvent(evt Event) ([]byte, error) {
	payload, err := json.Marshal(evt)
	if err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", evt.Type, payload)), nil
}

// Publish sends evt to every client. Slow clients miss the event rather
// than stall the publisher.
func (b *Broker) Publish(evt Event) {
	data, err := formatEvent(evt)
	if err != nil {
		b.logger.Debug("failed to format hmr event", slog.Any("err", err))
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.clients {
		select {
		case ch <- data:
		default:
		}
	}

	b.logger.Debug("hmr event published",
		slog.String("type", string(evt.Type)),
		slog.String("path", evt.Path),
		slog.Int("clients", len(b.clients)))
}

// Clients returns the number of connected streams.
func (b *Broker) Clients() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Close disconnects every client and rejects new ones.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	for ch := range b.clients {
		close(ch)
		delete(b.clients, ch)
	}
}

func (b *Broker) addClient() (chan []byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, false
	}
	ch := make(chan []byte, clientBuffer)
	b.clients[ch] = struct{}{}
	return ch, true
}

func (b *Broker) removeClient(ch chan []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.clients[ch]; ok {
		delete(b.clients, ch)
		close(ch)
	}
}

// ServeHTTP streams events to one client until it disconnects.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ch, ok := b.addClient()
	if !ok {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	defer b.removeClient(ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)

	hello, _ := formatEvent(Event{Type: EventConnected})
	if _, err := w.Write(hello); err != nil {
		return
	}
	flusher.Flush()

	keepalive := time.NewTicker(b.keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case data, ok := <-ch:
			if !ok {
				return
			}
			if _, err := w.Write(data); err != nil {
				return
			}
			flusher.Flush()
		case <-keepalive.C:
			if _, err := w.Write([]byte(": ping\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
