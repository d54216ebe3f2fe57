// Package blockwatch tracks the chain head over a newHeads subscription.
package blockwatch

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

// Watcher subscribes to eth_subscribe newHeads and keeps the latest block
// number. The probe consults it between receipt polls so block-height
// progression is observed even when no poll is in flight. When the
// subscription drops, Head reports unavailable and callers fall back to
// eth_blockNumber.
type Watcher struct {
	url    string
	logger *slog.Logger

	mu     sync.RWMutex
	conn   *websocket.Conn
	head   uint64
	live   bool
	closed bool
}

// New creates a Watcher for the given WebSocket URL.
func New(url string, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		url:    url,
		logger: logger,
	}
}

// DeriveWSURL converts an http(s) endpoint URL to its ws(s) equivalent.
func DeriveWSURL(httpURL string) string {
	switch {
	case strings.HasPrefix(httpURL, "http://"):
		return "ws://" + strings.TrimPrefix(httpURL, "http://")
	case strings.HasPrefix(httpURL, "https://"):
		return "wss://" + strings.TrimPrefix(httpURL, "https://")
	default:
		return httpURL
	}
}

// Start dials the endpoint, subscribes to newHeads, and launches the read
// loop. Returns an error if the connection or subscription fails; read-loop
// failures after that only mark the watcher stale.
func (w *Watcher) Start(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, w.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", w.url, err)
	}

	subscribeMsg := map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  "eth_subscribe",
		"params":  []string{"newHeads"},
		"id":      1,
	}
	if err := conn.WriteJSON(subscribeMsg); err != nil {
		conn.Close()
		return fmt.Errorf("subscribe newHeads: %w", err)
	}

	w.mu.Lock()
	w.conn = conn
	w.live = true
	w.mu.Unlock()

	w.logger.Info("subscribed to newHeads", slog.String("url", w.url))

	go func() {
		<-ctx.Done()
		w.Close()
	}()
	go w.readLoop()

	return nil
}

func (w *Watcher) readLoop() {
	defer func() {
		w.mu.Lock()
		w.live = false
		w.mu.Unlock()
	}()

	for {
		var msg struct {
			Method string `json:"method"`
			Params *struct {
				Result struct {
					Number string `json:"number"`
				} `json:"result"`
			} `json:"params"`
		}

		w.mu.RLock()
		conn := w.conn
		closed := w.closed
		w.mu.RUnlock()
		if conn == nil || closed {
			return
		}

		if err := conn.ReadJSON(&msg); err != nil {
			w.mu.RLock()
			closed := w.closed
			w.mu.RUnlock()
			if !closed {
				w.logger.Debug("newHeads read error", slog.String("error", err.Error()))
			}
			return
		}

		if msg.Params == nil {
			continue // subscription confirmation or unrelated frame
		}

		number, err := parseHexUint64(msg.Params.Result.Number)
		if err != nil {
			w.logger.Debug("bad newHeads block number",
				slog.String("value", msg.Params.Result.Number))
			continue
		}

		w.mu.Lock()
		if number > w.head {
			w.head = number
		}
		w.mu.Unlock()
	}
}

// Head returns the latest observed block number. ok is false until the first
// header arrives or after the subscription dropped.
func (w *Watcher) Head() (head uint64, ok bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.head, w.live && w.head > 0
}

// Close shuts the connection down. Safe to call more than once.
func (w *Watcher) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	w.live = false
	if w.conn != nil {
		w.conn.Close()
	}
}

// parseHexUint64 parses a hex string (with or without 0x prefix) to uint64.
func parseHexUint64(s string) (uint64, error) {
	s = strings.TrimPrefix(s, "0x")
	return strconv.ParseUint(s, 16, 64)
}
