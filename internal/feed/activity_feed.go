// Package feed connects to the Solana RPC WebSocket and turns on-chain DEX
// program activity into venue signals on the signal bus. The scan scheduler
// consumes those signals; a dropped connection only delays scans until the
// fallback timer fires, so the feed favors simplicity over delivery
// guarantees.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kmelnick/dexarb/internal/domain"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	reconnectDelay    = 2 * time.Second
	maxReconnectDelay = 60 * time.Second
)

// VenueProgram maps a DEX venue name to its on-chain program ID.
type VenueProgram struct {
	Venue     string
	ProgramID string
}

// Config holds the feed's endpoint and subscriptions.
type Config struct {
	WsURL    string
	Programs []VenueProgram
	// Channel is the signal bus channel venue names are published to.
	Channel string
}

// ActivityFeed subscribes to log notifications for each venue's program and
// publishes the venue name whenever its program executes. Reconnects with
// exponential backoff on disconnect.
type ActivityFeed struct {
	cfg    Config
	bus    domain.SignalBus
	logger *slog.Logger
}

// NewActivityFeed creates an ActivityFeed.
func NewActivityFeed(cfg Config, bus domain.SignalBus, logger *slog.Logger) *ActivityFeed {
	return &ActivityFeed{
		cfg:    cfg,
		bus:    bus,
		logger: logger.With(slog.String("component", "activity_feed")),
	}
}

// Run connects and consumes notifications until ctx is cancelled.
func (f *ActivityFeed) Run(ctx context.Context) error {
	if len(f.cfg.Programs) == 0 {
		f.logger.Info("no venue programs configured, feed idle")
		<-ctx.Done()
		return ctx.Err()
	}

	delay := reconnectDelay
	for {
		err := f.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.Warn("feed disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("delay", delay),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// rpcRequest is a JSON-RPC 2.0 request frame.
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

// rpcMessage covers both subscription confirmations and notifications.
type rpcMessage struct {
	ID     int             `json:"id"`
	Result json.RawMessage `json:"result"`
	Method string          `json:"method"`
	Params struct {
		Subscription int `json:"subscription"`
	} `json:"params"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (f *ActivityFeed) runConnection(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.cfg.WsURL, nil)
	if err != nil {
		return fmt.Errorf("feed: connect: %w", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	// Request ID n subscribes Programs[n-1]; the confirmation carries the
	// server-assigned subscription ID we later see on every notification.
	byRequest := make(map[int]string, len(f.cfg.Programs))
	for i, p := range f.cfg.Programs {
		id := i + 1
		byRequest[id] = p.Venue
		req := rpcRequest{
			JSONRPC: "2.0",
			ID:      id,
			Method:  "logsSubscribe",
			Params: []any{
				map[string]any{"mentions": []string{p.ProgramID}},
				map[string]any{"commitment": "confirmed"},
			},
		}
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(req); err != nil {
			return fmt.Errorf("feed: subscribe %s: %w", p.Venue, err)
		}
	}
	f.logger.Info("feed subscribed", slog.Int("programs", len(f.cfg.Programs)))

	pingDone := make(chan struct{})
	defer close(pingDone)
	go f.pingLoop(conn, pingDone)

	// Close the connection on cancel so the blocking read returns.
	readDone := make(chan struct{})
	defer close(readDone)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-readDone:
		}
	}()

	bySubscription := make(map[int]string, len(f.cfg.Programs))
	for {
		var msg rpcMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("feed: read: %w", domain.ErrWSDisconnect)
		}

		switch {
		case msg.Error != nil:
			f.logger.Warn("feed subscription error",
				slog.Int("code", msg.Error.Code),
				slog.String("message", msg.Error.Message),
			)
		case msg.ID != 0:
			venue, ok := byRequest[msg.ID]
			if !ok {
				continue
			}
			var subID int
			if err := json.Unmarshal(msg.Result, &subID); err != nil {
				continue
			}
			bySubscription[subID] = venue
		case msg.Method == "logsNotification":
			venue, ok := bySubscription[msg.Params.Subscription]
			if !ok {
				continue
			}
			if err := f.bus.Publish(ctx, f.cfg.Channel, []byte(venue)); err != nil {
				f.logger.Warn("signal publish failed",
					slog.String("venue", venue),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

func (f *ActivityFeed) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
