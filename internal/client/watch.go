package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/xiaot623/gogo/controlplane/internal/bus"
	"github.com/xiaot623/gogo/controlplane/internal/domain"
	"github.com/xiaot623/gogo/controlplane/internal/transport/ws"
)

// ErrIdle is returned by a watch when nothing arrives within the idle timeout.
var ErrIdle = errors.New("no messages within idle timeout")

// ErrSubscriptionEnded is returned when the server ends the subscription.
var ErrSubscriptionEnded = errors.New("subscription ended by server")

// WatchRun streams the events of one run to fn until fn returns true, ctx
// is done, or no event arrives for idle (zero disables the idle timeout).
func (c *Client) WatchRun(ctx context.Context, runID string, idle time.Duration, fn func(domain.Event) bool) error {
	return watch(ctx, c.wsURL(), bus.ChannelEventsForRun, runID, idle, fn)
}

// WatchEvents streams every event to fn.
func (c *Client) WatchEvents(ctx context.Context, idle time.Duration, fn func(domain.Event) bool) error {
	return watch(ctx, c.wsURL(), bus.ChannelEvents, "", idle, fn)
}

// WatchCommands streams the commands addressed to one run to fn.
func (c *Client) WatchCommands(ctx context.Context, runID string, idle time.Duration, fn func(domain.Command) bool) error {
	return watch(ctx, c.wsURL(), bus.ChannelCommandsForRun, runID, idle, fn)
}

func watch[T any](ctx context.Context, endpoint, channel, runID string, idle time.Duration, fn func(T) bool) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", endpoint, err)
	}
	defer conn.Close()

	g, gctx := errgroup.WithContext(ctx)
	done := make(chan struct{})

	// unblock the reader when the caller gives up
	g.Go(func() error {
		select {
		case <-gctx.Done():
			conn.Close()
		case <-done:
		}
		return nil
	})

	g.Go(func() error {
		defer close(done)

		if err := conn.WriteJSON(ws.Message{Type: ws.TypeConnectionInit}); err != nil {
			return fmt.Errorf("failed to send connection_init: %w", err)
		}

		for {
			if idle > 0 {
				conn.SetReadDeadline(time.Now().Add(idle))
			}
			var msg ws.Message
			if err := conn.ReadJSON(&msg); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				var netErr net.Error
				if errors.As(err, &netErr) && netErr.Timeout() {
					return ErrIdle
				}
				return fmt.Errorf("failed to read message: %w", err)
			}

			switch msg.Type {
			case ws.TypeConnectionAck:
				payload, err := json.Marshal(ws.SubscribePayload{Channel: channel, RunID: runID})
				if err != nil {
					return err
				}
				if err := conn.WriteJSON(ws.Message{ID: "1", Type: ws.TypeSubscribe, Payload: payload}); err != nil {
					return fmt.Errorf("failed to subscribe: %w", err)
				}
			case ws.TypeNext:
				var next struct {
					Data map[string]T `json:"data"`
				}
				if err := json.Unmarshal(msg.Payload, &next); err != nil {
					return fmt.Errorf("failed to decode %s message: %w", channel, err)
				}
				v, ok := next.Data[channel]
				if !ok {
					continue
				}
				if fn(v) {
					return nil
				}
			case ws.TypeError:
				var p ws.ErrorPayload
				json.Unmarshal(msg.Payload, &p)
				return fmt.Errorf("subscription error: %s: %s", p.Code, p.Message)
			case ws.TypeComplete:
				return ErrSubscriptionEnded
			}
		}
	})

	return g.Wait()
}
