package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"qcompose/internal/collab"
)

// Client is one editor's connection to a relay. It satisfies
// collab.Transport.
type Client struct {
	ws   *websocket.Conn
	room string
	log  *slog.Logger

	wmu sync.Mutex
}

var _ collab.Transport = (*Client)(nil)

// Dial connects to the relay at rawURL and joins room.
func Dial(ctx context.Context, rawURL, room string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("relay url: %w", err)
	}
	if room != "" {
		q := u.Query()
		q.Set("room", room)
		u.RawQuery = q.Encode()
	}
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay %s: %w", u.Redacted(), err)
	}
	return &Client{ws: ws, room: room, log: logger}, nil
}

// Room returns the joined room.
func (c *Client) Room() string { return c.room }

// Send writes msg, filling in the room when it is empty.
func (c *Client) Send(ctx context.Context, msg collab.Message) error {
	if msg.Room == "" {
		msg.Room = c.room
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(writeTimeout)
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.ws.SetWriteDeadline(deadline)
	if err := c.ws.WriteJSON(msg); err != nil {
		return fmt.Errorf("send %s: %w", msg.Type, err)
	}
	return nil
}

// Run delivers every inbound message to fn until the connection drops or
// ctx is cancelled. Cancellation is not an error.
func (c *Client) Run(ctx context.Context, fn func(collab.Message)) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			var msg collab.Message
			if err := c.ws.ReadJSON(&msg); err != nil {
				return err
			}
			fn(msg)
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		return c.ws.Close()
	})

	err := g.Wait()
	if ctx.Err() != nil {
		return nil
	}
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) && closeErr.Code == websocket.CloseNormalClosure {
		return nil
	}
	c.log.Warn("relay connection lost", "room", c.room, "error", err)
	return err
}

// Close sends a close frame and drops the connection.
func (c *Client) Close() error {
	c.wmu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.wmu.Unlock()
	return c.ws.Close()
}
