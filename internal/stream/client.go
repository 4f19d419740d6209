// Package stream follows the live event feed of a running server.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/sadopc/hookwait/internal/core/eventlog"
)

// EventsPath is the feed route on the server.
const EventsPath = "/api/events"

// Message is one decoded feed entry or the error that ended the feed.
type Message struct {
	Entry    *eventlog.Entry
	Received time.Time
	Err      error
}

// Client holds a feed connection. Once connected it persists until Close.
type Client struct {
	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
}

// New creates a disconnected client.
func New() *Client {
	return &Client{}
}

// FeedURL turns a server base URL into the websocket feed URL, optionally
// narrowed to one test.
func FeedURL(baseURL, testID string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", fmt.Errorf("parsing server URL: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", errors.New("server URL has no host")
	}
	u.Path = strings.TrimRight(u.Path, "/") + EventsPath
	q := url.Values{}
	if testID != "" {
		q.Set("testId", testID)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Connect dials the feed of the server at baseURL. Headers are applied to the
// handshake.
func (c *Client) Connect(ctx context.Context, baseURL, testID string, headers map[string]string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return fmt.Errorf("already connected")
	}

	feed, err := FeedURL(baseURL, testID)
	if err != nil {
		return err
	}

	httpHeaders := make(http.Header)
	for k, v := range headers {
		httpHeaders.Set(k, v)
	}

	conn, _, err := websocket.Dial(ctx, feed, &websocket.DialOptions{
		HTTPHeader: httpHeaders,
	})
	if err != nil {
		return fmt.Errorf("dialing %s: %w", feed, err)
	}

	c.conn = conn
	c.connected = true
	return nil
}

// Close gracefully closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected || c.conn == nil {
		return nil
	}

	err := c.conn.Close(websocket.StatusNormalClosure, "client closed")
	c.conn = nil
	c.connected = false
	return err
}

// IsConnected returns whether the client currently holds an open connection.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// ReadEntries decodes feed messages into msgChan until the context is
// cancelled or the connection ends, then closes msgChan. A server-side close
// ends the loop quietly; any other failure is sent as a final Message with Err.
// Messages that are not entries are skipped.
func (c *Client) ReadEntries(ctx context.Context, msgChan chan<- Message) {
	defer close(msgChan)

	for {
		c.mu.Lock()
		conn := c.conn
		connected := c.connected
		c.mu.Unlock()

		if !connected || conn == nil {
			return
		}

		_, reader, err := conn.Reader(ctx)
		if err != nil {
			if ctx.Err() != nil || closedNormally(err) {
				return
			}
			select {
			case msgChan <- Message{Err: err, Received: time.Now()}:
			case <-ctx.Done():
			}
			return
		}

		data, err := io.ReadAll(reader)
		if err != nil {
			select {
			case msgChan <- Message{Err: fmt.Errorf("reading message body: %w", err), Received: time.Now()}:
			case <-ctx.Done():
			}
			return
		}

		var entry eventlog.Entry
		if err := json.Unmarshal(data, &entry); err != nil || entry.TestID == "" {
			continue
		}

		select {
		case msgChan <- Message{Entry: &entry, Received: time.Now()}:
		case <-ctx.Done():
			return
		}
	}
}

func closedNormally(err error) bool {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return false
}
