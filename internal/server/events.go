package server

import (
	"context"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	subscriberBuffer = 64
	writeTimeout     = 5 * time.Second
)

// Events upgrades to a websocket and streams log entries as JSON text
// messages. The optional testId query narrows the stream to one test.
// Client messages are ignored. Browsers are held to the same origin unless
// the origin matches a configured pattern.
func (h *Handler) Events(c *gin.Context) {
	testID := c.Query("testId")

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: h.cfg.OriginPatterns,
	})
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	ctx := conn.CloseRead(c.Request.Context())
	sub := newChannelSubscriber(subscriberBuffer)
	h.hub.Register(testID, sub)
	defer h.hub.Unregister(testID, sub)

	h.log.Debug("event stream opened", zap.String("test_id", testID))

	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.done:
			conn.Close(websocket.StatusGoingAway, "stream closed")
			return
		case msg := <-sub.send:
			if err := writeMessage(ctx, conn, msg); err != nil {
				h.log.Debug("event stream write failed", zap.Error(err))
				return
			}
		}
	}
}

func writeMessage(ctx context.Context, conn *websocket.Conn, msg []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, msg)
}
