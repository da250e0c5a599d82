package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024 * 1024 // 1MB
)

// Client is one WebSocket connection. It receives every loading notification
// and answers rank requests.
type Client struct {
	conn        *websocket.Conn
	service     Service
	unsubscribe func()
	logger      zerolog.Logger

	sendChan  chan []byte
	closeChan chan struct{}
	closeOnce sync.Once
}

// NewClient creates a new WebSocket client
func NewClient(conn *websocket.Conn, service Service, logger zerolog.Logger) *Client {
	return &Client{
		conn:      conn,
		service:   service,
		logger:    logger,
		sendChan:  make(chan []byte, 256),
		closeChan: make(chan struct{}),
	}
}

// Run subscribes to loading notifications and starts the read and write loops
func (c *Client) Run(ctx context.Context) {
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	c.unsubscribe = c.service.AddObserver(func(loading map[string]struct{}) {
		c.sendMessage(NewLoadingMessage(loading))
	})

	go c.writePump(ctx)

	c.readPump(ctx)
}

// readPump reads rank requests from the connection
func (c *Client) readPump(ctx context.Context) {
	defer c.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closeChan:
			return
		default:
		}

		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Debug().Err(err).Msg("read error")
			}
			return
		}

		c.handleMessage(data)
	}
}

// writePump writes queued frames and keeps the connection alive with pings
func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closeChan:
			return
		case data := <-c.sendChan:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug().Err(err).Msg("write error")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage resolves one rank request
func (c *Client) handleMessage(data []byte) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		c.sendMessage(NewErrorMessage(nil, "invalid request"))
		return
	}
	if len(req.Items) == 0 {
		c.sendMessage(NewErrorMessage(req.ID, "items must not be empty"))
		return
	}

	ranks := c.service.ResolveMany(req.Items)
	c.sendMessage(NewRanksMessage(req.ID, ranks))

	c.logger.Debug().
		Int("requested", len(req.Items)).
		Int("resolved", len(ranks)).
		Msg("ranks sent")
}

func (c *Client) sendMessage(msg *Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to marshal message")
		return
	}
	c.send(data)
}

// send queues data for the write loop
func (c *Client) send(data []byte) {
	select {
	case c.sendChan <- data:
	case <-c.closeChan:
	default:
		// Channel full, drop message
		c.logger.Warn().Msg("send channel full, dropping message")
	}
}

// Close unsubscribes from notifications and closes the connection
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.closeChan)
		if c.unsubscribe != nil {
			c.unsubscribe()
		}
		c.conn.Close()
		c.logger.Debug().Msg("client closed")
	})
}
