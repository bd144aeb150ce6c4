package websocket

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	json "github.com/goccy/go-json"

	"gitlab.com/timkado/api/doc-translate-service/internal/adapters/metrics"
	"gitlab.com/timkado/api/doc-translate-service/internal/domain"
	"gitlab.com/timkado/api/doc-translate-service/pkg/safego"
)

// Connection wraps a websocket.Conn with serialized writes and a keepalive loop.
type Connection struct {
	wsConn        *websocket.Conn
	logger        domain.Logger
	mu            sync.Mutex // serializes writes and guards wsConn
	connCtx       context.Context
	cancel        context.CancelFunc
	writeTimeout  time.Duration
	pingInterval  time.Duration
	remoteAddrStr string
	pingWg        sync.WaitGroup
}

// NewConnection takes ownership of wsConn. connCtx ends when the client goes away or
// Close is called.
func NewConnection(connCtx context.Context, cancel context.CancelFunc, wsConn *websocket.Conn, remoteAddr string, logger domain.Logger, writeTimeout, pingInterval time.Duration) *Connection {
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &Connection{
		wsConn:        wsConn,
		logger:        logger,
		connCtx:       connCtx,
		cancel:        cancel,
		writeTimeout:  writeTimeout,
		pingInterval:  pingInterval,
		remoteAddrStr: remoteAddr,
	}
}

// Context returns the connection lifetime context.
func (c *Connection) Context() context.Context {
	return c.connCtx
}

func (c *Connection) RemoteAddr() string {
	return c.remoteAddrStr
}

// StartKeepalive pings the client every ping interval. A failed ping cancels the connection.
func (c *Connection) StartKeepalive() {
	if c.pingInterval <= 0 {
		return
	}
	c.pingWg.Add(1)
	safego.Execute(c.connCtx, c.logger, "JobStreamKeepalive", func() {
		defer c.pingWg.Done()
		ticker := time.NewTicker(c.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-c.connCtx.Done():
				return
			case <-ticker.C:
				if err := c.Ping(); err != nil {
					c.logger.Info(c.connCtx, "Ping failed, closing stream", "error", err.Error(), "remoteAddr", c.remoteAddrStr)
					c.cancel()
					return
				}
			}
		}
	})
}

// Ping waits for the client's pong within the write timeout.
func (c *Connection) Ping() error {
	ctx, cancel := context.WithTimeout(c.connCtx, c.writeTimeout)
	defer cancel()
	return c.wsConn.Ping(ctx)
}

// WriteJSON marshals msg and writes it as one text frame.
func (c *Connection) WriteJSON(msg BaseMessage) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.wsConn == nil {
		return errors.New("connection closed")
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.writeTimeout)
	defer cancel()
	if err := c.wsConn.Write(ctx, websocket.MessageText, b); err != nil {
		return err
	}
	metrics.IncStreamMessage(msg.Type)
	return nil
}

// Close stops the keepalive and closes the socket with statusCode. Safe to call more than once.
func (c *Connection) Close(statusCode websocket.StatusCode, reason string) error {
	c.cancel()
	c.pingWg.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.wsConn == nil {
		return nil
	}
	err := c.wsConn.Close(statusCode, reason)
	c.wsConn = nil
	return err
}

// CloseWithError sends errResp and closes with a policy violation or internal error code.
func (c *Connection) CloseWithError(errResp domain.ErrorResponse, reason string) error {
	c.logger.Warn(c.connCtx, "Closing stream with error", "code", errResp.Code, "message", errResp.Message, "reason", reason)
	if err := c.WriteJSON(NewErrorMessage(errResp)); err != nil {
		c.logger.Debug(c.connCtx, "Failed to send error frame before close", "error", err.Error())
	}
	code := websocket.StatusInternalError
	if errResp.Code == domain.CodeNotFound || errResp.Code == domain.CodeBadRequest {
		code = websocket.StatusPolicyViolation
	}
	return c.Close(code, reason)
}
