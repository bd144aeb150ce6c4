package nats

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"gitlab.com/timkado/api/doc-translate-service/internal/adapters/config"
	"gitlab.com/timkado/api/doc-translate-service/internal/domain"
)

// Connection holds the NATS connection and its JetStream handle.
type Connection struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	logger domain.Logger
}

// Connect dials NATS and obtains a JetStream handle. The returned cleanup drains the connection.
func Connect(ctx context.Context, cfgProvider config.Provider, appLogger domain.Logger) (*Connection, func(), error) {
	appCfg := cfgProvider.Get()
	natsCfg := appCfg.NATS

	appLogger.Info(ctx, "Attempting to connect to NATS server", "url", natsCfg.URL)

	nc, err := nats.Connect(natsCfg.URL,
		nats.Name(fmt.Sprintf("%s-%s", appCfg.App.ServiceName, appCfg.Worker.ID)),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
		nats.ErrorHandler(func(c *nats.Conn, s *nats.Subscription, err error) {
			subject := ""
			if s != nil {
				subject = s.Subject
			}
			appLogger.Error(context.Background(), "NATS error", "subscription", subject, "error", err.Error())
		}),
		nats.ClosedHandler(func(c *nats.Conn) {
			appLogger.Info(context.Background(), "NATS connection closed")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			appLogger.Info(context.Background(), "NATS reconnected", "url", c.ConnectedUrl())
		}),
		nats.DisconnectErrHandler(func(c *nats.Conn, err error) {
			if err != nil {
				appLogger.Warn(context.Background(), "NATS disconnected", "error", err.Error())
			}
		}),
	)
	if err != nil {
		appLogger.Error(ctx, "Failed to connect to NATS", "url", natsCfg.URL, "error", err.Error())
		return nil, nil, fmt.Errorf("failed to connect to NATS at %s: %w", natsCfg.URL, err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}
	appLogger.Info(ctx, "Successfully connected to NATS server", "url", nc.ConnectedUrl())

	conn := &Connection{nc: nc, js: js, logger: appLogger}
	return conn, conn.Close, nil
}

// Close drains and closes the NATS connection. Calls after the first are no-ops.
func (c *Connection) Close() {
	if c.nc == nil || c.nc.IsClosed() || c.nc.IsDraining() {
		return
	}
	c.logger.Info(context.Background(), "Draining NATS connection...")
	if err := c.nc.Drain(); err != nil {
		c.logger.Error(context.Background(), "Error draining NATS connection", "error", err.Error())
	}
}

// JetStream returns the JetStream handle.
func (c *Connection) JetStream() jetstream.JetStream {
	return c.js
}

// Ping reports whether the connection is usable.
func (c *Connection) Ping(ctx context.Context) error {
	if c.nc == nil || !c.nc.IsConnected() {
		return fmt.Errorf("nats not connected")
	}
	return c.nc.FlushWithContext(ctx)
}
