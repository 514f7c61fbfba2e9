package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// Compile-time check that *Conn satisfies [Bus].
var _ Bus = (*Conn)(nil)

const (
	defaultReconnectWait = 2 * time.Second
	defaultMaxReconnects = 60
)

// Conn is the NATS-backed [Bus]. Reconnection is automatic and bounded;
// when the bound is exhausted the connection closes and subsequent calls
// return [ErrClosed].
type Conn struct {
	nc  *nats.Conn
	log *slog.Logger
}

// Config configures a [Conn].
type Config struct {
	// URL is the server address (e.g. "nats://127.0.0.1:4222").
	URL string

	// Name identifies this client in server monitoring. Default: "nlx".
	Name string

	// ReconnectWait is the pause between reconnect attempts.
	// Default: 2 s.
	ReconnectWait time.Duration

	// MaxReconnects bounds automatic reconnection attempts. Default: 60.
	MaxReconnects int
}

// Connect establishes the NATS connection. It fails fast when the server is
// unreachable at startup; reconnection only covers connections lost later.
func Connect(cfg Config) (*Conn, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.Name == "" {
		cfg.Name = "nlx"
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = defaultReconnectWait
	}
	if cfg.MaxReconnects == 0 {
		cfg.MaxReconnects = defaultMaxReconnects
	}

	log := slog.Default().With("component", "bus")

	nc, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("bus disconnected", "err", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("bus reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Warn("bus connection closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("bus: connect %s: %w", cfg.URL, err)
	}

	return &Conn{nc: nc, log: log}, nil
}

// Publish sends payload on subject, fire-and-forget.
func (c *Conn) Publish(_ context.Context, subject string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("bus: encode publish %s: %w", subject, err)
	}
	if err := c.nc.Publish(subject, data); err != nil {
		if errors.Is(err, nats.ErrConnectionClosed) {
			return ErrClosed
		}
		return fmt.Errorf("bus: publish %s: %w", subject, err)
	}
	return nil
}

// Request sends payload on subject and waits for one reply.
func (c *Conn) Request(ctx context.Context, subject string, payload any, timeout time.Duration) (json.RawMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("bus: encode request %s: %w", subject, err)
	}

	reqCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	msg, err := c.nc.RequestWithContext(reqCtx, subject, data)
	switch {
	case err == nil:
		return msg.Data, nil
	case errors.Is(err, nats.ErrNoResponders):
		return nil, fmt.Errorf("bus: no responders on %s: %w", subject, ErrTimeout)
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, nats.ErrTimeout):
		return nil, fmt.Errorf("bus: request %s: %w", subject, ErrTimeout)
	case errors.Is(err, nats.ErrConnectionClosed):
		return nil, ErrClosed
	default:
		return nil, fmt.Errorf("bus: request %s: %w", subject, err)
	}
}

// Subscribe invokes cb for each message on subject.
func (c *Conn) Subscribe(subject string, cb func(data []byte)) (Subscription, error) {
	sub, err := c.nc.Subscribe(subject, func(msg *nats.Msg) {
		cb(msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("bus: subscribe %s: %w", subject, err)
	}
	return natsSub{sub}, nil
}

// QueueSubscribe invokes cb for each message on subject, load-balanced
// across the queue group.
func (c *Conn) QueueSubscribe(subject, queue string, cb func(data []byte)) (Subscription, error) {
	sub, err := c.nc.QueueSubscribe(subject, queue, func(msg *nats.Msg) {
		cb(msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("bus: queue subscribe %s: %w", subject, err)
	}
	return natsSub{sub}, nil
}

// ReplyHandler registers a request/reply endpoint on subject. Handler
// errors are marshalled as {"error": "..."} so callers never see transport
// failures for application errors.
func (c *Conn) ReplyHandler(subject string, fn func(ctx context.Context, data []byte) (any, error)) (Subscription, error) {
	sub, err := c.nc.Subscribe(subject, func(msg *nats.Msg) {
		result, err := fn(context.Background(), msg.Data)
		if err != nil {
			result = ErrorPayload{Error: err.Error()}
		}
		reply, err := json.Marshal(result)
		if err != nil {
			c.log.Error("reply encode failed", "subject", subject, "err", err)
			reply, _ = json.Marshal(ErrorPayload{Error: "internal: reply encoding failed"})
		}
		if err := msg.Respond(reply); err != nil {
			c.log.Warn("reply send failed", "subject", subject, "err", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("bus: reply handler %s: %w", subject, err)
	}
	return natsSub{sub}, nil
}

// Close drains in-flight messages and closes the connection.
func (c *Conn) Close() {
	if err := c.nc.Drain(); err != nil {
		c.nc.Close()
	}
}

// Healthy reports whether the connection is currently established; used by
// readiness checks.
func (c *Conn) Healthy() bool {
	return c.nc.IsConnected()
}

// natsSub adapts *nats.Subscription to [Subscription].
type natsSub struct {
	sub *nats.Subscription
}

func (s natsSub) Close() error {
	return s.sub.Unsubscribe()
}
