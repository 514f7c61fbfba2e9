package health

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// StatusReporter is the connection-level health surface the bus exposes.
type StatusReporter interface {
	Healthy() bool
}

// Bus builds a readiness checker over the message bus connection.
func Bus(conn StatusReporter) Checker {
	return Checker{
		Name: "bus",
		Check: func(_ context.Context) error {
			if conn == nil || !conn.Healthy() {
				return errors.New("bus connection is down")
			}
			return nil
		},
	}
}

// SessionStore builds a readiness checker that pings the redis session
// store. The check is optional: without redis the engine still converses,
// sessions just stop surviving restarts.
func SessionStore(client redis.Cmdable) Checker {
	return Checker{
		Name:     "session_store",
		Optional: true,
		Check: func(ctx context.Context) error {
			if client == nil {
				return errors.New("session store is not configured")
			}
			return client.Ping(ctx).Err()
		},
	}
}
