// Package bus is the thin transport boundary between the core and the rest
// of the platform. It wraps NATS with the four capabilities the core needs:
// fire-and-forget publish, single-reply request, streaming subscribe, and
// server-side reply handlers.
//
// JSON is the only wire format. Repliers convey failures as {"error": "..."}
// payloads, never as transport-level errors; [Request] therefore only fails
// on connectivity or deadline problems.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrTimeout is returned by [Bus.Request] when no reply arrives within the
// per-call deadline. Callers map it to a transport_timeout action failure.
var ErrTimeout = errors.New("bus: request timed out")

// ErrClosed is returned when the connection has been closed.
var ErrClosed = errors.New("bus: connection closed")

// Subscription is a live subject subscription. Close stops delivery.
type Subscription interface {
	Close() error
}

// Bus is the transport contract the core programs against. The production
// implementation is [Conn]; tests use the in-memory fake in bus/mock.
type Bus interface {
	// Publish sends payload (JSON-encoded) on subject, fire-and-forget.
	Publish(ctx context.Context, subject string, payload any) error

	// Request sends payload on subject and waits up to timeout for one
	// reply. The raw JSON reply is returned; a missing reply yields
	// [ErrTimeout].
	Request(ctx context.Context, subject string, payload any, timeout time.Duration) (json.RawMessage, error)

	// Subscribe invokes cb for every message on subject until the returned
	// subscription is closed. cb runs on the transport's delivery goroutine
	// and must not block for long.
	Subscribe(subject string, cb func(data []byte)) (Subscription, error)

	// QueueSubscribe is Subscribe with a queue group: each message is
	// delivered to one member of the group.
	QueueSubscribe(subject, queue string, cb func(data []byte)) (Subscription, error)

	// ReplyHandler registers a server-side request/reply endpoint. The
	// handler's return value is JSON-encoded as the reply; a non-nil error
	// is conveyed as an {"error": "..."} payload.
	ReplyHandler(subject string, fn func(ctx context.Context, data []byte) (any, error)) (Subscription, error)

	// Close drains and closes the connection.
	Close()
}

// ErrorPayload is the wire shape repliers use to convey failures.
type ErrorPayload struct {
	Error string `json:"error"`
}

// RemoteError extracts the error string from a reply payload, if present.
// The second return reports whether the payload was an error payload.
func RemoteError(reply json.RawMessage) (string, bool) {
	var ep ErrorPayload
	if err := json.Unmarshal(reply, &ep); err != nil {
		return "", false
	}
	return ep.Error, ep.Error != ""
}
