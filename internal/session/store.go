package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	sessionKeyPrefix = "nlx:session:"
	archiveKeyPrefix = "nlx:archive:"

	// DefaultTTL is the session key expiry, refreshed on every save.
	DefaultTTL = 24 * time.Hour

	// DefaultMaxArchives bounds the per-user archive list.
	DefaultMaxArchives = 50

	// opTimeout caps a single redis round trip.
	opTimeout = 3 * time.Second
)

// ArchivedConversation is a compact snapshot of a session written on reset.
type ArchivedConversation struct {
	ID               string         `json:"id"`
	Title            string         `json:"title"`
	UserID           string         `json:"user_id"`
	Turns            []Turn         `json:"chat_history"`
	Variables        map[string]any `json:"variables,omitempty"`
	WorkingDirectory string         `json:"working_directory,omitempty"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// Store persists sessions and archives in redis. Load never fails: transport
// errors and corrupt payloads degrade to a fresh empty session with a
// warning, so a dead redis only costs continuity, not availability.
type Store struct {
	client redis.Cmdable
	log    *slog.Logger

	ttl         time.Duration
	maxArchives int
}

// StoreConfig configures a [Store].
type StoreConfig struct {
	// Addr is the redis server address (host:port).
	Addr string

	// Password is the redis password, empty when auth is disabled.
	Password string

	// DB is the redis database number.
	DB int

	// TTL overrides [DefaultTTL] when positive.
	TTL time.Duration

	// MaxArchives overrides [DefaultMaxArchives] when positive.
	MaxArchives int
}

// NewStore connects to redis and verifies the connection with a ping.
func NewStore(ctx context.Context, cfg StoreConfig) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("session: redis connect %s: %w", cfg.Addr, err)
	}

	return newStore(client, cfg), nil
}

// NewStoreWithClient wires an existing client (miniredis in tests).
func NewStoreWithClient(client redis.Cmdable, cfg StoreConfig) *Store {
	return newStore(client, cfg)
}

func newStore(client redis.Cmdable, cfg StoreConfig) *Store {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	maxArchives := cfg.MaxArchives
	if maxArchives <= 0 {
		maxArchives = DefaultMaxArchives
	}
	return &Store{
		client:      client,
		log:         slog.Default().With("component", "session-store"),
		ttl:         ttl,
		maxArchives: maxArchives,
	}
}

// Ping reports backend reachability; used by readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Load returns the session for sessionID, or a freshly initialized empty
// session when none exists, the payload is corrupt, or redis is down.
func (s *Store) Load(ctx context.Context, sessionID, userID string) *Context {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	data, err := s.client.Get(opCtx, sessionKeyPrefix+sessionID).Bytes()
	if errors.Is(err, redis.Nil) {
		return NewContext(sessionID, userID)
	}
	if err != nil {
		s.log.Warn("session load failed, starting empty", "session_id", sessionID, "err", err)
		return NewContext(sessionID, userID)
	}

	c, err := DecodeContext(data, sessionID, userID)
	if err != nil {
		s.log.Warn("corrupt session payload, starting empty", "session_id", sessionID, "err", err)
		return NewContext(sessionID, userID)
	}
	return c
}

// Save atomically writes the session and refreshes its TTL. UpdatedAt is
// advanced before the write so the persisted value is monotonic.
func (s *Store) Save(ctx context.Context, c *Context) error {
	if now := time.Now(); now.After(c.UpdatedAt) {
		c.UpdatedAt = now
	}

	data, err := c.Encode()
	if err != nil {
		return err
	}

	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if err := s.client.Set(opCtx, sessionKeyPrefix+c.SessionID, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("session: save %s: %w", c.SessionID, err)
	}
	return nil
}

// Reset deletes the live session. Callers archive first if they want to
// keep the history.
func (s *Store) Reset(ctx context.Context, sessionID string) error {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if err := s.client.Del(opCtx, sessionKeyPrefix+sessionID).Err(); err != nil {
		return fmt.Errorf("session: reset %s: %w", sessionID, err)
	}
	return nil
}

// Archive prepends a compact snapshot of c to the user's archive list and
// trims the list to the configured bound. The archive id is returned.
func (s *Store) Archive(ctx context.Context, c *Context) (string, error) {
	arch := ArchivedConversation{
		ID:               uuid.NewString(),
		Title:            archiveTitle(c),
		UserID:           c.UserID,
		Turns:            c.Turns,
		Variables:        c.Variables,
		WorkingDirectory: c.WorkingDirectory,
		UpdatedAt:        c.UpdatedAt,
	}

	data, err := json.Marshal(arch)
	if err != nil {
		return "", fmt.Errorf("session: encode archive: %w", err)
	}

	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	key := archiveKeyPrefix + c.UserID
	pipe := s.client.TxPipeline()
	pipe.LPush(opCtx, key, data)
	pipe.LTrim(opCtx, key, 0, int64(s.maxArchives-1))
	if _, err := pipe.Exec(opCtx); err != nil {
		return "", fmt.Errorf("session: archive %s: %w", c.UserID, err)
	}
	return arch.ID, nil
}

// ListArchives returns a page of the user's archives, newest first.
// Transport errors degrade to an empty list with a warning.
func (s *Store) ListArchives(ctx context.Context, userID string, start, count int) []ArchivedConversation {
	if count <= 0 {
		count = 10
	}
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	items, err := s.client.LRange(opCtx, archiveKeyPrefix+userID, int64(start), int64(start+count-1)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		s.log.Warn("archive list failed", "user_id", userID, "err", err)
		return nil
	}

	out := make([]ArchivedConversation, 0, len(items))
	for _, item := range items {
		var arch ArchivedConversation
		if err := json.Unmarshal([]byte(item), &arch); err != nil {
			s.log.Warn("skipping corrupt archive entry", "user_id", userID, "err", err)
			continue
		}
		out = append(out, arch)
	}
	return out
}

// GetArchive returns the archive with the given id, or nil when not found.
// It scans the bounded list; with at most 50 entries this is cheap.
func (s *Store) GetArchive(ctx context.Context, userID, id string) *ArchivedConversation {
	for _, arch := range s.ListArchives(ctx, userID, 0, s.maxArchives) {
		if arch.ID == id {
			a := arch
			return &a
		}
	}
	return nil
}

// archiveTitle synthesizes a title from the first user turn, truncated.
func archiveTitle(c *Context) string {
	const maxTitle = 60
	for _, t := range c.Turns {
		if t.Role != RoleUser {
			continue
		}
		title := strings.TrimSpace(t.Content)
		if len(title) > maxTitle {
			title = title[:maxTitle-1] + "…"
		}
		if title != "" {
			return title
		}
	}
	return "empty conversation"
}
