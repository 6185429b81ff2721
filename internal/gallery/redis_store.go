package gallery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/biowallet/backend/internal/core"
)

// ErrNotFound is returned when a key has no stored value.
var ErrNotFound = errors.New("gallery: not found")

// RedisClient is the minimal interface the store needs from a Redis
// library. Code in cmd/server creates the concrete go-redis client and
// injects it; the store itself doesn't import a driver.
type RedisClient interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Del(ctx context.Context, keys ...string) error
}

// RedisStore persists the saved-face set and per-address profile blob IDs.
type RedisStore struct {
	client    RedisClient
	keyPrefix string
}

// NewRedisStore creates a Redis-backed gallery store.
func NewRedisStore(client RedisClient, keyPrefix string) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "biowallet:"
	}
	return &RedisStore{client: client, keyPrefix: keyPrefix}
}

func (rs *RedisStore) facesKey() string {
	return rs.keyPrefix + "savedFaces"
}

func (rs *RedisStore) blobKey(address string) string {
	return rs.keyPrefix + "profileBlobId:" + address
}

// SaveFaces writes the whole face set. Faces are stored as one JSON array
// of {label, descriptor} records, never expiring: registered identities
// persist until overwritten.
func (rs *RedisStore) SaveFaces(ctx context.Context, faces []core.SavedFace) error {
	data, err := json.Marshal(faces)
	if err != nil {
		return fmt.Errorf("marshal faces: %w", err)
	}
	if err := rs.client.Set(ctx, rs.facesKey(), data, 0); err != nil {
		return fmt.Errorf("redis SET faces: %w", err)
	}
	slog.Info("[Gallery] Saved face set", "count", len(faces))
	return nil
}

// LoadFaces reads the persisted face set. A missing key is an empty
// gallery, not an error.
func (rs *RedisStore) LoadFaces(ctx context.Context) ([]core.SavedFace, error) {
	data, err := rs.client.Get(ctx, rs.facesKey())
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis GET faces: %w", err)
	}

	var faces []core.SavedFace
	if err := json.Unmarshal(data, &faces); err != nil {
		return nil, fmt.Errorf("unmarshal faces: %w", err)
	}
	return faces, nil
}

// SaveProfileBlobID records the blob store pointer for an address's
// profile backup.
func (rs *RedisStore) SaveProfileBlobID(ctx context.Context, address, blobID string) error {
	if err := rs.client.Set(ctx, rs.blobKey(address), []byte(blobID), 0); err != nil {
		return fmt.Errorf("redis SET profile blob id: %w", err)
	}
	return nil
}

// LoadProfileBlobID returns the stored blob pointer for an address, or
// ErrNotFound.
func (rs *RedisStore) LoadProfileBlobID(ctx context.Context, address string) (string, error) {
	data, err := rs.client.Get(ctx, rs.blobKey(address))
	if err != nil {
		return "", err
	}
	return string(data), nil
}
