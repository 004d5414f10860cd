package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/Kalmaegi/NowLyrics/internal/lyrics"
)

const (
	trackKeyPrefix    = "nowlyrics:track:"
	overrideKeyPrefix = "nowlyrics:override:"
	noLyricsKey       = "nowlyrics:nolyrics"

	redisOpTimeout = 5 * time.Second
)

// RedisStore keeps timelines in a hash per track (field = timeline id,
// value = JSON), overrides as plain keys and no-lyrics marks in a set.
type RedisStore struct {
	rdb *redis.Client
}

// OpenRedisStore connects and pings the server.
func OpenRedisStore(addr, password string, db int) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisStore{rdb: rdb}, nil
}

func opCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), redisOpTimeout)
}

// Get implements Store.
func (s *RedisStore) Get(trackID string) (*lyrics.Timeline, error) {
	all, err := s.GetAll(trackID)
	if err != nil {
		return nil, err
	}
	overrideID, _ := s.Override(trackID)
	return effective(all, overrideID), nil
}

// GetAll implements Store.
func (s *RedisStore) GetAll(trackID string) ([]*lyrics.Timeline, error) {
	ctx, cancel := opCtx()
	defer cancel()

	fields, err := s.rdb.HGetAll(ctx, trackKeyPrefix+trackID).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall: %w", err)
	}
	var all []*lyrics.Timeline
	for _, blob := range fields {
		var tl lyrics.Timeline
		if err := json.Unmarshal([]byte(blob), &tl); err != nil {
			continue
		}
		all = append(all, &tl)
	}
	return all, nil
}

// Put implements Store.
func (s *RedisStore) Put(t *lyrics.Timeline) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal timeline: %w", err)
	}
	ctx, cancel := opCtx()
	defer cancel()
	return s.rdb.HSet(ctx, trackKeyPrefix+t.TrackID, t.ID, data).Err()
}

// Delete implements Store.
func (s *RedisStore) Delete(t *lyrics.Timeline) error {
	ctx, cancel := opCtx()
	defer cancel()
	return s.rdb.HDel(ctx, trackKeyPrefix+t.TrackID, t.ID).Err()
}

// Override implements Store.
func (s *RedisStore) Override(trackID string) (string, bool) {
	ctx, cancel := opCtx()
	defer cancel()
	id, err := s.rdb.Get(ctx, overrideKeyPrefix+trackID).Result()
	if err != nil {
		return "", false
	}
	return id, id != ""
}

// SetOverride implements Store.
func (s *RedisStore) SetOverride(trackID, timelineID string) error {
	ctx, cancel := opCtx()
	defer cancel()
	return s.rdb.Set(ctx, overrideKeyPrefix+trackID, timelineID, 0).Err()
}

// ClearOverride implements Store.
func (s *RedisStore) ClearOverride(trackID string) error {
	ctx, cancel := opCtx()
	defer cancel()
	return s.rdb.Del(ctx, overrideKeyPrefix+trackID).Err()
}

// MarkNoLyrics implements Store.
func (s *RedisStore) MarkNoLyrics(trackID string) error {
	ctx, cancel := opCtx()
	defer cancel()
	return s.rdb.SAdd(ctx, noLyricsKey, trackID).Err()
}

// ClearNoLyrics implements Store.
func (s *RedisStore) ClearNoLyrics(trackID string) error {
	ctx, cancel := opCtx()
	defer cancel()
	return s.rdb.SRem(ctx, noLyricsKey, trackID).Err()
}

// HasNoLyricsMark implements Store.
func (s *RedisStore) HasNoLyricsMark(trackID string) bool {
	ctx, cancel := opCtx()
	defer cancel()
	ok, err := s.rdb.SIsMember(ctx, noLyricsKey, trackID).Result()
	return err == nil && ok
}

// Close implements Store.
func (s *RedisStore) Close() error { return s.rdb.Close() }

var _ Store = (*RedisStore)(nil)
var _ Store = (*FileStore)(nil)
