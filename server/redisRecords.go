package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mbocsi/wearlink/proto"
	"github.com/redis/go-redis/v9"
)

const redisRecordPrefix = "wearlink:record:"

// RedisRecordStore keeps records as JSON strings so they survive relay
// restarts and can be shared by several relay processes.
type RedisRecordStore struct {
	rdb redis.Cmdable
}

func NewRedisRecordStore(rdb redis.Cmdable) *RedisRecordStore {
	return &RedisRecordStore{rdb: rdb}
}

func redisRecordKey(path string) string {
	return redisRecordPrefix + path
}

func (s *RedisRecordStore) Put(ctx context.Context, path string, data proto.DataMap) (proto.DataMap, bool, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, false, fmt.Errorf("encode record %s: %w", path, err)
	}

	// SET ... GET swaps the value and returns the old one atomically
	old, err := s.rdb.SetArgs(ctx, redisRecordKey(path), string(raw), redis.SetArgs{Get: true}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis set %s: %w", path, err)
	}

	var prev proto.DataMap
	if err := json.Unmarshal([]byte(old), &prev); err != nil {
		// an unreadable old value never equals the new one
		return nil, true, nil
	}
	return prev, true, nil
}

func (s *RedisRecordStore) Get(ctx context.Context, path string) (proto.DataMap, error) {
	raw, err := s.rdb.Get(ctx, redisRecordKey(path)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", path, err)
	}
	var data proto.DataMap
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, fmt.Errorf("decode record %s: %w", path, err)
	}
	return data, nil
}

func (s *RedisRecordStore) Delete(ctx context.Context, path string) (bool, error) {
	n, err := s.rdb.Del(ctx, redisRecordKey(path)).Result()
	if err != nil {
		return false, fmt.Errorf("redis del %s: %w", path, err)
	}
	return n > 0, nil
}

func (s *RedisRecordStore) List(ctx context.Context) ([]Record, error) {
	var keys []string
	var cursor uint64
	for {
		batch, next, err := s.rdb.Scan(ctx, cursor, redisRecordPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("redis scan: %w", err)
		}
		keys = append(keys, batch...)
		if next == 0 {
			break
		}
		cursor = next
	}

	records := make([]Record, 0, len(keys))
	for _, key := range keys {
		path := strings.TrimPrefix(key, redisRecordPrefix)
		data, err := s.Get(ctx, path)
		if errors.Is(err, ErrRecordNotFound) {
			continue // deleted since the scan
		}
		if err != nil {
			return nil, err
		}
		records = append(records, Record{Path: path, Data: data})
	}
	sortRecords(records)
	return records, nil
}
