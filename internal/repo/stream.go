package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/edirooss/groundstation/internal/domain/stream"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	ErrStreamNotFound = errors.New("stream not found")

	streamKeyPrefix = "groundstation:stream:"
	streamIDsKey    = "groundstation:streams" // ZSET of ids scored by first save time
)

func streamKey(id string) string { return streamKeyPrefix + id }

func streamKeys(ids []string) []string {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = streamKey(id)
	}
	return keys
}

// StreamRepository provides Redis-backed persistence for stream configurations
// created or edited at runtime.
type StreamRepository struct {
	client *RedisClient
	log    *zap.Logger
	now    func() time.Time
}

func newStreamRepository(log *zap.Logger, client *RedisClient) *StreamRepository {
	return &StreamRepository{
		log:    log.Named("streams"),
		client: client,
		now:    time.Now,
	}
}

// SaveStream upserts cfg. The index keeps the time of the first save, so List
// returns streams in creation order.
func (r *StreamRepository) SaveStream(ctx context.Context, cfg stream.Config) error {
	payload, err := encodeStream(cfg)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, streamKey(cfg.ID), payload, 0)
	pipe.ZAddNX(ctx, streamIDsKey, redis.Z{Score: float64(r.now().UnixNano()), Member: cfg.ID})

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("exec: %w", err)
	}
	return nil
}

// DeleteStream removes id. Returns ErrStreamNotFound if neither the record
// nor its index entry existed.
func (r *StreamRepository) DeleteStream(ctx context.Context, id string) error {
	key := streamKey(id)

	pipe := r.client.TxPipeline()
	delRes := pipe.Del(ctx, key)
	remRes := pipe.ZRem(ctx, streamIDsKey, id)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("exec: %w", err)
	}

	delCount, remCount := delRes.Val(), remRes.Val()
	if delCount == 0 && remCount == 0 {
		return ErrStreamNotFound
	}
	if delCount != remCount {
		r.log.Warn("stream delete mismatch",
			zap.String("key", key),
			zap.Int64("del_count", delCount),
			zap.Int64("zrem_count", remCount))
	}
	return nil
}

// Get fetches one stream.
func (r *StreamRepository) Get(ctx context.Context, id string) (stream.Config, error) {
	raw, err := r.client.Get(ctx, streamKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return stream.Config{}, ErrStreamNotFound
		}
		return stream.Config{}, fmt.Errorf("get: %w", err)
	}
	cfg, err := decodeStream(raw)
	if err != nil {
		return stream.Config{}, fmt.Errorf("decode: %w", err)
	}
	return cfg, nil
}

// List returns every persisted stream in creation order.
//
// The index read and the payload read are separate calls; a stream deleted in
// between is skipped with a warning.
func (r *StreamRepository) List(ctx context.Context) ([]stream.Config, error) {
	ids, err := r.client.ZRange(ctx, streamIDsKey, 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("zrange: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := streamKeys(ids)
	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("mget: %w", err)
	}
	return r.parseMGetResult(keys, vals)
}

func encodeStream(cfg stream.Config) ([]byte, error) {
	return json.Marshal(cfg)
}

func decodeStream(raw []byte) (stream.Config, error) {
	var cfg stream.Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return stream.Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return stream.Config{}, err
	}
	return cfg, nil
}

// parseMGetResult decodes MGET values. Missing keys are skipped; malformed
// payloads fail the call.
func (r *StreamRepository) parseMGetResult(keys []string, vals []interface{}) ([]stream.Config, error) {
	out := make([]stream.Config, 0, len(vals))
	for i, v := range vals {
		if v == nil {
			r.log.Warn("stream missing during MGET", zap.String("key", keys[i]))
			continue
		}
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("key %s: unexpected type (got %T, want string)", keys[i], v)
		}
		cfg, err := decodeStream([]byte(s))
		if err != nil {
			return nil, fmt.Errorf("key %s: decode stream: %w", keys[i], err)
		}
		out = append(out, cfg)
	}
	return out, nil
}
