package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"vcgateway/internal/vcrequest"
	"vcgateway/pkg/platform/sentinel"
)

const (
	// Redis key prefix for request records.
	recordKeyPrefix = "vcreq:state:"
)

// redisRecord is the stored shape. Flow is kept alongside the wire fields
// so transition validation works across process restarts.
type redisRecord struct {
	Flow   vcrequest.Flow `json:"flow"`
	Record vcrequest.Record
}

func (r redisRecord) MarshalJSON() ([]byte, error) {
	type alias vcrequest.Record
	return json.Marshal(struct {
		Flow vcrequest.Flow `json:"flow"`
		alias
	}{Flow: r.Flow, alias: alias(r.Record)})
}

func (r *redisRecord) UnmarshalJSON(data []byte) error {
	type alias vcrequest.Record
	var decoded struct {
		Flow vcrequest.Flow `json:"flow"`
		alias
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	r.Flow = decoded.Flow
	r.Record = vcrequest.Record(decoded.alias)
	return nil
}

// RedisStore is a Redis-backed request record store. This is the
// recommended backend for deployments with more than one replica: the
// browser may poll a different instance than the one the callback hit.
// TTL enforcement is native (SET with expiry), so there is no sweeper.
type RedisStore struct {
	client  *redis.Client
	ceiling time.Duration
}

// NewRedisStore constructs a Redis-backed store. The client lifecycle is
// managed by the caller.
func NewRedisStore(client *redis.Client, ceiling time.Duration) *RedisStore {
	return &RedisStore{client: client, ceiling: ceiling}
}

func (s *RedisStore) Put(ctx context.Context, id string, record vcrequest.Record) error {
	buf, err := json.Marshal(redisRecord{Flow: record.Flow, Record: record})
	if err != nil {
		return fmt.Errorf("marshal request record: %w", err)
	}
	ttl := TTLFor(record, time.Now(), s.ceiling)
	if err := s.client.Set(ctx, recordKeyPrefix+id, buf, ttl).Err(); err != nil {
		return fmt.Errorf("put request record: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (vcrequest.Record, error) {
	buf, err := s.client.Get(ctx, recordKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return vcrequest.Record{}, fmt.Errorf("request record %q: %w", id, sentinel.ErrNotFound)
	}
	if err != nil {
		return vcrequest.Record{}, fmt.Errorf("get request record: %w", err)
	}
	var stored redisRecord
	if err := json.Unmarshal(buf, &stored); err != nil {
		return vcrequest.Record{}, fmt.Errorf("unmarshal request record: %w", err)
	}
	record := stored.Record
	record.CorrelationID = id
	record.Flow = stored.Flow
	return record, nil
}
