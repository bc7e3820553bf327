// Package signaling implements the call signal channel and busy limiter on Redis.
//
// Each call record lives in a hash (status + JSON document). Writes go through a Lua
// script that compares the stored status, stores the new document and publishes it
// to both participants' user channels in one atomic step.
package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"smart-care/internal/calls"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultRecordTTL = 24 * time.Hour
	DefaultPrefix    = "smartcare"
)

var writeScript = redis.NewScript(`
-- KEYS[1] = record key
-- ARGV[1] = expected status ("" = must not exist)
-- ARGV[2] = new status
-- ARGV[3] = record json
-- ARGV[4] = ttl_ms
-- ARGV[5] = caller channel
-- ARGV[6] = receiver channel
local cur = redis.call('HGET', KEYS[1], 'status')
if ARGV[1] == '' then
  if cur then
    return 0
  end
elseif cur ~= ARGV[1] then
  return 0
end
redis.call('HSET', KEYS[1], 'status', ARGV[2], 'data', ARGV[3])
redis.call('PEXPIRE', KEYS[1], ARGV[4])
redis.call('PUBLISH', ARGV[5], ARGV[3])
if ARGV[6] ~= ARGV[5] then
  redis.call('PUBLISH', ARGV[6], ARGV[3])
end
return 1
`)

type RedisChannelConfig struct {
	Prefix    string
	RecordTTL time.Duration
	// Buffer is the per-subscription event buffer.
	Buffer int
}

// RedisChannel is a calls.Channel backed by Redis hashes and pub/sub.
type RedisChannel struct {
	rdb *redis.Client
	cfg RedisChannelConfig
	log *slog.Logger
}

func NewRedisChannel(rdb *redis.Client, cfg RedisChannelConfig, log *slog.Logger) *RedisChannel {
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if cfg.RecordTTL <= 0 {
		cfg.RecordTTL = DefaultRecordTTL
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 32
	}
	if log == nil {
		log = slog.Default()
	}
	return &RedisChannel{rdb: rdb, cfg: cfg, log: log}
}

func (c *RedisChannel) recordKey(id string) string {
	return c.cfg.Prefix + ":call:" + id
}

func (c *RedisChannel) userChannel(userID string) string {
	return c.cfg.Prefix + ":calls:user:" + userID
}

func (c *RedisChannel) Write(ctx context.Context, rec calls.CallRecord, expect calls.Status) error {
	if rec.ID == "" {
		return errors.New("signaling: record id is required")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("signaling: encode record: %w", err)
	}
	res, err := writeScript.Run(ctx, c.rdb,
		[]string{c.recordKey(rec.ID)},
		string(expect), string(rec.Status), string(data), c.cfg.RecordTTL.Milliseconds(),
		c.userChannel(rec.CallerID), c.userChannel(rec.ReceiverID),
	).Int()
	if err != nil {
		return fmt.Errorf("signaling: write %s: %w", rec.ID, err)
	}
	if res != 1 {
		return calls.ErrConflict
	}
	return nil
}

func (c *RedisChannel) Read(ctx context.Context, id string) (calls.CallRecord, error) {
	data, err := c.rdb.HGet(ctx, c.recordKey(id), "data").Bytes()
	if errors.Is(err, redis.Nil) {
		return calls.CallRecord{}, calls.ErrNotFound
	}
	if err != nil {
		return calls.CallRecord{}, fmt.Errorf("signaling: read %s: %w", id, err)
	}
	return decodeRecord(data)
}

// Subscribe opens a pub/sub subscription on the user's channel. It returns once
// Redis has confirmed the subscription, so no write made afterwards is missed.
func (c *RedisChannel) Subscribe(ctx context.Context, userID string) (calls.Subscription, error) {
	if userID == "" {
		return nil, calls.ErrInvalidParticipant
	}
	ps := c.rdb.Subscribe(ctx, c.userChannel(userID))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("signaling: subscribe %s: %w", userID, err)
	}

	sub := &redisSub{
		ps:   ps,
		out:  make(chan calls.CallRecord, c.cfg.Buffer),
		done: make(chan struct{}),
	}
	go sub.pump(ctx, c.log.With("user_id", userID))
	return sub, nil
}

func decodeRecord(data []byte) (calls.CallRecord, error) {
	var rec calls.CallRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return calls.CallRecord{}, fmt.Errorf("signaling: decode record: %w", err)
	}
	if rec.ID == "" || !rec.Status.Valid() {
		return calls.CallRecord{}, fmt.Errorf("signaling: malformed record %q", rec.ID)
	}
	return rec, nil
}

type redisSub struct {
	ps   *redis.PubSub
	out  chan calls.CallRecord
	done chan struct{}
	once sync.Once
}

func (s *redisSub) Events() <-chan calls.CallRecord { return s.out }

func (s *redisSub) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.ps.Close()
	})
	return err
}

func (s *redisSub) pump(ctx context.Context, log *slog.Logger) {
	defer close(s.out)
	msgs := s.ps.Channel()
	for {
		select {
		case <-ctx.Done():
			_ = s.Close()
			return
		case <-s.done:
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			rec, err := decodeRecord([]byte(msg.Payload))
			if err != nil {
				log.Warn("dropping call event", "err", err)
				continue
			}
			select {
			case s.out <- rec:
			case <-s.done:
				return
			case <-ctx.Done():
				_ = s.Close()
				return
			}
		}
	}
}
