// Package redisboard provides a Redis implementation of facility.Catalog so
// several instances can share one facility list.
package redisboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/erpath/internal/facility"
)

var tracer = otel.Tracer("github.com/linnemanlabs/erpath/internal/facility/redisboard")

// DefaultKey is the hash holding the shared catalog.
const DefaultKey = "erpath:facilities"

// replaceScript writes the list only when ARGV[1] is newer than the stored
// generation. Generations are unix milliseconds, well inside Lua's exact
// integer range.
var replaceScript = redis.NewScript(`
local cur = tonumber(redis.call('HGET', KEYS[1], 'gen') or '0')
if tonumber(ARGV[1]) <= cur then
	return 0
end
redis.call('HSET', KEYS[1], 'gen', ARGV[1], 'data', ARGV[2], 'updated', ARGV[3])
return 1
`)

// Board is a Redis-backed facility.Catalog.
type Board struct {
	client redis.UniversalClient
	key    string
	clock  func() time.Time
}

// New returns a board stored under key. An empty key uses DefaultKey.
func New(client redis.UniversalClient, key string) *Board {
	if client == nil {
		panic("redisboard: redis client cannot be nil")
	}
	if key == "" {
		key = DefaultKey
	}
	return &Board{client: client, key: key, clock: time.Now}
}

// Replace atomically stores list if gen is newer than the stored generation.
func (b *Board) Replace(ctx context.Context, gen uint64, list []facility.Facility) (bool, error) {
	ctx, span := tracer.Start(ctx, "redisboard.Replace", trace.WithAttributes(
		attribute.String("db.system", "redis"),
		attribute.String("db.operation.name", "EVALSHA"),
		attribute.Int64("erpath.facility.generation", int64(gen)),
		attribute.Int("erpath.facility.count", len(list)),
	))
	defer span.End()

	if list == nil {
		list = []facility.Facility{}
	}
	data, err := json.Marshal(list)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, fmt.Errorf("marshal facilities: %w", err)
	}

	updated := strconv.FormatInt(b.clock().UnixMilli(), 10)
	n, err := replaceScript.Run(ctx, b.client, []string{b.key}, strconv.FormatUint(gen, 10), data, updated).Int()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, fmt.Errorf("replace facilities: %w", err)
	}

	span.SetAttributes(attribute.Bool("erpath.facility.replaced", n == 1))
	return n == 1, nil
}

// Snapshot reads the stored list. An empty key yields an empty snapshot.
func (b *Board) Snapshot(ctx context.Context) (facility.Snapshot, error) {
	ctx, span := tracer.Start(ctx, "redisboard.Snapshot", trace.WithAttributes(
		attribute.String("db.system", "redis"),
		attribute.String("db.operation.name", "HMGET"),
	))
	defer span.End()

	vals, err := b.client.HMGet(ctx, b.key, "gen", "data", "updated").Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return facility.Snapshot{}, fmt.Errorf("read facilities: %w", err)
	}

	snap, err := decodeSnapshot(vals)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return facility.Snapshot{}, err
	}
	span.SetAttributes(attribute.Int("erpath.facility.count", len(snap.Facilities)))
	return snap, nil
}

func decodeSnapshot(vals []any) (facility.Snapshot, error) {
	snap := facility.Snapshot{Facilities: []facility.Facility{}}
	if len(vals) != 3 || vals[0] == nil {
		return snap, nil
	}

	genStr, _ := vals[0].(string)
	gen, err := strconv.ParseUint(genStr, 10, 64)
	if err != nil {
		return facility.Snapshot{}, fmt.Errorf("parse generation %q: %w", genStr, err)
	}
	snap.Generation = gen

	if data, ok := vals[1].(string); ok {
		if err := json.Unmarshal([]byte(data), &snap.Facilities); err != nil {
			return facility.Snapshot{}, fmt.Errorf("unmarshal facilities: %w", err)
		}
	}
	if s, ok := vals[2].(string); ok {
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			snap.UpdatedAt = time.UnixMilli(ms)
		}
	}
	return snap, nil
}
