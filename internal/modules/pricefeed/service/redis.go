package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"trade_core/internal/models"
)

// RedisFeed reads last-traded prices from one sorted set per symbol, scored
// by unix millis with members "<unix_ms>|<price>".
type RedisFeed struct {
	client *redis.Client
	prefix string
}

func NewRedisFeed(client *redis.Client, prefix string) *RedisFeed {
	return &RedisFeed{client: client, prefix: prefix}
}

func (f *RedisFeed) key(symbol string) string { return f.prefix + symbol }

func (f *RedisFeed) PriceAtOrAfter(ctx context.Context, symbol string, at time.Time) (models.Quote, bool, error) {
	members, err := f.client.ZRevRangeByScore(ctx, f.key(symbol), &redis.ZRangeBy{
		Min:   strconv.FormatInt(at.UnixMilli(), 10),
		Max:   "+inf",
		Count: 1,
	}).Result()
	return f.first(symbol, members, err)
}

func (f *RedisFeed) Latest(ctx context.Context, symbol string) (models.Quote, bool, error) {
	members, err := f.client.ZRevRange(ctx, f.key(symbol), 0, 0).Result()
	return f.first(symbol, members, err)
}

// Publish records a quote; used by feeders and tests.
func (f *RedisFeed) Publish(ctx context.Context, q models.Quote) error {
	ms := q.At.UnixMilli()
	return f.client.ZAdd(ctx, f.key(q.Symbol), redis.Z{
		Score:  float64(ms),
		Member: FormatMember(q),
	}).Err()
}

func (f *RedisFeed) first(symbol string, members []string, err error) (models.Quote, bool, error) {
	if errors.Is(err, redis.Nil) {
		return models.Quote{}, false, nil
	}
	if err != nil {
		return models.Quote{}, false, fmt.Errorf("redis price of %s: %w", symbol, err)
	}
	if len(members) == 0 {
		return models.Quote{}, false, nil
	}
	q, err := ParseMember(symbol, members[0])
	if err != nil {
		return models.Quote{}, false, err
	}
	return q, true, nil
}

func FormatMember(q models.Quote) string {
	return strconv.FormatInt(q.At.UnixMilli(), 10) + "|" + strconv.FormatFloat(q.Price, 'f', -1, 64)
}

func ParseMember(symbol, member string) (models.Quote, error) {
	msRaw, pxRaw, ok := strings.Cut(member, "|")
	if !ok {
		return models.Quote{}, fmt.Errorf("malformed price member %q", member)
	}
	ms, err := strconv.ParseInt(msRaw, 10, 64)
	if err != nil {
		return models.Quote{}, fmt.Errorf("price member %q: %w", member, err)
	}
	px, err := strconv.ParseFloat(pxRaw, 64)
	if err != nil {
		return models.Quote{}, fmt.Errorf("price member %q: %w", member, err)
	}
	if px <= 0 {
		return models.Quote{}, fmt.Errorf("price member %q: non-positive price", member)
	}
	return models.Quote{Symbol: symbol, Price: px, At: time.UnixMilli(ms).UTC()}, nil
}
