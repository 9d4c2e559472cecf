package kvclient

import (
	"context"
	"strconv"

	"github.com/vk/rankgrid/internal/reactor"
)

// HGet returns one hash field. found is false when the key or field is
// missing.
func (c *Client) HGet(ctx context.Context, key, field string) (value string, found bool, err error) {
	r, err := c.Do(ctx, "HGET", key, field)
	return hgetResult(r, err)
}

// LRange returns list elements between start and stop inclusive.
func (c *Client) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	r, err := c.Do(ctx, "LRANGE", key, strconv.FormatInt(start, 10), strconv.FormatInt(stop, 10))
	if err != nil {
		return nil, err
	}
	return r.Strings()
}

// HGetAll returns every field of a hash. A missing key yields an empty map.
func (c *Client) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	r, err := c.Do(ctx, "HGETALL", key)
	if err != nil {
		return nil, err
	}
	return r.StringMap()
}

// HGetAsync is HGet for reactor tasks.
func (c *Client) HGetAsync(s *reactor.Suspender, key, field string) (string, bool, error) {
	r, err := c.DoAsync(s, "HGET", key, field)
	return hgetResult(r, err)
}

// LRangeAsync is LRange for reactor tasks.
func (c *Client) LRangeAsync(s *reactor.Suspender, key string, start, stop int64) ([]string, error) {
	r, err := c.DoAsync(s, "LRANGE", key, strconv.FormatInt(start, 10), strconv.FormatInt(stop, 10))
	if err != nil {
		return nil, err
	}
	return r.Strings()
}

// HGetAllAsync is HGetAll for reactor tasks.
func (c *Client) HGetAllAsync(s *reactor.Suspender, key string) (map[string]string, error) {
	r, err := c.DoAsync(s, "HGETALL", key)
	if err != nil {
		return nil, err
	}
	return r.StringMap()
}

func hgetResult(r Reply, err error) (string, bool, error) {
	if err != nil {
		return "", false, err
	}
	if r.Kind == ReplyNil {
		return "", false, nil
	}
	return r.Str, true, nil
}
