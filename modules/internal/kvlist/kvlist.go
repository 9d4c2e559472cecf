// Package kvlist holds the list-expansion logic shared by the operators
// that fan rows out through redis lists.
package kvlist

import (
	"context"
	"strconv"

	"github.com/vk/rankgrid/internal/kvclient"
	"github.com/vk/rankgrid/internal/reactor"
	"github.com/vk/rankgrid/internal/rowset"
)

// Fetcher abstracts the blocking and the reactor flavour of the client.
type Fetcher struct {
	LRange  func(key string, start, stop int64) ([]string, error)
	HGetAll func(key string) (map[string]string, error)
}

// Blocking returns a Fetcher that blocks the calling goroutine.
func Blocking(ctx context.Context, c *kvclient.Client) Fetcher {
	return Fetcher{
		LRange:  func(key string, start, stop int64) ([]string, error) { return c.LRange(ctx, key, start, stop) },
		HGetAll: func(key string) (map[string]string, error) { return c.HGetAll(ctx, key) },
	}
}

// Async returns a Fetcher that suspends the task on every round trip.
func Async(s *reactor.Suspender, c *kvclient.Client) Fetcher {
	return Fetcher{
		LRange:  func(key string, start, stop int64) ([]string, error) { return c.LRangeAsync(s, key, start, stop) },
		HGetAll: func(key string) (map[string]string, error) { return c.HGetAllAsync(s, key) },
	}
}

// Expand reads <prefix>:<id> for every active row of in, up to fanout items
// each, and returns the listed ids in order. Unparseable items are skipped.
func Expand(in *rowset.RowSet, prefix string, fanout int64, f Fetcher) ([]int64, error) {
	b := in.Batch()
	var ids []int64
	for _, row := range in.Active() {
		items, err := f.LRange(prefix+":"+strconv.FormatInt(b.ID(row), 10), 0, fanout-1)
		if err != nil {
			return nil, err
		}
		for _, s := range items {
			id, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				continue
			}
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// WithCountry builds a dense row set of ids with the country field of each
// user:<id> hash. Missing users or fields are null.
func WithCountry(ids []int64, f Fetcher) (*rowset.RowSet, error) {
	country := make([]string, len(ids))
	valid := make([]bool, len(ids))
	for i, id := range ids {
		fields, err := f.HGetAll("user:" + strconv.FormatInt(id, 10))
		if err != nil {
			return nil, err
		}
		country[i], valid[i] = fields["country"]
	}
	return rowset.New(rowset.NewBatch(ids).WithString("country", country, valid)), nil
}
