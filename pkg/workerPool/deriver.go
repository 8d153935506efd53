package workerpool

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/ristretto"
	"golang.org/x/sync/singleflight"
)

// DeriveFunc is the expensive, seed-dependent computation being offloaded.
type DeriveFunc func(seed, contextJson string) ([]byte, error)

type DeriverConfig struct {
	// CacheEntries bounds the memo cache. Zero disables memoization.
	CacheEntries int64
	Logger       *slog.Logger
}

// Deriver runs derivations on the pool. Identical concurrent requests are
// coalesced into one computation and finished results are memoized, keyed
// by a digest of (seed, context) so the cache never holds a seed.
type Deriver struct {
	pool   *WorkerPool
	derive DeriveFunc
	group  singleflight.Group
	cache  *ristretto.Cache
	log    *slog.Logger
}

func NewDeriver(pool *WorkerPool, derive DeriveFunc, cfg DeriverConfig) (*Deriver, error) {
	d := &Deriver{
		pool:   pool,
		derive: derive,
		log:    cfg.Logger,
	}
	if d.log == nil {
		d.log = slog.Default()
	}

	if cfg.CacheEntries > 0 {
		cache, err := ristretto.NewCache(&ristretto.Config{
			NumCounters: cfg.CacheEntries * 10,
			MaxCost:     cfg.CacheEntries,
			BufferItems: 64,
		})
		if err != nil {
			return nil, fmt.Errorf("create derivation cache: %w", err)
		}
		d.cache = cache
	}

	return d, nil
}

// Derive returns a fresh copy of the derived bytes; callers may zero it.
func (d *Deriver) Derive(ctx context.Context, seed, contextJson string) ([]byte, error) {
	key := cacheKey(seed, contextJson)

	if d.cache != nil {
		if v, ok := d.cache.Get(key); ok {
			return clone(v.([]byte)), nil
		}
	}

	ch := d.group.DoChan(key, func() (interface{}, error) {
		// shared by every waiter, so it must not inherit one caller's ctx
		r, err := d.pool.Submit(context.Background(), func() interface{} {
			out, err := d.derive(seed, contextJson)
			if err != nil {
				return err
			}
			return out
		})
		if err != nil {
			return nil, err
		}
		if err, ok := r.(error); ok {
			return nil, err
		}
		out := r.([]byte)
		if d.cache != nil {
			d.cache.Set(key, clone(out), 1)
		}
		return out, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			d.log.Debug("derivation coalesced")
		}
		return clone(res.Val.([]byte)), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close releases the memo cache.
func (d *Deriver) Close() {
	if d.cache != nil {
		d.cache.Close()
	}
}

func cacheKey(seed, contextJson string) string {
	h := sha256.New()
	h.Write([]byte(seed))
	h.Write([]byte{0})
	h.Write([]byte(contextJson))
	return hex.EncodeToString(h.Sum(nil))
}

func clone(b []byte) []byte {
	return append([]byte(nil), b...)
}
