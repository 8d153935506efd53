// workerPoolTester puts derivation load on the worker pool and reports how
// coalescing and the memo cache behave.
package main

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/pflag"

	"github.com/i5heu/seedgate/pkg/diceKey"
	"github.com/i5heu/seedgate/pkg/logging"
	"github.com/i5heu/seedgate/pkg/seeded"
	workerpool "github.com/i5heu/seedgate/pkg/workerPool"
)

type result struct {
	requests  int
	distinct  int
	computed  int64
	failed    int64
	elapsed   time.Duration
	perSecond float64

	// baselineDerived counts distinct recipes derived straight on the pool,
	// without coalescing or cache, in baselineElapsed.
	baselineDerived int
	baselineElapsed time.Duration
}

func main() {
	workers := pflag.IntP("workers", "w", 0, "pool size (0 = NumCPU)")
	requests := pflag.IntP("requests", "n", 1000, "derivations to request")
	distinct := pflag.IntP("distinct", "d", 50, "distinct recipes among the requests")
	hashFunction := pflag.String("hash", "SHA256", "recipe hashFunction: SHA256, BLAKE2b, Argon2id or Scrypt")
	cacheEntries := pflag.Int64("cache", 1024, "memo cache entries (0 disables)")
	pflag.Parse()

	log := logging.New(logging.Options{Level: "warn"})
	key, err := diceKey.Random(nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	r, err := load(context.Background(), key.Seed(false), *workers, *requests, *distinct, *hashFunction, *cacheEntries, log)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Printf("baseline: derived=%d elapsed=%s\n", r.baselineDerived, r.baselineElapsed)
	fmt.Printf("requests=%d distinct=%d computed=%d failed=%d elapsed=%s rate=%.0f/s\n",
		r.requests, r.distinct, r.computed, r.failed, r.elapsed, r.perSecond)
}

func load(
	ctx context.Context,
	seed string,
	workers, requests, distinct int,
	hashFunction string,
	cacheEntries int64,
	log interface{ Warn(string, ...any) },
) (result, error) {
	if distinct < 1 {
		distinct = 1
	}
	pool := workerpool.NewWorkerPool(workerpool.Config{WorkerCount: workers, GlobalBuffer: max(requests, distinct)})
	defer pool.Close()

	baselineDerived, baselineElapsed, err := baseline(pool, seed, distinct, hashFunction, log)
	if err != nil {
		return result{}, err
	}

	var computed int64
	derive := func(seed, contextJson string) ([]byte, error) {
		atomic.AddInt64(&computed, 1)
		return seeded.DeriveSecretBytes(seed, contextJson)
	}
	d, err := workerpool.NewDeriver(pool, derive, workerpool.DeriverConfig{CacheEntries: cacheEntries})
	if err != nil {
		return result{}, err
	}
	defer d.Close()

	var failed int64
	var wg sync.WaitGroup
	start := time.Now()
	for i := 0; i < requests; i++ {
		recipeJson := loadRecipe(hashFunction, i%distinct)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := d.Derive(ctx, seed, recipeJson); err != nil {
				atomic.AddInt64(&failed, 1)
				log.Warn("derivation failed", "error", err)
			}
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)

	return result{
		requests:        requests,
		distinct:        distinct,
		computed:        atomic.LoadInt64(&computed),
		failed:          atomic.LoadInt64(&failed),
		elapsed:         elapsed,
		perSecond:       float64(requests) / elapsed.Seconds(),
		baselineDerived: baselineDerived,
		baselineElapsed: baselineElapsed,
	}, nil
}

func loadRecipe(hashFunction string, n int) string {
	return fmt.Sprintf(`{"hashFunction":%q,"n":%d}`, hashFunction, n)
}

// baseline derives every distinct recipe once in a single room and waits
// for all of them.
func baseline(
	pool *workerpool.WorkerPool,
	seed string,
	distinct int,
	hashFunction string,
	log interface{ Warn(string, ...any) },
) (int, time.Duration, error) {
	room := pool.CreateRoom(distinct)
	start := time.Now()
	for i := 0; i < distinct; i++ {
		recipeJson := loadRecipe(hashFunction, i)
		err := room.NewTask(func() interface{} {
			_, err := seeded.DeriveSecretBytes(seed, recipeJson)
			return err
		})
		if err != nil {
			return 0, 0, fmt.Errorf("queue baseline derivation: %w", err)
		}
	}

	derived := 0
	for _, r := range room.Collect() {
		if err, ok := r.(error); ok && err != nil {
			log.Warn("baseline derivation failed", "error", err)
			continue
		}
		derived++
	}
	return derived, time.Since(start), nil
}
