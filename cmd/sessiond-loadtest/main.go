// Command sessiond-loadtest measures session resolve and capped login
// throughput against Redis (or an embedded miniredis).
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	goSession "github.com/MrEthical07/goSession"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// noUsers satisfies the engine's user store; the measured paths never read it.
type noUsers struct{}

func (noUsers) FindByEmail(context.Context, string) (*goSession.Principal, error) { return nil, nil }
func (noUsers) FindByID(context.Context, string) (*goSession.Principal, error)    { return nil, nil }
func (noUsers) ExistsByEmail(context.Context, string) (bool, error)               { return false, nil }
func (noUsers) ExistsByUsername(context.Context, string) (bool, error)            { return false, nil }
func (noUsers) Save(context.Context, *goSession.Principal) error                  { return nil }

func main() {
	var (
		principals  = flag.Int("principals", 10000, "number of principals to seed")
		perUser     = flag.Int("sessions-per-principal", 3, "sessions seeded per principal; also the concurrency cap")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers")
		ops         = flag.Int("ops", 200000, "operations per phase (resolve + login)")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "ss", "session key prefix")
	)
	flag.Parse()

	if *principals <= 0 || *perUser <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "principals, sessions-per-principal, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", mr.Addr())
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	cfg := goSession.DefaultConfig()
	cfg.Session.RedisPrefix = *prefix
	cfg.Session.MaxConcurrent = *perUser
	cfg.Session.MaxInactiveInterval = 24 * time.Hour
	cfg.Cleanup.Enabled = false

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	engine, err := goSession.New().
		WithConfig(cfg).
		WithRedis(client).
		WithUserStore(noUsers{}).
		WithLogger(logger).
		WithLatencyHistograms(true).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	sids := make([]string, 0, *principals**perUser)
	fmt.Printf("seeding %d sessions...\n", cap(sids))
	startSeed := time.Now()
	for p := 0; p < *principals; p++ {
		for s := 0; s < *perUser; s++ {
			sid, err := engine.CreateSession(ctx, principalID(p))
			if err != nil {
				fmt.Fprintf(os.Stderr, "seed failed: %v\n", err)
				os.Exit(1)
			}
			sids = append(sids, sid)
		}
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	resolveStats := runPhase(*ops, *concurrency, func(r *rand.Rand) error {
		_, err := engine.ResolveSession(ctx, sids[r.Intn(len(sids))])
		return err
	})
	// every login lands on a full principal and evicts its oldest session
	loginStats := runPhase(*ops, *concurrency, func(r *rand.Rand) error {
		_, err := engine.CreateSession(ctx, principalID(r.Intn(*principals)))
		return err
	})

	snap := engine.MetricsSnapshot()
	fmt.Println("---- results ----")
	printStats("resolve", resolveStats)
	printStats("login", loginStats)
	fmt.Printf("evicted=%d resolve_failed=%d\n",
		snap.Counters[goSession.MetricSessionEvicted],
		snap.Counters[goSession.MetricSessionResolveFailed])
}

func principalID(i int) string {
	return fmt.Sprintf("principal-%d", i)
}

func runPhase(ops, concurrency int, op func(*rand.Rand) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			local := make([]time.Duration, 0, ops/concurrency+1)
			for atomic.AddInt64(&cursor, 1) <= int64(ops) {
				t0 := time.Now()
				if err := op(r); err != nil {
					atomic.AddInt64(&failures, 1)
				}
				local = append(local, time.Since(t0))
			}
			mu.Lock()
			latencies = append(latencies, local...)
			mu.Unlock()
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(sorted []time.Duration, p int) time.Duration {
	switch {
	case p <= 0:
		return sorted[0]
	case p >= 100:
		return sorted[len(sorted)-1]
	}
	return sorted[(len(sorted)-1)*p/100]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
