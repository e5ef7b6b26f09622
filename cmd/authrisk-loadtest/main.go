// Command authrisk-loadtest drives the risk engine's hot paths against a
// Redis backend and reports throughput and latency percentiles.
//
// With no -redis-addr flag (and no REDIS_ADDR env) it spins up an embedded
// miniredis, so it can run standalone as a smoke benchmark.
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

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	authrisk "github.com/authrisk-io/authrisk"
)

func main() {
	var (
		users       = flag.Int("users", 1000, "number of distinct users to spread events across")
		concurrency = flag.Int("concurrency", 64, "number of concurrent workers")
		ops         = flag.Int("ops", 50000, "operations per phase (ingest + query)")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
	)
	flag.Parse()

	if *users <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "users, concurrency, and ops must be > 0")
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
		addr = mr.Addr()
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	cfg := authrisk.ConfigFromEnv()
	cfg.Token.SigningKey = []byte("loadtest-signing-key-not-for-production")
	cfg.Audit.Enabled = false

	engine, err := authrisk.New().
		WithConfig(cfg).
		WithRedis(client).
		WithUserProvider(noopProvider{}).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "engine build failed: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	ingestStats := runIngestPhase(ctx, engine, *users, *ops, *concurrency)
	queryStats := runQueryPhase(ctx, engine, *users, *ops, *concurrency)

	fmt.Println("---- results ----")
	printStats("ingest", ingestStats)
	printStats("query", queryStats)
}

var eventTypes = []authrisk.EventType{
	authrisk.EventLoginSuccess,
	authrisk.EventLoginFailure,
	authrisk.EventLoginFailure,
	authrisk.EventTOTPSuccess,
	authrisk.EventTOTPFailure,
	authrisk.EventPasswordReset,
}

func runIngestPhase(ctx context.Context, engine *authrisk.Engine, users, ops, concurrency int) phaseStats {
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
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				uid := r.Intn(users)
				event := authrisk.AuthEvent{
					UserID:    fmt.Sprintf("u%d", uid),
					Username:  fmt.Sprintf("user%d@example.com", uid),
					Type:      eventTypes[r.Intn(len(eventTypes))],
					IPAddress: fmt.Sprintf("10.0.%d.%d", r.Intn(4), r.Intn(250)),
					Timestamp: time.Now(),
				}
				t0 := time.Now()
				_, err := engine.IngestEvent(ctx, event)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, failures)
}

func runQueryPhase(ctx context.Context, engine *authrisk.Engine, users, ops, concurrency int) phaseStats {
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
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*6151))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				query := authrisk.AssessmentQuery{
					UserID: fmt.Sprintf("u%d", r.Intn(users)),
					Limit:  50,
				}
				t0 := time.Now()
				_, err := engine.QueryAssessments(ctx, query)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, failures)
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

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
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

// noopProvider satisfies the UserProvider contract for phases that never
// touch identity. Load here is event ingestion and assessment queries only.
type noopProvider struct{}

func (noopProvider) GetUserByUsername(context.Context, string) (authrisk.UserRecord, error) {
	return authrisk.UserRecord{}, fmt.Errorf("not implemented")
}

func (noopProvider) VerifyPassword(context.Context, string, string) (bool, error) {
	return false, nil
}

func (noopProvider) GetTOTPCredential(context.Context, string) (*authrisk.TOTPCredential, error) {
	return nil, nil
}

func (noopProvider) SetTOTPCredential(context.Context, string, []byte, time.Time) error {
	return nil
}

func (noopProvider) ClearTOTPCredential(context.Context, string) error {
	return nil
}
