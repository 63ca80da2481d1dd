// Command mfa-loadtest measures the two Redis-heavy hot paths of goMFA:
// session validation and concurrent wrong-code accounting on pending
// challenges.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	goMFA "github.com/MrEthical07/goMFA"
	"github.com/MrEthical07/goMFA/internal/stores"
	"github.com/MrEthical07/goMFA/userstore"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const loadtestPassword = "loadtest-password-123"

func main() {
	var (
		sessions    = flag.Int("sessions", 2000, "number of sessions to issue through Login")
		challenges  = flag.Int("challenges", 64, "number of pending challenges sharing the contention phase")
		concurrency = flag.Int("concurrency", 128, "number of concurrent workers")
		ops         = flag.Int("ops", 100000, "operations per phase")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
	)
	flag.Parse()

	if *sessions <= 0 || *challenges <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "sessions, challenges, concurrency, and ops must be > 0")
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
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	engine, err := buildEngine(ctx, client)
	if err != nil {
		fmt.Fprintf(os.Stderr, "engine setup failed: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	fmt.Printf("issuing %d sessions...\n", *sessions)
	startSeed := time.Now()
	tokens := make([]string, *sessions)
	for i := range tokens {
		res, err := engine.Login(ctx, goMFA.LoginRequest{Identifier: "load", Password: loadtestPassword})
		if err != nil {
			fmt.Fprintf(os.Stderr, "login failed: %v\n", err)
			os.Exit(1)
		}
		tokens[i] = res.Session.Token
	}
	fmt.Printf("issued in %s\n", time.Since(startSeed).Round(time.Millisecond))

	validateStats := runPhase(*ops, *concurrency, func(r *rand.Rand, _ int) error {
		_, err := engine.ValidateSession(ctx, tokens[r.Intn(len(tokens))])
		return err
	})

	challengeStats, err := runChallengePhase(ctx, client, *challenges, *ops, *concurrency)
	if err != nil {
		fmt.Fprintf(os.Stderr, "challenge seed failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("---- results ----")
	printStats("validate", validateStats)
	printStats("challenge-failure", challengeStats)
	snap := engine.MetricsSnapshot()
	fmt.Printf("engine: sessions_created=%d login_success=%d\n",
		snap.Counters[goMFA.MetricSessionCreated], snap.Counters[goMFA.MetricLoginSuccess])
}

// buildEngine wires an engine with cheap password hashing and one user in an
// in-memory SQLite database.
func buildEngine(ctx context.Context, client redis.UniversalClient) (*goMFA.Engine, error) {
	db, err := userstore.OpenSQLite("file:loadtest?mode=memory&cache=shared")
	if err != nil {
		return nil, err
	}
	users := userstore.New(db)
	if err := users.AutoMigrate(ctx); err != nil {
		return nil, err
	}

	cfg := goMFA.DefaultConfig()
	cfg.Session.SigningMethod = "hs256"
	cfg.Session.SigningKey = "loadtest-signing-key-0123456789abcdef"
	cfg.Protection.MasterKey = "loadtest-master-key-0123456789abcdef"
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Lockout.Enabled = false
	cfg.Metrics.Enabled = true

	engine, err := goMFA.New().WithConfig(cfg).WithRedis(client).WithUserRepository(users).Build()
	if err != nil {
		return nil, err
	}
	hash, err := engine.HashPassword(loadtestPassword)
	if err != nil {
		engine.Close()
		return nil, err
	}
	if _, err := users.Create(ctx, goMFA.UserRecord{ID: "load-user", Username: "load", PasswordHash: hash}); err != nil {
		engine.Close()
		return nil, err
	}
	return engine, nil
}

// runChallengePhase hammers a small set of challenges with wrong-code
// accounting, which exercises the optimistic WATCH retry loop. Exhausted
// challenges are re-seeded so the phase keeps its contention level.
func runChallengePhase(ctx context.Context, client redis.UniversalClient, n, ops, concurrency int) (phaseStats, error) {
	store := stores.NewChallengeStore(client, "lt-mch")
	const maxAttempts = 50
	ids := make([]string, n)
	seed := func(id string) error {
		return store.Save(ctx, id, &stores.Challenge{
			UserID:    "load-user",
			Methods:   1,
			ExpiresAt: time.Now().Add(time.Hour).Unix(),
		}, time.Hour)
	}
	for i := range ids {
		ids[i] = fmt.Sprintf("ch-%d", i)
		if err := seed(ids[i]); err != nil {
			return phaseStats{}, err
		}
	}

	return runPhase(ops, concurrency, func(r *rand.Rand, _ int) error {
		id := ids[r.Intn(len(ids))]
		exceeded, err := store.RecordFailure(ctx, id, maxAttempts)
		if errors.Is(err, stores.ErrChallengeNotFound) || exceeded {
			return seed(id)
		}
		return err
	}), nil
}

func runPhase(ops, concurrency int, op func(r *rand.Rand, i int) error) phaseStats {
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
				t0 := time.Now()
				err := op(r, i)
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
	return samples[(len(samples)-1)*p/100]
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
