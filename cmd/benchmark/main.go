package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/punchamoorthee/usdtdesk/internal/domain"
	"github.com/punchamoorthee/usdtdesk/internal/service"
	"github.com/punchamoorthee/usdtdesk/internal/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Config holds the benchmark settings
var (
	dbSource    string
	concurrency int
	newUsers    int
	replays     int
	workload    string
)

// Metrics
var (
	totalOps      uint64
	registrations uint64 // first registrations observed
	credits       uint64 // referral bonuses credited
	escrowOK      uint64
	escrowRefused uint64
	failOther     uint64
)

const (
	referrerID  = int64(1)
	walletFunds = 100
	address     = "TXYZbenchmarkaddress000000000000000"
)

func init() {
	flag.StringVar(&dbSource, "db", os.Getenv("DB_SOURCE"), "Postgres URL; empty runs against the in-memory ledger")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.IntVar(&newUsers, "users", 200, "Distinct referred users")
	flag.IntVar(&replays, "replays", 5, "Times each /start payload is replayed")
	flag.StringVar(&workload, "workload", "referral", "Workload type: referral | escrow")
}

func main() {
	flag.Parse()
	log.Printf("Starting Benchmark: %s | Workers: %d | Users: %d | Replays: %d", workload, concurrency, newUsers, replays)

	ctx := context.Background()
	repo, closeRepo := openRepo(ctx)
	defer closeRepo()
	ledger := service.NewLedger(repo, service.DefaultPolicy(), zap.NewNop())

	if _, _, err := ledger.Register(ctx, referrerID, "Referrer", ""); err != nil {
		log.Fatalf("seed referrer: %v", err)
	}

	jobs := make(chan int64)
	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go worker(ctx, ledger, jobs, &wg)
	}

	// Fresh ids per run so a Postgres target never sees already registered users.
	base := 1_000_000 + time.Now().Unix()%100_000*100_000
	var ids []int64
	for i := 0; i < newUsers; i++ {
		id := base + int64(i)
		ids = append(ids, id)
		if workload == "escrow" {
			if _, err := ledger.Touch(ctx, id, "Bench"); err != nil {
				log.Fatalf("seed user: %v", err)
			}
			if _, err := ledger.Credit(ctx, id, domain.USDT, decimal.NewFromInt(walletFunds)); err != nil {
				log.Fatalf("seed wallet: %v", err)
			}
		}
	}

	// Every id is sent replays times, shuffled so duplicates race each other.
	var queue []int64
	for r := 0; r < replays; r++ {
		queue = append(queue, ids...)
	}
	rand.Shuffle(len(queue), func(i, j int) { queue[i], queue[j] = queue[j], queue[i] })
	for _, id := range queue {
		jobs <- id
	}
	close(jobs)
	wg.Wait()

	printResults(ctx, ledger, ids, time.Since(start))
}

func worker(ctx context.Context, ledger *service.Ledger, jobs <-chan int64, wg *sync.WaitGroup) {
	defer wg.Done()
	payload := fmt.Sprintf("%s%d", service.ReferralPrefix, referrerID)
	// Each escrow attempt asks for 40% of the wallet, so at most two can succeed.
	slice := decimal.NewFromInt(walletFunds * 4 / 10)

	for id := range jobs {
		atomic.AddUint64(&totalOps, 1)
		switch workload {
		case "escrow":
			_, err := ledger.RequestWalletPayout(ctx, id, domain.USDT, slice, address)
			switch {
			case err == nil:
				atomic.AddUint64(&escrowOK, 1)
			case errors.Is(err, domain.ErrInsufficientFunds):
				atomic.AddUint64(&escrowRefused, 1)
			default:
				atomic.AddUint64(&failOther, 1)
			}
		default:
			res, _, err := ledger.Register(ctx, id, "Bench", payload)
			if err != nil {
				atomic.AddUint64(&failOther, 1)
				continue
			}
			if res.NewlyRegistered {
				atomic.AddUint64(&registrations, 1)
			}
			if res.Credited {
				atomic.AddUint64(&credits, 1)
			}
		}
	}
}

func printResults(ctx context.Context, ledger *service.Ledger, ids []int64, d time.Duration) {
	total := atomic.LoadUint64(&totalOps)
	results := map[string]interface{}{
		"workload":       workload,
		"duration_sec":   d.Seconds(),
		"total_ops":      total,
		"throughput_ops": float64(total) / d.Seconds(),
		"errors":         atomic.LoadUint64(&failOther),
	}

	switch workload {
	case "escrow":
		ok := atomic.LoadUint64(&escrowOK)
		overdrawn := 0
		for _, id := range ids {
			u, err := ledger.User(ctx, id)
			if err == nil && u.Balance(domain.USDT).IsNegative() {
				overdrawn++
			}
		}
		results["escrow_filed"] = ok
		results["escrow_refused"] = atomic.LoadUint64(&escrowRefused)
		results["escrow_expected_max"] = len(ids) * 2
		results["overdrawn_wallets"] = overdrawn
	default:
		c := atomic.LoadUint64(&credits)
		u, err := ledger.User(ctx, referrerID)
		earnings := "unknown"
		if err == nil {
			earnings = u.ReferralEarnings.StringFixed(2)
		}
		results["registrations"] = atomic.LoadUint64(&registrations)
		results["credits"] = c
		results["double_credits"] = int64(c) - int64(len(ids))
		results["referrer_earnings"] = earnings
	}

	// Results go to stdout and to results_<workload>.json.
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	filename := fmt.Sprintf("results_%s.json", workload)
	file, err := os.Create(filename)
	if err != nil {
		log.Printf("could not write %s: %v", filename, err)
		return
	}
	defer file.Close()
	json.NewEncoder(file).Encode(results)
}

func openRepo(ctx context.Context) (store.Repository, func()) {
	if dbSource == "" {
		return store.NewMemoryStore(), func() {}
	}
	pg, err := store.NewPostgresStore(ctx, dbSource, zap.NewNop())
	if err != nil {
		log.Fatalf("Unable to connect to database: %v", err)
	}
	if err := pg.Migrate(ctx); err != nil {
		log.Fatal(err)
	}
	return pg, pg.Close
}
