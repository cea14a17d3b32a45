package coordinator

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/stashpoint/settled/app/models"
	"github.com/stashpoint/settled/app/repository"
	"github.com/stashpoint/settled/internal/pkg/apperr"
	"github.com/stashpoint/settled/internal/pkg/cache"
	"github.com/stashpoint/settled/internal/pkg/env"
	metrics "github.com/stashpoint/settled/internal/pkg/metrics/counter"
	"github.com/stashpoint/settled/internal/pkg/provider"
	"github.com/stashpoint/settled/internal/pkg/settlement"
)

const (
	passLockName = "settlement-retry-pass"

	// Records stuck in PROCESSING longer than this are assumed to belong to
	// a crashed attempt and are failed back into the retryable set.
	stuckProcessingMaxAge = 10 * time.Minute
)

// Coordinator periodically resubmits failed settlements to the payout
// provider. It runs concurrently with webhook ingestion; the per-record
// version guard in the settlement service is what prevents double
// submission, not the selection query.
type Coordinator struct {
	settlements *settlement.Service
	lookup      repository.SettlementRepository
	sellers     repository.SellerRepository
	client      provider.Client

	interval    time.Duration
	backoffBase time.Duration
	batchSize   int
	concurrency int
	callTimeout time.Duration

	ticker  *time.Ticker
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool

	now func() time.Time
}

// New wires a coordinator from a DB handle and a provider client.
func New(db *gorm.DB, client provider.Client) *Coordinator {
	return &Coordinator{
		settlements: settlement.NewServiceFromDB(db),
		lookup:      repository.NewSettlementRepository(db),
		sellers:     repository.NewSellerRepository(db),
		client:      client,
		interval:    envDuration("RETRY_INTERVAL_SECONDS", 30),
		backoffBase: envDuration("RETRY_BACKOFF_BASE_SECONDS", 1),
		batchSize:   envInt("RETRY_BATCH_SIZE", 50),
		concurrency: envInt("RETRY_CONCURRENCY", 4),
		callTimeout: envDuration("PROVIDER_TIMEOUT_SECONDS", 10),
		stopCh:      make(chan struct{}),
		now:         time.Now,
	}
}

// Start launches the background pass loop.
func (c *Coordinator) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return
	}
	c.stopCh = make(chan struct{})
	c.running = true

	log.Infof("[RetryCoordinator] Starting (interval=%s, batch=%d)", c.interval, c.batchSize)
	c.ticker = time.NewTicker(c.interval)
	c.wg.Add(1)
	go c.loop()
}

// Stop halts the pass loop and waits for an in-flight pass to finish.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return
	}
	log.Info("[RetryCoordinator] Stopping...")
	close(c.stopCh)
	c.ticker.Stop()
	c.running = false
	c.wg.Wait()
	log.Info("[RetryCoordinator] Stopped")
}

func (c *Coordinator) loop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.stopCh:
			return
		case <-c.ticker.C:
			if err := c.RunPass(context.Background()); err != nil {
				log.Errorf("[RetryCoordinator] pass failed: %v", err)
			}
		}
	}
}

// RunPass executes one retry sweep. A redis lock keeps multiple instances
// from sweeping simultaneously; losing the lock is not an error.
func (c *Coordinator) RunPass(ctx context.Context) error {
	ok, err := cache.AcquireLock(passLockName, c.interval)
	if err != nil {
		log.Warnf("[RetryCoordinator] lock unavailable, running unlocked: %v", err)
	} else if !ok {
		return nil
	} else {
		defer func() {
			if err := cache.ReleaseLock(passLockName); err != nil {
				log.Warnf("[RetryCoordinator] lock release failed: %v", err)
			}
		}()
	}

	c.sweepStuckProcessing(ctx)

	recs, err := c.settlements.ListRetryEligible(ctx, c.batchSize)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i := range recs {
		rec := recs[i]
		g.Go(func() error {
			c.processRecord(gctx, &rec)
			return nil
		})
	}
	return g.Wait()
}

// processRecord handles one eligible settlement end to end. Failures are
// recorded on the settlement itself; nothing here aborts the pass.
func (c *Coordinator) processRecord(ctx context.Context, rec *models.SettlementRecord) {
	// Backoff gate: never re-attempt before the window since the last
	// failure has elapsed.
	if rec.LastFailedAt != nil {
		wait := Backoff(c.backoffBase, rec.RetryCount)
		if c.now().Before(rec.LastFailedAt.Add(wait)) {
			_ = metrics.AddRetryOutcome("skipped")
			return
		}
	}

	sel, err := c.sellers.GetByStoreID(rec.StoreID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warnf("[RetryCoordinator] order %s has no seller onboarding, skipping", rec.OrderID)
		} else {
			log.Errorf("[RetryCoordinator] seller lookup failed for order %s: %v", rec.OrderID, err)
		}
		_ = metrics.AddRetryOutcome("skipped")
		return
	}
	// An ineligible seller is not an attempt: the record keeps its retry
	// budget and is picked up again once onboarding completes.
	if !sel.CanProcessPayout() {
		_ = metrics.AddRetryOutcome("skipped")
		return
	}

	if err := c.settlements.ClaimForRetry(ctx, rec, sel.ProviderSellerID); err != nil {
		// A concurrent webhook or another pass owns the record now.
		_ = metrics.AddRetryOutcome("skipped")
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	payoutID, err := c.client.RequestPayout(callCtx, provider.PayoutRequest{
		SellerID: sel.ProviderSellerID,
		Amount:   rec.SettlementAmount,
		// Derived from the settlement identity, never the attempt count, so a
		// provider-side collision resolves to the same payout.
		IdempotencyKey: "settle-" + rec.UUID,
	})
	if err != nil {
		e := apperr.From(err)
		manual := e.Kind == apperr.KindInsufficientBalance
		c.fail(ctx, rec, e.Message, manual)
		if manual {
			log.Warnf("[RetryCoordinator] order %s flagged for manual review: %s", rec.OrderID, e.Message)
		}
		return
	}

	if err := c.settlements.Complete(ctx, rec, payoutID); err != nil {
		log.Errorf("[RetryCoordinator] complete failed for order %s: %v", rec.OrderID, err)
		return
	}
	_ = metrics.AddRetryOutcome("completed")
	log.Infof("[RetryCoordinator] order %s settled, payout %s", rec.OrderID, payoutID)
}

func (c *Coordinator) fail(ctx context.Context, rec *models.SettlementRecord, msg string, manual bool) {
	if err := c.settlements.Fail(ctx, rec, msg, manual); err != nil {
		log.Errorf("[RetryCoordinator] fail update lost for order %s: %v", rec.OrderID, err)
		return
	}
	if manual {
		_ = metrics.AddRetryOutcome("manual_review")
	} else {
		_ = metrics.AddRetryOutcome("failed")
	}
}

// sweepStuckProcessing recovers records abandoned mid-submission by a
// crashed process, failing them back into the retryable set.
func (c *Coordinator) sweepStuckProcessing(ctx context.Context) {
	cutoff := c.now().Add(-stuckProcessingMaxAge)
	recs, err := c.lookup.ListStaleProcessing(cutoff, c.batchSize)
	if err != nil {
		log.Errorf("[RetryCoordinator] stuck sweep failed: %v", err)
		return
	}
	for i := range recs {
		rec := recs[i]
		if err := c.settlements.Fail(ctx, &rec, "submission attempt timed out", false); err != nil {
			log.Errorf("[RetryCoordinator] stuck recovery lost for order %s: %v", rec.OrderID, err)
		}
	}
}

func envDuration(key string, defSeconds int) time.Duration {
	n, err := strconv.Atoi(env.GetEnv(key, strconv.Itoa(defSeconds)))
	if err != nil || n <= 0 {
		n = defSeconds
	}
	return time.Duration(n) * time.Second
}

func envInt(key string, def int) int {
	n, err := strconv.Atoi(env.GetEnv(key, strconv.Itoa(def)))
	if err != nil || n <= 0 {
		n = def
	}
	return n
}
