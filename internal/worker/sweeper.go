package worker

import (
	"context"
	"sync"
	"time"

	"subtitle-credit-ledger/internal/core/ports"
	"subtitle-credit-ledger/pkg/apperror"

	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog"
)

// Sweeper runs the periodic background passes: releasing expired credit
// holds and cross-checking stored balances against the transaction log.
// Both passes are safe to run on several instances at once; hold release
// is idempotent and the discrepancy scan only reads.
type Sweeper struct {
	usage     ports.UsageService
	reporting ports.ReportingService
	holdRepo  ports.HoldRepository
	accounts  ports.AccountRepository

	interval  time.Duration
	batchSize int
	pool      *ants.Pool
	log       zerolog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// SweeperConfig controls the sweep cadence and concurrency.
type SweeperConfig struct {
	Interval  time.Duration
	PoolSize  int
	BatchSize int
}

// NewSweeper creates a new Sweeper backed by a bounded worker pool.
func NewSweeper(
	usage ports.UsageService,
	reporting ports.ReportingService,
	holdRepo ports.HoldRepository,
	accounts ports.AccountRepository,
	cfg SweeperConfig,
	log zerolog.Logger,
) (*Sweeper, error) {
	pool, err := ants.NewPool(cfg.PoolSize)
	if err != nil {
		return nil, err
	}
	return &Sweeper{
		usage:     usage,
		reporting: reporting,
		holdRepo:  holdRepo,
		accounts:  accounts,
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
		pool:      pool,
		log:       log,
	}, nil
}

// Start launches the sweep loop. It returns immediately; call Stop to
// shut the loop and the worker pool down.
func (s *Sweeper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.log.Info().
			Dur("interval", s.interval).
			Int("pool_size", s.pool.Cap()).
			Msg("sweeper started")

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.releaseExpiredHolds(ctx)
				s.scanBalances(ctx)
			}
		}
	}()
}

// Stop halts the loop and waits for in-flight sweep tasks to finish.
func (s *Sweeper) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	s.pool.Release()
	s.log.Info().Msg("sweeper stopped")
}

// releaseExpiredHolds reaps active holds whose expiry has passed. A crash
// between authorize and settle leaves such a hold behind; releasing it
// returns the reserved credits to the account.
func (s *Sweeper) releaseExpiredHolds(ctx context.Context) {
	holds, err := s.holdRepo.ListExpired(ctx, time.Now(), s.batchSize)
	if err != nil {
		s.log.Error().Err(err).Msg("listing expired holds failed")
		return
	}
	if len(holds) == 0 {
		return
	}

	s.log.Info().Int("count", len(holds)).Msg("releasing expired holds")

	var wg sync.WaitGroup
	for _, h := range holds {
		holdID := h.ID
		wg.Add(1)
		if err := s.pool.Submit(func() {
			defer wg.Done()
			err := s.usage.Release(ctx, holdID)
			switch {
			case err == nil:
			case apperror.HasCode(err, "LED_004"):
				// Settled or released by someone else since we listed it.
			default:
				s.log.Error().Err(err).
					Str("hold_id", holdID.String()).
					Msg("releasing expired hold failed")
			}
		}); err != nil {
			wg.Done()
			s.log.Error().Err(err).Msg("submitting hold release failed")
		}
	}
	wg.Wait()
}

// scanBalances walks every account and compares its stored balance with
// the sum of its ledger entries. Discrepancies are logged loudly and left
// alone.
func (s *Sweeper) scanBalances(ctx context.Context) {
	afterID := ""
	for {
		if ctx.Err() != nil {
			return
		}
		ids, err := s.accounts.ListIDs(ctx, afterID, s.batchSize)
		if err != nil {
			s.log.Error().Err(err).Msg("listing account ids failed")
			return
		}
		if len(ids) == 0 {
			return
		}
		afterID = ids[len(ids)-1]

		var wg sync.WaitGroup
		for _, id := range ids {
			accountID := id
			wg.Add(1)
			if err := s.pool.Submit(func() {
				defer wg.Done()
				s.checkAccount(ctx, accountID)
			}); err != nil {
				wg.Done()
				s.log.Error().Err(err).Msg("submitting balance check failed")
			}
		}
		wg.Wait()

		if len(ids) < s.batchSize {
			return
		}
	}
}

func (s *Sweeper) checkAccount(ctx context.Context, accountID string) {
	report, err := s.reporting.DetectDiscrepancy(ctx, accountID)
	if err != nil {
		s.log.Error().Err(err).
			Str("account_id", accountID).
			Msg("discrepancy check failed")
		return
	}
	if !report.Consistent {
		s.log.Error().
			Str("account_id", accountID).
			Str("stored_balance", report.StoredBalance.String()).
			Str("computed_balance", report.ComputedBalance.String()).
			Str("difference", report.Difference.String()).
			Msg("balance discrepancy detected")
	}
}
