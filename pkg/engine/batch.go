package engine

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/evgeny-myasishchev/ledger.allowances/pkg/allowances"
	"github.com/evgeny-myasishchev/ledger.allowances/pkg/events"
	"github.com/evgeny-myasishchev/ledger.allowances/pkg/lib-core-golang/diag"
	"github.com/evgeny-myasishchev/ledger.allowances/pkg/store"
	"github.com/evgeny-myasishchev/ledger.allowances/pkg/types"
)

var logger = diag.CreateLogger()

// RunSummary is an aggregate result of one batch run
type RunSummary struct {
	Processed int    `json:"processed"`
	Skipped   int    `json:"skipped"`
	Errored   int    `json:"errored"`
	Day       string `json:"day"`
}

// BatchCoordinator executes one full disbursement pass over all accounts
type BatchCoordinator interface {
	Run(ctx context.Context) (*RunSummary, error)
}

type batchCoordinator struct {
	storage   store.Storage
	disburser Disburser
	publisher events.Publisher
	nowSvc    types.NowService
	workers   int
}

type accountOutcome int

const (
	outcomeProcessed accountOutcome = iota
	outcomeSkipped
	outcomeErrored
)

// processAccount never lets an account failure escape, whatever happens to
// one account must not affect any other
func (c *batchCoordinator) processAccount(ctx context.Context, account *store.AccountDTO) (result accountOutcome) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, "Panic processing account %v: %v", account.ID, r)
			result = outcomeErrored
		}
	}()

	decision := allowances.EvaluateEligibility(account.Schedule, c.nowSvc.Now())
	if !decision.Eligible {
		logger.Debug(ctx, "Skipping account %v: %v", account.ID, decision.Reason)
		return outcomeSkipped
	}

	outcome, err := c.disburser.Disburse(ctx, account)
	if err != nil {
		logger.WithError(err).Error(ctx, "Failed to disburse allowance of account %v", account.ID)
		return outcomeErrored
	}
	if !outcome.Applied {
		logger.Debug(ctx, "Skipping account %v: %v", account.ID, outcome.Reason)
		return outcomeSkipped
	}

	entry := outcome.Entry
	logger.WithData(diag.MsgData{
		"accountId": account.ID,
		"entryId":   entry.ID,
		"amount":    entry.Amount.String(),
	}).Info(ctx, "Disbursed allowance of account %v", account.ID)

	if err := c.publisher.PublishDisbursementCompleted(ctx, &events.DisbursementCompleted{
		AccountID: entry.AccountID,
		WalletID:  entry.WalletID,
		EntryID:   entry.ID,
		Amount:    entry.Amount.String(),
		Day:       entry.Timestamp.Weekday().String(),
		Timestamp: entry.Timestamp,
	}); err != nil {
		// The disbursement is committed, a lost event must not fail the account
		logger.WithError(err).Warn(ctx, "Failed to publish disbursement event of account %v", account.ID)
	}
	return outcomeProcessed
}

func (c *batchCoordinator) Run(ctx context.Context) (*RunSummary, error) {
	day := c.nowSvc.Now().Weekday().String()

	guardians, err := c.storage.ListGuardians(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "Failed to enumerate guardians")
	}

	var accounts []store.AccountDTO
	for _, guardian := range guardians {
		guardianAccounts, err := c.storage.ListGuardianAccounts(ctx, guardian.ID)
		if err != nil {
			return nil, errors.Wrapf(err, "Failed to enumerate accounts of guardian %v", guardian.ID)
		}
		accounts = append(accounts, guardianAccounts...)
	}

	logger.Info(ctx, "Starting disbursement run for %v (%v accounts, %v workers)", day, len(accounts), c.workers)

	summary := RunSummary{Day: day}
	var summaryMu sync.Mutex

	jobs := make(chan store.AccountDTO)
	var wg sync.WaitGroup
	for i := 0; i < c.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for account := range jobs {
				outcome := c.processAccount(ctx, &account)

				summaryMu.Lock()
				switch outcome {
				case outcomeProcessed:
					summary.Processed++
				case outcomeSkipped:
					summary.Skipped++
				case outcomeErrored:
					summary.Errored++
				}
				summaryMu.Unlock()
			}
		}()
	}

feed:
	for _, account := range accounts {
		// Plain select would race an idle worker against a done context
		if ctx.Err() != nil {
			// Deadline mid run. Committed disbursements stay valid, the
			// rest will be picked up by the next invocation
			logger.Warn(ctx, "Run interrupted: %v", ctx.Err())
			break
		}
		select {
		case <-ctx.Done():
			logger.Warn(ctx, "Run interrupted: %v", ctx.Err())
			break feed
		case jobs <- account:
		}
	}
	close(jobs)
	wg.Wait()

	logger.WithData(diag.MsgData{
		"processed": summary.Processed,
		"skipped":   summary.Skipped,
		"errored":   summary.Errored,
		"day":       summary.Day,
	}).Info(ctx, "Disbursement run complete")

	return &summary, nil
}

// BatchCoordinatorOpt is an option of a batch coordinator
type BatchCoordinatorOpt func(c *batchCoordinator)

// WithStorage sets the storage to enumerate accounts from
func WithStorage(storage store.Storage) BatchCoordinatorOpt {
	return func(c *batchCoordinator) {
		c.storage = storage
	}
}

// WithDisburser sets the disburser to apply disbursements with
func WithDisburser(disburser Disburser) BatchCoordinatorOpt {
	return func(c *batchCoordinator) {
		c.disburser = disburser
	}
}

// WithPublisher sets the events publisher
func WithPublisher(publisher events.Publisher) BatchCoordinatorOpt {
	return func(c *batchCoordinator) {
		c.publisher = publisher
	}
}

// WithNowService sets the clock
func WithNowService(nowSvc types.NowService) BatchCoordinatorOpt {
	return func(c *batchCoordinator) {
		c.nowSvc = nowSvc
	}
}

// WithWorkers sets how many accounts are processed in parallel
func WithWorkers(workers int) BatchCoordinatorOpt {
	return func(c *batchCoordinator) {
		c.workers = workers
	}
}

// NewBatchCoordinator returns an instance of a batch coordinator
func NewBatchCoordinator(opts ...BatchCoordinatorOpt) BatchCoordinator {
	c := &batchCoordinator{
		publisher: events.NewNoopPublisher(),
		workers:   4,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.workers < 1 {
		c.workers = 1
	}
	return c
}
