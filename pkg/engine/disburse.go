package engine

import (
	"context"
	"fmt"

	uuid "github.com/satori/go.uuid"

	"github.com/evgeny-myasishchev/ledger.allowances/pkg/allowances"
	"github.com/evgeny-myasishchev/ledger.allowances/pkg/store"
	"github.com/evgeny-myasishchev/ledger.allowances/pkg/types"
)

// Outcome is a result of a single disbursement attempt
type Outcome struct {
	// Applied is true if the balance was incremented and an entry appended
	Applied bool

	// Reason tells why nothing was applied
	Reason allowances.SkipReason

	// Entry is the appended ledger entry when applied
	Entry *store.LedgerEntryDTO
}

// Disburser applies one allowance disbursement atomically for one account
type Disburser interface {
	Disburse(ctx context.Context, account *store.AccountDTO) (*Outcome, error)
}

type disburser struct {
	storage store.Storage
	nowSvc  types.NowService
	newID   func() string
}

func (d *disburser) Disburse(ctx context.Context, account *store.AccountDTO) (*Outcome, error) {
	var outcome Outcome
	err := d.storage.InAccountTx(ctx, account.ID, func(ctx context.Context, tx store.Tx) error {
		// The account is read again within the transaction scope. A
		// concurrent run may have disbursed it already, in which case the
		// fresh watermark makes it ineligible and nothing is mutated
		current, err := tx.Account(ctx)
		if err != nil {
			return err
		}
		now := d.nowSvc.Now()
		decision := allowances.EvaluateEligibility(current.Schedule, now)
		if !decision.Eligible {
			outcome = Outcome{Reason: decision.Reason}
			return nil
		}

		wallet, err := tx.Wallet(ctx)
		if err != nil {
			return err
		}

		amount := current.Schedule.WeeklyAmount
		wallet.TotalBalance = wallet.TotalBalance.Add(amount)
		wallet.SpendingBalance = wallet.SpendingBalance.Add(amount)
		wallet.UpdatedAt = now
		if err := tx.UpdateWallet(ctx, wallet); err != nil {
			return err
		}

		entry := &store.LedgerEntryDTO{
			ID:          d.newID(),
			AccountID:   current.ID,
			WalletID:    wallet.ID,
			Type:        allowances.EntryTypeDeposit,
			Category:    allowances.CategoryWeeklyAllowance,
			Amount:      amount,
			Description: fmt.Sprintf("Weekly allowance (%v)", current.Schedule.DayOfWeek),
			Timestamp:   now,
			FromBucket:  allowances.BucketTotal,
			ToBucket:    allowances.BucketSpending,
		}
		if err := tx.AppendLedgerEntry(ctx, entry); err != nil {
			return err
		}
		if err := tx.SetLastProcessed(ctx, now); err != nil {
			return err
		}
		outcome = Outcome{Applied: true, Entry: entry}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &outcome, nil
}

// DisburserOpt is an option of a disburser
type DisburserOpt func(d *disburser)

// WithDisburserStorage sets the storage to disburse against
func WithDisburserStorage(storage store.Storage) DisburserOpt {
	return func(d *disburser) {
		d.storage = storage
	}
}

// WithDisburserNowService sets the clock
func WithDisburserNowService(nowSvc types.NowService) DisburserOpt {
	return func(d *disburser) {
		d.nowSvc = nowSvc
	}
}

// WithDisburserIDFactory sets the ledger entry id factory
func WithDisburserIDFactory(newID func() string) DisburserOpt {
	return func(d *disburser) {
		d.newID = newID
	}
}

// NewDisburser returns an instance of a disburser
func NewDisburser(opts ...DisburserOpt) Disburser {
	d := &disburser{
		newID: func() string { return uuid.NewV4().String() },
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}
