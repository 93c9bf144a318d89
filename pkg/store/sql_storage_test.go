package store

import (
	"context"
	"database/sql"
	"math/rand"
	"testing"
	"time"

	"github.com/bxcodec/faker/v3"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/evgeny-myasishchev/ledger.allowances/pkg/allowances"
)

func init() {
	rand.Seed(time.Now().Unix())
}

func newTestStorage(t *testing.T) Storage {
	db, err := sql.Open("sqlite3", ":memory:")
	if !assert.NoError(t, err) {
		panic(err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	s := Storage(&sqlStorage{db: db})
	if err := s.Setup(context.Background()); !assert.NoError(t, err) {
		panic(err)
	}
	return s
}

func randomGuardian() *GuardianDTO {
	return &GuardianDTO{ID: "grd-" + faker.UUIDHyphenated(), DisplayName: faker.Name()}
}

func randomAccount(guardianID string) *AccountDTO {
	return &AccountDTO{
		ID:         "acc-" + faker.UUIDHyphenated(),
		GuardianID: guardianID,
		Schedule: &allowances.Schedule{
			WeeklyAmount: decimal.NewFromInt(int64(10 + rand.Intn(90))),
			DayOfWeek:    time.Monday.String(),
			IsEnabled:    true,
		},
	}
}

func randomWallet(accountID string) *WalletDTO {
	return &WalletDTO{
		ID:              "wlt-" + faker.UUIDHyphenated(),
		AccountID:       accountID,
		TotalBalance:    decimal.NewFromInt(int64(rand.Intn(1000))),
		SpendingBalance: decimal.NewFromInt(int64(rand.Intn(500))),
		UpdatedAt:       time.Now().UTC().Truncate(time.Second),
	}
}

func Test_sqlStorage_SaveAndListGuardians(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	first := &GuardianDTO{ID: "grd-a", DisplayName: faker.Name()}
	second := &GuardianDTO{ID: "grd-b", DisplayName: faker.Name()}
	assert.NoError(t, s.SaveGuardian(ctx, second))
	assert.NoError(t, s.SaveGuardian(ctx, first))

	got, err := s.ListGuardians(ctx)
	if !assert.NoError(t, err) {
		return
	}
	assert.Equal(t, []GuardianDTO{*first, *second}, got)

	// Save is an upsert
	first.DisplayName = faker.Name()
	assert.NoError(t, s.SaveGuardian(ctx, first))
	got, err = s.ListGuardians(ctx)
	if !assert.NoError(t, err) {
		return
	}
	assert.Equal(t, *first, got[0])
}

func Test_sqlStorage_ListGuardianAccounts(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	guardian := randomGuardian()
	assert.NoError(t, s.SaveGuardian(ctx, guardian))

	scheduled := randomAccount(guardian.ID)
	watermark := time.Date(2019, 6, 24, 8, 30, 0, 0, time.UTC)
	scheduled.Schedule.LastProcessed = &watermark

	unconfigured := &AccountDTO{ID: "acc-" + faker.UUIDHyphenated(), GuardianID: guardian.ID}

	otherGuardianAccount := randomAccount("grd-" + faker.UUIDHyphenated())

	assert.NoError(t, s.SaveAccount(ctx, scheduled))
	assert.NoError(t, s.SaveAccount(ctx, unconfigured))
	assert.NoError(t, s.SaveAccount(ctx, otherGuardianAccount))

	got, err := s.ListGuardianAccounts(ctx, guardian.ID)
	if !assert.NoError(t, err) {
		return
	}
	if !assert.Len(t, got, 2) {
		return
	}

	gotByID := map[string]AccountDTO{}
	for _, account := range got {
		gotByID[account.ID] = account
	}

	gotScheduled := gotByID[scheduled.ID]
	if !assert.NotNil(t, gotScheduled.Schedule) {
		return
	}
	assert.True(t, gotScheduled.Schedule.WeeklyAmount.Equal(scheduled.Schedule.WeeklyAmount))
	assert.Equal(t, scheduled.Schedule.DayOfWeek, gotScheduled.Schedule.DayOfWeek)
	assert.True(t, gotScheduled.Schedule.IsEnabled)
	if assert.NotNil(t, gotScheduled.Schedule.LastProcessed) {
		assert.True(t, gotScheduled.Schedule.LastProcessed.Equal(watermark))
	}

	assert.Nil(t, gotByID[unconfigured.ID].Schedule)
}

func Test_sqlStorage_ListGuardianAccounts_malformedAmount(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	guardian := randomGuardian()
	account := randomAccount(guardian.ID)
	assert.NoError(t, s.SaveGuardian(ctx, guardian))
	assert.NoError(t, s.SaveAccount(ctx, account))

	_, err := s.(*sqlStorage).db.Exec(`
	UPDATE accounts SET weekly_amount = 'not-a-number' WHERE id = $1`, account.ID)
	assert.NoError(t, err)

	_, err = s.ListGuardianAccounts(ctx, guardian.ID)
	assert.Error(t, err)
}

func Test_sqlStorage_SaveWallet(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	wallet := randomWallet("acc-" + faker.UUIDHyphenated())
	assert.NoError(t, s.SaveWallet(ctx, wallet))

	negative := randomWallet("acc-" + faker.UUIDHyphenated())
	negative.TotalBalance = decimal.NewFromInt(-1)
	assert.Error(t, s.SaveWallet(ctx, negative))
}

func Test_sqlStorage_InAccountTx_wallet(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	guardian := randomGuardian()
	account := randomAccount(guardian.ID)
	wallet := randomWallet(account.ID)
	assert.NoError(t, s.SaveGuardian(ctx, guardian))
	assert.NoError(t, s.SaveAccount(ctx, account))
	assert.NoError(t, s.SaveWallet(ctx, wallet))

	increment := decimal.NewFromInt(50)
	err := s.InAccountTx(ctx, account.ID, func(ctx context.Context, tx Tx) error {
		got, err := tx.Wallet(ctx)
		if err != nil {
			return err
		}
		got.TotalBalance = got.TotalBalance.Add(increment)
		return tx.UpdateWallet(ctx, got)
	})
	if !assert.NoError(t, err) {
		return
	}

	err = s.InAccountTx(ctx, account.ID, func(ctx context.Context, tx Tx) error {
		got, err := tx.Wallet(ctx)
		if err != nil {
			return err
		}
		assert.True(t, got.TotalBalance.Equal(wallet.TotalBalance.Add(increment)))
		assert.True(t, got.SpendingBalance.Equal(wallet.SpendingBalance))
		return nil
	})
	assert.NoError(t, err)
}

func Test_sqlStorage_InAccountTx_missingWallet(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	guardian := randomGuardian()
	account := randomAccount(guardian.ID)
	assert.NoError(t, s.SaveGuardian(ctx, guardian))
	assert.NoError(t, s.SaveAccount(ctx, account))

	err := s.InAccountTx(ctx, account.ID, func(ctx context.Context, tx Tx) error {
		_, err := tx.Wallet(ctx)
		return err
	})
	assert.Equal(t, ErrWalletNotFound, errors.Cause(err))
}

func Test_sqlStorage_InAccountTx_missingAccount(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	err := s.InAccountTx(ctx, "acc-"+faker.UUIDHyphenated(), func(ctx context.Context, tx Tx) error {
		_, err := tx.Account(ctx)
		return err
	})
	assert.Equal(t, ErrAccountNotFound, errors.Cause(err))
}

func Test_sqlStorage_InAccountTx_rollback(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	guardian := randomGuardian()
	account := randomAccount(guardian.ID)
	wallet := randomWallet(account.ID)
	assert.NoError(t, s.SaveGuardian(ctx, guardian))
	assert.NoError(t, s.SaveAccount(ctx, account))
	assert.NoError(t, s.SaveWallet(ctx, wallet))

	boom := errors.New("boom")
	commitTime := time.Date(2019, 7, 1, 9, 0, 0, 0, time.UTC)
	err := s.InAccountTx(ctx, account.ID, func(ctx context.Context, tx Tx) error {
		got, err := tx.Wallet(ctx)
		if err != nil {
			return err
		}
		got.TotalBalance = got.TotalBalance.Add(decimal.NewFromInt(100))
		if err := tx.UpdateWallet(ctx, got); err != nil {
			return err
		}
		if err := tx.AppendLedgerEntry(ctx, &LedgerEntryDTO{
			ID:         "ent-" + faker.UUIDHyphenated(),
			AccountID:  account.ID,
			WalletID:   wallet.ID,
			Type:       allowances.EntryTypeDeposit,
			Category:   allowances.CategoryWeeklyAllowance,
			Amount:     decimal.NewFromInt(100),
			Timestamp:  commitTime,
			FromBucket: allowances.BucketTotal,
			ToBucket:   allowances.BucketSpending,
		}); err != nil {
			return err
		}
		if err := tx.SetLastProcessed(ctx, commitTime); err != nil {
			return err
		}
		return boom
	})
	assert.Equal(t, boom, errors.Cause(err))

	// Nothing of the above should be committed
	err = s.InAccountTx(ctx, account.ID, func(ctx context.Context, tx Tx) error {
		gotWallet, err := tx.Wallet(ctx)
		if err != nil {
			return err
		}
		assert.True(t, gotWallet.TotalBalance.Equal(wallet.TotalBalance))

		gotAccount, err := tx.Account(ctx)
		if err != nil {
			return err
		}
		assert.Nil(t, gotAccount.Schedule.LastProcessed)
		return nil
	})
	assert.NoError(t, err)

	entries, err := s.ListLedgerEntries(ctx, account.ID)
	assert.NoError(t, err)
	assert.Empty(t, entries)
}

func Test_sqlStorage_InAccountTx_appendAndWatermark(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	guardian := randomGuardian()
	account := randomAccount(guardian.ID)
	wallet := randomWallet(account.ID)
	assert.NoError(t, s.SaveGuardian(ctx, guardian))
	assert.NoError(t, s.SaveAccount(ctx, account))
	assert.NoError(t, s.SaveWallet(ctx, wallet))

	commitTime := time.Date(2019, 7, 1, 9, 0, 0, 0, time.UTC)
	entry := &LedgerEntryDTO{
		ID:          "ent-" + faker.UUIDHyphenated(),
		AccountID:   account.ID,
		WalletID:    wallet.ID,
		Type:        allowances.EntryTypeDeposit,
		Category:    allowances.CategoryWeeklyAllowance,
		Amount:      decimal.NewFromInt(50),
		Description: "Weekly allowance (Monday)",
		Timestamp:   commitTime,
		FromBucket:  allowances.BucketTotal,
		ToBucket:    allowances.BucketSpending,
	}
	err := s.InAccountTx(ctx, account.ID, func(ctx context.Context, tx Tx) error {
		if err := tx.AppendLedgerEntry(ctx, entry); err != nil {
			return err
		}
		return tx.SetLastProcessed(ctx, commitTime)
	})
	if !assert.NoError(t, err) {
		return
	}

	entries, err := s.ListLedgerEntries(ctx, account.ID)
	if !assert.NoError(t, err) {
		return
	}
	if assert.Len(t, entries, 1) {
		got := entries[0]
		assert.Equal(t, entry.ID, got.ID)
		assert.Equal(t, entry.Type, got.Type)
		assert.Equal(t, entry.Category, got.Category)
		assert.Equal(t, entry.Description, got.Description)
		assert.True(t, got.Amount.Equal(entry.Amount))
		assert.True(t, got.Timestamp.Equal(commitTime))
	}

	// Watermark must never go back
	err = s.InAccountTx(ctx, account.ID, func(ctx context.Context, tx Tx) error {
		return tx.SetLastProcessed(ctx, commitTime.Add(-time.Hour))
	})
	assert.Error(t, err)

	accounts, err := s.ListGuardianAccounts(ctx, guardian.ID)
	if !assert.NoError(t, err) {
		return
	}
	if assert.NotNil(t, accounts[0].Schedule.LastProcessed) {
		assert.True(t, accounts[0].Schedule.LastProcessed.Equal(commitTime))
	}
}
