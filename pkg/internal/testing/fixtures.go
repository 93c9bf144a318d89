package testing

import (
	"math/rand"
	"time"

	"github.com/bxcodec/faker/v3"
	"github.com/shopspring/decimal"

	"github.com/evgeny-myasishchev/ledger.allowances/pkg/allowances"
	"github.com/evgeny-myasishchev/ledger.allowances/pkg/store"
)

// RandomGuardian builds a random guardian record
func RandomGuardian() *store.GuardianDTO {
	return &store.GuardianDTO{
		ID:          "grd-" + faker.UUIDHyphenated(),
		DisplayName: faker.Name(),
	}
}

// AccountOpt mutates a random account record
type AccountOpt func(account *store.AccountDTO)

// WithDayOfWeek sets the scheduled weekday
func WithDayOfWeek(day string) AccountOpt {
	return func(account *store.AccountDTO) {
		account.Schedule.DayOfWeek = day
	}
}

// WithEnabled toggles the schedule
func WithEnabled(enabled bool) AccountOpt {
	return func(account *store.AccountDTO) {
		account.Schedule.IsEnabled = enabled
	}
}

// WithWeeklyAmount sets the schedule amount
func WithWeeklyAmount(amount decimal.Decimal) AccountOpt {
	return func(account *store.AccountDTO) {
		account.Schedule.WeeklyAmount = amount
	}
}

// WithLastProcessed sets the watermark
func WithLastProcessed(at time.Time) AccountOpt {
	return func(account *store.AccountDTO) {
		account.Schedule.LastProcessed = &at
	}
}

// WithNoSchedule clears the schedule
func WithNoSchedule() AccountOpt {
	return func(account *store.AccountDTO) {
		account.Schedule = nil
	}
}

// RandomAccount builds an enabled random account scheduled on Monday
func RandomAccount(guardianID string, opts ...AccountOpt) *store.AccountDTO {
	account := &store.AccountDTO{
		ID:         "acc-" + faker.UUIDHyphenated(),
		GuardianID: guardianID,
		Schedule: &allowances.Schedule{
			WeeklyAmount: decimal.NewFromInt(int64(10 + rand.Intn(90))),
			DayOfWeek:    time.Monday.String(),
			IsEnabled:    true,
		},
	}
	for _, opt := range opts {
		opt(account)
	}
	return account
}

// RandomWallet builds a random wallet of a given account
func RandomWallet(accountID string) *store.WalletDTO {
	return &store.WalletDTO{
		ID:              "wlt-" + faker.UUIDHyphenated(),
		AccountID:       accountID,
		TotalBalance:    decimal.NewFromInt(int64(rand.Intn(1000))),
		SpendingBalance: decimal.NewFromInt(int64(rand.Intn(500))),
		UpdatedAt:       time.Now().UTC().Truncate(time.Second),
	}
}
