package store

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	validator "gopkg.in/go-playground/validator.v9"

	"github.com/evgeny-myasishchev/ledger.allowances/pkg/allowances"
)

// ErrWalletNotFound is returned when an account has no wallet record
var ErrWalletNotFound = errors.New("wallet record not found")

// ErrAccountNotFound is returned when an account record does not exist
var ErrAccountNotFound = errors.New("account record not found")

// GuardianDTO is a guardian record
type GuardianDTO struct {
	ID          string `validate:"required"`
	DisplayName string
}

// AccountDTO is a dependent account record with its allowance schedule.
// Schedule is nil if the account has no schedule configured yet
type AccountDTO struct {
	ID         string `validate:"required"`
	GuardianID string `validate:"required"`
	Schedule   *allowances.Schedule
}

// WalletDTO is a bucketed balance record of one account
type WalletDTO struct {
	ID              string `validate:"required"`
	AccountID       string `validate:"required"`
	TotalBalance    decimal.Decimal
	SpendingBalance decimal.Decimal
	UpdatedAt       time.Time
}

// LedgerEntryDTO is an append-only audit record of a balance-affecting event
type LedgerEntryDTO struct {
	ID          string `validate:"required"`
	AccountID   string `validate:"required"`
	WalletID    string `validate:"required"`
	Type        string `validate:"required"`
	Category    string `validate:"required"`
	Amount      decimal.Decimal
	Description string
	Timestamp   time.Time
	FromBucket  string `validate:"required"`
	ToBucket    string `validate:"required"`
}

// Tx is a transactional read-modify-write scope over a single account's
// records. All mutations commit together or not at all
type Tx interface {
	Account(ctx context.Context) (*AccountDTO, error)
	Wallet(ctx context.Context) (*WalletDTO, error)
	UpdateWallet(ctx context.Context, wallet *WalletDTO) error
	AppendLedgerEntry(ctx context.Context, entry *LedgerEntryDTO) error
	SetLastProcessed(ctx context.Context, at time.Time) error
}

// Storage is a persistence layer
type Storage interface {
	Setup(ctx context.Context) error

	ListGuardians(ctx context.Context) ([]GuardianDTO, error)
	ListGuardianAccounts(ctx context.Context, guardianID string) ([]AccountDTO, error)
	ListLedgerEntries(ctx context.Context, accountID string) ([]LedgerEntryDTO, error)

	SaveGuardian(ctx context.Context, guardian *GuardianDTO) error
	SaveAccount(ctx context.Context, account *AccountDTO) error
	SaveWallet(ctx context.Context, wallet *WalletDTO) error

	// InAccountTx runs fn within a serialized per-account transaction.
	// Write conflicts are retried with a fresh read under a bounded
	// budget, any other error from fn aborts and propagates.
	// Transactions of different accounts never conflict
	InAccountTx(ctx context.Context, accountID string, fn func(ctx context.Context, tx Tx) error) error
}

var validate = validator.New()

// Records are not trusted as read, the schema is checked at this boundary

func validateGuardian(guardian *GuardianDTO) error {
	return errors.Wrapf(validate.Struct(guardian), "Invalid guardian record %v", guardian.ID)
}

func validateAccount(account *AccountDTO) error {
	if err := validate.Struct(account); err != nil {
		return errors.Wrapf(err, "Invalid account record %v", account.ID)
	}
	return nil
}

func validateWallet(wallet *WalletDTO) error {
	if err := validate.Struct(wallet); err != nil {
		return errors.Wrapf(err, "Invalid wallet record %v", wallet.ID)
	}
	if wallet.TotalBalance.Sign() < 0 || wallet.SpendingBalance.Sign() < 0 {
		return errors.Errorf("Invalid wallet record %v: negative balance", wallet.ID)
	}
	return nil
}

func validateLedgerEntry(entry *LedgerEntryDTO) error {
	return errors.Wrapf(validate.Struct(entry), "Invalid ledger entry record %v", entry.ID)
}
