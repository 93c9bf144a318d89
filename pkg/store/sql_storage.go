package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"
	sqlite3 "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/evgeny-myasishchev/ledger.allowances/pkg/allowances"
	"github.com/evgeny-myasishchev/ledger.allowances/pkg/lib-core-golang/diag"
)

var logger = diag.CreateLogger()

// maxTxAttempts bounds conflict retries of a per-account transaction
const maxTxAttempts = 3

type sqlStorage struct {
	db *sql.DB
}

func (s *sqlStorage) Setup(ctx context.Context) error {
	logger.Info(ctx, "Setup SQL storage")
	_, err := s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS guardians(
	id TEXT NOT NULL PRIMARY KEY,
	display_name TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS accounts(
	id TEXT NOT NULL PRIMARY KEY,
	guardian_id TEXT NOT NULL,
	weekly_amount TEXT,
	day_of_week TEXT,
	is_enabled BOOLEAN NOT NULL DEFAULT FALSE,
	last_processed TIMESTAMP
);
CREATE TABLE IF NOT EXISTS wallets(
	id TEXT NOT NULL PRIMARY KEY,
	account_id TEXT NOT NULL UNIQUE,
	total_balance TEXT NOT NULL,
	spending_balance TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS ledger_entries(
	id TEXT NOT NULL PRIMARY KEY,
	account_id TEXT NOT NULL,
	wallet_id TEXT NOT NULL,
	entry_type TEXT NOT NULL,
	category TEXT NOT NULL,
	amount TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	entry_timestamp TIMESTAMP NOT NULL,
	from_bucket TEXT NOT NULL,
	to_bucket TEXT NOT NULL
);
`)
	return errors.Wrap(err, "Failed to setup storage")
}

func (s *sqlStorage) ListGuardians(ctx context.Context) ([]GuardianDTO, error) {
	res, err := s.db.QueryContext(ctx, `
	SELECT id, display_name FROM guardians ORDER BY id`)
	if err != nil {
		return nil, errors.Wrap(err, "Failed to list guardians")
	}
	defer res.Close()

	var guardians []GuardianDTO
	for res.Next() {
		var guardian GuardianDTO
		if err := res.Scan(&guardian.ID, &guardian.DisplayName); err != nil {
			return nil, err
		}
		if err := validateGuardian(&guardian); err != nil {
			return nil, err
		}
		guardians = append(guardians, guardian)
	}
	return guardians, res.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAccount(row rowScanner) (*AccountDTO, error) {
	var account AccountDTO
	var weeklyAmount, dayOfWeek sql.NullString
	var isEnabled bool
	var lastProcessed sql.NullTime
	if err := row.Scan(
		&account.ID,
		&account.GuardianID,
		&weeklyAmount,
		&dayOfWeek,
		&isEnabled,
		&lastProcessed,
	); err != nil {
		return nil, err
	}

	if weeklyAmount.Valid || dayOfWeek.Valid {
		amount := decimal.Zero
		if weeklyAmount.Valid {
			var err error
			if amount, err = decimal.NewFromString(weeklyAmount.String); err != nil {
				return nil, errors.Wrapf(err, "Invalid account record %v: malformed weekly amount", account.ID)
			}
		}
		schedule := &allowances.Schedule{
			WeeklyAmount: amount,
			DayOfWeek:    dayOfWeek.String,
			IsEnabled:    isEnabled,
		}
		if lastProcessed.Valid {
			watermark := lastProcessed.Time
			schedule.LastProcessed = &watermark
		}
		account.Schedule = schedule
	}

	if err := validateAccount(&account); err != nil {
		return nil, err
	}
	return &account, nil
}

const selectAccount = `
	SELECT id, guardian_id, weekly_amount, day_of_week, is_enabled, last_processed
	FROM accounts`

func (s *sqlStorage) ListGuardianAccounts(ctx context.Context, guardianID string) ([]AccountDTO, error) {
	res, err := s.db.QueryContext(ctx, selectAccount+` WHERE guardian_id = $1 ORDER BY id`, guardianID)
	if err != nil {
		return nil, errors.Wrapf(err, "Failed to list accounts of guardian %v", guardianID)
	}
	defer res.Close()

	var accounts []AccountDTO
	for res.Next() {
		account, err := scanAccount(res)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *account)
	}
	return accounts, res.Err()
}

func scanWallet(row rowScanner) (*WalletDTO, error) {
	var wallet WalletDTO
	var totalBalance, spendingBalance string
	if err := row.Scan(
		&wallet.ID,
		&wallet.AccountID,
		&totalBalance,
		&spendingBalance,
		&wallet.UpdatedAt,
	); err != nil {
		return nil, err
	}
	var err error
	if wallet.TotalBalance, err = decimal.NewFromString(totalBalance); err != nil {
		return nil, errors.Wrapf(err, "Invalid wallet record %v: malformed total balance", wallet.ID)
	}
	if wallet.SpendingBalance, err = decimal.NewFromString(spendingBalance); err != nil {
		return nil, errors.Wrapf(err, "Invalid wallet record %v: malformed spending balance", wallet.ID)
	}
	if err := validateWallet(&wallet); err != nil {
		return nil, err
	}
	return &wallet, nil
}

func (s *sqlStorage) ListLedgerEntries(ctx context.Context, accountID string) ([]LedgerEntryDTO, error) {
	res, err := s.db.QueryContext(ctx, `
	SELECT id, account_id, wallet_id, entry_type, category, amount, description,
		entry_timestamp, from_bucket, to_bucket
	FROM ledger_entries WHERE account_id = $1 ORDER BY entry_timestamp`, accountID)
	if err != nil {
		return nil, errors.Wrapf(err, "Failed to list ledger entries of account %v", accountID)
	}
	defer res.Close()

	var entries []LedgerEntryDTO
	for res.Next() {
		var entry LedgerEntryDTO
		var amount string
		if err := res.Scan(
			&entry.ID,
			&entry.AccountID,
			&entry.WalletID,
			&entry.Type,
			&entry.Category,
			&amount,
			&entry.Description,
			&entry.Timestamp,
			&entry.FromBucket,
			&entry.ToBucket,
		); err != nil {
			return nil, err
		}
		if entry.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, errors.Wrapf(err, "Invalid ledger entry record %v: malformed amount", entry.ID)
		}
		if err := validateLedgerEntry(&entry); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, res.Err()
}

func (s *sqlStorage) SaveGuardian(ctx context.Context, guardian *GuardianDTO) error {
	if err := validateGuardian(guardian); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO guardians(id, display_name)
	VALUES($1, $2)
	ON CONFLICT(id) DO UPDATE
	SET display_name=$2
	`, guardian.ID, guardian.DisplayName)
	return errors.Wrapf(err, "Failed to save guardian %v", guardian.ID)
}

func (s *sqlStorage) SaveAccount(ctx context.Context, account *AccountDTO) error {
	if err := validateAccount(account); err != nil {
		return err
	}
	var weeklyAmount, dayOfWeek, lastProcessed interface{}
	var isEnabled bool
	if schedule := account.Schedule; schedule != nil {
		weeklyAmount = schedule.WeeklyAmount.String()
		dayOfWeek = schedule.DayOfWeek
		isEnabled = schedule.IsEnabled
		if schedule.LastProcessed != nil {
			lastProcessed = *schedule.LastProcessed
		}
	}
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO accounts(id, guardian_id, weekly_amount, day_of_week, is_enabled, last_processed)
	VALUES($1, $2, $3, $4, $5, $6)
	ON CONFLICT(id) DO UPDATE
	SET guardian_id=$2, weekly_amount=$3, day_of_week=$4, is_enabled=$5, last_processed=$6
	`, account.ID, account.GuardianID, weeklyAmount, dayOfWeek, isEnabled, lastProcessed)
	return errors.Wrapf(err, "Failed to save account %v", account.ID)
}

func (s *sqlStorage) SaveWallet(ctx context.Context, wallet *WalletDTO) error {
	if err := validateWallet(wallet); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO wallets(id, account_id, total_balance, spending_balance, updated_at)
	VALUES($1, $2, $3, $4, $5)
	ON CONFLICT(id) DO UPDATE
	SET account_id=$2, total_balance=$3, spending_balance=$4, updated_at=$5
	`, wallet.ID, wallet.AccountID,
		wallet.TotalBalance.String(), wallet.SpendingBalance.String(), wallet.UpdatedAt)
	return errors.Wrapf(err, "Failed to save wallet %v", wallet.ID)
}

type sqlAccountTx struct {
	tx        *sql.Tx
	accountID string
}

func (t *sqlAccountTx) Account(ctx context.Context) (*AccountDTO, error) {
	account, err := scanAccount(t.tx.QueryRowContext(ctx, selectAccount+` WHERE id = $1`, t.accountID))
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(ErrAccountNotFound, "account %v", t.accountID)
	}
	return account, err
}

func (t *sqlAccountTx) Wallet(ctx context.Context) (*WalletDTO, error) {
	wallet, err := scanWallet(t.tx.QueryRowContext(ctx, `
	SELECT id, account_id, total_balance, spending_balance, updated_at
	FROM wallets WHERE account_id = $1`, t.accountID))
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(ErrWalletNotFound, "account %v", t.accountID)
	}
	return wallet, err
}

func (t *sqlAccountTx) UpdateWallet(ctx context.Context, wallet *WalletDTO) error {
	if err := validateWallet(wallet); err != nil {
		return err
	}
	res, err := t.tx.ExecContext(ctx, `
	UPDATE wallets SET total_balance=$1, spending_balance=$2, updated_at=$3
	WHERE id=$4 AND account_id=$5
	`, wallet.TotalBalance.String(), wallet.SpendingBalance.String(),
		wallet.UpdatedAt, wallet.ID, t.accountID)
	if err != nil {
		return errors.Wrapf(err, "Failed to update wallet %v", wallet.ID)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return errors.Wrapf(ErrWalletNotFound, "wallet %v", wallet.ID)
	}
	return nil
}

func (t *sqlAccountTx) AppendLedgerEntry(ctx context.Context, entry *LedgerEntryDTO) error {
	if err := validateLedgerEntry(entry); err != nil {
		return err
	}
	_, err := t.tx.ExecContext(ctx, `
	INSERT INTO ledger_entries(
		id,
		account_id,
		wallet_id,
		entry_type,
		category,
		amount,
		description,
		entry_timestamp,
		from_bucket,
		to_bucket
	)
	VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, entry.ID, entry.AccountID, entry.WalletID, entry.Type, entry.Category,
		entry.Amount.String(), entry.Description, entry.Timestamp,
		entry.FromBucket, entry.ToBucket)
	return errors.Wrapf(err, "Failed to append ledger entry %v", entry.ID)
}

func (t *sqlAccountTx) SetLastProcessed(ctx context.Context, at time.Time) error {
	// Watermark must never go back
	res, err := t.tx.ExecContext(ctx, `
	UPDATE accounts SET last_processed=$1
	WHERE id=$2 AND (last_processed IS NULL OR last_processed <= $1)
	`, at, t.accountID)
	if err != nil {
		return errors.Wrapf(err, "Failed to advance watermark of account %v", t.accountID)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return errors.Errorf("Watermark of account %v would regress to %v", t.accountID, at)
	}
	return nil
}

func isConflictErr(err error) bool {
	switch typed := errors.Cause(err).(type) {
	case sqlite3.Error:
		return typed.Code == sqlite3.ErrBusy || typed.Code == sqlite3.ErrLocked
	case *pq.Error:
		// serialization_failure / deadlock_detected
		return typed.Code == "40001" || typed.Code == "40P01"
	}
	return false
}

func (s *sqlStorage) runAccountTx(ctx context.Context, accountID string, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return errors.Wrap(err, "Failed to begin transaction")
	}
	if err := fn(ctx, &sqlAccountTx{tx: tx, accountID: accountID}); err != nil {
		if rollbackErr := tx.Rollback(); rollbackErr != nil {
			logger.WithError(rollbackErr).Warn(ctx, "Failed to rollback transaction of account %v", accountID)
		}
		return err
	}
	return errors.Wrap(tx.Commit(), "Failed to commit transaction")
}

func (s *sqlStorage) InAccountTx(ctx context.Context, accountID string, fn func(ctx context.Context, tx Tx) error) error {
	var lastErr error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		lastErr = s.runAccountTx(ctx, accountID, fn)
		if lastErr == nil {
			return nil
		}
		if !isConflictErr(lastErr) {
			return lastErr
		}
		logger.WithError(lastErr).
			Warn(ctx, "Conflict applying transaction of account %v (attempt %v of %v)", accountID, attempt, maxTxAttempts)
	}
	return errors.Wrapf(lastErr, "Transaction of account %v still conflicting after %v attempts", accountID, maxTxAttempts)
}

// SQLStorageOpt is an option of SQL storage
type SQLStorageOpt func(s *sqlStorage)

// WithSQLDb will set an explicit db instance for a storage
func WithSQLDb(db *sql.DB) SQLStorageOpt {
	return func(s *sqlStorage) {
		s.db = db
	}
}

// NewSQLStorage returns an instance of a SQL backed storage.
// Works with sqlite3 and postgres drivers
func NewSQLStorage(opts ...SQLStorageOpt) (Storage, error) {
	storage := &sqlStorage{}
	for _, opt := range opts {
		opt(storage)
	}
	if storage.db == nil {
		return nil, errors.New("SQL storage requires a db instance")
	}
	return storage, nil
}
