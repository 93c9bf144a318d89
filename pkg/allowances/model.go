package allowances

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	// EntryTypeDeposit is a ledger entry type of money coming into a wallet
	EntryTypeDeposit = "deposit"

	// CategoryWeeklyAllowance is a ledger entry category of scheduled allowances
	CategoryWeeklyAllowance = "weekly_allowance"

	// BucketTotal is a source bucket of an allowance deposit
	BucketTotal = "total"

	// BucketSpending is a destination bucket of an allowance deposit
	BucketSpending = "spending"
)

// Schedule is a recurring allowance configuration of a single account
type Schedule struct {
	// WeeklyAmount is the amount to disburse each week
	WeeklyAmount decimal.Decimal

	// DayOfWeek is a canonical weekday name (Sunday..Saturday)
	DayOfWeek string

	// IsEnabled gates the schedule as a whole
	IsEnabled bool

	// LastProcessed is a watermark of the last successful disbursement.
	// Nil if the account was never disbursed
	LastProcessed *time.Time
}

// ParseWeekday maps a canonical weekday name to time.Weekday.
// Matching is exact, anything else is not a weekday
func ParseWeekday(name string) (time.Weekday, bool) {
	for day := time.Sunday; day <= time.Saturday; day++ {
		if day.String() == name {
			return day, true
		}
	}
	return time.Sunday, false
}
