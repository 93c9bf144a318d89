package allowances

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// SkipReason tells why a disbursement should not happen now
type SkipReason string

// Skip reasons, ordered the same way the rules are evaluated
const (
	ReasonConfigAbsent                 SkipReason = "ConfigAbsent"
	ReasonDisabled                     SkipReason = "Disabled"
	ReasonNotScheduledToday            SkipReason = "NotScheduledToday"
	ReasonAlreadyProcessedToday        SkipReason = "AlreadyProcessedToday"
	ReasonTooSoonSinceLastDisbursement SkipReason = "TooSoonSinceLastDisbursement"
)

// Decision is an outcome of an eligibility evaluation
type Decision struct {
	Eligible bool
	Reason   SkipReason
}

func skip(reason SkipReason) Decision {
	return Decision{Reason: reason}
}

// minDaysBetweenDisbursements is a safety floor against double disbursements
// when a weekday check alone would pass, e.g right after a schedule edit
const minDaysBetweenDisbursements = 7

func midnightOf(t time.Time, loc *time.Location) time.Time {
	year, month, day := t.In(loc).Date()
	return time.Date(year, month, day, 0, 0, 0, 0, loc)
}

// EvaluateEligibility decides whether an allowance should be disbursed now.
// Pure function of schedule state and now, the first failing rule
// determines the reason
func EvaluateEligibility(schedule *Schedule, now time.Time) Decision {
	if schedule == nil {
		return skip(ReasonConfigAbsent)
	}
	if !schedule.IsEnabled || schedule.WeeklyAmount.Cmp(decimal.Zero) <= 0 {
		return skip(ReasonDisabled)
	}
	scheduledDay, ok := ParseWeekday(schedule.DayOfWeek)
	if !ok || scheduledDay != now.Weekday() {
		return skip(ReasonNotScheduledToday)
	}
	if schedule.LastProcessed != nil {
		today := midnightOf(now, now.Location())
		lastProcessedDay := midnightOf(*schedule.LastProcessed, now.Location())
		if lastProcessedDay.Equal(today) {
			return skip(ReasonAlreadyProcessedToday)
		}
		// Whole calendar days, so a run fired a bit earlier than a week
		// ago still passes. Rounding absorbs DST shifted midnights
		elapsedDays := int(math.Round(today.Sub(lastProcessedDay).Hours() / 24))
		if elapsedDays < minDaysBetweenDisbursements {
			return skip(ReasonTooSoonSinceLastDisbursement)
		}
	}
	return Decision{Eligible: true}
}
