/*
schedule.go - Collection calendar for lines and loans

PURPOSE:
  Knows when money is expected back. A line is visited on its days; a loan
  is repaid in equal weekly installments over its term. Pending-customer
  reports and statements use this to compute due dates, overdue days and
  the amount that should have been collected by a given day.

LINE TYPES:
  Daily:  the collector visits every weekday; a new Daily line starts with
          the seven weekday sub-ledgers (Monday..Sunday)
  Weekly: days are named by the operator (village names, routes); a new
          Weekly line starts with none

INSTALLMENTS:
  A loan of takenAmount over N weeks is repaid at takenAmount/N per week,
  first installment due one week after the loan date. Expected-to-date
  counts the installments whose due day is on or before "today", capped at
  takenAmount. A loan with zero weeks is due in full on its date.

EXAMPLE:
  loan 12000 over 12 weeks, dated 2025-01-06
  Installment          = 1000
  DueDate              = 2025-03-31
  ExpectedBy(2025-01-27) = 3000   (3 installments due)

SEE ALSO:
  - ledger/queries.go: PendingCustomers
  - ledger/statement.go: per-customer statements
*/
package schedule

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	Daily  = "Daily"
	Weekly = "Weekly"
)

// Weekdays are the default sub-ledgers of a Daily line, in visiting order.
var Weekdays = []string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"}

func ValidLineType(t string) bool {
	return t == Daily || t == Weekly
}

// DefaultDays returns the days a new line of the given type starts with.
func DefaultDays(lineType string) []string {
	if lineType == Daily {
		return append([]string(nil), Weekdays...)
	}
	return nil
}

// DayName returns the weekday sub-ledger name a date falls on.
func DayName(t time.Time) string {
	return t.Weekday().String()
}

// IsWeekday reports whether day names one of the Daily sub-ledgers.
func IsWeekday(day string) bool {
	for _, d := range Weekdays {
		if strings.EqualFold(d, day) {
			return true
		}
	}
	return false
}

// =============================================================================
// LOAN TERM
// =============================================================================

func day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DueDate is the day the last installment falls due.
func DueDate(loanDate time.Time, weeks int) time.Time {
	if weeks <= 0 {
		return day(loanDate)
	}
	return day(loanDate).AddDate(0, 0, 7*weeks)
}

// DaysOverdue counts whole days past due; zero when not yet due.
func DaysOverdue(due, today time.Time) int {
	d := int(day(today).Sub(day(due)).Hours() / 24)
	if d < 0 {
		return 0
	}
	return d
}

// Installment is the weekly amount for a loan.
func Installment(taken decimal.Decimal, weeks int) decimal.Decimal {
	if weeks <= 0 {
		return taken
	}
	return taken.DivRound(decimal.NewFromInt(int64(weeks)), 2)
}

// InstallmentsDue counts installments due on or before today.
func InstallmentsDue(loanDate time.Time, weeks int, today time.Time) int {
	if weeks <= 0 {
		if day(today).Before(day(loanDate)) {
			return 0
		}
		return 1
	}
	elapsed := int(day(today).Sub(day(loanDate)).Hours() / 24)
	if elapsed < 0 {
		return 0
	}
	n := elapsed / 7
	if n > weeks {
		n = weeks
	}
	return n
}

// ExpectedBy is the amount that should have been repaid by today.
func ExpectedBy(taken decimal.Decimal, loanDate time.Time, weeks int, today time.Time) decimal.Decimal {
	n := InstallmentsDue(loanDate, weeks, today)
	if weeks <= 0 || n >= weeks {
		if n == 0 {
			return decimal.Zero
		}
		return taken
	}
	expected := Installment(taken, weeks).Mul(decimal.NewFromInt(int64(n)))
	if expected.GreaterThan(taken) {
		return taken
	}
	return expected
}

// =============================================================================
// PERIODS
// =============================================================================

// Period is an inclusive range of calendar days; zero bounds are open.
type Period struct {
	From time.Time
	To   time.Time
}

func (p Period) Contains(t time.Time) bool {
	d := day(t)
	if !p.From.IsZero() && d.Before(day(p.From)) {
		return false
	}
	if !p.To.IsZero() && d.After(day(p.To)) {
		return false
	}
	return true
}

// Days lists each calendar day in the period. Open periods yield nil.
func (p Period) Days() []time.Time {
	if p.From.IsZero() || p.To.IsZero() {
		return nil
	}
	var out []time.Time
	for d := day(p.From); !d.After(day(p.To)); d = d.AddDate(0, 0, 1) {
		out = append(out, d)
	}
	return out
}
