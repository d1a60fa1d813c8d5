// Package reward computes the staking reward obligation of a position.
//
// Rewards accrue per whole day of custody:
//
//	days   = floor((now - start) / 86400)
//	reward = ratePerDay * days
//
// Time is counted in whole seconds of block time. All arithmetic is exact
// (shopspring/decimal) and checked against the on-chain amount range, so an
// overflow is reported instead of wrapping.
package reward

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rwastockholm/custody-engine/internal/contract"
	"github.com/rwastockholm/custody-engine/internal/model"
)

// SecondsPerDay is the accrual period.
const SecondsPerDay int64 = 86400

var (
	// ErrInvalidTimestamp is returned when block time is earlier than the
	// accrual start, which means the clock went backwards.
	ErrInvalidTimestamp = model.NewError(model.CodeInvalidTimestamp, "reward: block time precedes accrual start")

	// ErrArithmeticOverflow is returned when an amount leaves [0, 2^128-1].
	ErrArithmeticOverflow = model.NewError(model.CodeArithmeticOverflow, "reward: amount overflows 2^128-1")

	// ErrInvalidRate is returned for a negative or fractional rate.
	ErrInvalidRate = model.NewError(model.CodeInvalidRequest, "reward: rate must be a non-negative whole number")
)

// Accrual is the result of evaluating a position at a point in time.
type Accrual struct {
	Days    int64           `json:"days"`
	Reward  decimal.Decimal `json:"reward"`
	Through time.Time       `json:"through"` // start advanced by the whole days credited
}

// DaysElapsed returns the number of whole days between start and now,
// truncating toward zero.
func DaysElapsed(start, now time.Time) (int64, error) {
	elapsed := now.Unix() - start.Unix()
	if elapsed < 0 {
		return 0, fmt.Errorf("%w: start=%d now=%d", ErrInvalidTimestamp, start.Unix(), now.Unix())
	}
	return elapsed / SecondsPerDay, nil
}

// Accrue evaluates ratePerDay over [start, now).
func Accrue(ratePerDay decimal.Decimal, start, now time.Time) (Accrual, error) {
	if ratePerDay.IsNegative() || !ratePerDay.Equal(ratePerDay.Truncate(0)) {
		return Accrual{}, fmt.Errorf("%w: %s", ErrInvalidRate, ratePerDay)
	}

	days, err := DaysElapsed(start, now)
	if err != nil {
		return Accrual{}, err
	}

	amount, err := CheckedMul(ratePerDay, decimal.NewFromInt(days))
	if err != nil {
		return Accrual{}, err
	}

	return Accrual{
		Days:    days,
		Reward:  amount,
		Through: time.Unix(start.Unix()+days*SecondsPerDay, 0).UTC(),
	}, nil
}

// CheckedMul multiplies two amounts, failing if the product leaves the
// on-chain amount range.
func CheckedMul(a, b decimal.Decimal) (decimal.Decimal, error) {
	return checked(a.Mul(b), "%s * %s", a, b)
}

// CheckedAdd adds two amounts, failing if the sum leaves the on-chain
// amount range.
func CheckedAdd(a, b decimal.Decimal) (decimal.Decimal, error) {
	return checked(a.Add(b), "%s + %s", a, b)
}

func checked(result decimal.Decimal, format string, a, b decimal.Decimal) (decimal.Decimal, error) {
	if result.IsNegative() || result.GreaterThan(contract.MaxAmount) {
		return decimal.Zero, fmt.Errorf("%w: "+format, ErrArithmeticOverflow, a, b)
	}
	return result, nil
}
