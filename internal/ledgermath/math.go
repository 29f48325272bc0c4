// Package ledgermath implements the fixed-point share/NAV arithmetic used by
// the settlement pipeline. All amounts are uint64 minor units (6 implied
// decimals), rates are integer basis points, and NAV per share is scaled by
// NavScale. Every division truncates toward zero: the residual minor units
// stay in the pool, they are never paid out.
package ledgermath

import (
	"errors"
	"math/bits"
)

const (
	// NavScale is the fixed-point scale for NAV per share. A navPerShare of
	// 1_000_000 means one share is worth exactly one unit of value.
	NavScale = 1_000_000

	// RateScale is the fixed-point scale for exchange rates. A rate of
	// 155_000_000 means 155.000000 JPY per USD.
	RateScale = 1_000_000

	// BpsDenominator converts basis points to a fraction.
	BpsDenominator = 10_000

	// SecondsPerYear is a non-leap 365-day year.
	SecondsPerYear = 365 * 24 * 60 * 60
)

var (
	// ErrDivisionByZero is returned when a NAV or rate of zero would be used
	// as a divisor.
	ErrDivisionByZero = errors.New("ledgermath: division by zero")

	// ErrOverflow is returned when a result does not fit in uint64.
	ErrOverflow = errors.New("ledgermath: overflow")
)

// mulDiv computes floor(a*b/den) with a 128-bit intermediate product.
func mulDiv(a, b, den uint64) (uint64, error) {
	if den == 0 {
		return 0, ErrDivisionByZero
	}
	hi, lo := bits.Mul64(a, b)
	if hi >= den {
		return 0, ErrOverflow
	}
	quo, _ := bits.Div64(hi, lo, den)
	return quo, nil
}

// Shares returns the number of shares minted for a deposit at the given NAV
// per share: floor(amount * NavScale / navPerShare).
func Shares(amount, navPerShare uint64) (uint64, error) {
	return mulDiv(amount, NavScale, navPerShare)
}

// ValueFromShares returns the settled value of a share balance at the given
// NAV per share: floor(shares * navPerShare / NavScale).
func ValueFromShares(shares, navPerShare uint64) (uint64, error) {
	return mulDiv(shares, navPerShare, NavScale)
}

// UnrealizedYield returns the current value of the shares minus the cost
// basis. The result may be negative, representing an unrealized loss.
func UnrealizedYield(shares, navPerShare, costBasis uint64) (int64, error) {
	value, err := ValueFromShares(shares, navPerShare)
	if err != nil {
		return 0, err
	}
	if value >= costBasis {
		diff := value - costBasis
		if diff > uint64(1)<<63-1 {
			return 0, ErrOverflow
		}
		return int64(diff), nil
	}
	diff := costBasis - value
	if diff > uint64(1)<<63 {
		return 0, ErrOverflow
	}
	return -int64(diff), nil
}

// ProjectedYield returns the simple (non-compounding) interest earned on a
// principal over durationDays at apyBps. This feeds user-facing projections
// only; settlement never uses it.
func ProjectedYield(principal uint64, apyBps uint16, durationDays uint32) (uint64, error) {
	return mulDiv(principal, uint64(apyBps)*uint64(durationDays), BpsDenominator*365)
}

// AccrueNav advances a NAV per share by linear accrual over elapsedSeconds at
// apyBps:
//
//	newNav = nav + floor(nav * apyBps * elapsedSeconds / (10_000 * SecondsPerYear))
//
// The linear form is exact to reproduce across implementations; compounding
// emerges from repeated application across short intervals, not from a
// closed-form compound formula.
func AccrueNav(currentNav uint64, apyBps uint16, elapsedSeconds int64) (uint64, error) {
	if elapsedSeconds <= 0 {
		return currentNav, nil
	}
	accrual, err := mulDiv(currentNav, uint64(apyBps)*uint64(elapsedSeconds), BpsDenominator*SecondsPerYear)
	if err != nil {
		return 0, err
	}
	next := currentNav + accrual
	if next < currentNav {
		return 0, ErrOverflow
	}
	return next, nil
}

// ConvertJPYToUSDC converts a JPY amount to USDC minor units at the given
// JPY-per-USD rate (scaled by RateScale): floor(jpy * RateScale / rate).
func ConvertJPYToUSDC(jpyAmount, rate uint64) (uint64, error) {
	return mulDiv(jpyAmount, RateScale, rate)
}

// ConvertUSDCToJPY converts a USDC amount to JPY minor units at the given
// JPY-per-USD rate: floor(usdc * rate / RateScale).
func ConvertUSDCToJPY(usdcAmount, rate uint64) (uint64, error) {
	return mulDiv(usdcAmount, rate, RateScale)
}

// FeeOn returns the fee charged on an amount at feeBps, truncated.
func FeeOn(amount uint64, feeBps uint16) (uint64, error) {
	return mulDiv(amount, uint64(feeBps), BpsDenominator)
}

// WeightedRate folds a new observation into a weighted average rate. The
// existing average carries oldWeight, the new rate carries newWeight. Zero
// total weight returns the new rate unchanged.
func WeightedRate(oldRate, oldWeight, newRate, newWeight uint64) (uint64, error) {
	total := oldWeight + newWeight
	if total < oldWeight {
		return 0, ErrOverflow
	}
	if total == 0 {
		return newRate, nil
	}
	oldPart, err := mulDiv(oldRate, oldWeight, total)
	if err != nil {
		return 0, err
	}
	newPart, err := mulDiv(newRate, newWeight, total)
	if err != nil {
		return 0, err
	}
	sum := oldPart + newPart
	if sum < oldPart {
		return 0, ErrOverflow
	}
	return sum, nil
}
