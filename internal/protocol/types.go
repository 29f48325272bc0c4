// Package protocol defines the durable entities of the settlement core and
// the stable error kinds surfaced to callers. The entities mirror the
// external executing ledger's records; mutation rules live in the pipeline
// and keepers, atomicity in the ledger implementations.
package protocol

import (
	"time"

	"exodusd/internal/tier"
)

// DepositStatus is the lifecycle state of a pending JPY deposit.
type DepositStatus uint8

const (
	StatusPending DepositStatus = iota
	StatusConverting
	StatusConverted
	StatusCancelled
	StatusExpired
)

// Terminal reports whether no further transition is permitted.
func (s DepositStatus) Terminal() bool {
	switch s {
	case StatusConverted, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

func (s DepositStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusConverting:
		return "converting"
	case StatusConverted:
		return "converted"
	case StatusCancelled:
		return "cancelled"
	case StatusExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// ConversionDirection records which way a settlement converted.
type ConversionDirection uint8

const (
	JPYToUSDC ConversionDirection = iota
	USDCToJPY
)

func (d ConversionDirection) String() string {
	if d == USDCToJPY {
		return "usdc_to_jpy"
	}
	return "jpy_to_usdc"
}

// PendingDepositExpiry is how long an unsettled JPY deposit stays
// convertible before it becomes eligible for the Expired transition.
const PendingDepositExpiry = 24 * time.Hour

// MonthlyWindow is the rolling window for per-tier deposit allowances.
const MonthlyWindow = 30 * 24 * time.Hour

// Config is the singleton protocol configuration. The deposit nonce only
// ever increases; it keys every pending deposit and conversion record.
type Config struct {
	Authority            string
	ConversionFeeBps     uint16
	ManagementFeeBps     uint16
	PerformanceFeeBps    uint16
	TotalDepositsUSDC    uint64
	TotalYieldEarned     uint64
	PendingJPYConversion uint64
	DepositNonce         uint64
	Active               bool
	CreatedAt            time.Time
	UpdatedAt            time.Time

	Version int64
}

// Fee schedule caps enforced at genesis and on admin updates.
const (
	MaxConversionFeeBps  = 1000
	MaxManagementFeeBps  = 500
	MaxPerformanceFeeBps = 5000
)

// YieldSource is one registered allocation target. NavPerShare is the only
// field whose change revalues every outstanding share at once.
type YieldSource struct {
	ID                  string
	Name                string
	Type                tier.SourceType
	CurrentAPYBps       uint16
	TotalDeposited      uint64
	TotalShares         uint64
	AllocationWeightBps uint16
	MinDeposit          uint64
	MaxAllocation       uint64
	Active              bool
	LastNavUpdate       time.Time
	NavPerShare         uint64

	Version int64
}

// UserPosition aggregates one user's claim across the protocol. Unrealized
// yield is never stored; it is derived from CurrentShares and the source NAV
// at query time.
type UserPosition struct {
	Owner                string
	TotalDepositedJPY    uint64
	TotalDepositedUSDC   uint64
	CurrentShares        uint64
	RealizedYieldUSDC    uint64
	AvgConversionRate    uint64
	Tier                 tier.Tier
	MonthlyDepositedJPY  uint64
	MonthlyDepositedUSDC uint64
	MonthStart           time.Time
	DepositCount         uint32
	WithdrawalCount      uint32
	LastDepositAt        time.Time
	LastWithdrawalAt     time.Time
	DepositNonce         uint64
	CreatedAt            time.Time

	Version int64
}

// RollMonthlyWindow resets the monthly counters when the 30-day rolling
// window has elapsed.
func (p *UserPosition) RollMonthlyWindow(now time.Time) {
	if now.Sub(p.MonthStart) >= MonthlyWindow {
		p.MonthlyDepositedJPY = 0
		p.MonthlyDepositedUSDC = 0
		p.MonthStart = now
	}
}

// PendingDeposit is an in-flight JPY deposit awaiting conversion. It is
// mutated exactly once into a terminal status; the nonce is immutable and
// keys the matching ConversionRecord.
type PendingDeposit struct {
	Owner          string
	SourceID       string
	JPYAmount      uint64
	MinUSDCOut     uint64
	DepositedAt    time.Time
	ExpiresAt      time.Time
	Status         DepositStatus
	ConvertingAt   time.Time
	ConversionRate uint64
	USDCReceived   uint64
	FeePaid        uint64
	Nonce          uint64

	Version int64
}

// Expired reports whether the settlement deadline has passed.
func (d *PendingDeposit) Expired(now time.Time) bool {
	return now.After(d.ExpiresAt)
}

// ConversionRecord is the immutable receipt of one settlement, keyed by the
// same nonce as the PendingDeposit it settles. Append-only.
type ConversionRecord struct {
	Owner        string
	JPYAmount    uint64
	USDCAmount   uint64
	ExchangeRate uint64
	FeeAmount    uint64
	Direction    ConversionDirection
	Timestamp    time.Time
	Nonce        uint64
}

// NavSample is one observation of a source's NAV, appended by the accrual
// keeper for history and export.
type NavSample struct {
	SourceID    string
	NavPerShare uint64
	APYBps      uint16
	SampledAt   time.Time
}
