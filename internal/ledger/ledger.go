// Package ledger abstracts the executing ledger that atomically applies the
// settlement core's writes. Each mutable record carries a version; a commit
// whose staged versions no longer match the stored ones fails with a
// concurrency conflict, and the caller re-reads and recomputes rather than
// re-submitting the stale write.
package ledger

import (
	"context"
	"errors"
	"time"

	"exodusd/internal/protocol"
)

// Tx is one atomic unit of reads and staged writes. Reads return the current
// committed state (or a previously staged value within the same Tx); staged
// writes apply together at commit or not at all.
type Tx interface {
	Config() (*protocol.Config, error)
	YieldSource(id string) (*protocol.YieldSource, error)
	UserPosition(owner string) (*protocol.UserPosition, error)
	PendingDeposit(owner string, nonce uint64) (*protocol.PendingDeposit, error)

	StageConfig(*protocol.Config)
	StageYieldSource(*protocol.YieldSource)
	StageUserPosition(*protocol.UserPosition)
	StagePendingDeposit(*protocol.PendingDeposit)

	// AppendConversionRecord stages the append-only settlement receipt. The
	// commit fails if a record with the same (owner, nonce) already exists.
	AppendConversionRecord(*protocol.ConversionRecord)

	// AppendNavSample stages a NAV history observation.
	AppendNavSample(*protocol.NavSample)
}

// Ledger is the executing ledger handle.
type Ledger interface {
	// View runs fn against a read-only snapshot.
	View(ctx context.Context, fn func(Tx) error) error

	// Update runs fn and atomically commits its staged writes. A version
	// mismatch at commit returns protocol.ErrConcurrencyConflict.
	Update(ctx context.Context, fn func(Tx) error) error

	// SettleCandidates lists deposits eligible for a settlement attempt:
	// status Pending, plus Converting deposits whose claim predates
	// reclaimBefore (a crashed attempt's lock being reclaimed).
	SettleCandidates(ctx context.Context, reclaimBefore time.Time, limit int) ([]protocol.PendingDeposit, error)

	// PendingDepositsByOwner lists a user's deposits, newest first.
	PendingDepositsByOwner(ctx context.Context, owner string, limit int) ([]protocol.PendingDeposit, error)

	// YieldSources lists every registered source.
	YieldSources(ctx context.Context) ([]protocol.YieldSource, error)

	// ConversionRecords lists a user's settlement receipts, newest first.
	ConversionRecords(ctx context.Context, owner string, limit int) ([]protocol.ConversionRecord, error)

	// NavSamples lists a source's NAV history within [from, to).
	NavSamples(ctx context.Context, sourceID string, from, to time.Time) ([]protocol.NavSample, error)
}

// RetryOnConflict re-runs an Update while it fails with a concurrency
// conflict, up to attempts tries. Every retry re-reads in a fresh Tx, so the
// recomputation sees the state that won the race.
func RetryOnConflict(ctx context.Context, l Ledger, attempts int, fn func(Tx) error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = ctx.Err(); err != nil {
			return err
		}
		err = l.Update(ctx, fn)
		if err == nil || !errors.Is(err, protocol.ErrConcurrencyConflict) {
			return err
		}
	}
	return err
}
