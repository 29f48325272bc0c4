package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"exodusd/internal/ledger"
	"exodusd/internal/protocol"
	"exodusd/internal/tier"
)

// ErrNotConfigured indicates the storage pool was not initialised.
var ErrNotConfigured = errors.New("storage: pool not configured")

const (
	selectConfigSQL = `SELECT
        authority, conversion_fee_bps, management_fee_bps, performance_fee_bps,
        total_deposits_usdc, total_yield_earned, pending_jpy_conversion,
        deposit_nonce, active, created_at, updated_at, version
    FROM protocol_config WHERE id = 1;`

	insertConfigSQL = `INSERT INTO protocol_config (
        id, authority, conversion_fee_bps, management_fee_bps, performance_fee_bps,
        total_deposits_usdc, total_yield_earned, pending_jpy_conversion,
        deposit_nonce, active, created_at, updated_at, version
    ) VALUES (1,$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,1);`

	updateConfigSQL = `UPDATE protocol_config SET
        authority = $1, conversion_fee_bps = $2, management_fee_bps = $3,
        performance_fee_bps = $4, total_deposits_usdc = $5, total_yield_earned = $6,
        pending_jpy_conversion = $7, deposit_nonce = $8, active = $9,
        created_at = $10, updated_at = $11, version = version + 1
    WHERE id = 1 AND version = $12;`

	selectSourceSQL = `SELECT
        id, name, source_type, current_apy_bps, total_deposited, total_shares,
        allocation_weight_bps, min_deposit, max_allocation, active,
        last_nav_update, nav_per_share, version
    FROM yield_sources WHERE id = $1;`

	listSourcesSQL = `SELECT
        id, name, source_type, current_apy_bps, total_deposited, total_shares,
        allocation_weight_bps, min_deposit, max_allocation, active,
        last_nav_update, nav_per_share, version
    FROM yield_sources ORDER BY id;`

	insertSourceSQL = `INSERT INTO yield_sources (
        id, name, source_type, current_apy_bps, total_deposited, total_shares,
        allocation_weight_bps, min_deposit, max_allocation, active,
        last_nav_update, nav_per_share, version
    ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,1);`

	updateSourceSQL = `UPDATE yield_sources SET
        name = $2, source_type = $3, current_apy_bps = $4, total_deposited = $5,
        total_shares = $6, allocation_weight_bps = $7, min_deposit = $8,
        max_allocation = $9, active = $10, last_nav_update = $11,
        nav_per_share = $12, version = version + 1
    WHERE id = $1 AND version = $13;`

	selectPositionSQL = `SELECT
        owner, total_deposited_jpy, total_deposited_usdc, current_shares,
        realized_yield_usdc, avg_conversion_rate, tier, monthly_deposited_jpy,
        monthly_deposited_usdc, month_start, deposit_count, withdrawal_count,
        last_deposit_at, last_withdrawal_at, deposit_nonce, created_at, version
    FROM user_positions WHERE owner = $1;`

	insertPositionSQL = `INSERT INTO user_positions (
        owner, total_deposited_jpy, total_deposited_usdc, current_shares,
        realized_yield_usdc, avg_conversion_rate, tier, monthly_deposited_jpy,
        monthly_deposited_usdc, month_start, deposit_count, withdrawal_count,
        last_deposit_at, last_withdrawal_at, deposit_nonce, created_at, version
    ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,1);`

	updatePositionSQL = `UPDATE user_positions SET
        total_deposited_jpy = $2, total_deposited_usdc = $3, current_shares = $4,
        realized_yield_usdc = $5, avg_conversion_rate = $6, tier = $7,
        monthly_deposited_jpy = $8, monthly_deposited_usdc = $9, month_start = $10,
        deposit_count = $11, withdrawal_count = $12, last_deposit_at = $13,
        last_withdrawal_at = $14, deposit_nonce = $15, created_at = $16,
        version = version + 1
    WHERE owner = $1 AND version = $17;`

	selectPendingSQL = `SELECT
        owner, nonce, source_id, jpy_amount, min_usdc_out, deposited_at,
        expires_at, status, converting_at, conversion_rate, usdc_received,
        fee_paid, version
    FROM pending_deposits WHERE owner = $1 AND nonce = $2;`

	insertPendingSQL = `INSERT INTO pending_deposits (
        owner, nonce, source_id, jpy_amount, min_usdc_out, deposited_at,
        expires_at, status, converting_at, conversion_rate, usdc_received,
        fee_paid, version
    ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,1);`

	updatePendingSQL = `UPDATE pending_deposits SET
        source_id = $3, jpy_amount = $4, min_usdc_out = $5, deposited_at = $6,
        expires_at = $7, status = $8, converting_at = $9, conversion_rate = $10,
        usdc_received = $11, fee_paid = $12, version = version + 1
    WHERE owner = $1 AND nonce = $2 AND version = $13;`

	settleCandidatesSQL = `SELECT
        owner, nonce, source_id, jpy_amount, min_usdc_out, deposited_at,
        expires_at, status, converting_at, conversion_rate, usdc_received,
        fee_paid, version
    FROM pending_deposits
    WHERE status = $1 OR (status = $2 AND converting_at < $3)
    ORDER BY nonce
    LIMIT $4;`

	pendingByOwnerSQL = `SELECT
        owner, nonce, source_id, jpy_amount, min_usdc_out, deposited_at,
        expires_at, status, converting_at, conversion_rate, usdc_received,
        fee_paid, version
    FROM pending_deposits
    WHERE owner = $1
    ORDER BY nonce DESC
    LIMIT $2;`

	insertRecordSQL = `INSERT INTO conversion_records (
        owner, nonce, jpy_amount, usdc_amount, exchange_rate, fee_amount,
        direction, settled_at
    ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8);`

	recordsByOwnerSQL = `SELECT
        owner, nonce, jpy_amount, usdc_amount, exchange_rate, fee_amount,
        direction, settled_at
    FROM conversion_records
    WHERE owner = $1
    ORDER BY settled_at DESC, nonce DESC
    LIMIT $2;`

	insertNavSampleSQL = `INSERT INTO nav_samples (
        source_id, nav_per_share, apy_bps, sampled_at
    ) VALUES ($1,$2,$3,$4);`

	navSamplesSQL = `SELECT source_id, nav_per_share, apy_bps, sampled_at
    FROM nav_samples
    WHERE source_id = $1 AND sampled_at >= $2 AND sampled_at < $3
    ORDER BY sampled_at;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// Postgres is the durable ledger. One Update maps to one database
// transaction; staged writes are flushed at commit with a version check per
// row, so a lost race surfaces as protocol.ErrConcurrencyConflict exactly
// like the in-memory ledger.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres wires a pgx pool into the ledger.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Postgres) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Postgres) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// TryAdvisoryLock attempts a postgres advisory lock and returns a release
// func. Keeper loops use it to stay single-writer across instances.
func (s *Postgres) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// View runs fn in a read-only transaction; staged writes are discarded.
func (s *Postgres) View(ctx context.Context, fn func(ledger.Tx) error) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	dbTx, err := pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return fmt.Errorf("begin read tx: %w", err)
	}
	defer func() { _ = dbTx.Rollback(ctx) }()

	return fn(newPgTx(ctx, dbTx))
}

// Update runs fn and commits its staged writes atomically.
func (s *Postgres) Update(ctx context.Context, fn func(ledger.Tx) error) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	dbTx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = dbTx.Rollback(ctx) }()

	tx := newPgTx(ctx, dbTx)
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.flush(); err != nil {
		return err
	}
	if err := dbTx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type pgTx struct {
	ctx context.Context
	tx  pgx.Tx

	stagedConfig    *protocol.Config
	stagedSources   map[string]*protocol.YieldSource
	stagedPositions map[string]*protocol.UserPosition
	stagedPending   map[pendingKey]*protocol.PendingDeposit
	appendedRecords []*protocol.ConversionRecord
	appendedSamples []*protocol.NavSample
}

type pendingKey struct {
	owner string
	nonce uint64
}

func newPgTx(ctx context.Context, tx pgx.Tx) *pgTx {
	return &pgTx{
		ctx:             ctx,
		tx:              tx,
		stagedSources:   make(map[string]*protocol.YieldSource),
		stagedPositions: make(map[string]*protocol.UserPosition),
		stagedPending:   make(map[pendingKey]*protocol.PendingDeposit),
	}
}

func (t *pgTx) Config() (*protocol.Config, error) {
	if t.stagedConfig != nil {
		cp := *t.stagedConfig
		return &cp, nil
	}
	return scanConfig(t.tx.QueryRow(t.ctx, selectConfigSQL))
}

func (t *pgTx) YieldSource(id string) (*protocol.YieldSource, error) {
	if s, ok := t.stagedSources[id]; ok {
		cp := *s
		return &cp, nil
	}
	return scanSource(t.tx.QueryRow(t.ctx, selectSourceSQL, id))
}

func (t *pgTx) UserPosition(owner string) (*protocol.UserPosition, error) {
	if p, ok := t.stagedPositions[owner]; ok {
		cp := *p
		return &cp, nil
	}
	return scanPosition(t.tx.QueryRow(t.ctx, selectPositionSQL, owner))
}

func (t *pgTx) PendingDeposit(owner string, nonce uint64) (*protocol.PendingDeposit, error) {
	if d, ok := t.stagedPending[pendingKey{owner, nonce}]; ok {
		cp := *d
		return &cp, nil
	}
	return scanPending(t.tx.QueryRow(t.ctx, selectPendingSQL, owner, int64(nonce)))
}

func (t *pgTx) StageConfig(c *protocol.Config) {
	cp := *c
	t.stagedConfig = &cp
}

func (t *pgTx) StageYieldSource(s *protocol.YieldSource) {
	cp := *s
	t.stagedSources[s.ID] = &cp
}

func (t *pgTx) StageUserPosition(p *protocol.UserPosition) {
	cp := *p
	t.stagedPositions[p.Owner] = &cp
}

func (t *pgTx) StagePendingDeposit(d *protocol.PendingDeposit) {
	cp := *d
	t.stagedPending[pendingKey{d.Owner, d.Nonce}] = &cp
}

func (t *pgTx) AppendConversionRecord(r *protocol.ConversionRecord) {
	cp := *r
	t.appendedRecords = append(t.appendedRecords, &cp)
}

func (t *pgTx) AppendNavSample(s *protocol.NavSample) {
	cp := *s
	t.appendedSamples = append(t.appendedSamples, &cp)
}

// flush writes every staged record with its version check. Any failure rolls
// the whole transaction back.
func (t *pgTx) flush() error {
	if c := t.stagedConfig; c != nil {
		if c.Version == 0 {
			_, err := t.tx.Exec(t.ctx, insertConfigSQL,
				c.Authority, int16(c.ConversionFeeBps), int16(c.ManagementFeeBps),
				int16(c.PerformanceFeeBps), int64(c.TotalDepositsUSDC),
				int64(c.TotalYieldEarned), int64(c.PendingJPYConversion),
				int64(c.DepositNonce), c.Active, c.CreatedAt, c.UpdatedAt)
			if err != nil {
				return wrapConflict(err, "protocol config already exists")
			}
		} else {
			tag, err := t.tx.Exec(t.ctx, updateConfigSQL,
				c.Authority, int16(c.ConversionFeeBps), int16(c.ManagementFeeBps),
				int16(c.PerformanceFeeBps), int64(c.TotalDepositsUSDC),
				int64(c.TotalYieldEarned), int64(c.PendingJPYConversion),
				int64(c.DepositNonce), c.Active, c.CreatedAt, c.UpdatedAt, c.Version)
			if err != nil {
				return fmt.Errorf("update protocol config: %w", err)
			}
			if tag.RowsAffected() == 0 {
				return protocol.Conflictf("protocol config version %d is stale", c.Version)
			}
		}
	}

	for _, s := range t.stagedSources {
		if s.Version == 0 {
			_, err := t.tx.Exec(t.ctx, insertSourceSQL,
				s.ID, s.Name, int16(s.Type), int16(s.CurrentAPYBps),
				int64(s.TotalDeposited), int64(s.TotalShares),
				int16(s.AllocationWeightBps), int64(s.MinDeposit),
				int64(s.MaxAllocation), s.Active, s.LastNavUpdate, int64(s.NavPerShare))
			if err != nil {
				return wrapConflict(err, fmt.Sprintf("yield source %q already exists", s.ID))
			}
		} else {
			tag, err := t.tx.Exec(t.ctx, updateSourceSQL,
				s.ID, s.Name, int16(s.Type), int16(s.CurrentAPYBps),
				int64(s.TotalDeposited), int64(s.TotalShares),
				int16(s.AllocationWeightBps), int64(s.MinDeposit),
				int64(s.MaxAllocation), s.Active, s.LastNavUpdate,
				int64(s.NavPerShare), s.Version)
			if err != nil {
				return fmt.Errorf("update yield source: %w", err)
			}
			if tag.RowsAffected() == 0 {
				return protocol.Conflictf("yield source %q version %d is stale", s.ID, s.Version)
			}
		}
	}

	for _, p := range t.stagedPositions {
		if p.Version == 0 {
			_, err := t.tx.Exec(t.ctx, insertPositionSQL,
				p.Owner, int64(p.TotalDepositedJPY), int64(p.TotalDepositedUSDC),
				int64(p.CurrentShares), int64(p.RealizedYieldUSDC),
				int64(p.AvgConversionRate), int16(p.Tier),
				int64(p.MonthlyDepositedJPY), int64(p.MonthlyDepositedUSDC),
				p.MonthStart, int32(p.DepositCount), int32(p.WithdrawalCount),
				p.LastDepositAt, p.LastWithdrawalAt, int64(p.DepositNonce), p.CreatedAt)
			if err != nil {
				return wrapConflict(err, fmt.Sprintf("user position %q already exists", p.Owner))
			}
		} else {
			tag, err := t.tx.Exec(t.ctx, updatePositionSQL,
				p.Owner, int64(p.TotalDepositedJPY), int64(p.TotalDepositedUSDC),
				int64(p.CurrentShares), int64(p.RealizedYieldUSDC),
				int64(p.AvgConversionRate), int16(p.Tier),
				int64(p.MonthlyDepositedJPY), int64(p.MonthlyDepositedUSDC),
				p.MonthStart, int32(p.DepositCount), int32(p.WithdrawalCount),
				p.LastDepositAt, p.LastWithdrawalAt, int64(p.DepositNonce),
				p.CreatedAt, p.Version)
			if err != nil {
				return fmt.Errorf("update user position: %w", err)
			}
			if tag.RowsAffected() == 0 {
				return protocol.Conflictf("user position %q version %d is stale", p.Owner, p.Version)
			}
		}
	}

	for _, d := range t.stagedPending {
		if d.Version == 0 {
			_, err := t.tx.Exec(t.ctx, insertPendingSQL,
				d.Owner, int64(d.Nonce), d.SourceID, int64(d.JPYAmount),
				int64(d.MinUSDCOut), d.DepositedAt, d.ExpiresAt, int16(d.Status),
				d.ConvertingAt, int64(d.ConversionRate), int64(d.USDCReceived),
				int64(d.FeePaid))
			if err != nil {
				return wrapConflict(err, fmt.Sprintf("pending deposit %s/%d already exists", d.Owner, d.Nonce))
			}
		} else {
			tag, err := t.tx.Exec(t.ctx, updatePendingSQL,
				d.Owner, int64(d.Nonce), d.SourceID, int64(d.JPYAmount),
				int64(d.MinUSDCOut), d.DepositedAt, d.ExpiresAt, int16(d.Status),
				d.ConvertingAt, int64(d.ConversionRate), int64(d.USDCReceived),
				int64(d.FeePaid), d.Version)
			if err != nil {
				return fmt.Errorf("update pending deposit: %w", err)
			}
			if tag.RowsAffected() == 0 {
				return protocol.Conflictf("pending deposit %s/%d version %d is stale", d.Owner, d.Nonce, d.Version)
			}
		}
	}

	for _, r := range t.appendedRecords {
		_, err := t.tx.Exec(t.ctx, insertRecordSQL,
			r.Owner, int64(r.Nonce), int64(r.JPYAmount), int64(r.USDCAmount),
			int64(r.ExchangeRate), int64(r.FeeAmount), int16(r.Direction), r.Timestamp)
		if err != nil {
			return wrapConflict(err, fmt.Sprintf("conversion record %s/%d already exists", r.Owner, r.Nonce))
		}
	}

	for _, n := range t.appendedSamples {
		_, err := t.tx.Exec(t.ctx, insertNavSampleSQL,
			n.SourceID, int64(n.NavPerShare), int16(n.APYBps), n.SampledAt)
		if err != nil {
			return fmt.Errorf("insert nav sample: %w", err)
		}
	}
	return nil
}

// SettleCandidates lists Pending deposits plus Converting deposits whose
// claim predates reclaimBefore, ordered by nonce.
func (s *Postgres) SettleCandidates(ctx context.Context, reclaimBefore time.Time, limit int) ([]protocol.PendingDeposit, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 1000
	}
	rows, err := pool.Query(ctx, settleCandidatesSQL,
		int16(protocol.StatusPending), int16(protocol.StatusConverting), reclaimBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("list settle candidates: %w", err)
	}
	defer rows.Close()
	return collectPending(rows)
}

// PendingDepositsByOwner lists a user's deposits, newest first.
func (s *Postgres) PendingDepositsByOwner(ctx context.Context, owner string, limit int) ([]protocol.PendingDeposit, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 1000
	}
	rows, err := pool.Query(ctx, pendingByOwnerSQL, owner, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending deposits: %w", err)
	}
	defer rows.Close()
	return collectPending(rows)
}

// YieldSources lists every registered source ordered by ID.
func (s *Postgres) YieldSources(ctx context.Context) ([]protocol.YieldSource, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, listSourcesSQL)
	if err != nil {
		return nil, fmt.Errorf("list yield sources: %w", err)
	}
	defer rows.Close()

	out := make([]protocol.YieldSource, 0)
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *src)
	}
	return out, rows.Err()
}

// ConversionRecords lists a user's settlement receipts, newest first.
func (s *Postgres) ConversionRecords(ctx context.Context, owner string, limit int) ([]protocol.ConversionRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 1000
	}
	rows, err := pool.Query(ctx, recordsByOwnerSQL, owner, limit)
	if err != nil {
		return nil, fmt.Errorf("list conversion records: %w", err)
	}
	defer rows.Close()

	out := make([]protocol.ConversionRecord, 0)
	for rows.Next() {
		var (
			rec                         protocol.ConversionRecord
			nonce, jpy, usdc, rate, fee int64
			direction                   int16
		)
		if err := rows.Scan(&rec.Owner, &nonce, &jpy, &usdc, &rate, &fee, &direction, &rec.Timestamp); err != nil {
			return nil, err
		}
		rec.Nonce = uint64(nonce)
		rec.JPYAmount = uint64(jpy)
		rec.USDCAmount = uint64(usdc)
		rec.ExchangeRate = uint64(rate)
		rec.FeeAmount = uint64(fee)
		rec.Direction = protocol.ConversionDirection(direction)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// NavSamples lists a source's NAV history within [from, to).
func (s *Postgres) NavSamples(ctx context.Context, sourceID string, from, to time.Time) ([]protocol.NavSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, navSamplesSQL, sourceID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list nav samples: %w", err)
	}
	defer rows.Close()

	out := make([]protocol.NavSample, 0)
	for rows.Next() {
		var (
			sample protocol.NavSample
			nav    int64
			apy    int16
		)
		if err := rows.Scan(&sample.SourceID, &nav, &apy, &sample.SampledAt); err != nil {
			return nil, err
		}
		sample.NavPerShare = uint64(nav)
		sample.APYBps = uint16(apy)
		out = append(out, sample)
	}
	return out, rows.Err()
}

func collectPending(rows pgx.Rows) ([]protocol.PendingDeposit, error) {
	out := make([]protocol.PendingDeposit, 0)
	for rows.Next() {
		dep, err := scanPending(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *dep)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConfig(row rowScanner) (*protocol.Config, error) {
	var (
		c                protocol.Config
		convFee, mgmtFee int16
		perfFee          int16
		deposits, yield  int64
		pending, nonce   int64
	)
	err := row.Scan(&c.Authority, &convFee, &mgmtFee, &perfFee, &deposits,
		&yield, &pending, &nonce, &c.Active, &c.CreatedAt, &c.UpdatedAt, &c.Version)
	if err != nil {
		return nil, notFoundOr(err, "protocol config not initialized")
	}
	c.ConversionFeeBps = uint16(convFee)
	c.ManagementFeeBps = uint16(mgmtFee)
	c.PerformanceFeeBps = uint16(perfFee)
	c.TotalDepositsUSDC = uint64(deposits)
	c.TotalYieldEarned = uint64(yield)
	c.PendingJPYConversion = uint64(pending)
	c.DepositNonce = uint64(nonce)
	return &c, nil
}

func scanSource(row rowScanner) (*protocol.YieldSource, error) {
	var (
		s                     protocol.YieldSource
		srcType, apy, weight  int16
		deposited, shares     int64
		minDep, maxAlloc, nav int64
	)
	err := row.Scan(&s.ID, &s.Name, &srcType, &apy, &deposited, &shares,
		&weight, &minDep, &maxAlloc, &s.Active, &s.LastNavUpdate, &nav, &s.Version)
	if err != nil {
		return nil, notFoundOr(err, "yield source not found")
	}
	s.Type = tier.SourceType(srcType)
	s.CurrentAPYBps = uint16(apy)
	s.TotalDeposited = uint64(deposited)
	s.TotalShares = uint64(shares)
	s.AllocationWeightBps = uint16(weight)
	s.MinDeposit = uint64(minDep)
	s.MaxAllocation = uint64(maxAlloc)
	s.NavPerShare = uint64(nav)
	return &s, nil
}

func scanPosition(row rowScanner) (*protocol.UserPosition, error) {
	var (
		p                       protocol.UserPosition
		jpy, usdc, shares       int64
		realized, avgRate       int64
		tierVal                 int16
		monthlyJPY, monthlyUSDC int64
		depCount, wdCount       int32
		nonce                   int64
	)
	err := row.Scan(&p.Owner, &jpy, &usdc, &shares, &realized, &avgRate,
		&tierVal, &monthlyJPY, &monthlyUSDC, &p.MonthStart, &depCount, &wdCount,
		&p.LastDepositAt, &p.LastWithdrawalAt, &nonce, &p.CreatedAt, &p.Version)
	if err != nil {
		return nil, notFoundOr(err, "user position not found")
	}
	p.TotalDepositedJPY = uint64(jpy)
	p.TotalDepositedUSDC = uint64(usdc)
	p.CurrentShares = uint64(shares)
	p.RealizedYieldUSDC = uint64(realized)
	p.AvgConversionRate = uint64(avgRate)
	p.Tier = tier.Tier(tierVal)
	p.MonthlyDepositedJPY = uint64(monthlyJPY)
	p.MonthlyDepositedUSDC = uint64(monthlyUSDC)
	p.DepositCount = uint32(depCount)
	p.WithdrawalCount = uint32(wdCount)
	p.DepositNonce = uint64(nonce)
	return &p, nil
}

func scanPending(row rowScanner) (*protocol.PendingDeposit, error) {
	var (
		d                   protocol.PendingDeposit
		nonce, jpy, minOut  int64
		status              int16
		rate, received, fee int64
	)
	err := row.Scan(&d.Owner, &nonce, &d.SourceID, &jpy, &minOut,
		&d.DepositedAt, &d.ExpiresAt, &status, &d.ConvertingAt, &rate,
		&received, &fee, &d.Version)
	if err != nil {
		return nil, notFoundOr(err, "pending deposit not found")
	}
	d.Nonce = uint64(nonce)
	d.JPYAmount = uint64(jpy)
	d.MinUSDCOut = uint64(minOut)
	d.Status = protocol.DepositStatus(status)
	d.ConversionRate = uint64(rate)
	d.USDCReceived = uint64(received)
	d.FeePaid = uint64(fee)
	return &d, nil
}

func notFoundOr(err error, msg string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return protocol.NotFoundf("%s", msg)
	}
	return err
}

// wrapConflict maps a unique violation to a concurrency conflict; everything
// else passes through.
func wrapConflict(err error, msg string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return protocol.Conflictf("%s", msg)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

var _ ledger.Ledger = (*Postgres)(nil)
