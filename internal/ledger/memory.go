package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"exodusd/internal/address"
	"exodusd/internal/protocol"
)

// Memory is an in-process Ledger used by tests and local development. It
// keys records by the same derived addresses as the durable implementation
// and enforces the same version discipline at commit.
type Memory struct {
	mu        sync.Mutex
	config    *protocol.Config
	sources   map[string]*protocol.YieldSource
	positions map[string]*protocol.UserPosition
	pending   map[address.Address]*protocol.PendingDeposit
	records   map[address.Address]*protocol.ConversionRecord
	recordLog []protocol.ConversionRecord
	navLog    []protocol.NavSample
}

// NewMemory constructs an empty in-memory ledger.
func NewMemory() *Memory {
	return &Memory{
		sources:   make(map[string]*protocol.YieldSource),
		positions: make(map[string]*protocol.UserPosition),
		pending:   make(map[address.Address]*protocol.PendingDeposit),
		records:   make(map[address.Address]*protocol.ConversionRecord),
	}
}

type memTx struct {
	l *Memory

	stagedConfig    *protocol.Config
	stagedSources   map[string]*protocol.YieldSource
	stagedPositions map[string]*protocol.UserPosition
	stagedPending   map[address.Address]*protocol.PendingDeposit
	appendedRecords []*protocol.ConversionRecord
	appendedSamples []*protocol.NavSample
}

func newMemTx(l *Memory) *memTx {
	return &memTx{
		l:               l,
		stagedSources:   make(map[string]*protocol.YieldSource),
		stagedPositions: make(map[string]*protocol.UserPosition),
		stagedPending:   make(map[address.Address]*protocol.PendingDeposit),
	}
}

func (tx *memTx) Config() (*protocol.Config, error) {
	if tx.stagedConfig != nil {
		cp := *tx.stagedConfig
		return &cp, nil
	}
	if tx.l.config == nil {
		return nil, protocol.NotFoundf("protocol config not initialized")
	}
	cp := *tx.l.config
	return &cp, nil
}

func (tx *memTx) YieldSource(id string) (*protocol.YieldSource, error) {
	if s, ok := tx.stagedSources[id]; ok {
		cp := *s
		return &cp, nil
	}
	s, ok := tx.l.sources[id]
	if !ok {
		return nil, protocol.NotFoundf("yield source %q", id)
	}
	cp := *s
	return &cp, nil
}

func (tx *memTx) UserPosition(owner string) (*protocol.UserPosition, error) {
	if p, ok := tx.stagedPositions[owner]; ok {
		cp := *p
		return &cp, nil
	}
	p, ok := tx.l.positions[owner]
	if !ok {
		return nil, protocol.NotFoundf("user position for %q", owner)
	}
	cp := *p
	return &cp, nil
}

func (tx *memTx) PendingDeposit(owner string, nonce uint64) (*protocol.PendingDeposit, error) {
	addr := address.PendingDeposit(owner, nonce)
	if d, ok := tx.stagedPending[addr]; ok {
		cp := *d
		return &cp, nil
	}
	d, ok := tx.l.pending[addr]
	if !ok {
		return nil, protocol.NotFoundf("pending deposit %s/%d", owner, nonce)
	}
	cp := *d
	return &cp, nil
}

func (tx *memTx) StageConfig(c *protocol.Config) {
	cp := *c
	tx.stagedConfig = &cp
}

func (tx *memTx) StageYieldSource(s *protocol.YieldSource) {
	cp := *s
	tx.stagedSources[s.ID] = &cp
}

func (tx *memTx) StageUserPosition(p *protocol.UserPosition) {
	cp := *p
	tx.stagedPositions[p.Owner] = &cp
}

func (tx *memTx) StagePendingDeposit(d *protocol.PendingDeposit) {
	cp := *d
	tx.stagedPending[address.PendingDeposit(d.Owner, d.Nonce)] = &cp
}

func (tx *memTx) AppendConversionRecord(r *protocol.ConversionRecord) {
	cp := *r
	tx.appendedRecords = append(tx.appendedRecords, &cp)
}

func (tx *memTx) AppendNavSample(s *protocol.NavSample) {
	cp := *s
	tx.appendedSamples = append(tx.appendedSamples, &cp)
}

// commit applies every staged write, or none on the first version mismatch.
func (tx *memTx) commit() error {
	if tx.stagedConfig != nil {
		current := int64(0)
		if tx.l.config != nil {
			current = tx.l.config.Version
		}
		if tx.stagedConfig.Version != current {
			return protocol.Conflictf("protocol config version %d, expected %d", current, tx.stagedConfig.Version)
		}
	}
	for id, s := range tx.stagedSources {
		current := int64(0)
		if stored, ok := tx.l.sources[id]; ok {
			current = stored.Version
		}
		if s.Version != current {
			return protocol.Conflictf("yield source %q version %d, expected %d", id, current, s.Version)
		}
	}
	for owner, p := range tx.stagedPositions {
		current := int64(0)
		if stored, ok := tx.l.positions[owner]; ok {
			current = stored.Version
		}
		if p.Version != current {
			return protocol.Conflictf("user position %q version %d, expected %d", owner, current, p.Version)
		}
	}
	for addr, d := range tx.stagedPending {
		current := int64(0)
		if stored, ok := tx.l.pending[addr]; ok {
			current = stored.Version
		}
		if d.Version != current {
			return protocol.Conflictf("pending deposit %s/%d version %d, expected %d", d.Owner, d.Nonce, current, d.Version)
		}
	}
	for _, r := range tx.appendedRecords {
		if _, exists := tx.l.records[address.ConversionRecord(r.Owner, r.Nonce)]; exists {
			return protocol.Conflictf("conversion record %s/%d already exists", r.Owner, r.Nonce)
		}
	}

	if tx.stagedConfig != nil {
		tx.stagedConfig.Version++
		tx.l.config = tx.stagedConfig
	}
	for id, s := range tx.stagedSources {
		s.Version++
		tx.l.sources[id] = s
	}
	for owner, p := range tx.stagedPositions {
		p.Version++
		tx.l.positions[owner] = p
	}
	for addr, d := range tx.stagedPending {
		d.Version++
		tx.l.pending[addr] = d
	}
	for _, r := range tx.appendedRecords {
		tx.l.records[address.ConversionRecord(r.Owner, r.Nonce)] = r
		tx.l.recordLog = append(tx.l.recordLog, *r)
	}
	for _, s := range tx.appendedSamples {
		tx.l.navLog = append(tx.l.navLog, *s)
	}
	return nil
}

// View runs fn against the current state; staged writes are discarded.
func (m *Memory) View(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(newMemTx(m))
}

// Update runs fn and commits its staged writes atomically.
func (m *Memory) Update(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := newMemTx(m)
	if err := fn(tx); err != nil {
		return err
	}
	return tx.commit()
}

// SettleCandidates lists Pending deposits plus Converting deposits whose
// claim timestamp predates reclaimBefore, ordered by nonce.
func (m *Memory) SettleCandidates(ctx context.Context, reclaimBefore time.Time, limit int) ([]protocol.PendingDeposit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []protocol.PendingDeposit
	for _, d := range m.pending {
		switch d.Status {
		case protocol.StatusPending:
			out = append(out, *d)
		case protocol.StatusConverting:
			if d.ConvertingAt.Before(reclaimBefore) {
				out = append(out, *d)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Nonce < out[j].Nonce })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// PendingDepositsByOwner lists a user's deposits, newest first.
func (m *Memory) PendingDepositsByOwner(ctx context.Context, owner string, limit int) ([]protocol.PendingDeposit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []protocol.PendingDeposit
	for _, d := range m.pending {
		if d.Owner == owner {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Nonce > out[j].Nonce })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// YieldSources lists every registered source ordered by ID.
func (m *Memory) YieldSources(ctx context.Context) ([]protocol.YieldSource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]protocol.YieldSource, 0, len(m.sources))
	for _, s := range m.sources {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ConversionRecords lists a user's settlement receipts, newest first.
func (m *Memory) ConversionRecords(ctx context.Context, owner string, limit int) ([]protocol.ConversionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []protocol.ConversionRecord
	for i := len(m.recordLog) - 1; i >= 0; i-- {
		if m.recordLog[i].Owner == owner {
			out = append(out, m.recordLog[i])
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

// NavSamples lists a source's NAV history within [from, to).
func (m *Memory) NavSamples(ctx context.Context, sourceID string, from, to time.Time) ([]protocol.NavSample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []protocol.NavSample
	for _, s := range m.navLog {
		if s.SourceID != sourceID {
			continue
		}
		if s.SampledAt.Before(from) || !s.SampledAt.Before(to) {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

var _ Ledger = (*Memory)(nil)
