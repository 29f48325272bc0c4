// Package identity resolves KYC records and the membership tiers they grant.
package identity

import (
	"context"
	"sync"
	"time"

	"exodusd/internal/protocol"
	"exodusd/internal/tier"
)

// Jurisdiction codes follow ISO-like numeric assignments used by the
// compliance provider. Code 1 (United States) is excluded from the product.
const JurisdictionUSA uint16 = 1

// Record is the KYC state held for a single owner.
type Record struct {
	Owner        string
	Verified     bool
	Level        tier.Tier
	Jurisdiction uint16
	VerifiedAt   time.Time
	ExpiresAt    time.Time
}

// Expired reports whether the verification lapsed as of now. Records with a
// zero ExpiresAt never expire.
func (r Record) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// Registry looks up KYC records by owner.
type Registry interface {
	// Lookup returns the record for the owner. A missing record is not an
	// error: callers treat it as unverified.
	Lookup(ctx context.Context, owner string) (Record, bool, error)
}

// EffectiveTier resolves the tier an owner transacts at: the record's level
// when verified and current, Unverified otherwise.
func EffectiveTier(ctx context.Context, reg Registry, owner string, now time.Time) (tier.Tier, error) {
	rec, ok, err := reg.Lookup(ctx, owner)
	if err != nil {
		return tier.Unverified, err
	}
	if !ok || !rec.Verified || rec.Expired(now) {
		return tier.Unverified, nil
	}
	return rec.Level, nil
}

// CheckDepositEligibility applies the compliance gates that precede any
// deposit: blocked jurisdictions and lapsed verification.
func CheckDepositEligibility(ctx context.Context, reg Registry, owner string, now time.Time) (tier.Tier, error) {
	rec, ok, err := reg.Lookup(ctx, owner)
	if err != nil {
		return tier.Unverified, err
	}
	if ok && rec.Jurisdiction == JurisdictionUSA {
		return tier.Unverified, protocol.Policyf("jurisdiction %d is not eligible for deposits", rec.Jurisdiction)
	}
	if !ok || !rec.Verified {
		return tier.Unverified, nil
	}
	if rec.Expired(now) {
		return tier.Unverified, protocol.Expiredf("kyc verification for %s expired at %s", owner, rec.ExpiresAt.UTC().Format(time.RFC3339))
	}
	return rec.Level, nil
}

// StaticRegistry is an in-memory registry used in development and tests.
type StaticRegistry struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewStaticRegistry builds a registry seeded with the given records.
func NewStaticRegistry(records ...Record) *StaticRegistry {
	reg := &StaticRegistry{records: make(map[string]Record, len(records))}
	for _, rec := range records {
		reg.records[rec.Owner] = rec
	}
	return reg
}

// Put inserts or replaces a record.
func (s *StaticRegistry) Put(rec Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.Owner] = rec
}

// Lookup implements Registry.
func (s *StaticRegistry) Lookup(_ context.Context, owner string) (Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[owner]
	return rec, ok, nil
}

var _ Registry = (*StaticRegistry)(nil)
