// Package address derives the deterministic record addresses used to key
// entities in the executing ledger. An address is a pure function of a
// namespace tag plus the identifying fields (owner, nonce), so the same
// inputs always resolve to the same record without a secondary index.
package address

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
)

// Namespace tags, one per record type.
const (
	spaceConfig         = "exodus_config"
	spaceYieldSource    = "yield_source"
	spaceUserPosition   = "user_position"
	spacePendingDeposit = "pending_deposit"
	spaceConversion     = "conversion"
)

// Address is a 256-bit record key.
type Address [32]byte

// String renders the address as lowercase hex.
func (a Address) String() string {
	return hex.EncodeToString(a[:])
}

func derive(space string, parts ...[]byte) Address {
	h := sha256.New()
	h.Write([]byte(space))
	for _, p := range parts {
		h.Write(p)
	}
	var a Address
	copy(a[:], h.Sum(nil))
	return a
}

func nonceBytes(nonce uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], nonce)
	return b[:]
}

// Config returns the singleton protocol configuration address.
func Config() Address {
	return derive(spaceConfig)
}

// YieldSource returns the address of a yield source by its identifier.
func YieldSource(id string) Address {
	return derive(spaceYieldSource, []byte(id))
}

// UserPosition returns the address of a user's position record.
func UserPosition(owner string) Address {
	return derive(spaceUserPosition, []byte(owner))
}

// PendingDeposit returns the address of a pending deposit keyed by owner and
// deposit nonce.
func PendingDeposit(owner string, nonce uint64) Address {
	return derive(spacePendingDeposit, []byte(owner), nonceBytes(nonce))
}

// ConversionRecord returns the address of a settlement receipt. It shares the
// (owner, nonce) key with the pending deposit it settles, under its own
// namespace, which is what makes double settlement structurally impossible.
func ConversionRecord(owner string, nonce uint64) Address {
	return derive(spaceConversion, []byte(owner), nonceBytes(nonce))
}
