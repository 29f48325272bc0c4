// Package tier implements the compliance tier table and the monthly deposit
// allowance policy. Everything here is a pure lookup against fixed tables;
// tier assignment itself is an external capability the pipeline only reads.
package tier

// Tier is a user's compliance classification. Tier zero is unverified and
// has a zero allowance on every currency, which acts as a deny-all gate.
type Tier uint8

const (
	Unverified Tier = iota
	Bronze
	Silver
	Gold
	Diamond
)

// Unlimited is the sentinel allowance of the highest tier.
const Unlimited uint64 = 1<<64 - 1

// SourceType classifies a yield source for tier gating.
type SourceType uint8

const (
	SourceTBill SourceType = iota
	SourceLending
	SourceStaking
	SourceSynthetic
)

// Monthly deposit limits per tier, in minor units (6 decimals).
var (
	monthlyJPYLimits = [...]uint64{
		Unverified: 0,
		Bronze:     500_000_000_000,    // ¥500,000
		Silver:     5_000_000_000_000,  // ¥5,000,000
		Gold:       50_000_000_000_000, // ¥50,000,000
		Diamond:    Unlimited,
	}
	monthlyUSDCLimits = [...]uint64{
		Unverified: 0,
		Bronze:     3_500_000_000,   // $3,500
		Silver:     35_000_000_000,  // $35,000
		Gold:       350_000_000_000, // $350,000
		Diamond:    Unlimited,
	}
)

var allowedSources = [...][]SourceType{
	Unverified: nil,
	Bronze:     {SourceTBill},
	Silver:     {SourceTBill, SourceLending},
	Gold:       {SourceTBill, SourceLending, SourceStaking},
	Diamond:    {SourceTBill, SourceLending, SourceStaking, SourceSynthetic},
}

// MonthlyJPYLimit returns the monthly JPY deposit allowance for a tier.
// Unknown tiers get a zero allowance.
func MonthlyJPYLimit(t Tier) uint64 {
	if int(t) >= len(monthlyJPYLimits) {
		return 0
	}
	return monthlyJPYLimits[t]
}

// MonthlyUSDCLimit returns the monthly USDC deposit allowance for a tier.
func MonthlyUSDCLimit(t Tier) uint64 {
	if int(t) >= len(monthlyUSDCLimits) {
		return 0
	}
	return monthlyUSDCLimits[t]
}

// DepositAllowed reports whether depositing amount on top of used stays
// within limit. Zero-amount deposits are never allowed.
func DepositAllowed(limit, used, amount uint64) bool {
	if amount == 0 {
		return false
	}
	next := used + amount
	if next < used { // overflow can only happen against the unlimited sentinel
		return limit == Unlimited
	}
	return next <= limit
}

// Remaining returns the unused portion of an allowance, zero if exhausted.
func Remaining(limit, used uint64) uint64 {
	if used >= limit {
		return 0
	}
	return limit - used
}

// SourceAllowed reports whether a tier may deposit into the given source type.
func SourceAllowed(t Tier, st SourceType) bool {
	if int(t) >= len(allowedSources) {
		return false
	}
	for _, allowed := range allowedSources[t] {
		if allowed == st {
			return true
		}
	}
	return false
}

// AllowedSources returns the source types a tier may use.
func AllowedSources(t Tier) []SourceType {
	if int(t) >= len(allowedSources) {
		return nil
	}
	return allowedSources[t]
}

func (t Tier) String() string {
	switch t {
	case Unverified:
		return "Unverified"
	case Bronze:
		return "Bronze"
	case Silver:
		return "Silver"
	case Gold:
		return "Gold"
	case Diamond:
		return "Diamond"
	default:
		return "Unknown"
	}
}

// NameJA returns the Japanese display name of a tier.
func (t Tier) NameJA() string {
	switch t {
	case Unverified:
		return "未認証"
	case Bronze:
		return "ブロンズ"
	case Silver:
		return "シルバー"
	case Gold:
		return "ゴールド"
	case Diamond:
		return "ダイヤモンド"
	default:
		return "不明"
	}
}

// ParseSourceType maps a lowercase source type name to its enum value.
func ParseSourceType(s string) (SourceType, bool) {
	switch s {
	case "tbill":
		return SourceTBill, true
	case "lending":
		return SourceLending, true
	case "staking":
		return SourceStaking, true
	case "synthetic":
		return SourceSynthetic, true
	default:
		return 0, false
	}
}

func (st SourceType) String() string {
	switch st {
	case SourceTBill:
		return "T-Bill"
	case SourceLending:
		return "Lending"
	case SourceStaking:
		return "Staking"
	case SourceSynthetic:
		return "Synthetic"
	default:
		return "Unknown"
	}
}
