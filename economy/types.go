/*
Package economy provides the core types and pure functions of the points engine.

PURPOSE:
  This package contains the domain vocabulary shared by every other package:
  identifiers, the immutable ledger transaction, the wallet aggregate view,
  club economics, status tiers, and the pricing calculator. It has no storage
  or transport dependencies - everything here is plain data and arithmetic.

KEY CONCEPTS IN THIS FILE (types.go):
  - Points: A non-negative integer quantity of virtual currency
  - Cents: Money in integer minor units (never floats)
  - Transaction: An immutable ledger entry recording wallet changes
  - Wallet: The aggregate balance view for one (user, club) pair
  - ClubEconomics: Per-club multipliers, rates and fee configuration

DESIGN PRINCIPLES:
  1. Immutability: Transactions are never modified, only appended
  2. Precision: Money is integer cents; rate math uses decimal.Decimal
  3. Type Safety: Strong typing for IDs prevents mixing user/club/reward IDs
  4. Derivation: Balances and tiers are always reconstructible from the ledger

SEE ALSO:
  - status.go: Tier derivation from status points
  - pricing.go: Tier-aware discount pricing
  - errors.go: The error taxonomy shared by all operations
*/
package economy

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// QUANTITIES
// =============================================================================

// Points is a quantity of virtual currency. Always non-negative in storage;
// signed deltas live on transactions.
type Points int64

// Cents is a money amount in integer minor units.
type Cents int64

// Decimal converts cents to a decimal dollar-style value for rate math.
func (c Cents) Decimal() decimal.Decimal {
	return decimal.NewFromInt(int64(c))
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type UserID string
type ClubID string
type RewardID string
type TransactionID string
type RedemptionID string

// =============================================================================
// TRANSACTION - Atomic change to a wallet, append-only
// =============================================================================

type TransactionType string

const (
	TxPurchase TransactionType = "PURCHASE" // Points bought with currency (or transferred in)
	TxBonus    TransactionType = "BONUS"    // Points earned from activity (tap-in, campaign)
	TxSpend    TransactionType = "SPEND"    // Points consumed (redemption, transfer out)
	TxRefund   TransactionType = "REFUND"   // Reversal of a prior spend
)

// Transaction is one immutable ledger entry. The sum of Delta over a wallet's
// transactions reconstructs balance_pts; wallets are never mutated without an
// accompanying transaction row.
type Transaction struct {
	ID     TransactionID
	UserID UserID
	ClubID ClubID

	Type  TransactionType
	Delta Points // Signed: positive for credits, negative for debits

	// AffectsStatus is false for transferred-in points so a recipient's tier
	// never rises from receiving a transfer.
	AffectsStatus bool

	Source      string // e.g. "tap_in", "redemption", "transfer", "checkout"
	ReferenceID string // Links paired rows (transfers) and redemptions

	// ExternalRef carries the payment processor's event id (or a chain tx
	// hash). Unique when set - this is the idempotency backstop for crediting.
	ExternalRef string

	Metadata  map[string]string
	CreatedAt time.Time
}

// =============================================================================
// WALLET - Aggregate balance view for one (user, club) pair
// =============================================================================

// Wallet holds the denormalized balance columns. balance_pts is authoritative
// only insofar as it equals the net of the wallet's transactions; Verify on the
// ledger checks exactly that.
type Wallet struct {
	UserID UserID
	ClubID ClubID

	Balance   Points // Spendable total
	Earned    Points // Accrued from non-purchase activity; drives status
	Purchased Points // Bought with currency; freely transferable
	Spent     Points // Cumulative debits
	Escrowed  Points // Held pending resolution
	Status    Points // Subset of earned that counts toward tier

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TransferPool selects which balance a transfer may draw from.
type TransferPool string

const (
	PoolPurchasedOnly TransferPool = "purchased_only"
	PoolAny           TransferPool = "any"
)

// =============================================================================
// CLUB ECONOMICS - Per-club configurable rates
// =============================================================================

// ClubEconomics carries the configurable economics of a club. Mutated only by
// club owners or system admins.
type ClubEconomics struct {
	// EarnMultiplier scales tap-in and campaign earnings (e.g. 2.0 during a
	// promotion). Applied before the per-tier status multiplier.
	EarnMultiplier decimal.Decimal

	// RedeemMultiplier scales reward prices at redemption time (1.0 = list price).
	RedeemMultiplier decimal.Decimal

	// PromoDiscountPct is an active promotional discount on tier-reward
	// purchases, 0-100. Stacks by replacing the tier discount when larger.
	PromoDiscountPct int

	// PegRateCents is the liability valuation of one point, used by the
	// coverage ratio.
	PegRateCents Cents

	// PurchaseRateCents is the price of one point when bought directly.
	PurchaseRateCents Cents

	// PlatformFeeBps and ReserveBps drive weekly settlement splits.
	PlatformFeeBps int
	ReserveBps     int
}

// DefaultEconomics are the rates a club starts with before its owner tunes them.
func DefaultEconomics() ClubEconomics {
	return ClubEconomics{
		EarnMultiplier:    decimal.NewFromInt(1),
		RedeemMultiplier:  decimal.NewFromInt(1),
		PromoDiscountPct:  0,
		PegRateCents:      1,
		PurchaseRateCents: 1,
		PlatformFeeBps:    500,
		ReserveBps:        1000,
	}
}

// Club is a membership community with its economics.
type Club struct {
	ID        ClubID
	Name      string
	OwnerID   UserID
	Economics ClubEconomics
	CreatedAt time.Time
}

// User is the stable internal identity. Created on first authenticated
// contact; never deleted, only deactivated.
type User struct {
	ID          UserID
	DisplayName string
	AuthRef     string // External identity-provider subject
	Active      bool
	CreatedAt   time.Time
}

// =============================================================================
// REWARDS
// =============================================================================

type RewardKind string

const (
	// KindAccess confirms and debits immediately; no inventory.
	KindAccess RewardKind = "ACCESS"
	// KindPresaleLock creates a 24h hold; debit happens at confirmation.
	KindPresaleLock RewardKind = "PRESALE_LOCK"
	// KindVariant confirms and debits immediately; tracks inventory.
	KindVariant RewardKind = "VARIANT"
)

// Reward is a club-scoped unlock priced in points.
type Reward struct {
	ID     RewardID
	ClubID ClubID
	Name   string
	Kind   RewardKind

	PricePts Points

	// Inventory is nil for unlimited. Only VARIANT rewards decrement it.
	Inventory *int

	// Optional availability window.
	WindowStart *time.Time
	WindowEnd   *time.Time

	Active    bool
	CreatedAt time.Time
}

// AvailableAt reports whether the reward can be redeemed at the given time.
// Inventory is checked separately so callers can distinguish OutOfStock.
func (r Reward) AvailableAt(now time.Time) bool {
	if !r.Active {
		return false
	}
	if r.WindowStart != nil && now.Before(*r.WindowStart) {
		return false
	}
	if r.WindowEnd != nil && now.After(*r.WindowEnd) {
		return false
	}
	return true
}

// InStock reports whether at least one unit remains (nil = unlimited).
func (r Reward) InStock() bool {
	return r.Inventory == nil || *r.Inventory > 0
}

// =============================================================================
// REDEMPTIONS
// =============================================================================

type RedemptionState string

const (
	RedemptionHeld      RedemptionState = "HELD"
	RedemptionConfirmed RedemptionState = "CONFIRMED"
)

// Redemption is one claim attempt. HELD rows carry an expiry; once the expiry
// passes without confirmation the hold is void (reconciled by sweep, and
// treated as void at read time regardless).
type Redemption struct {
	ID       RedemptionID
	RewardID RewardID
	UserID   UserID
	ClubID   ClubID

	State    RedemptionState
	PricePts Points

	ExpiresAt *time.Time // Set for HELD only
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Expired reports whether a HELD redemption's hold window has passed.
func (r Redemption) Expired(now time.Time) bool {
	return r.State == RedemptionHeld && r.ExpiresAt != nil && now.After(*r.ExpiresAt)
}

// HoldDuration is how long a PRESALE_LOCK hold stays claimable.
const HoldDuration = 24 * time.Hour
