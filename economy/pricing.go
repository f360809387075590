/*
pricing.go - Tier-aware discount pricing for real-currency purchases

PURPOSE:
  Computes the final price of a tier-reward purchase from the buyer's derived
  tier, and the fixed-rate price of credit campaigns. All money is integer
  cents; percentage math rounds half-up via decimal to avoid float drift.

RULES:
  - A discount applies only when the buyer's tier rank >= the reward's
    minimum tier rank.
  - Default discounts: resident 10%, headliner 15%, superfan 25%. Clubs can
    override per reward.
  - final = base - round(base * pct / 100), floored at zero.
  - Prices below the processor minimum (default 50 cents) FAIL validation.
    Never silently clamp up - a misconfigured price must surface.
  - Credit campaigns price strictly at credits x cents-per-credit. No
    discount, regardless of tier, and repeat purchases are allowed.

IDEMPOTENCY:
  Every externally-initiated purchase carries a stable key derived from
  (reward id, user id, final price) so a retried request reuses the same
  checkout session instead of opening a duplicate. Repeatable purchases
  advance the key one generation per completed purchase, keeping retry
  dedupe without blocking a deliberate repeat.
*/
package economy

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/shopspring/decimal"
)

// DefaultMinimumPriceCents is the payment-processor floor ($0.50 equivalent).
const DefaultMinimumPriceCents Cents = 50

// DiscountTable maps qualifying tiers to discount percentages.
type DiscountTable map[Tier]int

// DefaultDiscounts returns the documented default table.
func DefaultDiscounts() DiscountTable {
	return DiscountTable{
		TierResident:  10,
		TierHeadliner: 15,
		TierSuperfan:  25,
	}
}

// TierRewardPricing configures one purchasable tier reward.
type TierRewardPricing struct {
	RewardID      RewardID
	BasePrice     Cents
	MinTier       Tier          // Lowest tier that earns a discount
	Discounts     DiscountTable // Nil entries fall back to defaults
	MinPriceCents Cents         // Zero means DefaultMinimumPriceCents

	// PromoPct is a club-wide promotional discount. It replaces the tier
	// discount when larger and applies to every buyer, qualified or not.
	PromoPct int
}

// CreditCampaign is the alternate fixed-rate mode: an integer credit count at
// a fixed price per credit, no discount ever, repeats explicitly allowed.
type CreditCampaign struct {
	RewardID       RewardID
	Credits        int
	CentsPerCredit Cents
}

// Quote is a priced purchase ready to hand to the payment processor.
type Quote struct {
	RewardID       RewardID
	UserID         UserID
	BasePrice      Cents
	DiscountPct    int
	FinalPrice     Cents
	IdempotencyKey string
	Repeatable     bool
}

// DiscountPctFor resolves the discount percentage for a buyer's tier against
// the reward's minimum tier. Zero when the buyer doesn't qualify and no promo
// is running.
func (p TierRewardPricing) DiscountPctFor(tier Tier) int {
	pct := 0
	if tier.Rank() >= p.MinTier.Rank() {
		if v, ok := p.Discounts[tier]; ok {
			pct = v
		} else {
			pct = DefaultDiscounts()[tier]
		}
	}
	if p.PromoPct > pct {
		pct = p.PromoPct
	}
	return pct
}

// PriceTierReward computes the final price for a buyer and returns a Quote.
// Fails with ErrInvalidPricing when the configured base is non-positive or the
// computed final price lands below the processor floor.
func PriceTierReward(p TierRewardPricing, userID UserID, tier Tier) (Quote, error) {
	if p.BasePrice <= 0 {
		return Quote{}, &PricingError{RewardID: p.RewardID, Reason: "base price must be positive"}
	}

	pct := p.DiscountPctFor(tier)
	if pct < 0 || pct > 100 {
		return Quote{}, &PricingError{RewardID: p.RewardID, Reason: fmt.Sprintf("discount %d%% out of range", pct)}
	}

	discount := decimal.NewFromInt(int64(p.BasePrice)).
		Mul(decimal.NewFromInt(int64(pct))).
		Div(decimal.NewFromInt(100)).
		Round(0)

	final := Cents(int64(p.BasePrice) - discount.IntPart())
	if final < 0 {
		final = 0
	}

	floor := p.MinPriceCents
	if floor == 0 {
		floor = DefaultMinimumPriceCents
	}
	if final < floor {
		return Quote{}, &PricingError{
			RewardID:   p.RewardID,
			FinalPrice: final,
			FloorCents: floor,
			Reason:     "final price below processor minimum",
		}
	}

	return Quote{
		RewardID:       p.RewardID,
		UserID:         userID,
		BasePrice:      p.BasePrice,
		DiscountPct:    pct,
		FinalPrice:     final,
		IdempotencyKey: PurchaseIdempotencyKey(p.RewardID, userID, final),
	}, nil
}

// PriceCreditCampaign computes the fixed campaign price. Tier is ignored by
// design: campaigns never discount.
func PriceCreditCampaign(c CreditCampaign, userID UserID) (Quote, error) {
	if c.Credits <= 0 || c.CentsPerCredit <= 0 {
		return Quote{}, &PricingError{RewardID: c.RewardID, Reason: "campaign requires positive credits and rate"}
	}

	final := Cents(int64(c.Credits) * int64(c.CentsPerCredit))
	if final < DefaultMinimumPriceCents {
		return Quote{}, &PricingError{
			RewardID:   c.RewardID,
			FinalPrice: final,
			FloorCents: DefaultMinimumPriceCents,
			Reason:     "campaign price below processor minimum",
		}
	}

	return Quote{
		RewardID:       c.RewardID,
		UserID:         userID,
		BasePrice:      final,
		FinalPrice:     final,
		IdempotencyKey: PurchaseIdempotencyKey(c.RewardID, userID, final),
		Repeatable:     true,
	}, nil
}

// PurchaseIdempotencyKey derives the stable retry key for a purchase.
// Same (reward, user, price) always yields the same key, so a client retry
// reuses the in-flight checkout session.
func PurchaseIdempotencyKey(rewardID RewardID, userID UserID, finalPrice Cents) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d", rewardID, userID, finalPrice)))
	return hex.EncodeToString(sum[:16])
}

// RepeatPurchaseKey salts the base key with a completed-purchase sequence.
// Repeatable purchases advance one generation per completed purchase, so a
// deliberate repeat gets a fresh key while retries within a generation still
// dedupe. Sequence zero is the base key itself.
func RepeatPurchaseKey(base string, seq int) string {
	if seq == 0 {
		return base
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d", base, seq)))
	return hex.EncodeToString(sum[:16])
}
