package economy_test

import (
	"testing"

	"github.com/stagepass/points-engine/economy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// TIER-REWARD PRICING
// =============================================================================

func TestPriceTierReward_HeadlinerDefaultDiscount(t *testing.T) {
	// GIVEN: A $10.00 reward with resident minimum tier
	pricing := economy.TierRewardPricing{
		RewardID:  "rw-1",
		BasePrice: 1000,
		MinTier:   economy.TierResident,
	}

	// WHEN: A headliner buys it
	q, err := economy.PriceTierReward(pricing, "user-1", economy.TierHeadliner)

	// THEN: Default 15% applies -> 850 cents
	require.NoError(t, err)
	assert.Equal(t, 15, q.DiscountPct)
	assert.Equal(t, economy.Cents(850), q.FinalPrice)
}

func TestPriceTierReward_CadetBelowMinTier_NoDiscount(t *testing.T) {
	pricing := economy.TierRewardPricing{
		RewardID:  "rw-1",
		BasePrice: 1000,
		MinTier:   economy.TierResident,
	}

	q, err := economy.PriceTierReward(pricing, "user-1", economy.TierCadet)

	require.NoError(t, err)
	assert.Equal(t, 0, q.DiscountPct)
	assert.Equal(t, economy.Cents(1000), q.FinalPrice)
}

func TestPriceTierReward_ClubOverrideBeatsDefault(t *testing.T) {
	pricing := economy.TierRewardPricing{
		RewardID:  "rw-1",
		BasePrice: 1000,
		MinTier:   economy.TierResident,
		Discounts: economy.DiscountTable{economy.TierSuperfan: 50},
	}

	q, err := economy.PriceTierReward(pricing, "user-1", economy.TierSuperfan)

	require.NoError(t, err)
	assert.Equal(t, economy.Cents(500), q.FinalPrice)
}

func TestPriceTierReward_BelowFloorRejected(t *testing.T) {
	// GIVEN: A 60-cent base where a superfan discount lands under the floor
	pricing := economy.TierRewardPricing{
		RewardID:  "rw-1",
		BasePrice: 60,
		MinTier:   economy.TierResident,
	}

	// WHEN: 25% off -> 45 cents, below the 50-cent minimum
	_, err := economy.PriceTierReward(pricing, "user-1", economy.TierSuperfan)

	// THEN: InvalidPricing, never silently clamped up
	assert.ErrorIs(t, err, economy.ErrInvalidPricing)
	var perr *economy.PricingError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, economy.Cents(45), perr.FinalPrice)
}

func TestPriceTierReward_NonPositiveBaseRejected(t *testing.T) {
	_, err := economy.PriceTierReward(economy.TierRewardPricing{RewardID: "rw-1"}, "u", economy.TierCadet)
	assert.ErrorIs(t, err, economy.ErrInvalidPricing)
}

func TestPriceTierReward_IdempotencyKeyStable(t *testing.T) {
	pricing := economy.TierRewardPricing{RewardID: "rw-1", BasePrice: 1000, MinTier: economy.TierResident}

	q1, err := economy.PriceTierReward(pricing, "user-1", economy.TierHeadliner)
	require.NoError(t, err)
	q2, err := economy.PriceTierReward(pricing, "user-1", economy.TierHeadliner)
	require.NoError(t, err)

	// Same (reward, user, price) -> same key; different buyer -> different key
	assert.Equal(t, q1.IdempotencyKey, q2.IdempotencyKey)

	q3, err := economy.PriceTierReward(pricing, "user-2", economy.TierHeadliner)
	require.NoError(t, err)
	assert.NotEqual(t, q1.IdempotencyKey, q3.IdempotencyKey)
}

// =============================================================================
// CREDIT CAMPAIGNS
// =============================================================================

func TestPriceCreditCampaign_NoDiscountRegardlessOfTier(t *testing.T) {
	campaign := economy.CreditCampaign{RewardID: "cc-1", Credits: 5, CentsPerCredit: 200}

	q, err := economy.PriceCreditCampaign(campaign, "user-1")

	require.NoError(t, err)
	assert.Equal(t, economy.Cents(1000), q.FinalPrice)
	assert.Equal(t, 0, q.DiscountPct)
	assert.True(t, q.Repeatable, "campaigns allow deliberate re-purchase")
}

func TestPriceCreditCampaign_InvalidConfigRejected(t *testing.T) {
	_, err := economy.PriceCreditCampaign(economy.CreditCampaign{RewardID: "cc-1", Credits: 0, CentsPerCredit: 200}, "u")
	assert.ErrorIs(t, err, economy.ErrInvalidPricing)

	_, err = economy.PriceCreditCampaign(economy.CreditCampaign{RewardID: "cc-1", Credits: 1, CentsPerCredit: 25}, "u")
	assert.ErrorIs(t, err, economy.ErrInvalidPricing, "sub-floor campaign rejected")
}
