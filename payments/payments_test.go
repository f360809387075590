package payments_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagepass/points-engine/economy"
	"github.com/stagepass/points-engine/ledger"
	"github.com/stagepass/points-engine/payments"
	"github.com/stagepass/points-engine/rewards"
	"github.com/stagepass/points-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const testSecret = "test-webhook-secret"

type fixture struct {
	store    *sqlite.Store
	ledger   *ledger.Ledger
	rewards  *rewards.Service
	checkout *payments.CheckoutService
	webhooks *payments.WebhookProcessor
	verifier *payments.HMACVerifier
}

func newFixture(t *testing.T) *fixture {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	l := ledger.New(store)
	verifier := payments.NewHMACVerifier(testSecret)
	return &fixture{
		store:    store,
		ledger:   l,
		rewards:  rewards.NewService(store, l),
		checkout: payments.NewCheckoutService(store, l, &payments.StaticProcessor{}, zerolog.Nop()),
		webhooks: payments.NewWebhookProcessor(store, verifier, zerolog.Nop()),
		verifier: verifier,
	}
}

func (f *fixture) seedClub(t *testing.T, id string) {
	t.Helper()
	require.NoError(t, f.store.SaveClub(context.Background(), economy.Club{
		ID:        economy.ClubID(id),
		Name:      "Club " + id,
		OwnerID:   "owner-1",
		Economics: economy.DefaultEconomics(),
		CreatedAt: time.Now().UTC(),
	}))
}

// seedPricedReward creates a tier reward purchasable for cents.
func (f *fixture) seedPricedReward(t *testing.T, clubID string, pricePts, baseCents int64, minTier economy.Tier) economy.RewardID {
	t.Helper()
	created, err := f.rewards.Create(context.Background(), economy.Reward{
		ClubID:   economy.ClubID(clubID),
		Name:     "Signed Poster",
		Kind:     economy.KindAccess,
		PricePts: economy.Points(pricePts),
		Active:   true,
	})
	require.NoError(t, err)

	require.NoError(t, f.store.SetRewardPricing(context.Background(), created.ID,
		economy.TierRewardPricing{
			RewardID:  created.ID,
			BasePrice: economy.Cents(baseCents),
			MinTier:   minTier,
		}, nil))
	return created.ID
}

func (f *fixture) seedCampaign(t *testing.T, clubID string, credits int, rateCents int64) economy.RewardID {
	t.Helper()
	created, err := f.rewards.Create(context.Background(), economy.Reward{
		ClubID:   economy.ClubID(clubID),
		Name:     "Credit Pack",
		Kind:     economy.KindAccess,
		PricePts: 0,
		Active:   true,
	})
	require.NoError(t, err)

	require.NoError(t, f.store.SetRewardPricing(context.Background(), created.ID,
		economy.TierRewardPricing{}, &economy.CreditCampaign{
			RewardID:       created.ID,
			Credits:        credits,
			CentsPerCredit: economy.Cents(rateCents),
		}))
	return created.ID
}

// completedEvent builds and signs a checkout.completed payload.
func (f *fixture) completedEvent(eventID, sessionID string, bonus int64) (payload []byte, signature string) {
	payload, _ = json.Marshal(payments.Event{
		ID:   eventID,
		Type: payments.EventCheckoutCompleted,
		Data: payments.EventData{SessionID: sessionID, BonusPoints: bonus},
	})
	return payload, f.verifier.Sign(payload)
}

// =============================================================================
// SETTLEMENT MATH TESTS
// =============================================================================

func TestSplit_DefaultRates(t *testing.T) {
	// 500 bps fee, 1000 bps reserve on $100.00
	fee, reserve, upfront := payments.Split(10000, 500, 1000)
	assert.Equal(t, economy.Cents(500), fee)
	assert.Equal(t, economy.Cents(1000), reserve)
	assert.Equal(t, economy.Cents(8500), upfront)
}

func TestSplit_AlwaysSumsToGross(t *testing.T) {
	for _, gross := range []economy.Cents{1, 99, 101, 333, 4999, 123457} {
		fee, reserve, upfront := payments.Split(gross, 500, 1000)
		assert.Equal(t, gross, fee+reserve+upfront, "gross %d must split exactly", gross)
		assert.GreaterOrEqual(t, int64(upfront), int64(0))
	}
}

func TestWeekStart_TruncatesToMonday(t *testing.T) {
	// 2026-08-29 is a Saturday; its settlement week began Monday the 24th
	sat := time.Date(2026, time.August, 29, 15, 4, 5, 0, time.UTC)
	assert.Equal(t, time.Date(2026, time.August, 24, 0, 0, 0, 0, time.UTC), payments.WeekStart(sat))

	// A Monday is its own week start
	mon := time.Date(2026, time.August, 24, 23, 59, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, time.August, 24, 0, 0, 0, 0, time.UTC), payments.WeekStart(mon))
}

// =============================================================================
// SIGNATURE TESTS
// =============================================================================

func TestHMACVerifier_RoundTrip(t *testing.T) {
	v := payments.NewHMACVerifier("secret")
	payload := []byte(`{"id":"evt_1"}`)

	assert.NoError(t, v.Verify(payload, v.Sign(payload)))
}

func TestHMACVerifier_TamperedPayload_Rejected(t *testing.T) {
	v := payments.NewHMACVerifier("secret")
	sig := v.Sign([]byte(`{"amount":100}`))

	err := v.Verify([]byte(`{"amount":10000}`), sig)
	assert.ErrorIs(t, err, economy.ErrUnauthorized)
}

func TestWebhook_BadSignature_FailsClosed(t *testing.T) {
	f := newFixture(t)

	err := f.webhooks.Handle(context.Background(), []byte(`{"id":"evt_1"}`), "deadbeef")
	assert.ErrorIs(t, err, economy.ErrUnauthorized)
}

// =============================================================================
// CHECKOUT TESTS
// =============================================================================

func TestCheckout_TierDiscountApplied(t *testing.T) {
	// GIVEN: A headliner member (15% default) and a $10.00 reward open to residents
	// WHEN: Starting checkout
	// THEN: Final price is $8.50

	f := newFixture(t)
	ctx := context.Background()
	f.seedClub(t, "club-1")
	rewardID := f.seedPricedReward(t, "club-1", 100, 1000, economy.TierResident)

	_, err := f.ledger.Credit(ctx, "fan-1", "club-1", 2500, economy.TxBonus,
		ledger.CreditOptions{AffectsStatus: true})
	require.NoError(t, err)

	res, err := f.checkout.Start(ctx, "fan-1", rewardID)
	require.NoError(t, err)
	assert.Equal(t, 15, res.Quote.DiscountPct)
	assert.Equal(t, economy.Cents(850), res.Quote.FinalPrice)
	assert.NotEmpty(t, res.SessionID)
}

func TestCheckout_UnqualifiedTier_FullPrice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedClub(t, "club-1")
	rewardID := f.seedPricedReward(t, "club-1", 100, 1000, economy.TierHeadliner)

	// Cadet buyer: no discount
	res, err := f.checkout.Start(ctx, "fan-1", rewardID)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Quote.DiscountPct)
	assert.Equal(t, economy.Cents(1000), res.Quote.FinalPrice)
}

func TestCheckout_SubFloorPrice_RejectedBeforeSession(t *testing.T) {
	// GIVEN: A 60-cent base with a 25% superfan discount -> 45 cents, below floor
	// WHEN: A superfan starts checkout
	// THEN: PricingError; no purchase row was created

	f := newFixture(t)
	ctx := context.Background()
	f.seedClub(t, "club-1")
	rewardID := f.seedPricedReward(t, "club-1", 100, 60, economy.TierResident)

	_, err := f.ledger.Credit(ctx, "fan-1", "club-1", 10000, economy.TxBonus,
		ledger.CreditOptions{AffectsStatus: true})
	require.NoError(t, err)

	_, err = f.checkout.Start(ctx, "fan-1", rewardID)
	require.Error(t, err)

	var pe *economy.PricingError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, economy.Cents(45), pe.FinalPrice)
	assert.Equal(t, economy.Cents(50), pe.FloorCents)
}

func TestCheckout_Retry_ReusesSession(t *testing.T) {
	// GIVEN: An in-flight checkout
	// WHEN: The same member retries the same reward
	// THEN: The pending session comes back instead of a second charge

	f := newFixture(t)
	ctx := context.Background()
	f.seedClub(t, "club-1")
	rewardID := f.seedPricedReward(t, "club-1", 100, 1000, economy.TierResident)

	first, err := f.checkout.Start(ctx, "fan-1", rewardID)
	require.NoError(t, err)

	second, err := f.checkout.Start(ctx, "fan-1", rewardID)
	require.NoError(t, err)
	assert.True(t, second.Reused)
	assert.Equal(t, first.SessionID, second.SessionID)
	assert.Equal(t, first.PurchaseID, second.PurchaseID)
}

func TestCheckout_CompletedNonRepeatable_AlreadyClaimed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedClub(t, "club-1")
	rewardID := f.seedPricedReward(t, "club-1", 100, 1000, economy.TierResident)

	res, err := f.checkout.Start(ctx, "fan-1", rewardID)
	require.NoError(t, err)

	payload, sig := f.completedEvent("evt_1", res.SessionID, 0)
	require.NoError(t, f.webhooks.Handle(ctx, payload, sig))

	_, err = f.checkout.Start(ctx, "fan-1", rewardID)
	assert.ErrorIs(t, err, economy.ErrAlreadyClaimed)
}

func TestCheckout_Campaign_RepeatPurchasesAllowed(t *testing.T) {
	// GIVEN: A completed credit-campaign purchase
	// WHEN: Buying the same campaign again
	// THEN: A fresh session opens; campaigns are explicitly repeatable

	f := newFixture(t)
	ctx := context.Background()
	f.seedClub(t, "club-1")
	rewardID := f.seedCampaign(t, "club-1", 500, 2) // 500 credits at 2c = $10.00

	first, err := f.checkout.Start(ctx, "fan-1", rewardID)
	require.NoError(t, err)
	assert.True(t, first.Quote.Repeatable)
	assert.Equal(t, economy.Cents(1000), first.Quote.FinalPrice)
	assert.Equal(t, 0, first.Quote.DiscountPct, "campaigns never discount")

	payload, sig := f.completedEvent("evt_1", first.SessionID, 0)
	require.NoError(t, f.webhooks.Handle(ctx, payload, sig))

	second, err := f.checkout.Start(ctx, "fan-1", rewardID)
	require.NoError(t, err)
	assert.False(t, second.Reused)
	assert.NotEqual(t, first.PurchaseID, second.PurchaseID, "repeat must open a distinct purchase")
	assert.NotEqual(t, first.SessionID, second.SessionID, "repeat must open a distinct session")

	// A plain retry of the second purchase still lands on its pending session
	retry, err := f.checkout.Start(ctx, "fan-1", rewardID)
	require.NoError(t, err)
	assert.True(t, retry.Reused)
	assert.Equal(t, second.SessionID, retry.SessionID)

	// Completing the second advances the chain again
	payload, sig = f.completedEvent("evt_2", second.SessionID, 0)
	require.NoError(t, f.webhooks.Handle(ctx, payload, sig))

	third, err := f.checkout.Start(ctx, "fan-1", rewardID)
	require.NoError(t, err)
	assert.NotEqual(t, second.SessionID, third.SessionID)

	b, err := f.ledger.GetBreakdown(ctx, "fan-1", "club-1")
	require.NoError(t, err)
	assert.Equal(t, economy.Points(1000), b.Wallet.Balance, "two completed packs of 500")
}

// =============================================================================
// WEBHOOK CREDITING TESTS
// =============================================================================

func TestWebhook_CreditsOnceAndSettles(t *testing.T) {
	// GIVEN: A completed $10.00 campaign purchase of 500 credits
	// WHEN: The completion event arrives, then is replayed four times
	// THEN: Exactly one credit of 500+bonus points; settlement recorded once

	f := newFixture(t)
	ctx := context.Background()
	f.seedClub(t, "club-1")
	rewardID := f.seedCampaign(t, "club-1", 500, 2)

	res, err := f.checkout.Start(ctx, "fan-1", rewardID)
	require.NoError(t, err)

	payload, sig := f.completedEvent("evt_1", res.SessionID, 50)
	for i := 0; i < 5; i++ {
		require.NoError(t, f.webhooks.Handle(ctx, payload, sig), "replay %d must be a success no-op", i)
	}

	b, err := f.ledger.GetBreakdown(ctx, "fan-1", "club-1")
	require.NoError(t, err)
	assert.Equal(t, economy.Points(550), b.Wallet.Balance)
	assert.Equal(t, economy.Points(550), b.Wallet.Purchased)
	assert.NoError(t, f.ledger.Verify(ctx, "fan-1", "club-1"))

	// Settlement: $10.00 gross -> 50c fee, 100c reserve, 850c upfront, once
	ws, err := f.store.GetWeeklyStats(ctx, "club-1", payments.WeekStart(time.Now()))
	require.NoError(t, err)
	assert.Equal(t, economy.Cents(1000), ws.GrossCents)
	assert.Equal(t, economy.Cents(50), ws.FeeCents)
	assert.Equal(t, economy.Cents(100), ws.ReserveCents)
	assert.Equal(t, economy.Cents(850), ws.UpfrontCents)

	pool, err := f.store.GetSettlementPool(ctx, "club-1")
	require.NoError(t, err)
	assert.Equal(t, economy.Cents(100), pool.BalanceCents)

	// Purchase marked completed
	p, err := f.store.GetPurchaseBySession(ctx, res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "completed", p.Status)

	processed, err := f.store.IsEventProcessed(ctx, "evt_1")
	require.NoError(t, err)
	assert.True(t, processed)
}

func TestWebhook_UnknownEventType_Ignored(t *testing.T) {
	f := newFixture(t)

	payload, _ := json.Marshal(payments.Event{ID: "evt_9", Type: "payout.created"})
	sig := f.verifier.Sign(payload)

	assert.NoError(t, f.webhooks.Handle(context.Background(), payload, sig))
}

func TestWebhook_UnmatchedSession_Errors(t *testing.T) {
	f := newFixture(t)

	payload, sig := f.completedEvent("evt_1", "cs_nonexistent", 0)
	err := f.webhooks.Handle(context.Background(), payload, sig)
	assert.ErrorIs(t, err, economy.ErrNotFound)
}

// =============================================================================
// CHAIN PURCHASE TESTS
// =============================================================================

func TestChainPurchase_CreditsAtPurchaseRate(t *testing.T) {
	// GIVEN: A club pricing points at 2c each
	// WHEN: Crediting a verified $10.00 on-chain transfer
	// THEN: 500 purchased points arrive, settlement recorded

	f := newFixture(t)
	ctx := context.Background()
	f.seedClub(t, "club-1")

	club, err := f.store.GetClub(ctx, "club-1")
	require.NoError(t, err)
	club.Economics.PurchaseRateCents = 2
	require.NoError(t, f.store.UpdateClubEconomics(ctx, "club-1", club.Economics))

	chain := payments.NewChainPurchaseService(f.store, payments.StaticChainVerifier{}, zerolog.Nop())
	tx, err := chain.Credit(ctx, "fan-1", "club-1", "0xabc123", "club-treasury", 1000)
	require.NoError(t, err)
	assert.Equal(t, economy.Points(500), tx.Delta)

	b, err := f.ledger.GetBreakdown(ctx, "fan-1", "club-1")
	require.NoError(t, err)
	assert.Equal(t, economy.Points(500), b.Wallet.Purchased)
}

func TestChainPurchase_DuplicateHash_Rejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedClub(t, "club-1")

	chain := payments.NewChainPurchaseService(f.store, payments.StaticChainVerifier{}, zerolog.Nop())
	_, err := chain.Credit(ctx, "fan-1", "club-1", "0xabc123", "club-treasury", 1000)
	require.NoError(t, err)

	_, err = chain.Credit(ctx, "fan-1", "club-1", "0xabc123", "club-treasury", 1000)
	assert.ErrorIs(t, err, economy.ErrDuplicateExternalEvent)

	b, err := f.ledger.GetBreakdown(ctx, "fan-1", "club-1")
	require.NoError(t, err)
	assert.Equal(t, economy.Points(1000), b.Wallet.Balance, "default 1c rate mints 1000 once")
}
