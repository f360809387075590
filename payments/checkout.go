/*
checkout.go - Real-currency purchase initiation

FLOW:
  1. Resolve the reward's purchase config (tier pricing or credit campaign).
  2. Price it against the buyer's derived tier and any club promo. Pricing
     failures (sub-floor prices, bad config) reject BEFORE any session is
     opened with the processor.
  3. Enforce one-per-member on non-repeatable rewards.
  4. Open the processor session under the purchase's stable idempotency key
     and record a pending credit_purchases row. A retried request hits the
     same key and gets the same session back instead of a duplicate charge.
     Completed generations of a repeatable purchase advance the key, so a
     member can buy the same credit campaign again.
*/
package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stagepass/points-engine/economy"
	"github.com/stagepass/points-engine/ledger"
	"github.com/stagepass/points-engine/store/sqlite"
)

// CheckoutService starts real-currency purchases.
type CheckoutService struct {
	store     *sqlite.Store
	ledger    *ledger.Ledger
	processor Processor
	log       zerolog.Logger
}

// NewCheckoutService wires the checkout flow.
func NewCheckoutService(store *sqlite.Store, lg *ledger.Ledger, processor Processor, log zerolog.Logger) *CheckoutService {
	return &CheckoutService{store: store, ledger: lg, processor: processor, log: log}
}

// CheckoutResult is what the client needs to complete payment.
type CheckoutResult struct {
	PurchaseID string
	SessionID  string
	SessionURL string
	Quote      economy.Quote

	// Reused is true when a retry landed on an in-flight session.
	Reused bool
}

// Start prices a purchasable reward for the buyer and opens a checkout
// session. Safe to retry: the same (reward, user, price) reuses the pending
// session rather than opening another.
func (s *CheckoutService) Start(ctx context.Context, userID economy.UserID, rewardID economy.RewardID) (*CheckoutResult, error) {
	rec, err := s.store.GetReward(ctx, rewardID)
	if err != nil {
		return nil, err
	}
	if !rec.Active {
		return nil, economy.ErrRewardUnavailable
	}

	club, err := s.store.GetClub(ctx, rec.ClubID)
	if err != nil {
		return nil, err
	}

	quote, err := s.price(ctx, userID, club, rec)
	if err != nil {
		return nil, err
	}

	// A retry lands here with the same key. Reuse the pending session; a
	// completed non-repeatable purchase means the member already owns it.
	// Completed generations of a repeatable purchase advance the key, so a
	// deliberate repeat falls through to a fresh session.
	baseKey := quote.IdempotencyKey
	var existing *sqlite.CreditPurchase
	for seq := 0; ; seq++ {
		quote.IdempotencyKey = economy.RepeatPurchaseKey(baseKey, seq)
		existing, err = s.store.GetPurchaseByIdempotencyKey(ctx, quote.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if existing == nil || !quote.Repeatable || existing.Status != "completed" {
			break
		}
	}
	if existing != nil {
		if existing.Status == "completed" && !quote.Repeatable {
			return nil, economy.ErrAlreadyClaimed
		}
		if existing.Status == "pending" {
			sess, err := s.session(ctx, rec, quote)
			if err != nil {
				return nil, err
			}
			return &CheckoutResult{
				PurchaseID: existing.ID,
				SessionID:  existing.SessionID,
				SessionURL: sess.URL,
				Quote:      quote,
				Reused:     true,
			}, nil
		}
	}

	if !quote.Repeatable {
		claimed, err := s.store.HasActiveClaim(ctx, userID, rewardID, nowUTC())
		if err != nil {
			return nil, err
		}
		if claimed {
			return nil, economy.ErrAlreadyClaimed
		}
	}

	sess, err := s.session(ctx, rec, quote)
	if err != nil {
		return nil, err
	}

	purchase := sqlite.CreditPurchase{
		ID:             "cp_" + uuid.NewString(),
		UserID:         userID,
		ClubID:         rec.ClubID,
		RewardID:       rewardID,
		Credits:        s.credits(rec, quote),
		AmountCents:    quote.FinalPrice,
		IdempotencyKey: quote.IdempotencyKey,
		SessionID:      sess.ID,
		Status:         "pending",
	}

	err = s.store.WithTx(ctx, func(tx *sqlite.Tx) error {
		return tx.InsertCreditPurchase(ctx, purchase)
	})
	if errors.Is(err, economy.ErrDatastoreConflict) {
		// Concurrent retry inserted first. Theirs is canonical.
		existing, gerr := s.store.GetPurchaseByIdempotencyKey(ctx, quote.IdempotencyKey)
		if gerr != nil || existing == nil {
			return nil, fmt.Errorf("checkout collision without winner: %w", err)
		}
		return &CheckoutResult{
			PurchaseID: existing.ID,
			SessionID:  existing.SessionID,
			SessionURL: sess.URL,
			Quote:      quote,
			Reused:     true,
		}, nil
	}
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("user_id", string(userID)).
		Str("reward_id", string(rewardID)).
		Int64("final_cents", int64(quote.FinalPrice)).
		Int("discount_pct", quote.DiscountPct).
		Str("session_id", sess.ID).
		Msg("checkout session opened")

	return &CheckoutResult{
		PurchaseID: purchase.ID,
		SessionID:  sess.ID,
		SessionURL: sess.URL,
		Quote:      quote,
	}, nil
}

// price computes the quote for whichever purchase mode the reward carries.
func (s *CheckoutService) price(ctx context.Context, userID economy.UserID, club *economy.Club, rec *sqlite.RewardRecord) (economy.Quote, error) {
	if rec.Campaign != nil {
		return economy.PriceCreditCampaign(*rec.Campaign, userID)
	}
	if rec.Pricing == nil {
		return economy.Quote{}, &economy.PricingError{
			RewardID: rec.ID,
			Reason:   "reward has no purchase configuration",
		}
	}

	status, err := s.ledger.StatusOf(ctx, userID, club.ID)
	if err != nil {
		return economy.Quote{}, err
	}

	pricing := *rec.Pricing
	pricing.PromoPct = club.Economics.PromoDiscountPct
	return economy.PriceTierReward(pricing, userID, status.Tier)
}

func (s *CheckoutService) session(ctx context.Context, rec *sqlite.RewardRecord, q economy.Quote) (*CheckoutSession, error) {
	sess, err := s.processor.CreateCheckoutSession(ctx, LineItem{
		Name:        rec.Name,
		AmountCents: q.FinalPrice,
		Quantity:    1,
	}, map[string]string{
		"user_id":   string(q.UserID),
		"club_id":   string(rec.ClubID),
		"reward_id": string(q.RewardID),
	}, q.IdempotencyKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", economy.ErrExternalServiceUnavailable, err)
	}
	return sess, nil
}

// credits resolves how many points the completed purchase will mint.
func (s *CheckoutService) credits(rec *sqlite.RewardRecord, q economy.Quote) int {
	if rec.Campaign != nil {
		return rec.Campaign.Credits
	}
	return int(rec.PricePts)
}
