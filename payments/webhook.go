/*
webhook.go - Idempotent crediting from processor payment events

GUARANTEES:
  - Fail closed: an unverifiable signature rejects the event before any
    parsing happens.
  - Exactly-once effects: the processed-event marker, the wallet credit, the
    ledger row, the purchase completion, and the settlement aggregates all
    commit in ONE database transaction. A replayed event hits the marker's
    unique key, rolls back untouched, and reports success.
  - The ledger row carries the event id as external_ref, so even if the
    marker table were dropped the crediting itself stays at-most-once.
*/
package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stagepass/points-engine/economy"
	"github.com/stagepass/points-engine/store/sqlite"
)

// EventCheckoutCompleted is the only event type that credits points. Others
// are acknowledged and dropped.
const EventCheckoutCompleted = "checkout.completed"

// Event is the processor's webhook envelope.
type Event struct {
	ID   string    `json:"id"`
	Type string    `json:"type"`
	Data EventData `json:"data"`
}

// EventData carries the completed session's details.
type EventData struct {
	SessionID   string `json:"session_id"`
	BonusPoints int64  `json:"bonus_points"`
}

// WebhookProcessor applies processor events to the points economy.
type WebhookProcessor struct {
	store    *sqlite.Store
	verifier WebhookVerifier
	log      zerolog.Logger
	now      func() time.Time
}

// NewWebhookProcessor wires the webhook pipeline.
func NewWebhookProcessor(store *sqlite.Store, verifier WebhookVerifier, log zerolog.Logger) *WebhookProcessor {
	return &WebhookProcessor{store: store, verifier: verifier, log: log, now: time.Now}
}

// WithClock overrides the clock. Tests only.
func (p *WebhookProcessor) WithClock(now func() time.Time) *WebhookProcessor {
	p.now = now
	return p
}

// Handle verifies and applies one webhook delivery. Replays of an already
// processed event return nil so the processor stops retrying.
func (p *WebhookProcessor) Handle(ctx context.Context, payload []byte, signature string) error {
	if err := p.verifier.Verify(payload, signature); err != nil {
		p.log.Warn().Msg("webhook signature rejected")
		return err
	}

	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return fmt.Errorf("malformed webhook payload: %w", err)
	}
	if ev.ID == "" {
		return fmt.Errorf("webhook event missing id")
	}
	if ev.Type != EventCheckoutCompleted {
		p.log.Debug().Str("event_type", ev.Type).Msg("ignoring webhook event")
		return nil
	}

	purchase, err := p.store.GetPurchaseBySession(ctx, ev.Data.SessionID)
	if err != nil {
		if errors.Is(err, economy.ErrNotFound) {
			return fmt.Errorf("webhook session %q matches no purchase: %w", ev.Data.SessionID, err)
		}
		return err
	}

	club, err := p.store.GetClub(ctx, purchase.ClubID)
	if err != nil {
		return err
	}

	points := economy.Points(int64(purchase.Credits) + ev.Data.BonusPoints)
	if points <= 0 {
		return fmt.Errorf("purchase %s resolves to non-positive point total %d", purchase.ID, points)
	}

	fee, reserve, upfront := Split(purchase.AmountCents, club.Economics.PlatformFeeBps, club.Economics.ReserveBps)
	now := p.now().UTC()

	err = p.store.WithTx(ctx, func(tx *sqlite.Tx) error {
		if err := tx.MarkEventProcessed(ctx, ev.ID, "processor"); err != nil {
			return err
		}
		if _, err := tx.EnsureWallet(ctx, purchase.UserID, purchase.ClubID); err != nil {
			return err
		}
		if err := tx.ApplyWalletDelta(ctx, purchase.UserID, purchase.ClubID, sqlite.WalletDelta{
			Balance:   points,
			Purchased: points,
		}); err != nil {
			return err
		}
		if err := tx.AppendTransaction(ctx, economy.Transaction{
			ID:          economy.TransactionID("ptx_" + uuid.NewString()),
			UserID:      purchase.UserID,
			ClubID:      purchase.ClubID,
			Type:        economy.TxPurchase,
			Delta:       points,
			Source:      "checkout",
			ReferenceID: purchase.ID,
			ExternalRef: ev.ID,
			Metadata: map[string]string{
				"session_id":  purchase.SessionID,
				"gross_cents": fmt.Sprintf("%d", purchase.AmountCents),
			},
			CreatedAt: now,
		}); err != nil {
			return err
		}
		if err := tx.CompleteCreditPurchase(ctx, purchase.SessionID); err != nil {
			return err
		}
		if err := tx.AddWeeklyStats(ctx, purchase.ClubID, WeekStart(now), purchase.AmountCents, fee, reserve, upfront); err != nil {
			return err
		}
		return tx.AdjustSettlementPool(ctx, purchase.ClubID, reserve, 0)
	})

	if errors.Is(err, economy.ErrDuplicateExternalEvent) {
		p.log.Info().Str("event_id", ev.ID).Msg("webhook replay ignored")
		return nil
	}
	if err != nil {
		return err
	}

	p.log.Info().
		Str("event_id", ev.ID).
		Str("user_id", string(purchase.UserID)).
		Str("club_id", string(purchase.ClubID)).
		Int64("points", int64(points)).
		Int64("gross_cents", int64(purchase.AmountCents)).
		Msg("payment event credited")
	return nil
}

// =============================================================================
// CRYPTO PURCHASES
// =============================================================================

// chainRefTimeout bounds the oracle call so a stalled RPC node cannot hang
// the request.
const chainRefTimeout = 10 * time.Second

// ChainPurchaseService credits wallets from on-chain transfers after oracle
// verification. The transaction hash doubles as the idempotency key.
type ChainPurchaseService struct {
	store    *sqlite.Store
	verifier ChainVerifier
	log      zerolog.Logger
	now      func() time.Time
}

// NewChainPurchaseService wires crypto purchase handling.
func NewChainPurchaseService(store *sqlite.Store, verifier ChainVerifier, log zerolog.Logger) *ChainPurchaseService {
	return &ChainPurchaseService{store: store, verifier: verifier, log: log, now: time.Now}
}

// Credit verifies an on-chain transfer and mints the corresponding points.
// A hash that was already credited fails with ErrDuplicateExternalEvent.
func (s *ChainPurchaseService) Credit(ctx context.Context, userID economy.UserID, clubID economy.ClubID, txHash, recipient string, amount economy.Cents) (*economy.Transaction, error) {
	if txHash == "" {
		return nil, fmt.Errorf("transaction hash required")
	}
	if amount <= 0 {
		return nil, fmt.Errorf("amount must be positive: %d", amount)
	}

	club, err := s.store.GetClub(ctx, clubID)
	if err != nil {
		return nil, err
	}

	vctx, cancel := context.WithTimeout(ctx, chainRefTimeout)
	defer cancel()
	if err := s.verifier.VerifyTransfer(vctx, txHash, recipient, amount); err != nil {
		return nil, fmt.Errorf("%w: chain verification failed: %v", economy.ErrExternalServiceUnavailable, err)
	}

	rate := club.Economics.PurchaseRateCents
	if rate <= 0 {
		rate = 1
	}
	points := economy.Points(int64(amount) / int64(rate))
	if points <= 0 {
		return nil, fmt.Errorf("%w: %d cents buys zero points at rate %d", economy.ErrInvalidPricing, amount, rate)
	}

	ref := "chain:" + txHash
	fee, reserve, upfront := Split(amount, club.Economics.PlatformFeeBps, club.Economics.ReserveBps)
	now := s.now().UTC()

	out := economy.Transaction{
		ID:          economy.TransactionID("ptx_" + uuid.NewString()),
		UserID:      userID,
		ClubID:      clubID,
		Type:        economy.TxPurchase,
		Delta:       points,
		Source:      "chain_purchase",
		ExternalRef: ref,
		Metadata:    map[string]string{"tx_hash": txHash},
		CreatedAt:   now,
	}

	err = s.store.WithTx(ctx, func(tx *sqlite.Tx) error {
		if err := tx.MarkEventProcessed(ctx, ref, "chain"); err != nil {
			return err
		}
		if _, err := tx.EnsureWallet(ctx, userID, clubID); err != nil {
			return err
		}
		if err := tx.ApplyWalletDelta(ctx, userID, clubID, sqlite.WalletDelta{
			Balance:   points,
			Purchased: points,
		}); err != nil {
			return err
		}
		if err := tx.AppendTransaction(ctx, out); err != nil {
			return err
		}
		if err := tx.AddWeeklyStats(ctx, clubID, WeekStart(now), amount, fee, reserve, upfront); err != nil {
			return err
		}
		return tx.AdjustSettlementPool(ctx, clubID, reserve, 0)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("tx_hash", txHash).
		Str("user_id", string(userID)).
		Int64("points", int64(points)).
		Msg("chain purchase credited")
	return &out, nil
}

func nowUTC() time.Time { return time.Now().UTC() }
