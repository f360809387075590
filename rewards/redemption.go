/*
Package rewards implements the reward catalog and the redemption state
machine.

STATES:
  HELD -> CONFIRMED, plus an implicit terminal "void" reached when a HELD
  row's expiry passes without confirmation. Expired holds are treated as
  void at read time everywhere, and a background sweep deletes them so the
  table doesn't accumulate dead rows.

TRANSITIONS BY KIND:
  ACCESS:        redeem -> CONFIRMED immediately; wallet debited; no inventory
  PRESALE_LOCK:  redeem -> HELD with a 24h expiry; wallet NOT debited; a later
                 ConfirmHold debits and transitions to CONFIRMED
  VARIANT:       redeem -> CONFIRMED immediately; wallet debited; inventory
                 decremented by one, guarded so the last unit is won exactly
                 once

ATOMICITY:
  The redemption row, the wallet debit, and the inventory decrement are
  written in one SQL transaction. If any part fails nothing persists -
  there is no observable debited-but-not-redeemed state.

PRECONDITIONS:
  Reward active, inside its window, in stock (or unlimited), and the
  wallet's spendable balance covers the price. Failures map to
  RewardUnavailable, OutOfStock, InsufficientPoints.
*/
package rewards

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/stagepass/points-engine/economy"
	"github.com/stagepass/points-engine/ledger"
	"github.com/stagepass/points-engine/store/sqlite"
)

// Service drives redemptions against the wallet ledger.
type Service struct {
	store  *sqlite.Store
	ledger *ledger.Ledger

	// now is swappable for tests
	now func() time.Time
}

// NewService creates the redemption service.
func NewService(store *sqlite.Store, l *ledger.Ledger) *Service {
	return &Service{store: store, ledger: l, now: time.Now}
}

// WithClock overrides the service clock. Test hook.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Redeem executes one claim attempt for the reward.
func (s *Service) Redeem(ctx context.Context, userID economy.UserID, rewardID economy.RewardID) (*economy.Redemption, error) {
	rec, err := s.store.GetReward(ctx, rewardID)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()

	if !rec.AvailableAt(now) {
		return nil, economy.ErrRewardUnavailable
	}
	if rec.Kind == economy.KindVariant && !rec.InStock() {
		return nil, economy.ErrOutOfStock
	}

	price, err := s.effectivePrice(ctx, rec)
	if err != nil {
		return nil, err
	}

	switch rec.Kind {
	case economy.KindAccess:
		return s.redeemImmediate(ctx, userID, rec, price, false, now)
	case economy.KindVariant:
		return s.redeemImmediate(ctx, userID, rec, price, true, now)
	case economy.KindPresaleLock:
		return s.redeemHold(ctx, userID, rec, price, now)
	default:
		return nil, economy.ErrRewardUnavailable
	}
}

// effectivePrice applies the club redeem multiplier to the list price.
func (s *Service) effectivePrice(ctx context.Context, rec *sqlite.RewardRecord) (economy.Points, error) {
	club, err := s.store.GetClub(ctx, rec.ClubID)
	if err != nil {
		return 0, err
	}
	p := club.Economics.RedeemMultiplier.Mul(decimal.NewFromInt(int64(rec.PricePts))).Round(0).IntPart()
	if p < 0 {
		p = 0
	}
	return economy.Points(p), nil
}

// redeemImmediate handles ACCESS and VARIANT: debit + CONFIRMED row (+
// inventory for VARIANT) in one unit.
func (s *Service) redeemImmediate(ctx context.Context, userID economy.UserID, rec *sqlite.RewardRecord, price economy.Points, trackInventory bool, now time.Time) (*economy.Redemption, error) {
	r := economy.Redemption{
		ID:        newRedemptionID(),
		RewardID:  rec.ID,
		UserID:    userID,
		ClubID:    rec.ClubID,
		State:     economy.RedemptionConfirmed,
		PricePts:  price,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.store.WithTx(ctx, func(tx *sqlite.Tx) error {
		if _, err := tx.EnsureWallet(ctx, userID, rec.ClubID); err != nil {
			return err
		}
		if trackInventory && rec.Inventory != nil {
			if err := tx.DecrementInventory(ctx, rec.ID); err != nil {
				return err
			}
		}
		if price > 0 {
			if err := tx.ApplyWalletDelta(ctx, userID, rec.ClubID, sqlite.WalletDelta{
				Balance: -price, Spent: price,
			}); err != nil {
				return err
			}
			if err := tx.AppendTransaction(ctx, economy.Transaction{
				ID:          newLedgerID(),
				UserID:      userID,
				ClubID:      rec.ClubID,
				Type:        economy.TxSpend,
				Delta:       -price,
				Source:      "redemption",
				ReferenceID: string(r.ID),
				CreatedAt:   now,
			}); err != nil {
				return err
			}
		}
		return tx.InsertRedemption(ctx, r)
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("user", string(userID)).Str("reward", string(rec.ID)).
		Int64("price", int64(price)).Str("kind", string(rec.Kind)).Msg("reward redeemed")
	return &r, nil
}

// redeemHold handles PRESALE_LOCK: a HELD row with expiry and no debit.
func (s *Service) redeemHold(ctx context.Context, userID economy.UserID, rec *sqlite.RewardRecord, price economy.Points, now time.Time) (*economy.Redemption, error) {
	// Balance is checked up front so a member can't stack holds they could
	// never pay for; the real debit happens at confirmation.
	w, err := s.ledger.GetOrCreate(ctx, userID, rec.ClubID)
	if err != nil {
		return nil, err
	}
	if w.Balance < price {
		return nil, &economy.InsufficientPointsError{
			UserID: userID, ClubID: rec.ClubID, Pool: economy.PoolAny,
			Available: w.Balance, Requested: price,
		}
	}

	expires := now.Add(economy.HoldDuration)
	r := economy.Redemption{
		ID:        newRedemptionID(),
		RewardID:  rec.ID,
		UserID:    userID,
		ClubID:    rec.ClubID,
		State:     economy.RedemptionHeld,
		PricePts:  price,
		ExpiresAt: &expires,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = s.store.WithTx(ctx, func(tx *sqlite.Tx) error {
		return tx.InsertRedemption(ctx, r)
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("user", string(userID)).Str("reward", string(rec.ID)).
		Time("expires", expires).Msg("presale hold created")
	return &r, nil
}

// ConfirmHold finalizes a HELD redemption: debit the held price and
// transition to CONFIRMED, atomically. An expired or already-confirmed hold
// fails with RewardUnavailable.
func (s *Service) ConfirmHold(ctx context.Context, userID economy.UserID, redemptionID economy.RedemptionID) (*economy.Redemption, error) {
	r, err := s.store.GetRedemption(ctx, redemptionID)
	if err != nil {
		return nil, err
	}
	if r.UserID != userID {
		return nil, economy.ErrNotFound
	}
	now := s.now().UTC()
	if r.State != economy.RedemptionHeld || r.Expired(now) {
		return nil, economy.ErrRewardUnavailable
	}

	err = s.store.WithTx(ctx, func(tx *sqlite.Tx) error {
		// Guarded transition first: it loses cleanly if the hold expired or
		// another confirm won the race.
		if err := tx.ConfirmRedemption(ctx, r.ID, now); err != nil {
			return err
		}
		if r.PricePts > 0 {
			if err := tx.ApplyWalletDelta(ctx, userID, r.ClubID, sqlite.WalletDelta{
				Balance: -r.PricePts, Spent: r.PricePts,
			}); err != nil {
				return err
			}
			if err := tx.AppendTransaction(ctx, economy.Transaction{
				ID:          newLedgerID(),
				UserID:      userID,
				ClubID:      r.ClubID,
				Type:        economy.TxSpend,
				Delta:       -r.PricePts,
				Source:      "hold_confirm",
				ReferenceID: string(r.ID),
				CreatedAt:   now,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.State = economy.RedemptionConfirmed
	r.ExpiresAt = nil
	r.UpdatedAt = now
	return r, nil
}

// ListForUser returns a user's redemptions with expired holds filtered out -
// readers never see a void hold as live.
func (s *Service) ListForUser(ctx context.Context, userID economy.UserID, clubID economy.ClubID) ([]economy.Redemption, error) {
	all, err := s.store.ListRedemptions(ctx, userID, clubID)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	live := make([]economy.Redemption, 0, len(all))
	for _, r := range all {
		if r.Expired(now) {
			continue
		}
		live = append(live, r)
	}
	return live, nil
}

// SweepExpiredHolds voids HELD redemptions past expiry. Returns the number
// swept. Run periodically; the read paths already treat them as void, so the
// sweep is hygiene, not correctness.
func (s *Service) SweepExpiredHolds(ctx context.Context) (int, error) {
	now := s.now().UTC()
	expired, err := s.store.ExpiredHolds(ctx, now, 500)
	if err != nil {
		return 0, err
	}

	swept := 0
	for _, r := range expired {
		err := s.store.WithTx(ctx, func(tx *sqlite.Tx) error {
			return tx.DeleteExpiredHold(ctx, r.ID, now)
		})
		if err != nil {
			return swept, err
		}
		swept++
	}
	if swept > 0 {
		log.Info().Int("count", swept).Msg("expired presale holds swept")
	}
	return swept, nil
}

// =============================================================================
// CATALOG
// =============================================================================

// Create validates and stores a new catalog entry.
func (s *Service) Create(ctx context.Context, r economy.Reward) (*economy.Reward, error) {
	if r.PricePts < 0 {
		return nil, errors.New("reward price cannot be negative")
	}
	if r.Inventory != nil && *r.Inventory < 0 {
		return nil, errors.New("reward inventory cannot be negative")
	}
	switch r.Kind {
	case economy.KindAccess, economy.KindPresaleLock, economy.KindVariant:
	default:
		return nil, errors.New("unknown reward kind")
	}

	if r.ID == "" {
		r.ID = economy.RewardID("rw_" + uuid.NewString())
	}
	r.CreatedAt = s.now().UTC()
	if err := s.store.SaveReward(ctx, r); err != nil {
		return nil, err
	}
	return &r, nil
}

func newRedemptionID() economy.RedemptionID {
	return economy.RedemptionID("rdm_" + uuid.NewString())
}

func newLedgerID() economy.TransactionID {
	return economy.TransactionID("ptx_" + uuid.NewString())
}
