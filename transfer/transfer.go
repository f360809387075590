/*
Package transfer implements peer-to-peer point movement between wallets.

DOUBLE-ENTRY:
  A transfer is two linked ledger rows sharing one trf_ reference: a SPEND
  on the sender and a PURCHASE on the recipient, written in one SQL
  transaction across both wallets. It is never observable as
  debited-but-not-credited.

POOLS:
  purchased_only  sender must cover the amount from purchased_pts
  any             sender must cover the amount from total balance_pts

STATUS:
  Both rows carry affects_status = false. Received points land in the
  recipient's purchased pool and never raise their tier.
*/
package transfer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/stagepass/points-engine/economy"
	"github.com/stagepass/points-engine/store/sqlite"
)

// Service executes transfers against the store.
type Service struct {
	store *sqlite.Store
}

// NewService creates the transfer service.
func NewService(store *sqlite.Store) *Service {
	return &Service{store: store}
}

// Result reports a completed transfer.
type Result struct {
	Reference   string
	OutgoingTx  economy.TransactionID
	IncomingTx  economy.TransactionID
	SenderAfter economy.Points
}

// Transfer moves amount points from sender to recipient within a club.
func (s *Service) Transfer(ctx context.Context, clubID economy.ClubID, sender, recipient economy.UserID, amount economy.Points, pool economy.TransferPool) (*Result, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("transfer amount must be positive: %d", amount)
	}
	if sender == recipient {
		return nil, economy.ErrTransferToSelf
	}
	switch pool {
	case economy.PoolPurchasedOnly, economy.PoolAny:
	default:
		return nil, fmt.Errorf("unknown transfer pool %q", pool)
	}

	// Recipient must be a known user; their wallet is created lazily but
	// points can't be sent into an identity that doesn't exist.
	if _, err := s.store.GetUser(ctx, recipient); err != nil {
		if errors.Is(err, economy.ErrNotFound) {
			return nil, economy.ErrRecipientNotFound
		}
		return nil, err
	}

	ref := "trf_" + uuid.NewString()
	now := time.Now().UTC()
	res := Result{Reference: ref}

	debit := sqlite.WalletDelta{Balance: -amount, Spent: amount}
	if pool == economy.PoolPurchasedOnly {
		debit.Purchased = -amount
	}

	err := s.store.WithTx(ctx, func(tx *sqlite.Tx) error {
		// Sender side: the guarded update enforces the selected pool's
		// availability. Concurrent overdraws lose here, atomically.
		if err := tx.ApplyWalletDelta(ctx, sender, clubID, debit); err != nil {
			// A sender with no wallet yet is simply broke, not missing
			if errors.Is(err, economy.ErrInsufficientPoints) || errors.Is(err, economy.ErrNotFound) {
				return s.shortageError(ctx, tx, sender, clubID, amount, pool)
			}
			return err
		}

		out := economy.Transaction{
			ID:          newTxID(),
			UserID:      sender,
			ClubID:      clubID,
			Type:        economy.TxSpend,
			Delta:       -amount,
			Source:      "transfer",
			ReferenceID: ref,
			CreatedAt:   now,
		}
		if err := tx.AppendTransaction(ctx, out); err != nil {
			return err
		}
		res.OutgoingTx = out.ID

		// Recipient side: lazy wallet creation, then credit into the
		// purchased pool with no status effect.
		if _, err := tx.EnsureWallet(ctx, recipient, clubID); err != nil {
			return err
		}
		if err := tx.ApplyWalletDelta(ctx, recipient, clubID, sqlite.WalletDelta{
			Balance: amount, Purchased: amount,
		}); err != nil {
			return err
		}

		in := economy.Transaction{
			ID:          newTxID(),
			UserID:      recipient,
			ClubID:      clubID,
			Type:        economy.TxPurchase,
			Delta:       amount,
			Source:      "transfer",
			ReferenceID: ref,
			CreatedAt:   now,
		}
		if err := tx.AppendTransaction(ctx, in); err != nil {
			return err
		}
		res.IncomingTx = in.ID

		w, err := tx.GetWallet(ctx, sender, clubID)
		if err != nil {
			return err
		}
		res.SenderAfter = w.Balance
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("club", string(clubID)).Str("from", string(sender)).
		Str("to", string(recipient)).Int64("amount", int64(amount)).
		Str("pool", string(pool)).Msg("points transferred")
	return &res, nil
}

// shortageError builds the detailed insufficiency error for the chosen pool.
// A sender with no wallet at all reads as a zero-balance wallet.
func (s *Service) shortageError(ctx context.Context, tx *sqlite.Tx, sender economy.UserID, clubID economy.ClubID, amount economy.Points, pool economy.TransferPool) error {
	var available economy.Points
	if w, err := tx.GetWallet(ctx, sender, clubID); err == nil {
		available = w.Balance
		if pool == economy.PoolPurchasedOnly && w.Purchased < available {
			available = w.Purchased
		}
	}
	return &economy.InsufficientPointsError{
		UserID: sender, ClubID: clubID, Pool: pool,
		Available: available, Requested: amount,
	}
}

func newTxID() economy.TransactionID {
	return economy.TransactionID("ptx_" + uuid.NewString())
}
