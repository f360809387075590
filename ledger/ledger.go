/*
Package ledger implements the wallet ledger - the authoritative balance
arithmetic of the points engine.

PURPOSE:
  Every point that moves in the system moves through this package. A credit
  or debit is one SQL transaction containing exactly two effects: a guarded
  update of the wallet's aggregate columns and an append of an immutable
  transaction row. Wallets are never mutated without a transaction row, so
  balance_pts always equals the net of the wallet's ledger entries.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: the transaction log is never updated or deleted
  2. ATOMIC: aggregate update + ledger row commit together or not at all
  3. NON-NEGATIVE: debits that would overdraw fail with InsufficientPoints
  4. DERIVABLE: Verify recomputes balance from the log and must agree

POOLS:
  Credits route into the earned or purchased pool depending on kind:
  - BONUS with AffectsStatus      -> earned (+status) pool, drives tier
  - BONUS from a transfer         -> spendable only, no status effect
  - PURCHASE (bought/transferred) -> purchased pool, never drives status
  Debits reduce spendable balance and accumulate spent_pts; transfers from
  the purchased_only pool additionally draw down purchased_pts.

STATUS POINTS:
  status_pts is maintained equal to the status-affecting subset of
  earned_pts. Earned points are the single source of truth; the column is
  kept in lockstep by this package and tier derivation reads it through
  StatusOf, never from any cached tier value.
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/stagepass/points-engine/economy"
	"github.com/stagepass/points-engine/store/sqlite"
)

// Ledger performs wallet mutations against the authoritative store.
type Ledger struct {
	store *sqlite.Store
}

// New creates a ledger over the given store.
func New(store *sqlite.Store) *Ledger {
	return &Ledger{store: store}
}

// Store exposes the underlying store for read-model queries.
func (l *Ledger) Store() *sqlite.Store { return l.store }

// CreditOptions tune a credit beyond amount and kind.
type CreditOptions struct {
	// AffectsStatus routes BONUS credits into the status-driving earned
	// pool. Transfers set this false so received points never raise a tier.
	AffectsStatus bool

	Source      string
	ReferenceID string

	// ExternalRef makes the credit at-most-once: a second credit with the
	// same ref fails with ErrDuplicateExternalEvent.
	ExternalRef string

	Metadata map[string]string
}

// DebitOptions tune a debit.
type DebitOptions struct {
	Source      string
	ReferenceID string
	Metadata    map[string]string

	// FromPurchased additionally draws down the purchased pool (transfers
	// with pool=purchased_only).
	FromPurchased bool
}

// GetOrCreate returns the wallet for (user, club), lazily creating an
// all-zero one. Concurrent first-time access resolves to a single wallet.
func (l *Ledger) GetOrCreate(ctx context.Context, userID economy.UserID, clubID economy.ClubID) (*economy.Wallet, error) {
	var w *economy.Wallet
	err := l.store.WithTx(ctx, func(tx *sqlite.Tx) error {
		var err error
		w, err = tx.EnsureWallet(ctx, userID, clubID)
		return err
	})
	return w, err
}

// Credit adds points to a wallet and appends the ledger row atomically.
func (l *Ledger) Credit(ctx context.Context, userID economy.UserID, clubID economy.ClubID, amount economy.Points, kind economy.TransactionType, opts CreditOptions) (*economy.Transaction, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("credit amount must be positive: %d", amount)
	}

	delta := sqlite.WalletDelta{Balance: amount}
	switch kind {
	case economy.TxPurchase:
		delta.Purchased = amount
	case economy.TxBonus:
		if opts.AffectsStatus {
			delta.Earned = amount
			delta.Status = amount
		}
	case economy.TxRefund:
		// Spendable back; spent_pts stays as the historical gross
	default:
		return nil, fmt.Errorf("cannot credit with transaction type %s", kind)
	}

	tx := economy.Transaction{
		ID:            newTransactionID(),
		UserID:        userID,
		ClubID:        clubID,
		Type:          kind,
		Delta:         amount,
		AffectsStatus: opts.AffectsStatus,
		Source:        opts.Source,
		ReferenceID:   opts.ReferenceID,
		ExternalRef:   opts.ExternalRef,
		Metadata:      opts.Metadata,
		CreatedAt:     time.Now().UTC(),
	}

	err := l.store.WithTx(ctx, func(st *sqlite.Tx) error {
		if _, err := st.EnsureWallet(ctx, userID, clubID); err != nil {
			return err
		}
		// Ledger row first: the unique external_ref rejects replays before
		// the wallet is touched.
		if err := st.AppendTransaction(ctx, tx); err != nil {
			return err
		}
		return st.ApplyWalletDelta(ctx, userID, clubID, delta)
	})
	if err != nil {
		return nil, err
	}

	log.Debug().Str("user", string(userID)).Str("club", string(clubID)).
		Int64("delta", int64(amount)).Str("type", string(kind)).Msg("wallet credited")
	return &tx, nil
}

// Debit removes points from a wallet and appends the ledger row atomically.
// Fails with InsufficientPoints when the wallet cannot cover the amount.
func (l *Ledger) Debit(ctx context.Context, userID economy.UserID, clubID economy.ClubID, amount economy.Points, kind economy.TransactionType, opts DebitOptions) (*economy.Transaction, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("debit amount must be positive: %d", amount)
	}
	if kind != economy.TxSpend {
		return nil, fmt.Errorf("cannot debit with transaction type %s", kind)
	}

	delta := sqlite.WalletDelta{Balance: -amount, Spent: amount}
	if opts.FromPurchased {
		delta.Purchased = -amount
	}

	tx := economy.Transaction{
		ID:          newTransactionID(),
		UserID:      userID,
		ClubID:      clubID,
		Type:        kind,
		Delta:       -amount,
		Source:      opts.Source,
		ReferenceID: opts.ReferenceID,
		Metadata:    opts.Metadata,
		CreatedAt:   time.Now().UTC(),
	}

	err := l.store.WithTx(ctx, func(st *sqlite.Tx) error {
		if err := st.AppendTransaction(ctx, tx); err != nil {
			return err
		}
		return l.applyDebit(ctx, st, userID, clubID, delta)
	})
	if err != nil {
		return nil, err
	}

	log.Debug().Str("user", string(userID)).Str("club", string(clubID)).
		Int64("delta", -int64(amount)).Msg("wallet debited")
	return &tx, nil
}

func (l *Ledger) applyDebit(ctx context.Context, st *sqlite.Tx, userID economy.UserID, clubID economy.ClubID, delta sqlite.WalletDelta) error {
	err := st.ApplyWalletDelta(ctx, userID, clubID, delta)
	if errors.Is(err, economy.ErrInsufficientPoints) {
		// Enrich with current numbers for the caller
		if w, gerr := st.GetWallet(ctx, userID, clubID); gerr == nil {
			avail := w.Balance
			pool := economy.PoolAny
			if delta.Purchased < 0 {
				pool = economy.PoolPurchasedOnly
				if w.Purchased < avail {
					avail = w.Purchased
				}
			}
			return &economy.InsufficientPointsError{
				UserID: userID, ClubID: clubID, Pool: pool,
				Available: avail, Requested: -delta.Balance,
			}
		}
	}
	return err
}

// Escrow moves spendable balance into the escrowed pool pending resolution.
func (l *Ledger) Escrow(ctx context.Context, userID economy.UserID, clubID economy.ClubID, amount economy.Points, reference string) error {
	if amount <= 0 {
		return fmt.Errorf("escrow amount must be positive: %d", amount)
	}
	return l.store.WithTx(ctx, func(st *sqlite.Tx) error {
		tx := economy.Transaction{
			ID:          newTransactionID(),
			UserID:      userID,
			ClubID:      clubID,
			Type:        economy.TxSpend,
			Delta:       -amount,
			Source:      "escrow",
			ReferenceID: reference,
			CreatedAt:   time.Now().UTC(),
		}
		if err := st.AppendTransaction(ctx, tx); err != nil {
			return err
		}
		return st.ApplyWalletDelta(ctx, userID, clubID, sqlite.WalletDelta{
			Balance: -amount, Escrowed: amount,
		})
	})
}

// ReleaseEscrow returns escrowed points to the spendable balance.
func (l *Ledger) ReleaseEscrow(ctx context.Context, userID economy.UserID, clubID economy.ClubID, amount economy.Points, reference string) error {
	if amount <= 0 {
		return fmt.Errorf("release amount must be positive: %d", amount)
	}
	return l.store.WithTx(ctx, func(st *sqlite.Tx) error {
		tx := economy.Transaction{
			ID:          newTransactionID(),
			UserID:      userID,
			ClubID:      clubID,
			Type:        economy.TxRefund,
			Delta:       amount,
			Source:      "escrow_release",
			ReferenceID: reference,
			CreatedAt:   time.Now().UTC(),
		}
		if err := st.AppendTransaction(ctx, tx); err != nil {
			return err
		}
		return st.ApplyWalletDelta(ctx, userID, clubID, sqlite.WalletDelta{
			Balance: amount, Escrowed: -amount,
		})
	})
}

// =============================================================================
// EARNING (tap-in path with club economics)
// =============================================================================

// Earn credits activity points through the club's economics: the club earn
// multiplier and the member's per-tier status multiplier scale the base
// amount. Returns the credited transaction and the points actually granted.
func (l *Ledger) Earn(ctx context.Context, userID economy.UserID, club *economy.Club, base economy.Points, source string, multipliers map[economy.Tier]decimal.Decimal) (*economy.Transaction, economy.Points, error) {
	if base <= 0 {
		return nil, 0, fmt.Errorf("earn amount must be positive: %d", base)
	}

	w, err := l.GetOrCreate(ctx, userID, club.ID)
	if err != nil {
		return nil, 0, err
	}

	amount := decimal.NewFromInt(int64(base)).Mul(club.Economics.EarnMultiplier)
	tier := economy.StatusFor(w.Status).Tier
	if m, ok := multipliers[tier]; ok {
		amount = amount.Mul(m)
	}
	granted := economy.Points(amount.Round(0).IntPart())
	if granted <= 0 {
		granted = 1 // Multipliers never round an activity to nothing
	}

	tx, err := l.Credit(ctx, userID, club.ID, granted, economy.TxBonus, CreditOptions{
		AffectsStatus: true,
		Source:        source,
	})
	if err != nil {
		return nil, 0, err
	}
	return tx, granted, nil
}

// =============================================================================
// READ MODELS
// =============================================================================

// Breakdown is the wallet read model with derived tier state.
type Breakdown struct {
	Wallet economy.Wallet
	Status economy.Status
}

// GetBreakdown returns the wallet plus the tier derived from its status
// points. A missing wallet reads as all-zero: lazy creation means "no wallet"
// and "empty wallet" are the same thing to readers.
func (l *Ledger) GetBreakdown(ctx context.Context, userID economy.UserID, clubID economy.ClubID) (*Breakdown, error) {
	w, err := l.store.GetWallet(ctx, userID, clubID)
	if errors.Is(err, economy.ErrNotFound) {
		w = &economy.Wallet{UserID: userID, ClubID: clubID}
	} else if err != nil {
		return nil, err
	}
	return &Breakdown{Wallet: *w, Status: economy.StatusFor(w.Status)}, nil
}

// StatusOf derives the member's tier from the ledger. This is the read path
// pricing and access control use; cached tier columns are never consulted.
func (l *Ledger) StatusOf(ctx context.Context, userID economy.UserID, clubID economy.ClubID) (economy.Status, error) {
	b, err := l.GetBreakdown(ctx, userID, clubID)
	if err != nil {
		return economy.Status{}, err
	}
	return b.Status, nil
}

// Verify checks the balance invariant: balance_pts must equal the sum of the
// wallet's transaction deltas. Returns an error naming both numbers if not.
func (l *Ledger) Verify(ctx context.Context, userID economy.UserID, clubID economy.ClubID) error {
	w, err := l.store.GetWallet(ctx, userID, clubID)
	if err != nil {
		return err
	}
	sum, err := l.store.SumTransactionDeltas(ctx, userID, clubID)
	if err != nil {
		return err
	}
	if w.Balance != sum {
		return fmt.Errorf("balance invariant violated for %s/%s: wallet %d, ledger %d",
			userID, clubID, w.Balance, sum)
	}
	return nil
}

func newTransactionID() economy.TransactionID {
	return economy.TransactionID("ptx_" + uuid.NewString())
}
