/*
Package sqlite provides the SQLite-backed datastore for the points engine.

PURPOSE:
  Implements all persistence for the economy core. In production the same
  patterns apply to PostgreSQL - only minor SQL dialect differences.

CORRECTNESS MODEL:
  Every economic operation is a concurrent, stateless request against shared
  rows, so correctness lives entirely in the store's discipline:

  - Guarded updates: balance and inventory changes are single UPDATE
    statements whose WHERE clause enforces non-negativity. Zero rows
    affected is interpreted as a domain error (insufficient points, out of
    stock), never as a silent no-op.
  - Unique constraints: wallet identity (user_id, club_id), transaction
    external_ref, processed event ids. Constraint violations map to
    economy.ErrDatastoreConflict or economy.ErrDuplicateExternalEvent.
  - WithTx: multi-row effects (debit + redemption row + inventory, webhook
    credit + settlement + processed marker, double-entry transfers) run in
    one SQL transaction through the Tx handle.

APPEND-ONLY LEDGER:
  No UPDATE or DELETE ever touches point_transactions. Corrections are
  REFUND rows.

KEY TABLES:
  users, clubs, point_wallets, point_transactions, tier_rewards,
  reward_redemptions, credit_purchases, processed_payment_events,
  club_settlement_pools, weekly_upfront_stats, status_multipliers

WAL MODE:
  SQLite is opened with WAL for better concurrency: readers don't block,
  single writer at a time, better crash recovery. A process-level mutex
  serializes writers; PostgreSQL row locking replaces it in production.

USAGE:
  store, err := sqlite.New("./data/points.db")   // ":memory:" for tests
  defer store.Close()
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/stagepass/points-engine/economy"
)

// Store implements persistence for the points engine using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a store backed by the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Users (stable internal identity, never deleted)
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		display_name TEXT NOT NULL,
		auth_ref TEXT NOT NULL UNIQUE,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL
	);

	-- Clubs with configurable economics
	CREATE TABLE IF NOT EXISTS clubs (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		owner_id TEXT NOT NULL,
		earn_multiplier TEXT NOT NULL,
		redeem_multiplier TEXT NOT NULL,
		promo_discount_pct INTEGER NOT NULL DEFAULT 0,
		peg_rate_cents INTEGER NOT NULL DEFAULT 1,
		purchase_rate_cents INTEGER NOT NULL DEFAULT 1,
		platform_fee_bps INTEGER NOT NULL DEFAULT 500,
		reserve_bps INTEGER NOT NULL DEFAULT 1000,
		created_at TEXT NOT NULL
	);

	-- Wallets: one per (user, club), lazily created, never deleted.
	-- The composite primary key is what makes concurrent first-time access
	-- resolve to a single wallet (insert conflict -> re-fetch).
	CREATE TABLE IF NOT EXISTS point_wallets (
		user_id TEXT NOT NULL,
		club_id TEXT NOT NULL,
		balance_pts INTEGER NOT NULL DEFAULT 0,
		earned_pts INTEGER NOT NULL DEFAULT 0,
		purchased_pts INTEGER NOT NULL DEFAULT 0,
		spent_pts INTEGER NOT NULL DEFAULT 0,
		escrowed_pts INTEGER NOT NULL DEFAULT 0,
		status_pts INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (user_id, club_id),
		CHECK (balance_pts >= 0),
		CHECK (purchased_pts >= 0),
		CHECK (escrowed_pts >= 0)
	);

	-- Transactions (append-only ledger)
	CREATE TABLE IF NOT EXISTS point_transactions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		club_id TEXT NOT NULL,
		tx_type TEXT NOT NULL,
		delta INTEGER NOT NULL,
		affects_status BOOLEAN NOT NULL DEFAULT TRUE,
		source TEXT,
		reference_id TEXT,
		external_ref TEXT,
		metadata_json TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_wallet
		ON point_transactions(user_id, club_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_transactions_reference
		ON point_transactions(reference_id) WHERE reference_id != '';

	-- CRITICAL: a payment event / chain tx credits a wallet at most once
	CREATE UNIQUE INDEX IF NOT EXISTS idx_transactions_external_ref
		ON point_transactions(external_ref) WHERE external_ref != '';

	-- Tier rewards (catalog + optional real-currency purchase config)
	CREATE TABLE IF NOT EXISTS tier_rewards (
		id TEXT PRIMARY KEY,
		club_id TEXT NOT NULL,
		name TEXT NOT NULL,
		kind TEXT NOT NULL,
		price_pts INTEGER NOT NULL,
		inventory INTEGER,
		window_start TEXT,
		window_end TEXT,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		base_price_cents INTEGER,
		min_tier TEXT,
		discounts_json TEXT,
		campaign_credits INTEGER,
		campaign_rate_cents INTEGER,
		created_at TEXT NOT NULL,
		CHECK (inventory IS NULL OR inventory >= 0)
	);

	CREATE INDEX IF NOT EXISTS idx_rewards_club ON tier_rewards(club_id);

	-- Redemptions (claim attempts)
	CREATE TABLE IF NOT EXISTS reward_redemptions (
		id TEXT PRIMARY KEY,
		reward_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		club_id TEXT NOT NULL,
		state TEXT NOT NULL,
		price_pts INTEGER NOT NULL,
		expires_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_redemptions_user
		ON reward_redemptions(user_id, club_id);
	CREATE INDEX IF NOT EXISTS idx_redemptions_reward
		ON reward_redemptions(reward_id, user_id);
	CREATE INDEX IF NOT EXISTS idx_redemptions_held
		ON reward_redemptions(state, expires_at) WHERE state = 'HELD';

	-- Real-currency purchases (tier rewards and credit campaigns)
	CREATE TABLE IF NOT EXISTS credit_purchases (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		club_id TEXT NOT NULL,
		reward_id TEXT NOT NULL,
		credits INTEGER NOT NULL DEFAULT 0,
		amount_cents INTEGER NOT NULL,
		idempotency_key TEXT NOT NULL,
		session_id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- A retried purchase reuses its session instead of opening a new one
	CREATE UNIQUE INDEX IF NOT EXISTS idx_purchases_idempotency
		ON credit_purchases(idempotency_key);
	CREATE INDEX IF NOT EXISTS idx_purchases_user_reward
		ON credit_purchases(user_id, reward_id);

	-- Idempotency records for webhook events and chain tx hashes
	CREATE TABLE IF NOT EXISTS processed_payment_events (
		event_id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		processed_at TEXT NOT NULL
	);

	-- Per-club settlement pool (reserve solvency)
	CREATE TABLE IF NOT EXISTS club_settlement_pools (
		club_id TEXT PRIMARY KEY,
		balance_cents INTEGER NOT NULL DEFAULT 0,
		reserved_cents INTEGER NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL
	);

	-- Weekly settlement aggregates
	CREATE TABLE IF NOT EXISTS weekly_upfront_stats (
		club_id TEXT NOT NULL,
		week_start TEXT NOT NULL,
		gross_cents INTEGER NOT NULL DEFAULT 0,
		platform_fee_cents INTEGER NOT NULL DEFAULT 0,
		reserve_delta_cents INTEGER NOT NULL DEFAULT 0,
		upfront_cents INTEGER NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (club_id, week_start)
	);

	-- Per-tier earn multipliers (club-configurable)
	CREATE TABLE IF NOT EXISTS status_multipliers (
		club_id TEXT NOT NULL,
		tier TEXT NOT NULL,
		multiplier TEXT NOT NULL,
		PRIMARY KEY (club_id, tier)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL UNIT - WithTx
// =============================================================================

// Tx exposes the mutation primitives that must compose atomically.
// All methods run inside the enclosing SQL transaction.
type Tx struct {
	tx *sql.Tx
}

// WithTx runs fn inside a single SQL transaction. Any error rolls everything
// back; the commit makes all effects visible at once.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&Tx{tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// =============================================================================
// WALLETS
// =============================================================================

// EnsureWallet returns the wallet for (user, club), creating an all-zero one
// if absent. Safe under concurrent first-time access: the composite primary
// key makes the duplicate-creation race resolve to a single row.
func (t *Tx) EnsureWallet(ctx context.Context, userID economy.UserID, clubID economy.ClubID) (*economy.Wallet, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO point_wallets (user_id, club_id, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id, club_id) DO NOTHING`,
		userID, clubID, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure wallet: %w", err)
	}
	return t.GetWallet(ctx, userID, clubID)
}

// GetWallet returns the wallet inside the transaction, or ErrNotFound.
func (t *Tx) GetWallet(ctx context.Context, userID economy.UserID, clubID economy.ClubID) (*economy.Wallet, error) {
	row := t.tx.QueryRowContext(ctx, walletSelect+` WHERE user_id = ? AND club_id = ?`, userID, clubID)
	return scanWallet(row)
}

// WalletDelta is a signed adjustment to a wallet's aggregate columns.
type WalletDelta struct {
	Balance   economy.Points
	Earned    economy.Points
	Purchased economy.Points
	Spent     economy.Points
	Escrowed  economy.Points
	Status    economy.Points
}

// ApplyWalletDelta adjusts the wallet's aggregates in one guarded UPDATE.
// The WHERE clause enforces non-negativity atomically; zero rows affected is
// returned as ErrInsufficientPoints (or ErrNotFound if the wallet is missing).
func (t *Tx) ApplyWalletDelta(ctx context.Context, userID economy.UserID, clubID economy.ClubID, d WalletDelta) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE point_wallets SET
			balance_pts = balance_pts + ?,
			earned_pts = earned_pts + ?,
			purchased_pts = purchased_pts + ?,
			spent_pts = spent_pts + ?,
			escrowed_pts = escrowed_pts + ?,
			status_pts = status_pts + ?,
			updated_at = ?
		WHERE user_id = ? AND club_id = ?
		  AND balance_pts + ? >= 0
		  AND purchased_pts + ? >= 0
		  AND escrowed_pts + ? >= 0`,
		d.Balance, d.Earned, d.Purchased, d.Spent, d.Escrowed, d.Status,
		time.Now().UTC().Format(time.RFC3339),
		userID, clubID,
		d.Balance, d.Purchased, d.Escrowed,
	)
	if err != nil {
		if isConstraintError(err) {
			return economy.ErrInsufficientPoints
		}
		return fmt.Errorf("failed to update wallet: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Distinguish "no wallet" from "guard rejected"
		if _, gerr := t.GetWallet(ctx, userID, clubID); gerr != nil {
			return gerr
		}
		return economy.ErrInsufficientPoints
	}
	return nil
}

// AppendTransaction writes one immutable ledger row. A duplicate external_ref
// maps to ErrDuplicateExternalEvent - the crediting idempotency backstop.
func (t *Tx) AppendTransaction(ctx context.Context, tx economy.Transaction) error {
	metadataJSON, _ := json.Marshal(tx.Metadata)

	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO point_transactions
		(id, user_id, club_id, tx_type, delta, affects_status, source, reference_id, external_ref, metadata_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.UserID, tx.ClubID, tx.Type, tx.Delta, tx.AffectsStatus,
		tx.Source, tx.ReferenceID, tx.ExternalRef, string(metadataJSON),
		tx.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			if strings.Contains(err.Error(), "external_ref") {
				return economy.ErrDuplicateExternalEvent
			}
			return economy.ErrDatastoreConflict
		}
		return fmt.Errorf("failed to append transaction: %w", err)
	}
	return nil
}

// =============================================================================
// REWARDS + REDEMPTIONS (transactional primitives)
// =============================================================================

// DecrementInventory takes one unit of a tracked reward. Zero rows affected
// means sold out.
func (t *Tx) DecrementInventory(ctx context.Context, rewardID economy.RewardID) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE tier_rewards SET inventory = inventory - 1
		WHERE id = ? AND inventory IS NOT NULL AND inventory > 0`,
		rewardID,
	)
	if err != nil {
		if isConstraintError(err) {
			return economy.ErrOutOfStock
		}
		return fmt.Errorf("failed to decrement inventory: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return economy.ErrOutOfStock
	}
	return nil
}

// InsertRedemption writes a redemption row.
func (t *Tx) InsertRedemption(ctx context.Context, r economy.Redemption) error {
	var expires any
	if r.ExpiresAt != nil {
		expires = r.ExpiresAt.UTC().Format(time.RFC3339)
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO reward_redemptions
		(id, reward_id, user_id, club_id, state, price_pts, expires_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.RewardID, r.UserID, r.ClubID, r.State, r.PricePts, expires,
		r.CreatedAt.UTC().Format(time.RFC3339), r.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return economy.ErrDatastoreConflict
		}
		return fmt.Errorf("failed to insert redemption: %w", err)
	}
	return nil
}

// ConfirmRedemption transitions a HELD row to CONFIRMED, guarded against the
// hold having expired or already been confirmed. Zero rows = lost race.
func (t *Tx) ConfirmRedemption(ctx context.Context, id economy.RedemptionID, now time.Time) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE reward_redemptions
		SET state = ?, expires_at = NULL, updated_at = ?
		WHERE id = ? AND state = ? AND expires_at > ?`,
		economy.RedemptionConfirmed, now.UTC().Format(time.RFC3339),
		id, economy.RedemptionHeld, now.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to confirm redemption: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return economy.ErrRewardUnavailable
	}
	return nil
}

// DeleteExpiredHold removes one expired HELD row (reconciler sweep).
func (t *Tx) DeleteExpiredHold(ctx context.Context, id economy.RedemptionID, now time.Time) error {
	_, err := t.tx.ExecContext(ctx, `
		DELETE FROM reward_redemptions
		WHERE id = ? AND state = ? AND expires_at <= ?`,
		id, economy.RedemptionHeld, now.UTC().Format(time.RFC3339),
	)
	return err
}

// =============================================================================
// PAYMENT EVENTS + SETTLEMENT (transactional primitives)
// =============================================================================

// MarkEventProcessed records an external event id. A duplicate insert maps to
// ErrDuplicateExternalEvent so webhook retries become safe no-ops.
func (t *Tx) MarkEventProcessed(ctx context.Context, eventID, kind string) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO processed_payment_events (event_id, kind, processed_at)
		VALUES (?, ?, ?)`,
		eventID, kind, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return economy.ErrDuplicateExternalEvent
		}
		return fmt.Errorf("failed to mark event processed: %w", err)
	}
	return nil
}

// AddWeeklyStats accumulates a settlement split into the club's weekly row.
func (t *Tx) AddWeeklyStats(ctx context.Context, clubID economy.ClubID, weekStart time.Time, gross, fee, reserve, upfront economy.Cents) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO weekly_upfront_stats
		(club_id, week_start, gross_cents, platform_fee_cents, reserve_delta_cents, upfront_cents, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (club_id, week_start) DO UPDATE SET
			gross_cents = gross_cents + excluded.gross_cents,
			platform_fee_cents = platform_fee_cents + excluded.platform_fee_cents,
			reserve_delta_cents = reserve_delta_cents + excluded.reserve_delta_cents,
			upfront_cents = upfront_cents + excluded.upfront_cents,
			updated_at = excluded.updated_at`,
		clubID, weekStart.UTC().Format("2006-01-02"), gross, fee, reserve, upfront, now,
	)
	if err != nil {
		return fmt.Errorf("failed to add weekly stats: %w", err)
	}
	return nil
}

// AdjustSettlementPool moves money into/out of the club's pool.
func (t *Tx) AdjustSettlementPool(ctx context.Context, clubID economy.ClubID, balanceDelta, reservedDelta economy.Cents) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO club_settlement_pools (club_id, balance_cents, reserved_cents, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (club_id) DO UPDATE SET
			balance_cents = balance_cents + excluded.balance_cents,
			reserved_cents = reserved_cents + excluded.reserved_cents,
			updated_at = excluded.updated_at`,
		clubID, balanceDelta, reservedDelta, now,
	)
	if err != nil {
		return fmt.Errorf("failed to adjust settlement pool: %w", err)
	}
	return nil
}

// InsertCreditPurchase records a pending real-currency purchase. A duplicate
// idempotency key maps to ErrDatastoreConflict; callers re-fetch the existing
// row and reuse its session.
func (t *Tx) InsertCreditPurchase(ctx context.Context, p CreditPurchase) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO credit_purchases
		(id, user_id, club_id, reward_id, credits, amount_cents, idempotency_key, session_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.UserID, p.ClubID, p.RewardID, p.Credits, p.AmountCents,
		p.IdempotencyKey, p.SessionID, p.Status, now, now,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return economy.ErrDatastoreConflict
		}
		return fmt.Errorf("failed to insert credit purchase: %w", err)
	}
	return nil
}

// CompleteCreditPurchase marks the purchase matching a session id completed.
func (t *Tx) CompleteCreditPurchase(ctx context.Context, sessionID string) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE credit_purchases SET status = 'completed', updated_at = ?
		WHERE session_id = ? AND status = 'pending'`,
		time.Now().UTC().Format(time.RFC3339), sessionID,
	)
	return err
}

// =============================================================================
// READ SIDE (Store methods, outside WithTx)
// =============================================================================

const walletSelect = `
	SELECT user_id, club_id, balance_pts, earned_pts, purchased_pts,
	       spent_pts, escrowed_pts, status_pts, created_at, updated_at
	FROM point_wallets`

// GetWallet returns the wallet, or ErrNotFound if it was never created.
func (s *Store) GetWallet(ctx context.Context, userID economy.UserID, clubID economy.ClubID) (*economy.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, walletSelect+` WHERE user_id = ? AND club_id = ?`, userID, clubID)
	return scanWallet(row)
}

// SumTransactionDeltas recomputes the net of a wallet's ledger rows. Used by
// ledger.Verify to check the balance invariant.
func (s *Store) SumTransactionDeltas(ctx context.Context, userID economy.UserID, clubID economy.ClubID) (economy.Points, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sum int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(delta), 0) FROM point_transactions
		WHERE user_id = ? AND club_id = ?`,
		userID, clubID,
	).Scan(&sum)
	return economy.Points(sum), err
}

// ListTransactions returns a wallet's ledger rows, oldest first.
func (s *Store) ListTransactions(ctx context.Context, userID economy.UserID, clubID economy.ClubID, limit int) ([]economy.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, club_id, tx_type, delta, affects_status, source,
		       reference_id, external_ref, metadata_json, created_at
		FROM point_transactions
		WHERE user_id = ? AND club_id = ?
		ORDER BY created_at ASC, id ASC
		LIMIT ?`,
		userID, clubID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var txs []economy.Transaction
	for rows.Next() {
		var tx economy.Transaction
		var createdAt, metadataJSON string
		var source, refID, extRef sql.NullString
		if err := rows.Scan(&tx.ID, &tx.UserID, &tx.ClubID, &tx.Type, &tx.Delta,
			&tx.AffectsStatus, &source, &refID, &extRef, &metadataJSON, &createdAt); err != nil {
			return nil, err
		}
		tx.Source = source.String
		tx.ReferenceID = refID.String
		tx.ExternalRef = extRef.String
		if metadataJSON != "" && metadataJSON != "null" {
			_ = json.Unmarshal([]byte(metadataJSON), &tx.Metadata)
		}
		tx.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

// LeaderboardEntry is one row of the club standings.
type LeaderboardEntry struct {
	UserID    economy.UserID
	StatusPts economy.Points
	Balance   economy.Points
}

// Leaderboard returns club members ordered by status points. Read model only;
// recomputed from the wallets on demand, cached by the API layer.
func (s *Store) Leaderboard(ctx context.Context, clubID economy.ClubID, limit int) ([]LeaderboardEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, status_pts, balance_pts FROM point_wallets
		WHERE club_id = ?
		ORDER BY status_pts DESC, user_id ASC
		LIMIT ?`,
		clubID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query leaderboard: %w", err)
	}
	defer rows.Close()

	var entries []LeaderboardEntry
	for rows.Next() {
		var e LeaderboardEntry
		if err := rows.Scan(&e.UserID, &e.StatusPts, &e.Balance); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// TotalPointLiability sums outstanding spendable points across a club's
// wallets. Feeds the coverage ratio.
func (s *Store) TotalPointLiability(ctx context.Context, clubID economy.ClubID) (economy.Points, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sum int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(balance_pts), 0) FROM point_wallets WHERE club_id = ?`,
		clubID,
	).Scan(&sum)
	return economy.Points(sum), err
}

// =============================================================================
// USERS
// =============================================================================

// SaveUser inserts a user row.
func (s *Store) SaveUser(ctx context.Context, u economy.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, auth_ref, active, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		u.ID, u.DisplayName, u.AuthRef, u.Active, u.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return economy.ErrDatastoreConflict
		}
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}

// GetUser returns a user by internal id.
func (s *Store) GetUser(ctx context.Context, id economy.UserID) (*economy.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryUser(ctx, `WHERE id = ?`, id)
}

// GetUserByAuthRef returns the user linked to an external identity subject.
func (s *Store) GetUserByAuthRef(ctx context.Context, authRef string) (*economy.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryUser(ctx, `WHERE auth_ref = ?`, authRef)
}

func (s *Store) queryUser(ctx context.Context, where string, arg any) (*economy.User, error) {
	var u economy.User
	var createdAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, auth_ref, active, created_at FROM users `+where, arg,
	).Scan(&u.ID, &u.DisplayName, &u.AuthRef, &u.Active, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, economy.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	u.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &u, nil
}

// DeactivateUser flips the active flag. Users are never deleted.
func (s *Store) DeactivateUser(ctx context.Context, id economy.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `UPDATE users SET active = FALSE WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to deactivate user: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return economy.ErrNotFound
	}
	return nil
}

// =============================================================================
// CLUBS + MULTIPLIERS
// =============================================================================

// SaveClub inserts a club with its economics.
func (s *Store) SaveClub(ctx context.Context, c economy.Club) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := c.Economics
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO clubs
		(id, name, owner_id, earn_multiplier, redeem_multiplier, promo_discount_pct,
		 peg_rate_cents, purchase_rate_cents, platform_fee_bps, reserve_bps, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.OwnerID,
		e.EarnMultiplier.String(), e.RedeemMultiplier.String(), e.PromoDiscountPct,
		e.PegRateCents, e.PurchaseRateCents, e.PlatformFeeBps, e.ReserveBps,
		c.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return economy.ErrDatastoreConflict
		}
		return fmt.Errorf("failed to save club: %w", err)
	}
	return nil
}

// GetClub returns a club by id.
func (s *Store) GetClub(ctx context.Context, id economy.ClubID) (*economy.Club, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var c economy.Club
	var earnMul, redeemMul, createdAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, owner_id, earn_multiplier, redeem_multiplier, promo_discount_pct,
		       peg_rate_cents, purchase_rate_cents, platform_fee_bps, reserve_bps, created_at
		FROM clubs WHERE id = ?`, id,
	).Scan(&c.ID, &c.Name, &c.OwnerID, &earnMul, &redeemMul, &c.Economics.PromoDiscountPct,
		&c.Economics.PegRateCents, &c.Economics.PurchaseRateCents,
		&c.Economics.PlatformFeeBps, &c.Economics.ReserveBps, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, economy.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query club: %w", err)
	}
	c.Economics.EarnMultiplier = mustDecimal(earnMul)
	c.Economics.RedeemMultiplier = mustDecimal(redeemMul)
	c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &c, nil
}

// UpdateClubEconomics replaces a club's economics. Authorization (owner or
// admin) is enforced by the caller.
func (s *Store) UpdateClubEconomics(ctx context.Context, id economy.ClubID, e economy.ClubEconomics) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE clubs SET earn_multiplier = ?, redeem_multiplier = ?, promo_discount_pct = ?,
			peg_rate_cents = ?, purchase_rate_cents = ?, platform_fee_bps = ?, reserve_bps = ?
		WHERE id = ?`,
		e.EarnMultiplier.String(), e.RedeemMultiplier.String(), e.PromoDiscountPct,
		e.PegRateCents, e.PurchaseRateCents, e.PlatformFeeBps, e.ReserveBps, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update club economics: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return economy.ErrNotFound
	}
	return nil
}

// SetStatusMultiplier sets the per-tier earn multiplier for a club.
func (s *Store) SetStatusMultiplier(ctx context.Context, clubID economy.ClubID, tier economy.Tier, m decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO status_multipliers (club_id, tier, multiplier) VALUES (?, ?, ?)
		ON CONFLICT (club_id, tier) DO UPDATE SET multiplier = excluded.multiplier`,
		clubID, tier, m.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to set status multiplier: %w", err)
	}
	return nil
}

// StatusMultipliers returns the club's per-tier earn multipliers. Tiers with
// no row default to 1.
func (s *Store) StatusMultipliers(ctx context.Context, clubID economy.ClubID) (map[economy.Tier]decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT tier, multiplier FROM status_multipliers WHERE club_id = ?`, clubID)
	if err != nil {
		return nil, fmt.Errorf("failed to query status multipliers: %w", err)
	}
	defer rows.Close()

	out := make(map[economy.Tier]decimal.Decimal)
	for rows.Next() {
		var tier, mul string
		if err := rows.Scan(&tier, &mul); err != nil {
			return nil, err
		}
		out[economy.Tier(tier)] = mustDecimal(mul)
	}
	return out, rows.Err()
}

// =============================================================================
// REWARDS (read side + catalog writes)
// =============================================================================

// SaveReward inserts a catalog entry.
func (s *Store) SaveReward(ctx context.Context, r economy.Reward) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tier_rewards
		(id, club_id, name, kind, price_pts, inventory, window_start, window_end, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.ClubID, r.Name, r.Kind, r.PricePts, nullInt(r.Inventory),
		nullTime(r.WindowStart), nullTime(r.WindowEnd), r.Active,
		r.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return economy.ErrDatastoreConflict
		}
		return fmt.Errorf("failed to save reward: %w", err)
	}
	return nil
}

// SetRewardActive flips a reward's active flag.
func (s *Store) SetRewardActive(ctx context.Context, id economy.RewardID, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `UPDATE tier_rewards SET active = ? WHERE id = ?`, active, id)
	if err != nil {
		return fmt.Errorf("failed to update reward: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return economy.ErrNotFound
	}
	return nil
}

// SetRewardPricing attaches real-currency purchase config to a reward.
func (s *Store) SetRewardPricing(ctx context.Context, id economy.RewardID, p economy.TierRewardPricing, campaign *economy.CreditCampaign) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	discountsJSON, _ := json.Marshal(p.Discounts)
	var credits, rate any
	if campaign != nil {
		credits, rate = campaign.Credits, campaign.CentsPerCredit
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE tier_rewards SET base_price_cents = ?, min_tier = ?, discounts_json = ?,
			campaign_credits = ?, campaign_rate_cents = ?
		WHERE id = ?`,
		p.BasePrice, p.MinTier, string(discountsJSON), credits, rate, id,
	)
	if err != nil {
		return fmt.Errorf("failed to set reward pricing: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return economy.ErrNotFound
	}
	return nil
}

// RewardRecord is a catalog entry plus its optional purchase config.
type RewardRecord struct {
	economy.Reward
	Pricing  *economy.TierRewardPricing
	Campaign *economy.CreditCampaign
}

// GetReward returns a reward with purchase config, or ErrNotFound.
func (s *Store) GetReward(ctx context.Context, id economy.RewardID) (*RewardRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, rewardSelect+` WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query reward: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, economy.ErrNotFound
	}
	return scanReward(rows)
}

// ListRewards returns a club's catalog.
func (s *Store) ListRewards(ctx context.Context, clubID economy.ClubID) ([]RewardRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, rewardSelect+` WHERE club_id = ? ORDER BY created_at ASC, id ASC`, clubID)
	if err != nil {
		return nil, fmt.Errorf("failed to query rewards: %w", err)
	}
	defer rows.Close()

	var out []RewardRecord
	for rows.Next() {
		r, err := scanReward(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

const rewardSelect = `
	SELECT id, club_id, name, kind, price_pts, inventory, window_start, window_end,
	       active, base_price_cents, min_tier, discounts_json, campaign_credits,
	       campaign_rate_cents, created_at
	FROM tier_rewards`

func scanReward(rows *sql.Rows) (*RewardRecord, error) {
	var r RewardRecord
	var inventory sql.NullInt64
	var windowStart, windowEnd, minTier, discountsJSON sql.NullString
	var basePrice, credits, rate sql.NullInt64
	var createdAt string

	if err := rows.Scan(&r.ID, &r.ClubID, &r.Name, &r.Kind, &r.PricePts, &inventory,
		&windowStart, &windowEnd, &r.Active, &basePrice, &minTier, &discountsJSON,
		&credits, &rate, &createdAt); err != nil {
		return nil, err
	}
	if inventory.Valid {
		v := int(inventory.Int64)
		r.Inventory = &v
	}
	if windowStart.Valid {
		t, _ := time.Parse(time.RFC3339, windowStart.String)
		r.WindowStart = &t
	}
	if windowEnd.Valid {
		t, _ := time.Parse(time.RFC3339, windowEnd.String)
		r.WindowEnd = &t
	}
	r.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)

	if basePrice.Valid {
		p := economy.TierRewardPricing{
			RewardID:  r.ID,
			BasePrice: economy.Cents(basePrice.Int64),
			MinTier:   economy.Tier(minTier.String),
		}
		if discountsJSON.Valid && discountsJSON.String != "" && discountsJSON.String != "null" {
			_ = json.Unmarshal([]byte(discountsJSON.String), &p.Discounts)
		}
		r.Pricing = &p
	}
	if credits.Valid && rate.Valid {
		r.Campaign = &economy.CreditCampaign{
			RewardID:       r.ID,
			Credits:        int(credits.Int64),
			CentsPerCredit: economy.Cents(rate.Int64),
		}
	}
	return &r, nil
}

// =============================================================================
// REDEMPTIONS (read side)
// =============================================================================

// GetRedemption returns one redemption row.
func (s *Store) GetRedemption(ctx context.Context, id economy.RedemptionID) (*economy.Redemption, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, redemptionSelect+` WHERE id = ?`, id)
	r, err := scanRedemption(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, economy.ErrNotFound
	}
	return r, err
}

// ListRedemptions returns a user's redemptions in a club, newest first.
func (s *Store) ListRedemptions(ctx context.Context, userID economy.UserID, clubID economy.ClubID) ([]economy.Redemption, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, redemptionSelect+`
		WHERE user_id = ? AND club_id = ? ORDER BY created_at DESC`, userID, clubID)
	if err != nil {
		return nil, fmt.Errorf("failed to query redemptions: %w", err)
	}
	defer rows.Close()

	var out []economy.Redemption
	for rows.Next() {
		r, err := scanRedemption(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// HasActiveClaim reports whether the user already has a live claim on the
// reward: a CONFIRMED redemption, an unexpired HELD one, or a pending or
// completed purchase. Expired holds do not count.
func (s *Store) HasActiveClaim(ctx context.Context, userID economy.UserID, rewardID economy.RewardID, now time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM reward_redemptions
			 WHERE user_id = ? AND reward_id = ?
			   AND (state = 'CONFIRMED' OR (state = 'HELD' AND expires_at > ?)))
			+
			(SELECT COUNT(*) FROM credit_purchases
			 WHERE user_id = ? AND reward_id = ? AND status IN ('pending', 'completed'))`,
		userID, rewardID, now.UTC().Format(time.RFC3339), userID, rewardID,
	).Scan(&count)
	return count > 0, err
}

// ExpiredHolds returns HELD redemptions whose expiry has passed (sweep input).
func (s *Store) ExpiredHolds(ctx context.Context, now time.Time, limit int) ([]economy.Redemption, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, redemptionSelect+`
		WHERE state = 'HELD' AND expires_at <= ?
		ORDER BY expires_at ASC LIMIT ?`,
		now.UTC().Format(time.RFC3339), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query expired holds: %w", err)
	}
	defer rows.Close()

	var out []economy.Redemption
	for rows.Next() {
		r, err := scanRedemption(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

const redemptionSelect = `
	SELECT id, reward_id, user_id, club_id, state, price_pts, expires_at, created_at, updated_at
	FROM reward_redemptions`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRedemption(row rowScanner) (*economy.Redemption, error) {
	var r economy.Redemption
	var expiresAt sql.NullString
	var createdAt, updatedAt string
	if err := row.Scan(&r.ID, &r.RewardID, &r.UserID, &r.ClubID, &r.State,
		&r.PricePts, &expiresAt, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if expiresAt.Valid {
		t, _ := time.Parse(time.RFC3339, expiresAt.String)
		r.ExpiresAt = &t
	}
	r.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	r.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &r, nil
}

// =============================================================================
// PURCHASES + SETTLEMENT (read side)
// =============================================================================

// CreditPurchase is a real-currency purchase record.
type CreditPurchase struct {
	ID             string
	UserID         economy.UserID
	ClubID         economy.ClubID
	RewardID       economy.RewardID
	Credits        int
	AmountCents    economy.Cents
	IdempotencyKey string
	SessionID      string
	Status         string
	CreatedAt      time.Time
}

const purchaseSelect = `
	SELECT id, user_id, club_id, reward_id, credits, amount_cents,
	       idempotency_key, session_id, status, created_at
	FROM credit_purchases`

// GetPurchaseByIdempotencyKey returns the purchase for a retry key, or nil
// when no purchase was started with it.
func (s *Store) GetPurchaseByIdempotencyKey(ctx context.Context, key string) (*CreditPurchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, err := s.queryPurchase(ctx, purchaseSelect+` WHERE idempotency_key = ?`, key)
	if errors.Is(err, economy.ErrNotFound) {
		return nil, nil
	}
	return p, err
}

// GetPurchaseBySession returns the purchase created for a checkout session.
func (s *Store) GetPurchaseBySession(ctx context.Context, sessionID string) (*CreditPurchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryPurchase(ctx, purchaseSelect+` WHERE session_id = ?`, sessionID)
}

func (s *Store) queryPurchase(ctx context.Context, query string, arg any) (*CreditPurchase, error) {
	var p CreditPurchase
	var createdAt string
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&p.ID, &p.UserID, &p.ClubID, &p.RewardID, &p.Credits, &p.AmountCents,
		&p.IdempotencyKey, &p.SessionID, &p.Status, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, economy.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query purchase: %w", err)
	}
	p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &p, nil
}

// IsEventProcessed reports whether an external event id was already applied.
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM processed_payment_events WHERE event_id = ?`, eventID,
	).Scan(&count)
	return count > 0, err
}

// WeeklyStats is the per-club weekly settlement aggregate.
type WeeklyStats struct {
	ClubID       economy.ClubID
	WeekStart    string
	GrossCents   economy.Cents
	FeeCents     economy.Cents
	ReserveCents economy.Cents
	UpfrontCents economy.Cents
}

// GetWeeklyStats returns one week's aggregate, zero-valued if absent.
func (s *Store) GetWeeklyStats(ctx context.Context, clubID economy.ClubID, weekStart time.Time) (*WeeklyStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ws := WeeklyStats{ClubID: clubID, WeekStart: weekStart.UTC().Format("2006-01-02")}
	err := s.db.QueryRowContext(ctx, `
		SELECT gross_cents, platform_fee_cents, reserve_delta_cents, upfront_cents
		FROM weekly_upfront_stats WHERE club_id = ? AND week_start = ?`,
		clubID, ws.WeekStart,
	).Scan(&ws.GrossCents, &ws.FeeCents, &ws.ReserveCents, &ws.UpfrontCents)
	if errors.Is(err, sql.ErrNoRows) {
		return &ws, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query weekly stats: %w", err)
	}
	return &ws, nil
}

// SettlementPool is a club's reserve pool state.
type SettlementPool struct {
	ClubID        economy.ClubID
	BalanceCents  economy.Cents
	ReservedCents economy.Cents
}

// GetSettlementPool returns the pool, zero-valued if never funded.
func (s *Store) GetSettlementPool(ctx context.Context, clubID economy.ClubID) (*SettlementPool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p := SettlementPool{ClubID: clubID}
	err := s.db.QueryRowContext(ctx, `
		SELECT balance_cents, reserved_cents FROM club_settlement_pools WHERE club_id = ?`,
		clubID,
	).Scan(&p.BalanceCents, &p.ReservedCents)
	if errors.Is(err, sql.ErrNoRows) {
		return &p, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query settlement pool: %w", err)
	}
	return &p, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func scanWallet(row rowScanner) (*economy.Wallet, error) {
	var w economy.Wallet
	var createdAt, updatedAt string
	err := row.Scan(&w.UserID, &w.ClubID, &w.Balance, &w.Earned, &w.Purchased,
		&w.Spent, &w.Escrowed, &w.Status, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, economy.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan wallet: %w", err)
	}
	w.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	w.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &w, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NewFromInt(1)
	}
	return d
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "constraint failed")
}
