package transfer_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagepass/points-engine/economy"
	"github.com/stagepass/points-engine/ledger"
	"github.com/stagepass/points-engine/store/sqlite"
	"github.com/stagepass/points-engine/transfer"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestTransfer(t *testing.T) (*transfer.Service, *ledger.Ledger, *sqlite.Store) {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return transfer.NewService(store), ledger.New(store), store
}

func seedUser(t *testing.T, store *sqlite.Store, id string) {
	t.Helper()
	require.NoError(t, store.SaveUser(context.Background(), economy.User{
		ID:          economy.UserID(id),
		DisplayName: id,
		AuthRef:     "auth|" + id,
		Active:      true,
		CreatedAt:   time.Now().UTC(),
	}))
}

// =============================================================================
// DOUBLE-ENTRY TESTS
// =============================================================================

func TestTransfer_MovesPointsAtomically(t *testing.T) {
	// GIVEN: Sender with 300 earned points, known recipient
	// WHEN: Transferring 100 from the any pool
	// THEN: Sender -100, recipient +100, both ledgers reconcile, rows share the ref

	svc, l, store := newTestTransfer(t)
	ctx := context.Background()
	seedUser(t, store, "alice")
	seedUser(t, store, "bob")

	_, err := l.Credit(ctx, "alice", "club-1", 300, economy.TxBonus,
		ledger.CreditOptions{AffectsStatus: true, Source: "tap_in"})
	require.NoError(t, err)

	res, err := svc.Transfer(ctx, "club-1", "alice", "bob", 100, economy.PoolAny)
	require.NoError(t, err)
	assert.Equal(t, economy.Points(200), res.SenderAfter)
	assert.NotEmpty(t, res.Reference)
	assert.NotEqual(t, res.OutgoingTx, res.IncomingTx)

	sender, err := l.GetBreakdown(ctx, "alice", "club-1")
	require.NoError(t, err)
	recipient, err := l.GetBreakdown(ctx, "bob", "club-1")
	require.NoError(t, err)

	assert.Equal(t, economy.Points(200), sender.Wallet.Balance)
	assert.Equal(t, economy.Points(100), recipient.Wallet.Balance)
	assert.Equal(t, economy.Points(100), recipient.Wallet.Purchased)

	assert.NoError(t, l.Verify(ctx, "alice", "club-1"))
	assert.NoError(t, l.Verify(ctx, "bob", "club-1"))
}

func TestTransfer_RecipientStatusNeverRises(t *testing.T) {
	// GIVEN: A sender rich enough to bankroll a tier
	// WHEN: Transferring 10000 points to a cadet
	// THEN: The recipient stays cadet; received points carry no status

	svc, l, store := newTestTransfer(t)
	ctx := context.Background()
	seedUser(t, store, "alice")
	seedUser(t, store, "bob")

	_, err := l.Credit(ctx, "alice", "club-1", 20000, economy.TxBonus,
		ledger.CreditOptions{AffectsStatus: true})
	require.NoError(t, err)

	_, err = svc.Transfer(ctx, "club-1", "alice", "bob", 10000, economy.PoolAny)
	require.NoError(t, err)

	status, err := l.StatusOf(ctx, "bob", "club-1")
	require.NoError(t, err)
	assert.Equal(t, economy.TierCadet, status.Tier)
}

// =============================================================================
// POOL TESTS
// =============================================================================

func TestTransfer_PurchasedOnly_RequiresPurchasedCover(t *testing.T) {
	// GIVEN: Sender with 500 earned but only 50 purchased points
	// WHEN: Transferring 100 purchased_only
	// THEN: Rejected with the purchased pool's availability

	svc, l, store := newTestTransfer(t)
	ctx := context.Background()
	seedUser(t, store, "alice")
	seedUser(t, store, "bob")

	_, err := l.Credit(ctx, "alice", "club-1", 500, economy.TxBonus,
		ledger.CreditOptions{AffectsStatus: true})
	require.NoError(t, err)
	_, err = l.Credit(ctx, "alice", "club-1", 50, economy.TxPurchase,
		ledger.CreditOptions{Source: "checkout"})
	require.NoError(t, err)

	_, err = svc.Transfer(ctx, "club-1", "alice", "bob", 100, economy.PoolPurchasedOnly)
	require.Error(t, err)

	var ipe *economy.InsufficientPointsError
	require.ErrorAs(t, err, &ipe)
	assert.Equal(t, economy.PoolPurchasedOnly, ipe.Pool)
	assert.Equal(t, economy.Points(50), ipe.Available)

	// The same amount from the any pool goes through
	_, err = svc.Transfer(ctx, "club-1", "alice", "bob", 100, economy.PoolAny)
	assert.NoError(t, err)
}

// =============================================================================
// VALIDATION TESTS
// =============================================================================

func TestTransfer_ToSelf_Rejected(t *testing.T) {
	svc, _, store := newTestTransfer(t)
	seedUser(t, store, "alice")

	_, err := svc.Transfer(context.Background(), "club-1", "alice", "alice", 10, economy.PoolAny)
	assert.ErrorIs(t, err, economy.ErrTransferToSelf)
}

func TestTransfer_UnknownRecipient_Rejected(t *testing.T) {
	svc, l, store := newTestTransfer(t)
	ctx := context.Background()
	seedUser(t, store, "alice")

	_, err := l.Credit(ctx, "alice", "club-1", 100, economy.TxBonus, ledger.CreditOptions{})
	require.NoError(t, err)

	_, err = svc.Transfer(ctx, "club-1", "alice", "nobody", 10, economy.PoolAny)
	assert.ErrorIs(t, err, economy.ErrRecipientNotFound)

	// Nothing moved
	b, err := l.GetBreakdown(ctx, "alice", "club-1")
	require.NoError(t, err)
	assert.Equal(t, economy.Points(100), b.Wallet.Balance)
}

func TestTransfer_SenderWithoutWallet_ReadsAsBroke(t *testing.T) {
	svc, _, store := newTestTransfer(t)
	seedUser(t, store, "alice")
	seedUser(t, store, "bob")

	_, err := svc.Transfer(context.Background(), "club-1", "alice", "bob", 10, economy.PoolAny)
	require.Error(t, err)

	var ipe *economy.InsufficientPointsError
	require.ErrorAs(t, err, &ipe)
	assert.Equal(t, economy.Points(0), ipe.Available)
}

// =============================================================================
// CONCURRENCY TESTS
// =============================================================================

func TestTransfer_ConcurrentSends_NeverOverdraw(t *testing.T) {
	// GIVEN: A sender with 100 points
	// WHEN: 5 concurrent transfers of 40 points each
	// THEN: At most 2 succeed and total conservation holds

	svc, l, store := newTestTransfer(t)
	ctx := context.Background()
	seedUser(t, store, "alice")
	seedUser(t, store, "bob")

	_, err := l.Credit(ctx, "alice", "club-1", 100, economy.TxBonus,
		ledger.CreditOptions{AffectsStatus: true})
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Transfer(ctx, "club-1", "alice", "bob", 40, economy.PoolAny)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		}
	}
	assert.LessOrEqual(t, succeeded, 2)

	sender, err := l.GetBreakdown(ctx, "alice", "club-1")
	require.NoError(t, err)
	recipient, err := l.GetBreakdown(ctx, "bob", "club-1")
	require.NoError(t, err)

	assert.Equal(t, economy.Points(100-40*succeeded), sender.Wallet.Balance)
	assert.Equal(t, economy.Points(40*succeeded), recipient.Wallet.Balance)
	assert.NoError(t, l.Verify(ctx, "alice", "club-1"))
	assert.NoError(t, l.Verify(ctx, "bob", "club-1"))
}
