package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagepass/points-engine/api"
	"github.com/stagepass/points-engine/economy"
	"github.com/stagepass/points-engine/identity"
	"github.com/stagepass/points-engine/ledger"
	"github.com/stagepass/points-engine/payments"
	"github.com/stagepass/points-engine/rewards"
	"github.com/stagepass/points-engine/store/sqlite"
	"github.com/stagepass/points-engine/transfer"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const webhookSecret = "test-secret"

type fixture struct {
	store    *sqlite.Store
	ledger   *ledger.Ledger
	checkout *payments.CheckoutService
	verifier *payments.HMACVerifier
	server   *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	l := ledger.New(store)
	rw := rewards.NewService(store, l)
	tf := transfer.NewService(store)
	verifier := payments.NewHMACVerifier(webhookSecret)
	co := payments.NewCheckoutService(store, l, &payments.StaticProcessor{}, zerolog.Nop())
	wh := payments.NewWebhookProcessor(store, verifier, zerolog.Nop())
	ch := payments.NewChainPurchaseService(store, payments.StaticChainVerifier{}, zerolog.Nop())
	st := payments.NewSettlementService(store)
	resolver := identity.NewTokenResolver(store, nil, []string{"ops@platform"})

	h := api.NewHandler(store, l, rw, tf, co, wh, ch, st, resolver, zerolog.Nop())
	srv := httptest.NewServer(api.NewRouter(h))
	t.Cleanup(srv.Close)

	return &fixture{store: store, ledger: l, checkout: co, verifier: verifier, server: srv}
}

// do issues a JSON request as the member behind the given auth ref, decoding
// the response body into out when it is non-nil.
func (f *fixture) do(t *testing.T, method, path, authRef string, body, out any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, f.server.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if authRef != "" {
		req.Header.Set("Authorization", "Bearer "+authRef)
	}

	resp, err := f.server.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func (f *fixture) createClub(t *testing.T, authRef, id string) {
	t.Helper()
	resp := f.do(t, "POST", "/api/clubs", authRef,
		map[string]string{"id": id, "name": "Club " + id}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

// =============================================================================
// AUTH TESTS
// =============================================================================

func TestAPI_MissingToken_Unauthorized(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, "GET", "/api/clubs/club-1/wallet", "", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAPI_FirstContact_AutoProvisions(t *testing.T) {
	// GIVEN: A bearer token the engine has never seen
	// WHEN: Reading a wallet
	// THEN: 200 with an empty cadet wallet; the user row now exists

	f := newFixture(t)
	f.createClub(t, "owner@club", "club-1")

	var wallet struct {
		Balance int64  `json:"balance_pts"`
		Tier    string `json:"tier"`
	}
	resp := f.do(t, "GET", "/api/clubs/club-1/wallet", "new-fan@mail", nil, &wallet)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(0), wallet.Balance)
	assert.Equal(t, "cadet", wallet.Tier)

	u, err := f.store.GetUserByAuthRef(context.Background(), "new-fan@mail")
	require.NoError(t, err)
	assert.True(t, u.Active)
}

// =============================================================================
// CLUB + EARN TESTS
// =============================================================================

func TestAPI_CreateClub_CallerBecomesOwner(t *testing.T) {
	f := newFixture(t)

	var club struct {
		ID             string `json:"id"`
		OwnerID        string `json:"owner_id"`
		PlatformFeeBps int    `json:"platform_fee_bps"`
	}
	resp := f.do(t, "POST", "/api/clubs", "owner@club",
		map[string]string{"id": "club-1", "name": "Night Shift"}, &club)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "club-1", club.ID)
	assert.Equal(t, 500, club.PlatformFeeBps, "defaults applied")

	owner, err := f.store.GetUserByAuthRef(context.Background(), "owner@club")
	require.NoError(t, err)
	assert.Equal(t, string(owner.ID), club.OwnerID)
}

func TestAPI_UnknownClub_NotFound(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, "GET", "/api/clubs/nope", "fan@mail", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_TapIn_CreditsAndReportsGrant(t *testing.T) {
	// GIVEN: A member of a club with default 1.0x economics
	// WHEN: Tapping in with 120 base points
	// THEN: 120 granted; the wallet read back matches

	f := newFixture(t)
	f.createClub(t, "owner@club", "club-1")

	var result struct {
		Granted int64 `json:"granted"`
	}
	resp := f.do(t, "POST", "/api/clubs/club-1/tap-in", "fan@mail",
		map[string]any{"base_points": 120, "source": "show_checkin"}, &result)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(120), result.Granted)

	var wallet struct {
		Balance   int64 `json:"balance_pts"`
		StatusPts int64 `json:"status_pts"`
	}
	resp = f.do(t, "GET", "/api/clubs/club-1/wallet", "fan@mail", nil, &wallet)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(120), wallet.Balance)
	assert.Equal(t, int64(120), wallet.StatusPts)
}

func TestAPI_TapIn_NonPositiveBase_BadRequest(t *testing.T) {
	f := newFixture(t)
	f.createClub(t, "owner@club", "club-1")

	resp := f.do(t, "POST", "/api/clubs/club-1/tap-in", "fan@mail",
		map[string]any{"base_points": 0}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_UnknownBodyField_BadRequest(t *testing.T) {
	// Strict decoding: typos fail loudly
	f := newFixture(t)
	f.createClub(t, "owner@club", "club-1")

	resp := f.do(t, "POST", "/api/clubs/club-1/tap-in", "fan@mail",
		map[string]any{"base_points": 10, "sorce": "typo"}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// =============================================================================
// TRANSFER TESTS
// =============================================================================

func TestAPI_Transfer_InsufficientPoints_BadRequest(t *testing.T) {
	f := newFixture(t)
	f.createClub(t, "owner@club", "club-1")

	// Provision the recipient so the transfer fails on funds, not identity
	f.do(t, "GET", "/api/clubs/club-1/wallet", "bob@mail", nil, nil)
	bob, err := f.store.GetUserByAuthRef(context.Background(), "bob@mail")
	require.NoError(t, err)

	resp := f.do(t, "POST", "/api/clubs/club-1/transfers", "alice@mail",
		map[string]any{"recipient_id": string(bob.ID), "amount": 50}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_Transfer_MovesPoints(t *testing.T) {
	f := newFixture(t)
	f.createClub(t, "owner@club", "club-1")

	f.do(t, "POST", "/api/clubs/club-1/tap-in", "alice@mail",
		map[string]any{"base_points": 200}, nil)
	f.do(t, "GET", "/api/clubs/club-1/wallet", "bob@mail", nil, nil)
	bob, err := f.store.GetUserByAuthRef(context.Background(), "bob@mail")
	require.NoError(t, err)

	var result struct {
		Reference    string `json:"reference"`
		BalanceAfter int64  `json:"balance_after"`
	}
	resp := f.do(t, "POST", "/api/clubs/club-1/transfers", "alice@mail",
		map[string]any{"recipient_id": string(bob.ID), "amount": 80}, &result)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, result.Reference)
	assert.Equal(t, int64(120), result.BalanceAfter)

	var wallet struct {
		Balance int64  `json:"balance_pts"`
		Tier    string `json:"tier"`
	}
	f.do(t, "GET", "/api/clubs/club-1/wallet", "bob@mail", nil, &wallet)
	assert.Equal(t, int64(80), wallet.Balance)
	assert.Equal(t, "cadet", wallet.Tier, "received points never raise status")
}

// =============================================================================
// CHECKOUT + WEBHOOK TESTS
// =============================================================================

func TestAPI_CheckoutThenWebhook_CreditsWallet(t *testing.T) {
	// GIVEN: A checkout session opened over the API
	// WHEN: The signed completion event arrives, twice
	// THEN: The wallet is credited exactly once

	f := newFixture(t)
	ctx := context.Background()
	f.createClub(t, "owner@club", "club-1")

	// Catalog setup through the owner's API surface
	var reward struct {
		ID string `json:"id"`
	}
	resp := f.do(t, "POST", "/api/clubs/club-1/rewards", "owner@club",
		map[string]any{"name": "Credit Pack", "kind": "access", "price_pts": 0}, &reward)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = f.do(t, "PUT", "/api/rewards/"+reward.ID+"/pricing", "owner@club",
		map[string]any{"campaign_credits": 300, "campaign_rate_cents": 2}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var checkout struct {
		SessionID  string `json:"session_id"`
		FinalCents int64  `json:"final_price_cents"`
	}
	resp = f.do(t, "POST", "/api/checkout", "fan@mail",
		map[string]string{"reward_id": reward.ID}, &checkout)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(600), checkout.FinalCents)

	payload, err := json.Marshal(payments.Event{
		ID:   "evt_1",
		Type: payments.EventCheckoutCompleted,
		Data: payments.EventData{SessionID: checkout.SessionID},
	})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		req, err := http.NewRequest("POST", f.server.URL+"/api/webhooks/payments", bytes.NewReader(payload))
		require.NoError(t, err)
		req.Header.Set("X-Signature", f.verifier.Sign(payload))
		wresp, err := f.server.Client().Do(req)
		require.NoError(t, err)
		wresp.Body.Close()
		assert.Equal(t, http.StatusOK, wresp.StatusCode, "delivery %d", i)
	}

	fan, err := f.store.GetUserByAuthRef(ctx, "fan@mail")
	require.NoError(t, err)
	b, err := f.ledger.GetBreakdown(ctx, fan.ID, "club-1")
	require.NoError(t, err)
	assert.Equal(t, economy.Points(300), b.Wallet.Balance)
}

func TestAPI_Webhook_BadSignature_Unauthorized(t *testing.T) {
	f := newFixture(t)

	payload := []byte(`{"id":"evt_1","type":"checkout.completed"}`)
	req, err := http.NewRequest("POST", f.server.URL+"/api/webhooks/payments", bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("X-Signature", "deadbeef")

	resp, err := f.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

// =============================================================================
// AUTHORIZATION TESTS
// =============================================================================

func TestAPI_Economics_OwnerOnly(t *testing.T) {
	f := newFixture(t)
	f.createClub(t, "owner@club", "club-1")

	body := map[string]any{
		"earn_multiplier": "2.0", "redeem_multiplier": "1.0",
		"promo_discount_pct": 0, "peg_rate_cents": 1, "purchase_rate_cents": 1,
		"platform_fee_bps": 500, "reserve_bps": 1000,
	}

	resp := f.do(t, "PUT", "/api/clubs/club-1/economics", "fan@mail", body, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = f.do(t, "PUT", "/api/clubs/club-1/economics", "owner@club", body, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAPI_Adjustment_PlatformAdminAllowed(t *testing.T) {
	// The ops allowlist can adjust balances in clubs it does not own
	f := newFixture(t)
	f.createClub(t, "owner@club", "club-1")

	f.do(t, "GET", "/api/clubs/club-1/wallet", "fan@mail", nil, nil)
	fan, err := f.store.GetUserByAuthRef(context.Background(), "fan@mail")
	require.NoError(t, err)

	resp := f.do(t, "POST", "/api/clubs/club-1/adjustments", "ops@platform",
		map[string]any{"user_id": string(fan.ID), "amount": 500, "reason": "goodwill"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var wallet struct {
		Balance int64 `json:"balance_pts"`
	}
	f.do(t, "GET", "/api/clubs/club-1/wallet", "fan@mail", nil, &wallet)
	assert.Equal(t, int64(500), wallet.Balance)
}

// =============================================================================
// SETTLEMENT TESTS
// =============================================================================

func TestAPI_Coverage_EmptyClub_RatioOne(t *testing.T) {
	f := newFixture(t)
	f.createClub(t, "owner@club", "club-1")

	var cov struct {
		Ratio     string `json:"ratio"`
		PoolCents int64  `json:"pool_cents"`
	}
	resp := f.do(t, "GET", "/api/clubs/club-1/settlement/coverage", "owner@club", nil, &cov)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "1", cov.Ratio)
	assert.Equal(t, int64(0), cov.PoolCents)
}

func TestAPI_WeeklyStats_OwnerGated(t *testing.T) {
	f := newFixture(t)
	f.createClub(t, "owner@club", "club-1")

	path := "/api/clubs/club-1/settlement/weekly"

	resp := f.do(t, "GET", path, "fan@mail", nil, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = f.do(t, "GET", path, "owner@club", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
