/*
handlers.go - HTTP API handlers for the points engine

PURPOSE:
  Exposes the points economy via REST API. Handles HTTP request/response,
  JSON serialization, identity resolution, and delegates to domain logic.

ENDPOINTS:
  Clubs:
    POST   /api/clubs                       Create club (caller becomes owner)
    GET    /api/clubs/{id}                  Club details
    PUT    /api/clubs/{id}/economics        Replace economics (owner/admin)
    PUT    /api/clubs/{id}/multipliers      Set a tier earn multiplier
    GET    /api/clubs/{id}/leaderboard      Status-point ranking (cached)

  Wallet:
    POST   /api/clubs/{id}/tap-in           Earn points from activity
    GET    /api/clubs/{id}/wallet           Caller's balance breakdown + tier
    GET    /api/clubs/{id}/transactions     Caller's ledger history
    POST   /api/clubs/{id}/transfers        Send points to another member

  Rewards:
    GET    /api/clubs/{id}/rewards          Catalog
    POST   /api/clubs/{id}/rewards          Create reward (owner/admin)
    GET    /api/clubs/{id}/redemptions      Caller's redemptions
    PUT    /api/rewards/{id}/pricing        Attach purchase config (owner/admin)
    POST   /api/rewards/{id}/redeem         Spend points on a reward
    POST   /api/redemptions/{id}/confirm    Confirm a presale hold

  Payments:
    POST   /api/checkout                    Open a payment session
    POST   /api/webhooks/payments           Processor events (signature auth)
    POST   /api/clubs/{id}/chain-purchases  Credit a verified on-chain transfer

  Settlement:
    GET    /api/clubs/{id}/settlement/coverage  Liability coverage ratio
    GET    /api/clubs/{id}/settlement/weekly    This week's split

  Admin:
    POST   /api/clubs/{id}/adjustments      Manual balance correction (owner/admin)
    POST   /api/admin/sweep-holds           Force expired-hold sweep
    POST   /api/admin/users/{id}/deactivate Deactivate a user

ERROR HANDLING:
  Domain errors map to HTTP status via the economy error taxonomy:
  - 400: validation and business failures (insufficient points, out of stock)
  - 401: unresolvable identity, bad webhook signature
  - 403: non-owner touching club config
  - 404: missing records
  - 409: duplicates and lost races
  - 422: pricing rejections (sub-floor prices)
  - 502: payment processor or chain oracle unreachable

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/stagepass/points-engine/economy"
	"github.com/stagepass/points-engine/identity"
	"github.com/stagepass/points-engine/ledger"
	"github.com/stagepass/points-engine/payments"
	"github.com/stagepass/points-engine/rewards"
	"github.com/stagepass/points-engine/store/sqlite"
	"github.com/stagepass/points-engine/transfer"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store      *sqlite.Store
	Ledger     *ledger.Ledger
	Rewards    *rewards.Service
	Transfers  *transfer.Service
	Checkout   *payments.CheckoutService
	Webhooks   *payments.WebhookProcessor
	Chain      *payments.ChainPurchaseService
	Settlement *payments.SettlementService
	Resolver   identity.Resolver

	leaderboards *leaderboardCache
	log          zerolog.Logger
}

// NewHandler wires the handler with all domain services.
func NewHandler(store *sqlite.Store, lg *ledger.Ledger, rw *rewards.Service, tf *transfer.Service,
	co *payments.CheckoutService, wh *payments.WebhookProcessor, ch *payments.ChainPurchaseService,
	st *payments.SettlementService, resolver identity.Resolver, log zerolog.Logger) *Handler {
	return &Handler{
		Store:        store,
		Ledger:       lg,
		Rewards:      rw,
		Transfers:    tf,
		Checkout:     co,
		Webhooks:     wh,
		Chain:        ch,
		Settlement:   st,
		Resolver:     resolver,
		leaderboards: newLeaderboardCache(30 * time.Second),
		log:          log,
	}
}

// =============================================================================
// CLUB HANDLERS
// =============================================================================

// CreateClub creates a club with default economics, owned by the caller.
func (h *Handler) CreateClub(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)

	var req CreateClubRequest
	if err := decodeStrict(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "id and name are required", nil)
		return
	}

	club := economy.Club{
		ID:        economy.ClubID(req.ID),
		Name:      req.Name,
		OwnerID:   user.ID,
		Economics: economy.DefaultEconomics(),
		CreatedAt: time.Now().UTC(),
	}
	if err := h.Store.SaveClub(r.Context(), club); err != nil {
		h.writeDomainError(w, "Failed to create club", err)
		return
	}

	writeJSON(w, http.StatusCreated, toClubDTO(&club))
}

// GetClub returns one club with its economics.
func (h *Handler) GetClub(w http.ResponseWriter, r *http.Request) {
	club, err := h.Store.GetClub(r.Context(), economy.ClubID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, "Failed to get club", err)
		return
	}
	writeJSON(w, http.StatusOK, toClubDTO(club))
}

// UpdateEconomics replaces a club's economics. Owner or admin only.
func (h *Handler) UpdateEconomics(w http.ResponseWriter, r *http.Request) {
	clubID := economy.ClubID(chi.URLParam(r, "id"))
	club, ok := h.requireClubOwner(w, r, clubID)
	if !ok {
		return
	}

	var req UpdateEconomicsRequest
	if err := decodeStrict(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	earn, err := parseDecimal("earn_multiplier", req.EarnMultiplier)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	redeem, err := parseDecimal("redeem_multiplier", req.RedeemMultiplier)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if req.PromoDiscountPct < 0 || req.PromoDiscountPct > 100 {
		writeError(w, http.StatusBadRequest, "promo_discount_pct must be 0-100", nil)
		return
	}
	if req.PegRateCents <= 0 || req.PurchaseRateCents <= 0 {
		writeError(w, http.StatusBadRequest, "rates must be positive", nil)
		return
	}
	if req.PlatformFeeBps < 0 || req.ReserveBps < 0 || req.PlatformFeeBps+req.ReserveBps > 10000 {
		writeError(w, http.StatusBadRequest, "fee and reserve bps must be non-negative and sum below 10000", nil)
		return
	}

	econ := economy.ClubEconomics{
		EarnMultiplier:    earn,
		RedeemMultiplier:  redeem,
		PromoDiscountPct:  req.PromoDiscountPct,
		PegRateCents:      economy.Cents(req.PegRateCents),
		PurchaseRateCents: economy.Cents(req.PurchaseRateCents),
		PlatformFeeBps:    req.PlatformFeeBps,
		ReserveBps:        req.ReserveBps,
	}
	if err := h.Store.UpdateClubEconomics(r.Context(), clubID, econ); err != nil {
		h.writeDomainError(w, "Failed to update economics", err)
		return
	}

	club.Economics = econ
	writeJSON(w, http.StatusOK, toClubDTO(club))
}

// SetMultiplier sets one tier's earn multiplier for the club.
func (h *Handler) SetMultiplier(w http.ResponseWriter, r *http.Request) {
	clubID := economy.ClubID(chi.URLParam(r, "id"))
	if _, ok := h.requireClubOwner(w, r, clubID); !ok {
		return
	}

	var req SetMultiplierRequest
	if err := decodeStrict(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	tier := economy.Tier(req.Tier)
	if tier.Rank() < 0 {
		writeError(w, http.StatusBadRequest, "unknown tier", nil)
		return
	}
	m, err := parseDecimal("multiplier", req.Multiplier)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	if err := h.Store.SetStatusMultiplier(r.Context(), clubID, tier, m); err != nil {
		h.writeDomainError(w, "Failed to set multiplier", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tier": req.Tier, "multiplier": req.Multiplier})
}

// GetLeaderboard returns the club's status ranking. Served from a short TTL
// cache: rankings tolerate staleness, wallets do not.
func (h *Handler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	clubID := economy.ClubID(chi.URLParam(r, "id"))
	limit := queryInt(r, "limit", 50, 200)

	if cached, ok := h.leaderboards.get(clubID, limit); ok {
		writeJSON(w, http.StatusOK, cached)
		return
	}

	entries, err := h.Store.Leaderboard(r.Context(), clubID, limit)
	if err != nil {
		h.writeDomainError(w, "Failed to get leaderboard", err)
		return
	}

	dtos := make([]LeaderboardEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = LeaderboardEntryDTO{
			Rank:      i + 1,
			UserID:    string(e.UserID),
			StatusPts: int64(e.StatusPts),
			Tier:      string(economy.StatusFor(e.StatusPts).Tier),
		}
	}

	h.leaderboards.put(clubID, limit, dtos)
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// WALLET HANDLERS
// =============================================================================

// TapIn credits activity points through the earn pipeline (club multiplier,
// then tier multiplier).
func (h *Handler) TapIn(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)
	clubID := economy.ClubID(chi.URLParam(r, "id"))

	var req TapInRequest
	if err := decodeStrict(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.BasePoints <= 0 {
		writeError(w, http.StatusBadRequest, "base_points must be positive", nil)
		return
	}
	source := req.Source
	if source == "" {
		source = "tap_in"
	}

	club, err := h.Store.GetClub(r.Context(), clubID)
	if err != nil {
		h.writeDomainError(w, "Failed to get club", err)
		return
	}
	multipliers, err := h.Store.StatusMultipliers(r.Context(), clubID)
	if err != nil {
		h.writeDomainError(w, "Failed to get multipliers", err)
		return
	}

	tx, granted, err := h.Ledger.Earn(r.Context(), user.ID, club, economy.Points(req.BasePoints), source, multipliers)
	if err != nil {
		h.writeDomainError(w, "Failed to credit points", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"granted":     int64(granted),
		"transaction": toTransactionDTO(*tx),
	})
}

// GetWallet returns the caller's balance breakdown with derived tier.
func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)
	clubID := economy.ClubID(chi.URLParam(r, "id"))

	b, err := h.Ledger.GetBreakdown(r.Context(), user.ID, clubID)
	if err != nil {
		h.writeDomainError(w, "Failed to get wallet", err)
		return
	}
	writeJSON(w, http.StatusOK, toWalletDTO(b))
}

// GetTransactions returns the caller's ledger history, newest first.
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)
	clubID := economy.ClubID(chi.URLParam(r, "id"))
	limit := queryInt(r, "limit", 50, 500)

	txs, err := h.Store.ListTransactions(r.Context(), user.ID, clubID, limit)
	if err != nil {
		h.writeDomainError(w, "Failed to list transactions", err)
		return
	}

	dtos := make([]TransactionDTO, len(txs))
	for i, t := range txs {
		dtos[i] = toTransactionDTO(t)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateTransfer sends points to another member of the same club.
func (h *Handler) CreateTransfer(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)
	clubID := economy.ClubID(chi.URLParam(r, "id"))

	var req TransferRequest
	if err := decodeStrict(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	pool := economy.PoolAny
	if req.Pool != "" {
		pool = economy.TransferPool(req.Pool)
	}

	result, err := h.Transfers.Transfer(r.Context(), clubID, user.ID,
		economy.UserID(req.RecipientID), economy.Points(req.Amount), pool)
	if err != nil {
		h.writeDomainError(w, "Transfer failed", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"reference":     result.Reference,
		"outgoing_tx":   string(result.OutgoingTx),
		"incoming_tx":   string(result.IncomingTx),
		"balance_after": int64(result.SenderAfter),
	})
}

// =============================================================================
// REWARD HANDLERS
// =============================================================================

// ListRewards returns a club's catalog.
func (h *Handler) ListRewards(w http.ResponseWriter, r *http.Request) {
	clubID := economy.ClubID(chi.URLParam(r, "id"))

	recs, err := h.Store.ListRewards(r.Context(), clubID)
	if err != nil {
		h.writeDomainError(w, "Failed to list rewards", err)
		return
	}

	dtos := make([]RewardDTO, len(recs))
	for i, rec := range recs {
		dtos[i] = toRewardDTO(rec)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateReward adds a catalog entry. Owner or admin only.
func (h *Handler) CreateReward(w http.ResponseWriter, r *http.Request) {
	clubID := economy.ClubID(chi.URLParam(r, "id"))
	if _, ok := h.requireClubOwner(w, r, clubID); !ok {
		return
	}

	var req CreateRewardRequest
	if err := decodeStrict(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	reward := economy.Reward{
		ClubID:    clubID,
		Name:      req.Name,
		Kind:      economy.RewardKind(req.Kind),
		PricePts:  economy.Points(req.PricePts),
		Inventory: req.Inventory,
		Active:    true,
	}
	if req.WindowStart != "" {
		t, err := time.Parse(time.RFC3339, req.WindowStart)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid window_start (use RFC3339)", err)
			return
		}
		reward.WindowStart = &t
	}
	if req.WindowEnd != "" {
		t, err := time.Parse(time.RFC3339, req.WindowEnd)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid window_end (use RFC3339)", err)
			return
		}
		reward.WindowEnd = &t
	}

	created, err := h.Rewards.Create(r.Context(), reward)
	if err != nil {
		h.writeDomainError(w, "Failed to create reward", err)
		return
	}

	writeJSON(w, http.StatusCreated, toRewardDTO(sqlite.RewardRecord{Reward: *created}))
}

// SetPricing attaches real-currency purchase config to a reward.
func (h *Handler) SetPricing(w http.ResponseWriter, r *http.Request) {
	rewardID := economy.RewardID(chi.URLParam(r, "id"))

	rec, err := h.Store.GetReward(r.Context(), rewardID)
	if err != nil {
		h.writeDomainError(w, "Failed to get reward", err)
		return
	}
	if _, ok := h.requireClubOwner(w, r, rec.ClubID); !ok {
		return
	}

	var req SetPricingRequest
	if err := decodeStrict(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if (req.BasePriceCents == nil) == (req.CampaignCredits == nil) {
		writeError(w, http.StatusBadRequest, "exactly one of base_price_cents or campaign_credits is required", nil)
		return
	}

	var pricing economy.TierRewardPricing
	var campaign *economy.CreditCampaign
	if req.CampaignCredits != nil {
		campaign = &economy.CreditCampaign{
			RewardID:       rewardID,
			Credits:        *req.CampaignCredits,
			CentsPerCredit: economy.Cents(req.CampaignRateCents),
		}
		// Validate before persisting so a broken campaign never reaches checkout
		if _, err := economy.PriceCreditCampaign(*campaign, "validation"); err != nil {
			h.writeDomainError(w, "Invalid campaign", err)
			return
		}
	} else {
		discounts := make(economy.DiscountTable, len(req.Discounts))
		for tier, pct := range req.Discounts {
			discounts[economy.Tier(tier)] = pct
		}
		pricing = economy.TierRewardPricing{
			RewardID:      rewardID,
			BasePrice:     economy.Cents(*req.BasePriceCents),
			MinTier:       economy.Tier(req.MinTier),
			Discounts:     discounts,
			MinPriceCents: economy.Cents(req.MinPriceCents),
		}
		if _, err := economy.PriceTierReward(pricing, "validation", economy.TierSuperfan); err != nil {
			h.writeDomainError(w, "Invalid pricing", err)
			return
		}
	}

	if err := h.Store.SetRewardPricing(r.Context(), rewardID, pricing, campaign); err != nil {
		h.writeDomainError(w, "Failed to set pricing", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reward_id": string(rewardID)})
}

// RedeemReward spends points on a reward.
func (h *Handler) RedeemReward(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)
	rewardID := economy.RewardID(chi.URLParam(r, "id"))

	rd, err := h.Rewards.Redeem(r.Context(), user.ID, rewardID)
	if err != nil {
		h.writeDomainError(w, "Redemption failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toRedemptionDTO(*rd))
}

// ConfirmRedemption confirms a presale hold, debiting the held price.
func (h *Handler) ConfirmRedemption(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)
	redemptionID := economy.RedemptionID(chi.URLParam(r, "id"))

	rd, err := h.Rewards.ConfirmHold(r.Context(), user.ID, redemptionID)
	if err != nil {
		h.writeDomainError(w, "Confirmation failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toRedemptionDTO(*rd))
}

// ListRedemptions returns the caller's redemptions in a club.
func (h *Handler) ListRedemptions(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)
	clubID := economy.ClubID(chi.URLParam(r, "id"))

	rds, err := h.Rewards.ListForUser(r.Context(), user.ID, clubID)
	if err != nil {
		h.writeDomainError(w, "Failed to list redemptions", err)
		return
	}

	dtos := make([]RedemptionDTO, len(rds))
	for i, rd := range rds {
		dtos[i] = toRedemptionDTO(rd)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// PAYMENT HANDLERS
// =============================================================================

// StartCheckout opens a payment session for a purchasable reward.
func (h *Handler) StartCheckout(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)

	var req CheckoutRequest
	if err := decodeStrict(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	result, err := h.Checkout.Start(r.Context(), user.ID, economy.RewardID(req.RewardID))
	if err != nil {
		h.writeDomainError(w, "Checkout failed", err)
		return
	}

	writeJSON(w, http.StatusOK, CheckoutDTO{
		PurchaseID:  result.PurchaseID,
		SessionID:   result.SessionID,
		SessionURL:  result.SessionURL,
		BaseCents:   int64(result.Quote.BasePrice),
		DiscountPct: result.Quote.DiscountPct,
		FinalCents:  int64(result.Quote.FinalPrice),
		Reused:      result.Reused,
	})
}

// HandleWebhook processes a processor payment event. No bearer auth here;
// authenticity comes from the payload signature.
func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read payload", err)
		return
	}

	sig := r.Header.Get("X-Signature")
	if err := h.Webhooks.Handle(r.Context(), payload, sig); err != nil {
		h.writeDomainError(w, "Webhook rejected", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"received": true})
}

// ChainPurchase credits points from a verified on-chain transfer.
func (h *Handler) ChainPurchase(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)
	clubID := economy.ClubID(chi.URLParam(r, "id"))

	var req ChainPurchaseRequest
	if err := decodeStrict(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	tx, err := h.Chain.Credit(r.Context(), user.ID, clubID, req.TxHash, req.Recipient, economy.Cents(req.AmountCents))
	if err != nil {
		h.writeDomainError(w, "Chain purchase failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(*tx))
}

// =============================================================================
// SETTLEMENT HANDLERS
// =============================================================================

// GetCoverage reports how well the club's pool backs its point liability.
func (h *Handler) GetCoverage(w http.ResponseWriter, r *http.Request) {
	clubID := economy.ClubID(chi.URLParam(r, "id"))
	if _, ok := h.requireClubOwner(w, r, clubID); !ok {
		return
	}

	cov, err := h.Settlement.CoverageRatio(r.Context(), clubID)
	if err != nil {
		h.writeDomainError(w, "Failed to compute coverage", err)
		return
	}

	writeJSON(w, http.StatusOK, CoverageDTO{
		ClubID:         string(cov.ClubID),
		LiabilityPts:   int64(cov.LiabilityPts),
		LiabilityCents: int64(cov.LiabilityCents),
		PoolCents:      int64(cov.PoolCents),
		Ratio:          cov.Ratio.String(),
	})
}

// GetWeeklyStats returns the current settlement week's accumulated split.
func (h *Handler) GetWeeklyStats(w http.ResponseWriter, r *http.Request) {
	clubID := economy.ClubID(chi.URLParam(r, "id"))
	if _, ok := h.requireClubOwner(w, r, clubID); !ok {
		return
	}

	ws, err := h.Settlement.WeeklyStats(r.Context(), clubID, payments.WeekStart(time.Now()))
	if err != nil {
		h.writeDomainError(w, "Failed to get weekly stats", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"club_id":       string(ws.ClubID),
		"week_start":    ws.WeekStart,
		"gross_cents":   int64(ws.GrossCents),
		"fee_cents":     int64(ws.FeeCents),
		"reserve_cents": int64(ws.ReserveCents),
		"upfront_cents": int64(ws.UpfrontCents),
	})
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// CreateAdjustment applies a signed manual correction to a member's wallet.
func (h *Handler) CreateAdjustment(w http.ResponseWriter, r *http.Request) {
	clubID := economy.ClubID(chi.URLParam(r, "id"))
	if _, ok := h.requireClubOwner(w, r, clubID); !ok {
		return
	}

	var req AdjustmentRequest
	if err := decodeStrict(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Amount == 0 {
		writeError(w, http.StatusBadRequest, "amount must be non-zero", nil)
		return
	}

	target := economy.UserID(req.UserID)
	var tx *economy.Transaction
	var err error
	if req.Amount > 0 {
		tx, err = h.Ledger.Credit(r.Context(), target, clubID, economy.Points(req.Amount),
			economy.TxRefund, ledger.CreditOptions{
				Source:   "admin_adjustment",
				Metadata: map[string]string{"reason": req.Reason},
			})
	} else {
		tx, err = h.Ledger.Debit(r.Context(), target, clubID, economy.Points(-req.Amount),
			economy.TxSpend, ledger.DebitOptions{
				Source:   "admin_adjustment",
				Metadata: map[string]string{"reason": req.Reason},
			})
	}
	if err != nil {
		h.writeDomainError(w, "Adjustment failed", err)
		return
	}

	writeJSON(w, http.StatusOK, toTransactionDTO(*tx))
}

// SweepHolds force-runs the expired-hold reconciler.
func (h *Handler) SweepHolds(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}

	n, err := h.Rewards.SweepExpiredHolds(r.Context())
	if err != nil {
		h.writeDomainError(w, "Sweep failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"released": n})
}

// DeactivateUser flips a user to inactive. History stays intact.
func (h *Handler) DeactivateUser(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}

	id := economy.UserID(chi.URLParam(r, "id"))
	if err := h.Store.DeactivateUser(r.Context(), id); err != nil {
		h.writeDomainError(w, "Failed to deactivate user", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": string(id), "active": false})
}

// =============================================================================
// AUTHORIZATION HELPERS
// =============================================================================

// requireClubOwner loads the club and checks the caller owns it (or is a
// platform admin). Writes the error response on failure.
func (h *Handler) requireClubOwner(w http.ResponseWriter, r *http.Request, clubID economy.ClubID) (*economy.Club, bool) {
	club, err := h.Store.GetClub(r.Context(), clubID)
	if err != nil {
		h.writeDomainError(w, "Failed to get club", err)
		return nil, false
	}
	user := userFrom(r)
	if club.OwnerID != user.ID && !h.Resolver.IsAdmin(user) {
		writeError(w, http.StatusForbidden, "Club owner or admin required", nil)
		return nil, false
	}
	return club, true
}

func (h *Handler) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	if !h.Resolver.IsAdmin(userFrom(r)) {
		writeError(w, http.StatusForbidden, "Admin required", nil)
		return false
	}
	return true
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps a domain error onto an HTTP status.
func (h *Handler) writeDomainError(w http.ResponseWriter, message string, err error) {
	status := http.StatusInternalServerError
	switch {
	case economy.IsNotFound(err):
		status = http.StatusNotFound
	case errors.Is(err, economy.ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, economy.ErrAlreadyClaimed),
		errors.Is(err, economy.ErrDuplicateExternalEvent),
		errors.Is(err, economy.ErrDatastoreConflict):
		status = http.StatusConflict
	case errors.Is(err, economy.ErrInvalidPricing):
		status = http.StatusUnprocessableEntity
	case economy.IsClientError(err):
		status = http.StatusBadRequest
	case errors.Is(err, economy.ErrExternalServiceUnavailable):
		status = http.StatusBadGateway
	}

	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Msg(message)
	}
	writeError(w, status, message, err)
}

// queryInt parses a bounded positive integer query parameter.
func queryInt(r *http.Request, name string, def, max int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
