/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Request bodies are decoded strictly: unknown fields are rejected so typos
  in client payloads fail loudly instead of silently dropping intent.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stagepass/points-engine/economy"
	"github.com/stagepass/points-engine/ledger"
	"github.com/stagepass/points-engine/store/sqlite"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// CreateClubRequest creates a club owned by the caller.
type CreateClubRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// UpdateEconomicsRequest replaces a club's economics. All fields required;
// partial updates are too easy to get wrong with multipliers.
type UpdateEconomicsRequest struct {
	EarnMultiplier    string `json:"earn_multiplier"`
	RedeemMultiplier  string `json:"redeem_multiplier"`
	PromoDiscountPct  int    `json:"promo_discount_pct"`
	PegRateCents      int64  `json:"peg_rate_cents"`
	PurchaseRateCents int64  `json:"purchase_rate_cents"`
	PlatformFeeBps    int    `json:"platform_fee_bps"`
	ReserveBps        int    `json:"reserve_bps"`
}

// TapInRequest reports member activity that earns points.
type TapInRequest struct {
	BasePoints int64  `json:"base_points"`
	Source     string `json:"source"`
}

// SetMultiplierRequest sets one tier's earn multiplier for a club.
type SetMultiplierRequest struct {
	Tier       string `json:"tier"`
	Multiplier string `json:"multiplier"`
}

// CreateRewardRequest adds a catalog entry.
type CreateRewardRequest struct {
	Name        string `json:"name"`
	Kind        string `json:"kind"`
	PricePts    int64  `json:"price_pts"`
	Inventory   *int   `json:"inventory,omitempty"`
	WindowStart string `json:"window_start,omitempty"`
	WindowEnd   string `json:"window_end,omitempty"`
}

// SetPricingRequest attaches real-currency purchase config to a reward.
// Exactly one of pricing or campaign must be present.
type SetPricingRequest struct {
	BasePriceCents *int64         `json:"base_price_cents,omitempty"`
	MinTier        string         `json:"min_tier,omitempty"`
	Discounts      map[string]int `json:"discounts,omitempty"`
	MinPriceCents  int64          `json:"min_price_cents,omitempty"`

	CampaignCredits   *int  `json:"campaign_credits,omitempty"`
	CampaignRateCents int64 `json:"campaign_rate_cents,omitempty"`
}

// TransferRequest moves points to another member.
type TransferRequest struct {
	RecipientID string `json:"recipient_id"`
	Amount      int64  `json:"amount"`
	Pool        string `json:"pool,omitempty"` // "any" (default) or "purchased_only"
}

// CheckoutRequest opens a payment session for a purchasable reward.
type CheckoutRequest struct {
	RewardID string `json:"reward_id"`
}

// ChainPurchaseRequest credits points from a verified on-chain transfer.
type ChainPurchaseRequest struct {
	TxHash      string `json:"tx_hash"`
	Recipient   string `json:"recipient"`
	AmountCents int64  `json:"amount_cents"`
}

// AdjustmentRequest is an admin balance correction.
type AdjustmentRequest struct {
	UserID string `json:"user_id"`
	Amount int64  `json:"amount"` // Signed
	Reason string `json:"reason"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// ClubDTO represents a club in API responses.
type ClubDTO struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	OwnerID           string `json:"owner_id"`
	EarnMultiplier    string `json:"earn_multiplier"`
	RedeemMultiplier  string `json:"redeem_multiplier"`
	PromoDiscountPct  int    `json:"promo_discount_pct"`
	PegRateCents      int64  `json:"peg_rate_cents"`
	PurchaseRateCents int64  `json:"purchase_rate_cents"`
	PlatformFeeBps    int    `json:"platform_fee_bps"`
	ReserveBps        int    `json:"reserve_bps"`
	CreatedAt         string `json:"created_at,omitempty"`
}

func toClubDTO(c *economy.Club) ClubDTO {
	return ClubDTO{
		ID:                string(c.ID),
		Name:              c.Name,
		OwnerID:           string(c.OwnerID),
		EarnMultiplier:    c.Economics.EarnMultiplier.String(),
		RedeemMultiplier:  c.Economics.RedeemMultiplier.String(),
		PromoDiscountPct:  c.Economics.PromoDiscountPct,
		PegRateCents:      int64(c.Economics.PegRateCents),
		PurchaseRateCents: int64(c.Economics.PurchaseRateCents),
		PlatformFeeBps:    c.Economics.PlatformFeeBps,
		ReserveBps:        c.Economics.ReserveBps,
		CreatedAt:         c.CreatedAt.Format(time.RFC3339),
	}
}

// WalletDTO is the member-facing balance breakdown with derived status.
type WalletDTO struct {
	UserID    string `json:"user_id"`
	ClubID    string `json:"club_id"`
	Balance   int64  `json:"balance_pts"`
	Earned    int64  `json:"earned_pts"`
	Purchased int64  `json:"purchased_pts"`
	Spent     int64  `json:"spent_pts"`
	Escrowed  int64  `json:"escrowed_pts"`
	StatusPts int64  `json:"status_pts"`

	Tier     string `json:"tier"`
	NextTier string `json:"next_tier,omitempty"`
	Progress int    `json:"progress"` // Percent toward the next tier
}

func toWalletDTO(b *ledger.Breakdown) WalletDTO {
	dto := WalletDTO{
		UserID:    string(b.Wallet.UserID),
		ClubID:    string(b.Wallet.ClubID),
		Balance:   int64(b.Wallet.Balance),
		Earned:    int64(b.Wallet.Earned),
		Purchased: int64(b.Wallet.Purchased),
		Spent:     int64(b.Wallet.Spent),
		Escrowed:  int64(b.Wallet.Escrowed),
		StatusPts: int64(b.Wallet.Status),
		Tier:      string(b.Status.Tier),
		NextTier:  string(b.Status.Next),
		Progress:  b.Status.Progress,
	}
	return dto
}

// TransactionDTO is one ledger row.
type TransactionDTO struct {
	ID            string `json:"id"`
	Type          string `json:"type"`
	Delta         int64  `json:"delta"`
	AffectsStatus bool   `json:"affects_status"`
	Source        string `json:"source,omitempty"`
	ReferenceID   string `json:"reference_id,omitempty"`
	CreatedAt     string `json:"created_at"`
}

func toTransactionDTO(t economy.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:            string(t.ID),
		Type:          string(t.Type),
		Delta:         int64(t.Delta),
		AffectsStatus: t.AffectsStatus,
		Source:        t.Source,
		ReferenceID:   t.ReferenceID,
		CreatedAt:     t.CreatedAt.Format(time.RFC3339),
	}
}

// RewardDTO is a catalog entry.
type RewardDTO struct {
	ID          string `json:"id"`
	ClubID      string `json:"club_id"`
	Name        string `json:"name"`
	Kind        string `json:"kind"`
	PricePts    int64  `json:"price_pts"`
	Inventory   *int   `json:"inventory,omitempty"`
	WindowStart string `json:"window_start,omitempty"`
	WindowEnd   string `json:"window_end,omitempty"`
	Active      bool   `json:"active"`

	Purchasable bool   `json:"purchasable"`
	BaseCents   int64  `json:"base_price_cents,omitempty"`
	MinTier     string `json:"min_tier,omitempty"`
}

func toRewardDTO(rec sqlite.RewardRecord) RewardDTO {
	dto := RewardDTO{
		ID:       string(rec.ID),
		ClubID:   string(rec.ClubID),
		Name:     rec.Name,
		Kind:     string(rec.Kind),
		PricePts: int64(rec.PricePts),
		Active:   rec.Active,
	}
	if rec.Inventory != nil {
		v := *rec.Inventory
		dto.Inventory = &v
	}
	if rec.WindowStart != nil {
		dto.WindowStart = rec.WindowStart.Format(time.RFC3339)
	}
	if rec.WindowEnd != nil {
		dto.WindowEnd = rec.WindowEnd.Format(time.RFC3339)
	}
	if rec.Pricing != nil {
		dto.Purchasable = true
		dto.BaseCents = int64(rec.Pricing.BasePrice)
		dto.MinTier = string(rec.Pricing.MinTier)
	}
	if rec.Campaign != nil {
		dto.Purchasable = true
	}
	return dto
}

// RedemptionDTO is one redemption with its lifecycle state.
type RedemptionDTO struct {
	ID        string `json:"id"`
	RewardID  string `json:"reward_id"`
	State     string `json:"state"`
	PricePts  int64  `json:"price_pts"`
	ExpiresAt string `json:"expires_at,omitempty"`
	CreatedAt string `json:"created_at"`
}

func toRedemptionDTO(rd economy.Redemption) RedemptionDTO {
	dto := RedemptionDTO{
		ID:        string(rd.ID),
		RewardID:  string(rd.RewardID),
		State:     string(rd.State),
		PricePts:  int64(rd.PricePts),
		CreatedAt: rd.CreatedAt.Format(time.RFC3339),
	}
	if rd.ExpiresAt != nil {
		dto.ExpiresAt = rd.ExpiresAt.Format(time.RFC3339)
	}
	return dto
}

// CheckoutDTO is the client's handle for completing payment.
type CheckoutDTO struct {
	PurchaseID  string `json:"purchase_id"`
	SessionID   string `json:"session_id"`
	SessionURL  string `json:"session_url"`
	BaseCents   int64  `json:"base_price_cents"`
	DiscountPct int    `json:"discount_pct"`
	FinalCents  int64  `json:"final_price_cents"`
	Reused      bool   `json:"reused,omitempty"`
}

// LeaderboardEntryDTO ranks one member by status points.
type LeaderboardEntryDTO struct {
	Rank      int    `json:"rank"`
	UserID    string `json:"user_id"`
	StatusPts int64  `json:"status_pts"`
	Tier      string `json:"tier"`
}

// CoverageDTO reports settlement pool health.
type CoverageDTO struct {
	ClubID         string `json:"club_id"`
	LiabilityPts   int64  `json:"liability_pts"`
	LiabilityCents int64  `json:"liability_cents"`
	PoolCents      int64  `json:"pool_cents"`
	Ratio          string `json:"ratio"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// DECODE HELPERS
// =============================================================================

// decodeStrict parses a request body, rejecting unknown fields.
func decodeStrict(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// parseDecimal parses a decimal string field, e.g. a multiplier.
func parseDecimal(field, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid %s %q", field, s)
	}
	return d, nil
}
