/*
settlement.go - Weekly settlement math and liability coverage

Every completed purchase splits its gross into three buckets:

	platform fee = gross x fee bps / 10000
	reserve      = gross x reserve bps / 10000
	upfront      = gross - fee - reserve

The reserve accumulates in the club's settlement pool and backs the club's
outstanding point liability. Coverage below 1.0 means the pool could not
redeem every outstanding point at the peg rate.
*/
package payments

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stagepass/points-engine/economy"
	"github.com/stagepass/points-engine/store/sqlite"
)

// Split divides a gross amount per the club's fee and reserve basis points.
// Fee and reserve round half-up independently; upfront absorbs the remainder
// so the three always sum to gross.
func Split(gross economy.Cents, feeBps, reserveBps int) (fee, reserve, upfront economy.Cents) {
	g := decimal.NewFromInt(int64(gross))
	bps := decimal.NewFromInt(10000)

	fee = economy.Cents(g.Mul(decimal.NewFromInt(int64(feeBps))).Div(bps).Round(0).IntPart())
	reserve = economy.Cents(g.Mul(decimal.NewFromInt(int64(reserveBps))).Div(bps).Round(0).IntPart())
	upfront = gross - fee - reserve
	return fee, reserve, upfront
}

// WeekStart truncates a time to its settlement week boundary: Monday 00:00 UTC.
func WeekStart(t time.Time) time.Time {
	t = t.UTC()
	offset := (int(t.Weekday()) + 6) % 7 // Monday = 0
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return day.AddDate(0, 0, -offset)
}

// Coverage reports how well a club's settlement pool backs its point
// liability.
type Coverage struct {
	ClubID         economy.ClubID
	LiabilityPts   economy.Points
	LiabilityCents economy.Cents
	PoolCents      economy.Cents
	Ratio          decimal.Decimal
}

// SettlementService answers settlement and coverage queries.
type SettlementService struct {
	store *sqlite.Store
}

// NewSettlementService wraps the store's settlement tables.
func NewSettlementService(store *sqlite.Store) *SettlementService {
	return &SettlementService{store: store}
}

// WeeklyStats returns one club week's accumulated settlement split.
func (s *SettlementService) WeeklyStats(ctx context.Context, clubID economy.ClubID, weekStart time.Time) (*sqlite.WeeklyStats, error) {
	return s.store.GetWeeklyStats(ctx, clubID, weekStart)
}

// CoverageRatio values the club's outstanding points at the peg rate and
// compares the settlement pool against it. Zero liability reads as fully
// covered.
func (s *SettlementService) CoverageRatio(ctx context.Context, clubID economy.ClubID) (*Coverage, error) {
	club, err := s.store.GetClub(ctx, clubID)
	if err != nil {
		return nil, err
	}
	liability, err := s.store.TotalPointLiability(ctx, clubID)
	if err != nil {
		return nil, err
	}
	pool, err := s.store.GetSettlementPool(ctx, clubID)
	if err != nil {
		return nil, err
	}

	cov := &Coverage{
		ClubID:         clubID,
		LiabilityPts:   liability,
		LiabilityCents: economy.Cents(int64(liability) * int64(club.Economics.PegRateCents)),
		PoolCents:      pool.BalanceCents + pool.ReservedCents,
	}
	if cov.LiabilityCents <= 0 {
		cov.Ratio = decimal.NewFromInt(1)
		return cov, nil
	}
	cov.Ratio = decimal.NewFromInt(int64(cov.PoolCents)).
		Div(decimal.NewFromInt(int64(cov.LiabilityCents))).
		Round(4)
	return cov, nil
}
