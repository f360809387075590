/*
status.go - Status tier derivation

PURPOSE:
  Derives a member's status tier from accrued status points. This is the ONE
  place tier is computed; read paths that matter (pricing, access control)
  call StatusFor against ledger-derived points. Any stored current_status
  column is a denormalized cache refreshed opportunistically - it is never
  trusted for authorization or pricing decisions.

TIERS:
  cadet -> resident -> headliner -> superfan, with strictly increasing
  thresholds. Transferred-in points never count (affects_status = false on
  those transactions), so receiving a transfer cannot raise a tier.
*/
package economy

// Tier is one of four ordered membership levels.
type Tier string

const (
	TierCadet     Tier = "cadet"
	TierResident  Tier = "resident"
	TierHeadliner Tier = "headliner"
	TierSuperfan  Tier = "superfan"
)

// tierThresholds is the ordered threshold table. Thresholds are cumulative
// status points and strictly increasing.
var tierThresholds = []struct {
	Tier      Tier
	Threshold Points
}{
	{TierCadet, 0},
	{TierResident, 500},
	{TierHeadliner, 2500},
	{TierSuperfan, 10000},
}

// Rank returns the tier's position in the ladder (cadet = 0). Unknown tiers
// rank below cadet so a corrupted value can never unlock anything.
func (t Tier) Rank() int {
	for i, e := range tierThresholds {
		if e.Tier == t {
			return i
		}
	}
	return -1
}

// Threshold returns the status points required to reach the tier.
func (t Tier) Threshold() Points {
	for _, e := range tierThresholds {
		if e.Tier == t {
			return e.Threshold
		}
	}
	return 0
}

// Status is the derived tier state for a member.
type Status struct {
	Tier     Tier
	Next     Tier // Empty when already superfan
	Progress int  // Percent toward Next, clamped to [0,100]; 100 at max tier
}

// StatusFor derives the current tier, the next tier, and progress toward it
// from cumulative status points. Pure function; negative input is treated as
// zero.
func StatusFor(statusPts Points) Status {
	if statusPts < 0 {
		statusPts = 0
	}

	idx := 0
	for i, e := range tierThresholds {
		if statusPts >= e.Threshold {
			idx = i
		}
	}

	s := Status{Tier: tierThresholds[idx].Tier}
	if idx == len(tierThresholds)-1 {
		s.Progress = 100
		return s
	}

	next := tierThresholds[idx+1]
	s.Next = next.Tier

	floor := tierThresholds[idx].Threshold
	span := next.Threshold - floor
	progress := int((statusPts - floor) * 100 / span)
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	s.Progress = progress
	return s
}
