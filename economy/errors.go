/*
errors.go - Centralized error taxonomy for the points engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Package-level operations return these; domain packages wrap them with
  additional context where useful.

ERROR CATEGORIES:
  1. Identity errors   - Unauthorized
  2. Lookup errors     - NotFound variants
  3. Business errors   - Insufficient points, unavailable rewards, pricing
  4. Infra errors      - Datastore conflicts, external service failures

USAGE:
  Callers classify with errors.Is and the helpers below:

    if economy.IsClientError(err) {
        // 4xx-equivalent: surface detail, do not retry
    }
*/
package economy

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrUnauthorized is returned when identity resolution fails.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound is returned when a user, wallet, reward or club is missing.
	ErrNotFound = errors.New("not found")

	// ErrInsufficientPoints is returned when a debit would drive a balance negative.
	ErrInsufficientPoints = errors.New("insufficient points")

	// ErrInsufficientPointsStatusProtected is returned when a spend was asked
	// to preserve status but would have consumed status-backing points.
	ErrInsufficientPointsStatusProtected = errors.New("insufficient points without lowering status")

	// ErrRewardUnavailable is returned for inactive or out-of-window rewards.
	ErrRewardUnavailable = errors.New("reward unavailable")

	// ErrOutOfStock is returned when a VARIANT reward has no inventory left.
	ErrOutOfStock = errors.New("reward out of stock")

	// ErrAlreadyClaimed is returned when a non-repeatable reward was already
	// redeemed or purchased by this user.
	ErrAlreadyClaimed = errors.New("reward already claimed")

	// ErrInvalidPricing is returned for misconfigured or sub-minimum prices.
	ErrInvalidPricing = errors.New("invalid pricing")

	// ErrDuplicateExternalEvent signals an already-processed payment event.
	// Safe no-op for callers, not a true failure.
	ErrDuplicateExternalEvent = errors.New("duplicate external event")

	// ErrTransferToSelf is returned when sender and recipient match.
	ErrTransferToSelf = errors.New("cannot transfer to self")

	// ErrRecipientNotFound is returned when the transfer recipient is unknown.
	ErrRecipientNotFound = errors.New("recipient not found")

	// ErrExternalServiceUnavailable is returned when the payment processor or
	// chain oracle fails or times out. The operation fails closed.
	ErrExternalServiceUnavailable = errors.New("external service unavailable")

	// ErrDatastoreConflict is returned on constraint violations and lost races.
	ErrDatastoreConflict = errors.New("datastore conflict")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientPointsError details a balance shortage.
type InsufficientPointsError struct {
	UserID    UserID
	ClubID    ClubID
	Pool      TransferPool
	Available Points
	Requested Points
}

func (e *InsufficientPointsError) Error() string {
	return fmt.Sprintf("insufficient points: available %d, requested %d", e.Available, e.Requested)
}

func (e *InsufficientPointsError) Unwrap() error { return ErrInsufficientPoints }

// PricingError details a rejected price computation.
type PricingError struct {
	RewardID   RewardID
	FinalPrice Cents
	FloorCents Cents
	Reason     string
}

func (e *PricingError) Error() string {
	return fmt.Sprintf("invalid pricing for %s: %s (final %d, floor %d)",
		e.RewardID, e.Reason, e.FinalPrice, e.FloorCents)
}

func (e *PricingError) Unwrap() error { return ErrInvalidPricing }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError reports whether the error is a 4xx-equivalent business or
// validation failure. These are surfaced with detail and must not be retried
// blindly.
func IsClientError(err error) bool {
	return errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrInsufficientPoints) ||
		errors.Is(err, ErrInsufficientPointsStatusProtected) ||
		errors.Is(err, ErrRewardUnavailable) ||
		errors.Is(err, ErrOutOfStock) ||
		errors.Is(err, ErrAlreadyClaimed) ||
		errors.Is(err, ErrInvalidPricing) ||
		errors.Is(err, ErrTransferToSelf) ||
		errors.Is(err, ErrRecipientNotFound)
}

// IsNotFound reports whether the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrRecipientNotFound)
}

// IsRetryable reports whether a retry might succeed. Every mutating operation
// is idempotent or transactional, so retrying these is always safe.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrDatastoreConflict) ||
		errors.Is(err, ErrExternalServiceUnavailable)
}
