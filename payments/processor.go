/*
Package payments owns the real-currency boundary of the points engine:
checkout session creation, webhook-driven idempotent crediting, crypto
purchase verification, and weekly settlement accounting.

EXTERNAL COLLABORATORS:
  The payment processor and the blockchain oracle are opaque interfaces.
  Both are called with bounded timeouts and fail closed: if the collaborator
  is unreachable the operation is rejected, never assumed successful.

processor.go defines those boundaries plus the HMAC webhook verifier.
*/
package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/stagepass/points-engine/economy"
)

// LineItem describes what a checkout session charges for.
type LineItem struct {
	Name        string
	AmountCents economy.Cents
	Quantity    int
}

// CheckoutSession is the processor's handle for an in-flight payment.
type CheckoutSession struct {
	ID  string
	URL string
}

// Processor is the payment processor boundary. Implementations must honor
// the idempotency key: the same key returns the same session rather than
// opening a duplicate.
type Processor interface {
	CreateCheckoutSession(ctx context.Context, item LineItem, metadata map[string]string, idempotencyKey string) (*CheckoutSession, error)
}

// ChainVerifier is the blockchain oracle for crypto-denominated purchases.
// A transaction hash verifies at most once; replays are rejected upstream by
// the processed-events table.
type ChainVerifier interface {
	VerifyTransfer(ctx context.Context, txHash string, recipient string, amount economy.Cents) error
}

// =============================================================================
// WEBHOOK SIGNATURE VERIFICATION
// =============================================================================

// WebhookVerifier authenticates inbound webhook payloads.
type WebhookVerifier interface {
	Verify(payload []byte, signature string) error
}

// HMACVerifier implements the processor's shared-secret signature scheme:
// hex(HMAC-SHA256(secret, payload)).
type HMACVerifier struct {
	secret []byte
}

// NewHMACVerifier creates a verifier for the given webhook secret.
func NewHMACVerifier(secret string) *HMACVerifier {
	return &HMACVerifier{secret: []byte(secret)}
}

// Verify checks the payload signature in constant time.
func (v *HMACVerifier) Verify(payload []byte, signature string) error {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return economy.ErrUnauthorized
	}
	return nil
}

// Sign computes the signature for a payload. Used by tests and by the demo
// webhook replayer.
func (v *HMACVerifier) Sign(payload []byte) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// =============================================================================
// DEVELOPMENT STAND-INS
// =============================================================================

// StaticProcessor is a local stand-in for the hosted processor. Sessions are
// derived from the idempotency key, so retries naturally dedupe the same way
// the real processor does.
type StaticProcessor struct {
	BaseURL string
}

// CreateCheckoutSession returns a deterministic session for the key.
func (p *StaticProcessor) CreateCheckoutSession(_ context.Context, item LineItem, _ map[string]string, idempotencyKey string) (*CheckoutSession, error) {
	if item.AmountCents <= 0 {
		return nil, fmt.Errorf("%w: non-positive amount", economy.ErrInvalidPricing)
	}
	if idempotencyKey == "" {
		return nil, errors.New("idempotency key required")
	}
	base := p.BaseURL
	if base == "" {
		base = "https://pay.invalid"
	}
	id := "cs_" + idempotencyKey
	return &CheckoutSession{ID: id, URL: base + "/session/" + id}, nil
}

// StaticChainVerifier approves any well-formed transaction hash. Local
// development only; production wires a real oracle client here.
type StaticChainVerifier struct{}

// VerifyTransfer accepts any non-empty hash.
func (StaticChainVerifier) VerifyTransfer(_ context.Context, txHash string, _ string, _ economy.Cents) error {
	if txHash == "" {
		return economy.ErrExternalServiceUnavailable
	}
	return nil
}
