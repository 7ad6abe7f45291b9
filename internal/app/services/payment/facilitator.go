package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/livefeed-labs/feed-gateway/internal/app/domain/payment"
	"github.com/livefeed-labs/feed-gateway/internal/httputil"
)

// Facilitator verifies and settles payment authorizations. It is the trust
// boundary: the gateway never checks signatures itself.
type Facilitator interface {
	Verify(ctx context.Context, p payment.Payload, req payment.Requirements) error
	Settle(ctx context.Context, p payment.Payload, req payment.Requirements) (payment.Settlement, error)
}

// HTTPFacilitator talks to a remote x402 facilitator over JSON HTTP.
type HTTPFacilitator struct {
	client *httputil.Client
}

// NewHTTPFacilitator creates a facilitator client bound to a base URL.
func NewHTTPFacilitator(baseURL string, timeout time.Duration) *HTTPFacilitator {
	return &HTTPFacilitator{
		client: httputil.NewClient(httputil.ClientConfig{BaseURL: baseURL, Timeout: timeout}),
	}
}

type facilitatorRequest struct {
	X402Version         int                  `json:"x402Version"`
	PaymentPayload      payment.Payload      `json:"paymentPayload"`
	PaymentRequirements payment.Requirements `json:"paymentRequirements"`
}

type verifyResponse struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason"`
	Payer         string `json:"payer"`
}

// Verify asks the facilitator whether the authorization is valid and
// unspent. Any non-affirmative answer is an error.
func (f *HTTPFacilitator) Verify(ctx context.Context, p payment.Payload, req payment.Requirements) error {
	resp, err := f.client.Post(ctx, "/verify", facilitatorRequest{
		X402Version:         payment.Version,
		PaymentPayload:      p,
		PaymentRequirements: req,
	})
	if err != nil {
		return fmt.Errorf("facilitator verify: %w", err)
	}

	var out verifyResponse
	if err := httputil.DecodeResponse(resp, &out); err != nil {
		return fmt.Errorf("facilitator verify: %w", err)
	}
	if !out.IsValid {
		reason := out.InvalidReason
		if reason == "" {
			reason = "authorization rejected"
		}
		return fmt.Errorf("facilitator verify: %s", reason)
	}
	return nil
}

// Settle asks the facilitator to capture the authorized amount on chain.
func (f *HTTPFacilitator) Settle(ctx context.Context, p payment.Payload, req payment.Requirements) (payment.Settlement, error) {
	resp, err := f.client.Post(ctx, "/settle", facilitatorRequest{
		X402Version:         payment.Version,
		PaymentPayload:      p,
		PaymentRequirements: req,
	})
	if err != nil {
		return payment.Settlement{}, fmt.Errorf("facilitator settle: %w", err)
	}

	var out payment.Settlement
	if err := httputil.DecodeResponse(resp, &out); err != nil {
		return payment.Settlement{}, fmt.Errorf("facilitator settle: %w", err)
	}
	if !out.Success {
		reason := out.ErrorReason
		if reason == "" {
			reason = "settlement failed"
		}
		return payment.Settlement{}, fmt.Errorf("facilitator settle: %s", reason)
	}
	return out, nil
}
