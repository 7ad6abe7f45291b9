// Package payment defines the x402 wire types exchanged between the gateway,
// paying clients and the settlement facilitator. All types are transient:
// nothing in this package is persisted.
package payment

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Version is the supported x402 protocol version.
const Version = 1

// SchemeExact is the only accepted payment scheme: a signed transfer
// authorization for the exact required amount.
const SchemeExact = "exact"

// Header names carrying payment evidence and settlement proof.
const (
	Header         = "X-PAYMENT"
	ResponseHeader = "X-PAYMENT-RESPONSE"
)

// EIP712Domain carries the domain metadata a client-side signer needs to
// produce a structured signature for the asset contract.
type EIP712Domain struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Requirements is a single accepted payment option inside a 402 challenge.
// Every field is part of the client signer contract; omitting one breaks
// interoperability.
type Requirements struct {
	Scheme            string        `json:"scheme"`
	Network           string        `json:"network"`
	MaxAmountRequired string        `json:"maxAmountRequired"`
	Resource          string        `json:"resource"`
	Description       string        `json:"description"`
	MimeType          string        `json:"mimeType"`
	PayTo             string        `json:"payTo"`
	MaxTimeoutSeconds int           `json:"maxTimeoutSeconds"`
	Asset             string        `json:"asset"`
	Extra             *EIP712Domain `json:"extra,omitempty"`
}

// RequiredResponse is the 402 challenge body.
type RequiredResponse struct {
	X402Version int            `json:"x402Version"`
	Error       string         `json:"error,omitempty"`
	Accepts     []Requirements `json:"accepts"`
}

// Authorization is the signed transfer authorization presented by a payer.
// Amounts and validity bounds are decimal strings to survive JSON round-trips
// without precision loss.
type Authorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

// ExactEvmPayload carries the signature plus the authorization it covers.
type ExactEvmPayload struct {
	Signature     string        `json:"signature"`
	Authorization Authorization `json:"authorization"`
}

// Payload is the decoded X-PAYMENT header.
type Payload struct {
	X402Version int             `json:"x402Version"`
	Scheme      string          `json:"scheme"`
	Network     string          `json:"network"`
	Payload     ExactEvmPayload `json:"payload"`
}

// Settlement is the facilitator's settlement outcome, surfaced to the caller
// in the X-PAYMENT-RESPONSE header.
type Settlement struct {
	Success     bool   `json:"success"`
	Transaction string `json:"transaction"`
	Network     string `json:"network"`
	Payer       string `json:"payer"`
	ErrorReason string `json:"errorReason,omitempty"`
}

// EncodeHeader renders a payload as the base64 JSON form carried in X-PAYMENT.
func EncodeHeader(p Payload) (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal payment payload: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeHeader parses the base64 JSON X-PAYMENT header value.
func DecodeHeader(value string) (Payload, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return Payload{}, fmt.Errorf("empty payment header")
	}
	raw, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return Payload{}, fmt.Errorf("payment header is not valid base64: %w", err)
	}
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Payload{}, fmt.Errorf("payment header is not valid JSON: %w", err)
	}
	return p, nil
}

// EncodeSettlementHeader renders a settlement as the base64 JSON form carried
// in X-PAYMENT-RESPONSE. Clients decode it without calling back into the
// gateway.
func EncodeSettlementHeader(s Settlement) (string, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("marshal settlement: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeSettlementHeader parses the X-PAYMENT-RESPONSE header value.
func DecodeSettlementHeader(value string) (Settlement, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(value))
	if err != nil {
		return Settlement{}, fmt.Errorf("settlement header is not valid base64: %w", err)
	}
	var s Settlement
	if err := json.Unmarshal(raw, &s); err != nil {
		return Settlement{}, fmt.Errorf("settlement header is not valid JSON: %w", err)
	}
	return s, nil
}
