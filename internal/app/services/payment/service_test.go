package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"github.com/livefeed-labs/feed-gateway/internal/apperr"
	"github.com/livefeed-labs/feed-gateway/internal/app/domain/feed"
	"github.com/livefeed-labs/feed-gateway/internal/app/domain/payment"
	"github.com/livefeed-labs/feed-gateway/internal/app/services/pricing"
	"github.com/livefeed-labs/feed-gateway/internal/app/storage/memory"
	"github.com/livefeed-labs/feed-gateway/pkg/logger"
)

const (
	platformAddr = "0xDeF0000000000000000000000000000000000002"
	payerAddr    = "0xAbC0000000000000000000000000000000000001"
)

type fakeFacilitator struct {
	verifyErr  error
	settleErr  error
	settlement payment.Settlement
	verified   int
	settled    int
}

func (f *fakeFacilitator) Verify(ctx context.Context, p payment.Payload, req payment.Requirements) error {
	f.verified++
	return f.verifyErr
}

func (f *fakeFacilitator) Settle(ctx context.Context, p payment.Payload, req payment.Requirements) (payment.Settlement, error) {
	f.settled++
	if f.settleErr != nil {
		return payment.Settlement{}, f.settleErr
	}
	return f.settlement, nil
}

func quietLogger() *logger.Logger {
	log := logger.NewDefault("test")
	log.SetOutput(io.Discard)
	return log
}

func newGate(t *testing.T, fac Facilitator, enabled bool) (*Service, *memory.Store) {
	t.Helper()
	store := memory.New()
	if _, err := store.CreateFeed(context.Background(), feed.Feed{
		ID:              "f1",
		Name:            "BTC Spot",
		Category:        feed.CategoryFinance,
		UpstreamURL:     "https://api.example.com/btc",
		Method:          feed.MethodGet,
		Price:           "$0.01",
		ProviderAddress: payerAddr,
		Status:          feed.StatusActive,
		CreatedAt:       time.Now().UTC(),
	}); err != nil {
		t.Fatalf("seed feed: %v", err)
	}

	svc := New(Options{
		Enabled:           enabled,
		Network:           "base-sepolia",
		PlatformAddress:   platformAddr,
		AssetAddress:      "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		AssetName:         "USDC",
		AssetVersion:      "2",
		MaxTimeoutSeconds: 60,
	}, pricing.New(store, "base-sepolia"), fac, quietLogger())
	return svc, store
}

func gatedRouter(svc *Service, inner http.HandlerFunc) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/feed/{feedId}", svc.Gate(inner)).Methods(http.MethodGet, http.MethodPost)
	return r
}

func validPayload() payment.Payload {
	return payment.Payload{
		X402Version: payment.Version,
		Scheme:      payment.SchemeExact,
		Network:     "base-sepolia",
		Payload: payment.ExactEvmPayload{
			Signature: "0xsig",
			Authorization: payment.Authorization{
				From:        payerAddr,
				To:          platformAddr,
				Value:       "10000",
				ValidAfter:  "0",
				ValidBefore: fmt.Sprintf("%d", time.Now().Add(time.Hour).Unix()),
				Nonce:       "0xnonce",
			},
		},
	}
}

func TestGateChallengesWithoutHeader(t *testing.T) {
	fac := &fakeFacilitator{}
	svc, _ := newGate(t, fac, true)
	router := gatedRouter(svc, func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler must not run without payment")
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/feed/f1", nil))

	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402", rec.Code)
	}
	var challenge payment.RequiredResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &challenge); err != nil {
		t.Fatalf("decode challenge: %v", err)
	}
	if challenge.X402Version != payment.Version {
		t.Fatalf("x402Version = %d", challenge.X402Version)
	}
	if len(challenge.Accepts) != 1 {
		t.Fatalf("accepts = %d entries, want 1", len(challenge.Accepts))
	}
	req := challenge.Accepts[0]
	if req.Scheme != payment.SchemeExact || req.Network != "base-sepolia" {
		t.Fatalf("unexpected terms: %#v", req)
	}
	if req.MaxAmountRequired != "10000" {
		t.Fatalf("maxAmountRequired = %q, want 10000", req.MaxAmountRequired)
	}
	if req.PayTo != platformAddr {
		t.Fatalf("payTo = %q", req.PayTo)
	}
	if req.Extra == nil || req.Extra.Name != "USDC" || req.Extra.Version != "2" {
		t.Fatalf("extra = %#v", req.Extra)
	}
	if fac.verified != 0 || fac.settled != 0 {
		t.Fatalf("facilitator touched without a payment header")
	}
}

func TestGateAdmitsSettledPayment(t *testing.T) {
	fac := &fakeFacilitator{settlement: payment.Settlement{
		Success:     true,
		Transaction: "0xtx",
		Network:     "base-sepolia",
		Payer:       payerAddr,
	}}
	svc, _ := newGate(t, fac, true)

	var admission Admission
	router := gatedRouter(svc, func(w http.ResponseWriter, r *http.Request) {
		a, ok := AdmissionFromContext(r.Context())
		if !ok {
			t.Fatalf("admission missing from context")
		}
		admission = a
		w.WriteHeader(http.StatusOK)
	})

	header, err := payment.EncodeHeader(validPayload())
	if err != nil {
		t.Fatalf("encode header: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/feed/f1", nil)
	req.Header.Set(payment.Header, header)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if fac.verified != 1 || fac.settled != 1 {
		t.Fatalf("facilitator calls = %d/%d, want 1/1", fac.verified, fac.settled)
	}
	if !admission.Paid || admission.Settlement.Transaction != "0xtx" {
		t.Fatalf("admission = %#v", admission)
	}
	if admission.Quote.AtomicAmount != 10000 {
		t.Fatalf("quote atomic = %d", admission.Quote.AtomicAmount)
	}
}

func TestGateRejectsStructurallyInvalid(t *testing.T) {
	mutations := []struct {
		name   string
		mutate func(*payment.Payload)
	}{
		{"wrong version", func(p *payment.Payload) { p.X402Version = 7 }},
		{"wrong scheme", func(p *payment.Payload) { p.Scheme = "upto" }},
		{"wrong network", func(p *payment.Payload) { p.Network = "mainnet" }},
		{"missing signature", func(p *payment.Payload) { p.Payload.Signature = "" }},
		{"missing nonce", func(p *payment.Payload) { p.Payload.Authorization.Nonce = "" }},
		{"bad from", func(p *payment.Payload) { p.Payload.Authorization.From = "0x12" }},
		{"wrong recipient", func(p *payment.Payload) { p.Payload.Authorization.To = payerAddr }},
		{"short value", func(p *payment.Payload) { p.Payload.Authorization.Value = "9999" }},
		{"unparsable value", func(p *payment.Payload) { p.Payload.Authorization.Value = "ten" }},
		{"expired", func(p *payment.Payload) { p.Payload.Authorization.ValidBefore = "1" }},
		{"not yet valid", func(p *payment.Payload) {
			p.Payload.Authorization.ValidAfter = fmt.Sprintf("%d", time.Now().Add(time.Hour).Unix())
		}},
	}

	for _, tc := range mutations {
		fac := &fakeFacilitator{}
		svc, _ := newGate(t, fac, true)
		router := gatedRouter(svc, func(w http.ResponseWriter, r *http.Request) {
			t.Fatalf("%s: handler must not run", tc.name)
		})

		p := validPayload()
		tc.mutate(&p)
		header, err := payment.EncodeHeader(p)
		if err != nil {
			t.Fatalf("%s: encode: %v", tc.name, err)
		}
		req := httptest.NewRequest(http.MethodGet, "/feed/f1", nil)
		req.Header.Set(payment.Header, header)

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		if rec.Code != http.StatusPaymentRequired {
			t.Fatalf("%s: status = %d, want 402", tc.name, rec.Code)
		}
		if fac.verified != 0 || fac.settled != 0 {
			t.Fatalf("%s: structural failure must not reach the facilitator", tc.name)
		}
	}
}

func TestGateRejectsOnFacilitatorFailure(t *testing.T) {
	cases := []struct {
		name       string
		fac        *fakeFacilitator
		wantSettle int
	}{
		{"verify rejects", &fakeFacilitator{verifyErr: fmt.Errorf("invalid signature")}, 0},
		{"settle rejects", &fakeFacilitator{settleErr: fmt.Errorf("authorization already used")}, 1},
	}

	for _, tc := range cases {
		svc, _ := newGate(t, tc.fac, true)
		router := gatedRouter(svc, func(w http.ResponseWriter, r *http.Request) {
			t.Fatalf("%s: handler must not run", tc.name)
		})

		header, err := payment.EncodeHeader(validPayload())
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		req := httptest.NewRequest(http.MethodGet, "/feed/f1", nil)
		req.Header.Set(payment.Header, header)

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		if rec.Code != http.StatusPaymentRequired {
			t.Fatalf("%s: status = %d, want 402", tc.name, rec.Code)
		}
		if tc.fac.settled != tc.wantSettle {
			t.Fatalf("%s: settle calls = %d, want %d", tc.name, tc.fac.settled, tc.wantSettle)
		}
	}
}

func TestGateUnknownAndPausedFeeds(t *testing.T) {
	fac := &fakeFacilitator{}
	svc, store := newGate(t, fac, true)
	router := gatedRouter(svc, func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler must not run")
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/feed/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown feed status = %d, want 404", rec.Code)
	}

	f, err := store.GetFeed(context.Background(), "f1")
	if err != nil {
		t.Fatalf("get feed: %v", err)
	}
	f.Status = feed.StatusPaused
	if _, err := store.UpdateFeed(context.Background(), f); err != nil {
		t.Fatalf("pause feed: %v", err)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/feed/f1", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("paused feed status = %d, want 503", rec.Code)
	}
}

func TestGateDisabledPassesThrough(t *testing.T) {
	fac := &fakeFacilitator{}
	svc, _ := newGate(t, fac, false)

	var admission Admission
	router := gatedRouter(svc, func(w http.ResponseWriter, r *http.Request) {
		admission, _ = AdmissionFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/feed/f1", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if admission.Paid {
		t.Fatalf("disabled gate must admit unpaid")
	}
	if fac.verified != 0 || fac.settled != 0 {
		t.Fatalf("disabled gate must not call the facilitator")
	}
}

func TestGateTellApartMissingAndRejectedPayment(t *testing.T) {
	fac := &fakeFacilitator{}
	svc, _ := newGate(t, fac, true)
	router := gatedRouter(svc, func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler must not run")
	})

	type codedChallenge struct {
		payment.RequiredResponse
		Code string `json:"code"`
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/feed/f1", nil))
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402", rec.Code)
	}
	var challenge codedChallenge
	if err := json.Unmarshal(rec.Body.Bytes(), &challenge); err != nil {
		t.Fatalf("decode challenge: %v", err)
	}
	if challenge.Code != string(apperr.CodePaymentRequired) {
		t.Fatalf("missing payment code = %q, want %q", challenge.Code, apperr.CodePaymentRequired)
	}

	bad := validPayload()
	bad.Payload.Authorization.Value = "1"
	header, err := payment.EncodeHeader(bad)
	if err != nil {
		t.Fatalf("encode header: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/feed/f1", nil)
	req.Header.Set(payment.Header, header)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402", rec.Code)
	}
	var rejection codedChallenge
	if err := json.Unmarshal(rec.Body.Bytes(), &rejection); err != nil {
		t.Fatalf("decode rejection: %v", err)
	}
	if rejection.Code != string(apperr.CodePaymentRejected) {
		t.Fatalf("rejection code = %q, want %q", rejection.Code, apperr.CodePaymentRejected)
	}
	if len(rejection.Accepts) != 1 {
		t.Fatalf("rejection keeps the accepted terms, got %d entries", len(rejection.Accepts))
	}
}
