// Package payment enforces the x402 payment gate on paid feed calls: it
// issues 402 challenges, validates presented authorizations structurally,
// and delegates verification and settlement to the facilitator.
package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/livefeed-labs/feed-gateway/internal/apperr"
	"github.com/livefeed-labs/feed-gateway/internal/app/domain/feed"
	"github.com/livefeed-labs/feed-gateway/internal/app/domain/payment"
	"github.com/livefeed-labs/feed-gateway/internal/app/metrics"
	"github.com/livefeed-labs/feed-gateway/internal/app/services/pricing"
	"github.com/livefeed-labs/feed-gateway/pkg/logger"
)

// Options configure the gate.
type Options struct {
	Enabled           bool
	Network           string
	PlatformAddress   string
	AssetAddress      string
	AssetName         string
	AssetVersion      string
	MaxTimeoutSeconds int
}

// Admission is what a settled (or gate-disabled) request carries into the
// proxy handler.
type Admission struct {
	Quote      pricing.Quote
	Settlement payment.Settlement
	Paid       bool
}

type contextKey struct{}

// AdmissionFromContext returns the admission attached by the gate.
func AdmissionFromContext(ctx context.Context) (Admission, bool) {
	a, ok := ctx.Value(contextKey{}).(Admission)
	return a, ok
}

// Service is the payment gate.
type Service struct {
	opts        Options
	pricing     *pricing.Service
	facilitator Facilitator
	log         *logger.Logger
	now         func() time.Time
}

// New constructs the gate.
func New(opts Options, pricingSvc *pricing.Service, facilitator Facilitator, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("payment")
	}
	if opts.MaxTimeoutSeconds <= 0 {
		opts.MaxTimeoutSeconds = 60
	}
	return &Service{
		opts:        opts,
		pricing:     pricingSvc,
		facilitator: facilitator,
		log:         log,
		now:         time.Now,
	}
}

// RequirementsFor builds the single accepted payment option for a quote.
func (s *Service) RequirementsFor(q pricing.Quote, resource string) payment.Requirements {
	return payment.Requirements{
		Scheme:            payment.SchemeExact,
		Network:           s.opts.Network,
		MaxAmountRequired: q.PriceAtomic,
		Resource:          resource,
		Description:       fmt.Sprintf("%s (%s per call)", q.Feed.Name, q.Price),
		MimeType:          "application/json",
		PayTo:             s.opts.PlatformAddress,
		MaxTimeoutSeconds: s.opts.MaxTimeoutSeconds,
		Asset:             s.opts.AssetAddress,
		Extra: &payment.EIP712Domain{
			Name:    s.opts.AssetName,
			Version: s.opts.AssetVersion,
		},
	}
}

// Gate is the mux middleware guarding the paid proxy route. A request either
// leaves with a 402 challenge, a 402 rejection, an upstream error from the
// resolver, or continues to next carrying an Admission.
func (s *Service) Gate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodPost {
			next.ServeHTTP(w, r)
			return
		}
		feedID := mux.Vars(r)["feedId"]
		if feedID == "" {
			next.ServeHTTP(w, r)
			return
		}

		quote, err := s.pricing.Resolve(r.Context(), feedID, feed.Method(r.Method))
		if err != nil {
			writeGateError(w, err)
			return
		}

		if !s.opts.Enabled {
			admitted := r.WithContext(context.WithValue(r.Context(), contextKey{}, Admission{Quote: quote}))
			next.ServeHTTP(w, admitted)
			return
		}

		resource := requestResource(r)
		requirements := s.RequirementsFor(quote, resource)

		header := r.Header.Get(payment.Header)
		if header == "" {
			metrics.RecordPaymentEvent("challenged")
			writeChallenge(w, apperr.PaymentRequired("payment required"), requirements)
			return
		}

		payload, err := payment.DecodeHeader(header)
		if err != nil {
			metrics.RecordPaymentEvent("rejected_structural")
			writeChallenge(w, apperr.PaymentRejected(err.Error()), requirements)
			return
		}
		if err := s.validate(payload, requirements); err != nil {
			metrics.RecordPaymentEvent("rejected_structural")
			writeChallenge(w, apperr.PaymentRejected(err.Error()), requirements)
			return
		}

		if err := s.facilitator.Verify(r.Context(), payload, requirements); err != nil {
			metrics.RecordPaymentEvent("rejected_verify")
			s.log.WithField("feedId", feedID).WithError(err).Info("payment verification rejected")
			writeChallenge(w, apperr.PaymentRejected("payment verification failed"), requirements)
			return
		}

		settlement, err := s.facilitator.Settle(r.Context(), payload, requirements)
		if err != nil {
			metrics.RecordPaymentEvent("rejected_settle")
			s.log.WithField("feedId", feedID).WithError(err).Warn("payment settlement failed")
			writeChallenge(w, apperr.PaymentRejected("payment settlement failed"), requirements)
			return
		}

		metrics.RecordPaymentEvent("settled")
		s.log.WithField("feedId", feedID).
			WithField("payer", settlement.Payer).
			WithField("amountAtomic", quote.PriceAtomic).
			Info("payment settled")

		admission := Admission{Quote: quote, Settlement: settlement, Paid: true}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), contextKey{}, admission)))
	})
}

// validate checks the payload against the requirements without touching the
// facilitator. A structurally broken authorization is rejected locally.
func (s *Service) validate(p payment.Payload, req payment.Requirements) error {
	if p.X402Version != payment.Version {
		return fmt.Errorf("unsupported x402 version %d", p.X402Version)
	}
	if p.Scheme != payment.SchemeExact {
		return fmt.Errorf("unsupported payment scheme %q", p.Scheme)
	}
	if !strings.EqualFold(p.Network, req.Network) {
		return fmt.Errorf("payment network %q does not match %q", p.Network, req.Network)
	}

	auth := p.Payload.Authorization
	if strings.TrimSpace(p.Payload.Signature) == "" {
		return fmt.Errorf("authorization signature missing")
	}
	if strings.TrimSpace(auth.Nonce) == "" {
		return fmt.Errorf("authorization nonce missing")
	}
	if !feed.IsHexAddress(auth.From) {
		return fmt.Errorf("authorization from address invalid")
	}
	if !strings.EqualFold(auth.To, req.PayTo) {
		return fmt.Errorf("authorization pays %q, expected %q", auth.To, req.PayTo)
	}

	value, ok := new(big.Int).SetString(strings.TrimSpace(auth.Value), 10)
	if !ok || value.Sign() < 0 {
		return fmt.Errorf("authorization value %q invalid", auth.Value)
	}
	required, ok := new(big.Int).SetString(req.MaxAmountRequired, 10)
	if !ok {
		return fmt.Errorf("required amount unparsable")
	}
	if value.Cmp(required) < 0 {
		return fmt.Errorf("authorization value %s below required %s", auth.Value, req.MaxAmountRequired)
	}

	now := s.now().Unix()
	if validBefore, err := strconv.ParseInt(strings.TrimSpace(auth.ValidBefore), 10, 64); err != nil {
		return fmt.Errorf("authorization validBefore %q invalid", auth.ValidBefore)
	} else if validBefore <= now {
		return fmt.Errorf("authorization expired")
	}
	if validAfter, err := strconv.ParseInt(strings.TrimSpace(auth.ValidAfter), 10, 64); err != nil {
		return fmt.Errorf("authorization validAfter %q invalid", auth.ValidAfter)
	} else if validAfter > now {
		return fmt.Errorf("authorization not yet valid")
	}
	return nil
}

func requestResource(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if fwd := r.Header.Get("X-Forwarded-Proto"); fwd != "" {
		scheme = fwd
	}
	return scheme + "://" + r.Host + r.URL.Path
}

// writeChallenge emits the 402 body: protocol version, a human reason, the
// accepted payment options, and the taxonomy code so clients can tell a
// missing payment (payment_required) from a rejected one (payment_rejected).
func writeChallenge(w http.ResponseWriter, appErr *apperr.Error, req payment.Requirements) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(appErr.HTTPStatus)
	_ = json.NewEncoder(w).Encode(struct {
		payment.RequiredResponse
		Code apperr.Code `json:"code"`
	}{
		RequiredResponse: payment.RequiredResponse{
			X402Version: payment.Version,
			Error:       appErr.Message,
			Accepts:     []payment.Requirements{req},
		},
		Code: appErr.Code,
	})
}

func writeGateError(w http.ResponseWriter, err error) {
	appErr := apperr.From(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(appErr.HTTPStatus)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": appErr.Message})
}
