package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"
)

func TestStatusMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{Validation("bad input"), http.StatusBadRequest},
		{NotFound("feed"), http.StatusNotFound},
		{Unauthorized("not yours"), http.StatusUnauthorized},
		{PaymentRequired("pay up"), http.StatusPaymentRequired},
		{PaymentRejected("bad authorization"), http.StatusPaymentRequired},
		{RateLimited("slow down", time.Now()), http.StatusTooManyRequests},
		{Upstream("upstream broke", 500), http.StatusBadGateway},
		{Unavailable("paused"), http.StatusServiceUnavailable},
		{Internal(errors.New("boom")), http.StatusInternalServerError},
		{errors.New("plain error"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := Status(tc.err); got != tc.want {
			t.Fatalf("Status(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestFromUnwrapsWrappedErrors(t *testing.T) {
	inner := NotFound("feed")
	wrapped := fmt.Errorf("resolve pricing: %w", inner)

	got := From(wrapped)
	if got.Code != CodeNotFound || got.HTTPStatus != http.StatusNotFound {
		t.Fatalf("wrapped app error lost: %#v", got)
	}
}

func TestWithCausePreservesMessage(t *testing.T) {
	cause := errors.New("dial tcp: connection refused to 10.0.0.5")
	err := Upstream("upstream request failed", 0).WithCause(cause)

	if err.Error() != "upstream request failed" {
		t.Fatalf("message = %q, cause leaked", err.Error())
	}
	if !errors.Is(err, cause) {
		t.Fatalf("cause not reachable via errors.Is")
	}
}

func TestInternalHidesDetail(t *testing.T) {
	err := Internal(errors.New("sql: no rows"))
	if err.Error() != "internal error" {
		t.Fatalf("internal detail leaked: %q", err.Error())
	}
}
