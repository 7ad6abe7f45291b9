// Package httpapi exposes the gateway's REST surface: the paid proxy route,
// the free preview, and the provider, catalog and stats APIs.
package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/livefeed-labs/feed-gateway/internal/apperr"
	app "github.com/livefeed-labs/feed-gateway/internal/app"
	"github.com/livefeed-labs/feed-gateway/internal/app/domain/payment"
	"github.com/livefeed-labs/feed-gateway/internal/app/metrics"
	paymentsvc "github.com/livefeed-labs/feed-gateway/internal/app/services/payment"
	"github.com/livefeed-labs/feed-gateway/internal/app/services/proxy"
	"github.com/livefeed-labs/feed-gateway/internal/app/services/registry"
	"github.com/livefeed-labs/feed-gateway/internal/httputil"
	"github.com/livefeed-labs/feed-gateway/internal/middleware"
)

// maxRequestBody bounds inbound JSON bodies.
const maxRequestBody = 1 << 20

// handler bundles the HTTP endpoints for the application services.
type handler struct {
	app *app.Application
}

// NewRouter returns the gateway router with every route mounted. The burst
// limiter, when non-nil, guards the management API routes only: paid proxy
// traffic is metered by payment, not by request rate.
func NewRouter(application *app.Application, apiLimiter *middleware.RateLimiter) *mux.Router {
	h := &handler{app: application}
	r := mux.NewRouter()

	r.Handle("/feed/{feedId}", application.Payment.Gate(http.HandlerFunc(h.proxyFeed))).
		Methods(http.MethodGet, http.MethodPost)

	api := r.PathPrefix("/api").Subrouter()
	if apiLimiter != nil {
		api.Use(apiLimiter.Handler)
	}
	api.HandleFunc("/testcall/{feedId}", h.testCall).Methods(http.MethodPost)
	api.HandleFunc("/provider/register", h.registerFeed).Methods(http.MethodPost)
	api.HandleFunc("/provider/{address}/feeds", h.providerFeeds).Methods(http.MethodGet)
	api.HandleFunc("/provider/feed/{id}/pause", h.togglePause).Methods(http.MethodPut)
	api.HandleFunc("/provider/feed/{id}", h.deleteFeed).Methods(http.MethodDelete)
	api.HandleFunc("/catalog", h.catalog).Methods(http.MethodGet)
	api.HandleFunc("/catalog/categories", h.categories).Methods(http.MethodGet)
	api.HandleFunc("/catalog/{id}", h.catalogFeed).Methods(http.MethodGet)
	api.HandleFunc("/stats/feed/{feedId}", h.feedStats).Methods(http.MethodGet)
	api.HandleFunc("/stats/{address}", h.providerStats).Methods(http.MethodGet)
	api.HandleFunc("/snippet/{feedId}", h.snippet).Methods(http.MethodGet)

	r.HandleFunc("/health", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	return r
}

// proxyFeed serves an admitted paid call: the gate has already resolved the
// quote and, when enabled, settled the payment.
func (h *handler) proxyFeed(w http.ResponseWriter, r *http.Request) {
	admission, ok := paymentsvc.AdmissionFromContext(r.Context())
	if !ok {
		writeAppError(w, apperr.Internal(fmt.Errorf("proxy reached without admission")))
		return
	}

	var body []byte
	if r.Method == http.MethodPost {
		var err error
		body, err = httputil.ReadAllStrict(r.Body, maxRequestBody)
		if err != nil {
			writeAppError(w, apperr.Validation("request body too large or unreadable"))
			return
		}
	}

	start := time.Now()
	res, err := h.app.Proxy.Call(r.Context(), admission.Quote.Feed, r.URL.Query(), body)
	if err != nil {
		metrics.RecordProxyCall("upstream_error", time.Since(start))
		h.writePaidUpstreamFailure(w, admission, res)
		return
	}
	if !res.OK() {
		metrics.RecordProxyCall("upstream_error", time.Since(start))
		h.writePaidUpstreamFailure(w, admission, res)
		return
	}
	metrics.RecordProxyCall("ok", time.Since(start))

	earned := uint64(0)
	if admission.Paid {
		earned = admission.Quote.AtomicAmount
	}
	go h.app.Stats.Record(h.app.BackgroundContext(), admission.Quote.Feed.ID, res.LatencyMs, earned)

	attachCallHeaders(w, admission, res.LatencyMs)
	w.Header().Set("Content-Type", res.ContentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.Body)
}

// writePaidUpstreamFailure reports an upstream failure after admission. The
// settlement evidence is still attached since the payment was captured.
func (h *handler) writePaidUpstreamFailure(w http.ResponseWriter, admission paymentsvc.Admission, res proxy.Result) {
	attachCallHeaders(w, admission, res.LatencyMs)
	message := "feed upstream failed"
	if admission.Paid {
		message = "payment settled but feed upstream failed"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadGateway)
	payload := map[string]interface{}{"error": message}
	if res.StatusCode != 0 {
		payload["upstreamStatus"] = res.StatusCode
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func attachCallHeaders(w http.ResponseWriter, admission paymentsvc.Admission, latencyMs int64) {
	w.Header().Set("X-LiveFeed-Id", admission.Quote.Feed.ID)
	w.Header().Set("X-LiveFeed-Latency-Ms", fmt.Sprintf("%d", latencyMs))
	w.Header().Set("X-LiveFeed-Price", admission.Quote.Price)
	if admission.Paid {
		if encoded, err := payment.EncodeSettlementHeader(admission.Settlement); err == nil {
			w.Header().Set(payment.ResponseHeader, encoded)
		}
	}
}

// testCall serves one free preview call against a feed's upstream.
func (h *handler) testCall(w http.ResponseWriter, r *http.Request) {
	feedID := mux.Vars(r)["feedId"]

	body, err := httputil.ReadAllStrict(r.Body, maxRequestBody)
	if err != nil {
		writeAppError(w, apperr.Validation("request body too large or unreadable"))
		return
	}

	result, err := h.app.Preview.Call(r.Context(), feedID, middleware.ClientKey(r), r.URL.Query(), body)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handler) registerFeed(w http.ResponseWriter, r *http.Request) {
	var in registry.RegisterInput
	if err := decodeJSON(r.Body, &in); err != nil {
		writeAppError(w, apperr.Validation("invalid request body: %v", err))
		return
	}

	created, err := h.app.Registry.Register(r.Context(), in)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *handler) providerFeeds(w http.ResponseWriter, r *http.Request) {
	feeds, err := h.app.Registry.ListOwned(r.Context(), mux.Vars(r)["address"])
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, feeds)
}

func (h *handler) togglePause(w http.ResponseWriter, r *http.Request) {
	var in struct {
		ProviderAddress string `json:"providerAddress"`
	}
	if err := decodeJSON(r.Body, &in); err != nil {
		writeAppError(w, apperr.Validation("invalid request body: %v", err))
		return
	}

	toggled, err := h.app.Registry.TogglePause(r.Context(), mux.Vars(r)["id"], in.ProviderAddress)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toggled)
}

func (h *handler) deleteFeed(w http.ResponseWriter, r *http.Request) {
	var in struct {
		ProviderAddress string `json:"providerAddress"`
	}
	if err := decodeJSON(r.Body, &in); err != nil {
		writeAppError(w, apperr.Validation("invalid request body: %v", err))
		return
	}

	if err := h.app.Registry.Delete(r.Context(), mux.Vars(r)["id"], in.ProviderAddress); err != nil {
		writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) catalog(w http.ResponseWriter, r *http.Request) {
	views, err := h.app.Registry.Catalog(r.Context(), r.URL.Query().Get("category"), r.URL.Query().Get("sort"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *handler) categories(w http.ResponseWriter, r *http.Request) {
	counts, err := h.app.Registry.CategoryCounts(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

func (h *handler) catalogFeed(w http.ResponseWriter, r *http.Request) {
	view, err := h.app.Registry.GetPublic(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *handler) feedStats(w http.ResponseWriter, r *http.Request) {
	view, err := h.app.Stats.ForFeed(r.Context(), mux.Vars(r)["feedId"])
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *handler) providerStats(w http.ResponseWriter, r *http.Request) {
	view, err := h.app.Stats.ForProvider(r.Context(), mux.Vars(r)["address"])
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// snippet returns a ready-to-paste integration snippet for a feed.
func (h *handler) snippet(w http.ResponseWriter, r *http.Request) {
	view, err := h.app.Registry.GetPublic(r.Context(), mux.Vars(r)["feedId"])
	if err != nil {
		writeAppError(w, err)
		return
	}

	base := requestBase(r)
	feedURL := fmt.Sprintf("%s/feed/%s", base, view.ID)
	js := fmt.Sprintf(`import { wrapFetchWithPayment } from "x402-fetch";

const fetchWithPayment = wrapFetchWithPayment(fetch, walletClient);
const res = await fetchWithPayment(%q, { method: %q });
const data = await res.json();`, feedURL, string(view.Method))

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"feedId":   view.ID,
		"name":     view.Name,
		"price":    view.Price,
		"method":   view.Method,
		"url":      feedURL,
		"snippet":  js,
		"curlNote": fmt.Sprintf("curl %s returns a 402 challenge; retry with an X-PAYMENT header to get data", feedURL),
		"testUrl":  fmt.Sprintf("%s/api/testcall/%s", base, view.ID),
	})
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":          "ok",
		"network":         h.app.Config.Payment.Network,
		"platformAddress": h.app.Config.Payment.PlatformAddress,
		"paymentGate":     h.app.Config.Payment.Enabled,
		"feedCount":       h.app.FeedCount(r.Context()),
		"uptimeSeconds":   int64(h.app.Uptime().Seconds()),
	})
}

func requestBase(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if fwd := r.Header.Get("X-Forwarded-Proto"); fwd != "" {
		scheme = fwd
	}
	return scheme + "://" + r.Host
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(io.LimitReader(body, maxRequestBody))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeAppError maps a service error to its HTTP shape. Rate-limit denials
// carry the window reset; upstream failures carry the upstream status.
func writeAppError(w http.ResponseWriter, err error) {
	appErr := apperr.From(err)

	payload := map[string]interface{}{"error": appErr.Message}
	if !appErr.ResetAt.IsZero() {
		payload["resetAt"] = appErr.ResetAt.UTC().Format(time.RFC3339)
		retryAfter := int(time.Until(appErr.ResetAt).Seconds())
		if retryAfter < 0 {
			retryAfter = 0
		}
		w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
	}
	if appErr.UpstreamStatus != 0 {
		payload["upstreamStatus"] = appErr.UpstreamStatus
	}
	writeJSON(w, appErr.HTTPStatus, payload)
}
