// Package feed defines the marketplace feed model: a registered, priced
// proxy to an upstream HTTP API.
package feed

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// AtomicPerDollar is the number of atomic settlement units per currency unit.
const AtomicPerDollar = 1_000_000

// Category classifies a feed in the catalog.
type Category string

const (
	CategoryFinance Category = "finance"
	CategorySports  Category = "sports"
	CategoryWeather Category = "weather"
	CategoryCustom  Category = "custom"
)

// Categories lists every valid category.
var Categories = []Category{CategoryFinance, CategorySports, CategoryWeather, CategoryCustom}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Status is the feed serving state.
type Status string

const (
	StatusActive Status = "active"
	StatusPaused Status = "paused"
)

// Method is the upstream HTTP method a feed accepts.
type Method string

const (
	MethodGet  Method = "GET"
	MethodPost Method = "POST"
)

// Valid reports whether m is a supported method.
func (m Method) Valid() bool { return m == MethodGet || m == MethodPost }

// Feed is the full provider-visible record. The store owns the canonical
// copy; callers always receive clones.
type Feed struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	Description     string   `json:"description"`
	Category        Category `json:"category"`
	UpstreamURL     string   `json:"upstreamUrl"`
	Method          Method   `json:"method"`
	Price           string   `json:"price"`
	ProviderAddress string   `json:"providerAddress"`
	Status          Status   `json:"status"`
	CreatedAt       time.Time `json:"createdAt"`

	CallCount         uint64     `json:"callCount"`
	TotalEarnedAtomic uint64     `json:"totalEarnedAtomic"`
	AvgLatencyMs      int64      `json:"avgLatencyMs"`
	LastCalledAt      *time.Time `json:"lastCalledAt"`
}

// PublicView is the consumer-visible projection: the upstream URL is never
// exposed. The method stays public since callers need it to invoke the proxy.
type PublicView struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	Description     string   `json:"description"`
	Category        Category `json:"category"`
	Method          Method   `json:"method"`
	Price           string   `json:"price"`
	ProviderAddress string   `json:"providerAddress"`
	Status          Status   `json:"status"`
	CreatedAt       time.Time `json:"createdAt"`

	CallCount         uint64     `json:"callCount"`
	TotalEarnedAtomic uint64     `json:"totalEarnedAtomic"`
	AvgLatencyMs      int64      `json:"avgLatencyMs"`
	LastCalledAt      *time.Time `json:"lastCalledAt"`
}

// Clone returns a deep copy of f.
func (f Feed) Clone() Feed {
	if f.LastCalledAt != nil {
		ts := *f.LastCalledAt
		f.LastCalledAt = &ts
	}
	return f
}

// Public strips the upstream target from f.
func (f Feed) Public() PublicView {
	c := f.Clone()
	return PublicView{
		ID:                c.ID,
		Name:              c.Name,
		Description:       c.Description,
		Category:          c.Category,
		Method:            c.Method,
		Price:             c.Price,
		ProviderAddress:   c.ProviderAddress,
		Status:            c.Status,
		CreatedAt:         c.CreatedAt,
		CallCount:         c.CallCount,
		TotalEarnedAtomic: c.TotalEarnedAtomic,
		AvgLatencyMs:      c.AvgLatencyMs,
		LastCalledAt:      c.LastCalledAt,
	}
}

// OwnedBy reports whether the claimed address matches the feed provider.
// Addresses compare case-insensitively since hex casing is presentational.
func (f Feed) OwnedBy(claimed string) bool {
	return strings.EqualFold(strings.TrimSpace(claimed), f.ProviderAddress)
}

var hexAddressRE = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)

// IsHexAddress reports whether s looks like a 0x-prefixed 20-byte address.
func IsHexAddress(s string) bool { return hexAddressRE.MatchString(s) }

// NormalizePrice parses a dollar price string, with or without a leading $,
// and renders the canonical fixed-point form "$x.xx". The price must remain
// positive after rounding to cents.
func NormalizePrice(raw string) (string, error) {
	trimmed := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), "$"))
	if trimmed == "" {
		return "", fmt.Errorf("price is required")
	}
	d, err := decimal.NewFromString(trimmed)
	if err != nil {
		return "", fmt.Errorf("price %q is not a decimal amount", raw)
	}
	d = d.Round(2)
	if d.Sign() <= 0 {
		return "", fmt.Errorf("price must be a positive dollar amount")
	}
	return "$" + d.StringFixed(2), nil
}

// PriceDecimal parses a canonical or raw price string into an exact decimal.
func PriceDecimal(price string) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(price), "$"))
	d, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("price %q is not a decimal amount", price)
	}
	return d, nil
}

// PriceAtomic converts a price string to atomic units (1 unit = 10^6 atomic),
// rounded to the nearest integer. The conversion is exact decimal arithmetic.
func PriceAtomic(price string) (uint64, error) {
	d, err := PriceDecimal(price)
	if err != nil {
		return 0, err
	}
	atomic := d.Mul(decimal.NewFromInt(AtomicPerDollar)).Round(0)
	if atomic.Sign() < 0 {
		return 0, fmt.Errorf("price %q is negative", price)
	}
	if !atomic.IsInteger() || atomic.BigInt().BitLen() > 63 {
		return 0, fmt.Errorf("price %q out of range", price)
	}
	return atomic.BigInt().Uint64(), nil
}

// HumanUnits renders an atomic amount as a two-decimal dollar string.
func HumanUnits(atomic uint64) string {
	return decimal.New(int64(atomic), 0).Div(decimal.NewFromInt(AtomicPerDollar)).StringFixed(2)
}
