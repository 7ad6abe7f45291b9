// Package ratelimit defines the persisted free-preview quota entry.
package ratelimit

import "time"

// Entry tracks calls within one fixed window for a (feed, caller) key.
// An entry whose ResetAt has passed is treated as absent.
type Entry struct {
	Count   int       `json:"count"`
	ResetAt time.Time `json:"resetAt"`
}

// Expired reports whether the window has elapsed at now.
func (e Entry) Expired(now time.Time) bool {
	return !now.Before(e.ResetAt)
}

// Key builds the composite limiter key for a feed and caller identity.
func Key(feedID, caller string) string {
	return feedID + ":" + caller
}
