// Package app composes the feed gateway into a running application.
//
// # Architecture Role
//
// The app package wires storage, domain services, and the HTTP surface
// together and manages their lifecycle. It is NOT a business logic layer -
// business rules live in internal/app/services/.
//
// # Package Structure
//
//	internal/app/
//	├── application.go      # Application struct, wiring, and lifecycle
//	├── domain/             # Domain models (pure data structures)
//	│   ├── feed/           # Feed records, pricing, and public views
//	│   ├── payment/        # x402 wire types and codecs
//	│   └── ratelimit/      # Free-preview window entries
//	├── storage/            # Store interfaces and implementations
//	│   ├── interfaces.go   # FeedStore and RateLimitStore
//	│   ├── memory/         # In-memory implementation for testing
//	│   └── snapshot/       # JSON snapshot implementation for production
//	├── services/           # Business logic
//	│   ├── registry/       # Feed registration and catalog
//	│   ├── pricing/        # Callability and price quotes
//	│   ├── payment/        # x402 gate and facilitator client
//	│   ├── proxy/          # Upstream relay
//	│   ├── preview/        # Rate-limited free test calls
//	│   ├── ratelimit/      # Fixed-window limiter with snapshots
//	│   └── stats/          # Call recording and provider earnings
//	├── httpapi/            # HTTP handlers and routing
//	├── system/             # Lifecycle management (Service, Manager)
//	└── metrics/            # Prometheus collectors
//
// # Request Flow
//
//	cmd/gateway/
//	      │
//	      ▼
//	internal/app/httpapi/ (routing, payment gate middleware)
//	      │
//	      ├──► internal/app/services/ (business logic)
//	      │           │
//	      │           └──► internal/app/storage/ (persistence)
//	      │
//	      └──► internal/chain/ (wallet balance reads)
//
// A paid call to /feed/{feedId} passes through the payment gate, which
// resolves a price quote, challenges with HTTP 402 when no payment header is
// present, and verifies then settles the payment against the facilitator
// before the proxy forwards the request upstream. Stats are recorded
// asynchronously after a successful relay.
package app
