// Package app composes the platform's modules into a running application.
//
// Layout:
//
//	internal/app/
//	├── application.go      # Application struct, wiring, and lifecycle
//	├── domain/             # Domain models (accounts, grids, update requests)
//	├── storage/            # Store interfaces plus memory and postgres backends
//	├── services/           # Business logic (accounts, ledger, models, updates)
//	├── pricing/            # Token cost schedule
//	├── pathfind/           # A* engine over grid models
//	├── audit/              # Debit audit trail ring and sinks
//	├── httpapi/            # HTTP handlers, routing, and auth middleware
//	├── metrics/            # Prometheus collectors
//	└── system/             # Service lifecycle manager
//
// Services hold the business rules and depend only on the storage interfaces;
// httpapi translates HTTP requests into service calls and service errors into
// status codes. application.go wires concrete stores and services together and
// registers them with the system manager.
package app
