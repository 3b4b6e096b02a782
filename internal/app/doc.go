// Package app composes the trust layer into a running application.
//
// The package wires domain services to their storage and lifecycle
// dependencies; business logic lives in the service packages underneath.
//
//	internal/app/
//	├── application.go      # Application struct, wiring, and lifecycle
//	├── domain/             # Domain models (pure data structures)
//	│   ├── account/        # Registry accounts and legal records
//	│   ├── session/        # Bearer sessions
//	│   ├── trust/          # Trust records and verification events
//	│   └── analytics/      # Tracked events and summaries
//	├── storage/            # Store interfaces plus memory and file backends
//	├── services/           # Sessions, ledger, accounts, adminauth, analytics
//	├── events/             # WebSocket broadcast hub
//	├── httpapi/            # REST handlers and routing
//	├── system/             # Lifecycle manager
//	├── sentinel/           # Error taxonomy
//	└── metrics/            # Prometheus instrumentation
//
// The application owns the authoritative in-memory state; external Postgres
// or Redis replicas hang off it through the mirror package and are never
// consulted on the hot path.
package app
