// Package domain defines the core domain types and interfaces.
//
// Concept-oriented files (session.go, event.go, record.go, errors.go) hold the shared
// types and the ports the application layer depends on. No implementation code - just contracts,
// plus the pure naming rule that maps a session name to its physical database.
package domain
