// Package domain defines the core domain types and interfaces.
//
// This package contains concept-oriented files (event.go, payload.go, envelope.go, subscription.go, etc.)
// with shared types and cross-cutting interfaces. No infrastructure code - just contracts and validation.
// Prevents circular imports by keeping interfaces on the consumer side.
package domain
