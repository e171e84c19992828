// Package domain defines the core domain types and interfaces.
//
// Concept-oriented files (stream.go, task.go, event.go, store.go) hold shared types
// and the contracts implemented by adapters. No implementation code beyond
// validation and event encoding.
package domain
