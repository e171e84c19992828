// Package app provides the application service layer.
//
// Service is the single entry point for every state change on streams and
// tasks: it validates input, writes through the domain.Store and only then
// hands the resulting event to the broadcaster.
package app
