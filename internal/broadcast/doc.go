// Package broadcast implements the room registry and event dispatcher for
// WebSocket viewers using the actor pattern.
//
// A single goroutine owns room membership and receives join, leave, broadcast
// and stop commands over a channel (no mutexes). Each joined connection has its
// own writer goroutine with a bounded buffer; a viewer that cannot keep up is
// disconnected instead of stalling the room.
package broadcast
