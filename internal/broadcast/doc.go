// Package broadcast implements the authenticated WebSocket event broadcaster using the actor pattern.
//
// A single goroutine owns the connection registry and the subscription index and processes commands
// from a buffered channel (no mutexes). Per-connection writer goroutines are the only writers of their
// socket, so a slow client never blocks fan-out to the others: a full send buffer drops that client's copy.
// The same goroutine runs the heartbeat sweep that pings live sockets and terminates silent ones.
package broadcast
