// Package client owns one connection to a bolt.chat server.
//
// Ownership boundary:
// - connection lifecycle and state
// - join handshake
// - read loop feeding the dispatcher
//
// Lifecycle order:
// - idle -> resolving -> connecting -> handshaking -> connected
//
// - any step may end in errored; close may follow any state.
//
// Reconnect policy belongs to the caller.
package client
