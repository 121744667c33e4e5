// Package dispatch owns tag-based fan-out of decoded envelopes.
//
// Ownership boundary:
// - subscription registry
// - feed -> frame -> envelope -> handlers pipeline
// - framing error isolation
//
// Handlers run synchronously on the feeding goroutine in subscription order.
package dispatch
