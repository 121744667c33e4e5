// Package frame splits an inbound byte stream into complete JSON values.
//
// Ownership boundary:
// - structural boundary detection (brace/bracket depth outside strings)
// - partial-frame retention across chunks
// - stray-byte and frame-size reporting
package frame
