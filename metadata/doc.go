// Package metadata implements the client side of the BitTorrent metadata
// exchange: the BEP 3 handshake, the BEP 10 extension handshake and the
// BEP 9 ut_metadata piece loop.
//
//	client := metadata.NewClient(metadata.WithTimeout(5 * time.Second))
//	info, err := client.Fetch(ctx, "203.0.113.9:6881", infoHash)
//
// Reassembled metadata is checked against the info-hash before it is decoded.
// Failures are *FetchError values wrapping one of the Err* conditions, so
// callers decide retry policy with errors.Is.
package metadata
