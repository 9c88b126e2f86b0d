// Package bencode implements the compact serialization format shared by the
// DHT RPC protocol and the metadata exchange protocol.
//
// Four shapes are supported:
//
//	byte strings   4:spam          -> string
//	integers       i42e            -> int64
//	lists          l4:spami42ee    -> []interface{}
//	dictionaries   d3:cow3:mooe    -> *Dict
//
// Dictionaries keep insertion order on both decode and encode; the encoder
// never sorts *Dict keys. Message builders are expected to insert keys in
// canonical order.
//
// Decoding is a recursive descent over a position cursor. Malformed input
// (truncated length, missing terminator, non-string key) returns a nil value
// and an error wrapping ErrMalformed; the decoder never panics. Decoder.Pos
// exposes how many bytes a value consumed so callers can split a bencoded
// header from the raw payload that follows it:
//
//	dec := bencode.NewDecoder(msg)
//	header, err := dec.Next()
//	payload := msg[dec.Pos():]
package bencode
