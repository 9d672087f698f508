// Copyright 2025 Certen Protocol
//
// Canonical Record Serialization
//
// The canonical byte form is the input to record ids and signatures. It
// is a total, deterministic mapping: a fixed variant tag byte, payload
// fields in fixed order, then prev-id, creator and tick. Integers are
// fixed-width big-endian, strings are length-prefixed. Two records with
// identical semantic content produce byte-identical canonical forms.

package record

import "encoding/binary"

// appendUint32 appends a fixed-width big-endian uint32.
func appendUint32(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
}

// appendUint64 appends a fixed-width big-endian uint64.
func appendUint64(buf []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(buf, b[:]...)
}

// appendString appends a uint32 length prefix followed by the raw bytes.
func appendString(buf []byte, s string) []byte {
	buf = appendUint32(buf, uint32(len(s)))
	return append(buf, s...)
}

// canonicalBytes builds the canonical form of a record's identity fields:
// payload-variant-tag, payload fields, prev-id (empty for the root),
// creator, tick as 64-bit big-endian.
func canonicalBytes(payload Payload, prevID, creator string, tick uint64) []byte {
	buf := make([]byte, 0, 128)
	buf = append(buf, byte(payload.Kind()))
	buf = payload.appendCanonical(buf)
	buf = appendString(buf, prevID)
	buf = appendString(buf, creator)
	buf = appendUint64(buf, tick)
	return buf
}
