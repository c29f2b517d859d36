// Package xdr provides the wire buffer that authentication mechanisms use to
// serialize credentials.
//
// A Buffer is an append/extract byte buffer: Pack* methods append XDR-encoded
// values (RFC 4506) at the end, Unpack* methods consume them from the current
// read offset. The dispatcher never interprets buffer contents; it only hands
// the same *Buffer to a mechanism's pack and unpack operations.
//
// Structured credential bodies can be encoded in one call with Marshal and
// Unmarshal, which delegate to github.com/rasky/go-xdr.
package xdr
