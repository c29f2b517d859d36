package xdr

import (
	"encoding/binary"
	"fmt"
	"io"
)

// maxOpaqueLength bounds decoded opaque/string lengths. Credentials are small;
// anything larger is treated as corrupt input.
const maxOpaqueLength = 64 * 1024

// WriteOpaque encodes variable-length opaque data: length + data + padding.
//
// Per RFC 4506 Section 4.10:
// Format: [length:uint32][data:bytes][padding:0-3 bytes]
//
// Example:
//
//	[]byte{0x01, 0x02, 0x03} → [00 00 00 03][01 02 03][00] (8 bytes total)
func WriteOpaque(w io.Writer, data []byte) error {
	length := uint32(len(data))
	if err := binary.Write(w, binary.BigEndian, length); err != nil {
		return fmt.Errorf("write opaque length: %w", err)
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write opaque data: %w", err)
	}

	return WritePadding(w, length)
}

// WriteString encodes a string in XDR format. Same layout as WriteOpaque.
func WriteString(w io.Writer, s string) error {
	length := uint32(len(s))
	if err := binary.Write(w, binary.BigEndian, length); err != nil {
		return fmt.Errorf("write string length: %w", err)
	}

	if _, err := io.WriteString(w, s); err != nil {
		return fmt.Errorf("write string data: %w", err)
	}

	return WritePadding(w, length)
}

// WritePadding writes the zero bytes needed to align dataLen to 4 bytes.
func WritePadding(w io.Writer, dataLen uint32) error {
	padding := (4 - (dataLen % 4)) % 4
	if padding > 0 {
		var pad [3]byte
		if _, err := w.Write(pad[:padding]); err != nil {
			return fmt.Errorf("write padding: %w", err)
		}
	}
	return nil
}

// WriteUint32 encodes a uint32 in big-endian order.
func WriteUint32(w io.Writer, v uint32) error {
	if err := binary.Write(w, binary.BigEndian, v); err != nil {
		return fmt.Errorf("write uint32: %w", err)
	}
	return nil
}

// WriteUint64 encodes a uint64 (XDR unsigned hyper) in big-endian order.
func WriteUint64(w io.Writer, v uint64) error {
	if err := binary.Write(w, binary.BigEndian, v); err != nil {
		return fmt.Errorf("write uint64: %w", err)
	}
	return nil
}

// WriteInt64 encodes an int64 (XDR hyper) in big-endian order.
func WriteInt64(w io.Writer, v int64) error {
	if err := binary.Write(w, binary.BigEndian, v); err != nil {
		return fmt.Errorf("write int64: %w", err)
	}
	return nil
}

// WriteBool encodes a boolean as a uint32 (0 or 1).
func WriteBool(w io.Writer, v bool) error {
	var val uint32
	if v {
		val = 1
	}
	return WriteUint32(w, val)
}
