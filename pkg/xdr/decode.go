package xdr

import (
	"encoding/binary"
	"fmt"
	"io"
)

// DecodeOpaque decodes XDR variable-length opaque data.
//
// Lengths above maxOpaqueLength are rejected before any allocation so a
// corrupt length prefix cannot force a large allocation.
func DecodeOpaque(r io.Reader) ([]byte, error) {
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return nil, fmt.Errorf("read length: %w", err)
	}

	if length > maxOpaqueLength {
		return nil, fmt.Errorf("opaque length %d exceeds maximum %d", length, maxOpaqueLength)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("read data: %w", err)
	}

	padding := (4 - (length % 4)) % 4
	if padding > 0 {
		var padBuf [3]byte
		if _, err := io.ReadFull(r, padBuf[:padding]); err != nil {
			return nil, fmt.Errorf("skip padding: %w", err)
		}
	}

	return data, nil
}

// DecodeString decodes an XDR string.
func DecodeString(r io.Reader) (string, error) {
	data, err := DecodeOpaque(r)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DecodeUint32 decodes a big-endian uint32.
func DecodeUint32(r io.Reader) (uint32, error) {
	var v uint32
	if err := binary.Read(r, binary.BigEndian, &v); err != nil {
		return 0, fmt.Errorf("read uint32: %w", err)
	}
	return v, nil
}

// DecodeUint64 decodes a big-endian uint64.
func DecodeUint64(r io.Reader) (uint64, error) {
	var v uint64
	if err := binary.Read(r, binary.BigEndian, &v); err != nil {
		return 0, fmt.Errorf("read uint64: %w", err)
	}
	return v, nil
}

// DecodeInt64 decodes a big-endian int64.
func DecodeInt64(r io.Reader) (int64, error) {
	var v int64
	if err := binary.Read(r, binary.BigEndian, &v); err != nil {
		return 0, fmt.Errorf("read int64: %w", err)
	}
	return v, nil
}

// DecodeBool decodes an XDR boolean. Any non-zero value is true.
func DecodeBool(r io.Reader) (bool, error) {
	v, err := DecodeUint32(r)
	if err != nil {
		return false, err
	}
	return v != 0, nil
}
