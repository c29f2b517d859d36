package xdr

import (
	"bytes"
	"fmt"
	"io"

	goxdr "github.com/rasky/go-xdr/xdr2"
)

// Buffer is a growable byte buffer with a separate read offset.
//
// Writes always append at the end; reads consume from the offset and never
// discard written bytes, so a packed buffer can be rewound and read again.
//
// Thread safety: not safe for concurrent use.
type Buffer struct {
	data []byte
	off  int
}

// NewBuffer returns an empty buffer with the given initial capacity.
func NewBuffer(capacity int) *Buffer {
	if capacity < 0 {
		capacity = 0
	}
	return &Buffer{data: make([]byte, 0, capacity)}
}

// FromBytes returns a buffer positioned at the start of data.
// The buffer takes ownership of data.
func FromBytes(data []byte) *Buffer {
	return &Buffer{data: data}
}

// Bytes returns every byte written so far, regardless of the read offset.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Len returns the number of bytes written.
func (b *Buffer) Len() int {
	return len(b.data)
}

// Offset returns the current read offset.
func (b *Buffer) Offset() int {
	return b.off
}

// Remaining returns the number of unread bytes.
func (b *Buffer) Remaining() int {
	return len(b.data) - b.off
}

// Rewind moves the read offset back to the start.
func (b *Buffer) Rewind() {
	b.off = 0
}

// Reset discards all content.
func (b *Buffer) Reset() {
	b.data = b.data[:0]
	b.off = 0
}

// Write appends p. It never fails.
func (b *Buffer) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	return len(p), nil
}

// Read consumes up to len(p) unread bytes.
func (b *Buffer) Read(p []byte) (int, error) {
	if b.off >= len(b.data) {
		if len(p) == 0 {
			return 0, nil
		}
		return 0, io.EOF
	}
	n := copy(p, b.data[b.off:])
	b.off += n
	return n, nil
}

// PackUint32 appends a uint32.
func (b *Buffer) PackUint32(v uint32) {
	_ = WriteUint32(b, v)
}

// PackUint64 appends a uint64.
func (b *Buffer) PackUint64(v uint64) {
	_ = WriteUint64(b, v)
}

// PackInt64 appends an int64.
func (b *Buffer) PackInt64(v int64) {
	_ = WriteInt64(b, v)
}

// PackBool appends a boolean.
func (b *Buffer) PackBool(v bool) {
	_ = WriteBool(b, v)
}

// PackString appends a length-prefixed, padded string.
func (b *Buffer) PackString(s string) {
	_ = WriteString(b, s)
}

// PackOpaque appends length-prefixed, padded opaque data.
func (b *Buffer) PackOpaque(data []byte) {
	_ = WriteOpaque(b, data)
}

// UnpackUint32 consumes a uint32.
func (b *Buffer) UnpackUint32() (uint32, error) {
	return DecodeUint32(b)
}

// UnpackUint64 consumes a uint64.
func (b *Buffer) UnpackUint64() (uint64, error) {
	return DecodeUint64(b)
}

// UnpackInt64 consumes an int64.
func (b *Buffer) UnpackInt64() (int64, error) {
	return DecodeInt64(b)
}

// UnpackBool consumes a boolean.
func (b *Buffer) UnpackBool() (bool, error) {
	return DecodeBool(b)
}

// UnpackString consumes a string.
func (b *Buffer) UnpackString() (string, error) {
	return DecodeString(b)
}

// UnpackOpaque consumes opaque data.
func (b *Buffer) UnpackOpaque() ([]byte, error) {
	return DecodeOpaque(b)
}

// Marshal appends the XDR encoding of v, which must be a struct (or pointer
// to one) made of XDR-representable fields.
func (b *Buffer) Marshal(v any) error {
	if _, err := goxdr.Marshal(b, v); err != nil {
		return fmt.Errorf("xdr marshal: %w", err)
	}
	return nil
}

// Unmarshal consumes an XDR encoding into v, which must be a pointer.
//
// Variable-length fields are bounded by the unread bytes (and by
// maxOpaqueLength), so a forged length prefix fails before allocating.
// On failure the read offset is restored so the caller can retry or report
// the original position.
func (b *Buffer) Unmarshal(v any) error {
	start := b.off
	r := bytes.NewReader(b.data[b.off:])
	n, err := goxdr.UnmarshalLimited(r, v, decodeLimit(b.Remaining()))
	if err != nil {
		b.off = start
		return fmt.Errorf("xdr unmarshal: %w", err)
	}
	b.off += n
	return nil
}

// decodeLimit returns the largest element go-xdr may allocate. go-xdr
// treats 0 as unlimited, so an empty buffer still gets a limit of 1.
func decodeLimit(remaining int) uint {
	return uint(max(1, min(remaining, maxOpaqueLength)))
}
