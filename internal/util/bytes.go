package util

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"sync"

	"braces.dev/errtrace"
)

var bytesBufPool = &sync.Pool{
	New: func() any { return bytes.NewBuffer(make([]byte, 0, 64)) },
}

func GetBytesBuffer() *bytes.Buffer {
	return bytesBufPool.Get().(*bytes.Buffer) //nolint:forcetypeassert
}

func FreeBytesBuffer(b *bytes.Buffer) {
	b.Reset()
	if b.Cap() > math.MaxUint16 {
		return
	}
	bytesBufPool.Put(b)
}

var (
	ErrUnexpectedEOF    = errors.New("unexpected end of data")
	ErrMalformedUvarint = errors.New("malformed uvarint")
)

// SizePrefixedString returns the encoded size of val as produced by
// [AppendPrefixedString].
func SizePrefixedString[T ~string | ~[]byte](val T) int {
	n := len(val)
	size := 1
	for v := uint64(n); v >= 0x80; v >>= 7 {
		size++
	}
	return size + n
}

// SizeUVarInt returns the encoded size of v as produced by [AppendUVarInt].
func SizeUVarInt(v uint64) int {
	size := 1
	for ; v >= 0x80; v >>= 7 {
		size++
	}
	return size
}

// AppendUVarInt appends v to buf as a uvarint.
func AppendUVarInt(buf []byte, v uint64) []byte {
	return binary.AppendUvarint(buf, v)
}

// AppendPrefixedString appends val to buf as a uvarint length followed by the raw bytes.
func AppendPrefixedString[T ~string | ~[]byte](buf []byte, val T) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(val)))
	return append(buf, val...)
}

// ConsumePrefixedString decodes a length-prefixed string from data and
// returns it with the remaining bytes.
func ConsumePrefixedString(data []byte) (string, []byte, error) {
	length, n := binary.Uvarint(data)
	if n <= 0 {
		if n == 0 {
			return "", nil, errtrace.Wrap(ErrUnexpectedEOF)
		}
		return "", nil, errtrace.Wrap(ErrMalformedUvarint)
	}
	if length > uint64(len(data)-n) {
		return "", nil, errtrace.Wrap(ErrUnexpectedEOF)
	}
	end := n + int(length)
	return string(data[n:end]), data[end:], nil
}

// ConsumeUVarInt decodes a uvarint from data and returns it with the remaining bytes.
func ConsumeUVarInt(data []byte) (uint64, []byte, error) {
	val, n := binary.Uvarint(data)
	if n <= 0 {
		if n == 0 {
			return 0, nil, errtrace.Wrap(ErrUnexpectedEOF)
		}
		return 0, nil, errtrace.Wrap(ErrMalformedUvarint)
	}
	return val, data[n:], nil
}
