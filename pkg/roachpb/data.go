// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package roachpb holds the data model of the concurrency-control core:
// keys and spans, checksummed values, transaction and intent state, range
// leases, and the error taxonomy surfaced to request-serving layers.
package roachpb

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash"
	"hash/crc32"
	"math"
	"sync"
	"time"

	"github.com/cockroachdb/apd/v3"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/redact"

	"github.com/cockroachdb/kvcc/pkg/util/hlc"
)

// Key is the kv key type, an arbitrary byte string.
type Key []byte

// KeyMin is a minimum key value which sorts before all other keys.
var KeyMin = Key("")

// KeyMax is a maximum key value which sorts after all other keys.
var KeyMax = Key{0xff, 0xff}

// Compare compares the two keys.
func (k Key) Compare(b Key) int {
	return bytes.Compare(k, b)
}

// Equal returns whether two keys are identical.
func (k Key) Equal(b Key) bool {
	return bytes.Equal(k, b)
}

// Next returns the next key in lexicographic sort order. The method may only
// take a shallow copy of the Key, so both the receiver and the return value
// should be treated as immutable after.
func (k Key) Next() Key {
	return Key(append(append(make([]byte, 0, len(k)+1), k...), 0))
}

// PrefixEnd determines the end key given key as a prefix, that is the key
// that sorts precisely behind all keys starting with prefix: "1" is added to
// the final byte and the carry propagated. The special cases of nil and
// KeyMin always returns KeyMax.
func (k Key) PrefixEnd() Key {
	if len(k) == 0 {
		return KeyMax
	}
	end := append(make([]byte, 0, len(k)), k...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i] = end[i] + 1
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	// This statement will only be reached if the key is already a maximal
	// byte string (i.e. already \xff...).
	return k
}

// String returns a string-formatted version of the key.
func (k Key) String() string {
	return fmt.Sprintf("%q", []byte(k))
}

// Span is a key range with an inclusive start Key and an exclusive end Key.
// An empty EndKey denotes a single-key span. A Span is immutable once
// constructed.
type Span struct {
	Key    Key
	EndKey Key
}

// Valid returns whether or not the span is a "valid span": a span with an
// EndKey must order strictly after its Key.
func (s Span) Valid() bool {
	if len(s.EndKey) == 0 {
		return true
	}
	return s.Key.Compare(s.EndKey) < 0
}

// ContainsKey returns whether the span contains the given key.
func (s Span) ContainsKey(key Key) bool {
	if len(s.EndKey) == 0 {
		return s.Key.Equal(key)
	}
	return key.Compare(s.Key) >= 0 && key.Compare(s.EndKey) < 0
}

// Overlaps returns true WLOG for span A and B iff:
//  1. Both spans contain one key (just the start key) and they are equal; or
//  2. The span with only one key is contained inside the other span; or
//  3. The end key of span A is strictly greater than the start key of span B
//     and the end key of span B is strictly greater than the start key of
//     span A.
func (s Span) Overlaps(o Span) bool {
	if !s.Valid() || !o.Valid() {
		return false
	}
	if len(s.EndKey) == 0 && len(o.EndKey) == 0 {
		return s.Key.Equal(o.Key)
	} else if len(s.EndKey) == 0 {
		return o.ContainsKey(s.Key)
	} else if len(o.EndKey) == 0 {
		return s.ContainsKey(o.Key)
	}
	return s.Key.Compare(o.EndKey) < 0 && s.EndKey.Compare(o.Key) > 0
}

// Equal compares two spans.
func (s Span) Equal(o Span) bool {
	return s.Key.Equal(o.Key) && s.EndKey.Equal(o.EndKey)
}

// String implements the fmt.Stringer interface.
func (s Span) String() string {
	if len(s.EndKey) == 0 {
		return s.Key.String()
	}
	return fmt.Sprintf("%s-%s", s.Key, s.EndKey)
}

// Spans is a slice of spans.
type Spans []Span

// Len implements sort.Interface.
func (a Spans) Len() int { return len(a) }

// Swap implements sort.Interface.
func (a Spans) Swap(i, j int) { a[i], a[j] = a[j], a[i] }

// Less implements sort.Interface.
func (a Spans) Less(i, j int) bool { return a[i].Key.Compare(a[j].Key) < 0 }

// KeyValue is a pair of Key and Value for returned Key/Value pairs from
// ScanRequest/ScanResponse. It embeds a Key and a Value.
type KeyValue struct {
	Key   Key
	Value Value
}

// ValueType defines a set of type constants placed in the "tag" field of
// Value messages. These are defined as a protocol buffer enumeration so
// that they can be used portably between our Go and C code.
type ValueType byte

// Value tag values.
//
// TODO(tschottdorf): spell out the payload encodings for the delimited
// variants once the tuple encoder grows composite keys.
const (
	ValueType_UNKNOWN ValueType = 0
	ValueType_INT     ValueType = 1
	ValueType_FLOAT   ValueType = 2
	ValueType_BYTES   ValueType = 3
	ValueType_TIME    ValueType = 4
	ValueType_DECIMAL ValueType = 5
	ValueType_DURATION ValueType = 6
	ValueType_NULL    ValueType = 7

	// ValueType_DELIMITED_BYTES and ValueType_DELIMITED_DECIMAL are
	// length-delimited variants used inside tuples.
	ValueType_DELIMITED_BYTES   ValueType = 8
	ValueType_DELIMITED_DECIMAL ValueType = 9

	// ValueType_TUPLE represents a DTuple.
	ValueType_TUPLE ValueType = 10

	// ValueType_TIMESERIES is applied to values which contain timeseries data.
	ValueType_TIMESERIES ValueType = 100
)

// String implements the fmt.Stringer interface.
func (t ValueType) String() string {
	switch t {
	case ValueType_UNKNOWN:
		return "UNKNOWN"
	case ValueType_INT:
		return "INT"
	case ValueType_FLOAT:
		return "FLOAT"
	case ValueType_BYTES:
		return "BYTES"
	case ValueType_TIME:
		return "TIME"
	case ValueType_DECIMAL:
		return "DECIMAL"
	case ValueType_DURATION:
		return "DURATION"
	case ValueType_NULL:
		return "NULL"
	case ValueType_DELIMITED_BYTES:
		return "DELIMITED_BYTES"
	case ValueType_DELIMITED_DECIMAL:
		return "DELIMITED_DECIMAL"
	case ValueType_TUPLE:
		return "TUPLE"
	case ValueType_TIMESERIES:
		return "TIMESERIES"
	default:
		return fmt.Sprintf("ValueType(%d)", byte(t))
	}
}

const (
	checksumUninitialized = 0
	checksumSize          = 4
	tagPos                = checksumSize
	headerSize            = tagPos + 1
)

// Value specifies the value at a key. Multiple values at the same key are
// supported based on timestamp. The self-describing RawBytes field is laid
// out as:
//
//	+-------------------+---------+-----------------+
//	| checksum (4B CRC) | tag (1B)| encoded payload |
//	+-------------------+---------+-----------------+
//
// The checksum is computed over the key, the tag and the payload, so a
// Value is bound to the key it was written under; decoding it under a
// different key fails verification.
type Value struct {
	RawBytes  []byte
	Timestamp hlc.Timestamp
}

func (v Value) checksum() uint32 {
	if len(v.RawBytes) < checksumSize {
		return 0
	}
	_, u, err := encoding_DecodeUint32(v.RawBytes[:checksumSize])
	if err != nil {
		panic(err)
	}
	return u
}

func (v *Value) setChecksum(cksum uint32) {
	if len(v.RawBytes) >= checksumSize {
		encoding_EncodeUint32(v.RawBytes[:0], cksum)
	}
}

// InitChecksum initializes a checksum based on the provided key and the
// contents of the value. If the value contains a byte slice, the checksum
// includes it directly.
//
// TODO(peter): This method should return an error if the Value is corrupted
// (e.g. the RawBytes field is > 0 but smaller than the header size).
func (v *Value) InitChecksum(key []byte) {
	if v.RawBytes == nil {
		return
	}
	// Should be uninitialized.
	if v.checksum() != checksumUninitialized {
		panic(fmt.Sprintf("initialized checksum = %x", v.checksum()))
	}
	v.setChecksum(v.computeChecksum(key))
}

// ClearChecksum clears the checksum value.
func (v *Value) ClearChecksum() {
	v.setChecksum(0)
}

// Verify verifies the value's Checksum matches a newly-computed checksum of
// the value's contents. If the value's Checksum is not set the verification
// is a noop. A mismatch is reported as a ChecksumMismatchError: the value
// bytes are corrupted and must not be returned to the caller.
func (v Value) Verify(key []byte) error {
	if n := len(v.RawBytes); n > 0 && n < headerSize {
		return errors.Errorf("%s: invalid header size: %d", Key(key), n)
	}
	if sum := v.checksum(); sum != 0 {
		if computedSum := v.computeChecksum(key); computedSum != sum {
			return &ChecksumMismatchError{
				Key:      append(Key(nil), key...),
				Expected: sum,
				Actual:   computedSum,
			}
		}
	}
	return nil
}

// ShallowClone returns a shallow clone of the receiver.
func (v *Value) ShallowClone() *Value {
	if v == nil {
		return nil
	}
	t := *v
	return &t
}

// IsPresent returns true if the value is present (existent and not a
// tombstone).
func (v *Value) IsPresent() bool {
	return v != nil && len(v.RawBytes) != 0
}

// GetTag retrieves the value type.
func (v Value) GetTag() ValueType {
	if len(v.RawBytes) <= tagPos {
		return ValueType_UNKNOWN
	}
	return ValueType(v.RawBytes[tagPos])
}

func (v *Value) setTag(t ValueType) {
	v.RawBytes[tagPos] = byte(t)
}

func (v Value) dataBytes() []byte {
	return v.RawBytes[headerSize:]
}

func (v *Value) ensureRawBytes(size int) {
	if cap(v.RawBytes) < size {
		v.RawBytes = make([]byte, size)
		return
	}
	v.RawBytes = v.RawBytes[:size]
	v.setChecksum(checksumUninitialized)
}

// SetBytes sets the bytes and tag field of the receiver and clears the
// checksum.
func (v *Value) SetBytes(b []byte) {
	v.ensureRawBytes(headerSize + len(b))
	copy(v.dataBytes(), b)
	v.setTag(ValueType_BYTES)
}

// SetString sets the bytes and tag field of the receiver and clears the
// checksum. This is identical to SetBytes, but specialized for a string
// argument.
func (v *Value) SetString(s string) {
	v.ensureRawBytes(headerSize + len(s))
	copy(v.dataBytes(), s)
	v.setTag(ValueType_BYTES)
}

// SetFloat encodes the specified float64 value into the bytes field of the
// receiver, sets the tag and clears the checksum.
func (v *Value) SetFloat(f float64) {
	v.ensureRawBytes(headerSize + 8)
	binary.BigEndian.PutUint64(v.dataBytes(), math.Float64bits(f))
	v.setTag(ValueType_FLOAT)
}

// SetInt encodes the specified int64 value into the bytes field of the
// receiver, sets the tag and clears the checksum.
func (v *Value) SetInt(i int64) {
	v.ensureRawBytes(headerSize + binary.MaxVarintLen64)
	n := binary.PutVarint(v.dataBytes(), i)
	v.RawBytes = v.RawBytes[:headerSize+n]
	v.setTag(ValueType_INT)
}

// SetTime encodes the specified time value into the bytes field of the
// receiver, sets the tag and clears the checksum.
func (v *Value) SetTime(t time.Time) {
	const encodingSizeOverestimate = headerSize + binary.MaxVarintLen64*2
	v.ensureRawBytes(encodingSizeOverestimate)
	n := binary.PutVarint(v.dataBytes(), t.Unix())
	n += binary.PutVarint(v.dataBytes()[n:], int64(t.Nanosecond()))
	v.RawBytes = v.RawBytes[:headerSize+n]
	v.setTag(ValueType_TIME)
}

// SetDuration encodes the specified duration value into the bytes field of
// the receiver, sets the tag and clears the checksum.
func (v *Value) SetDuration(d time.Duration) {
	v.ensureRawBytes(headerSize + binary.MaxVarintLen64)
	n := binary.PutVarint(v.dataBytes(), d.Nanoseconds())
	v.RawBytes = v.RawBytes[:headerSize+n]
	v.setTag(ValueType_DURATION)
}

// SetDecimal encodes the specified decimal value into the bytes field of
// the receiver using its shortest exact text rendering, sets the tag and
// clears the checksum.
func (v *Value) SetDecimal(dec *apd.Decimal) {
	s := dec.String()
	v.ensureRawBytes(headerSize + len(s))
	copy(v.dataBytes(), s)
	v.setTag(ValueType_DECIMAL)
}

// SetTuple sets the tuple bytes and tag field of the receiver and clears
// the checksum.
func (v *Value) SetTuple(data []byte) {
	v.ensureRawBytes(headerSize + len(data))
	copy(v.dataBytes(), data)
	v.setTag(ValueType_TUPLE)
}

// GetBytes returns the bytes field of the receiver. If the tag is not
// BYTES an error will be returned.
func (v Value) GetBytes() ([]byte, error) {
	if tag := v.GetTag(); tag != ValueType_BYTES {
		return nil, errors.Errorf("value type is not %s: %s", ValueType_BYTES, tag)
	}
	return v.dataBytes(), nil
}

// GetFloat decodes a float64 value from the bytes field of the receiver.
// If the bytes field is not 8 bytes in length or the tag is not FLOAT an
// error will be returned.
func (v Value) GetFloat() (float64, error) {
	if tag := v.GetTag(); tag != ValueType_FLOAT {
		return 0, errors.Errorf("value type is not %s: %s", ValueType_FLOAT, tag)
	}
	dataBytes := v.dataBytes()
	if len(dataBytes) != 8 {
		return 0, errors.Errorf("float64 value should be exactly 8 bytes: %d", len(dataBytes))
	}
	return math.Float64frombits(binary.BigEndian.Uint64(dataBytes)), nil
}

// GetInt decodes an int64 value from the bytes field of the receiver. If
// the tag is not INT or the value cannot be decoded an error will be
// returned.
func (v Value) GetInt() (int64, error) {
	if tag := v.GetTag(); tag != ValueType_INT {
		return 0, errors.Errorf("value type is not %s: %s", ValueType_INT, tag)
	}
	i, n := binary.Varint(v.dataBytes())
	if n <= 0 {
		return 0, errors.Errorf("int64 varint decoding failed: %d", n)
	}
	return i, nil
}

// GetTime decodes a time value from the bytes field of the receiver. If
// the tag is not TIME an error will be returned.
func (v Value) GetTime() (time.Time, error) {
	if tag := v.GetTag(); tag != ValueType_TIME {
		return time.Time{}, errors.Errorf("value type is not %s: %s", ValueType_TIME, tag)
	}
	dataBytes := v.dataBytes()
	sec, n := binary.Varint(dataBytes)
	if n <= 0 {
		return time.Time{}, errors.Errorf("time seconds varint decoding failed: %d", n)
	}
	nsec, n := binary.Varint(dataBytes[n:])
	if n <= 0 {
		return time.Time{}, errors.Errorf("time nanoseconds varint decoding failed: %d", n)
	}
	return time.Unix(sec, nsec).UTC(), nil
}

// GetDuration decodes a duration value from the bytes field of the
// receiver. If the tag is not DURATION an error will be returned.
func (v Value) GetDuration() (time.Duration, error) {
	if tag := v.GetTag(); tag != ValueType_DURATION {
		return 0, errors.Errorf("value type is not %s: %s", ValueType_DURATION, tag)
	}
	nanos, n := binary.Varint(v.dataBytes())
	if n <= 0 {
		return 0, errors.Errorf("duration varint decoding failed: %d", n)
	}
	return time.Duration(nanos), nil
}

// GetDecimal decodes a decimal value from the bytes of the receiver. If
// the tag is not DECIMAL an error will be returned.
func (v Value) GetDecimal() (*apd.Decimal, error) {
	if tag := v.GetTag(); tag != ValueType_DECIMAL {
		return nil, errors.Errorf("value type is not %s: %s", ValueType_DECIMAL, tag)
	}
	dec, _, err := apd.NewFromString(string(v.dataBytes()))
	return dec, err
}

// GetTuple returns the tuple bytes of the receiver. If the tag is not
// TUPLE an error will be returned.
func (v Value) GetTuple() ([]byte, error) {
	if tag := v.GetTag(); tag != ValueType_TUPLE {
		return nil, errors.Errorf("value type is not %s: %s", ValueType_TUPLE, tag)
	}
	return v.dataBytes(), nil
}

var crc32Pool = sync.Pool{
	New: func() interface{} {
		return crc32.NewIEEE()
	},
}

// computeChecksum computes a checksum based on the provided key and the
// contents of the value.
func (v Value) computeChecksum(key []byte) uint32 {
	if len(v.RawBytes) < headerSize {
		return 0
	}
	crc := crc32Pool.Get().(hash.Hash32)
	if _, err := crc.Write(key); err != nil {
		panic(err)
	}
	if _, err := crc.Write(v.RawBytes[checksumSize:]); err != nil {
		panic(err)
	}
	sum := crc.Sum32()
	crc.Reset()
	crc32Pool.Put(crc)
	// We reserved the value 0 (checksumUninitialized) to indicate that a
	// checksum was not initialized.
	if sum == checksumUninitialized {
		return 1
	}
	return sum
}

// String implements the fmt.Stringer interface.
func (v Value) String() string {
	return redact.StringWithoutMarkers(v)
}

// SafeFormat implements the redact.SafeFormatter interface.
func (v Value) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("%s/len:%d/ts:%s", v.GetTag(), len(v.RawBytes), v.Timestamp)
}

// The encoding_* helpers below hand-roll the little fixed-width codec the
// checksum header needs; the rest of the payload encodings use
// encoding/binary varints directly.

func encoding_EncodeUint32(b []byte, v uint32) []byte {
	return append(b, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

func encoding_DecodeUint32(b []byte) ([]byte, uint32, error) {
	if len(b) < 4 {
		return nil, 0, errors.Errorf("insufficient bytes to decode uint32 int value")
	}
	v := binary.BigEndian.Uint32(b)
	return b[4:], v, nil
}
