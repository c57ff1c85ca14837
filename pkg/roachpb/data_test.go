// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package roachpb

import (
	"math"
	"testing"
	"time"

	"github.com/cockroachdb/apd/v3"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

func TestKeyNext(t *testing.T) {
	testCases := []struct {
		key  Key
		next Key
	}{
		{nil, Key("\x00")},
		{Key(""), Key("\x00")},
		{Key("test key"), Key("test key\x00")},
		{Key("\x00"), Key("\x00\x00")},
		{Key("xoxo\x00"), Key("xoxo\x00\x00")},
	}
	for i, c := range testCases {
		require.Equalf(t, c.next, c.key.Next(), "%d", i)
	}
}

func TestKeyPrefixEnd(t *testing.T) {
	testCases := []struct {
		key Key
		end Key
	}{
		{Key{}, KeyMax},
		{Key{0}, Key{1}},
		{Key{0xff}, Key{0xff}},
		{Key{0xff, 0xff}, Key{0xff, 0xff}},
		{Key("a"), Key("b")},
		{Key("a\xff"), Key("b")},
	}
	for i, c := range testCases {
		require.Equalf(t, c.end, c.key.PrefixEnd(), "%d", i)
	}
}

func TestSpanOverlaps(t *testing.T) {
	sA := Span{Key: []byte("a")}
	sD := Span{Key: []byte("d")}
	sAtoC := Span{Key: []byte("a"), EndKey: []byte("c")}
	sBtoD := Span{Key: []byte("b"), EndKey: []byte("d")}
	sCtoD := Span{Key: []byte("c"), EndKey: []byte("d")}
	// Invalid spans.
	sDtoA := Span{Key: []byte("d"), EndKey: []byte("a")}

	testCases := []struct {
		s1, s2   Span
		overlaps bool
	}{
		{sA, sA, true},
		{sA, sD, false},
		{sA, sBtoD, false},
		{sBtoD, sA, false},
		{sD, sBtoD, false},
		{sBtoD, sD, false},
		{sA, sAtoC, true},
		{sAtoC, sA, true},
		{sAtoC, sAtoC, true},
		{sAtoC, sBtoD, true},
		{sBtoD, sAtoC, true},
		{sAtoC, sCtoD, false},
		{sCtoD, sAtoC, false},
		{sDtoA, sAtoC, false},
	}
	for i, c := range testCases {
		require.Equalf(t, c.overlaps, c.s1.Overlaps(c.s2), "%d", i)
	}
}

func TestSpanContainsKey(t *testing.T) {
	s := Span{Key: []byte("a"), EndKey: []byte("b")}
	testCases := []struct {
		key      Key
		contains bool
	}{
		{Key("a"), true},
		{Key("aa"), true},
		{Key("`"), false},
		{Key("b"), false},
		{Key("c"), false},
	}
	for i, c := range testCases {
		require.Equalf(t, c.contains, s.ContainsKey(c.key), "%d", i)
	}
}

func TestValueChecksumEmpty(t *testing.T) {
	k := []byte("key")
	v := Value{}
	// Before initializing checksum, always works.
	require.NoError(t, v.Verify(k))
	require.NoError(t, v.Verify([]byte("key2")))
	v.InitChecksum(k)
	require.NoError(t, v.Verify(k))
}

func TestValueChecksumWithBytes(t *testing.T) {
	k := []byte("key")
	v := Value{}
	v.SetString("abc")
	v.InitChecksum(k)
	require.NoError(t, v.Verify(k))

	// Try a different key; should fail.
	err := v.Verify([]byte("key2"))
	require.Error(t, err)
	var cErr *ChecksumMismatchError
	require.True(t, errors.As(err, &cErr))

	// Mess with the value.
	v.RawBytes[headerSize] ^= 0x01
	require.Error(t, v.Verify(k))
	v.RawBytes[headerSize] ^= 0x01
	require.NoError(t, v.Verify(k))

	// Mess with the tag.
	v.RawBytes[tagPos]++
	require.Error(t, v.Verify(k))
	v.RawBytes[tagPos]--
	require.NoError(t, v.Verify(k))

	// Appending new contents after the checksum has been initialized corrupts
	// the value.
	v.RawBytes = append(v.RawBytes, 'd')
	require.Error(t, v.Verify(k))
}

func TestSetGetChecked(t *testing.T) {
	v := Value{}

	v.SetBytes(nil)
	if _, err := v.GetBytes(); err != nil {
		t.Fatal(err)
	}

	f := 1.1
	v.SetFloat(f)
	r, err := v.GetFloat()
	require.NoError(t, err)
	require.Equal(t, f, r)

	i := int64(1)
	v.SetInt(i)
	ir, err := v.GetInt()
	require.NoError(t, err)
	require.Equal(t, i, ir)

	dec, _, err := apd.NewFromString("1.1")
	require.NoError(t, err)
	v.SetDecimal(dec)
	decr, err := v.GetDecimal()
	require.NoError(t, err)
	require.Equal(t, 0, dec.Cmp(decr))

	ti := time.Date(2016, 7, 18, 10, 11, 12, 13, time.UTC)
	v.SetTime(ti)
	tir, err := v.GetTime()
	require.NoError(t, err)
	require.True(t, ti.Equal(tir))

	d := 21 * time.Second
	v.SetDuration(d)
	dr, err := v.GetDuration()
	require.NoError(t, err)
	require.Equal(t, d, dr)

	v.SetTuple([]byte("tuple-data"))
	tup, err := v.GetTuple()
	require.NoError(t, err)
	require.Equal(t, []byte("tuple-data"), tup)

	// Cross-type gets fail.
	v.SetInt(42)
	_, err = v.GetBytes()
	require.Error(t, err)
	_, err = v.GetFloat()
	require.Error(t, err)
}

func TestValueBoundsInt(t *testing.T) {
	for _, i := range []int64{math.MinInt64, -1, 0, 1, math.MaxInt64} {
		v := Value{}
		v.SetInt(i)
		r, err := v.GetInt()
		require.NoError(t, err)
		require.Equal(t, i, r)
	}
}

func TestValueTag(t *testing.T) {
	v := Value{}
	require.Equal(t, ValueType_UNKNOWN, v.GetTag())
	v.SetString("x")
	require.Equal(t, ValueType_BYTES, v.GetTag())
	v.SetFloat(1)
	require.Equal(t, ValueType_FLOAT, v.GetTag())
}
