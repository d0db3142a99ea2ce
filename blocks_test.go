// Copyright 2024 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package nettrace

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestDecoder() *decoder {
	return &decoder{
		log:               nil,
		opts:              &Options{},
		eventMetadata:     make(map[int32]*EventMetadata),
		intern:            newInternPool(),
		resolver:          newStackResolver(),
		haveTraceMetadata: true,
		traceMetadata:     TraceMetadata{PointerSize: 8, QPCFrequency: 10000000},
	}
}

func TestDecodeStackBlock(t *testing.T) {
	d := newTestDecoder()
	body := buildStackBlockBody(0, 2, [][]uint64{{0x1000, 0x2000}, {0x3000}}, 8)
	r := newSubReader(body, 0)

	require.NoError(t, decodeStackBlock(d, r))
	require.Equal(t, []uint64{0x1000, 0x2000}, d.resolver.stacks[0])
	require.Equal(t, []uint64{0x3000}, d.resolver.stacks[1])
	require.EqualValues(t, 1, d.lastStackIndex)
}

func TestDecodeSPBlockShiftsStackIndexOffset(t *testing.T) {
	d := newTestDecoder()
	d.lastStackIndex = 5

	body := buildSPBlockBody(100, []int64{1, 2}, []int32{10, 20})
	r := newSubReader(body, 0)
	require.NoError(t, decodeSPBlock(d, r))
	require.EqualValues(t, 5, d.stackIndexOffset)
}

// TestSequencePointReset checks that two StackBlocks, both using
// firstId=0, separated by an SPBlock, resolve to distinct addresses.
func TestSequencePointReset(t *testing.T) {
	d := newTestDecoder()

	body1 := buildStackBlockBody(0, 1, [][]uint64{{0xaaaa}}, 8)
	require.NoError(t, decodeStackBlock(d, newSubReader(body1, 0)))
	firstIndex := int64(0)
	require.Equal(t, []uint64{0xaaaa}, d.resolver.stacks[firstIndex])

	spBody := buildSPBlockBody(0, nil, nil)
	require.NoError(t, decodeSPBlock(d, newSubReader(spBody, 0)))

	body2 := buildStackBlockBody(0, 1, [][]uint64{{0xbbbb}}, 8)
	require.NoError(t, decodeStackBlock(d, newSubReader(body2, 0)))
	secondIndex := d.stackIndexOffset

	require.NotEqual(t, firstIndex, secondIndex)
	require.Equal(t, []uint64{0xaaaa}, d.resolver.stacks[firstIndex])
	require.Equal(t, []uint64{0xbbbb}, d.resolver.stacks[secondIndex])
}

func TestDecodeStackBlockRejectsSizeMismatch(t *testing.T) {
	d := newTestDecoder()
	body := buildStackBlockBody(0, 1, [][]uint64{{0x1000}}, 8)
	body = append(body, 0x00) // trailing garbage byte
	r := newSubReader(body, 0)
	err := decodeStackBlock(d, r)
	require.Error(t, err)
	var fe *FormatError
	require.ErrorAs(t, err, &fe)
	require.ErrorIs(t, fe.Err, ErrBlockSizeMismatch)
}
