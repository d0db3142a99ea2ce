// Copyright 2024 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package nettrace

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestParseTraceObject checks that a lone Trace object produces the
// expected TraceMetadata.
func TestParseTraceObject(t *testing.T) {
	data := buildStream(defaultTraceFields)

	trace, err := Parse(context.Background(), bytes.NewReader(data), nil)
	require.NoError(t, err)

	want := time.Date(2023, time.December, 26, 17, 47, 10, 622*int(time.Millisecond), time.UTC)
	require.True(t, trace.Metadata.Date.Equal(want))
	require.EqualValues(t, 3679946412879, trace.Metadata.QPCSyncTime)
	require.EqualValues(t, 10000000, trace.Metadata.QPCFrequency)
	require.EqualValues(t, 8, trace.Metadata.PointerSize)
	require.EqualValues(t, 2756, trace.Metadata.ProcessID)
	require.EqualValues(t, 12, trace.Metadata.NumberOfProcessors)
	require.EqualValues(t, 1000000, trace.Metadata.CPUSamplingRate)
	require.Empty(t, trace.Events)
}

// TestParseTruncatedStream checks that a stream cut short before its
// terminating NullReference reports ErrTruncated and no Trace.
func TestParseTruncatedStream(t *testing.T) {
	data := buildStream(defaultTraceFields)
	truncated := data[:len(data)-1]

	trace, err := Parse(context.Background(), bytes.NewReader(truncated), nil)
	require.Error(t, err)
	require.Nil(t, trace)
	var fe *FormatError
	require.ErrorAs(t, err, &fe)
	require.ErrorIs(t, fe.Err, ErrTruncated)
}

// TestParseForwardCompatibleSkip checks that an object declaring
// minReaderVersion beyond what this parser understands is skipped whole,
// and parsing continues with subsequent valid blocks.
func TestParseForwardCompatibleSkip(t *testing.T) {
	stackBody := buildStackBlockBody(0, 1, [][]uint64{{0xaaaa}}, 8)

	data := buildStream(defaultTraceFields,
		blockSpec{"FutureBlock", 99, []byte{0xde, 0xad, 0xbe, 0xef}},
		blockSpec{"StackBlock", 1, stackBody},
	)

	trace, err := Parse(context.Background(), bytes.NewReader(data), nil)
	require.NoError(t, err)
	require.EqualValues(t, 2756, trace.Metadata.ProcessID)
}

func TestParseBadMagic(t *testing.T) {
	data := append([]byte("XXXXXXXX"), []byte{1}...)
	_, err := Parse(context.Background(), bytes.NewReader(data), nil)
	require.Error(t, err)
	var fe *FormatError
	require.ErrorAs(t, err, &fe)
	require.ErrorIs(t, fe.Err, ErrBadMagic)
}
