package wire

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	cases := [][]string{
		{"49", "9000", "1705319445"},
		{""},
		{"", "", ""},
		{"a", "", "b"},
		nil,
	}
	for _, fields := range cases {
		var buf bytes.Buffer
		f := NewFrame(fields...)
		require.NoError(t, WriteFrame(&buf, f, 0))
		got, err := ReadFrame(&buf, 0)
		require.NoError(t, err)
		require.Equal(t, f.Fields, got.Fields)
	}
}

func TestReadFrameShortReadNeverPartial(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, NewFrame("a", "b", "c"), 0))
	full := buf.Bytes()
	// Truncate mid-payload: ReadFrame must fail, never return a short Frame.
	truncated := bytes.NewReader(full[:len(full)-2])
	_, err := ReadFrame(truncated, 0)
	require.Error(t, err)
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestReadFrameClosedSocket(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader(nil), 0)
	require.Error(t, err)
}

func TestOversizeFrameRejected(t *testing.T) {
	var buf bytes.Buffer
	err := WriteFrame(&buf, NewFrame("this is too long"), 4)
	require.Error(t, err)
	var protoErr *ProtocolError
	require.ErrorAs(t, err, &protoErr)
}

func TestOversizeFrameRejectedOnRead(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, NewFrame("0123456789"), 0))
	_, err := ReadFrame(&buf, 4)
	var protoErr *ProtocolError
	require.ErrorAs(t, err, &protoErr)
}

func TestFieldOutOfRangeReturnsEmpty(t *testing.T) {
	f := NewFrame("a", "b")
	require.Equal(t, "a", f.Field(0))
	require.Equal(t, "", f.Field(5))
	require.Equal(t, "", f.Field(-1))
}

func TestWriteFrameRawAtomicBytes(t *testing.T) {
	var buf bytes.Buffer
	raw, err := WriteFrameRaw(&buf, NewFrame("49", "9000"), 0)
	require.NoError(t, err)
	require.Equal(t, raw, buf.Bytes())
}
