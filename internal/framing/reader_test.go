package framing

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sagernet/connengine/internal/varint"
)

func lineBytes(s string) []byte {
	out := varint.AppendUsize(nil, uint64(len(s)))
	return append(out, s...)
}

func TestReaderSingleFrameWholeInOneCall(t *testing.T) {
	r := New(1024)
	n, err := r.InjectData(lineBytes("hello"))
	require.NoError(t, err)
	require.Equal(t, len(lineBytes("hello")), n)

	frame, ok := r.TakeFrame()
	require.True(t, ok)
	require.Equal(t, "hello", string(frame))

	_, ok = r.TakeFrame()
	require.False(t, ok)
}

func TestReaderByteAtATime(t *testing.T) {
	r := New(1024)
	data := lineBytes("abcdef")
	total := 0
	for i := 0; i < len(data); i++ {
		n, err := r.InjectData(data[i : i+1])
		require.NoError(t, err)
		total += n
	}
	require.Equal(t, len(data), total)

	frame, ok := r.TakeFrame()
	require.True(t, ok)
	require.Equal(t, "abcdef", string(frame))
}

func TestReaderEmptyFrame(t *testing.T) {
	r := New(1024)
	_, err := r.InjectData(lineBytes(""))
	require.NoError(t, err)
	frame, ok := r.TakeFrame()
	require.True(t, ok)
	require.Empty(t, frame)
}

// A frame fed in the same InjectData call as a following frame is only
// consumed up through the first frame's completion: InjectData stops as
// soon as a completed frame is pending, so the caller must TakeFrame it
// and InjectData again with the remainder.
func TestReaderMultipleFramesRequireDrainBetween(t *testing.T) {
	r := New(1024)
	one := lineBytes("one")
	two := lineBytes("two")
	data := append(append([]byte(nil), one...), two...)

	n, err := r.InjectData(data)
	require.NoError(t, err)
	require.Equal(t, len(one), n)

	frame, ok := r.TakeFrame()
	require.True(t, ok)
	require.Equal(t, "one", string(frame))

	n, err = r.InjectData(data[n:])
	require.NoError(t, err)
	require.Equal(t, len(two), n)

	frame, ok = r.TakeFrame()
	require.True(t, ok)
	require.Equal(t, "two", string(frame))
}

func TestReaderRejectsOversizeFrame(t *testing.T) {
	r := New(4)
	_, err := r.InjectData(lineBytes("too-long"))
	require.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestReaderIsReusableAfterDrain(t *testing.T) {
	r := New(1024)
	_, err := r.InjectData(lineBytes("first"))
	require.NoError(t, err)
	frame, ok := r.TakeFrame()
	require.True(t, ok)
	require.Equal(t, "first", string(frame))

	_, err = r.InjectData(lineBytes("second"))
	require.NoError(t, err)
	frame, ok = r.TakeFrame()
	require.True(t, ok)
	require.Equal(t, "second", string(frame))
}
