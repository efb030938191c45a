package chunk

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTimestampEncoderRoundTrip(t *testing.T) {
	enc := NewTimestampEncoder()
	start := int64(1_700_000_000_000)
	var want []int64
	for i := 0; i < 720; i++ {
		ts := start + int64(i)*10_000
		enc.Append(ts)
		want = append(want, ts)
	}
	buf, n := enc.Seal()
	require.Equal(t, 720, n)

	r := NewTimestampReader(buf, n)
	require.Equal(t, want, r.All())
}

func TestTimestampEncoderIrregularSpacing(t *testing.T) {
	want := []int64{1000, 1010, 1025, 1200, 1201, 1202, 5000}
	enc := NewTimestampEncoder()
	for _, ts := range want {
		enc.Append(ts)
	}
	buf, n := enc.Seal()
	r := NewTimestampReader(buf, n)
	require.Equal(t, want, r.All())
}

func TestTimestampReaderCeilingIndex(t *testing.T) {
	want := []int64{100, 200, 300, 400, 500}
	enc := NewTimestampEncoder()
	for _, ts := range want {
		enc.Append(ts)
	}
	buf, n := enc.Seal()
	r := NewTimestampReader(buf, n)

	require.Equal(t, 0, r.CeilingIndex(0))
	require.Equal(t, 2, r.CeilingIndex(300))
	require.Equal(t, 2, r.CeilingIndex(250))
	require.Equal(t, 5, r.CeilingIndex(501))
}

func TestTimestampReaderFloorIndex(t *testing.T) {
	want := []int64{100, 200, 300}
	enc := NewTimestampEncoder()
	for _, ts := range want {
		enc.Append(ts)
	}
	buf, n := enc.Seal()
	r := NewTimestampReader(buf, n)

	require.Equal(t, -1, r.FloorIndex(50))
	require.Equal(t, 0, r.FloorIndex(150))
	require.Equal(t, 2, r.FloorIndex(1000))
}
