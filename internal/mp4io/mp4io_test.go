package mp4io

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 1920x1080 constrained baseline, level 4.0
var testSPS = []byte{
	0x67, 0x42, 0xc0, 0x28, 0xd9, 0x00, 0x78, 0x02,
	0x27, 0xe5, 0x84, 0x00, 0x00, 0x03, 0x00, 0x04,
	0x00, 0x00, 0x03, 0x00, 0xf0, 0x3c, 0x60, 0xc9,
	0x20,
}

var testPPS = []byte{0x68, 0xce, 0x38, 0x80}

var testIDR = []byte{0x65, 0x88, 0x84, 0x00, 0x10}

var testPFrame = []byte{0x41, 0x9a, 0x24, 0x8c, 0x09}

func annexB(units ...[]byte) []byte {
	var out []byte
	for _, u := range units {
		out = append(out, 0, 0, 0, 1)
		out = append(out, u...)
	}
	return out
}

func TestWriter_RequiresParameterSets(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, 30)

	err := w.WriteAccessUnit(annexB(testIDR), 0)
	assert.ErrorIs(t, err, ErrNoParameterSets)
	assert.Zero(t, buf.Len())
}

func TestWriter_ClosedRejectsWrites(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, 30)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	assert.ErrorIs(t, w.WriteAccessUnit(annexB(testSPS, testPPS, testIDR), 0), ErrWriterClosed)
}

func TestRoundTrip(t *testing.T) {
	frames := []struct {
		data []byte
		ts   int64
		key  bool
	}{
		{annexB(testSPS, testPPS, testIDR), 0, true},
		{annexB(testPFrame), 40, false},
		{annexB(testPFrame), 80, false},
	}

	var buf bytes.Buffer
	w := NewWriter(&buf, 25)
	for _, f := range frames {
		require.NoError(t, w.WriteAccessUnit(f.data, f.ts))
	}
	require.NoError(t, w.Close())

	aus, err := ReadAccessUnits(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	require.Len(t, aus, len(frames))

	for i, f := range frames {
		assert.Equal(t, f.data, aus[i].Data, "access unit %d", i)
		assert.Equal(t, f.key, aus[i].KeyFrame, "access unit %d", i)
		assert.Equal(t, f.ts, aus[i].TimestampMs, "access unit %d", i)
	}
	assert.Equal(t, int64(40), aus[0].DurationMs)
	assert.Equal(t, int64(40), aus[2].DurationMs)
}

func TestReadAccessUnits_Garbage(t *testing.T) {
	_, err := ReadAccessUnits(bytes.NewReader([]byte("definitely not an mp4 file")))
	assert.Error(t, err)
}

func TestToAccessUnit_PrependsParameterSets(t *testing.T) {
	track := &videoTrack{timescale: 90000, params: annexB(testSPS, testPPS)}

	sample := []byte{0, 0, 0, byte(len(testIDR))}
	sample = append(sample, testIDR...)

	au, err := track.toAccessUnit(sample, 90000, 3000)
	require.NoError(t, err)
	assert.True(t, au.KeyFrame)
	assert.Equal(t, annexB(testSPS, testPPS, testIDR), au.Data)
	assert.Equal(t, int64(1000), au.TimestampMs)
	assert.Equal(t, int64(33), au.DurationMs)
}
