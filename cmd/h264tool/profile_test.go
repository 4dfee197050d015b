package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thesyncim/h264bridge"
)

func TestLoadEncoderParams_Defaults(t *testing.T) {
	p, err := loadEncoderParams("")
	require.NoError(t, err)
	assert.Equal(t, h264bridge.DefaultEncoderParams(), p)
}

func TestLoadEncoderParams_File(t *testing.T) {
	path := writeTemp(t, "profile.yaml", []byte(`
target_bitrate: 800000
max_frame_rate: 25
rate_control_mode: 1
profile: 3
level: 12
min_qp: 10
max_qp: 40
long_term_reference: true
`))

	p, err := loadEncoderParams(path)
	require.NoError(t, err)
	assert.Equal(t, int32(800000), p.TargetBitrate)
	assert.Equal(t, float32(25), p.MaxFrameRate)
	assert.Equal(t, int32(h264bridge.RateControlBitrate), p.RateControlMode)
	assert.Equal(t, int32(h264bridge.ProfileHigh), p.Profile)
	assert.Equal(t, int32(h264bridge.Level4_1), p.Level)
	assert.Equal(t, int8(10), p.MinQp)
	assert.Equal(t, int8(40), p.MaxQp)
	assert.True(t, p.LongTermReference)
	// Untouched keys keep their defaults.
	assert.True(t, p.EnableSkipFrame)
	assert.Equal(t, h264bridge.NoOverride, p.MaxSliceLen)

	_, err = h264bridge.TranslateEncoderParams(p)
	assert.NoError(t, err)
}

func TestLoadEncoderParams_Env(t *testing.T) {
	t.Setenv("H264TOOL_TARGET_BITRATE", "64000")
	t.Setenv("H264TOOL_COMPLEXITY", "2")

	p, err := loadEncoderParams("")
	require.NoError(t, err)
	assert.Equal(t, int32(64000), p.TargetBitrate)
	assert.Equal(t, int32(h264bridge.ComplexityHigh), p.Complexity)
}

func TestLoadEncoderParams_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"rate control out of range", "rate_control_mode: 6"},
		{"profile below sentinel", "profile: -2"},
		{"level out of range", "level: 17"},
		{"qp above 51", "max_qp: 52"},
		{"min above max", "min_qp: 40\nmax_qp: 30"},
		{"negative bitrate", "target_bitrate: -1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeTemp(t, "profile.yaml", []byte(tt.yaml))
			_, err := loadEncoderParams(path)
			assert.ErrorContains(t, err, "validation failed")
		})
	}
}

func TestLoadEncoderParams_MissingFile(t *testing.T) {
	_, err := loadEncoderParams("/nonexistent/profile.yaml")
	assert.ErrorContains(t, err, "read encoder profile")
}
