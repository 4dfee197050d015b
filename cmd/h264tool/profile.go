package main

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/thesyncim/h264bridge"
)

const envPrefix = "H264TOOL"

var validate = validator.New()

// encoderProfile is the on-disk form of h264bridge.EncoderParams. Enumerated
// fields hold wire codes; -1 keeps the engine default where allowed.
type encoderProfile struct {
	EnableSkipFrame      bool    `mapstructure:"enable_skip_frame"`
	TargetBitrate        int32   `mapstructure:"target_bitrate" validate:"gte=0"`
	MaxFrameRate         float32 `mapstructure:"max_frame_rate" validate:"gte=0"`
	RateControlMode      int32   `mapstructure:"rate_control_mode" validate:"gte=0,lte=5"`
	SpsPpsStrategy       int32   `mapstructure:"sps_pps_strategy" validate:"gte=0,lte=4"`
	MultipleThreadIdc    int16   `mapstructure:"multiple_thread_idc" validate:"gte=0"`
	UsageType            int32   `mapstructure:"usage_type" validate:"gte=0,lte=4"`
	MaxSliceLen          int32   `mapstructure:"max_slice_len" validate:"gte=-1"`
	Profile              int32   `mapstructure:"profile" validate:"gte=-1,lte=9"`
	Level                int32   `mapstructure:"level" validate:"gte=-1,lte=16"`
	Complexity           int32   `mapstructure:"complexity" validate:"gte=0,lte=2"`
	MinQp                int8    `mapstructure:"min_qp" validate:"gte=0,lte=51,ltefield=MaxQp"`
	MaxQp                int8    `mapstructure:"max_qp" validate:"gte=0,lte=51"`
	SceneChangeDetect    bool    `mapstructure:"scene_change_detect"`
	AdaptiveQuantization bool    `mapstructure:"adaptive_quantization"`
	BackgroundDetection  bool    `mapstructure:"background_detection"`
	LongTermReference    bool    `mapstructure:"long_term_reference"`
	IntraFramePeriod     int32   `mapstructure:"intra_frame_period" validate:"gte=0"`
}

func setProfileDefaults(v *viper.Viper) {
	d := h264bridge.DefaultEncoderParams()
	v.SetDefault("enable_skip_frame", d.EnableSkipFrame)
	v.SetDefault("target_bitrate", d.TargetBitrate)
	v.SetDefault("max_frame_rate", d.MaxFrameRate)
	v.SetDefault("rate_control_mode", d.RateControlMode)
	v.SetDefault("sps_pps_strategy", d.SpsPpsStrategy)
	v.SetDefault("multiple_thread_idc", d.MultipleThreadIdc)
	v.SetDefault("usage_type", d.UsageType)
	v.SetDefault("max_slice_len", d.MaxSliceLen)
	v.SetDefault("profile", d.Profile)
	v.SetDefault("level", d.Level)
	v.SetDefault("complexity", d.Complexity)
	v.SetDefault("min_qp", d.MinQp)
	v.SetDefault("max_qp", d.MaxQp)
	v.SetDefault("scene_change_detect", d.SceneChangeDetect)
	v.SetDefault("adaptive_quantization", d.AdaptiveQuantization)
	v.SetDefault("background_detection", d.BackgroundDetection)
	v.SetDefault("long_term_reference", d.LongTermReference)
	v.SetDefault("intra_frame_period", d.IntraFramePeriod)
}

// loadEncoderParams reads the optional YAML profile at path, applies
// H264TOOL_* environment overrides and validates the result.
func loadEncoderParams(path string) (h264bridge.EncoderParams, error) {
	v := viper.New()
	setProfileDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return h264bridge.EncoderParams{}, fmt.Errorf("read encoder profile: %w", err)
		}
	}

	var p encoderProfile
	if err := v.Unmarshal(&p); err != nil {
		return h264bridge.EncoderParams{}, fmt.Errorf("decode encoder profile: %w", err)
	}
	if err := validate.Struct(&p); err != nil {
		return h264bridge.EncoderParams{}, fmt.Errorf("encoder profile validation failed: %w", err)
	}
	return p.params(), nil
}

func (p *encoderProfile) params() h264bridge.EncoderParams {
	return h264bridge.EncoderParams{
		EnableSkipFrame:      p.EnableSkipFrame,
		TargetBitrate:        p.TargetBitrate,
		MaxFrameRate:         p.MaxFrameRate,
		RateControlMode:      p.RateControlMode,
		SpsPpsStrategy:       p.SpsPpsStrategy,
		MultipleThreadIdc:    p.MultipleThreadIdc,
		UsageType:            p.UsageType,
		MaxSliceLen:          p.MaxSliceLen,
		Profile:              p.Profile,
		Level:                p.Level,
		Complexity:           p.Complexity,
		MinQp:                p.MinQp,
		MaxQp:                p.MaxQp,
		SceneChangeDetect:    p.SceneChangeDetect,
		AdaptiveQuantization: p.AdaptiveQuantization,
		BackgroundDetection:  p.BackgroundDetection,
		LongTermReference:    p.LongTermReference,
		IntraFramePeriod:     p.IntraFramePeriod,
	}
}
