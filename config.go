package h264bridge

// NoOverride is the wire sentinel for optional fields meaning "engine default".
const NoOverride int32 = -1

// DecoderParams are the primitive wire values accepted by CreateDecoder.
type DecoderParams struct {
	FlushBehavior int32
}

// EncoderParams are the primitive wire values accepted by CreateEncoder.
// MaxSliceLen, Profile and Level take NoOverride to keep the engine default.
type EncoderParams struct {
	EnableSkipFrame      bool
	TargetBitrate        int32 // bits per second
	MaxFrameRate         float32
	RateControlMode      int32
	SpsPpsStrategy       int32
	MultipleThreadIdc    int16
	UsageType            int32
	MaxSliceLen          int32
	Profile              int32
	Level                int32
	Complexity           int32
	MinQp                int8
	MaxQp                int8
	SceneChangeDetect    bool
	AdaptiveQuantization bool
	BackgroundDetection  bool
	LongTermReference    bool
	IntraFramePeriod     int32
}

// DefaultEncoderParams returns the stock encoder settings.
func DefaultEncoderParams() EncoderParams {
	return EncoderParams{
		EnableSkipFrame:      true,
		TargetBitrate:        120_000,
		MaxFrameRate:         0,
		RateControlMode:      int32(RateControlQuality),
		SpsPpsStrategy:       int32(SpsPpsConstantID),
		MultipleThreadIdc:    0,
		UsageType:            int32(UsageCameraVideoRealTime),
		MaxSliceLen:          NoOverride,
		Profile:              NoOverride,
		Level:                NoOverride,
		Complexity:           int32(ComplexityMedium),
		MinQp:                0,
		MaxQp:                51,
		SceneChangeDetect:    true,
		AdaptiveQuantization: true,
		BackgroundDetection:  true,
		LongTermReference:    false,
		IntraFramePeriod:     0,
	}
}

// DecoderConfig is the typed decoder configuration handed to a Backend.
type DecoderConfig struct {
	Flush FlushBehavior
}

// QPRange bounds the quantization parameter.
type QPRange struct {
	Min uint8
	Max uint8
}

// EncoderConfig is the typed encoder configuration handed to a Backend.
// Nil optional fields keep the engine default.
type EncoderConfig struct {
	SkipFrames           bool
	BitrateBps           uint32
	MaxFrameRate         float32
	RateControl          RateControlMode
	SpsPps               SpsPpsStrategy
	Threads              uint16
	Usage                UsageType
	MaxSliceLen          *uint32
	Profile              *Profile
	Level                *Level
	Complexity           Complexity
	QP                   QPRange
	SceneChangeDetect    bool
	AdaptiveQuantization bool
	BackgroundDetection  bool
	LongTermReference    bool
	IntraFramePeriod     uint32
}

// enumCode is any wire enumeration whose codes are its ordinals.
type enumCode interface {
	~int32
	String() string
}

func parseEnum[T enumCode](op, field string, code int32, count T) (T, error) {
	if code < 0 || code >= int32(count) {
		return 0, invalidArgument(op, "invalid %s: %d", field, code)
	}
	return T(code), nil
}

func parseOptionalEnum[T enumCode](op, field string, code int32, count T) (*T, error) {
	if code == NoOverride {
		return nil, nil
	}
	v, err := parseEnum(op, field, code, count)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// TranslateDecoderParams validates p and builds the typed decoder configuration.
func TranslateDecoderParams(p DecoderParams) (DecoderConfig, error) {
	flush, err := parseEnum("create_decoder", "flush behavior", p.FlushBehavior, flushBehaviorCount)
	if err != nil {
		return DecoderConfig{}, err
	}
	return DecoderConfig{Flush: flush}, nil
}

// TranslateEncoderParams validates every enumerated field of p and builds the
// typed encoder configuration. Numeric ranges are left to the engine. On
// error the returned config is the zero value.
func TranslateEncoderParams(p EncoderParams) (EncoderConfig, error) {
	const op = "create_encoder"

	rc, err := parseEnum(op, "rate control mode", p.RateControlMode, rateControlModeCount)
	if err != nil {
		return EncoderConfig{}, err
	}
	spsPps, err := parseEnum(op, "sps pps strategy", p.SpsPpsStrategy, spsPpsStrategyCount)
	if err != nil {
		return EncoderConfig{}, err
	}
	usage, err := parseEnum(op, "usage type", p.UsageType, usageTypeCount)
	if err != nil {
		return EncoderConfig{}, err
	}
	profile, err := parseOptionalEnum(op, "profile", p.Profile, profileCount)
	if err != nil {
		return EncoderConfig{}, err
	}
	level, err := parseOptionalEnum(op, "level", p.Level, levelCount)
	if err != nil {
		return EncoderConfig{}, err
	}
	complexity, err := parseEnum(op, "complexity", p.Complexity, complexityCount)
	if err != nil {
		return EncoderConfig{}, err
	}

	var maxSlice *uint32
	switch {
	case p.MaxSliceLen == NoOverride:
	case p.MaxSliceLen < 0:
		return EncoderConfig{}, invalidArgument(op, "invalid max slice length: %d", p.MaxSliceLen)
	default:
		v := uint32(p.MaxSliceLen)
		maxSlice = &v
	}

	return EncoderConfig{
		SkipFrames:           p.EnableSkipFrame,
		BitrateBps:           uint32(p.TargetBitrate),
		MaxFrameRate:         p.MaxFrameRate,
		RateControl:          rc,
		SpsPps:               spsPps,
		Threads:              uint16(p.MultipleThreadIdc),
		Usage:                usage,
		MaxSliceLen:          maxSlice,
		Profile:              profile,
		Level:                level,
		Complexity:           complexity,
		QP:                   QPRange{Min: uint8(p.MinQp), Max: uint8(p.MaxQp)},
		SceneChangeDetect:    p.SceneChangeDetect,
		AdaptiveQuantization: p.AdaptiveQuantization,
		BackgroundDetection:  p.BackgroundDetection,
		LongTermReference:    p.LongTermReference,
		IntraFramePeriod:     uint32(p.IntraFramePeriod),
	}, nil
}
