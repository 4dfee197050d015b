package h264bridge

// FlushBehavior controls whether the decoder flushes after each decode call.
type FlushBehavior int32

const (
	FlushAuto    FlushBehavior = iota // engine default (attempt flushing after each decode)
	FlushAlways                       // flush after each decode
	FlushNever                        // never flush implicitly; call FlushRemaining
	flushBehaviorCount
)

func (f FlushBehavior) String() string {
	switch f {
	case FlushAuto:
		return "Auto"
	case FlushAlways:
		return "Flush"
	case FlushNever:
		return "NoFlush"
	default:
		return "Unknown"
	}
}

// RateControlMode is the encoder bitrate allocation strategy.
type RateControlMode int32

const (
	RateControlQuality RateControlMode = iota
	RateControlBitrate
	RateControlBufferBased
	RateControlTimestamp
	RateControlBitratePostSkip
	RateControlOff
	rateControlModeCount
)

func (r RateControlMode) String() string {
	switch r {
	case RateControlQuality:
		return "Quality"
	case RateControlBitrate:
		return "Bitrate"
	case RateControlBufferBased:
		return "BufferBased"
	case RateControlTimestamp:
		return "Timestamp"
	case RateControlBitratePostSkip:
		return "BitratePostSkip"
	case RateControlOff:
		return "Off"
	default:
		return "Unknown"
	}
}

// native returns the OpenH264 RC_MODES value.
func (r RateControlMode) native() int32 {
	if r == RateControlOff {
		return -1 // RC_OFF_MODE
	}
	return int32(r)
}

// SpsPpsStrategy sets how the encoder allocates SPS/PPS ids.
type SpsPpsStrategy int32

const (
	SpsPpsConstantID SpsPpsStrategy = iota
	SpsPpsIncreasingID
	SpsListing
	SpsListingAndPpsIncreasing
	SpsPpsListing
	spsPpsStrategyCount
)

func (s SpsPpsStrategy) String() string {
	switch s {
	case SpsPpsConstantID:
		return "ConstantId"
	case SpsPpsIncreasingID:
		return "IncreasingId"
	case SpsListing:
		return "SpsListing"
	case SpsListingAndPpsIncreasing:
		return "SpsListingAndPpsIncreasing"
	case SpsPpsListing:
		return "SpsPpsListing"
	default:
		return "Unknown"
	}
}

// native returns the OpenH264 EParameterSetStrategy value.
func (s SpsPpsStrategy) native() int32 {
	switch s {
	case SpsPpsIncreasingID:
		return 0x01
	case SpsListing:
		return 0x02
	case SpsListingAndPpsIncreasing:
		return 0x03
	case SpsPpsListing:
		return 0x06
	default:
		return 0x00
	}
}

// UsageType is the intended usage scenario of the encoder.
type UsageType int32

const (
	UsageCameraVideoRealTime UsageType = iota
	UsageScreenContentRealTime
	UsageCameraVideoNonRealTime
	UsageScreenContentNonRealTime
	UsageInputContentTypeAll
	usageTypeCount
)

func (u UsageType) String() string {
	switch u {
	case UsageCameraVideoRealTime:
		return "CameraVideoRealTime"
	case UsageScreenContentRealTime:
		return "ScreenContentRealTime"
	case UsageCameraVideoNonRealTime:
		return "CameraVideoNonRealTime"
	case UsageScreenContentNonRealTime:
		return "ScreenContentNonRealTime"
	case UsageInputContentTypeAll:
		return "InputContentTypeAll"
	default:
		return "Unknown"
	}
}

// Profile is the H.264 profile.
type Profile int32

const (
	ProfileBaseline Profile = iota
	ProfileMain
	ProfileExtended
	ProfileHigh
	ProfileHigh10
	ProfileHigh422
	ProfileHigh444
	ProfileCAVLC444
	ProfileScalableBaseline
	ProfileScalableHigh
	profileCount
)

var profileInfo = [profileCount]struct {
	name string
	idc  int32
}{
	ProfileBaseline:         {"Baseline", 66},
	ProfileMain:             {"Main", 77},
	ProfileExtended:         {"Extended", 88},
	ProfileHigh:             {"High", 100},
	ProfileHigh10:           {"High10", 110},
	ProfileHigh422:          {"High422", 122},
	ProfileHigh444:          {"High444", 244},
	ProfileCAVLC444:         {"CAVLC444", 44},
	ProfileScalableBaseline: {"ScalableBaseline", 83},
	ProfileScalableHigh:     {"ScalableHigh", 86},
}

func (p Profile) String() string {
	if p < 0 || p >= profileCount {
		return "Unknown"
	}
	return profileInfo[p].name
}

// IDC returns the profile_idc value written into the SPS.
func (p Profile) IDC() int32 {
	if p < 0 || p >= profileCount {
		return 0
	}
	return profileInfo[p].idc
}

// Level is the H.264 level.
//
//	| Level | Max resolution | fps | Main bitrate |
//	|-------|----------------|-----|--------------|
//	| 1.0   | 176x144        | 15  | 64 kbps      |
//	| 2.0   | 352x288        | 30  | 2 Mbps       |
//	| 3.1   | 1280x720       | 30  | 14 Mbps      |
//	| 4.1   | 1920x1080      | 60  | 50 Mbps      |
//	| 5.2   | 4096x2160      | 60  | 480 Mbps     |
type Level int32

const (
	Level1_0 Level = iota
	Level1_B
	Level1_1
	Level1_2
	Level1_3
	Level2_0
	Level2_1
	Level2_2
	Level3_0
	Level3_1
	Level3_2
	Level4_0
	Level4_1
	Level4_2
	Level5_0
	Level5_1
	Level5_2
	levelCount
)

var levelInfo = [levelCount]struct {
	name string
	idc  int32
}{
	Level1_0: {"1.0", 10},
	Level1_B: {"1b", 9},
	Level1_1: {"1.1", 11},
	Level1_2: {"1.2", 12},
	Level1_3: {"1.3", 13},
	Level2_0: {"2.0", 20},
	Level2_1: {"2.1", 21},
	Level2_2: {"2.2", 22},
	Level3_0: {"3.0", 30},
	Level3_1: {"3.1", 31},
	Level3_2: {"3.2", 32},
	Level4_0: {"4.0", 40},
	Level4_1: {"4.1", 41},
	Level4_2: {"4.2", 42},
	Level5_0: {"5.0", 50},
	Level5_1: {"5.1", 51},
	Level5_2: {"5.2", 52},
}

func (l Level) String() string {
	if l < 0 || l >= levelCount {
		return "Unknown"
	}
	return levelInfo[l].name
}

// IDC returns the level_idc value written into the SPS.
func (l Level) IDC() int32 {
	if l < 0 || l >= levelCount {
		return 0
	}
	return levelInfo[l].idc
}

// Complexity trades encoding speed for quality.
type Complexity int32

const (
	ComplexityLow Complexity = iota
	ComplexityMedium
	ComplexityHigh
	complexityCount
)

func (c Complexity) String() string {
	switch c {
	case ComplexityLow:
		return "Low"
	case ComplexityMedium:
		return "Medium"
	case ComplexityHigh:
		return "High"
	default:
		return "Unknown"
	}
}
