//go:build (darwin || linux) && !noopenh264

// OpenH264 engine via libmedia_openh264 using purego. The C interface is
// csrc/media_openh264.h; `make engine` builds the library into build/.

//go:generate make engine

package h264bridge

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
)

var (
	openh264Once    sync.Once
	openh264Handle  uintptr
	openh264InitErr error
)

// libmedia_openh264 function pointers
var (
	openh264DecoderCreate  func(flushMode int32) uint64
	openh264DecoderDecode  func(decoder uint64, data uintptr, dataLen int32, timestampMs int64, out uintptr) int32
	openh264DecoderFlush   func(decoder uint64, out uintptr) int32
	openh264DecoderDestroy func(decoder uint64)

	openh264EncoderCreate  func(params uintptr) uint64
	openh264EncoderEncode  func(encoder uint64, yPlane, uPlane, vPlane uintptr, yStride, uvStride, width, height int32, timestampMs int64) int32
	openh264EncoderLayer   func(encoder uint64, index int32, out uintptr) int32
	openh264EncoderDestroy func(encoder uint64)

	openh264GetError func() uintptr
	openh264Version  func() uintptr
)

// Constants from csrc/media_openh264.h
const (
	openh264FlushAuto   = 0
	openh264FlushAlways = 1
	openh264FlushNever  = 2

	openh264NoFrame      = 0
	openh264FrameReady   = 1
	openh264MaxNALsLayer = 128
	openh264Default      = -1
)

const (
	openh264LibEnvVar   = "MEDIA_OPENH264_LIB_PATH"
	openh264SDKEnvVar   = "MEDIA_SDK_LIB_PATH"
	openh264LibBaseName = "libmedia_openh264"
)

// openh264Frame mirrors media_openh264_frame_t, the decoder output.
// It is heap-allocated for purego to work correctly on arm64: a stack
// variable may move during the C call.
type openh264Frame struct {
	YPtr        uintptr
	UPtr        uintptr
	VPtr        uintptr
	YStride     int32
	UVStride    int32
	Width       int32
	Height      int32
	TimestampMs int64
}

// openh264Layer mirrors media_openh264_layer_t.
type openh264Layer struct {
	Buf        uintptr // NAL units back to back, start codes included
	NalLengths uintptr // int32[NalCount]
	NalCount   int32
	_          int32
}

// openh264EncoderParams mirrors media_openh264_encoder_params_t. Optional
// values use openh264Default.
type openh264EncoderParams struct {
	UsageType           int32
	TargetBitrate       int32
	RateControlMode     int32
	MaxFrameRate        float32
	SpsPpsStrategy      int32
	ThreadCount         int32
	MaxSliceLen         int32
	Profile             int32
	Level               int32
	Complexity          int32
	MinQp               int32
	MaxQp               int32
	SkipFrame           int32
	SceneChangeDetect   int32
	AdaptiveQuant       int32
	BackgroundDetection int32
	LongTermReference   int32
	IntraPeriod         int32
}

func boolToInt32(b bool) int32 {
	if b {
		return 1
	}
	return 0
}

func newOpenH264EncoderParams(cfg EncoderConfig) *openh264EncoderParams {
	p := &openh264EncoderParams{
		UsageType:           int32(cfg.Usage),
		TargetBitrate:       int32(cfg.BitrateBps),
		RateControlMode:     cfg.RateControl.native(),
		MaxFrameRate:        cfg.MaxFrameRate,
		SpsPpsStrategy:      cfg.SpsPps.native(),
		ThreadCount:         int32(cfg.Threads),
		MaxSliceLen:         openh264Default,
		Profile:             openh264Default,
		Level:               openh264Default,
		Complexity:          int32(cfg.Complexity),
		MinQp:               int32(cfg.QP.Min),
		MaxQp:               int32(cfg.QP.Max),
		SkipFrame:           boolToInt32(cfg.SkipFrames),
		SceneChangeDetect:   boolToInt32(cfg.SceneChangeDetect),
		AdaptiveQuant:       boolToInt32(cfg.AdaptiveQuantization),
		BackgroundDetection: boolToInt32(cfg.BackgroundDetection),
		LongTermReference:   boolToInt32(cfg.LongTermReference),
		IntraPeriod:         int32(cfg.IntraFramePeriod),
	}
	if cfg.MaxSliceLen != nil {
		p.MaxSliceLen = int32(*cfg.MaxSliceLen)
	}
	if cfg.Profile != nil {
		p.Profile = cfg.Profile.IDC()
	}
	if cfg.Level != nil {
		p.Level = cfg.Level.IDC()
	}
	return p
}

func flushModeToNative(f FlushBehavior) int32 {
	switch f {
	case FlushAlways:
		return openh264FlushAlways
	case FlushNever:
		return openh264FlushNever
	default:
		return openh264FlushAuto
	}
}

func loadOpenH264() error {
	openh264Once.Do(func() {
		openh264InitErr = loadOpenH264Lib()
		if openh264InitErr != nil {
			log().WithError(openh264InitErr).Debug("openh264 engine unavailable")
		}
	})
	return openh264InitErr
}

func loadOpenH264Lib() error {
	var lastErr error
	for _, path := range getOpenH264LibPaths() {
		handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err != nil {
			lastErr = err
			continue
		}
		openh264Handle = handle
		loadOpenH264Symbols()
		log().WithField("path", path).Debug("loaded openh264 engine")
		return nil
	}

	if lastErr != nil {
		return fmt.Errorf("%w: failed to load %s: %v", ErrEngineUnavailable, openh264LibBaseName, lastErr)
	}
	return fmt.Errorf("%w: %s not found in any standard location", ErrEngineUnavailable, openh264LibBaseName)
}

func getOpenH264LibPaths() []string {
	var paths []string

	libName := openh264LibBaseName + ".so"
	if runtime.GOOS == "darwin" {
		libName = openh264LibBaseName + ".dylib"
	}

	// Environment variable overrides (highest priority)
	if envPath := os.Getenv(openh264LibEnvVar); envPath != "" {
		paths = append(paths, envPath)
	}
	if envPath := os.Getenv(openh264SDKEnvVar); envPath != "" {
		paths = append(paths, filepath.Join(envPath, libName))
	}

	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		paths = append(paths,
			filepath.Join(exeDir, libName),
			filepath.Join(exeDir, "..", "lib", libName),
		)
	}

	if wd, err := os.Getwd(); err == nil {
		paths = append(paths,
			filepath.Join(wd, "build", libName),
			filepath.Join(wd, "..", "build", libName),
			filepath.Join(wd, "..", "..", "build", libName),
		)
	}

	// Module root covers tests run from cmd/ and internal/ directories
	if moduleRoot := findModuleRoot(); moduleRoot != "" {
		paths = append(paths, filepath.Join(moduleRoot, "build", libName))
	}

	// System paths (lowest priority)
	switch runtime.GOOS {
	case "darwin":
		paths = append(paths,
			libName,
			"/usr/local/lib/"+libName,
			"/opt/homebrew/lib/"+libName,
		)
	case "linux":
		paths = append(paths,
			libName,
			"/usr/local/lib/"+libName,
			"/usr/lib/"+libName,
		)
	}

	return paths
}

func loadOpenH264Symbols() {
	purego.RegisterLibFunc(&openh264DecoderCreate, openh264Handle, "media_openh264_decoder_create")
	purego.RegisterLibFunc(&openh264DecoderDecode, openh264Handle, "media_openh264_decoder_decode")
	purego.RegisterLibFunc(&openh264DecoderFlush, openh264Handle, "media_openh264_decoder_flush")
	purego.RegisterLibFunc(&openh264DecoderDestroy, openh264Handle, "media_openh264_decoder_destroy")

	purego.RegisterLibFunc(&openh264EncoderCreate, openh264Handle, "media_openh264_encoder_create")
	purego.RegisterLibFunc(&openh264EncoderEncode, openh264Handle, "media_openh264_encoder_encode")
	purego.RegisterLibFunc(&openh264EncoderLayer, openh264Handle, "media_openh264_encoder_layer")
	purego.RegisterLibFunc(&openh264EncoderDestroy, openh264Handle, "media_openh264_encoder_destroy")

	purego.RegisterLibFunc(&openh264GetError, openh264Handle, "media_openh264_get_error")
	purego.RegisterLibFunc(&openh264Version, openh264Handle, "media_openh264_version")
}

func getOpenH264Error() string {
	ptr := openh264GetError()
	if ptr == 0 {
		return "unknown error"
	}
	return goStringFromPtr(ptr)
}

// IsAvailable reports whether the native OpenH264 engine can be loaded.
func IsAvailable() bool {
	return loadOpenH264() == nil
}

// EngineVersion returns the native engine version, or "" when unavailable.
func EngineVersion() string {
	if loadOpenH264() != nil {
		return ""
	}
	return goStringFromPtr(openh264Version())
}

// NativeBackend returns the OpenH264 backend. Engine creation fails with
// ErrEngineUnavailable when the shared library cannot be loaded.
func NativeBackend() Backend {
	return openh264Backend{}
}

type openh264Backend struct{}

func (openh264Backend) NewDecoder(cfg DecoderConfig) (DecoderEngine, error) {
	if err := loadOpenH264(); err != nil {
		return nil, &Error{Kind: KindRuntime, Msg: "decoder not available", Err: err}
	}

	handle := openh264DecoderCreate(flushModeToNative(cfg.Flush))
	if handle == 0 {
		return nil, errors.New(getOpenH264Error())
	}
	return &openh264Decoder{
		handle: handle,
		out:    &openh264Frame{},
	}, nil
}

func (openh264Backend) NewEncoder(cfg EncoderConfig) (EncoderEngine, error) {
	if err := loadOpenH264(); err != nil {
		return nil, &Error{Kind: KindRuntime, Msg: "encoder not available", Err: err}
	}

	params := newOpenH264EncoderParams(cfg)
	handle := openh264EncoderCreate(uintptr(unsafe.Pointer(params)))
	runtime.KeepAlive(params)
	if handle == 0 {
		return nil, errors.New(getOpenH264Error())
	}
	return &openh264Encoder{
		handle: handle,
		layer:  &openh264Layer{},
	}, nil
}

type openh264Decoder struct {
	mu     sync.Mutex
	handle uint64

	// Heap-allocated output struct, reused across calls.
	out *openh264Frame
}

func (d *openh264Decoder) Decode(packet []byte, timestampMs int64) (*YUVFrame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.handle == 0 {
		return nil, errors.New("decoder closed")
	}
	if len(packet) == 0 {
		return nil, nil
	}

	out := d.out
	result := openh264DecoderDecode(
		d.handle,
		uintptr(unsafe.Pointer(&packet[0])),
		int32(len(packet)),
		timestampMs,
		uintptr(unsafe.Pointer(out)),
	)
	runtime.KeepAlive(packet)
	runtime.KeepAlive(out)

	if result < 0 {
		return nil, fmt.Errorf("decode failed: %s", getOpenH264Error())
	}
	if result != openh264FrameReady {
		return nil, nil
	}
	return frameView(out)
}

func (d *openh264Decoder) Flush() ([]*YUVFrame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.handle == 0 {
		return nil, errors.New("decoder closed")
	}

	var frames []*YUVFrame
	out := d.out
	for {
		result := openh264DecoderFlush(d.handle, uintptr(unsafe.Pointer(out)))
		runtime.KeepAlive(out)
		if result < 0 {
			return nil, fmt.Errorf("flush failed: %s", getOpenH264Error())
		}
		if result != openh264FrameReady {
			return frames, nil
		}
		view, err := frameView(out)
		if err != nil {
			return nil, err
		}
		// The engine reuses its output planes on the next call.
		frames = append(frames, view.clone())
	}
}

func (d *openh264Decoder) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.handle != 0 {
		openh264DecoderDestroy(d.handle)
		d.handle = 0
	}
}

// frameView wraps the native planes described by out without copying.
func frameView(out *openh264Frame) (*YUVFrame, error) {
	if out.YStride <= 0 || out.UVStride <= 0 || out.Width <= 0 || out.Height <= 0 ||
		out.YPtr == 0 || out.UPtr == 0 || out.VPtr == 0 {
		return nil, &Error{
			Kind: KindRuntime,
			Msg: fmt.Sprintf("invalid decoder output: stride=%d/%d, size=%dx%d",
				out.YStride, out.UVStride, out.Width, out.Height),
		}
	}

	w, h := int(out.Width), int(out.Height)
	cw, ch := (w+1)/2, (h+1)/2
	yStride, uvStride := int(out.YStride), int(out.UVStride)
	return &YUVFrame{
		Width:       w,
		Height:      h,
		Y:           unsafe.Slice((*byte)(unsafe.Pointer(out.YPtr)), yStride*(h-1)+w),
		U:           unsafe.Slice((*byte)(unsafe.Pointer(out.UPtr)), uvStride*(ch-1)+cw),
		V:           unsafe.Slice((*byte)(unsafe.Pointer(out.VPtr)), uvStride*(ch-1)+cw),
		StrideY:     yStride,
		StrideUV:    uvStride,
		TimestampMs: out.TimestampMs,
	}, nil
}

type openh264Encoder struct {
	mu     sync.Mutex
	handle uint64
	layer  *openh264Layer
}

func (e *openh264Encoder) Encode(src YUVSource, timestampMs int64) (*Bitstream, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.handle == 0 {
		return nil, errors.New("encoder closed")
	}

	width, height := src.Dimensions()
	y, u, v, yStride, uvStride := src.Planes()
	if len(y) == 0 || len(u) == 0 || len(v) == 0 {
		return nil, errors.New("empty source planes")
	}

	layers := openh264EncoderEncode(
		e.handle,
		uintptr(unsafe.Pointer(&y[0])),
		uintptr(unsafe.Pointer(&u[0])),
		uintptr(unsafe.Pointer(&v[0])),
		int32(yStride),
		int32(uvStride),
		int32(width),
		int32(height),
		timestampMs,
	)
	runtime.KeepAlive(y)
	runtime.KeepAlive(u)
	runtime.KeepAlive(v)

	if layers < 0 {
		return nil, errors.New(getOpenH264Error())
	}

	bs := &Bitstream{Layers: make([]Layer, 0, layers)}
	out := e.layer
	for i := int32(0); i < layers; i++ {
		if openh264EncoderLayer(e.handle, i, uintptr(unsafe.Pointer(out))) < 0 {
			return nil, errors.New(getOpenH264Error())
		}
		runtime.KeepAlive(out)

		layer, err := layerView(out)
		if err != nil {
			return nil, err
		}
		bs.Layers = append(bs.Layers, layer)
	}
	return bs, nil
}

func (e *openh264Encoder) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.handle != 0 {
		openh264EncoderDestroy(e.handle)
		e.handle = 0
	}
}

// layerView slices the native layer buffer into NAL units without copying.
func layerView(out *openh264Layer) (Layer, error) {
	if out.NalCount == 0 {
		return Layer{}, nil
	}
	if out.NalCount < 0 || out.NalCount > openh264MaxNALsLayer || out.Buf == 0 || out.NalLengths == 0 {
		return Layer{}, &Error{
			Kind: KindRuntime,
			Msg:  fmt.Sprintf("invalid encoder layer: nal_count=%d", out.NalCount),
		}
	}

	lengths := unsafe.Slice((*int32)(unsafe.Pointer(out.NalLengths)), out.NalCount)
	total := 0
	for _, n := range lengths {
		if n < 0 {
			return Layer{}, &Error{Kind: KindRuntime, Msg: fmt.Sprintf("invalid nal length %d", n)}
		}
		total += int(n)
	}

	buf := unsafe.Slice((*byte)(unsafe.Pointer(out.Buf)), total)
	layer := Layer{NALUnits: make([][]byte, 0, len(lengths))}
	off := 0
	for _, n := range lengths {
		layer.NALUnits = append(layer.NALUnits, buf[off:off+int(n):off+int(n)])
		off += int(n)
	}
	return layer, nil
}
