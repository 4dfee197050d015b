package h264bridge

import (
	"sync"
)

// Bridge owns codec engines on behalf of a host and hands out handles to
// them. Distinct handles may be used from different goroutines concurrently;
// calls on a single handle must be serialized by the caller.
type Bridge struct {
	backend  Backend
	decoders *handleTable[*decoderState]
	encoders *handleTable[*encoderState]
}

// New returns a bridge that creates engines with backend. A nil backend
// selects NativeBackend.
func New(backend Backend) *Bridge {
	if backend == nil {
		backend = NativeBackend()
	}
	return &Bridge{
		backend:  backend,
		decoders: newHandleTable[*decoderState](tagDecoder),
		encoders: newHandleTable[*encoderState](tagEncoder),
	}
}

var (
	defaultOnce   sync.Once
	defaultBridge *Bridge
)

// Default returns the process-wide bridge on the native backend used by the
// package-level functions.
func Default() *Bridge {
	defaultOnce.Do(func() {
		defaultBridge = New(NativeBackend())
	})
	return defaultBridge
}

// Close destroys every live decoder and encoder. Handles issued before Close
// no longer resolve.
func (b *Bridge) Close() {
	for _, d := range b.decoders.drain() {
		d.engine.Close()
	}
	for _, e := range b.encoders.drain() {
		e.engine.Close()
	}
}

// LiveDecoders returns the number of decoders not yet destroyed.
func (b *Bridge) LiveDecoders() int { return b.decoders.len() }

// LiveEncoders returns the number of encoders not yet destroyed.
func (b *Bridge) LiveEncoders() int { return b.encoders.len() }

// CreateDecoder creates a decoder on the default bridge.
func CreateDecoder(flushBehavior int32) (Handle, error) {
	return Default().CreateDecoder(flushBehavior)
}

// Decode decodes one packet on the default bridge.
func Decode(h Handle, packet []byte, f PixelFormat) (*DecodeResult, error) {
	return Default().Decode(h, packet, f)
}

// FlushRemaining drains a decoder on the default bridge.
func FlushRemaining(h Handle, f PixelFormat) ([]DecodeResult, error) {
	return Default().FlushRemaining(h, f)
}

// DestroyDecoder destroys a decoder on the default bridge.
func DestroyDecoder(h Handle) {
	Default().DestroyDecoder(h)
}

// CreateEncoder creates an encoder on the default bridge.
func CreateEncoder(p EncoderParams) (Handle, error) {
	return Default().CreateEncoder(p)
}

// EncodeConcatenated encodes one picture on the default bridge.
func EncodeConcatenated(h Handle, width, height int, pixels []byte, f PixelFormat) ([]byte, error) {
	return Default().EncodeConcatenated(h, width, height, pixels, f)
}

// EncodeSeparated encodes one picture on the default bridge.
func EncodeSeparated(h Handle, width, height int, pixels []byte, f PixelFormat) ([][]byte, error) {
	return Default().EncodeSeparated(h, width, height, pixels, f)
}

// DestroyEncoder destroys an encoder on the default bridge.
func DestroyEncoder(h Handle) {
	Default().DestroyEncoder(h)
}

func resolveFormat(op string, f PixelFormat) (pixelStrategy, error) {
	s, ok := f.strategy()
	if !ok {
		return nil, invalidArgument(op, "invalid pixel format: %d", int32(f))
	}
	return s, nil
}
