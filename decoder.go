package h264bridge

import (
	"bytes"
)

// DecodeResult is one decoded picture in an interleaved host pixel format.
// Pixels holds exactly Width*Height*PixelSize bytes and belongs to the caller.
type DecodeResult struct {
	Width       uint32
	Height      uint32
	TimestampMs int64
	Pixels      []byte
}

type decoderState struct {
	engine  DecoderEngine
	packets int64 // packets fed so far, used as the input timestamp
}

func newDecodeResult(s pixelStrategy, f *YUVFrame) (*DecodeResult, error) {
	pixels, err := s.write(f)
	if err != nil {
		return nil, err
	}
	return &DecodeResult{
		Width:       uint32(f.Width),
		Height:      uint32(f.Height),
		TimestampMs: f.TimestampMs,
		Pixels:      pixels,
	}, nil
}

// CreateDecoder validates the flush behavior code (0 auto, 1 flush, 2 no
// flush) and creates a decoder.
func (b *Bridge) CreateDecoder(flushBehavior int32) (Handle, error) {
	const op = "create_decoder"

	cfg, err := TranslateDecoderParams(DecoderParams{FlushBehavior: flushBehavior})
	if err != nil {
		return NullHandle, err
	}
	engine, err := b.backend.NewDecoder(cfg)
	if err != nil {
		return NullHandle, wrapError(KindInvalidParameters, op, err, "engine rejected decoder configuration")
	}

	h := b.decoders.insert(&decoderState{engine: engine})
	log().WithField("handle", h).WithField("flush", cfg.Flush).Debug("decoder created")
	return h, nil
}

// Decode feeds one Annex-B packet to the decoder.
//
// A nil result with a nil error means no picture is ready: the decoder is
// buffering, the packet was empty, or the engine failed on this packet.
// Per-packet decode failures are not reported; decoding continues with the
// next packet. Errors are returned only for invalid handles or formats and
// for pixel conversion failures.
func (b *Bridge) Decode(h Handle, packet []byte, f PixelFormat) (*DecodeResult, error) {
	const op = "decode"

	st, ok := b.decoders.get(h)
	if !ok {
		return nil, invalidArgument(op, "invalid decoder %s", h)
	}
	s, err := resolveFormat(op, f)
	if err != nil {
		return nil, err
	}
	if len(packet) == 0 {
		return nil, nil
	}

	ts := st.packets
	st.packets++

	frame, err := st.engine.Decode(bytes.Clone(packet), ts)
	if err != nil {
		if KindOf(err) == KindRuntime {
			return nil, wrapError(KindRuntime, op, err, "decoder output")
		}
		log().WithField("handle", h).WithError(err).Debug("packet dropped")
		return nil, nil
	}
	if frame == nil {
		return nil, nil
	}

	res, err := newDecodeResult(s, frame)
	if err != nil {
		return nil, wrapError(KindRuntime, op, err, "convert frame")
	}
	return res, nil
}

// FlushRemaining drains every picture the decoder still buffers, in decode
// order. Engine flush failures yield an empty slice and no error.
func (b *Bridge) FlushRemaining(h Handle, f PixelFormat) ([]DecodeResult, error) {
	const op = "flush_remaining"

	st, ok := b.decoders.get(h)
	if !ok {
		return nil, invalidArgument(op, "invalid decoder %s", h)
	}
	s, err := resolveFormat(op, f)
	if err != nil {
		return nil, err
	}

	frames, err := st.engine.Flush()
	if err != nil {
		log().WithField("handle", h).WithError(err).Debug("flush failed")
		return []DecodeResult{}, nil
	}

	results := make([]DecodeResult, 0, len(frames))
	for _, frame := range frames {
		res, err := newDecodeResult(s, frame)
		if err != nil {
			return nil, wrapError(KindRuntime, op, err, "convert frame")
		}
		results = append(results, *res)
	}
	return results, nil
}

// DestroyDecoder releases the decoder. Null, stale and already destroyed
// handles are ignored.
func (b *Bridge) DestroyDecoder(h Handle) {
	st, ok := b.decoders.remove(h)
	if !ok {
		return
	}
	st.engine.Close()
	log().WithField("handle", h).Debug("decoder destroyed")
}
