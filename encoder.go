package h264bridge

const (
	// MinDimension is the smallest accepted picture width or height.
	MinDimension = 16
	// MaxDimension bounds width and height above the largest H.264 level
	// (16880 pixels at level 6.2), keeping buffer sizes well inside int.
	MaxDimension = 1 << 15
)

type encoderState struct {
	engine     EncoderEngine
	intervalMs int64
	nextTs     int64
}

// FrameIntervalMs returns the timestamp step in milliseconds for frames
// encoded at maxFrameRate, rounded to the nearest millisecond. A zero or
// negative rate yields 33.
func FrameIntervalMs(maxFrameRate float32) int64 {
	if maxFrameRate <= 0 {
		return 33
	}
	return int64(1000/maxFrameRate + 0.5)
}

// CreateEncoder validates p and creates an encoder. Enumerated fields outside
// their domain fail with InvalidArgument; a configuration the engine refuses
// fails with InvalidParameters.
func (b *Bridge) CreateEncoder(p EncoderParams) (Handle, error) {
	const op = "create_encoder"

	cfg, err := TranslateEncoderParams(p)
	if err != nil {
		return NullHandle, err
	}
	engine, err := b.backend.NewEncoder(cfg)
	if err != nil {
		return NullHandle, wrapError(KindInvalidParameters, op, err, "engine rejected encoder configuration")
	}

	h := b.encoders.insert(&encoderState{
		engine:     engine,
		intervalMs: FrameIntervalMs(cfg.MaxFrameRate),
	})
	log().WithField("handle", h).WithField("rc", cfg.RateControl).
		WithField("bitrate", cfg.BitrateBps).Debug("encoder created")
	return h, nil
}

// EncodeConcatenated encodes one picture and returns the whole bitstream as a
// single Annex-B buffer.
func (b *Bridge) EncodeConcatenated(h Handle, width, height int, pixels []byte, f PixelFormat) ([]byte, error) {
	bs, err := b.encode("encode", h, width, height, pixels, f)
	if err != nil {
		return nil, err
	}
	return bs.Bytes(), nil
}

// EncodeSeparated encodes one picture and returns its NAL units, start codes
// included, ordered by layer then by position. Joining them reproduces the
// EncodeConcatenated output for the same input and encoder state.
func (b *Bridge) EncodeSeparated(h Handle, width, height int, pixels []byte, f PixelFormat) ([][]byte, error) {
	bs, err := b.encode("encode_separated", h, width, height, pixels, f)
	if err != nil {
		return nil, err
	}
	units := bs.NALUnits()
	if units == nil {
		units = [][]byte{}
	}
	return units, nil
}

func (b *Bridge) encode(op string, h Handle, width, height int, pixels []byte, f PixelFormat) (*Bitstream, error) {
	st, ok := b.encoders.get(h)
	if !ok {
		return nil, invalidArgument(op, "invalid encoder %s", h)
	}
	s, err := resolveFormat(op, f)
	if err != nil {
		return nil, err
	}
	if err := checkDimensions(op, width, height, len(pixels), s.pixelSize()); err != nil {
		return nil, err
	}

	src, err := s.source(pixels, width, height)
	if err != nil {
		return nil, wrapError(KindRuntime, op, err, "convert pixels")
	}

	bs, err := st.engine.Encode(src, st.nextTs)
	if err != nil {
		return nil, wrapError(KindEncoder, op, err, "failed to encode")
	}
	st.nextTs += st.intervalMs
	return bs, nil
}

// checkDimensions requires even sizes between MinDimension and MaxDimension
// and a buffer of exactly width*height*pixelSize bytes.
func checkDimensions(op string, width, height, size, pixelSize int) error {
	if width < MinDimension || height < MinDimension {
		return invalidArgument(op, "dimensions %dx%d below %dx%d", width, height, MinDimension, MinDimension)
	}
	if width > MaxDimension || height > MaxDimension {
		return invalidArgument(op, "dimensions %dx%d above %dx%d", width, height, MaxDimension, MaxDimension)
	}
	if width%2 != 0 || height%2 != 0 {
		return invalidArgument(op, "dimensions %dx%d must be even", width, height)
	}
	if want := width * height * pixelSize; size != want {
		return invalidArgument(op, "pixel buffer holds %d bytes, want %d for %dx%d", size, want, width, height)
	}
	return nil
}

// DestroyEncoder releases the encoder. Null, stale and already destroyed
// handles are ignored.
func (b *Bridge) DestroyEncoder(h Handle) {
	st, ok := b.encoders.remove(h)
	if !ok {
		return
	}
	st.engine.Close()
	log().WithField("handle", h).Debug("encoder destroyed")
}
