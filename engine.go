package h264bridge

// Backend configures codec engines. It is the only way the bridge reaches a
// codec implementation.
type Backend interface {
	NewDecoder(cfg DecoderConfig) (DecoderEngine, error)
	NewEncoder(cfg EncoderConfig) (EncoderEngine, error)
}

// DecoderEngine decodes Annex-B access units into YUV 4:2:0 frames.
type DecoderEngine interface {
	// Decode feeds one packet. It returns nil, nil while the engine buffers.
	// The returned frame may alias engine memory and is only valid until the
	// next call on the engine.
	Decode(packet []byte, timestampMs int64) (*YUVFrame, error)

	// Flush drains every buffered frame in decode order. Returned frames are
	// owned by the caller.
	Flush() ([]*YUVFrame, error)

	Close()
}

// EncoderEngine encodes YUV 4:2:0 pictures into Annex-B bitstreams.
type EncoderEngine interface {
	// Encode returns a view over engine memory valid until the next Encode.
	Encode(src YUVSource, timestampMs int64) (*Bitstream, error)

	Close()
}

// YUVSource is a planar YUV 4:2:0 picture.
type YUVSource interface {
	Dimensions() (width, height int)
	Planes() (y, u, v []byte, strideY, strideUV int)
}

// YUVFrame is a planar YUV 4:2:0 picture with a presentation timestamp.
type YUVFrame struct {
	Width, Height     int
	Y, U, V           []byte
	StrideY, StrideUV int
	TimestampMs       int64
}

func (f *YUVFrame) Dimensions() (int, int) { return f.Width, f.Height }

func (f *YUVFrame) Planes() (y, u, v []byte, strideY, strideUV int) {
	return f.Y, f.U, f.V, f.StrideY, f.StrideUV
}

// valid reports whether the planes are large enough for the declared geometry.
func (f *YUVFrame) valid() bool {
	if f == nil || f.Width <= 0 || f.Height <= 0 {
		return false
	}
	cw, ch := (f.Width+1)/2, (f.Height+1)/2
	if f.StrideY < f.Width || f.StrideUV < cw {
		return false
	}
	return len(f.Y) >= f.StrideY*(f.Height-1)+f.Width &&
		len(f.U) >= f.StrideUV*(ch-1)+cw &&
		len(f.V) >= f.StrideUV*(ch-1)+cw
}

// clone returns a compact copy that owns its planes.
func (f *YUVFrame) clone() *YUVFrame {
	cw, ch := (f.Width+1)/2, (f.Height+1)/2
	out := newYUVFrame(f.Width, f.Height)
	out.TimestampMs = f.TimestampMs
	copyPlane(out.Y, f.Width, f.Y, f.StrideY, f.Width, f.Height)
	copyPlane(out.U, cw, f.U, f.StrideUV, cw, ch)
	copyPlane(out.V, cw, f.V, f.StrideUV, cw, ch)
	return out
}

func newYUVFrame(width, height int) *YUVFrame {
	cw, ch := (width+1)/2, (height+1)/2
	buf := make([]byte, width*height+2*cw*ch)
	return &YUVFrame{
		Width:    width,
		Height:   height,
		Y:        buf[:width*height],
		U:        buf[width*height : width*height+cw*ch],
		V:        buf[width*height+cw*ch:],
		StrideY:  width,
		StrideUV: cw,
	}
}

func copyPlane(dst []byte, dstStride int, src []byte, srcStride, w, h int) {
	for row := 0; row < h; row++ {
		copy(dst[row*dstStride:row*dstStride+w], src[row*srcStride:row*srcStride+w])
	}
}

// Layer is one spatial/temporal layer of an encoded picture.
type Layer struct {
	// NALUnits keep their Annex-B start codes.
	NALUnits [][]byte
}

// Bitstream is the output of one encode call.
type Bitstream struct {
	Layers []Layer
}

// Len returns the total number of bytes across all layers.
func (b *Bitstream) Len() int {
	n := 0
	for _, l := range b.Layers {
		for _, nal := range l.NALUnits {
			n += len(nal)
		}
	}
	return n
}

// Bytes returns the layers and their NAL units concatenated in order, as a
// fresh buffer.
func (b *Bitstream) Bytes() []byte {
	out := make([]byte, 0, b.Len())
	for _, l := range b.Layers {
		for _, nal := range l.NALUnits {
			out = append(out, nal...)
		}
	}
	return out
}

// NALUnits returns copies of every NAL unit, ordered by layer then by
// position within the layer.
func (b *Bitstream) NALUnits() [][]byte {
	var out [][]byte
	for _, l := range b.Layers {
		for _, nal := range l.NALUnits {
			out = append(out, append([]byte(nil), nal...))
		}
	}
	return out
}
