package h264bridge

import (
	"errors"
	"sync"
)

// fakeBackend is a toy codec: each encoded picture is an SPS-like unit with
// the dimensions, a PPS-like unit and an IDR-like unit with the mean Y, U and
// V of the picture. Its decoder turns that back into a solid frame.
type fakeBackend struct {
	mu sync.Mutex

	decoderLag     int // frames held back by the decoder until Flush
	failFlush      bool
	failEncode     bool
	rejectEncoder  error
	rejectDecoder  error
	decoderConfigs []DecoderConfig
	encoderConfigs []EncoderConfig
	closed         int
	badOutput      bool // decoder emits frames with missing planes
	timestamps     []int64
}

var errCorruptPacket = errors.New("corrupt packet")

const corruptMarker = 0xFF

func (b *fakeBackend) NewDecoder(cfg DecoderConfig) (DecoderEngine, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.rejectDecoder != nil {
		return nil, b.rejectDecoder
	}
	b.decoderConfigs = append(b.decoderConfigs, cfg)
	return &fakeDecoder{backend: b}, nil
}

func (b *fakeBackend) NewEncoder(cfg EncoderConfig) (EncoderEngine, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.rejectEncoder != nil {
		return nil, b.rejectEncoder
	}
	b.encoderConfigs = append(b.encoderConfigs, cfg)
	return &fakeEncoder{backend: b}, nil
}

func (b *fakeBackend) closedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *fakeBackend) encodeTimestamps() []int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]int64(nil), b.timestamps...)
}

func (b *fakeBackend) onClose() {
	b.mu.Lock()
	b.closed++
	b.mu.Unlock()
}

// putCoded writes v (< 1<<21) as three bytes with the high bit set, so the
// payload never forms a start code.
func putCoded(dst []byte, v int) []byte {
	return append(dst, 0x80|byte(v>>14&0x7F), 0x80|byte(v>>7&0x7F), 0x80|byte(v&0x7F))
}

// getCoded reads the n-th coded value following the NAL header.
func getCoded(payload []byte, n int) (int, bool) {
	off := 1 + 3*n
	if len(payload) < off+3 {
		return 0, false
	}
	src := payload[off:]
	return int(src[0]&0x7F)<<14 | int(src[1]&0x7F)<<7 | int(src[2]&0x7F), true
}

type fakeEncoder struct {
	backend *fakeBackend
	frames  int
}

func mean(p []byte, stride, w, h int) int {
	sum := 0
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			sum += int(p[y*stride+x])
		}
	}
	return (sum + w*h/2) / (w * h)
}

func (e *fakeEncoder) Encode(src YUVSource, timestampMs int64) (*Bitstream, error) {
	if e.backend.failEncode {
		return nil, errors.New("rate control overflow")
	}
	e.backend.mu.Lock()
	e.backend.timestamps = append(e.backend.timestamps, timestampMs)
	e.backend.mu.Unlock()

	w, h := src.Dimensions()
	y, u, v, ys, uvs := src.Planes()
	cw, ch := (w+1)/2, (h+1)/2

	sps := putCoded(putCoded([]byte{0, 0, 0, 1, 0x67}, w), h)
	pps := []byte{0, 0, 1, 0x68, 0xCE}
	idr := []byte{0, 0, 0, 1, 0x65}
	idr = putCoded(idr, mean(y, ys, w, h))
	idr = putCoded(idr, mean(u, uvs, cw, ch))
	idr = putCoded(idr, mean(v, uvs, cw, ch))
	idr = putCoded(idr, e.frames)
	e.frames++

	return &Bitstream{Layers: []Layer{
		{NALUnits: [][]byte{sps, pps}},
		{NALUnits: [][]byte{idr}},
	}}, nil
}

func (e *fakeEncoder) Close() { e.backend.onClose() }

type fakeDecoder struct {
	backend       *fakeBackend
	width, height int
	queue         []*YUVFrame
}

func (d *fakeDecoder) Decode(packet []byte, timestampMs int64) (*YUVFrame, error) {
	if len(packet) > 0 && packet[0] == corruptMarker {
		return nil, errCorruptPacket
	}

	var frame *YUVFrame
	for _, unit := range SplitNALUnits(packet) {
		payload := StripStartCode(unit)
		switch payload[0] & 0x1F {
		case 7:
			w, ok1 := getCoded(payload, 0)
			h, ok2 := getCoded(payload, 1)
			if !ok1 || !ok2 {
				return nil, errCorruptPacket
			}
			d.width, d.height = w, h
		case 5:
			if d.width == 0 {
				return nil, errors.New("slice without SPS")
			}
			yy, ok1 := getCoded(payload, 0)
			uu, ok2 := getCoded(payload, 1)
			vv, ok3 := getCoded(payload, 2)
			if !ok1 || !ok2 || !ok3 {
				return nil, errCorruptPacket
			}
			frame = solidFrame(d.width, d.height, byte(yy), byte(uu), byte(vv))
			frame.TimestampMs = timestampMs
		}
	}
	if frame == nil {
		return nil, nil
	}
	if d.backend.badOutput {
		frame.U = nil
	}

	d.queue = append(d.queue, frame)
	if len(d.queue) <= d.backend.decoderLag {
		return nil, nil
	}
	out := d.queue[0]
	d.queue = d.queue[1:]
	return out, nil
}

func (d *fakeDecoder) Flush() ([]*YUVFrame, error) {
	if d.backend.failFlush {
		return nil, errors.New("flush failed")
	}
	out := d.queue
	d.queue = nil
	return out, nil
}

func (d *fakeDecoder) Close() { d.backend.onClose() }

func solidFrame(w, h int, y, u, v byte) *YUVFrame {
	f := newYUVFrame(w, h)
	for i := range f.Y {
		f.Y[i] = y
	}
	for i := range f.U {
		f.U[i] = u
		f.V[i] = v
	}
	return f
}

func solidRGB(w, h, channels int, r, g, b byte) []byte {
	pix := make([]byte, w*h*channels)
	for i := 0; i < len(pix); i += channels {
		pix[i], pix[i+1], pix[i+2] = r, g, b
		if channels == 4 {
			pix[i+3] = 0xFF
		}
	}
	return pix
}

func absDiff(a, b byte) int {
	if a > b {
		return int(a - b)
	}
	return int(b - a)
}
