package h264bridge

import (
	"bytes"
	"testing"
)

func newNativeBridge(t *testing.T) *Bridge {
	t.Helper()
	if !IsAvailable() {
		t.Skip("OpenH264 engine not available; run `make engine`")
	}
	b := New(NativeBackend())
	t.Cleanup(b.Close)
	return b
}

func TestOpenH264_Version(t *testing.T) {
	newNativeBridge(t)
	if EngineVersion() == "" {
		t.Error("EngineVersion() is empty")
	}
}

func TestOpenH264_Roundtrip(t *testing.T) {
	b := newNativeBridge(t)

	params := DefaultEncoderParams()
	params.TargetBitrate = 1_000_000
	params.MaxFrameRate = 30
	params.RateControlMode = int32(RateControlBitrate)
	enc, err := b.CreateEncoder(params)
	if err != nil {
		t.Fatalf("CreateEncoder failed: %v", err)
	}
	defer b.DestroyEncoder(enc)

	dec, err := b.CreateDecoder(int32(FlushAuto))
	if err != nil {
		t.Fatalf("CreateDecoder failed: %v", err)
	}
	defer b.DestroyDecoder(dec)

	const w, h = 64, 64
	pixels := solidRGB(w, h, 3, 200, 40, 40)

	var decoded []DecodeResult
	for i := 0; i < 10; i++ {
		data, err := b.EncodeConcatenated(enc, w, h, pixels, PixelFormatRGB)
		if err != nil {
			t.Fatalf("Encode failed at frame %d: %v", i, err)
		}
		if i == 0 && !IsKeyFrame(SplitNALUnits(data)) {
			t.Error("first access unit is not a key frame")
		}
		res, err := b.Decode(dec, data, PixelFormatRGB)
		if err != nil {
			t.Fatalf("Decode failed at frame %d: %v", i, err)
		}
		if res != nil {
			decoded = append(decoded, *res)
		}
	}
	rest, err := b.FlushRemaining(dec, PixelFormatRGB)
	if err != nil {
		t.Fatalf("FlushRemaining failed: %v", err)
	}
	decoded = append(decoded, rest...)

	if len(decoded) == 0 {
		t.Fatal("no frames decoded")
	}
	for i, r := range decoded {
		if r.Width != w || r.Height != h {
			t.Fatalf("frame %d size = %dx%d, want %dx%d", i, r.Width, r.Height, w, h)
		}
		if len(r.Pixels) != w*h*3 {
			t.Fatalf("frame %d holds %d bytes", i, len(r.Pixels))
		}
	}

	last := decoded[len(decoded)-1].Pixels
	var sum [3]int
	for i := 0; i < len(last); i += 3 {
		for ch := 0; ch < 3; ch++ {
			sum[ch] += int(last[i+ch])
		}
	}
	want := [3]int{200, 40, 40}
	for ch := range sum {
		avg := sum[ch] / (w * h)
		if d := avg - want[ch]; d < -16 || d > 16 {
			t.Errorf("channel %d average = %d, want about %d", ch, avg, want[ch])
		}
	}
}

func TestOpenH264_SeparatedMatchesConcatenated(t *testing.T) {
	b := newNativeBridge(t)

	encA, err := b.CreateEncoder(DefaultEncoderParams())
	if err != nil {
		t.Fatal(err)
	}
	defer b.DestroyEncoder(encA)
	encB, err := b.CreateEncoder(DefaultEncoderParams())
	if err != nil {
		t.Fatal(err)
	}
	defer b.DestroyEncoder(encB)

	pixels := solidRGB(32, 32, 4, 10, 120, 230)
	whole, err := b.EncodeConcatenated(encA, 32, 32, pixels, PixelFormatRGBA)
	if err != nil {
		t.Fatal(err)
	}
	units, err := b.EncodeSeparated(encB, 32, 32, pixels, PixelFormatRGBA)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(bytes.Join(units, nil), whole) {
		t.Error("joined NAL units differ from concatenated output")
	}
}
