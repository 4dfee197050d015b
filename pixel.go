package h264bridge

import (
	"fmt"
	"image"
	"image/color"
	"strings"

	"golang.org/x/image/draw"
)

// PixelFormat is the interleaved layout of host pixel buffers.
type PixelFormat int32

const (
	PixelFormatRGB  PixelFormat = iota // R, G, B; 3 bytes per pixel
	PixelFormatRGBA                    // R, G, B, A; 4 bytes per pixel
)

func (f PixelFormat) String() string {
	switch f {
	case PixelFormatRGB:
		return "RGB"
	case PixelFormatRGBA:
		return "RGBA"
	default:
		return "Unknown"
	}
}

// PixelSize returns the bytes per pixel, or 0 for an unknown format.
func (f PixelFormat) PixelSize() int {
	if s, ok := f.strategy(); ok {
		return s.pixelSize()
	}
	return 0
}

// ParsePixelFormat accepts "rgb" or "rgba" in any case.
func ParsePixelFormat(s string) (PixelFormat, bool) {
	switch strings.ToLower(s) {
	case "rgb":
		return PixelFormatRGB, true
	case "rgba":
		return PixelFormatRGBA, true
	}
	return 0, false
}

// pixelStrategy converts between YUV 4:2:0 frames and one interleaved layout.
type pixelStrategy interface {
	pixelSize() int
	// write renders f into a fresh buffer of exactly width*height*pixelSize bytes.
	write(f *YUVFrame) ([]byte, error)
	// source adapts a host buffer into an owned YUV picture.
	source(pixels []byte, width, height int) (YUVSource, error)
}

func (f PixelFormat) strategy() (pixelStrategy, bool) {
	switch f {
	case PixelFormatRGB:
		return rgbStrategy{}, true
	case PixelFormatRGBA:
		return rgbaStrategy{}, true
	default:
		return nil, false
	}
}

type rgbStrategy struct{}

func (rgbStrategy) pixelSize() int { return 3 }

func (rgbStrategy) write(f *YUVFrame) ([]byte, error) {
	rgba, err := toRGBA(f, nil)
	if err != nil {
		return nil, err
	}
	out := make([]byte, f.Width*f.Height*3)
	for i, j := 0, 0; i < len(rgba.Pix); i, j = i+4, j+3 {
		out[j] = rgba.Pix[i]
		out[j+1] = rgba.Pix[i+1]
		out[j+2] = rgba.Pix[i+2]
	}
	return out, nil
}

func (rgbStrategy) source(pixels []byte, width, height int) (YUVSource, error) {
	frame, err := packedRGB{channels: 3}.toI420(pixels, width, height)
	if err != nil {
		return nil, err
	}
	return frame, nil
}

type rgbaStrategy struct{}

func (rgbaStrategy) pixelSize() int { return 4 }

func (rgbaStrategy) write(f *YUVFrame) ([]byte, error) {
	if !f.valid() {
		return nil, invalidFrame(f)
	}
	// Drawn in place: the RGBA pixel buffer is the result.
	rgba, err := toRGBA(f, make([]byte, f.Width*f.Height*4))
	if err != nil {
		return nil, err
	}
	return rgba.Pix, nil
}

func (rgbaStrategy) source(pixels []byte, width, height int) (YUVSource, error) {
	frame, err := packedRGB{channels: 4}.toI420(pixels, width, height)
	if err != nil {
		return nil, err
	}
	return frame, nil
}

func invalidFrame(f *YUVFrame) *Error {
	if f == nil {
		return &Error{Kind: KindRuntime, Msg: "nil frame"}
	}
	return &Error{
		Kind: KindRuntime,
		Msg: fmt.Sprintf("frame planes do not cover %dx%d (strides %d/%d)",
			f.Width, f.Height, f.StrideY, f.StrideUV),
	}
}

// toRGBA converts f with full chroma upsampling. pix is used as the backing
// buffer when it holds exactly width*height*4 bytes.
func toRGBA(f *YUVFrame, pix []byte) (*image.RGBA, error) {
	if !f.valid() {
		return nil, invalidFrame(f)
	}
	rect := image.Rect(0, 0, f.Width, f.Height)
	src := &image.YCbCr{
		Y:              f.Y,
		Cb:             f.U,
		Cr:             f.V,
		YStride:        f.StrideY,
		CStride:        f.StrideUV,
		SubsampleRatio: image.YCbCrSubsampleRatio420,
		Rect:           rect,
	}

	var dst *image.RGBA
	if len(pix) == f.Width*f.Height*4 {
		dst = &image.RGBA{Pix: pix, Stride: f.Width * 4, Rect: rect}
	} else {
		dst = image.NewRGBA(rect)
	}
	draw.Draw(dst, rect, src, image.Point{}, draw.Src)
	return dst, nil
}

// packedRGB views an interleaved buffer whose first three channels are
// R, G and B.
type packedRGB struct {
	channels int
}

func (p packedRGB) toI420(pixels []byte, width, height int) (*YUVFrame, error) {
	if width <= 0 || height <= 0 || width > MaxDimension || height > MaxDimension {
		return nil, &Error{Kind: KindRuntime, Msg: fmt.Sprintf("invalid dimensions %dx%d", width, height)}
	}
	stride := width * p.channels
	need := stride * height
	if len(pixels) < need {
		return nil, &Error{
			Kind: KindRuntime,
			Msg:  fmt.Sprintf("pixel buffer holds %d bytes, %dx%d needs %d", len(pixels), width, height, need),
		}
	}
	pixels = pixels[:need:need]

	frame := newYUVFrame(width, height)
	cw := frame.StrideUV
	cb := make([]int, cw*((height+1)/2))
	cr := make([]int, len(cb))
	cnt := make([]int, len(cb))

	for y := 0; y < height; y++ {
		row := pixels[y*stride : (y+1)*stride]
		for x := 0; x < width; x++ {
			px := row[x*p.channels:]
			yy, u, v := color.RGBToYCbCr(px[0], px[1], px[2])
			frame.Y[y*width+x] = yy
			ci := (y/2)*cw + x/2
			cb[ci] += int(u)
			cr[ci] += int(v)
			cnt[ci]++
		}
	}
	for i := range cb {
		frame.U[i] = uint8((cb[i] + cnt[i]/2) / cnt[i])
		frame.V[i] = uint8((cr[i] + cnt[i]/2) / cnt[i])
	}
	return frame, nil
}
