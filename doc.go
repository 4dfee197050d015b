// Package h264bridge lets a host drive an OpenH264 encoder and decoder
// through opaque handles, with typed configuration, host pixel buffers and
// typed errors.
//
// Key pieces include:
//   - Bridge: generation-checked handle tables for decoders and encoders
//   - Config translation from primitive wire values (EncoderParams) into
//     typed engine configuration
//   - Pixel marshaling between interleaved RGB/RGBA buffers and YUV 4:2:0
//   - Annex-B NAL unit splitting and SPS inspection
//   - RTP packetization and a WebRTC local track for encoded output
//
// # Architecture
//
//	Encode: RGB(A) pixels -> YUV 4:2:0 source -> EncoderEngine -> Bitstream -> bytes / NAL units
//	Decode: Annex-B packet -> DecoderEngine -> YUV 4:2:0 frame -> RGB(A) DecodeResult
//
// # Errors
//
// Every failing call returns a zero value together with an *Error whose Kind
// is InvalidArgument, InvalidParameters, RuntimeError or EncoderError. Match
// kinds with errors.Is against ErrInvalidArgument, ErrInvalidParameters,
// ErrRuntime and ErrEncoder. Per-packet decode failures are not errors: Decode
// returns a nil result and the next packet is decoded normally.
//
// # Native Library
//
// The default backend loads libmedia_openh264 with purego (no cgo). Set
// MEDIA_OPENH264_LIB_PATH to the library file, or MEDIA_SDK_LIB_PATH to the
// directory holding it. Build with the noopenh264 tag to drop the native
// backend entirely; any Backend can be supplied to New instead.
package h264bridge
