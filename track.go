package h264bridge

import (
	"errors"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// ErrTrackEnded is returned when writing to a closed track.
var ErrTrackEnded = errors.New("track ended")

// H264Codec is the capability LocalTrack offers by default: packetization
// mode 1, constrained baseline.
var H264Codec = webrtc.RTPCodecCapability{
	MimeType:    webrtc.MimeTypeH264,
	ClockRate:   rtpClockRate,
	SDPFmtpLine: "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f",
}

type trackBinding struct {
	id          string
	ssrc        webrtc.SSRC
	payloadType webrtc.PayloadType
	writer      webrtc.TrackLocalWriter
}

// LocalTrack implements pion's webrtc.TrackLocal for H.264. Encoded access
// units or NAL units written to it are packetized and sent to every peer
// connection the track is bound to.
type LocalTrack struct {
	id       string
	streamID string
	codec    webrtc.RTPCodecCapability

	packetizer *H264Packetizer
	ended      atomic.Bool

	bindMu   sync.RWMutex
	bindings []trackBinding
}

// NewLocalTrack creates a track. A zero codec selects H264Codec.
func NewLocalTrack(codec webrtc.RTPCodecCapability, id, streamID string) *LocalTrack {
	if codec.MimeType == "" {
		codec = H264Codec
	}
	return &LocalTrack{
		id:         id,
		streamID:   streamID,
		codec:      codec,
		packetizer: NewH264Packetizer(0, 0, defaultRTPMTU),
	}
}

func (t *LocalTrack) ID() string       { return t.id }
func (t *LocalTrack) StreamID() string { return t.streamID }
func (t *LocalTrack) RID() string      { return "" }

// Kind implements webrtc.TrackLocal.
func (t *LocalTrack) Kind() webrtc.RTPCodecType {
	if strings.HasPrefix(strings.ToLower(t.codec.MimeType), "audio/") {
		return webrtc.RTPCodecTypeAudio
	}
	return webrtc.RTPCodecTypeVideo
}

// Codec returns the codec capability.
func (t *LocalTrack) Codec() webrtc.RTPCodecCapability {
	return t.codec
}

// Bind implements webrtc.TrackLocal.
func (t *LocalTrack) Bind(ctx webrtc.TrackLocalContext) (webrtc.RTPCodecParameters, error) {
	params := webrtc.RTPCodecParameters{RTPCodecCapability: t.codec}
	for _, p := range ctx.CodecParameters() {
		if strings.EqualFold(p.MimeType, t.codec.MimeType) {
			params = p
			break
		}
	}

	t.bindMu.Lock()
	t.bindings = append(t.bindings, trackBinding{
		id:          ctx.ID(),
		ssrc:        ctx.SSRC(),
		payloadType: params.PayloadType,
		writer:      ctx.WriteStream(),
	})
	t.bindMu.Unlock()

	log().WithField("track", t.id).WithField("ssrc", ctx.SSRC()).Debug("track bound")
	return params, nil
}

// Unbind implements webrtc.TrackLocal.
func (t *LocalTrack) Unbind(ctx webrtc.TrackLocalContext) error {
	t.bindMu.Lock()
	defer t.bindMu.Unlock()

	for i, b := range t.bindings {
		if b.id == ctx.ID() {
			t.bindings = append(t.bindings[:i], t.bindings[i+1:]...)
			return nil
		}
	}
	return nil
}

// Bound returns the number of peer connections the track is bound to.
func (t *LocalTrack) Bound() int {
	t.bindMu.RLock()
	defer t.bindMu.RUnlock()
	return len(t.bindings)
}

// WriteAccessUnit packetizes an Annex-B access unit such as the output of
// EncodeConcatenated.
func (t *LocalTrack) WriteAccessUnit(au AccessUnit) error {
	return t.WriteNALUnits(SplitNALUnits(au.Data), au.Timestamp)
}

// WriteNALUnits packetizes the NAL units of one picture, such as the output
// of EncodeSeparated, with a 90 kHz timestamp.
func (t *LocalTrack) WriteNALUnits(units [][]byte, timestamp uint32) error {
	if t.ended.Load() {
		return ErrTrackEnded
	}
	packets, err := t.packetizer.PacketizeNALUnits(units, timestamp)
	if err != nil {
		return err
	}
	for _, p := range packets {
		if err := t.WriteRTP(p); err != nil {
			return err
		}
	}
	return nil
}

// WriteRTP writes an RTP packet to all bound contexts, rewriting SSRC and
// payload type per binding.
func (t *LocalTrack) WriteRTP(p *rtp.Packet) error {
	if t.ended.Load() {
		return ErrTrackEnded
	}

	t.bindMu.RLock()
	defer t.bindMu.RUnlock()

	var errs []error
	for _, b := range t.bindings {
		hdr := p.Header
		hdr.SSRC = uint32(b.ssrc)
		hdr.PayloadType = uint8(b.payloadType)
		if _, err := b.writer.WriteRTP(&hdr, p.Payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close ends the track. Later writes fail with ErrTrackEnded.
func (t *LocalTrack) Close() error {
	t.ended.Store(true)
	return nil
}

var _ webrtc.TrackLocal = (*LocalTrack)(nil)
