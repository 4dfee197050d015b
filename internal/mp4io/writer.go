package mp4io

import (
	"errors"
	"fmt"
	"io"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4/seekablebuffer"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mp4"
)

const (
	videoTrackID   = 1
	videoTimeScale = 90000
	defaultFPS     = 30
)

// ErrNoParameterSets is returned when the first access unit written lacks an
// SPS or PPS.
var ErrNoParameterSets = errors.New("first access unit carries no SPS/PPS")

// ErrWriterClosed is returned by writes after Close.
var ErrWriterClosed = errors.New("writer closed")

// Writer writes Annex-B access units as fragmented MP4, one fragment per
// sample. The init segment is emitted with the first access unit, which
// must carry the SPS and PPS. Each sample is held back until the next one
// arrives so its duration is known.
type Writer struct {
	w          io.Writer
	defaultDur uint32
	seq        uint32
	initDone   bool
	closed     bool

	pending     *fmp4.Sample
	pendingTime uint64
}

// NewWriter creates a writer. fps sets the duration of the final sample; zero
// selects 30.
func NewWriter(w io.Writer, fps float64) *Writer {
	if fps <= 0 {
		fps = defaultFPS
	}
	return &Writer{
		w:          w,
		defaultDur: uint32(videoTimeScale / fps),
		seq:        1,
	}
}

// WriteAccessUnit queues one Annex-B access unit with its presentation time.
func (w *Writer) WriteAccessUnit(data []byte, timestampMs int64) error {
	if w.closed {
		return ErrWriterClosed
	}

	var au h264.AnnexB
	if err := au.Unmarshal(data); err != nil {
		return fmt.Errorf("parse access unit: %w", err)
	}

	key := false
	var sps, pps []byte
	for _, nalu := range au {
		if len(nalu) == 0 {
			continue
		}
		switch h264.NALUType(nalu[0] & 0x1F) {
		case h264.NALUTypeIDR:
			key = true
		case h264.NALUTypeSPS:
			if sps == nil {
				sps = nalu
			}
		case h264.NALUTypePPS:
			if pps == nil {
				pps = nalu
			}
		}
	}

	if !w.initDone {
		if sps == nil || pps == nil {
			return ErrNoParameterSets
		}
		if err := w.writeInit(sps, pps); err != nil {
			return err
		}
	}

	payload, err := h264.AVCC(au).Marshal()
	if err != nil {
		return fmt.Errorf("marshal sample: %w", err)
	}

	t := uint64(timestampMs) * videoTimeScale / 1000
	if w.pending != nil {
		if t > w.pendingTime {
			w.pending.Duration = uint32(t - w.pendingTime)
		}
		if err := w.flushPending(); err != nil {
			return err
		}
	}
	w.pending = &fmp4.Sample{
		IsNonSyncSample: !key,
		Payload:         payload,
	}
	w.pendingTime = t
	return nil
}

func (w *Writer) writeInit(sps, pps []byte) error {
	init := &fmp4.Init{
		Tracks: []*fmp4.InitTrack{{
			ID:        videoTrackID,
			TimeScale: videoTimeScale,
			Codec: &mp4.CodecH264{
				SPS: sps,
				PPS: pps,
			},
		}},
	}

	var buf seekablebuffer.Buffer
	if err := init.Marshal(&buf); err != nil {
		return fmt.Errorf("marshal init segment: %w", err)
	}
	if _, err := w.w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("write init segment: %w", err)
	}
	w.initDone = true
	return nil
}

func (w *Writer) flushPending() error {
	if w.pending.Duration == 0 {
		w.pending.Duration = w.defaultDur
	}
	part := &fmp4.Part{
		SequenceNumber: w.seq,
		Tracks: []*fmp4.PartTrack{{
			ID:       videoTrackID,
			BaseTime: w.pendingTime,
			Samples:  []*fmp4.Sample{w.pending},
		}},
	}

	var buf seekablebuffer.Buffer
	if err := part.Marshal(&buf); err != nil {
		return fmt.Errorf("marshal fragment: %w", err)
	}
	if _, err := w.w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("write fragment: %w", err)
	}
	w.seq++
	w.pending = nil
	return nil
}

// Close writes the last queued sample. It does not close the underlying writer.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if w.pending == nil {
		return nil
	}
	return w.flushPending()
}
