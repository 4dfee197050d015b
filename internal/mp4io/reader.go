// Package mp4io moves H.264 access units in and out of MP4 files.
package mp4io

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/Eyevinn/mp4ff/avc"
	"github.com/Eyevinn/mp4ff/mp4"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
)

// ErrNoVideoTrack is returned for files without an avc1/avc3 video track.
var ErrNoVideoTrack = errors.New("no H.264 video track found")

var startCode = []byte{0, 0, 0, 1}

// AccessUnit is one MP4 sample converted to Annex-B.
type AccessUnit struct {
	Data        []byte
	TimestampMs int64
	DurationMs  int64
	KeyFrame    bool
}

type videoTrack struct {
	id        uint32
	timescale uint32
	params    []byte // SPS and PPS from avcC, Annex-B
	stbl      *mp4.StblBox
}

// ReadFile opens path and returns its H.264 access units in decode order.
func ReadFile(path string) ([]AccessUnit, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	return ReadAccessUnits(f)
}

// ReadAccessUnits parses a progressive or fragmented MP4 stream. Sync samples
// are prefixed with the track's SPS and PPS so every key frame decodes on
// its own.
func ReadAccessUnits(r io.ReadSeeker) ([]AccessUnit, error) {
	file, err := mp4.DecodeFile(r)
	if err != nil {
		return nil, fmt.Errorf("decode mp4: %w", err)
	}

	if file.IsFragmented() {
		return readFragmented(file)
	}
	return readProgressive(file, r)
}

func findVideoTrack(moov *mp4.MoovBox) (*videoTrack, error) {
	if moov == nil {
		return nil, fmt.Errorf("no moov box found")
	}
	for _, trak := range moov.Traks {
		if trak.Mdia == nil || trak.Mdia.Hdlr == nil || trak.Mdia.Hdlr.HandlerType != "vide" {
			continue
		}
		if trak.Mdia.Minf == nil || trak.Mdia.Minf.Stbl == nil || trak.Mdia.Minf.Stbl.Stsd == nil {
			continue
		}

		var avcC *mp4.AvcCBox
		for _, child := range trak.Mdia.Minf.Stbl.Stsd.Children {
			if entry, ok := child.(*mp4.VisualSampleEntryBox); ok && entry.AvcC != nil {
				avcC = entry.AvcC
				break
			}
		}
		if avcC == nil {
			continue
		}

		t := &videoTrack{
			id:        trak.Tkhd.TrackID,
			timescale: 1000,
			stbl:      trak.Mdia.Minf.Stbl,
		}
		if trak.Mdia.Mdhd != nil && trak.Mdia.Mdhd.Timescale != 0 {
			t.timescale = trak.Mdia.Mdhd.Timescale
		}
		for _, sps := range avcC.SPSnalus {
			t.params = append(append(t.params, startCode...), sps...)
		}
		for _, pps := range avcC.PPSnalus {
			t.params = append(append(t.params, startCode...), pps...)
		}
		return t, nil
	}
	return nil, ErrNoVideoTrack
}

// toAccessUnit converts a length-prefixed sample to Annex-B.
func (t *videoTrack) toAccessUnit(sample []byte, decodeTime uint64, dur uint32) (AccessUnit, error) {
	nalus, err := avc.GetNalusFromSample(sample)
	if err != nil {
		return AccessUnit{}, fmt.Errorf("split sample: %w", err)
	}

	var key, hasSPS bool
	for _, n := range nalus {
		if len(n) == 0 {
			continue
		}
		switch h264.NALUType(n[0] & 0x1F) {
		case h264.NALUTypeIDR:
			key = true
		case h264.NALUTypeSPS:
			hasSPS = true
		}
	}

	var buf bytes.Buffer
	if key && !hasSPS {
		buf.Write(t.params)
	}
	for _, n := range nalus {
		buf.Write(startCode)
		buf.Write(n)
	}

	return AccessUnit{
		Data:        buf.Bytes(),
		TimestampMs: int64(decodeTime * 1000 / uint64(t.timescale)),
		DurationMs:  int64(uint64(dur) * 1000 / uint64(t.timescale)),
		KeyFrame:    key,
	}, nil
}

func readFragmented(file *mp4.File) ([]AccessUnit, error) {
	if file.Init == nil {
		return nil, fmt.Errorf("no init segment found")
	}
	track, err := findVideoTrack(file.Init.Moov)
	if err != nil {
		return nil, err
	}

	var trex *mp4.TrexBox
	if mvex := file.Init.Moov.Mvex; mvex != nil {
		for _, t := range mvex.Trexs {
			if t.TrackID == track.id {
				trex = t
				break
			}
		}
	}

	var out []AccessUnit
	for _, seg := range file.Segments {
		for _, frag := range seg.Fragments {
			if frag.Moof == nil || !hasTraf(frag.Moof, track.id) {
				continue
			}
			samples, err := frag.GetFullSamples(trex)
			if err != nil {
				return nil, fmt.Errorf("get samples: %w", err)
			}
			for _, s := range samples {
				au, err := track.toAccessUnit(s.Data, s.DecodeTime, s.Dur)
				if err != nil {
					return nil, err
				}
				out = append(out, au)
			}
		}
	}
	return out, nil
}

func hasTraf(moof *mp4.MoofBox, trackID uint32) bool {
	for _, traf := range moof.Trafs {
		if traf.Tfhd != nil && traf.Tfhd.TrackID == trackID {
			return true
		}
	}
	return false
}

func readProgressive(file *mp4.File, r io.ReadSeeker) ([]AccessUnit, error) {
	track, err := findVideoTrack(file.Moov)
	if err != nil {
		return nil, err
	}
	stbl := track.stbl
	if stbl.Stsz == nil || stbl.Stsc == nil {
		return nil, fmt.Errorf("incomplete sample table")
	}

	var out []AccessUnit
	for nr := uint32(1); nr <= stbl.Stsz.SampleNumber; nr++ {
		data, err := readSample(stbl, r, nr)
		if err != nil {
			return nil, fmt.Errorf("sample %d: %w", nr, err)
		}
		var decodeTime uint64
		var dur uint32
		if stbl.Stts != nil {
			decodeTime, dur = stbl.Stts.GetDecodeTime(nr)
		}
		au, err := track.toAccessUnit(data, decodeTime, dur)
		if err != nil {
			return nil, err
		}
		out = append(out, au)
	}
	return out, nil
}

func readSample(stbl *mp4.StblBox, r io.ReadSeeker, nr uint32) ([]byte, error) {
	chunkNr, first, err := stbl.Stsc.ChunkNrFromSampleNr(int(nr))
	if err != nil {
		return nil, fmt.Errorf("get chunk nr: %w", err)
	}

	var offset uint64
	switch {
	case stbl.Stco != nil:
		if offset, err = stbl.Stco.GetOffset(chunkNr); err != nil {
			return nil, fmt.Errorf("get chunk offset: %w", err)
		}
	case stbl.Co64 != nil:
		if chunkNr < 1 || chunkNr > len(stbl.Co64.ChunkOffset) {
			return nil, fmt.Errorf("chunk nr %d out of range", chunkNr)
		}
		offset = stbl.Co64.ChunkOffset[chunkNr-1]
	default:
		return nil, fmt.Errorf("no stco or co64 box")
	}
	for s := uint32(first); s < nr; s++ {
		offset += uint64(stbl.Stsz.GetSampleSize(int(s)))
	}

	if _, err := r.Seek(int64(offset), io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek to sample: %w", err)
	}
	data := make([]byte, stbl.Stsz.GetSampleSize(int(nr)))
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("read sample: %w", err)
	}
	return data, nil
}
