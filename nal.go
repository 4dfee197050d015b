package h264bridge

import (
	"errors"
	"fmt"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
)

// SplitNALUnits splits an Annex-B byte stream at its start codes (0x000001
// or 0x00000001). Each unit keeps its start code and is a fresh copy, so
// joining the units reproduces the input from its first start code on.
// Bytes before the first start code and units with no payload are dropped.
func SplitNALUnits(data []byte) [][]byte {
	var units [][]byte
	start := -1 // offset of the current unit's start code
	payload := 0

	emit := func(end int) {
		if start >= 0 && end > payload {
			units = append(units, append([]byte(nil), data[start:end]...))
		}
	}

	for i := 0; i+2 < len(data); i++ {
		if data[i] != 0 || data[i+1] != 0 {
			continue
		}
		switch {
		case i+3 < len(data) && data[i+2] == 0 && data[i+3] == 1:
			emit(i)
			start, payload = i, i+4
			i += 3
		case data[i+2] == 1:
			emit(i)
			start, payload = i, i+3
			i += 2
		}
	}
	emit(len(data))
	return units
}

// StripStartCode returns unit without its leading Annex-B start code.
func StripStartCode(unit []byte) []byte {
	switch {
	case len(unit) >= 4 && unit[0] == 0 && unit[1] == 0 && unit[2] == 0 && unit[3] == 1:
		return unit[4:]
	case len(unit) >= 3 && unit[0] == 0 && unit[1] == 0 && unit[2] == 1:
		return unit[3:]
	}
	return unit
}

// NALUnitType returns the type of a NAL unit with or without start code.
func NALUnitType(unit []byte) h264.NALUType {
	payload := StripStartCode(unit)
	if len(payload) == 0 {
		return 0
	}
	return h264.NALUType(payload[0] & 0x1F)
}

// IsKeyFrame reports whether an access unit contains an IDR slice.
func IsKeyFrame(units [][]byte) bool {
	for _, u := range units {
		if NALUnitType(u) == h264.NALUTypeIDR {
			return true
		}
	}
	return false
}

// ErrNoSPS is returned by ParseStreamInfo for streams without a sequence
// parameter set.
var ErrNoSPS = errors.New("no SPS in bitstream")

// StreamInfo describes a stream from its first sequence parameter set.
type StreamInfo struct {
	Width      int
	Height     int
	ProfileIdc uint8
	LevelIdc   uint8
	SPS        []byte // without start code
	PPS        []byte // without start code, nil if absent
}

// Profile maps the profile_idc to a Profile, if known.
func (s StreamInfo) Profile() (Profile, bool) {
	for p := ProfileBaseline; p < profileCount; p++ {
		if p.IDC() == int32(s.ProfileIdc) {
			return p, true
		}
	}
	return 0, false
}

// Level maps the level_idc to a Level, if known.
func (s StreamInfo) Level() (Level, bool) {
	for l := Level1_0; l < levelCount; l++ {
		if l.IDC() == int32(s.LevelIdc) {
			return l, true
		}
	}
	return 0, false
}

// ParseStreamInfo reads the first SPS (and PPS) of an Annex-B stream.
func ParseStreamInfo(data []byte) (*StreamInfo, error) {
	var info *StreamInfo
	var pps []byte
	for _, unit := range SplitNALUnits(data) {
		payload := StripStartCode(unit)
		switch NALUnitType(unit) {
		case h264.NALUTypeSPS:
			if info != nil {
				continue
			}
			var sps h264.SPS
			if err := sps.Unmarshal(payload); err != nil {
				return nil, fmt.Errorf("parse SPS: %w", err)
			}
			info = &StreamInfo{
				Width:      sps.Width(),
				Height:     sps.Height(),
				ProfileIdc: sps.ProfileIdc,
				LevelIdc:   sps.LevelIdc,
				SPS:        payload,
			}
		case h264.NALUTypePPS:
			if pps == nil {
				pps = payload
			}
		}
	}
	if info == nil {
		return nil, ErrNoSPS
	}
	info.PPS = pps
	return info, nil
}
