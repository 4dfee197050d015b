package h264bridge

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/pion/rtp"
)

const (
	rtpHeaderSize = 12
	rtpClockRate  = 90000
	defaultRTPMTU = 1200

	stapaNALUType = h264.NALUTypeSTAPA
	fuaNALUType   = h264.NALUTypeFUA
	fuaHeaderSize = 2
	fuaStartBit   = 0x80
	fuaEndBit     = 0x40

	nalTypeMask     = 0x1F
	nalNRIMask      = 0x60
	nalForbidAndNRI = 0xE0
)

// AccessUnit is one encoded picture in Annex-B form, as returned by
// EncodeConcatenated and accepted by Decode.
type AccessUnit struct {
	Data      []byte
	Timestamp uint32 // 90 kHz
	KeyFrame  bool
}

// TimestampFromMs converts milliseconds to the 90 kHz RTP clock.
func TimestampFromMs(ms int64) uint32 {
	return uint32(ms * rtpClockRate / 1000)
}

// H264Packetizer turns access units into RTP packets (RFC 6184 single NAL
// unit and FU-A modes).
type H264Packetizer struct {
	ssrc        uint32
	payloadType uint8
	mtu         int
	sequencer   rtp.Sequencer
	mu          sync.Mutex
}

// NewH264Packetizer creates a new H.264 RTP packetizer.
func NewH264Packetizer(ssrc uint32, payloadType uint8, mtu int) *H264Packetizer {
	if mtu <= rtpHeaderSize+fuaHeaderSize {
		mtu = defaultRTPMTU
	}
	return &H264Packetizer{
		ssrc:        ssrc,
		payloadType: payloadType,
		mtu:         mtu,
		sequencer:   rtp.NewRandomSequencer(),
	}
}

// Packetize converts an access unit into RTP packets. The marker bit is set
// on the last packet.
func (p *H264Packetizer) Packetize(au AccessUnit) ([]*rtp.Packet, error) {
	if len(au.Data) == 0 {
		return nil, nil
	}
	units := SplitNALUnits(au.Data)
	if len(units) == 0 {
		return nil, fmt.Errorf("no NAL units found in access unit")
	}
	return p.PacketizeNALUnits(units, au.Timestamp)
}

// PacketizeNALUnits packetizes units as returned by EncodeSeparated. Start
// codes are optional.
func (p *H264Packetizer) PacketizeNALUnits(units [][]byte, timestamp uint32) ([]*rtp.Packet, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var nalus [][]byte
	for _, u := range units {
		if n := StripStartCode(u); len(n) > 0 {
			nalus = append(nalus, n)
		}
	}
	if len(nalus) == 0 {
		return nil, nil
	}

	var packets []*rtp.Packet
	for i, nalu := range nalus {
		isLast := i == len(nalus)-1

		if len(nalu) <= p.mtu-rtpHeaderSize {
			packets = append(packets, p.newPacket(nalu, timestamp, isLast))
			continue
		}
		packets = append(packets, p.fragmentNALUnit(nalu, timestamp, isLast)...)
	}
	return packets, nil
}

func (p *H264Packetizer) newPacket(payload []byte, timestamp uint32, marker bool) *rtp.Packet {
	return &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         marker,
			PayloadType:    p.payloadType,
			SequenceNumber: p.sequencer.NextSequenceNumber(),
			Timestamp:      timestamp,
			SSRC:           p.ssrc,
		},
		Payload: payload,
	}
}

// fragmentNALUnit splits a large NAL unit into FU-A packets.
func (p *H264Packetizer) fragmentNALUnit(nalu []byte, timestamp uint32, isLastNALU bool) []*rtp.Packet {
	nalType := nalu[0] & nalTypeMask
	nri := nalu[0] & nalNRIMask

	// The NAL header is carried in the FU indicator and FU header.
	payload := nalu[1:]
	maxPayload := p.mtu - rtpHeaderSize - fuaHeaderSize

	var packets []*rtp.Packet
	for offset := 0; offset < len(payload); {
		end := min(offset+maxPayload, len(payload))
		isStart := offset == 0
		isEnd := end == len(payload)

		fuHeader := nalType
		if isStart {
			fuHeader |= fuaStartBit
		}
		if isEnd {
			fuHeader |= fuaEndBit
		}

		pktPayload := make([]byte, fuaHeaderSize+end-offset)
		pktPayload[0] = nri | byte(fuaNALUType)
		pktPayload[1] = fuHeader
		copy(pktPayload[fuaHeaderSize:], payload[offset:end])

		packets = append(packets, p.newPacket(pktPayload, timestamp, isEnd && isLastNALU))
		offset = end
	}
	return packets
}

// PacketizeToBytes converts an access unit to marshaled RTP packets.
func (p *H264Packetizer) PacketizeToBytes(au AccessUnit) ([][]byte, error) {
	packets, err := p.Packetize(au)
	if err != nil {
		return nil, err
	}
	result := make([][]byte, len(packets))
	for i, pkt := range packets {
		if result[i], err = pkt.Marshal(); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (p *H264Packetizer) SetSSRC(ssrc uint32)     { p.mu.Lock(); p.ssrc = ssrc; p.mu.Unlock() }
func (p *H264Packetizer) SSRC() uint32            { p.mu.Lock(); defer p.mu.Unlock(); return p.ssrc }
func (p *H264Packetizer) PayloadType() uint8      { p.mu.Lock(); defer p.mu.Unlock(); return p.payloadType }
func (p *H264Packetizer) SetPayloadType(pt uint8) { p.mu.Lock(); p.payloadType = pt; p.mu.Unlock() }
func (p *H264Packetizer) MTU() int                { p.mu.Lock(); defer p.mu.Unlock(); return p.mtu }

// H264Depacketizer reassembles Annex-B access units from RTP packets.
type H264Depacketizer struct {
	frameData   []byte // current access unit, Annex-B
	fuaBuffer   []byte // NAL unit being reassembled from FU-A fragments
	fragmenting bool
	timestamp   uint32
	started     bool
	keyFrame    bool
	mu          sync.Mutex
}

// NewH264Depacketizer creates a new H.264 RTP depacketizer.
func NewH264Depacketizer() *H264Depacketizer {
	return &H264Depacketizer{}
}

// Depacketize consumes one RTP packet and returns an access unit once the
// marker bit closes it. A timestamp change discards a partial access unit.
func (d *H264Depacketizer) Depacketize(pkt *rtp.Packet) (*AccessUnit, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(pkt.Payload) == 0 {
		return nil, nil
	}

	if d.started && d.timestamp != pkt.Header.Timestamp {
		d.reset()
	}
	d.timestamp = pkt.Header.Timestamp
	d.started = true

	nalType := h264.NALUType(pkt.Payload[0] & nalTypeMask)
	switch {
	case nalType >= h264.NALUTypeNonIDR && nalType < stapaNALUType:
		d.appendNALU(pkt.Payload)

	case nalType == stapaNALUType:
		if err := d.depacketizeSTAPA(pkt.Payload); err != nil {
			return nil, err
		}

	case nalType == fuaNALUType:
		if err := d.depacketizeFUA(pkt.Payload); err != nil {
			return nil, err
		}

	default:
		return nil, fmt.Errorf("unsupported NAL type: %d", nalType)
	}

	if !pkt.Header.Marker || len(d.frameData) == 0 {
		return nil, nil
	}
	au := &AccessUnit{
		Data:      append([]byte(nil), d.frameData...),
		Timestamp: d.timestamp,
		KeyFrame:  d.keyFrame,
	}
	d.frameData = d.frameData[:0]
	d.keyFrame = false
	return au, nil
}

func (d *H264Depacketizer) appendNALU(nalu []byte) {
	if h264.NALUType(nalu[0]&nalTypeMask) == h264.NALUTypeIDR {
		d.keyFrame = true
	}
	d.frameData = append(d.frameData, 0, 0, 0, 1)
	d.frameData = append(d.frameData, nalu...)
}

func (d *H264Depacketizer) depacketizeSTAPA(payload []byte) error {
	offset := 1
	for offset+2 <= len(payload) {
		size := int(binary.BigEndian.Uint16(payload[offset:]))
		offset += 2
		if offset+size > len(payload) {
			return fmt.Errorf("STAP-A unit of %d bytes overruns packet", size)
		}
		if size > 0 {
			d.appendNALU(payload[offset : offset+size])
		}
		offset += size
	}
	return nil
}

func (d *H264Depacketizer) depacketizeFUA(payload []byte) error {
	if len(payload) < fuaHeaderSize {
		return fmt.Errorf("FU-A packet too short")
	}

	fuIndicator := payload[0]
	fuHeader := payload[1]
	nalType := fuHeader & nalTypeMask

	if fuHeader&fuaStartBit != 0 {
		d.fuaBuffer = append(d.fuaBuffer[:0], (fuIndicator&nalForbidAndNRI)|nalType)
		d.fragmenting = true
	}
	// Fragments of a unit whose start was lost are dropped.
	if !d.fragmenting {
		return nil
	}

	d.fuaBuffer = append(d.fuaBuffer, payload[fuaHeaderSize:]...)
	if fuHeader&fuaEndBit != 0 {
		d.appendNALU(d.fuaBuffer)
		d.fuaBuffer = d.fuaBuffer[:0]
		d.fragmenting = false
	}
	return nil
}

func (d *H264Depacketizer) reset() {
	d.frameData = d.frameData[:0]
	d.fuaBuffer = d.fuaBuffer[:0]
	d.fragmenting = false
	d.keyFrame = false
}

// DepacketizeBytes processes a marshaled RTP packet.
func (d *H264Depacketizer) DepacketizeBytes(data []byte) (*AccessUnit, error) {
	var pkt rtp.Packet
	if err := pkt.Unmarshal(data); err != nil {
		return nil, err
	}
	return d.Depacketize(&pkt)
}

// Reset clears any buffered partial access unit.
func (d *H264Depacketizer) Reset() {
	d.mu.Lock()
	d.reset()
	d.started = false
	d.timestamp = 0
	d.mu.Unlock()
}
