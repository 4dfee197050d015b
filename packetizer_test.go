package h264bridge

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/pion/rtp"
)

func TestH264Packetizer_SingleNAL(t *testing.T) {
	pkt := NewH264Packetizer(12345, 96, 1200)

	au := AccessUnit{Data: annexB(testSPS, testPPS, testIDR), Timestamp: 90000}
	packets, err := pkt.Packetize(au)
	if err != nil {
		t.Fatalf("Packetize failed: %v", err)
	}
	if len(packets) != 3 {
		t.Fatalf("got %d packets, want 3", len(packets))
	}

	for i, p := range packets {
		if p.Header.SSRC != 12345 {
			t.Errorf("packet %d SSRC = %d, want 12345", i, p.Header.SSRC)
		}
		if p.Header.PayloadType != 96 {
			t.Errorf("packet %d PayloadType = %d, want 96", i, p.Header.PayloadType)
		}
		if p.Header.Timestamp != 90000 {
			t.Errorf("packet %d Timestamp = %d, want 90000", i, p.Header.Timestamp)
		}
		if last := i == len(packets)-1; p.Header.Marker != last {
			t.Errorf("packet %d marker = %v, want %v", i, p.Header.Marker, last)
		}
		if i > 0 && p.Header.SequenceNumber != packets[i-1].Header.SequenceNumber+1 {
			t.Errorf("packet %d sequence number not consecutive", i)
		}
	}
	if !bytes.Equal(packets[0].Payload, testSPS) {
		t.Errorf("first payload = %x, want SPS without start code", packets[0].Payload)
	}
}

func TestH264Packetizer_FUA(t *testing.T) {
	pkt := NewH264Packetizer(1, 96, 200)

	nalu := make([]byte, 1000)
	nalu[0] = 0x65
	for i := 1; i < len(nalu); i++ {
		nalu[i] = byte(i)
	}

	packets, err := pkt.PacketizeNALUnits([][]byte{nalu}, 3000)
	if err != nil {
		t.Fatalf("PacketizeNALUnits failed: %v", err)
	}
	if len(packets) < 2 {
		t.Fatalf("got %d packets, want FU-A fragments", len(packets))
	}

	for i, p := range packets {
		if len(p.Payload)+rtpHeaderSize > 200 {
			t.Errorf("packet %d exceeds MTU: %d bytes", i, len(p.Payload)+rtpHeaderSize)
		}
		if h264.NALUType(p.Payload[0]&nalTypeMask) != h264.NALUTypeFUA {
			t.Fatalf("packet %d is not FU-A", i)
		}
		if p.Payload[0]&nalNRIMask != 0x60 {
			t.Errorf("packet %d lost NRI bits", i)
		}
		start := p.Payload[1]&fuaStartBit != 0
		end := p.Payload[1]&fuaEndBit != 0
		if start != (i == 0) {
			t.Errorf("packet %d start bit = %v", i, start)
		}
		if end != (i == len(packets)-1) || p.Header.Marker != end {
			t.Errorf("packet %d end bit = %v marker = %v", i, end, p.Header.Marker)
		}
	}
}

func TestH264Packetizer_Empty(t *testing.T) {
	pkt := NewH264Packetizer(1, 96, 1200)

	packets, err := pkt.Packetize(AccessUnit{})
	if err != nil || packets != nil {
		t.Errorf("Packetize(empty) = %v, %v", packets, err)
	}
	if _, err := pkt.Packetize(AccessUnit{Data: []byte{0x65, 0x01}}); err == nil {
		t.Error("Packetize without start codes should fail")
	}
}

func TestH264Packetizer_SmallMTUFallsBack(t *testing.T) {
	if got := NewH264Packetizer(1, 96, 10).MTU(); got != defaultRTPMTU {
		t.Errorf("MTU = %d, want %d", got, defaultRTPMTU)
	}
}

func TestH264_RoundTrip(t *testing.T) {
	big := make([]byte, 5000)
	big[0] = 0x65
	for i := 1; i < len(big); i++ {
		big[i] = byte(i * 7)
	}
	data := annexB(testSPS, testPPS, big)

	pkt := NewH264Packetizer(42, 96, 1200)
	raw, err := pkt.PacketizeToBytes(AccessUnit{Data: data, Timestamp: 1234})
	if err != nil {
		t.Fatalf("PacketizeToBytes failed: %v", err)
	}

	depkt := NewH264Depacketizer()
	var got *AccessUnit
	for i, b := range raw {
		au, err := depkt.DepacketizeBytes(b)
		if err != nil {
			t.Fatalf("packet %d: %v", i, err)
		}
		if au != nil {
			if i != len(raw)-1 {
				t.Fatalf("access unit completed early at packet %d", i)
			}
			got = au
		}
	}
	if got == nil {
		t.Fatal("no access unit reassembled")
	}
	if !bytes.Equal(got.Data, data) {
		t.Error("reassembled access unit differs from input")
	}
	if got.Timestamp != 1234 {
		t.Errorf("Timestamp = %d, want 1234", got.Timestamp)
	}
	if !got.KeyFrame {
		t.Error("KeyFrame = false, want true")
	}
}

func TestH264Depacketizer_STAPA(t *testing.T) {
	payload := []byte{byte(h264.NALUTypeSTAPA)}
	for _, n := range [][]byte{testSPS, testPPS, testIDR} {
		payload = binary.BigEndian.AppendUint16(payload, uint16(len(n)))
		payload = append(payload, n...)
	}

	d := NewH264Depacketizer()
	au, err := d.Depacketize(&rtp.Packet{
		Header:  rtp.Header{Marker: true, Timestamp: 10},
		Payload: payload,
	})
	if err != nil {
		t.Fatal(err)
	}
	if au == nil || !bytes.Equal(au.Data, annexB(testSPS, testPPS, testIDR)) {
		t.Fatalf("STAP-A access unit = %+v", au)
	}

	overrun := []byte{byte(h264.NALUTypeSTAPA), 0x00, 0x20, 0x67}
	if _, err := d.Depacketize(&rtp.Packet{Header: rtp.Header{Timestamp: 11}, Payload: overrun}); err == nil {
		t.Error("overrunning STAP-A should fail")
	}
}

func TestH264Depacketizer_LostFUAStart(t *testing.T) {
	d := NewH264Depacketizer()

	// Middle and end fragments without a start are dropped.
	for _, fu := range [][]byte{{0x7C, 0x05, 0xAA}, {0x7C, 0x45, 0xBB}} {
		au, err := d.Depacketize(&rtp.Packet{
			Header:  rtp.Header{Marker: fu[1]&fuaEndBit != 0, Timestamp: 5},
			Payload: fu,
		})
		if err != nil || au != nil {
			t.Fatalf("Depacketize = %v, %v, want nothing", au, err)
		}
	}
}

func TestH264Depacketizer_TimestampChangeDiscards(t *testing.T) {
	d := NewH264Depacketizer()

	if au, _ := d.Depacketize(&rtp.Packet{Header: rtp.Header{Timestamp: 1}, Payload: []byte{0x41, 0x01}}); au != nil {
		t.Fatal("access unit completed without marker")
	}
	au, err := d.Depacketize(&rtp.Packet{Header: rtp.Header{Timestamp: 2, Marker: true}, Payload: []byte{0x41, 0x02}})
	if err != nil {
		t.Fatal(err)
	}
	if want := []byte{0, 0, 0, 1, 0x41, 0x02}; !bytes.Equal(au.Data, want) {
		t.Errorf("Data = %x, want %x", au.Data, want)
	}
	if au.KeyFrame {
		t.Error("non-IDR access unit marked as key frame")
	}
}

func TestTimestampFromMs(t *testing.T) {
	tests := []struct {
		ms   int64
		want uint32
	}{
		{0, 0},
		{33, 2970},
		{1000, 90000},
	}
	for _, tt := range tests {
		if got := TimestampFromMs(tt.ms); got != tt.want {
			t.Errorf("TimestampFromMs(%d) = %d, want %d", tt.ms, got, tt.want)
		}
	}
}
