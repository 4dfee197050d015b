//go:build (darwin || linux) && !noopenh264

package h264bridge

import (
	"os"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"testing"
	"unsafe"
)

const engineHeader = "csrc/media_openh264.h"

func readEngineHeader(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile(engineHeader)
	if err != nil {
		t.Fatalf("read %s: %v", engineHeader, err)
	}
	return string(data)
}

var headerDefine = regexp.MustCompile(`(?m)^#define\s+MEDIA_OPENH264_(\w+)\s+\(?(-?\d+)\)?`)

func TestOpenH264Header_Constants(t *testing.T) {
	defines := map[string]int{}
	for _, m := range headerDefine.FindAllStringSubmatch(readEngineHeader(t), -1) {
		v, err := strconv.Atoi(m[2])
		if err != nil {
			t.Fatalf("define %s: %v", m[1], err)
		}
		defines[m[1]] = v
	}

	tests := []struct {
		name string
		got  int
	}{
		{"FLUSH_AUTO", openh264FlushAuto},
		{"FLUSH_ALWAYS", openh264FlushAlways},
		{"FLUSH_NEVER", openh264FlushNever},
		{"NO_FRAME", openh264NoFrame},
		{"FRAME_READY", openh264FrameReady},
		{"MAX_NALS_PER_LAYER", openh264MaxNALsLayer},
		{"DEFAULT", openh264Default},
	}
	for _, tt := range tests {
		want, ok := defines[tt.name]
		if !ok {
			t.Errorf("MEDIA_OPENH264_%s missing from %s", tt.name, engineHeader)
			continue
		}
		if tt.got != want {
			t.Errorf("MEDIA_OPENH264_%s = %d in header, %d in Go", tt.name, want, tt.got)
		}
	}

	for f, native := range map[FlushBehavior]int32{
		FlushAuto:   int32(defines["FLUSH_AUTO"]),
		FlushAlways: int32(defines["FLUSH_ALWAYS"]),
		FlushNever:  int32(defines["FLUSH_NEVER"]),
	} {
		if got := flushModeToNative(f); got != native {
			t.Errorf("flushModeToNative(%v) = %d, want %d", f, got, native)
		}
	}
}

// headerStructFields returns the field names of the typedef'd struct name.
func headerStructFields(t *testing.T, header, name string) []string {
	t.Helper()
	end := strings.Index(header, "} "+name+";")
	if end < 0 {
		t.Fatalf("struct %s not found in %s", name, engineHeader)
	}
	start := strings.LastIndex(header[:end], "typedef struct {")
	body := header[start+len("typedef struct {") : end]

	field := regexp.MustCompile(`(?m)^\s*[\w\s]+?[\s*]+(\w+);`)
	var names []string
	for _, m := range field.FindAllStringSubmatch(body, -1) {
		names = append(names, m[1])
	}
	return names
}

func normalizeField(s string) string {
	return strings.ToLower(strings.ReplaceAll(s, "_", ""))
}

func TestOpenH264Header_EncoderParamsLayout(t *testing.T) {
	fields := headerStructFields(t, readEngineHeader(t), "media_openh264_encoder_params_t")

	typ := reflect.TypeOf(openh264EncoderParams{})
	if typ.NumField() != len(fields) {
		t.Fatalf("Go struct has %d fields, header has %d: %v", typ.NumField(), len(fields), fields)
	}
	for i, name := range fields {
		f := typ.Field(i)
		if normalizeField(f.Name) != normalizeField(name) {
			t.Errorf("field %d: Go %s, header %s", i, f.Name, name)
		}
		if f.Type.Size() != 4 || f.Offset != uintptr(4*i) {
			t.Errorf("field %s: size %d offset %d, want 4 and %d", f.Name, f.Type.Size(), f.Offset, 4*i)
		}
	}
}

func TestOpenH264Header_StructSizes(t *testing.T) {
	if unsafe.Sizeof(uintptr(0)) != 8 {
		t.Skip("layouts are pinned for 64-bit targets")
	}
	header := readEngineHeader(t)

	tests := []struct {
		name string
		size uintptr
	}{
		{"media_openh264_frame_t", unsafe.Sizeof(openh264Frame{})},
		{"media_openh264_layer_t", unsafe.Sizeof(openh264Layer{})},
		{"media_openh264_encoder_params_t", unsafe.Sizeof(openh264EncoderParams{})},
	}
	for _, tt := range tests {
		m := regexp.MustCompile(`sizeof\(` + tt.name + `\) == (\d+)`).FindStringSubmatch(header)
		if m == nil {
			t.Errorf("no size assertion for %s", tt.name)
			continue
		}
		if want, _ := strconv.Atoi(m[1]); uintptr(want) != tt.size {
			t.Errorf("sizeof(%s) = %d in header, %d in Go", tt.name, want, tt.size)
		}
	}

	if got := len(headerStructFields(t, header, "media_openh264_frame_t")); got != reflect.TypeOf(openh264Frame{}).NumField() {
		t.Errorf("frame fields: header %d, Go %d", got, reflect.TypeOf(openh264Frame{}).NumField())
	}
	if off := unsafe.Offsetof(openh264Frame{}.TimestampMs); off != 40 {
		t.Errorf("frame timestamp offset = %d, want 40", off)
	}
	if off := unsafe.Offsetof(openh264Layer{}.NalCount); off != 16 {
		t.Errorf("layer nal_count offset = %d, want 16", off)
	}
}
