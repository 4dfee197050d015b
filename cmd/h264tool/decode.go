package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/thesyncim/h264bridge"
	"github.com/thesyncim/h264bridge/internal/mp4io"
)

var errTerminalOutput = errors.New("refusing to write binary data to a terminal; use -o")

func newDecodeCommand() *cobra.Command {
	var (
		format string
		output string
		flush  int32
	)

	cmd := &cobra.Command{
		Use:   "decode FILE",
		Short: "Decode Annex-B or MP4 input to raw frames",
		Long: `Decode FILE and write every decoded picture as raw RGB or RGBA pixels, back to
back. Input ending in .mp4, .m4v or .m4s, or starting with an ftyp box, is read as MP4.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			pf, err := parseFormat(format)
			if err != nil {
				return err
			}

			var aus [][]byte
			if isMP4(args[0]) {
				aus, err = readMP4(args[0])
			} else {
				var data []byte
				data, err = os.ReadFile(args[0])
				aus = splitAccessUnits(data)
			}
			if err != nil {
				return err
			}

			out, err := openOutput(cmd, output)
			if err != nil {
				return err
			}
			defer closeInto(&err, out)

			stats, err := decodeStream(h264bridge.Default(), aus, pf, flush, out)
			if err != nil {
				return err
			}
			logger.WithFields(logrus.Fields{
				"packets": len(aus),
				"frames":  stats.frames,
				"width":   stats.width,
				"height":  stats.height,
			}).Info("decode finished")
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "rgb", "output pixel format (rgb, rgba)")
	cmd.Flags().StringVarP(&output, "output", "o", "-", "output file, - for stdout")
	cmd.Flags().Int32Var(&flush, "flush", int32(h264bridge.FlushAuto), "decoder flush behavior (0 auto, 1 flush, 2 no flush)")
	return cmd
}

type decodeStats struct {
	frames        int
	width, height uint32
}

func decodeStream(b *h264bridge.Bridge, aus [][]byte, pf h264bridge.PixelFormat, flush int32, out io.Writer) (decodeStats, error) {
	var stats decodeStats

	h, err := b.CreateDecoder(flush)
	if err != nil {
		return stats, err
	}
	defer b.DestroyDecoder(h)

	emit := func(r *h264bridge.DecodeResult) error {
		if stats.frames > 0 && (r.Width != stats.width || r.Height != stats.height) {
			logger.WithFields(logrus.Fields{"width": r.Width, "height": r.Height}).Warn("resolution changed")
		}
		stats.frames++
		stats.width, stats.height = r.Width, r.Height
		_, err := out.Write(r.Pixels)
		return err
	}

	for _, au := range aus {
		res, err := b.Decode(h, au, pf)
		if err != nil {
			return stats, err
		}
		if res == nil {
			continue
		}
		if err := emit(res); err != nil {
			return stats, err
		}
	}

	rest, err := b.FlushRemaining(h, pf)
	if err != nil {
		return stats, err
	}
	for i := range rest {
		if err := emit(&rest[i]); err != nil {
			return stats, err
		}
	}
	return stats, nil
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// openOutput resolves -o. Stdout is refused when it is a terminal and is never
// closed.
func openOutput(cmd *cobra.Command, path string) (io.WriteCloser, error) {
	if path == "" || path == "-" {
		out := cmd.OutOrStdout()
		if f, ok := out.(*os.File); ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
			return nil, errTerminalOutput
		}
		return nopWriteCloser{out}, nil
	}
	return os.Create(path)
}

// closeInto closes c and stores the close error in *err unless an earlier
// error is already there. A failed close can lose buffered output.
func closeInto(err *error, c io.Closer) {
	if cerr := c.Close(); *err == nil {
		*err = cerr
	}
}

func isMP4(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp4", ".m4v", ".m4s":
		return true
	}
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	var hdr [8]byte
	if _, err := io.ReadFull(f, hdr[:]); err != nil {
		return false
	}
	return bytes.Equal(hdr[4:], []byte("ftyp"))
}

func readMP4(path string) ([][]byte, error) {
	samples, err := mp4io.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	aus := make([][]byte, len(samples))
	for i, s := range samples {
		aus[i] = s.Data
	}
	return aus, nil
}

func isVCL(t h264.NALUType) bool {
	return t >= h264.NALUTypeNonIDR && t <= h264.NALUTypeIDR
}

// splitAccessUnits groups an Annex-B stream into pictures. A picture ends
// before the first non-VCL unit or second VCL unit that follows a VCL unit.
func splitAccessUnits(data []byte) [][]byte {
	var (
		aus    [][]byte
		cur    []byte
		hasVCL bool
	)
	for _, u := range h264bridge.SplitNALUnits(data) {
		vcl := isVCL(h264bridge.NALUnitType(u))
		if hasVCL && (!vcl || firstMBZero(u)) {
			aus = append(aus, cur)
			cur, hasVCL = nil, false
		}
		cur = append(cur, u...)
		hasVCL = hasVCL || vcl
	}
	if len(cur) > 0 {
		aus = append(aus, cur)
	}
	return aus
}

// firstMBZero reports whether a slice starts at macroblock 0, i.e. begins a
// new picture. first_mb_in_slice is ue(v); a leading 1 bit encodes zero.
func firstMBZero(unit []byte) bool {
	payload := h264bridge.StripStartCode(unit)
	return len(payload) > 1 && payload[1]&0x80 != 0
}
