package main

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/thesyncim/h264bridge"
	"github.com/thesyncim/h264bridge/internal/mp4io"
)

type encodeOptions struct {
	width, height int
	format        h264bridge.PixelFormat
	separate      bool
	params        h264bridge.EncoderParams
}

type encodeStats struct {
	frames  int
	skipped int
	bytes   int
}

func newEncodeCommand() *cobra.Command {
	var (
		opts       encodeOptions
		format     string
		configPath string
		output     string
		mp4Path    string
	)

	cmd := &cobra.Command{
		Use:   "encode RAW",
		Short: "Encode raw RGB/RGBA frames to H.264",
		Long: `Encode RAW, a file of back to back frames of WxH pixels, and write the Annex-B
stream. Encoder settings come from --config (YAML, keys in snake_case) and H264TOOL_*
environment variables.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			if opts.format, err = parseFormat(format); err != nil {
				return err
			}
			if opts.params, err = loadEncoderParams(configPath); err != nil {
				return err
			}

			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			out, err := openOutput(cmd, output)
			if err != nil {
				return err
			}
			defer closeInto(&err, out)

			stats, err := encodeToOutputs(raw, opts, out, mp4Path)
			if err != nil {
				return err
			}
			logger.WithFields(logrus.Fields{
				"frames":  stats.frames,
				"skipped": stats.skipped,
				"bytes":   stats.bytes,
			}).Info("encode finished")
			return nil
		},
	}

	cmd.Flags().IntVarP(&opts.width, "width", "W", 0, "frame width in pixels")
	cmd.Flags().IntVarP(&opts.height, "height", "H", 0, "frame height in pixels")
	cmd.Flags().StringVarP(&format, "format", "f", "rgb", "input pixel format (rgb, rgba)")
	cmd.Flags().StringVar(&configPath, "config", "", "encoder profile (YAML)")
	cmd.Flags().StringVarP(&output, "output", "o", "-", "Annex-B output file, - for stdout")
	cmd.Flags().StringVar(&mp4Path, "mp4", "", "also write fragmented MP4 to this file")
	cmd.Flags().BoolVar(&opts.separate, "separate", false, "encode with per-NAL output")
	_ = cmd.MarkFlagRequired("width")
	_ = cmd.MarkFlagRequired("height")
	return cmd
}

// encodeToOutputs runs encodeFrames on the default bridge, also writing
// fragmented MP4 to mp4Path when set.
func encodeToOutputs(raw []byte, opts encodeOptions, out io.Writer, mp4Path string) (stats encodeStats, err error) {
	if mp4Path == "" {
		return encodeFrames(h264bridge.Default(), raw, opts, out, nil)
	}

	f, err := os.Create(mp4Path)
	if err != nil {
		return stats, err
	}
	defer closeInto(&err, f)

	mw := mp4io.NewWriter(f, float64(opts.params.MaxFrameRate))
	if stats, err = encodeFrames(h264bridge.Default(), raw, opts, out, mw); err != nil {
		return stats, err
	}
	return stats, mw.Close()
}

func encodeFrames(b *h264bridge.Bridge, raw []byte, opts encodeOptions, out io.Writer, mw *mp4io.Writer) (encodeStats, error) {
	var stats encodeStats

	if opts.width <= 0 || opts.height <= 0 || opts.width > h264bridge.MaxDimension || opts.height > h264bridge.MaxDimension {
		return stats, fmt.Errorf("invalid frame size %dx%d", opts.width, opts.height)
	}
	frameSize := opts.width * opts.height * opts.format.PixelSize()
	if frameSize <= 0 {
		return stats, fmt.Errorf("invalid frame size %dx%d", opts.width, opts.height)
	}
	if len(raw)%frameSize != 0 {
		return stats, fmt.Errorf("input size %d is not a multiple of the %d byte frame size", len(raw), frameSize)
	}

	h, err := b.CreateEncoder(opts.params)
	if err != nil {
		return stats, err
	}
	defer b.DestroyEncoder(h)

	interval := h264bridge.FrameIntervalMs(opts.params.MaxFrameRate)
	for i := 0; i*frameSize < len(raw); i++ {
		frame := raw[i*frameSize : (i+1)*frameSize]

		var au []byte
		if opts.separate {
			units, err := b.EncodeSeparated(h, opts.width, opts.height, frame, opts.format)
			if err != nil {
				return stats, fmt.Errorf("frame %d: %w", i, err)
			}
			for _, u := range units {
				if _, err := out.Write(u); err != nil {
					return stats, err
				}
			}
			au = bytes.Join(units, nil)
		} else {
			if au, err = b.EncodeConcatenated(h, opts.width, opts.height, frame, opts.format); err != nil {
				return stats, fmt.Errorf("frame %d: %w", i, err)
			}
			if _, err := out.Write(au); err != nil {
				return stats, err
			}
		}

		stats.frames++
		stats.bytes += len(au)
		if len(au) == 0 {
			stats.skipped++
			logger.WithField("frame", i).Debug("frame skipped by rate control")
			continue
		}
		if mw != nil {
			if err := mw.WriteAccessUnit(au, int64(i)*interval); err != nil {
				return stats, fmt.Errorf("frame %d: %w", i, err)
			}
		}
	}
	return stats, nil
}
