package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/thesyncim/h264bridge"
)

var logger = logrus.New()

func newRootCommand() *cobra.Command {
	var (
		logLevel  string
		logFormat string
	)

	root := &cobra.Command{
		Use:   "h264tool",
		Short: "Inspect, decode and encode H.264 streams",
		Long: `h264tool drives the OpenH264 engine through h264bridge. It lists NAL units,
reports stream parameters, decodes Annex-B or fragmented MP4 input to raw RGB/RGBA
frames and encodes raw frames to Annex-B and fragmented MP4.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogging(cmd, logLevel, logFormat)
		},
	}

	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")

	root.AddCommand(newNALCommand())
	root.AddCommand(newInfoCommand())
	root.AddCommand(newDecodeCommand())
	root.AddCommand(newEncodeCommand())
	return root
}

func setupLogging(cmd *cobra.Command, level, format string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}

	switch format {
	case "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		return fmt.Errorf("invalid log format %q", format)
	}
	logger.SetLevel(lvl)
	logger.SetOutput(cmd.ErrOrStderr())

	h264bridge.SetLogger(logger)
	return nil
}

func parseFormat(s string) (h264bridge.PixelFormat, error) {
	f, ok := h264bridge.ParsePixelFormat(s)
	if !ok {
		return 0, fmt.Errorf("unknown pixel format %q (want rgb or rgba)", s)
	}
	return f, nil
}
