package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/thesyncim/h264bridge"
)

func newInfoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "info [FILE]",
		Short: "Report engine availability and stream parameters",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			if h264bridge.IsAvailable() {
				fmt.Fprintf(out, "engine:      openh264 %s\n", h264bridge.EngineVersion())
			} else {
				fmt.Fprintln(out, "engine:      unavailable")
			}
			if len(args) == 0 {
				return nil
			}

			data, err := readAnnexB(args[0])
			if err != nil {
				return err
			}
			aus := splitAccessUnits(data)
			keys := 0
			for _, au := range aus {
				if h264bridge.IsKeyFrame(h264bridge.SplitNALUnits(au)) {
					keys++
				}
			}
			fmt.Fprintf(out, "pictures:    %d (%d key)\n", len(aus), keys)

			info, err := h264bridge.ParseStreamInfo(data)
			if errors.Is(err, h264bridge.ErrNoSPS) {
				fmt.Fprintln(out, "sps:         none")
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "resolution:  %dx%d\n", info.Width, info.Height)
			if p, ok := info.Profile(); ok {
				fmt.Fprintf(out, "profile:     %s (%d)\n", p, info.ProfileIdc)
			} else {
				fmt.Fprintf(out, "profile:     %d\n", info.ProfileIdc)
			}
			if l, ok := info.Level(); ok {
				fmt.Fprintf(out, "level:       %s\n", l)
			} else {
				fmt.Fprintf(out, "level:       %d\n", info.LevelIdc)
			}
			return nil
		},
	}
}

// readAnnexB returns path as an Annex-B stream, converting MP4 input.
func readAnnexB(path string) ([]byte, error) {
	if !isMP4(path) {
		return os.ReadFile(path)
	}
	aus, err := readMP4(path)
	if err != nil {
		return nil, err
	}
	var data []byte
	for _, au := range aus {
		data = append(data, au...)
	}
	return data, nil
}
