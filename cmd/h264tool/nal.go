package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/thesyncim/h264bridge"
)

func newNALCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "nal FILE",
		Short: "List the NAL units of an Annex-B stream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			units := h264bridge.SplitNALUnits(data)
			offset := len(data)
			for _, u := range units {
				offset -= len(u)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "INDEX\tOFFSET\tSIZE\tTYPE")
			for i, u := range units {
				fmt.Fprintf(w, "%d\t%d\t%d\t%s\n", i, offset, len(u), h264bridge.NALUnitType(u))
				offset += len(u)
			}
			return w.Flush()
		},
	}
}
