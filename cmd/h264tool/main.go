// Command h264tool inspects, decodes and encodes H.264 streams through the
// h264bridge boundary.
package main

import (
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
