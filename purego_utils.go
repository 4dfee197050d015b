//go:build (darwin || linux) && !noopenh264

// Shared helpers for the purego engine bindings.

package h264bridge

import (
	"os"
	"path/filepath"
	"unsafe"
)

// maxCStringLen bounds the scan for the terminating NUL of engine strings.
const maxCStringLen = 4096

// goStringFromPtr copies a NUL-terminated C string owned by the engine.
func goStringFromPtr(ptr uintptr) string {
	if ptr == 0 {
		return ""
	}
	p := unsafe.Pointer(ptr)
	n := 0
	for n < maxCStringLen && *(*byte)(unsafe.Add(p, n)) != 0 {
		n++
	}
	if n == 0 {
		return ""
	}
	return string(unsafe.Slice((*byte)(p), n))
}

// findModuleRoot walks up from the working directory to the first directory
// holding a go.mod, so tests run from sub-packages still find build/.
func findModuleRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
