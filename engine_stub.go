//go:build !(darwin || linux) || noopenh264

package h264bridge

// IsAvailable reports whether the native OpenH264 engine can be loaded.
func IsAvailable() bool { return false }

// EngineVersion returns the native engine version, or "" when unavailable.
func EngineVersion() string { return "" }

// NativeBackend returns a backend whose engines always fail with
// ErrEngineUnavailable.
func NativeBackend() Backend { return unavailableBackend{} }

type unavailableBackend struct{}

func (unavailableBackend) NewDecoder(DecoderConfig) (DecoderEngine, error) {
	return nil, &Error{Kind: KindRuntime, Msg: "decoder not available", Err: ErrEngineUnavailable}
}

func (unavailableBackend) NewEncoder(EncoderConfig) (EncoderEngine, error) {
	return nil, &Error{Kind: KindRuntime, Msg: "encoder not available", Err: ErrEngineUnavailable}
}
