//go:build !(linux && arm64)

package decoder

// New builds the platform-appropriate Decoder for this build tag.
func New() (Decoder, error) { return NewSubprocessDecoder() }
