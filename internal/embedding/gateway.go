// Package embedding provides image embedding gateways and caching.
package embedding

import "context"

// Gateway turns one image file into one fixed-length embedding vector.
// Implementations must report their output dimensionality once per session
// via Dimensions; a produced vector of any other length is a provider error.
type Gateway interface {
	// EmbedImage decodes, downscales, and encodes the image at path.
	// Fails with *DecodeError for corrupt or unsupported images and
	// *ProviderError for backend failures.
	EmbedImage(ctx context.Context, path string) ([]float32, error)
	Dimensions() int
	Close() error
}
