package embedding

import (
	"errors"
	"fmt"
)

// DecodeError reports an unreadable, corrupt, or unsupported image file.
// Recoverable during a build: the file is recorded as failed and skipped.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode image %s: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ProviderError reports an embedding backend failure, including a produced
// vector whose length disagrees with the gateway's reported dimensionality.
type ProviderError struct {
	Err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("embedding provider: %v", e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IsImageError reports whether err is a per-image failure (decode or
// provider) that a build run records and skips rather than aborting on.
func IsImageError(err error) bool {
	var de *DecodeError
	var pe *ProviderError
	return errors.As(err, &de) || errors.As(err, &pe)
}
