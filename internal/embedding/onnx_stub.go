//go:build !cgo
// +build !cgo

package embedding

import (
	"context"
	"errors"
)

// ONNXGateway stub type when built without CGO (see onnx.go for the real implementation).
type ONNXGateway struct{}

// NewONNXGateway returns an error when built without CGO (ONNX not available).
func NewONNXGateway(_ string, _, _, _ int) (*ONNXGateway, error) {
	return nil, errors.New("ONNX gateway requires CGO; build with CGO_ENABLED=1 and onnxruntime")
}

// EmbedImage is not available without CGO.
func (g *ONNXGateway) EmbedImage(_ context.Context, _ string) ([]float32, error) {
	return nil, errors.New("ONNX gateway not available")
}

// Dimensions returns 0 for the stub.
func (g *ONNXGateway) Dimensions() int { return 0 }

// Close is a no-op for the stub.
func (g *ONNXGateway) Close() error { return nil }
