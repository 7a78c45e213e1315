//go:build cgo
// +build cgo

package embedding

import (
	"context"
	"fmt"
	"image"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// CLIP ViT-B/32 visual preprocessing constants.
const (
	clipInputSize = 224
)

var (
	clipMean = [3]float32{0.48145466, 0.4578275, 0.40821073}
	clipStd  = [3]float32{0.26862954, 0.26130258, 0.27577711}
)

// ONNXGateway embeds images with a CLIP visual encoder through ONNX Runtime.
// It requires CGO and the onnxruntime shared library.
type ONNXGateway struct {
	session    *ort.AdvancedSession
	dimensions int
	maxDim     int
	cache      *VectorCache
	// Pre-allocated tensors for Run(); we update input data and read output.
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	mu           sync.Mutex
}

// NewONNXGateway creates an ONNX gateway. InitializeEnvironment is called if
// not already done. dimensions must match the model's output length; maxDim
// is the downscale bound applied before preprocessing.
func NewONNXGateway(modelPath string, dimensions, maxDim, cacheSize int) (*ONNXGateway, error) {
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX runtime: %w", err)
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, clipInputSize, clipInputSize))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(dimensions)))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		modelPath,
		[]string{"pixel_values"},
		[]string{"image_embeds"},
		[]ort.ArbitraryTensor{inputTensor},
		[]ort.ArbitraryTensor{outputTensor},
		nil,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &ONNXGateway{
		session:      session,
		dimensions:   dimensions,
		maxDim:       maxDim,
		cache:        NewVectorCache(cacheSize),
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}, nil
}

// EmbedImage decodes and downscales the image at path, then runs the model.
// Results are cached by (path, mtime, size).
func (g *ONNXGateway) EmbedImage(ctx context.Context, path string) ([]float32, error) {
	key := FileKey(path)
	if cached, ok := g.cache.Get(key); ok {
		return cached, nil
	}

	img, err := LoadImage(path, g.maxDim)
	if err != nil {
		return nil, err
	}

	vec, err := g.run(img)
	if err != nil {
		return nil, err
	}
	if len(vec) != g.dimensions {
		return nil, &ProviderError{Err: fmt.Errorf("model produced %d values, expected %d", len(vec), g.dimensions)}
	}
	g.cache.Set(key, vec)
	return vec, nil
}

// run preprocesses img into the input tensor and executes the session.
// The session and its tensors are shared, so runs are serialized.
func (g *ONNXGateway) run(img image.Image) ([]float32, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	fillCLIPInput(g.inputTensor.GetData(), img)
	if err := g.session.Run(); err != nil {
		return nil, &ProviderError{Err: fmt.Errorf("session run: %w", err)}
	}
	out := g.outputTensor.GetData()
	vec := make([]float32, len(out))
	copy(vec, out)
	return vec, nil
}

// fillCLIPInput writes img into dst in CHW order with CLIP normalization.
// dst must have length 3*clipInputSize*clipInputSize.
func fillCLIPInput(dst []float32, img image.Image) {
	resized := ResizeTo(img, clipInputSize, clipInputSize)
	plane := clipInputSize * clipInputSize
	for y := 0; y < clipInputSize; y++ {
		for x := 0; x < clipInputSize; x++ {
			i := resized.PixOffset(x, y)
			r := float32(resized.Pix[i]) / 255
			gc := float32(resized.Pix[i+1]) / 255
			b := float32(resized.Pix[i+2]) / 255
			p := y*clipInputSize + x
			dst[p] = (r - clipMean[0]) / clipStd[0]
			dst[plane+p] = (gc - clipMean[1]) / clipStd[1]
			dst[2*plane+p] = (b - clipMean[2]) / clipStd[2]
		}
	}
}

// Dimensions returns the embedding dimension.
func (g *ONNXGateway) Dimensions() int {
	return g.dimensions
}

// Close destroys the session and tensors.
func (g *ONNXGateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.session != nil {
		g.session.Destroy()
		g.session = nil
	}
	if g.inputTensor != nil {
		g.inputTensor.Destroy()
		g.inputTensor = nil
	}
	if g.outputTensor != nil {
		g.outputTensor.Destroy()
		g.outputTensor = nil
	}
	return nil
}
