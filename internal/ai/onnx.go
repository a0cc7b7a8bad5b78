package ai

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"os"
	"sync"

	"github.com/nfnt/resize"
	"github.com/rs/zerolog"
	ort "github.com/yalue/onnxruntime_go"
)

// ONNXOptions configures a matting model session
type ONNXOptions struct {
	ModelPath      string
	RuntimeLibrary string // path to libonnxruntime; empty uses the loader default
	InputName      string
	OutputName     string
	InputSize      int // square model resolution
	Threshold      float64
}

// ONNXSegmenter runs a portrait matting model taking float32[1,3,N,N] RGB
// in [0,1] and producing a float32[1,1,N,N] foreground probability map.
type ONNXSegmenter struct {
	logger    zerolog.Logger
	size      int
	threshold float64

	mu      sync.Mutex
	session *ort.DynamicAdvancedSession
}

// NewONNXSegmenter loads the model and initializes the runtime
func NewONNXSegmenter(logger zerolog.Logger, opts ONNXOptions) (*ONNXSegmenter, error) {
	if _, err := os.Stat(opts.ModelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrModelNotFound, opts.ModelPath)
	}
	if opts.InputSize <= 0 {
		return nil, fmt.Errorf("invalid input size %d", opts.InputSize)
	}

	if opts.RuntimeLibrary != "" {
		ort.SetSharedLibraryPath(opts.RuntimeLibrary)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX runtime: %w", err)
	}

	sess, err := ort.NewDynamicAdvancedSession(
		opts.ModelPath,
		[]string{opts.InputName},
		[]string{opts.OutputName},
		nil,
	)
	if err != nil {
		ort.DestroyEnvironment()
		return nil, fmt.Errorf("failed to create matting session: %w", err)
	}

	logger.Info().
		Str("model", opts.ModelPath).
		Int("input_size", opts.InputSize).
		Msg("matting model loaded")

	return &ONNXSegmenter{
		logger:    logger.With().Str("segmenter", "onnx").Logger(),
		size:      opts.InputSize,
		threshold: opts.Threshold,
		session:   sess,
	}, nil
}

// Segment runs one inference. The runtime call itself cannot be interrupted,
// so ctx is only checked around it.
func (s *ONNXSegmenter) Segment(ctx context.Context, frame image.Image) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil, errors.New("segmenter closed")
	}

	n := s.size
	input, err := ort.NewTensor(ort.NewShape(1, 3, int64(n), int64(n)), tensorFromImage(frame, n))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer input.Destroy()

	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1, int64(n), int64(n)))
	if err != nil {
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	defer output.Destroy()

	if err := s.session.Run([]ort.ArbitraryTensor{input}, []ort.ArbitraryTensor{output}); err != nil {
		return nil, fmt.Errorf("matting inference failed: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mask := maskFromProbabilities(output.GetData(), n, frame.Bounds(), s.threshold)

	s.logger.Debug().
		Int("width", frame.Bounds().Dx()).
		Int("height", frame.Bounds().Dy()).
		Msg("segmentation complete")

	return &Result{Mask: mask, Image: frame}, nil
}

// tensorFromImage resizes img to n×n and lays it out planar RGB in [0,1]
func tensorFromImage(img image.Image, n int) []float32 {
	resized := resize.Resize(uint(n), uint(n), img, resize.Bilinear)
	bounds := resized.Bounds()
	plane := n * n
	data := make([]float32, 3*plane)

	idx := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := resized.At(x, y).RGBA()
			data[idx] = float32(r>>8) / 255.0
			data[plane+idx] = float32(g>>8) / 255.0
			data[2*plane+idx] = float32(b>>8) / 255.0
			idx++
		}
	}
	return data
}

// maskFromProbabilities scales an n×n probability map to bounds. Values
// under threshold become fully transparent; the rest keep soft edges.
func maskFromProbabilities(probs []float32, n int, bounds image.Rectangle, threshold float64) *image.Alpha {
	small := image.NewGray(image.Rect(0, 0, n, n))
	for i := 0; i < n*n && i < len(probs); i++ {
		p := float64(probs[i])
		if p < threshold {
			p = 0
		}
		small.Pix[i] = uint8(clampUnit(p)*255 + 0.5)
	}

	scaled := resize.Resize(uint(bounds.Dx()), uint(bounds.Dy()), small, resize.Bilinear)
	mask := image.NewAlpha(bounds)
	sb := scaled.Bounds()
	for y := 0; y < bounds.Dy(); y++ {
		for x := 0; x < bounds.Dx(); x++ {
			g := color.GrayModel.Convert(scaled.At(sb.Min.X+x, sb.Min.Y+y)).(color.Gray)
			mask.SetAlpha(bounds.Min.X+x, bounds.Min.Y+y, color.Alpha{A: g.Y})
		}
	}
	return mask
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Close releases the session and the ONNX environment
func (s *ONNXSegmenter) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return nil
	}
	s.logger.Info().Msg("closing matting session")
	err := s.session.Destroy()
	s.session = nil
	if envErr := ort.DestroyEnvironment(); err == nil {
		err = envErr
	}
	return err
}
