package emotion

import (
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/tphakala/go-tflite"

	"github.com/tphakala/emotion-go/internal/errors"
	"github.com/tphakala/emotion-go/internal/logger"
)

// Classifier maps a normalized 48x48 grayscale face to label probabilities.
type Classifier interface {
	Classify(face []float32) ([]float32, error)
}

// TFLiteClassifier runs the emotion CNN with TensorFlow Lite.
type TFLiteClassifier struct {
	mu          sync.Mutex
	model       *tflite.Model
	interpreter *tflite.Interpreter
	path        string
	sizeBytes   int
	inputShape  []int
	outputShape []int
}

// NewTFLiteClassifier loads the model at path. threads <= 0 uses all CPUs.
func NewTFLiteClassifier(path string, threads int) (*TFLiteClassifier, error) {
	start := time.Now()

	modelData, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(err).
			Component("emotion").
			Category(errors.CategoryModelLoad).
			FileContext(path).
			Timing("model-load", time.Since(start)).
			Build()
	}

	model := tflite.NewModel(modelData)
	if model == nil {
		return nil, errors.New(fmt.Errorf("cannot load TensorFlow Lite model")).
			Component("emotion").
			Category(errors.CategoryModelInit).
			FileContext(path).
			Context("model_size_kb", len(modelData)/1024).
			Build()
	}

	threads = determineThreadCount(threads)
	options := tflite.NewInterpreterOptions()
	options.SetNumThread(threads)
	options.SetErrorReporter(func(msg string, _ any) {
		GetLogger().Error("TFLite error", logger.String("message", msg))
	}, nil)

	interpreter := tflite.NewInterpreter(model, options)
	if interpreter == nil {
		model.Delete()
		return nil, errors.New(fmt.Errorf("cannot create interpreter")).
			Component("emotion").
			Category(errors.CategoryModelInit).
			FileContext(path).
			Build()
	}
	if status := interpreter.AllocateTensors(); status != tflite.OK {
		interpreter.Delete()
		model.Delete()
		return nil, errors.New(fmt.Errorf("tensor allocation failed: %v", status)).
			Component("emotion").
			Category(errors.CategoryModelInit).
			FileContext(path).
			Build()
	}

	c := &TFLiteClassifier{
		model:       model,
		interpreter: interpreter,
		path:        path,
		sizeBytes:   len(modelData),
		inputShape:  tensorShape(interpreter.GetInputTensor(0)),
		outputShape: tensorShape(interpreter.GetOutputTensor(0)),
	}

	if err := c.validateShapes(); err != nil {
		c.Close()
		return nil, err
	}

	GetLogger().Info("emotion model initialized",
		logger.String("model", path),
		logger.Int("threads", threads),
		logger.Any("input_shape", c.inputShape),
		logger.Any("output_shape", c.outputShape),
		logger.Int64("load_ms", time.Since(start).Milliseconds()))
	return c, nil
}

// validateShapes checks for a (1, 48, 48, 1) input and 7 outputs.
func (c *TFLiteClassifier) validateShapes() error {
	inputSize := 1
	for _, d := range c.inputShape {
		inputSize *= d
	}
	outputSize := 1
	for _, d := range c.outputShape {
		outputSize *= d
	}
	if inputSize != FaceSize*FaceSize || outputSize != NumLabels {
		return errors.Newf("unexpected model shape: input %v output %v", c.inputShape, c.outputShape).
			Component("emotion").
			Category(errors.CategoryModelInit).
			Context("expected_input", FaceSize*FaceSize).
			Context("expected_output", NumLabels).
			Build()
	}
	return nil
}

// Classify runs one inference. The interpreter is not safe for concurrent
// use, calls are serialized.
func (c *TFLiteClassifier) Classify(face []float32) ([]float32, error) {
	if len(face) != FaceSize*FaceSize {
		return nil, fmt.Errorf("%w: input has %d values, want %d", ErrInvalidFrame, len(face), FaceSize*FaceSize)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.interpreter == nil {
		return nil, ErrModelUnavailable
	}

	input := c.interpreter.GetInputTensor(0)
	if input == nil {
		return nil, fmt.Errorf("%w: cannot get input tensor", ErrInference)
	}
	copy(input.Float32s(), face)

	if status := c.interpreter.Invoke(); status != tflite.OK {
		return nil, fmt.Errorf("%w: tensor invoke failed: %v", ErrInference, status)
	}

	output := c.interpreter.GetOutputTensor(0)
	if output == nil {
		return nil, fmt.Errorf("%w: cannot get output tensor", ErrInference)
	}
	probs := make([]float32, len(output.Float32s()))
	copy(probs, output.Float32s())
	return probs, nil
}

// InputShape returns the model input tensor shape.
func (c *TFLiteClassifier) InputShape() []int { return append([]int(nil), c.inputShape...) }

// OutputShape returns the model output tensor shape.
func (c *TFLiteClassifier) OutputShape() []int { return append([]int(nil), c.outputShape...) }

// ParamCount approximates the parameter count from the flatbuffer size,
// assuming float32 weights. TensorFlow Lite does not expose the count.
func (c *TFLiteClassifier) ParamCount() int64 {
	return int64(c.sizeBytes / 4)
}

// Path returns the model file path.
func (c *TFLiteClassifier) Path() string { return c.path }

// Close releases the interpreter and model.
func (c *TFLiteClassifier) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.interpreter != nil {
		c.interpreter.Delete()
		c.interpreter = nil
	}
	if c.model != nil {
		c.model.Delete()
		c.model = nil
	}
}

func tensorShape(t *tflite.Tensor) []int {
	if t == nil {
		return nil
	}
	shape := make([]int, t.NumDims())
	for i := range shape {
		shape[i] = t.Dim(i)
	}
	return shape
}

// determineThreadCount caps the configured count at the CPU count.
func determineThreadCount(configured int) int {
	cpus := runtime.NumCPU()
	if configured <= 0 || configured > cpus {
		return cpus
	}
	return configured
}
