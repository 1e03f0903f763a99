package vision

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var ErrModelUnavailable = errors.New("skin classifier model unavailable")

// DefaultLabels are the HAM10000 lesion classes, in the output order of the
// models trained on it.
var DefaultLabels = []string{
	"actinic keratosis",
	"basal cell carcinoma",
	"benign keratosis",
	"dermatofibroma",
	"melanoma",
	"melanocytic nevus",
	"vascular lesion",
}

type Prediction struct {
	Condition   string  `json:"condition"`
	Index       int     `json:"index"`
	Probability float32 `json:"probability"`
}

// Classifier runs a skin lesion ONNX model. The runtime, labels and session
// are loaded on first use; a failed load is remembered and reported as
// ErrModelUnavailable on every call.
type Classifier struct {
	modelPath  string
	labelsPath string
	libPath    string
	topK       int

	loadOnce sync.Once
	loadErr  error

	mu      sync.Mutex
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
	labels  []string
}

func NewClassifier(modelPath, labelsPath, onnxLibPath string, topK int) *Classifier {
	if topK <= 0 {
		topK = 3
	}
	return &Classifier{
		modelPath:  modelPath,
		labelsPath: labelsPath,
		libPath:    onnxLibPath,
		topK:       topK,
	}
}

// Ready loads the model if needed and reports whether it can serve.
func (c *Classifier) Ready() error {
	c.loadOnce.Do(func() { c.loadErr = c.load() })
	if c.loadErr != nil {
		return fmt.Errorf("%w: %v", ErrModelUnavailable, c.loadErr)
	}
	return nil
}

func (c *Classifier) load() error {
	if c.libPath != "" {
		ort.SetSharedLibraryPath(c.libPath)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return fmt.Errorf("onnx init environment: %w", err)
		}
	}

	labels := DefaultLabels
	if c.labelsPath != "" {
		loaded, err := loadLabels(c.labelsPath)
		if err != nil {
			return fmt.Errorf("load labels: %w", err)
		}
		labels = loaded
	}

	inputs, outputs, err := ort.GetInputOutputInfo(c.modelPath)
	if err != nil {
		return fmt.Errorf("onnx get input/output info: %w", err)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return errors.New("onnx model has no inputs or outputs")
	}

	input, err := ort.NewEmptyTensor[float32](inputs[0].Dimensions)
	if err != nil {
		return fmt.Errorf("onnx new input tensor: %w", err)
	}
	output, err := ort.NewEmptyTensor[float32](outputs[0].Dimensions)
	if err != nil {
		input.Destroy()
		return fmt.Errorf("onnx new output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(c.modelPath,
		[]string{inputs[0].Name}, []string{outputs[0].Name},
		[]ort.Value{input}, []ort.Value{output}, nil)
	if err != nil {
		output.Destroy()
		input.Destroy()
		return fmt.Errorf("onnx new session: %w", err)
	}

	c.session = session
	c.input = input
	c.output = output
	c.labels = labels
	return nil
}

// Classify decodes a PNG or JPEG image and returns the most probable
// conditions, highest first.
func (c *Classifier) Classify(ctx context.Context, data []byte) ([]Prediction, error) {
	img, err := DecodeImage(data)
	if err != nil {
		return nil, err
	}
	if err := c.Ready(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tensor := Preprocess(img)

	c.mu.Lock()
	in := c.input.GetData()
	if len(in) != len(tensor) {
		c.mu.Unlock()
		return nil, fmt.Errorf("model input has %d values, expected %d", len(in), len(tensor))
	}
	copy(in, tensor)
	err = c.session.Run()
	logits := append([]float32(nil), c.output.GetData()...)
	c.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("onnx run: %w", err)
	}

	return TopK(Softmax(logits), c.labels, c.topK), nil
}

func (c *Classifier) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil {
		c.session.Destroy()
		c.input.Destroy()
		c.output.Destroy()
		c.session = nil
	}
}

func loadLabels(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var labels []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			labels = append(labels, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(labels) == 0 {
		return nil, errors.New("labels file is empty")
	}
	return labels, nil
}
