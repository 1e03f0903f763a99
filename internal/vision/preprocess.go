package vision

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"sort"

	"golang.org/x/image/draw"
)

const (
	inputSize = 224
	maxPixels = 40_000_000
)

var ErrInvalidImage = errors.New("invalid image")

// ImageNet normalisation, which the lesion models are fine-tuned with.
var (
	channelMean = [3]float32{0.485, 0.456, 0.406}
	channelStd  = [3]float32{0.229, 0.224, 0.225}
)

// DecodeImage accepts PNG and JPEG. Images are checked by header before the
// pixels are decoded.
func DecodeImage(data []byte) (image.Image, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if format != "png" && format != "jpeg" {
		return nil, fmt.Errorf("%w: unsupported format %s", ErrInvalidImage, format)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width*cfg.Height > maxPixels {
		return nil, fmt.Errorf("%w: %dx%d pixels", ErrInvalidImage, cfg.Width, cfg.Height)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	return img, nil
}

// Preprocess scales img to 224x224 and returns it as a normalised NCHW
// float32 tensor of shape [1, 3, 224, 224].
func Preprocess(img image.Image) []float32 {
	dst := image.NewRGBA(image.Rect(0, 0, inputSize, inputSize))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)

	const plane = inputSize * inputSize
	out := make([]float32, 3*plane)
	for y := 0; y < inputSize; y++ {
		for x := 0; x < inputSize; x++ {
			px := dst.RGBAAt(x, y)
			i := y*inputSize + x
			for ch, v := range [3]uint8{px.R, px.G, px.B} {
				out[ch*plane+i] = (float32(v)/255 - channelMean[ch]) / channelStd[ch]
			}
		}
	}
	return out
}

// Softmax turns logits into probabilities.
func Softmax(logits []float32) []float32 {
	if len(logits) == 0 {
		return nil
	}
	maxLogit := logits[0]
	for _, v := range logits[1:] {
		if v > maxLogit {
			maxLogit = v
		}
	}
	out := make([]float32, len(logits))
	var sum float64
	for i, v := range logits {
		e := math.Exp(float64(v - maxLogit))
		out[i] = float32(e)
		sum += e
	}
	for i := range out {
		out[i] = float32(float64(out[i]) / sum)
	}
	return out
}

// TopK pairs probabilities with labels and keeps the k highest. Outputs
// without a label are named by index.
func TopK(probs []float32, labels []string, k int) []Prediction {
	preds := make([]Prediction, len(probs))
	for i, p := range probs {
		name := fmt.Sprintf("class %d", i)
		if i < len(labels) {
			name = labels[i]
		}
		preds[i] = Prediction{Condition: name, Index: i, Probability: p}
	}
	sort.SliceStable(preds, func(i, j int) bool { return preds[i].Probability > preds[j].Probability })
	if k > 0 && k < len(preds) {
		preds = preds[:k]
	}
	return preds
}
