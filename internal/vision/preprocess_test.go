package vision

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngBytes(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestDecodeImage(t *testing.T) {
	img, err := DecodeImage(pngBytes(t, 10, 20, color.White))
	require.NoError(t, err)
	assert.Equal(t, 10, img.Bounds().Dx())
	assert.Equal(t, 20, img.Bounds().Dy())

	_, err = DecodeImage([]byte("definitely not an image"))
	assert.ErrorIs(t, err, ErrInvalidImage)
}

func TestPreprocessShapeAndNormalisation(t *testing.T) {
	img, err := DecodeImage(pngBytes(t, 32, 16, color.RGBA{R: 255, G: 0, B: 0, A: 255}))
	require.NoError(t, err)

	tensor := Preprocess(img)
	require.Len(t, tensor, 3*inputSize*inputSize)

	const plane = inputSize * inputSize
	center := (inputSize/2)*inputSize + inputSize/2
	assert.InDelta(t, (1-0.485)/0.229, tensor[center], 0.02)
	assert.InDelta(t, (0-0.456)/0.224, tensor[plane+center], 0.02)
	assert.InDelta(t, (0-0.406)/0.225, tensor[2*plane+center], 0.02)
}

func TestSoftmax(t *testing.T) {
	probs := Softmax([]float32{1, 2, 3})
	require.Len(t, probs, 3)
	var sum float32
	for _, p := range probs {
		sum += p
	}
	assert.InDelta(t, 1.0, sum, 1e-5)
	assert.Greater(t, probs[2], probs[1])
	assert.Greater(t, probs[1], probs[0])

	large := Softmax([]float32{1000, 1000})
	assert.InDelta(t, 0.5, large[0], 1e-6)
	assert.Nil(t, Softmax(nil))
}

func TestTopK(t *testing.T) {
	preds := TopK([]float32{0.1, 0.6, 0.3}, []string{"a", "b"}, 2)
	require.Len(t, preds, 2)
	assert.Equal(t, "b", preds[0].Condition)
	assert.Equal(t, 1, preds[0].Index)
	assert.Equal(t, "class 2", preds[1].Condition)

	assert.Len(t, TopK([]float32{0.5, 0.5}, nil, 0), 2)
}

func TestLoadLabels(t *testing.T) {
	path := filepath.Join(t.TempDir(), "labels.txt")
	require.NoError(t, os.WriteFile(path, []byte("melanoma\n\n nevus \n"), 0o644))

	labels, err := loadLabels(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"melanoma", "nevus"}, labels)

	empty := filepath.Join(t.TempDir(), "empty.txt")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	_, err = loadLabels(empty)
	assert.Error(t, err)
}

func TestClassifyRejectsBadImageBeforeLoadingModel(t *testing.T) {
	c := NewClassifier("missing.onnx", "", "", 0)
	_, err := c.Classify(context.Background(), []byte("nope"))
	assert.ErrorIs(t, err, ErrInvalidImage)
}
