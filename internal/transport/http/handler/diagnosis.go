package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"

	"dermassist/internal/transport/http/response"
	"dermassist/internal/vision"
)

const diagnosisDisclaimer = "This analysis is informational only and is not a medical diagnosis. Please consult a dermatologist."

type SkinClassifier interface {
	Classify(ctx context.Context, data []byte) ([]vision.Prediction, error)
}

type DiagnosisHandler struct {
	classifier SkinClassifier
	maxBytes   int64
}

func NewDiagnosisHandler(classifier SkinClassifier, maxBytes int64) *DiagnosisHandler {
	if maxBytes <= 0 {
		maxBytes = 10 << 20
	}
	return &DiagnosisHandler{classifier: classifier, maxBytes: maxBytes}
}

// Analyze accepts a multipart form with "image" (PNG or JPEG) and returns the
// most likely skin conditions.
func (h *DiagnosisHandler) Analyze(c *gin.Context) {
	file, err := c.FormFile("image")
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "missing image file (form field 'image')")
		return
	}
	if file.Size > h.maxBytes {
		response.Error(c, http.StatusBadRequest, response.CodeFileTooLarge, fmt.Sprintf("image too large (max %dMB)", h.maxBytes>>20))
		return
	}

	f, err := file.Open()
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "failed to open uploaded file")
		return
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, h.maxBytes))
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "failed to read image")
		return
	}
	if mt := mimetype.Detect(data); !mt.Is("image/png") && !mt.Is("image/jpeg") {
		response.Error(c, http.StatusUnsupportedMediaType, response.CodeUnsupportedType, "invalid image type, allowed: PNG, JPEG")
		return
	}

	predictions, err := h.classifier.Classify(c.Request.Context(), data)
	if err != nil {
		switch {
		case errors.Is(err, vision.ErrInvalidImage):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		case errors.Is(err, vision.ErrModelUnavailable):
			response.Error(c, http.StatusServiceUnavailable, response.CodeServiceUnavailable,
				"skin classifier unavailable; check VISION_MODEL_PATH and VISION_ONNX_LIB")
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "classification failed")
		}
		return
	}

	response.OK(c, gin.H{
		"predictions": predictions,
		"disclaimer":  diagnosisDisclaimer,
	})
}
