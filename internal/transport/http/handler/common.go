package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"dermassist/internal/app"
	"dermassist/internal/rag"
	"dermassist/internal/transport/http/middleware"
	"dermassist/internal/transport/http/response"
)

func getUserIDFromContext(c *gin.Context) (uint, bool) {
	return middleware.UserID(c)
}

func parseUintParam(c *gin.Context, key string) (uint, error) {
	u, err := strconv.ParseUint(c.Param(key), 10, 64)
	return uint(u), err
}

// writeError maps service errors onto the response envelope. Anything not
// recognised is reported as fallback with a 500.
func writeError(c *gin.Context, err error, fallback string) {
	var validationErr *rag.ValidationError
	switch {
	case errors.As(err, &validationErr):
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, validationErr.Reason)
	case errors.Is(err, app.ErrInvalidInput):
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
	case errors.Is(err, rag.ErrUnsupportedType):
		response.Error(c, http.StatusUnsupportedMediaType, response.CodeUnsupportedType, err.Error())
	case errors.Is(err, app.ErrUsernameExists):
		response.Error(c, http.StatusConflict, response.CodeUsernameExists, err.Error())
	case errors.Is(err, app.ErrEmailExists):
		response.Error(c, http.StatusConflict, response.CodeEmailExists, err.Error())
	case errors.Is(err, app.ErrInvalidCredential):
		response.Error(c, http.StatusUnauthorized, response.CodeInvalidCredentials, err.Error())
	case errors.Is(err, app.ErrDocumentNotFound):
		response.Error(c, http.StatusNotFound, response.CodeDocumentNotFound, err.Error())
	case errors.Is(err, app.ErrAccessDenied):
		response.Error(c, http.StatusForbidden, response.CodeAccessDenied, err.Error())
	case errors.Is(err, app.ErrQueueUnavailable):
		response.Error(c, http.StatusServiceUnavailable, response.CodeServiceUnavailable, app.ErrQueueUnavailable.Error())
	case errors.Is(err, rag.ErrDimensionMismatch):
		response.Error(c, http.StatusInternalServerError, response.CodeDimensionMismatch, err.Error())
	default:
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, fallback)
	}
}
