package handler

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"dermassist/internal/app"
	"dermassist/internal/model"
	"dermassist/internal/rag"
	"dermassist/internal/transport/http/response"
)

// multipartOverhead is the slack allowed on top of the file size limit for
// form boundaries and other fields.
const multipartOverhead = 1 << 20

type RAGHandler struct {
	ragService *app.RAGService
	pdfPolicy  rag.UploadPolicy
	docPolicy  rag.UploadPolicy
}

type AskRAGRequest struct {
	Query       string `json:"query" binding:"max=2000"`
	DocumentIDs []uint `json:"document_ids"`
	TopK        int    `json:"top_k" binding:"min=0,max=20"`
}

type RetrieveRAGRequest struct {
	Query       string `json:"query" binding:"max=2000"`
	DocumentIDs []uint `json:"document_ids"`
	Limit       int    `json:"limit" binding:"min=0,max=50"`
}

func NewRAGHandler(ragService *app.RAGService, maxUploadBytes int64) *RAGHandler {
	return &RAGHandler{
		ragService: ragService,
		pdfPolicy:  rag.PDFOnlyPolicy(maxUploadBytes),
		docPolicy:  rag.DocumentPolicy(maxUploadBytes),
	}
}

// UploadPDF accepts a multipart form with "file" (PDF) and queues it for
// ingestion.
func (h *RAGHandler) UploadPDF(c *gin.Context) {
	h.upload(c, "file", h.pdfPolicy)
}

// UploadDocument accepts a multipart form with "document" (PDF, DOC, DOCX or
// TXT) and queues it for ingestion.
func (h *RAGHandler) UploadDocument(c *gin.Context) {
	h.upload(c, "document", h.docPolicy)
}

func (h *RAGHandler) upload(c *gin.Context, field string, policy rag.UploadPolicy) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	maxBytes := policy.MaxBytes
	if maxBytes <= 0 {
		maxBytes = rag.DefaultMaxUploadBytes
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes+multipartOverhead)

	input := app.SubmitInput{OwnerID: userID, Policy: policy}
	file, err := c.FormFile(field)
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		response.Error(c, http.StatusBadRequest, response.CodeFileTooLarge, fmt.Sprintf("file too large (max %dMB)", maxBytes>>20))
		return
	case err == nil:
		f, err := file.Open()
		if err != nil {
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "failed to read file")
			return
		}
		defer f.Close()
		input.Filename = file.Filename
		input.DeclaredType = file.Header.Get("Content-Type")
		input.Size = file.Size
		input.Content = f
	}

	result, err := h.ragService.Submit(c.Request.Context(), input)
	if err != nil {
		writeError(c, err, "upload failed")
		return
	}
	response.OK(c, result)
}

func (h *RAGHandler) ListDocuments(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	docs, err := h.ragService.ListDocuments(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err, "list documents failed")
		return
	}
	if docs == nil {
		docs = []model.Document{}
	}
	response.OK(c, docs)
}

// ListUserFiles lists the files uploaded by :userId, which must be the caller.
func (h *RAGHandler) ListUserFiles(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}
	requested, err := parseUintParam(c, "userId")
	if err != nil || requested == 0 {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid user id")
		return
	}

	docs, err := h.ragService.ListFilesFor(c.Request.Context(), userID, requested)
	if err != nil {
		writeError(c, err, "list files failed")
		return
	}
	if docs == nil {
		docs = []model.Document{}
	}
	response.OK(c, docs)
}

func (h *RAGHandler) DocumentStatus(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}
	docID, err := parseUintParam(c, "id")
	if err != nil || docID == 0 {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid document id")
		return
	}

	view, err := h.ragService.Status(c.Request.Context(), userID, docID)
	if err != nil {
		writeError(c, err, "get document status failed")
		return
	}
	response.OK(c, view)
}

func (h *RAGHandler) DeleteDocument(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}
	docID, err := parseUintParam(c, "id")
	if err != nil || docID == 0 {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid document id")
		return
	}
	if err := h.ragService.DeleteDocument(c.Request.Context(), userID, docID); err != nil {
		writeError(c, err, "delete document failed")
		return
	}
	response.OK(c, gin.H{"deleted_document_id": docID})
}

func (h *RAGHandler) Ask(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	var req AskRAGRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	result, err := h.ragService.Ask(c.Request.Context(), app.AskInput{
		OwnerID:     userID,
		Query:       req.Query,
		DocumentIDs: req.DocumentIDs,
		TopK:        req.TopK,
	})
	if err != nil {
		writeError(c, err, "ask failed")
		return
	}
	response.OK(c, result)
}

func (h *RAGHandler) Retrieve(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	var req RetrieveRAGRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	chunks, err := h.ragService.Retrieve(c.Request.Context(), app.RetrieveInput{
		OwnerID:     userID,
		Query:       req.Query,
		DocumentIDs: req.DocumentIDs,
		Limit:       req.Limit,
	})
	if err != nil {
		writeError(c, err, "retrieve failed")
		return
	}
	response.OK(c, gin.H{"chunks": chunks, "count": len(chunks)})
}
