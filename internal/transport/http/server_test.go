package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dermassist/internal/bootstrap"
	"dermassist/internal/config"
	"dermassist/internal/transport/http/response"
)

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type testServer struct {
	t      *testing.T
	router *gin.Engine
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.toml"))
	cfg, err := config.Load()
	require.NoError(t, err)
	cfg.App.GinMode = gin.TestMode
	cfg.Upload.Dir = t.TempDir()
	cfg.Upload.MaxMB = 1
	cfg.Embedding.APIKey = ""
	cfg.Generation.APIKey = ""
	cfg.Vision.ModelPath = filepath.Join(t.TempDir(), "missing.onnx")

	a, err := bootstrap.NewLocal(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return &testServer{t: t, router: NewRouter(a)}
}

func (s *testServer) do(req *http.Request, token string) (int, envelope) {
	s.t.Helper()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	var env envelope
	if w.Body.Len() > 0 {
		require.NoError(s.t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	}
	return w.Code, env
}

func (s *testServer) postJSON(path, token string, body interface{}) (int, envelope) {
	s.t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(s.t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	return s.do(req, token)
}

func (s *testServer) upload(path, token, field, filename, contentType string, content []byte) (int, envelope) {
	s.t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if field != "" {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, filename))
		h.Set("Content-Type", contentType)
		part, err := mw.CreatePart(h)
		require.NoError(s.t, err)
		_, err = part.Write(content)
		require.NoError(s.t, err)
	}
	require.NoError(s.t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return s.do(req, token)
}

func (s *testServer) register(username string) (string, uint) {
	s.t.Helper()
	code, env := s.postJSON("/api/v1/auth/register", "", map[string]string{
		"username": username,
		"email":    username + "@example.com",
		"password": "long-enough-password",
	})
	require.Equal(s.t, http.StatusOK, code, env.Message)
	var data struct {
		Token string `json:"token"`
		User  struct {
			ID uint `json:"id"`
		} `json:"user"`
	}
	require.NoError(s.t, json.Unmarshal(env.Data, &data))
	return data.Token, data.User.ID
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"app":"dermassist"`)
}

func TestAuthFlow(t *testing.T) {
	s := newTestServer(t)
	token, id := s.register("ana")

	code, env := s.do(httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil), token)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), `"username":"ana"`)
	assert.NotZero(t, id)

	code, env = s.postJSON("/api/v1/auth/register", "", map[string]string{
		"username": "ana",
		"email":    "other@example.com",
		"password": "long-enough-password",
	})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, response.CodeUsernameExists, env.Code)

	code, env = s.postJSON("/api/v1/auth/login", "", map[string]string{"email": "ana@example.com", "password": "long-enough-password"})
	require.Equal(t, http.StatusOK, code, env.Message)
	assert.Contains(t, string(env.Data), `"token":`)

	code, env = s.postJSON("/api/v1/auth/login", "", map[string]string{"username": "ana", "password": "wrong-password"})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, response.CodeInvalidCredentials, env.Code)

	code, _ = s.do(httptest.NewRequest(http.MethodGet, "/api/v1/rag/documents", nil), "")
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestUploadStatusAskDelete(t *testing.T) {
	s := newTestServer(t)
	token, _ := s.register("ana")

	text := "Psoriasis plaques respond well to IL-17 inhibitors. Moisturisers help with dry, scaly skin."
	code, env := s.upload("/api/v1/documents/upload", token, "document", "psoriasis.txt", "text/plain", []byte(text))
	require.Equal(t, http.StatusOK, code, env.Message)
	var submitted struct {
		DocumentID uint   `json:"document_id"`
		Filename   string `json:"filename"`
		Status     string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &submitted))
	assert.Equal(t, "psoriasis.txt", submitted.Filename)
	assert.Equal(t, "processing", submitted.Status)

	statusPath := fmt.Sprintf("/api/v1/rag/documents/%d/status", submitted.DocumentID)
	code, env = s.do(httptest.NewRequest(http.MethodGet, statusPath, nil), token)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), `"status":"completed"`)
	assert.Contains(t, string(env.Data), `"chunk_count":1`)

	code, env = s.postJSON("/api/v1/rag/ask", token, map[string]interface{}{"query": "What helps psoriasis plaques?"})
	require.Equal(t, http.StatusOK, code, env.Message)
	var answer struct {
		Answer             string `json:"answer"`
		RelevantChunkCount int    `json:"relevant_chunk_count"`
		Sources            []struct {
			DocumentID uint    `json:"document_id"`
			Filename   string  `json:"filename"`
			ChunkIndex int     `json:"chunk_index"`
			Score      float64 `json:"score"`
		} `json:"sources"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &answer))
	assert.Equal(t, 1, answer.RelevantChunkCount)
	require.Len(t, answer.Sources, 1)
	assert.Equal(t, submitted.DocumentID, answer.Sources[0].DocumentID)
	assert.Contains(t, answer.Answer, "IL-17")

	code, env = s.postJSON("/api/v1/rag/retrieve", token, map[string]interface{}{"query": "psoriasis", "limit": 1})
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), `"count":1`)

	del := httptest.NewRequest(http.MethodDelete, fmt.Sprintf("/api/v1/rag/documents/%d", submitted.DocumentID), nil)
	code, _ = s.do(del, token)
	require.Equal(t, http.StatusOK, code)

	code, env = s.do(httptest.NewRequest(http.MethodGet, statusPath, nil), token)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, response.CodeDocumentNotFound, env.Code)
}

func TestUploadValidation(t *testing.T) {
	s := newTestServer(t)
	token, _ := s.register("ana")

	code, env := s.upload("/api/v1/rag/upload", token, "file", "notes.txt", "text/plain", []byte("hello there"))
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid file type, allowed: PDF", env.Message)

	code, env = s.upload("/api/v1/rag/upload", token, "", "", "", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "no file uploaded", env.Message)

	code, env = s.upload("/api/v1/documents/upload", token, "document", "big.txt", "text/plain", bytes.Repeat([]byte("a"), 1<<20+1))
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "file too large (max 1MB)", env.Message)

	code, env = s.do(httptest.NewRequest(http.MethodGet, "/api/v1/rag/documents", nil), token)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "[]", string(env.Data))
}

func TestAskWithoutDocuments(t *testing.T) {
	s := newTestServer(t)
	token, _ := s.register("ana")

	code, env := s.postJSON("/api/v1/rag/ask", token, map[string]interface{}{"query": "eczema"})
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), `"relevant_chunk_count":0`)
	assert.Contains(t, string(env.Data), "couldn't find any relevant information")

	code, _ = s.postJSON("/api/v1/rag/ask", token, map[string]interface{}{"query": "  "})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestListUserFilesAccessDenied(t *testing.T) {
	s := newTestServer(t)
	token, id := s.register("ana")

	code, _ := s.do(httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/v1/rag/upload/files/%d", id), nil), token)
	assert.Equal(t, http.StatusOK, code)

	code, env := s.do(httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/v1/rag/upload/files/%d", id+1), nil), token)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, response.CodeAccessDenied, env.Code)
}

func TestDiagnosisRejectsNonImages(t *testing.T) {
	s := newTestServer(t)
	token, _ := s.register("ana")

	code, env := s.upload("/api/v1/diagnosis/analyze", token, "image", "note.txt", "text/plain", []byte("not an image"))
	assert.Equal(t, http.StatusUnsupportedMediaType, code)
	assert.Equal(t, response.CodeUnsupportedType, env.Code)

	code, _ = s.upload("/api/v1/diagnosis/analyze", token, "", "", "", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}
