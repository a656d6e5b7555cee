package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docchat/internal/app"
	"docchat/internal/engine"
	"docchat/internal/model"
	"docchat/internal/reader"
	"docchat/internal/retrieval"
	"docchat/internal/transport/http/response"
)

type fakeService struct {
	docs []model.Document

	uploaded  map[string]string
	strategy  reader.Strategy
	uploadErr error
	saveErr   error

	ask     app.AskInput
	chat    app.ChatInput
	answer  *engine.Answer
	askErr  error
	chunks  []string
	history []model.Exchange
	histErr error
}

func (f *fakeService) ListDocuments() []model.Document { return f.docs }

func (f *fakeService) DefaultStrategy() reader.Strategy { return reader.StrategyPDF }

func (f *fakeService) Upload(_ context.Context, files []app.UploadFile, strategy reader.Strategy) (*app.UploadResult, error) {
	f.uploaded = map[string]string{}
	f.strategy = strategy
	res := &app.UploadResult{SaveError: f.saveErr}
	for _, file := range files {
		raw, _ := io.ReadAll(file.Body)
		f.uploaded[file.Name] = string(raw)
		if f.uploadErr != nil {
			return res, f.uploadErr
		}
		res.Documents = append(res.Documents, model.Document{FileName: file.Name, IndexID: "id-" + file.Name})
	}
	return res, nil
}

func (f *fakeService) Ask(_ context.Context, input app.AskInput) (*engine.Answer, error) {
	f.ask = input
	return f.answer, f.askErr
}

func (f *fakeService) Chat(_ context.Context, input app.ChatInput, onChunk func(string) error) (*engine.Answer, error) {
	f.chat = input
	if f.askErr != nil {
		return nil, f.askErr
	}
	if onChunk != nil {
		for _, c := range f.chunks {
			if err := onChunk(c); err != nil {
				return nil, err
			}
		}
	}
	return f.answer, nil
}

func (f *fakeService) Transcript(_ context.Context, fileName string, limit int) ([]model.Exchange, error) {
	return f.history, f.histErr
}

func newTestRouter(svc *fakeService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	docs := NewDocumentHandler(svc, 1)
	ask := NewAskHandler(svc)
	r.GET("/documents", docs.List)
	r.POST("/documents", docs.Upload)
	r.GET("/documents/:name/transcript", docs.Transcript)
	r.POST("/ask", ask.Ask)
	r.POST("/chat", ask.Chat)
	r.POST("/chat/stream", ask.ChatStream)
	return r
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) response.APIResponse {
	t.Helper()
	var body response.APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func postJSON(r http.Handler, path string, payload any) *httptest.ResponseRecorder {
	raw, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func multipartRequest(t *testing.T, fields map[string]string, files map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	for name, content := range files {
		part, err := w.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/documents", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestListDocuments(t *testing.T) {
	svc := &fakeService{docs: []model.Document{{FileName: "a.pdf", IndexID: "1"}}}
	rec := httptest.NewRecorder()
	newTestRouter(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/documents", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"file_name":"a.pdf"`)
	assert.Contains(t, rec.Body.String(), `"default_strategy":"pdf"`)
	assert.Contains(t, rec.Body.String(), `"pdf-pages"`)
}

func TestUploadPassesFilesAndStrategy(t *testing.T) {
	svc := &fakeService{}
	rec := httptest.NewRecorder()
	newTestRouter(svc).ServeHTTP(rec, multipartRequest(t,
		map[string]string{"strategy": "directory"},
		map[string]string{"notes.txt": "hello"},
	))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, response.CodeOK, decode(t, rec).Code)
	assert.Equal(t, reader.StrategyDirectory, svc.strategy)
	assert.Equal(t, map[string]string{"notes.txt": "hello"}, svc.uploaded)
	assert.Contains(t, rec.Body.String(), `"index_id":"id-notes.txt"`)
}

func TestUploadRejectsUnknownStrategy(t *testing.T) {
	svc := &fakeService{}
	rec := httptest.NewRecorder()
	newTestRouter(svc).ServeHTTP(rec, multipartRequest(t,
		map[string]string{"strategy": "ocr"},
		map[string]string{"a.pdf": "x"},
	))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Nil(t, svc.uploaded)
}

func TestUploadWithoutFiles(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestRouter(&fakeService{}).ServeHTTP(rec, multipartRequest(t, nil, nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadReportsSaveError(t *testing.T) {
	svc := &fakeService{saveErr: errors.New("disk full")}
	rec := httptest.NewRecorder()
	newTestRouter(svc).ServeHTTP(rec, multipartRequest(t, nil, map[string]string{"a.pdf": "x"}))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"save_error":"disk full"`)
}

func TestUploadExtractionFailure(t *testing.T) {
	svc := &fakeService{uploadErr: fmt.Errorf("read a.pdf failed: %w", reader.ErrNoText)}
	rec := httptest.NewRecorder()
	newTestRouter(svc).ServeHTTP(rec, multipartRequest(t, nil, map[string]string{"a.pdf": "x"}))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, response.CodeUnsupported, decode(t, rec).Code)
}

func TestUploadTooLarge(t *testing.T) {
	svc := &fakeService{}
	rec := httptest.NewRecorder()
	newTestRouter(svc).ServeHTTP(rec, multipartRequest(t, nil, map[string]string{"big.txt": strings.Repeat("x", 2<<20)}))

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Nil(t, svc.uploaded)
}

func TestAsk(t *testing.T) {
	svc := &fakeService{answer: &engine.Answer{Text: "42", Mode: retrieval.ModeVector}}
	rec := postJSON(newTestRouter(svc), "/ask", AskRequest{FileName: "a.pdf", Question: "meaning?", Mode: "hybrid", TopK: 3})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"answer":"42"`)
	assert.Equal(t, app.AskInput{FileName: "a.pdf", Question: "meaning?", Mode: "hybrid", TopK: 3}, svc.ask)
}

func TestAskErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   int
	}{
		{"not indexed", app.ErrIndexNotFound, http.StatusNotFound, response.CodeIndexNotFound},
		{"empty question", engine.ErrEmptyQuestion, http.StatusBadRequest, response.CodeBadRequest},
		{"bad mode", fmt.Errorf("%w: %q", retrieval.ErrUnknownMode, "x"), http.StatusBadRequest, response.CodeBadRequest},
		{"backend", errors.New("connection refused"), http.StatusInternalServerError, response.CodeInternalServer},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &fakeService{askErr: tc.err}
			rec := postJSON(newTestRouter(svc), "/ask", AskRequest{FileName: "a.pdf", Question: "q"})
			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, tc.code, decode(t, rec).Code)
		})
	}
}

func TestAskInvalidPayload(t *testing.T) {
	rec := postJSON(newTestRouter(&fakeService{}), "/ask", map[string]string{"file_name": "a.pdf"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatPassesSession(t *testing.T) {
	svc := &fakeService{answer: &engine.Answer{Text: "hi"}}
	rec := postJSON(newTestRouter(svc), "/chat", ChatRequest{FileName: "a.pdf", SessionID: "s1", Message: "hello"})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "s1", svc.chat.SessionID)
	assert.Equal(t, "hello", svc.chat.Message)
}

func TestChatStream(t *testing.T) {
	svc := &fakeService{
		chunks: []string{"line one", "\nline two"},
		answer: &engine.Answer{
			Text:    "line one\nline two",
			Sources: []engine.Source{{FileName: "a.pdf", Seq: 1, Text: "ctx"}},
		},
	}
	rec := postJSON(newTestRouter(svc), "/chat/stream", ChatRequest{FileName: "a.pdf", Message: "go"})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Contains(t, body, "data: line one\n\n")
	assert.Contains(t, body, "data: \\nline two\n\n")
	assert.Contains(t, body, "event: sources\ndata: [{\"file_name\":\"a.pdf\"")
	assert.True(t, strings.HasSuffix(body, "event: done\ndata: line one\\nline two\n\n"))
}

func TestChatStreamError(t *testing.T) {
	svc := &fakeService{askErr: app.ErrIndexNotFound}
	rec := postJSON(newTestRouter(svc), "/chat/stream", ChatRequest{FileName: "a.pdf", Message: "go"})

	assert.Contains(t, rec.Body.String(), "event: error\ndata: "+app.ErrIndexNotFound.Error())
}

func TestTranscript(t *testing.T) {
	svc := &fakeService{history: []model.Exchange{{Question: "q", Answer: "a"}}}
	rec := httptest.NewRecorder()
	newTestRouter(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/documents/a.pdf/transcript?limit=5", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"question":"q"`)

	svc.histErr = app.ErrTranscriptDisabled
	rec = httptest.NewRecorder()
	newTestRouter(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/documents/a.pdf/transcript", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewHealthHandler("docchat", "test", time.Now(), map[string]func(context.Context) error{
		"vector_store": func(context.Context) error { return nil },
		"redis":        func(context.Context) error { return errors.New("refused") },
	})
	r := gin.New()
	r.GET("/healthz", h.Check)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"redis":{"ok":false,"message":"refused"}`)
	assert.Contains(t, rec.Body.String(), `"vector_store":{"ok":true}`)
}
