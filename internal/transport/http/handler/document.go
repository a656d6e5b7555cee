package handler

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"docchat/internal/app"
	"docchat/internal/reader"
	"docchat/internal/transport/http/response"
)

type DocumentHandler struct {
	service     DocumentService
	maxUploadMB int
}

type documentsView struct {
	Documents  interface{}       `json:"documents"`
	Strategies []reader.Strategy `json:"strategies"`
	Default    reader.Strategy   `json:"default_strategy"`
}

type uploadView struct {
	Documents interface{} `json:"documents"`
	SaveError string      `json:"save_error,omitempty"`
}

func NewDocumentHandler(service DocumentService, maxUploadMB int) *DocumentHandler {
	if maxUploadMB <= 0 {
		maxUploadMB = 64
	}
	return &DocumentHandler{service: service, maxUploadMB: maxUploadMB}
}

func (h *DocumentHandler) List(c *gin.Context) {
	response.OK(c, documentsView{
		Documents:  h.service.ListDocuments(),
		Strategies: reader.Strategies(),
		Default:    h.service.DefaultStrategy(),
	})
}

// Upload accepts a multipart form with one or more "files" parts and an optional "strategy".
func (h *DocumentHandler) Upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, int64(h.maxUploadMB)<<20)

	form, err := c.MultipartForm()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Error(c, http.StatusRequestEntityTooLarge, response.CodeTooLarge,
				"upload too large (max "+strconv.Itoa(h.maxUploadMB)+"MB)")
			return
		}
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid multipart form")
		return
	}

	headers := append(form.File["files"], form.File["file"]...)
	if len(headers) == 0 {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, app.ErrNoFiles.Error())
		return
	}

	var strategy reader.Strategy
	if raw := c.PostForm("strategy"); raw != "" {
		strategy, err = reader.ParseStrategy(raw)
		if err != nil {
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
			return
		}
	}

	files, closeAll, err := openUploads(headers)
	defer closeAll()
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "failed to read upload")
		return
	}

	result, err := h.service.Upload(c.Request.Context(), files, strategy)
	view := uploadView{}
	if result != nil {
		view.Documents = result.Documents
		if result.SaveError != nil {
			view.SaveError = result.SaveError.Error()
		}
	}
	if err != nil {
		switch {
		case errors.Is(err, app.ErrNoFiles), errors.Is(err, app.ErrInvalidFileName):
			response.ErrorWithData(c, http.StatusBadRequest, response.CodeBadRequest, err.Error(), view)
		case errors.Is(err, reader.ErrNoText),
			errors.Is(err, reader.ErrUnsupportedFile),
			errors.Is(err, reader.ErrRemoteNotConfigured):
			response.ErrorWithData(c, http.StatusBadRequest, response.CodeUnsupported, err.Error(), view)
		default:
			response.ErrorWithData(c, http.StatusInternalServerError, response.CodeInternalServer, "upload failed: "+err.Error(), view)
		}
		return
	}

	response.OK(c, view)
}

func (h *DocumentHandler) Transcript(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if parsed, parseErr := strconv.Atoi(raw); parseErr == nil {
			limit = parsed
		}
	}

	exchanges, err := h.service.Transcript(c.Request.Context(), c.Param("name"), limit)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrTranscriptDisabled):
			response.Error(c, http.StatusServiceUnavailable, response.CodeUnavailable, err.Error())
		case errors.Is(err, app.ErrIndexNotFound):
			response.Error(c, http.StatusNotFound, response.CodeIndexNotFound, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "load transcript failed")
		}
		return
	}
	response.OK(c, exchanges)
}

func openUploads(headers []*multipart.FileHeader) ([]app.UploadFile, func(), error) {
	var opened []io.Closer
	closeAll := func() {
		for _, f := range opened {
			_ = f.Close()
		}
	}

	files := make([]app.UploadFile, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			return nil, closeAll, err
		}
		opened = append(opened, f)
		files = append(files, app.UploadFile{Name: fh.Filename, Body: f})
	}
	return files, closeAll, nil
}
