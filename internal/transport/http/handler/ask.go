package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"docchat/internal/ai"
	"docchat/internal/app"
	"docchat/internal/engine"
	"docchat/internal/retrieval"
	"docchat/internal/transport/http/response"
)

type AskHandler struct {
	service DocumentService
}

type AskRequest struct {
	FileName string `json:"file_name" binding:"required"`
	Question string `json:"question" binding:"required"`
	Mode     string `json:"mode"`
	TopK     int    `json:"top_k" binding:"gte=0,lte=50"`
}

type ChatRequest struct {
	FileName  string `json:"file_name" binding:"required"`
	SessionID string `json:"session_id" binding:"max=64"`
	Message   string `json:"message" binding:"required"`
	Mode      string `json:"mode"`
	TopK      int    `json:"top_k" binding:"gte=0,lte=50"`
}

func NewAskHandler(service DocumentService) *AskHandler {
	return &AskHandler{service: service}
}

func (h *AskHandler) Ask(c *gin.Context) {
	var req AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	answer, err := h.service.Ask(c.Request.Context(), app.AskInput{
		FileName: req.FileName,
		Question: req.Question,
		Mode:     req.Mode,
		TopK:     req.TopK,
	})
	if err != nil {
		writeAnswerError(c, err)
		return
	}
	response.OK(c, answer)
}

func (h *AskHandler) Chat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	answer, err := h.service.Chat(c.Request.Context(), req.input(), nil)
	if err != nil {
		writeAnswerError(c, err)
		return
	}
	response.OK(c, answer)
}

// ChatStream answers over server-sent events: one data frame per token, then a sources event
// and a done event carrying the full answer.
func (h *AskHandler) ChatStream(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "stream not supported")
		return
	}

	answer, err := h.service.Chat(c.Request.Context(), req.input(), func(chunk string) error {
		if _, writeErr := c.Writer.Write([]byte("data: " + sanitizeSSE(chunk) + "\n\n")); writeErr != nil {
			return writeErr
		}
		flusher.Flush()
		return nil
	})
	if err != nil {
		if _, writeErr := c.Writer.Write([]byte(fmt.Sprintf("event: error\ndata: %s\n\n", sanitizeSSE(answerErrorMessage(err))))); writeErr == nil {
			flusher.Flush()
		}
		return
	}

	if sources, marshalErr := json.Marshal(answer.Sources); marshalErr == nil {
		_, _ = c.Writer.Write([]byte("event: sources\ndata: " + string(sources) + "\n\n"))
	}
	if _, writeErr := c.Writer.Write([]byte("event: done\ndata: " + sanitizeSSE(answer.Text) + "\n\n")); writeErr == nil {
		flusher.Flush()
	}
}

func (r ChatRequest) input() app.ChatInput {
	return app.ChatInput{
		FileName:  r.FileName,
		SessionID: r.SessionID,
		Message:   r.Message,
		Mode:      r.Mode,
		TopK:      r.TopK,
	}
}

func writeAnswerError(c *gin.Context, err error) {
	msg := answerErrorMessage(err)
	switch {
	case errors.Is(err, app.ErrIndexNotFound):
		response.Error(c, http.StatusNotFound, response.CodeIndexNotFound, msg)
	case errors.Is(err, engine.ErrEmptyQuestion), errors.Is(err, retrieval.ErrUnknownMode):
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, msg)
	case errors.Is(err, ai.ErrEmptyResponse), errors.Is(err, ai.ErrDimensionMismatch):
		response.Error(c, http.StatusBadGateway, response.CodeUpstream, msg)
	default:
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, msg)
	}
}

func answerErrorMessage(err error) string {
	switch {
	case errors.Is(err, app.ErrIndexNotFound),
		errors.Is(err, engine.ErrEmptyQuestion),
		errors.Is(err, retrieval.ErrUnknownMode),
		errors.Is(err, ai.ErrEmptyResponse):
		return err.Error()
	default:
		return "answer failed"
	}
}

func sanitizeSSE(input string) string {
	replaced := strings.ReplaceAll(input, "\r\n", "\\n")
	replaced = strings.ReplaceAll(replaced, "\n", "\\n")
	return replaced
}
