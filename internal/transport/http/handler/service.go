package handler

import (
	"context"

	"docchat/internal/app"
	"docchat/internal/engine"
	"docchat/internal/model"
	"docchat/internal/reader"
)

// DocumentService is the part of app.DocumentService the HTTP handlers use.
type DocumentService interface {
	ListDocuments() []model.Document
	DefaultStrategy() reader.Strategy
	Upload(ctx context.Context, files []app.UploadFile, strategy reader.Strategy) (*app.UploadResult, error)
	Ask(ctx context.Context, input app.AskInput) (*engine.Answer, error)
	Chat(ctx context.Context, input app.ChatInput, onChunk func(chunk string) error) (*engine.Answer, error)
	Transcript(ctx context.Context, fileName string, limit int) ([]model.Exchange, error)
}
