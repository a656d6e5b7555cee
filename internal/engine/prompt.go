package engine

import (
	"fmt"
	"strings"

	"docchat/internal/model"
)

const systemPrompt = "You are an expert Q&A system that answers questions about the user's documents. " +
	"Always answer the query using the provided context information, and not prior knowledge. " +
	"Never directly reference the given context in your answer."

const contextTemplate = "Context information is below.\n" +
	"---------------------\n" +
	"%s\n" +
	"---------------------\n" +
	"Given the context information and not prior knowledge, answer the query.\n" +
	"Query: %s\n" +
	"Answer: "

func buildMessages(hits []model.ScoredPassage, history []model.Turn, question string) []model.Turn {
	parts := make([]string, 0, len(hits))
	for _, h := range hits {
		parts = append(parts, h.Text)
	}

	messages := make([]model.Turn, 0, len(history)+2)
	messages = append(messages, model.Turn{Role: model.RoleSystem, Content: systemPrompt})
	messages = append(messages, history...)
	messages = append(messages, model.Turn{
		Role:    model.RoleUser,
		Content: fmt.Sprintf(contextTemplate, strings.Join(parts, "\n\n"), question),
	})
	return messages
}
