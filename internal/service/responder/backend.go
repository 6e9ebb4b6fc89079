package responder

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/zhoulihan/workdesk/backend/internal/config"
	"github.com/zhoulihan/workdesk/backend/internal/model/workorder"
)

const historyLimit = 10

// ChainBackend drives the configured chat model through an eino chain:
// system prompt, conversation history, then the latest user message.
type ChainBackend struct {
	chain   compose.Runnable[map[string]any, *schema.Message]
	catalog config.Catalog
}

// NewChainBackend compiles the reply chain against the configured model.
func NewChainBackend(ctx context.Context, cfg config.AIConfig, catalog config.Catalog) (*ChainBackend, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile reply chain: %w", err)
	}

	return &ChainBackend{chain: runnable, catalog: catalog}, nil
}

// Stream opens one streaming completion for the work order.
func (b *ChainBackend) Stream(ctx context.Context, ticket workorder.Ticket, history []workorder.Message, userMessage string) (*schema.StreamReader[*schema.Message], error) {
	input := map[string]any{
		"system":  b.systemPrompt(ticket),
		"history": historyMessages(history),
		"query":   userMessage,
	}

	stream, err := b.chain.Stream(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to stream reply chain output: %w", err)
	}
	return stream, nil
}

func (b *ChainBackend) systemPrompt(ticket workorder.Ticket) string {
	return fmt.Sprintf(
		"You are the support assistant for a cloud platform. "+
			"You are answering inside work order %s, category %q.\n"+
			"The user described the problem as: %s\n"+
			"Answer concisely and practically. If the problem needs account access, "+
			"billing review or anything you cannot resolve yourself, tell the user they "+
			"can request manual handling to reach a human agent.",
		ticket.OrderID, b.catalog.CategoryLabel(ticket.Category), ticket.Description,
	)
}

// historyMessages maps the most recent dialog turns into model messages.
// File references and recalled entries carry no useful text and are skipped.
func historyMessages(messages []workorder.Message) []*schema.Message {
	if len(messages) == 0 {
		return nil
	}

	startIdx := 0
	if len(messages) > historyLimit {
		startIdx = len(messages) - historyLimit
	}

	history := make([]*schema.Message, 0, len(messages)-startIdx)
	for _, msg := range messages[startIdx:] {
		if msg.Recalled || msg.Content.Kind != workorder.ContentText {
			continue
		}
		switch msg.Author {
		case workorder.AuthorUser:
			history = append(history, schema.UserMessage(msg.Content.Text))
		case workorder.AuthorBot, workorder.AuthorAgent:
			history = append(history, schema.AssistantMessage(msg.Content.Text, nil))
		}
	}
	return history
}
