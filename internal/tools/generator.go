package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"

	"github.com/chmdznr/corpussync/pkg/models"
)

// Generator produces text from a prompt, optional history and attached
// remote files.
type Generator interface {
	Generate(ctx context.Context, req models.GenerateRequest) (string, error)
}

// LangChain adapts a langchaingo model to Generator. Models reached this way
// cannot read remote file handles, so attachments are listed by name and URI.
type LangChain struct {
	model llms.Model
}

// NewLangChain wraps model.
func NewLangChain(model llms.Model) *LangChain {
	return &LangChain{model: model}
}

// Generate implements Generator.
func (l *LangChain) Generate(ctx context.Context, req models.GenerateRequest) (string, error) {
	var opts []llms.CallOption
	if req.Temperature > 0 {
		opts = append(opts, llms.WithTemperature(req.Temperature))
	}
	resp, err := l.model.GenerateContent(ctx, toMessages(req), opts...)
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Content, nil
}

func toMessages(req models.GenerateRequest) []llms.MessageContent {
	var msgs []llms.MessageContent
	if strings.TrimSpace(req.System) != "" {
		msgs = append(msgs, textMessage(schema.ChatMessageTypeSystem, req.System))
	}
	for _, turn := range req.History {
		role := schema.ChatMessageTypeHuman
		if turn.Role == models.RoleModel {
			role = schema.ChatMessageTypeAI
		}
		msgs = append(msgs, textMessage(role, turn.Text))
	}

	prompt := req.Prompt
	if len(req.Files) > 0 {
		var sb strings.Builder
		sb.WriteString("Attached corpus files:\n")
		for _, f := range req.Files {
			if f.URI != "" {
				fmt.Fprintf(&sb, "- %s (%s)\n", f.DisplayName, f.URI)
			} else {
				fmt.Fprintf(&sb, "- %s\n", f.DisplayName)
			}
		}
		sb.WriteString("\n")
		sb.WriteString(prompt)
		prompt = sb.String()
	}
	return append(msgs, textMessage(schema.ChatMessageTypeHuman, prompt))
}

func textMessage(role schema.ChatMessageType, text string) llms.MessageContent {
	return llms.MessageContent{Role: role, Parts: []llms.ContentPart{llms.TextContent{Text: text}}}
}
