package nlp

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"stibot/pkg/logx"
)

// DefaultAnthropicModel is used when no model is configured.
const DefaultAnthropicModel = anthropic.ModelClaude3_5HaikuLatest

// AnthropicResolver classifies conversations with the Anthropic messages API.
type AnthropicResolver struct {
	client anthropic.Client
	model  anthropic.Model
	logger *logx.Logger
}

// NewAnthropicResolver creates a resolver backed by the Anthropic client.
func NewAnthropicResolver(apiKey, model string) *AnthropicResolver {
	m := DefaultAnthropicModel
	if model != "" {
		m = anthropic.Model(model)
	}
	return &AnthropicResolver{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  m,
		logger: logx.NewLogger("nlp-anthropic"),
	}
}

// Resolve implements Resolver.
func (r *AnthropicResolver) Resolve(ctx context.Context, req Request) (Result, error) {
	system := fmt.Sprintf(classifierPrompt, req.Locale)

	resp, err := r.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     r.model,
		MaxTokens: 200,
		System: []anthropic.TextBlockParam{{
			Text: system,
			Type: "text",
		}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(renderWindow(req.Window))),
		},
	})
	if err != nil {
		r.logger.Warn("Anthropic call failed: %v", err)
		return Result{}, fmt.Errorf("%w: %v", ErrExternalService, err)
	}
	if resp == nil || len(resp.Content) == 0 {
		return Result{}, fmt.Errorf("%w: empty response", ErrExternalService)
	}

	var content string
	for i := range resp.Content {
		block := &resp.Content[i]
		if block.Type == "text" {
			content += block.AsText().Text
		}
	}

	res, err := parseResult(content)
	if err != nil {
		r.logger.Warn("Anthropic reply unparseable: %v", err)
		return Result{}, err
	}
	return res, nil
}
