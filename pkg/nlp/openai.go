package nlp

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"stibot/pkg/logx"
)

// DefaultOpenAIModel is used when no model is configured.
const DefaultOpenAIModel = openai.ChatModelGPT4oMini

// OpenAIResolver classifies conversations with the OpenAI chat API.
type OpenAIResolver struct {
	client openai.Client
	model  string
	logger *logx.Logger
}

// NewOpenAIResolver creates a resolver backed by the official OpenAI client.
func NewOpenAIResolver(apiKey, model string) *OpenAIResolver {
	if model == "" {
		model = DefaultOpenAIModel
	}
	return &OpenAIResolver{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
		logger: logx.NewLogger("nlp-openai"),
	}
}

// Resolve implements Resolver.
func (r *OpenAIResolver) Resolve(ctx context.Context, req Request) (Result, error) {
	system := fmt.Sprintf(classifierPrompt, req.Locale)

	resp, err := r.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: r.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(renderWindow(req.Window)),
		},
		MaxTokens:   openai.Int(200),
		Temperature: openai.Float(0),
	})
	if err != nil {
		r.logger.Warn("OpenAI call failed: %v", err)
		return Result{}, fmt.Errorf("%w: %v", ErrExternalService, err)
	}
	if len(resp.Choices) == 0 {
		return Result{}, fmt.Errorf("%w: empty response", ErrExternalService)
	}

	res, err := parseResult(resp.Choices[0].Message.Content)
	if err != nil {
		r.logger.Warn("OpenAI reply unparseable: %v", err)
		return Result{}, err
	}
	return res, nil
}
