package decision

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/acme/voice-interview/internal/domain"
	apperrors "github.com/acme/voice-interview/pkg/errors"
)

// OpenAIConfig configures the chat-completions backend.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// OpenAI asks a chat model for a structured decision.
type OpenAI struct {
	client *openai.Client
	model  string
}

// NewOpenAI builds a chat-completions backed Service.
func NewOpenAI(cfg OpenAIConfig, opts ...option.RequestOption) *OpenAI {
	reqOpts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	reqOpts = append(reqOpts, opts...)
	client := openai.NewClient(reqOpts...)
	return &OpenAI{client: &client, model: cfg.Model}
}

// Classify implements Service.
func (o *OpenAI) Classify(ctx context.Context, history []domain.Exchange, schema Schema) (domain.DecisionResult, error) {
	params := openai.ChatCompletionNewParams{
		Model: o.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(schema.Instructions + "\nRespond with JSON only."),
			openai.UserMessage(Transcript(history)),
		},
		Temperature: param.NewOpt(0.0),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:        schema.Name,
					Description: param.NewOpt("Next action for the interview dialogue"),
					Schema:      responseSchema(schema),
					Strict:      param.NewOpt(true),
				},
			},
		},
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return Unknown, fmt.Errorf("%w: decision request: %v", apperrors.ErrProviderUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return Unknown, fmt.Errorf("%w: no choices", apperrors.ErrClassificationAmbiguous)
	}
	choice := resp.Choices[0]
	if choice.Message.Refusal != "" {
		return Unknown, fmt.Errorf("%w: refused: %s", apperrors.ErrClassificationAmbiguous, choice.Message.Refusal)
	}
	content := strings.TrimSpace(choice.Message.Content)
	if content == "" {
		return Unknown, fmt.Errorf("%w: empty content", apperrors.ErrClassificationAmbiguous)
	}
	return Decode([]byte(content), schema)
}

func responseSchema(schema Schema) map[string]any {
	actions := make([]string, 0, len(schema.Allowed))
	for _, a := range schema.Allowed {
		actions = append(actions, string(a))
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"action":  map[string]any{"type": "string", "enum": actions},
			"message": map[string]any{"type": "string"},
		},
		"required":             []string{"action", "message"},
		"additionalProperties": false,
	}
}
