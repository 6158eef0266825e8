// Package llm adapts OpenAI-compatible endpoints for the vision OCR engine.
package llm

import (
	"context"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// Client is the one call the vision engine makes.
type Client interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// ModelLister is optional; callers type-assert for it.
type ModelLister interface {
	ListModels(ctx context.Context) (openai.ModelsList, error)
}

// OpenAIProvider adapts *openai.Client to Client and ModelLister.
type OpenAIProvider struct {
	Inner *openai.Client
}

// NewOpenAIProvider targets baseURL, or the OpenAI API when it is empty. hc
// may be nil.
func NewOpenAIProvider(baseURL, apiKey string, hc *http.Client) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	if strings.TrimSpace(baseURL) != "" {
		cfg.BaseURL = baseURL
	}
	if hc != nil {
		cfg.HTTPClient = hc
	}
	return &OpenAIProvider{Inner: openai.NewClientWithConfig(cfg)}
}

func (p *OpenAIProvider) CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	return p.Inner.CreateChatCompletion(ctx, request)
}

func (p *OpenAIProvider) ListModels(ctx context.Context) (openai.ModelsList, error) {
	return p.Inner.ListModels(ctx)
}

// HasModel reports whether the endpoint lists model.
func HasModel(ctx context.Context, l ModelLister, model string) (bool, error) {
	list, err := l.ListModels(ctx)
	if err != nil {
		return false, err
	}
	for _, m := range list.Models {
		if m.ID == model {
			return true, nil
		}
	}
	return false, nil
}
