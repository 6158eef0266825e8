package recognize

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/png"
	"strings"

	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"

	"github.com/hyperifyio/pdfocr/internal/cache"
	"github.com/hyperifyio/pdfocr/internal/llm"
)

const visionSystemPrompt = "You are an OCR engine. Transcribe all text visible in the page image exactly as written, line by line, in reading order. Output only the transcription with no commentary, no Markdown and no translation. If the page has no text, output nothing."

// Vision recognizes pages with an OpenAI-compatible vision model. Responses
// are cached by model, languages and image digest so reruns are stable.
type Vision struct {
	Client    llm.Client
	Model     string
	MaxTokens int
	Cache     *cache.TextCache
}

func NewVision(client llm.Client, model string, c *cache.TextCache) *Vision {
	return &Vision{Client: client, Model: model, MaxTokens: 4096, Cache: c}
}

func (v *Vision) Name() string { return "vision" }

func (v *Vision) Recognize(ctx context.Context, img *image.Gray, langs LanguageSet) (string, error) {
	if v.Client == nil || strings.TrimSpace(v.Model) == "" {
		return "", errors.New("vision engine not configured")
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("encode page: %w", err)
	}
	key := cache.KeyFrom(v.Model, langs.String(), buf.Bytes())
	if v.Cache != nil {
		if e, ok, _ := v.Cache.Get(ctx, key); ok {
			log.Debug().Str("model", v.Model).Msg("vision cache hit")
			return e.Text, nil
		}
	}

	seed := 0
	req := openai.ChatCompletionRequest{
		Model:     v.Model,
		MaxTokens: v.MaxTokens,
		Seed:      &seed,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: visionSystemPrompt},
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: "Languages on this page (Tesseract codes): " + langs.String()},
					{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{
						URL:    "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()),
						Detail: openai.ImageURLDetailHigh,
					}},
				},
			},
		},
	}
	resp, err := v.Client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("vision call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("vision call: no choices returned")
	}
	text := resp.Choices[0].Message.Content
	if v.Cache != nil {
		if err := v.Cache.Save(ctx, key, cache.Entry{Engine: v.Name(), Model: v.Model, Langs: langs.String(), Text: text}); err != nil {
			log.Warn().Err(err).Msg("vision cache save failed")
		}
	}
	return text, nil
}
