package services

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// ---------------------------------------------------------------------------
// Gemini description backend
// Uses the Google Gen AI SDK as an alternative chat backend for the
// description enhancer. Same prompts as the OpenAI path.
// ---------------------------------------------------------------------------

const defaultGeminiModel = "gemini-2.5-flash"

type GeminiService struct {
	client *genai.Client
	model  string
}

var _ ChatBackend = (*GeminiService)(nil)

// NewGeminiService creates the Gen AI client once; empty model defaults to gemini-2.5-flash.
func NewGeminiService(ctx context.Context, apiKey, model string) (*GeminiService, error) {
	if model == "" {
		model = defaultGeminiModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &GeminiService{client: client, model: model}, nil
}

func (s *GeminiService) Name() string {
	return "gemini"
}

func (s *GeminiService) Complete(ctx context.Context, systemPrompt, userPrompt string, maxTokens int) (string, error) {
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
		Temperature:       genai.Ptr[float32](enhanceTemperature),
		MaxOutputTokens:   int32(maxTokens),
	}

	resp, err := s.client.Models.GenerateContent(ctx, s.model, genai.Text(userPrompt), config)
	if err != nil {
		return "", fmt.Errorf("gemini request failed: %w", err)
	}

	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("no candidates from gemini")
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("gemini returned empty content (finish_reason=%s)", resp.Candidates[0].FinishReason)
	}

	return text, nil
}
