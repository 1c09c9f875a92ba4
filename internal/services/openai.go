package services

import (
	"context"
	"errors"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"
)

const (
	defaultOpenAIChatModel = "gpt-4o-mini"
	defaultOpenAITTSModel  = "tts-1"
	defaultOpenAIVoice     = "alloy"
	enhanceTemperature     = 0.7
)

// OpenAIService talks to the OpenAI API for both the chat-completion
// enhancer and the speech endpoint.
type OpenAIService struct {
	client    *openai.Client
	chatModel string
	ttsModel  string
	ttsSpeed  float64
}

var (
	_ ChatBackend = (*OpenAIService)(nil)
	_ Synthesizer = (*OpenAIService)(nil)
)

// NewOpenAIServiceWithConfig allows a custom base URL (proxies, tests) and model choice.
// Empty models fall back to gpt-4o-mini and tts-1.
func NewOpenAIServiceWithConfig(cfg openai.ClientConfig, chatModel, ttsModel string, speed float64) *OpenAIService {
	if chatModel == "" {
		chatModel = defaultOpenAIChatModel
	}
	if ttsModel == "" {
		ttsModel = defaultOpenAITTSModel
	}
	if speed <= 0 {
		speed = 1.0
	}
	return &OpenAIService{
		client:    openai.NewClientWithConfig(cfg),
		chatModel: chatModel,
		ttsModel:  ttsModel,
		ttsSpeed:  speed,
	}
}

func (s *OpenAIService) Name() string {
	return "openai"
}

// Complete runs one chat completion bounded by maxTokens.
func (s *OpenAIService) Complete(ctx context.Context, systemPrompt, userPrompt string, maxTokens int) (string, error) {
	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.chatModel,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: systemPrompt,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: userPrompt,
			},
		},
		Temperature: enhanceTemperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("openai request failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response from openai")
	}

	content := resp.Choices[0].Message.Content
	if content == "" {
		return "", fmt.Errorf("openai returned empty content (finish_reason=%s)", resp.Choices[0].FinishReason)
	}

	return content, nil
}

// Synthesize calls the speech endpoint with response_format=mp3.
// languageCode is not sent; OpenAI voices infer the language from the input text.
func (s *OpenAIService) Synthesize(ctx context.Context, text, languageCode, voiceID string) ([]byte, error) {
	voice := voiceID
	if voice == "" {
		voice = defaultOpenAIVoice
	}

	resp, err := s.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(s.ttsModel),
		Input:          text,
		Voice:          openai.SpeechVoice(voice),
		ResponseFormat: openai.SpeechResponseFormatMp3,
		Speed:          s.ttsSpeed,
	})
	if err != nil {
		return nil, openAISynthesisError(err)
	}
	defer resp.Close()

	audioData, err := io.ReadAll(resp)
	if err != nil {
		return nil, &SynthesisError{Provider: s.Name(), Message: "failed to read audio response", Err: err}
	}

	if len(audioData) == 0 {
		return nil, &SynthesisError{Provider: s.Name(), HTTPStatus: 200, Message: "response contained no audio"}
	}

	return audioData, nil
}

// openAISynthesisError keeps the upstream status from the client's error types.
func openAISynthesisError(err error) *SynthesisError {
	synthErr := &SynthesisError{Provider: "openai", Message: err.Error(), Err: err}

	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		synthErr.HTTPStatus = apiErr.HTTPStatusCode
		synthErr.Message = apiErr.Message
	case errors.As(err, &reqErr):
		synthErr.HTTPStatus = reqErr.HTTPStatusCode
		synthErr.Message = truncateString(reqErr.Error(), 300)
	}

	return synthErr
}
