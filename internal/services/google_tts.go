package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// ---------------------------------------------------------------------------
// Google Cloud Text-to-Speech
// Uses the REST endpoint v1/text:synthesize. The response carries the audio
// as base64 in audioContent, which is decoded before returning.
// ---------------------------------------------------------------------------

const (
	googleTTSBaseURL = "https://texttospeech.googleapis.com"
	googleTTSScope   = "https://www.googleapis.com/auth/cloud-platform"
)

type GoogleTTSService struct {
	baseURL string
	apiKey  string // empty when client carries oauth2 credentials
	client  *http.Client
}

var _ Synthesizer = (*GoogleTTSService)(nil)

// NewGoogleTTSService authenticates with an API key when one is given,
// otherwise with a service-account key (file path or inline JSON), otherwise
// with application default credentials.
func NewGoogleTTSService(ctx context.Context, apiKey, keyData string) (*GoogleTTSService, error) {
	if apiKey = strings.TrimSpace(apiKey); apiKey != "" {
		return NewGoogleTTSServiceWithClient(googleTTSBaseURL, apiKey, &http.Client{Timeout: 90 * time.Second}), nil
	}

	var creds *google.Credentials
	keyData = strings.TrimSpace(keyData)
	switch {
	case keyData == "":
		c, err := google.FindDefaultCredentials(ctx, googleTTSScope)
		if err != nil {
			return nil, fmt.Errorf("failed to find default credentials: %w (set GOOGLE_TTS_API_KEY or GOOGLE_TTS_KEY_FILE)", err)
		}
		creds = c
	default:
		jsonData := []byte(keyData)
		if !strings.HasPrefix(keyData, "{") {
			data, err := os.ReadFile(keyData)
			if err != nil {
				return nil, fmt.Errorf("failed to read key file '%s': %w", keyData, err)
			}
			jsonData = data
		}
		c, err := google.CredentialsFromJSON(ctx, jsonData, googleTTSScope)
		if err != nil {
			return nil, fmt.Errorf("failed to create credentials from JSON: %w", err)
		}
		creds = c
	}

	client := oauth2.NewClient(ctx, creds.TokenSource)
	client.Timeout = 90 * time.Second
	return NewGoogleTTSServiceWithClient(googleTTSBaseURL, "", client), nil
}

// NewGoogleTTSServiceWithClient is used by tests and custom endpoints.
func NewGoogleTTSServiceWithClient(baseURL, apiKey string, client *http.Client) *GoogleTTSService {
	return &GoogleTTSService{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  client,
	}
}

func (s *GoogleTTSService) Name() string {
	return "google"
}

type googleSynthesizeRequest struct {
	Input       googleSynthesisInput `json:"input"`
	Voice       googleVoiceSelection `json:"voice"`
	AudioConfig googleAudioConfig    `json:"audioConfig"`
}

type googleSynthesisInput struct {
	Text string `json:"text"`
}

type googleVoiceSelection struct {
	LanguageCode string `json:"languageCode"`
	Name         string `json:"name,omitempty"`
}

type googleAudioConfig struct {
	AudioEncoding string `json:"audioEncoding"`
}

type googleSynthesizeResponse struct {
	AudioContent string `json:"audioContent"`
}

type googleErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// Synthesize requests MP3 audio for text in the given locale and voice name
// (e.g. "en-US-Neural2-F"). An empty voice lets Google pick one for the locale.
func (s *GoogleTTSService) Synthesize(ctx context.Context, text, languageCode, voiceID string) ([]byte, error) {
	reqBody := googleSynthesizeRequest{
		Input:       googleSynthesisInput{Text: text},
		Voice:       googleVoiceSelection{LanguageCode: languageCode, Name: voiceID},
		AudioConfig: googleAudioConfig{AudioEncoding: "MP3"},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal Google TTS request: %w", err)
	}

	endpoint := s.baseURL + "/v1/text:synthesize"
	if s.apiKey != "" {
		endpoint += "?key=" + url.QueryEscape(s.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create Google TTS request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &SynthesisError{Provider: s.Name(), Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &SynthesisError{Provider: s.Name(), HTTPStatus: resp.StatusCode, Message: "failed to read response", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := truncateString(string(body), 300)
		var apiErr googleErrorResponse
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error.Message != "" {
			msg = apiErr.Error.Message
		}
		return nil, &SynthesisError{Provider: s.Name(), HTTPStatus: resp.StatusCode, Message: msg}
	}

	var result googleSynthesizeResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, &SynthesisError{Provider: s.Name(), HTTPStatus: resp.StatusCode, Message: "malformed response body", Err: err}
	}

	if result.AudioContent == "" {
		return nil, &SynthesisError{Provider: s.Name(), HTTPStatus: resp.StatusCode, Message: "response is missing audioContent"}
	}

	audioData, err := base64.StdEncoding.DecodeString(result.AudioContent)
	if err != nil {
		return nil, &SynthesisError{Provider: s.Name(), HTTPStatus: resp.StatusCode, Message: "audioContent is not valid base64", Err: err}
	}

	return audioData, nil
}
