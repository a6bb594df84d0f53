// openai.go
package advisor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// OpenAIProvider queries the OpenAI chat completions API.
type OpenAIProvider struct {
	BaseURL   string
	APIKey    string
	ModelName string
	HTTP      *http.Client
}

func NewOpenAIProvider(baseURL, apiKey, modelName string) *OpenAIProvider {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if modelName == "" {
		modelName = "gpt-4o-mini"
	}
	return &OpenAIProvider{BaseURL: baseURL, APIKey: apiKey, ModelName: modelName, HTTP: &http.Client{}}
}

func (p *OpenAIProvider) Name() string  { return "openai" }
func (p *OpenAIProvider) Model() string { return p.ModelName }

func (p *OpenAIProvider) GetAdjustment(ctx context.Context, snap Snapshot, callContext string) (Response, error) {
	body, err := json.Marshal(map[string]any{
		"model": p.ModelName,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": buildPrompt(snap, callContext)},
		},
		"max_tokens":  200,
		"temperature": 0.3,
	})
	if err != nil {
		return Response{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Response{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.APIKey)

	resp, err := p.HTTP.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("openai request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return Response{}, fmt.Errorf("openai HTTP %d: %s", resp.StatusCode, string(b))
	}

	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(out.Choices) == 0 {
		return Response{}, fmt.Errorf("%w: empty choices", ErrMalformed)
	}
	return parseResponse(out.Choices[0].Message.Content, p.Name(), p.ModelName)
}
