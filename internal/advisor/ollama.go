// ollama.go
package advisor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// OllamaProvider queries a locally hosted model over the Ollama HTTP API.
type OllamaProvider struct {
	URL       string // e.g. "http://localhost:11434"
	ModelName string
	HTTP      *http.Client
}

func NewOllamaProvider(url, modelName string) *OllamaProvider {
	if url == "" {
		url = "http://localhost:11434"
	}
	if modelName == "" {
		modelName = "llama3"
	}
	return &OllamaProvider{URL: url, ModelName: modelName, HTTP: &http.Client{}}
}

func (p *OllamaProvider) Name() string  { return "ollama" }
func (p *OllamaProvider) Model() string { return p.ModelName }

func (p *OllamaProvider) GetAdjustment(ctx context.Context, snap Snapshot, callContext string) (Response, error) {
	body, err := json.Marshal(map[string]any{
		"model":  p.ModelName,
		"prompt": buildPrompt(snap, callContext),
		"system": systemPrompt,
		"stream": false,
		"options": map[string]any{
			"temperature": 0.3,
			"num_predict": 200,
		},
	})
	if err != nil {
		return Response{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.URL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return Response{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.HTTP.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("ollama request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return Response{}, fmt.Errorf("ollama HTTP %d: %s", resp.StatusCode, string(b))
	}

	var out struct {
		Response string `json:"response"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return parseResponse(out.Response, p.Name(), p.ModelName)
}
