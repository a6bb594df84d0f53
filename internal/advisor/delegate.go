// delegate.go
package advisor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// DelegateProvider hands the prompt to the host platform's own conversation
// agent over a plain HTTP callback and parses whatever text comes back. The
// host owns the model choice.
type DelegateProvider struct {
	URL  string
	HTTP *http.Client
}

func NewDelegateProvider(url string) *DelegateProvider {
	return &DelegateProvider{URL: url, HTTP: &http.Client{}}
}

func (p *DelegateProvider) Name() string  { return "delegate" }
func (p *DelegateProvider) Model() string { return "host-conversation" }

func (p *DelegateProvider) GetAdjustment(ctx context.Context, snap Snapshot, callContext string) (Response, error) {
	body, err := json.Marshal(map[string]string{
		"system":  systemPrompt,
		"prompt":  buildPrompt(snap, callContext),
		"context": callContext,
		"zone":    snap.ZoneID,
	})
	if err != nil {
		return Response{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.URL, bytes.NewReader(body))
	if err != nil {
		return Response{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.HTTP.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("delegate request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return Response{}, fmt.Errorf("delegate HTTP %d: %s", resp.StatusCode, string(b))
	}

	var out struct {
		Response string `json:"response"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return parseResponse(out.Response, p.Name(), p.Model())
}
