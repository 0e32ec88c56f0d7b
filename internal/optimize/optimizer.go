// Package optimize is the client for the optional prompt-rewrite service
// used by runs that request prompt optimization.
package optimize

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPOptimizer rewrites prompts via the external optimizer service.
// Failures here are always non-fatal to a run; the engine falls back to the
// original prompt.
type HTTPOptimizer struct {
	baseURL string
	httpc   *http.Client
}

// NewHTTPOptimizer creates an optimizer client for the given base URL.
func NewHTTPOptimizer(baseURL string) *HTTPOptimizer {
	return &HTTPOptimizer{
		baseURL: baseURL,
		httpc:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Optimize returns a rewritten version of prompt.
func (o *HTTPOptimizer) Optimize(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(map[string]string{"prompt": prompt})
	if err != nil {
		return "", fmt.Errorf("marshal optimize request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/optimize", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build optimize request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("optimize prompt: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("optimize prompt: status %d", resp.StatusCode)
	}

	var out struct {
		Optimized string `json:"optimized"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode optimize response: %w", err)
	}
	return out.Optimized, nil
}
