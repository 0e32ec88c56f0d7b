package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Compile-time interface satisfaction check.
var _ AssetLibrary = (*HTTPAssetLibrary)(nil)

// HTTPAssetLibrary talks to the asset-library service over HTTP. It is only
// constructed when a credential is configured; callers treat a nil
// AssetLibrary as "mirroring disabled".
type HTTPAssetLibrary struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
}

// NewHTTPAssetLibrary creates an asset-library client authenticating with
// the given API key.
func NewHTTPAssetLibrary(baseURL, apiKey string) *HTTPAssetLibrary {
	return &HTTPAssetLibrary{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpc:   &http.Client{Timeout: 60 * time.Second},
	}
}

type uploadAssetRequest struct {
	OwnerID  string `json:"owner_id"`
	Filename string `json:"filename"`
	Data     []byte `json:"data"` // base64 per encoding/json
}

type uploadAssetResponse struct {
	AssetID string `json:"asset_id"`
}

// Upload mirrors one artifact into the library and returns its asset id.
func (l *HTTPAssetLibrary) Upload(ctx context.Context, ownerID, name string, data []byte) (string, error) {
	body, err := json.Marshal(uploadAssetRequest{OwnerID: ownerID, Filename: name, Data: data})
	if err != nil {
		return "", fmt.Errorf("marshal asset upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseURL+"/v1/assets", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build asset upload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+l.apiKey)

	resp, err := l.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload asset: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("upload asset: status %d", resp.StatusCode)
	}

	var out uploadAssetResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode asset upload response: %w", err)
	}
	if out.AssetID == "" {
		return "", fmt.Errorf("asset upload response missing asset id")
	}
	return out.AssetID, nil
}
