package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrUpload wraps any failure talking to the media backend.
var ErrUpload = errors.New("media upload failed")

// Store persists proof attachments and returns a public URL.
type Store interface {
	Upload(ctx context.Context, data []byte, contentType string) (string, error)
}

// HTTPStore posts attachments to an external upload endpoint.
type HTTPStore struct {
	URL    string
	Client *http.Client
}

func NewHTTPStore(url string) *HTTPStore {
	return &HTTPStore{
		URL:    url,
		Client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (s *HTTPStore) Upload(ctx context.Context, data []byte, contentType string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpload, err)
	}
	req.Header.Set("Content-Type", contentType)
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpload, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: status %d", ErrUpload, resp.StatusCode)
	}
	var out struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrUpload, err)
	}
	if out.URL == "" {
		return "", fmt.Errorf("%w: empty url in response", ErrUpload)
	}
	return out.URL, nil
}
