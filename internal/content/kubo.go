package content

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// KuboClient is a Store backed by the HTTP API of a Kubo (IPFS) daemon.
type KuboClient struct {
	apiURL string
	client *http.Client
	pin    bool
}

// KuboOption configures a KuboClient.
type KuboOption func(*KuboClient)

// WithPin pins every added blob so the daemon never garbage-collects it.
func WithPin(pin bool) KuboOption {
	return func(k *KuboClient) { k.pin = pin }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) KuboOption {
	return func(k *KuboClient) { k.client = c }
}

// NewKuboClient creates a client for the Kubo API at apiURL, for example
// http://127.0.0.1:5001/api/v0.
func NewKuboClient(apiURL string, opts ...KuboOption) *KuboClient {
	k := &KuboClient{
		apiURL: strings.TrimRight(apiURL, "/"),
		client: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// IsAvailable checks if the Kubo daemon is reachable.
func (k *KuboClient) IsAvailable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	resp, err := k.post(ctx, "/id", "", nil)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Put uploads data and returns its CIDv1. Small blobs get a raw-codec CID
// identical to the one ObjectStore computes.
func (k *KuboClient) Put(ctx context.Context, data []byte) (string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", "data")
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("write form data: %w", err)
	}
	w.Close()

	params := url.Values{}
	params.Set("cid-version", "1")
	params.Set("raw-leaves", "true")
	params.Set("pin", fmt.Sprint(k.pin))

	resp, err := k.post(ctx, "/add?"+params.Encode(), w.FormDataContentType(), &buf)
	if err != nil {
		return "", fmt.Errorf("ipfs add: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("ipfs add: status %d: %s", resp.StatusCode, body)
	}

	var result struct {
		Hash string `json:"Hash"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("ipfs add: parse response: %w", err)
	}
	return result.Hash, nil
}

// Get retrieves a blob by CID.
func (k *KuboClient) Get(ctx context.Context, hash string) ([]byte, error) {
	resp, err := k.post(ctx, "/cat?arg="+url.QueryEscape(hash), "", nil)
	if err != nil {
		return nil, fmt.Errorf("ipfs cat: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		if bytes.Contains(body, []byte("not found")) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, hash)
		}
		return nil, fmt.Errorf("ipfs cat: status %d: %s", resp.StatusCode, body)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("ipfs cat: %w", err)
	}
	if err := Verify(hash, data); err != nil {
		return nil, err
	}
	return data, nil
}

// Pin pins content to prevent garbage collection.
func (k *KuboClient) Pin(ctx context.Context, hash string) error {
	resp, err := k.post(ctx, "/pin/add?arg="+url.QueryEscape(hash), "", nil)
	if err != nil {
		return fmt.Errorf("ipfs pin: %w", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ipfs pin: status %d", resp.StatusCode)
	}
	return nil
}

// Close implements Store.
func (k *KuboClient) Close() error {
	k.client.CloseIdleConnections()
	return nil
}

func (k *KuboClient) post(ctx context.Context, path, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, k.apiURL+path, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return k.client.Do(req)
}
