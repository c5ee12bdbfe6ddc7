package editor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client talks to the documents API with a bearer token. Its Persist
// method plugs straight into a SaveQueue.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates an API client for the given base URL and access token.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// Persist sends one update as a PATCH. Satisfies PersistFunc.
func (c *Client) Persist(ctx context.Context, nodeID string, upd Update) error {
	body := map[string]any{}
	if upd.Title != nil {
		body["title"] = *upd.Title
	}
	if upd.Content != nil {
		body["content"] = *upd.Content
	}
	if upd.Synopsis != nil || upd.Status != nil {
		metadata := map[string]any{}
		if upd.Synopsis != nil {
			metadata["synopsis"] = *upd.Synopsis
		}
		if upd.Status != nil {
			metadata["status"] = *upd.Status
		}
		body["metadata"] = metadata
	}
	if len(body) == 0 {
		return nil
	}
	body["updatedAt"] = time.Now().UTC().Format(time.RFC3339Nano)

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal update: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPatch,
		c.baseURL+"/api/documents/"+nodeID, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("save document %s: %w", nodeID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("save document %s: status %d: %s", nodeID, resp.StatusCode, data)
	}
	return nil
}

// Document is the API representation the client reads back.
type Document struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	IsFolder bool   `json:"isFolder"`
	Path     string `json:"path"`
	Content  string `json:"content"`
	Metadata struct {
		Type      string `json:"type"`
		WordCount int    `json:"wordCount"`
		Status    string `json:"status"`
		Synopsis  string `json:"synopsis"`
	} `json:"metadata"`
}

// GetDocument fetches a document by id.
func (c *Client) GetDocument(ctx context.Context, nodeID string) (*Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/api/documents/"+nodeID, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get document %s: %w", nodeID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get document %s: status %d", nodeID, resp.StatusCode)
	}

	var envelope struct {
		Document Document `json:"document"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return &envelope.Document, nil
}
