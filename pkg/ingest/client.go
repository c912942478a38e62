// Package ingest is the client for the document-ingestion collaborator.
// The pipeline itself (parsers, OCR, chunking) lives in a separate
// service; this client only requests a textual context for an external
// object reference.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/senarios/aris/pkg/agent"
)

// requestTimeout bounds one ingestion request. Parsing large documents is
// slow; the ceiling matches the heavy-tool budget.
const requestTimeout = 2 * time.Minute

// Client calls the ingestion service over HTTP.
type Client struct {
	baseURL string
	client  *http.Client
}

var _ agent.Ingestor = (*Client)(nil)

// NewClient creates an ingestion client for the service at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: requestTimeout},
	}
}

// ingestResponse is the service's wire shape.
type ingestResponse struct {
	Document struct {
		Name     string         `json:"name"`
		Format   string         `json:"format"`
		Type     string         `json:"type"`
		Metadata map[string]any `json:"metadata"`
	} `json:"document"`
	Text string `json:"text"`
}

// ProcessObject asks the collaborator to produce a textual context for the
// referenced object.
func (c *Client) ProcessObject(ctx context.Context, bucket, key string) (agent.IngestedDocument, error) {
	endpoint := fmt.Sprintf("%s/v1/ingest?bucket=%s&key=%s",
		c.baseURL, url.QueryEscape(bucket), url.QueryEscape(key))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return agent.IngestedDocument{}, fmt.Errorf("build ingest request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return agent.IngestedDocument{}, fmt.Errorf("ingest %s/%s: %w", bucket, key, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return agent.IngestedDocument{}, fmt.Errorf("ingest %s/%s: status %d", bucket, key, resp.StatusCode)
	}

	var decoded ingestResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return agent.IngestedDocument{}, fmt.Errorf("decode ingest response: %w", err)
	}

	doc := agent.IngestedDocument{
		Name:     decoded.Document.Name,
		Format:   decoded.Document.Format,
		Type:     decoded.Document.Type,
		Metadata: decoded.Document.Metadata,
		Text:     decoded.Text,
	}
	if doc.Name == "" {
		doc.Name = key
	}
	if doc.Format == "" {
		doc.Format = "unknown"
	}
	if doc.Type == "" {
		doc.Type = "text"
	}
	return doc, nil
}
