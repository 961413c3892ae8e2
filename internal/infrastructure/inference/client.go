package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/newspulse/newspulse/internal/ports"
)

// Client talks to the external inference service for embeddings and topic
// titles. The service is a black box; only its request/response records
// matter here.
type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client
	limiter  *rate.Limiter
}

var _ ports.Embedder = (*Client)(nil)
var _ ports.TitleGenerator = (*Client)(nil)

// NewClient creates a reusable HTTP client. requestsPerSecond <= 0
// disables throttling.
func NewClient(endpoint, apiKey string, timeout time.Duration, requestsPerSecond float64) *Client {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if requestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), 1)
	}

	return &Client{
		endpoint: endpoint,
		apiKey:   apiKey,
		http:     &http.Client{Timeout: timeout},
		limiter:  limiter,
	}
}

// Embed sends texts for embedding and returns one vector per text.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	payload := map[string]any{"texts": texts}

	var resp struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := c.post(ctx, "/embed", payload, &resp); err != nil {
		return nil, err
	}

	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embed: got %d vectors for %d texts", len(resp.Embeddings), len(texts))
	}
	return resp.Embeddings, nil
}

// TopicTitles requests one short title per cluster.
func (c *Client) TopicTitles(ctx context.Context, clusters []ports.TitleCluster) ([]string, error) {
	type clusterPayload struct {
		ClusterID int      `json:"cluster_id"`
		Titles    []string `json:"titles"`
		Summaries []string `json:"summaries,omitempty"`
	}

	payload := struct {
		Clusters []clusterPayload `json:"clusters"`
	}{}
	for i, cl := range clusters {
		payload.Clusters = append(payload.Clusters, clusterPayload{
			ClusterID: i,
			Titles:    cl.Titles,
			Summaries: cl.Summaries,
		})
	}

	var resp struct {
		Topics []struct {
			ClusterID int    `json:"cluster_id"`
			Title     string `json:"topic_title"`
		} `json:"topics"`
	}
	if err := c.post(ctx, "/topics/generate", payload, &resp); err != nil {
		return nil, err
	}

	titles := make([]string, len(clusters))
	for _, topic := range resp.Topics {
		if topic.ClusterID >= 0 && topic.ClusterID < len(titles) {
			titles[topic.ClusterID] = topic.Title
		}
	}
	return titles, nil
}

func (c *Client) post(ctx context.Context, path string, payload any, v any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	if v == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
