// Package research provides the research tool plumbing: the web search
// provider, page fetching with readable-text extraction, the extraction
// cache, URL validation, and report artifact rendering.
package research

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/sondelab/sonde/pkg/config"
	"github.com/sondelab/sonde/pkg/models"
)

// SearchProvider runs one web search and returns ranked sources.
type SearchProvider interface {
	Search(ctx context.Context, query string, maxResults int) (*models.SearchResult, error)
}

// PageExtractor fetches a URL and returns its readable text.
type PageExtractor interface {
	Extract(ctx context.Context, rawURL string) (*Page, error)
}

// Page is one fetched and extracted document.
type Page struct {
	URL       string
	Title     string
	Text      string
	CharCount int
}

// SearchClient talks to a Tavily-shaped search API: a JSON POST to /search
// carrying the query and returning an answer plus ranked results.
type SearchClient struct {
	cfg    config.SearchConfig
	apiKey string
	client *http.Client
	log    *slog.Logger
}

// NewSearchClient creates a search client. The API key is read from the
// environment variable named in the config.
func NewSearchClient(cfg config.SearchConfig) *SearchClient {
	apiKey := ""
	if cfg.APIKeyEnv != "" {
		apiKey = os.Getenv(cfg.APIKeyEnv)
	}
	return &SearchClient{
		cfg:    cfg,
		apiKey: apiKey,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    slog.With("component", "search_client"),
	}
}

type searchRequest struct {
	APIKey        string `json:"api_key,omitempty"`
	Query         string `json:"query"`
	MaxResults    int    `json:"max_results"`
	IncludeAnswer bool   `json:"include_answer"`
}

type searchResponse struct {
	Answer  string `json:"answer"`
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"results"`
}

// Search runs one query. maxResults values outside (0, config max] fall back
// to the configured maximum.
func (c *SearchClient) Search(ctx context.Context, query string, maxResults int) (*models.SearchResult, error) {
	if maxResults <= 0 || maxResults > c.cfg.MaxResults {
		maxResults = c.cfg.MaxResults
	}

	payload, err := json.Marshal(searchRequest{
		APIKey:        c.apiKey,
		Query:         query,
		MaxResults:    maxResults,
		IncludeAnswer: true,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/search", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	started := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("search API returned %d: %s", resp.StatusCode, body)
	}

	var decoded searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}

	result := &models.SearchResult{
		Query:     query,
		Answer:    decoded.Answer,
		Timestamp: time.Now(),
	}
	for _, r := range decoded.Results {
		normalized, err := NormalizeURL(r.URL)
		if err != nil {
			c.log.Warn("Skipping result with malformed URL", "url", r.URL, "error", err)
			continue
		}
		result.Sources = append(result.Sources, models.Source{
			URL:     normalized,
			Title:   r.Title,
			Snippet: r.Content,
		})
	}

	c.log.Info("Search completed",
		"query", query,
		"results", len(result.Sources),
		"duration", time.Since(started))
	return result, nil
}
