package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/zju-rshub/rsagent/pkg/models"
)

// DefaultTopK is the retrieval depth when the caller does not override it.
const DefaultTopK = 5

// Snippet is one ranked knowledge-base passage.
type Snippet struct {
	Content    string  `json:"content"`
	Source     string  `json:"source"`
	Similarity float64 `json:"similarity"`
	FileID     string  `json:"file_id,omitempty"`
}

// Retriever queries the vector-index collaborator.
type Retriever interface {
	Query(ctx context.Context, keywords []Keyword, topK int) ([]Snippet, error)
}

// HTTPRetriever talks to the retrieval service over HTTP.
type HTTPRetriever struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPRetriever creates a retriever against the service base URL.
func NewHTTPRetriever(baseURL string, timeout time.Duration) *HTTPRetriever {
	return &HTTPRetriever{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

type queryRequest struct {
	Keywords []Keyword `json:"keywords"`
	TopK     int       `json:"top_k"`
}

type queryResponse struct {
	Results []Snippet `json:"results"`
}

// Query implements Retriever.
func (r *HTTPRetriever) Query(ctx context.Context, keywords []Keyword, topK int) ([]Snippet, error) {
	if topK <= 0 {
		topK = DefaultTopK
	}

	payload, err := json.Marshal(queryRequest{Keywords: keywords, TopK: topK})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal retrieval request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/query", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build retrieval request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("retrieval request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("retrieval service returned status %d", resp.StatusCode)
	}

	var result queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to parse retrieval response: %w", err)
	}
	return result.Results, nil
}

// BuildSources turns snippets into the response's source list: deduplicated
// by file id (or source name), sorted by similarity descending. Only PDF
// sources are previewable.
func BuildSources(snippets []Snippet) []models.SourceFile {
	seen := make(map[string]int)
	sources := make([]models.SourceFile, 0, len(snippets))
	for _, sn := range snippets {
		key := sn.FileID
		if key == "" {
			key = sn.Source
		}
		if idx, dup := seen[key]; dup {
			if sn.Similarity > sources[idx].Similarity {
				sources[idx].Similarity = sn.Similarity
			}
			continue
		}
		seen[key] = len(sources)
		sources = append(sources, models.SourceFile{
			FileName:   sn.Source,
			FileID:     sn.FileID,
			Similarity: sn.Similarity,
			CanPreview: strings.HasSuffix(strings.ToLower(sn.Source), ".pdf"),
		})
	}

	sort.SliceStable(sources, func(i, j int) bool {
		return sources[i].Similarity > sources[j].Similarity
	})
	return sources
}
