package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/cloudwego/eino/components/retriever"
	"github.com/cloudwego/eino/schema"
)

// HTTPRetriever 访问外部向量检索服务的 retriever.Retriever 实现。
type HTTPRetriever struct {
	baseURL string
	client  *http.Client
}

func NewHTTPRetriever(baseURL string) *HTTPRetriever {
	return &HTTPRetriever{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
	}
}

type retrieveRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"topK"`
}

type retrieveResponse struct {
	Documents []struct {
		ID       string         `json:"id"`
		Content  string         `json:"content"`
		Score    float64        `json:"score"`
		Metadata map[string]any `json:"metadata"`
	} `json:"documents"`
}

func (r *HTTPRetriever) Retrieve(ctx context.Context, query string, opts ...retriever.Option) ([]*schema.Document, error) {
	options := retriever.GetCommonOptions(&retriever.Options{}, opts...)
	topK := 4
	if options.TopK != nil && *options.TopK > 0 {
		topK = *options.TopK
	}

	body, err := json.Marshal(retrieveRequest{Query: query, TopK: topK})
	if err != nil {
		return nil, fmt.Errorf("knowledge: marshal retrieve request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/retrieve", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("knowledge: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("knowledge: request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("knowledge: retrieve failed (status %d): %s", resp.StatusCode, string(respBody))
	}

	var decoded retrieveResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("knowledge: decode response: %w", err)
	}

	docs := make([]*schema.Document, 0, len(decoded.Documents))
	for _, d := range decoded.Documents {
		doc := &schema.Document{
			ID:       d.ID,
			Content:  d.Content,
			MetaData: d.Metadata,
		}
		doc.WithScore(d.Score)
		docs = append(docs, doc)
	}
	return docs, nil
}
