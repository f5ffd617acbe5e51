// Package memory 用户级长期记忆。远端服务可用时走 HTTP 客户端，
// 未配置时退化为进程内的朴素检索实现。
package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/novavoice/companion/backend/internal/config"
	"github.com/novavoice/companion/backend/internal/resilience"
)

const defaultSearchLimit = 5

// Client 访问外部记忆服务的 HTTP 客户端。远端连续失败会触发
// 熔断，此时检索降级为空结果而不是拖垮整轮对话。
type Client struct {
	baseURL string
	client  *http.Client
	breaker *resilience.Breaker
	timeout time.Duration
}

func NewClient(cfg config.MemoryConfig) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  &http.Client{},
		breaker: resilience.NewBreaker("memory", resilience.BreakerConfig{}),
		timeout: cfg.Timeout,
	}
}

type searchRequest struct {
	Query  string `json:"query"`
	UserID string `json:"userId"`
	Limit  int    `json:"limit"`
}

type searchResponse struct {
	Results []struct {
		Memory string `json:"memory"`
	} `json:"results"`
}

type addRequest struct {
	Text   string `json:"text"`
	UserID string `json:"userId"`
}

// Search 检索与 query 相关的记忆，按相关度排列。
func (c *Client) Search(ctx context.Context, query, userID string) ([]string, error) {
	var out []string
	err := resilience.Call(ctx, c.breaker, c.timeout, func(ctx context.Context) error {
		body, err := json.Marshal(searchRequest{Query: query, UserID: userID, Limit: defaultSearchLimit})
		if err != nil {
			return fmt.Errorf("memory: marshal search request: %w", err)
		}
		resp, err := c.post(ctx, "/search", body)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			respBody, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("memory: search failed (status %d): %s", resp.StatusCode, string(respBody))
		}
		var decoded searchResponse
		if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
			return fmt.Errorf("memory: decode search response: %w", err)
		}
		out = make([]string, 0, len(decoded.Results))
		for _, r := range decoded.Results {
			if r.Memory != "" {
				out = append(out, r.Memory)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Add 写入一条新记忆。
func (c *Client) Add(ctx context.Context, text, userID string) error {
	return resilience.Call(ctx, c.breaker, c.timeout, func(ctx context.Context) error {
		body, err := json.Marshal(addRequest{Text: text, UserID: userID})
		if err != nil {
			return fmt.Errorf("memory: marshal add request: %w", err)
		}
		resp, err := c.post(ctx, "/memories", body)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
			respBody, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("memory: add failed (status %d): %s", resp.StatusCode, string(respBody))
		}
		return nil
	})
}

func (c *Client) post(ctx context.Context, path string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("memory: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("memory: request failed: %w", err)
	}
	return resp, nil
}
