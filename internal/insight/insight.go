// Package insight forwards sales data and an admin question to a hosted
// model endpoint and returns its answer. It holds no state.
package insight

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var (
	ErrDisabled   = errors.New("insight service not configured")
	ErrEmptyQuery = errors.New("query is required")
	ErrUpstream   = errors.New("insight service failed")
)

type Request struct {
	// SalesData is the JSON-encoded summary, sent as a string.
	SalesData string `json:"salesData"`
	Query     string `json:"query"`
}

type Response struct {
	Insight string `json:"insight"`
}

type Client struct {
	url  string
	http *http.Client
}

func New(url string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{url: strings.TrimRight(url, "/"), http: &http.Client{Timeout: timeout}}
}

func (c *Client) Enabled() bool { return c != nil && c.url != "" }

func (c *Client) Interpret(ctx context.Context, salesData any, query string) (string, error) {
	if !c.Enabled() {
		return "", ErrDisabled
	}
	if strings.TrimSpace(query) == "" {
		return "", ErrEmptyQuery
	}
	data, err := json.MarshalIndent(salesData, "", "  ")
	if err != nil {
		return "", err
	}
	body, err := json.Marshal(Request{SalesData: string(data), Query: query})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("%w: status %d: %s", ErrUpstream, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decode: %w", ErrUpstream, err)
	}
	return out.Insight, nil
}
