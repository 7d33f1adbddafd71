package render

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"server/faults"
)

// Client renderer HTTP client, one call per prompt returning an image locator
type Client struct {
	url    string
	key    string
	model  string
	client *http.Client
}

func NewClient(url, key, model string) *Client {
	return &Client{
		url:    url,
		key:    key,
		model:  model,
		client: &http.Client{Timeout: 120 * time.Second},
	}
}

type renderRequest struct {
	Prompt string `json:"prompt"`
	Model  string `json:"model,omitempty"`
}

type renderResponse struct {
	Url   string `json:"url"`
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Render synthesizes one image and returns its externally hosted, time-limited
// locator. Failures come back classified: timeouts, rate limits and server
// errors are transient, moderation rejections are content policy, credential
// and request errors are permanent.
func (c *Client) Render(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(renderRequest{Prompt: prompt, Model: c.model})
	if err != nil {
		return "", faults.New(faults.Permanent, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", faults.New(faults.Permanent, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.key != "" {
		req.Header.Set("Authorization", "Bearer "+c.key)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return "", faults.Newf(faults.Transient, "render request failed: %v", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", faults.Newf(faults.Transient, "render response read failed: %v", err)
	}
	var ret renderResponse
	if resp.StatusCode == http.StatusOK {
		if err = json.Unmarshal(data, &ret); err != nil || ret.Url == "" {
			return "", faults.Newf(faults.Transient, "render returned no locator: %s", data)
		}
		return ret.Url, nil
	}
	_ = json.Unmarshal(data, &ret)
	return "", classify(resp.StatusCode, ret.Error.Code, ret.Error.Message)
}

// classify decides the failure kind once, at the call boundary
func classify(status int, code, message string) error {
	if message == "" {
		message = http.StatusText(status)
	}
	err := fmt.Errorf("renderer %d %s: %s", status, code, message)
	switch {
	case code == "content_policy_violation" || status == http.StatusUnprocessableEntity:
		return faults.New(faults.ContentPolicy, err)
	case status == http.StatusTooManyRequests || status >= 500:
		return faults.New(faults.Transient, err)
	default:
		// 400/401/403 and the rest: a retry with identical input cannot succeed
		return faults.New(faults.Permanent, err)
	}
}
