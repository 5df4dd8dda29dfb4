package qa

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

var ErrUnhealthy = errors.New("qa service unhealthy")

// Client talks to the external question-answering API that owns PDF ingestion and /api/ask.
type Client struct {
	client  *resty.Client
	timeout time.Duration
}

type healthResponse struct {
	Status string `json:"status"`
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		client: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetHeader("Accept", "application/json"),
		timeout: timeout,
	}
}

// Health calls GET /api/health and returns the reported status.
// A non-2xx response or a status other than "healthy" yields ErrUnhealthy.
func (c *Client) Health(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	res, err := c.client.R().
		SetContext(ctx).
		Get("/api/health")
	if err != nil {
		return "", fmt.Errorf("qa health request: %w", err)
	}

	var body healthResponse
	if err := json.Unmarshal(res.Body(), &body); err != nil {
		if !res.IsSuccess() {
			return "", fmt.Errorf("%w: status code %d", ErrUnhealthy, res.StatusCode())
		}
		return "", fmt.Errorf("decode qa health response: %w", err)
	}
	if !res.IsSuccess() || body.Status != "healthy" {
		return body.Status, fmt.Errorf("%w: status code %d, status %q", ErrUnhealthy, res.StatusCode(), body.Status)
	}
	return body.Status, nil
}
