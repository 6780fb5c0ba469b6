package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"i4.energy/across/fieldctl/irrigation"
)

// Client talks to the HTTP server of a running controller.
type Client struct {
	base string
	http *http.Client
}

// NewClient returns a Client for the controller at base, e.g.
// "http://localhost:8080".
func NewClient(base string) *Client {
	return &Client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 10 * time.Second},
	}
}

// Status fetches the engine snapshot.
func (c *Client) Status(ctx context.Context) (irrigation.Status, error) {
	var status irrigation.Status
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/status", nil)
	if err != nil {
		return status, err
	}
	err = c.do(req, &status)
	return status, err
}

// Command runs text on the controller and returns the reply.
func (c *Client) Command(ctx context.Context, text string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/command", strings.NewReader(text))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "text/plain")

	var resp CommandResponse
	if err := c.do(req, &resp); err != nil {
		return "", err
	}
	return resp.Reply, nil
}

func (c *Client) do(req *http.Request, v any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e struct {
			Message string `json:"message"`
		}
		if json.NewDecoder(resp.Body).Decode(&e) == nil && e.Message != "" {
			return errors.New(e.Message)
		}
		return fmt.Errorf("%s %s: %s", req.Method, req.URL.Path, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode %s response: %w", req.URL.Path, err)
	}
	return nil
}
