// Package mcptool is the HTTP client the MCP voice tool uses to open a
// voice request on the server and wait for its transcript.
package mcptool

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/weber8thomas/claude-hands-free/internal/reliability"
)

var (
	// ErrTimedOut means the user never answered within the request window.
	ErrTimedOut = errors.New("voice input timed out")
	// ErrFailed means the server resolved the request as failed.
	ErrFailed = errors.New("voice input failed")
)

const (
	defaultPollInterval = time.Second
	maxPollBackoff      = 8 * time.Second
)

type Client struct {
	baseURL      string
	http         *http.Client
	pollInterval time.Duration
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		http:         &http.Client{Timeout: 15 * time.Second},
		pollInterval: defaultPollInterval,
	}
}

type createRequestBody struct {
	Language  string `json:"language,omitempty"`
	TimeoutMS int64  `json:"timeout_ms,omitempty"`
}

type createRequestResponse struct {
	RequestID string `json:"request_id"`
}

type resultResponse struct {
	Status     string `json:"status"`
	Transcript string `json:"transcript"`
	Error      string `json:"error"`
}

// CreateRequest opens a voice request and returns its id.
func (c *Client) CreateRequest(ctx context.Context, language string, timeout time.Duration) (string, error) {
	body, err := json.Marshal(createRequestBody{
		Language:  language,
		TimeoutMS: timeout.Milliseconds(),
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/voice-requests", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("create voice request: unexpected status %d", resp.StatusCode)
	}

	var out createRequestResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if out.RequestID == "" {
		return "", fmt.Errorf("create voice request: empty request id")
	}
	return out.RequestID, nil
}

// GetVoiceInput opens a request and polls until it resolves. An empty
// transcript with a nil error means the user submitted silence.
func (c *Client) GetVoiceInput(ctx context.Context, language string, timeout time.Duration) (string, error) {
	id, err := c.CreateRequest(ctx, language, timeout)
	if err != nil {
		return "", err
	}
	return c.pollResult(ctx, id)
}

func (c *Client) pollResult(ctx context.Context, requestID string) (string, error) {
	var transientFailures int
	for {
		res, status, err := c.fetchResult(ctx, requestID)
		switch {
		case err != nil:
			return "", err
		case status == http.StatusOK:
			transientFailures = 0
			switch res.Status {
			case "completed":
				return res.Transcript, nil
			case "failed":
				if res.Error != "" {
					return "", fmt.Errorf("%w: %s", ErrFailed, res.Error)
				}
				return "", ErrFailed
			case "timed_out":
				return "", ErrTimedOut
			}
		case status == http.StatusNotFound, status == http.StatusGone:
			// The reaper collected it before we read the result.
			return "", ErrTimedOut
		case reliability.IsRetryableHTTPStatus(status):
			transientFailures++
		default:
			return "", fmt.Errorf("poll voice result: unexpected status %d", status)
		}

		wait := c.pollInterval
		if transientFailures > 0 {
			wait = reliability.ExponentialBackoff(transientFailures, c.pollInterval, maxPollBackoff)
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (c *Client) fetchResult(ctx context.Context, requestID string) (resultResponse, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/voice-requests/"+requestID+"/result", nil)
	if err != nil {
		return resultResponse{}, 0, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return resultResponse{}, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return resultResponse{}, resp.StatusCode, nil
	}
	var out resultResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return resultResponse{}, resp.StatusCode, err
	}
	return out, resp.StatusCode, nil
}
