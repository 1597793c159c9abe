package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"sharepipe/internal/daemon"
	"sharepipe/internal/shares"
)

// apiClient talks to the daemon's HTTP API.
type apiClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func newAPIClient(address, token string) (*apiClient, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, errors.New("daemon address is not configured; set api_bind in the config or pass --server")
	}
	if !strings.Contains(address, "://") {
		address = "http://" + address
	}
	parsed, err := url.Parse(address)
	if err != nil {
		return nil, fmt.Errorf("parse daemon address %q: %w", address, err)
	}
	return &apiClient{
		baseURL: strings.TrimRight(parsed.String(), "/"),
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}, nil
}

type shareDetail struct {
	Share       shares.Share              `json:"share"`
	Enhancement *shares.EnhancementRecord `json:"enhancement"`
}

func (c *apiClient) Status(ctx context.Context) (*daemon.Status, error) {
	var status daemon.Status
	if err := c.do(ctx, http.MethodGet, "/api/status", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (c *apiClient) SubmitShare(ctx context.Context, userID, shareURL, tier string) (*shares.Share, error) {
	body := map[string]string{
		"user_id":   userID,
		"url":       shareURL,
		"user_tier": tier,
	}
	var share shares.Share
	if err := c.do(ctx, http.MethodPost, "/api/shares", body, &share); err != nil {
		return nil, err
	}
	return &share, nil
}

func (c *apiClient) ListShares(ctx context.Context, query url.Values) ([]shares.Share, error) {
	path := "/api/shares"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	var resp struct {
		Shares []shares.Share `json:"shares"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Shares, nil
}

func (c *apiClient) GetShare(ctx context.Context, id string) (*shareDetail, error) {
	var detail shareDetail
	if err := c.do(ctx, http.MethodGet, "/api/shares/"+url.PathEscape(id), nil, &detail); err != nil {
		return nil, err
	}
	return &detail, nil
}

func (c *apiClient) RetryShare(ctx context.Context, id string) (int, error) {
	var resp struct {
		Retried int `json:"retried"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/shares/"+url.PathEscape(id)+"/retry", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Retried, nil
}

func (c *apiClient) ResetBroker(ctx context.Context) (string, error) {
	var resp struct {
		State string `json:"state"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/broker/reset", nil, &resp); err != nil {
		return "", err
	}
	return resp.State, nil
}

func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return wrapDialError(err, c.baseURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err == nil && payload.Error != "" {
		return fmt.Errorf("daemon returned %s: %s", resp.Status, payload.Error)
	}
	return fmt.Errorf("daemon returned %s", resp.Status)
}

func wrapDialError(err error, base string) error {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return fmt.Errorf("connect to daemon: %s refused the connection; start the daemon with `sharepiped`", base)
	}
	return fmt.Errorf("connect to daemon: %w", err)
}
