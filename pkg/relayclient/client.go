// Package relayclient is a small client for the relay: credential calls over
// HTTP, the event stream over websocket, and sealing helpers so a terminal
// user can exchange end-to-end encrypted messages.
package relayclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"e2ee-relay/internal/dto"
)

type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		baseURL: normalizeBaseURL(baseURL),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) Register(ctx context.Context, username, password string) (*dto.AuthResponse, error) {
	return c.postCredentials(ctx, "/register", username, password)
}

func (c *Client) Login(ctx context.Context, username, password string) (*dto.AuthResponse, error) {
	return c.postCredentials(ctx, "/login", username, password)
}

func (c *Client) postCredentials(ctx context.Context, path, username, password string) (*dto.AuthResponse, error) {
	body, err := json.Marshal(dto.RegisterRequest{Username: username, Password: password})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 400 {
		return nil, responseError(resp)
	}
	var out dto.AuthResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Users lists every other registered identity with its public key and a
// point-in-time online flag.
func (c *Client) Users(ctx context.Context, token string) ([]dto.UserInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/users", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 400 {
		return nil, responseError(resp)
	}
	var out []dto.UserInfo
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func responseError(resp *http.Response) error {
	data, _ := io.ReadAll(resp.Body)
	var body dto.ErrorResponse
	if err := json.Unmarshal(data, &body); err == nil && body.Message != "" {
		return fmt.Errorf("%s", body.Message)
	}
	if len(data) == 0 {
		return fmt.Errorf("request failed: %s", resp.Status)
	}
	return fmt.Errorf("request failed: %s", strings.TrimSpace(string(data)))
}

func normalizeBaseURL(in string) string {
	return strings.TrimRight(strings.TrimSpace(in), "/")
}
