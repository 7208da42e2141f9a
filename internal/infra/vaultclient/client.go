// Package vaultclient is a minimal Vault KV v2 client. It covers exactly the
// calls the ledger key store needs and nothing else.
package vaultclient

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

type Client struct {
	addr       string
	token      string
	httpClient *http.Client
}

func New(addr, token string) *Client {
	return &Client{
		addr:       strings.TrimRight(addr, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (int, []byte, error) {
	if c == nil {
		return 0, nil, errors.New("vault client is nil")
	}
	if c.addr == "" || c.token == "" {
		return 0, nil, errors.New("vault addr or token missing")
	}
	if path == "" {
		return 0, nil, errors.New("vault path is required")
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.addr+"/v1/"+strings.TrimLeft(path, "/"), reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("X-Vault-Token", c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, payload, nil
}

func (c *Client) ReadKV(ctx context.Context, path string, out any) error {
	status, body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("vault read failed: status %d", status)
	}

	// KV v2 wraps the secret in a data.data envelope.
	var envelope struct {
		Data struct {
			Data json.RawMessage `json:"data"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return err
	}
	if len(envelope.Data.Data) == 0 {
		return errors.New("vault response missing data")
	}
	return json.Unmarshal(envelope.Data.Data, out)
}

func (c *Client) WriteKV(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(map[string]any{"data": payload})
	if err != nil {
		return err
	}
	status, _, err := c.do(ctx, http.MethodPut, path, body)
	if err != nil {
		return err
	}
	if status != http.StatusOK && status != http.StatusNoContent {
		return fmt.Errorf("vault write failed: status %d", status)
	}
	return nil
}

func (c *Client) DeleteKV(ctx context.Context, path string) error {
	status, _, err := c.do(ctx, http.MethodDelete, path, nil)
	if err != nil {
		return err
	}
	if status != http.StatusNoContent && status != http.StatusOK {
		return fmt.Errorf("vault delete failed: status %d", status)
	}
	return nil
}
